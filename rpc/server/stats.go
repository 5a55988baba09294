package server

import (
	"os"
	"strconv"
)

// Stat is one named statistic
type Stat struct {
	Name  string
	Value string
}

// Stats returns the general statistics answered to the stats command, in the
// order memcached reports them
func (s *Server) Stats() []Stat {
	now := s.now()
	hits, misses := s.store.getHits.Load(), s.store.getMisses.Load()
	u := func(n uint64) string { return strconv.FormatUint(n, 10) }
	i := func(n int64) string { return strconv.FormatInt(n, 10) }

	return []Stat{
		{"pid", strconv.Itoa(os.Getpid())},
		{"uptime", i(int64(now.Sub(s.started).Seconds()))},
		{"time", i(now.Unix())},
		{"version", s.config.Version},
		{"curr_connections", i(s.currConns.Load())},
		{"total_connections", u(s.totalConns.Load())},
		{"cmd_get", u(hits + misses)},
		{"cmd_set", u(s.store.cmdSet.Load())},
		{"get_hits", u(hits)},
		{"get_misses", u(misses)},
		{"curr_items", strconv.Itoa(s.store.len())},
		{"total_items", u(s.store.totalItems.Load())},
		{"item_size_max", strconv.Itoa(s.config.MaxItemSize)},
	}
}
