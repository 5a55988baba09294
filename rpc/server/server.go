package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mcache/rpc/codec"
	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("server")

const (
	// DefaultMaxItemSize matches the memcached default of 1 MB
	DefaultMaxItemSize = 1024 * 1024
	// DefaultVersion is reported when the config names none
	DefaultVersion = "1.6.0-mcache"

	reapInterval = time.Second
)

// Server is an in-process memcached compatible cache speaking both the text
// and the binary dialect. The dialect of a connection is detected from its
// first byte. It exists for tests and local development and never evicts.
type Server struct {
	config  common.ServerConfig
	store   *storage
	started time.Time
	now     func() time.Time

	currConns  atomic.Int64
	totalConns atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewServer creates a server and starts its expiry reaper
func NewServer(config common.ServerConfig) *Server {
	return newServer(config, time.Now)
}

func newServer(config common.ServerConfig, now func() time.Time) *Server {
	if config.MaxItemSize <= 0 {
		config.MaxItemSize = DefaultMaxItemSize
	}
	if config.Version == "" {
		config.Version = DefaultVersion
	}
	s := &Server{
		config:  config,
		store:   newStorage(config.MaxItemSize, now),
		started: now(),
		now:     now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// ServeConn serves one connection until the peer closes it or sends quit
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()
	s.totalConns.Add(1)
	s.currConns.Add(1)
	defer s.currConns.Add(-1)

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	first, err := r.Peek(1)
	if err != nil {
		return
	}

	if first[0] == codec.MagicRequest {
		err = s.serveBinary(r, w)
	} else {
		err = s.serveText(r, w)
	}

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		Logger.Warningf("Closing connection from %s: %v", conn.RemoteAddr(), err)
	}
}

// Len returns the number of live items
func (s *Server) Len() int {
	return s.store.len()
}

// Version returns the version string reported to clients
func (s *Server) Version() string {
	return s.config.Version
}

// Close stops the reaper. Open connections are owned by their transport.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

func (s *Server) reapLoop() {
	defer close(s.done)
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.store.reap(); n > 0 {
				Logger.Debugf("Removed %d expired items", n)
			}
		}
	}
}
