package server

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// relativeExpiryLimit is the largest exptime treated as seconds from now,
// larger values are absolute unix times
const relativeExpiryLimit = 60 * 60 * 24 * 30

// result is the storage level outcome of a command
type result uint8

const (
	resStored result = iota
	resNotStored
	resExists
	resNotFound
	resNonNumeric
	resTooLarge
)

// item is one cached value
type item struct {
	value     []byte
	flags     uint32
	cas       uint64
	expiresAt int64 // unix seconds, 0 never
	storedAt  int64 // unix nanoseconds
}

// storage is the item table shared by all connections of a server. Every
// mutation runs inside xsync's per key Compute, so a command is atomic with
// respect to other commands on the same key.
type storage struct {
	items       *xsync.MapOf[string, item]
	casCounter  atomic.Uint64
	flushAt     atomic.Int64 // unix nanoseconds of a pending delayed flush, 0 none
	maxItemSize int
	now         func() time.Time

	expiryMu sync.Mutex
	expiry   *expiryQueue

	getHits    atomic.Uint64
	getMisses  atomic.Uint64
	cmdSet     atomic.Uint64
	totalItems atomic.Uint64
}

func newStorage(maxItemSize int, now func() time.Time) *storage {
	return &storage{
		items:       xsync.NewMapOf[string, item](),
		maxItemSize: maxItemSize,
		now:         now,
		expiry:      newExpiryQueue(),
	}
}

// --------------------------------------------------------------------------
// Liveness
// --------------------------------------------------------------------------

// live reports whether the item is neither expired nor flushed
func (s *storage) live(it item, now time.Time) bool {
	if it.expiresAt != 0 && now.Unix() >= it.expiresAt {
		return false
	}
	if fa := s.flushAt.Load(); fa != 0 && now.UnixNano() >= fa && it.storedAt <= fa {
		return false
	}
	return true
}

// deadline converts a protocol exptime into unix seconds
func (s *storage) deadline(exptime uint32, now time.Time) int64 {
	switch {
	case exptime == 0:
		return 0
	case exptime <= relativeExpiryLimit:
		return now.Unix() + int64(exptime)
	default:
		return int64(exptime)
	}
}

func (s *storage) newItem(value []byte, flags, exptime uint32, now time.Time) item {
	return item{
		value:     value,
		flags:     flags,
		cas:       s.casCounter.Add(1),
		expiresAt: s.deadline(exptime, now),
		storedAt:  now.UnixNano(),
	}
}

func (s *storage) scheduleExpiry(key string, expiresAt int64) {
	s.expiryMu.Lock()
	s.expiry.schedule(key, expiresAt)
	s.expiryMu.Unlock()
}

// --------------------------------------------------------------------------
// Commands
// --------------------------------------------------------------------------

func (s *storage) get(key string) (item, bool) {
	it, ok := s.items.Load(key)
	if !ok || !s.live(it, s.now()) {
		s.getMisses.Add(1)
		return item{}, false
	}
	s.getHits.Add(1)
	return it, true
}

// store runs set, add, replace, append, prepend and cas. A cas token of 0 on
// set means no compare. Returns the cas of the stored item.
func (s *storage) store(t common.CommandType, key string, value []byte, flags, exptime uint32, casToken uint64) (result, uint64) {
	s.cmdSet.Add(1)
	if s.maxItemSize > 0 && len(value) > s.maxItemSize {
		return resTooLarge, 0
	}

	now := s.now()
	res := resStored
	stored, _ := s.items.Compute(key, func(old item, loaded bool) (item, bool) {
		exists := loaded && s.live(old, now)
		switch {
		case t == common.CmdAdd && exists:
			res = resNotStored
		case t == common.CmdReplace && !exists:
			res = resNotStored
		case (t == common.CmdAppend || t == common.CmdPrepend) && !exists:
			res = resNotStored
		case t == common.CmdCas && !exists:
			res = resNotFound
		case t == common.CmdCas && old.cas != casToken:
			res = resExists
		}
		if res != resStored {
			// keeps a live item, drops an expired leftover
			return old, !exists
		}

		switch t {
		case common.CmdAppend:
			merged := append(append(make([]byte, 0, len(old.value)+len(value)), old.value...), value...)
			return s.concat(old, merged, now), false
		case common.CmdPrepend:
			merged := append(append(make([]byte, 0, len(old.value)+len(value)), value...), old.value...)
			return s.concat(old, merged, now), false
		default:
			return s.newItem(value, flags, exptime, now), false
		}
	})

	if res != resStored {
		return res, 0
	}
	s.totalItems.Add(1)
	s.scheduleExpiry(key, stored.expiresAt)
	return resStored, stored.cas
}

// concat keeps flags and expiry of the old item
func (s *storage) concat(old item, value []byte, now time.Time) item {
	return item{
		value:     value,
		flags:     old.flags,
		cas:       s.casCounter.Add(1),
		expiresAt: old.expiresAt,
		storedAt:  now.UnixNano(),
	}
}

// arith increments or decrements a decimal counter. Increments wrap at 2^64,
// decrements stop at zero. With create set a missing counter is initialized
// to initial.
func (s *storage) arith(key string, incr bool, delta uint64, create bool, initial uint64, exptime uint32) (uint64, uint64, result) {
	now := s.now()
	res := resStored
	var counter uint64

	stored, _ := s.items.Compute(key, func(old item, loaded bool) (item, bool) {
		if !loaded || !s.live(old, now) {
			if !create {
				res = resNotFound
				return old, true
			}
			counter = initial
			return s.newItem([]byte(strconv.FormatUint(initial, 10)), 0, exptime, now), false
		}

		n, err := strconv.ParseUint(string(old.value), 10, 64)
		if err != nil {
			res = resNonNumeric
			return old, false
		}
		switch {
		case incr:
			n += delta
		case delta > n:
			n = 0
		default:
			n -= delta
		}
		counter = n
		return s.concat(old, []byte(strconv.FormatUint(n, 10)), now), false
	})

	if res != resStored {
		return 0, 0, res
	}
	s.scheduleExpiry(key, stored.expiresAt)
	return counter, stored.cas, resStored
}

func (s *storage) delete(key string) result {
	now := s.now()
	res := resNotFound
	s.items.Compute(key, func(old item, loaded bool) (item, bool) {
		if loaded && s.live(old, now) {
			res = resStored
		}
		return old, true
	})
	if res == resStored {
		s.scheduleExpiry(key, 0)
	}
	return res
}

// flush invalidates every item now, or every item stored before now+delay
func (s *storage) flush(delay uint32) {
	if delay == 0 {
		s.flushAt.Store(0)
		s.items.Clear()
		s.expiryMu.Lock()
		s.expiry.clear()
		s.expiryMu.Unlock()
		return
	}
	s.flushAt.Store(s.now().Add(time.Duration(delay) * time.Second).UnixNano())
}

// reap removes expired items and returns how many were removed
func (s *storage) reap() int {
	now := s.now()
	s.expiryMu.Lock()
	due := s.expiry.popDue(now.Unix())
	s.expiryMu.Unlock()

	removed := 0
	for _, key := range due {
		s.items.Compute(key, func(old item, loaded bool) (item, bool) {
			if loaded && !s.live(old, now) {
				removed++
				return old, true
			}
			return old, !loaded
		})
	}
	return removed
}

// len counts the live items
func (s *storage) len() int {
	now := s.now()
	n := 0
	s.items.Range(func(_ string, it item) bool {
		if s.live(it, now) {
			n++
		}
		return true
	})
	return n
}
