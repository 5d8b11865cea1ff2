// Package requestcache correlates outstanding requests with their asynchronous
// replies. Entries are keyed by (kind, id), expire after a per-entry timeout and
// run their timeout handler on the owning actor.
//
// A Cache is not safe for concurrent use. All calls must come from the owner's
// actor; expiry is delivered back onto that actor with Act.
package requestcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/Arceliar/phony"
	"github.com/benbjohnson/clock"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrDuplicateKey is returned when an entry already occupies the key.
	ErrDuplicateKey = errors.New("requestcache: duplicate key")
	// ErrShutdown is returned once the cache has been shut down.
	ErrShutdown = errors.New("requestcache: shut down")
)

// Kind names a family of requests.
type Kind string

// Key identifies one outstanding request.
type Key struct {
	Kind Kind
	ID   uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Entry is a pending request. OnTimeout runs on the owner's actor after the
// entry has been removed from the cache.
type Entry interface {
	Key() Key
	Timeout() time.Duration
	OnTimeout()
}

type slot struct {
	entry Entry
	timer *clock.Timer
}

// Cache holds at most one entry per key.
type Cache struct {
	owner    phony.Actor
	clock    clock.Clock
	entries  map[Key]*slot
	shutdown bool
}

// New returns a cache whose timers fire on owner.
func New(owner phony.Actor, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	return &Cache{
		owner:   owner,
		clock:   clk,
		entries: make(map[Key]*slot),
	}
}

// Add registers e and arms its timeout.
func (c *Cache) Add(e Entry) error {
	if c.shutdown {
		return ErrShutdown
	}
	key := e.Key()
	if _, ok := c.entries[key]; ok {
		log.WithFields(logger.Fields{
			"at":  "(Cache) Add",
			"key": key.String(),
		}).Warn("refusing duplicate pending request")
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	s := &slot{entry: e}
	s.timer = c.clock.AfterFunc(e.Timeout(), func() {
		c.owner.Act(nil, func() { c.expire(key, s) })
	})
	c.entries[key] = s
	return nil
}

// expire removes the entry only if s still occupies key; a reply that popped
// the entry, or a replacement, wins over a late timer.
func (c *Cache) expire(key Key, s *slot) {
	if c.entries[key] != s {
		return
	}
	delete(c.entries, key)
	log.WithFields(logger.Fields{
		"at":  "(Cache) expire",
		"key": key.String(),
	}).Debug("pending request timed out")
	s.entry.OnTimeout()
}

// Has reports whether key is occupied.
func (c *Cache) Has(key Key) bool {
	_, ok := c.entries[key]
	return ok
}

// Get returns the entry for key without removing it.
func (c *Cache) Get(key Key) (Entry, bool) {
	s, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return s.entry, true
}

// Pop removes the entry for key and cancels its timeout.
func (c *Cache) Pop(key Key) (Entry, bool) {
	s, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	s.timer.Stop()
	delete(c.entries, key)
	return s.entry, true
}

// Len returns the number of pending entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Shutdown cancels every timer and drops all entries without running their
// timeout handlers. Later calls to Add fail with ErrShutdown.
func (c *Cache) Shutdown() {
	for key, s := range c.entries {
		s.timer.Stop()
		delete(c.entries, key)
	}
	c.shutdown = true
}
