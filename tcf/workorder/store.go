// Package workorder implements the two-phase work-order pipeline: submit a
// request to a held enclave instance, then fetch the staged response by
// identifier and size.
package workorder

import (
	"sync"
	"time"

	"github.com/Bavaji9/avalon/tcf/types"
)

// Store holds staged work-order responses until they are fetched exactly once.
// Entries not fetched within the configured TTL are evicted by a background
// janitor so the store cannot grow without bound.
type Store struct {
	mu      sync.Mutex
	nextID  types.ResponseID
	entries map[types.ResponseID]entry

	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	data     []byte
	stagedAt time.Time
}

// NewStore creates a response store. A ttl of zero disables eviction.
func NewStore(ttl time.Duration) *Store {
	s := &Store{
		nextID:  1,
		entries: make(map[types.ResponseID]entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}

	if ttl > 0 {
		go s.janitor()
	}
	return s
}

// Put stages a response and returns its identifier.
func (s *Store) Put(data []byte) types.ResponseID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.entries[id] = entry{data: data, stagedAt: time.Now()}
	return id
}

// Stat returns the byte size of a staged response without consuming it.
func (s *Store) Stat(id types.ResponseID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return 0, types.ErrUnknownResponse
	}
	return len(e.data), nil
}

// Take removes and returns a staged response. A second Take on the same
// identifier fails with ErrUnknownResponse.
func (s *Store) Take(id types.ResponseID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, types.ErrUnknownResponse
	}
	delete(s.entries, id)
	return e.data, nil
}

// Len returns the number of currently staged responses.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the eviction janitor.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Store) janitor() {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired(time.Now())
		case <-s.stop:
			return
		}
	}
}

func (s *Store) evictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.entries {
		if now.Sub(e.stagedAt) > s.ttl {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}
