package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wotkit/tdkit/tderr"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

type watcher struct {
	prefix string
	ch     chan struct{}
}

// MemoryStore is an in-process Store. Expired entries are dropped lazily
// when read.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	watchers map[*watcher]struct{}
	closed   bool
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		watchers: make(map[*watcher]struct{}),
		now:      time.Now,
	}
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("directory store is closed")
	}
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expires = s.now().Add(ttl)
	}
	s.entries[key] = entry
	s.notify(key)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("directory store is closed")
	}
	entry, ok := s.live(key)
	if !ok {
		return nil, tderr.Newf("directory.MemoryStore", tderr.CodeNotFound, "key %s not found", key)
	}
	return append([]byte(nil), entry.value...), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, fmt.Errorf("directory store is closed")
	}
	if _, ok := s.live(key); !ok {
		return false, nil
	}
	delete(s.entries, key)
	s.notify(key)
	return true, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("directory store is closed")
	}
	var out []Entry
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if entry, ok := s.live(key); ok {
			out = append(out, Entry{Key: key, Value: append([]byte(nil), entry.value...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Watch implements Store.
func (s *MemoryStore) Watch(ctx context.Context, prefix string) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("directory store is closed")
	}
	w := &watcher{prefix: prefix, ch: make(chan struct{}, 1)}
	s.watchers[w] = struct{}{}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[w]; ok {
			delete(s.watchers, w)
			close(w.ch)
		}
	}()
	return w.ch, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for w := range s.watchers {
		close(w.ch)
	}
	s.watchers = nil
	return nil
}

// live returns the entry for key, dropping it when expired. s.mu must be held.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// notify wakes watchers of key without blocking. s.mu must be held.
func (s *MemoryStore) notify(key string) {
	for w := range s.watchers {
		if !strings.HasPrefix(key, w.prefix) {
			continue
		}
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}
