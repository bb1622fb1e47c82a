package main

import (
	"sort"
	"sync"
)

// memoryState is the default single-instance StateStore.
type memoryState struct {
	mu        sync.Mutex
	parked    map[string]parkedEntry
	sessions  int64
	evictions int64
	closing   bool
	ready     bool
}

func newMemoryState() *memoryState {
	return &memoryState{parked: make(map[string]parkedEntry)}
}

func (s *memoryState) notePark(e parkedEntry) {
	s.mu.Lock()
	s.parked[e.ID] = e
	s.mu.Unlock()
}

func (s *memoryState) noteUnpark(id string) {
	s.mu.Lock()
	delete(s.parked, id)
	s.mu.Unlock()
}

func (s *memoryState) noteSession() {
	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()
}

func (s *memoryState) noteEvicted(n int) {
	s.mu.Lock()
	s.evictions += int64(n)
	s.mu.Unlock()
}

func (s *memoryState) setClosing(closing bool) { s.mu.Lock(); s.closing = closing; s.mu.Unlock() }
func (s *memoryState) setReady(ready bool)     { s.mu.Lock(); s.ready = ready; s.mu.Unlock() }
func (s *memoryState) isClosing() bool         { s.mu.Lock(); defer s.mu.Unlock(); return s.closing }
func (s *memoryState) isReady() bool           { s.mu.Lock(); defer s.mu.Unlock(); return s.ready }

func (s *memoryState) getStats() stateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]parkedEntry, 0, len(s.parked))
	for _, e := range s.parked {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return stateSnapshot{Entries: entries, Sessions: s.sessions, Evictions: s.evictions}
}
