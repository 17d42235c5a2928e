package state

import (
	"bytes"
	"sync"
	"time"
)

// Store remembers the last payload sent per key together with when it was
// sent, so publishers can skip unchanged state and still heartbeat.
type Store interface {
	GetLast(key string) ([]byte, time.Time, bool)
	Update(key string, payload []byte)
	HasChanged(key string, payload []byte) bool
	NeedsSend(key string, payload []byte, heartbeat time.Duration) bool
	Clear()
}

type store struct {
	last      map[string][]byte
	heartbeat map[string]time.Time
	mu        sync.RWMutex
	now       func() time.Time
}

func NewStore() Store {
	return &store{
		last:      make(map[string][]byte),
		heartbeat: make(map[string]time.Time),
		now:       time.Now,
	}
}

func (s *store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = make(map[string][]byte)
	s.heartbeat = make(map[string]time.Time)
}

func (s *store) GetLast(key string) ([]byte, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.last[key]
	sent, ok2 := s.heartbeat[key]
	return payload, sent, ok && ok2
}

func (s *store) Update(key string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[key] = bytes.Clone(payload)
	s.heartbeat[key] = s.now()
}

func (s *store) HasChanged(key string, payload []byte) bool {
	last, _, ok := s.GetLast(key)
	if !ok {
		return true
	}
	return !bytes.Equal(last, payload)
}

// NeedsSend is true when payload differs from the last one sent, or when
// heartbeat is set and has elapsed since.
func (s *store) NeedsSend(key string, payload []byte, heartbeat time.Duration) bool {
	if s.HasChanged(key, payload) {
		return true
	}
	if heartbeat <= 0 {
		return false
	}
	_, sent, _ := s.GetLast(key)
	return s.now().Sub(sent) > heartbeat
}
