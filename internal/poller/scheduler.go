package poller

import (
	"sync"
	"time"

	"github.com/fisaks/mountlink/internal/logging"
)

// Scheduler runs delayed callbacks keyed by name. Scheduling a key that is
// already pending replaces the old timer.
type Scheduler interface {
	Schedule(key string, delay time.Duration, fn func(id uint64)) uint64
	Cancel(key string) bool
	Pending(key string) bool
	Stop()
}

type timerScheduler struct {
	mu     sync.Mutex
	seq    uint64
	timers map[string]scheduled
}

type scheduled struct {
	id    uint64
	timer *time.Timer
}

func NewScheduler() Scheduler {
	logging.Debug("Scheduler created")
	return &timerScheduler{timers: make(map[string]scheduled)}
}

// Schedule returns an id that increases with every call. The callback gets
// the same id so it can tell whether it was superseded.
func (s *timerScheduler) Schedule(key string, delay time.Duration, fn func(id uint64)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}
	s.seq++
	id := s.seq
	s.timers[key] = scheduled{
		id: id,
		timer: time.AfterFunc(delay, func() {
			s.mu.Lock()
			if cur, ok := s.timers[key]; ok && cur.id == id {
				delete(s.timers, key)
			}
			s.mu.Unlock()
			fn(id)
		}),
	}
	return id
}

func (s *timerScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.timer.Stop()
		delete(s.timers, key)
		return true
	}
	return false
}

func (s *timerScheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

func (s *timerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, key)
	}
	logging.Debug("Scheduler stopped")
}
