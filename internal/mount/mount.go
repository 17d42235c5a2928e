package mount

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCommunication means the exchange itself failed: validation, transport
	// or acknowledgement.
	ErrCommunication = errors.New("mount communication failed")
	// ErrChunkCount means the reply carried a different number of chunks than
	// the parser needs.
	ErrChunkCount = errors.New("unexpected reply chunk count")
)

// Communicator is the part of protocol.Connection the sub-states use.
type Communicator interface {
	Communicate(batch, expectedAck string) (bool, []string, int)
}

// holder keeps one sub-state value. The value is only ever replaced as a
// whole, so readers never see a half-parsed update.
type holder[T any] struct {
	mu      sync.RWMutex
	value   T
	updated time.Time
}

func (h *holder[T]) State() T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value
}

// Updated is the time of the last successful poll; zero if none yet.
func (h *holder[T]) Updated() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updated
}

func (h *holder[T]) set(v T) {
	h.mu.Lock()
	h.value = v
	h.updated = time.Now()
	h.mu.Unlock()
}

// query runs batch and requires exactly want reply chunks.
func query(conn Communicator, batch string, want int) ([]string, error) {
	ok, chunks, _ := conn.Communicate(batch, "")
	if !ok {
		return chunks, fmt.Errorf("%w: %s", ErrCommunication, batch)
	}
	if len(chunks) != want {
		return chunks, fmt.Errorf("%w: %s got %d want %d", ErrChunkCount, batch, len(chunks), want)
	}
	return chunks, nil
}

// command runs a batch whose only interesting reply is the acknowledgement.
func command(conn Communicator, batch, ack string) error {
	if ok, chunks, _ := conn.Communicate(batch, ack); !ok {
		return fmt.Errorf("%w: %s replied %q", ErrCommunication, batch, chunks)
	}
	return nil
}
