package events

import (
	"sync"
	"time"
)

// Kind is the closed set of notifications the orchestrator publishes.
type Kind int

const (
	Liveness Kind = iota
	Pointing
	Dome
	Settings
	Firmware
	Location
	Model
	NameList
	TLE
	SlewSettled
	Alert
)

var kindNames = [...]string{
	Liveness:    "liveness",
	Pointing:    "pointing",
	Dome:        "dome",
	Settings:    "settings",
	Firmware:    "firmware",
	Location:    "location",
	Model:       "model",
	NameList:    "names",
	TLE:         "tle",
	SlewSettled: "slewSettled",
	Alert:       "alert",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, len(kindNames))
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}

// IsState reports whether the kind carries a state snapshot (as opposed to
// a one-off notification like SlewSettled or Alert).
func (k Kind) IsState() bool {
	return k != SlewSettled && k != Alert
}

// Event carries the freshly replaced state object for its kind:
//
//	Liveness     LivenessPayload
//	Pointing     mount.Position
//	Dome         dome.Status
//	Settings     mount.Setup
//	Firmware     mount.FirmwareInfo
//	Location     mount.Site
//	Model        mount.AlignModel
//	NameList     mount.NameListState
//	TLE          mount.TLE
//	SlewSettled  SettledPayload
//	Alert        AlertPayload
type Event struct {
	Kind    Kind
	At      time.Time
	Payload any
}

type LivenessPayload struct {
	Up bool `json:"up"`
}

type SettledPayload struct {
	Flipped  bool   `json:"flipped"`
	PierSide string `json:"pierSide"`
}

type AlertPayload struct {
	Status int    `json:"status"`
	Text   string `json:"text"`
}

// Handler must not block; it runs on the publisher's goroutine.
type Handler func(Event)

// Bus is an observer registry.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]handlerEntry
}

type handlerEntry struct {
	kinds map[Kind]bool // nil means all kinds
	fn    Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]handlerEntry)}
}

// Subscribe registers fn for the given kinds, or for all kinds when none are
// given. The returned function removes the subscription.
func (b *Bus) Subscribe(fn Handler, kinds ...Kind) (unsubscribe func()) {
	var filter map[Kind]bool
	if len(kinds) > 0 {
		filter = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handlerEntry{kinds: filter, fn: fn}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		if h.kinds == nil || h.kinds[e.Kind] {
			targets = append(targets, h.fn)
		}
	}
	b.mu.RUnlock()
	for _, fn := range targets {
		fn(e)
	}
}
