// Package mirror keeps the latest payload of every event kind in Redis so
// dashboards can read current mount state without subscribing to MQTT.
package mirror

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fisaks/mountlink/internal/config"
	"github.com/fisaks/mountlink/internal/events"
	"github.com/fisaks/mountlink/internal/logging"
)

// Setter is the part of *redis.Client the mirror uses.
type Setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type entry struct {
	Ts      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}

type Mirror struct {
	db        Setter
	keyPrefix string
	queue     chan events.Event
	wg        sync.WaitGroup
}

func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func New(db Setter, keyPrefix string) *Mirror {
	return &Mirror{db: db, keyPrefix: keyPrefix, queue: make(chan events.Event, 64)}
}

func (m *Mirror) Key(k events.Kind) string {
	return m.keyPrefix + ":" + k.String()
}

// OnEvent is an events.Handler; it drops events while the writer is behind.
func (m *Mirror) OnEvent(e events.Event) {
	select {
	case m.queue <- e:
	default:
		logging.Warn("Redis mirror queue full, dropping", "kind", e.Kind)
	}
}

func (m *Mirror) Start(ctx context.Context, bus *events.Bus) {
	unsubscribe := bus.Subscribe(m.OnEvent)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-m.queue:
				if err := m.Write(ctx, e); err != nil {
					logging.Warn("Redis mirror write failed", "kind", e.Kind, "error", err)
				}
			}
		}
	}()
}

func (m *Mirror) Wait() {
	m.wg.Wait()
}

func (m *Mirror) Write(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(entry{Ts: e.At, Payload: e.Payload})
	if err != nil {
		return err
	}
	return m.db.Set(ctx, m.Key(e.Kind), data, 0).Err()
}
