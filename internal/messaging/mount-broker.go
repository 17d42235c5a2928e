package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fisaks/mountlink/internal/events"
	"github.com/fisaks/mountlink/internal/logging"
	"github.com/fisaks/mountlink/internal/protocol"
	"github.com/fisaks/mountlink/internal/state"
)

// Exchanger sends a raw command batch to the mount.
type Exchanger interface {
	Exchange(batch, expectedAck string) protocol.Result
}

type EventMessage struct {
	Kind    string    `json:"kind"`
	Ts      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}

type CommandMessage struct {
	Id    string `json:"id"`
	Batch string `json:"batch"`
	Ack   string `json:"ack,omitempty"`
}

type ReplyMessage struct {
	Id     string   `json:"id"`
	Ok     bool     `json:"ok"`
	Chunks []string `json:"chunks"`
	Error  string   `json:"error,omitempty"`
}

const eventQueueSize = 64

// MountBridge forwards orchestrator events to MQTT and raw commands from
// MQTT to the mount.
type MountBridge struct {
	Broker
	conn              Exchanger
	sent              state.Store
	heartbeatInterval time.Duration
	queue             chan events.Event
	wg                sync.WaitGroup
}

func NewMountBridge(broker Broker, conn Exchanger, heartbeatInterval time.Duration) *MountBridge {
	return &MountBridge{
		Broker:            broker,
		conn:              conn,
		sent:              state.NewStore(),
		heartbeatInterval: heartbeatInterval,
		queue:             make(chan events.Event, eventQueueSize),
	}
}

// OnEvent is an events.Handler. It never blocks: events are dropped when the
// publish worker is behind.
func (b *MountBridge) OnEvent(e events.Event) {
	select {
	case b.queue <- e:
	default:
		logging.Warn("MQTT event queue full, dropping", "kind", e.Kind)
	}
}

// Start subscribes to bus and the command topic and runs the publish worker
// until ctx is done.
func (b *MountBridge) Start(ctx context.Context, bus *events.Bus) error {
	unsubscribe := bus.Subscribe(b.OnEvent)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-b.queue:
				if err := b.PublishEvent(ctx, e); err != nil {
					logging.Warn("Event publish failed", "kind", e.Kind, "error", err)
				}
			}
		}
	}()
	if b.conn == nil {
		return nil
	}
	_, err := b.Subscribe(ctx, b.Topic("cmd"), AtLeastOnce, b.OnMessage)
	return err
}

func (b *MountBridge) Wait() {
	b.wg.Wait()
}

// PublishEvent publishes e on <prefix>/event/<kind>. State kinds are retained
// and only resent when changed or when the heartbeat interval has passed.
func (b *MountBridge) PublishEvent(ctx context.Context, e events.Event) error {
	kind := e.Kind.String()
	topic := b.Topic("event", kind)
	if !e.Kind.IsState() {
		return b.PublishJSON(ctx, topic, AtLeastOnce, false, EventMessage{Kind: kind, Ts: e.At, Payload: e.Payload})
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	if !b.sent.NeedsSend(kind, payload, b.heartbeatInterval) {
		return nil
	}
	logging.Debug("Publishing state", "kind", kind)
	err = b.PublishJSON(ctx, topic, FireAndForget, true, EventMessage{Kind: kind, Ts: e.At, Payload: json.RawMessage(payload)})
	if err == nil {
		b.sent.Update(kind, payload)
	}
	return err
}

// OnMessage handles a raw command from <prefix>/cmd and publishes the reply
// on <prefix>/reply.
func (b *MountBridge) OnMessage(ctx context.Context, topic string, payload []byte) {
	logging.Debug("Received cmd message", "topic", topic)
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		logging.Warn("cmd json", "error", err)
		return
	}
	res := b.conn.Exchange(cmd.Batch, cmd.Ack)
	reply := ReplyMessage{Id: cmd.Id, Ok: res.OK, Chunks: res.Chunks}
	if res.Err != nil {
		reply.Error = res.Err.Error()
	}
	if err := b.PublishJSON(ctx, b.Topic("reply"), AtLeastOnce, false, reply); err != nil {
		logging.Warn("cmd reply publish failed", "id", cmd.Id, "error", err)
	}
}
