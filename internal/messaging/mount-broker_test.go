package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fisaks/mountlink/internal/events"
	"github.com/fisaks/mountlink/internal/mount"
	"github.com/fisaks/mountlink/internal/protocol"
)

type published struct {
	topic   string
	qos     QoS
	retain  bool
	payload []byte
}

type fakeBroker struct {
	mu       sync.Mutex
	prefix   string
	msgs     []published
	handlers map[string]func(context.Context, string, []byte)
	onConn   map[string]OnConnectPublisher
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		prefix:   "mount",
		handlers: map[string]func(context.Context, string, []byte){},
		onConn:   map[string]OnConnectPublisher{},
	}
}

func (f *fakeBroker) Connect(ctx context.Context) error { return nil }
func (f *fakeBroker) Close(ctx context.Context) error   { return nil }
func (f *fakeBroker) IsConnected() bool                 { return true }

func (f *fakeBroker) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, retain, payload})
	return nil
}

func (f *fakeBroker) PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.Publish(ctx, topic, qos, retain, data)
}

func (f *fakeBroker) Subscribe(ctx context.Context, topic string, qos QoS, handler func(context.Context, string, []byte)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil, nil
}

func (f *fakeBroker) AddOnConnectPublisher(id string, fn OnConnectPublisher) {
	f.onConn[id] = fn
}

func (f *fakeBroker) Topic(parts ...string) string {
	return strings.Join(append([]string{f.prefix}, parts...), "/")
}

func (f *fakeBroker) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

type fakeExchanger struct {
	batch string
	ack   string
	res   protocol.Result
}

func (f *fakeExchanger) Exchange(batch, ack string) protocol.Result {
	f.batch, f.ack = batch, ack
	return f.res
}

func TestPublishEventDedupe(t *testing.T) {
	fb := newFakeBroker()
	b := NewMountBridge(fb, nil, time.Hour)
	ctx := context.Background()

	fw := mount.FirmwareInfo{Product: "10micron GM1000HPS", Number: "3.1.2"}
	for i := 0; i < 3; i++ {
		if err := b.PublishEvent(ctx, events.Event{Kind: events.Firmware, At: time.Now(), Payload: fw}); err != nil {
			t.Fatal(err)
		}
	}
	msgs := fb.sent()
	if len(msgs) != 1 {
		t.Fatalf("published %d times, want 1", len(msgs))
	}
	if msgs[0].topic != "mount/event/firmware" || !msgs[0].retain {
		t.Errorf("got topic=%s retain=%v", msgs[0].topic, msgs[0].retain)
	}
	var em struct {
		Kind    string             `json:"kind"`
		Payload mount.FirmwareInfo `json:"payload"`
	}
	if err := json.Unmarshal(msgs[0].payload, &em); err != nil {
		t.Fatal(err)
	}
	if em.Kind != "firmware" || em.Payload != fw {
		t.Errorf("got %+v", em)
	}

	fw.Number = "3.1.3"
	_ = b.PublishEvent(ctx, events.Event{Kind: events.Firmware, Payload: fw})
	if n := len(fb.sent()); n != 2 {
		t.Errorf("changed state published %d times in total, want 2", n)
	}
}

func TestPublishNotificationNotRetained(t *testing.T) {
	fb := newFakeBroker()
	b := NewMountBridge(fb, nil, time.Hour)
	e := events.Event{Kind: events.SlewSettled, Payload: events.SettledPayload{Flipped: true, PierSide: "W"}}
	_ = b.PublishEvent(context.Background(), e)
	_ = b.PublishEvent(context.Background(), e)

	msgs := fb.sent()
	if len(msgs) != 2 {
		t.Fatalf("notifications must not be deduplicated, got %d", len(msgs))
	}
	if msgs[0].retain || msgs[0].topic != "mount/event/slewSettled" {
		t.Errorf("got topic=%s retain=%v", msgs[0].topic, msgs[0].retain)
	}
}

func TestCommandReply(t *testing.T) {
	fb := newFakeBroker()
	ex := &fakeExchanger{res: protocol.Result{OK: true, Chunks: []string{"10micron GM1000HPS"}, Expected: 1}}
	b := NewMountBridge(fb, ex, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx, events.NewBus()); err != nil {
		t.Fatal(err)
	}

	h := fb.handlers["mount/cmd"]
	if h == nil {
		t.Fatal("command topic not subscribed")
	}
	h(ctx, "mount/cmd", []byte(`{"id":"42","batch":":GVP#"}`))
	if ex.batch != ":GVP#" {
		t.Errorf("exchanged %q", ex.batch)
	}

	msgs := fb.sent()
	if len(msgs) != 1 || msgs[0].topic != "mount/reply" {
		t.Fatalf("got %+v", msgs)
	}
	var reply ReplyMessage
	if err := json.Unmarshal(msgs[0].payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Id != "42" || !reply.Ok || len(reply.Chunks) != 1 || reply.Error != "" {
		t.Errorf("got %+v", reply)
	}
}

func TestCommandRejected(t *testing.T) {
	fb := newFakeBroker()
	ex := &fakeExchanger{res: protocol.Result{Err: protocol.ErrUnknownCommand}}
	b := NewMountBridge(fb, ex, 0)
	b.OnMessage(context.Background(), "mount/cmd", []byte(`{"id":"1","batch":":XYZ#"}`))

	var reply ReplyMessage
	_ = json.Unmarshal(fb.sent()[0].payload, &reply)
	if reply.Ok || reply.Error != protocol.ErrUnknownCommand.Error() {
		t.Errorf("got %+v", reply)
	}

	b.OnMessage(context.Background(), "mount/cmd", []byte(`not json`))
	if n := len(fb.sent()); n != 1 {
		t.Errorf("malformed command produced a reply")
	}
}

func TestBridgeForwardsBusEvents(t *testing.T) {
	fb := newFakeBroker()
	b := NewMountBridge(fb, nil, 0)
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	if err := b.Start(ctx, bus); err != nil {
		t.Fatal(err)
	}
	bus.Publish(events.Event{Kind: events.Liveness, Payload: events.LivenessPayload{Up: true}})

	deadline := time.Now().Add(2 * time.Second)
	for len(fb.sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	b.Wait()

	msgs := fb.sent()
	if len(msgs) != 1 || msgs[0].topic != "mount/event/liveness" {
		t.Fatalf("got %+v", msgs)
	}
}
