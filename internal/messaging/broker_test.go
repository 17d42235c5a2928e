package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeToken is an mqtt.Token completed by closing done.
type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

func TestTopic(t *testing.T) {
	b := NewBroker(BrokerConfig{TopicPrefix: "observatory/mount"})
	if got := b.Topic("event", "pointing"); got != "observatory/mount/event/pointing" {
		t.Errorf("got %s", got)
	}
	if got := NewBroker(BrokerConfig{}).Topic("cmd"); got != "cmd" {
		t.Errorf("empty prefix: got %s", got)
	}
}

func TestQosToByte(t *testing.T) {
	if q, wait := qosToByte(AtLeastOnce); q != 1 || !wait {
		t.Errorf("AtLeastOnce = %d, %v", q, wait)
	}
	if q, wait := qosToByte(AsyncNoWait); q != 0 || wait {
		t.Errorf("AsyncNoWait = %d, %v", q, wait)
	}
}

func TestWaitToken(t *testing.T) {
	boom := errors.New("not authorized")
	done := &fakeToken{done: make(chan struct{}), err: boom}
	close(done.done)
	if err := waitToken(context.Background(), done, time.Second, time.Second, "publish"); !errors.Is(err, boom) {
		t.Errorf("completed token: got %v", err)
	}

	pending := &fakeToken{done: make(chan struct{})}
	err := waitToken(context.Background(), pending, 20*time.Millisecond, time.Second, "subscribe x")
	if err == nil || !strings.Contains(err.Error(), "subscribe x timeout") {
		t.Errorf("pending token: got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := waitToken(ctx, pending, time.Second, time.Second, "connect"); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ctx: got %v", err)
	}
}

func TestNoClient(t *testing.T) {
	b := NewBroker(BrokerConfig{})
	if b.IsConnected() {
		t.Error("unconnected broker reports connected")
	}
	if err := b.Publish(context.Background(), "x", AtMostOnce, false, nil); !errors.Is(err, errNoClient) {
		t.Errorf("got %v", err)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Errorf("close without client: %v", err)
	}
}
