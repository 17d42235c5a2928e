package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fisaks/mountlink/internal/logging"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

var errNoClient = errors.New("mqtt client not initialized")

type BrokerConfig struct {
	BrokerURL        string
	ClientName       string
	TopicPrefix      string
	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration
}

type handlerFunc func(ctx context.Context, topic string, payload []byte)

// subscription is remembered so it can be restored after a reconnect; paho
// starts every session clean.
type subscription struct {
	qos     QoS
	handler mqtt.MessageHandler
}

// MsgBroker is the paho backed Broker. Every topic it publishes or
// subscribes is relative to TopicPrefix through Topic.
type MsgBroker struct {
	config         BrokerConfig
	client         mqtt.Client
	mu             sync.RWMutex
	subs           map[string]subscription
	onConnectFuncs map[string]OnConnectPublisher
}

func NewBroker(cfg BrokerConfig) *MsgBroker {
	return &MsgBroker{
		config:         cfg,
		subs:           make(map[string]subscription),
		onConnectFuncs: make(map[string]OnConnectPublisher),
	}
}

func (b *MsgBroker) Topic(parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if b.config.TopicPrefix != "" {
		all = append(all, b.config.TopicPrefix)
	}
	return strings.Join(append(all, parts...), "/")
}

// waitToken waits for t with the configured timeout, falling back to def.
func waitToken(ctx context.Context, t mqtt.Token, timeout, def time.Duration, what string) error {
	if timeout <= 0 {
		timeout = def
	}
	select {
	case <-t.Done():
		return t.Error()
	case <-time.After(timeout):
		return fmt.Errorf("%s timeout after %v", what, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect dials the broker. With connect retry enabled paho keeps trying in
// the background after a timeout here, and the on-connect hook runs once it
// succeeds.
func (b *MsgBroker) Connect(ctx context.Context) error {
	if b.client == nil {
		b.client = mqtt.NewClient(b.clientOptions())
	}
	if b.client.IsConnected() {
		return nil
	}
	return waitToken(ctx, b.client.Connect(), b.config.ConnectTimeout, 10*time.Second, "connect")
}

func (b *MsgBroker) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().AddBroker(b.config.BrokerURL)
	opts.SetClientID("mountlink-" + b.config.ClientName)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	// consumers see the daemon drop off even when it dies without Close
	opts.SetWill(b.Topic("status"), statusOffline, byte(AtLeastOnce), true)
	opts.OnConnect = func(mqtt.Client) {
		logging.Info("MQTT connected", "broker", b.config.BrokerURL)
		go b.afterConnect()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logging.Warn("MQTT connection lost", "broker", b.config.BrokerURL, "error", err)
	}
	return opts
}

func (b *MsgBroker) AddOnConnectPublisher(id string, fn OnConnectPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnectFuncs[id] = fn
}

// afterConnect restores subscriptions, marks the daemon online and runs the
// on-connect publishers.
func (b *MsgBroker) afterConnect() {
	ctx := context.Background()

	b.mu.RLock()
	subs := make(map[string]subscription, len(b.subs))
	for topic, s := range b.subs {
		subs[topic] = s
	}
	publishers := make(map[string]OnConnectPublisher, len(b.onConnectFuncs))
	for id, fn := range b.onConnectFuncs {
		publishers[id] = fn
	}
	b.mu.RUnlock()

	for topic, s := range subs {
		t := b.client.Subscribe(topic, byte(s.qos), s.handler)
		if err := waitToken(ctx, t, b.config.SubscribeTimeout, 5*time.Second, "resubscribe"); err != nil {
			logging.Error("MQTT resubscribe failed", "topic", topic, "error", err)
		}
	}

	if err := b.Publish(ctx, b.Topic("status"), AtLeastOnce, true, []byte(statusOnline)); err != nil {
		logging.Error("Status publish failed", "clientName", b.config.ClientName, "error", err)
	}

	for id, fn := range publishers {
		msg, err := fn(ctx)
		if err != nil {
			logging.Error("onConnect publisher failed", "id", id, "error", err)
			continue
		}
		if err := b.PublishJSON(ctx, b.Topic(msg.Topic), msg.Qos, msg.Retain, msg.Payload); err != nil {
			logging.Error("onConnect publish failed", "id", id, "topic", msg.Topic, "error", err)
		}
	}
}

func (b *MsgBroker) IsConnected() bool {
	return b.client != nil && b.client.IsConnected()
}

// Close marks the daemon offline and disconnects.
func (b *MsgBroker) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	if b.client.IsConnected() {
		_ = b.Publish(ctx, b.Topic("status"), AtLeastOnce, true, []byte(statusOffline))
	}
	done := make(chan struct{})
	go func() {
		// 250 ms quiesce period
		b.client.Disconnect(250)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MsgBroker) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	if b.client == nil {
		return errNoClient
	}
	qosByte, wait := qosToByte(qos)
	t := b.client.Publish(topic, qosByte, retain, payload)
	if !wait {
		return nil
	}
	return waitToken(ctx, t, b.config.PublishTimeout, 5*time.Second, "publish")
}

func qosToByte(qos QoS) (byte, bool) {
	if qos > ExactlyOnce {
		return 0, false
	}
	return byte(qos), true
}

func (b *MsgBroker) PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(ctx, topic, qos, retain, data)
}

// Subscribe registers handler and waits for the SUBACK. Each message is
// handled on its own goroutine; a panicking handler is logged, not fatal.
func (b *MsgBroker) Subscribe(ctx context.Context, topic string, qos QoS, handler func(context.Context, string, []byte)) (Subscription, error) {
	if b.client == nil {
		return nil, errNoClient
	}
	s := subscription{qos: qos, handler: b.wrap(ctx, handler)}
	// registered first so a reconnect racing the SUBACK still restores it
	b.mu.Lock()
	b.subs[topic] = s
	b.mu.Unlock()

	t := b.client.Subscribe(topic, byte(qos), s.handler)
	if err := waitToken(ctx, t, b.config.SubscribeTimeout, 5*time.Second, "subscribe "+topic); err != nil {
		return nil, err
	}
	return &msgSubscription{broker: b, topic: topic}, nil
}

func (b *MsgBroker) wrap(ctx context.Context, handler handlerFunc) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("mqtt handler panic", "clientName", b.config.ClientName, "topic", msg.Topic(), "err", r)
				}
			}()
			handler(ctx, msg.Topic(), msg.Payload())
		}()
	}
}

type msgSubscription struct {
	broker *MsgBroker
	topic  string
}

func (s *msgSubscription) Unsubscribe(ctx context.Context) error {
	b := s.broker
	b.mu.Lock()
	delete(b.subs, s.topic)
	b.mu.Unlock()
	return waitToken(ctx, b.client.Unsubscribe(s.topic), 3*time.Second, 3*time.Second, "unsubscribe "+s.topic)
}
