package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suprememoocow/textronics-monitor/pkg/channel"
	"github.com/suprememoocow/textronics-monitor/pkg/types"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	subscribed   map[string]mqtt.MessageHandler
	published    []string
	disconnected bool
	open         bool
}

func (c *fakeClient) IsConnected() bool { return c.IsConnectionOpen() }
func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	return doneToken(nil)
}
func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.open = false
	c.disconnected = true
	c.mu.Unlock()
}
func (c *fakeClient) Publish(topic string, _ byte, _ bool, _ interface{}) mqtt.Token {
	c.mu.Lock()
	c.published = append(c.published, topic)
	c.mu.Unlock()
	return doneToken(nil)
}
func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subscribed[topic] = cb
	c.mu.Unlock()
	return doneToken(nil)
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken(nil)
}
func (c *fakeClient) Unsubscribe(...string) mqtt.Token { return doneToken(nil) }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }
func (c *fakeClient) handler(topic string) mqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed[topic]
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type countingObserver struct {
	mu       sync.Mutex
	status   []bool
	received int
	ignored  int
}

func (o *countingObserver) SetConnectionStatus(c bool) {
	o.mu.Lock()
	o.status = append(o.status, c)
	o.mu.Unlock()
}
func (o *countingObserver) SubscriptionReceived() { o.mu.Lock(); o.received++; o.mu.Unlock() }
func (o *countingObserver) SubscriptionIgnored()  { o.mu.Lock(); o.ignored++; o.mu.Unlock() }

func newTestManager(t *testing.T) (*Manager, *fakeClient, *countingObserver, *channel.Subscription) {
	t.Helper()
	log, _ := test.NewNullLogger()
	b := channel.New(log)
	sub := b.Subscribe(channel.UpdateCategory, 16)
	obs := &countingObserver{}

	m := New("textronics-test", Config{Host: "localhost", Port: 1883, KeepAlive: time.Hour}, obs, b, log)
	fc := &fakeClient{subscribed: map[string]mqtt.MessageHandler{}}
	m.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		fc.opts = opts
		return fc
	}
	return m, fc, obs, sub
}

func next(t *testing.T, sub *channel.Subscription) types.Notification {
	t.Helper()
	select {
	case n := <-sub.C():
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification published")
	}
	return types.Notification{}
}

func TestManagerLifecycle(t *testing.T) {
	m, fc, obs, sub := newTestManager(t)
	ctx := context.Background()

	m.Start(ctx)
	m.Start(ctx)
	require.NotNil(t, fc.opts)

	fc.opts.OnConnect(fc)
	assert.True(t, m.Connected())
	assert.Equal(t, types.MqttConnected, next(t, sub).Update)

	h := fc.handler(bleStateTopic)
	require.NotNil(t, h)
	h(fc, fakeMessage{topic: "textronics/ble/AA:BB:CC:DD:EE:FF/state", payload: []byte(`{"value":"ble_connected"}`)})

	n := next(t, sub)
	assert.Equal(t, types.BleConnected, n.Update)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", n.DeviceAddress())

	m.Stop(ctx)
	m.Stop(ctx)
	assert.True(t, fc.disconnected)
	assert.False(t, m.Connected())
	assert.Equal(t, types.MqttDisconnected, next(t, sub).Update)
	assert.Equal(t, []bool{true, false}, obs.status)
	assert.Len(t, sub.C(), 0)
}

func TestManagerConnectionLost(t *testing.T) {
	m, fc, obs, sub := newTestManager(t)
	ctx := context.Background()

	m.Start(ctx)
	defer m.Stop(ctx)

	fc.opts.OnConnect(fc)
	next(t, sub)

	fc.opts.OnConnectionLost(fc, errors.New("broken pipe"))
	assert.Equal(t, types.MqttDisconnected, next(t, sub).Update)
	assert.False(t, m.Connected())

	fc.opts.OnConnectionLost(fc, errors.New("broken pipe"))
	assert.Len(t, sub.C(), 0)
	assert.Equal(t, []bool{true, false}, obs.status)
}

func TestManagerIgnoresEventsAfterStop(t *testing.T) {
	m, fc, _, sub := newTestManager(t)
	ctx := context.Background()

	m.Start(ctx)
	m.Stop(ctx)

	fc.opts.OnConnect(fc)
	assert.False(t, m.Connected())
	assert.Len(t, sub.C(), 0)
}

func TestStopWithoutStart(t *testing.T) {
	m, _, obs, _ := newTestManager(t)
	assert.NotPanics(t, func() { m.Stop(context.Background()) })
	assert.Empty(t, obs.status)
}

func TestBLEStateHandlerRejectsBadMessages(t *testing.T) {
	log, hook := test.NewNullLogger()
	obs := &countingObserver{}
	var published []types.Notification
	h := mqttBLEStateHandler(obs, func(n types.Notification) { published = append(published, n) }, log)

	h(nil, fakeMessage{topic: "textronics/ble", payload: []byte(`{"value":"ble_connected"}`)})
	h(nil, fakeMessage{topic: "textronics/ble/AA/state", payload: []byte(`{"value":"mqtt_connected"}`)})
	h(nil, fakeMessage{topic: "textronics/ble/AA/state", payload: []byte(`not json`)})
	h(nil, fakeMessage{topic: "textronics/ble/AA/state", payload: []byte(`{"value":"ble_disconnecting"}`)})

	assert.Equal(t, 4, obs.received)
	assert.Equal(t, 3, obs.ignored)
	assert.Len(t, hook.AllEntries(), 3)
	require.Len(t, published, 1)
	assert.Equal(t, types.BleDisconnecting, published[0].Update)
}

func TestCreateClientOptions(t *testing.T) {
	log, _ := test.NewNullLogger()
	m := New("textronics-test", Config{Host: "broker", Port: 8883, Secure: true, Username: "u", Password: "p"}, &countingObserver{}, nil, log)

	opts := m.createClientOptions()
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "ssl://broker:8883", opts.Servers[0].String())
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "textronics-test", opts.ClientID)
	assert.NotNil(t, opts.TLSConfig)
	assert.Equal(t, defaultKeepAlivePeriod, m.config.KeepAlive)
}
