package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-conduit/internal/driver"
	"github.com/nerrad567/gray-logic-conduit/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-conduit/internal/pool"
)

// publishedMsg captures one Publish call.
type publishedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeMQTT implements MQTTClient for tests.
type fakeMQTT struct {
	mu           sync.Mutex
	published    []publishedMsg
	subs         map[string]mqtt.MessageHandler
	disconnected bool
	pubErr       error
	subErr       error
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{subs: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, publishedMsg{topic, payload, qos, retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subs[topic] = handler
	return nil
}

func (f *fakeMQTT) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disconnected
}

func (f *fakeMQTT) messages() []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMsg, len(f.published))
	copy(out, f.published)
	return out
}

// deliver invokes the handler registered for the command pattern, as the
// paho library would for a matching topic.
func (f *fakeMQTT) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	f.mu.Lock()
	handler := f.subs[mqtt.Topics{}.AllCommands()]
	f.mu.Unlock()
	if handler == nil {
		t.Fatal("no command handler registered")
	}
	if err := handler(topic, payload); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

// commandDriver implements driver.Driver and driver.Commander.
type commandDriver struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (d *commandDriver) Connect(ctx context.Context, address string) error { return nil }
func (d *commandDriver) Disconnect() error                                 { return nil }
func (d *commandDriver) SetOnEvent(fn func(driver.Event))                  {}
func (d *commandDriver) State() driver.Snapshot                            { return driver.Snapshot{} }

func (d *commandDriver) Send(ctx context.Context, command string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, command)
	return nil
}

func (d *commandDriver) sentCommands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent))
	copy(out, d.sent)
	return out
}

// bareDriver implements driver.Driver without the command surface.
type bareDriver struct{}

func (bareDriver) Connect(ctx context.Context, address string) error { return nil }
func (bareDriver) Disconnect() error                                 { return nil }
func (bareDriver) SetOnEvent(fn func(driver.Event))                  {}
func (bareDriver) State() driver.Snapshot                            { return driver.Snapshot{} }

// fakePool implements ConnectionPool.
type fakePool struct {
	drv driver.Driver
	err error
}

func (f *fakePool) Acquire(ctx context.Context, address string) (driver.Driver, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.drv, nil
}

func newTestBridge(t *testing.T, mq *fakeMQTT, p ConnectionPool) *Bridge {
	t.Helper()
	b, err := New(Options{MQTT: mq, Pool: p})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(b.Stop)
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return b
}

func decodeResult(t *testing.T, msg publishedMsg) ResultMessage {
	t.Helper()
	var res ResultMessage
	if err := json.Unmarshal(msg.payload, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return res
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Options{Pool: &fakePool{}}); err == nil {
		t.Error("New() without MQTT client should fail")
	}
	if _, err := New(Options{MQTT: newFakeMQTT()}); err == nil {
		t.Error("New() without pool should fail")
	}
}

func TestStartSubscribesToCommandPattern(t *testing.T) {
	mq := newFakeMQTT()
	newTestBridge(t, mq, &fakePool{drv: &commandDriver{}})

	mq.mu.Lock()
	_, ok := mq.subs["conduit/command/+"]
	mq.mu.Unlock()
	if !ok {
		t.Error("Start() did not subscribe to conduit/command/+")
	}
}

func TestStartSubscribeFailure(t *testing.T) {
	mq := newFakeMQTT()
	mq.subErr = errors.New("broker down")

	b, err := New(Options{MQTT: mq, Pool: &fakePool{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Stop()

	if err := b.Start(); err == nil {
		t.Error("Start() should surface subscribe failure")
	}
}

func TestHandleEventPublishesRetainedState(t *testing.T) {
	mq := newFakeMQTT()
	b := newTestBridge(t, mq, &fakePool{drv: &commandDriver{}})

	b.HandleEvent(pool.Event{
		Type:        pool.EventStateChanged,
		Address:     "10.0.0.5:4999",
		Time:        time.Now(),
		State:       driver.Snapshot{"POWER": "ON"},
		ChangedPath: "POWER",
	})

	msgs := mq.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "conduit/state/10.0.0.5:4999" {
		t.Errorf("topic = %q, want conduit/state/10.0.0.5:4999", msgs[0].topic)
	}
	if !msgs[0].retained {
		t.Error("state message should be retained")
	}

	var state StateMessage
	if err := json.Unmarshal(msgs[0].payload, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.ChangedPath != "POWER" {
		t.Errorf("ChangedPath = %q, want POWER", state.ChangedPath)
	}
	if state.State["POWER"] != "ON" {
		t.Errorf("State[POWER] = %v, want ON", state.State["POWER"])
	}
}

func TestHandleEventPublishesLifecycleEvent(t *testing.T) {
	mq := newFakeMQTT()
	b := newTestBridge(t, mq, &fakePool{drv: &commandDriver{}})

	b.HandleEvent(pool.Event{
		Type:    pool.EventRetry,
		Address: "10.0.0.5:4999",
		Time:    time.Now(),
		Attempt: 2,
		Err:     errors.New("connection refused"),
	})

	msgs := mq.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "conduit/event/retry" {
		t.Errorf("topic = %q, want conduit/event/retry", msgs[0].topic)
	}
	if msgs[0].retained {
		t.Error("lifecycle events should not be retained")
	}

	var ev EventMessage
	if err := json.Unmarshal(msgs[0].payload, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", ev.Attempt)
	}
	if ev.Error != "connection refused" {
		t.Errorf("Error = %q, want connection refused", ev.Error)
	}
}

func TestHandleEventSkipsWhenBrokerDown(t *testing.T) {
	mq := newFakeMQTT()
	b := newTestBridge(t, mq, &fakePool{drv: &commandDriver{}})

	mq.mu.Lock()
	mq.disconnected = true
	mq.mu.Unlock()

	b.HandleEvent(pool.Event{Type: pool.EventConnected, Address: "10.0.0.5:4999"})

	if len(mq.messages()) != 0 {
		t.Error("no messages should be published while disconnected")
	}
}

func TestCommandRoundtrip(t *testing.T) {
	mq := newFakeMQTT()
	drv := &commandDriver{}
	newTestBridge(t, mq, &fakePool{drv: drv})

	payload := []byte(`{"id":"cmd-1","command":"SET VOLUME 10","source":"panel"}`)
	mq.deliver(t, "conduit/command/10.0.0.5:4999", payload)

	sent := drv.sentCommands()
	if len(sent) != 1 || sent[0] != "SET VOLUME 10" {
		t.Fatalf("sent commands = %v, want [SET VOLUME 10]", sent)
	}

	msgs := mq.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "conduit/result/10.0.0.5:4999" {
		t.Errorf("topic = %q, want conduit/result/10.0.0.5:4999", msgs[0].topic)
	}

	res := decodeResult(t, msgs[0])
	if res.Status != ResultOK {
		t.Errorf("Status = %q, want ok", res.Status)
	}
	if res.CommandID != "cmd-1" {
		t.Errorf("CommandID = %q, want cmd-1", res.CommandID)
	}
}

func TestCommandInvalidPayload(t *testing.T) {
	mq := newFakeMQTT()
	newTestBridge(t, mq, &fakePool{drv: &commandDriver{}})

	mq.deliver(t, "conduit/command/10.0.0.5:4999", []byte("{not json"))

	msgs := mq.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	res := decodeResult(t, msgs[0])
	if res.Status != ResultFailed || res.Code != ErrCodeInvalidPayload {
		t.Errorf("result = %q/%q, want failed/%s", res.Status, res.Code, ErrCodeInvalidPayload)
	}
}

func TestCommandEmptyCommand(t *testing.T) {
	mq := newFakeMQTT()
	newTestBridge(t, mq, &fakePool{drv: &commandDriver{}})

	mq.deliver(t, "conduit/command/10.0.0.5:4999", []byte(`{"id":"cmd-2"}`))

	msgs := mq.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	res := decodeResult(t, msgs[0])
	if res.Code != ErrCodeInvalidPayload {
		t.Errorf("Code = %q, want %s", res.Code, ErrCodeInvalidPayload)
	}
	if res.CommandID != "cmd-2" {
		t.Errorf("CommandID = %q, want cmd-2", res.CommandID)
	}
}

func TestCommandAcquireFailure(t *testing.T) {
	mq := newFakeMQTT()
	p := &fakePool{err: &pool.ConnectionFailedError{
		Address:  "10.0.0.5:4999",
		Attempts: 3,
		Err:      errors.New("connection refused"),
	}}
	newTestBridge(t, mq, p)

	mq.deliver(t, "conduit/command/10.0.0.5:4999", []byte(`{"command":"SET POWER ON"}`))

	msgs := mq.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	res := decodeResult(t, msgs[0])
	if res.Status != ResultFailed || res.Code != ErrCodeNotConnected {
		t.Errorf("result = %q/%q, want failed/%s", res.Status, res.Code, ErrCodeNotConnected)
	}
}

func TestCommandDriverWithoutCommandSurface(t *testing.T) {
	mq := newFakeMQTT()
	newTestBridge(t, mq, &fakePool{drv: bareDriver{}})

	mq.deliver(t, "conduit/command/10.0.0.5:4999", []byte(`{"command":"SET POWER ON"}`))

	msgs := mq.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	res := decodeResult(t, msgs[0])
	if res.Code != ErrCodeNotCommandable {
		t.Errorf("Code = %q, want %s", res.Code, ErrCodeNotCommandable)
	}
}

func TestCommandSendFailure(t *testing.T) {
	mq := newFakeMQTT()
	drv := &commandDriver{sendErr: errors.New("write: broken pipe")}
	newTestBridge(t, mq, &fakePool{drv: drv})

	mq.deliver(t, "conduit/command/10.0.0.5:4999", []byte(`{"command":"SET POWER ON"}`))

	msgs := mq.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	res := decodeResult(t, msgs[0])
	if res.Status != ResultFailed || res.Code != ErrCodeSendFailed {
		t.Errorf("result = %q/%q, want failed/%s", res.Status, res.Code, ErrCodeSendFailed)
	}
}

func TestMalformedCommandTopicIgnored(t *testing.T) {
	mq := newFakeMQTT()
	newTestBridge(t, mq, &fakePool{drv: &commandDriver{}})

	mq.deliver(t, "conduit/command/", []byte(`{"command":"SET POWER ON"}`))
	mq.deliver(t, "conduit/other/10.0.0.5:4999", []byte(`{"command":"SET POWER ON"}`))

	if len(mq.messages()) != 0 {
		t.Error("malformed topics should produce no result messages")
	}
}

func TestStopDropsLateCommands(t *testing.T) {
	mq := newFakeMQTT()
	drv := &commandDriver{}
	b := newTestBridge(t, mq, &fakePool{drv: drv})

	b.Stop()

	mq.deliver(t, "conduit/command/10.0.0.5:4999", []byte(`{"command":"SET POWER ON"}`))

	if len(drv.sentCommands()) != 0 {
		t.Error("commands after Stop should not reach the driver")
	}
	if len(mq.messages()) != 0 {
		t.Error("commands after Stop should not produce results")
	}
}

func TestAddressFromCommandTopic(t *testing.T) {
	tests := []struct {
		topic   string
		address string
		ok      bool
	}{
		{"conduit/command/10.0.0.5:4999", "10.0.0.5:4999", true},
		{"conduit/command/amp.local:23", "amp.local:23", true},
		{"conduit/command/", "", false},
		{"conduit/command/a/b", "", false},
		{"conduit/state/10.0.0.5:4999", "", false},
		{"garbage", "", false},
	}

	for _, tt := range tests {
		address, ok := addressFromCommandTopic(tt.topic)
		if address != tt.address || ok != tt.ok {
			t.Errorf("addressFromCommandTopic(%q) = (%q, %v), want (%q, %v)",
				tt.topic, address, ok, tt.address, tt.ok)
		}
	}
}
