package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxfret/cascade/core/model"
)

type stubToken struct{ err error }

func (t *stubToken) Wait() bool                  { return true }
func (t *stubToken) WaitTimeout(time.Duration) bool { return true }
func (t *stubToken) Done() <-chan struct{}       { ch := make(chan struct{}); close(ch); return ch }
func (t *stubToken) Error() error                { return t.err }

type stubClient struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	pubErr   error
}

func (c *stubClient) IsConnected() bool   { return true }
func (c *stubClient) Connect() paho.Token { return &stubToken{} }
func (c *stubClient) Disconnect(uint)     {}
func (c *stubClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return &stubToken{err: c.pubErr}
}

func newStubNotifier(t *testing.T) (*MQTTNotifier, *stubClient) {
	t.Helper()
	stub := &stubClient{}
	orig := newMQTTClient
	newMQTTClient = func(*paho.ClientOptions) pahoClient { return stub }
	t.Cleanup(func() { newMQTTClient = orig })

	n, err := NewMQTTNotifier(MQTTConfig{Broker: "tcp://localhost:1883", BackoffMS: 1})
	require.NoError(t, err)
	return n, stub
}

func TestNotifyAttemptPublishesOffer(t *testing.T) {
	n, stub := newStubNotifier(t)

	deadline := time.Date(2026, 2, 28, 13, 0, 0, 0, time.UTC)
	order := model.Order{ID: "ord-1", PickupCity: "Lyon"}
	ch := &model.DispatchChain{ID: "ch-1"}
	attempt := model.DispatchAttempt{CarrierID: "c1", Position: 1, Channels: []string{"email"}}

	require.NoError(t, n.NotifyAttempt(context.Background(), order, ch, attempt, deadline))
	require.Len(t, stub.topics, 1)
	assert.Equal(t, "carrier/c1/dispatch", stub.topics[0])

	var msg offerMessage
	require.NoError(t, json.Unmarshal(stub.payloads[0], &msg))
	assert.Equal(t, "offer", msg.Kind)
	assert.Equal(t, "ord-1", msg.OrderID)
	assert.Equal(t, "2026-02-28T13:00:00Z", msg.Deadline)
}

func TestNotifyReminderAndAssigned(t *testing.T) {
	n, stub := newStubNotifier(t)
	order := model.Order{ID: "ord-1"}
	ch := &model.DispatchChain{ID: "ch-1"}

	require.NoError(t, n.NotifyReminder(context.Background(), order, ch, model.DispatchAttempt{CarrierID: "c1"}, 30*time.Minute))
	require.NoError(t, n.NotifyAssigned(context.Background(), order, ch, "c2"))
	require.Len(t, stub.topics, 2)
	assert.Equal(t, "carrier/c1/dispatch", stub.topics[0])
	assert.Equal(t, "carrier/c2/dispatch", stub.topics[1])

	var reminder reminderMessage
	require.NoError(t, json.Unmarshal(stub.payloads[0], &reminder))
	assert.Equal(t, 30, reminder.RemainingMinutes)
}

func TestPublishErrorSurfacesAfterRetries(t *testing.T) {
	n, stub := newStubNotifier(t)
	stub.pubErr = assert.AnError

	err := n.NotifyAssigned(context.Background(), model.Order{ID: "ord-1"}, &model.DispatchChain{ID: "ch-1"}, "c1")
	assert.Error(t, err)
	// Initial try plus the configured retries.
	assert.Len(t, stub.topics, 4)
}

// The final failed attempt must return without sleeping another backoff.
func TestPublishFailureReturnsWithoutTrailingBackoff(t *testing.T) {
	stub := &stubClient{pubErr: assert.AnError}
	orig := newMQTTClient
	newMQTTClient = func(*paho.ClientOptions) pahoClient { return stub }
	t.Cleanup(func() { newMQTTClient = orig })

	n, err := NewMQTTNotifier(MQTTConfig{Broker: "tcp://localhost:1883", MaxRetries: 2, BackoffMS: 40})
	require.NoError(t, err)

	// Retry sleeps are 40ms and 80ms; a trailing backoff would add 160ms more.
	start := time.Now()
	err = n.NotifyAssigned(context.Background(), model.Order{ID: "ord-1"}, &model.DispatchChain{ID: "ch-1"}, "c1")
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Len(t, stub.topics, 3)
	assert.Less(t, elapsed, 250*time.Millisecond)
}
