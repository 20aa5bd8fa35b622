package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/fluxfret/cascade/core/chain"
	"github.com/fluxfret/cascade/core/model"
	"github.com/fluxfret/cascade/infra/logger"
)

// MQTTConfig defines the connection parameters for the Paho MQTT notifier.
type MQTTConfig struct {
	Broker     string `json:"broker"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	TopicRoot  string `json:"topic_root"`
	QoS        byte   `json:"qos"`
	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`
	MaxRetries int    `json:"max_retries"`
	BackoffMS  int    `json:"backoff_ms"`
}

// SetDefaults fills zero values with sane defaults.
func (c *MQTTConfig) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "cascade-dispatch"
	}
	if c.TopicRoot == "" {
		c.TopicRoot = "carrier"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c MQTTConfig) LoadTLSConfig() (*tls.Config, error) {
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MQTTNotifier implements chain.Notifier over an Eclipse Paho client. Each
// carrier gets its own topic under the configured root.
type MQTTNotifier struct {
	cli        pahoClient
	topicRoot  string
	qos        byte
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// NewMQTTNotifier connects to the broker and returns a ready notifier.
func NewMQTTNotifier(cfg MQTTConfig) (*MQTTNotifier, error) {
	cfg.SetDefaults()
	log := logger.New("mqtt_notifier")
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	opts.OnConnect = func(paho.Client) { log.Infof("MQTT connected") }
	opts.OnConnectionLost = func(_ paho.Client, err error) { log.Errorf("connection lost: %v", err) }
	opts.OnReconnecting = func(paho.Client, *paho.ClientOptions) { log.Warnf("reconnecting to MQTT broker") }

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &MQTTNotifier{
		cli:        c,
		topicRoot:  cfg.TopicRoot,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		log:        log,
	}, nil
}

type offerMessage struct {
	Kind       string   `json:"kind"`
	OrderID    string   `json:"order_id"`
	ChainID    string   `json:"chain_id"`
	Position   int      `json:"position"`
	PickupCity string   `json:"pickup_city"`
	Deadline   string   `json:"deadline"`
	Channels   []string `json:"channels,omitempty"`
}

type reminderMessage struct {
	Kind             string `json:"kind"`
	OrderID          string `json:"order_id"`
	ChainID          string `json:"chain_id"`
	RemainingMinutes int    `json:"remaining_minutes"`
}

type assignmentMessage struct {
	Kind    string `json:"kind"`
	OrderID string `json:"order_id"`
	ChainID string `json:"chain_id"`
}

// NotifyAttempt publishes an offer to the carrier's topic.
func (n *MQTTNotifier) NotifyAttempt(_ context.Context, order model.Order, ch *model.DispatchChain, attempt model.DispatchAttempt, deadline time.Time) error {
	msg := offerMessage{
		Kind:       "offer",
		OrderID:    order.ID,
		ChainID:    ch.ID,
		Position:   attempt.Position,
		PickupCity: order.PickupCity,
		Deadline:   deadline.Format(time.RFC3339),
		Channels:   attempt.Channels,
	}
	return n.publish(attempt.CarrierID, msg)
}

// NotifyReminder publishes a mid-window reminder to the carrier's topic.
func (n *MQTTNotifier) NotifyReminder(_ context.Context, order model.Order, ch *model.DispatchChain, attempt model.DispatchAttempt, remaining time.Duration) error {
	msg := reminderMessage{
		Kind:             "reminder",
		OrderID:          order.ID,
		ChainID:          ch.ID,
		RemainingMinutes: int(remaining.Minutes()),
	}
	return n.publish(attempt.CarrierID, msg)
}

// NotifyAssigned publishes an assignment notice to the winning carrier.
func (n *MQTTNotifier) NotifyAssigned(_ context.Context, order model.Order, ch *model.DispatchChain, carrierID string) error {
	msg := assignmentMessage{Kind: "assignment", OrderID: order.ID, ChainID: ch.ID}
	return n.publish(carrierID, msg)
}

func (n *MQTTNotifier) publish(carrierID string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s/dispatch", n.topicRoot, carrierID)
	var publishErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(n.backoff * time.Duration(1<<(attempt-1)))
		}
		token := n.cli.Publish(topic, n.qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			n.log.Infof("published to %s", topic)
			return nil
		}
		n.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
	}
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (n *MQTTNotifier) Disconnect() {
	if n.cli != nil && n.cli.IsConnected() {
		n.cli.Disconnect(250)
	}
}

var _ chain.Notifier = (*MQTTNotifier)(nil)
