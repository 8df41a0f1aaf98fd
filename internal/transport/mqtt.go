package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// MQTT delivers messages by publishing to a per-user topic. Anything
// subscribed to <prefix>/users/<user>/messages — a dashboard, an
// automation hub, another bot — receives the same payload the user
// would see on a chat transport.
type MQTT struct {
	broker      string
	clientID    string
	topicPrefix string
	logger      *slog.Logger
	cm          *autopaho.ConnectionManager
}

// mqttMessage is the JSON payload published for each delivery.
type mqttMessage struct {
	UserID  string   `json:"user_id"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
	SentAt  string   `json:"sent_at"`
}

// NewMQTT creates an MQTT transport but does not connect. Call Start
// to begin the connection.
func NewMQTT(broker, clientID, topicPrefix string, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	if clientID == "" {
		clientID = "valet"
	}
	if topicPrefix == "" {
		topicPrefix = "valet"
	}
	return &MQTT{
		broker:      broker,
		clientID:    clientID,
		topicPrefix: topicPrefix,
		logger:      logger,
	}
}

func (m *MQTT) Name() string { return "mqtt" }

// Start connects to the MQTT broker. autopaho reconnects in the
// background on failure, so a slow broker does not block startup.
func (m *MQTT) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(m.broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		WillMessage: &paho.WillMessage{
			Topic:   m.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("mqtt connected to broker", "broker", m.broker)
			m.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.clientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		m.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (m *MQTT) Stop(ctx context.Context) error {
	if m.cm == nil {
		return nil
	}
	m.publishAvailability(ctx, m.cm, "offline")
	return m.cm.Disconnect(ctx)
}

// Send publishes the message to the user's topic.
func (m *MQTT) Send(ctx context.Context, userID, text string, actions []Action) error {
	if m.cm == nil {
		return fmt.Errorf("mqtt transport not started")
	}

	payload, err := json.Marshal(mqttMessage{
		UserID:  userID,
		Text:    RenderMessage(text, actions),
		Actions: actions,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal mqtt message: %w", err)
	}

	if _, err := m.cm.Publish(ctx, &paho.Publish{
		Topic:   m.userTopic(userID),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (m *MQTT) availabilityTopic() string {
	return m.topicPrefix + "/availability"
}

func (m *MQTT) userTopic(userID string) string {
	return m.topicPrefix + "/users/" + userID + "/messages"
}

func (m *MQTT) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		m.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	}
}
