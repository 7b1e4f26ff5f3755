package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"FleetAlertEngine/internal/config"
	"FleetAlertEngine/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const ProtocolMQTT = "mqtt"

// MQTTAdapter keeps one long-lived broker connection and turns telemetry
// publications into canonical events. Devices publish JSON payloads to
// devices/{deviceKey}/telemetry; the deviceKey segment is the credential.
type MQTTAdapter struct {
	client    mqtt.Client
	cfg       *config.MQTTConfig
	deps      Deps
	mu        sync.RWMutex
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewMQTTAdapter(deps Deps, cfg *config.Config) (Adapter, error) {
	if deps.Log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &MQTTAdapter{
		cfg:    &cfg.MQTT,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Broker, cfg.MQTT.Port))
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetKeepAlive(cfg.MQTT.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(cfg.MQTT.ConnectTimeout)
	opts.SetAutoReconnect(cfg.MQTT.AutoReconnect)
	opts.SetMaxReconnectInterval(2 * time.Minute)
	opts.SetCleanSession(true)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetOnConnectHandler(a.onConnect)
	opts.SetConnectionLostHandler(a.onConnectionLost)
	opts.SetReconnectingHandler(a.onReconnecting)

	a.client = mqtt.NewClient(opts)

	return a, nil
}

func (a *MQTTAdapter) Protocol() string { return ProtocolMQTT }

func (a *MQTTAdapter) Start(_ context.Context) error {
	a.deps.Log.Info("connecting to MQTT broker",
		zap.String("broker", a.cfg.Broker),
		zap.Int("port", a.cfg.Port),
	)

	token := a.client.Connect()
	if !token.WaitTimeout(a.cfg.ConnectTimeout) {
		return fmt.Errorf("connection timeout after %v", a.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()

	return a.subscribe()
}

func (a *MQTTAdapter) Stop() error {
	a.cancel()

	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()

	a.client.Disconnect(250)
	a.deps.Log.Info("disconnected from MQTT broker")
	return nil
}

func (a *MQTTAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected && a.client.IsConnected()
}

func (a *MQTTAdapter) subscribe() error {
	token := a.client.Subscribe(a.cfg.TelemetryTopic, a.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		a.handleTelemetry(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic: %s", a.cfg.TelemetryTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe failed for topic %s: %w", a.cfg.TelemetryTopic, err)
	}

	a.deps.Log.Info("subscribed to telemetry topic", zap.String("topic", a.cfg.TelemetryTopic))
	return nil
}

// handleTelemetry is the per-message path. A bad credential or payload
// drops the message and keeps the connection.
func (a *MQTTAdapter) handleTelemetry(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()

	deviceKey := topicSegment(topic, 1)
	identity, err := a.Authenticate(ctx, Credentials{DeviceKey: deviceKey})
	if err != nil {
		a.deps.Metrics.AuthFailures.WithLabelValues(ProtocolMQTT).Inc()
		a.deps.Log.Warn("dropping message with unresolvable credential",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}

	dataModel, err := a.deps.DataModels.DataModel(ctx, identity.TenantID, identity.DeviceID)
	if err != nil {
		a.deps.Metrics.ParseFailures.WithLabelValues(ProtocolMQTT).Inc()
		a.deps.Log.Error("failed to load device data model",
			zap.String("device_id", identity.DeviceID),
			zap.Error(err),
		)
		return
	}

	events, err := a.Parse(identity, dataModel, payload)
	if err != nil {
		a.deps.Metrics.ParseFailures.WithLabelValues(ProtocolMQTT).Inc()
		a.deps.Log.Warn("dropping unparseable payload",
			zap.String("device_id", identity.DeviceID),
			zap.Error(err),
		)
		return
	}

	for _, event := range events {
		if err := a.deps.Sink.Submit(ctx, event); err != nil {
			a.deps.Log.Error("failed to submit event",
				zap.String("device_id", event.DeviceID),
				zap.String("metric", event.Metric),
				zap.Error(err),
			)
			continue
		}
		a.deps.Metrics.EventsIngested.WithLabelValues(ProtocolMQTT).Inc()
	}
}

func (a *MQTTAdapter) Authenticate(ctx context.Context, creds Credentials) (models.DeviceIdentity, error) {
	if creds.DeviceKey == "" {
		return models.DeviceIdentity{}, &AuthError{Protocol: ProtocolMQTT, Reason: fmt.Errorf("empty device key")}
	}
	identity, err := a.deps.Resolver.ResolveDeviceKey(ctx, creds.DeviceKey)
	if err != nil {
		return models.DeviceIdentity{}, &AuthError{Protocol: ProtocolMQTT, Reason: err}
	}
	return identity, nil
}

// Parse decodes a JSON telemetry publication. The optional "ts" member is
// an epoch-seconds observation time; every other member is a metric
// candidate validated against the data model.
func (a *MQTTAdapter) Parse(identity models.DeviceIdentity, dataModel models.DeviceDataModel, payload []byte) ([]models.CanonicalEvent, error) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &ParseError{Protocol: ProtocolMQTT, Reason: err}
	}

	observedAt := time.Now()
	if ts, ok := decoded["ts"].(float64); ok {
		observedAt = time.Unix(int64(ts), 0)
	}
	delete(decoded, "ts")

	events, _ := a.deps.Normalizer.Normalize(identity, dataModel, decoded, observedAt)
	return events, nil
}

// Publish sends a downlink command to the device's command topic.
func (a *MQTTAdapter) Publish(_ context.Context, cmd models.Command) error {
	if !a.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	topic := fmt.Sprintf(a.cfg.CommandTopic, cmd.DeviceID)
	token := a.client.Publish(topic, a.cfg.QoS, a.cfg.RetainMessages, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic: %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed for topic %s: %w", topic, err)
	}
	return nil
}

func (a *MQTTAdapter) onConnect(_ mqtt.Client) {
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()

	a.deps.Log.Info("MQTT connection established")

	// Re-subscribe after every (re)connect; paho does not restore
	// subscriptions on a clean session.
	if err := a.subscribe(); err != nil {
		a.deps.Log.Error("failed to re-subscribe", zap.Error(err))
	}
}

func (a *MQTTAdapter) onConnectionLost(_ mqtt.Client, err error) {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()

	a.deps.Log.Error("MQTT connection lost", zap.Error(err))
}

func (a *MQTTAdapter) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	a.deps.Log.Warn("attempting to reconnect to MQTT broker")
}

// topicSegment returns the nth slash-separated topic level, or "".
func topicSegment(topic string, n int) string {
	parts := splitTopic(topic)
	if n < 0 || n >= len(parts) {
		return ""
	}
	return parts[n]
}

func splitTopic(topic string) []string {
	parts := []string{}
	current := ""
	for _, c := range topic {
		if c == '/' {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
		} else {
			current += string(c)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}
