package adapter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"FleetAlertEngine/internal/config"
	"FleetAlertEngine/internal/metrics"
	"FleetAlertEngine/internal/models"
	"FleetAlertEngine/internal/normalizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeResolver resolves a fixed set of credentials.
type fakeResolver struct {
	byKey map[string]models.DeviceIdentity
	byEUI map[string]models.DeviceIdentity
}

func (r *fakeResolver) ResolveDeviceKey(_ context.Context, key string) (models.DeviceIdentity, error) {
	id, ok := r.byKey[key]
	if !ok {
		return models.DeviceIdentity{}, fmt.Errorf("no device for key")
	}
	return id, nil
}

func (r *fakeResolver) ResolveDevEUI(_ context.Context, devEUI string) (models.DeviceIdentity, error) {
	id, ok := r.byEUI[devEUI]
	if !ok {
		return models.DeviceIdentity{}, fmt.Errorf("no device for DevEUI")
	}
	return id, nil
}

type fakeDataModels struct {
	dm models.DeviceDataModel
}

func (p *fakeDataModels) DataModel(_ context.Context, _, _ string) (models.DeviceDataModel, error) {
	return p.dm, nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []models.CanonicalEvent
}

func (s *fakeSink) Submit(_ context.Context, event models.CanonicalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func floatPtr(v float64) *float64 { return &v }

func testDeps() Deps {
	return Deps{
		Resolver: &fakeResolver{
			byKey: map[string]models.DeviceIdentity{
				"key-1": {TenantID: "t-1", DeviceID: "d-1"},
			},
			byEUI: map[string]models.DeviceIdentity{
				"0004A30B001C0530": {TenantID: "t-1", DeviceID: "d-1"},
			},
		},
		DataModels: &fakeDataModels{dm: models.DeviceDataModel{
			DeviceTypeID: "sensor-v2",
			Fields: []models.DataModelField{
				{Name: "temperature", Type: models.FieldTypeFloat, Min: floatPtr(-40), Max: floatPtr(120)},
				{Name: "humidity", Type: models.FieldTypeFloat},
				{Name: "rpm", Type: models.FieldTypeInt},
			},
		}},
		Normalizer: normalizer.New(zap.NewNop()),
		Sink:       &fakeSink{},
		Log:        zap.NewNop(),
		Metrics:    metrics.NewNop(),
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Security: config.SecurityConfig{DeviceTokenSecret: "test-secret"},
		MQTT: config.MQTTConfig{
			Broker:         "localhost",
			Port:           1883,
			ClientID:       "test",
			TelemetryTopic: "devices/+/telemetry",
			CommandTopic:   "devices/%s/cmd",
			ConnectTimeout: time.Second,
			KeepAlive:      time.Minute,
		},
	}
}

func TestRegistryUnknownProtocol(t *testing.T) {
	r := NewRegistry()
	r.Register(ProtocolHTTP, NewHTTPAdapter)

	_, err := r.Create("coap", testDeps(), testConfig())
	var unknown *UnknownProtocolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "coap", unknown.Protocol)
}

func TestRegistryCreateAndList(t *testing.T) {
	r := NewRegistry()
	r.Register(ProtocolHTTP, NewHTTPAdapter)
	r.Register(ProtocolLoRaWAN, NewLoRaWANAdapter)

	a, err := r.Create(ProtocolHTTP, testDeps(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, ProtocolHTTP, a.Protocol())

	assert.ElementsMatch(t, []string{ProtocolHTTP, ProtocolLoRaWAN}, r.Protocols())
}

func TestTopicSegment(t *testing.T) {
	assert.Equal(t, "key-1", topicSegment("devices/key-1/telemetry", 1))
	assert.Equal(t, "devices", topicSegment("devices/key-1/telemetry", 0))
	assert.Equal(t, "", topicSegment("devices/key-1/telemetry", 5))
	assert.Equal(t, "", topicSegment("", 0))
}

func TestMQTTParseJSONPayload(t *testing.T) {
	deps := testDeps()
	a, err := NewMQTTAdapter(deps, testConfig())
	require.NoError(t, err)

	identity := models.DeviceIdentity{TenantID: "t-1", DeviceID: "d-1"}
	dm, _ := deps.DataModels.DataModel(context.Background(), "t-1", "d-1")

	events, err := a.Parse(identity, dm, []byte(`{"temperature": 21.5, "rpm": 1200, "ts": 1767225600}`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "temperature", events[0].Metric)
	assert.Equal(t, 21.5, events[0].Value)
	assert.Equal(t, time.Unix(1767225600, 0), events[0].ObservedAt)

	_, err = a.Parse(identity, dm, []byte(`not json`))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, ProtocolMQTT, parseErr.Protocol)
}

func TestMQTTAuthenticate(t *testing.T) {
	a, err := NewMQTTAdapter(testDeps(), testConfig())
	require.NoError(t, err)

	identity, err := a.Authenticate(context.Background(), Credentials{DeviceKey: "key-1"})
	require.NoError(t, err)
	assert.Equal(t, "d-1", identity.DeviceID)

	_, err = a.Authenticate(context.Background(), Credentials{DeviceKey: "wrong"})
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)

	_, err = a.Authenticate(context.Background(), Credentials{})
	require.ErrorAs(t, err, &authErr)
}
