package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"FleetAlertEngine/internal/metrics"
	"FleetAlertEngine/internal/models"
	"FleetAlertEngine/internal/notify"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBindings struct {
	channels []models.NotificationChannel
}

func (f *fakeBindings) ChannelsForRule(_ context.Context, _, _ string) ([]models.NotificationChannel, error) {
	return f.channels, nil
}

// fakeSender records the messages it delivered and fails on demand.
type fakeSender struct {
	channelType string
	fail        bool

	mu   sync.Mutex
	sent []notify.Message
}

func (f *fakeSender) Type() string { return f.channelType }

func (f *fakeSender) Send(_ context.Context, _ json.RawMessage, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return &notify.DeliveryError{Channel: f.channelType, Kind: notify.FailureTransport}
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// outcomeCollector funnels recorded outcomes to the test goroutine.
type outcomeCollector struct {
	outcomes chan Outcome
}

func (c *outcomeCollector) RecordOutcome(_ context.Context, o Outcome) error {
	c.outcomes <- o
	return nil
}

func channel(id, channelType string, enabled bool) models.NotificationChannel {
	return models.NotificationChannel{
		ID:       id,
		TenantID: "t-1",
		Type:     channelType,
		Config:   json.RawMessage(`{}`),
		Enabled:  enabled,
	}
}

func testRule() models.AlertRule {
	return models.AlertRule{
		ID:              "r-1",
		TenantID:        "t-1",
		Name:            "engine temp high",
		Severity:        models.SeverityCritical,
		Enabled:         true,
		CooldownMinutes: 5,
		RuleType:        models.RuleTypeThreshold,
		Threshold: &models.ThresholdSpec{
			DeviceID: "d-1", Metric: "temperature", Operator: models.OpGT, Threshold: 90,
		},
	}
}

func testEvent() models.AlertEvent {
	return models.AlertEvent{
		ID:          "ev-1",
		TenantID:    "t-1",
		AlertRuleID: "r-1",
		DeviceID:    "d-1",
		MetricName:  "temperature",
		MetricValue: 95,
		Message:     "engine temp high: temperature gt 90 (observed 95)",
		Severity:    models.SeverityCritical,
		FiredAt:     time.Now(),
	}
}

func collectOutcomes(t *testing.T, c *outcomeCollector, n int) map[string]Outcome {
	t.Helper()
	got := make(map[string]Outcome, n)
	for i := 0; i < n; i++ {
		select {
		case o := <-c.outcomes:
			got[o.ChannelID] = o
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for outcome %d of %d", i+1, n)
		}
	}
	return got
}

func TestDispatchFansOutAndIsolatesFailures(t *testing.T) {
	okSender := &fakeSender{channelType: "email"}
	badSender := &fakeSender{channelType: "slack", fail: true}
	okSender2 := &fakeSender{channelType: "webhook"}

	senders := notify.NewRegistry()
	senders.Register(okSender)
	senders.Register(badSender)
	senders.Register(okSender2)

	bindings := &fakeBindings{channels: []models.NotificationChannel{
		channel("ch-email", "email", true),
		channel("ch-slack", "slack", true),
		channel("ch-webhook", "webhook", true),
	}}
	collector := &outcomeCollector{outcomes: make(chan Outcome, 8)}

	d := New(bindings, senders, collector, nil, Config{Workers: 2, QueueSize: 8}, zap.NewNop(), metrics.NewNop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop()

	d.Dispatch(ctx, testRule(), testEvent())

	got := collectOutcomes(t, collector, 3)

	assert.True(t, got["ch-email"].Success)
	assert.True(t, got["ch-webhook"].Success)
	assert.False(t, got["ch-slack"].Success)
	assert.NotEmpty(t, got["ch-slack"].Error)

	// The failed channel did not keep the healthy ones from delivering.
	assert.Equal(t, 1, okSender.sentCount())
	assert.Equal(t, 1, okSender2.sentCount())

	for _, o := range got {
		assert.Equal(t, "ev-1", o.AlertEventID)
	}
}

func TestDispatchSkipsDisabledChannels(t *testing.T) {
	sender := &fakeSender{channelType: "email"}
	senders := notify.NewRegistry()
	senders.Register(sender)

	bindings := &fakeBindings{channels: []models.NotificationChannel{
		channel("ch-on", "email", true),
		channel("ch-off", "email", false),
	}}
	collector := &outcomeCollector{outcomes: make(chan Outcome, 8)}

	d := New(bindings, senders, collector, nil, Config{Workers: 1, QueueSize: 8}, zap.NewNop(), metrics.NewNop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop()

	d.Dispatch(ctx, testRule(), testEvent())

	got := collectOutcomes(t, collector, 1)
	_, ok := got["ch-on"]
	assert.True(t, ok)

	select {
	case o := <-collector.outcomes:
		t.Fatalf("unexpected outcome for %s", o.ChannelID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatchUnknownChannelTypeRecordsFailure(t *testing.T) {
	senders := notify.NewRegistry()

	bindings := &fakeBindings{channels: []models.NotificationChannel{
		channel("ch-sms", "sms", true),
	}}
	collector := &outcomeCollector{outcomes: make(chan Outcome, 8)}

	d := New(bindings, senders, collector, nil, Config{Workers: 1, QueueSize: 8}, zap.NewNop(), metrics.NewNop())
	ctx := context.Background()
	d.Start(ctx)
	defer d.Stop()

	d.Dispatch(ctx, testRule(), testEvent())

	got := collectOutcomes(t, collector, 1)
	require.Contains(t, got, "ch-sms")
	assert.False(t, got["ch-sms"].Success)
}

func TestDispatchFullQueueDropsInsteadOfBlocking(t *testing.T) {
	senders := notify.NewRegistry()
	senders.Register(&fakeSender{channelType: "email"})

	bindings := &fakeBindings{channels: []models.NotificationChannel{
		channel("ch-1", "email", true),
		channel("ch-2", "email", true),
		channel("ch-3", "email", true),
	}}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	collector := &outcomeCollector{outcomes: make(chan Outcome, 8)}

	// Workers never started: the queue holds one task and the rest must drop.
	d := New(bindings, senders, collector, nil, Config{Workers: 1, QueueSize: 1}, zap.NewNop(), m)

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), testRule(), testEvent())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DispatchDropped))
}
