// Package pipeline connects ingestion to evaluation and dispatch. Events
// are sharded by device onto FIFO queues with one worker per shard, so
// events from the same device are processed in arrival order while tenants
// cannot head-of-line block each other across shards.
package pipeline

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"FleetAlertEngine/internal/alarm"
	"FleetAlertEngine/internal/cooldown"
	"FleetAlertEngine/internal/dispatch"
	"FleetAlertEngine/internal/engine"
	"FleetAlertEngine/internal/metrics"
	"FleetAlertEngine/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertEventStore persists the append-only fire log. Implemented by the
// alert-event repository.
type AlertEventStore interface {
	Create(ctx context.Context, event *models.AlertEvent) error
}

type Config struct {
	Shards    int
	QueueSize int
}

type Pipeline struct {
	shards     []chan models.CanonicalEvent
	engine     *engine.Engine
	suppressor cooldown.Suppressor
	alarms     *alarm.Manager
	dispatcher *dispatch.Dispatcher
	events     AlertEventStore
	log        *zap.Logger
	metrics    *metrics.Metrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(
	eng *engine.Engine,
	suppressor cooldown.Suppressor,
	alarms *alarm.Manager,
	dispatcher *dispatch.Dispatcher,
	events AlertEventStore,
	cfg Config,
	log *zap.Logger,
	m *metrics.Metrics,
) *Pipeline {
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}

	shards := make([]chan models.CanonicalEvent, cfg.Shards)
	for i := range shards {
		shards[i] = make(chan models.CanonicalEvent, cfg.QueueSize)
	}

	return &Pipeline{
		shards:     shards,
		engine:     eng,
		suppressor: suppressor,
		alarms:     alarms,
		dispatcher: dispatcher,
		events:     events,
		log:        log,
		metrics:    m,
	}
}

// Start launches one worker per shard.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := range p.shards {
		p.wg.Add(1)
		go p.worker(ctx, p.shards[i])
	}
	p.log.Info("evaluation pipeline started", zap.Int("shards", len(p.shards)))
}

// Stop cancels the workers and waits for them to drain.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Submit routes an event to its device shard. Blocks when the shard queue
// is full so ingestion sees backpressure instead of silent loss.
func (p *Pipeline) Submit(ctx context.Context, event models.CanonicalEvent) error {
	shard := p.shards[shardFor(event.TenantID, event.DeviceID, len(p.shards))]
	select {
	case shard <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shardFor(tenantID, deviceID string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	h.Write([]byte{'|'})
	h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(shards))
}

func (p *Pipeline) worker(ctx context.Context, shard <-chan models.CanonicalEvent) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-shard:
			p.process(ctx, event)
		}
	}
}

// process runs one evaluation pass and, for each admitted fire, writes the
// AlertEvent, opens or refreshes the alarm, and hands dispatch off to the
// notification pool. Evaluation never waits on a channel send.
func (p *Pipeline) process(ctx context.Context, event models.CanonicalEvent) {
	for _, result := range p.engine.Evaluate(ctx, event) {
		if !result.Fired {
			continue
		}
		p.fire(ctx, result, event)
	}
}

func (p *Pipeline) fire(ctx context.Context, result engine.Result, event models.CanonicalEvent) {
	rule := result.Rule
	now := time.Now()

	allowed, err := p.suppressor.TryFire(ctx, rule.ID, rule.Cooldown(), now)
	if err != nil {
		p.log.Error("cooldown check failed",
			zap.String("rule_id", rule.ID),
			zap.Error(err),
		)
		return
	}
	if !allowed {
		p.metrics.FiresSuppressed.Inc()
		p.log.Debug("fire suppressed inside cooldown window",
			zap.String("rule_id", rule.ID),
			zap.String("device_id", event.DeviceID),
		)
		return
	}
	p.metrics.FiresAdmitted.Inc()

	alertEvent := models.AlertEvent{
		ID:          uuid.New().String(),
		TenantID:    event.TenantID,
		AlertRuleID: rule.ID,
		DeviceID:    event.DeviceID,
		MetricName:  event.Metric,
		MetricValue: event.Value,
		Message:     result.Message,
		Severity:    rule.Severity,
		FiredAt:     now,
	}
	if err := p.events.Create(ctx, &alertEvent); err != nil {
		p.log.Error("failed to persist alert event",
			zap.String("rule_id", rule.ID),
			zap.Error(err),
		)
		// The fire was admitted; still raise the alarm and notify.
	}

	if _, _, err := p.alarms.RecordFire(ctx, event.TenantID, rule.ID, event.DeviceID, now, result.Message); err != nil {
		p.log.Error("failed to record alarm",
			zap.String("rule_id", rule.ID),
			zap.Error(err),
		)
	}

	p.dispatcher.Dispatch(ctx, rule, alertEvent)

	p.log.Info("alert fired",
		zap.String("rule_id", rule.ID),
		zap.String("rule_name", rule.Name),
		zap.String("severity", rule.Severity),
		zap.String("device_id", event.DeviceID),
		zap.String("metric", event.Metric),
		zap.Float64("value", event.Value),
	)
}
