// Package dispatch fans a fired alert out to its bound channels on a
// bounded worker pool, so a slow channel never stalls ingestion.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"FleetAlertEngine/internal/metrics"
	"FleetAlertEngine/internal/models"
	"FleetAlertEngine/internal/notify"

	"go.uber.org/zap"
)

// BindingSource resolves the enabled channels bound to a rule through its
// notification rules.
type BindingSource interface {
	ChannelsForRule(ctx context.Context, tenantID, ruleID string) ([]models.NotificationChannel, error)
}

// Outcome is one send attempt's result, recorded for audit after every
// attempt regardless of success.
type Outcome struct {
	AlertEventID string
	ChannelID    string
	ChannelType  string
	Success      bool
	Error        string
	AttemptedAt  time.Time
}

// OutcomeRecorder persists send outcomes. Implemented by the alert-event
// repository; this core never reads the audit trail back.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome Outcome) error
}

// Broadcaster pushes fired alerts to live subscribers (the websocket hub).
type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
}

type task struct {
	channel models.NotificationChannel
	message notify.Message
}

type Dispatcher struct {
	bindings    BindingSource
	senders     *notify.Registry
	outcomes    OutcomeRecorder
	hub         Broadcaster
	tasks       chan task
	workers     int
	sendTimeout time.Duration
	log         *zap.Logger
	metrics     *metrics.Metrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

func New(
	bindings BindingSource,
	senders *notify.Registry,
	outcomes OutcomeRecorder,
	hub Broadcaster,
	cfg Config,
	log *zap.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		bindings:    bindings,
		senders:     senders,
		outcomes:    outcomes,
		hub:         hub,
		tasks:       make(chan task, cfg.QueueSize),
		workers:     cfg.Workers,
		sendTimeout: cfg.SendTimeout,
		log:         log,
		metrics:     m,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.log.Info("notification dispatcher started", zap.Int("workers", d.workers))
}

// Stop cancels the workers and waits for in-flight sends to finish.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Dispatch resolves the rule's enabled channel bindings and enqueues one
// send task per channel. Fire-and-forget from the caller's perspective:
// queue-full drops are counted, never blocked on.
func (d *Dispatcher) Dispatch(ctx context.Context, rule models.AlertRule, event models.AlertEvent) {
	if d.hub != nil {
		d.hub.Broadcast("ALERT", event)
	}

	channels, err := d.bindings.ChannelsForRule(ctx, rule.TenantID, rule.ID)
	if err != nil {
		d.log.Error("failed to resolve channel bindings",
			zap.String("rule_id", rule.ID),
			zap.Error(err),
		)
		return
	}

	msg := buildMessage(rule, event)
	for _, ch := range channels {
		if !ch.Enabled {
			continue
		}
		select {
		case d.tasks <- task{channel: ch, message: msg}:
		default:
			d.metrics.DispatchDropped.Inc()
			d.log.Warn("dispatch queue full, dropping task",
				zap.String("rule_id", rule.ID),
				zap.String("channel_id", ch.ID),
			)
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			d.send(ctx, t)
		}
	}
}

// send makes one attempt against one channel. Channel failures are recorded
// and do not affect other channels; there is no synchronous retry.
func (d *Dispatcher) send(ctx context.Context, t task) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	var sendErr error
	sender, err := d.senders.For(t.channel.Type)
	if err != nil {
		sendErr = err
	} else {
		sendErr = sender.Send(sendCtx, t.channel.Config, t.message)
	}

	attemptedAt := time.Now()
	if sendErr != nil {
		d.metrics.NotificationsFailed.WithLabelValues(t.channel.Type).Inc()
		d.log.Error("channel send failed",
			zap.String("channel_id", t.channel.ID),
			zap.String("channel_type", t.channel.Type),
			zap.String("alert_event_id", t.message.Event.ID),
			zap.Error(sendErr),
		)
	} else {
		d.metrics.NotificationsSent.WithLabelValues(t.channel.Type).Inc()
	}

	outcome := Outcome{
		AlertEventID: t.message.Event.ID,
		ChannelID:    t.channel.ID,
		ChannelType:  t.channel.Type,
		Success:      sendErr == nil,
		AttemptedAt:  attemptedAt,
	}
	if sendErr != nil {
		outcome.Error = sendErr.Error()
	}

	// Recording uses the parent context: the audit write should not be
	// abandoned just because the send itself timed out.
	if err := d.outcomes.RecordOutcome(ctx, outcome); err != nil {
		d.log.Error("failed to record notification outcome",
			zap.String("channel_id", t.channel.ID),
			zap.Error(err),
		)
	}
}

func buildMessage(rule models.AlertRule, event models.AlertEvent) notify.Message {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(rule.Severity), rule.Name)
	body := fmt.Sprintf("%s\n\nDevice: %s\nMetric: %s = %g\nFired at: %s",
		event.Message,
		event.DeviceID,
		event.MetricName,
		event.MetricValue,
		event.FiredAt.Format(time.RFC3339),
	)
	return notify.Message{Subject: subject, Body: body, Event: event}
}
