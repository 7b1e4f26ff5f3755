// Package notify holds the channel services: protocol-specific senders
// behind one uniform send contract.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"FleetAlertEngine/internal/models"
)

// Delivery failure kinds.
const (
	FailureAuthentication = "authentication_failed"
	FailureTransport      = "transport_error"
	FailureValidation     = "validation_error"
)

// DeliveryError is a typed per-channel send failure. It never propagates
// past the dispatcher boundary; the dispatcher records it and moves on.
type DeliveryError struct {
	Channel    string
	Kind       string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery failed (%s, status %d): %v", e.Channel, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s delivery failed (%s): %v", e.Channel, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Message is the rendered notification content for one fired alert.
type Message struct {
	Subject string
	Body    string
	Event   models.AlertEvent
}

// Sender delivers one message through one channel type. Config is the
// channel's opaque settings blob; each sender unmarshals its own shape.
type Sender interface {
	Type() string
	Send(ctx context.Context, config json.RawMessage, msg Message) error
}

// Registry maps channel types to senders. Populated once at startup;
// concurrent lookups afterwards.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]Sender)}
}

func (r *Registry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Type()] = s
}

// For returns the sender for a channel type. An unsupported type is a
// recorded channel failure, not a crash.
func (r *Registry) For(channelType string) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[channelType]
	if !ok {
		return nil, &DeliveryError{
			Channel: channelType,
			Kind:    FailureValidation,
			Err:     fmt.Errorf("no sender registered for channel type %q", channelType),
		}
	}
	return s, nil
}
