// Package adapter terminates the wire protocols. Each adapter authenticates
// the originating device, decodes its payload encoding, and emits canonical
// events into the pipeline through the shared sink.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"FleetAlertEngine/internal/config"
	"FleetAlertEngine/internal/metrics"
	"FleetAlertEngine/internal/models"
	"FleetAlertEngine/internal/normalizer"

	"go.uber.org/zap"
)

// ErrPublishUnsupported is returned by adapters without a downlink path.
var ErrPublishUnsupported = errors.New("adapter has no downlink channel")

// AuthError marks a credential that did not resolve to exactly one device.
// Adapters translate it into a per-message rejection, not a connection drop.
type AuthError struct {
	Protocol string
	Reason   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Protocol, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Reason }

// ParseError marks a payload the adapter could not decode. The event is
// dropped and ingestion continues.
type ParseError struct {
	Protocol string
	Reason   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s payload parse failed: %v", e.Protocol, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Reason }

// UnknownProtocolError is a configuration error, fatal at registry
// construction time only.
type UnknownProtocolError struct {
	Protocol string
}

func (e *UnknownProtocolError) Error() string {
	return fmt.Sprintf("unknown protocol %q", e.Protocol)
}

// Credentials carries the wire-level identity material an adapter receives.
// Each protocol populates the fields it uses.
type Credentials struct {
	// DeviceKey is the per-device secret embedded in MQTT topics.
	DeviceKey string
	// Token is the signed device token presented on HTTP ingestion.
	Token string
	// DevEUI identifies a LoRaWAN device via the network-server bridge.
	DevEUI string
}

// CredentialResolver maps wire-level identity to a device. Consumed from
// the device registry, which this core does not own.
type CredentialResolver interface {
	ResolveDeviceKey(ctx context.Context, key string) (models.DeviceIdentity, error)
	ResolveDevEUI(ctx context.Context, devEUI string) (models.DeviceIdentity, error)
}

// DataModelProvider returns the declared data model for a device. Read-only
// from this core's perspective.
type DataModelProvider interface {
	DataModel(ctx context.Context, tenantID, deviceID string) (models.DeviceDataModel, error)
}

// EventSink accepts canonical events for evaluation. Implemented by the
// pipeline; adapters never block on evaluation beyond queue admission.
type EventSink interface {
	Submit(ctx context.Context, event models.CanonicalEvent) error
}

// Deps is the dependency set shared by all adapters.
type Deps struct {
	Resolver   CredentialResolver
	DataModels DataModelProvider
	Normalizer *normalizer.Normalizer
	Sink       EventSink
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

// Adapter is the capability set every protocol implements. Start/Stop own
// the transport lifecycle; Authenticate and Parse are the per-message path;
// Publish is the downlink channel where the protocol has one.
type Adapter interface {
	Protocol() string
	Start(ctx context.Context) error
	Stop() error
	Authenticate(ctx context.Context, creds Credentials) (models.DeviceIdentity, error)
	Parse(identity models.DeviceIdentity, dataModel models.DeviceDataModel, payload []byte) ([]models.CanonicalEvent, error)
	Publish(ctx context.Context, cmd models.Command) error
}

// Constructor builds one adapter instance from the shared dependency set
// and the process configuration.
type Constructor func(deps Deps, cfg *config.Config) (Adapter, error)

// Registry maps protocol identifiers to adapter constructors. Built once at
// startup by the process entry point; safe for concurrent lookups after.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

func (r *Registry) Register(protocolID string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[protocolID] = ctor
}

// Create builds an adapter for the given protocol.
func (r *Registry) Create(protocolID string, deps Deps, cfg *config.Config) (Adapter, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[protocolID]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownProtocolError{Protocol: protocolID}
	}
	return ctor(deps, cfg)
}

// Protocols returns the registered protocol identifiers.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.constructors))
	for id := range r.constructors {
		ids = append(ids, id)
	}
	return ids
}
