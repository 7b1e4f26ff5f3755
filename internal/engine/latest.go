package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"
)

// LatestStore keeps the most recent value seen per (tenant, device, metric).
// Composite rules read it to evaluate conditions on fields other than the
// one the triggering event updated.
type LatestStore interface {
	Set(ctx context.Context, tenantID, deviceID, metric string, value float64) error
	Get(ctx context.Context, tenantID, deviceID, metric string) (float64, bool, error)
}

// MemoryLatestStore is the in-process implementation, used in tests and in
// single-node deployments.
type MemoryLatestStore struct {
	mu     sync.RWMutex
	values map[string]float64
}

func NewMemoryLatestStore() *MemoryLatestStore {
	return &MemoryLatestStore{values: make(map[string]float64)}
}

func memoryKey(tenantID, deviceID, metric string) string {
	return tenantID + "|" + deviceID + "|" + metric
}

func (s *MemoryLatestStore) Set(_ context.Context, tenantID, deviceID, metric string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[memoryKey(tenantID, deviceID, metric)] = value
	return nil
}

func (s *MemoryLatestStore) Get(_ context.Context, tenantID, deviceID, metric string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[memoryKey(tenantID, deviceID, metric)]
	return v, ok, nil
}

// RedisLatestStore keeps one hash per device so every worker in a multi-node
// deployment observes the same latest values.
type RedisLatestStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisLatestStore(client *redis.Client, keyPrefix string) *RedisLatestStore {
	return &RedisLatestStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisLatestStore) key(tenantID, deviceID string) string {
	return fmt.Sprintf("%s%s:%s:latest", s.keyPrefix, tenantID, deviceID)
}

func (s *RedisLatestStore) Set(ctx context.Context, tenantID, deviceID, metric string, value float64) error {
	err := s.client.HSet(ctx, s.key(tenantID, deviceID), metric, value).Err()
	if err != nil {
		return fmt.Errorf("failed to set latest value: %w", err)
	}
	return nil
}

func (s *RedisLatestStore) Get(ctx context.Context, tenantID, deviceID, metric string) (float64, bool, error) {
	val, err := s.client.HGet(ctx, s.key(tenantID, deviceID), metric).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get latest value: %w", err)
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt latest value for %s/%s/%s: %w", tenantID, deviceID, metric, err)
	}
	return f, true, nil
}
