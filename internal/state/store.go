// Package state persists per-node lifecycle state between cstar runs.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/cstar/pkg/cluster"
)

// Record is the last known state of one node.
type Record struct {
	Host       string            `json:"host"`
	State      cluster.NodeState `json:"state"`
	RevisionID string            `json:"revision_id,omitempty"`
	Error      string            `json:"error,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Store persists node records for a cluster. A host with no record is
// Unprovisioned.
type Store interface {
	Get(ctx context.Context, clusterKey, host string) (Record, error)
	Put(ctx context.Context, clusterKey string, r Record) error
	List(ctx context.Context, clusterKey string) ([]Record, error)
	Clear(ctx context.Context, clusterKey string) error
}

func unprovisioned(host string) Record {
	return Record{Host: host, State: cluster.StateUnprovisioned}
}

// RedisStore keeps records in Redis and publishes every change.
// Safe for concurrent use.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore wraps an existing client. The caller owns rdb.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, clusterKey, host string) (Record, error) {
	data, err := s.rdb.HGet(ctx, NodesKey(clusterKey), host).Result()
	if errors.Is(err, redis.Nil) {
		return unprovisioned(host), nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read state of %s: %w", host, err)
	}

	var r Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return Record{}, fmt.Errorf("failed to decode state of %s: %w", host, err)
	}
	return r, nil
}

// Put writes the record and publishes it to the cluster's event channel.
func (s *RedisStore) Put(ctx context.Context, clusterKey string, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := s.rdb.HSet(ctx, NodesKey(clusterKey), r.Host, data).Err(); err != nil {
		return fmt.Errorf("failed to write state of %s: %w", r.Host, err)
	}
	if err := s.rdb.Publish(ctx, EventsChannel(clusterKey), data).Err(); err != nil {
		return fmt.Errorf("failed to publish state event: %w", err)
	}
	return nil
}

// List implements Store. Records are sorted by host.
func (s *RedisStore) List(ctx context.Context, clusterKey string) ([]Record, error) {
	hash, err := s.rdb.HGetAll(ctx, NodesKey(clusterKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list node states: %w", err)
	}

	out := make([]Record, 0, len(hash))
	for host, data := range hash {
		var r Record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("failed to decode state of %s: %w", host, err)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out, nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, clusterKey string) error {
	if err := s.rdb.Del(ctx, NodesKey(clusterKey)).Err(); err != nil {
		return fmt.Errorf("failed to clear node states: %w", err)
	}
	return nil
}

// Subscription delivers state changes published by other cstar runs.
// Caller must call Close when done.
type Subscription struct {
	events <-chan Record
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of records. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan Record { return s.events }

// Errors returns undecodable messages. The subscription continues after them.
func (s *Subscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe follows state changes for a cluster. Delivery is at-most-once.
func (s *RedisStore) Subscribe(ctx context.Context, clusterKey string) (*Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, EventsChannel(clusterKey))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to node events: %w", err)
	}

	events := make(chan Record, 10)
	errs := make(chan error, 10)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(events)
		defer close(errs)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var r Record
				if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
					select {
					case errs <- fmt.Errorf("failed to decode node event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case events <- r:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{events: events, errors: errs, cancel: cancel}, nil
}

// MemoryStore is a process-local Store used when no Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]Record)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, clusterKey, host string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[clusterKey][host]; ok {
		return r, nil
	}
	return unprovisioned(host), nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, clusterKey string, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[clusterKey] == nil {
		m.records[clusterKey] = make(map[string]Record)
	}
	m.records[clusterKey][r.Host] = r
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, clusterKey string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records[clusterKey]))
	for _, r := range m.records[clusterKey] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out, nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(_ context.Context, clusterKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, clusterKey)
	return nil
}
