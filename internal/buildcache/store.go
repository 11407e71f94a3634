package buildcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Store.Get for an unknown revision.
var ErrNotFound = errors.New("artifact not found")

// Artifact is one cached build.
type Artifact struct {
	Revision  string    `json:"revision"` // Resolved revision id, never a branch name
	Location  string    `json:"location"` // Build tree on the build host
	CreatedAt time.Time `json:"created_at"`
}

// Store persists the cache index. List returns entries oldest first.
type Store interface {
	Get(ctx context.Context, revision string) (Artifact, error)
	Put(ctx context.Context, a Artifact) error
	Delete(ctx context.Context, revision string) error
	List(ctx context.Context) ([]Artifact, error)
}

// LeaseStore is a Store that also records leases, so processes sharing the
// index never evict a build another one is still reading.
type LeaseStore interface {
	Store
	AddLease(ctx context.Context, revision, id string, now time.Time, ttl time.Duration) error
	RemoveLease(ctx context.Context, revision, id string) error
	Leased(ctx context.Context, revision string, now time.Time) (bool, error)
}

// ArtifactsKey returns the hash of revision → artifact JSON.
// Pattern: cstar:buildcache:{namespace}:artifacts
func ArtifactsKey(namespace string) string {
	return fmt.Sprintf("cstar:buildcache:%s:artifacts", namespace)
}

// CreatedKey returns the ZSET of revisions scored by creation time.
// Pattern: cstar:buildcache:{namespace}:created
func CreatedKey(namespace string) string {
	return fmt.Sprintf("cstar:buildcache:%s:created", namespace)
}

// LeasesKey returns the ZSET of lease ids on one revision, scored by expiry.
// Pattern: cstar:buildcache:{namespace}:leases:{revision}
func LeasesKey(namespace, revision string) string {
	return fmt.Sprintf("cstar:buildcache:%s:leases:%s", namespace, revision)
}

// RedisStore keeps the index in Redis, namespaced by build host so several
// build hosts can share one server.
type RedisStore struct {
	rdb       redis.UniversalClient
	namespace string
}

// NewRedisStore creates a store. namespace must not be empty.
func NewRedisStore(rdb redis.UniversalClient, namespace string) (*RedisStore, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &RedisStore{rdb: rdb, namespace: namespace}, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, revision string) (Artifact, error) {
	data, err := s.rdb.HGet(ctx, ArtifactsKey(s.namespace), revision).Result()
	if errors.Is(err, redis.Nil) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to read artifact %s: %w", revision, err)
	}

	var a Artifact
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return Artifact{}, fmt.Errorf("failed to decode artifact %s: %w", revision, err)
	}
	return a, nil
}

// Put implements Store. The hash entry and its ordering score are written atomically.
func (s *RedisStore) Put(ctx context.Context, a Artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, ArtifactsKey(s.namespace), a.Revision, data)
		pipe.ZAdd(ctx, CreatedKey(s.namespace), redis.Z{Score: float64(a.CreatedAt.UnixMicro()), Member: a.Revision})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", a.Revision, err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, revision string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, ArtifactsKey(s.namespace), revision)
		pipe.ZRem(ctx, CreatedKey(s.namespace), revision)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", revision, err)
	}
	return nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) ([]Artifact, error) {
	revisions, err := s.rdb.ZRange(ctx, CreatedKey(s.namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	if len(revisions) == 0 {
		return nil, nil
	}

	values, err := s.rdb.HMGet(ctx, ArtifactsKey(s.namespace), revisions...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read artifacts: %w", err)
	}

	out := make([]Artifact, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// ZSET entry without a hash entry; skip
			continue
		}
		var a Artifact
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			return nil, fmt.Errorf("failed to decode artifact %s: %w", revisions[i], err)
		}
		out = append(out, a)
	}
	return out, nil
}

// AddLease implements LeaseStore.
// The lease expires ttl after now.
func (s *RedisStore) AddLease(ctx context.Context, revision, id string, now time.Time, ttl time.Duration) error {
	key := LeasesKey(s.namespace, revision)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.Add(ttl).UnixMicro()), Member: id})
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to lease artifact %s: %w", revision, err)
	}
	return nil
}

// RemoveLease implements LeaseStore.
func (s *RedisStore) RemoveLease(ctx context.Context, revision, id string) error {
	if err := s.rdb.ZRem(ctx, LeasesKey(s.namespace, revision), id).Err(); err != nil {
		return fmt.Errorf("failed to release artifact %s: %w", revision, err)
	}
	return nil
}

// Leased implements LeaseStore. Expired leases are pruned first.
func (s *RedisStore) Leased(ctx context.Context, revision string, now time.Time) (bool, error) {
	key := LeasesKey(s.namespace, revision)
	var card *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.UnixMicro(), 10))
		card = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read leases of %s: %w", revision, err)
	}
	return card.Val() > 0, nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu        sync.Mutex
	artifacts map[string]Artifact
}

// NewMemoryStore returns a store holding seed, typically the builds found
// on the build host.
func NewMemoryStore(seed ...Artifact) *MemoryStore {
	m := &MemoryStore{artifacts: make(map[string]Artifact, len(seed))}
	for _, a := range seed {
		m.artifacts[a.Revision] = a
	}
	return m
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, revision string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[revision]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return a, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[a.Revision] = a
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, revision string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.artifacts, revision)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Artifact, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Revision < out[j].Revision
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
