package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const metadataSuffix = ":metadata"

// ErrUnknownPolicy is returned for a tier name missing from the policy table.
var ErrUnknownPolicy = errors.New("cache: unknown policy")

// Metadata is written next to every value as "<key>:metadata". It is
// informational only: nothing evicts or promotes entries based on it.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	TTL         int       `json:"ttl"`
	Policy      string    `json:"policy"`
	AccessCount int       `json:"access_count"`
}

// Strategy applies policy tiers on top of a Store.
type Strategy struct {
	store    *Store
	policies Policies
	logger   *zap.Logger
	now      func() time.Time
}

func NewStrategy(store *Store, policies Policies, logger *zap.Logger) *Strategy {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{
		store:    store,
		policies: policies,
		logger:   logger.With(zap.String("component", "cache_strategy")),
		now:      time.Now,
	}
}

func (s *Strategy) Store() *Store {
	return s.store
}

func (s *Strategy) Policies() Policies {
	return s.policies
}

// Policy looks a tier up by name.
func (s *Strategy) Policy(name string) (Policy, error) {
	policy, ok := s.policies.Lookup(name)
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return policy, nil
}

// Get reads key into dest. On a hit under a refresh-on-hit policy the TTL of
// both the value and its metadata is reset. A failed refresh is logged and the
// hit is still returned; the entry keeps its previous TTL.
func (s *Strategy) Get(ctx context.Context, key string, policy Policy, dest any) (bool, error) {
	hit, err := s.store.Get(ctx, key, dest)
	if err != nil || !hit {
		return false, err
	}
	if policy.RefreshOnHit && policy.TTL > 0 {
		for _, k := range []string{key, key + metadataSuffix} {
			if err := s.store.Expire(ctx, k, policy.TTL); err != nil {
				s.logger.Warn("cache ttl refresh failed", zap.String("key", k), zap.Error(err))
				break
			}
		}
	}
	return true, nil
}

// Set writes value and its metadata record, both with the policy TTL.
func (s *Strategy) Set(ctx context.Context, key string, value any, policy Policy) error {
	if err := s.store.Set(ctx, key, value, policy.TTL); err != nil {
		return err
	}
	meta := Metadata{
		CreatedAt: s.now().UTC(),
		TTL:       int(policy.TTL / time.Second),
		Policy:    policy.Name,
	}
	return s.store.Set(ctx, key+metadataSuffix, meta, policy.TTL)
}

// Metadata returns the bookkeeping record stored beside key, if still present.
func (s *Strategy) Metadata(ctx context.Context, key string) (Metadata, bool, error) {
	var meta Metadata
	ok, err := s.store.Get(ctx, key+metadataSuffix, &meta)
	return meta, ok, err
}

// GetOrLoad is a read-through lookup: on a miss load runs and its result is cached.
// A failed cache write is logged; the loaded value is still returned.
func GetOrLoad[T any](ctx context.Context, s *Strategy, key string, policy Policy, load func(context.Context) (T, error)) (T, bool, error) {
	var value T
	hit, err := s.Get(ctx, key, policy, &value)
	if err != nil {
		return value, false, err
	}
	if hit {
		return value, true, nil
	}

	value, err = load(ctx)
	if err != nil {
		return value, false, err
	}
	if err := s.Set(ctx, key, value, policy); err != nil {
		s.logger.Error("read-through cache write failed", zap.String("key", key), zap.Error(err))
	}
	return value, false, nil
}

// WriteThrough runs write (typically a database commit) and then caches its
// result. The commit is not undone if caching fails; the cache error is returned
// alongside the committed value and the entry stays stale until its TTL.
func WriteThrough[T any](ctx context.Context, s *Strategy, key string, policy Policy, write func(context.Context) (T, error)) (T, error) {
	value, err := write(ctx)
	if err != nil {
		return value, err
	}
	if err := s.Set(ctx, key, value, policy); err != nil {
		s.logger.Error("write-through cache write failed", zap.String("key", key), zap.Error(err))
		return value, fmt.Errorf("cache: write-through %s: %w", key, err)
	}
	return value, nil
}
