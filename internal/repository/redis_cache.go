package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	subscriptionKeyPrefix = "subscription:"
	customerKeyPrefix     = "customer_user:"

	defaultCacheTTL = 15 * time.Minute
)

// RedisCache holds the Redis client used by CachedStore.
type RedisCache struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int, log *logger.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis", "addr", addr)
	return &RedisCache{client: client, log: log}, nil
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// CachedStore decorates a Store with read-through caching of subscription
// snapshots and the customer->user mapping. Mutating paths go straight to
// the inner store and invalidate the cached snapshot afterwards, so the
// ledger's transactional guarantees are untouched.
type CachedStore struct {
	Store
	cache *RedisCache
	log   *logger.Logger
}

// NewCachedStore wraps inner with the Redis cache.
func NewCachedStore(inner Store, cache *RedisCache, log *logger.Logger) *CachedStore {
	return &CachedStore{Store: inner, cache: cache, log: log}
}

// WithSubscription delegates to the inner store and drops the cached
// snapshot after any successful transaction.
func (s *CachedStore) WithSubscription(ctx context.Context, userID string, fn func(tx SubscriptionTx) error) error {
	err := s.Store.WithSubscription(ctx, userID, fn)
	if err == nil {
		s.invalidate(ctx, userID)
	}
	return err
}

// GetSubscription serves from cache when possible.
func (s *CachedStore) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	key := subscriptionKeyPrefix + userID

	if data, err := s.cache.client.Get(ctx, key).Bytes(); err == nil {
		var sub domain.Subscription
		if err := json.Unmarshal(data, &sub); err == nil {
			return &sub, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warnw("Redis read failed, falling back to store", "error", err, "userID", userID)
	}

	sub, err := s.Store.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(sub); err == nil {
		if err := s.cache.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
			s.log.Warnw("Failed to cache subscription", "error", err, "userID", userID)
		}
	}
	return sub, nil
}

// FindUserByCustomer caches the customer->user mapping, which is immutable
// once set.
func (s *CachedStore) FindUserByCustomer(ctx context.Context, stripeCustomerID string) (string, error) {
	key := customerKeyPrefix + stripeCustomerID

	if userID, err := s.cache.client.Get(ctx, key).Result(); err == nil && userID != "" {
		return userID, nil
	}

	userID, err := s.Store.FindUserByCustomer(ctx, stripeCustomerID)
	if err != nil {
		return "", err
	}

	if err := s.cache.client.Set(ctx, key, userID, defaultCacheTTL).Err(); err != nil {
		s.log.Warnw("Failed to cache customer mapping", "error", err, "customerID", stripeCustomerID)
	}
	return userID, nil
}

func (s *CachedStore) invalidate(ctx context.Context, userID string) {
	if err := s.cache.client.Del(ctx, subscriptionKeyPrefix+userID).Err(); err != nil {
		s.log.Warnw("Failed to invalidate cached subscription", "error", err, "userID", userID)
	}
}
