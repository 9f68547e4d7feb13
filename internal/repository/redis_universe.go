package repository

import (
	"context"
	"errors"
	"fmt"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	"FactorPulse/pkg/cache"
)

// RedisUniverseStore keeps the ranked universe as one JSON document.
// It never expires; staleness is judged from UpdatedAt.
type RedisUniverseStore struct {
	c   cache.Service
	key string
}

var _ domrepo.UniverseStore = (*RedisUniverseStore)(nil)

func NewRedisUniverseStore(c cache.Service, key string) *RedisUniverseStore {
	if key == "" {
		key = "universe"
	}
	return &RedisUniverseStore{c: c, key: key}
}

func (s *RedisUniverseStore) SaveUniverse(ctx context.Context, u models.Universe) error {
	u.UpdatedAt = u.UpdatedAt.UTC()
	if err := s.c.Set(ctx, s.key, u, 0); err != nil {
		return fmt.Errorf("save universe: %w", err)
	}
	return nil
}

func (s *RedisUniverseStore) LoadUniverse(ctx context.Context) (*models.Universe, error) {
	var u models.Universe
	err := s.c.Get(ctx, s.key, &u)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, domrepo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load universe: %w", err)
	}
	return &u, nil
}
