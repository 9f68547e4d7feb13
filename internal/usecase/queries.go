package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	"FactorPulse/pkg/cache"
)

const (
	queryCachePrefix = "api"
	statusOutlierCap = 1000
)

// QueryUseCase serves the read API from storage through a response cache.
type QueryUseCase struct {
	store    domrepo.Storage
	universe domrepo.UniverseStore
	cache    cache.Service
	ttl      time.Duration
	digest   map[string]any
	now      func() time.Time
}

// NewQueryUseCase creates the read side. c may be nil to disable caching.
func NewQueryUseCase(store domrepo.Storage, universe domrepo.UniverseStore, c cache.Service, ttl time.Duration, digest map[string]any) *QueryUseCase {
	return &QueryUseCase{store: store, universe: universe, cache: c, ttl: ttl, digest: digest, now: time.Now}
}

// CacheHit reports whether a result was served from cache.
type CacheHit bool

type LatestResult struct {
	Count     int                     `json:"count"`
	Snapshots []models.MarketSnapshot `json:"snapshots"`
}

type ScoresResult struct {
	Timestamp *time.Time           `json:"timestamp"`
	Count     int                  `json:"count"`
	Scores    []models.ScoreRecord `json:"scores"`
}

type TrendsResult struct {
	Symbol string               `json:"symbol"`
	Hours  int                  `json:"hours"`
	From   time.Time            `json:"from"`
	Count  int                  `json:"count"`
	Points []models.ScoreRecord `json:"points"`
}

type StatusResult struct {
	Status              string         `json:"status"`
	Storage             string         `json:"storage"`
	LatestDataTimestamp *time.Time     `json:"latest_data_timestamp"`
	OutlierCount        int            `json:"outlier_count"`
	Config              map[string]any `json:"config"`
}

func (uc *QueryUseCase) key(parts ...interface{}) string {
	return cache.GenerateKeyWithParams(queryCachePrefix, parts...)
}

// Latest returns the newest snapshot per symbol.
func (uc *QueryUseCase) Latest(ctx context.Context, req models.LatestRequest) (*LatestResult, CacheHit, error) {
	res, hit, err := cache.Remember(ctx, uc.cache, uc.key("latest", req.Symbol, req.Exchange), uc.ttl,
		func(ctx context.Context) (*LatestResult, error) {
			snaps, err := uc.store.LatestSnapshots(ctx, req.Symbol, req.Exchange)
			if err != nil {
				return nil, fmt.Errorf("latest snapshots: %w", err)
			}
			return &LatestResult{Count: len(snaps), Snapshots: snaps}, nil
		})
	return res, CacheHit(hit), err
}

// Scores returns the newest batch, optionally for one symbol.
func (uc *QueryUseCase) Scores(ctx context.Context, req models.ScoresRequest) (*ScoresResult, CacheHit, error) {
	res, hit, err := cache.Remember(ctx, uc.cache, uc.key("scores", req.Symbol, req.Limit), uc.ttl,
		func(ctx context.Context) (*ScoresResult, error) {
			recs, err := uc.store.LatestScores(ctx, req.Symbol, req.Limit)
			if err != nil {
				return nil, fmt.Errorf("latest scores: %w", err)
			}
			return &ScoresResult{Timestamp: batchTime(recs), Count: len(recs), Scores: recs}, nil
		})
	return res, CacheHit(hit), err
}

// Outliers returns flagged records of the newest batch by |score|.
func (uc *QueryUseCase) Outliers(ctx context.Context, req models.OutliersRequest) (*ScoresResult, CacheHit, error) {
	res, hit, err := cache.Remember(ctx, uc.cache, uc.key("outliers", req.Limit), uc.ttl,
		func(ctx context.Context) (*ScoresResult, error) {
			recs, err := uc.store.LatestOutliers(ctx, req.Limit)
			if err != nil {
				return nil, fmt.Errorf("latest outliers: %w", err)
			}
			return &ScoresResult{Timestamp: batchTime(recs), Count: len(recs), Scores: recs}, nil
		})
	return res, CacheHit(hit), err
}

// Trends returns a symbol's score history over the last hours.
func (uc *QueryUseCase) Trends(ctx context.Context, req models.TrendsRequest) (*TrendsResult, CacheHit, error) {
	from := uc.now().UTC().Add(-time.Duration(req.Hours) * time.Hour).Truncate(time.Minute)
	res, hit, err := cache.Remember(ctx, uc.cache, uc.key("trends", req.Symbol, req.Hours, from.Unix()), uc.ttl,
		func(ctx context.Context) (*TrendsResult, error) {
			recs, err := uc.store.ScoreHistory(ctx, req.Symbol, from)
			if err != nil {
				return nil, fmt.Errorf("score history: %w", err)
			}
			return &TrendsResult{Symbol: req.Symbol, Hours: req.Hours, From: from, Count: len(recs), Points: recs}, nil
		})
	return res, CacheHit(hit), err
}

// Universe returns the stored universe or repository.ErrNotFound.
func (uc *QueryUseCase) Universe(ctx context.Context) (*models.Universe, CacheHit, error) {
	res, hit, err := cache.Remember(ctx, uc.cache, uc.key("universe"), uc.ttl, uc.universe.LoadUniverse)
	return res, CacheHit(hit), err
}

// Summaries returns the most recent summaries, newest first.
func (uc *QueryUseCase) Summaries(ctx context.Context, req models.SummariesRequest) ([]models.Summary, CacheHit, error) {
	res, hit, err := cache.Remember(ctx, uc.cache, uc.key("summaries", req.Limit), uc.ttl,
		func(ctx context.Context) ([]models.Summary, error) {
			return uc.store.ListSummaries(ctx, req.Limit)
		})
	return res, CacheHit(hit), err
}

// Status is never cached. A storage outage is reported in the body.
func (uc *QueryUseCase) Status(ctx context.Context) (*StatusResult, error) {
	res := &StatusResult{Status: "healthy", Storage: "ok", Config: uc.digest}
	if err := uc.store.Health(ctx); err != nil {
		res.Status = "degraded"
		res.Storage = err.Error()
		return res, nil
	}

	ts, err := uc.store.LatestScoreTime(ctx)
	switch {
	case err == nil:
		res.LatestDataTimestamp = &ts
	case !errors.Is(err, domrepo.ErrNotFound):
		return nil, fmt.Errorf("latest score time: %w", err)
	}

	outliers, err := uc.store.LatestOutliers(ctx, statusOutlierCap)
	if err != nil {
		return nil, fmt.Errorf("latest outliers: %w", err)
	}
	res.OutlierCount = len(outliers)
	return res, nil
}

// Invalidate drops every cached API response after a new batch lands.
func (uc *QueryUseCase) Invalidate(ctx context.Context) error {
	if uc.cache == nil {
		return nil
	}
	return uc.cache.DeleteByPattern(ctx, queryCachePrefix+":*")
}

func batchTime(recs []models.ScoreRecord) *time.Time {
	if len(recs) == 0 {
		return nil
	}
	ts := recs[0].Timestamp
	return &ts
}
