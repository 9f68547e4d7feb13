package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	"FactorPulse/internal/service/ratelimit"
	"FactorPulse/internal/usecase"
)

var ts = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeQueries struct {
	scoresReq models.ScoresRequest
	trendsReq models.TrendsRequest
	hit       usecase.CacheHit
	err       error
	trends    *usecase.TrendsResult
	status    *usecase.StatusResult
}

func (f *fakeQueries) Latest(_ context.Context, req models.LatestRequest) (*usecase.LatestResult, usecase.CacheHit, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	snap := models.MarketSnapshot{Timestamp: ts, Exchange: req.Exchange, Symbol: "BTCUSDT", Price: 60000}
	return &usecase.LatestResult{Count: 1, Snapshots: []models.MarketSnapshot{snap}}, f.hit, nil
}

func (f *fakeQueries) Scores(_ context.Context, req models.ScoresRequest) (*usecase.ScoresResult, usecase.CacheHit, error) {
	f.scoresReq = req
	if f.err != nil {
		return nil, false, f.err
	}
	rec := models.ScoreRecord{Timestamp: ts, Exchange: "binance", Symbol: "BTCUSDT", OutlierType: models.OutlierNone}
	return &usecase.ScoresResult{Timestamp: &ts, Count: 1, Scores: []models.ScoreRecord{rec}}, f.hit, nil
}

func (f *fakeQueries) Outliers(_ context.Context, req models.OutliersRequest) (*usecase.ScoresResult, usecase.CacheHit, error) {
	return &usecase.ScoresResult{Count: 0, Scores: []models.ScoreRecord{}}, f.hit, f.err
}

func (f *fakeQueries) Trends(_ context.Context, req models.TrendsRequest) (*usecase.TrendsResult, usecase.CacheHit, error) {
	f.trendsReq = req
	if f.err != nil {
		return nil, false, f.err
	}
	if f.trends != nil {
		return f.trends, f.hit, nil
	}
	return &usecase.TrendsResult{Symbol: req.Symbol, Hours: req.Hours}, f.hit, nil
}

func (f *fakeQueries) Universe(context.Context) (*models.Universe, usecase.CacheHit, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.Universe{UpdatedAt: ts, Assets: []models.Asset{{BaseAsset: "BTC", Rank: 1}}}, f.hit, nil
}

func (f *fakeQueries) Summaries(_ context.Context, req models.SummariesRequest) ([]models.Summary, usecase.CacheHit, error) {
	return []models.Summary{{Timestamp: ts, Hash: "abc", Text: "hello"}}, f.hit, f.err
}

func (f *fakeQueries) Status(context.Context) (*usecase.StatusResult, error) {
	if f.status != nil {
		return f.status, nil
	}
	return &usecase.StatusResult{Status: "healthy", Storage: "ok"}, f.err
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func serve(t *testing.T, h *ScoresEchoHandler, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestScoresEndpointDefaults(t *testing.T) {
	q := &fakeQueries{}
	rec, env := serve(t, NewScoresEchoHandler(nil, q, nil), "/api/v1/scores?symbol=BTCUSDT")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get(headerCache))
	assert.Equal(t, models.ScoresRequest{Symbol: "BTCUSDT", Limit: 100}, q.scoresReq)

	var res usecase.ScoresResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "BTCUSDT", res.Scores[0].Symbol)
}

func TestScoresEndpointCacheHit(t *testing.T) {
	rec, _ := serve(t, NewScoresEchoHandler(nil, &fakeQueries{hit: true}, nil), "/api/v1/scores")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get(headerCache))
}

func TestScoresEndpointValidation(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"limit too large", "/api/v1/scores?limit=10000"},
		{"limit not a number", "/api/v1/scores?limit=abc"},
		{"trends without symbol", "/api/v1/trends"},
		{"trends window too long", "/api/v1/trends?symbol=BTCUSDT&hours=1000"},
		{"unknown exchange", "/api/v1/latest?exchange=kraken"},
		{"outliers limit", "/api/v1/outliers?limit=501"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := serve(t, NewScoresEchoHandler(nil, &fakeQueries{}, nil), tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, http.StatusBadRequest, env.Status)
		})
	}
}

func TestTrendsEndpoint(t *testing.T) {
	t.Run("empty history is not found", func(t *testing.T) {
		q := &fakeQueries{}
		rec, _ := serve(t, NewScoresEchoHandler(nil, q, nil), "/api/v1/trends?symbol=DOGEUSDT")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, 24, q.trendsReq.Hours)
	})

	t.Run("points", func(t *testing.T) {
		q := &fakeQueries{trends: &usecase.TrendsResult{Symbol: "BTCUSDT", Hours: 6, Count: 2}}
		rec, env := serve(t, NewScoresEchoHandler(nil, q, nil), "/api/v1/trends?symbol=BTCUSDT&hours=6")
		assert.Equal(t, http.StatusOK, rec.Code)
		var res usecase.TrendsResult
		require.NoError(t, json.Unmarshal(env.Data, &res))
		assert.Equal(t, 2, res.Count)
	})
}

func TestEndpointErrors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		q := &fakeQueries{err: domrepo.ErrNotFound}
		rec, _ := serve(t, NewScoresEchoHandler(nil, q, nil), "/api/v1/universe")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		q := &fakeQueries{err: errors.New("clickhouse: connection refused")}
		rec, env := serve(t, NewScoresEchoHandler(nil, q, nil), "/api/v1/latest")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, string(env.Data), "connection refused")
	})

	t.Run("timeout", func(t *testing.T) {
		q := &fakeQueries{err: context.DeadlineExceeded}
		rec, _ := serve(t, NewScoresEchoHandler(nil, q, nil), "/api/v1/scores")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestStatusEndpoint(t *testing.T) {
	q := &fakeQueries{status: &usecase.StatusResult{Status: "degraded", Storage: "dial tcp: refused"}}
	rec, env := serve(t, NewScoresEchoHandler(nil, q, nil), "/api/v1/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))

	var res usecase.StatusResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "degraded", res.Status)
}

func TestSummariesAndUniverse(t *testing.T) {
	h := NewScoresEchoHandler(nil, &fakeQueries{}, nil)

	rec, env := serve(t, h, "/api/v1/summaries")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"total":1`)

	rec, env = serve(t, h, "/api/v1/universe")
	assert.Equal(t, http.StatusOK, rec.Code)
	var u models.Universe
	require.NoError(t, json.Unmarshal(env.Data, &u))
	require.Len(t, u.Assets, 1)
	assert.True(t, ts.Equal(u.UpdatedAt))
}

func TestRateLimit(t *testing.T) {
	e := echo.New()
	NewScoresEchoHandler(nil, &fakeQueries{}, ratelimit.New(0.001, 2)).RegisterRoutes(e)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.Header.Set(echo.HeaderXRealIP, "10.0.0.2")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.3")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
