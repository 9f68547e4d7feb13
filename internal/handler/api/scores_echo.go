package api

import (
	"context"
	"errors"
	"time"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	"FactorPulse/internal/service/metrics"
	"FactorPulse/internal/service/ratelimit"
	"FactorPulse/internal/usecase"
	xhttp "FactorPulse/pkg/http"
	xlogger "FactorPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Queries is the read side served by ScoresEchoHandler.
type Queries interface {
	Latest(ctx context.Context, req models.LatestRequest) (*usecase.LatestResult, usecase.CacheHit, error)
	Scores(ctx context.Context, req models.ScoresRequest) (*usecase.ScoresResult, usecase.CacheHit, error)
	Outliers(ctx context.Context, req models.OutliersRequest) (*usecase.ScoresResult, usecase.CacheHit, error)
	Trends(ctx context.Context, req models.TrendsRequest) (*usecase.TrendsResult, usecase.CacheHit, error)
	Universe(ctx context.Context) (*models.Universe, usecase.CacheHit, error)
	Summaries(ctx context.Context, req models.SummariesRequest) ([]models.Summary, usecase.CacheHit, error)
	Status(ctx context.Context) (*usecase.StatusResult, error)
}

var _ Queries = (*usecase.QueryUseCase)(nil)

const headerCache = "X-Cache"

// ScoresEchoHandler serves the versioned read API.
type ScoresEchoHandler struct {
	logger *xlogger.Logger
	q      Queries
	rl     *ratelimit.Limiter
}

// NewScoresEchoHandler creates the handler. rl may be nil to disable
// per-client rate limiting.
func NewScoresEchoHandler(logger *xlogger.Logger, q Queries, rl *ratelimit.Limiter) *ScoresEchoHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &ScoresEchoHandler{logger: logger, q: q, rl: rl}
}

func (h *ScoresEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1", h.rateLimit)
	g.GET("/latest", h.Latest)
	g.GET("/scores", h.Scores)
	g.GET("/outliers", h.Outliers)
	g.GET("/trends", h.Trends)
	g.GET("/universe", h.Universe)
	g.GET("/status", h.Status)
	g.GET("/summaries", h.Summaries)
}

func (h *ScoresEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.rl != nil && !h.rl.Allow(c.RealIP()) {
			h.logger.Warn("api rate limited", xlogger.String("remote", c.RealIP()), xlogger.String("path", c.Path()))
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
		}
		return next(c)
	}
}

// observe records latency and returns a func that marks the cache outcome.
func (h *ScoresEchoHandler) observe(c echo.Context, endpoint string) func(usecase.CacheHit) {
	start := time.Now()
	return func(hit usecase.CacheHit) {
		metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if hit {
			metrics.APICacheHits.WithLabelValues(endpoint).Inc()
			c.Response().Header().Set(headerCache, "HIT")
			return
		}
		c.Response().Header().Set(headerCache, "MISS")
	}
}

func (h *ScoresEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	metrics.APIErrors.WithLabelValues(endpoint).Inc()
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return xhttp.AppErrorResponse(c, appErr)
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%s: no data", endpoint))
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("storage timeout").WithError(err))
	}
	h.logger.Error("api usecase error", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError("query failed").WithError(err))
}

func (h *ScoresEchoHandler) invalid(c echo.Context, endpoint string, verr interface{}) error {
	metrics.APIErrors.WithLabelValues(endpoint).Inc()
	return xhttp.BadRequestResponse(c, verr)
}

// Latest returns the newest market snapshot per symbol.
func (h *ScoresEchoHandler) Latest(c echo.Context) error {
	done := h.observe(c, "latest")
	req := &models.LatestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "latest", verr)
	}
	res, hit, err := h.q.Latest(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "latest", err)
	}
	done(hit)
	return xhttp.SuccessResponse(c, res)
}

func (h *ScoresEchoHandler) Scores(c echo.Context) error {
	done := h.observe(c, "scores")
	req := &models.ScoresRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "scores", verr)
	}
	res, hit, err := h.q.Scores(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "scores", err)
	}
	done(hit)
	return xhttp.SuccessResponse(c, res)
}

func (h *ScoresEchoHandler) Outliers(c echo.Context) error {
	done := h.observe(c, "outliers")
	req := &models.OutliersRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "outliers", verr)
	}
	res, hit, err := h.q.Outliers(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "outliers", err)
	}
	done(hit)
	return xhttp.SuccessResponse(c, res)
}

// Trends returns a symbol's score history. An empty window is a 404.
func (h *ScoresEchoHandler) Trends(c echo.Context) error {
	done := h.observe(c, "trends")
	req := &models.TrendsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "trends", verr)
	}
	res, hit, err := h.q.Trends(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "trends", err)
	}
	if res.Count == 0 {
		return h.fail(c, "trends", xhttp.NotFoundErrorf("no data for symbol %s", req.Symbol))
	}
	done(hit)
	return xhttp.SuccessResponse(c, res)
}

func (h *ScoresEchoHandler) Universe(c echo.Context) error {
	done := h.observe(c, "universe")
	res, hit, err := h.q.Universe(c.Request().Context())
	if err != nil {
		return h.fail(c, "universe", err)
	}
	done(hit)
	return xhttp.SuccessResponse(c, res)
}

func (h *ScoresEchoHandler) Summaries(c echo.Context) error {
	done := h.observe(c, "summaries")
	req := &models.SummariesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "summaries", verr)
	}
	res, hit, err := h.q.Summaries(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "summaries", err)
	}
	done(hit)
	return xhttp.ListResponse(c, res)
}

// Status always answers 200 while the process is up; storage state is in the body.
func (h *ScoresEchoHandler) Status(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("status").Observe(time.Since(start).Seconds()) }()

	res, err := h.q.Status(c.Request().Context())
	if err != nil {
		return h.fail(c, "status", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, res)
}
