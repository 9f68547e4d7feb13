package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"FactorPulse/internal/domain/repository"
	"FactorPulse/internal/service/ratelimit"
	xhttp "FactorPulse/pkg/http"
	applogger "FactorPulse/pkg/logger"

	"github.com/sony/gobreaker"
)

// ExchangeName is the value stored in the exchange column.
const ExchangeName = "binance"

// maxKlineLimit is the largest page the klines endpoints accept.
const maxKlineLimit = 1000

// invalidSymbolCode is the API error code for unknown symbols.
const invalidSymbolCode = "-1121"

// Endpoint selects the API family a request goes to.
type Endpoint int

const (
	Spot Endpoint = iota
	Futures
)

func (e Endpoint) String() string {
	if e == Futures {
		return "futures"
	}
	return "spot"
}

var ErrSymbolNotFound = errors.New("binance: symbol not found")

// Config holds REST client settings.
type Config struct {
	SpotURL            string
	FuturesURL         string
	APIKey             string
	RateLimitPerMinute int
	Timeout            time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	SymbolCacheTTL     time.Duration
	BreakerFailures    uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
}

func (c *Config) setDefaults() {
	if c.SpotURL == "" {
		c.SpotURL = "https://api.binance.com"
	}
	if c.FuturesURL == "" {
		c.FuturesURL = "https://fapi.binance.com"
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 1200
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.SymbolCacheTTL <= 0 {
		c.SymbolCacheTTL = 6 * time.Hour
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = time.Minute
	}
}

// Client talks to the Binance spot and USD-M futures REST APIs. Every call
// names its Endpoint explicitly.
type Client struct {
	cfg      Config
	http     *xhttp.Client
	limiter  *ratelimit.Limiter
	breakers map[Endpoint]*gobreaker.CircuitBreaker
	symbols  *SymbolCache
	marks    *MarkPriceBook
	metrics  repository.Metrics
	l        *applogger.Logger
}

type Option func(*Client)

func WithHTTPClient(c *xhttp.Client) Option { return func(cl *Client) { cl.http = c } }

func WithLogger(l *applogger.Logger) Option { return func(cl *Client) { cl.l = l } }

func WithMetrics(m repository.Metrics) Option { return func(cl *Client) { cl.metrics = m } }

// WithMarkPriceBook lets snapshots use streamed funding data when fresh.
func WithMarkPriceBook(b *MarkPriceBook) Option { return func(cl *Client) { cl.marks = b } }

// NewClient builds a client. The futures symbol cache is owned by the client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.setDefaults()
	c := &Client{
		cfg:     cfg,
		limiter: ratelimit.PerMinute(cfg.RateLimitPerMinute),
		l:       applogger.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout))
	}
	c.breakers = map[Endpoint]*gobreaker.CircuitBreaker{
		Spot:    c.newBreaker(Spot),
		Futures: c.newBreaker(Futures),
	}
	c.symbols = NewSymbolCache(cfg.SymbolCacheTTL, c.fetchTradingFutures)
	return c
}

func (c *Client) newBreaker(ep Endpoint) *gobreaker.CircuitBreaker {
	failures := c.cfg.BreakerFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "binance-" + ep.String(),
		Interval: c.cfg.BreakerInterval,
		Timeout:  c.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// client errors mean a bad symbol, not an unhealthy exchange
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			se, ok := xhttp.AsStatusError(err)
			return ok && !se.Retryable()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.l.Warn("circuit breaker state change",
				applogger.String("breaker", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()),
			)
		},
	})
}

// Symbols exposes the futures symbol cache, e.g. to invalidate it.
func (c *Client) Symbols() *SymbolCache { return c.symbols }

func (c *Client) baseURL(ep Endpoint) string {
	if ep == Futures {
		return strings.TrimRight(c.cfg.FuturesURL, "/")
	}
	return strings.TrimRight(c.cfg.SpotURL, "/")
}

// get performs a rate limited GET through the endpoint's breaker, retrying
// 429 and 5xx responses with linear backoff.
func (c *Client) get(ctx context.Context, ep Endpoint, path string, params map[string][]string, dest interface{}) error {
	opts := &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL(ep) + path,
		QueryParams: params,
	}
	if c.cfg.APIKey != "" {
		opts.Headers = map[string]string{"X-MBX-APIKEY": c.cfg.APIKey}
	}

	var err error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.cfg.RetryBackoff):
			}
		}
		if err = c.limiter.Wait(ctx, ep.String()); err != nil {
			return err
		}
		_, err = c.breakers[ep].Execute(func() (interface{}, error) {
			return nil, c.http.SendAndParse(ctx, opts, dest)
		})
		if err == nil {
			return nil
		}
		se, ok := xhttp.AsStatusError(err)
		if !ok || !se.Retryable() {
			break
		}
		c.l.Debug("binance request retry",
			applogger.String("path", path),
			applogger.Int("status", se.Code),
			applogger.Int("attempt", attempt+1),
		)
	}

	if c.metrics != nil {
		c.metrics.RecordError("exchange_" + ep.String())
	}
	if se, ok := xhttp.AsStatusError(err); ok && se.Code == 400 && strings.Contains(string(se.Body), invalidSymbolCode) {
		return fmt.Errorf("binance %s %s: %w", ep, path, ErrSymbolNotFound)
	}
	return fmt.Errorf("binance %s %s: %w", ep, path, err)
}
