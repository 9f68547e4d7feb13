package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"FactorPulse/internal/domain/models"
	applogger "FactorPulse/pkg/logger"
	"FactorPulse/pkg/util"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// MarkPriceBook keeps the latest streamed mark price per symbol.
type MarkPriceBook struct {
	mu       sync.RWMutex
	prices   map[string]models.MarkPrice
	maxStale time.Duration
	now      func() time.Time
}

func NewMarkPriceBook(maxStale time.Duration) *MarkPriceBook {
	return &MarkPriceBook{
		prices:   make(map[string]models.MarkPrice),
		maxStale: maxStale,
		now:      time.Now,
	}
}

func (b *MarkPriceBook) Update(mp models.MarkPrice) {
	b.mu.Lock()
	if cur, ok := b.prices[mp.Symbol]; !ok || !mp.EventTime.Before(cur.EventTime) {
		b.prices[mp.Symbol] = mp
	}
	b.mu.Unlock()
}

// Fresh returns the entry for symbol if it is younger than the staleness bound.
func (b *MarkPriceBook) Fresh(symbol string) (models.MarkPrice, bool) {
	b.mu.RLock()
	mp, ok := b.prices[symbol]
	b.mu.RUnlock()
	if !ok || b.now().Sub(mp.EventTime) > b.maxStale {
		return models.MarkPrice{}, false
	}
	return mp, true
}

func (b *MarkPriceBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.prices)
}

type markPriceEvent struct {
	EventType       string          `json:"e"`
	EventTime       int64           `json:"E"`
	Symbol          string          `json:"s"`
	MarkPrice       decimal.Decimal `json:"p"`
	IndexPrice      decimal.Decimal `json:"i"`
	FundingRate     decimal.Decimal `json:"r"`
	NextFundingTime int64           `json:"T"`
}

func (e markPriceEvent) model() models.MarkPrice {
	return models.MarkPrice{
		Symbol:          e.Symbol,
		MarkPrice:       f64(e.MarkPrice),
		IndexPrice:      f64(e.IndexPrice),
		FundingRate:     f64(e.FundingRate),
		NextFundingTime: util.FromMillis(e.NextFundingTime),
		EventTime:       util.FromMillis(e.EventTime),
	}
}

// decodeMarkPrices accepts both the array stream and single symbol frames.
func decodeMarkPrices(b []byte) ([]markPriceEvent, error) {
	var events []markPriceEvent
	if err := json.Unmarshal(b, &events); err == nil {
		return events, nil
	}
	var one markPriceEvent
	if err := json.Unmarshal(b, &one); err != nil {
		return nil, err
	}
	return []markPriceEvent{one}, nil
}

// MarkPriceStream reads the futures mark price websocket into a book.
type MarkPriceStream struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	book           *MarkPriceBook
	l              *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func NewMarkPriceStream(url string, reconnectDelay, pingInterval time.Duration, book *MarkPriceBook, l *applogger.Logger) *MarkPriceStream {
	if l == nil {
		l = applogger.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 3 * time.Minute
	}
	return &MarkPriceStream{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		book:           book,
		l:              l,
	}
}

// Connect establishes the WebSocket connection.
func (s *MarkPriceStream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("mark price stream connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.l.Info("mark price stream connected", applogger.String("url", s.url))
	return nil
}

// Run reads frames until ctx is cancelled, reconnecting after failures.
func (s *MarkPriceStream) Run(ctx context.Context) error {
	for {
		if err := s.Connect(ctx); err != nil {
			s.l.Warn("mark price stream dial failed", applogger.Error(err))
		} else if err := s.readLoop(ctx); err != nil && ctx.Err() == nil {
			s.l.Warn("mark price stream read failed", applogger.Error(err))
		}
		_ = s.Close()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *MarkPriceStream) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// unblock ReadMessage
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		events, err := decodeMarkPrices(b)
		if err != nil {
			continue
		}
		for _, e := range events {
			if e.EventType != "markPriceUpdate" {
				continue
			}
			s.book.Update(e.model())
		}
	}
}

// Close closes the WS connection.
func (s *MarkPriceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (s *MarkPriceStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
