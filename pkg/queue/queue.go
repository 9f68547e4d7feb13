package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Publisher enqueues work for the notification worker.
type Publisher interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
}

// ErrPermanent marks a job failure that must not be retried.
var ErrPermanent = errors.New("queue: permanent failure")

// Permanent wraps err so the queue moves the message straight to the DLQ.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type Config struct {
	Workers      int
	MaxRetries   int
	RetryDelay   time.Duration
	PollInterval time.Duration
	KeyPrefix    string
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	LastError string          `json:"last_error,omitempty"`
}

// Decode unmarshals a payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: decode payload: %w", ErrPermanent, err)
	}
	return v, nil
}
