package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook wraps message handling. BeforeHandle may replace the context
// and payload; a non-nil error skips the handler and counts as a failed attempt.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, msg kafka.Message) (context.Context, []byte, error)
	AfterHandle(ctx context.Context, msg kafka.Message, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, msg kafka.Message) (context.Context, []byte, error) {
	return ctx, msg.Value, nil
}

func (NoopHook) AfterHandle(context.Context, kafka.Message, error) {}

// HookFuncs adapts plain functions to ConsumerHook. Nil functions are no-ops.
type HookFuncs struct {
	Before func(context.Context, kafka.Message) (context.Context, []byte, error)
	After  func(context.Context, kafka.Message, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, msg kafka.Message) (context.Context, []byte, error) {
	if h.Before == nil {
		return ctx, msg.Value, nil
	}
	return h.Before(ctx, msg)
}

func (h HookFuncs) AfterHandle(ctx context.Context, msg kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, msg, err)
	}
}

type ctxKey string

const ctxRunID ctxKey = "kafka_run_id"

// RunIDHook copies the run_id header into the handler context.
func RunIDHook() ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, msg kafka.Message) (context.Context, []byte, error) {
			if id := HeaderValue(msg, HeaderRunID); id != "" {
				ctx = context.WithValue(ctx, ctxRunID, id)
			}
			return ctx, msg.Value, nil
		},
	}
}

// RunIDFrom returns the run id set by RunIDHook, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxRunID).(string)
	return id
}
