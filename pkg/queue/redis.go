package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"FactorPulse/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a list backed job queue with a delayed retry set and a DLQ.
//
// Keys: <prefix>:messages (LPUSH/BRPOP), <prefix>:retry (ZSET by due time)
// and <prefix>:dlq.
type RedisQueue struct {
	logger *logger.Logger
	cfg    Config
	client *redis.Client
	now    func() time.Time
	newID  func() string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRedisQueue(lgr *logger.Logger, client *redis.Client, cfg Config) *RedisQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "factorpulse:queue"
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &RedisQueue{
		logger: lgr,
		cfg:    cfg,
		client: client,
		now:    time.Now,
		newID:  uuid.NewString,
		jobs:   make(map[string]Job),
	}
}

// RegisterJob routes messages of job.Type() to job. Duplicates are ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
}

// Enqueue pushes a message. Producers do not need Start.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{
		ID:        r.newID(),
		Type:      msgType,
		Payload:   raw,
		CreatedAt: r.now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.queueKey(), string(data)).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	return nil
}

// Start launches the workers and the retry mover.
func (r *RedisQueue) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(runCtx, i)
	}
	r.wg.Add(1)
	go r.retryLoop(runCtx)

	r.logger.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.Int("jobs", len(r.jobs)),
	)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs or ctx.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

func (r *RedisQueue) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, r.cfg.PollInterval, r.queueKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.logger.Error("queue pop failed", logger.Int("worker_id", id), logger.Error(err))
			select {
			case <-time.After(r.cfg.PollInterval):
			case <-ctx.Done():
			}
			continue
		}
		if len(res) == 2 {
			r.process(ctx, res[1])
		}
	}
}

// process runs the job for one raw message and schedules a retry or dead letters it on failure.
func (r *RedisQueue) process(ctx context.Context, raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.logger.Error("queue message undecodable", logger.Error(err))
		r.deadLetter(ctx, raw)
		return
	}

	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job for message type", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.deadLetter(ctx, raw)
		return
	}

	start := r.now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		r.logger.Debug("job done",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID),
			logger.Duration("elapsed", r.now().Sub(start)),
		)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	msg.Attempts++
	msg.LastError = err.Error()
	r.logger.Error("job failed",
		logger.String("type", msg.Type),
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.Error(err),
	)
	data, mErr := json.Marshal(msg)
	if mErr != nil {
		return
	}
	if errors.Is(err, ErrPermanent) || msg.Attempts > r.cfg.MaxRetries {
		r.deadLetter(ctx, string(data))
		return
	}
	due := r.now().Add(r.cfg.RetryDelay)
	if zErr := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(due.Unix()), Member: string(data)}).Err(); zErr != nil {
		r.logger.Error("schedule retry failed", logger.Error(zErr))
	}
}

func (r *RedisQueue) deadLetter(ctx context.Context, raw string) {
	if err := r.client.LPush(ctx, r.dlqKey(), raw).Err(); err != nil {
		r.logger.Error("dlq push failed", logger.Error(err))
	}
}

func (r *RedisQueue) retryLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.moveDue(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("retry mover failed", logger.Error(err))
			}
		}
	}
}

// moveDue requeues retry entries whose due time has passed.
func (r *RedisQueue) moveDue(ctx context.Context) error {
	due, err := r.client.ZRangeByScore(ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(r.now().Unix(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, raw := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, r.retryKey(), raw)
		pipe.LPush(ctx, r.queueKey(), raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisQueue) queueKey() string { return r.cfg.KeyPrefix + ":messages" }
func (r *RedisQueue) retryKey() string { return r.cfg.KeyPrefix + ":retry" }
func (r *RedisQueue) dlqKey() string   { return r.cfg.KeyPrefix + ":dlq" }
