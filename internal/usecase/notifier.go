package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	drepo "FactorPulse/internal/domain/repository"
	"FactorPulse/internal/service/telegram"
	applogger "FactorPulse/pkg/logger"
	"FactorPulse/pkg/queue"
)

// JobLogDigest is the queue message type carrying an error log digest.
const JobLogDigest = "alert.log_digest"

// digestEntries caps the entries rendered into one digest message.
const digestEntries = 10

// MessageSender delivers text to the operators' chat.
type MessageSender interface {
	SendMessage(ctx context.Context, text string) error
}

// Notifier turns queued notifications into chat messages.
type Notifier struct {
	sender  MessageSender
	metrics drepo.Metrics
	l       *applogger.Logger
}

func NewNotifier(sender MessageSender, metrics drepo.Metrics, l *applogger.Logger) *Notifier {
	if l == nil {
		l = applogger.NewNop()
	}
	return &Notifier{sender: sender, metrics: metrics, l: l}
}

// Jobs returns the queue jobs served by the notification worker.
func (n *Notifier) Jobs() []queue.Job {
	return []queue.Job{
		queue.JobFunc{MsgType: JobSummarySend, Fn: n.handleSummary},
		queue.JobFunc{MsgType: JobLogDigest, Fn: n.handleDigest},
	}
}

func (n *Notifier) handleSummary(ctx context.Context, payload json.RawMessage) error {
	job, err := queue.Decode[SummaryJob](payload)
	if err != nil {
		return err
	}
	if strings.TrimSpace(job.Text) == "" {
		return queue.Permanent(errors.New("empty summary"))
	}
	if err := n.send(ctx, "summary", job.Text); err != nil {
		return err
	}
	n.l.Info("summary delivered", applogger.String("run_id", job.RunID), applogger.String("hash", job.Hash))
	return nil
}

func (n *Notifier) handleDigest(ctx context.Context, payload json.RawMessage) error {
	d, err := queue.Decode[applogger.Digest](payload)
	if err != nil {
		return err
	}
	if len(d.Entries) == 0 {
		return nil
	}
	return n.send(ctx, "log_digest", FormatDigest(d))
}

func (n *Notifier) send(ctx context.Context, channel, text string) error {
	err := n.sender.SendMessage(ctx, text)
	if err == nil {
		n.metrics.RecordMessageSent("telegram", channel)
		return nil
	}
	n.metrics.RecordError("telegram_send")
	if permanentSendError(err) {
		return queue.Permanent(err)
	}
	return fmt.Errorf("send %s: %w", channel, err)
}

// permanentSendError reports failures a retry cannot fix: a disabled bot or
// a request Telegram rejects outright. Rate limits and 5xx are retried.
func permanentSendError(err error) bool {
	if errors.Is(err, telegram.ErrNotConfigured) {
		return true
	}
	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
	}
	return false
}

// FormatDigest renders a log digest as a chat message.
func FormatDigest(d applogger.Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ *Log digest* %s to %s UTC\n", d.From.UTC().Format("15:04"), d.To.UTC().Format("15:04"))
	fmt.Fprintf(&b, "%d entries, %d lines\n", len(d.Entries), d.Total())
	for i, e := range d.Entries {
		if i == digestEntries {
			fmt.Fprintf(&b, "…and %d more\n", len(d.Entries)-digestEntries)
			break
		}
		fmt.Fprintf(&b, "• [%s] %s ×%d", strings.ToUpper(e.Level), e.Message, e.Count)
		if e.Caller != "" {
			fmt.Fprintf(&b, " (%s)", e.Caller)
		}
		b.WriteString("\n")
	}
	return truncateSummary(strings.TrimRight(b.String(), "\n"))
}

// DigestPublisher queues log digests for the notification worker.
type DigestPublisher struct {
	jobs queue.Publisher
}

var _ applogger.Publisher = (*DigestPublisher)(nil)

func NewDigestPublisher(jobs queue.Publisher) *DigestPublisher {
	return &DigestPublisher{jobs: jobs}
}

func (p *DigestPublisher) PublishDigest(ctx context.Context, d applogger.Digest) error {
	return p.jobs.Enqueue(ctx, JobLogDigest, d)
}
