package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	xhttp "FactorPulse/pkg/http"
	applogger "FactorPulse/pkg/logger"
)

const (
	parseModeMarkdown = "Markdown"
	testMessageText   = "🧪 Test message from FactorPulse"
)

var ErrNotConfigured = errors.New("telegram: bot is not configured or disabled")

type Config struct {
	Enabled  bool
	BotToken string
	ChatID   string
	APIURL   string
	Timeout  time.Duration
}

// Configured reports whether messages can be sent at all.
func (c Config) Configured() bool {
	return c.Enabled && c.BotToken != "" && c.ChatID != ""
}

// APIError is a failed Bot API call.
type APIError struct {
	Status          int
	Description     string
	MigrateToChatID int64
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api %d: %s", e.Status, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
	Parameters  struct {
		MigrateToChatID int64 `json:"migrate_to_chat_id"`
	} `json:"parameters"`
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// BotInfo is the subset of getMe we report.
type BotInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Client struct {
	cfg  Config
	http *xhttp.Client
	l    *applogger.Logger
}

type Option func(*Client)

func WithHTTPClient(c *xhttp.Client) Option { return func(cl *Client) { cl.http = c } }

func WithLogger(l *applogger.Logger) Option { return func(cl *Client) { cl.l = l } }

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{cfg: cfg, l: applogger.NewNop()}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout))
	}
	return c
}

func (c *Client) Configured() bool { return c.cfg.Configured() }

func (c *Client) method(name string) string {
	return strings.TrimRight(c.cfg.APIURL, "/") + "/bot" + c.cfg.BotToken + "/" + name
}

func (c *Client) call(ctx context.Context, httpMethod, name string, body interface{}, result interface{}) error {
	var resp apiResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: httpMethod,
		URL:    c.method(name),
		Body:   body,
	}, &resp)
	if se, ok := xhttp.AsStatusError(err); ok {
		apiErr := &APIError{Status: se.Code, Description: "Unknown error"}
		if json.Unmarshal(se.Body, &resp) == nil {
			if resp.Description != "" {
				apiErr.Description = resp.Description
			}
			apiErr.MigrateToChatID = resp.Parameters.MigrateToChatID
		}
		return apiErr
	}
	if err != nil {
		return fmt.Errorf("telegram %s: %w", name, err)
	}
	if !resp.OK {
		return &APIError{Status: http.StatusOK, Description: resp.Description}
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("telegram %s result: %w", name, err)
		}
	}
	return nil
}

// SendMessage posts text to the configured chat as Markdown. When Telegram
// rejects the markup with a 400 the message is resent as plain text.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	err := c.send(ctx, text, parseModeMarkdown)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
		c.l.Info("markdown rejected, retrying as plain text", applogger.String("description", apiErr.Description))
		err = c.send(ctx, text, "")
	}
	if err != nil {
		c.l.Error("telegram send failed", applogger.Error(err))
		return err
	}
	c.l.Info("telegram message sent", applogger.Int("chars", len(text)))
	return nil
}

func (c *Client) send(ctx context.Context, text, parseMode string) error {
	return c.call(ctx, http.MethodPost, "sendMessage", sendMessageRequest{
		ChatID:    c.cfg.ChatID,
		Text:      text,
		ParseMode: parseMode,
	}, nil)
}

// GetMe validates the bot token.
func (c *Client) GetMe(ctx context.Context) (BotInfo, error) {
	var info BotInfo
	err := c.call(ctx, http.MethodGet, "getMe", nil, &info)
	return info, err
}

// ConnectionReport is the outcome of TestConnection.
type ConnectionReport struct {
	Bot         BotInfo
	ChatOK      bool
	Problem     string
	Hint        string
	SuggestedID string
}

// TestConnection checks the token with getMe and the chat with a test
// message. Chat problems are reported, not returned as errors.
func (c *Client) TestConnection(ctx context.Context) (*ConnectionReport, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	bot, err := c.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("bot token check: %w", err)
	}
	report := &ConnectionReport{Bot: bot}

	err = c.send(ctx, testMessageText, "")
	if err == nil {
		report.ChatOK = true
		return report, nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return nil, fmt.Errorf("chat test message: %w", err)
	}
	report.Problem = apiErr.Description
	desc := strings.ToLower(apiErr.Description)
	switch {
	case strings.Contains(desc, "chat not found"):
		report.Hint = "start a conversation with the bot (send /start) or add it to the group, then check chat_id"
	case strings.Contains(desc, "upgraded to a supergroup"):
		report.Hint = "the group became a supergroup with a new chat id; update chat_id"
		if apiErr.MigrateToChatID != 0 {
			report.SuggestedID = strconv.FormatInt(apiErr.MigrateToChatID, 10)
		}
	}
	return report, nil
}
