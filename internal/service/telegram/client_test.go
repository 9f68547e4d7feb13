package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	path string
	req  sendMessageRequest
}

type fakeBot struct {
	mu       sync.Mutex
	calls    []recorded
	sendFunc func(req sendMessageRequest) (int, string)
}

func (f *fakeBot) serve(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		f.mu.Lock()
		f.calls = append(f.calls, recorded{path: r.URL.Path, req: req})
		f.mu.Unlock()

		switch r.URL.Path {
		case "/botTOKEN/getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"username":"pulse_bot"}}`))
		case "/botTOKEN/sendMessage":
			code, body := http.StatusOK, `{"ok":true,"result":{}}`
			if f.sendFunc != nil {
				code, body = f.sendFunc(req)
			}
			w.WriteHeader(code)
			_, _ = w.Write([]byte(body))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server) *Client {
	return NewClient(Config{Enabled: true, BotToken: "TOKEN", ChatID: "-100", APIURL: srv.URL})
}

func TestSendMessageMarkdown(t *testing.T) {
	bot := &fakeBot{}
	c := newClient(bot.serve(t))

	require.NoError(t, c.SendMessage(context.Background(), "*hi*"))
	require.Len(t, bot.calls, 1)
	assert.Equal(t, "Markdown", bot.calls[0].req.ParseMode)
	assert.Equal(t, "-100", bot.calls[0].req.ChatID)
}

func TestSendMessageFallsBackToPlainText(t *testing.T) {
	bot := &fakeBot{sendFunc: func(req sendMessageRequest) (int, string) {
		if req.ParseMode != "" {
			return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`
		}
		return http.StatusOK, `{"ok":true,"result":{}}`
	}}
	c := newClient(bot.serve(t))

	require.NoError(t, c.SendMessage(context.Background(), "*broken"))
	require.Len(t, bot.calls, 2)
	assert.Equal(t, "", bot.calls[1].req.ParseMode)
	assert.Equal(t, "*broken", bot.calls[1].req.Text)
}

func TestSendMessageServerErrorIsNotRetriedAsPlain(t *testing.T) {
	bot := &fakeBot{sendFunc: func(sendMessageRequest) (int, string) {
		return http.StatusInternalServerError, ``
	}}
	c := newClient(bot.serve(t))

	err := c.SendMessage(context.Background(), "x")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Unknown error", apiErr.Description)
	assert.Len(t, bot.calls, 1)
}

func TestSendMessageNotConfigured(t *testing.T) {
	c := NewClient(Config{Enabled: true, BotToken: "TOKEN"})
	assert.ErrorIs(t, c.SendMessage(context.Background(), "x"), ErrNotConfigured)

	c = NewClient(Config{BotToken: "TOKEN", ChatID: "1"})
	assert.False(t, c.Configured())
}

func TestTestConnectionOK(t *testing.T) {
	bot := &fakeBot{}
	c := newClient(bot.serve(t))

	report, err := c.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, report.ChatOK)
	assert.Equal(t, "pulse_bot", report.Bot.Username)
	assert.EqualValues(t, 42, report.Bot.ID)
	require.Len(t, bot.calls, 2)
	assert.Equal(t, testMessageText, bot.calls[1].req.Text)
}

func TestTestConnectionSupergroupHint(t *testing.T) {
	bot := &fakeBot{sendFunc: func(sendMessageRequest) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"description":"Bad Request: group chat was upgraded to a supergroup chat","parameters":{"migrate_to_chat_id":-1001234567890}}`
	}}
	c := newClient(bot.serve(t))

	report, err := c.TestConnection(context.Background())
	require.NoError(t, err)
	assert.False(t, report.ChatOK)
	assert.Equal(t, "-1001234567890", report.SuggestedID)
	assert.Contains(t, report.Hint, "supergroup")
}

func TestTestConnectionChatNotFound(t *testing.T) {
	bot := &fakeBot{sendFunc: func(sendMessageRequest) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"description":"Bad Request: chat not found"}`
	}}
	c := newClient(bot.serve(t))

	report, err := c.TestConnection(context.Background())
	require.NoError(t, err)
	assert.False(t, report.ChatOK)
	assert.Contains(t, report.Hint, "/start")
	assert.Empty(t, report.SuggestedID)
}
