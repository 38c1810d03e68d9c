package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insta_spider/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTelegramSendsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botsecret/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	tg := NewTelegram(config.NotifyConfig{TelegramToken: "secret", ChatID: "42", APIURL: srv.URL}, discardLogger())
	require.NoError(t, tg.send(context.Background(), "crawl finished"))
	assert.Equal(t, map[string]string{"chat_id": "42", "text": "crawl finished"}, got)
}

func TestTelegramFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer srv.Close()

	tg := NewTelegram(config.NotifyConfig{TelegramToken: "t", ChatID: "1", APIURL: srv.URL}, discardLogger())
	err := tg.send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")

	tg.Notify(context.Background(), "y")
	assert.EqualValues(t, 2, calls.Load())
}

func TestNewPicksNoopWithoutToken(t *testing.T) {
	assert.IsType(t, Noop{}, New(config.NotifyConfig{}, discardLogger()))
	assert.IsType(t, &Telegram{}, New(config.NotifyConfig{TelegramToken: "t", ChatID: "1"}, discardLogger()))
}
