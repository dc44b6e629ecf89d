package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronagent/internal/agent"
	"cronagent/internal/domain"
	"cronagent/internal/platform/httpclient"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*bot.SendMessageParams
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, p)
	return &models.Message{ID: len(f.sent)}, nil
}

func failure(t domain.EventType) agent.Notification {
	return agent.Notification{Kind: agent.KindError, Type: t, Message: "boom"}
}

func TestThrottle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th := NewThrottle(time.Minute)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow("a"))
	assert.False(t, th.Allow("a"))
	assert.True(t, th.Allow("b"))

	now = now.Add(59 * time.Second)
	assert.False(t, th.Allow("a"))
	now = now.Add(time.Second)
	assert.True(t, th.Allow("a"))
	assert.False(t, th.Allow("a"), "the window restarts after a message")
}

func TestThrottle_ZeroWindow(t *testing.T) {
	th := NewThrottle(0)
	for range 3 {
		assert.True(t, th.Allow("a"))
	}
}

func TestNotifier_ThrottlesPerType(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier(s, 42, WithRate(time.Millisecond, 10))
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, failure(domain.EventInstanceFail)))
	require.NoError(t, n.Notify(ctx, failure(domain.EventInstanceFail)))
	require.NoError(t, n.Notify(ctx, failure(domain.EventRescheduleFail)))

	fatal := failure(domain.EventInstanceFail)
	fatal.Fatal = true
	require.NoError(t, n.Notify(ctx, fatal))

	require.Len(t, s.sent, 3)
	assert.Equal(t, int64(42), s.sent[0].ChatID)
	assert.True(t, strings.HasPrefix(s.sent[2].Text, "FATAL "))
}

func TestNotifier_SendError(t *testing.T) {
	n := NewNotifier(&fakeSender{err: errors.New("blocked")}, 1)
	err := n.Notify(context.Background(), failure(domain.EventFailure))
	assert.ErrorContains(t, err, "blocked")
}

func TestNotifier_CanceledWhileLimited(t *testing.T) {
	n := NewNotifier(&fakeSender{}, 1, WithRate(time.Hour, 1), WithWindow(0))
	require.NoError(t, n.Notify(context.Background(), failure(domain.EventFailure)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, n.Notify(ctx, failure(domain.EventFailure)))
}

func TestFormat(t *testing.T) {
	token := domain.ClaimToken("tok")
	key := domain.InstanceKey{Task: "mail", Instance: 2}
	text := Format(agent.Notification{
		Type:     domain.EventInstanceFail,
		Instance: &key,
		Message:  "unexpected result",
		RunBy:    &token,
		Time:     time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	assert.Contains(t, text, string(domain.EventInstanceFail))
	assert.Contains(t, text, key.String())
	assert.Contains(t, text, "unexpected result")
	assert.Contains(t, text, "run tok")
	assert.Contains(t, text, "2026-05-01T12:00:00Z")
}

func TestNotifier_ThroughBotAPI(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			gotChat = r.FormValue("chat_id")
			gotText = r.FormValue("text")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}))
	defer srv.Close()

	b, err := NewBot("123:abc", srv.URL, httpclient.New(httpclient.WithTimeout(5*time.Second)))
	require.NoError(t, err)
	n := NewNotifier(b, 42)

	require.NoError(t, n.Notify(context.Background(), failure(domain.EventFailure)))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "42", gotChat)
	assert.Contains(t, gotText, "boom")
}
