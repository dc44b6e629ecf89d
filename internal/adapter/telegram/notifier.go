// Package telegram forwards agent failures to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"cronagent/internal/agent"
	"cronagent/internal/platform/httpclient"
)

// DefaultWindow is the per-kind throttle window.
const DefaultWindow = time.Minute

// Sender is the part of *bot.Bot the notifier uses.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Notifier implements agent.Notifier.
type Notifier struct {
	sender   Sender
	chatID   int64
	throttle *Throttle
	limiter  *rate.Limiter
	log      *slog.Logger
}

// Option configures Notifier.
type Option func(*Notifier)

// WithWindow sets the per-kind throttle window.
func WithWindow(d time.Duration) Option {
	return func(n *Notifier) { n.throttle = NewThrottle(d) }
}

// WithRate caps the overall send rate.
func WithRate(every time.Duration, burst int) Option {
	return func(n *Notifier) { n.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.log = l
		}
	}
}

// NewNotifier creates a notifier sending to chatID.
func NewNotifier(sender Sender, chatID int64, opts ...Option) *Notifier {
	n := &Notifier{
		sender:   sender,
		chatID:   chatID,
		throttle: NewThrottle(DefaultWindow),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 3),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	n.log = n.log.With("component", "telegram")
	return n
}

// NewBot creates a send-only bot. serverURL may be empty for the public API.
func NewBot(token, serverURL string, client *httpclient.Client) (*bot.Bot, error) {
	opts := []bot.Option{bot.WithSkipGetMe()}
	if serverURL != "" {
		opts = append(opts, bot.WithServerURL(serverURL))
	}
	if client != nil {
		opts = append(opts, bot.WithHTTPClient(time.Minute, doer{client}))
	}
	return bot.New(token, opts...)
}

// doer adapts httpclient.Client to the bot's client interface.
type doer struct{ c *httpclient.Client }

func (d doer) Do(req *http.Request) (*http.Response, error) {
	return d.c.Do(req.Context(), req)
}

// Notify sends n unless a message of the same type went out within the
// window. Fatal events are never throttled.
func (n *Notifier) Notify(ctx context.Context, note agent.Notification) error {
	if !note.Fatal && !n.throttle.Allow(string(note.Type)) {
		n.log.Debug("notification throttled", "type", string(note.Type))
		return nil
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   Format(note),
	})
	if err != nil {
		n.log.Warn("send failed", "type", string(note.Type), "error", err)
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// Format renders a notification as plain text.
func Format(n agent.Notification) string {
	var b strings.Builder
	if n.Fatal {
		b.WriteString("FATAL ")
	}
	b.WriteString(string(n.Type))
	if n.Instance != nil {
		b.WriteString(" ")
		b.WriteString(n.Instance.String())
	}
	if n.Message != "" {
		b.WriteString("\n")
		b.WriteString(n.Message)
	}
	if n.RunBy != nil {
		b.WriteString("\nrun ")
		b.WriteString(n.RunBy.String())
	}
	if !n.Time.IsZero() {
		b.WriteString("\n")
		b.WriteString(n.Time.UTC().Format(time.RFC3339))
	}
	return b.String()
}
