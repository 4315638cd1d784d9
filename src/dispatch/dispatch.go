// Package dispatch routes Telegram updates to the relay and sends exactly one
// reply per handled message.
package dispatch

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/Protocol-Lattice/fingpt-relay/src/concurrent"
	"github.com/Protocol-Lattice/fingpt-relay/src/metrics"
	"github.com/Protocol-Lattice/fingpt-relay/src/relay"
	"github.com/Protocol-Lattice/fingpt-relay/src/telegram"
)

const (
	Greeting = "Hi! Send me a message and I'll reply."

	ApologyText     = "Something went wrong while processing your message."
	ApologyDocument = "Something went wrong while processing the file."
	ApologyPhoto    = "Error processing the image."

	MissingDocument = "File upload error."
	MissingPhoto    = "No photo found."

	// PhotoFileName is the name uploaded photos are saved under.
	PhotoFileName = "uploaded_photo.jpg"
)

// API is the subset of the Bot API the dispatcher uses.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, int64, error)
	GetFile(ctx context.Context, fileID string) (*telegram.File, error)
	Download(ctx context.Context, filePath, dst string, maxBytes int64) (int64, error)
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
	StartTyping(ctx context.Context, chatID int64, interval time.Duration) (stop func())
}

// Relayer is implemented by *relay.Relay.
type Relayer interface {
	Relay(ctx context.Context, p relay.InboundPayload) (relay.Result, error)
}

type Dispatcher struct {
	api     API
	relayer Relayer
	logger  *slog.Logger
	pool    *concurrent.WorkerPool

	allowed        map[int64]bool
	pollTimeout    time.Duration
	maxFileBytes   int64
	plainReplies   bool
	tempRoot       string
	typingInterval time.Duration
	retryDelay     time.Duration
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithConcurrency bounds how many updates are handled at once.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) { d.pool = concurrent.NewWorkerPool(n) }
}

// WithAllowedChats restricts handling to the given chats. An empty list
// allows every chat.
func WithAllowedChats(ids []int64) Option {
	return func(d *Dispatcher) {
		if len(ids) == 0 {
			d.allowed = nil
			return
		}
		d.allowed = make(map[int64]bool, len(ids))
		for _, id := range ids {
			d.allowed[id] = true
		}
	}
}

func WithPollTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.pollTimeout = t
		}
	}
}

func WithMaxFileBytes(n int64) Option {
	return func(d *Dispatcher) { d.maxFileBytes = n }
}

// WithPlainReplies disables HTML formatting of replies.
func WithPlainReplies(on bool) Option {
	return func(d *Dispatcher) { d.plainReplies = on }
}

// WithTempDir sets where per-message download directories are created.
func WithTempDir(dir string) Option {
	return func(d *Dispatcher) { d.tempRoot = dir }
}

func WithTypingInterval(t time.Duration) Option {
	return func(d *Dispatcher) { d.typingInterval = t }
}

func New(api API, relayer Relayer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		api:            api,
		relayer:        relayer,
		logger:         slog.Default(),
		pool:           concurrent.NewWorkerPool(8),
		pollTimeout:    30 * time.Second,
		maxFileBytes:   telegram.DefaultMaxFileBytes,
		typingInterval: 4 * time.Second,
		retryDelay:     2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tempRoot == "" {
		d.tempRoot = os.TempDir()
	}
	return d
}

// Run polls for updates until ctx ends, handing each to the worker pool, and
// waits for in-flight handlers before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.pool.Wait()
	var offset int64
	for {
		updates, next, err := d.api.GetUpdates(ctx, offset, d.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if telegram.IsPollTimeout(err) {
				continue
			}
			d.logger.Warn("telegram_get_updates_error", "error", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.retryDelay):
			}
			continue
		}
		offset = next
		for _, u := range updates {
			u := u
			if err := d.pool.Go(ctx, func() { d.Handle(ctx, u) }); err != nil {
				return nil
			}
		}
	}
}

// Handle routes one update. Updates without a supported message are ignored.
func (d *Dispatcher) Handle(ctx context.Context, u telegram.Update) {
	msg := u.Message
	if msg == nil || msg.Chat == nil {
		d.logger.Debug("telegram_update_ignored", "update_id", u.UpdateID)
		return
	}
	chatID := msg.ChatID()
	if d.allowed != nil && !d.allowed[chatID] {
		d.logger.Debug("telegram_chat_not_allowed", "chat_id", chatID)
		return
	}
	h, ok := d.route(msg)
	if !ok {
		d.logger.Debug("telegram_message_ignored", "chat_id", chatID, "message_id", msg.MessageID)
		return
	}
	metrics.UpdatesTotal.WithLabelValues(h.name).Inc()
	d.guard(ctx, chatID, msg, h)
}

func conversationID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
