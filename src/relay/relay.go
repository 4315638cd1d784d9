// Package relay forwards an inbound message, with its attachments, to the
// conversation's AI session and turns the reply into a result and a PDF.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Protocol-Lattice/fingpt-relay/src/attachment"
	"github.com/Protocol-Lattice/fingpt-relay/src/conversation"
	"github.com/Protocol-Lattice/fingpt-relay/src/journal"
	"github.com/Protocol-Lattice/fingpt-relay/src/models"
	"github.com/Protocol-Lattice/fingpt-relay/src/render"
)

const (
	// ShortcutPhrase fetches the latest rendered reply instead of asking the model.
	ShortcutPhrase = "generate pdf"

	ReplyDocument   = "Here is your PDF"
	ReplyNoDocument = "No PDF has been generated yet."

	// MaxFiles bounds the attachments accepted in one payload.
	MaxFiles = 10
)

// InboundPayload is one user message normalised by the dispatcher.
type InboundPayload struct {
	ConversationID string
	Text           string
	Files          []string
}

// Validate checks the payload shape. Blank paths are not an error; the
// loader skips them like any other missing file.
func (p InboundPayload) Validate() error {
	if len(p.Files) > MaxFiles {
		return Errorf(AttachmentError, "validate", "%d files exceeds the limit of %d", len(p.Files), MaxFiles)
	}
	return nil
}

// Result is what the dispatcher sends back. Files is only set by the
// shortcut.
type Result struct {
	Text     string
	Files    []string
	Document bool
}

// IsShortcut reports whether text is the reserved document request.
func IsShortcut(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), ShortcutPhrase)
}

// Relay is safe for concurrent use. Calls for the same conversation are
// serialised by the store.
type Relay struct {
	store       *conversation.Store
	renderer    *render.Renderer
	loader      *attachment.Loader
	logger      *slog.Logger
	tracer      trace.Tracer
	timeout     time.Duration
	warnDropped bool
}

type Option func(*Relay)

func WithRenderer(r *render.Renderer) Option {
	return func(rl *Relay) {
		if r != nil {
			rl.renderer = r
		}
	}
}

func WithLoader(l *attachment.Loader) Option {
	return func(rl *Relay) {
		if l != nil {
			rl.loader = l
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(rl *Relay) {
		if l != nil {
			rl.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(rl *Relay) {
		if t != nil {
			rl.tracer = t
		}
	}
}

// WithTimeout bounds each backend call. Zero waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(rl *Relay) { rl.timeout = d }
}

// WithWarnDropped appends a note naming skipped attachments to replies.
func WithWarnDropped(on bool) Option {
	return func(rl *Relay) { rl.warnDropped = on }
}

// New returns a relay using store for sessions and document slots.
func New(store *conversation.Store, opts ...Option) *Relay {
	r := &Relay{
		store:    store,
		renderer: render.New("", ""),
		loader:   &attachment.Loader{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/Protocol-Lattice/fingpt-relay/src/relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Relay handles one payload. A shortcut request returns the latest document
// without contacting the backend; any other request is sent to the model
// and its reply rendered into the conversation's document slot.
func (r *Relay) Relay(ctx context.Context, p InboundPayload) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "relay.Relay", trace.WithAttributes(
		attribute.String("conversation.id", p.ConversationID),
		attribute.Int("relay.files", len(p.Files)),
	))
	defer span.End()

	res, err := r.relay(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
	}
	return res, err
}

func (r *Relay) relay(ctx context.Context, p InboundPayload) (Result, error) {
	conv, release, err := r.store.Acquire(ctx, p.ConversationID)
	if err != nil {
		return Result{}, &Error{Kind: BackendError, Op: "acquire conversation", Err: err}
	}
	defer release()

	// The shortcut never looks at attachments.
	if IsShortcut(p.Text) {
		return r.latestDocument(conv), nil
	}
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	parts, dropped := r.loader.LoadAll(ctx, p.Files)
	parts, rejected := r.adapt(parts)
	dropped = append(dropped, rejected...)

	message := make([]models.Part, 0, len(parts)+1)
	message = append(message, models.Text(p.Text))
	message = append(message, parts...)

	sess, err := r.store.Session(ctx, conv)
	if err != nil {
		return Result{}, &Error{Kind: BackendError, Op: "open session", Err: err}
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	started := time.Now()
	reply, err := sess.Send(callCtx, message)
	if err != nil {
		r.logger.Error("relay_backend_error", "conversation", p.ConversationID, "error", err.Error())
		return Result{}, &Error{Kind: BackendError, Op: "send message", Err: err}
	}
	reply = strings.TrimSpace(reply)
	r.logger.Debug("relay_backend_reply",
		"conversation", p.ConversationID,
		"parts", len(message),
		"reply_len", len(reply),
		"elapsed", time.Since(started),
	)

	path, err := r.renderer.Render(r.renderer.NameFor(p.ConversationID), reply)
	if err != nil {
		return Result{}, &Error{Kind: RenderError, Op: "render reply", Err: err}
	}
	conv.SetLatestDocument(path)

	r.record(ctx, p, parts, reply, path)

	text := reply
	if r.warnDropped && len(dropped) > 0 {
		text += "\n\n" + droppedNote(dropped)
	}
	return Result{Text: text}, nil
}

func (r *Relay) latestDocument(conv *conversation.Conversation) Result {
	doc := conv.LatestDocument()
	if !render.Exists(doc) {
		return Result{Text: ReplyNoDocument}
	}
	return Result{Text: ReplyDocument, Files: []string{doc}, Document: true}
}

var errNotAccepted = errors.New("media type not accepted by backend")

// adapt keeps the parts the backend can take. PDFs are converted to text
// for backends that cannot read them natively; other rejected blobs are
// dropped.
func (r *Relay) adapt(parts []models.Part) (kept []models.Part, dropped []attachment.Dropped) {
	backend := r.store.Backend()
	for _, part := range parts {
		if part.IsText() || backend.Accepts(part.MIME) {
			kept = append(kept, part)
			continue
		}
		if part.MIME == "application/pdf" {
			text, err := attachment.ExtractPDFText(part.Data)
			if err == nil && text != "" {
				kept = append(kept, models.Part{Name: part.Name, Text: part.Name + ":\n" + text})
				continue
			}
			if err == nil {
				err = errors.New("no extractable text")
			}
			dropped = append(dropped, attachment.Dropped{Path: part.Name, Reason: err})
			continue
		}
		r.logger.Debug("attachment_rejected", "name", part.Name, "mime", part.MIME, "backend", backend.Name())
		dropped = append(dropped, attachment.Dropped{
			Path:   part.Name,
			Reason: fmt.Errorf("%s: %w", part.MIME, errNotAccepted),
		})
	}
	return kept, dropped
}

func (r *Relay) record(ctx context.Context, p InboundPayload, parts []models.Part, reply, doc string) {
	j := r.store.Journal()
	if j == nil {
		return
	}
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		names = append(names, part.Name)
	}
	err := j.Record(ctx, journal.Exchange{
		ConversationID: p.ConversationID,
		UserText:       p.Text,
		Attachments:    names,
		Reply:          reply,
		Document:       doc,
	})
	if err != nil {
		r.logger.Warn("relay_journal_error", "conversation", p.ConversationID, "error", err.Error())
	}
}

func droppedNote(dropped []attachment.Dropped) string {
	names := make([]string, 0, len(dropped))
	for _, d := range dropped {
		names = append(names, filepath.Base(d.Path))
	}
	return "(Skipped unsupported files: " + strings.Join(names, ", ") + ")"
}
