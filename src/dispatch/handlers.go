package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/Protocol-Lattice/fingpt-relay/src/format"
	"github.com/Protocol-Lattice/fingpt-relay/src/metrics"
	"github.com/Protocol-Lattice/fingpt-relay/src/relay"
	"github.com/Protocol-Lattice/fingpt-relay/src/telegram"
)

// handler turns a message into a result. relays marks handlers that call
// the model and therefore show a typing indicator.
type handler struct {
	name    string
	apology string
	relays  bool
	run     func(ctx context.Context, msg *telegram.Message) (relay.Result, error)
}

// errMissing is a handled upload event without a usable attachment. Its
// text is sent as the reply.
type errMissing struct{ reply string }

func (e errMissing) Error() string { return e.reply }

func (d *Dispatcher) route(msg *telegram.Message) (handler, bool) {
	switch {
	case msg.Command() == "start":
		return handler{name: "start", run: d.handleStart}, true
	case msg.Command() != "":
		return handler{}, false
	case msg.Document != nil:
		return handler{name: "document", apology: ApologyDocument, relays: true, run: d.handleDocument}, true
	case msg.Photo != nil:
		return handler{name: "photo", apology: ApologyPhoto, relays: true, run: d.handlePhoto}, true
	case strings.TrimSpace(msg.Text) != "":
		return handler{name: "text", apology: ApologyText, relays: true, run: d.handleText}, true
	default:
		return handler{}, false
	}
}

// guard runs h and sends its result, or the handler's apology when it fails.
func (d *Dispatcher) guard(ctx context.Context, chatID int64, msg *telegram.Message, h handler) {
	if h.relays {
		stop := d.api.StartTyping(ctx, chatID, d.typingInterval)
		defer stop()
	}

	started := time.Now()
	res, err := d.runSafely(ctx, msg, h)
	if h.relays {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RelayDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	}

	var missing errMissing
	switch {
	case errors.As(err, &missing):
		res = relay.Result{Text: missing.reply}
	case err != nil:
		kind := relay.KindOf(err)
		metrics.HandlerErrors.WithLabelValues(h.name, kind.String()).Inc()
		d.logger.Error("dispatch_handler_error",
			"handler", h.name,
			"chat_id", chatID,
			"kind", kind.String(),
			"error", err.Error(),
		)
		res = relay.Result{Text: h.apology}
	}

	if err := d.deliver(ctx, chatID, res); err != nil {
		metrics.HandlerErrors.WithLabelValues(h.name, "delivery").Inc()
		d.logger.Error("telegram_send_error", "handler", h.name, "chat_id", chatID, "error", err.Error())
	}
}

func (d *Dispatcher) runSafely(ctx context.Context, msg *telegram.Message, h handler) (res relay.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler panic: %v", h.name, r)
		}
	}()
	return h.run(ctx, msg)
}

func (d *Dispatcher) handleStart(context.Context, *telegram.Message) (relay.Result, error) {
	return relay.Result{Text: Greeting}, nil
}

func (d *Dispatcher) handleText(ctx context.Context, msg *telegram.Message) (relay.Result, error) {
	return d.relayer.Relay(ctx, relay.InboundPayload{
		ConversationID: conversationID(msg.ChatID()),
		Text:           strings.TrimSpace(msg.Text),
	})
}

func (d *Dispatcher) handleDocument(ctx context.Context, msg *telegram.Message) (relay.Result, error) {
	doc := msg.Document
	if doc == nil || strings.TrimSpace(doc.FileID) == "" {
		return relay.Result{}, errMissing{reply: MissingDocument}
	}
	return d.relayUpload(ctx, msg, "document", doc.FileID, safeFileName(doc.FileName))
}

func (d *Dispatcher) handlePhoto(ctx context.Context, msg *telegram.Message) (relay.Result, error) {
	photo := msg.LargestPhoto()
	if photo == nil || strings.TrimSpace(photo.FileID) == "" {
		return relay.Result{}, errMissing{reply: MissingPhoto}
	}
	return d.relayUpload(ctx, msg, "photo", photo.FileID, PhotoFileName)
}

// relayUpload downloads one file into a directory that lives as long as the
// call and relays it with the caption as text.
func (d *Dispatcher) relayUpload(ctx context.Context, msg *telegram.Message, kind, fileID, name string) (relay.Result, error) {
	dir := filepath.Join(d.tempRoot, "fingpt-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return relay.Result{}, &relay.Error{Kind: relay.AttachmentError, Op: "create temp dir", Err: err}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			d.logger.Warn("dispatch_cleanup_error", "dir", dir, "error", err.Error())
		}
	}()

	path, err := d.download(ctx, fileID, filepath.Join(dir, name))
	if err != nil {
		return relay.Result{}, &relay.Error{Kind: relay.AttachmentError, Op: "download " + kind, Err: err}
	}
	metrics.AttachmentsTotal.WithLabelValues(kind).Inc()

	return d.relayer.Relay(ctx, relay.InboundPayload{
		ConversationID: conversationID(msg.ChatID()),
		Text:           strings.TrimSpace(msg.Caption),
		Files:          []string{path},
	})
}

// download saves the file and, when the name has no extension, adds one
// derived from the content so the resolver can type it.
func (d *Dispatcher) download(ctx context.Context, fileID, dst string) (string, error) {
	f, err := d.api.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	if d.maxFileBytes > 0 && f.FileSize > d.maxFileBytes {
		return "", fmt.Errorf("%w (%d bytes)", telegram.ErrFileTooLarge, f.FileSize)
	}
	if _, err := d.api.Download(ctx, f.FilePath, dst, d.maxFileBytes); err != nil {
		return "", err
	}
	if filepath.Ext(dst) != "" {
		return dst, nil
	}
	mt, err := mimetype.DetectFile(dst)
	if err != nil || mt.Extension() == "" {
		return dst, nil
	}
	renamed := dst + mt.Extension()
	if err := os.Rename(dst, renamed); err != nil {
		return "", err
	}
	return renamed, nil
}

// deliver sends a document result as a file and anything else as text.
func (d *Dispatcher) deliver(ctx context.Context, chatID int64, res relay.Result) error {
	if len(res.Files) > 0 {
		caption := res.Text
		for _, f := range res.Files {
			if err := d.api.SendDocument(ctx, chatID, f, caption); err != nil {
				return err
			}
			caption = ""
		}
		return nil
	}

	chunks := format.Chunk(res.Text, format.MaxChunk)
	if len(chunks) == 0 {
		chunks = []string{"(empty response)"}
	}
	for _, chunk := range chunks {
		if err := d.sendText(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) sendText(ctx context.Context, chatID int64, text string) error {
	if d.plainReplies {
		return d.api.SendMessage(ctx, chatID, text, "")
	}
	html, err := format.TelegramHTML(text)
	if err == nil && html != "" {
		err = d.api.SendMessage(ctx, chatID, html, "HTML")
		if err == nil || !telegram.IsParseError(err) {
			return err
		}
		d.logger.Debug("telegram_html_rejected", "chat_id", chatID, "error", err.Error())
	}
	return d.api.SendMessage(ctx, chatID, text, "")
}

// safeFileName keeps the base name of an uploaded file, replacing names
// that could escape the download directory.
func safeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "upload"
	}
	return name
}
