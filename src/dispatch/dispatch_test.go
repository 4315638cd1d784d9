package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Protocol-Lattice/fingpt-relay/src/conversation"
	"github.com/Protocol-Lattice/fingpt-relay/src/models"
	"github.com/Protocol-Lattice/fingpt-relay/src/relay"
	"github.com/Protocol-Lattice/fingpt-relay/src/render"
	"github.com/Protocol-Lattice/fingpt-relay/src/telegram"
)

type sent struct {
	chatID    int64
	text      string
	parseMode string
	document  string
}

type fakeAPI struct {
	mu      sync.Mutex
	files   map[string][]byte // file_id -> content
	replies []sent
	typing  int
	updates [][]telegram.Update
	sendErr error
}

func (f *fakeAPI) GetUpdates(ctx context.Context, offset int64, _ time.Duration) ([]telegram.Update, int64, error) {
	f.mu.Lock()
	if len(f.updates) > 0 {
		batch := f.updates[0]
		f.updates = f.updates[1:]
		f.mu.Unlock()
		next := offset
		for _, u := range batch {
			if u.UpdateID >= next {
				next = u.UpdateID + 1
			}
		}
		return batch, next, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, offset, ctx.Err()
}

func (f *fakeAPI) GetFile(_ context.Context, fileID string) (*telegram.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[fileID]
	if !ok {
		return nil, errors.New("telegram getFile: file not found")
	}
	return &telegram.File{FileID: fileID, FilePath: fileID, FileSize: int64(len(data))}, nil
}

func (f *fakeAPI) Download(_ context.Context, filePath, dst string, _ int64) (int64, error) {
	f.mu.Lock()
	data := f.files[filePath]
	f.mu.Unlock()
	return int64(len(data)), os.WriteFile(dst, data, 0o600)
}

func (f *fakeAPI) SendMessage(_ context.Context, chatID int64, text, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.replies = append(f.replies, sent{chatID: chatID, text: text, parseMode: parseMode})
	return nil
}

func (f *fakeAPI) SendDocument(_ context.Context, chatID int64, path, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sent{chatID: chatID, text: caption, document: path})
	return nil
}

func (f *fakeAPI) StartTyping(context.Context, int64, time.Duration) func() {
	f.mu.Lock()
	f.typing++
	f.mu.Unlock()
	return func() {}
}

func (f *fakeAPI) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.replies...)
}

type stubRelayer struct {
	mu       sync.Mutex
	payloads []relay.InboundPayload
	seen     []bool // whether each file existed during the call
	res      relay.Result
	err      error
}

func (s *stubRelayer) Relay(_ context.Context, p relay.InboundPayload) (relay.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	for _, f := range p.Files {
		_, err := os.Stat(f)
		s.seen = append(s.seen, err == nil)
	}
	return s.res, s.err
}

func message(chatID int64) *telegram.Message {
	return &telegram.Message{MessageID: 1, Chat: &telegram.Chat{ID: chatID}}
}

func newDispatcher(t *testing.T, api API, r Relayer, opts ...Option) *Dispatcher {
	t.Helper()
	opts = append([]Option{WithTempDir(t.TempDir()), WithPlainReplies(true)}, opts...)
	return New(api, r, opts...)
}

func TestStartGreets(t *testing.T) {
	api := &fakeAPI{}
	r := &stubRelayer{}
	d := newDispatcher(t, api, r)

	m := message(1)
	m.Text = "/start"
	d.Handle(context.Background(), telegram.Update{Message: m})

	got := api.all()
	if len(got) != 1 || got[0].text != Greeting {
		t.Fatalf("unexpected replies %+v", got)
	}
	if len(r.payloads) != 0 || api.typing != 0 {
		t.Fatal("the greeting must not relay or show typing")
	}
}

func TestTextIsRelayedTrimmed(t *testing.T) {
	api := &fakeAPI{}
	r := &stubRelayer{res: relay.Result{Text: "Buy index funds."}}
	d := newDispatcher(t, api, r)

	m := message(42)
	m.Text = "  What should I buy?  "
	d.Handle(context.Background(), telegram.Update{Message: m})

	if len(r.payloads) != 1 {
		t.Fatalf("expected one relay call, got %d", len(r.payloads))
	}
	p := r.payloads[0]
	if p.ConversationID != "42" || p.Text != "What should I buy?" || len(p.Files) != 0 {
		t.Fatalf("unexpected payload %+v", p)
	}
	if got := api.all(); len(got) != 1 || got[0].text != "Buy index funds." || got[0].chatID != 42 {
		t.Fatalf("unexpected replies %+v", got)
	}
}

func TestFailuresGetTheHandlersApology(t *testing.T) {
	cases := []struct {
		name    string
		build   func(*telegram.Message)
		apology string
	}{
		{"text", func(m *telegram.Message) { m.Text = "hello" }, ApologyText},
		{"document", func(m *telegram.Message) { m.Document = &telegram.Document{FileID: "doc", FileName: "a.csv"} }, ApologyDocument},
		{"photo", func(m *telegram.Message) { m.Photo = []telegram.PhotoSize{{FileID: "doc", Width: 10, Height: 10}} }, ApologyPhoto},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{files: map[string][]byte{"doc": []byte("a,b\n1,2\n")}}
			r := &stubRelayer{err: &relay.Error{Kind: relay.BackendError, Op: "send message", Err: errors.New("503")}}
			d := newDispatcher(t, api, r)

			m := message(7)
			tc.build(m)
			d.Handle(context.Background(), telegram.Update{Message: m})

			got := api.all()
			if len(got) != 1 || got[0].text != tc.apology {
				t.Fatalf("expected exactly the apology, got %+v", got)
			}
		})
	}
}

func TestMissingAttachments(t *testing.T) {
	api := &fakeAPI{}
	d := newDispatcher(t, api, &stubRelayer{})

	doc := message(1)
	doc.Document = &telegram.Document{}
	d.Handle(context.Background(), telegram.Update{Message: doc})

	photo := message(1)
	photo.Photo = []telegram.PhotoSize{}
	d.Handle(context.Background(), telegram.Update{Message: photo})

	got := api.all()
	if len(got) != 2 || got[0].text != MissingDocument || got[1].text != MissingPhoto {
		t.Fatalf("unexpected replies %+v", got)
	}
}

func TestDocumentDownloadedAndCleanedUp(t *testing.T) {
	api := &fakeAPI{files: map[string][]byte{"f1": []byte("a,b\n1,2\n")}}
	r := &stubRelayer{res: relay.Result{Text: "ok"}}
	d := newDispatcher(t, api, r)

	m := message(3)
	m.Caption = "  analyse this "
	m.Document = &telegram.Document{FileID: "f1", FileName: "../../q3.csv"}
	d.Handle(context.Background(), telegram.Update{Message: m})

	if len(r.payloads) != 1 {
		t.Fatalf("expected one relay call, got %d", len(r.payloads))
	}
	p := r.payloads[0]
	if p.Text != "analyse this" || len(p.Files) != 1 || filepath.Base(p.Files[0]) != "q3.csv" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if !r.seen[0] {
		t.Fatal("the file must exist while relaying")
	}
	if _, err := os.Stat(p.Files[0]); !os.IsNotExist(err) {
		t.Fatal("the per-message download directory must be removed")
	}
	if api.typing != 1 {
		t.Fatalf("expected a typing indicator, got %d", api.typing)
	}
}

func TestPhotoUsesLargestVariant(t *testing.T) {
	api := &fakeAPI{files: map[string][]byte{"big": []byte("\xff\xd8\xff\xe0big"), "small": []byte("small")}}
	r := &stubRelayer{res: relay.Result{Text: "nice chart"}}
	d := newDispatcher(t, api, r)

	m := message(3)
	m.Photo = []telegram.PhotoSize{{FileID: "small", Width: 90, Height: 90}, {FileID: "big", Width: 800, Height: 600}}
	d.Handle(context.Background(), telegram.Update{Message: m})

	if len(r.payloads) != 1 || filepath.Base(r.payloads[0].Files[0]) != PhotoFileName {
		t.Fatalf("unexpected payloads %+v", r.payloads)
	}
}

func TestExtensionlessDocumentGetsSniffedExtension(t *testing.T) {
	api := &fakeAPI{files: map[string][]byte{"f": []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")}}
	r := &stubRelayer{res: relay.Result{Text: "ok"}}
	d := newDispatcher(t, api, r)

	m := message(3)
	m.Document = &telegram.Document{FileID: "f", FileName: "statement"}
	d.Handle(context.Background(), telegram.Update{Message: m})

	if len(r.payloads) != 1 || filepath.Base(r.payloads[0].Files[0]) != "statement.pdf" {
		t.Fatalf("expected statement.pdf, got %+v", r.payloads)
	}
}

func TestDocumentResultIsSentAsFile(t *testing.T) {
	api := &fakeAPI{}
	r := &stubRelayer{res: relay.Result{Text: "Here is your PDF", Files: []string{"/tmp/FinGPT_Response.pdf"}, Document: true}}
	d := newDispatcher(t, api, r)

	m := message(5)
	m.Text = "generate pdf"
	d.Handle(context.Background(), telegram.Update{Message: m})

	got := api.all()
	if len(got) != 1 || got[0].document != "/tmp/FinGPT_Response.pdf" || got[0].text != "Here is your PDF" {
		t.Fatalf("unexpected replies %+v", got)
	}
}

func TestIgnoredUpdates(t *testing.T) {
	api := &fakeAPI{}
	r := &stubRelayer{}
	d := newDispatcher(t, api, r, WithAllowedChats([]int64{1}))

	other := message(2)
	other.Text = "hi"
	cmd := message(1)
	cmd.Text = "/help"
	empty := message(1)

	for _, u := range []telegram.Update{
		{EditedMessage: message(1)},
		{Message: other},
		{Message: cmd},
		{Message: empty},
	} {
		d.Handle(context.Background(), u)
	}
	if len(api.all()) != 0 || len(r.payloads) != 0 {
		t.Fatalf("expected no activity, got replies %+v payloads %+v", api.all(), r.payloads)
	}
}

func TestLongRepliesAreChunked(t *testing.T) {
	api := &fakeAPI{}
	long := strings.Repeat("word ", 2000)
	d := newDispatcher(t, api, &stubRelayer{res: relay.Result{Text: long}})

	m := message(1)
	m.Text = "essay please"
	d.Handle(context.Background(), telegram.Update{Message: m})

	got := api.all()
	if len(got) < 3 {
		t.Fatalf("expected several chunks, got %d", len(got))
	}
	for _, s := range got {
		if len([]rune(s.text)) > 3500 {
			t.Fatalf("chunk too long: %d", len([]rune(s.text)))
		}
	}
}

func TestHTMLReplies(t *testing.T) {
	api := &fakeAPI{}
	d := New(api, &stubRelayer{res: relay.Result{Text: "**Net margin** is 12%"}}, WithTempDir(t.TempDir()))

	m := message(1)
	m.Text = "margin?"
	d.Handle(context.Background(), telegram.Update{Message: m})

	got := api.all()
	if len(got) != 1 || got[0].parseMode != "HTML" || got[0].text != "<strong>Net margin</strong> is 12%" {
		t.Fatalf("unexpected replies %+v", got)
	}
}

func TestHTMLParseErrorFallsBackToPlain(t *testing.T) {
	api := &htmlRejectingAPI{}
	d := New(api, &stubRelayer{res: relay.Result{Text: "**bold**"}}, WithTempDir(t.TempDir()))

	m := message(1)
	m.Text = "q"
	d.Handle(context.Background(), telegram.Update{Message: m})

	got := api.all()
	if len(got) != 1 || got[0].parseMode != "" || got[0].text != "**bold**" {
		t.Fatalf("expected a plain fallback, got %+v", got)
	}
}

type htmlRejectingAPI struct{ fakeAPI }

func (h *htmlRejectingAPI) SendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	if parseMode == "HTML" {
		return &telegram.RequestError{Method: "sendMessage", StatusCode: 400, Description: "Bad Request: can't parse entities"}
	}
	return h.fakeAPI.SendMessage(ctx, chatID, text, parseMode)
}

func TestRunWithRelay(t *testing.T) {
	backend := models.NewDummyBackend("echo:")
	store := conversation.NewStore(backend)
	rl := relay.New(store, relay.WithRenderer(render.New(t.TempDir(), "")))

	first := message(9)
	first.Text = "hello"
	second := message(9)
	second.Text = "Generate PDF"
	api := &fakeAPI{updates: [][]telegram.Update{{{UpdateID: 1, Message: first}}}}
	d := newDispatcher(t, api, rl, WithConcurrency(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, func() bool { return len(api.all()) == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	// Same conversation, after the first reply has been rendered.
	d.Handle(context.Background(), telegram.Update{UpdateID: 2, Message: second})

	got := api.all()
	if got[0].text != "echo: hello" {
		t.Fatalf("unexpected first reply %+v", got[0])
	}
	last := got[len(got)-1]
	if last.document == "" || last.text != relay.ReplyDocument {
		t.Fatalf("expected the generated PDF, got %+v", last)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSafeFileName(t *testing.T) {
	cases := map[string]string{
		"report.csv":       "report.csv",
		"../../etc/passwd": "passwd",
		`C:\tmp\x.pdf`:     "x.pdf",
		"":                 "upload",
		"..":               "upload",
	}
	for in, want := range cases {
		if got := safeFileName(in); got != want {
			t.Errorf("safeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
