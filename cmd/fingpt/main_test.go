package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Protocol-Lattice/fingpt-relay/src/conversation"
	"github.com/Protocol-Lattice/fingpt-relay/src/journal"
	"github.com/Protocol-Lattice/fingpt-relay/src/models"
	"github.com/Protocol-Lattice/fingpt-relay/src/relay"
)

func TestGetMessage(t *testing.T) {
	cases := []struct {
		name     string
		flag     string
		stdin    bool
		input    string
		expected string
	}{
		{"flag", "hello", false, "ignored", "hello"},
		{"stdin", "ignored", true, "line one\nline two\n\n", "line one\nline two"},
		{"empty stdin", "", true, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := getMessage(tc.flag, tc.stdin, strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("getMessage returned error: %v", err)
			}
			if got != tc.expected {
				t.Fatalf("getMessage = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestPrintResult(t *testing.T) {
	res := relay.Result{Text: relay.ReplyDocument, Files: []string{"/tmp/FinGPT_Response.pdf"}, Document: true}

	var plain bytes.Buffer
	if err := printResult(&plain, res, "dummy", "", false); err != nil {
		t.Fatalf("printResult returned error: %v", err)
	}
	if plain.String() != "Here is your PDF\n/tmp/FinGPT_Response.pdf\n" {
		t.Fatalf("unexpected output %q", plain.String())
	}

	var js bytes.Buffer
	if err := printResult(&js, res, "dummy", "m", true); err != nil {
		t.Fatalf("printResult returned error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["response"] != relay.ReplyDocument || decoded["provider"] != "dummy" || decoded["document"] != true {
		t.Fatalf("unexpected json %v", decoded)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version returned error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "fingpt dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestAskWithDummyBackend(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FINGPT_RENDER_DIR", dir)
	t.Setenv("FINGPT_JOURNAL_DRIVER", "memory")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--provider", "dummy", "--env-file", filepath.Join(dir, "missing.env"), "ask", "-m", "net worth?"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("ask returned error: %v", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		t.Fatal("expected a reply on stdout")
	}
	if _, err := os.Stat(filepath.Join(dir, "FinGPT_Response_cli.pdf")); err != nil {
		t.Fatalf("expected rendered pdf: %v", err)
	}
}

func TestAskRequiresInput(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--provider", "dummy", "ask"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error without message or files")
	}
}

func TestJanitorInterval(t *testing.T) {
	cases := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{0, 0},
		{time.Minute, time.Minute},
		{24 * time.Hour, 6 * time.Hour},
	}
	for _, tc := range cases {
		if got := janitorInterval(tc.ttl); got != tc.want {
			t.Fatalf("janitorInterval(%v) = %v, want %v", tc.ttl, got, tc.want)
		}
	}
}

func TestServeRejectsBadAllowList(t *testing.T) {
	t.Setenv("FINGPT_TELEGRAM_TOKEN", "t")
	t.Setenv("FINGPT_TELEGRAM_ALLOWED_CHATS", "not-a-chat")

	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--provider", "dummy", "--env-file", filepath.Join(t.TempDir(), "none"), "serve"})
	err := cmd.Execute()
	if relay.KindOf(err) != relay.ConfigError {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

type closeFailingJournal struct{ journal.Nop }

func (closeFailingJournal) Close() error { return errors.New("disk gone") }

func TestAppCloseReportsErrors(t *testing.T) {
	backend := models.NewDummyBackend("")
	a := &app{
		backend:         backend,
		journal:         closeFailingJournal{},
		store:           conversation.NewStore(backend),
		shutdownTracing: func(context.Context) error { return nil },
	}
	err := a.Close()
	if err == nil || !strings.Contains(err.Error(), "close journal: disk gone") {
		t.Fatalf("expected the journal close error, got %v", err)
	}
}
