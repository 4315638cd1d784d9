package models

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DummyBackend is a lightweight backend useful for local testing without API calls.
// Every session echoes the message it received and records it.
type DummyBackend struct {
	Prefix string
	// Err, when set, is returned by every Send.
	Err error

	mu   sync.Mutex
	sent [][]Part
}

func NewDummyBackend(prefix string) *DummyBackend {
	if strings.TrimSpace(prefix) == "" {
		prefix = "Dummy response:"
	}
	return &DummyBackend{Prefix: prefix}
}

func (d *DummyBackend) Name() string { return "dummy" }

func (d *DummyBackend) Accepts(mt string) bool { return strings.TrimSpace(mt) != "" }

func (d *DummyBackend) NewSession(_ context.Context, history []Turn) (Session, error) {
	s := &dummySession{backend: d}
	s.recorder.turns = append(s.recorder.turns, history...)
	return s, nil
}

func (d *DummyBackend) Close() error { return nil }

// Sent returns every message sent through any session, oldest first.
func (d *DummyBackend) Sent() [][]Part {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]Part, len(d.sent))
	copy(out, d.sent)
	return out
}

type dummySession struct {
	backend  *DummyBackend
	recorder turnRecorder
}

func (s *dummySession) Send(_ context.Context, parts []Part) (string, error) {
	d := s.backend
	d.mu.Lock()
	d.sent = append(d.sent, append([]Part(nil), parts...))
	err := d.Err
	d.mu.Unlock()
	if err != nil {
		return "", err
	}

	prompt := textOf(parts)
	var b strings.Builder
	b.WriteString(d.Prefix)
	if last := lastNonEmptyLine(prompt); last != "" {
		b.WriteString(" ")
		b.WriteString(last)
	} else {
		b.WriteString(" <empty prompt>")
	}
	for _, p := range parts {
		if p.IsText() || isTextMIME(p.MIME) {
			continue
		}
		fmt.Fprintf(&b, " [%s (%s)]", p.Name, p.MIME)
	}
	reply := b.String()
	s.recorder.record(prompt, reply)
	return reply, nil
}

func (s *dummySession) History() []Turn { return s.recorder.History() }

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if candidate := strings.TrimSpace(lines[i]); candidate != "" {
			return candidate
		}
	}
	return ""
}

var _ Backend = (*DummyBackend)(nil)
