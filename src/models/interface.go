package models

import (
	"context"
	"strings"
)

// Part is one element of a message sent to a Session.
// A part is either text (MIME empty) or a blob tagged with its media type.
type Part struct {
	Name string
	Text string
	MIME string
	Data []byte
}

// Text builds a text part.
func Text(s string) Part { return Part{Text: s} }

// Blob builds a binary part. Name is used for display only.
func Blob(name, mime string, data []byte) Part {
	return Part{Name: name, MIME: mime, Data: data}
}

// IsText reports whether the part carries text rather than a blob.
func (p Part) IsText() bool { return strings.TrimSpace(p.MIME) == "" }

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is a text-only history entry used to seed a new session.
type Turn struct {
	Role Role
	Text string
}

// GenerationConfig is fixed when a session is created.
type GenerationConfig struct {
	SystemInstruction string
	Temperature       float32
	MaxOutputTokens   int32
	TopP              float32
	TopK              int32
}

// Session is a stateful conversation with a backend. History grows on every
// successful Send. Implementations are not safe for concurrent Send calls.
type Session interface {
	Send(ctx context.Context, parts []Part) (string, error)
	History() []Turn
}

// Backend creates sessions against one provider/model pair.
type Backend interface {
	Name() string
	// Accepts reports whether a blob of the given media type can be sent as-is.
	Accepts(mime string) bool
	NewSession(ctx context.Context, history []Turn) (Session, error)
	Close() error
}
