package relay

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the relay and its callers.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	AttachmentError
	BackendError
	RenderError
	ConfigError
)

func (k ErrorKind) String() string {
	switch k {
	case AttachmentError:
		return "attachment"
	case BackendError:
		return "backend"
	case RenderError:
		return "render"
	case ConfigError:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the step that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error wrapping a formatted cause.
func Errorf(kind ErrorKind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}
