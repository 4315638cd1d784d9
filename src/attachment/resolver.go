// Package attachment turns local files into message parts for the AI backend.
package attachment

import (
	"strings"

	"github.com/Protocol-Lattice/fingpt-relay/src/models"
)

// Mode says how a file is forwarded.
type Mode int

const (
	// ModeUnsupported files are left out of the outgoing message.
	ModeUnsupported Mode = iota
	// ModeBinary files are sent as a blob tagged with their media type.
	ModeBinary
	// ModeTextTable files are parsed and rendered as a text table.
	ModeTextTable
)

func (m Mode) String() string {
	switch m {
	case ModeBinary:
		return "binary"
	case ModeTextTable:
		return "text_table"
	default:
		return "unsupported"
	}
}

// Kind is the outcome of resolving a path.
type Kind struct {
	Mode Mode
	MIME string
}

const tableExt = ".csv"

// Resolve classifies path by extension. Paths ending in .csv are always
// tabular text, whatever the system mime database says about them.
func Resolve(path string) Kind {
	if strings.HasSuffix(strings.ToLower(path), tableExt) {
		return Kind{Mode: ModeTextTable, MIME: "text/plain"}
	}
	mt := models.MIMEByExtension(path)
	if mt == "" {
		return Kind{Mode: ModeUnsupported}
	}
	return Kind{Mode: ModeBinary, MIME: mt}
}
