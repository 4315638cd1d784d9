// Package render writes reply text to PDF documents.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
)

// DefaultName is the file name used when none is given.
const DefaultName = "FinGPT_Response.pdf"

const (
	pageWidth  = 190.0 // usable A4 width with 10mm margins
	lineHeight = 10.0
	fontSize   = 12.0
)

// Renderer writes PDFs into Dir. The zero value writes DefaultName into the
// system temp directory.
type Renderer struct {
	Dir         string
	DefaultName string
}

// New returns a renderer writing into dir. Empty arguments fall back to the
// defaults.
func New(dir, name string) *Renderer {
	return &Renderer{Dir: dir, DefaultName: name}
}

func (r *Renderer) dir() string {
	if r == nil || r.Dir == "" {
		return os.TempDir()
	}
	return r.Dir
}

func (r *Renderer) defaultName() string {
	if r == nil || r.DefaultName == "" {
		return DefaultName
	}
	return r.DefaultName
}

// NameFor returns the document name for a conversation key. The empty key
// maps to the default name.
func (r *Renderer) NameFor(key string) string {
	base := r.defaultName()
	key = sanitize(key)
	if key == "" {
		return base
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_" + key + ext
}

// Render writes text to <Dir>/<name>, overwriting any previous file with the
// same name, and returns the path written.
func (r *Renderer) Render(name, text string) (string, error) {
	if name == "" {
		name = r.defaultName()
	}
	if filepath.Base(name) != name {
		return "", fmt.Errorf("render: invalid document name %q", name)
	}
	dir := r.dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("render: create dir: %w", err)
	}
	path := filepath.Join(dir, name)

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetAutoPageBreak(true, 15)
	doc.AddPage()
	doc.SetFont("Arial", "", fontSize)
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.MultiCell(pageWidth, lineHeight, tr(text), "", "", false)

	if err := doc.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("render: write %s: %w", path, err)
	}
	return path, nil
}

// Exists reports whether a previously rendered document is still on disk.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !st.IsDir()
}

func sanitize(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
