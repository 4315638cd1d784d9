package attachment

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPDFText returns the plain text of a PDF document. It is used for
// backends that cannot take PDF blobs directly.
func ExtractPDFText(data []byte) (text string, err error) {
	// The reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf: malformed document: %v", r)
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf: open: %w", err)
	}
	plain, err := rdr.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf: extract: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf: read: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
