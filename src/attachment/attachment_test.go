package attachment

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestResolve(t *testing.T) {
	cases := []struct {
		path string
		mode Mode
		mime string
	}{
		{"/tmp/report.csv", ModeTextTable, "text/plain"},
		{"/tmp/REPORT.CSV", ModeTextTable, "text/plain"},
		{"/tmp/statement.pdf", ModeBinary, "application/pdf"},
		{"/tmp/uploaded_photo.jpg", ModeBinary, "image/jpeg"},
		{"/tmp/chart.png", ModeBinary, "image/png"},
		{"/tmp/blob.zzunknown", ModeUnsupported, ""},
		{"/tmp/noext", ModeUnsupported, ""},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			got := Resolve(tc.path)
			if got.Mode != tc.mode || got.MIME != tc.mime {
				t.Fatalf("Resolve(%q) = %+v, want {%v %q}", tc.path, got, tc.mode, tc.mime)
			}
		})
	}
}

func TestRenderCSV(t *testing.T) {
	got, err := RenderCSV(strings.NewReader("ticker,price\nAAPL,189.5\nMSFT,410\n"))
	if err != nil {
		t.Fatalf("RenderCSV returned error: %v", err)
	}
	want := "   ticker  price\n" +
		"0    AAPL  189.5\n" +
		"1    MSFT    410"
	if got != want {
		t.Fatalf("RenderCSV mismatch\n got:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderCSVPadsShortRows(t *testing.T) {
	got, err := RenderCSV(strings.NewReader("a,b\n1\n"))
	if err != nil {
		t.Fatalf("RenderCSV returned error: %v", err)
	}
	if !strings.Contains(got, "NaN") {
		t.Fatalf("expected NaN for missing cell, got %q", got)
	}
}

func TestRenderCSVHeaderOnly(t *testing.T) {
	got, err := RenderCSV(strings.NewReader("a,b\n"))
	if err != nil {
		t.Fatalf("RenderCSV returned error: %v", err)
	}
	if got != "Empty DataFrame\nColumns: [a, b]\nIndex: []" {
		t.Fatalf("unexpected rendering: %q", got)
	}
}

func TestRenderCSVEmptyInput(t *testing.T) {
	if _, err := RenderCSV(strings.NewReader("")); !errors.Is(err, ErrEmptyTable) {
		t.Fatalf("expected ErrEmptyTable, got %v", err)
	}
}

func TestLoaderCSVBecomesText(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "prices.csv", []byte("x,y\n1,2\n"))

	var l Loader
	part, err := l.Load(p)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !part.IsText() || len(part.Data) != 0 {
		t.Fatalf("csv must become a text part, got %+v", part)
	}
	if !strings.Contains(part.Text, "0  1  2") {
		t.Fatalf("unexpected table text %q", part.Text)
	}
}

func TestLoaderBinaryKeepsBytes(t *testing.T) {
	dir := t.TempDir()
	data := []byte{0xff, 0xd8, 0xff, 0xe0}
	p := writeFile(t, dir, "uploaded_photo.jpg", data)

	var l Loader
	part, err := l.Load(p)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if part.MIME != "image/jpeg" || string(part.Data) != string(data) || part.Name != "uploaded_photo.jpg" {
		t.Fatalf("unexpected part %+v", part)
	}
}

func TestLoaderRejectsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "big.png", make([]byte, 64))

	l := Loader{MaxBytes: 10}
	if _, err := l.Load(p); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestLoadAllSkipsMissingAndUnsupported(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "a.png", []byte("png"))
	unknown := writeFile(t, dir, "b.zzunknown", []byte("???"))
	last := writeFile(t, dir, "c.csv", []byte("k,v\n1,2\n"))
	missing := filepath.Join(dir, "gone.pdf")

	var l Loader
	parts, dropped := l.LoadAll(context.Background(), []string{first, missing, unknown, last})

	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d: %+v", len(parts), parts)
	}
	if parts[0].Name != "a.png" || parts[1].Name != "c.csv" {
		t.Fatalf("parts out of order: %q, %q", parts[0].Name, parts[1].Name)
	}
	if len(dropped) != 1 || dropped[0].Path != unknown || !errors.Is(dropped[0].Reason, ErrUnsupported) {
		t.Fatalf("expected only the unknown file to be reported, got %+v", dropped)
	}
}

func TestLoadBlankPathIsMissing(t *testing.T) {
	var l Loader
	for _, p := range []string{"", "   "} {
		if _, err := l.Load(p); !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("Load(%q) = %v, want fs.ErrNotExist", p, err)
		}
	}
}

func TestExtractPDFTextRejectsGarbage(t *testing.T) {
	if _, err := ExtractPDFText([]byte("definitely not a pdf")); err == nil {
		t.Fatal("expected an error for non-PDF input")
	}
}
