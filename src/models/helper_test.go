package models

import (
	"strings"
	"testing"
)

func TestNormalizeMIME(t *testing.T) {
	cases := []struct {
		name string
		file string
		mime string
		want string
	}{
		{"empty everything", "noext", "", ""},
		{"from extension", "report.md", "", "text/markdown"},
		{"pdf from extension", "statement.PDF", "", "application/pdf"},
		{"alias jpeg", "photo", "image/jpg", "image/jpeg"},
		{"double prefix", "diagram.png", "image/image/png", "image/png"},
		{"invalid without slash", "clip.mp4", "video", "video/mp4"},
		{"with params", "vector.svg", "image/svg+xml; charset=utf-8", "image/svg+xml"},
		{"already clean", "data.bin", "application/octet-stream", "application/octet-stream"},
		{"suffix slash", "notes.txt", "text/plain/", "text/plain"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeMIME(tc.file, tc.mime); got != tc.want {
				t.Fatalf("NormalizeMIME(%q, %q) = %q, want %q", tc.file, tc.mime, got, tc.want)
			}
		})
	}
}

func TestMIMEByExtensionUnknown(t *testing.T) {
	if got := MIMEByExtension("archive.zzunknown"); got != "" {
		t.Fatalf("MIMEByExtension(unknown) = %q, want empty", got)
	}
	if got := MIMEByExtension("README"); got != "" {
		t.Fatalf("MIMEByExtension(no ext) = %q, want empty", got)
	}
}

func TestSanitizeImageMIME(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"image/jpeg", "image/jpeg"},
		{"IMAGE/JPG", "image/jpeg"},
		{"image/png; something", "image/png"},
		{"image/image/webp", "image/webp"},
		{"image/bmp", ""},
		{"application/pdf", ""},
	}

	for _, tc := range cases {
		if got := sanitizeImageMIME(tc.input); got != tc.want {
			t.Fatalf("sanitizeImageMIME(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestIsTextMIME(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"text/plain", true},
		{" application/json ", true},
		{"text/csv", true},
		{"application/pdf", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := isTextMIME(tc.input); got != tc.want {
			t.Fatalf("isTextMIME(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestTextOfInlinesTextBlobsInOrder(t *testing.T) {
	got := textOf([]Part{
		Text("Summarize"),
		Text("   a   b\n0  1  2"),
		{Name: "", MIME: "text/plain", Data: []byte("hello")},
		Blob("clip.png", "image/png", []byte{0x00}),
	})

	first := strings.Index(got, "Summarize")
	second := strings.Index(got, "a   b")
	third := strings.Index(got, "<<<FILE file_2 [text/plain]>>>")
	if first != 0 || second < first || third < second {
		t.Fatalf("unexpected ordering in %q", got)
	}
	if strings.Contains(got, "clip.png") {
		t.Fatalf("binary parts must not be inlined: %q", got)
	}
}

func TestTextOfSkipsEmptyText(t *testing.T) {
	if got := textOf([]Part{Text(""), Text("csv")}); got != "csv" {
		t.Fatalf("textOf = %q, want %q", got, "csv")
	}
}
