package format

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTelegramHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Buy low, sell high.", "Buy low, sell high."},
		{"bold", "**P/E** ratio", "<strong>P/E</strong> ratio"},
		{"heading", "# Summary\nText", "<b>Summary</b>\n\nText"},
		{"list", "- stocks\n- bonds", "• stocks\n• bonds"},
		{"escape", "a < b & c", "a &lt; b &amp; c"},
		{"link", "[docs](https://example.com)", `<a href="https://example.com">docs</a>`},
		{"raw html dropped", "ok <script>x</script>", "ok x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TelegramHTML(tc.in)
			if err != nil {
				t.Fatalf("TelegramHTML: %v", err)
			}
			if got != tc.want {
				t.Fatalf("TelegramHTML(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestTelegramHTMLKeepsCodeLanguage(t *testing.T) {
	got, err := TelegramHTML("```python\nprint(1)\n```")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `<pre><code class="language-python">`) {
		t.Fatalf("code block lost its language: %q", got)
	}
}

func TestChunk(t *testing.T) {
	if got := Chunk("   ", 10); len(got) != 0 {
		t.Fatalf("expected no chunks, got %q", got)
	}
	if got := Chunk("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected chunks %q", got)
	}

	para := strings.Repeat("word ", 30)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := Chunk(text, 200)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if utf8.RuneCountInString(c) > 200 {
			t.Fatalf("chunk exceeds limit: %d runes", utf8.RuneCountInString(c))
		}
	}
	if strings.Join(strings.Fields(strings.Join(chunks, " ")), " ") != strings.Join(strings.Fields(text), " ") {
		t.Fatal("chunks must preserve every word")
	}
}

func TestChunkMultibyte(t *testing.T) {
	text := strings.Repeat("€", 25)
	chunks := Chunk(text, 10)
	if len(chunks) != 3 || chunks[2] != strings.Repeat("€", 5) {
		t.Fatalf("unexpected multibyte chunks %q", chunks)
	}
}
