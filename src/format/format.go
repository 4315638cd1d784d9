// Package format prepares model replies for Telegram: Markdown is rendered
// to the small HTML subset the Bot API accepts, and long replies are split
// into message-sized chunks.
package format

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// MaxChunk is the chunk size used for replies, below Telegram's 4096 limit.
const MaxChunk = 3500

var (
	md = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))

	policy = func() *bluemonday.Policy {
		p := bluemonday.NewPolicy()
		p.AllowElements("b", "strong", "i", "em", "u", "s", "del", "code", "pre", "blockquote")
		p.AllowAttrs("href").OnElements("a")
		p.RequireParseableURLs(true)
		p.AllowURLSchemes("mailto", "http", "https")
		p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+#-]+$`)).OnElements("code")
		return p
	}()

	// Block elements Telegram does not know, rewritten before sanitizing.
	blockRules = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`<h[1-6][^>]*>`), "<b>"},
		{regexp.MustCompile(`</h[1-6]>`), "</b>\n\n"},
		{regexp.MustCompile(`<li[^>]*>\s*(<p>)?`), "• "},
		{regexp.MustCompile(`(</p>\s*)?</li>\s*`), "\n"},
		{regexp.MustCompile(`</?(ul|ol)[^>]*>`), ""},
		{regexp.MustCompile(`<br\s*/?>`), "\n"},
		{regexp.MustCompile(`<hr\s*/?>`), "\n"},
		{regexp.MustCompile(`</p>`), "\n\n"},
		{regexp.MustCompile(`</tr>`), "\n"},
		{regexp.MustCompile(`</t[dh]>`), " "},
	}
	extraNewlines = regexp.MustCompile(`\n{3,}`)
)

// TelegramHTML converts Markdown to Telegram-flavoured HTML.
func TelegramHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	html := buf.String()
	for _, r := range blockRules {
		html = r.re.ReplaceAllString(html, r.repl)
	}
	html = policy.Sanitize(html)
	html = extraNewlines.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html), nil
}

// Chunk splits text into pieces of at most max runes, preferring to break
// at paragraph or line boundaries. Empty input yields no chunks.
func Chunk(text string, max int) []string {
	if max <= 0 {
		max = MaxChunk
	}
	text = strings.TrimSpace(text)
	var out []string
	for text != "" {
		if utf8.RuneCountInString(text) <= max {
			out = append(out, text)
			break
		}
		cut := byteOffset(text, max)
		if i := strings.LastIndex(text[:cut], "\n\n"); i > cut/2 {
			cut = i
		} else if i := strings.LastIndexByte(text[:cut], '\n'); i > cut/2 {
			cut = i
		} else if i := strings.LastIndexByte(text[:cut], ' '); i > cut/2 {
			cut = i
		}
		out = append(out, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	return out
}

func byteOffset(s string, runes int) int {
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}
