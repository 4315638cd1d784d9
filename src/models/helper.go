package models

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const DefaultSystemInstruction = `You are an helpful polite Financial AI Assitant. Answer user queries with below guidelines.
Guidelines:
 - Only respond to finance-related questions.
 - Only handle files that are PDF, CSV, and Image formats.`

// DefaultGenerationConfig returns the parameters every relay session is created with.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		SystemInstruction: DefaultSystemInstruction,
		Temperature:       0.5,
		MaxOutputTokens:   1000,
		TopP:              0.8,
		TopK:              40,
	}
}

// BackendOptions selects and configures a Backend.
type BackendOptions struct {
	Provider   string
	Model      string
	APIKey     string
	Host       string
	Timeout    time.Duration
	Generation GenerationConfig
}

// NewBackend returns a concrete Backend for opts.Provider.
func NewBackend(ctx context.Context, opts BackendOptions) (Backend, error) {
	gen := opts.Generation
	if gen == (GenerationConfig{}) {
		gen = DefaultGenerationConfig()
	}
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "gemini", "google":
		return NewGeminiBackend(ctx, opts.APIKey, opts.Model, gen)
	case "openai":
		return NewOpenAIBackend(opts.APIKey, opts.Model, gen)
	case "anthropic", "claude":
		return NewAnthropicBackend(opts.APIKey, opts.Model, gen)
	case "ollama":
		return NewOllamaBackend(opts.Host, opts.Model, opts.Timeout, gen)
	case "dummy":
		return NewDummyBackend(""), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", opts.Provider)
	}
}

// MIME type lookup tables for fast access
var (
	mimeExtMap = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".gif":  "image/gif",
		".webp": "image/webp",
		".bmp":  "image/bmp",
		".heic": "image/heic",
		".pdf":  "application/pdf",
		".csv":  "text/csv",
		".txt":  "text/plain",
		".md":   "text/markdown",
		".json": "application/json",
		".mp4":  "video/mp4",
		".mov":  "video/quicktime",
		".webm": "video/webm",
	}

	mimeAliasMap = map[string]string{
		"image/jpg":   "image/jpeg",
		"image/pjpeg": "image/jpeg",
		"image/x-png": "image/png",
		"video/mov":   "video/quicktime",
	}

	mimeCache   = make(map[string]string, 64)
	mimeCacheMu sync.RWMutex
)

// MIMEByExtension maps a file name to a media type using the built-in table
// first and the system mime database second. It returns "" when nothing matches.
func MIMEByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}

	mimeCacheMu.RLock()
	cached, ok := mimeCache[ext]
	mimeCacheMu.RUnlock()
	if ok {
		return cached
	}

	mt, ok := mimeExtMap[ext]
	if !ok {
		mt = stripParams(mime.TypeByExtension(ext))
	}

	mimeCacheMu.Lock()
	if len(mimeCache) < 1000 {
		mimeCache[ext] = mt
	}
	mimeCacheMu.Unlock()
	return mt
}

// NormalizeMIME fixes messy/alias media types and falls back to the file extension.
func NormalizeMIME(name, m string) string {
	raw := strings.ToLower(stripParams(m))
	if raw == "" {
		return MIMEByExtension(name)
	}
	for strings.HasPrefix(raw, "image/image/") || strings.HasPrefix(raw, "video/video/") {
		raw = strings.Replace(raw, "image/image/", "image/", 1)
		raw = strings.Replace(raw, "video/video/", "video/", 1)
	}
	if alias, ok := mimeAliasMap[raw]; ok {
		return alias
	}
	// Malformed MIME -> use extension
	if !strings.Contains(raw, "/") || strings.HasSuffix(raw, "/") {
		if via := MIMEByExtension(name); via != "" {
			return via
		}
	}
	return raw
}

func stripParams(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func isTextMIME(m string) bool {
	m = strings.ToLower(strings.TrimSpace(m))
	if m == "" {
		return false
	}
	if strings.HasPrefix(m, "text/") {
		return true
	}
	switch m {
	case "application/json", "application/xml", "application/x-yaml", "application/yaml":
		return true
	default:
		return false
	}
}

func isImageMIME(m string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(m)), "image/")
}

// sanitizeImageMIME keeps the image formats the OpenAI, Anthropic and Ollama
// vision endpoints all accept. Return "" to skip the blob.
func sanitizeImageMIME(mt string) string {
	switch NormalizeMIME("", mt) {
	case "image/jpeg":
		return "image/jpeg"
	case "image/png":
		return "image/png"
	case "image/gif":
		return "image/gif"
	case "image/webp":
		return "image/webp"
	default:
		return ""
	}
}

// textOf joins the text parts of a message and inlines text blobs, in order.
func textOf(parts []Part) string {
	var b strings.Builder
	for i, p := range parts {
		var chunk string
		switch {
		case p.IsText():
			chunk = p.Text
		case isTextMIME(p.MIME) && len(p.Data) > 0:
			title := strings.TrimSpace(p.Name)
			if title == "" {
				title = fmt.Sprintf("file_%d", i)
			}
			chunk = fmt.Sprintf("<<<FILE %s [%s]>>>\n%s\n<<<END FILE %s>>>", title, p.MIME, p.Data, title)
		default:
			continue
		}
		if chunk == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(chunk)
	}
	return b.String()
}

// turnRecorder keeps a text-only transcript for backends whose native
// history type is not directly inspectable.
type turnRecorder struct {
	mu    sync.Mutex
	turns []Turn
}

func (r *turnRecorder) record(user, reply string) {
	r.mu.Lock()
	r.turns = append(r.turns, Turn{Role: RoleUser, Text: user}, Turn{Role: RoleModel, Text: reply})
	r.mu.Unlock()
}

func (r *turnRecorder) History() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Turn(nil), r.turns...)
}
