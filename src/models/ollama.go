package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// ---------------------------- Ollama -----------------------------------------

type OllamaBackend struct {
	Client *ollama.Client
	Model  string
	Config GenerationConfig
}

func NewOllamaBackend(host, model string, timeout time.Duration, cfg GenerationConfig) (*OllamaBackend, error) {
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("ollama: missing model id")
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}

	// Zero timeout keeps the call unbounded, like the other providers.
	httpClient := &http.Client{Timeout: timeout}
	return &OllamaBackend{
		Client: ollama.NewClient(u, httpClient),
		Model:  model,
		Config: cfg,
	}, nil
}

func (o *OllamaBackend) Name() string { return "ollama" }

func (o *OllamaBackend) Accepts(mt string) bool { return sanitizeImageMIME(mt) != "" }

func (o *OllamaBackend) NewSession(_ context.Context, history []Turn) (Session, error) {
	s := &ollamaSession{backend: o}
	if sys := strings.TrimSpace(o.Config.SystemInstruction); sys != "" {
		s.messages = append(s.messages, ollama.Message{Role: "system", Content: sys})
	}
	for _, t := range history {
		role := "user"
		if t.Role == RoleModel {
			role = "assistant"
		}
		s.messages = append(s.messages, ollama.Message{Role: role, Content: t.Text})
		s.recorder.turns = append(s.recorder.turns, t)
	}
	return s, nil
}

func (o *OllamaBackend) Close() error { return nil }

type ollamaSession struct {
	backend  *OllamaBackend
	mu       sync.Mutex
	messages []ollama.Message
	recorder turnRecorder
}

func (s *ollamaSession) Send(ctx context.Context, parts []Part) (string, error) {
	prompt := textOf(parts)
	var images []ollama.ImageData
	for _, p := range parts {
		if p.IsText() || sanitizeImageMIME(p.MIME) == "" {
			continue
		}
		images = append(images, ollama.ImageData(p.Data))
	}
	user := ollama.Message{Role: "user", Content: prompt, Images: images}

	s.mu.Lock()
	messages := append(append([]ollama.Message(nil), s.messages...), user)
	s.mu.Unlock()

	cfg := s.backend.Config
	req := &ollama.ChatRequest{
		Model:    s.backend.Model,
		Messages: messages,
		Options: map[string]any{
			"temperature": cfg.Temperature,
			"top_p":       cfg.TopP,
			"top_k":       cfg.TopK,
			"num_predict": cfg.MaxOutputTokens,
		},
	}

	var text strings.Builder
	if err := s.backend.Client.Chat(ctx, req, func(cr ollama.ChatResponse) error {
		text.WriteString(cr.Message.Content)
		return nil
	}); err != nil {
		return "", fmt.Errorf("ollama send: %w", err)
	}
	reply := text.String()

	s.mu.Lock()
	s.messages = append(s.messages, user, ollama.Message{Role: "assistant", Content: reply})
	s.mu.Unlock()
	s.recorder.record(prompt, reply)
	return reply, nil
}

func (s *ollamaSession) History() []Turn { return s.recorder.History() }
