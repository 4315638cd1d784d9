package models

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend talks to Anthropic's Messages API.
type AnthropicBackend struct {
	Client *anthropic.Client
	Model  string
	Config GenerationConfig
}

// NewAnthropicBackend falls back to ANTHROPIC_API_KEY when apiKey is empty.
func NewAnthropicBackend(apiKey, model string, cfg GenerationConfig) (*AnthropicBackend, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("missing ANTHROPIC_API_KEY")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("anthropic: missing model id")
	}
	cl := anthropic.NewClient(anthropicopt.WithAPIKey(apiKey))
	return &AnthropicBackend{Client: &cl, Model: model, Config: cfg}, nil
}

func (a *AnthropicBackend) Name() string { return "anthropic" }

func (a *AnthropicBackend) Accepts(mt string) bool { return sanitizeImageMIME(mt) != "" }

func (a *AnthropicBackend) NewSession(_ context.Context, history []Turn) (Session, error) {
	s := &anthropicSession{backend: a}
	for _, t := range history {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		if t.Role == RoleModel {
			s.messages = append(s.messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text)))
		} else {
			s.messages = append(s.messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
		}
		s.recorder.turns = append(s.recorder.turns, t)
	}
	return s, nil
}

func (a *AnthropicBackend) Close() error { return nil }

type anthropicSession struct {
	backend  *AnthropicBackend
	mu       sync.Mutex
	messages []anthropic.MessageParam
	recorder turnRecorder
}

func (s *anthropicSession) Send(ctx context.Context, parts []Part) (string, error) {
	prompt := textOf(parts)

	var blocks []anthropic.ContentBlockParamUnion
	// Anthropic rejects empty text blocks.
	if strings.TrimSpace(prompt) != "" {
		blocks = append(blocks, anthropic.NewTextBlock(prompt))
	}
	for _, p := range parts {
		if p.IsText() {
			continue
		}
		mt := sanitizeImageMIME(p.MIME)
		if mt == "" {
			continue
		}
		blocks = append(blocks, anthropic.NewImageBlockBase64(mt, base64.StdEncoding.EncodeToString(p.Data)))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock("(empty message)"))
	}
	user := anthropic.NewUserMessage(blocks...)

	s.mu.Lock()
	messages := append(append([]anthropic.MessageParam(nil), s.messages...), user)
	s.mu.Unlock()

	cfg := s.backend.Config
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(s.backend.Model),
		MaxTokens:   int64(cfg.MaxOutputTokens),
		Messages:    messages,
		Temperature: anthropic.Float(float64(cfg.Temperature)),
		TopP:        anthropic.Float(float64(cfg.TopP)),
		TopK:        anthropic.Int(int64(cfg.TopK)),
	}
	if sys := strings.TrimSpace(cfg.SystemInstruction); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	msg, err := s.backend.Client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic send: %w", err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	reply := b.String()

	s.mu.Lock()
	s.messages = append(s.messages, user)
	if strings.TrimSpace(reply) != "" {
		s.messages = append(s.messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)))
	}
	s.mu.Unlock()
	s.recorder.record(prompt, reply)
	return reply, nil
}

func (s *anthropicSession) History() []Turn { return s.recorder.History() }
