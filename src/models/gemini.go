package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ---------------------------- Google Gemini ----------------------------------

type GeminiBackend struct {
	Client *genai.Client
	Model  string
	Config GenerationConfig
}

func NewGeminiBackend(ctx context.Context, apiKey, model string, cfg GenerationConfig) (*GeminiBackend, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("missing GOOGLE_API_KEY or GEMINI_API_KEY")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("gemini: missing model id")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &GeminiBackend{Client: client, Model: model, Config: cfg}, nil
}

func (g *GeminiBackend) Name() string { return "gemini" }

// Accepts forwards every typed blob; Gemini rejects what it cannot read itself.
func (g *GeminiBackend) Accepts(mt string) bool { return strings.TrimSpace(mt) != "" }

func (g *GeminiBackend) NewSession(_ context.Context, history []Turn) (Session, error) {
	model := g.Client.GenerativeModel(g.Model)
	model.SetTemperature(g.Config.Temperature)
	model.SetMaxOutputTokens(g.Config.MaxOutputTokens)
	model.SetTopP(g.Config.TopP)
	model.SetTopK(g.Config.TopK)
	if sys := strings.TrimSpace(g.Config.SystemInstruction); sys != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(sys))
	}

	cs := model.StartChat()
	for _, t := range history {
		role := "user"
		if t.Role == RoleModel {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Text)}})
	}
	return &geminiSession{chat: cs}, nil
}

func (g *GeminiBackend) Close() error {
	if g.Client == nil {
		return nil
	}
	return g.Client.Close()
}

type geminiSession struct {
	chat *genai.ChatSession
}

func (s *geminiSession) Send(ctx context.Context, parts []Part) (string, error) {
	payload := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.IsText() {
			payload = append(payload, genai.Text(p.Text))
			continue
		}
		payload = append(payload, genai.Blob{MIMEType: NormalizeMIME(p.Name, p.MIME), Data: p.Data})
	}

	resp, err := s.chat.SendMessage(ctx, payload...)
	if err != nil {
		return "", fmt.Errorf("gemini send: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty response")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

func (s *geminiSession) History() []Turn {
	out := make([]Turn, 0, len(s.chat.History))
	for _, c := range s.chat.History {
		if c == nil {
			continue
		}
		var b strings.Builder
		for _, part := range c.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		role := RoleUser
		if c.Role == "model" {
			role = RoleModel
		}
		out = append(out, Turn{Role: role, Text: b.String()})
	}
	return out
}
