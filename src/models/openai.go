package models

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

type OpenAIBackend struct {
	Client *openai.Client
	Model  string
	Config GenerationConfig
}

func NewOpenAIBackend(apiKey, model string, cfg GenerationConfig) (*OpenAIBackend, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_KEY") // fallback
	}
	if apiKey == "" {
		return nil, errors.New("missing OPENAI_API_KEY")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("openai: missing model id")
	}
	return &OpenAIBackend{Client: openai.NewClient(apiKey), Model: model, Config: cfg}, nil
}

func (o *OpenAIBackend) Name() string { return "openai" }

func (o *OpenAIBackend) Accepts(mt string) bool { return sanitizeImageMIME(mt) != "" }

func (o *OpenAIBackend) NewSession(_ context.Context, history []Turn) (Session, error) {
	s := &openAISession{backend: o}
	if sys := strings.TrimSpace(o.Config.SystemInstruction); sys != "" {
		s.messages = append(s.messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sys})
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		s.messages = append(s.messages, openai.ChatCompletionMessage{Role: role, Content: t.Text})
		s.recorder.turns = append(s.recorder.turns, t)
	}
	return s, nil
}

func (o *OpenAIBackend) Close() error { return nil }

type openAISession struct {
	backend  *OpenAIBackend
	mu       sync.Mutex
	messages []openai.ChatCompletionMessage
	recorder turnRecorder
}

func (s *openAISession) Send(ctx context.Context, parts []Part) (string, error) {
	// Text and inline text files go first, images follow as data URLs.
	prompt := textOf(parts)
	contentParts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
	for _, p := range parts {
		if p.IsText() {
			continue
		}
		mt := sanitizeImageMIME(p.MIME)
		if mt == "" {
			continue
		}
		encoded := base64.StdEncoding.EncodeToString(p.Data)
		contentParts = append(contentParts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    fmt.Sprintf("data:%s;base64,%s", mt, encoded),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: contentParts}

	s.mu.Lock()
	messages := append(append([]openai.ChatCompletionMessage(nil), s.messages...), user)
	s.mu.Unlock()

	cfg := s.backend.Config
	resp, err := s.backend.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.backend.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   int(cfg.MaxOutputTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai send: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	reply := resp.Choices[0].Message.Content

	s.mu.Lock()
	s.messages = append(s.messages, user, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply})
	s.mu.Unlock()
	s.recorder.record(prompt, reply)
	return reply, nil
}

func (s *openAISession) History() []Turn { return s.recorder.History() }
