package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"fintelligence/internal/config"
	"fintelligence/internal/models"
)

const defaultClaudeMaxTokens = 3000

var (
	// ErrMissingCredentials is returned by every call when no API key was configured.
	ErrMissingCredentials = errors.New("completion api key not configured")
	ErrEmptyCompletion    = errors.New("completion returned no content")
)

// Service issues single, non-streaming chat completions. It is built once at
// startup and shared read-only by all requests.
type Service struct {
	provider  string
	modelName string
	timeout   time.Duration
	textModel model.BaseChatModel
	jsonModel model.BaseChatModel
}

// NewService builds the chat models for the configured provider. A missing API
// key yields a Service whose calls fail with ErrMissingCredentials.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	provCfg := cfg.ActiveProvider()
	svc := &Service{
		provider:  cfg.Provider,
		modelName: provCfg.Model,
		timeout:   provCfg.Timeout(),
	}
	if strings.TrimSpace(provCfg.APIKey) == "" {
		return svc, nil
	}

	var err error
	switch cfg.Provider {
	case "openai":
		svc.textModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
		if err != nil {
			break
		}
		svc.jsonModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		svc.textModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
		svc.jsonModel = svc.textModel
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		maxTokens := provCfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultClaudeMaxTokens
		}
		svc.textModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
		svc.jsonModel = svc.textModel
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Provider, err)
	}
	return svc, nil
}

// newServiceWithModels wires prebuilt models; used by tests.
func newServiceWithModels(textModel, jsonModel model.BaseChatModel) *Service {
	return &Service{provider: "test", textModel: textModel, jsonModel: jsonModel}
}

func (s *Service) Provider() string {
	return s.provider
}

func (s *Service) Model() string {
	return s.modelName
}

// Complete sends the messages in one request and returns the completion text.
func (s *Service) Complete(ctx context.Context, messages []*models.Message, format models.OutputFormat) (string, error) {
	chatModel := s.textModel
	if format == models.FormatJSONObject {
		chatModel = s.jsonModel
	}
	if chatModel == nil {
		return "", ErrMissingCredentials
	}
	if len(messages) == 0 {
		return "", errors.New("messages cannot be empty")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := chatModel.Generate(ctx, convertMessages(messages))
	if err != nil {
		return "", fmt.Errorf("generate %s completion: %w", format, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Content, nil
}

func convertMessages(history []*models.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}

		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}
