// Package llmclient implements capability.LLM over two selectable
// backends: the Anthropic Messages API via anthropic-sdk-go, and any
// OpenAI-compatible / local endpoint via langchaingo, chosen by
// configuration the way the teacher's multi-provider pkg/ai/llm client
// does.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/breaker"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability"
)

// Config selects and parametrizes the backend.
type Config struct {
	Provider string // "anthropic" or "openai-compatible"
	APIKey   string
	BaseURL  string // only consulted for openai-compatible
	Model    string
}

const postmortemPromptTemplate = `You are generating an incident postmortem.

Incident: %s
Description: %s
Severity: %s
Timeline: %v

Respond with a JSON object with fields: summary, timeline (array of strings),
root_cause, impact, resolution, lessons_learned (array of strings).`

// generator is the narrow surface both backends implement: produce the raw
// completion text for a prompt.
type generator interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// Client adapts a generator to capability.LLM, wrapped in a circuit
// breaker per spec.md §4.2 (each wrapped integration owns its own
// instance).
type Client struct {
	gen     generator
	breaker *breaker.Breaker
}

// NewClient builds a Client for the provider named in cfg.Provider.
func NewClient(cfg Config) (*Client, error) {
	var gen generator
	switch cfg.Provider {
	case "anthropic":
		gen = newAnthropicGenerator(cfg)
	case "openai-compatible":
		g, err := newLangchainGenerator(cfg)
		if err != nil {
			return nil, err
		}
		gen = g
	default:
		return nil, apperrors.NewValidationError("unsupported LLM provider: " + cfg.Provider)
	}

	return &Client{
		gen:     gen,
		breaker: breaker.New(breaker.DefaultConfig("llm-client")),
	}, nil
}

// GeneratePostmortem implements capability.LLM.
func (c *Client) GeneratePostmortem(ctx context.Context, input capability.PostmortemContext) (capability.Postmortem, error) {
	prompt := fmt.Sprintf(postmortemPromptTemplate, input.IncidentTitle, input.IncidentDescription, input.Severity, input.Timeline)

	result, err := c.breaker.Call(ctx, func() (any, error) {
		return c.gen.complete(ctx, prompt)
	})
	if err != nil {
		return capability.Postmortem{}, err
	}

	var parsed struct {
		Summary        string   `json:"summary"`
		Timeline       []string `json:"timeline"`
		RootCause      string   `json:"root_cause"`
		Impact         string   `json:"impact"`
		Resolution     string   `json:"resolution"`
		LessonsLearned []string `json:"lessons_learned"`
	}
	if err := json.Unmarshal([]byte(result.(string)), &parsed); err != nil {
		return capability.Postmortem{}, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "parse postmortem response")
	}

	return capability.Postmortem{
		Summary:        parsed.Summary,
		Timeline:       parsed.Timeline,
		RootCause:      parsed.RootCause,
		Impact:         parsed.Impact,
		Resolution:     parsed.Resolution,
		LessonsLearned: parsed.LessonsLearned,
	}, nil
}

type anthropicGenerator struct {
	client *anthropic.Client
	model  string
}

func newAnthropicGenerator(cfg Config) *anthropicGenerator {
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &anthropicGenerator{client: &client, model: model}
}

func (g *anthropicGenerator) complete(ctx context.Context, prompt string) (string, error) {
	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "anthropic completion")
	}
	if len(msg.Content) == 0 {
		return "", apperrors.New(apperrors.ErrorTypeNetwork, "empty anthropic response")
	}
	return msg.Content[0].Text, nil
}

type langchainGenerator struct {
	model llms.Model
}

func newLangchainGenerator(cfg Config) (*langchainGenerator, error) {
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "construct langchaingo client")
	}
	return &langchainGenerator{model: model}, nil
}

func (g *langchainGenerator) complete(ctx context.Context, prompt string) (string, error) {
	result, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "langchaingo completion")
	}
	return result, nil
}
