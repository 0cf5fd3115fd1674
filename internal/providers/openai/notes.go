// Package openai generates markdown notes from transcripts with the OpenAI
// chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultModel = "gpt-4o-mini"

// SystemPrompt is the fixed instruction sent ahead of every transcript.
const SystemPrompt = `You turn spoken voice notes into tidy markdown.
Put every actionable task under a "## TODO" heading as a checkbox item ("- [ ] ...").
Group the remaining ideas and notes under short descriptive "##" headings.
Do not invent content that is not in the transcript. Reply with markdown only.`

// ErrEmptyCompletion is returned when the model produced no choices.
var ErrEmptyCompletion = errors.New("openai: empty choices in response")

// Config controls the chat completion client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Generator implements ports.NoteGenerator.
type Generator struct {
	client oai.Client
	model  string
}

func NewGenerator(cfg Config) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	return &Generator{client: oai.NewClient(reqOpts...), model: cfg.Model}, nil
}

// Generate issues a single chat completion and returns the raw reply.
func (g *Generator) Generate(ctx context.Context, transcript string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(SystemPrompt),
			oai.UserMessage(transcript),
		},
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
