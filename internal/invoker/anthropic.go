package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"go-baton/internal/domain"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic invokes an agent backed by the Anthropic Messages API. Each
// agent carries its own model and system prompt.
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
	system string
}

// NewAnthropic creates an Anthropic-backed invoker. With an empty key the
// ANTHROPIC_API_KEY environment variable is used.
func NewAnthropic(apiKey, model, systemPrompt string) (*Anthropic, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaudeSonnet4_20250514
	}

	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
		system: systemPrompt,
	}, nil
}

func (a *Anthropic) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(input))),
		},
	}
	if a.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.system}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}
	return json.Marshal(map[string]string{"text": sb.String()})
}

// classify maps API failures onto the transient/permanent taxonomy. Rate
// limits, overload, and server errors are worth retrying; everything else
// (auth, malformed request) is not.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 408, apierr.StatusCode == 429, apierr.StatusCode >= 500:
			return domain.TransientError(err)
		default:
			return domain.PermanentError(err)
		}
	}
	// Transport-level failures (connection reset, DNS) are retryable.
	return domain.TransientError(err)
}
