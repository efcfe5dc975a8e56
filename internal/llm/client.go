// Package llm wraps the Anthropic API for the planner and worker
// agents, with token accounting and Bedrock support.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = anthropic.ModelClaudeSonnet4_20250514

// DefaultMaxTokens caps a single completion when the request does not.
const DefaultMaxTokens int64 = 8192

// Config describes how to reach the Anthropic API.
type Config struct {
	// Model is the model id, e.g. "claude-sonnet-4-20250514". Empty
	// selects DefaultModel.
	Model string
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string
	// UseBedrock routes requests through AWS Bedrock instead of the
	// direct API.
	UseBedrock bool
	// AWSRegion is the Bedrock region, e.g. "us-west-2".
	AWSRegion string
	// AWSProfile is an optional shared-config profile name.
	AWSProfile string
}

// Client is an Anthropic API client with token accounting.
type Client struct {
	inner   anthropic.Client
	model   anthropic.Model
	bedrock bool
	tracker *TokenTracker
}

// NewClient builds a client for the direct API or for Bedrock. The
// direct path requires an API key, from the config or from
// ANTHROPIC_API_KEY.
func NewClient(cfg Config) (*Client, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("no API key: set ANTHROPIC_API_KEY or configure one")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := DefaultModel
	if cfg.Model != "" {
		model = anthropic.Model(cfg.Model)
	}

	c := &Client{
		inner:   anthropic.NewClient(opts...),
		bedrock: cfg.UseBedrock,
		tracker: NewTokenTracker(),
	}
	c.model = c.resolveModel(model)
	return c, nil
}

// Model returns the configured model id.
func (c *Client) Model() anthropic.Model {
	return c.model
}

// Tracker returns the client's token accounting.
func (c *Client) Tracker() *TokenTracker {
	return c.tracker
}

// resolveModel maps a model id to its Bedrock inference profile when
// the client routes through Bedrock.
func (c *Client) resolveModel(model anthropic.Model) anthropic.Model {
	if c.bedrock {
		return bedrockModelFor(model)
	}
	return model
}

// bedrockModels maps standard model ids to cross-region Bedrock
// inference profiles.
var bedrockModels = map[anthropic.Model]anthropic.Model{
	anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
	anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
	anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
}

// bedrockModelFor translates a model id for Bedrock. Unknown ids pass
// through unchanged; they may already be in profile format.
func bedrockModelFor(model anthropic.Model) anthropic.Model {
	if translated, ok := bedrockModels[model]; ok {
		return translated
	}
	return model
}

// Request is a single completion call.
type Request struct {
	// Model overrides the client's configured model for this call.
	Model string
	// System is the system prompt. System-role chat messages are
	// folded into it.
	System string
	// Messages is the conversation so far.
	Messages []models.ChatMessage
	// MaxTokens caps the completion; zero means DefaultMaxTokens.
	MaxTokens int64
}

// Response is the text and accounting for one completion.
type Response struct {
	// Text is the concatenated assistant text.
	Text string
	// Usage is the token consumption of this call.
	Usage models.TokenUsage
	// StopReason is why generation ended, e.g. "end_turn".
	StopReason string
}

// Complete sends one conversation turn and returns the assistant's
// text. Usage is recorded on the client tracker and returned so the
// caller can charge it against a budget.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	model := c.model
	if req.Model != "" {
		model = c.resolveModel(anthropic.Model(req.Model))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	system := req.System
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case models.ChatRoleSystem:
			if system == "" {
				system = m.Content
			} else {
				system = system + "\n\n" + m.Content
			}
		case models.ChatRoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("no user or assistant messages in request")
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text strings.Builder
	for _, block := range resp.Content {
		if v, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(v.Text)
		}
	}
	return &Response{
		Text: text.String(),
		Usage: models.TokenUsage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
		},
		StopReason: string(resp.StopReason),
	}, nil
}

// TokenTracker accumulates usage across API calls.
type TokenTracker struct {
	mu    sync.Mutex
	usage models.TokenUsage
	calls int
}

// NewTokenTracker creates an empty tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records one call's token usage.
func (t *TokenTracker) Add(prompt, completion int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.Add(models.TokenUsage{Prompt: prompt, Completion: completion})
	t.calls++
}

// Totals returns the accumulated usage.
func (t *TokenTracker) Totals() models.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Calls returns the number of recorded API calls.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Reset clears the tracker.
func (t *TokenTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = models.TokenUsage{}
	t.calls = 0
}

// Cost estimates spend in USD at Sonnet list pricing, $3 per million
// prompt tokens and $15 per million completion tokens.
func (t *TokenTracker) Cost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.usage.Prompt)/1_000_000*3.0 + float64(t.usage.Completion)/1_000_000*15.0
}
