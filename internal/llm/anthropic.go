package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
	"golang.org/x/time/rate"

	"github.com/ShayCichocki/quill/internal/retry"
)

// DefaultMaxTokens is used when neither the request nor the config sets a limit.
const DefaultMaxTokens int64 = 4096

// ErrMissingAPIKey is returned when no API key is configured for the direct API.
var ErrMissingAPIKey = errors.New("llm: API key is not set")

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	// Model is the Claude model to use.
	Model string
	// APIKey is the Anthropic API key. Required unless UseBedrock is set.
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// UseBedrock routes requests through AWS Bedrock.
	UseBedrock bool
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string
	// AWSProfile is the optional shared-config profile.
	AWSProfile string
	// MaxTokens is the default response limit.
	MaxTokens int64
	// RequestsPerMinute throttles outgoing calls; zero disables throttling.
	RequestsPerMinute int
	// Retry governs retries of failed calls and stream reconnection.
	Retry retry.Policy
	// Pricing is used for cost estimates.
	Pricing Pricing
	Logger  *slog.Logger
}

// AnthropicClient implements Client on the Anthropic SDK.
type AnthropicClient struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	limiter   *rate.Limiter
	policy    retry.Policy
	tracker   *TokenTracker
	logger    *slog.Logger
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates a client for the direct API or Bedrock.
func NewAnthropicClient(ctx context.Context, cfg AnthropicConfig) (*AnthropicClient, error) {
	// Retries are owned by the policy below.
	opts := []option.RequestOption{option.WithMaxRetries(0)}

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		if cfg.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseBedrock {
		model = translateModelForBedrock(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	pricing := cfg.Pricing
	if pricing == (Pricing{}) {
		pricing = DefaultPricing
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &AnthropicClient{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		policy:    cfg.Retry,
		tracker:   NewTokenTracker(pricing),
		logger:    logger.With("component", "llm", "model", string(model)),
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

// translateModelForBedrock converts Anthropic model names to Bedrock cross-region inference profiles.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:         "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.Model("claude-sonnet-4-5-20250929"): "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.Model("claude-haiku-4-5-20251001"):  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:         "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:         "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return string(c.model)
}

// Tracker returns the token tracker for this client.
func (c *AnthropicClient) Tracker() *TokenTracker {
	return c.tracker
}

// Chat sends a request and returns the full text response.
func (c *AnthropicClient) Chat(ctx context.Context, req Request) (*Response, error) {
	params := c.params(req)

	var resp *anthropic.Message
	err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		msg, err := c.inner.Messages.New(ctx, params)
		if err != nil {
			c.logger.Warn("chat request failed", "attempt", attempt, "error", err)
			return classify(err)
		}
		resp = msg
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	usage := c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return &Response{Text: textOf(resp), Usage: usage}, nil
}

// ChatStream streams a response, calling onChunk for each text delta.
// A stream that fails before producing any text is reconnected under the
// retry policy; once text has been delivered the error is returned as is.
func (c *AnthropicClient) ChatStream(ctx context.Context, req Request, onChunk func(chunk string)) (*Response, error) {
	params := c.params(req)

	var out *Response
	err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.wait(ctx); err != nil {
			return err
		}

		stream := c.inner.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		message := anthropic.Message{}
		delivered := false
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				return retry.Permanent(fmt.Errorf("accumulate stream: %w", err))
			}
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
					delivered = true
					if onChunk != nil {
						onChunk(text.Text)
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			c.logger.Warn("stream interrupted", "attempt", attempt, "delivered", delivered, "error", err)
			if delivered {
				return retry.Permanent(err)
			}
			return classify(err)
		}

		usage := c.tracker.Add(message.Usage.InputTokens, message.Usage.OutputTokens)
		out = &Response{Text: textOf(&message), Usage: usage}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat stream: %w", err)
	}
	return out, nil
}

func (c *AnthropicClient) params(req Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

func (c *AnthropicClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// classify marks client errors as permanent so they are not retried.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusConflict:
			return err
		}
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return retry.Permanent(err)
		}
	}
	return err
}

func textOf(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(variant.Text)
		}
	}
	return b.String()
}
