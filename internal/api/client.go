// Package api runs workers against the Anthropic Messages API, directly or
// through AWS Bedrock.
package api

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
)

// DefaultModel is used when no model is configured.
const DefaultModel = anthropic.ModelClaudeSonnet4_5_20250929

// Client wraps the Anthropic SDK client with token tracking.
type Client struct {
	inner   anthropic.Client
	model   anthropic.Model
	bedrock bool
	tracker *TokenTracker
}

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	// Model is the default model. Empty means DefaultModel.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, ANTHROPIC_API_KEY is used.
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// UseBedrock routes requests through AWS Bedrock.
	UseBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional shared-config profile for Bedrock.
	AWSProfile string
	// MaxRetries is the SDK's own retry count for a single request.
	MaxRetries int
}

// NewClient creates a new Anthropic API client.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	var opts []option.RequestOption

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
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("no API key: set anthropic.api_key or ANTHROPIC_API_KEY")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	c := &Client{
		inner:   anthropic.NewClient(opts...),
		bedrock: cfg.UseBedrock,
		tracker: NewTokenTracker(),
	}
	c.model = c.ResolveModel(string(cfg.Model))
	return c, nil
}

// bedrockModels maps API model names to Bedrock cross-region inference profiles.
var bedrockModels = map[anthropic.Model]string{
	anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
}

// ResolveModel returns the model to send for name. Empty means the
// client's default. Bedrock clients translate known names.
func (c *Client) ResolveModel(name string) anthropic.Model {
	model := anthropic.Model(name)
	if model == "" {
		model = c.model
	}
	if model == "" {
		model = DefaultModel
	}
	if c.bedrock && !strings.HasPrefix(string(model), "us.anthropic") {
		if mapped, ok := bedrockModels[model]; ok {
			return anthropic.Model(mapped)
		}
	}
	return model
}

// Model returns the default model.
func (c *Client) Model() anthropic.Model {
	return c.model
}

// Tracker returns the token tracker for this client.
func (c *Client) Tracker() *TokenTracker {
	return c.tracker
}

// TokenTracker tracks token usage and estimated cost across calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	cost      float64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records one call's usage and returns its estimated cost.
func (t *TokenTracker) Add(model anthropic.Model, input, output int64) float64 {
	cost := EstimateCost(model, input, output)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.cost += cost
	t.calls++
	return cost
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Cost returns the summed estimated cost in USD.
func (t *TokenTracker) Cost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cost
}

// EstimateCost prices a call in USD from list prices per million tokens.
// Unknown models are priced as Sonnet.
func EstimateCost(model anthropic.Model, input, output int64) float64 {
	inRate, outRate := 3.0, 15.0
	name := string(model)
	switch {
	case strings.Contains(name, "haiku"):
		inRate, outRate = 1.0, 5.0
	case strings.Contains(name, "opus-4-5"):
		inRate, outRate = 5.0, 25.0
	case strings.Contains(name, "opus"):
		inRate, outRate = 15.0, 75.0
	}
	return float64(input)/1_000_000*inRate + float64(output)/1_000_000*outRate
}
