// Package gemini implements the completion and embedding backends on the
// Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RobertJohnDavidson/rag-style-check/llm"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	maxRetries     = 3
	initialBackoff = time.Second
)

// Client implements llm.Client on a genai client
type Client struct {
	genai        *genai.Client
	defaultModel string
	logger       *zap.Logger
	maxRetries   int
	backoff      time.Duration

	// generate performs one attempt; replaced in tests
	generate func(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ClientOption is a functional option for Client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDefaultModel sets the model used when a request does not name one
func WithDefaultModel(model string) ClientOption {
	return func(c *Client) {
		c.defaultModel = model
	}
}

// WithRetry overrides the retry budget and initial backoff
func WithRetry(attempts int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = attempts
		c.backoff = backoff
	}
}

// NewGenaiClient opens a genai client authenticated with an API key
func NewGenaiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}
	return genai.NewClient(ctx, option.WithAPIKey(apiKey))
}

// NewClient wraps an existing genai client
func NewClient(gc *genai.Client, opts ...ClientOption) *Client {
	c := &Client{
		genai:        gc,
		defaultModel: "gemini-2.5-flash",
		logger:       zap.NewNop(),
		maxRetries:   maxRetries,
		backoff:      initialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.generate = c.generateOnce
	return c
}

// Complete sends the request, retrying transient failures with exponential backoff
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}

	var lastErr error
	backoff := c.backoff
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, llm.NewFatalError(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := c.generate(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = llm.Classify(err)
		if !llm.IsTransient(lastErr) {
			return nil, lastErr
		}
		c.logger.Warn("gemini completion failed, retrying",
			zap.String("model", req.Model),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return nil, fmt.Errorf("completion failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) generateOnce(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := c.genai.GenerativeModel(req.Model)
	model.SetTemperature(float32(req.Temperature))
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.JSON || req.Schema != nil {
		model.ResponseMIMEType = "application/json"
	}
	if req.Schema != nil {
		model.ResponseSchema = toGenaiSchema(req.Schema)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return nil, llm.NewFatalError(err)
		}
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		return nil, llm.NewTransientError(llm.ErrEmptyResponse)
	}

	var text strings.Builder
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	if text.Len() == 0 {
		return nil, llm.NewTransientError(fmt.Errorf("%w (finish reason: %s)", llm.ErrEmptyResponse, candidate.FinishReason))
	}

	out := &llm.Response{
		Content:      text.String(),
		Model:        req.Model,
		FinishReason: candidate.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func toGenaiSchema(s *llm.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        toGenaiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Nullable:    s.Nullable,
		Items:       toGenaiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	return out
}

func toGenaiType(t llm.SchemaType) genai.Type {
	switch t {
	case llm.TypeString:
		return genai.TypeString
	case llm.TypeNumber:
		return genai.TypeNumber
	case llm.TypeInteger:
		return genai.TypeInteger
	case llm.TypeBoolean:
		return genai.TypeBoolean
	case llm.TypeArray:
		return genai.TypeArray
	case llm.TypeObject:
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
