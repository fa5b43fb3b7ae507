package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexus3/nexus3/internal/observability"
	"github.com/nexus3/nexus3/pkg/models"
)

// RawRecorder receives every provider request and stream event for the
// raw JSONL log. Implementations must not block.
type RawRecorder interface {
	Record(event string, payload any)
}

type recorderContextKey struct{}

// WithRecorder attaches a request-scoped recorder. The shared client
// consults it first, so per-agent raw logs route correctly without
// per-agent clients.
func WithRecorder(ctx context.Context, r RawRecorder) context.Context {
	return context.WithValue(ctx, recorderContextKey{}, r)
}

func recorderFrom(ctx context.Context) (RawRecorder, bool) {
	r, ok := ctx.Value(recorderContextKey{}).(RawRecorder)
	return r, ok
}

// OpenAIClient is the Client implementation over the OpenAI-compatible
// chat completions API. Safe for concurrent use; each Stream call owns
// an independent SDK stream and goroutine.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	backoff BackoffPolicy

	// maxRetries bounds attempts at opening a stream. Errors after the
	// stream is established are never retried: partial output may
	// already have been delivered.
	maxRetries int

	// requestTimeout bounds one completion request end to end.
	requestTimeout time.Duration

	logger   *slog.Logger
	metrics  *observability.Metrics
	recorder RawRecorder
}

// Options configures NewOpenAIClient beyond the API key.
type Options struct {
	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL string
	// Model is the default model for requests that do not name one.
	Model string
	// MaxRetries bounds stream-open attempts. Default 3.
	MaxRetries int
	// RequestTimeout bounds one request. Default 120s.
	RequestTimeout time.Duration

	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Recorder RawRecorder
}

// NewOpenAIClient builds a streaming client. An empty API key is an
// error here rather than at first use: the runtime cannot do anything
// without a provider.
func NewOpenAIClient(apiKey string, opts Options) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("provider API key not configured")
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 120 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(cfg),
		model:          opts.Model,
		backoff:        DefaultBackoff(),
		maxRetries:     opts.MaxRetries,
		requestTimeout: opts.RequestTimeout,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		recorder:       opts.Recorder,
	}, nil
}

// Stream opens a streaming completion. The returned channel closes
// after a final chunk with Done set; consuming it fully is required.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	c.record(ctx, "request", chatReq)

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)

	stream, err := c.openStream(reqCtx, chatReq)
	if err != nil {
		cancel()
		c.countRequest(chatReq.Model, "error")
		return nil, err
	}

	chunks := make(chan Chunk)
	go func() {
		defer cancel()
		c.processStream(reqCtx, chatReq.Model, stream, chunks)
	}()
	return chunks, nil
}

// openStream retries transient failures with jittered backoff. Auth
// errors and unclassified errors fail immediately.
func (c *OpenAIClient) openStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		stream, err := c.client.CreateChatCompletionStream(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = classifyError(err)
		if !retryable(lastErr) {
			return nil, lastErr
		}
		if attempt == c.maxRetries {
			break
		}

		delay := c.backoff.Delay(attempt)
		var transient *TransientError
		if errors.As(lastErr, &transient) && transient.RetryAfter > delay {
			delay = transient.RetryAfter
		}
		c.logger.Warn("provider request failed, retrying",
			"attempt", attempt, "delay", delay, "error", lastErr)
		c.countRequest(req.Model, "retry")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("provider retries exhausted: %w", lastErr)
}

// processStream converts SDK deltas into chunks. Tool calls arrive as
// fragments keyed by choice index and are emitted once complete.
func (c *OpenAIClient) processStream(ctx context.Context, model string, stream *openai.ChatCompletionStream, chunks chan<- Chunk) {
	defer close(chunks)
	defer stream.Close()

	start := time.Now()
	acc := newToolCallAccumulator()
	var usage *Usage
	emitted := false

	finish := func(err error) {
		status := "success"
		if err != nil && !errors.Is(err, context.Canceled) {
			status = "error"
		}
		c.countRequest(model, status)
		if c.metrics != nil {
			c.metrics.ProviderRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
			if usage != nil {
				c.metrics.ProviderTokens.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
				c.metrics.ProviderTokens.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
			}
		}
		chunks <- Chunk{Done: true, Usage: usage, Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			finish(ctx.Err())
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !emitted {
					c.emitToolCalls(acc, chunks)
				}
				finish(nil)
				return
			}
			finish(classifyError(err))
			return
		}
		c.record(ctx, "chunk", response)

		if response.Usage != nil {
			usage = &Usage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- Chunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc.add(tc)
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			c.emitToolCalls(acc, chunks)
			emitted = true
		}
	}
}

// emitToolCalls flushes complete accumulated calls in index order,
// failing closed on argument payloads that are not valid JSON.
func (c *OpenAIClient) emitToolCalls(acc *toolCallAccumulator, chunks chan<- Chunk) {
	for _, call := range acc.drain() {
		if !json.Valid(call.Arguments) {
			c.logger.Warn("tool call arguments are not valid JSON, replacing with empty object",
				"tool", call.Name, "id", call.ID)
			if c.metrics != nil {
				c.metrics.MalformedToolArgs.Inc()
			}
			call.Arguments = emptyArgs
		}
		chunks <- Chunk{ToolCall: call}
	}
}

func (c *OpenAIClient) buildRequest(req *Request) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return openai.ChatCompletionRequest{}, errors.New("no model configured")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	for _, def := range req.Tools {
		var params map[string]any
		if err := json.Unmarshal(def.Parameters, &params); err != nil {
			// One bad schema must not break the whole tool list.
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return chatReq, nil
}

func convertMessage(msg models.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:    string(msg.Role),
		Content: msg.Content,
	}
	if msg.Role == models.RoleTool {
		out.ToolCallID = msg.ToolCallID
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return out
}

// Summarize runs a non-streaming completion for context compaction.
// An empty model falls back to the client default, so a cheaper
// compactor model is opt-in per configuration.
func (c *OpenAIClient) Summarize(ctx context.Context, model, system, transcript string) (string, error) {
	if model == "" {
		model = c.model
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	})
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("summarizer returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) countRequest(model, status string) {
	if c.metrics != nil {
		c.metrics.ProviderRequestCounter.WithLabelValues(model, status).Inc()
	}
}

func (c *OpenAIClient) record(ctx context.Context, event string, payload any) {
	if r, ok := recorderFrom(ctx); ok {
		r.Record(event, payload)
		return
	}
	if c.recorder != nil {
		c.recorder.Record(event, payload)
	}
}
