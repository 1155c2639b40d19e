// Package enrich derives structured columns from free-text fields with
// an LLM, using function calling so the model's answer arrives as a
// typed JSON document rather than prose.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/dataharvest/reaper/internal/types"
)

const (
	defaultModel    = openai.GPT4oMini
	defaultAttempts = 3
	cacheSize       = 2048
)

// Task describes one extraction the model can be asked to perform. The
// schema is generated from the result type, so the model is forced to
// answer in the shape the caller unmarshals into.
type Task struct {
	Name         string
	Description  string
	Instructions string
	Schema       *jsonschema.Definition
}

// Enricher calls the chat-completions API with deterministic settings
// and caches answers so identical inputs never pay for two calls.
type Enricher struct {
	client    *openai.Client
	model     string
	attempts  int
	baseDelay time.Duration
	cache     *lru.Cache[string, json.RawMessage]
	logger    *slog.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(e *Enricher) { e.model = model }
}

// WithRetryDelay overrides the base backoff delay between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Enricher) { e.baseDelay = d }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(baseURL string) func(*openai.ClientConfig) {
	return func(cfg *openai.ClientConfig) { cfg.BaseURL = baseURL }
}

// New builds an Enricher. configure hooks run against the client config
// before the client is built.
func New(apiKey string, logger *slog.Logger, configure []func(*openai.ClientConfig), opts ...Option) (*Enricher, error) {
	if apiKey == "" {
		return nil, errors.New("enrich: api key is empty")
	}
	cfg := openai.DefaultConfig(apiKey)
	for _, fn := range configure {
		fn(&cfg)
	}
	cache, err := lru.New[string, json.RawMessage](cacheSize)
	if err != nil {
		return nil, err
	}
	e := &Enricher{
		client:    openai.NewClientWithConfig(cfg),
		model:     defaultModel,
		attempts:  defaultAttempts,
		baseDelay: time.Second,
		cache:     cache,
		logger:    logger.With("component", "enricher"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes a task against one input and unmarshals the tool-call
// arguments into out. Answers are cached on (task, normalized input);
// malformed tool calls count as transient and are retried with the
// same backoff as transport errors.
func (e *Enricher) Run(ctx context.Context, task Task, input string, out any) error {
	key := task.Name + "\x1f" + normalizeInput(input)
	if raw, ok := e.cache.Get(key); ok {
		return json.Unmarshal(raw, out)
	}

	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		if attempt > 1 {
			delay := e.baseDelay << (attempt - 2)
			e.logger.Warn("retrying enrichment", "task", task.Name, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		raw, err := e.call(ctx, task, input)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		if err := json.Unmarshal(raw, out); err != nil {
			lastErr = fmt.Errorf("tool call arguments: %w", err)
			continue
		}
		e.cache.Add(key, raw)
		return nil
	}

	return &types.EnrichError{Task: task.Name, Attempts: e.attempts, Err: lastErr}
}

func (e *Enricher) call(ctx context.Context, task Task, input string) (json.RawMessage, error) {
	fn := openai.FunctionDefinition{
		Name:        task.Name,
		Description: task.Description,
		Parameters:  task.Schema,
	}
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: task.Instructions},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		Tools: []openai.Tool{{
			Type:     openai.ToolTypeFunction,
			Function: &fn,
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: task.Name},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return nil, errors.New("model returned no tool call")
	}
	return json.RawMessage(resp.Choices[0].Message.ToolCalls[0].Function.Arguments), nil
}

// normalizeInput collapses whitespace so trivially reformatted text
// hits the same cache entry.
func normalizeInput(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
