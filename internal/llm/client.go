// Package llm wraps the chat completion provider used for question
// generation and report scoring.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/jetbot/interview-gateway/internal/resilience"
)

// ErrNotConfigured is returned when no API key was provided.
var ErrNotConfigured = errors.New("llm: OPENAI_API_KEY is not configured")

// ErrEmptyResponse is returned when the provider answers without content.
var ErrEmptyResponse = errors.New("llm: empty completion")

// Request is a single-turn chat completion.
type Request struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float32
	// JSON asks the provider for a JSON object response.
	JSON bool
}

// Completer returns the assistant text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// OpenAI is a Completer backed by the OpenAI chat completions API.
type OpenAI struct {
	client  *openai.Client
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
}

// NewOpenAI creates a client for apiKey. An empty key yields a client whose
// calls fail with ErrNotConfigured.
func NewOpenAI(apiKey string, breaker *resilience.CircuitBreaker, retry *resilience.RetryConfig) *OpenAI {
	if apiKey == "" {
		return &OpenAI{breaker: breaker, retry: retry}
	}
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), breaker, retry)
}

// NewOpenAIWithConfig creates a client from a full go-openai config, e.g.
// to point BaseURL at a proxy.
func NewOpenAIWithConfig(cfg openai.ClientConfig, breaker *resilience.CircuitBreaker, retry *resilience.RetryConfig) *OpenAI {
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		breaker: breaker,
		retry:   retry,
	}
}

// Configured reports whether an API key was provided.
func (o *OpenAI) Configured() bool {
	return o.client != nil
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if o.client == nil {
		return "", ErrNotConfigured
	}

	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var content string
	call := func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			resp, err := o.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				if isRetryableAPIError(err) {
					return resilience.NewRetryableError(err)
				}
				return err
			}
			if len(resp.Choices) == 0 {
				return ErrEmptyResponse
			}
			content = strings.TrimSpace(resp.Choices[0].Message.Content)
			return nil
		}, o.retry, resilience.IsRetryable)
	}

	var err error
	if o.breaker != nil {
		err = o.breaker.Call(call)
	} else {
		err = call()
	}
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// isRetryableAPIError retries rate limits, server errors and network
// failures. Client errors such as a bad key are returned immediately.
func isRetryableAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return resilience.IsRetryableNetworkError(err)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
