// Package generate wraps the language model used for drafting, validation
// prompts, and channel adaptation behind a narrow client interface.
package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Request is one rendered prompt pair.
type Request struct {
	System string
	User   string
}

// Client renders text from a prompt. Implementations: *OpenAIClient and the
// test stubs in stub.go.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// TransientError marks a failure worth retrying (timeout, rate limit, 5xx).
// Exhausting retries escalates it to a hard failure upstream.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient generation error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (anywhere in its chain) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// OpenAIClient talks to an OpenAI-compatible chat completions API.
type OpenAIClient struct {
	Model string
	opts  []option.RequestOption
}

// NewOpenAIClient builds a client for baseURL/apiKey/model. APIKey is required;
// baseURL empty means the default OpenAI endpoint.
func NewOpenAIClient(baseURL, apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm api key missing; set llm.api_key or CONTENTD_LLM_API_KEY")
	}
	if model == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{Model: model, opts: opts}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	client := openai.NewClient(c.opts...)

	msgs := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.User))

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.Model),
		Messages: msgs,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &TransientError{Err: errors.New("empty choices in completion response")}
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps SDK errors to the retry taxonomy. Context cancellation and
// deadline expiry pass through untouched so callers can tell them apart.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return &TransientError{Err: err}
		default:
			// 4xx auth/config problems will not heal on retry.
			return fmt.Errorf("generation request rejected: %w", err)
		}
	}
	// Network-level failures (connection reset, DNS) are worth retrying.
	return &TransientError{Err: err}
}
