// Package llm generates document titles and embeddings through an
// OpenAI-compatible API such as Ollama's /v1 endpoint.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"text/template"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jmylchreest/go-retitler/internal/version"
)

const (
	// DefaultTimeout bounds one generation including retries
	DefaultTimeout = 2 * time.Minute

	// BaseBackoff is the first rate-limit retry delay; it doubles per attempt
	BaseBackoff = 2 * time.Second

	// MaxBackoff caps a single retry delay
	MaxBackoff = 32 * time.Second
)

// ErrMaxRetriesExceeded is returned when every attempt was rate limited
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Config configures a Client
type Config struct {
	BaseURL              string
	APIKey               string
	Model                string
	VisionModel          string
	Language             string
	PromptTemplate       string
	VisionPromptTemplate string
	MaxContentTokens     int
	ExampleTokens        int
	Timeout              time.Duration
	MaxRetries           int
	HTTPClient           *http.Client
	Logger               *slog.Logger
}

// Client generates titles with chat completions
type Client struct {
	client       openai.Client
	model        string
	visionModel  string
	language     string
	prompt       *template.Template
	visionPrompt *template.Template
	contentTok   int
	exampleTok   int
	timeout      time.Duration
	maxRetries   int
	baseBackoff  time.Duration
	trunc        *truncator
	logger       *slog.Logger
}

// clientOptions are shared by the chat and embeddings clients. Retries are
// handled here rather than by the SDK so only 429s are retried.
func clientOptions(baseURL, apiKey string, httpClient *http.Client) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", version.UserAgent()),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return opts
}

// NewClient creates a title generator
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	if cfg.Language == "" {
		cfg.Language = "English"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxContentTokens <= 0 {
		cfg.MaxContentTokens = 1000
	}
	if cfg.ExampleTokens <= 0 {
		cfg.ExampleTokens = 100
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm")

	prompt, err := parseTemplate("prompt", cfg.PromptTemplate, DefaultPromptTemplate)
	if err != nil {
		return nil, err
	}
	visionPrompt, err := parseTemplate("vision_prompt", cfg.VisionPromptTemplate, DefaultVisionPromptTemplate)
	if err != nil {
		return nil, err
	}

	return &Client{
		client:       openai.NewClient(clientOptions(cfg.BaseURL, cfg.APIKey, cfg.HTTPClient)...),
		model:        cfg.Model,
		visionModel:  cfg.VisionModel,
		language:     cfg.Language,
		prompt:       prompt,
		visionPrompt: visionPrompt,
		contentTok:   cfg.MaxContentTokens,
		exampleTok:   cfg.ExampleTokens,
		timeout:      cfg.Timeout,
		maxRetries:   cfg.MaxRetries,
		baseBackoff:  BaseBackoff,
		trunc:        newTruncator(logger),
		logger:       logger,
	}, nil
}

// TitleFromText asks the text model for a title. examples are few-shot
// neighbours from the vector index and may be empty. An empty result with a
// nil error means the model answered with nothing usable.
func (c *Client) TitleFromText(ctx context.Context, content, originalTitle string, examples []Example) (string, error) {
	prompt, err := render(c.prompt, promptData{
		Examples: formatExamples(examples, c.trunc, c.exampleTok),
		Content:  c.trunc.truncate(content, c.contentTok),
		Filename: originalTitle,
		Language: c.language,
	})
	if err != nil {
		return "", err
	}

	raw, err := c.complete(ctx, c.model, []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(prompt),
	})
	if err != nil {
		return "", err
	}

	title := firstLine(raw)
	c.logger.DebugContext(ctx, "generated title",
		"model", c.model,
		"examples", len(examples),
		"title", title)
	return title, nil
}

// TitleFromImage asks the vision model for a title of an image document
func (c *Client) TitleFromImage(ctx context.Context, image []byte, mimeType, originalTitle string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty image")
	}

	prompt, err := render(c.visionPrompt, promptData{
		Filename: originalTitle,
		Language: c.language,
	})
	if err != nil {
		return "", err
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	raw, err := c.complete(ctx, c.visionModel, []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		}),
	})
	if err != nil {
		return "", err
	}

	title := firstLine(raw)
	c.logger.DebugContext(ctx, "generated title from image",
		"model", c.visionModel,
		"bytes", len(image),
		"title", title)
	return title, nil
}

// complete runs one chat completion, retrying rate-limited attempts with
// exponential backoff.
func (c *Client) complete(ctx context.Context, model string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff << (attempt - 1)
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}
			c.logger.WarnContext(ctx, "rate limited, retrying",
				"model", model,
				"attempt", attempt,
				"backoff", backoff)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    shared.ChatModel(model),
			Messages: messages,
		})
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				continue
			}
			return "", fmt.Errorf("chat completion with %s: %w", model, err)
		}

		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("chat completion with %s: no choices returned", model)
		}
		return completion.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
