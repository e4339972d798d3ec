package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/modelfleet/modelfleet/config"
	"github.com/modelfleet/modelfleet/internal/telemetry"
)

// StreamSink receives incremental output of a streaming model call.
// OnToken is called synchronously for every decoded token, OnComplete
// exactly once after the stream naturally ends, OnError at most once on
// terminal failure. Cancellation never reaches OnError.
type StreamSink interface {
	OnToken(token string)
	OnComplete()
	OnError(err error)
}

// Client issues chat-completion requests against the gateway. It holds no
// per-invocation state and is safe for concurrent use across models.
type Client struct {
	baseURL      string
	maxRetries   int
	initialDelay time.Duration
	http         *http.Client
	tele         *telemetry.Telemetry
	logger       *log.Logger
}

// NewClient builds a gateway client from configuration.
func NewClient(cfg config.GatewayConfig, tele *telemetry.Telemetry, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags)
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 5
	}
	delay := cfg.InitialRetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		maxRetries:   retries,
		initialDelay: delay,
		http:         &http.Client{Timeout: cfg.Timeout},
		tele:         tele,
		logger:       logger,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Invoke sends history to the gateway as model. When sink is nil a single
// buffered request/response call is made; otherwise a streaming response
// is requested and decoded token by token. The whole request is retried
// with exponential backoff on any failure except cancellation, and after
// exhausting every attempt a *ModelUnavailableError is returned (and
// delivered to sink.OnError when a sink was given).
func (c *Client) Invoke(ctx context.Context, model config.ModelConfig, history []Message, sink StreamSink) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model.ModelName,
		Messages:    history,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
		Stream:      sink != nil,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	delay := c.initialDelay
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		text, err := c.attempt(ctx, model, body, sink)
		if err == nil {
			if sink != nil {
				sink.OnComplete()
			}
			return text, nil
		}
		if IsCancellation(err) {
			return "", err
		}
		lastErr = err
		if attempt == c.maxRetries {
			break
		}
		c.tele.RecordRetry(model.Name)
		c.logger.Printf("retry %d for %s after error: %v (waiting %s)", attempt, model.Name, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		delay *= 2
	}

	unavailable := &ModelUnavailableError{Model: model.Name, Attempts: c.maxRetries, Last: lastErr}
	if sink != nil {
		sink.OnError(unavailable)
	}
	return "", unavailable
}

// attempt performs one request against the gateway.
func (c *Client) attempt(ctx context.Context, model config.ModelConfig, body []byte, sink StreamSink) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+model.APIKey)
	if sink != nil {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", errors.New(resp.Status + ": " + string(b))
	}

	if sink == nil {
		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if len(out.Choices) == 0 {
			return "", errors.New("no choices in response")
		}
		return out.Choices[0].Message.Content, nil
	}

	var full bytes.Buffer
	err = DecodeStream(resp.Body, c.logger, func(tok string) {
		full.WriteString(tok)
		sink.OnToken(tok)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return full.String(), nil
}
