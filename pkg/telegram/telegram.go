// Package telegram delivers reports through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/jazware/engagement-report/version"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	// MaxMessageLength is the sendMessage text limit in characters.
	MaxMessageLength = 4096
	// MaxCaptionLength is the sendPhoto caption limit in characters.
	MaxCaptionLength = 1024
)

// Client calls the Bot API for a single bot token.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit paces outgoing calls. Telegram allows about one message per second per chat.
func WithRateLimit(every time.Duration, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Every(every), burst)
	}
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

type message struct {
	MessageID int64 `json:"message_id"`
}

// SendMessage posts plain text to a chat and returns the message ID.
// Text over the API limit is truncated.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (int64, error) {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  Truncate(text, MaxMessageLength),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.call(ctx, "sendMessage", "application/json", payload)
}

// SendPhoto uploads an image as a multipart file attachment.
func (c *Client) SendPhoto(ctx context.Context, chatID, filename string, image []byte, caption string) (int64, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("chat_id", chatID); err != nil {
		return 0, fmt.Errorf("failed to write chat_id: %w", err)
	}
	if caption != "" {
		if err := w.WriteField("caption", Truncate(caption, MaxCaptionLength)); err != nil {
			return 0, fmt.Errorf("failed to write caption: %w", err)
		}
	}
	part, err := w.CreateFormFile("photo", filename)
	if err != nil {
		return 0, fmt.Errorf("failed to create photo part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return 0, fmt.Errorf("failed to write photo: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to close multipart body: %w", err)
	}

	return c.call(ctx, "sendPhoto", w.FormDataContentType(), body.Bytes())
}

func (c *Client) call(ctx context.Context, method, contentType string, payload []byte) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, &DeliveryError{Method: method, Err: c.redact(err)}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &DeliveryError{Method: method, Err: c.redact(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return 0, &DeliveryError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return 0, &DeliveryError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if !apiResp.OK {
		de := &DeliveryError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Code:        apiResp.ErrorCode,
			Description: apiResp.Description,
		}
		if apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
			de.RetryAfter = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
		}
		return 0, de
	}

	var msg message
	if len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, &msg); err != nil {
			return 0, &DeliveryError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse result: %w", err)}
		}
	}
	return msg.MessageID, nil
}

// redact strips the bot token from errors that echo the request URL.
func (c *Client) redact(err error) error {
	if c.token == "" || !strings.Contains(err.Error(), c.token) {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), c.token, "<token>"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }

func (e redactedError) Unwrap() error { return e.err }

// Truncate shortens text to at most limit characters, marking the cut with an ellipsis.
func Truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
