package telegram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

const testToken = "123456:secret-token"

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(testToken, WithBaseURL(srv.URL), WithRateLimit(time.Millisecond, 10))
}

// decodeBody reads the whole body before decoding, as Client.call does.
func decodeBody(t *testing.T, r *http.Request, v any) {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Errorf("read body: %v", err)
		return
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Errorf("decode body: %v", err)
	}
}

func TestSendMessage(t *testing.T) {
	var got sendMessageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot"+testToken+"/sendMessage" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type: got %s, want application/json", ct)
		}
		decodeBody(t, r, &got)
		io.WriteString(w, `{"ok":true,"result":{"message_id":42}}`)
	})

	id, err := c.SendMessage(context.Background(), "-1001", "Метрики от 2024-03-10")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != 42 {
		t.Fatalf("message id: got %d, want 42", id)
	}
	if got.ChatID != "-1001" || got.Text != "Метрики от 2024-03-10" {
		t.Fatalf("request: got %+v", got)
	}
}

func TestSendMessageTruncates(t *testing.T) {
	var got sendMessageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		decodeBody(t, r, &got)
		io.WriteString(w, `{"ok":true,"result":{"message_id":1}}`)
	})

	if _, err := c.SendMessage(context.Background(), "1", strings.Repeat("я", MaxMessageLength+10)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if n := utf8.RuneCountInString(got.Text); n != MaxMessageLength {
		t.Fatalf("text length: got %d runes, want %d", n, MaxMessageLength)
	}
	if !strings.HasSuffix(got.Text, "…") {
		t.Fatalf("truncated text should end with an ellipsis")
	}
}

func TestSendPhoto(t *testing.T) {
	image := []byte("\x89PNG\r\n\x1a\nfake")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot"+testToken+"/sendPhoto" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if v := r.FormValue("chat_id"); v != "-1001" {
			t.Errorf("chat_id: got %s, want -1001", v)
		}

		f, hdr, err := r.FormFile("photo")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		if hdr.Filename != "Дашборд.png" {
			t.Errorf("filename: got %s", hdr.Filename)
		}
		body, _ := io.ReadAll(f)
		if !bytes.Equal(body, image) {
			t.Errorf("photo: got %q, want %q", body, image)
		}

		io.WriteString(w, `{"ok":true,"result":{"message_id":43}}`)
	})

	id, err := c.SendPhoto(context.Background(), "-1001", "Дашборд.png", image, "")
	if err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}
	if id != 43 {
		t.Fatalf("message id: got %d, want 43", id)
	}
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      string
		transient bool
		retry     time.Duration
	}{
		{"unauthorized", 401, `{"ok":false,"error_code":401,"description":"Unauthorized"}`, "auth_failed", false, 0},
		{"chat not found", 400, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, "chat_not_found", false, 0},
		{"forbidden", 403, `{"ok":false,"error_code":403,"description":"Forbidden: bot was kicked"}`, "forbidden", false, 0},
		{"rate limited", 429, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`, "rate_limited", true, 7 * time.Second},
		{"server error", 502, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`, "server_error", true, 0},
		{"not json", 502, `<html>bad gateway</html>`, "transport", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := c.SendMessage(context.Background(), "1", "hi")
			var de *DeliveryError
			if !errors.As(err, &de) {
				t.Fatalf("SendMessage: got %v, want DeliveryError", err)
			}
			if de.Method != "sendMessage" {
				t.Fatalf("method: got %s, want sendMessage", de.Method)
			}
			if de.Kind() != tt.kind {
				t.Fatalf("kind: got %s, want %s", de.Kind(), tt.kind)
			}
			if de.Transient() != tt.transient {
				t.Fatalf("transient: got %v, want %v", de.Transient(), tt.transient)
			}
			if de.RetryAfter != tt.retry {
				t.Fatalf("retry after: got %v, want %v", de.RetryAfter, tt.retry)
			}
		})
	}
}

func TestTransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(testToken, WithBaseURL(url))
	_, err := c.SendMessage(context.Background(), "1", "hi")

	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("SendMessage: got %v, want DeliveryError", err)
	}
	if de.Kind() != "transport" {
		t.Fatalf("kind: got %s, want transport", de.Kind())
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("error leaks the bot token: %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.SendMessage(ctx, "1", "hi"); !errors.Is(err, context.Canceled) {
		t.Fatalf("SendMessage: got %v, want context.Canceled", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("Truncate: got %q", got)
	}
	if got := Truncate("abcdef", 4); got != "abc…" {
		t.Fatalf("Truncate: got %q, want %q", got, "abc…")
	}
}
