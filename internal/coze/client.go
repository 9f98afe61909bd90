package coze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Message is one turn sent to the upstream as conversation context.
type Message struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	Type        string `json:"type"`
}

// NewMessage builds a text turn, typed as a question for user turns and an
// answer for assistant turns.
func NewMessage(role, content string) Message {
	msgType := TypeQuestion
	if role == "assistant" {
		msgType = TypeAnswer
	}
	return Message{Role: role, Content: content, ContentType: "text", Type: msgType}
}

// ChatRequest is the body of a v3 chat call.
type ChatRequest struct {
	BotID              string    `json:"bot_id"`
	UserID             string    `json:"user_id"`
	Stream             bool      `json:"stream"`
	AutoSaveHistory    bool      `json:"auto_save_history"`
	AdditionalMessages []Message `json:"additional_messages"`
}

// Client calls the chat endpoint and decodes its event stream.
type Client struct {
	BaseURL     string
	APIKey      string
	IdleTimeout time.Duration
	HTTPClient  *http.Client
}

// NewClient returns a client for the given endpoint. idleTimeout bounds the
// wait for each chunk of the response, not the whole stream.
func NewClient(baseURL, apiKey string, idleTimeout time.Duration) *Client {
	return &Client{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		IdleTimeout: idleTimeout,
		HTTPClient:  &http.Client{},
	}
}

// Configured reports whether calls for botID can be made at all.
func (c *Client) Configured(botID string) bool {
	return c != nil && c.APIKey != "" && botID != ""
}

// Stream posts req and returns the decoded event stream. The caller must
// Close it.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (Stream, error) {
	if !c.Configured(req.BotID) {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	idle := newIdleTimer(c.IdleTimeout, cancel)
	started := time.Now()
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		idle.stop()
		cancel()
		if idle.expired() {
			return nil, ErrTimeout
		}
		return nil, err
	}
	log.Printf("INFO: Upstream responded %d (content length %d) in %s", resp.StatusCode, resp.ContentLength, time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		idle.stop()
		cancel()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	idle.reset()
	rc := &idleReader{body: resp.Body, timer: idle, cancel: cancel}
	return &bodyStream{Decoder: NewDecoder(rc), body: rc}, nil
}

// bodyStream ties a decoder to the response body it reads.
type bodyStream struct {
	*Decoder
	body io.Closer
}

func (s *bodyStream) Close() error { return s.body.Close() }

// idleTimer cancels the request when no progress is made for d.
type idleTimer struct {
	d     time.Duration
	t     *time.Timer
	fired atomic.Bool
	mu    sync.Mutex
}

func newIdleTimer(d time.Duration, cancel context.CancelFunc) *idleTimer {
	it := &idleTimer{d: d}
	if d > 0 {
		it.t = time.AfterFunc(d, func() {
			it.fired.Store(true)
			cancel()
		})
	}
	return it
}

func (it *idleTimer) reset() {
	if it.t == nil {
		return
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if !it.fired.Load() {
		it.t.Reset(it.d)
	}
}

func (it *idleTimer) stop() {
	if it.t != nil {
		it.t.Stop()
	}
}

func (it *idleTimer) expired() bool { return it.fired.Load() }

type idleReader struct {
	body   io.ReadCloser
	timer  *idleTimer
	cancel context.CancelFunc
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 {
		r.timer.reset()
	}
	if err != nil && err != io.EOF && r.timer.expired() {
		return n, ErrTimeout
	}
	return n, err
}

func (r *idleReader) Close() error {
	r.timer.stop()
	r.cancel()
	return r.body.Close()
}
