// Package handoff delivers download requests to a running flux service the
// way the browser extension does.
package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultAttempts is the number of delivery attempts.
	DefaultAttempts = 3
	// DefaultDelay is the pause between attempts.
	DefaultDelay = time.Second
	// DefaultAttemptTimeout bounds a single attempt.
	DefaultAttemptTimeout = 5 * time.Second
)

// ErrUnreachable is returned when every attempt failed.
var ErrUnreachable = errors.New("flux service unreachable")

// Tokens are the session cookies the extension reads from the page.
type Tokens struct {
	MsToken      string `json:"msToken,omitempty"`
	TtChainToken string `json:"ttChainToken,omitempty"`
}

// Payload is the body of POST /download.
type Payload struct {
	URL      string  `json:"url"`
	Title    string  `json:"title,omitempty"`
	Filename string  `json:"filename,omitempty"`
	AudioURL string  `json:"audioUrl,omitempty"`
	Cookies  *Tokens `json:"cookies,omitempty"`
}

// Reply is the service's answer.
type Reply struct {
	Success bool   `json:"success"`
	Queued  bool   `json:"queued,omitempty"`
	Session string `json:"session,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Logger interface for logging operations.
// Compatible with github.com/charmbracelet/log.Logger.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
}

// Client posts payloads to the service.
type Client struct {
	BaseURL        string
	HTTP           *http.Client
	Attempts       int
	Delay          time.Duration
	AttemptTimeout time.Duration
	Log            Logger
}

// New returns a client for the service at addr (host:port).
func New(addr string, logger Logger) *Client {
	return &Client{
		BaseURL:        "http://" + addr,
		HTTP:           &http.Client{},
		Attempts:       DefaultAttempts,
		Delay:          DefaultDelay,
		AttemptTimeout: DefaultAttemptTimeout,
		Log:            logger,
	}
}

// Send delivers p, retrying transport failures and non-2xx answers.
func (c *Client) Send(ctx context.Context, p Payload) (Reply, error) {
	if p.URL == "" {
		return Reply{}, errors.New("handoff: url is required")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Reply{}, err
	}

	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.Delay), uint64(attempts-1)),
		ctx,
	)

	var reply Reply
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		reply = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if c.Log != nil {
			c.Log.Warn("handoff attempt failed", "attempt", attempt, "of", attempts, "retry_in", wait, "error", err)
		}
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, fmt.Errorf("%w after %d attempts: %w", ErrUnreachable, attempt, err)
	}
	return reply, nil
}

func (c *Client) post(ctx context.Context, body []byte) (Reply, error) {
	timeout := c.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/download", bytes.NewReader(body))
	if err != nil {
		return Reply{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Reply{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Reply{}, fmt.Errorf("service responded with status %d", resp.StatusCode)
	}
	var reply Reply
	if len(data) > 0 {
		if err := json.Unmarshal(data, &reply); err != nil {
			return Reply{}, fmt.Errorf("decode reply: %w", err)
		}
	}
	if c.Log != nil {
		c.Log.Debug("handoff delivered", "queued", reply.Queued, "session", reply.Session)
	}
	return reply, nil
}
