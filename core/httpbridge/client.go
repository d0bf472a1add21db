package httpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/collidor/core/command"
	"github.com/dmitrymomot/collidor/core/logger"
	"github.com/dmitrymomot/collidor/pkg/async"
	"github.com/dmitrymomot/collidor/pkg/codec"
)

// DefaultMaxBodySize bounds request and response bodies (1MB).
const DefaultMaxBodySize = 1 << 20

// request is the HTTP body of a forwarded command.
type request struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client is a dispatcher plugin that forwards commands without a local
// handler to an HTTP endpoint served by Server.
//
// Example:
//
//	client := httpbridge.NewClient("https://api.example.com/commands",
//		httpbridge.WithHeader("Authorization", "Bearer "+token))
//	d := command.NewAsyncDispatcher(command.WithPlugin(client))
//	n, err := command.ExecuteAsync(ctx, d, Sum, SumArgs{A: 1, B: 2}).Await(ctx)
type Client struct {
	url        func(cmd command.Command) string
	header     http.Header
	headerFunc func(ctx context.Context, cmd command.Command) http.Header
	http       *http.Client
	maxBody    int64
	logger     *slog.Logger
}

// NewClient creates a client posting commands to url.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:     func(command.Command) string { return url },
		header:  make(http.Header),
		http:    &http.Client{Timeout: 30 * time.Second},
		maxBody: DefaultMaxBodySize,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InterceptAsync runs cmd locally when a handler exists and over HTTP otherwise.
func (c *Client) InterceptAsync(ctx context.Context, cmd command.Command, local command.AsyncHandler) *async.Future[any] {
	if local != nil {
		return local(ctx, cmd)
	}
	return async.Go(ctx, func(ctx context.Context) (any, error) {
		return c.Do(ctx, cmd)
	})
}

// Do posts cmd and returns the decoded result. Any non-2xx status fails with
// a *StatusError; nothing is retried.
func (c *Client) Do(ctx context.Context, cmd command.Command) (any, error) {
	body, err := json.Marshal(request{Name: cmd.Name, Payload: cmd.Payload})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", command.ErrInvalidPayload, cmd.Name, err)
	}

	url := c.url(cmd)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &command.TransportError{Op: "request", Topic: url, Err: err}
	}
	c.applyHeaders(ctx, req, cmd)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &command.TransportError{Op: "post", Topic: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &command.TransportError{Op: "read", Topic: url, Err: err}
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%w: %s: over %d bytes", ErrResponseTooLarge, cmd.Name, c.maxBody)
	}

	c.logger.DebugContext(ctx, "command forwarded",
		logger.Command(cmd.Name),
		slog.Int("status", resp.StatusCode),
		logger.Elapsed(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Command: cmd.Name, StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			se.Message = eb.Error
		}
		return nil, se
	}

	raw := codec.RawMessage(bytes.TrimSpace(data))
	if raw.IsNull() {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s: response is not JSON", command.ErrInvalidPayload, cmd.Name)
	}
	return codec.NewValue(raw, codec.JSON), nil
}

// applyHeaders sets the content type, then static headers, then per-command
// headers, each overriding the previous.
func (c *Client) applyHeaders(ctx context.Context, req *http.Request, cmd command.Command) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.header {
		req.Header[k] = v
	}
	if c.headerFunc == nil {
		return
	}
	for k, v := range c.headerFunc(ctx, cmd) {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
}
