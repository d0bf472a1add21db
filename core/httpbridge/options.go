package httpbridge

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/collidor/core/command"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithURLFunc selects the endpoint per command, replacing the static URL.
func WithURLFunc(fn func(cmd command.Command) string) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.url = fn
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.header.Add(key, value)
	}
}

// WithHeaderFunc computes headers per command. They override static headers
// with the same name.
func WithHeaderFunc(fn func(ctx context.Context, cmd command.Command) http.Header) ClientOption {
	return func(c *Client) {
		c.headerFunc = fn
	}
}

// WithHTTPClient replaces the default client, which has a 30 second timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithResponseLimit limits the size of a result read from the server.
// Non-positive values are ignored.
func WithResponseLimit(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithClientLogger configures structured logging for the client.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMaxBodySize limits the request body size. Non-positive values are ignored.
func WithMaxBodySize(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithServerLogger configures structured logging for the server.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
