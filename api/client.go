package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TokenProvider supplies the bearer token sent with every request. An empty
// token omits the Authorization header so unauthenticated servers keep
// working.
type TokenProvider interface {
	Token() string
}

// Client talks to a RAG.OS server: streaming chat plus the REST endpoints
// for conversations and message history. It implements model.Streamer.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenProvider
}

// NewClient creates an API client.
//
// Parameters:
//   - baseURL: server base URL ("http://localhost:8004")
//   - tokens: bearer token source, may be nil
//
// The underlying http.Client carries no timeout: streams stay open for as
// long as a turn takes, and callers cancel via context.
func NewClient(baseURL string, tokens TokenProvider) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		tokens:  tokens,
	}
}

// newRequest builds a request for path with auth headers applied.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}
