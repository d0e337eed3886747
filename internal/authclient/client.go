// Package authclient is the client side of the transport authentication API.
// It owns the session keys in local storage and resolves demo accounts
// without touching the network.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"ktransport/internal/directory"
	"ktransport/internal/kvstore"
)

const (
	DemoTokenPrefix   = "demo-token-"
	DemoRefreshPrefix = "demo-refresh-"

	maxResponseBytes = 1 << 20
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotConfigured      = errors.New("auth backend not configured")

	errNoRefreshToken = errors.New("no refresh token stored")
)

// APIError is a non-2xx answer from the backend. Message is the server's
// text and is meant to be shown to the user as-is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Client struct {
	baseURL string
	http    *http.Client
	store   kvstore.Store
	dir     directory.Directory
	log     *slog.Logger

	mu    sync.Mutex
	token string

	// writeMu serializes multi-key session writes.
	writeMu sync.Mutex
}

type Option func(*Client)

// WithDirectory enables demo mode backed by dir.
func WithDirectory(dir directory.Directory) Option {
	return func(c *Client) { c.dir = dir }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New builds a client. An empty baseURL leaves only demo mode available.
func New(baseURL string, store kvstore.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		store:   store,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func IsDemoToken(token string) bool {
	_, ok := demoUserID(token)
	return ok
}

func demoUserID(token string) (string, bool) {
	if !strings.HasPrefix(token, DemoTokenPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(token, DemoTokenPrefix)
	return id, id != ""
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var decoded errorBody
		if json.Unmarshal(data, &decoded) == nil {
			apiErr.Code = decoded.Error
			apiErr.Message = decoded.Message
		}
		return apiErr
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
