// Package genclient talks to the external generation service that turns a
// prompt into program source plus a parameter schema.
package genclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chazu/partsmith/pkg/caderr"
	"github.com/chazu/partsmith/pkg/params"
	"github.com/chazu/partsmith/pkg/persist"
	"resty.dev/v3"
)

// Request is the body posted to the service.
type Request struct {
	Prompt string `json:"prompt"`
	// Hint is extra guidance sent with a regeneration.
	Hint string `json:"hint,omitempty"`
}

// Design is a generated program with its metadata.
type Design struct {
	Code               string              `json:"code"`
	Parameters         params.Schema       `json:"parameters"`
	Description        string              `json:"description"`
	Category           string              `json:"category"`
	Difficulty         string              `json:"difficulty"`
	EstimatedPrintTime string              `json:"estimatedPrintTime"`
	Dimensions         *persist.Dimensions `json:"dimensions,omitempty"`
	Notes              string              `json:"notes,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Generator produces designs from prompts.
type Generator interface {
	Generate(ctx context.Context, req Request) (Design, error)
}

// Client is the HTTP Generator.
type Client struct {
	http   *resty.Client
	url    string
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.http.SetAuthToken(token)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client posting to url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		http:   resty.New().SetHeader("Accept", "application/json"),
		url:    url,
		logger: slog.Default(),
	}
	c.http.SetTimeout(60 * time.Second)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.http.Close()
}

// Generate posts req. A non-2xx answer becomes a GenerationError carrying the
// service's message verbatim; a 2xx answer without usable code or with an
// invalid schema is also a GenerationError.
func (c *Client) Generate(ctx context.Context, req Request) (Design, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Design{}, caderr.New(caderr.GenerationError, "prompt must not be empty")
	}
	start := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(c.url)
	if err != nil {
		return Design{}, caderr.Wrap(caderr.GenerationError, err, "generation request failed")
	}
	body := res.String()
	c.logger.Debug("generation response", "status", res.StatusCode(), "bytes", len(body), "elapsed", time.Since(start))

	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		return Design{}, caderr.New(caderr.GenerationError, "%s", errorMessage(res.StatusCode(), body))
	}

	var d Design
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return Design{}, caderr.Wrap(caderr.GenerationError, err, "malformed generation payload")
	}
	if err := d.Validate(); err != nil {
		return Design{}, caderr.Wrap(caderr.GenerationError, err, "malformed generation payload")
	}
	return d, nil
}

// Validate checks that the design can be compiled.
func (d Design) Validate() error {
	if strings.TrimSpace(d.Code) == "" {
		return fmt.Errorf("missing code")
	}
	if err := d.Parameters.Validate(); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func errorMessage(status int, body string) string {
	var p errorPayload
	if err := json.Unmarshal([]byte(body), &p); err == nil {
		if p.Message != "" {
			return p.Message
		}
		if p.Error != "" {
			return p.Error
		}
	}
	if s := strings.TrimSpace(body); s != "" && !strings.HasPrefix(s, "{") {
		return s
	}
	return fmt.Sprintf("generation service returned %d %s", status, http.StatusText(status))
}
