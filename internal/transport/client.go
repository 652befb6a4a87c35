// Package transport sends the data layer's requests to the backend API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/runnerr0/tidepool/internal/transport"

// maxErrorBody caps how much of a failed response is kept on StatusError.
const maxErrorBody = 4096

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Client is an HTTP client for the backend contract.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	userAgent  string
	healthPath string
	tracer     trace.Tracer

	timeout    time.Duration
	hasTimeout bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client. A nil client keeps
// the default.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout. It applies to a copy of the
// underlying *http.Client, so a client passed to WithHTTPClient is left
// untouched.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		c.hasTimeout = true
	}
}

// WithToken sends the token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHealthPath sets the path probed by Ping.
func WithHealthPath(p string) Option {
	return func(c *Client) { c.healthPath = p }
}

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

// New creates a Client rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "tidepool/1",
		healthPath: "/health",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hasTimeout {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	return c
}

// BaseURL returns the root all relative endpoints resolve against.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.baseURL + endpoint
}

// PostJSON marshals payload and POSTs it to endpoint, returning the
// response body.
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, "transport.post", http.MethodPost, endpoint,
		map[string]string{"Content-Type": "application/json"}, body)
}

// Replay sends a stored request verbatim. Headers in the stored request win
// over the client defaults.
func (c *Client) Replay(ctx context.Context, method, endpoint string, headers map[string]string, body []byte) ([]byte, error) {
	return c.do(ctx, "transport.replay", method, endpoint, headers, body)
}

// EventsRequest is the body of an analytics POST. Events holds an already
// encoded JSON array so persisted batches can be resent without decoding.
type EventsRequest struct {
	BatchID   string          `json:"batch_id,omitempty"`
	Events    json.RawMessage `json:"events"`
	Timestamp time.Time       `json:"timestamp"`
}

// SendEvents delivers one analytics batch.
func (c *Client) SendEvents(ctx context.Context, endpoint string, req EventsRequest) error {
	_, err := c.PostJSON(ctx, endpoint, req)
	return err
}

// SendBulk delivers the final flush of queued events. The bulk contract
// carries no batch id.
func (c *Client) SendBulk(ctx context.Context, endpoint string, req EventsRequest) error {
	req.BatchID = ""
	_, err := c.PostJSON(ctx, endpoint, req)
	return err
}

// SyncContent posts one content shadow.
func (c *Client) SyncContent(ctx context.Context, endpoint string, shadow any) error {
	_, err := c.PostJSON(ctx, endpoint, shadow)
	return err
}

// Ping checks the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "transport.ping", http.MethodGet, c.healthPath, nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, spanName, method, endpoint string, headers map[string]string, body []byte) ([]byte, error) {
	u := c.resolve(endpoint)

	ctx, span := c.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.full", u),
		attribute.Int("http.request.body.size", len(body)),
	)

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response")
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		serr := &StatusError{Method: method, URL: u, StatusCode: resp.StatusCode, Body: string(data)}
		span.SetStatus(codes.Error, serr.Error())
		return nil, serr
	}

	return data, nil
}

// DecodeJSON unmarshals a response body into T.
func DecodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}
