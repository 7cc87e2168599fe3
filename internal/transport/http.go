package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ChatCore/internal/backend"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single HTTP round trip
	DefaultTimeout = 60 * time.Second

	// DefaultMaxResponseBytes caps how much of a response body is read
	DefaultMaxResponseBytes = 10 * 1024 * 1024

	instrumentationName = "ChatCore/internal/transport"
)

// HTTPConfig configures an HTTPTransport
type HTTPConfig struct {
	BaseURL          string
	APIKey           string
	RequireAPIKey    bool
	Timeout          time.Duration
	MaxResponseBytes int64
	// RateLimit is in requests per second; zero disables limiting
	RateLimit float64
	RateBurst int
	UserAgent string
}

// HTTPTransport calls an OpenAI-compatible chat completions endpoint
type HTTPTransport struct {
	cfg        HTTPConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// Option customises an HTTPTransport
type Option func(*HTTPTransport)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) {
		t.httpClient = c
	}
}

// WithLogger sets the logger used for request diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithTracer sets the tracer used for call spans
func WithTracer(tracer trace.Tracer) Option {
	return func(t *HTTPTransport) {
		t.tracer = tracer
	}
}

// WithMeter sets the meter used for the request duration histogram
func WithMeter(meter metric.Meter) Option {
	return func(t *HTTPTransport) {
		t.duration = newDurationHistogram(meter)
	}
}

// NewHTTP creates an HTTP transport
func NewHTTP(cfg HTTPConfig, opts ...Option) *HTTPTransport {
	cfg.BaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "chatcore/1.0"
	}

	t := &HTTPTransport{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
		tracer:     otel.Tracer(instrumentationName),
		duration:   newDurationHistogram(otel.Meter(instrumentationName)),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func newDurationHistogram(meter metric.Meter) metric.Float64Histogram {
	histogram, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil
	}
	return histogram
}

// Send posts the request to {base}/chat/completions and returns the raw
// status and body. Non-2xx statuses are not errors.
func (t *HTTPTransport) Send(ctx context.Context, body backend.ChatRequestBody) (Response, error) {
	ctx, span := t.tracer.Start(ctx, "chat_completion_call",
		trace.WithAttributes(attribute.String("llm.model", body.Model), attribute.Int("llm.messages", len(body.Messages))))
	defer span.End()

	resp, err := t.send(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

func (t *HTTPTransport) send(ctx context.Context, body backend.ChatRequestBody) (Response, error) {
	if err := t.checkConfig(); err != nil {
		return Response{}, err
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return Response{}, fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return Response{}, &backend.ConfigurationError{Reason: "invalid base URL", Cause: err}
	}
	t.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := t.readBody(resp)
	duration := time.Since(start)
	if t.duration != nil {
		t.duration.Record(ctx, float64(duration.Milliseconds()),
			metric.WithAttributes(attribute.Int("http.status_code", resp.StatusCode)))
	}
	if err != nil {
		return Response{}, err
	}

	t.logger.Debug("chat completion call",
		"model", body.Model,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"duration", duration.String())

	return Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

// ListModels fetches the models offered by the service
func (t *HTTPTransport) ListModels(ctx context.Context) ([]backend.ModelInfo, error) {
	ctx, span := t.tracer.Start(ctx, "list_models_call")
	defer span.End()

	if err := t.checkConfig(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, &backend.ConfigurationError{Reason: "invalid base URL", Cause: err}
	}
	t.setHeaders(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := t.readBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr backend.ChatResponseError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, &backend.ServiceError{Err: apiErr.Error, Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, backend.Excerpt(raw))
	}

	var list backend.ModelList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return list.Data, nil
}

func (t *HTTPTransport) checkConfig() error {
	if t.cfg.BaseURL == "" {
		return &backend.ConfigurationError{Reason: "base URL not set"}
	}
	if t.cfg.RequireAPIKey && t.cfg.APIKey == "" {
		return &backend.ConfigurationError{Reason: "API key not set"}
	}
	return nil
}

func (t *HTTPTransport) setHeaders(req *http.Request) {
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.cfg.UserAgent)
}

func (t *HTTPTransport) readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(raw)) > t.cfg.MaxResponseBytes {
		return nil, &backend.TransportError{
			Tag:     backend.TagMalformed,
			Status:  resp.StatusCode,
			Excerpt: backend.Excerpt(raw),
			Cause:   fmt.Errorf("response exceeds %d bytes", t.cfg.MaxResponseBytes),
		}
	}
	return raw, nil
}
