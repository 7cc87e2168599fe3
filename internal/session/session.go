// Package session holds the conversation state machine. A Session owns one
// ordered history and allows at most one request in flight.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ChatCore/internal/backend"
	"ChatCore/internal/transport"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "ChatCore/internal/session"

// Session is a single conversation with the remote service
type Session struct {
	mu sync.Mutex

	id        string
	startTime time.Time
	state     State
	history   []backend.ChatMessage
	params    backend.Params
	transport transport.Transport
	fault     error

	// generation is bumped by Reset so a late completion is discarded
	generation uint64
	cancel     context.CancelFunc

	lastUsage  backend.ChatUsage
	totalUsage backend.ChatUsage

	systemPrompt  string
	policy        RollbackPolicy
	messagePolicy backend.MessagePolicy
	historyLimit  int

	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	metrics instruments
}

type instruments struct {
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	totalTokens      metric.Int64Counter
	results          metric.Int64Counter
}

// Option customises a Session
type Option func(*Session)

// WithSystemPrompt seeds every fresh history with a system message
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		s.systemPrompt = prompt
	}
}

// WithRollbackPolicy sets what happens to the user message of a failed turn
func WithRollbackPolicy(p RollbackPolicy) Option {
	return func(s *Session) {
		s.policy = p
	}
}

// WithID sets the session identifier instead of a random UUID
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithStartTime overrides the creation time, used when resuming
func WithStartTime(t time.Time) Option {
	return func(s *Session) {
		if !t.IsZero() {
			s.startTime = t
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(s *Session) {
		if meter != nil {
			s.meter = meter
		}
	}
}

// WithMessagePolicy sets the message validation policy
func WithMessagePolicy(p backend.MessagePolicy) Option {
	return func(s *Session) {
		s.messagePolicy = p
	}
}

// WithHistoryLimit trims history to the system seed plus the last n
// messages after each successful turn. Zero disables trimming.
func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// New creates an idle session
func New(t transport.Transport, params backend.Params, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, &backend.ConfigurationError{Reason: "transport not set"}
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:            uuid.New().String(),
		startTime:     time.Now(),
		state:         Idle,
		params:        params,
		transport:     t,
		policy:        RetainUserMessage,
		messagePolicy: backend.DefaultMessagePolicy,
		logger:        slog.New(slog.DiscardHandler),
		tracer:        otel.Tracer(instrumentationName),
		meter:         otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newInstruments(s.meter)
	s.history = s.seed()
	return s, nil
}

func newInstruments(meter metric.Meter) instruments {
	var in instruments
	in.promptTokens, _ = meter.Int64Counter("chat.usage.prompt_tokens",
		metric.WithDescription("Prompt tokens consumed"))
	in.completionTokens, _ = meter.Int64Counter("chat.usage.completion_tokens",
		metric.WithDescription("Completion tokens produced"))
	in.totalTokens, _ = meter.Int64Counter("chat.usage.total_tokens",
		metric.WithDescription("Total tokens billed"))
	in.results, _ = meter.Int64Counter("chat.results",
		metric.WithDescription("Completed exchanges by result kind"))
	return in
}

func (s *Session) seed() []backend.ChatMessage {
	if s.systemPrompt == "" {
		return nil
	}
	return []backend.ChatMessage{backend.NewSystemMessage(s.systemPrompt)}
}

// Send submits text as the next user turn and waits for the outcome.
//
// A non-nil error means the turn was rejected before any network activity
// and neither history nor transport were touched. Otherwise the returned
// Result describes how the exchange ended.
func (s *Session) Send(ctx context.Context, text string) (backend.Result, error) {
	s.mu.Lock()
	switch s.state {
	case AwaitingResponse:
		s.mu.Unlock()
		return backend.Result{}, backend.ErrBusy
	case Faulted:
		err := &backend.ConfigurationError{Reason: "session faulted", Cause: s.fault}
		s.mu.Unlock()
		return backend.Result{}, err
	}

	msg, err := s.messagePolicy.NewMessage(backend.RoleUser, text)
	if err != nil {
		s.mu.Unlock()
		return backend.Result{}, err
	}

	before := len(s.history)
	s.history = append(s.history, msg)
	body, err := s.messagePolicy.Build(s.history, s.params)
	if err != nil {
		s.history = s.history[:before]
		s.mu.Unlock()
		return backend.Result{}, err
	}

	callCtx, cancel := context.WithCancel(ctx)
	s.generation++
	gen := s.generation
	s.cancel = cancel
	s.state = AwaitingResponse
	t := s.transport
	s.mu.Unlock()

	callCtx, span := s.tracer.Start(callCtx, "session.send",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("llm.model", body.Model),
			attribute.Int("llm.messages", len(body.Messages))))
	defer span.End()

	start := time.Now()
	resp, sendErr := t.Send(callCtx, body)
	cancel()
	result := backend.Interpret(resp.StatusCode, resp.Body, sendErr)

	result = s.complete(ctx, gen, before, result)

	span.SetAttributes(attribute.String("chat.result", result.Kind().String()))
	if err := result.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.record(ctx, result)

	s.logger.Debug("exchange completed",
		"session", s.id,
		"result", result.Kind().String(),
		"duration", time.Since(start).String())
	return result, nil
}

// complete applies the outcome of the call started under gen
func (s *Session) complete(ctx context.Context, gen uint64, before int, result backend.Result) backend.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		// Reset ran during the call and already restored Idle
		return cancelled(context.Canceled)
	}
	s.cancel = nil
	s.state = Idle

	if err := ctx.Err(); err != nil {
		s.history = s.history[:before]
		return cancelled(err)
	}

	switch result.Kind() {
	case backend.KindSuccess:
		reply, _ := result.Message()
		s.history = append(s.history, reply)
		resp, _ := result.Success()
		s.lastUsage = resp.Usage
		s.totalUsage = s.totalUsage.Add(resp.Usage)
		if s.historyLimit > 0 {
			s.trim(s.historyLimit)
		}
	case backend.KindServiceError:
		s.rollback(before)
	default:
		s.rollback(before)
		if te, ok := result.TransportError(); ok && te.IsConfiguration() {
			s.state = Faulted
			s.fault = te
			s.logger.Warn("session faulted", "session", s.id, "error", te)
		}
	}
	return result
}

func cancelled(cause error) backend.Result {
	return backend.TransportErrorResult(&backend.TransportError{Tag: backend.TagCancelled, Cause: cause})
}

func (s *Session) rollback(before int) {
	if s.policy == RollbackUserMessage {
		s.history = s.history[:before]
	}
}

func (s *Session) record(ctx context.Context, result backend.Result) {
	kind := metric.WithAttributes(attribute.String("kind", result.Kind().String()))
	if s.metrics.results != nil {
		s.metrics.results.Add(ctx, 1, kind)
	}
	resp, ok := result.Success()
	if !ok {
		return
	}
	if s.metrics.promptTokens != nil {
		s.metrics.promptTokens.Add(ctx, int64(resp.Usage.PromptTokens))
	}
	if s.metrics.completionTokens != nil {
		s.metrics.completionTokens.Add(ctx, int64(resp.Usage.CompletionTokens))
	}
	if s.metrics.totalTokens != nil {
		s.metrics.totalTokens.Add(ctx, int64(resp.Usage.TotalTokens))
	}
}

// Reset cancels any in-flight call and starts the conversation over.
// It is valid in every state and idempotent. The session is Idle again as
// soon as Reset returns; the abandoned call ends when its transport observes
// the cancelled context, so transports must honour ctx cancellation.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.history = s.seed()
	s.lastUsage = backend.ChatUsage{}
	s.totalUsage = backend.ChatUsage{}
	s.fault = nil
	s.state = Idle
}

// Reconfigure swaps the transport and parameters. It clears a fault and is
// rejected while a request is in flight.
func (s *Session) Reconfigure(t transport.Transport, params backend.Params) error {
	if t == nil {
		return &backend.ConfigurationError{Reason: "transport not set"}
	}
	if err := params.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == AwaitingResponse {
		return backend.ErrBusy
	}
	s.transport = t
	s.params = params
	s.fault = nil
	s.state = Idle
	return nil
}

// SetParams changes the request parameters of an idle or faulted session
// without leaving the faulted state
func (s *Session) SetParams(params backend.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == AwaitingResponse {
		return backend.ErrBusy
	}
	s.params = params
	return nil
}

// Restore replaces the history of an idle session, used to resume a
// stored conversation
func (s *Session) Restore(msgs []backend.ChatMessage) error {
	for i, msg := range msgs {
		if err := s.messagePolicy.ValidateStored(msg); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case AwaitingResponse:
		return backend.ErrBusy
	case Faulted:
		return &backend.ConfigurationError{Reason: "session faulted", Cause: s.fault}
	}
	s.history = append([]backend.ChatMessage(nil), msgs...)
	s.lastUsage = backend.ChatUsage{}
	return nil
}

// Trim keeps the system seed plus the last keep messages
func (s *Session) Trim(keep int) error {
	if keep < 0 {
		return &backend.ValidationError{Field: "keep", Reason: "must not be negative"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == AwaitingResponse {
		return backend.ErrBusy
	}
	s.trim(keep)
	return nil
}

func (s *Session) trim(keep int) {
	var head []backend.ChatMessage
	rest := s.history
	if len(rest) > 0 && rest[0].Role == backend.RoleSystem {
		head, rest = rest[:1], rest[1:]
	}
	if len(rest) <= keep {
		return
	}
	trimmed := make([]backend.ChatMessage, 0, len(head)+keep)
	trimmed = append(trimmed, head...)
	trimmed = append(trimmed, rest[len(rest)-keep:]...)
	s.history = trimmed
}

// CurrentHistory returns a copy of the conversation so far
func (s *Session) CurrentHistory() []backend.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.ChatMessage(nil), s.history...)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Fault returns the error that moved the session to Faulted, if any
func (s *Session) Fault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) StartTime() time.Time {
	return s.startTime
}

// LastUsage returns the usage of the most recent successful turn
func (s *Session) LastUsage() backend.ChatUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsage
}

// TotalUsage returns usage accumulated since creation or the last Reset
func (s *Session) TotalUsage() backend.ChatUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalUsage
}

func (s *Session) Params() backend.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}
