package chatbot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"ChatCore/internal/backend"
	"ChatCore/internal/config"
	"ChatCore/internal/session"
	"ChatCore/internal/store"
)

// Factory creates a session wired to the configured transport
type Factory func(opts ...session.Option) (*session.Session, error)

// Store is the subset of the conversation store the REPL uses
type Store interface {
	Save(ctx context.Context, rec store.Record) error
	Load(ctx context.Context, id string) (store.Record, error)
	List(ctx context.Context, limit int) ([]store.Summary, error)
}

// ModelLister lists the models the service offers
type ModelLister interface {
	ListModels(ctx context.Context) ([]backend.ModelInfo, error)
}

// ChatBot is a line oriented front end over a session
type ChatBot struct {
	factory Factory
	store   Store
	models  ModelLister
	logger  *slog.Logger
	session *session.Session
	out     io.Writer
}

// Option customises a ChatBot
type Option func(*ChatBot)

// WithStore persists sessions after each successful turn
func WithStore(s Store) Option {
	return func(cb *ChatBot) {
		cb.store = s
	}
}

// WithModelLister enables the /models command
func WithModelLister(m ModelLister) Option {
	return func(cb *ChatBot) {
		cb.models = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cb *ChatBot) {
		cb.logger = logger
	}
}

// NewChatBot creates a new ChatBot instance. When cfg.SessionID names a
// stored session it is resumed, otherwise a new one is started.
func NewChatBot(ctx context.Context, cfg *config.Config, factory Factory, opts ...Option) (*ChatBot, error) {
	cb := &ChatBot{
		factory: factory,
		logger:  slog.Default(),
		out:     io.Discard,
	}
	for _, opt := range opts {
		opt(cb)
	}

	if cfg.SessionID != "" && cb.store != nil {
		sess, err := cb.loadSession(ctx, cfg.SessionID)
		if err != nil {
			cb.logger.Warn("failed to load session, creating new one", "error", err)
		} else {
			cb.session = sess
			cb.logger.Info("loaded existing session", "session_id", sess.ID())
			return cb, nil
		}
	}

	sess, err := cb.newSession()
	if err != nil {
		return nil, err
	}
	cb.session = sess
	return cb, nil
}

// Session returns the active session
func (cb *ChatBot) Session() *session.Session {
	return cb.session
}

func (cb *ChatBot) newSession(opts ...session.Option) (*session.Session, error) {
	sess, err := cb.factory(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	cb.logger.Info("created new session", "session_id", sess.ID(), "model", sess.Params().Model)
	return sess, nil
}

// loadSession resumes a stored session
func (cb *ChatBot) loadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	rec, err := cb.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess, err := cb.factory(session.WithID(rec.ID), session.WithStartTime(rec.StartTime))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := sess.Restore(rec.History()); err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	return sess, nil
}

// saveSession saves the current session to the store
func (cb *ChatBot) saveSession(ctx context.Context) error {
	if cb.store == nil {
		return nil
	}
	history := cb.session.CurrentHistory()
	rec := store.NewRecord(cb.session.ID(), cb.session.StartTime(), cb.session.Params().Model, history)
	if err := cb.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	cb.logger.Info("session saved", "session_id", rec.ID, "message_count", len(history))
	return nil
}

// sendMessage sends one user turn and prints the outcome
func (cb *ChatBot) sendMessage(ctx context.Context, userMessage string) error {
	result, err := cb.session.Send(ctx, userMessage)
	if err != nil {
		return err
	}

	switch result.Kind() {
	case backend.KindSuccess:
		msg, _ := result.Message()
		fmt.Fprintf(cb.out, "Bot: %s\n\n", msg.Content)
		if err := cb.saveSession(ctx); err != nil {
			cb.logger.Error("failed to save session", "error", err)
		}
	case backend.KindServiceError:
		svc, _ := result.ServiceError()
		cb.logger.Warn("service error", "type", svc.Err.Type, "status", svc.Status)
		fmt.Fprintf(cb.out, "Error: %s\n\n", svc.Err.Message)
	default:
		te, _ := result.TransportError()
		cb.logger.Error("transport error", "tag", te.Tag, "error", te)
		fmt.Fprintf(cb.out, "Error: %v\n", te)
		if cb.session.State() == session.Faulted {
			fmt.Fprintln(cb.out, "Session is faulted; fix the configuration and restart, or use /new-session.")
		}
		fmt.Fprintln(cb.out)
	}
	return nil
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new-session":
		if err := cb.saveSession(ctx); err != nil {
			cb.logger.Error("failed to save current session", "error", err)
		}
		sess, err := cb.newSession()
		if err != nil {
			return false, err
		}
		cb.session = sess
		fmt.Fprintln(cb.out, "Started new session:", sess.ID())
		return false, nil

	case "/history":
		history := cb.session.CurrentHistory()
		if len(history) == 0 {
			fmt.Fprintln(cb.out, "No messages yet.")
			return false, nil
		}
		for i, msg := range history {
			fmt.Fprintf(cb.out, "%d. [%s] %s\n", i+1, msg.Role, msg.Content)
		}
		return false, nil

	case "/state":
		fmt.Fprintf(cb.out, "Session: %s\nState: %s\nModel: %s\n", cb.session.ID(), cb.session.State(), cb.session.Params().Model)
		if err := cb.session.Fault(); err != nil {
			fmt.Fprintf(cb.out, "Fault: %v\n", err)
		}
		return false, nil

	case "/usage":
		last, total := cb.session.LastUsage(), cb.session.TotalUsage()
		fmt.Fprintf(cb.out, "Last:  prompt=%d completion=%d total=%d\n", last.PromptTokens, last.CompletionTokens, last.TotalTokens)
		fmt.Fprintf(cb.out, "Total: prompt=%d completion=%d total=%d\n", total.PromptTokens, total.CompletionTokens, total.TotalTokens)
		return false, nil

	case "/model":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /model <model-id>")
		}
		params := cb.session.Params()
		params.Model = parts[1]
		if err := cb.session.SetParams(params); err != nil {
			return false, err
		}
		fmt.Fprintf(cb.out, "Model set to: %s\n", parts[1])
		return false, nil

	case "/temperature":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /temperature <%.0f-%.0f>", backend.MinTemperature, backend.MaxTemperature)
		}
		t, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return false, fmt.Errorf("invalid temperature %q", parts[1])
		}
		if err := cb.session.SetParams(cb.session.Params().WithTemperature(t)); err != nil {
			return false, err
		}
		fmt.Fprintf(cb.out, "Temperature set to: %g\n", t)
		return false, nil

	case "/sessions":
		if cb.store == nil {
			fmt.Fprintln(cb.out, "Session storage is disabled.")
			return false, nil
		}
		sessions, err := cb.store.List(ctx, 20)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(cb.out, "\nStored sessions:")
		for i, s := range sessions {
			current := ""
			if s.ID == cb.session.ID() {
				current = " (current)"
			}
			fmt.Fprintf(cb.out, "%d. %s - %s, %d messages, updated %s%s\n",
				i+1, s.ID, s.Model, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"), current)
		}
		fmt.Fprintln(cb.out)
		return false, nil

	case "/load":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /load <session-id>")
		}
		if cb.store == nil {
			return false, fmt.Errorf("session storage is disabled")
		}
		if err := cb.saveSession(ctx); err != nil {
			cb.logger.Error("failed to save current session", "error", err)
		}
		sess, err := cb.loadSession(ctx, parts[1])
		if err != nil {
			return false, err
		}
		cb.session = sess
		fmt.Fprintf(cb.out, "Loaded session %s (%d messages)\n", sess.ID(), len(sess.CurrentHistory()))
		return false, nil

	case "/models":
		if cb.models == nil {
			fmt.Fprintln(cb.out, "Model listing is not available.")
			return false, nil
		}
		models, err := cb.models.ListModels(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list models: %w", err)
		}
		fmt.Fprintln(cb.out, "\nAvailable models:")
		model := cb.session.Params().Model
		for i, m := range models {
			current := ""
			if m.ID == model {
				current = " (current)"
			}
			fmt.Fprintf(cb.out, "%d. %s%s\n", i+1, m.ID, current)
		}
		fmt.Fprintln(cb.out)
		return false, nil

	case "/help":
		fmt.Fprintln(cb.out, "Available commands:")
		fmt.Fprintln(cb.out, "  /quit, /exit          - Exit the chatbot")
		fmt.Fprintln(cb.out, "  /new-session          - Start a new chat session")
		fmt.Fprintln(cb.out, "  /history              - Show the conversation so far")
		fmt.Fprintln(cb.out, "  /state                - Show session state")
		fmt.Fprintln(cb.out, "  /usage                - Show token usage")
		fmt.Fprintln(cb.out, "  /model <id>           - Set the model")
		fmt.Fprintln(cb.out, "  /temperature <t>      - Set the sampling temperature")
		fmt.Fprintln(cb.out, "  /sessions             - List stored sessions")
		fmt.Fprintln(cb.out, "  /load <id>            - Resume a stored session")
		fmt.Fprintln(cb.out, "  /models               - List models offered by the service")
		fmt.Fprintln(cb.out, "  /help                 - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %q, type /help for commands", parts[0])
	}
}

// Run starts the chat bot, reading lines from in until EOF or /quit
func (cb *ChatBot) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	cb.out = out

	fmt.Fprintln(out, "=== ChatCore ===")
	fmt.Fprintf(out, "Session: %s\n", cb.session.ID())
	fmt.Fprintf(out, "Model: %s\n", cb.session.Params().Model)
	fmt.Fprintln(out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(out)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			break
		}
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				cb.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if err := cb.sendMessage(ctx, input); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			cb.logger.Error("failed to send message", "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	if err := cb.saveSession(context.WithoutCancel(ctx)); err != nil {
		cb.logger.Error("failed to save session on exit", "error", err)
		return err
	}

	fmt.Fprintln(out, "Goodbye!")
	return nil
}
