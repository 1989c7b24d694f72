// Package query runs agent queries: one-shot batch execution and the
// interactive read-eval loop.
package query

import (
	"context"
	"strings"
	"sync"

	"github.com/kajande/dulayni-cli/internal/api"
	"github.com/kajande/dulayni-cli/internal/display"
	"github.com/kajande/dulayni-cli/internal/logging"
)

// Agent is the part of api.Client the executor needs.
type Agent interface {
	Query(ctx context.Context, content string, ov api.Params) (string, error)
	QueryJSON(ctx context.Context, content string, ov api.Params) (map[string]any, error)
	QueryStream(ctx context.Context, content string, ov api.Params) (*api.Stream, error)
	Balance(ctx context.Context) (*api.Balance, error)
	Defaults() api.Params
}

// Option configures an Executor.
type Option func(*Executor)

// WithStream selects SSE streaming instead of a single JSON answer.
func WithStream(stream bool) Option { return func(e *Executor) { e.stream = stream } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithOverrides sets the initial per-query overrides.
func WithOverrides(p api.Params) Option { return func(e *Executor) { e.overrides = p } }

// Executor sends one query and renders the answer.
type Executor struct {
	agent   Agent
	console *display.Console
	stream  bool
	logger  *logging.Logger

	mu        sync.Mutex
	overrides api.Params
}

// NewExecutor creates an Executor.
func NewExecutor(agent Agent, console *display.Console, opts ...Option) *Executor {
	e := &Executor{agent: agent, console: console}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	return e
}

// Overrides returns the current per-query overrides.
func (e *Executor) Overrides() api.Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overrides
}

// SetModel overrides the model for later queries.
func (e *Executor) SetModel(model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides.Model = model
}

// SetThreadID overrides the conversation thread for later queries.
func (e *Executor) SetThreadID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides.ThreadID = id
}

// Model returns the model queries will use, or "" for the server default.
func (e *Executor) Model() string {
	if m := e.Overrides().Model; m != "" {
		return m
	}
	return e.agent.Defaults().Model
}

// ThreadID returns the thread queries will use, or "".
func (e *Executor) ThreadID() string {
	if id := e.Overrides().ThreadID; id != "" {
		return id
	}
	return e.agent.Defaults().ThreadID
}

// Execute sends content and renders the answer. It returns the answer text;
// errors are returned unrendered so the caller can decide how to react.
func (e *Executor) Execute(ctx context.Context, content string) (string, error) {
	ov := e.Overrides()
	e.logger.Debug("sending query", logging.Fields{
		"stream":    e.stream,
		"model":     ov.Model,
		"thread_id": ov.ThreadID,
		"length":    len(content),
	})

	if e.console.JSONMode() {
		return e.executeJSON(ctx, content, ov)
	}

	e.console.StartProgress("Thinking...")
	defer e.console.StopProgress()

	if !e.stream {
		answer, err := e.agent.Query(ctx, content, ov)
		if err != nil {
			return "", err
		}
		e.console.StopProgress()
		e.console.Answer(answer)
		return answer, nil
	}

	stream, err := e.agent.QueryStream(ctx, content, ov)
	if err != nil {
		return "", err
	}
	defer func() { _ = stream.Close() }()

	// With markdown the answer is rendered once complete; otherwise chunks
	// are printed as they arrive.
	var sb strings.Builder
	started := false
	for stream.Next() {
		chunk := stream.Message().Content
		sb.WriteString(chunk)
		if e.console.Markdown {
			continue
		}
		started = true
		e.console.Chunk(chunk)
	}
	if err := stream.Err(); err != nil {
		if started {
			e.console.EndStream()
		}
		return sb.String(), err
	}

	e.console.StopProgress()
	if e.console.Markdown {
		e.console.Answer(sb.String())
	} else if started {
		e.console.EndStream()
	}
	return sb.String(), nil
}

func (e *Executor) executeJSON(ctx context.Context, content string, ov api.Params) (string, error) {
	if e.stream {
		stream, err := e.agent.QueryStream(ctx, content, ov)
		if err != nil {
			return "", err
		}
		answer, err := stream.ReadAll()
		if err != nil {
			return answer, err
		}
		e.console.Answer(answer)
		return answer, nil
	}

	body, err := e.agent.QueryJSON(ctx, content, ov)
	if err != nil {
		return "", err
	}
	e.console.JSON(body)
	answer, _ := body["response"].(string)
	return answer, nil
}

// RunBatch executes a single query. Failures are rendered and returned so
// the command exits non-zero.
func (e *Executor) RunBatch(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		err := &api.ClientError{Message: "query is empty"}
		e.console.Failure(err)
		return err
	}
	if _, err := e.Execute(ctx, content); err != nil {
		e.console.Failure(err)
		return err
	}
	return nil
}
