package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kajande/dulayni-cli/internal/api"
	"github.com/kajande/dulayni-cli/internal/config"
	"github.com/kajande/dulayni-cli/internal/display"
	"github.com/kajande/dulayni-cli/internal/history"
)

func newConsole(mode string) (*display.Console, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &display.Console{Out: &out, Err: &errOut, Mode: mode}, &out, &errOut
}

// fakeAgent answers queries from a function.
type fakeAgent struct {
	queries  []string
	params   []api.Params
	answer   func(content string) (string, error)
	balance  func() (*api.Balance, error)
	defaults api.Params
}

func (f *fakeAgent) Query(_ context.Context, content string, ov api.Params) (string, error) {
	f.queries = append(f.queries, content)
	f.params = append(f.params, ov)
	if f.answer == nil {
		return "answer: " + content, nil
	}
	return f.answer(content)
}

func (f *fakeAgent) QueryJSON(ctx context.Context, content string, ov api.Params) (map[string]any, error) {
	resp, err := f.Query(ctx, content, ov)
	if err != nil {
		return nil, err
	}
	return map[string]any{"response": resp}, nil
}

func (f *fakeAgent) QueryStream(context.Context, string, api.Params) (*api.Stream, error) {
	return nil, errors.New("streaming not supported by fake")
}

func (f *fakeAgent) Balance(context.Context) (*api.Balance, error) {
	if f.balance == nil {
		return &api.Balance{Balance: 10}, nil
	}
	return f.balance()
}

func (f *fakeAgent) Defaults() api.Params { return f.defaults }

type fakeAuth struct {
	expired       int
	authenticated int
	err           error
}

func (f *fakeAuth) Authenticate(context.Context, config.Identity) error {
	f.authenticated++
	return f.err
}

func (f *fakeAuth) HandleExpired() { f.expired++ }

func noSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(ctx)
}

func newLoop(agent *fakeAgent, auth Authenticator, opts ...LoopOption) (*Loop, *bytes.Buffer, *bytes.Buffer) {
	console, out, errOut := newConsole(display.ModeRich)
	exec := NewExecutor(agent, console)
	opts = append([]LoopOption{WithInterrupts(noSignals)}, opts...)
	return NewLoop(exec, auth, config.Identity{Method: config.MethodPhone, PhoneNumber: "+15550100"}, opts...), out, errOut
}

func TestExecutor_BatchPlain(t *testing.T) {
	console, out, _ := newConsole(display.ModeRich)
	agent := &fakeAgent{}
	exec := NewExecutor(agent, console, WithOverrides(api.Params{Model: "m1"}))

	require.NoError(t, exec.RunBatch(context.Background(), "hello"))
	assert.Equal(t, "answer: hello\n", out.String())
	assert.Equal(t, "m1", agent.params[0].Model)
}

func TestExecutor_BatchFailureIsRendered(t *testing.T) {
	console, out, errOut := newConsole(display.ModeRich)
	agent := &fakeAgent{answer: func(string) (string, error) {
		return "", &api.ClientError{StatusCode: 500, Message: "boom"}
	}}
	err := NewExecutor(agent, console).RunBatch(context.Background(), "hi")

	require.Error(t, err)
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "boom")
}

func TestExecutor_BatchEmptyQuery(t *testing.T) {
	console, _, _ := newConsole(display.ModeRich)
	agent := &fakeAgent{}
	assert.Error(t, NewExecutor(agent, console).RunBatch(context.Background(), "   "))
	assert.Empty(t, agent.queries)
}

func TestExecutor_JSONMode(t *testing.T) {
	console, out, _ := newConsole(display.ModeJSON)
	agent := &fakeAgent{}
	answer, err := NewExecutor(agent, console).Execute(context.Background(), "q")

	require.NoError(t, err)
	assert.Equal(t, "answer: q", answer)
	var body map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Equal(t, "answer: q", body["response"])
}

func sseServer(t *testing.T, frames ...string) *api.Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, api.PathRunStream, r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(ts.Close)
	return api.NewClient(api.Options{BaseURL: ts.URL, APIKey: "sk-test"})
}

func TestExecutor_StreamPrintsChunksAndActivity(t *testing.T) {
	client := sseServer(t,
		`{"type":"tool_start","tool_call_id":"1","tool_name":"read_file"}`,
		`{"type":"message","content":"Hello "}`,
		`{"type":"tool_end","tool_call_id":"1","tool_name":"read_file","output":"ok"}`,
		`{"type":"message","content":"world"}`,
	)
	console, out, errOut := newConsole(display.ModeRich)
	client.SetSink(console.Activity(false))

	answer, err := NewExecutor(client, console, WithStream(true)).Execute(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", answer)
	assert.Equal(t, "Hello world\n", out.String())

	activity := errOut.String()
	start := strings.Index(activity, "⚙ read_file")
	end := strings.Index(activity, "✓ read_file")
	require.True(t, start >= 0 && end > start, "tool start must precede tool end: %q", activity)
}

func TestExecutor_StreamJSONMode(t *testing.T) {
	client := sseServer(t, `{"type":"message","content":"a"}`, `{"type":"message","content":"b"}`)
	console, out, _ := newConsole(display.ModeJSON)

	_, err := NewExecutor(client, console, WithStream(true)).Execute(context.Background(), "hi")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Equal(t, "ab", body["response"])
}

func TestLoop_ControlInputs(t *testing.T) {
	agent := &fakeAgent{}
	loop, out, _ := newLoop(agent, nil)
	ctx := context.Background()

	assert.False(t, loop.Handle(ctx, "   "))
	assert.Empty(t, agent.queries, "blank lines are skipped")

	assert.False(t, loop.Handle(ctx, "clear"))
	assert.Contains(t, out.String(), "\033[2J")

	out.Reset()
	assert.False(t, loop.Handle(ctx, "balance"))
	assert.Contains(t, out.String(), "$10")
	assert.Empty(t, agent.queries)

	for _, q := range []string{"q", "quit", "EXIT", "/exit"} {
		assert.True(t, loop.Handle(ctx, q), q)
	}
}

func TestLoop_PaymentRequiredContinues(t *testing.T) {
	agent := &fakeAgent{answer: func(string) (string, error) {
		return "", &api.PaymentRequiredError{CurrentBalance: 0, RequiredBalance: 1, PaymentURL: "https://pay"}
	}}
	loop, _, errOut := newLoop(agent, nil)

	assert.False(t, loop.Handle(context.Background(), "hi"))
	assert.Contains(t, errOut.String(), "Insufficient balance")
	assert.Contains(t, errOut.String(), "https://pay")
}

func TestLoop_ExpiredSessionReauthenticates(t *testing.T) {
	agent := &fakeAgent{answer: func(string) (string, error) {
		return "", &api.AuthenticationError{StatusCode: 401, Message: "expired", Expired: true}
	}}
	auth := &fakeAuth{}
	loop, _, errOut := newLoop(agent, auth)

	assert.False(t, loop.Handle(context.Background(), "hi"))
	assert.Equal(t, 1, auth.expired)
	assert.Equal(t, 1, auth.authenticated)
	assert.Len(t, agent.queries, 1, "the failed query is not retried")
	assert.Contains(t, errOut.String(), "Re-authenticated")
}

func TestLoop_ReauthenticationFailureIsRendered(t *testing.T) {
	agent := &fakeAgent{answer: func(string) (string, error) {
		return "", &api.AuthenticationError{StatusCode: 401, Message: "expired", Expired: true}
	}}
	auth := &fakeAuth{err: errors.New("no code entered")}
	loop, _, errOut := newLoop(agent, auth)

	assert.False(t, loop.Handle(context.Background(), "hi"))
	assert.Contains(t, errOut.String(), "no code entered")
}

func TestLoop_PanicDoesNotEndLoop(t *testing.T) {
	calls := 0
	agent := &fakeAgent{answer: func(content string) (string, error) {
		calls++
		if calls == 1 {
			panic("kaboom")
		}
		return "fine", nil
	}}
	loop, out, errOut := newLoop(agent, nil)

	assert.False(t, loop.Handle(context.Background(), "first"))
	assert.Contains(t, errOut.String(), "kaboom")
	assert.False(t, loop.Handle(context.Background(), "second"))
	assert.Contains(t, out.String(), "fine")
}

func TestLoop_CancelledQuery(t *testing.T) {
	agent := &fakeAgent{answer: func(string) (string, error) { return "", context.Canceled }}
	loop, _, errOut := newLoop(agent, nil)

	assert.False(t, loop.Handle(context.Background(), "slow"))
	assert.Contains(t, errOut.String(), "Query cancelled")
}

func TestLoop_SlashCommands(t *testing.T) {
	agent := &fakeAgent{defaults: api.Params{Model: "default-model"}}
	loop, out, _ := newLoop(agent, nil)
	ctx := context.Background()

	loop.Handle(ctx, "/model")
	assert.Contains(t, out.String(), "default-model")

	loop.Handle(ctx, "/model gpt-4o")
	loop.Handle(ctx, "/thread t-1")
	loop.Handle(ctx, "hello")
	require.Len(t, agent.params, 1)
	assert.Equal(t, "gpt-4o", agent.params[0].Model)
	assert.Equal(t, "t-1", agent.params[0].ThreadID)

	loop.Handle(ctx, "/new")
	assert.NotEqual(t, "t-1", loop.exec.ThreadID())
	assert.Len(t, loop.exec.ThreadID(), 36)

	out.Reset()
	loop.Handle(ctx, "/bogus")
	assert.Contains(t, out.String(), "Unknown command: /bogus")
}

func TestLoop_HistoryRecordsExchanges(t *testing.T) {
	h := history.NewHistory(filepath.Join(t.TempDir(), "history.json"), 0)
	agent := &fakeAgent{}
	loop, out, _ := newLoop(agent, nil, WithHistory(h))
	ctx := context.Background()

	loop.Handle(ctx, "what is go")
	require.NotNil(t, h.Last())
	assert.Equal(t, "what is go", h.Last().Query)
	assert.Equal(t, "answer: what is go", h.Last().Response)

	out.Reset()
	loop.Handle(ctx, "/history")
	assert.Contains(t, out.String(), "what is go")
}

func TestLoop_MultilineInput(t *testing.T) {
	agent := &fakeAgent{}
	loop, _, _ := newLoop(agent, nil)
	ctx := context.Background()

	loop.Handle(ctx, "line one\\")
	assert.True(t, loop.Continuing())
	loop.Handle(ctx, "line two")
	require.Len(t, agent.queries, 1)
	assert.Equal(t, "line one\nline two", agent.queries[0])
}

func TestLoop_RunFromReader(t *testing.T) {
	agent := &fakeAgent{}
	loop, _, _ := newLoop(agent, nil)

	input := "hello\n\nquit\nnever sent\n"
	require.NoError(t, loop.Run(context.Background(), NewScannerReader(strings.NewReader(input))))
	assert.Equal(t, []string{"hello"}, agent.queries)
}

type interruptReader struct{}

func (interruptReader) ReadLine() (string, error) { return "", ErrInterrupted }

func TestLoop_InterruptAtPromptEnds(t *testing.T) {
	loop, _, _ := newLoop(&fakeAgent{}, nil)
	assert.NoError(t, loop.Run(context.Background(), interruptReader{}))
}
