package display

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kajande/dulayni-cli/internal/api"
)

func newTestConsole(mode string) (*Console, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &Console{Out: &out, Err: &errOut, Mode: mode}, &out, &errOut
}

func TestConsole_AnswerPlain(t *testing.T) {
	c, out, _ := newTestConsole(ModeRich)
	c.Answer("hello **world**\n\n")
	assert.Equal(t, "hello **world**\n", out.String())
}

func TestConsole_AnswerJSON(t *testing.T) {
	c, out, errOut := newTestConsole(ModeJSON)
	c.Answer("hi")

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "hi", got["response"])
	assert.Empty(t, errOut.String())
}

func TestConsole_PaymentRequired(t *testing.T) {
	c, out, errOut := newTestConsole(ModeRich)
	c.Failure(&api.PaymentRequiredError{
		Message:         "Top up needed",
		CurrentBalance:  0.5,
		RequiredBalance: 1234.5,
		PaymentURL:      "https://pay.example/x",
	})

	assert.Empty(t, out.String())
	text := errOut.String()
	assert.Contains(t, text, "Insufficient balance")
	assert.Contains(t, text, "$0.5")
	assert.Contains(t, text, "$1,234.5")
	assert.Contains(t, text, "https://pay.example/x")
}

func TestConsole_PaymentRequiredJSON(t *testing.T) {
	c, out, _ := newTestConsole(ModeJSON)
	c.PaymentRequired(&api.PaymentRequiredError{CurrentBalance: 1, RequiredBalance: 2, PaymentURL: "u"})

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "payment_required", got["error"])
	assert.Equal(t, 2.0, got["required_balance"])
	assert.Equal(t, "u", got["payment_url"])
}

func TestConsole_FailureJSONCarriesKind(t *testing.T) {
	c, out, _ := newTestConsole(ModeJSON)
	c.Failure(&api.TimeoutError{URL: "http://x", Err: errors.New("deadline")})

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "timeout", got["kind"])
	assert.NotEmpty(t, got["error"])
}

func TestConsole_Balance(t *testing.T) {
	c, out, _ := newTestConsole(ModeRich)
	c.Balance(&api.Balance{PhoneNumber: "+15550100", Balance: 98765.432})

	text := out.String()
	assert.Contains(t, text, "+15550100")
	assert.Contains(t, text, "$98,765.43")
}

func TestActivity_Events(t *testing.T) {
	c, out, errOut := newTestConsole(ModeRich)
	sink := c.Activity(true)

	sink.ToolStarted(api.ToolStartEvent{ToolCallID: "1", ToolName: "read_file", Input: json.RawMessage(`{"path":"a.go"}`)})
	sink.ToolFinished(api.ToolEndEvent{ToolCallID: "1", ToolName: "read_file", Output: json.RawMessage(`"package a"`)})
	sink.ToolFinished(api.ToolEndEvent{ToolCallID: "2", ToolName: "write_file", Error: "denied"})
	sink.TodosUpdated(api.TodosUpdateEvent{Todos: []api.Todo{
		{Content: "read code", Status: "completed"},
		{Content: "fix bug", Status: "in_progress"},
		{Content: "ship", Status: "pending"},
	}})

	assert.Empty(t, out.String(), "activity never touches the answer stream")
	lines := strings.Split(strings.TrimSpace(errOut.String()), "\n")
	require.Len(t, lines, 7)
	assert.Contains(t, lines[0], "read_file")
	assert.Contains(t, lines[0], `{"path":"a.go"}`)
	assert.Contains(t, lines[1], "package a")
	assert.Contains(t, lines[2], "denied")
	assert.Contains(t, lines[4], "[x] ")
	assert.Contains(t, lines[5], "[>] fix bug")
	assert.Contains(t, lines[6], "[ ] ship")
}

func TestActivity_SilentInJSONMode(t *testing.T) {
	c, out, errOut := newTestConsole(ModeJSON)
	sink := c.Activity(false)
	sink.ToolStarted(api.ToolStartEvent{ToolName: "x"})
	sink.TodosUpdated(api.TodosUpdateEvent{})

	assert.Empty(t, out.String())
	assert.Empty(t, errOut.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
}
