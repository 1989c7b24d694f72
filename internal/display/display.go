// Package display renders agent answers, tool activity and account data on
// the terminal, either styled for people (rich) or as JSON for scripts.
package display

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"

	"github.com/kajande/dulayni-cli/internal/api"
)

// Print modes
const (
	ModeRich = "rich"
	ModeJSON = "json"
)

// Console writes user-facing output. Answers go to Out, everything else
// (progress, warnings, errors) goes to Err so JSON output stays clean.
type Console struct {
	Out  io.Writer
	Err  io.Writer
	Mode string
	// Markdown renders answers through glamour in rich mode.
	Markdown bool
	// Progress enables the spinner.
	Progress bool

	mu       sync.Mutex
	renderer *glamour.TermRenderer
	spinner  *Spinner
}

// NewConsole creates a console on stdout and stderr. Markdown and the
// spinner are only enabled when the streams are terminals.
func NewConsole(mode string) *Console {
	if mode != ModeJSON {
		mode = ModeRich
	}
	return &Console{
		Out:      os.Stdout,
		Err:      os.Stderr,
		Mode:     mode,
		Markdown: mode == ModeRich && isTerminal(os.Stdout),
		Progress: mode == ModeRich && isTerminal(os.Stderr),
	}
}

// JSONMode reports whether output is machine readable.
func (c *Console) JSONMode() bool {
	return c.Mode == ModeJSON
}

func (c *Console) markdown() *glamour.TermRenderer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.renderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			c.Markdown = false
			return nil
		}
		c.renderer = r
	}
	return c.renderer
}

// Answer prints a complete agent answer.
func (c *Console) Answer(text string) {
	if c.JSONMode() {
		c.JSON(map[string]string{"response": text})
		return
	}
	if c.Markdown {
		if r := c.markdown(); r != nil {
			if out, err := r.Render(text); err == nil {
				fmt.Fprint(c.Out, out)
				return
			}
		}
	}
	fmt.Fprintln(c.Out, strings.TrimRight(text, "\n"))
}

// Chunk prints a piece of a streamed answer as it arrives.
func (c *Console) Chunk(text string) {
	c.StopProgress()
	fmt.Fprint(c.Out, text)
}

// EndStream finishes a streamed answer.
func (c *Console) EndStream() {
	fmt.Fprintln(c.Out)
}

// JSON prints v as indented JSON.
func (c *Console) JSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		c.Error(fmt.Sprintf("failed to encode output: %v", err))
		return
	}
	fmt.Fprintln(c.Out, string(data))
}

// StartProgress shows the spinner with message until StopProgress or the
// first output.
func (c *Console) StartProgress(message string) {
	if !c.Progress {
		return
	}
	c.mu.Lock()
	if c.spinner == nil {
		c.spinner = NewSpinner(message)
	} else {
		c.spinner.UpdateMessage(message)
	}
	sp := c.spinner
	c.mu.Unlock()
	sp.Start()
}

// StopProgress hides the spinner.
func (c *Console) StopProgress() {
	c.mu.Lock()
	sp := c.spinner
	c.mu.Unlock()
	if sp != nil {
		sp.Stop()
	}
}

// paused runs fn with the spinner hidden and restores it afterwards.
func (c *Console) paused(fn func()) {
	c.mu.Lock()
	sp := c.spinner
	c.mu.Unlock()
	if sp == nil || !sp.Running() {
		fn()
		return
	}
	sp.Stop()
	fn()
	sp.Start()
}

// Info prints a neutral note.
func (c *Console) Info(msg string) {
	c.paused(func() { fmt.Fprintln(c.Err, infoStyle.Render(msg)) })
}

// Success prints a confirmation.
func (c *Console) Success(msg string) {
	c.paused(func() { fmt.Fprintln(c.Err, successStyle.Render("✓ "+msg)) })
}

// Warn prints a non-fatal problem.
func (c *Console) Warn(msg string) {
	c.paused(func() { fmt.Fprintln(c.Err, warningStyle.Render("Warning: ")+msg) })
}

// Error prints a failure.
func (c *Console) Error(msg string) {
	c.paused(func() { fmt.Fprintln(c.Err, errorStyle.Render("Error: ")+msg) })
}

// Failure prints err according to its kind. In JSON mode the error is
// written to Out as {"error", "kind"} so scripts can parse it.
func (c *Console) Failure(err error) {
	c.StopProgress()
	var pay *api.PaymentRequiredError
	if errors.As(err, &pay) {
		c.PaymentRequired(pay)
		return
	}
	if c.JSONMode() {
		c.JSON(map[string]string{"error": err.Error(), "kind": api.FailureKind(err)})
		return
	}
	c.Error(err.Error())
}

// PaymentRequired renders the billing details of a 402 answer.
func (c *Console) PaymentRequired(e *api.PaymentRequiredError) {
	if c.JSONMode() {
		c.JSON(map[string]any{
			"error":            "payment_required",
			"message":          e.Message,
			"current_balance":  e.CurrentBalance,
			"required_balance": e.RequiredBalance,
			"payment_url":      e.PaymentURL,
		})
		return
	}

	lines := []string{warningStyle.Render("Insufficient balance")}
	if e.Message != "" {
		lines = append(lines, e.Message)
	}
	lines = append(lines,
		labelStyle.Render("Current balance:  ")+money(e.CurrentBalance),
		labelStyle.Render("Required balance: ")+money(e.RequiredBalance),
	)
	if e.PaymentURL != "" {
		lines = append(lines, labelStyle.Render("Top up at: ")+e.PaymentURL)
	}
	c.paused(func() { fmt.Fprintln(c.Err, paymentBoxStyle.Render(strings.Join(lines, "\n"))) })
}

// Balance prints the account balance.
func (c *Console) Balance(b *api.Balance) {
	if c.JSONMode() {
		c.JSON(b)
		return
	}
	pairs := [][2]string{{"Balance", money(b.Balance)}}
	if b.PhoneNumber != "" {
		pairs = append([][2]string{{"Account", b.PhoneNumber}}, pairs...)
	}
	c.KeyValues("Account balance", pairs)
}

// KeyValues prints a titled list of label/value pairs.
func (c *Console) KeyValues(title string, pairs [][2]string) {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	var sb strings.Builder
	if title != "" {
		sb.WriteString(titleStyle.Render(title))
		sb.WriteString("\n")
	}
	for _, p := range pairs {
		sb.WriteString("  ")
		sb.WriteString(labelStyle.Render(fmt.Sprintf("%-*s", width+1, p[0]+":")))
		sb.WriteString(" ")
		sb.WriteString(p[1])
		sb.WriteString("\n")
	}
	fmt.Fprint(c.Out, sb.String())
}

func money(v float64) string {
	return "$" + humanize.CommafWithDigits(v, 2)
}

var defaultConsole = NewConsole(ModeRich)

// ShowError prints msg as an error on the default console.
func ShowError(msg string) { defaultConsole.Error(msg) }
