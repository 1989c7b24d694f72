package query

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kajande/dulayni-cli/internal/api"
	"github.com/kajande/dulayni-cli/internal/config"
	"github.com/kajande/dulayni-cli/internal/display"
	"github.com/kajande/dulayni-cli/internal/history"
	"github.com/kajande/dulayni-cli/internal/logging"
)

// ErrInterrupted is returned by a LineReader when the user interrupts the
// prompt. It ends the loop.
var ErrInterrupted = errors.New("interrupted")

// Authenticator restores credentials after the service reports them expired.
type Authenticator interface {
	Authenticate(ctx context.Context, id config.Identity) error
	HandleExpired()
}

// LineReader supplies input lines. io.EOF or ErrInterrupted end the loop.
type LineReader interface {
	ReadLine() (string, error)
}

// ScannerReader reads lines from a non-interactive stream such as a pipe.
type ScannerReader struct {
	sc *bufio.Scanner
}

// NewScannerReader creates a LineReader over r.
func NewScannerReader(r io.Reader) *ScannerReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &ScannerReader{sc: sc}
}

// ReadLine returns the next line without its newline.
func (s *ScannerReader) ReadLine() (string, error) {
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithHistory records successful exchanges.
func WithHistory(h history.HistoryManager) LoopOption {
	return func(l *Loop) { l.history = h }
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *logging.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithInterrupts replaces how a query context is bound to user interrupts.
func WithInterrupts(bind func(context.Context) (context.Context, context.CancelFunc)) LoopOption {
	return func(l *Loop) { l.interrupts = bind }
}

// Loop is the interactive read-eval loop.
type Loop struct {
	exec       *Executor
	agent      Agent
	auth       Authenticator
	identity   config.Identity
	console    *display.Console
	history    history.HistoryManager
	logger     *logging.Logger
	interrupts func(context.Context) (context.Context, context.CancelFunc)

	pending []string
}

// NewLoop creates a Loop. auth may be nil when the identity cannot expire.
func NewLoop(exec *Executor, auth Authenticator, identity config.Identity, opts ...LoopOption) *Loop {
	l := &Loop{
		exec:     exec,
		agent:    exec.agent,
		auth:     auth,
		identity: identity,
		console:  exec.console,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logging.Discard()
	}
	if l.interrupts == nil {
		l.interrupts = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		}
	}
	return l
}

// Continuing reports whether a backslash-continued line is pending.
func (l *Loop) Continuing() bool {
	return len(l.pending) > 0
}

// Run reads lines until the reader ends or a quit command is entered.
func (l *Loop) Run(ctx context.Context, r LineReader) error {
	for {
		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrInterrupted) {
				return nil
			}
			return err
		}
		if l.Handle(ctx, line) {
			return nil
		}
	}
}

// Handle processes one input line and reports whether the loop should end.
// A panic inside the iteration is logged and the loop carries on.
func (l *Loop) Handle(ctx context.Context, line string) (quit bool) {
	defer func() {
		if r := recover(); r != nil {
			l.console.StopProgress()
			l.logger.Error("recovered from panic in interactive loop", fmt.Errorf("%v", r))
			l.console.Error(fmt.Sprintf("unexpected error: %v", r))
			quit = false
		}
	}()

	if strings.HasSuffix(line, "\\") {
		l.pending = append(l.pending, strings.TrimSuffix(line, "\\"))
		return false
	}
	if len(l.pending) > 0 {
		line = strings.Join(append(l.pending, line), "\n")
		l.pending = nil
	}

	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	switch strings.ToLower(input) {
	case "q", "quit", "exit", "/q", "/quit", "/exit":
		return true
	case "clear", "cls", "/clear":
		fmt.Fprint(l.console.Out, "\033[H\033[2J")
		return false
	case "balance", "/balance":
		l.showBalance(ctx)
		return false
	}

	if strings.HasPrefix(input, "/") {
		l.handleCommand(input)
		return false
	}

	l.runQuery(ctx, input)
	return false
}

func (l *Loop) runQuery(ctx context.Context, input string) {
	qctx, cancel := l.interrupts(ctx)
	defer cancel()

	answer, err := l.exec.Execute(qctx, input)
	if err != nil {
		l.handleError(ctx, err)
		return
	}
	if l.history != nil {
		l.history.Add(history.Entry{
			Query:    input,
			Response: answer,
			Model:    l.exec.Model(),
			ThreadID: l.exec.ThreadID(),
		})
		if err := l.history.Save(); err != nil {
			l.logger.Warn("could not save history", logging.Fields{"error": err.Error()})
		}
	}
}

func (l *Loop) showBalance(ctx context.Context) {
	qctx, cancel := l.interrupts(ctx)
	defer cancel()

	bal, err := l.agent.Balance(qctx)
	if err != nil {
		l.handleError(ctx, err)
		return
	}
	l.console.Balance(bal)
}

// handleError renders a failed call. An expired session is renewed so the
// next query works; the failed one is not retried.
func (l *Loop) handleError(ctx context.Context, err error) {
	l.console.StopProgress()
	if errors.Is(err, context.Canceled) {
		l.console.Info("Query cancelled.")
		return
	}

	switch api.Classify(err) {
	case api.OutcomeAuthExpired:
		l.console.Warn("Your session has expired.")
		if l.auth == nil {
			l.console.Failure(err)
			return
		}
		l.auth.HandleExpired()
		if aerr := l.auth.Authenticate(ctx, l.identity); aerr != nil {
			l.console.Failure(aerr)
			return
		}
		l.console.Success("Re-authenticated. Please repeat your last query.")
	default:
		l.logger.Warn("query failed", logging.Fields{"kind": api.FailureKind(err)})
		l.console.Failure(err)
	}
}

func (l *Loop) handleCommand(input string) {
	parts := strings.SplitN(input, " ", 2)
	cmd := strings.ToLower(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}
	out := l.console.Out

	switch cmd {
	case "/help", "/h":
		l.showHelp()

	case "/model":
		if arg == "" {
			fmt.Fprintf(out, "Current model: %s\n", orServerDefault(l.exec.Model()))
			return
		}
		l.exec.SetModel(arg)
		fmt.Fprintf(out, "Switched to model: %s\n", arg)

	case "/thread":
		if arg == "" {
			fmt.Fprintf(out, "Current thread: %s\n", orServerDefault(l.exec.ThreadID()))
			return
		}
		l.exec.SetThreadID(arg)
		fmt.Fprintf(out, "Switched to thread: %s\n", arg)

	case "/new":
		id := uuid.NewString()
		l.exec.SetThreadID(id)
		fmt.Fprintf(out, "Started new thread: %s\n", id)

	case "/history":
		l.showHistory()

	default:
		fmt.Fprintf(out, "Unknown command: %s\n", cmd)
		fmt.Fprintln(out, "Type /help for available commands")
	}
}

func (l *Loop) showHelp() {
	out := l.console.Out
	fmt.Fprintln(out, "\nCommands:")
	fmt.Fprintf(out, "  %-24s %s\n", "quit, exit, q", "Exit interactive mode")
	fmt.Fprintf(out, "  %-24s %s\n", "clear, cls", "Clear the screen")
	fmt.Fprintf(out, "  %-24s %s\n", "balance", "Show your account balance")
	fmt.Fprintf(out, "  %-24s %s\n", "/model <name>", "Switch model")
	fmt.Fprintf(out, "  %-24s %s\n", "/model", "Show current model")
	fmt.Fprintf(out, "  %-24s %s\n", "/thread <id>", "Switch conversation thread")
	fmt.Fprintf(out, "  %-24s %s\n", "/new", "Start a new conversation thread")
	fmt.Fprintf(out, "  %-24s %s\n", "/history", "Show recent queries")
	fmt.Fprintf(out, "  %-24s %s\n", "/help, /h", "Show this help")
	fmt.Fprintln(out, "\nEnd a line with \\ for multiline input.")
	fmt.Fprintln(out)
}

func (l *Loop) showHistory() {
	out := l.console.Out
	if l.history == nil {
		fmt.Fprintln(out, "History not available.")
		return
	}
	entries := l.history.Recent(10)
	if len(entries) == 0 {
		fmt.Fprintln(out, "No query history.")
		return
	}
	fmt.Fprintln(out, "\nRecent queries:")
	for i, e := range entries {
		fmt.Fprintf(out, "  %d. [%s] %s\n", i+1, e.CreatedAt.Local().Format("2006-01-02 15:04"), preview(e.Query, 60))
	}
	fmt.Fprintln(out)
}

func orServerDefault(v string) string {
	if v == "" {
		return "server default"
	}
	return v
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
