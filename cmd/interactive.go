package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/elk-language/go-prompt"

	"github.com/kajande/dulayni-cli/internal/query"
)

// promptSession adapts the interactive loop to go-prompt.
type promptSession struct {
	ctx      context.Context
	loop     *query.Loop
	exitFlag bool
}

// executor handles one line entered at the prompt.
func (s *promptSession) executor(input string) {
	if s.exitFlag {
		return
	}
	if s.loop.Handle(s.ctx, input) {
		s.exitFlag = true
		return
	}
	if s.loop.Continuing() {
		fmt.Print("... ")
	}
}

// runPrompt reads lines with go-prompt until the user quits. Ctrl+C at the
// prompt ends the session; during a query it only cancels that query.
func (app *App) runPrompt(ctx context.Context, loop *query.Loop) {
	session := &promptSession{ctx: ctx, loop: loop}

	p := prompt.New(
		session.executor,
		prompt.WithCompleter(completer),
		prompt.WithPrefix("> "),
		prompt.WithTitle("dulayni"),
		prompt.WithPrefixTextColor(prompt.Green),
		prompt.WithSuggestionBGColor(prompt.DarkBlue),
		prompt.WithSuggestionTextColor(prompt.White),
		prompt.WithSelectedSuggestionBGColor(prompt.Cyan),
		prompt.WithSelectedSuggestionTextColor(prompt.Black),
		prompt.WithDescriptionBGColor(prompt.DarkBlue),
		prompt.WithDescriptionTextColor(prompt.LightGray),
		prompt.WithSelectedDescriptionBGColor(prompt.Cyan),
		prompt.WithSelectedDescriptionTextColor(prompt.Black),
		prompt.WithScrollbarBGColor(prompt.DarkGray),
		prompt.WithScrollbarThumbColor(prompt.White),
		prompt.WithMaxSuggestion(10),
		prompt.WithCompletionOnDown(),
		prompt.WithExitChecker(func(in string, breakline bool) bool {
			return session.exitFlag
		}),
		prompt.WithKeyBind(prompt.KeyBind{
			Key: prompt.ControlC,
			Fn: func(p *prompt.Prompt) bool {
				fmt.Println("\nGoodbye!")
				session.exitFlag = true
				return false
			},
		}),
		prompt.WithKeyBind(prompt.KeyBind{
			Key: prompt.ControlD,
			Fn: func(p *prompt.Prompt) bool {
				if p.Buffer().Text() == "" {
					fmt.Println("Goodbye!")
					session.exitFlag = true
				}
				return false
			},
		}),
	)

	p.Run()
}

// signalReader turns an interrupt received while waiting for input into
// query.ErrInterrupted. It is used when stdin is not a terminal.
type signalReader struct {
	r query.LineReader
}

func newSignalReader(r query.LineReader) *signalReader {
	return &signalReader{r: r}
}

type readResult struct {
	line string
	err  error
}

// ReadLine implements query.LineReader.
func (s *signalReader) ReadLine() (string, error) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	res := make(chan readResult, 1)
	go func() {
		line, err := s.r.ReadLine()
		res <- readResult{line: line, err: err}
	}()

	select {
	case r := <-res:
		return r.line, r.err
	case <-sig:
		return "", query.ErrInterrupted
	}
}
