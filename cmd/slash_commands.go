package cmd

import (
	"strings"

	"github.com/elk-language/go-prompt"
	istrings "github.com/elk-language/go-prompt/strings"

	"github.com/kajande/dulayni-cli/internal/constants"
)

// slashCommands lists the commands offered by the completer. The loop in
// internal/query is what actually interprets them.
var slashCommands = []prompt.Suggest{
	{Text: "/help", Description: "Show available commands"},
	{Text: "/model", Description: "Show or switch the model"},
	{Text: "/thread", Description: "Show or switch the conversation thread"},
	{Text: "/new", Description: "Start a new conversation thread"},
	{Text: "/history", Description: "Show recent queries"},
	{Text: "/balance", Description: "Show your account balance"},
	{Text: "/clear", Description: "Clear the screen"},
	{Text: "/exit", Description: "Exit interactive mode"},
}

// modelSuggestions are offered after "/model ". Any name the server accepts
// can be typed.
var modelSuggestions = []prompt.Suggest{
	{Text: constants.DefaultModel, Description: "Default model"},
	{Text: "gpt-4o", Description: "OpenAI GPT-4o"},
	{Text: "gpt-4.1-mini", Description: "OpenAI GPT-4.1 mini"},
	{Text: "gpt-4.1", Description: "OpenAI GPT-4.1"},
}

// completer suggests slash commands, and model names after /model.
func completer(d prompt.Document) ([]prompt.Suggest, istrings.RuneNumber, istrings.RuneNumber) {
	text := d.TextBeforeCursor()
	endIndex := d.CurrentRuneIndex()
	w := d.GetWordBeforeCursor()
	startIndex := endIndex - istrings.RuneCountInString(w)

	if !strings.HasPrefix(text, "/") {
		return []prompt.Suggest{}, startIndex, endIndex
	}

	if strings.HasPrefix(strings.ToLower(text), "/model ") {
		return prompt.FilterHasPrefix(modelSuggestions, w, true), startIndex, endIndex
	}
	if strings.Contains(text, " ") {
		return []prompt.Suggest{}, startIndex, endIndex
	}
	return prompt.FilterHasPrefix(slashCommands, w, true), startIndex, endIndex
}
