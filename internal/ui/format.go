// Package ui renders run summaries and operator prompts on the terminal.
package ui

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"salesetl/pkg/errors"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
)

var (
	// Out receives everything the package prints.
	Out io.Writer = os.Stdout

	// Check if output supports colors
	supportsColor = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	ColorSuccess = colorFunc(ansi.Green)
	ColorError   = colorFunc(ansi.Red)
	ColorWarning = colorFunc(ansi.Yellow)
	ColorInfo    = colorFunc(ansi.Cyan)
	ColorBold    = colorFunc("default+b")
	ColorDim     = colorFunc("default+h")
)

// colorFunc returns a function that colors text if supported
func colorFunc(color string) func(string) string {
	return func(text string) string {
		if supportsColor {
			return ansi.Color(text, color)
		}
		return text
	}
}

// IsInteractive reports whether stdin is a terminal an operator can answer.
func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// ShowHeader displays a formatted header
func ShowHeader(title string) {
	width := 50
	if len(title)+2 > width {
		width = len(title) + 2
	}
	padding := (width - len(title) - 2) / 2

	fmt.Fprintln(Out, "\n+"+strings.Repeat("-", width-2)+"+")
	fmt.Fprintf(Out, "|%s%s%s|\n",
		strings.Repeat(" ", padding),
		ColorBold(title),
		strings.Repeat(" ", width-2-padding-len(title)),
	)
	fmt.Fprintln(Out, "+"+strings.Repeat("-", width-2)+"+")
}

// ShowError prints err with its error code and recovery suggestions.
func ShowError(err error) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		fmt.Fprintf(Out, "\n%s [%s] %s\n", ColorError("ERROR:"), appErr.Code, appErr.Message)
		if appErr.Cause != nil {
			fmt.Fprintf(Out, "  %s\n", ColorDim(appErr.Cause.Error()))
		}
		for i, s := range appErr.Suggestions {
			fmt.Fprintf(Out, "  %s %d. %s\n", ColorInfo("TIP:"), i+1, s)
		}
		return
	}

	fmt.Fprintf(Out, "\n%s %s\n", ColorError("ERROR:"), err.Error())
	if suggestion := getSuggestion(err.Error()); suggestion != "" {
		fmt.Fprintf(Out, "  %s %s\n", ColorInfo("TIP:"), suggestion)
	}
}

func ShowSuccess(message string) {
	fmt.Fprintf(Out, "%s %s\n", ColorSuccess("SUCCESS:"), message)
}

func ShowWarning(message string) {
	fmt.Fprintf(Out, "%s %s\n", ColorWarning("WARNING:"), ColorWarning(message))
}

func ShowInfo(message string) {
	fmt.Fprintf(Out, "%s %s\n", ColorInfo("INFO:"), message)
}

// getSuggestion returns helpful suggestions based on error messages
func getSuggestion(message string) string {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "authentication failed") || strings.Contains(lower, "password"):
		return "Check the warehouse credentials or the keyring entry"
	case strings.Contains(lower, "connection refused"):
		return "Verify the warehouse host and network connectivity"
	case strings.Contains(lower, "no such table") || strings.Contains(lower, "does not exist"):
		return "Run 'salesetl migrate up' to create the warehouse schema"
	case strings.Contains(lower, "permission denied"):
		return "Ensure the warehouse role has the necessary privileges"
	default:
		return ""
	}
}

// askOne is swapped in tests.
var askOne = survey.AskOne

// WaitForAcknowledgment blocks until the operator confirms message.
func WaitForAcknowledgment(message string) error {
	ack := false
	return askOne(&survey.Confirm{Message: message, Default: true}, &ack)
}
