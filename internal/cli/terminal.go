package cli

import (
	"os"
	"strconv"

	"golang.org/x/term"
)

// GetTerminalWidth returns the width of the terminal in columns.
// It tries the following methods in order:
// 1. The size of the terminal on stdout
// 2. COLUMNS environment variable
// 3. Default to 80 columns.
func GetTerminalWidth() int {
	if width := getWidthFromTerm(); width > 0 {
		return width
	}

	if width := getWidthFromEnv(); width > 0 {
		return width
	}

	return 80
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // G115 - fd fits in int
}

// getWidthFromTerm asks the terminal on stdout for its size.
func getWidthFromTerm() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd())) //nolint:gosec // G115 - fd fits in int
	if err != nil {
		return 0
	}
	return width
}

// getWidthFromEnv reads the COLUMNS environment variable.
func getWidthFromEnv() int {
	if colStr := os.Getenv("COLUMNS"); colStr != "" {
		if width, err := strconv.Atoi(colStr); err == nil && width > 0 {
			return width
		}
	}
	return 0
}
