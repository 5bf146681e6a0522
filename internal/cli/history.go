package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leonletto/chatnode/internal/archive"
	"github.com/leonletto/chatnode/internal/chat"
)

// HistoryFormatOptions controls FormatHistory.
type HistoryFormatOptions struct {
	// Counterparty limits output to one conversation when set.
	Counterparty string
	// Width wraps message text; 0 disables wrapping.
	Width int
}

// FormatHistory renders an archive one conversation at a time, sorted by
// counterparty, messages in arrival order.
func FormatHistory(snap archive.Archive, opts HistoryFormatOptions) string {
	names := make([]string, 0, len(snap))
	for name := range snap {
		if opts.Counterparty != "" && name != opts.Counterparty {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		if opts.Counterparty != "" {
			return fmt.Sprintf("No messages with %s.\n", opts.Counterparty)
		}
		return "No messages.\n"
	}

	var out strings.Builder
	for i, name := range names {
		if i > 0 {
			out.WriteString("\n")
		}
		msgs := snap[name]
		out.WriteString(fmt.Sprintf("== %s (%d %s) ==\n", name, len(msgs), plural(len(msgs), "message", "messages")))

		authorWidth := 0
		for _, m := range msgs {
			authorWidth = max(authorWidth, len(m.Author))
		}
		for _, m := range msgs {
			out.WriteString(formatLine(m.Author, m.Content, authorWidth, opts.Width))
		}
	}
	return out.String()
}

// FormatEvent renders one live event as a single entry.
func FormatEvent(ev *chat.NewMessage, width int) string {
	if ev == nil {
		return ""
	}
	prefix := "[" + ev.Chat + "] "
	return prefix + formatLine(ev.Author, ev.Content, 0, width-len(prefix))
}

// formatLine renders "author: content", indenting wrapped lines under the content.
func formatLine(author, content string, authorWidth, width int) string {
	head := padLine(author+":", authorWidth+1) + " "
	if width <= len(head)+10 {
		return head + content + "\n"
	}

	wrapped := strings.Split(wordWrap(content, width-len(head)), "\n")
	indent := strings.Repeat(" ", len(head))
	var out strings.Builder
	for i, line := range wrapped {
		if i == 0 {
			out.WriteString(head + line + "\n")
			continue
		}
		out.WriteString(indent + line + "\n")
	}
	return out.String()
}

// wordWrap wraps text to fit within a given width.
func wordWrap(text string, width int) string {
	if len(text) <= width {
		return text
	}

	var lines []string
	words := strings.Fields(text)

	if len(words) == 0 {
		return text
	}

	currentLine := words[0]

	for _, word := range words[1:] {
		if len(currentLine)+1+len(word) <= width {
			currentLine += " " + word
		} else {
			lines = append(lines, currentLine)
			currentLine = word
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return strings.Join(lines, "\n")
}

// padLine pads a line to at least length characters.
func padLine(line string, length int) string {
	if len(line) >= length {
		return line
	}
	return line + strings.Repeat(" ", length-len(line))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
