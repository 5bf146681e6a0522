// Package transcript reads and writes chat messages as JSON Lines, one
// new-message record per line.
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/leonletto/chatnode/internal/archive"
	"github.com/leonletto/chatnode/internal/chat"
)

// maxLineBytes bounds one transcript line.
const maxLineBytes = 1 << 20

// Writer appends records to a transcript file.
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

// NewWriter opens path for appending, creating it and its parent directory.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // G304 - path from CLI flag
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	return &Writer{file: f}, nil
}

// Append writes m as one line. Each line goes out in a single write so
// concurrent appenders never interleave within a record.
func (w *Writer) Append(m chat.NewMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// WriteArchive appends every message in snap, conversations sorted by
// counterparty and messages in arrival order. A non-empty counterparty
// limits the export to that conversation. It returns the number of records written.
func (w *Writer) WriteArchive(snap archive.Archive, counterparty string) (int, error) {
	names := make([]string, 0, len(snap))
	for name := range snap {
		if counterparty == "" || name == counterparty {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		for _, m := range snap[name] {
			if err := w.Append(chat.NewMessage{Chat: name, Author: m.Author, Content: m.Content}); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, w.Sync()
}

// Sync flushes the file to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	return w.file.Sync()
}

// Close closes the file. Calling Close more than once is safe.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// LineError reports a transcript line that is not a message record.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Stream decodes records from r and calls fn for each one. Blank lines are
// skipped. It stops at the first malformed line or when ctx is done.
func Stream(ctx context.Context, r io.Reader, fn func(chat.NewMessage) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m chat.NewMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return &LineError{Line: line, Err: err}
		}
		if m.Chat == "" {
			return &LineError{Line: line, Err: fmt.Errorf("missing chat")}
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan transcript: %w", err)
	}
	return nil
}

// ReadArchive rebuilds an archive from the transcript at path.
func ReadArchive(ctx context.Context, path string) (archive.Archive, error) {
	f, err := os.Open(path) //nolint:gosec // G304 - path from CLI flag
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	snap := archive.Archive{}
	err = Stream(ctx, f, func(m chat.NewMessage) error {
		snap[m.Chat] = append(snap[m.Chat], archive.Message{Author: m.Author, Content: m.Content})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
