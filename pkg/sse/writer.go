package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Writer frames events onto an io.Writer. If the underlying writer is a
// *bufio.Writer it is flushed after every event so clients see fragments as
// soon as they are produced.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer that frames events onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write emits ev followed by the blank line that terminates it. Multi-line
// data is split across several "data:" fields.
func (w *Writer) Write(ev *Event) error {
	var b strings.Builder
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")

	if _, err := io.WriteString(w.w, b.String()); err != nil {
		return fmt.Errorf("writing sse event: %w", err)
	}
	return w.flush()
}

// Comment writes a comment line, typically used as a keep-alive.
func (w *Writer) Comment(text string) error {
	if _, err := io.WriteString(w.w, ": "+text+"\n\n"); err != nil {
		return fmt.Errorf("writing sse comment: %w", err)
	}
	return w.flush()
}

func (w *Writer) flush() error {
	if bw, ok := w.w.(*bufio.Writer); ok {
		return bw.Flush()
	}
	return nil
}
