package sink

import (
	"context"
	"fmt"
	"io"
	"strings"
)

var rule = strings.Repeat("=", 54)

// TextSink prints each response body between two rules.
type TextSink struct {
	w io.Writer
	// Headers also prints the status line and headers when set.
	Headers bool
}

var _ Sink = (*TextSink)(nil)

// NewTextSink creates a TextSink writing to w.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) Write(_ context.Context, rec *Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, " >> HTTP Response - Received len: %d\r\n", len(rec.Body))
	b.WriteString(rule + "\r\n")
	if s.Headers {
		fmt.Fprintf(&b, "%d %s %s\r\n", rec.StatusCode, rec.Method, rec.URI)
		for _, h := range rec.Headers {
			fmt.Fprintf(&b, "%s: %s\r\n", h.Key, h.Value)
		}
		b.WriteString("\r\n")
	}
	b.Write(rec.Body)
	b.WriteString("\r\n")
	b.WriteString(rule + "\r\n")

	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return fmt.Errorf("sink: write text: %w", err)
	}
	return nil
}

// Close implements Sink. The underlying writer is left open.
func (s *TextSink) Close() error { return nil }
