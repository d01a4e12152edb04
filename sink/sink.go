// Package sink delivers completed HTTP responses to their consumer: a
// terminal, or a SQLite database for later review.
package sink

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nczempin/httpc-embedded/protocol"
)

// Record is one completed request/response cycle.
type Record struct {
	ID         string                `json:"id"`
	Host       string                `json:"host"`
	Endpoint   string                `json:"endpoint"`
	Method     string                `json:"method"`
	URI        string                `json:"uri"`
	StatusCode int                   `json:"status_code"`
	Headers    []protocol.HttpHeader `json:"headers"`
	Body       []byte                `json:"-"`
	Elapsed    time.Duration         `json:"elapsed"`
	ReceivedAt time.Time             `json:"received_at"`
}

// Sink consumes completed responses.
type Sink interface {
	Write(ctx context.Context, rec *Record) error
	Close() error
}

// Kind names a sink implementation.
type Kind string

const (
	KindText   Kind = "text"
	KindSQLite Kind = "sqlite"
)

// Open creates the sink of the given kind. Text sinks write to w; SQLite
// sinks store records in the database at path.
func Open(kind Kind, path string, w io.Writer) (Sink, error) {
	switch kind {
	case KindText, "":
		return NewTextSink(w), nil
	case KindSQLite:
		return NewSQLiteSink(path)
	default:
		return nil, fmt.Errorf("sink: unknown kind %q", kind)
	}
}
