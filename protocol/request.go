package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nczempin/httpc-embedded/errors"
)

// requestWriter copies into a fixed buffer and keeps counting past its end,
// so an overflow reports the size that would have been needed.
type requestWriter struct {
	buf []byte
	n   int
}

func (w *requestWriter) str(s string) {
	if w.n+len(s) <= len(w.buf) {
		copy(w.buf[w.n:], s)
	}
	w.n += len(s)
}

func (w *requestWriter) bytes(b []byte) {
	if w.n+len(b) <= len(w.buf) {
		copy(w.buf[w.n:], b)
	}
	w.n += len(b)
}

func (w *requestWriter) header(name, value string) {
	w.str(name)
	w.str(": ")
	w.str(value)
	w.str("\r\n")
}

// EncodeRequest serializes req into buf and returns the number of bytes
// written. buf is never grown: a request that does not fit fails with
// BufferOverflow.
//
// Layout: request line, Host, Connection, Content-Length when a body is
// present, Content-Type when set, custom headers in order, blank line, body.
func EncodeRequest(buf []byte, req *HttpRequest, keepAlive bool) (int, error) {
	if err := validateRequest(req); err != nil {
		return 0, err
	}

	w := requestWriter{buf: buf}

	// Request line
	w.str(req.Method.String())
	w.str(" ")
	w.str(req.URI)
	w.str(" HTTP/1.1\r\n")

	// Headers
	w.header("Host", req.Host)
	if keepAlive {
		w.header("Connection", "keep-alive")
	} else {
		w.header("Connection", "close")
	}
	if len(req.Body) > 0 {
		var num [20]byte
		w.str("Content-Length: ")
		w.bytes(strconv.AppendUint(num[:0], uint64(len(req.Body)), 10))
		w.str("\r\n")
	}
	if req.ContentType != "" {
		w.header("Content-Type", req.ContentType)
	}
	for _, h := range req.Headers {
		w.header(h.Key, h.Value)
	}

	// Blank line
	w.str("\r\n")

	w.bytes(req.Body)

	if w.n > len(buf) {
		return 0, errors.New(errors.ErrorBufferOverflow,
			fmt.Sprintf("request needs %d bytes, send buffer holds %d", w.n, len(buf)))
	}
	return w.n, nil
}

func validateRequest(req *HttpRequest) error {
	if req == nil {
		return errors.NewInvalidArgumentError("nil request")
	}
	if !req.Method.valid() {
		return errors.NewInvalidArgumentError(fmt.Sprintf("invalid method %d", int(req.Method)))
	}
	if req.URI == "" || strings.ContainsAny(req.URI, " \t\r\n") {
		return errors.NewInvalidArgumentError("invalid request URI " + strconv.Quote(req.URI))
	}
	if req.Host == "" || strings.ContainsAny(req.Host, " \t\r\n") {
		return errors.NewInvalidArgumentError("invalid host " + strconv.Quote(req.Host))
	}
	if strings.ContainsAny(req.ContentType, "\r\n") {
		return errors.NewInvalidArgumentError("content type contains a line break")
	}
	for _, h := range req.Headers {
		if !validHeaderName(h.Key) {
			return errors.NewInvalidArgumentError("invalid header name " + strconv.Quote(h.Key))
		}
		if strings.ContainsAny(h.Value, "\r\n") {
			return errors.NewInvalidArgumentError("header " + h.Key + " value contains a line break")
		}
	}
	return nil
}

func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c >= 0x7f || c == ':' {
			return false
		}
	}
	return true
}
