package protocol

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/nczempin/httpc-embedded/errors"
)

// MaxHeaders is the most header lines a response may carry.
const MaxHeaders = 32

// ParsePhase is the position of a ResponseParser within a response.
type ParsePhase int

const (
	AwaitingStatusLine ParsePhase = iota
	AwaitingHeaders
	AwaitingBody
	Complete
)

func (p ParsePhase) String() string {
	switch p {
	case AwaitingStatusLine:
		return "AwaitingStatusLine"
	case AwaitingHeaders:
		return "AwaitingHeaders"
	case AwaitingBody:
		return "AwaitingBody"
	case Complete:
		return "Complete"
	default:
		return fmt.Sprintf("ParsePhase(%d)", int(p))
	}
}

// span is a half-open byte range of the header buffer.
type span struct{ start, end int }

type headerSpan struct{ name, value span }

// ResponseParser incrementally parses one HTTP/1.x response at a time.
//
// The status line and headers are accumulated in a caller-owned header
// buffer, so a line split across chunks is completed by a later Feed. Body
// bytes are copied into a caller-owned body buffer. The parser does not
// allocate.
type ResponseParser struct {
	hdr  []byte
	body []byte

	hlen      int // bytes used in hdr
	lineStart int // start of the partial line in hdr

	phase      ParsePhase
	expectBody bool
	err        error

	major, minor int
	statusCode   uint16
	reason       span
	headers      [MaxHeaders]headerSpan
	nheaders     int

	contentLength uint32
	hasLength     bool
	transferCoded bool
	connClose     bool
	connKeepAlive bool
	bodyConsumed  uint32
}

// NewResponseParser creates a parser over the given buffers.
func NewResponseParser(headerBuf, bodyBuf []byte) *ResponseParser {
	p := &ResponseParser{hdr: headerBuf, body: bodyBuf}
	p.Reset(true)
	return p
}

// Reset prepares the parser for the next response. expectBody is false for
// responses to HEAD requests.
func (p *ResponseParser) Reset(expectBody bool) {
	hdr, body := p.hdr, p.body
	*p = ResponseParser{hdr: hdr, body: body, expectBody: expectBody}
}

// Feed consumes chunk and returns how many bytes of it were body content.
// Bytes arriving after the response is complete are discarded. Errors are
// sticky until Reset.
func (p *ResponseParser) Feed(chunk []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	bodyN := 0
	for len(chunk) > 0 {
		switch p.phase {
		case Complete:
			return bodyN, nil

		case AwaitingBody:
			n, err := p.feedBody(chunk)
			bodyN += n
			if err != nil {
				return bodyN, p.fail(err)
			}
			chunk = chunk[n:]

		default:
			i := bytes.IndexByte(chunk, '\n')
			if i < 0 {
				return bodyN, p.fail(p.appendHeader(chunk))
			}
			if err := p.appendHeader(chunk[:i+1]); err != nil {
				return bodyN, p.fail(err)
			}
			chunk = chunk[i+1:]

			start, end := p.lineStart, p.hlen-1
			if end > start && p.hdr[end-1] == '\r' {
				end--
			}
			p.lineStart = p.hlen
			if err := p.parseLine(span{start, end}); err != nil {
				return bodyN, p.fail(err)
			}
		}
	}
	return bodyN, nil
}

// PeerClosed tells the parser the server closed the connection. It completes
// a body delimited by connection close and fails any other unfinished
// response.
func (p *ResponseParser) PeerClosed() error {
	if p.err != nil {
		return p.err
	}
	switch {
	case p.phase == Complete:
		return nil
	case p.phase == AwaitingBody && p.LengthByEOF():
		p.phase = Complete
		return nil
	default:
		return p.fail(errors.NewTransportError(errors.TransportErrorConnectionClosed,
			"connection closed during "+p.phase.String(), nil))
	}
}

func (p *ResponseParser) fail(err error) error {
	if err != nil {
		p.err = err
	}
	return err
}

func (p *ResponseParser) appendHeader(b []byte) error {
	if p.hlen+len(b) > len(p.hdr) {
		return errors.New(errors.ErrorBufferOverflow,
			fmt.Sprintf("response header exceeds %d bytes", len(p.hdr)))
	}
	p.hlen += copy(p.hdr[p.hlen:], b)
	return nil
}

func (p *ResponseParser) parseLine(line span) error {
	if p.phase == AwaitingStatusLine {
		if line.start == line.end {
			// Tolerate blank lines ahead of the status line.
			p.hlen, p.lineStart = 0, 0
			return nil
		}
		return p.parseStatusLine(line)
	}
	if line.start == line.end {
		return p.endHeaders()
	}
	return p.parseHeaderLine(line)
}

// parseStatusLine parses "HTTP/<major>.<minor> <code>[ <reason>]".
func (p *ResponseParser) parseStatusLine(line span) error {
	s := p.hdr[line.start:line.end]
	malformed := func(what string) error {
		return errors.New(errors.ErrorMalformedResponse,
			fmt.Sprintf("%s in status line %q", what, s))
	}

	if len(s) < len("HTTP/1.1 200") || !bytes.HasPrefix(s, []byte("HTTP/")) {
		return malformed("bad protocol")
	}
	if !isDigit(s[5]) || s[6] != '.' || !isDigit(s[7]) || s[8] != ' ' {
		return malformed("bad version")
	}
	p.major, p.minor = int(s[5]-'0'), int(s[7]-'0')
	if p.major != 1 {
		return malformed("unsupported version")
	}

	code := s[9:12]
	if !isDigit(code[0]) || !isDigit(code[1]) || !isDigit(code[2]) || code[0] == '0' {
		return malformed("bad status code")
	}
	p.statusCode = uint16(code[0]-'0')*100 + uint16(code[1]-'0')*10 + uint16(code[2]-'0')

	switch {
	case len(s) == 12:
		p.reason = span{line.end, line.end}
	case s[12] == ' ':
		p.reason = span{line.start + 13, line.end}
	default:
		return malformed("bad status code")
	}

	p.phase = AwaitingHeaders
	return nil
}

func (p *ResponseParser) parseHeaderLine(line span) error {
	s := p.hdr[line.start:line.end]
	if s[0] == ' ' || s[0] == '\t' {
		return errors.New(errors.ErrorMalformedResponse, "folded header line")
	}
	colon := bytes.IndexByte(s, ':')
	if colon <= 0 {
		return errors.New(errors.ErrorMalformedResponse, fmt.Sprintf("invalid header line %q", s))
	}
	name := s[:colon]
	for _, c := range name {
		if c <= ' ' || c >= 0x7f {
			return errors.New(errors.ErrorMalformedResponse, fmt.Sprintf("invalid header name %q", name))
		}
	}
	if p.nheaders == MaxHeaders {
		return errors.New(errors.ErrorBufferOverflow, fmt.Sprintf("more than %d response headers", MaxHeaders))
	}

	vs, ve := line.start+colon+1, line.end
	for vs < ve && isSpace(p.hdr[vs]) {
		vs++
	}
	for ve > vs && isSpace(p.hdr[ve-1]) {
		ve--
	}
	h := headerSpan{
		name:  span{line.start, line.start + colon},
		value: span{vs, ve},
	}
	p.headers[p.nheaders] = h
	p.nheaders++

	return p.interpretHeader(name, p.hdr[vs:ve])
}

func (p *ResponseParser) interpretHeader(name, value []byte) error {
	switch {
	case bytes.EqualFold(name, []byte("Content-Length")):
		n, err := strconv.ParseUint(string(value), 10, 32)
		if err != nil {
			return errors.Wrap(errors.ErrorMalformedResponse, fmt.Sprintf("invalid Content-Length %q", value), err)
		}
		if p.hasLength && p.contentLength != uint32(n) {
			return errors.New(errors.ErrorMalformedResponse, "conflicting Content-Length headers")
		}
		p.contentLength, p.hasLength = uint32(n), true

	case bytes.EqualFold(name, []byte("Transfer-Encoding")):
		forEachToken(value, func(tok []byte) {
			if !bytes.EqualFold(tok, []byte("identity")) {
				p.transferCoded = true
			}
		})
		if containsToken(value, "chunked") {
			return errors.New(errors.ErrorUnsupportedEncoding, "chunked transfer encoding")
		}

	case bytes.EqualFold(name, []byte("Connection")):
		if containsToken(value, "close") {
			p.connClose = true
		}
		if containsToken(value, "keep-alive") {
			p.connKeepAlive = true
		}
	}
	return nil
}

func (p *ResponseParser) endHeaders() error {
	if p.statusCode >= 100 && p.statusCode < 200 {
		// Interim response; the final one follows.
		p.Reset(p.expectBody)
		return nil
	}

	switch {
	case !p.expectBody || p.statusCode == 204 || p.statusCode == 304:
		p.phase = Complete
	case p.hasLength && !p.transferCoded && p.contentLength == 0:
		p.phase = Complete
	default:
		p.phase = AwaitingBody
	}
	return nil
}

func (p *ResponseParser) feedBody(chunk []byte) (int, error) {
	take := len(chunk)
	if !p.LengthByEOF() {
		if remaining := int(p.contentLength - p.bodyConsumed); take > remaining {
			take = remaining
		}
	}
	if int(p.bodyConsumed)+take > len(p.body) {
		return 0, errors.New(errors.ErrorBufferOverflow,
			fmt.Sprintf("response body exceeds %d bytes", len(p.body)))
	}
	copy(p.body[p.bodyConsumed:], chunk[:take])
	p.bodyConsumed += uint32(take)

	if !p.LengthByEOF() && p.bodyConsumed == p.contentLength {
		p.phase = Complete
	}
	return take, nil
}

// Phase returns the current parse phase.
func (p *ResponseParser) Phase() ParsePhase { return p.phase }

// Err returns the error that stopped parsing, if any.
func (p *ResponseParser) Err() error { return p.err }

// StatusCode returns the status code, or 0 before the status line is parsed.
func (p *ResponseParser) StatusCode() uint16 { return p.statusCode }

// ContentLength returns the declared body length, if any.
func (p *ResponseParser) ContentLength() (uint32, bool) {
	return p.contentLength, p.hasLength
}

// BodyConsumed returns how many body bytes have been stored.
func (p *ResponseParser) BodyConsumed() uint32 { return p.bodyConsumed }

// LengthByEOF reports whether the body ends when the server closes the
// connection.
func (p *ResponseParser) LengthByEOF() bool {
	return !p.hasLength || p.transferCoded
}

// ConnClose reports whether the server will close the connection after this
// response. HTTP/1.0 closes unless keep-alive was announced.
func (p *ResponseParser) ConnClose() bool {
	if p.connClose {
		return true
	}
	return p.major == 1 && p.minor == 0 && !p.connKeepAlive
}

// Body returns the stored body bytes. The slice aliases the body buffer.
func (p *ResponseParser) Body() []byte {
	return p.body[:p.bodyConsumed]
}

// Response returns a read-only view of the parsed response.
func (p *ResponseParser) Response() Response {
	return Response{p: p}
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func isSpace(c byte) bool { return c == ' ' || c == '\t' }

func forEachToken(value []byte, fn func(tok []byte)) {
	for len(value) > 0 {
		var tok []byte
		if i := bytes.IndexByte(value, ','); i >= 0 {
			tok, value = value[:i], value[i+1:]
		} else {
			tok, value = value, nil
		}
		tok = bytes.TrimSpace(tok)
		if len(tok) > 0 {
			fn(tok)
		}
	}
}

func containsToken(value []byte, token string) bool {
	found := false
	forEachToken(value, func(tok []byte) {
		if bytes.EqualFold(tok, []byte(token)) {
			found = true
		}
	})
	return found
}
