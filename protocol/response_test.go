package protocol

import (
	"fmt"
	"strings"
	"testing"

	"github.com/nczempin/httpc-embedded/errors"
)

func newTestParser() *ResponseParser {
	return NewResponseParser(make([]byte, 1024), make([]byte, 4096))
}

// feedChunks feeds raw split into chunks of size n (the whole input if n <= 0).
func feedChunks(p *ResponseParser, raw string, n int) (int, error) {
	if n <= 0 {
		n = len(raw)
	}
	total := 0
	for len(raw) > 0 {
		k := n
		if k > len(raw) {
			k = len(raw)
		}
		got, err := p.Feed([]byte(raw[:k]))
		total += got
		if err != nil {
			return total, err
		}
		raw = raw[k:]
	}
	return total, nil
}

type parsed struct {
	status  uint16
	reason  string
	headers []string
	body    string
	phase   ParsePhase
}

func snapshot(p *ResponseParser) parsed {
	r := p.Response()
	out := parsed{
		status: r.StatusCode(),
		reason: string(r.Reason()),
		body:   string(r.Body()),
		phase:  p.Phase(),
	}
	r.VisitHeaders(func(name, value []byte) bool {
		out.headers = append(out.headers, string(name)+"="+string(value))
		return true
	})
	return out
}

func TestResponseParser_ChunkingIndependent(t *testing.T) {
	responses := []string{
		"HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 13\r\n\r\nHello, World!",
		"HTTP/1.1 404 Not Found\r\nServer: test\r\nX-Empty:\r\nContent-Length: 0\r\n\r\n",
		"HTTP/1.0 200\nContent-Length: 3\n\nabc",
		"HTTP/1.1 302 Found\r\nLocation:   /elsewhere  \r\nContent-Length: 4\r\n\r\nmove",
		"HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 201 Created\r\nContent-Length: 2\r\n\r\nok",
	}

	for i, raw := range responses {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			whole := newTestParser()
			if _, err := feedChunks(whole, raw, 0); err != nil {
				t.Fatalf("Single chunk failed: %v", err)
			}
			want := snapshot(whole)
			if want.phase != Complete {
				t.Fatalf("Expected Complete, got %v", want.phase)
			}

			for _, size := range []int{1, 2, 3, 7} {
				p := newTestParser()
				bodyN, err := feedChunks(p, raw, size)
				if err != nil {
					t.Fatalf("Chunks of %d failed: %v", size, err)
				}
				got := snapshot(p)
				if fmt.Sprint(got) != fmt.Sprint(want) {
					t.Errorf("Chunks of %d: expected %+v, got %+v", size, want, got)
				}
				if bodyN != len(want.body) {
					t.Errorf("Chunks of %d: expected %d body bytes reported, got %d", size, len(want.body), bodyN)
				}
			}
		})
	}
}

func TestResponseParser_StatusAndHeaders(t *testing.T) {
	p := newTestParser()
	raw := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\ncontent-length: 5\r\nConnection: keep-alive\r\n\r\nhello"
	if _, err := feedChunks(p, raw, 0); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}

	r := p.Response()
	if r.StatusCode() != 200 {
		t.Errorf("Expected status 200, got %d", r.StatusCode())
	}
	if string(r.Reason()) != "OK" {
		t.Errorf("Expected reason OK, got %q", r.Reason())
	}
	if major, minor := r.Proto(); major != 1 || minor != 1 {
		t.Errorf("Expected HTTP/1.1, got %d.%d", major, minor)
	}
	if v, ok := r.Header("CONTENT-TYPE"); !ok || string(v) != "text/plain" {
		t.Errorf("Expected case-insensitive header lookup, got %q, %v", v, ok)
	}
	if _, ok := r.Header("X-Missing"); ok {
		t.Error("Expected missing header")
	}
	if n, ok := r.ContentLength(); !ok || n != 5 {
		t.Errorf("Expected Content-Length 5, got %d, %v", n, ok)
	}
	if r.NumHeaders() != 3 {
		t.Errorf("Expected 3 headers, got %d", r.NumHeaders())
	}
	if p.ConnClose() {
		t.Error("Expected keep-alive connection")
	}
}

func TestResponseParser_CompletesAtContentLength(t *testing.T) {
	p := newTestParser()
	head := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n"
	if n, err := feedChunks(p, head, 0); err != nil || n != 0 {
		t.Fatalf("Expected header-only feed, got %d, %v", n, err)
	}
	if p.Phase() != AwaitingBody {
		t.Fatalf("Expected AwaitingBody, got %v", p.Phase())
	}

	for i, c := range "abcde" {
		if p.Phase() == Complete {
			t.Fatalf("Completed early after %d body bytes", i)
		}
		n, err := p.Feed([]byte{byte(c)})
		if err != nil || n != 1 {
			t.Fatalf("Expected 1 body byte, got %d, %v", n, err)
		}
	}
	if p.Phase() != Complete {
		t.Fatalf("Expected Complete after 5th byte, got %v", p.Phase())
	}

	// Anything after the body is not part of this response.
	if n, err := p.Feed([]byte("HTTP/1.1 200 OK\r\n")); n != 0 || err != nil {
		t.Errorf("Expected trailing bytes discarded, got %d, %v", n, err)
	}
	if string(p.Body()) != "abcde" {
		t.Errorf("Expected body abcde, got %q", p.Body())
	}
}

func TestResponseParser_ExcessInSameChunk(t *testing.T) {
	p := newTestParser()
	n, err := p.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nokEXTRA"))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if n != 2 || string(p.Body()) != "ok" {
		t.Errorf("Expected 2 body bytes \"ok\", got %d %q", n, p.Body())
	}
	if p.BodyConsumed() != 2 {
		t.Errorf("Expected 2 bytes consumed, got %d", p.BodyConsumed())
	}
}

func TestResponseParser_LengthByEOF(t *testing.T) {
	p := newTestParser()
	n, err := feedChunks(p, "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\npart one, ", 0)
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if n != len("part one, ") {
		t.Errorf("Expected %d body bytes, got %d", len("part one, "), n)
	}
	feedChunks(p, "part two", 0)

	if p.Phase() != AwaitingBody {
		t.Fatalf("Expected AwaitingBody until close, got %v", p.Phase())
	}
	if !p.LengthByEOF() || !p.ConnClose() {
		t.Error("Expected length-by-EOF response with Connection: close")
	}

	if err := p.PeerClosed(); err != nil {
		t.Fatalf("PeerClosed failed: %v", err)
	}
	if p.Phase() != Complete {
		t.Errorf("Expected Complete, got %v", p.Phase())
	}
	if string(p.Body()) != "part one, part two" {
		t.Errorf("Unexpected body %q", p.Body())
	}
}

func TestResponseParser_PeerClosedEarly(t *testing.T) {
	tests := map[string]string{
		"before status":  "",
		"in status line": "HTTP/1.1 20",
		"in headers":     "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n",
		"short body":     "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nabc",
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			p := newTestParser()
			if _, err := feedChunks(p, raw, 0); err != nil {
				t.Fatalf("Feed failed: %v", err)
			}
			err := p.PeerClosed()
			if errors.TypeOf(err) != errors.ErrorTransport || !errors.IsPeerClosed(err) {
				t.Errorf("Expected peer-closed TransportError, got %v", err)
			}
		})
	}
}

func TestResponseParser_Chunked(t *testing.T) {
	p := newTestParser()
	_, err := feedChunks(p, "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip, Chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n", 0)
	if errors.TypeOf(err) != errors.ErrorUnsupportedEncoding {
		t.Fatalf("Expected UnsupportedEncoding, got %v", err)
	}

	// The error is sticky.
	if _, err := p.Feed([]byte("more")); errors.TypeOf(err) != errors.ErrorUnsupportedEncoding {
		t.Errorf("Expected sticky UnsupportedEncoding, got %v", err)
	}
	if errors.TypeOf(p.Err()) != errors.ErrorUnsupportedEncoding {
		t.Errorf("Expected Err() to report UnsupportedEncoding, got %v", p.Err())
	}
}

func TestResponseParser_MalformedStatusLine(t *testing.T) {
	lines := []string{
		"HTTP/1.1\r\n",
		"HTTP/1.1 2000 OK\r\n",
		"HTTP/1.1 20x OK\r\n",
		"HTTP/1.1 099 Low\r\n",
		"HTTP/2.0 200 OK\r\n",
		"HTTP/1.1  200 OK\r\n",
		"ICY 200 OK\r\n",
		"<html>\r\n",
		"HTTP/1.1 200OK\r\n",
	}

	for _, line := range lines {
		p := newTestParser()
		_, err := p.Feed([]byte(line))
		if errors.TypeOf(err) != errors.ErrorMalformedResponse {
			t.Errorf("%q: Expected MalformedResponse, got %v", line, err)
		}
	}
}

func TestResponseParser_MalformedHeaders(t *testing.T) {
	lines := []string{
		"NoColonHere\r\n",
		": empty name\r\n",
		" folded: value\r\n",
		"Bad Name: value\r\n",
		"Content-Length: -1\r\n",
		"Content-Length: 5000000000\r\n",
		"Content-Length: 12abc\r\n",
		"Content-Length: 5\r\nContent-Length: 6\r\n",
	}

	for _, line := range lines {
		p := newTestParser()
		_, err := feedChunks(p, "HTTP/1.1 200 OK\r\n"+line, 0)
		if errors.TypeOf(err) != errors.ErrorMalformedResponse {
			t.Errorf("%q: Expected MalformedResponse, got %v", line, err)
		}
	}
}

func TestResponseParser_RepeatedContentLength(t *testing.T) {
	p := newTestParser()
	_, err := feedChunks(p, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nContent-Length: 2\r\n\r\nok", 0)
	if err != nil {
		t.Fatalf("Expected identical Content-Length headers to be accepted, got %v", err)
	}
	if p.Phase() != Complete {
		t.Errorf("Expected Complete, got %v", p.Phase())
	}
}

func TestResponseParser_NoBody(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		expectBody bool
	}{
		{name: "204", raw: "HTTP/1.1 204 No Content\r\n\r\n", expectBody: true},
		{name: "304", raw: "HTTP/1.1 304 Not Modified\r\nContent-Length: 10\r\n\r\n", expectBody: true},
		{name: "head", raw: "HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\n", expectBody: false},
		{name: "zero length", raw: "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", expectBody: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestParser()
			p.Reset(tt.expectBody)
			if _, err := feedChunks(p, tt.raw, 0); err != nil {
				t.Fatalf("Feed failed: %v", err)
			}
			if p.Phase() != Complete {
				t.Errorf("Expected Complete without body, got %v", p.Phase())
			}
			if len(p.Body()) != 0 {
				t.Errorf("Expected empty body, got %q", p.Body())
			}
		})
	}
}

func TestResponseParser_InterimResponses(t *testing.T) {
	p := newTestParser()
	raw := "HTTP/1.1 100 Continue\r\n\r\n" +
		"HTTP/1.1 103 Early Hints\r\nLink: </style.css>\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\ndone"
	if _, err := feedChunks(p, raw, 5); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	r := p.Response()
	if r.StatusCode() != 200 {
		t.Errorf("Expected final status 200, got %d", r.StatusCode())
	}
	if _, ok := r.Header("Link"); ok {
		t.Error("Expected interim headers to be dropped")
	}
	if string(r.Body()) != "done" {
		t.Errorf("Expected body done, got %q", r.Body())
	}
}

func TestResponseParser_HTTP10ConnClose(t *testing.T) {
	p := newTestParser()
	feedChunks(p, "HTTP/1.0 200 OK\r\nContent-Length: 0\r\n\r\n", 0)
	if !p.ConnClose() {
		t.Error("Expected HTTP/1.0 to close by default")
	}

	p.Reset(true)
	feedChunks(p, "HTTP/1.0 200 OK\r\nConnection: Keep-Alive\r\nContent-Length: 0\r\n\r\n", 0)
	if p.ConnClose() {
		t.Error("Expected HTTP/1.0 keep-alive to be honored")
	}
}

func TestResponseParser_HeaderOverflow(t *testing.T) {
	p := NewResponseParser(make([]byte, 64), make([]byte, 64))
	raw := "HTTP/1.1 200 OK\r\nX-Long: " + strings.Repeat("a", 64) + "\r\n\r\n"
	_, err := feedChunks(p, raw, 10)
	if errors.TypeOf(err) != errors.ErrorBufferOverflow {
		t.Errorf("Expected BufferOverflow, got %v", err)
	}
}

func TestResponseParser_TooManyHeaders(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 200 OK\r\n")
	for i := 0; i <= MaxHeaders; i++ {
		fmt.Fprintf(&sb, "X-H%d: %d\r\n", i, i)
	}
	sb.WriteString("\r\n")

	p := NewResponseParser(make([]byte, 4096), make([]byte, 64))
	_, err := feedChunks(p, sb.String(), 0)
	if errors.TypeOf(err) != errors.ErrorBufferOverflow {
		t.Errorf("Expected BufferOverflow, got %v", err)
	}
}

func TestResponseParser_BodyOverflow(t *testing.T) {
	p := NewResponseParser(make([]byte, 256), make([]byte, 4))
	_, err := feedChunks(p, "HTTP/1.1 200 OK\r\nContent-Length: 8\r\n\r\n12345678", 0)
	if errors.TypeOf(err) != errors.ErrorBufferOverflow {
		t.Errorf("Expected BufferOverflow, got %v", err)
	}
}

func TestResponseParser_ResetKeepsBuffers(t *testing.T) {
	p := newTestParser()
	feedChunks(p, "HTTP/1.1 500 Oops\r\nContent-Length: 1\r\n\r\nx", 0)
	p.Reset(true)

	if p.Phase() != AwaitingStatusLine || p.StatusCode() != 0 || len(p.Body()) != 0 {
		t.Errorf("Expected fresh parser after Reset, got phase %v status %d", p.Phase(), p.StatusCode())
	}
	if _, err := feedChunks(p, "HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\ny", 0); err != nil {
		t.Fatalf("Feed after Reset failed: %v", err)
	}
	if string(p.Body()) != "y" {
		t.Errorf("Expected body y, got %q", p.Body())
	}
}

func TestResponse_Copy(t *testing.T) {
	p := newTestParser()
	feedChunks(p, "HTTP/1.1 201 Created\r\nLocation: /items/1\r\nContent-Length: 2\r\n\r\nok", 0)

	resp := p.Response().Copy()
	p.Reset(true)
	feedChunks(p, "HTTP/1.1 500 XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX\r\nContent-Length: 2\r\n\r\nzz", 0)

	if resp.StatusCode != 201 || resp.StatusMessage != "Created" {
		t.Errorf("Expected 201 Created, got %d %s", resp.StatusCode, resp.StatusMessage)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("Expected copied body ok, got %q", resp.Body)
	}
	if v, ok := resp.Header("location"); !ok || v != "/items/1" {
		t.Errorf("Expected Location header, got %q", v)
	}
	if resp.ContentLength != 2 {
		t.Errorf("Expected ContentLength 2, got %d", resp.ContentLength)
	}
}
