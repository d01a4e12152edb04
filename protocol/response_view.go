package protocol

import "bytes"

// Response is a zero-copy view of a parsed response. Its slices alias the
// parser's buffers and are only valid until the parser is reset for the
// next request.
type Response struct {
	p *ResponseParser
}

// StatusCode returns the final status code.
func (r Response) StatusCode() uint16 { return r.p.statusCode }

// Reason returns the reason phrase of the status line.
func (r Response) Reason() []byte { return r.p.hdr[r.p.reason.start:r.p.reason.end] }

// Proto returns the HTTP version of the response.
func (r Response) Proto() (major, minor int) { return r.p.major, r.p.minor }

// ContentLength returns the declared body length, if any.
func (r Response) ContentLength() (uint32, bool) { return r.p.ContentLength() }

// NumHeaders returns how many header lines were parsed.
func (r Response) NumHeaders() int { return r.p.nheaders }

// Header returns the value of the first header called name, ignoring case.
func (r Response) Header(name string) ([]byte, bool) {
	for i := 0; i < r.p.nheaders; i++ {
		h := r.p.headers[i]
		if bytes.EqualFold(r.p.hdr[h.name.start:h.name.end], []byte(name)) {
			return r.p.hdr[h.value.start:h.value.end], true
		}
	}
	return nil, false
}

// VisitHeaders calls fn for each header in order until fn returns false.
func (r Response) VisitHeaders(fn func(name, value []byte) bool) {
	for i := 0; i < r.p.nheaders; i++ {
		h := r.p.headers[i]
		if !fn(r.p.hdr[h.name.start:h.name.end], r.p.hdr[h.value.start:h.value.end]) {
			return
		}
	}
}

// Body returns the body bytes received so far.
func (r Response) Body() []byte { return r.p.Body() }

// Copy returns a copy of the response that stays valid after the buffers
// are reused.
func (r Response) Copy() *HttpResponse {
	resp := &HttpResponse{
		StatusCode:    int(r.p.statusCode),
		StatusMessage: string(r.Reason()),
		Headers:       make([]HttpHeader, 0, r.p.nheaders),
		Body:          bytes.Clone(r.Body()),
		ContentLength: -1,
	}
	if n, ok := r.ContentLength(); ok {
		resp.ContentLength = int(n)
	}
	r.VisitHeaders(func(name, value []byte) bool {
		resp.Headers = append(resp.Headers, HttpHeader{Key: string(name), Value: string(value)})
		return true
	})
	return resp
}
