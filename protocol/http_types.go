package protocol

import (
	"strings"

	"github.com/nczempin/httpc-embedded/errors"
)

// HttpMethod represents HTTP request methods
type HttpMethod int

const (
	MethodGet HttpMethod = iota
	MethodPost
	MethodHead
	MethodPut
	MethodDelete
	MethodOptions
	MethodPatch
)

var methodNames = [...]string{
	MethodGet:     "GET",
	MethodPost:    "POST",
	MethodHead:    "HEAD",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodOptions: "OPTIONS",
	MethodPatch:   "PATCH",
}

func (m HttpMethod) String() string {
	if !m.valid() {
		return "INVALID"
	}
	return methodNames[m]
}

func (m HttpMethod) valid() bool {
	return m >= 0 && int(m) < len(methodNames)
}

// ParseMethod returns the method named s, ignoring case.
func ParseMethod(s string) (HttpMethod, error) {
	for m, name := range methodNames {
		if strings.EqualFold(s, name) {
			return HttpMethod(m), nil
		}
	}
	return 0, errors.NewInvalidArgumentError("unknown HTTP method " + s)
}

// HttpHeader represents an HTTP header key-value pair
type HttpHeader struct {
	Key   string
	Value string
}

// HttpRequest represents an HTTP request. It is read-only to the client.
type HttpRequest struct {
	Method      HttpMethod
	URI         string
	Host        string
	ContentType string
	Headers     []HttpHeader
	Body        []byte
}

// HttpResponse represents an HTTP response (safe mode - copies data)
type HttpResponse struct {
	StatusCode    int
	StatusMessage string
	Headers       []HttpHeader
	Body          []byte
	// ContentLength is -1 when the response did not declare one.
	ContentLength int
}

// Header returns the first value of the named header, ignoring case.
func (r *HttpResponse) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Key, name) {
			return h.Value, true
		}
	}
	return "", false
}
