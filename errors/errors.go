package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error. Every failing operation in
// this module reports exactly one of these.
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorDnsTimeout
	ErrorDnsMalformedResponse
	ErrorDnsNameError
	ErrorConnectionRefused
	ErrorConnectionTimeout
	ErrorNotConnected
	ErrorBufferOverflow
	ErrorMalformedResponse
	ErrorUnsupportedEncoding
	ErrorTransport
	ErrorInvalidArgument
	ErrorInvalidState
)

func (t ErrorType) String() string {
	switch t {
	case ErrorNone:
		return "None"
	case ErrorDnsTimeout:
		return "DnsTimeout"
	case ErrorDnsMalformedResponse:
		return "DnsMalformedResponse"
	case ErrorDnsNameError:
		return "DnsNameError"
	case ErrorConnectionRefused:
		return "ConnectionRefused"
	case ErrorConnectionTimeout:
		return "ConnectionTimeout"
	case ErrorNotConnected:
		return "NotConnected"
	case ErrorBufferOverflow:
		return "BufferOverflow"
	case ErrorMalformedResponse:
		return "MalformedResponse"
	case ErrorUnsupportedEncoding:
		return "UnsupportedEncoding"
	case ErrorTransport:
		return "TransportError"
	case ErrorInvalidArgument:
		return "InvalidArgument"
	case ErrorInvalidState:
		return "InvalidState"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// TransportError represents socket-level detail for ErrorTransport and for
// the connect failures derived from it.
type TransportError int

const (
	TransportErrorNone TransportError = iota
	TransportErrorSocketCreateFailure
	TransportErrorSocketConnectFailure
	TransportErrorConnectionRefused
	TransportErrorSocketReadFailure
	TransportErrorSocketWriteFailure
	TransportErrorConnectionClosed
	TransportErrorSocketCloseFailure
	TransportErrorTimeout
	TransportErrorNotOpen
	TransportErrorIoUringInit
	TransportErrorIoUringSubmit
	TransportErrorConnectionReset
)

func (e TransportError) String() string {
	switch e {
	case TransportErrorNone:
		return "none"
	case TransportErrorSocketCreateFailure:
		return "socket create failure"
	case TransportErrorSocketConnectFailure:
		return "socket connect failure"
	case TransportErrorConnectionRefused:
		return "connection refused"
	case TransportErrorSocketReadFailure:
		return "socket read failure"
	case TransportErrorSocketWriteFailure:
		return "socket write failure"
	case TransportErrorConnectionClosed:
		return "connection closed"
	case TransportErrorSocketCloseFailure:
		return "socket close failure"
	case TransportErrorTimeout:
		return "timeout"
	case TransportErrorNotOpen:
		return "socket not open"
	case TransportErrorIoUringInit:
		return "io_uring init failure"
	case TransportErrorIoUringSubmit:
		return "io_uring submit failure"
	case TransportErrorConnectionReset:
		return "connection reset"
	default:
		return fmt.Sprintf("transport error %d", int(e))
	}
}

// Error is the error type returned by the resolver, the client and the
// transports.
type Error struct {
	Type          ErrorType
	TransportErr  TransportError
	Message       string
	UnderlyingErr error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "no error"
	}

	typeStr := e.Type.String()
	if e.TransportErr != TransportErrorNone {
		typeStr = fmt.Sprintf("%s (%s)", typeStr, e.TransportErr)
	}

	if e.Message != "" {
		typeStr = fmt.Sprintf("%s: %s", typeStr, e.Message)
	}

	if e.UnderlyingErr != nil {
		return fmt.Sprintf("%s (caused by: %v)", typeStr, e.UnderlyingErr)
	}

	return typeStr
}

// Unwrap returns the underlying error for error chain support
func (e *Error) Unwrap() error {
	return e.UnderlyingErr
}

// Is reports whether target is an *Error of the same type. A target with a
// non-zero TransportErr must match that as well.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	if t.Type != e.Type {
		return false
	}
	return t.TransportErr == TransportErrorNone || t.TransportErr == e.TransportErr
}

// Sentinel values for use with errors.Is.
var (
	ErrDnsTimeout           = &Error{Type: ErrorDnsTimeout}
	ErrDnsMalformedResponse = &Error{Type: ErrorDnsMalformedResponse}
	ErrDnsNameError         = &Error{Type: ErrorDnsNameError}
	ErrConnectionRefused    = &Error{Type: ErrorConnectionRefused}
	ErrConnectionTimeout    = &Error{Type: ErrorConnectionTimeout}
	ErrNotConnected         = &Error{Type: ErrorNotConnected}
	ErrBufferOverflow       = &Error{Type: ErrorBufferOverflow}
	ErrMalformedResponse    = &Error{Type: ErrorMalformedResponse}
	ErrUnsupportedEncoding  = &Error{Type: ErrorUnsupportedEncoding}
	ErrTransport            = &Error{Type: ErrorTransport}
	ErrInvalidArgument      = &Error{Type: ErrorInvalidArgument}
	ErrInvalidState         = &Error{Type: ErrorInvalidState}
	ErrPeerClosed           = &Error{Type: ErrorTransport, TransportErr: TransportErrorConnectionClosed}
)

// New creates a new error of the given type
func New(t ErrorType, message string) *Error {
	return &Error{
		Type:    t,
		Message: message,
	}
}

// Wrap creates a new error of the given type caused by underlying.
func Wrap(t ErrorType, message string, underlying error) *Error {
	return &Error{
		Type:          t,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewTransportError creates a new transport error
func NewTransportError(err TransportError, message string, underlying error) *Error {
	return &Error{
		Type:          ErrorTransport,
		TransportErr:  err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string) *Error {
	return &Error{
		Type:    ErrorInvalidArgument,
		Message: message,
	}
}

// TypeOf returns the ErrorType of the first *Error in err's chain, or
// ErrorNone if there is none.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorNone
}

// TransportErrorOf returns the TransportError detail of err, if any.
func TransportErrorOf(err error) TransportError {
	var e *Error
	if stderrors.As(err, &e) {
		return e.TransportErr
	}
	return TransportErrorNone
}

// IsPeerClosed reports whether err signals that the remote end closed the
// connection (EOF), as opposed to a socket failure. A reset is a failure.
func IsPeerClosed(err error) bool {
	return TransportErrorOf(err) == TransportErrorConnectionClosed
}
