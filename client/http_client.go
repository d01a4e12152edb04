// Package client implements a single-connection, non-blocking HTTP/1.1
// client driven by polling.
package client

import (
	"fmt"
	"time"

	"github.com/nczempin/httpc-embedded/errors"
	"github.com/nczempin/httpc-embedded/protocol"
	"github.com/nczempin/httpc-embedded/transport"
)

// DefaultSendTimeout bounds SendRequest when Config.SendTimeout is zero.
const DefaultSendTimeout = 5 * time.Second

// sendRetryDelay is how long SendRequest waits when the socket accepts no bytes.
const sendRetryDelay = time.Millisecond

// State is the client's position in the request/response cycle.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateRequestSent
	StateResponseParsing
	StateResponseComplete
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateRequestSent:
		return "RequestSent"
	case StateResponseParsing:
		return "ResponseParsing"
	case StateResponseComplete:
		return "ResponseComplete"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PollStatus describes what a PollReceive call achieved.
type PollStatus int

const (
	// PollIdle means no bytes were available.
	PollIdle PollStatus = iota
	// PollHeaders means bytes were consumed but no body bytes were recognized.
	PollHeaders
	// PollBody means body bytes were recognized; their count is returned.
	PollBody
)

func (s PollStatus) String() string {
	switch s {
	case PollIdle:
		return "Idle"
	case PollHeaders:
		return "Headers"
	case PollBody:
		return "Body"
	default:
		return fmt.Sprintf("PollStatus(%d)", int(s))
	}
}

// Config holds the caller-owned buffers and options of an HttpClient.
type Config struct {
	// SendBuf holds the serialized request.
	SendBuf []byte
	// RecvBuf receives raw bytes from the socket.
	RecvBuf []byte
	// HeaderBuf accumulates the status line and headers.
	HeaderBuf []byte
	// BodyBuf holds the response body.
	BodyBuf []byte

	// KeepAlive asks the server to keep the connection open after a response.
	KeepAlive bool
	// SendTimeout bounds how long SendRequest retries partial writes.
	SendTimeout time.Duration
	// Now is the clock used for SendTimeout. Defaults to time.Now.
	Now func() time.Time
}

// HttpClient drives one TCP socket through connect, request and response.
// It is not safe for concurrent use.
type HttpClient struct {
	sock   transport.Socket
	cfg    Config
	state  State
	parser *protocol.ResponseParser

	keepAlive bool // requested for the in-flight request
}

// New creates a client over sock. The client owns sock from here on.
func New(sock transport.Socket, cfg Config) (*HttpClient, error) {
	if sock == nil {
		return nil, errors.NewInvalidArgumentError("nil socket")
	}
	if len(cfg.SendBuf) == 0 || len(cfg.RecvBuf) == 0 || len(cfg.HeaderBuf) == 0 {
		return nil, errors.NewInvalidArgumentError("send, receive and header buffers are required")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &HttpClient{
		sock:   sock,
		cfg:    cfg,
		parser: protocol.NewResponseParser(cfg.HeaderBuf, cfg.BodyBuf),
	}, nil
}

// Connect opens the connection to ep. It is a no-op while a connection is
// open; a connection the peer has closed is replaced.
func (c *HttpClient) Connect(ep transport.Endpoint) error {
	if c.state != StateClosed {
		if transport.IsOpen(c.sock) {
			return nil
		}
		c.Close()
	}
	if !ep.IsValid() {
		return errors.NewInvalidArgumentError("invalid endpoint " + ep.String())
	}

	c.state = StateOpening
	if err := c.sock.Open(ep); err != nil {
		c.sock.Close()
		c.state = StateClosed
		return connectError(ep, err)
	}
	c.state = StateOpen
	return nil
}

func connectError(ep transport.Endpoint, err error) error {
	switch errors.TransportErrorOf(err) {
	case errors.TransportErrorConnectionRefused:
		return errors.Wrap(errors.ErrorConnectionRefused, "connect to "+ep.String(), err)
	case errors.TransportErrorTimeout:
		return errors.Wrap(errors.ErrorConnectionTimeout, "connect to "+ep.String(), err)
	}
	if errors.TypeOf(err) == errors.ErrorTransport {
		return err
	}
	return errors.NewTransportError(errors.TransportErrorSocketConnectFailure, "connect to "+ep.String(), err)
}

// SendRequest serializes req into the send buffer and writes it. It is only
// valid while the connection is open with no request in flight; otherwise it
// fails with NotConnected and the client is left as it was. A request that
// does not fit the send buffer fails with BufferOverflow before anything is
// sent.
func (c *HttpClient) SendRequest(req *protocol.HttpRequest) error {
	if c.state != StateOpen || !transport.IsOpen(c.sock) {
		return errors.New(errors.ErrorNotConnected,
			fmt.Sprintf("cannot send in state %v (socket %v)", c.state, c.sock.State()))
	}

	n, err := protocol.EncodeRequest(c.cfg.SendBuf, req, c.cfg.KeepAlive)
	if err != nil {
		return err
	}
	if err := c.sendAll(c.cfg.SendBuf[:n]); err != nil {
		c.Close()
		return err
	}

	c.keepAlive = c.cfg.KeepAlive
	c.parser.Reset(req.Method != protocol.MethodHead)
	c.state = StateRequestSent
	return nil
}

func (c *HttpClient) sendAll(buf []byte) error {
	deadline := c.cfg.Now().Add(c.cfg.SendTimeout)
	for sent := 0; sent < len(buf); {
		n, err := c.sock.Send(buf[sent:])
		if err != nil {
			if errors.TypeOf(err) == errors.ErrorTransport {
				return err
			}
			return errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "send request", err)
		}
		sent += n
		if n == 0 && sent < len(buf) {
			if !c.cfg.Now().Before(deadline) {
				return errors.NewTransportError(errors.TransportErrorTimeout,
					fmt.Sprintf("send stalled after %d/%d bytes", sent, len(buf)), nil)
			}
			time.Sleep(sendRetryDelay)
		}
	}
	return nil
}

// PollReceive reads whatever the socket has queued and feeds it to the
// response parser without blocking. n is the number of bytes newly stored
// as body. Completion, including completion by peer close, is reported by
// ResponseComplete. Any error closes the connection.
func (c *HttpClient) PollReceive() (n int, status PollStatus, err error) {
	switch c.state {
	case StateRequestSent, StateResponseParsing:
	case StateResponseComplete:
		return 0, PollIdle, nil
	default:
		return 0, PollIdle, errors.New(errors.ErrorNotConnected,
			fmt.Sprintf("no request in flight in state %v", c.state))
	}

	got, err := c.sock.Recv(c.cfg.RecvBuf)
	if err != nil {
		if errors.IsPeerClosed(err) {
			return c.peerClosed()
		}
		c.Close()
		if errors.TypeOf(err) != errors.ErrorTransport {
			err = errors.NewTransportError(errors.TransportErrorSocketReadFailure, "receive response", err)
		}
		return 0, PollIdle, err
	}
	if got == 0 {
		if c.sock.State() == transport.StatePeerClosed {
			return c.peerClosed()
		}
		return 0, PollIdle, nil
	}

	c.state = StateResponseParsing
	body, err := c.parser.Feed(c.cfg.RecvBuf[:got])
	if err != nil {
		c.Close()
		return 0, PollIdle, err
	}
	if c.parser.Phase() == protocol.Complete {
		c.state = StateResponseComplete
	}
	if body > 0 {
		return body, PollBody, nil
	}
	return 0, PollHeaders, nil
}

func (c *HttpClient) peerClosed() (int, PollStatus, error) {
	if err := c.parser.PeerClosed(); err != nil {
		c.Close()
		return 0, PollIdle, err
	}
	c.state = StateResponseComplete
	return 0, PollBody, nil
}

// ResponseComplete reports whether the in-flight response has been fully
// received.
func (c *HttpClient) ResponseComplete() bool {
	return c.state == StateResponseComplete
}

// Response returns a view of the response parsed so far.
func (c *HttpClient) Response() protocol.Response {
	return c.parser.Response()
}

// TakeResponseBody hands out the completed body and ends the cycle. The
// slice aliases BodyBuf and is valid until the next SendRequest. The client
// returns to Open when both sides agreed to keep the connection alive and
// closes it otherwise.
func (c *HttpClient) TakeResponseBody() ([]byte, error) {
	if c.state != StateResponseComplete {
		return nil, errors.New(errors.ErrorInvalidState,
			fmt.Sprintf("response not complete in state %v", c.state))
	}
	body := c.parser.Body()

	if c.keepAlive && !c.parser.ConnClose() && !c.parser.LengthByEOF() && transport.IsOpen(c.sock) {
		c.state = StateOpen
	} else {
		c.sock.Close()
		c.state = StateClosed
	}
	return body, nil
}

// Close drops the connection and any in-flight response. It is valid in
// every state.
func (c *HttpClient) Close() error {
	err := c.sock.Close()
	c.state = StateClosed
	c.parser.Reset(true)
	return err
}

// State returns the client state.
func (c *HttpClient) State() State { return c.state }

// ConnState queries the socket for the connection state.
func (c *HttpClient) ConnState() transport.State { return c.sock.State() }
