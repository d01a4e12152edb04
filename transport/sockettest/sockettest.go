// Package sockettest provides a scripted in-memory transport.Socket for
// exercising code that drives a socket without touching the network.
package sockettest

import (
	"bytes"

	"github.com/nczempin/httpc-embedded/errors"
	"github.com/nczempin/httpc-embedded/transport"
)

// Socket is a scripted transport.Socket. Bytes queued with Feed are handed
// out by Recv in the order and chunking they were queued; a chunk larger
// than the caller's buffer is split across calls.
type Socket struct {
	// OpenErr is returned by the next Open call when non-nil.
	OpenErr error
	// SendErr is returned by Send when non-nil.
	SendErr error
	// RecvErr is returned by Recv once all queued chunks are consumed.
	RecvErr error
	// MaxWrite limits how many bytes a single Send accepts. Zero means no limit.
	MaxWrite int
	// Datagram makes each Send a separate entry in Sent and each Recv return
	// at most one queued chunk, as a UDP socket would.
	Datagram bool
	// OnSend, when set, is called with a copy of every accepted write.
	OnSend func(s *Socket, p []byte)

	Written bytes.Buffer
	Sent    [][]byte
	Opened  []transport.Endpoint
	Closes  int

	state      transport.State
	chunks     [][]byte
	peerClosed bool
}

var _ transport.Socket = (*Socket)(nil)

// New returns a closed scripted socket.
func New() *Socket {
	return &Socket{}
}

// Feed queues chunks to be returned by Recv.
func (s *Socket) Feed(chunks ...[]byte) {
	for _, c := range chunks {
		s.chunks = append(s.chunks, append([]byte(nil), c...))
	}
}

// FeedString queues string chunks to be returned by Recv.
func (s *Socket) FeedString(chunks ...string) {
	for _, c := range chunks {
		s.chunks = append(s.chunks, []byte(c))
	}
}

// ClosePeer makes the socket report peer closure once queued data is drained.
func (s *Socket) ClosePeer() {
	s.peerClosed = true
}

// Pending returns how many chunks are still queued.
func (s *Socket) Pending() int {
	return len(s.chunks)
}

func (s *Socket) Open(ep transport.Endpoint) error {
	s.Opened = append(s.Opened, ep)
	if s.OpenErr != nil {
		err := s.OpenErr
		s.OpenErr = nil
		s.state = transport.StateClosed
		return err
	}
	s.state = transport.StateOpen
	s.peerClosed = false
	return nil
}

func (s *Socket) State() transport.State {
	if s.state == transport.StateOpen && s.peerClosed && len(s.chunks) == 0 {
		return transport.StatePeerClosed
	}
	return s.state
}

func (s *Socket) Send(buf []byte) (int, error) {
	if s.state != transport.StateOpen {
		return 0, errors.NewTransportError(errors.TransportErrorNotOpen, "send: not connected", nil)
	}
	if s.SendErr != nil {
		return 0, s.SendErr
	}
	n := len(buf)
	if s.MaxWrite > 0 && n > s.MaxWrite {
		n = s.MaxWrite
	}
	p := append([]byte(nil), buf[:n]...)
	s.Written.Write(p)
	s.Sent = append(s.Sent, p)
	if s.OnSend != nil {
		s.OnSend(s, p)
	}
	return n, nil
}

func (s *Socket) Recv(buf []byte) (int, error) {
	if s.state != transport.StateOpen {
		return 0, errors.NewTransportError(errors.TransportErrorNotOpen, "recv: not connected", nil)
	}
	if len(s.chunks) == 0 {
		if s.RecvErr != nil {
			return 0, s.RecvErr
		}
		if s.peerClosed {
			return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed by peer", nil)
		}
		return 0, nil
	}

	c := s.chunks[0]
	n := copy(buf, c)
	switch {
	case n == len(c):
		s.chunks = s.chunks[1:]
	case s.Datagram:
		// A datagram larger than the buffer is truncated, as recv(2) does.
		s.chunks = s.chunks[1:]
	default:
		s.chunks[0] = c[n:]
	}
	return n, nil
}

func (s *Socket) Close() error {
	s.Closes++
	s.state = transport.StateClosed
	s.chunks = nil
	s.peerClosed = false
	return nil
}
