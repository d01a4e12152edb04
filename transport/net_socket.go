//go:build unix

package transport

import (
	"context"
	stderrors "errors"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nczempin/httpc-embedded/errors"
)

// NetSocket implements Socket on top of the net package. Connects go through
// net.Dialer; reads and writes are issued directly on the descriptor so they
// never park the calling goroutine.
type NetSocket struct {
	network Network
	dialer  net.Dialer
	conn    net.Conn
	raw     syscall.RawConn
	state   State
}

var _ Socket = (*NetSocket)(nil)

// NewTCPSocket creates a stream socket whose Open gives up after connectTimeout.
func NewTCPSocket(connectTimeout time.Duration) *NetSocket {
	return &NetSocket{
		network: NetworkTCP,
		dialer:  net.Dialer{Timeout: connectTimeout},
	}
}

// NewUDPSocket creates a datagram socket.
func NewUDPSocket() *NetSocket {
	return &NetSocket{network: NetworkUDP}
}

// Open establishes a connection to ep.
func (s *NetSocket) Open(ep Endpoint) error {
	if s.conn != nil {
		return errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			"already connected",
			nil,
		)
	}
	if !ep.IsValid() {
		return errors.NewInvalidArgumentError("invalid endpoint " + ep.String())
	}

	s.state = StateOpening
	conn, err := s.dialer.DialContext(context.Background(), s.network.String(), ep.String())
	if err != nil {
		s.state = StateClosed
		var opErr *net.OpError
		if stderrors.As(err, &opErr) && opErr.Timeout() {
			return errors.NewTransportError(errors.TransportErrorTimeout, "failed to connect to "+ep.String(), err)
		}
		return connectError(ep, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			s.state = StateClosed
			return errors.NewTransportError(errors.TransportErrorSocketCreateFailure, "failed to set TCP_NODELAY", err)
		}
	}

	sc, ok := conn.(syscall.Conn)
	if !ok {
		conn.Close()
		s.state = StateClosed
		return errors.NewTransportError(errors.TransportErrorSocketCreateFailure, "connection exposes no descriptor", nil)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		conn.Close()
		s.state = StateClosed
		return errors.NewTransportError(errors.TransportErrorSocketCreateFailure, "failed to access descriptor", err)
	}

	s.conn = conn
	s.raw = raw
	s.state = StateOpen
	return nil
}

// State reports the socket state.
func (s *NetSocket) State() State {
	return s.state
}

// Send writes what the kernel send buffer accepts right now.
func (s *NetSocket) Send(buf []byte) (int, error) {
	if s.conn == nil || s.state != StateOpen {
		return 0, notOpenError("send")
	}

	var n int
	var werr error
	err := s.raw.Write(func(fd uintptr) bool {
		n, werr = unix.Write(int(fd), buf)
		if refusedDatagram(s.network, werr) {
			// The pending error was consumed; this datagram was not sent.
			n, werr = unix.Write(int(fd), buf)
		}
		return true
	})
	if err != nil {
		return 0, errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "write failed", err)
	}
	return sendResult(n, werr)
}

// Recv reads queued bytes without waiting.
func (s *NetSocket) Recv(buf []byte) (int, error) {
	if s.state == StatePeerClosed {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed by peer", nil)
	}
	if s.conn == nil || s.state != StateOpen {
		return 0, notOpenError("recv")
	}

	var n int
	var rerr error
	err := s.raw.Read(func(fd uintptr) bool {
		n, rerr = unix.Read(int(fd), buf)
		return true
	})
	if err != nil {
		return 0, errors.NewTransportError(errors.TransportErrorSocketReadFailure, "read failed", err)
	}

	n, closed, rerr2 := recvResult(s.network, n, rerr, len(buf))
	if closed {
		s.state = StatePeerClosed
	}
	return n, rerr2
}

// Close closes the connection
func (s *NetSocket) Close() error {
	if s.conn == nil {
		s.state = StateClosed
		return nil // Idempotent close
	}

	err := s.conn.Close()
	s.conn = nil
	s.raw = nil
	s.state = StateClosed

	if err != nil {
		return errors.NewTransportError(errors.TransportErrorSocketCloseFailure, "failed to close socket", err)
	}
	return nil
}
