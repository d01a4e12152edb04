//go:build linux

package transport

import (
	"syscall"
	"time"

	"github.com/iceber/iouring-go"
	"golang.org/x/sys/unix"

	"github.com/nczempin/httpc-embedded/errors"
)

// UringSocket implements Socket using io_uring for async I/O. Every receive
// and send is submitted with MSG_DONTWAIT so an empty queue completes
// immediately instead of parking the ring.
type UringSocket struct {
	network        Network
	connectTimeout time.Duration
	iour           *iouring.IOURing
	fd             int
	state          State
}

var _ Socket = (*UringSocket)(nil)

// NewUringSocket creates a socket with its own io_uring instance.
func NewUringSocket(network Network, connectTimeout time.Duration) (*UringSocket, error) {
	// Create io_uring instance with queue depth of 32
	iour, err := iouring.New(32)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}

	return &UringSocket{
		network:        network,
		connectTimeout: connectTimeout,
		iour:           iour,
		fd:             -1,
	}, nil
}

// Open establishes a connection using io_uring
func (t *UringSocket) Open(ep Endpoint) error {
	if t.fd >= 0 {
		return errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			"already connected",
			nil,
		)
	}
	if !ep.IsValid() {
		return errors.NewInvalidArgumentError("invalid endpoint " + ep.String())
	}

	fd, err := newSocketFD(t.network)
	if err != nil {
		return err
	}

	t.state = StateOpening
	sa := &syscall.SockaddrInet4{Port: int(ep.Port), Addr: ep.Addr.As4()}

	// The descriptor stays blocking so the ring completes the connect in its
	// worker; Send and Recv pass MSG_DONTWAIT instead.
	prep, err := iouring.Connect(fd, sa)
	if err != nil {
		unix.Close(fd)
		t.state = StateClosed
		return errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			"failed to prepare connect to "+ep.String(),
			err,
		)
	}
	ch := make(chan iouring.Result, 1)
	if _, err := t.iour.SubmitRequest(prep, ch); err != nil {
		unix.Close(fd)
		t.state = StateClosed
		return errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to submit connect request",
			err,
		)
	}

	var timeout <-chan time.Time
	if t.connectTimeout > 0 {
		timer := time.NewTimer(t.connectTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case result := <-ch:
		if err := result.Err(); err != nil {
			unix.Close(fd)
			t.state = StateClosed
			return connectError(ep, err)
		}
	case <-timeout:
		// Shutdown aborts the connect still pending in the ring worker.
		unix.Shutdown(fd, unix.SHUT_RDWR)
		unix.Close(fd)
		t.state = StateClosed
		return errors.NewTransportError(
			errors.TransportErrorTimeout,
			"failed to connect to "+ep.String(),
			nil,
		)
	}

	t.fd = fd
	t.state = StateOpen
	return nil
}

// State reports the socket state.
func (t *UringSocket) State() State {
	return t.state
}

// Send submits a single non-blocking send.
func (t *UringSocket) Send(buf []byte) (int, error) {
	if t.fd < 0 || t.state != StateOpen {
		return 0, notOpenError("send")
	}

	res, err := t.submit(iouring.Send(t.fd, buf, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL), "write")
	if err == nil && refusedDatagram(t.network, res.err) {
		// The pending error was consumed; this datagram was not sent.
		res, err = t.submit(iouring.Send(t.fd, buf, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL), "write")
	}
	if err != nil {
		return 0, err
	}
	return sendResult(res.n, res.err)
}

// Recv submits a single non-blocking receive.
func (t *UringSocket) Recv(buf []byte) (int, error) {
	if t.state == StatePeerClosed {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed by peer", nil)
	}
	if t.fd < 0 || t.state != StateOpen {
		return 0, notOpenError("recv")
	}

	res, err := t.submit(iouring.Recv(t.fd, buf, unix.MSG_DONTWAIT), "read")
	if err != nil {
		return 0, err
	}
	n, closed, err := recvResult(t.network, res.n, res.err, len(buf))
	if closed {
		t.state = StatePeerClosed
	}
	return n, err
}

type uringResult struct {
	n   int
	err error
}

// submit queues req and waits for its completion, which is immediate for
// MSG_DONTWAIT operations.
func (t *UringSocket) submit(req iouring.PrepRequest, op string) (uringResult, error) {
	ch := make(chan iouring.Result, 1)
	if _, err := t.iour.SubmitRequest(req, ch); err != nil {
		return uringResult{}, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to submit "+op+" request",
			err,
		)
	}

	result := <-ch
	n, err := result.ReturnInt()
	return uringResult{n: n, err: err}, nil
}

// Close closes the connection
func (t *UringSocket) Close() error {
	t.state = StateClosed
	if t.fd < 0 {
		return nil // Already closed or never connected
	}

	err := unix.Close(t.fd)
	t.fd = -1
	if err != nil {
		return errors.NewTransportError(
			errors.TransportErrorSocketCloseFailure,
			"failed to close socket",
			err,
		)
	}
	return nil
}

// Destroy cleans up resources including the io_uring instance
func (t *UringSocket) Destroy() {
	t.Close()
	if t.iour != nil {
		t.iour.Close()
		t.iour = nil
	}
}
