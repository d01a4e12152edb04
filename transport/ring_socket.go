//go:build linux

package transport

import (
	"time"

	"github.com/godzie44/go-uring/uring"
	"golang.org/x/sys/unix"

	"github.com/nczempin/httpc-embedded/errors"
)

// RingSocket implements Socket using godzie44/go-uring. The connect is a
// plain blocking connect bounded by SO_SNDTIMEO; data transfer goes through
// the ring on a non-blocking descriptor.
type RingSocket struct {
	network        Network
	connectTimeout time.Duration
	ring           *uring.Ring
	fd             int
	state          State
}

var _ Socket = (*RingSocket)(nil)

// NewRingSocket creates a socket with its own io_uring instance.
func NewRingSocket(network Network, connectTimeout time.Duration) (*RingSocket, error) {
	// Create io_uring instance with queue depth of 32
	ring, err := uring.New(32)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}

	return &RingSocket{
		network:        network,
		connectTimeout: connectTimeout,
		ring:           ring,
		fd:             -1,
	}, nil
}

// Open establishes a connection
func (t *RingSocket) Open(ep Endpoint) error {
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

	if t.connectTimeout > 0 {
		tv := unix.NsecToTimeval(t.connectTimeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
			unix.Close(fd)
			return errors.NewTransportError(
				errors.TransportErrorSocketCreateFailure,
				"failed to set connect timeout",
				err,
			)
		}
	}

	t.state = StateOpening
	if err := unix.Connect(fd, sockaddr(ep)); err != nil {
		unix.Close(fd)
		t.state = StateClosed
		return connectError(ep, err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		t.state = StateClosed
		return errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to set non-blocking mode",
			err,
		)
	}

	t.fd = fd
	t.state = StateOpen
	return nil
}

// State reports the socket state.
func (t *RingSocket) State() State {
	return t.state
}

// Send writes through the ring.
func (t *RingSocket) Send(buf []byte) (int, error) {
	if t.fd < 0 || t.state != StateOpen {
		return 0, notOpenError("send")
	}

	res, cqeErr, err := t.do(uring.Write(uintptr(t.fd), buf, 0), "write")
	if err == nil && refusedDatagram(t.network, cqeErr) {
		// The pending error was consumed; this datagram was not sent.
		res, cqeErr, err = t.do(uring.Write(uintptr(t.fd), buf, 0), "write")
	}
	if err != nil {
		return 0, err
	}
	return sendResult(res, cqeErr)
}

// Recv reads through the ring.
func (t *RingSocket) Recv(buf []byte) (int, error) {
	if t.state == StatePeerClosed {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed by peer", nil)
	}
	if t.fd < 0 || t.state != StateOpen {
		return 0, notOpenError("recv")
	}

	res, cqeErr, err := t.do(uring.Read(uintptr(t.fd), buf, 0), "read")
	if err != nil {
		return 0, err
	}
	n, closed, err := recvResult(t.network, res, cqeErr, len(buf))
	if closed {
		t.state = StatePeerClosed
	}
	return n, err
}

// do queues op, submits it and reaps its completion. The returned cqeErr is
// the operation's own result; err reports ring failures.
func (t *RingSocket) do(op uring.Operation, name string) (res int, cqeErr error, err error) {
	if err := t.ring.QueueSQE(op, 0, 0); err != nil {
		return 0, nil, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to queue "+name+" request",
			err,
		)
	}

	// Submit and wait
	if _, err := t.ring.Submit(); err != nil {
		return 0, nil, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to submit "+name+" request",
			err,
		)
	}

	cqe, err := t.ring.WaitCQEvents(1)
	if err != nil {
		return 0, nil, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to wait for "+name+" completion",
			err,
		)
	}

	cqeErr = cqe.Error()
	res = int(cqe.Res)
	t.ring.SeenCQE(cqe)
	return res, cqeErr, nil
}

// Close closes the connection
func (t *RingSocket) Close() error {
	t.state = StateClosed
	if t.fd < 0 {
		return nil
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
func (t *RingSocket) Destroy() {
	t.Close()
	if t.ring != nil {
		t.ring.Close()
		t.ring = nil
	}
}
