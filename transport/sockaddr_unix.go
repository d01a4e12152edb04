//go:build unix

package transport

import (
	stderrors "errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/nczempin/httpc-embedded/errors"
)

// Network selects the socket type of the raw-fd sockets.
type Network uint8

const (
	NetworkTCP Network = iota
	NetworkUDP
)

func (n Network) String() string {
	if n == NetworkUDP {
		return "udp4"
	}
	return "tcp4"
}

func (n Network) sockType() int {
	if n == NetworkUDP {
		return unix.SOCK_DGRAM
	}
	return unix.SOCK_STREAM
}

func sockaddr(ep Endpoint) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(ep.Port), Addr: ep.Addr.As4()}
}

// newSocketFD creates a socket for network. TCP sockets get TCP_NODELAY so
// small request writes leave immediately.
func newSocketFD(network Network) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, network.sockType()|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to create socket",
			err,
		)
	}

	if network == NetworkTCP {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			unix.Close(fd)
			return -1, errors.NewTransportError(
				errors.TransportErrorSocketCreateFailure,
				"failed to set TCP_NODELAY",
				err,
			)
		}
	}
	return fd, nil
}

// connectError classifies a failed connect.
func connectError(ep Endpoint, err error) *errors.Error {
	msg := fmt.Sprintf("failed to connect to %s", ep)
	switch {
	case stderrors.Is(err, unix.ECONNREFUSED):
		return errors.NewTransportError(errors.TransportErrorConnectionRefused, msg, err)
	case stderrors.Is(err, unix.ETIMEDOUT), stderrors.Is(err, unix.EINPROGRESS),
		stderrors.Is(err, unix.EAGAIN), isTimeout(err):
		return errors.NewTransportError(errors.TransportErrorTimeout, msg, err)
	default:
		return errors.NewTransportError(errors.TransportErrorSocketConnectFailure, msg, err)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return stderrors.As(err, &te) && te.Timeout()
}

// wouldBlock reports whether err means the operation found nothing to do.
func wouldBlock(err error) bool {
	return stderrors.Is(err, unix.EAGAIN) || stderrors.Is(err, unix.EWOULDBLOCK)
}

// refusedDatagram reports whether err is an ICMP port-unreachable reported
// on a connected UDP socket. It refers to an earlier datagram and leaves the
// socket usable.
func refusedDatagram(network Network, err error) bool {
	return network == NetworkUDP && stderrors.Is(err, unix.ECONNREFUSED)
}

// isReset reports whether err means the peer tore the connection down.
func isReset(err error) bool {
	return stderrors.Is(err, unix.ECONNRESET) || stderrors.Is(err, unix.EPIPE)
}

// recvResult maps the outcome of a non-blocking receive onto the Socket
// contract. peerClosed is true only when the stream reached an orderly EOF;
// a reset is reported as ConnectionReset and is not a peer close.
func recvResult(network Network, n int, err error, bufLen int) (int, bool, error) {
	switch {
	case err != nil && (wouldBlock(err) || refusedDatagram(network, err)):
		return 0, false, nil
	case err != nil && isReset(err):
		return 0, false, errors.NewTransportError(
			errors.TransportErrorConnectionReset,
			"connection reset by peer",
			err,
		)
	case err != nil:
		return 0, false, errors.NewTransportError(
			errors.TransportErrorSocketReadFailure,
			"read failed",
			err,
		)
	case n == 0 && bufLen > 0 && network == NetworkTCP:
		return 0, true, errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"connection closed by peer",
			nil,
		)
	}
	return n, false, nil
}

// sendResult maps the outcome of a non-blocking send onto the Socket contract.
func sendResult(n int, err error) (int, error) {
	switch {
	case err != nil && wouldBlock(err):
		return 0, nil
	case err != nil && isReset(err):
		return 0, errors.NewTransportError(
			errors.TransportErrorConnectionReset,
			"connection reset during write",
			err,
		)
	case err != nil:
		return 0, errors.NewTransportError(
			errors.TransportErrorSocketWriteFailure,
			"write failed",
			err,
		)
	}
	return n, nil
}

func notOpenError(op string) *errors.Error {
	return errors.NewTransportError(errors.TransportErrorNotOpen, op+": not connected", nil)
}
