//go:build linux

package driver

import (
	"fmt"
	"time"

	"github.com/nczempin/httpc-embedded/transport"
)

// newSocket creates a TCP or UDP socket of the given kind. release frees it,
// including any io_uring instance behind it.
func newSocket(kind TransportKind, udp bool, connectTimeout time.Duration) (transport.Socket, func(), error) {
	network := transport.NetworkTCP
	if udp {
		network = transport.NetworkUDP
	}
	switch kind {
	case TransportNet, "":
		var s *transport.NetSocket
		if udp {
			s = transport.NewUDPSocket()
		} else {
			s = transport.NewTCPSocket(connectTimeout)
		}
		return s, func() { s.Close() }, nil
	case TransportIOURing:
		s, err := transport.NewUringSocket(network, connectTimeout)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Destroy, nil
	case TransportURing:
		s, err := transport.NewRingSocket(network, connectTimeout)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Destroy, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", kind)
	}
}
