//go:build unix && !linux

package driver

import (
	"fmt"
	"time"

	"github.com/nczempin/httpc-embedded/transport"
)

func newSocket(kind TransportKind, udp bool, connectTimeout time.Duration) (transport.Socket, func(), error) {
	if kind != TransportNet && kind != "" {
		return nil, nil, fmt.Errorf("transport %q requires linux", kind)
	}
	var s *transport.NetSocket
	if udp {
		s = transport.NewUDPSocket()
	} else {
		s = transport.NewTCPSocket(connectTimeout)
	}
	return s, func() { s.Close() }, nil
}
