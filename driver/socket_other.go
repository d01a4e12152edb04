//go:build !unix

package driver

import (
	"fmt"
	"runtime"
	"time"

	"github.com/nczempin/httpc-embedded/transport"
)

func newSocket(kind TransportKind, udp bool, connectTimeout time.Duration) (transport.Socket, func(), error) {
	return nil, nil, fmt.Errorf("no %q sockets on %s", kind, runtime.GOOS)
}
