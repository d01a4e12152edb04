package transport

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/nczempin/httpc-embedded/errors"
)

// State is the connection state of a Socket as reported by the socket itself.
type State uint8

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StatePeerClosed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StatePeerClosed:
		return "PeerClosed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Socket is a single TCP or UDP endpoint, modelled after the socket
// registers of an Ethernet offload chip.
type Socket interface {
	// Open connects the socket to ep. For UDP sockets this fixes the peer
	// address used by Send and filters Recv.
	Open(ep Endpoint) error

	// State reports the socket's current connection state.
	State() State

	// Send writes as much of buf as the socket accepts right now.
	// Partial writes are possible; the caller must loop.
	Send(buf []byte) (int, error)

	// Recv reads whatever is queued into buf without blocking.
	// A return of 0, nil means no data right now. End of stream is reported
	// as an error for which errors.IsPeerClosed returns true.
	Recv(buf []byte) (int, error)

	// Close releases the socket. Closing a closed socket is a no-op.
	Close() error
}

// IsOpen reports whether s is connected and usable for I/O.
func IsOpen(s Socket) bool {
	return s.State() == StateOpen
}

// Endpoint is an IPv4 address and port.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// EndpointFrom creates an Endpoint from a 4-byte address and port.
func EndpointFrom(addr [4]byte, port uint16) Endpoint {
	return Endpoint{Addr: netip.AddrFrom4(addr), Port: port}
}

// ParseEndpoint parses "a.b.c.d:port".
func ParseEndpoint(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, errors.Wrap(errors.ErrorInvalidArgument, "parse endpoint "+strconv.Quote(s), err)
	}
	ep := Endpoint{Addr: ap.Addr(), Port: ap.Port()}
	if !ep.IsValid() {
		return Endpoint{}, errors.NewInvalidArgumentError(fmt.Sprintf("endpoint %s is not an IPv4 address and port", s))
	}
	return ep, nil
}

// IsValid reports whether ep holds a non-zero IPv4 address and port.
func (ep Endpoint) IsValid() bool {
	return ep.Addr.Is4() && !ep.Addr.IsUnspecified() && ep.Port != 0
}

// AddrPort returns ep as a netip.AddrPort.
func (ep Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(ep.Addr, ep.Port)
}

func (ep Endpoint) String() string {
	return ep.AddrPort().String()
}
