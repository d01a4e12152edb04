// Package dns resolves hostnames to IPv4 addresses over a single UDP
// transport.Socket.
//
// A Resolver is driven by polling: StartResolve sends the first query and
// Poll is called repeatedly until it reports done. Resolve wraps both for
// callers that can afford to block.
package dns

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/nczempin/httpc-embedded/errors"
	"github.com/nczempin/httpc-embedded/transport"
)

// Config configures a Resolver.
type Config struct {
	// Server is the DNS server queried, usually port 53.
	Server transport.Endpoint
	// MaxRetries is how many times a query is re-sent after a timeout.
	// A resolution makes at most MaxRetries+1 attempts.
	MaxRetries uint8
	// Timeout is how long each attempt waits for a reply.
	Timeout time.Duration
	// Now is the monotonic clock used for deadlines. Defaults to time.Now.
	Now func() time.Time
	// Seed initializes the transaction ID generator. Zero picks a
	// time-derived seed.
	Seed uint32
	// Buf holds outgoing queries and incoming replies. It must be at least
	// MinBufSize long; nil allocates one.
	Buf []byte
}

// Query is the state of an outstanding resolution.
type Query struct {
	TransactionID uint16
	Hostname      string
	RetriesUsed   uint8
	Deadline      time.Time
}

// Resolver performs one resolution at a time over sock. While a resolution
// is in progress the resolver owns the socket; it opens it in StartResolve
// and closes it once the resolution ends.
type Resolver struct {
	sock   transport.Socket
	cfg    Config
	query  Query
	active bool
	prng   uint32
}

// NewResolver creates a resolver that queries cfg.Server over sock.
func NewResolver(sock transport.Socket, cfg Config) (*Resolver, error) {
	if sock == nil {
		return nil, errors.NewInvalidArgumentError("nil socket")
	}
	if !cfg.Server.IsValid() {
		return nil, errors.NewInvalidArgumentError("invalid DNS server " + cfg.Server.String())
	}
	if cfg.Timeout <= 0 {
		return nil, errors.NewInvalidArgumentError("timeout must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Buf == nil {
		cfg.Buf = make([]byte, MinBufSize)
	} else if len(cfg.Buf) < MinBufSize {
		return nil, errors.NewInvalidArgumentError(fmt.Sprintf("buffer of %d bytes is smaller than %d", len(cfg.Buf), MinBufSize))
	}
	seed := cfg.Seed
	if seed == 0 {
		now := time.Now().UnixNano()
		seed = uint32(now) ^ uint32(now>>32) | 1
	}
	return &Resolver{sock: sock, cfg: cfg, prng: seed}, nil
}

// StartResolve opens the socket and sends the first query for hostname.
func (r *Resolver) StartResolve(hostname string) error {
	if r.active {
		return errors.New(errors.ErrorInvalidState, "resolution of "+r.query.Hostname+" in progress")
	}
	// Reject bad names before touching the socket.
	if _, err := appendQuery(r.cfg.Buf, 0, hostname); err != nil {
		return err
	}
	if err := r.sock.Open(r.cfg.Server); err != nil {
		return err
	}

	r.query = Query{Hostname: hostname}
	r.active = true
	if err := r.send(); err != nil {
		r.finish()
		return err
	}
	return nil
}

// Poll checks for a reply without blocking. done is false while the
// resolution is still waiting; once done is true the resolution is over and
// either addr or err is set.
func (r *Resolver) Poll() (addr netip.Addr, done bool, err error) {
	if !r.active {
		return netip.Addr{}, false, errors.New(errors.ErrorInvalidState, "no resolution in progress")
	}

	for {
		n, err := r.sock.Recv(r.cfg.Buf)
		if err != nil {
			r.finish()
			return netip.Addr{}, true, err
		}
		if n == 0 {
			break
		}
		addr, accepted, err := r.handleReply(r.cfg.Buf[:n])
		if !accepted {
			continue // Stale or foreign datagram.
		}
		r.finish()
		return addr, true, err
	}

	if r.cfg.Now().Before(r.query.Deadline) {
		return netip.Addr{}, false, nil
	}
	if r.query.RetriesUsed >= r.cfg.MaxRetries {
		host, attempts := r.query.Hostname, int(r.query.RetriesUsed)+1
		r.finish()
		return netip.Addr{}, true, errors.New(errors.ErrorDnsTimeout,
			fmt.Sprintf("no reply for %s after %d attempts", host, attempts))
	}
	r.query.RetriesUsed++
	if err := r.send(); err != nil {
		r.finish()
		return netip.Addr{}, true, err
	}
	return netip.Addr{}, false, nil
}

// Query returns the outstanding query, if any.
func (r *Resolver) Query() (Query, bool) {
	return r.query, r.active
}

// Abort cancels an outstanding resolution and releases the socket.
func (r *Resolver) Abort() {
	if r.active {
		r.finish()
	}
}

// Resolve looks up hostname, blocking until a reply arrives, the retries are
// exhausted or ctx is done. IPv4 literals are returned without a query.
func (r *Resolver) Resolve(ctx context.Context, hostname string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(hostname); err == nil && addr.Is4() {
		return addr, nil
	}
	if err := r.StartResolve(hostname); err != nil {
		return netip.Addr{}, err
	}

	sleep := r.cfg.Timeout / 100
	if sleep < time.Millisecond {
		sleep = time.Millisecond
	}
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	for {
		addr, done, err := r.Poll()
		if done {
			return addr, err
		}
		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			r.Abort()
			return netip.Addr{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Resolve looks up hostname on server over sock, making at most
// maxRetries+1 attempts of timeout each.
func Resolve(ctx context.Context, sock transport.Socket, server transport.Endpoint, hostname string, maxRetries uint8, timeout time.Duration) (netip.Addr, error) {
	r, err := NewResolver(sock, Config{
		Server:     server,
		MaxRetries: maxRetries,
		Timeout:    timeout,
	})
	if err != nil {
		return netip.Addr{}, err
	}
	return r.Resolve(ctx, hostname)
}

// send transmits a query with a fresh transaction ID and arms the deadline.
func (r *Resolver) send() error {
	id := r.nextID()
	msg, err := appendQuery(r.cfg.Buf, id, r.query.Hostname)
	if err != nil {
		return err
	}
	n, err := r.sock.Send(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return errors.NewTransportError(errors.TransportErrorSocketWriteFailure,
			fmt.Sprintf("partial datagram write: %d/%d bytes", n, len(msg)), nil)
	}
	r.query.TransactionID = id
	r.query.Deadline = r.cfg.Now().Add(r.cfg.Timeout)
	return nil
}

// handleReply reports whether msg answers the outstanding query and, if so,
// the outcome.
func (r *Resolver) handleReply(msg []byte) (netip.Addr, bool, error) {
	rep, matched, err := parseReply(msg, r.query.TransactionID)
	if !matched {
		return netip.Addr{}, false, nil
	}
	if err != nil {
		return netip.Addr{}, true, err
	}
	switch {
	case rep.rcode != 0:
		return netip.Addr{}, true, errors.New(errors.ErrorDnsNameError,
			fmt.Sprintf("%s: server answered %v", r.query.Hostname, rep.rcode))
	case rep.addr.IsValid():
		return rep.addr, true, nil
	case rep.truncated:
		return netip.Addr{}, true, errors.New(errors.ErrorDnsMalformedResponse,
			"truncated reply without A record for "+r.query.Hostname)
	default:
		return netip.Addr{}, true, errors.New(errors.ErrorDnsNameError,
			"no A record for "+r.query.Hostname)
	}
}

func (r *Resolver) finish() {
	r.active = false
	r.query = Query{}
	r.sock.Close()
}

// nextID advances the xorshift generator and returns a transaction ID.
func (r *Resolver) nextID() uint16 {
	/* Algorithm "xor" from p. 4 of Marsaglia, "Xorshift RNGs" */
	seed := r.prng
	seed ^= seed << 13
	seed ^= seed >> 17
	seed ^= seed << 5
	r.prng = seed
	return uint16(seed>>16) ^ uint16(seed)
}
