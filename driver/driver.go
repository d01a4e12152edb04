// Package driver runs the request loop: it resolves the target once, then
// drives the HTTP client through repeated request/response cycles and hands
// each completed response to a sink.
package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nczempin/httpc-embedded/client"
	"github.com/nczempin/httpc-embedded/dns"
	"github.com/nczempin/httpc-embedded/errors"
	"github.com/nczempin/httpc-embedded/protocol"
	"github.com/nczempin/httpc-embedded/sink"
	"github.com/nczempin/httpc-embedded/transport"
)

// backoffMax caps the sleep between polls that made no progress.
const backoffMax = 50 * time.Millisecond

// TransportKind selects the socket implementation.
type TransportKind string

const (
	TransportNet     TransportKind = "net"
	TransportIOURing TransportKind = "iouring"
	TransportURing   TransportKind = "uring"
)

// Config holds the driver settings.
type Config struct {
	Host        string   // Target domain, sent as the Host header.
	Addr        string   // Target IPv4 address. Skips DNS when set.
	Port        uint16
	URI         string
	Method      string
	Body        string
	ContentType string
	Headers     []string // "Key: Value"

	DNSServer       string        // "a.b.c.d" or "a.b.c.d:port"
	DNSRetries      uint8         // Retries inside one resolution.
	DNSTimeout      time.Duration // Per attempt.
	ResolveAttempts int           // Resolutions tried before giving up.
	ResolveDelay    time.Duration // Wait between resolutions.

	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration

	SendBufSize   int
	RecvBufSize   int
	HeaderBufSize int
	BodyBufSize   int

	KeepAlive bool
	Count     int           // Request cycles to run. 0 runs until ctx is done.
	Interval  time.Duration // Minimum spacing between cycles.

	Transport TransportKind
}

// DefaultConfig returns a configuration matching the reference board setup:
// 2 KiB buffers, 8.8.8.8 as resolver, one request per second.
func DefaultConfig() *Config {
	return &Config{
		Host:            "www.google.com",
		Port:            80,
		URI:             "/",
		Method:          "GET",
		DNSServer:       "8.8.8.8",
		DNSRetries:      2,
		DNSTimeout:      2 * time.Second,
		ResolveAttempts: 6,
		ResolveDelay:    time.Second,
		ConnectTimeout:  5 * time.Second,
		ResponseTimeout: 10 * time.Second,
		SendBufSize:     2048,
		RecvBufSize:     2048,
		HeaderBufSize:   2048,
		BodyBufSize:     16 * 1024,
		Count:           1,
		Interval:        time.Second,
		Transport:       TransportNet,
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Host == "" && c.Addr == "" {
		return fmt.Errorf("driver: a target host or address is required")
	}
	if c.Addr != "" {
		if _, err := parseIPv4(c.Addr); err != nil {
			return fmt.Errorf("driver: target address: %w", err)
		}
	} else if _, err := parseDNSServer(c.DNSServer); err != nil {
		return fmt.Errorf("driver: dns server: %w", err)
	}
	if c.Port == 0 {
		return fmt.Errorf("driver: port must be non-zero")
	}
	if _, err := protocol.ParseMethod(c.Method); err != nil {
		return fmt.Errorf("driver: %w", err)
	}
	if _, err := parseHeaders(c.Headers); err != nil {
		return fmt.Errorf("driver: %w", err)
	}
	if c.DNSTimeout <= 0 || c.ConnectTimeout <= 0 || c.ResponseTimeout <= 0 {
		return fmt.Errorf("driver: timeouts must be positive")
	}
	if c.ResolveAttempts < 1 {
		return fmt.Errorf("driver: resolve attempts must be at least 1")
	}
	if c.SendBufSize <= 0 || c.RecvBufSize <= 0 || c.HeaderBufSize <= 0 {
		return fmt.Errorf("driver: send, recv and header buffers must be non-empty")
	}
	if c.BodyBufSize < 0 || c.Count < 0 || c.Interval < 0 {
		return fmt.Errorf("driver: negative body buffer, count or interval")
	}
	switch c.Transport {
	case TransportNet, TransportIOURing, TransportURing:
	default:
		return fmt.Errorf("driver: unknown transport %q", c.Transport)
	}
	return nil
}

// Stats summarizes a run.
type Stats struct {
	Sent      int
	Completed int
	Failed    int
}

// Driver owns the client, its buffers and the sockets for one target.
type Driver struct {
	cfg    *Config
	logger *slog.Logger
	sink   sink.Sink
	now    func() time.Time
}

// New creates a driver. A nil logger discards log output.
func New(cfg *Config, logger *slog.Logger, s sink.Sink) (*Driver, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("driver: sink is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return &Driver{cfg: cfg, logger: logger, sink: s, now: time.Now}, nil
}

// Run resolves the target and runs the configured number of request cycles.
// A failed cycle is logged and the loop carries on; Run reports the last
// cycle error once the loop ends.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	addr, err := d.resolveTarget(ctx)
	if err != nil {
		return stats, err
	}
	ep := transport.Endpoint{Addr: addr, Port: d.cfg.Port}

	sock, release, err := newSocket(d.cfg.Transport, false, d.cfg.ConnectTimeout)
	if err != nil {
		return stats, fmt.Errorf("driver: create socket: %w", err)
	}
	defer release()

	c, err := client.New(sock, client.Config{
		SendBuf:   make([]byte, d.cfg.SendBufSize),
		RecvBuf:   make([]byte, d.cfg.RecvBufSize),
		HeaderBuf: make([]byte, d.cfg.HeaderBufSize),
		BodyBuf:   make([]byte, d.cfg.BodyBufSize),
		KeepAlive: d.cfg.KeepAlive,
		Now:       d.now,
	})
	if err != nil {
		return stats, fmt.Errorf("driver: create client: %w", err)
	}
	defer c.Close()

	req, err := d.request()
	if err != nil {
		return stats, err
	}

	var limiter *rate.Limiter
	if d.cfg.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(d.cfg.Interval), 1)
	}

	var lastErr error
	for i := 0; d.cfg.Count == 0 || i < d.cfg.Count; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return stats, err
			}
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.Sent++
		if err := d.cycle(ctx, c, ep, req); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			lastErr = err
			d.logger.LogAttrs(ctx, slog.LevelError, "request failed",
				slog.Int("cycle", i),
				slog.String("kind", errors.TypeOf(err).String()),
				slog.String("err", err.Error()))
			continue
		}
		stats.Completed++
	}

	if lastErr != nil {
		return stats, fmt.Errorf("driver: %d of %d requests failed: %w", stats.Failed, stats.Sent, lastErr)
	}
	return stats, nil
}

// resolveTarget returns the configured address, or resolves the host,
// retrying whole resolutions up to ResolveAttempts times.
func (d *Driver) resolveTarget(ctx context.Context) (netip.Addr, error) {
	if d.cfg.Addr != "" {
		return parseIPv4(d.cfg.Addr)
	}
	server, err := parseDNSServer(d.cfg.DNSServer)
	if err != nil {
		return netip.Addr{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.ResolveAttempts; attempt++ {
		addr, err := d.resolveOnce(ctx, server)
		if err == nil {
			d.logger.Info("dns success",
				slog.String("host", d.cfg.Host),
				slog.String("addr", addr.String()))
			return addr, nil
		}
		if ctx.Err() != nil {
			return netip.Addr{}, ctx.Err()
		}
		lastErr = err
		d.logger.Warn("dns failed",
			slog.Int("attempt", attempt),
			slog.String("kind", errors.TypeOf(err).String()),
			slog.String("err", err.Error()))
		if attempt == d.cfg.ResolveAttempts {
			break
		}
		if err := sleepCtx(ctx, d.cfg.ResolveDelay); err != nil {
			return netip.Addr{}, err
		}
	}
	return netip.Addr{}, fmt.Errorf("driver: resolve %s: %w", d.cfg.Host, lastErr)
}

func (d *Driver) resolveOnce(ctx context.Context, server transport.Endpoint) (netip.Addr, error) {
	sock, release, err := newSocket(d.cfg.Transport, true, d.cfg.ConnectTimeout)
	if err != nil {
		return netip.Addr{}, err
	}
	defer release()
	return dns.Resolve(ctx, sock, server, d.cfg.Host, d.cfg.DNSRetries, d.cfg.DNSTimeout)
}

func (d *Driver) request() (*protocol.HttpRequest, error) {
	method, err := protocol.ParseMethod(d.cfg.Method)
	if err != nil {
		return nil, err
	}
	headers, err := parseHeaders(d.cfg.Headers)
	if err != nil {
		return nil, err
	}
	host := d.cfg.Host
	if host == "" {
		host = d.cfg.Addr
	}
	return &protocol.HttpRequest{
		Method:      method,
		URI:         d.cfg.URI,
		Host:        host,
		ContentType: d.cfg.ContentType,
		Headers:     headers,
		Body:        []byte(d.cfg.Body),
	}, nil
}

// cycle runs one connect/send/receive round and writes the response to the
// sink.
func (d *Driver) cycle(ctx context.Context, c *client.HttpClient, ep transport.Endpoint, req *protocol.HttpRequest) error {
	start := d.now()

	if c.State() == client.StateClosed || c.ConnState() != transport.StateOpen {
		if err := c.Connect(ep); err != nil {
			return err
		}
		d.logger.Debug("connected", slog.String("endpoint", ep.String()))
	}
	if err := c.SendRequest(req); err != nil {
		return err
	}

	if err := d.awaitResponse(ctx, c); err != nil {
		return err
	}

	resp := c.Response().Copy()
	if _, err := c.TakeResponseBody(); err != nil {
		return err
	}

	rec := &sink.Record{
		Host:       req.Host,
		Endpoint:   ep.String(),
		Method:     req.Method.String(),
		URI:        req.URI,
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
		Elapsed:    d.now().Sub(start),
		ReceivedAt: d.now(),
	}
	d.logger.Info("response",
		slog.Int("status", rec.StatusCode),
		slog.Int("len", len(rec.Body)),
		slog.Duration("elapsed", rec.Elapsed))
	if err := d.sink.Write(ctx, rec); err != nil {
		return fmt.Errorf("driver: sink: %w", err)
	}
	return nil
}

// awaitResponse polls c until the response completes, backing off
// exponentially while nothing arrives.
func (d *Driver) awaitResponse(ctx context.Context, c *client.HttpClient) error {
	deadline := d.now().Add(d.cfg.ResponseTimeout)
	stalled := 0
	for !c.ResponseComplete() {
		n, status, err := c.PollReceive()
		if err != nil {
			return err
		}
		if n > 0 || status != client.PollIdle {
			stalled = 0
			continue
		}
		if d.now().After(deadline) {
			c.Close()
			return errors.NewTransportError(errors.TransportErrorTimeout,
				fmt.Sprintf("no response within %s", d.cfg.ResponseTimeout), nil)
		}
		stalled++
		if err := sleepCtx(ctx, backoff(stalled)); err != nil {
			c.Close()
			return err
		}
	}
	return nil
}

func backoff(stalled int) time.Duration {
	if stalled > 16 {
		return backoffMax
	}
	sleep := time.Microsecond << stalled
	if sleep > backoffMax {
		sleep = backoffMax
	}
	return sleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%s is not an IPv4 address", s)
	}
	return addr, nil
}

func parseDNSServer(s string) (transport.Endpoint, error) {
	if !strings.Contains(s, ":") {
		s = fmt.Sprintf("%s:%d", s, dns.ServerPort)
	}
	return transport.ParseEndpoint(s)
}

func parseHeaders(raw []string) ([]protocol.HttpHeader, error) {
	headers := make([]protocol.HttpHeader, 0, len(raw))
	for _, h := range raw {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("header %q is not in \"Key: Value\" form", h)
		}
		headers = append(headers, protocol.HttpHeader{Key: key, Value: strings.TrimSpace(value)})
	}
	return headers, nil
}
