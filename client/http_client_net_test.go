//go:build unix

package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/nczempin/httpc-embedded/errors"
	"github.com/nczempin/httpc-embedded/protocol"
	"github.com/nczempin/httpc-embedded/transport"
)

// setupTestServer creates a simple HTTP test server
func setupTestServer(t *testing.T, handler func(net.Conn)) (transport.Endpoint, func()) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	addr := listener.Addr().(*net.TCPAddr).AddrPort()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}()

	cleanup := func() {
		listener.Close()
		<-done
	}

	return transport.Endpoint{Addr: addr.Addr().Unmap(), Port: addr.Port()}, cleanup
}

// waitResponse polls c until the response completes or a second passes.
func waitResponse(t *testing.T, c *HttpClient) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !c.ResponseComplete() {
		if time.Now().After(deadline) {
			t.Fatalf("Response not complete, state %v", c.State())
		}
		_, status, err := c.PollReceive()
		if err != nil {
			t.Fatalf("PollReceive failed: %v", err)
		}
		if status == PollIdle {
			time.Sleep(time.Millisecond)
		}
	}
}

func newNetClient(t *testing.T, keepAlive bool) *HttpClient {
	t.Helper()
	c, err := New(transport.NewTCPSocket(time.Second), Config{
		SendBuf:   make([]byte, 1024),
		RecvBuf:   make([]byte, 256),
		HeaderBuf: make([]byte, 1024),
		BodyBuf:   make([]byte, 4096),
		KeepAlive: keepAlive,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestHttpClient_Get(t *testing.T) {
	responseBody := "Hello, World!"
	response := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(responseBody), responseBody)

	ep, cleanup := setupTestServer(t, func(conn net.Conn) {
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil || req.URL.Path != "/test" {
			return
		}
		conn.Write([]byte(response))
	})
	defer cleanup()

	c := newNetClient(t, false)
	defer c.Close()

	if err := c.Connect(ep); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if err := c.SendRequest(&protocol.HttpRequest{Method: protocol.MethodGet, URI: "/test", Host: "localhost"}); err != nil {
		t.Fatalf("GET request failed: %v", err)
	}
	waitResponse(t, c)

	if c.Response().StatusCode() != 200 {
		t.Errorf("Expected status code 200, got %d", c.Response().StatusCode())
	}
	body, err := c.TakeResponseBody()
	if err != nil {
		t.Fatalf("TakeResponseBody failed: %v", err)
	}
	if string(body) != responseBody {
		t.Errorf("Expected body %q, got %q", responseBody, string(body))
	}
}

func TestHttpClient_Post(t *testing.T) {
	received := make(chan string, 1)
	ep, cleanup := setupTestServer(t, func(conn net.Conn) {
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		buf := make([]byte, req.ContentLength)
		if _, err := io.ReadFull(req.Body, buf); err == nil {
			received <- string(buf)
		}
		conn.Write([]byte("HTTP/1.1 201 Created\r\nContent-Length: 7\r\n\r\nCreated"))
	})
	defer cleanup()

	c := newNetClient(t, false)
	defer c.Close()

	if err := c.Connect(ep); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	postBody := []byte("test data")
	err := c.SendRequest(&protocol.HttpRequest{
		Method:      protocol.MethodPost,
		URI:         "/create",
		Host:        "localhost",
		ContentType: "text/plain",
		Body:        postBody,
	})
	if err != nil {
		t.Fatalf("POST request failed: %v", err)
	}
	waitResponse(t, c)

	if c.Response().StatusCode() != 201 {
		t.Errorf("Expected status code 201, got %d", c.Response().StatusCode())
	}
	select {
	case got := <-received:
		if got != string(postBody) {
			t.Errorf("Expected server to receive %q, got %q", postBody, got)
		}
	case <-time.After(time.Second):
		t.Error("Server never received the body")
	}
}

func TestHttpClient_CloseDelimitedBody(t *testing.T) {
	ep, cleanup := setupTestServer(t, func(conn net.Conn) {
		http.ReadRequest(bufio.NewReader(conn))
		conn.Write([]byte("HTTP/1.0 200 OK\r\nContent-Type: text/html\r\n\r\n<html>"))
		time.Sleep(20 * time.Millisecond)
		conn.Write([]byte("</html>"))
		// Closing the connection ends the body.
	})
	defer cleanup()

	c := newNetClient(t, true)
	defer c.Close()

	if err := c.Connect(ep); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if err := c.SendRequest(&protocol.HttpRequest{Method: protocol.MethodGet, URI: "/", Host: "localhost"}); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	waitResponse(t, c)

	body, err := c.TakeResponseBody()
	if err != nil {
		t.Fatalf("TakeResponseBody failed: %v", err)
	}
	if string(body) != "<html></html>" {
		t.Errorf("Expected full body, got %q", body)
	}
	if c.State() != StateClosed {
		t.Errorf("Expected state Closed, got %v", c.State())
	}
}

func TestHttpClient_KeepAlive(t *testing.T) {
	ep, cleanup := setupTestServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		for i := 0; i < 2; i++ {
			if _, err := http.ReadRequest(r); err != nil {
				return
			}
			fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\n%d", i)
		}
		r.ReadByte() // Hold the connection until the client hangs up.
	})
	defer cleanup()

	c := newNetClient(t, true)
	defer c.Close()

	if err := c.Connect(ep); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := c.SendRequest(&protocol.HttpRequest{Method: protocol.MethodGet, URI: "/", Host: "localhost"}); err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		waitResponse(t, c)
		body, err := c.TakeResponseBody()
		if err != nil {
			t.Fatalf("Request %d: TakeResponseBody failed: %v", i, err)
		}
		if string(body) != fmt.Sprint(i) {
			t.Errorf("Request %d: expected body %d, got %q", i, i, body)
		}
		if c.State() != StateOpen {
			t.Fatalf("Request %d: expected state Open, got %v", i, c.State())
		}
	}
}

func TestHttpClient_ConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr).AddrPort()
	listener.Close()

	c := newNetClient(t, false)
	err = c.Connect(transport.Endpoint{Addr: addr.Addr().Unmap(), Port: addr.Port()})
	if errors.TypeOf(err) != errors.ErrorConnectionRefused {
		t.Errorf("Expected ConnectionRefused, got %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("Expected state Closed, got %v", c.State())
	}
}

func TestHttpClient_ResetDuringCloseDelimitedBody(t *testing.T) {
	ep, cleanup := setupTestServer(t, func(conn net.Conn) {
		http.ReadRequest(bufio.NewReader(conn))
		conn.Write([]byte("HTTP/1.1 200 OK\r\nConnection: close\r\n\r\npartial"))
		// Linger 0 turns the close into a reset.
		conn.(*net.TCPConn).SetLinger(0)
	})
	defer cleanup()

	c := newNetClient(t, false)
	defer c.Close()

	if err := c.Connect(ep); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if err := c.SendRequest(&protocol.HttpRequest{Method: protocol.MethodGet, URI: "/", Host: "localhost"}); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	var err error
	deadline := time.Now().Add(time.Second)
	for err == nil && !c.ResponseComplete() && time.Now().Before(deadline) {
		var status PollStatus
		_, status, err = c.PollReceive()
		if status == PollIdle && err == nil {
			time.Sleep(time.Millisecond)
		}
	}

	if c.ResponseComplete() {
		t.Fatal("Expected a reset not to complete the response")
	}
	if errors.TypeOf(err) != errors.ErrorTransport || errors.TransportErrorOf(err) != errors.TransportErrorConnectionReset {
		t.Errorf("Expected connection reset transport error, got %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("Expected state Closed, got %v", c.State())
	}
	if _, err := c.TakeResponseBody(); errors.TypeOf(err) != errors.ErrorInvalidState {
		t.Errorf("Expected no body after a reset, got %v", err)
	}
}
