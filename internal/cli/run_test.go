//go:build unix

package cli

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// startServer answers every connection with one fixed response.
func startServer(t *testing.T, response string) (addr string, port string) {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			if _, err := http.ReadRequest(bufio.NewReader(conn)); err == nil {
				conn.Write([]byte(response))
			}
			conn.Close()
		}
	}()
	t.Cleanup(func() {
		listener.Close()
		<-done
	})

	ap := listener.Addr().(*net.TCPAddr).AddrPort()
	return ap.Addr().String(), strconv.Itoa(int(ap.Port()))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunCommand_TextSink(t *testing.T) {
	addr, port := startServer(t, "HTTP/1.1 200 OK\r\nContent-Length: 6\r\n\r\nW5500!")

	out, err := execute(t, "run", "--addr", addr, "--port", port, "--sink", "text", "--interval", "0")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := " >> HTTP Response - Received len: 6\r\n" +
		strings.Repeat("=", 54) + "\r\nW5500!\r\n" +
		strings.Repeat("=", 54) + "\r\n"
	if !strings.Contains(out, want) {
		t.Errorf("expected framed body in output, got %q", out)
	}
}

func TestRunCommand_SQLiteAndHistory(t *testing.T) {
	addr, port := startServer(t, "HTTP/1.1 404 Not Found\r\nContent-Length: 4\r\n\r\nnope")
	dbPath := filepath.Join(t.TempDir(), "responses.db")

	_, err := execute(t, "run", "--host", "stored.test", "--addr", addr, "--port", port,
		"--sink", "sqlite", "--output", dbPath, "-n", "2", "--interval", "0")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	t.Cleanup(func() {
		rootCmd.PersistentFlags().Set("sink", "text")
		rootCmd.PersistentFlags().Set("host", "www.google.com")
		runCmd.Flags().Set("count", "1")
	})

	out, err := execute(t, "history", "--host", "stored.test", "--output", dbPath)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 history lines, got %q", out)
	}
	for _, line := range lines {
		if !strings.Contains(line, "GET stored.test/") || !strings.Contains(line, "404") {
			t.Errorf("unexpected history line %q", line)
		}
	}
}
