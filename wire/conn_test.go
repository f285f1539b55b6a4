package wire

import (
	"bufio"
	"net"
	"testing"
	"time"
)

func pipePair(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return NewConn(server, nil), client
}

func TestReadRequestLine(t *testing.T) {
	conn, client := pipePair(t)

	go func() {
		client.Write([]byte("GET /users/42 HTTP/1.1\r\n"))
	}()

	method, path, proto, err := conn.ReadRequestLine()
	if err != nil {
		t.Fatalf("ReadRequestLine: %v", err)
	}
	if method != "GET" || path != "/users/42" || proto != "HTTP/1.1" {
		t.Fatalf("unexpected parse: %q %q %q", method, path, proto)
	}
}

func TestReadHeadersAndBody(t *testing.T) {
	conn, client := pipePair(t)

	go func() {
		client.Write([]byte("POST /submit HTTP/1.1\r\n"))
		client.Write([]byte("Host: example.com\r\n"))
		client.Write([]byte("Content-Length: 5\r\n"))
		client.Write([]byte("\r\n"))
		client.Write([]byte("hello"))
	}()

	if _, _, _, err := conn.ReadRequestLine(); err != nil {
		t.Fatalf("ReadRequestLine: %v", err)
	}
	header, err := conn.ReadHeaders()
	if err != nil {
		t.Fatalf("ReadHeaders: %v", err)
	}
	if header.Get("Host") != "example.com" {
		t.Fatalf("expected Host header, got %v", header)
	}
	if conn.ContentLength() != 5 {
		t.Fatalf("expected content length 5, got %d", conn.ContentLength())
	}

	var body []byte
	for {
		chunk, done, err := conn.ReadBodyChunk(16)
		if err != nil {
			t.Fatalf("ReadBodyChunk: %v", err)
		}
		body = append(body, chunk...)
		if done {
			break
		}
	}
	if string(body) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", body)
	}
}

func TestReadHeadersRejectsChunked(t *testing.T) {
	conn, client := pipePair(t)

	go func() {
		client.Write([]byte("POST /submit HTTP/1.1\r\n"))
		client.Write([]byte("Transfer-Encoding: chunked\r\n"))
		client.Write([]byte("\r\n"))
	}()

	if _, _, _, err := conn.ReadRequestLine(); err != nil {
		t.Fatalf("ReadRequestLine: %v", err)
	}
	if _, err := conn.ReadHeaders(); err != ErrChunkedUnsupported {
		t.Fatalf("expected ErrChunkedUnsupported, got %v", err)
	}
}

func TestReadHeadersDropsInvalidFieldName(t *testing.T) {
	conn, client := pipePair(t)

	go func() {
		client.Write([]byte("GET / HTTP/1.1\r\n"))
		client.Write([]byte("Bad Header: value\r\n"))
		client.Write([]byte("X-Good: ok\r\n"))
		client.Write([]byte("\r\n"))
	}()

	if _, _, _, err := conn.ReadRequestLine(); err != nil {
		t.Fatalf("ReadRequestLine: %v", err)
	}
	header, err := conn.ReadHeaders()
	if err != nil {
		t.Fatalf("ReadHeaders: %v", err)
	}
	if header.Get("Bad Header") != "" {
		t.Fatal("expected invalid header name to be dropped")
	}
	if header.Get("X-Good") != "ok" {
		t.Fatal("expected valid header to survive")
	}
}

func TestRebindReusesBuffer(t *testing.T) {
	server1, client1 := net.Pipe()
	defer server1.Close()
	defer client1.Close()

	conn := NewConn(server1, nil)
	go client1.Write([]byte("GET /first HTTP/1.1\r\n"))
	if _, path, _, err := conn.ReadRequestLine(); err != nil || path != "/first" {
		t.Fatalf("ReadRequestLine: path=%q err=%v", path, err)
	}

	conn.Reset()
	if conn.Raw() != nil {
		t.Fatal("expected Reset to clear the underlying connection")
	}

	server2, client2 := net.Pipe()
	defer server2.Close()
	defer client2.Close()

	conn.Rebind(server2)
	go client2.Write([]byte("GET /second HTTP/1.1\r\n"))
	if _, path, _, err := conn.ReadRequestLine(); err != nil || path != "/second" {
		t.Fatalf("ReadRequestLine after Rebind: path=%q err=%v", path, err)
	}
}

func TestWriteResponse(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConn(server, nil)
	header := map[string][]string{"Content-Type": {"text/plain"}}

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.WriteResponse(200, header, []byte("hi"))
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if line != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("unexpected status line: %q", line)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
}
