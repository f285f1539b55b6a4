package server

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/searchktools/embedserver/dispatch"
	"github.com/searchktools/embedserver/wire"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStartInternalThreadsServesRegisteredRoute(t *testing.T) {
	opts := DefaultOptions()
	opts.Port = freePort(t)
	opts.BanSystemEnabled = false

	s := New(opts)
	if err := s.Register("/ping", false, &dispatch.BaseHandler{
		GETFunc: func(req *wire.Request) (dispatch.Response, error) {
			return dispatch.NewStaticResponse(http.StatusOK, []byte("pong")), nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn := dialWithRetry(t, opts.Port)
	defer conn.Close()

	conn.Write([]byte("GET /ping HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	status := readStatusLine(t, conn)
	if !strings.Contains(status, "200") {
		t.Fatalf("expected 200, got %q", status)
	}

	snap := s.Snapshot()
	if snap.RoutesRegistered != 1 {
		t.Fatalf("expected 1 registered route, got %d", snap.RoutesRegistered)
	}
}

func TestStartTwiceIsNoOp(t *testing.T) {
	opts := DefaultOptions()
	opts.Port = freePort(t)
	opts.BanSystemEnabled = false

	s := New(opts)
	if err := s.Start(false); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(false); err != nil {
		t.Fatalf("second Start should be a no-op, got error: %v", err)
	}
}

func TestStopClosesListener(t *testing.T) {
	opts := DefaultOptions()
	opts.Port = freePort(t)
	opts.BanSystemEnabled = false

	s := New(opts)
	if err := s.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn := dialWithRetry(t, opts.Port)
	conn.Close()

	s.Stop()

	if _, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(opts.Port)); err == nil {
		t.Fatal("expected dial to fail after Stop, listener should be closed")
	}
}

func TestStartWithBoundedWorkerPoolServesRequests(t *testing.T) {
	opts := DefaultOptions()
	opts.Port = freePort(t)
	opts.BanSystemEnabled = false
	opts.MaxThreads = 2

	s := New(opts)
	if err := s.Register("/ping", false, &dispatch.BaseHandler{
		GETFunc: func(req *wire.Request) (dispatch.Response, error) {
			return dispatch.NewStaticResponse(http.StatusOK, []byte("pong")), nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	for i := 0; i < 3; i++ {
		conn := dialWithRetry(t, opts.Port)
		conn.Write([]byte("GET /ping HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
		status := readStatusLine(t, conn)
		conn.Close()
		if !strings.Contains(status, "200") {
			t.Fatalf("request %d: expected 200, got %q", i, status)
		}
	}
}

func TestBanIPRejectsConnection(t *testing.T) {
	opts := DefaultOptions()
	opts.Port = freePort(t)
	opts.BanSystemEnabled = true

	s := New(opts)
	if err := s.Register("/ping", false, &dispatch.BaseHandler{
		GETFunc: func(req *wire.Request) (dispatch.Response, error) {
			return dispatch.NewStaticResponse(http.StatusOK, []byte("pong")), nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.BanIP("127.0.0.1/32"); err != nil {
		t.Fatalf("BanIP: %v", err)
	}

	if err := s.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn := dialWithRetry(t, opts.Port)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 16)
	_, err := conn.Read(buf)
	if err == nil {
		t.Fatal("expected banned peer's connection to be closed with no response")
	}
}

func TestSnapshotCountsRequests(t *testing.T) {
	opts := DefaultOptions()
	opts.Port = freePort(t)
	opts.BanSystemEnabled = false

	s := New(opts)
	if err := s.Register("/ping", false, &dispatch.BaseHandler{
		GETFunc: func(req *wire.Request) (dispatch.Response, error) {
			return dispatch.NewStaticResponse(http.StatusOK, nil), nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn := dialWithRetry(t, opts.Port)
	conn.Write([]byte("GET /ping HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	readStatusLine(t, conn)
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Snapshot().RequestsHandled >= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected RequestsHandled to reach 1")
}

func TestObservatoryRecordsHandlerTrace(t *testing.T) {
	opts := DefaultOptions()
	opts.Port = freePort(t)
	opts.BanSystemEnabled = false

	s := New(opts)
	if err := s.Register("/ping", false, &dispatch.BaseHandler{
		GETFunc: func(req *wire.Request) (dispatch.Response, error) {
			return dispatch.NewStaticResponse(http.StatusOK, []byte("pong")), nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn := dialWithRetry(t, opts.Port)
	conn.Write([]byte("GET /ping HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	readStatusLine(t, conn)
	conn.Close()

	report := s.Report()
	if !strings.Contains(report, "Observatory") {
		t.Fatalf("expected report to contain observatory banner, got %q", report)
	}
	if s.Observatory() == nil {
		t.Fatal("expected Observatory() to return a non-nil tracer")
	}
}

func dialWithRetry(t *testing.T, port int) net.Conn {
	t.Helper()
	addr := "127.0.0.1:" + strconv.Itoa(port)
	deadline := time.Now().Add(time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		lastErr = err
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("failed to dial %s: %v", addr, lastErr)
	return nil
}

func readStatusLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	return status
}
