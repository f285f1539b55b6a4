package app

import (
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/searchktools/embedserver/config"
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

func TestAppRunServesAndStopsOnSignal(t *testing.T) {
	cfg := &config.Config{Port: freePort(t), Env: "test", BanSystemEnabled: false}
	a := New(cfg)

	if err := a.Server().Register("/ping", false, &dispatch.BaseHandler{
		GETFunc: func(req *wire.Request) (dispatch.Response, error) {
			return dispatch.NewStaticResponse(http.StatusOK, []byte("pong")), nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	deadline := time.Now().Add(time.Second)
	var conn net.Conn
	var err error
	for time.Now().Before(deadline) {
		conn, err = net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(cfg.Port))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	conn.Close()

	a.srv.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
