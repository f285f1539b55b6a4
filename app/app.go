package app

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/searchktools/embedserver/config"
	"github.com/searchktools/embedserver/server"
)

// App wraps a Server with the host's configuration and signal-driven
// lifecycle.
type App struct {
	cfg *config.Config
	srv *server.Server
}

// New creates an application instance from host flags.
func New(cfg *config.Config) *App {
	return &App{
		cfg: cfg,
		srv: server.New(cfg.ToServerOptions()),
	}
}

// NewWithServer creates an application instance around a pre-configured
// Server, for hosts that built Options via server.Builder or
// config.PopulateServerOptions directly.
func NewWithServer(cfg *config.Config, srv *server.Server) *App {
	return &App{cfg: cfg, srv: srv}
}

// Server returns the underlying Server for route registration.
func (a *App) Server() *server.Server {
	return a.srv
}

// Run starts the server and blocks until a shutdown signal arrives.
func (a *App) Run() error {
	go a.awaitSignal()

	log.Printf("🚀 embedserver starting [env=%s]", a.cfg.Env)

	return a.srv.Start(true)
}

func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("signal received: %v, shutting down", sig)
	a.srv.Stop()
}
