/*
Package embedserver provides an embeddable HTTP/1.1 server library: pattern
routing with longest-match resolution, a response cache with per-entry
reentrant locking, an IP ban/allow policy engine, and a daemon with three
start modes (internal accept loop, external poller-driven, or remanaged
socket ownership).

Unlike a full web framework, embedserver is meant to be wired into a host
process that owns its own configuration and lifecycle: register patterns
against handlers, then hand the resulting Server a socket to drive.

Features

  - Longest-match routing: literal, named-parameter and regex path segments,
    resolved by (piece count, total size) specificity when more than one
    pattern matches a URL
  - Response cache: per-key entries with TTL validity and a reentrant
    reader/writer lock so a single in-flight request can re-acquire its own
    cache entry without deadlocking
  - IP policy engine: CIDR-aware ban/allow sets combined with an
    accept-by-default or reject-by-default posture
  - Pluggable start modes: goroutine-per-connection, or poller-driven
    (epoll/kqueue) for hosts that want to own the accept loop themselves
  - Long-poll/SSE overlay: a pub-sub broker for handlers that want to hold a
    connection open and push events to it
  - Pooled buffers and GC tuning for high-throughput deployments

Quick Start

	package main

	import (
	    "net/http"

	    "github.com/searchktools/embedserver/app"
	    "github.com/searchktools/embedserver/config"
	    "github.com/searchktools/embedserver/dispatch"
	    "github.com/searchktools/embedserver/wire"
	)

	func main() {
	    cfg := config.New()
	    application := app.New(cfg)

	    application.Server().Register("/hello", false, &dispatch.BaseHandler{
	        GETFunc: func(req *wire.Request) (dispatch.Response, error) {
	            return dispatch.NewStaticResponse(http.StatusOK, []byte("Hello, World!")), nil
	        },
	    })

	    application.Run()
	}

Modules

The library is organized by concern, leaves first:

  - endpoint: pattern compilation and matching
  - router: the route table (exact-match fast path plus specificity scan)
  - ipaccess: the IP ban/allow policy engine
  - cache: the response cache and its per-entry reentrant lock
  - wire: the connection-level request/response parser
  - dispatch: the request lifecycle state machine, handler contract and
    error-folding rules
  - poller: epoll/kqueue I/O multiplexing for poller-driven start modes
  - pools: buffer pooling and GC tuning
  - longpoll: the Comet/SSE overlay
  - observability: lightweight request tracing
  - server: configuration, the daemon and its lifecycle
  - config: flag- and map-based configuration, adapted to populate
    server.Options
  - app: application wiring (configuration plus signal-driven shutdown)

See SPEC_FULL.md in the module root for the full design.
*/
package embedserver
