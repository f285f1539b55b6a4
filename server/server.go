package server

import (
	"log"
	"net"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/embedserver/cache"
	"github.com/searchktools/embedserver/dispatch"
	"github.com/searchktools/embedserver/endpoint"
	"github.com/searchktools/embedserver/ipaccess"
	"github.com/searchktools/embedserver/observability"
	"github.com/searchktools/embedserver/poller"
	"github.com/searchktools/embedserver/pools"
	"github.com/searchktools/embedserver/router"
	"github.com/searchktools/embedserver/wire"
)

// Server is the embeddable HTTP daemon: route table, response cache, IP
// policy, pipeline, and lifecycle state.
type Server struct {
	opts Options

	routes   *router.Table
	cache    *cache.Cache
	ips      *ipaccess.Set
	pipeline *dispatch.Pipeline
	bytePool *pools.BytePool
	connPool *pools.ConnectionPool
	obs      *observability.Observatory

	mu         sync.Mutex
	cond       *sync.Cond
	running    bool
	listener   net.Listener
	pollers    []poller.Poller
	workerPool *pools.WorkerPool
	wg         sync.WaitGroup

	requestsHandled atomic.Uint64
	activeConns     atomic.Int64
}

// Stats is a point-in-time snapshot of server counters.
type Stats struct {
	RequestsHandled   uint64
	ActiveConns       int64
	CacheEntries      int
	RoutesRegistered  int
	ConnPoolGets      uint64
	ConnPoolPuts      uint64
	ConnPoolHitRate   float64
	GC                pools.GCStats
}

var sigpipeOnce sync.Once

// New constructs a Server from opts. Route and cache override handlers are
// attached to the returned Pipeline before Start is called.
func New(opts Options) *Server {
	sigpipeOnce.Do(func() {
		signal.Ignore(syscall.SIGPIPE)
	})

	if opts.LowLatencyGC {
		pools.OptimizeForLowLatency()
	} else {
		pools.OptimizeForHighThroughput()
	}

	s := &Server{
		opts:     opts,
		routes:   router.New(opts.RegexChecking),
		cache:    cache.New(),
		ips:      ipaccess.New(opts.DefaultPolicy),
		bytePool: pools.NewBytePool(),
		obs:      observability.NewObservatory(),
	}
	s.connPool = pools.NewConnectionPool(256, func() any {
		return wire.NewConn(nil, s.bytePool)
	})
	if opts.MaxThreads > 0 {
		s.workerPool = pools.NewWorkerPool(opts.MaxThreads)
	}
	s.cond = sync.NewCond(&s.mu)
	s.pipeline = &dispatch.Pipeline{
		Routes:             s.routes,
		SingleResource:     opts.SingleResource,
		BasicAuthEnabled:   opts.BasicAuthEnabled,
		DigestAuthEnabled:  opts.DigestAuthEnabled,
		PostProcessEnabled: opts.PostProcessEnabled,
		Observatory:        s.obs,
	}

	log.Printf("🚀 embedserver configured: port=%d start_method=%d regex=%v ban_system=%v",
		opts.Port, opts.StartMethod, opts.RegexChecking, opts.BanSystemEnabled)

	return s
}

// Pipeline exposes the request dispatch pipeline so the host can set
// NotFoundHandler / MethodNotAllowedHandler / etc before Start.
func (s *Server) Pipeline() *dispatch.Pipeline { return s.pipeline }

// Cache exposes the response cache for handlers that want to memoize renders.
func (s *Server) Cache() *cache.Cache { return s.cache }

// IPAccess exposes the ban/allow policy set.
func (s *Server) IPAccess() *ipaccess.Set { return s.ips }

// Observatory exposes the handler/syscall tracer, for hosts that want to
// pull GetFullReport() or toggle Enable/Disable at runtime.
func (s *Server) Observatory() *observability.Observatory { return s.obs }

// Register compiles pattern and registers handler against it. If a
// MethodNotAcceptableHandler is already set on the pipeline, it propagates
// onto handler (see dispatch.Pipeline.Register).
func (s *Server) Register(pattern string, family bool, handler dispatch.Handler) error {
	p, err := endpoint.Compile(pattern, family, s.opts.RegexChecking)
	if err != nil {
		return err
	}
	s.pipeline.Register(p, handler)
	return nil
}

// Unregister removes the pattern string from the route table.
func (s *Server) Unregister(pattern string) {
	s.routes.Unregister(pattern)
}

// BanIP adds addr to the ban set. When BanSystemEnabled is false it does
// nothing and returns nil.
func (s *Server) BanIP(addr string) error {
	if !s.opts.BanSystemEnabled {
		return nil
	}
	return s.ips.Ban(addr)
}

// AllowIP adds addr to the allow set.
func (s *Server) AllowIP(addr string) error {
	return s.ips.Allow(addr)
}

// Start begins serving according to opts.StartMethod. If blocking is true,
// Start waits until Stop is called.
func (s *Server) Start(blocking bool) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	var err error
	switch s.opts.StartMethod {
	case InternalThreads:
		err = s.startInternalThreads()
	case ExternalSelect:
		err = s.startPollerDriven(false)
	case Remanaged:
		err = s.startPollerDriven(true)
	}
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	if blocking {
		s.mu.Lock()
		for s.running {
			s.cond.Wait()
		}
		s.mu.Unlock()
	}

	return nil
}

// Stop signals shutdown and tears down daemons/listeners. Stop does not wait
// for in-flight requests to finish; they run to completion on their own
// goroutines.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	listener := s.listener
	pls := s.pollers
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, p := range pls {
		p.Close()
	}
	if s.workerPool != nil {
		s.workerPool.Close()
	}
	s.obs.Disable()

	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Report returns the Observatory's full human-readable diagnostics report
// (handler bottlenecks, syscall/network/lock stats, runtime memory stats).
func (s *Server) Report() string { return s.obs.GetFullReport() }

// Snapshot returns a point-in-time Stats value.
func (s *Server) Snapshot() Stats {
	gets, puts, hitRate := s.connPool.Stats()
	return Stats{
		RequestsHandled:  s.requestsHandled.Load(),
		ActiveConns:      s.activeConns.Load(),
		CacheEntries:     s.cache.Len(),
		RoutesRegistered: s.routes.Len(),
		ConnPoolGets:     gets,
		ConnPoolPuts:     puts,
		ConnPoolHitRate:  hitRate,
		GC:               pools.GetGCStats(),
	}
}

func (s *Server) startInternalThreads() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.opts.Port))
	if err != nil {
		return err
	}
	s.listener = ln

	log.Printf("🚀 embedserver listening on %s (internal-threads)", ln.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.dispatchConnection(conn)
		}
	}()

	return nil
}

// dispatchConnection runs handleConnection either on the bounded worker
// pool (when MaxThreads > 0) or on its own goroutine.
func (s *Server) dispatchConnection(nc net.Conn) {
	s.wg.Add(1)
	task := func() {
		defer s.wg.Done()
		s.handleConnection(nc)
	}

	if s.workerPool != nil {
		if s.workerPool.Submit(task) {
			return
		}
	}
	go task()
}

func (s *Server) handleConnection(nc net.Conn) {
	defer nc.Close()

	host, portStr, _ := net.SplitHostPort(nc.RemoteAddr().String())
	port, _ := strconv.Atoi(portStr)

	if s.opts.BanSystemEnabled && !s.ips.Admit(host) {
		return
	}

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	c := s.connPool.Get().(*wire.Conn)
	c.Rebind(nc)
	defer s.connPool.Put(c)

	for {
		if s.opts.ConnectionTimeout > 0 {
			nc.SetDeadline(time.Now().Add(s.opts.ConnectionTimeout))
		}
		if err := s.pipeline.Serve(c, host, port); err != nil {
			return
		}
		s.requestsHandled.Add(1)
	}
}

func (s *Server) startPollerDriven(remanaged bool) error {
	var lfd int
	var err error

	if remanaged {
		lfd, err = remanagedListenSocket(s.opts.Port, s.opts.UseIPv6)
		if err != nil {
			return err
		}
	} else {
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.opts.Port))
		if err != nil {
			return err
		}
		s.listener = ln
		f, err := ln.(*net.TCPListener).File()
		if err != nil {
			return err
		}
		lfd = int(f.Fd())
	}

	maxThreads := s.opts.MaxThreads
	if maxThreads <= 0 {
		maxThreads = 1
	}

	for i := 0; i < maxThreads; i++ {
		p, err := poller.NewPoller()
		if err != nil {
			return err
		}
		if err := p.Add(lfd); err != nil {
			p.Close()
			return err
		}
		s.pollers = append(s.pollers, p)

		s.wg.Add(1)
		go s.pollerLoop(p, lfd)
	}

	log.Printf("🚀 embedserver listening on fd %d (poller-driven, remanaged=%v, threads=%d)", lfd, remanaged, maxThreads)
	return nil
}

func (s *Server) pollerLoop(p poller.Poller, lfd int) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}

		fds, err := p.Wait(100)
		if err != nil {
			continue
		}

		for _, fd := range fds {
			if fd == lfd {
				s.acceptOnFD(lfd, p)
			}
		}
	}
}

func (s *Server) acceptOnFD(lfd int, p poller.Poller) {
	for {
		var nfd int
		var sa unix.Sockaddr
		err := s.obs.TraceSyscall("accept", func() error {
			var acceptErr error
			nfd, sa, acceptErr = acceptRaw(lfd)
			return acceptErr
		})
		if err != nil {
			return
		}
		host := sockaddrHost(sa)
		if s.opts.BanSystemEnabled && !s.ips.Admit(host) {
			closeRaw(nfd)
			continue
		}
		nc, err := fdToConn(nfd)
		if err != nil {
			closeRaw(nfd)
			continue
		}
		s.dispatchConnection(&tracedConn{Conn: nc, obs: s.obs})
	}
}

// tracedConn wraps a poller-driven connection (sourced from a raw accepted
// fd) so its read/write syscalls feed the Observatory's network stats, the
// same way the "remanaged"/"external-select" start modes already bypass
// net.Listen for the accept itself.
type tracedConn struct {
	net.Conn
	obs *observability.Observatory
}

func (tc *tracedConn) Read(b []byte) (int, error) {
	callback := tc.obs.TraceNetworkIO("tcp", 0, "read")
	n, err := tc.Conn.Read(b)
	callback(n, err)
	return n, err
}

func (tc *tracedConn) Write(b []byte) (int, error) {
	callback := tc.obs.TraceNetworkIO("tcp", 0, "write")
	n, err := tc.Conn.Write(b)
	callback(n, err)
	return n, err
}
