// Package server implements the embeddable HTTP daemon: configuration,
// startup/shutdown lifecycle, and the three start modes described in the
// server lifecycle design (internal-threads, external-select, remanaged).
package server

import (
	"os"
	"time"

	"github.com/searchktools/embedserver/dispatch"
	"github.com/searchktools/embedserver/ipaccess"
)

// StartMethod selects how the daemon's accept loop is driven.
type StartMethod int

const (
	// InternalThreads: the daemon owns its own accept loop; each connection
	// runs on its own goroutine, or on the bounded worker pool when
	// MaxThreads > 0.
	InternalThreads StartMethod = iota
	// ExternalSelect: the engine drives the daemon via a poller-backed loop.
	ExternalSelect
	// Remanaged: like ExternalSelect, but the engine also pre-binds the
	// listening socket itself before handing it to the daemon.
	Remanaged
)

// CredType names the TLS credential format, mirrored from the source for
// fidelity. It is stored in Options only; the server does not terminate TLS.
type CredType int

const (
	CredTypeNone CredType = iota
	CredTypeCertificate
)

// Options holds every configuration value from the configuration surface.
type Options struct {
	Port int

	StartMethod StartMethod
	MaxThreads  int

	MaxConnections       int
	MemoryLimit          int64
	ConnectionTimeout    time.Duration
	PerIPConnectionLimit int
	MaxThreadStackSize   int

	UseSSL  bool
	UseIPv6 bool

	Debug    bool
	Pedantic bool

	HTTPSMemKeyPath   string
	HTTPSMemCertPath  string
	HTTPSMemTrustPath string
	HTTPSPriorities   string
	httpsMemKey       []byte
	httpsMemCert      []byte
	httpsMemTrust     []byte

	CredType         CredType
	DigestAuthRandom string
	NonceNCSize      int

	DefaultPolicy ipaccess.DefaultPolicy

	BasicAuthEnabled   bool
	DigestAuthEnabled  bool
	RegexChecking      bool
	BanSystemEnabled   bool
	PostProcessEnabled bool

	// SingleResource, when set, routes every request directly to this
	// handler with an empty capture map, skipping route table resolution
	// entirely.
	SingleResource dispatch.Handler

	// LowLatencyGC trades the default high-throughput GC tuning (infrequent
	// collection, large retained baseline) for a profile biased toward
	// shorter pause times, for hosts that care more about tail latency than
	// raw requests/sec.
	LowLatencyGC bool
}

// DefaultOptions returns the source library's documented defaults.
func DefaultOptions() Options {
	return Options{
		Port:                  8080,
		StartMethod:           InternalThreads,
		MaxThreads:            0,
		MaxConnections:        0,
		MemoryLimit:           0,
		ConnectionTimeout:     30 * time.Second,
		PerIPConnectionLimit:  0,
		UseSSL:                false,
		UseIPv6:               false,
		Debug:                 false,
		Pedantic:              false,
		CredType:              CredTypeNone,
		DefaultPolicy:         ipaccess.Accept,
		BasicAuthEnabled:      true,
		DigestAuthEnabled:     true,
		RegexChecking:         false,
		BanSystemEnabled:      true,
		PostProcessEnabled:    true,
	}
}

// Builder assembles Options through chained setters, mirroring the source's
// fluent create_webserver API.
type Builder struct {
	opts Options
	err  error
}

// NewBuilder starts from DefaultOptions.
func NewBuilder() *Builder {
	return &Builder{opts: DefaultOptions()}
}

func (b *Builder) Port(port int) *Builder                 { b.opts.Port = port; return b }
func (b *Builder) StartMethod(m StartMethod) *Builder      { b.opts.StartMethod = m; return b }
func (b *Builder) MaxThreads(n int) *Builder               { b.opts.MaxThreads = n; return b }
func (b *Builder) MaxConnections(n int) *Builder           { b.opts.MaxConnections = n; return b }
func (b *Builder) MemoryLimit(n int64) *Builder            { b.opts.MemoryLimit = n; return b }
func (b *Builder) ConnectionTimeout(d time.Duration) *Builder {
	b.opts.ConnectionTimeout = d
	return b
}
func (b *Builder) PerIPConnectionLimit(n int) *Builder { b.opts.PerIPConnectionLimit = n; return b }
func (b *Builder) MaxThreadStackSize(n int) *Builder   { b.opts.MaxThreadStackSize = n; return b }
func (b *Builder) UseSSL(v bool) *Builder              { b.opts.UseSSL = v; return b }
func (b *Builder) UseIPv6(v bool) *Builder             { b.opts.UseIPv6 = v; return b }
func (b *Builder) Debug(v bool) *Builder               { b.opts.Debug = v; return b }
func (b *Builder) Pedantic(v bool) *Builder            { b.opts.Pedantic = v; return b }
func (b *Builder) HTTPSPriorities(s string) *Builder   { b.opts.HTTPSPriorities = s; return b }
func (b *Builder) CredType(c CredType) *Builder        { b.opts.CredType = c; return b }
func (b *Builder) DigestAuthRandom(s string) *Builder  { b.opts.DigestAuthRandom = s; return b }
func (b *Builder) NonceNCSize(n int) *Builder          { b.opts.NonceNCSize = n; return b }
func (b *Builder) DefaultPolicy(p ipaccess.DefaultPolicy) *Builder {
	b.opts.DefaultPolicy = p
	return b
}
func (b *Builder) BasicAuthEnabled(v bool) *Builder   { b.opts.BasicAuthEnabled = v; return b }
func (b *Builder) DigestAuthEnabled(v bool) *Builder  { b.opts.DigestAuthEnabled = v; return b }
func (b *Builder) RegexChecking(v bool) *Builder      { b.opts.RegexChecking = v; return b }
func (b *Builder) BanSystemEnabled(v bool) *Builder   { b.opts.BanSystemEnabled = v; return b }
func (b *Builder) PostProcessEnabled(v bool) *Builder { b.opts.PostProcessEnabled = v; return b }
func (b *Builder) LowLatencyGC(v bool) *Builder       { b.opts.LowLatencyGC = v; return b }
func (b *Builder) SingleResource(h dispatch.Handler) *Builder {
	b.opts.SingleResource = h
	return b
}

// HTTPSMemKey reads the PEM private key from path at build time, matching
// the source's load_file behaviour for HTTPS_MEM_KEY.
func (b *Builder) HTTPSMemKey(path string) *Builder {
	b.opts.HTTPSMemKeyPath = path
	data, err := os.ReadFile(path)
	if err != nil {
		b.err = err
		return b
	}
	b.opts.httpsMemKey = data
	return b
}

// HTTPSMemCert reads the PEM certificate from path at build time.
func (b *Builder) HTTPSMemCert(path string) *Builder {
	b.opts.HTTPSMemCertPath = path
	data, err := os.ReadFile(path)
	if err != nil {
		b.err = err
		return b
	}
	b.opts.httpsMemCert = data
	return b
}

// HTTPSMemTrust reads the PEM trust chain from path at build time.
func (b *Builder) HTTPSMemTrust(path string) *Builder {
	b.opts.HTTPSMemTrustPath = path
	data, err := os.ReadFile(path)
	if err != nil {
		b.err = err
		return b
	}
	b.opts.httpsMemTrust = data
	return b
}

// Build finalizes the Options, returning the first error encountered while
// reading any configured HTTPS credential file.
func (b *Builder) Build() (Options, error) {
	if b.err != nil {
		return Options{}, b.err
	}
	return b.opts, nil
}

// TLSMaterial returns the key, cert and trust PEM bytes loaded via the
// HTTPSMem* builder methods.
func (o *Options) TLSMaterial() (key, cert, trust []byte) {
	return o.httpsMemKey, o.httpsMemCert, o.httpsMemTrust
}
