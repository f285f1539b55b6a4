package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/searchktools/embedserver/ipaccess"
	"github.com/searchktools/embedserver/server"
)

// Config holds the flag-driven subset of server configuration a host
// typically wants to expose on its own command line.
type Config struct {
	Port              int
	Env               string
	ConnectionTimeout time.Duration
	RegexChecking     bool
	BanSystemEnabled  bool
	RejectByDefault   bool
}

// New loads configuration from flags, with PORT/ENV environment variables
// taking precedence over flag defaults when set.
func New() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flag.StringVar(&cfg.Env, "env", "development", "Environment (development/production)")
	flag.DurationVar(&cfg.ConnectionTimeout, "connection-timeout", 30*time.Second, "per-connection idle timeout")
	flag.BoolVar(&cfg.RegexChecking, "regex-checking", false, "enable regex route fallback matching")
	flag.BoolVar(&cfg.BanSystemEnabled, "ban-system", true, "enable the IP ban/allow policy engine")
	flag.BoolVar(&cfg.RejectByDefault, "reject-by-default", false, "reject peers unless explicitly allowed")

	flag.Parse()

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	return cfg
}

// ToServerOptions builds server.Options from the loaded flags.
func (c *Config) ToServerOptions() server.Options {
	policy := ipaccess.Accept
	if c.RejectByDefault {
		policy = ipaccess.Reject
	}

	opts, err := server.NewBuilder().
		Port(c.Port).
		ConnectionTimeout(c.ConnectionTimeout).
		RegexChecking(c.RegexChecking).
		BanSystemEnabled(c.BanSystemEnabled).
		DefaultPolicy(policy).
		Build()
	if err != nil {
		// None of the setters above touch the file-loading builder methods,
		// so Build cannot fail here.
		panic(err)
	}
	return opts
}
