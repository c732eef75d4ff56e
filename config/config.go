package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the prefix of environment variables read by Load
const EnvPrefix = "FAST_EDGE"

// MaxBackends caps the backend list
const MaxBackends = 16

// Config holds all application configuration.
type Config struct {
	Host           string        `config:"host"`
	Port           int           `config:"port"`
	Root           string        `config:"root"`
	StaticDir      string        `config:"static_dir"`
	StaticPrefix   string        `config:"static_prefix"`
	ProxyPrefix    string        `config:"proxy_prefix"`
	Backends       []string      `config:"backend"`
	MaxConnections int           `config:"max_conns"`
	IdleTimeout    time.Duration `config:"idle_timeout"`
	ProxyWorkers   int           `config:"proxy_workers"`
	SniffMime      bool          `config:"sniff_mime"`
	RequestID      bool          `config:"request_id"`
	CORS           bool          `config:"cors"`
	RateLimit      int           `config:"rate_limit"`
	TraceSyscalls  bool          `config:"trace_syscalls"`
	GCPercent      int           `config:"gc_percent"`
	LogLevel       string        `config:"log_level"`
	Env            string        `config:"env"`

	// ConfigFile is the INI (or .json) file read before the environment
	ConfigFile string `config:"-"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Port:           8080,
		Root:           ".",
		StaticDir:      "static",
		StaticPrefix:   "/static",
		ProxyPrefix:    "/api",
		Backends:       []string{"localhost:8002"},
		MaxConnections: 1024,
		IdleTimeout:    300 * time.Second,
		ProxyWorkers:   4,
		LogLevel:       "info",
		Env:            "development",
	}
}

// New loads configuration from the command line, exiting on bad input.
func New() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// Load builds the configuration. Later layers win: defaults, the config
// file, FAST_EDGE_* environment variables, then flags given in args.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("fast-edge", flag.ContinueOnError)
	var backends stringList
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Listen host (empty for all interfaces)")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.Root, "root", cfg.Root, "Root directory")
	fs.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "Static files directory, relative to root")
	fs.StringVar(&cfg.StaticPrefix, "static-prefix", cfg.StaticPrefix, "URI prefix served from the static directory")
	fs.StringVar(&cfg.ProxyPrefix, "proxy-prefix", cfg.ProxyPrefix, "URI prefix forwarded to backends (empty disables the proxy)")
	fs.Var(&backends, "backend", "Backend host:port (repeatable)")
	fs.IntVar(&cfg.MaxConnections, "max-conns", cfg.MaxConnections, "Maximum concurrent connections")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Idle connection timeout")
	fs.IntVar(&cfg.ProxyWorkers, "proxy-workers", cfg.ProxyWorkers, "Proxy worker goroutines (0 proxies on the event loop)")
	fs.BoolVar(&cfg.SniffMime, "sniff-mime", cfg.SniffMime, "Detect content type of files with unknown extensions")
	fs.BoolVar(&cfg.RequestID, "request-id", cfg.RequestID, "Tag responses with X-Request-ID")
	fs.BoolVar(&cfg.CORS, "cors", cfg.CORS, "Add CORS headers and answer preflight requests")
	fs.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Requests per second per route (0 disables)")
	fs.BoolVar(&cfg.TraceSyscalls, "trace-syscalls", cfg.TraceSyscalls, "Record syscall latency and report it on exit")
	fs.IntVar(&cfg.GCPercent, "gc-percent", cfg.GCPercent, "GOGC override (0 keeps the runtime default)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug/info/warn/error)")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development/production)")
	fs.StringVar(&cfg.ConfigFile, "config", "", "Config file (key=value INI, or .json)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	m := NewManager()
	if cfg.ConfigFile != "" {
		if err := m.LoadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	m.LoadFromEnv(EnvPrefix)

	// explicit flags override file and environment
	fs.Visit(func(f *flag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		switch f.Name {
		case "config":
			return
		case "backend":
			m.Set(key, []string(backends))
		default:
			m.Set(key, f.Value.String())
		}
	})

	if err := m.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("max_conns must be positive, got %d", c.MaxConnections))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("idle_timeout must be positive, got %v", c.IdleTimeout))
	}
	if c.ProxyWorkers < 0 {
		errs = append(errs, fmt.Errorf("proxy_workers must not be negative, got %d", c.ProxyWorkers))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative, got %d", c.RateLimit))
	}
	if c.StaticPrefix != "" && !strings.HasPrefix(c.StaticPrefix, "/") {
		errs = append(errs, fmt.Errorf("static_prefix %q must start with /", c.StaticPrefix))
	}
	if c.ProxyPrefix != "" {
		if !strings.HasPrefix(c.ProxyPrefix, "/") {
			errs = append(errs, fmt.Errorf("proxy_prefix %q must start with /", c.ProxyPrefix))
		}
		if len(c.Backends) == 0 {
			errs = append(errs, errors.New("proxy enabled but no backend configured"))
		}
	}
	if len(c.Backends) > MaxBackends {
		errs = append(errs, fmt.Errorf("too many backends: %d > %d", len(c.Backends), MaxBackends))
	}
	for _, b := range c.Backends {
		if _, port, err := net.SplitHostPort(b); err != nil || port == "" {
			errs = append(errs, fmt.Errorf("backend %q: want host:port", b))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StaticRoot returns the directory static files are served from
func (c *Config) StaticRoot() string {
	if c.StaticDir == "" {
		return c.Root
	}
	if filepath.IsAbs(c.StaticDir) {
		return c.StaticDir
	}
	return filepath.Join(c.Root, c.StaticDir)
}

// stringList is a repeatable string flag
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
