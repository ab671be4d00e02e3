// Package config loads and validates the proxy's YAML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/oodx/porty/pkg/perror"
	"gopkg.in/yaml.v3"
)

// Mode is the operating mode of a Route.
type Mode string

const (
	ModeTCP  Mode = "tcp"
	ModeHTTP Mode = "http"
)

// LogLevel controls how verbosely a route logs its traffic.
type LogLevel string

const (
	LogNone    LogLevel = "none"
	LogBasic   LogLevel = "basic"
	LogVerbose LogLevel = "verbose"
)

// Route describes one listening endpoint and its forwarding policy.
type Route struct {
	Name           string   `yaml:"name"`
	ListenPort     int      `yaml:"listen_port"`
	TargetAddr     string   `yaml:"target_addr"`
	TargetPort     int      `yaml:"target_port"`
	Enabled        bool     `yaml:"enabled"`
	Mode           Mode     `yaml:"mode"`
	Host           string   `yaml:"host"`
	LogLevel       LogLevel `yaml:"log_level"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxRetries     int      `yaml:"max_retries"`
}

// Config is the top-level proxy configuration: global defaults plus the
// route table.
type Config struct {
	ListenAddr     string  `yaml:"listen_addr"`
	ListenPort     int     `yaml:"listen_port"`
	TargetAddr     string  `yaml:"target_addr"`
	TargetPort     int     `yaml:"target_port"`
	MaxConnections int     `yaml:"max_connections"`
	BufferSizeKB   int     `yaml:"buffer_size_kb"`
	LogRequests    bool    `yaml:"log_requests"`
	Routes         []Route `yaml:"routes"`
}

var routeDefaults = Route{
	Mode:           ModeTCP,
	LogLevel:       LogBasic,
	TimeoutSeconds: 30,
	MaxRetries:     2,
}

var configDefaults = Config{
	ListenAddr:     "0.0.0.0",
	ListenPort:     8080,
	MaxConnections: 100,
	BufferSizeKB:   8,
}

// Load reads a YAML config file, applies defaults for missing fields, and
// validates the result. A missing file is not an error: Load returns the
// bare defaults (no routes), matching a minimal single-static-target
// deployment.
func Load(path string) (*Config, error) {
	cfg := configDefaults

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return &cfg, nil
		}
		return nil, perror.NewConfigInvalid(fmt.Sprintf("read config %q", path), err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, perror.NewConfigInvalid(fmt.Sprintf("parse config %q", path), err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills zero-valued fields with the documented defaults.
// yaml.Unmarshal only overwrites fields present in the document, so any
// field left at its Go zero value here was either absent or explicitly
// zero in the file; defaults apply to "absent", which this
// approximation treats identically (an explicit 0/"" is indistinguishable
// from absence once decoded).
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = configDefaults.ListenAddr
	}
	if c.ListenPort == 0 {
		c.ListenPort = configDefaults.ListenPort
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = configDefaults.MaxConnections
	}
	if c.BufferSizeKB == 0 {
		c.BufferSizeKB = configDefaults.BufferSizeKB
	}
	for i := range c.Routes {
		r := &c.Routes[i]
		if r.Mode == "" {
			r.Mode = routeDefaults.Mode
		}
		if r.LogLevel == "" {
			r.LogLevel = routeDefaults.LogLevel
		}
		if r.TimeoutSeconds == 0 {
			r.TimeoutSeconds = routeDefaults.TimeoutSeconds
		}
		if r.MaxRetries == 0 {
			r.MaxRetries = routeDefaults.MaxRetries
		}
	}
}

// Validate enforces the invariants and returns a config_invalid
// error describing the first violation found.
func (c *Config) Validate() error {
	seenPorts := make(map[int]string)
	for _, r := range c.Routes {
		if !r.Enabled {
			continue
		}
		if r.ListenPort <= 0 || r.ListenPort > 65535 {
			return perror.NewConfigInvalid(fmt.Sprintf("route %q: listen_port %d out of range", r.Name, r.ListenPort), nil)
		}
		if owner, dup := seenPorts[r.ListenPort]; dup {
			return perror.NewConfigInvalid(fmt.Sprintf("routes %q and %q both use listen_port %d", owner, r.Name, r.ListenPort), nil)
		}
		seenPorts[r.ListenPort] = r.Name

		switch r.Mode {
		case ModeTCP:
			if r.TargetAddr == "" || r.TargetPort == 0 {
				return perror.NewConfigInvalid(fmt.Sprintf("route %q: tcp mode requires target_addr and target_port", r.Name), nil)
			}
		case ModeHTTP:
			// target_addr/target_port are an optional static fallback; no
			// requirement here.
		default:
			return perror.NewConfigInvalid(fmt.Sprintf("route %q: unknown mode %q", r.Name, r.Mode), nil)
		}
	}

	if c.ListenPort != 0 {
		if owner, dup := seenPorts[c.ListenPort]; dup {
			return perror.NewConfigInvalid(fmt.Sprintf("route %q and the main listener both use listen_port %d", owner, c.ListenPort), nil)
		}
	}
	return nil
}
