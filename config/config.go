// Package config loads the TOML configuration file, generating a commented
// default one on first run.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// Config type.
type Config struct {
	Version string

	// client-facing bind address
	Bind string
	// upstream DNS server address
	Upstream string

	// upstream send timeout
	Timeout Duration
	// how long a forwarded query waits for its upstream response
	SessionTimeout Duration
	// cadence of the session timeout sweep
	SweepInterval Duration

	// "allowlist" resolves only listed names, "denylist" resolves
	// everything not listed
	Mode string

	Allowlist     []string
	Denylist      []string
	AllowlistFile string
	DenylistFile  string
	WatchLists    bool

	AccessList      []string
	ClientRateLimit int

	LogLevel  string
	AccessLog string
	API       string

	sVersion string
}

// ServerVersion returns the build version the config was loaded for.
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Duration type.
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# Address to bind to for the DNS server
bind = "127.0.0.1:53"

# Upstream DNS server that permitted queries are forwarded to
upstream = "8.8.8.8:53"

# Upstream send timeout in duration
timeout = "3s"

# How long a forwarded query may wait for its upstream response before the
# session is abandoned
sessiontimeout = "5s"

# How often abandoned sessions are swept
sweepinterval = "1s"

# Filtering mode. "allowlist" resolves only allowlisted names; "denylist"
# resolves everything except denylisted names. The denylist always wins for
# names on both lists.
mode = "allowlist"

# Manual allowlist entries
allowlist = []

# Manual denylist entries
denylist = []

# Newline-delimited FQDN list files, left blank for disabled
allowlistfile = ""
denylistfile = ""

# Reload the list files automatically when they change
watchlists = true

# Which clients allowed to make queries
accesslist = [
"0.0.0.0/0",
"::0/0"
]

# Client ip address based ratelimit per second, 0 for disabled
clientratelimit = 0

# What kind of information should be logged, Log verbosity level [crit,error,warn,info,debug]
loglevel = "info"

# The location of the query log file, left blank for disabled
accesslog = ""

# Address to bind to for the http API server, left blank for disabled
api = "127.0.0.1:8080"
`

// Load loads the given config file, generating it first when absent.
func Load(cfgfile, version string) (*Config, error) {
	config := new(Config)

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %s", err)
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	if config.Bind == "" {
		config.Bind = "127.0.0.1:53"
	}
	if config.Upstream == "" {
		config.Upstream = "8.8.8.8:53"
	}
	if config.Timeout.Duration == 0 {
		config.Timeout.Duration = 3 * time.Second
	}
	if config.SessionTimeout.Duration == 0 {
		config.SessionTimeout.Duration = 5 * time.Second
	}
	if config.SweepInterval.Duration == 0 {
		config.SweepInterval.Duration = time.Second
	}

	config.sVersion = version

	return config, nil
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %s", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %s", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
