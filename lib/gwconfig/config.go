/*
Copyright 2024 The WinCC PG Gateway Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gwconfig parses the gateway's command-line flags into a
// validated Config, following the flags-struct-plus-CheckAndSetDefaults
// convention the corpus uses for its own daemon configuration types.
package gwconfig

import (
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/gravitational/trace"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/tlsconf"
)

// Config holds every flag the gateway binary accepts.
type Config struct {
	BindAddr                 string
	GraphQLURL               string
	Debug                    bool
	LogSQLRows               int
	QuietConnections         bool
	SessionExtensionInterval time.Duration
	KeepAliveInterval        time.Duration
	ReadTimeout              time.Duration
	ServerVersion            string
	NoAuthEnabled            bool
	NoAuthUsername           string
	NoAuthPassword           string
	ScramEnabled             bool
	MetricsAddr              string

	TLS tlsconf.Config
}

const (
	defaultBindAddr                 = "0.0.0.0:5432"
	defaultMetricsAddr              = "127.0.0.1:9090"
	defaultSessionExtensionInterval = 2 * time.Minute
	defaultKeepAliveInterval        = 30 * time.Second
	defaultReadTimeout              time.Duration = 0
	defaultServerVersion                          = "14.9 (WinCC Unified Gateway)"
)

// Parse builds a Config from argv (typically os.Args[1:]), applying
// defaults and validation. appName/appHelp name the kingpin application.
func Parse(appName, appHelp string, argv []string) (*Config, error) {
	app := kingpin.New(appName, appHelp)
	cfg := &Config{}

	app.Flag("bind-addr", "Address to listen for Postgres wire connections on.").
		Default(defaultBindAddr).StringVar(&cfg.BindAddr)
	app.Flag("graphql-url", "URL of the WinCC Unified GraphQL endpoint.").
		Required().StringVar(&cfg.GraphQLURL)
	app.Flag("debug", "Enable verbose (debug-level) logging.").
		BoolVar(&cfg.Debug)
	app.Flag("log-sql", "Log the first N rows of every executed statement's result (0 disables).").
		Default("0").IntVar(&cfg.LogSQLRows)
	app.Flag("quiet-connections", "Omit per-connection remote address fields from log output.").
		BoolVar(&cfg.QuietConnections)
	app.Flag("session-extension-interval", "How often to refresh the GraphQL session token.").
		Default(defaultSessionExtensionInterval.String()).DurationVar(&cfg.SessionExtensionInterval)
	app.Flag("keep-alive-interval", "TCP keep-alive probe interval for accepted connections.").
		Default(defaultKeepAliveInterval.String()).DurationVar(&cfg.KeepAliveInterval)
	app.Flag("read-timeout", "Idle read timeout per connection (0 disables).").
		Default(defaultReadTimeout.String()).DurationVar(&cfg.ReadTimeout)
	app.Flag("metrics-addr", "Address to serve Prometheus metrics on.").
		Default(defaultMetricsAddr).StringVar(&cfg.MetricsAddr)
	app.Flag("no-auth-enabled", "Skip the MD5/SCRAM wire challenge entirely and accept any client credentials, "+
		"logging in to GraphQL with no-auth-username/no-auth-password directly.").
		BoolVar(&cfg.NoAuthEnabled)
	app.Flag("no-auth-username", "Fixed username the SCRAM exchange accepts, or logs in to "+
		"GraphQL with directly when no-auth-enabled is set.").
		Required().StringVar(&cfg.NoAuthUsername)
	app.Flag("no-auth-password", "Fixed password the MD5/SCRAM exchange is checked against; forwarded to GraphQL "+
		"login in SCRAM and no-auth modes (MD5 mode forwards the client's digest instead).").
		Required().StringVar(&cfg.NoAuthPassword)
	app.Flag("scram-enabled", "Negotiate SCRAM-SHA-256 instead of MD5 at the wire protocol layer.").
		BoolVar(&cfg.ScramEnabled)
	app.Flag("tls-enabled", "Offer TLS to clients that send an SSLRequest.").
		BoolVar(&cfg.TLS.Enabled)
	app.Flag("tls-cert", "Path to the server TLS certificate.").
		StringVar(&cfg.TLS.CertFile)
	app.Flag("tls-key", "Path to the server TLS private key.").
		StringVar(&cfg.TLS.KeyFile)
	app.Flag("tls-ca-cert", "Path to a CA bundle used to verify client certificates.").
		StringVar(&cfg.TLS.CAFile)
	app.Flag("tls-require-client-cert", "Require and verify a client certificate (requires --tls-ca-cert).").
		BoolVar(&cfg.TLS.RequireClientCert)

	if _, err := app.Parse(argv); err != nil {
		return nil, trace.Wrap(err, "parsing command-line flags")
	}

	if cfg.ServerVersion == "" {
		cfg.ServerVersion = defaultServerVersion
	}
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

// checkAndSetDefaults validates cross-field constraints kingpin's own flag
// definitions can't express, following the corpus's CheckAndSetDefaults
// convention for configuration structs.
func (c *Config) checkAndSetDefaults() error {
	if c.GraphQLURL == "" {
		return trace.BadParameter("graphql-url is required")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return trace.BadParameter("tls-cert and tls-key are required when tls-enabled is set")
		}
		if c.TLS.RequireClientCert && c.TLS.CAFile == "" {
			return trace.BadParameter("tls-ca-cert is required when tls-require-client-cert is set")
		}
	}
	if c.LogSQLRows < 0 {
		return trace.BadParameter("log-sql must be >= 0")
	}
	if c.SessionExtensionInterval <= 0 {
		return trace.BadParameter("session-extension-interval must be positive")
	}
	return nil
}
