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

// Command wincc-pg-gateway runs the Postgres wire protocol front end for a
// WinCC Unified GraphQL endpoint.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/wincc-pg-gateway/lib/gwconfig"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/graphqlapi"
	gwmetrics "github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/metrics"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/tlsconf"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/wire"
)

const graphqlHealthCheckTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

// run contains the whole program so deferred cleanup runs before the
// process exits; main only translates its return value into os.Exit.
func run() int {
	cfg, err := gwconfig.Parse("wincc-pg-gateway", "Postgres wire protocol gateway for WinCC Unified.", os.Args[1:])
	if err != nil {
		logrus.WithError(err).Error("Invalid configuration.")
		return 1
	}

	log := newLogger(cfg.Debug)

	tlsConfig, err := tlsconf.Build(cfg.TLS)
	if err != nil {
		log.WithError(err).Error("Failed to build TLS configuration.")
		return 1
	}

	graphqlClient := graphqlapi.NewClient(cfg.GraphQLURL, graphqlHealthCheckTimeout)
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), graphqlHealthCheckTimeout)
	defer cancelProbe()
	if err := graphqlClient.Healthy(probeCtx); err != nil {
		log.WithError(err).Error("GraphQL endpoint is not reachable.")
		return 2
	}

	reg := prometheus.NewRegistry()
	m := gwmetrics.New(reg)

	serverCfg := wire.Config{
		GraphQL:                  graphqlClient,
		Clock:                    clockwork.NewRealClock(),
		Log:                      log,
		Metrics:                  m,
		ServerVersion:            cfg.ServerVersion,
		SessionExtensionInterval: cfg.SessionExtensionInterval,
		ReadTimeout:              cfg.ReadTimeout,
		KeepAliveInterval:        cfg.KeepAliveInterval,
		TLSConfig:                tlsConfig,
		NoAuthEnabled:            cfg.NoAuthEnabled,
		NoAuthUsername:           cfg.NoAuthUsername,
		NoAuthPassword:           cfg.NoAuthPassword,
		ScramEnabled:             cfg.ScramEnabled,
		QuietConnections:         cfg.QuietConnections,
		LogSQLRows:               cfg.LogSQLRows,
	}

	server, err := wire.Listen(cfg.BindAddr, serverCfg)
	if err != nil {
		log.WithError(err).Error("Failed to bind listener.")
		return 2
	}
	log.WithField("addr", cfg.BindAddr).Info("Listening for Postgres wire connections.")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("Metrics server exited unexpectedly.")
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("Shutting down.")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("Listener failed.")
			return 2
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsServer.Shutdown(shutdownCtx)
	_ = server.Close()
	return 0
}

func newLogger(debug bool) *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(logger).WithField("component", "wincc-pg-gateway")
}
