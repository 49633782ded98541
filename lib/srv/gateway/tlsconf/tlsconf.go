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

// Package tlsconf builds the server-side tls.Config from certificate/key/CA
// file paths and performs the Postgres wire protocol's in-place TLS upgrade
// on an accepted connection, negotiated from the server side of the
// handshake after a client's SSLRequest.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"

	"github.com/gravitational/trace"
)

// Config is the subset of CLI flags needed to build a server tls.Config.
type Config struct {
	Enabled           bool
	CertFile          string
	KeyFile           string
	CAFile            string
	RequireClientCert bool
}

// Build loads the certificate/key pair (and, if configured, a client CA
// pool) into a *tls.Config ready for use by UpgradeServerConn. Returns nil,
// nil when TLS is disabled — callers should treat a nil *tls.Config as "TLS
// not offered" rather than an error.
func Build(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, trace.Wrap(err, "loading TLS certificate/key")
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, trace.Wrap(err, "reading TLS client CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, trace.BadParameter("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.ClientCAs = pool
		if cfg.RequireClientCert {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}
	return tlsConfig, nil
}

// UpgradeServerConn performs the Postgres wire "SSLRequest" upgrade in
// place: the caller has already read an SSLRequest off conn and must write
// the single status byte itself ('S' or 'N') before calling this — by the
// time UpgradeServerConn runs, it assumes 'S' has already been sent and
// simply wraps conn in a TLS server handshake.
func UpgradeServerConn(conn net.Conn, tlsConfig *tls.Config) (net.Conn, error) {
	tlsConn := tls.Server(conn, tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		return nil, trace.Wrap(err, "TLS handshake failed")
	}
	return tlsConn, nil
}
