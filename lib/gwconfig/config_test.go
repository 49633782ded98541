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

package gwconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse("gateway", "test", []string{
		"--graphql-url=https://wincc.example/graphql",
		"--no-auth-username=gateway",
		"--no-auth-password=secret",
	})
	require.NoError(t, err)
	require.Equal(t, defaultBindAddr, cfg.BindAddr)
	require.Equal(t, 2*time.Minute, cfg.SessionExtensionInterval)
	require.False(t, cfg.TLS.Enabled)
}

func TestParseNoAuthEnabledFlag(t *testing.T) {
	cfg, err := Parse("gateway", "test", []string{
		"--graphql-url=https://wincc.example/graphql",
		"--no-auth-username=gateway",
		"--no-auth-password=secret",
		"--no-auth-enabled",
	})
	require.NoError(t, err)
	require.True(t, cfg.NoAuthEnabled)
}

func TestParseRequiresGraphQLURL(t *testing.T) {
	_, err := Parse("gateway", "test", []string{
		"--no-auth-username=gateway",
		"--no-auth-password=secret",
	})
	require.Error(t, err)
}

func TestParseRejectsTLSWithoutCertAndKey(t *testing.T) {
	_, err := Parse("gateway", "test", []string{
		"--graphql-url=https://wincc.example/graphql",
		"--no-auth-username=gateway",
		"--no-auth-password=secret",
		"--tls-enabled",
	})
	require.Error(t, err)
}

func TestParseRejectsRequireClientCertWithoutCA(t *testing.T) {
	_, err := Parse("gateway", "test", []string{
		"--graphql-url=https://wincc.example/graphql",
		"--no-auth-username=gateway",
		"--no-auth-password=secret",
		"--tls-enabled",
		"--tls-cert=cert.pem",
		"--tls-key=key.pem",
		"--tls-require-client-cert",
	})
	require.Error(t, err)
}
