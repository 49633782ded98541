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

// Package pgerr maps the gateway's closed internal error taxonomy onto
// Postgres wire ErrorResponse fields, including the SQLSTATE code. It is
// the only place that constructs a pgproto3.ErrorResponse from an internal
// error — every other package just returns a trace.Error.
package pgerr

import (
	"errors"

	"github.com/gravitational/trace"
	"github.com/jackc/pgproto3/v2"
)

// Kind tags an internal error with one of a closed set of taxonomy values.
// Kind is attached via Wrap and recovered with KindOf.
type Kind int

const (
	// KindInternal is an unclassified internal failure.
	KindInternal Kind = iota
	// KindAuth is an authentication failure.
	KindAuth
	// KindParse is a SQL syntax error.
	KindParse
	// KindUnsupportedTable is a reference to an unknown table.
	KindUnsupportedTable
	// KindUnsupportedStatement is a syntactically valid but unhandled
	// statement (DML/DDL/unknown construct).
	KindUnsupportedStatement
	// KindFilterMissing is a virtual-table SELECT missing a required
	// tag_name predicate.
	KindFilterMissing
	// KindBackend is a GraphQL backend failure (non-auth).
	KindBackend
)

// sqlState maps each Kind to the SQLSTATE code reported on the wire.
var sqlState = map[Kind]string{
	KindInternal:             "XX000",
	KindAuth:                 "28P01",
	KindParse:                "42601",
	KindUnsupportedTable:     "42P01",
	KindUnsupportedStatement: "0A000",
	KindFilterMissing:        "42000",
	KindBackend:              "08000",
}

// taggedError carries a Kind alongside the wrapped error so KindOf can
// recover it without a global error registry.
type taggedError struct {
	kind Kind
	err  error
}

func (t *taggedError) Error() string { return t.err.Error() }
func (t *taggedError) Unwrap() error { return t.err }

// Wrap tags err with kind and wraps it with trace for a stack trace and
// message chain. A nil err returns nil, matching trace.Wrap's contract.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return trace.Wrap(&taggedError{kind: kind, err: err}, format, args...)
}

// New creates a new Kind-tagged error without an underlying cause.
func New(kind Kind, format string, args ...interface{}) error {
	return Wrap(kind, trace.Errorf(format, args...), "")
}

// KindOf recovers the Kind tagged onto err via Wrap/New. Errors that were
// never tagged (e.g. raw I/O errors) are reported as KindInternal.
func KindOf(err error) Kind {
	var te *taggedError
	if errors.As(trace.Unwrap(err), &te) {
		return te.kind
	}
	// trace.Unwrap only removes trace's own wrapping; walk further in case
	// of multiple trace.Wrap layers.
	for e := err; e != nil; e = errors.Unwrap(e) {
		var t *taggedError
		if errors.As(e, &t) {
			return t.kind
		}
	}
	return KindInternal
}

// ToErrorResponse converts an internal error into a wire ErrorResponse.
// Severity is always "ERROR" (never "FATAL") so the connection survives.
// FATAL responses are constructed directly by the connection state machine
// for the narrow set of cases that must close the connection (missing
// startup user, bad auth).
func ToErrorResponse(err error) *pgproto3.ErrorResponse {
	kind := KindOf(err)
	code, ok := sqlState[kind]
	if !ok {
		code = sqlState[KindInternal]
	}
	resp := &pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     code,
		Message:  trace.UserMessage(err),
	}
	if kind == KindUnsupportedTable {
		resp.Hint = "Known virtual tables: tagvalues, loggedtagvalues, activealarms, loggedalarms, taglist"
	}
	if kind == KindFilterMissing {
		resp.Hint = "tagvalues and loggedtagvalues require a predicate on tag_name (=, IN, or LIKE)"
	}
	return resp
}

// ToFatalErrorResponse builds a FATAL severity ErrorResponse for the
// connection-ending cases (missing user, bad credentials). A failed TLS
// handshake closes the connection without any ErrorResponse.
func ToFatalErrorResponse(code, message string) *pgproto3.ErrorResponse {
	return &pgproto3.ErrorResponse{
		Severity: "FATAL",
		Code:     code,
		Message:  message,
	}
}
