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

// Package sqlplan parses one SQL statement and classifies it, producing
// either a session-utility acknowledgement, an introspection answer, or a
// QueryPlan against one of the five virtual tables. Classification is
// done over a real parsed AST rather than by matching regexes against the
// raw statement text.
package sqlplan

import (
	"time"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/catalog"
)

// Kind classifies a single parsed statement.
type Kind int

const (
	// KindSessionUtility covers SET/SHOW/RESET/BEGIN/COMMIT/ROLLBACK/
	// DISCARD/LISTEN/UNLISTEN and the empty statement.
	KindSessionUtility Kind = iota
	// KindIntrospection covers pg_catalog/information_schema queries and
	// scalar constants (version(), current_user, ...).
	KindIntrospection
	// KindVirtualTable covers a SELECT against one of the five virtual
	// tables.
	KindVirtualTable
)

// PredicateOp is the tagged-variant operator of a Predicate.
type PredicateOp int

const (
	OpEquals PredicateOp = iota
	OpIn
	OpLike
	OpLT
	OpLE
	OpGT
	OpGE
	OpBetween
)

// Predicate is one atomic condition extracted from a virtual-table SELECT's
// top-level WHERE conjunction.
type Predicate struct {
	Column string
	Op     PredicateOp
	// Value holds the operand for Equals/Like/LT/LE/GT/GE. Its dynamic type
	// is string, float64, int64, or time.Time depending on the column.
	Value interface{}
	// Values holds the operand list for In.
	Values []interface{}
	// Low/High hold the bounds for Between.
	Low, High interface{}
}

// OrderSpec is a single ORDER BY key.
type OrderSpec struct {
	Column string
	Desc   bool
}

// TimeWindow is the optional [from,to] bound extracted from timestamp
// predicates on loggedtagvalues/loggedalarms.
type TimeWindow struct {
	From, To       time.Time
	HasFrom, HasTo bool
}

// Plan is the normalized description of one classified statement.
type Plan struct {
	Kind Kind

	// --- KindSessionUtility ---
	CommandTag string // "SET", "SHOW", "RESET", "BEGIN", "COMMIT", "ROLLBACK", "DISCARD", "LISTEN", "UNLISTEN", or "" for an empty statement
	ShowName   string // lower-cased identifier following SHOW

	// --- KindIntrospection ---
	// ScalarSQL, when non-empty, is SQL text safe to execute directly
	// against the embedded executor with no table registered (covers
	// "SELECT 1", "SELECT version()", catalog queries rewritten to strip
	// schema qualifiers, etc).
	ScalarSQL string
	// CatalogBatchTable/CatalogRows describe a synthetic constant table
	// (pg_catalog.* / information_schema.*) to register before running
	// ScalarSQL; empty when not applicable.
	CatalogBatchTable string
	CatalogRows       []map[string]interface{}
	CatalogColumns    []catalog.Column

	// --- KindVirtualTable ---
	Table      catalog.Table
	Projection []string // nil means "all materialized columns"
	Aggregate  bool     // true when the SELECT list contains an aggregate function
	Predicates []Predicate
	Window     TimeWindow
	OrderBy    *OrderSpec
	Limit      *int64

	// SQLText is the original statement text, needed verbatim by the
	// embedded executor.
	SQLText string
}
