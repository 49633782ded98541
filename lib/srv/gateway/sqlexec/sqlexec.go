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

// Package sqlexec is the embedded SQL engine: every virtual-table SELECT,
// including pure aggregations, is executed by registering its fetched
// columnar batch as a named table in a scratch SQLite database and running
// the client's original SQL text verbatim against it. This is the single
// uniform execution path; there is no "direct passthrough" shortcut for
// simple queries.
package sqlexec

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"github.com/gravitational/trace"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/catalog"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/columnar"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/pgerr"
)

// Result is the typed, ordered output of a query run through the embedded
// executor. Its column order and types, not the catalog's, determine the
// RowDescription sent to the client.
type Result struct {
	Columns []ResultColumn
	Rows    [][]interface{}
}

// ResultColumn describes one output column of a Result.
type ResultColumn struct {
	Name string
	Type catalog.ColumnType
}

// Run registers batch as a table named table.Name and executes sql
// (the client's verbatim statement text) against it, returning the
// resulting columns and rows. A nil batch runs sqlText with no table
// registered at all, for scalar introspection statements such as
// "SELECT 1" or a synthetic pg_catalog query already rewritten to
// reference no external table.
func Run(batch *columnar.Batch, sqlText string) (*Result, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindInternal, err, "opening embedded executor")
	}
	defer db.Close()

	if batch != nil {
		if err := createTable(db, batch); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := insertRows(db, batch); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	rows, err := db.Query(sqlText)
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindParse, err, "executing query against embedded table")
	}
	defer rows.Close()

	result, err := scanResult(rows, declaredTypes(batch))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result, nil
}

// declaredTypes maps a registered table's column names to their catalog
// types, so scanResult can report e.g. timestamp/bool columns correctly
// instead of falling back to whatever generic affinity SQLite's driver
// reports for the TEXT/INTEGER storage class they're persisted under.
// Columns produced by an expression (COUNT(*), a scalar introspection
// literal) have no entry and fall back to that generic inference.
func declaredTypes(batch *columnar.Batch) map[string]catalog.ColumnType {
	if batch == nil {
		return nil
	}
	types := make(map[string]catalog.ColumnType, len(batch.Columns))
	for _, c := range batch.Columns {
		types[strings.ToLower(c.Name)] = c.Type
	}
	return types
}

func sqliteType(t catalog.ColumnType) string {
	switch t {
	case catalog.TypeText:
		return "TEXT"
	case catalog.TypeInt, catalog.TypeBigInt:
		return "INTEGER"
	case catalog.TypeDouble:
		return "REAL"
	case catalog.TypeBool:
		return "INTEGER"
	case catalog.TypeTimestamp:
		// Stored as RFC3339Nano text so SQLite's text comparison operators
		// and the client's own predicates over "timestamp" continue to
		// work lexically in the same way they did pre-filter, at GraphQL
		// call time.
		return "TEXT"
	default:
		return "TEXT"
	}
}

func createTable(db *sql.DB, batch *columnar.Batch) error {
	var cols []string
	for _, c := range batch.Columns {
		cols = append(cols, fmt.Sprintf("%q %s", c.Name, sqliteType(c.Type)))
	}
	stmt := fmt.Sprintf("CREATE TABLE %q (%s)", batch.Table.Name, strings.Join(cols, ", "))
	if _, err := db.Exec(stmt); err != nil {
		return pgerr.Wrap(pgerr.KindInternal, err, "creating embedded table %s", batch.Table.Name)
	}
	return nil
}

func insertRows(db *sql.DB, batch *columnar.Batch) error {
	if batch.Len == 0 {
		return nil
	}
	names := make([]string, len(batch.Columns))
	placeholders := make([]string, len(batch.Columns))
	for i, c := range batch.Columns {
		names[i] = fmt.Sprintf("%q", c.Name)
		placeholders[i] = "?"
	}
	stmt := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", batch.Table.Name,
		strings.Join(names, ", "), strings.Join(placeholders, ", "))

	prepared, err := db.Prepare(stmt)
	if err != nil {
		return pgerr.Wrap(pgerr.KindInternal, err, "preparing embedded insert")
	}
	defer prepared.Close()

	for row := 0; row < batch.Len; row++ {
		args := make([]interface{}, len(batch.Columns))
		for i, c := range batch.Columns {
			args[i] = rowValue(c, row)
		}
		if _, err := prepared.Exec(args...); err != nil {
			return pgerr.Wrap(pgerr.KindInternal, err, "inserting row %d into embedded table", row)
		}
	}
	return nil
}

func rowValue(c columnar.Column, row int) interface{} {
	if c.Null[row] {
		return nil
	}
	switch c.Type {
	case catalog.TypeText:
		return c.Text[row]
	case catalog.TypeInt, catalog.TypeBigInt:
		return c.Int[row]
	case catalog.TypeDouble:
		return c.Double[row]
	case catalog.TypeBool:
		return c.Bool[row]
	case catalog.TypeTimestamp:
		return c.Time[row].UTC().Format(time.RFC3339Nano)
	default:
		return nil
	}
}

func scanResult(rows *sql.Rows, declared map[string]catalog.ColumnType) (*Result, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindInternal, err, "reading embedded result column types")
	}
	result := &Result{Columns: make([]ResultColumn, len(colTypes))}
	for i, ct := range colTypes {
		t, ok := declared[strings.ToLower(ct.Name())]
		if !ok {
			t = resultColumnType(ct)
		}
		result.Columns[i] = ResultColumn{Name: ct.Name(), Type: t}
	}

	for rows.Next() {
		scanTargets := make([]interface{}, len(colTypes))
		scanValues := make([]interface{}, len(colTypes))
		for i := range scanTargets {
			scanTargets[i] = &scanValues[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, pgerr.Wrap(pgerr.KindInternal, err, "scanning embedded result row")
		}
		result.Rows = append(result.Rows, scanValues)
	}
	if err := rows.Err(); err != nil {
		return nil, pgerr.Wrap(pgerr.KindInternal, err, "iterating embedded result rows")
	}
	return result, nil
}

func resultColumnType(ct *sql.ColumnType) catalog.ColumnType {
	switch strings.ToUpper(ct.DatabaseTypeName()) {
	case "INTEGER":
		return catalog.TypeBigInt
	case "REAL":
		return catalog.TypeDouble
	default:
		return catalog.TypeText
	}
}
