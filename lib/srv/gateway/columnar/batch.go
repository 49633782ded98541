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

// Package columnar shapes GraphQL responses into columnar batches matching
// a virtual table's materialized schema, ready to be loaded into the
// embedded SQL executor.
package columnar

import (
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/catalog"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/pgerr"
)

// Batch is a set of equally sized typed columns plus a null-bitmap per
// column, scoped to a single virtual-table query. Its lifetime is a single
// query: built by a Builder, registered with the embedded executor, and
// discarded once rows have been written to the client.
type Batch struct {
	// Table is the virtual table this batch materializes.
	Table catalog.Table
	// Columns holds one entry per materialized (non-virtual) column of
	// Table, in schema order.
	Columns []Column
	// Len is the number of rows in the batch.
	Len int
}

// Column is one typed, nullable column of a Batch.
type Column struct {
	Name string
	Type catalog.ColumnType
	// Null marks, per row index, whether the value at that index is SQL
	// NULL. The underlying typed slice's value at a NULL index is ignored.
	Null []bool

	Text []string
	// Int backs both TypeInt and TypeBigInt columns. The concrete storage
	// per row is determined by Type, so only one of Text/Int/Double/Bool/Time
	// is read for a given column.
	Int    []int64
	Double []float64
	Bool   []bool
	Time   []time.Time
	// TimeMillis is not filled by Builder: the timestamp_ms column is an
	// ordinary TypeBigInt column whose Int values Finish derives from the
	// timestamp column.
	TimeMillis []int64
}

// Builder accumulates rows for one virtual table query and produces a
// Batch. Builder is not safe for concurrent use; each query owns its own.
type Builder struct {
	table   catalog.Table
	columns []Column
	index   map[string]int
	len     int
}

// NewBuilder creates a Builder for the materialized columns of table.
func NewBuilder(table catalog.Table) *Builder {
	mat := table.MaterializedColumns()
	columns := make([]Column, len(mat))
	index := make(map[string]int, len(mat))
	for i, c := range mat {
		columns[i] = Column{Name: c.Name, Type: c.Type}
		index[c.Name] = i
	}
	return &Builder{table: table, columns: columns, index: index}
}

// AddRow appends one row. values must contain an entry for every
// materialized column name; a missing entry is stored as SQL NULL. Values
// are converted according to each column's declared type.
func (b *Builder) AddRow(values map[string]interface{}) error {
	for name, idx := range b.index {
		col := &b.columns[idx]
		raw, present := values[name]
		col.Null = append(col.Null, !present || raw == nil)
		if err := appendValue(col, raw, present); err != nil {
			return trace.Wrap(err)
		}
	}
	b.len++
	return nil
}

func appendValue(col *Column, raw interface{}, present bool) error {
	switch col.Type {
	case catalog.TypeText:
		s, _ := raw.(string)
		col.Text = append(col.Text, s)
	case catalog.TypeInt:
		v, err := toInt64(raw, present)
		if err != nil {
			return err
		}
		col.Int = append(col.Int, v)
	case catalog.TypeBigInt:
		v, err := toInt64(raw, present)
		if err != nil {
			return err
		}
		col.Int = append(col.Int, v)
	case catalog.TypeDouble:
		v, err := toFloat64(raw, present)
		if err != nil {
			return err
		}
		col.Double = append(col.Double, v)
	case catalog.TypeBool:
		bv, _ := raw.(bool)
		col.Bool = append(col.Bool, bv)
	case catalog.TypeTimestamp:
		t, err := toTime(raw, present)
		if err != nil {
			return err
		}
		col.Time = append(col.Time, t)
	default:
		return trace.BadParameter("unsupported column type for %s", col.Name)
	}
	return nil
}

func toInt64(raw interface{}, present bool) (int64, error) {
	if !present || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return 0, nil
	default:
		return 0, pgerr.New(pgerr.KindBackend, "unrepresentable integer value %v", raw)
	}
}

func toFloat64(raw interface{}, present bool) (float64, error) {
	if !present || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		// Numeric values arriving as strings (common for GraphQL scalar
		// encodings of large numbers) that cannot parse as a double are
		// rejected.
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, pgerr.New(pgerr.KindBackend, "numeric value %q is not representable as double", v)
		}
		return f, nil
	default:
		return 0, pgerr.New(pgerr.KindBackend, "unrepresentable numeric value %v", raw)
	}
}

func toTime(raw interface{}, present bool) (time.Time, error) {
	if !present || raw == nil {
		return time.Time{}, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, pgerr.Wrap(pgerr.KindBackend, err, "parsing timestamp %q", v)
		}
		return t, nil
	default:
		return time.Time{}, pgerr.New(pgerr.KindBackend, "unrepresentable timestamp value %v", raw)
	}
}

// Finish produces the immutable Batch, deriving timestamp_ms from
// timestamp where both columns are present: timestamps are stored in both
// microsecond-precision form and as an integer millisecond epoch in
// timestamp_ms.
func (b *Builder) Finish() *Batch {
	var tsIdx, tsMsIdx = -1, -1
	for i, c := range b.columns {
		switch c.Name {
		case "timestamp":
			tsIdx = i
		case "timestamp_ms":
			tsMsIdx = i
		}
	}
	if tsIdx >= 0 && tsMsIdx >= 0 {
		ts := &b.columns[tsIdx]
		tsMs := &b.columns[tsMsIdx]
		tsMs.Int = tsMs.Int[:0]
		tsMs.Null = tsMs.Null[:0]
		for i := 0; i < b.len; i++ {
			tsMs.Null = append(tsMs.Null, ts.Null[i])
			if ts.Null[i] {
				tsMs.Int = append(tsMs.Int, 0)
			} else {
				tsMs.Int = append(tsMs.Int, ts.Time[i].UnixMilli())
			}
		}
	}
	return &Batch{Table: b.table, Columns: b.columns, Len: b.len}
}
