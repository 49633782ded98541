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

// Package catalog declares the fixed set of virtual tables the gateway
// exposes to SQL clients and the per-column metadata needed to translate
// between SQL types and GraphQL inputs/outputs.
package catalog

import (
	"strings"

	"github.com/gravitational/trace"
)

// ColumnType is the semantic type of a virtual column, independent of how
// it is eventually framed on the wire (text vs. binary is a format-code
// concern handled by the wire package).
type ColumnType int

const (
	// TypeText is a UTF-8 string column.
	TypeText ColumnType = iota
	// TypeInt is a 32-bit integer column.
	TypeInt
	// TypeBigInt is a 64-bit integer column.
	TypeBigInt
	// TypeDouble is a double-precision numeric column.
	TypeDouble
	// TypeTimestamp is a microsecond-precision timestamp column.
	TypeTimestamp
	// TypeBool is a boolean column.
	TypeBool
)

// Column describes one column of a virtual table.
type Column struct {
	// Name is the column's SQL identifier, always lower-case.
	Name string
	// Type is the column's semantic type.
	Type ColumnType
	// Virtual marks a column that appears only in SQL predicates: it maps
	// to a GraphQL input variable and is never materialized in a result row.
	Virtual bool
}

// Table is the static descriptor for one virtual table.
type Table struct {
	// Name is the table's SQL identifier, always lower-case.
	Name string
	// Columns is the ordered list of this table's columns, including
	// virtual ones.
	Columns []Column
}

// MaterializedColumns returns the subset of t.Columns that are not virtual,
// in declared order. This is the schema the columnar loader (F) and the
// embedded executor (G) actually see.
func (t Table) MaterializedColumns() []Column {
	out := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Virtual {
			out = append(out, c)
		}
	}
	return out
}

// Column looks up a column by name, case-insensitively. ok is false if the
// table has no such column.
func (t Table) Column(name string) (Column, bool) {
	name = strings.ToLower(name)
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

const (
	// TagValues is the current-value virtual table name.
	TagValues = "tagvalues"
	// LoggedTagValues is the historical-sample virtual table name.
	LoggedTagValues = "loggedtagvalues"
	// ActiveAlarms is the active-alarm virtual table name.
	ActiveAlarms = "activealarms"
	// LoggedAlarms is the historical-alarm virtual table name.
	LoggedAlarms = "loggedalarms"
	// TagList is the tag-catalog virtual table name.
	TagList = "taglist"
)

var tagValueColumns = []Column{
	{Name: "tag_name", Type: TypeText},
	{Name: "timestamp", Type: TypeTimestamp},
	{Name: "timestamp_ms", Type: TypeBigInt},
	{Name: "numeric_value", Type: TypeDouble},
	{Name: "string_value", Type: TypeText},
	{Name: "quality", Type: TypeText},
}

var activeAlarmColumns = []Column{
	{Name: "name", Type: TypeText},
	{Name: "instance_id", Type: TypeBigInt},
	{Name: "alarm_group_id", Type: TypeBigInt},
	{Name: "raise_time", Type: TypeTimestamp},
	{Name: "acknowledgment_time", Type: TypeTimestamp},
	{Name: "clear_time", Type: TypeTimestamp},
	{Name: "reset_time", Type: TypeTimestamp},
	{Name: "modification_time", Type: TypeTimestamp},
	{Name: "state", Type: TypeText},
	{Name: "priority", Type: TypeInt},
	{Name: "event_text", Type: TypeText},
	{Name: "info_text", Type: TypeText},
	{Name: "origin", Type: TypeText},
	{Name: "area", Type: TypeText},
	{Name: "value", Type: TypeText},
	{Name: "host_name", Type: TypeText},
	{Name: "user_name", Type: TypeText},
}

// tables holds the five fixed virtual-table descriptors, keyed by
// lower-case name.
var tables = map[string]Table{
	TagValues:       {Name: TagValues, Columns: tagValueColumns},
	LoggedTagValues: {Name: LoggedTagValues, Columns: tagValueColumns},
	ActiveAlarms:    {Name: ActiveAlarms, Columns: activeAlarmColumns},
	LoggedAlarms: {
		Name: LoggedAlarms,
		Columns: append(append([]Column{}, activeAlarmColumns...),
			Column{Name: "duration", Type: TypeBigInt},
			Column{Name: "filterstring", Type: TypeText, Virtual: true},
			Column{Name: "system_name", Type: TypeText, Virtual: true},
			Column{Name: "filter_language", Type: TypeText, Virtual: true},
		),
	},
	TagList: {
		Name: TagList,
		Columns: []Column{
			{Name: "tag_name", Type: TypeText},
			{Name: "display_name", Type: TypeText},
			{Name: "object_type", Type: TypeText},
			{Name: "data_type", Type: TypeText},
			{Name: "language", Type: TypeText, Virtual: true},
			{Name: "object_type_filter", Type: TypeText, Virtual: true},
		},
	},
}

// Names returns the virtual table names in a stable order, for use in hint
// fields of unknown-table errors.
func Names() []string {
	return []string{TagValues, LoggedTagValues, ActiveAlarms, LoggedAlarms, TagList}
}

// Lookup returns the descriptor for the named virtual table. Lookups are
// case-insensitive: a virtual table is identified by its logical name
// regardless of case.
func Lookup(name string) (Table, error) {
	t, ok := tables[strings.ToLower(name)]
	if !ok {
		return Table{}, trace.NotFound("unknown virtual table: %s", name)
	}
	return t, nil
}

// IsVirtualTable reports whether name refers to one of the five virtual
// tables, without returning an error for the "no" case.
func IsVirtualTable(name string) bool {
	_, ok := tables[strings.ToLower(name)]
	return ok
}
