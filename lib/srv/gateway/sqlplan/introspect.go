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

package sqlplan

import "github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/catalog"

// pgTypeRows is a constant subset of pg_catalog.pg_type covering the OIDs
// the wire layer actually emits in a RowDescription, enough for a client's
// startup type-OID
// lookup to succeed without a real Postgres catalog behind it.
var pgTypeRows = []map[string]interface{}{
	{"oid": int64(23), "typname": "int4"},
	{"oid": int64(20), "typname": "int8"},
	{"oid": int64(701), "typname": "float8"},
	{"oid": int64(25), "typname": "text"},
	{"oid": int64(1114), "typname": "timestamp"},
	{"oid": int64(16), "typname": "bool"},
}

var pgTypeColumns = []catalog.Column{
	{Name: "oid", Type: catalog.TypeBigInt},
	{Name: "typname", Type: catalog.TypeText},
}

// pgNamespaceRows covers the three schemas a client's catalog probe ever asks
// about: the gateway's own virtual tables live in the default "public"
// namespace, plus the two synthetic catalog schemas themselves.
var pgNamespaceRows = []map[string]interface{}{
	{"oid": int64(11), "nspname": "pg_catalog"},
	{"oid": int64(99), "nspname": "information_schema"},
	{"oid": int64(2200), "nspname": "public"},
}

var pgNamespaceColumns = []catalog.Column{
	{Name: "oid", Type: catalog.TypeBigInt},
	{Name: "nspname", Type: catalog.TypeText},
}

var informationSchemaTablesColumns = []catalog.Column{
	{Name: "table_schema", Type: catalog.TypeText},
	{Name: "table_name", Type: catalog.TypeText},
}

// informationSchemaTablesRows lists the five virtual tables (schema
// "public") plus pg_catalog's pg_type and pg_namespace, so a client that
// enumerates information_schema.tables before querying finds the tables it
// will later SELECT from. information_schema.tables does not list itself.
func informationSchemaTablesRows() []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(catalog.Names())+2)
	for _, name := range catalog.Names() {
		rows = append(rows, map[string]interface{}{"table_schema": "public", "table_name": name})
	}
	rows = append(rows,
		map[string]interface{}{"table_schema": "pg_catalog", "table_name": "pg_type"},
		map[string]interface{}{"table_schema": "pg_catalog", "table_name": "pg_namespace"},
	)
	return rows
}

// isKnownCatalogTable reports whether catalogTable has synthetic constant
// rows for name, a recognized pg_catalog/information_schema table; it is
// false if name isn't one the gateway answers. Anything unrecognized still
// reaches the embedded
// executor (so "SELECT 1" style scalar expressions keep working) but will
// fail there with a missing-table error if it actually names a relation.
func isKnownCatalogTable(name string) bool {
	_, _, ok := catalogTable(name)
	return ok
}

func catalogTable(name string) (rows []map[string]interface{}, cols []catalog.Column, ok bool) {
	switch name {
	case "pg_type":
		return pgTypeRows, pgTypeColumns, true
	case "pg_namespace":
		return pgNamespaceRows, pgNamespaceColumns, true
	case "tables":
		return informationSchemaTablesRows(), informationSchemaTablesColumns, true
	default:
		return nil, nil, false
	}
}
