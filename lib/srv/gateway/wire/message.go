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

package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jackc/pgproto3/v2"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/catalog"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/sqlexec"
)

// Postgres built-in type OIDs for the scalar types the gateway's columns
// ever take: text, int, bigint, double, timestamp, plus bool.
const (
	oidBool      = 16
	oidInt8      = 20
	oidInt4      = 23
	oidText      = 25
	oidFloat8    = 701
	oidTimestamp = 1114
)

func oidFor(t catalog.ColumnType) uint32 {
	switch t {
	case catalog.TypeBool:
		return oidBool
	case catalog.TypeBigInt:
		return oidInt8
	case catalog.TypeInt:
		return oidInt4
	case catalog.TypeDouble:
		return oidFloat8
	case catalog.TypeTimestamp:
		return oidTimestamp
	default:
		return oidText
	}
}

// rowDescription builds a RowDescription for result, requesting the given
// per-column format codes. An empty formats slice means "text for every
// column", matching Postgres's own default.
func rowDescription(result *sqlexec.Result, formats []int16) *pgproto3.RowDescription {
	fields := make([]pgproto3.FieldDescription, len(result.Columns))
	for i, c := range result.Columns {
		format := int16(0)
		if len(formats) == 1 {
			format = formats[0]
		} else if i < len(formats) {
			format = formats[i]
		}
		fields[i] = pgproto3.FieldDescription{
			Name:                 []byte(c.Name),
			TableOID:             0,
			TableAttributeNumber: 0,
			DataTypeOID:          oidFor(c.Type),
			DataTypeSize:         -1,
			TypeModifier:         -1,
			Format:               format,
		}
	}
	return &pgproto3.RowDescription{Fields: fields}
}

// dataRow encodes one result row using the same per-column format codes
// rowDescription was given. Binary encoding covers every fixed-width type
// (int, bigint, double, bool, timestamp); numeric and text columns are
// always sent as text regardless of the requested format.
func dataRow(result *sqlexec.Result, row []interface{}, formats []int16) *pgproto3.DataRow {
	values := make([][]byte, len(result.Columns))
	for i, c := range result.Columns {
		format := int16(0)
		if len(formats) == 1 {
			format = formats[0]
		} else if i < len(formats) {
			format = formats[i]
		}
		values[i] = encodeValue(c.Type, row[i], format)
	}
	return &pgproto3.DataRow{Values: values}
}

func encodeValue(t catalog.ColumnType, v interface{}, format int16) []byte {
	if v == nil {
		return nil
	}
	if format == 1 {
		if b, ok := encodeBinary(t, v); ok {
			return b
		}
	}
	return []byte(textValue(t, v))
}

func textValue(t catalog.ColumnType, v interface{}) string {
	if t == catalog.TypeTimestamp {
		if tm, ok := storedTime(v); ok {
			return tm.UTC().Format("2006-01-02 15:04:05.999999")
		}
	}
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "t"
		}
		return "f"
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05.999999")
	default:
		return fmt.Sprintf("%v", x)
	}
}

// storedTime parses the embedded executor's RFC3339Nano text representation
// of a timestamp column back into a time.Time. The executor stores
// timestamps as text so SQLite's own operators keep working on them; the
// wire layer needs the parsed value back to emit either Postgres's
// "YYYY-MM-DD HH:MM:SS" text format or the binary epoch-microseconds one.
func storedTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		return t, err == nil
	case []byte:
		t, err := time.Parse(time.RFC3339Nano, string(x))
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

func encodeBinary(t catalog.ColumnType, v interface{}) ([]byte, bool) {
	switch t {
	case catalog.TypeInt:
		n, ok := asInt64(v)
		if !ok {
			return nil, false
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(int32(n)))
		return buf, true
	case catalog.TypeBigInt:
		n, ok := asInt64(v)
		if !ok {
			return nil, false
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		return buf, true
	case catalog.TypeDouble:
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(f))
		return buf, true
	case catalog.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, false
		}
		if b {
			return []byte{1}, true
		}
		return []byte{0}, true
	case catalog.TypeTimestamp:
		tm, ok := storedTime(v)
		if !ok {
			return nil, false
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(tm.UTC().Sub(pgEpoch).Microseconds()))
		return buf, true
	default:
		return nil, false
	}
}

// pgEpoch is the reference instant Postgres's binary timestamp format
// counts microseconds from.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func asInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

// commandTag formats the CommandComplete tag for a statement, following
// Postgres's "SELECT <n>" convention for row-returning statements.
func commandTag(verb string, rowCount int) string {
	switch verb {
	case "SELECT", "SHOW":
		return fmt.Sprintf("%s %d", verb, rowCount)
	default:
		return verb
	}
}
