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
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgproto3/v2"

	"github.com/gravitational/trace"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/sqlexec"
)

// preparedStatement is the result of Parse: the raw statement text with its
// parameter placeholders still in place, plus the coerced Postgres param
// type OIDs the client declared (if any — the gateway never infers types
// itself).
type preparedStatement struct {
	sql       string
	paramOIDs []uint32
	name      string
}

// portal is the result of Bind: because every statement the gateway runs is
// read-only, the query is executed eagerly at Bind time and its Result is
// cached here, so Describe and Execute both answer from the same cached
// Result rather than re-running anything or carrying partial-execution
// state across extended-query messages.
type portal struct {
	name            string
	resultFormats   []int16
	outcome         *outcome
	runErr          error
	sourceStatement string
}

func (c *conn) handleParse(m *pgproto3.Parse) {
	c.preparedStatements[m.Name] = &preparedStatement{
		sql:       m.Query,
		paramOIDs: m.ParameterOIDs,
		name:      m.Name,
	}
	_ = c.backend.Send(&pgproto3.ParseComplete{})
}

// placeholderPattern matches "$1", "$2::int", "$3::text" style parameter
// references in the statement text, so Bind can substitute literal values
// before the statement is handed to the classifier — the gateway has no
// notion of a parameterized plan, only of literal SQL.
var placeholderPattern = regexp.MustCompile(`\$(\d+)(::\w+)?`)

func (c *conn) handleBind(ctx context.Context, m *pgproto3.Bind) {
	stmt, ok := c.preparedStatements[m.PreparedStatement]
	if !ok {
		c.sendError(trace.BadParameter("unknown prepared statement %q", m.PreparedStatement))
		return
	}

	sql, err := substituteParams(stmt.sql, m.Parameters, m.ParameterFormatCodes)
	if err != nil {
		if m.DestinationPortal == "" {
			delete(c.portals, "")
		} else {
			c.portals[m.DestinationPortal] = &portal{name: m.DestinationPortal, runErr: err}
		}
		c.sendError(err)
		return
	}

	out, runErr := c.run(ctx, sql)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.QueriesTotal.WithLabelValues("extended").Inc()
	}
	c.portals[m.DestinationPortal] = &portal{
		name:            m.DestinationPortal,
		resultFormats:   m.ResultFormatCodes,
		outcome:         out,
		runErr:          runErr,
		sourceStatement: sql,
	}
	_ = c.backend.Send(&pgproto3.BindComplete{})
}

// substituteParams replaces every $N reference in sql with the bound
// parameter's literal text, quoting string-typed values. Binary-format
// parameters are rejected: the gateway only accepts text-format bind
// parameters, since every virtual column the planner understands is
// expressed as a SQL literal, never as a raw binary value.
func substituteParams(sql string, params [][]byte, formats []int16) (string, error) {
	var substErr error
	out := placeholderPattern.ReplaceAllStringFunc(sql, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		idx, err := strconv.Atoi(groups[1])
		if err != nil || idx < 1 || idx > len(params) {
			substErr = trace.BadParameter("parameter %s out of range", match)
			return match
		}
		format := int16(0)
		if len(formats) == 1 {
			format = formats[0]
		} else if idx-1 < len(formats) {
			format = formats[idx-1]
		}
		if format != 0 {
			substErr = trace.BadParameter("binary-format bind parameters are not supported")
			return match
		}
		value := string(params[idx-1])
		castType := strings.TrimPrefix(groups[2], "::")
		return literalFor(value, castType)
	})
	if substErr != nil {
		return "", substErr
	}
	return out, nil
}

// literalFor renders a bound parameter's text value as a SQL literal,
// quoting it unless its declared cast names a numeric type.
func literalFor(value, castType string) string {
	switch strings.ToLower(castType) {
	case "int", "int4", "int8", "bigint", "integer", "float8", "double precision", "numeric", "real":
		return value
	default:
		return "'" + strings.ReplaceAll(value, "'", "''") + "'"
	}
}

func (c *conn) handleDescribe(m *pgproto3.Describe) {
	switch m.ObjectType {
	case 'S':
		stmt, ok := c.preparedStatements[m.Name]
		if !ok {
			c.sendError(trace.BadParameter("unknown prepared statement %q", m.Name))
			return
		}
		_ = c.backend.Send(&pgproto3.ParameterDescription{ParameterOIDs: stmt.paramOIDs})
		c.describeResultOf(nil, nil)
	case 'P':
		p, ok := c.portals[m.Name]
		if !ok {
			c.sendError(trace.BadParameter("unknown portal %q", m.Name))
			return
		}
		if p.runErr != nil {
			c.sendError(p.runErr)
			return
		}
		c.describeResultOf(p.outcome, p.resultFormats)
	}
}

func (c *conn) describeResultOf(out *outcome, formats []int16) {
	if out == nil || out.result == nil {
		_ = c.backend.Send(&pgproto3.NoData{})
		return
	}
	_ = c.backend.Send(rowDescription(out.result, formats))
}

func (c *conn) handleExecute(m *pgproto3.Execute) {
	p, ok := c.portals[m.Portal]
	if !ok {
		c.sendError(trace.BadParameter("unknown portal %q", m.Portal))
		return
	}
	if p.runErr != nil {
		c.sendError(p.runErr)
		c.txStatus = 'E'
		if m.Portal == "" {
			delete(c.portals, "")
		}
		return
	}
	if p.outcome.result != nil {
		rows := p.outcome.result.Rows
		if m.MaxRows > 0 && int(m.MaxRows) < len(rows) {
			rows = rows[:m.MaxRows]
		}
		truncated := &sqlexec.Result{Columns: p.outcome.result.Columns, Rows: rows}
		if err := c.sendResultSet(truncated, p.resultFormats); err != nil {
			c.log.WithError(err).Debug("Failed writing result set.")
			return
		}
	}
	_ = c.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(p.outcome.tag)})
	c.txStatus = nextTxStatus(c.txStatus, p.outcome.tag)
}

func (c *conn) handleClose(m *pgproto3.Close) {
	switch m.ObjectType {
	case 'S':
		delete(c.preparedStatements, m.Name)
	case 'P':
		delete(c.portals, m.Name)
	}
	_ = c.backend.Send(&pgproto3.CloseComplete{})
}

func (c *conn) handleSync() {
	if c.txStatus == 'E' {
		c.txStatus = 'I'
	}
	// The unnamed portal does not survive a Sync: a client that wants to
	// Execute it again must re-Bind first.
	delete(c.portals, "")
	_ = c.backend.Send(&pgproto3.ReadyForQuery{TxStatus: c.txStatus})
}
