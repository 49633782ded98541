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

	"github.com/jackc/pgproto3/v2"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/sqlexec"
)

// handleSimpleQuery answers one 'Q' message. A message may carry several
// semicolon-separated statements; each gets its own
// CommandComplete (and RowDescription/DataRow set, if it returns rows), and
// exactly one ReadyForQuery is sent once every statement in the message has
// been processed, carrying the transaction status accumulated across them.
func (c *conn) handleSimpleQuery(ctx context.Context, sql string) {
	stmts := splitStatements(sql)
	if len(stmts) == 0 {
		_ = c.backend.Send(&pgproto3.EmptyQueryResponse{})
		_ = c.backend.Send(&pgproto3.ReadyForQuery{TxStatus: c.txStatus})
		return
	}

	for _, stmt := range stmts {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.QueriesTotal.WithLabelValues("simple").Inc()
		}
		out, err := c.run(ctx, stmt)
		if err != nil {
			c.sendError(err)
			c.txStatus = 'E'
			break
		}
		if out.result != nil {
			if err := c.sendResultSet(out.result, nil); err != nil {
				c.log.WithError(err).Debug("Failed writing result set.")
				break
			}
		}
		if err := c.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(out.tag)}); err != nil {
			c.log.WithError(err).Debug("Failed writing CommandComplete.")
			break
		}
		c.txStatus = nextTxStatus(c.txStatus, out.tag)
	}

	if err := c.backend.Send(&pgproto3.ReadyForQuery{TxStatus: c.txStatus}); err != nil {
		c.log.WithError(err).Debug("Failed writing ReadyForQuery.")
	}
}

// sendResultSet writes a RowDescription followed by one DataRow per row.
// formats is forwarded to rowDescription/dataRow; the simple query protocol
// always passes nil, meaning text for every column.
func (c *conn) sendResultSet(result *sqlexec.Result, formats []int16) error {
	if err := c.backend.Send(rowDescription(result, formats)); err != nil {
		return err
	}
	for _, row := range result.Rows {
		if err := c.backend.Send(dataRow(result, row, formats)); err != nil {
			return err
		}
	}
	c.logRows(result)
	return nil
}

// logRows emits up to cfg.LogSQLRows rows of a result at debug level, for
// operators diagnosing what a statement actually returned via the
// --log-sql flag. A non-positive LogSQLRows disables this entirely.
func (c *conn) logRows(result *sqlexec.Result) {
	if c.cfg.LogSQLRows <= 0 || len(result.Rows) == 0 {
		return
	}
	n := c.cfg.LogSQLRows
	if n > len(result.Rows) {
		n = len(result.Rows)
	}
	c.log.WithField("rows", result.Rows[:n]).Debug("Statement result rows.")
}
