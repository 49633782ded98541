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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitStatementsBasic(t *testing.T) {
	stmts := splitStatements("BEGIN; SELECT 1; COMMIT;")
	require.Equal(t, []string{"BEGIN", " SELECT 1", " COMMIT"}, stmts)
}

func TestSplitStatementsNoTrailingSemicolon(t *testing.T) {
	stmts := splitStatements("SELECT 1")
	require.Equal(t, []string{"SELECT 1"}, stmts)
}

func TestSplitStatementsEmpty(t *testing.T) {
	require.Empty(t, splitStatements(""))
	require.Empty(t, splitStatements("   "))
}

func TestSplitStatementsIgnoresSemicolonInsideQuotes(t *testing.T) {
	stmts := splitStatements(`SELECT * FROM tagvalues WHERE tag_name = 'a;b'`)
	require.Equal(t, []string{`SELECT * FROM tagvalues WHERE tag_name = 'a;b'`}, stmts)
}

func TestNextTxStatusTransitionsThroughTransaction(t *testing.T) {
	status := byte('I')
	status = nextTxStatus(status, "BEGIN")
	require.Equal(t, byte('T'), status)
	status = nextTxStatus(status, "SELECT 1")
	require.Equal(t, byte('T'), status)
	status = nextTxStatus(status, "COMMIT")
	require.Equal(t, byte('I'), status)
}
