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

func TestSubstituteParamsCastIntLiteralUnquoted(t *testing.T) {
	sql, err := substituteParams("SELECT $1::int + 1", [][]byte{[]byte("41")}, nil)
	require.NoError(t, err)
	require.Equal(t, "SELECT 41 + 1", sql)
}

func TestSubstituteParamsDefaultsToQuotedString(t *testing.T) {
	sql, err := substituteParams("SELECT * FROM tagvalues WHERE tag_name = $1", [][]byte{[]byte("HMI_Tag_1")}, nil)
	require.NoError(t, err)
	require.Equal(t, "SELECT * FROM tagvalues WHERE tag_name = 'HMI_Tag_1'", sql)
}

func TestSubstituteParamsEscapesQuotes(t *testing.T) {
	sql, err := substituteParams("SELECT $1", [][]byte{[]byte("O'Brien")}, nil)
	require.NoError(t, err)
	require.Equal(t, "SELECT 'O''Brien'", sql)
}

func TestSubstituteParamsRejectsBinaryFormat(t *testing.T) {
	_, err := substituteParams("SELECT $1", [][]byte{[]byte{0, 0, 0, 42}}, []int16{1})
	require.Error(t, err)
}

func TestSubstituteParamsRejectsOutOfRangeIndex(t *testing.T) {
	_, err := substituteParams("SELECT $2", [][]byte{[]byte("x")}, nil)
	require.Error(t, err)
}
