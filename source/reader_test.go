package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, input string) []string {
	t.Helper()
	var docs []string
	err := ReadDocuments(strings.NewReader(input), func(index int, raw json.RawMessage) error {
		assert.Equal(t, len(docs), index)
		docs = append(docs, string(raw))
		return nil
	})
	require.NoError(t, err)
	return docs
}

func TestReadDocuments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "ndjson",
			input: "{\"uri\":\"b1\"}\n{\"uri\":\"b2\"}\n",
			want:  []string{`{"uri":"b1"}`, `{"uri":"b2"}`},
		},
		{
			name:  "concatenated objects",
			input: `{"uri":"b1"} {"uri":"b2"}`,
			want:  []string{`{"uri":"b1"}`, `{"uri":"b2"}`},
		},
		{
			name:  "top-level array",
			input: `[{"uri":"b1"},{"uri":"b2"}]`,
			want:  []string{`{"uri":"b1"}`, `{"uri":"b2"}`},
		},
		{
			name:  "empty stream",
			input: "\n",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(t, tt.input)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.JSONEq(t, tt.want[i], got[i])
			}
		})
	}
}

func TestReadDocuments_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0

	err := ReadDocuments(strings.NewReader(`{"a":1}{"a":2}{"a":3}`), func(int, json.RawMessage) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

func TestReadDocuments_SyntaxError(t *testing.T) {
	err := ReadDocuments(strings.NewReader(`{"a":1} {"a":`), func(int, json.RawMessage) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode document 1")
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write(map[string]any{"subjectLiteral_exploded": []string{"Arts & Crafts"}}))
	require.NoError(t, w.Write(json.RawMessage(`{"uri":"b2"}`)))
	require.NoError(t, w.Flush())

	assert.Equal(t, 2, w.Count())
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"subjectLiteral_exploded":["Arts & Crafts"]}`, lines[0])
	assert.Equal(t, `{"uri":"b2"}`, lines[1])
}
