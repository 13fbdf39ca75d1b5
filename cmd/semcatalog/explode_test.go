package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c360studio/semcatalog/document"
	"github.com/c360studio/semcatalog/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocs = `{"uri":"doc-1","subjectLiteral":["Arabian Peninsula -- Religion -- Ancient History."]}
{"uri":"doc-2","title":"No subjects"}
{"uri":"doc-3","subjectLiteral":["Fine.", 42]}
{"uri":"doc-4","subjectLiteral":[]}
`

func newTestExploder(policy document.InvalidPolicy, outDir string) (*exploder, *bytes.Buffer) {
	var stdout bytes.Buffer
	return &exploder{
		policy: policy,
		outDir: outDir,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		stdout: &stdout,
	}, &stdout
}

// decodeLines parses NDJSON output into generic maps.
func decodeLines(t *testing.T, data string) []map[string]any {
	t.Helper()
	var docs []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(data), "\n") {
		if line == "" {
			continue
		}
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &doc), "line: %s", line)
		docs = append(docs, doc)
	}
	return docs
}

func TestExplodeStream_Policies(t *testing.T) {
	tests := []struct {
		name      string
		policy    document.InvalidPolicy
		wantURIs  []string
		wantStats explodeStats
		wantErr   bool
	}{
		{
			name:      "reject drops invalid documents",
			policy:    document.PolicyReject,
			wantURIs:  []string{"doc-1", "doc-2", "doc-4"},
			wantStats: explodeStats{Documents: 4, Exploded: 2, Skipped: 1, Rejected: 1},
		},
		{
			name:      "passthrough keeps invalid documents",
			policy:    document.PolicyPassthrough,
			wantURIs:  []string{"doc-1", "doc-2", "doc-3", "doc-4"},
			wantStats: explodeStats{Documents: 4, Exploded: 2, Skipped: 1, Passthrough: 1},
		},
		{
			name:      "fail stops at the invalid document",
			policy:    document.PolicyFail,
			wantURIs:  []string{"doc-1", "doc-2"},
			wantStats: explodeStats{Documents: 3, Exploded: 1, Skipped: 1},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, stdout := newTestExploder(tt.policy, "")
			w := source.NewWriter(stdout)

			stats, err := ex.explodeStream(strings.NewReader(sampleDocs), w, "test")
			require.NoError(t, w.Flush())

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errInvalidDocument)
				assert.ErrorIs(t, err, document.ErrInvalidElement)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStats, stats)

			var uris []string
			for _, doc := range decodeLines(t, stdout.String()) {
				uris = append(uris, doc["uri"].(string))
			}
			assert.Equal(t, tt.wantURIs, uris)
		})
	}
}

func TestExplodeStream_Output(t *testing.T) {
	ex, stdout := newTestExploder(document.PolicyPassthrough, "")
	w := source.NewWriter(stdout)

	_, err := ex.explodeStream(strings.NewReader(sampleDocs), w, "test")
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	docs := decodeLines(t, stdout.String())
	require.Len(t, docs, 4)

	assert.Equal(t, []any{
		"Arabian Peninsula",
		"Arabian Peninsula -- Religion",
		"Arabian Peninsula -- Religion -- Ancient History",
	}, docs[0][document.FieldSubjectLiteralExploded])

	_, ok := docs[1][document.FieldSubjectLiteralExploded]
	assert.False(t, ok, "document without subjects must not gain the derived field")

	_, ok = docs[2][document.FieldSubjectLiteralExploded]
	assert.False(t, ok, "passthrough document must be unchanged")

	assert.Equal(t, []any{}, docs[3][document.FieldSubjectLiteralExploded])
}

func TestExplodeStream_MalformedJSON(t *testing.T) {
	ex, stdout := newTestExploder(document.PolicyPassthrough, "")
	w := source.NewWriter(stdout)

	_, err := ex.explodeStream(strings.NewReader(`{"uri":"a"} {"uri":`), w, "broken.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.json")
}

func TestExplodeFiles_OutDir(t *testing.T) {
	inDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "prepared")

	first := filepath.Join(inDir, "first.json")
	second := filepath.Join(inDir, "second.ndjson")
	require.NoError(t, os.WriteFile(first, []byte(`[{"uri":"a","subjectLiteral":["A -- B."]}]`), 0644))
	require.NoError(t, os.WriteFile(second, []byte(`{"uri":"b"}`+"\n"), 0644))

	ex, stdout := newTestExploder(document.PolicyReject, outDir)
	stats, err := ex.explodeFiles([]string{first, second})
	require.NoError(t, err)

	assert.Equal(t, explodeStats{Documents: 2, Exploded: 1, Skipped: 1}, stats)
	assert.Empty(t, stdout.String())

	data, err := os.ReadFile(filepath.Join(outDir, "first.ndjson"))
	require.NoError(t, err)
	docs := decodeLines(t, string(data))
	require.Len(t, docs, 1)
	assert.Equal(t, []any{"A", "A -- B"}, docs[0][document.FieldSubjectLiteralExploded])

	_, err = os.Stat(filepath.Join(outDir, "second.ndjson"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "temporary file left behind: %s", entry.Name())
	}
}

func TestExplodeFiles_Stdout(t *testing.T) {
	inDir := t.TempDir()
	path := filepath.Join(inDir, "docs.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(sampleDocs), 0644))

	ex, stdout := newTestExploder(document.PolicyReject, "")
	stats, err := ex.explodeFiles([]string{path})
	require.NoError(t, err)

	assert.Equal(t, 3, len(decodeLines(t, stdout.String())))
	assert.Equal(t, 1, stats.Rejected)
}

func TestHandleWatchEvent_Delete(t *testing.T) {
	outDir := t.TempDir()
	outPath := filepath.Join(outDir, "gone.ndjson")
	require.NoError(t, os.WriteFile(outPath, []byte("{}\n"), 0644))

	ex, _ := newTestExploder(document.PolicyReject, outDir)
	err := ex.handleWatchEvent(source.WatchEvent{
		Path:      "gone.json",
		AbsPath:   "/watched/gone.json",
		Operation: source.WatchOpDelete,
	})
	require.NoError(t, err)

	_, err = os.Stat(outPath)
	assert.True(t, os.IsNotExist(err))

	// Deleting again is not an error.
	assert.NoError(t, ex.handleWatchEvent(source.WatchEvent{
		AbsPath:   "/watched/gone.json",
		Operation: source.WatchOpDelete,
	}))
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "records.ndjson"), outputPath("out", "/data/records.json"))
	assert.Equal(t, filepath.Join("out", "records.ndjson"), outputPath("out", "records.ndjson"))
	assert.Equal(t, filepath.Join("out", "records.ndjson"), outputPath("out", "records"))
}

func TestIsWithin(t *testing.T) {
	assert.True(t, isWithin("/a/b", "/a/b/c.json"))
	assert.True(t, isWithin("/a/b", "/a/b"))
	assert.False(t, isWithin("/a/b", "/a/bc/d.json"))
	assert.False(t, isWithin("/a/b", "/a/c.json"))
	assert.True(t, isWithin("/a/b", "/a/b/..c/d.json"))
}

// isolate keeps the layered config loader away from the real user and
// project config files.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestExplodeCommand_Stdin(t *testing.T) {
	isolate(t)

	var stdout bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs([]string{"explode", "--log-level", "error"})
	cmd.SetIn(strings.NewReader(`{"uri":"x","subjectLiteral":["Jazz -- Blues."]}`))
	cmd.SetOut(&stdout)

	require.NoError(t, cmd.Execute())

	docs := decodeLines(t, stdout.String())
	require.Len(t, docs, 1)
	assert.Equal(t, []any{"Jazz", "Jazz -- Blues"}, docs[0][document.FieldSubjectLiteralExploded])
}

func TestExplodeCommand_GlobAndOutDir(t *testing.T) {
	dir := isolate(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "exports", "2024"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exports", "2024", "a.json"),
		[]byte(`{"uri":"a","subjectLiteral":["X -- Y"]}`), 0644))

	cmd := rootCmd()
	cmd.SetArgs([]string{"explode", "exports/**/*.json", "--out-dir", "prepared", "--log-level", "error"})
	cmd.SetOut(io.Discard)

	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(filepath.Join(dir, "prepared", "a.ndjson"))
	require.NoError(t, err)
	docs := decodeLines(t, string(data))
	require.Len(t, docs, 1)
	assert.Equal(t, []any{"X", "X -- Y"}, docs[0][document.FieldSubjectLiteralExploded])
}

func TestExplodeCommand_FailPolicy(t *testing.T) {
	isolate(t)

	cmd := rootCmd()
	cmd.SetArgs([]string{"explode", "--on-invalid", "fail", "--log-level", "error"})
	cmd.SetIn(strings.NewReader(`{"subjectLiteral":"not an array"}`))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, document.ErrInvalidSubjects)
}

func TestExplodeCommand_ProjectConfig(t *testing.T) {
	dir := isolate(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "semcatalog.yaml"),
		[]byte("explode:\n  on_invalid: passthrough\nlog:\n  level: error\n"), 0644))

	var stdout bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs([]string{"explode"})
	cmd.SetIn(strings.NewReader(`{"uri":"bad","subjectLiteral":[null]}`))
	cmd.SetOut(&stdout)

	require.NoError(t, cmd.Execute())

	docs := decodeLines(t, stdout.String())
	require.Len(t, docs, 1)
	assert.Equal(t, "bad", docs[0]["uri"])
}

func TestExplodeCommand_NoMatches(t *testing.T) {
	isolate(t)

	cmd := rootCmd()
	cmd.SetArgs([]string{"explode", "missing/*.json", "--log-level", "error"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	assert.Error(t, cmd.Execute())
}

func TestExplodeCommand_BadPolicy(t *testing.T) {
	isolate(t)

	cmd := rootCmd()
	cmd.SetArgs([]string{"explode", "--on-invalid", "ignore"})
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	assert.Error(t, cmd.Execute())
}

func TestVersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs([]string{"version"})
	cmd.SetOut(&stdout)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "semcatalog version "+Version)
}
