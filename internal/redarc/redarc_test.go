package redarc

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"redarc/internal/adapters/zstdio"
	"redarc/internal/core/corpus"
	"redarc/internal/core/integrity"
	"redarc/internal/core/query"
	"redarc/internal/core/scan"
	"redarc/internal/core/sinks"
)

func writeZst(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := zstdio.NewWriter(f, 0)
	require.NoError(t, err)
	for _, l := range lines {
		_, err := w.Write([]byte(l + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func TestFacade_ScanWritesMatchingRecordsThroughSink(t *testing.T) {
	baseDir := t.TempDir()
	writeZst(t, filepath.Join(baseDir, "comments", "RC_2016-01.zst"), []string{
		`{"id":"c1","author":"alice","subreddit":"golang","body":"hello"}`,
		`{"id":"c2","author":"bob","subreddit":"golang","body":"bot stuff"}`,
	})

	q, err := query.NewBuilder().AuthorAllow("alice").Compile()
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "out.jsonl")
	sink, err := sinks.NewJSONL(outPath)
	require.NoError(t, err)

	facade := New(Config{BaseDir: baseDir, Scan: scan.Config{FileConcurrency: 1}})
	result, err := facade.Ports().Runner.Scan(context.Background(), ScanRequest{
		Sources: corpus.Comments,
		Query:   q,
		Sink:    sink,
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.Len(t, result.Files, 1)
	require.EqualValues(t, 1, result.Files[0].Matched)

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	var lines int
	for sc.Scan() {
		lines++
	}
	require.Equal(t, 1, lines)
}

func TestFacade_AttachParentsEndToEnd(t *testing.T) {
	baseDir := t.TempDir()
	writeZst(t, filepath.Join(baseDir, "submissions", "RS_2016-01.zst"), []string{
		`{"id":"s1","title":"a post","selftext":"body"}`,
	})
	writeZst(t, filepath.Join(baseDir, "comments", "RC_2016-01.zst"), []string{
		`{"id":"c1","parent_id":"t3_s1","body":"top reply"}`,
	})

	spoolDir := t.TempDir()
	part := filepath.Join(spoolDir, "part.jsonl")
	f, err := os.Create(part)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"c1","parent_id":"t3_s1","body":"top reply"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	outDir := t.TempDir()
	facade := New(Config{BaseDir: baseDir, Scan: scan.Config{FileConcurrency: 1}})
	err = facade.Ports().Runner.AttachParents(context.Background(), AttachRequest{
		SpoolParts: []string{part},
		CacheDir:   filepath.Join(t.TempDir(), "cache"),
		OutDir:     outDir,
	})
	require.NoError(t, err)

	attached, err := os.ReadFile(filepath.Join(outDir, "part.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(attached), `"parent":{`)
	require.Contains(t, string(attached), "a post")
}

func TestFacade_CheckIntegrityFlagsCorruptFile(t *testing.T) {
	baseDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, "comments"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "comments", "RC_2016-01.zst"), []byte("garbage"), 0o644))

	facade := New(Config{BaseDir: baseDir})
	suspects, err := facade.Ports().Runner.CheckIntegrity(context.Background(), IntegrityRequest{
		Sources: corpus.Comments,
		Mode:    integrity.Config{Mode: zstdio.Quick},
	})
	require.NoError(t, err)
	require.Len(t, suspects, 1)
	require.Equal(t, zstdio.HeaderInvalid, suspects[0].Category)
}
