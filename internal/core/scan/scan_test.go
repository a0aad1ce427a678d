package scan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"redarc/internal/adapters/zstdio"
	"redarc/internal/core/corpus"
	"redarc/internal/core/query"
	perr "redarc/internal/platform/errors"
)

func writeZst(t *testing.T, path string, lines []string) {
	t.Helper()
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

type memSink struct {
	mu  sync.Mutex
	got []string
}

func (m *memSink) Write(_ corpus.MonthlyFile, out any) error {
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.got = append(m.got, string(b))
	m.mu.Unlock()
	return nil
}

func monthlyFile(path string) corpus.MonthlyFile {
	return corpus.MonthlyFile{Path: path, Source: corpus.Comments, YearMonth: corpus.YearMonth{Year: 2016, Month: 1}}
}

func TestRun_FiltersTransformsAndSinksMatchingRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "RC_2016-01.zst")
	writeZst(t, path, []string{
		`{"id":"a1","author":"alice","subreddit":"golang","score":10,"created_utc":1451606400,"body":"hello"}`,
		`{"id":"a2","author":"bob","subreddit":"golang","score":1,"created_utc":1451606400,"body":"world"}`,
	})

	compiled, err := query.NewBuilder().MinScore(5).Compile()
	require.NoError(t, err)

	sink := &memSink{}
	sched := New(Config{}, Progress{})
	res, err := sched.Run(context.Background(), []corpus.MonthlyFile{monthlyFile(path)}, Pipeline{Query: compiled, Sink: sink})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	require.NoError(t, res.Files[0].Err)
	require.Equal(t, int64(2), res.Files[0].Seen)
	require.Equal(t, int64(1), res.Files[0].Matched)
	require.Len(t, sink.got, 1)
	require.Contains(t, sink.got[0], `"a1"`)
}

func TestRun_ParseErrorsAreCountedAndSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "RC_2016-01.zst")
	writeZst(t, path, []string{
		`not json`,
		`{"id":"a1","author":"alice","subreddit":"golang","score":10}`,
	})

	sink := &memSink{}
	sched := New(Config{}, Progress{})
	res, err := sched.Run(context.Background(), []corpus.MonthlyFile{monthlyFile(path)}, Pipeline{Sink: sink})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Files[0].Seen)
	require.Equal(t, int64(1), res.Files[0].Matched)
	require.Equal(t, int64(1), res.Files[0].ParseErrors)
}

func TestRun_CorruptFileIsRecordedAndScanContinues(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "RC_2016-01.zst")
	require.NoError(t, os.WriteFile(bad, []byte("this is not a zstd frame"), 0o644))

	good := filepath.Join(dir, "RC_2016-02.zst")
	writeZst(t, good, []string{`{"id":"a1"}`})

	files := []corpus.MonthlyFile{
		{Path: bad, Source: corpus.Comments, YearMonth: corpus.YearMonth{Year: 2016, Month: 1}},
		{Path: good, Source: corpus.Comments, YearMonth: corpus.YearMonth{Year: 2016, Month: 2}},
	}

	sink := &memSink{}
	sched := New(Config{}, Progress{})
	res, err := sched.Run(context.Background(), files, Pipeline{Sink: sink})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)

	var sawFailure, sawSuccess bool
	for _, fr := range res.Files {
		if fr.File.Path == bad {
			require.Error(t, fr.Err)
			sawFailure = true
		}
		if fr.File.Path == good {
			require.NoError(t, fr.Err)
			require.Equal(t, int64(1), fr.Matched)
			sawSuccess = true
		}
	}
	require.True(t, sawFailure)
	require.True(t, sawSuccess)
}

func TestRun_FailFastStopsLaunchingFurtherFiles(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "RC_2016-01.zst")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))
	good := filepath.Join(dir, "RC_2016-02.zst")
	writeZst(t, good, []string{`{"id":"a1"}`})

	files := []corpus.MonthlyFile{
		{Path: bad, Source: corpus.Comments, YearMonth: corpus.YearMonth{Year: 2016, Month: 1}},
		{Path: good, Source: corpus.Comments, YearMonth: corpus.YearMonth{Year: 2016, Month: 2}},
	}

	sched := New(Config{FileConcurrency: 1, FailFast: true}, Progress{})
	res, err := sched.Run(context.Background(), files, Pipeline{})
	require.NoError(t, err)

	var attempted int
	for _, fr := range res.Files {
		if fr.File.Path != "" {
			attempted++
		}
	}
	require.Equal(t, 1, attempted)
}

func TestRun_CancellationStopsWithoutProcessingRemainingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "RC_2016-01.zst")
	writeZst(t, path, []string{`{"id":"a1"}`})

	var stop bool
	progress := Progress{ShouldStop: func() bool { return stop }}
	stop = true

	sched := New(Config{}, progress)
	res, err := sched.Run(context.Background(), []corpus.MonthlyFile{monthlyFile(path)}, Pipeline{})
	require.Error(t, err)
	require.Equal(t, perr.ErrorCodeCancelled, perr.CodeOf(err))
	require.True(t, res.Cancelled)
}

func TestRun_CancelledContextAbortsRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "RC_2016-01.zst")
	writeZst(t, path, []string{`{"id":"a1"}`})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sched := New(Config{}, Progress{})
	_, err := sched.Run(ctx, []corpus.MonthlyFile{monthlyFile(path)}, Pipeline{})
	require.Error(t, err)
}

func TestRun_SinkFailureAbortsFileButNotOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "RC_2016-01.zst")
	writeZst(t, path1, []string{`{"id":"a1"}`, `{"id":"a2"}`})
	path2 := filepath.Join(dir, "RC_2016-02.zst")
	writeZst(t, path2, []string{`{"id":"b1"}`})

	files := []corpus.MonthlyFile{
		{Path: path1, Source: corpus.Comments, YearMonth: corpus.YearMonth{Year: 2016, Month: 1}},
		{Path: path2, Source: corpus.Comments, YearMonth: corpus.YearMonth{Year: 2016, Month: 2}},
	}

	sink := SinkFunc(func(f corpus.MonthlyFile, out any) error {
		if strings.Contains(f.Path, "2016-01") {
			return perr.IOPermanentf(nil, "disk full")
		}
		return nil
	})

	sched := New(Config{}, Progress{})
	res, err := sched.Run(context.Background(), files, Pipeline{Sink: sink})
	require.NoError(t, err)

	for _, fr := range res.Files {
		if fr.File.Path == path1 {
			require.Error(t, fr.Err)
		}
		if fr.File.Path == path2 {
			require.NoError(t, fr.Err)
			require.Equal(t, int64(1), fr.Matched)
		}
	}
}

func TestRun_OverCapLinesAreCountedAndSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "RC_2016-01.zst")

	over := strings.Repeat("x", 17<<20)
	writeZst(t, path, []string{`{"id":"short"}`, `{"padding":"` + over + `"}`})

	sink := &memSink{}
	sched := New(Config{}, Progress{})
	res, err := sched.Run(context.Background(), []corpus.MonthlyFile{monthlyFile(path)}, Pipeline{Sink: sink})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Files[0].OverCapLines)
	require.Equal(t, int64(1), res.Files[0].Matched)
}

func TestRun_EmptyFileListSucceedsTrivially(t *testing.T) {
	sched := New(Config{}, Progress{})
	res, err := sched.Run(context.Background(), nil, Pipeline{})
	require.NoError(t, err)
	require.Empty(t, res.Files)
}
