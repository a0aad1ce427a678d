package sinks

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"redarc/internal/adapters/zstdio"
	"redarc/internal/core/corpus"
	"redarc/internal/core/record"
)

func rc(ym corpus.YearMonth) corpus.MonthlyFile {
	return corpus.MonthlyFile{Path: "RC_" + ym.String() + ".zst", Source: corpus.Comments, YearMonth: ym}
}

func rs(ym corpus.YearMonth) corpus.MonthlyFile {
	return corpus.MonthlyFile{Path: "RS_" + ym.String() + ".zst", Source: corpus.Submissions, YearMonth: ym}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if sc.Text() != "" {
			out = append(out, sc.Text())
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func TestJSONL_WritesOneRecordPerLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	s, err := NewJSONL(path)
	require.NoError(t, err)

	require.NoError(t, s.Write(rc(corpus.YearMonth{Year: 2016, Month: 1}), record.Record{"id": "a1"}))
	require.NoError(t, s.Write(rc(corpus.YearMonth{Year: 2016, Month: 1}), record.Record{"id": "a2"}))
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	require.JSONEq(t, `{"id":"a1"}`, lines[0])
	require.JSONEq(t, `{"id":"a2"}`, lines[1])
}

func TestJSONL_NoFileUntilClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	s, err := NewJSONL(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(rc(corpus.YearMonth{Year: 2016, Month: 1}), record.Record{"id": "a1"}))

	_, statErr := os.Stat(path)
	require.Error(t, statErr)

	require.NoError(t, s.Close())
	_, statErr = os.Stat(path)
	require.NoError(t, statErr)
}

func TestJSONArray_WritesCommaSeparatedArray(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	s, err := NewJSONArray(path)
	require.NoError(t, err)

	require.NoError(t, s.Write(rc(corpus.YearMonth{Year: 2016, Month: 1}), record.Record{"id": "a1"}))
	require.NoError(t, s.Write(rc(corpus.YearMonth{Year: 2016, Month: 1}), record.Record{"id": "a2"}))
	require.NoError(t, s.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []record.Record
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, []record.Record{{"id": "a1"}, {"id": "a2"}}, got)
}

func TestJSONArray_EmptyIsValidArray(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	s, err := NewJSONArray(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "[]", string(b))
}

func TestPartitioned_OneFilePerInputFile(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPartitioned(dir, "jsonl")
	require.NoError(t, err)

	jan := rc(corpus.YearMonth{Year: 2016, Month: 1})
	feb := rc(corpus.YearMonth{Year: 2016, Month: 2})
	require.NoError(t, p.Write(jan, record.Record{"id": "a1"}))
	require.NoError(t, p.Write(feb, record.Record{"id": "b1"}))
	require.NoError(t, p.Write(jan, record.Record{"id": "a2"}))
	require.NoError(t, p.Close())

	janLines := readLines(t, PartitionPath(dir, jan, "jsonl"))
	require.Len(t, janLines, 2)
	febLines := readLines(t, PartitionPath(dir, feb, "jsonl"))
	require.Len(t, febLines, 1)
}

func TestPartitioned_ZstFormatRoundTrips(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPartitioned(dir, "zst")
	require.NoError(t, err)

	jan := rc(corpus.YearMonth{Year: 2016, Month: 1})
	require.NoError(t, p.Write(jan, record.Record{"id": "a1"}))
	require.NoError(t, p.Close())

	path := PartitionPath(dir, jan, "zst")
	f, err := os.Open(path)
	require.NoError(t, err)
	zr, err := zstdio.NewReader(f, 0)
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.NoError(t, zr.Close())
	require.JSONEq(t, `{"id":"a1"}`, strings.TrimSpace(string(b)))
}

func TestPartitioned_RejectsUnknownExtension(t *testing.T) {
	_, err := NewPartitioned(t.TempDir(), "csv")
	require.Error(t, err)
}

func TestSpool_WritesPartitionsAndManifest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSpool(dir)
	require.NoError(t, err)

	jan := rc(corpus.YearMonth{Year: 2016, Month: 1})
	require.NoError(t, s.Write(jan, record.Record{"id": "a1"}))
	require.NoError(t, s.Write(jan, record.Record{"id": "a2"}))
	require.NoError(t, s.Close())

	lines := readLines(t, PartitionPath(dir, jan, "jsonl"))
	require.Len(t, lines, 2)

	manifest := readLines(t, filepath.Join(dir, manifestName))
	require.Len(t, manifest, 1)
	fields := strings.Split(manifest[0], "\t")
	require.Len(t, fields, 4)
	require.Equal(t, "2", fields[3])
}

func TestSpool_ResumeSkipsCompletePartitions(t *testing.T) {
	dir := t.TempDir()
	jan := rc(corpus.YearMonth{Year: 2016, Month: 1})

	s1, err := NewSpool(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Write(jan, record.Record{"id": "a1"}))
	require.NoError(t, s1.Close())

	s2, err := NewSpool(dir)
	require.NoError(t, err)
	require.NoError(t, s2.Write(jan, record.Record{"id": "a2-should-be-dropped"}))
	require.NoError(t, s2.Close())

	lines := readLines(t, PartitionPath(dir, jan, "jsonl"))
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "a1")
}

func TestSpool_RewritesPartitionWhenSizeMismatches(t *testing.T) {
	dir := t.TempDir()
	jan := rc(corpus.YearMonth{Year: 2016, Month: 1})

	s1, err := NewSpool(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Write(jan, record.Record{"id": "a1"}))
	require.NoError(t, s1.Close())

	// truncate the partition so its size no longer matches the manifest
	require.NoError(t, os.WriteFile(PartitionPath(dir, jan, "jsonl"), []byte(""), 0o644))

	s2, err := NewSpool(dir)
	require.NoError(t, err)
	require.NoError(t, s2.Write(jan, record.Record{"id": "a2"}))
	require.NoError(t, s2.Close())

	lines := readLines(t, PartitionPath(dir, jan, "jsonl"))
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "a2")
}

func TestCountByMonth_TalliesAcrossSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counts.tsv")
	s := NewCountByMonth(path)

	jan := corpus.YearMonth{Year: 2016, Month: 1}
	require.NoError(t, s.Write(rc(jan), record.Record{}))
	require.NoError(t, s.Write(rs(jan), record.Record{}))
	require.NoError(t, s.Write(rc(corpus.YearMonth{Year: 2016, Month: 2}), record.Record{}))
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Equal(t, []string{"2016-01\t2", "2016-02\t1"}, lines)
}

func TestAuthorCounts_SortsByCountThenAuthor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authors.tsv")
	s := NewAuthorCounts(path)

	jan := rc(corpus.YearMonth{Year: 2016, Month: 1})
	require.NoError(t, s.Write(jan, record.Record{"author": "bob"}))
	require.NoError(t, s.Write(jan, record.Record{"author": "alice"}))
	require.NoError(t, s.Write(jan, record.Record{"author": "alice"}))
	require.NoError(t, s.Write(jan, record.Record{"author": "carol"}))
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Equal(t, []string{"alice\t2", "bob\t1", "carol\t1"}, lines)
}

func TestFirstSeen_TracksEarliestTimestamp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "first_seen.tsv")
	s := NewFirstSeen(path)

	jan := rc(corpus.YearMonth{Year: 2016, Month: 1})
	require.NoError(t, s.Write(jan, record.Record{"author": "alice", "created_utc": int64(200)}))
	require.NoError(t, s.Write(jan, record.Record{"author": "alice", "created_utc": int64(100)}))
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Equal(t, []string{"alice\t100"}, lines)
}

func TestUsernames_DistinctInDiscoveryOrder(t *testing.T) {
	u := NewUsernames(4)
	jan := rc(corpus.YearMonth{Year: 2016, Month: 1})

	require.NoError(t, u.Write(jan, record.Record{"author": "alice"}))
	require.NoError(t, u.Write(jan, record.Record{"author": "bob"}))
	require.NoError(t, u.Write(jan, record.Record{"author": "alice"}))
	require.NoError(t, u.Close())

	var got []string
	for {
		name, ok := u.Next()
		if !ok {
			break
		}
		got = append(got, name)
	}
	require.Equal(t, []string{"alice", "bob"}, got)
}

func TestDedupe_DropsRepeatedKeysBeforeInner(t *testing.T) {
	var got []record.Record
	wrapped := &capturingSink{write: func(_ corpus.MonthlyFile, rec any) error {
		got = append(got, rec.(record.Record))
		return nil
	}}
	d := NewDedupe(wrapped, nil)

	jan := rc(corpus.YearMonth{Year: 2016, Month: 1})
	require.NoError(t, d.Write(jan, record.Record{"subreddit": "golang", "id": "a1"}))
	require.NoError(t, d.Write(jan, record.Record{"subreddit": "GoLang", "id": "a1"}))
	require.NoError(t, d.Write(jan, record.Record{"subreddit": "golang", "id": "a2"}))

	require.Len(t, got, 2)
	require.Equal(t, "a1", got[0].String("id"))
	require.Equal(t, "a2", got[1].String("id"))
}

func TestDedupe_PassesThroughRecordsWithoutUsableKey(t *testing.T) {
	var got []record.Record
	wrapped := &capturingSink{write: func(_ corpus.MonthlyFile, rec any) error {
		got = append(got, rec.(record.Record))
		return nil
	}}
	d := NewDedupe(wrapped, nil)

	jan := rc(corpus.YearMonth{Year: 2016, Month: 1})
	require.NoError(t, d.Write(jan, record.Record{"id": "a1"})) // no subreddit
	require.NoError(t, d.Write(jan, record.Record{"id": "a1"}))

	require.Len(t, got, 2)
}

type capturingSink struct {
	write func(corpus.MonthlyFile, any) error
}

func (c *capturingSink) Write(f corpus.MonthlyFile, rec any) error { return c.write(f, rec) }
func (c *capturingSink) Close() error                              { return nil }
