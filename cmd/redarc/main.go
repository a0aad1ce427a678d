package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"redarc/internal/adapters/zstdio"
	"redarc/internal/core/corpus"
	"redarc/internal/core/integrity"
	"redarc/internal/core/query"
	"redarc/internal/core/scan"
	"redarc/internal/core/sinks"
	"redarc/internal/core/transform"
	"redarc/internal/platform/config"
	perr "redarc/internal/platform/errors"
	"redarc/internal/platform/logger"
	"redarc/internal/redarc"
)

func mustParseYearMonth(l *logger.Logger, s, flagName string) corpus.YearMonth {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		l.Panic().Str("flag", flagName).Str("value", s).Msg("expected YYYY-MM")
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		l.Panic().Str("flag", flagName).Str("value", s).Msg("bad year")
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		l.Panic().Str("flag", flagName).Str("value", s).Msg("bad month")
	}
	return corpus.YearMonth{Year: year, Month: month}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func main() {
	l := logger.Get()

	// env is the REDARC_-prefixed env-var view flag defaults fall back to,
	// so a deployment can pin most knobs via environment and still override
	// any of them per-invocation with the matching -flag
	env := config.New().Prefix("REDARC_")

	var (
		fMode        = flag.String("mode", env.MayString("MODE", "scan"), "scan | attach | check")
		fBaseDir     = flag.String("base", env.MayString("BASE", ""), "corpus base directory (comments/ and submissions/ subdirs)")
		fOutDir      = flag.String("out", env.MayString("OUT", ""), "output path (file for jsonl/jsonarray sinks, directory for partitioned/spool)")
		fFrom        = flag.String("from", env.MayString("FROM", ""), "window start, YYYY-MM (omit for unbounded)")
		fTo          = flag.String("to", env.MayString("TO", ""), "window end, YYYY-MM (omit for unbounded)")
		fSources     = flag.String("sources", env.MayString("SOURCES", "both"), "comments | submissions | both")
		fSink        = flag.String("sink", env.MayString("SINK", "jsonl"), "jsonl | jsonarray | partitioned | spool | count-by-month | author-counts | first-seen | usernames")
		fExt         = flag.String("ext", env.MayString("EXT", "jsonl"), "partition file extension for -sink=partitioned: jsonl | zst")
		fExample     = flag.String("example", env.MayString("EXAMPLE", ""), "use a named query from the examples registry instead of the flags below")
		fSubAllow    = flag.String("subreddit-allow", env.MayString("SUBREDDIT_ALLOW", ""), "comma-separated subreddit allow-list")
		fAuthAllow   = flag.String("author-allow", env.MayString("AUTHOR_ALLOW", ""), "comma-separated author allow-list")
		fAuthDeny    = flag.String("author-deny", env.MayString("AUTHOR_DENY", ""), "comma-separated author deny-list")
		fExcludeBots = flag.Bool("exclude-bots", env.MayBool("EXCLUDE_BOTS", false), "exclude the built-in archive bot list plus ETL_EXCLUDE_AUTHORS(_FILE)")
		fAllowPseudo = flag.Bool("allow-pseudo-users", env.MayBool("ALLOW_PSEUDO_USERS", true), "allow [deleted]/[removed] pseudo-authors")
		fMinScore    = flag.Int64("min-score", 0, "minimum score (applied only with -has-min-score)")
		fHasMinScore = flag.Bool("has-min-score", false, "apply -min-score")
		fKeywordAny  = flag.String("keyword-any", env.MayString("KEYWORD_ANY", ""), "comma-separated keywords, any-of match against title+selftext+body")
		fWhitelist   = flag.String("whitelist", env.MayString("WHITELIST", ""), "comma-separated field projection whitelist")
		fBlacklist   = flag.String("blacklist", env.MayString("BLACKLIST", ""), "comma-separated field projection blacklist")
		fHumanTime   = flag.Bool("human-timestamps", env.MayBool("HUMAN_TIMESTAMPS", false), "rewrite created_utc to RFC3339")
		fFileConc    = flag.Int("file-concurrency", env.MayInt("FILE_CONCURRENCY", 0), "F: files decoded simultaneously (<=0 picks a default)")
		fParallelism = flag.Int("parallelism", env.MayInt("PARALLELISM", 0), "P: parse/filter worker slots (<=0 uses NumCPU)")
		fResume      = flag.Bool("resume", env.MayBool("RESUME", false), "resume spool/parents-cache/attach output from their manifests")
		fParts       = flag.String("parts", env.MayString("PARTS", ""), "comma-separated spool part paths, required for -mode=attach")
		fCacheDir    = flag.String("cache-dir", env.MayString("CACHE_DIR", ""), "parents resolution cache directory, for -mode=attach")
		fIncLinkID   = flag.Bool("include-link-id", env.MayBool("INCLUDE_LINK_ID", false), "also resolve link_id fullnames in pass 1, for -mode=attach")
		fFullProbe   = flag.Bool("full-probe", env.MayBool("FULL_PROBE", false), "use Full integrity mode instead of Quick, for -mode=check")
	)
	flag.Parse()

	if *fBaseDir == "" {
		l.Error().Msg("-base is required")
		os.Exit(2)
	}

	var sources corpus.SourceKind
	switch *fSources {
	case "comments":
		sources = corpus.Comments
	case "submissions":
		sources = corpus.Submissions
	case "both":
		sources = corpus.Both
	default:
		l.Error().Str("sources", *fSources).Msg("unknown -sources")
		os.Exit(2)
	}

	var window corpus.YearMonthRange
	if *fFrom != "" {
		window.From = mustParseYearMonth(l, *fFrom, "-from")
	}
	if *fTo != "" {
		window.To = mustParseYearMonth(l, *fTo, "-to")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	facade := redarc.New(redarc.Config{
		BaseDir: *fBaseDir,
		Scan: scan.Config{
			FileConcurrency: *fFileConc,
			Parallelism:     *fParallelism,
		},
	})
	runner := facade.Ports().Runner

	switch *fMode {
	case "scan":
		runScan(ctx, l, runner, sources, window, scanFlags{
			outDir: *fOutDir, sink: *fSink, ext: *fExt, example: *fExample,
			subAllow: *fSubAllow, authAllow: *fAuthAllow, authDeny: *fAuthDeny,
			excludeBots: *fExcludeBots, allowPseudo: *fAllowPseudo,
			minScore: *fMinScore, hasMinScore: *fHasMinScore, keywordAny: *fKeywordAny,
			whitelist: *fWhitelist, blacklist: *fBlacklist, humanTime: *fHumanTime,
		})
	case "attach":
		if *fParts == "" || *fOutDir == "" || *fCacheDir == "" {
			l.Error().Msg("-mode=attach requires -parts, -out, and -cache-dir")
			os.Exit(2)
		}
		err := runner.AttachParents(ctx, redarc.AttachRequest{
			SpoolParts:    splitCSV(*fParts),
			Window:        window,
			CacheDir:      *fCacheDir,
			OutDir:        *fOutDir,
			Resume:        *fResume,
			IncludeLinkID: *fIncLinkID,
		})
		exitOn(l, err)
	case "check":
		mode := zstdio.Quick
		if *fFullProbe {
			mode = zstdio.Full
		}
		suspects, err := runner.CheckIntegrity(ctx, redarc.IntegrityRequest{
			Sources: sources,
			Window:  window,
			Mode:    integrity.Config{Mode: mode},
		})
		exitOn(l, err)
		for _, s := range suspects {
			fmt.Printf("%s\t%s\n", s.Path, s.Category)
		}
		if len(suspects) > 0 {
			os.Exit(4)
		}
	default:
		l.Error().Str("mode", *fMode).Msg("unknown -mode")
		os.Exit(2)
	}
}

type scanFlags struct {
	outDir, sink, ext, example        string
	subAllow, authAllow, authDeny     string
	excludeBots, allowPseudo          bool
	minScore                          int64
	hasMinScore                       bool
	keywordAny, whitelist, blacklist  string
	humanTime                         bool
}

func buildQuery(l *logger.Logger, f scanFlags) *query.Compiled {
	var b *query.Builder
	if f.example != "" {
		ex, ok := query.ExampleByName(f.example)
		if !ok {
			l.Error().Str("example", f.example).Msg("unknown -example")
			os.Exit(2)
		}
		b = ex.Build()
	} else {
		b = query.NewBuilder()
	}

	if len(splitCSV(f.subAllow)) > 0 {
		b.SubredditAllow(splitCSV(f.subAllow)...)
	}
	if len(splitCSV(f.authAllow)) > 0 {
		b.AuthorAllow(splitCSV(f.authAllow)...)
	}
	if len(splitCSV(f.authDeny)) > 0 {
		b.AuthorDeny(splitCSV(f.authDeny)...)
	}
	if f.excludeBots {
		b.ExcludeCommonBots()
		extra, err := query.ExcludedAuthorsFromEnv()
		if err != nil {
			l.Error().Err(err).Msg("reading ETL_EXCLUDE_AUTHORS")
			os.Exit(2)
		}
		if len(extra) > 0 {
			b.AuthorDeny(extra...)
		}
	}
	b.AllowPseudoUsers(f.allowPseudo)
	if f.hasMinScore {
		b.MinScore(f.minScore)
	}
	if len(splitCSV(f.keywordAny)) > 0 {
		b.KeywordAny(splitCSV(f.keywordAny)...)
	}
	if len(splitCSV(f.whitelist)) > 0 {
		b.Whitelist(splitCSV(f.whitelist)...)
	}
	if len(splitCSV(f.blacklist)) > 0 {
		b.Blacklist(splitCSV(f.blacklist)...)
	}

	compiled, err := b.Compile()
	if err != nil {
		l.Error().Err(err).Msg("compiling query")
		os.Exit(2)
	}
	return compiled
}

func buildSink(l *logger.Logger, f scanFlags) scan.Sink {
	if f.outDir == "" {
		l.Error().Msg("-out is required")
		os.Exit(2)
	}
	switch f.sink {
	case "jsonl":
		s, err := sinks.NewJSONL(f.outDir)
		exitOn(l, err)
		return s
	case "jsonarray":
		s, err := sinks.NewJSONArray(f.outDir)
		exitOn(l, err)
		return s
	case "partitioned":
		s, err := sinks.NewPartitioned(f.outDir, f.ext)
		exitOn(l, err)
		return s
	case "spool":
		s, err := sinks.NewSpool(f.outDir)
		exitOn(l, err)
		return s
	case "count-by-month":
		return sinks.NewCountByMonth(f.outDir)
	case "author-counts":
		return sinks.NewAuthorCounts(f.outDir)
	case "first-seen":
		return sinks.NewFirstSeen(f.outDir)
	case "usernames":
		return sinks.NewUsernames(0)
	default:
		l.Error().Str("sink", f.sink).Msg("unknown -sink")
		os.Exit(2)
		return nil
	}
}

func runScan(ctx context.Context, l *logger.Logger, runner redarc.RunnerPort, sources corpus.SourceKind, window corpus.YearMonthRange, f scanFlags) {
	q := buildQuery(l, f)
	sink := buildSink(l, f)

	var tf *transform.Transform
	if len(splitCSV(f.whitelist)) > 0 || len(splitCSV(f.blacklist)) > 0 || f.humanTime {
		tf = transform.New(transform.Config{
			Whitelist:               splitCSV(f.whitelist),
			Blacklist:               splitCSV(f.blacklist),
			TimestampsHumanReadable: f.humanTime,
		})
	}

	result, err := runner.Scan(ctx, redarc.ScanRequest{
		Sources:   sources,
		Window:    window,
		Query:     q,
		Transform: tf,
		Sink:      sink,
		Progress: scan.Progress{
			Report: func(e scan.Event) {
				l.Info().Str("file", e.File).Int("kind", int(e.Kind)).Err(e.Err).Msg("scan event")
			},
		},
	})
	var closeErr error
	if closer, ok := sink.(io.Closer); ok {
		closeErr = closer.Close()
	}
	exitOn(l, err)
	exitOn(l, closeErr)

	failed := 0
	for _, fr := range result.Files {
		if fr.Err != nil {
			failed++
			l.Error().Str("file", fr.File.Path).Err(fr.Err).Msg("file failed")
		}
	}
	if result.Cancelled {
		os.Exit(130)
	}
	if failed > 0 {
		os.Exit(3)
	}
}

func exitOn(l *logger.Logger, err error) {
	if err == nil {
		return
	}
	l.Error().Err(err).Msg("operation failed")
	os.Exit(exitCodeFor(err))
}

// exitCodeFor maps an engine error to the exit codes of spec.md §6: 2 for
// configuration/discovery mistakes, 130 for cooperative cancellation, 3 for
// anything else (I/O, decode, or memory-pressure failures that aborted the
// run outright rather than just one file)
func exitCodeFor(err error) int {
	switch perr.CodeOf(err) {
	case perr.ErrorCodeConfiguration, perr.ErrorCodeDiscovery:
		return 2
	case perr.ErrorCodeCancelled:
		return 130
	default:
		return 3
	}
}
