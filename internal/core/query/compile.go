package query

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	perr "redarc/internal/platform/errors"
)

var validate = validator.New()

// Compile validates the accumulated config and builds an immutable Compiled
// predicate bundle. Compile may be called more than once on the same
// Builder; each call produces an independent Compiled snapshot
func (b *Builder) Compile() (*Compiled, error) {
	cfg := b.cfg
	if err := validate.Struct(cfg); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "query: invalid configuration")
	}
	if cfg.MinScore != nil && cfg.MaxScore != nil && *cfg.MinScore > *cfg.MaxScore {
		return nil, perr.Configurationf("query: min_score %d exceeds max_score %d", *cfg.MinScore, *cfg.MaxScore)
	}
	if cfg.DateFrom != nil && cfg.DateTo != nil && *cfg.DateFrom > *cfg.DateTo {
		return nil, perr.Configurationf("query: date_from %d exceeds date_to %d", *cfg.DateFrom, *cfg.DateTo)
	}

	c := &Compiled{
		subredditAllow:   toLowerSet(cfg.SubredditAllow),
		authorAllow:      toLowerSet(cfg.AuthorAllow),
		authorDeny:       toLowerSet(cfg.AuthorDeny),
		allowPseudoUsers: cfg.AllowPseudoUsers,
		domainAllow:      toLowerSet(cfg.DomainAllow),
		containsURL:      cfg.ContainsURL,
		minScore:         cfg.MinScore,
		maxScore:         cfg.MaxScore,
		dateFrom:         cfg.DateFrom,
		dateTo:           cfg.DateTo,
		whitelist:        append([]string(nil), cfg.Whitelist...),
		blacklist:        append([]string(nil), cfg.Blacklist...),
	}

	var err error
	if c.subredditAllowRe, err = compileAlternation(cfg.SubredditAllowRegex); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "query: subreddit allow-regex")
	}
	if c.subredditDenyRe, err = compileAlternation(cfg.SubredditDenyRegex); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "query: subreddit deny-regex")
	}
	if c.bodyRe, err = compileAlternation(cfg.BodyRegexPatterns); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "query: body regex")
	}

	if c.keywordAny, err = compileKeywords(cfg.KeywordAny); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "query: keyword_any")
	}
	if c.keywordAll, err = compileKeywords(cfg.KeywordAll); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "query: keyword_all")
	}

	return c, nil
}

// compileAlternation joins patterns into one left-to-right alternation, per
// spec.md §4.5's regex tie-break rule. Honors each pattern's own flags; the
// caller is responsible for (?i) if case-insensitivity is wanted. Returns
// nil if patterns is empty (no constraint)
func compileAlternation(patterns []string) (*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	if len(patterns) == 1 {
		return regexp.Compile(patterns[0])
	}
	grouped := make([]string, len(patterns))
	for i, p := range patterns {
		grouped[i] = "(?:" + p + ")"
	}
	return regexp.Compile(strings.Join(grouped, "|"))
}

// compileKeywords builds one word-boundary regex per keyword, folded to
// lowercase so it matches against already-folded haystacks without forcing
// a regex (?i) flag (which only covers ASCII the way Go's regexp applies it)
func compileKeywords(words []string) ([]*regexp.Regexp, error) {
	if len(words) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(words))
	for _, w := range words {
		pattern := `\b` + regexp.QuoteMeta(fold(w)) + `\b`
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func toLowerSet(vals []string) map[string]struct{} {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[fold(v)] = struct{}{}
	}
	return set
}
