package query

import (
	"regexp"
	"strings"

	"redarc/internal/core/record"
)

// Compiled is an immutable predicate bundle produced by Builder.Compile. It
// is side-effect-free and safe for concurrent use by many scan workers
// (invariant 3 of spec.md §3)
type Compiled struct {
	subredditAllow   map[string]struct{}
	subredditAllowRe *regexp.Regexp
	subredditDenyRe  *regexp.Regexp

	authorAllow      map[string]struct{}
	authorDeny       map[string]struct{}
	allowPseudoUsers bool

	domainAllow map[string]struct{}
	containsURL URLMode

	minScore *int64
	maxScore *int64

	dateFrom *int64
	dateTo   *int64

	keywordAny []*regexp.Regexp
	keywordAll []*regexp.Regexp
	bodyRe     *regexp.Regexp

	whitelist []string
	blacklist []string
}

// Whitelist returns the configured field projection whitelist, or nil
func (c *Compiled) Whitelist() []string { return c.whitelist }

// Blacklist returns the configured field projection blacklist, or nil
func (c *Compiled) Blacklist() []string { return c.blacklist }

// Match evaluates rec against every configured slot in the fixed 11-step
// order of spec.md §4.5, short-circuiting on the first failed step so that
// cheap rejections never reach the expensive body regex
func (c *Compiled) Match(rec record.Record) bool {
	subreddit := fold(rec.String("subreddit"))

	// 1: subreddit allow-set exact membership
	if c.subredditAllow != nil {
		if _, ok := c.subredditAllow[subreddit]; !ok {
			return false
		}
	}

	// 2: subreddit allow-regex / deny-regex
	if c.subredditAllowRe != nil && !c.subredditAllowRe.MatchString(rec.String("subreddit")) {
		return false
	}
	if c.subredditDenyRe != nil && c.subredditDenyRe.MatchString(rec.String("subreddit")) {
		return false
	}

	author := fold(rec.String("author"))

	// 3: author deny-set (includes bot list)
	if c.authorDeny != nil {
		if _, ok := c.authorDeny[author]; ok {
			return false
		}
	}

	// 4: pseudo-user policy
	if !c.allowPseudoUsers && record.IsPseudoUser(rec.String("author")) {
		return false
	}

	// 5: author allow-set
	if c.authorAllow != nil {
		if _, ok := c.authorAllow[author]; !ok {
			return false
		}
	}

	// 6: domain allow-set (exact, lowercase)
	if c.domainAllow != nil {
		if _, ok := c.domainAllow[fold(rec.String("domain"))]; !ok {
			return false
		}
	}

	// 7: contains-url tri-state
	hasURL := rec.String("url") != ""
	switch c.containsURL {
	case URLRequire:
		if !hasURL {
			return false
		}
	case URLForbid:
		if hasURL {
			return false
		}
	}

	// 8: score bounds
	if c.minScore != nil || c.maxScore != nil {
		score, ok := rec.Int64("score")
		if !ok {
			return false
		}
		if c.minScore != nil && score < *c.minScore {
			return false
		}
		if c.maxScore != nil && score > *c.maxScore {
			return false
		}
	}

	// 9: date sub-range (per-record created_utc)
	if c.dateFrom != nil || c.dateTo != nil {
		created, ok := rec.Int64("created_utc")
		if !ok {
			return false
		}
		if c.dateFrom != nil && created < *c.dateFrom {
			return false
		}
		if c.dateTo != nil && created > *c.dateTo {
			return false
		}
	}

	// 10-11: keyword-any/all and body regex share the same text haystack
	// (title + selftext + body), per spec.md §4.5's keyword-matching note
	needsText := len(c.keywordAny) > 0 || len(c.keywordAll) > 0 || c.bodyRe != nil
	if needsText {
		raw := joinText(rec)
		if len(c.keywordAny) > 0 || len(c.keywordAll) > 0 {
			folded := fold(raw)
			if len(c.keywordAny) > 0 && !matchAny(c.keywordAny, folded) {
				return false
			}
			if len(c.keywordAll) > 0 && !matchAll(c.keywordAll, folded) {
				return false
			}
		}
		if c.bodyRe != nil && !c.bodyRe.MatchString(raw) {
			return false
		}
	}

	return true
}

func joinText(rec record.Record) string {
	var b strings.Builder
	parts := [...]string{rec.String("title"), rec.String("selftext"), rec.String("body")}
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}

func matchAny(res []*regexp.Regexp, haystack string) bool {
	for _, re := range res {
		if re.MatchString(haystack) {
			return true
		}
	}
	return false
}

func matchAll(res []*regexp.Regexp, haystack string) bool {
	for _, re := range res {
		if !re.MatchString(haystack) {
			return false
		}
	}
	return true
}
