package query

// Builder accumulates query slots via fluent calls and compiles them once
// into an immutable Compiled. A Builder is not safe for concurrent mutation;
// the Compiled it produces is
type Builder struct {
	cfg *config
}

// NewBuilder returns an empty Builder; every slot starts unconstrained
func NewBuilder() *Builder {
	return &Builder{cfg: &config{}}
}

// SubredditAllow unions names into the subreddit allow-set (case-insensitive)
func (b *Builder) SubredditAllow(names ...string) *Builder {
	b.cfg.SubredditAllow = appendUnique(b.cfg.SubredditAllow, names...)
	return b
}

// SubredditAllowRegex adds pattern as an alternative to the subreddit
// allow-regex; duplicate calls compose via alternation
func (b *Builder) SubredditAllowRegex(pattern string) *Builder {
	b.cfg.SubredditAllowRegex = append(b.cfg.SubredditAllowRegex, pattern)
	return b
}

// SubredditDenyRegex adds pattern as an alternative to the subreddit deny-regex
func (b *Builder) SubredditDenyRegex(pattern string) *Builder {
	b.cfg.SubredditDenyRegex = append(b.cfg.SubredditDenyRegex, pattern)
	return b
}

// AuthorAllow unions names into the author allow-set
func (b *Builder) AuthorAllow(names ...string) *Builder {
	b.cfg.AuthorAllow = appendUnique(b.cfg.AuthorAllow, names...)
	return b
}

// AuthorDeny unions names into the author deny-set. ExcludeCommonBots and
// the ETL_EXCLUDE_AUTHORS* environment variables feed this same slot
func (b *Builder) AuthorDeny(names ...string) *Builder {
	b.cfg.AuthorDeny = appendUnique(b.cfg.AuthorDeny, names...)
	return b
}

// ExcludeCommonBots unions the built-in bot-account deny-list (DefaultBotList)
// into the author deny-set, per the "exclude_common_bots" knob of spec.md §6
func (b *Builder) ExcludeCommonBots() *Builder {
	return b.AuthorDeny(DefaultBotList...)
}

// AllowPseudoUsers sets the pseudo-user policy: whether [deleted]/[removed]
// authors may match
func (b *Builder) AllowPseudoUsers(allow bool) *Builder {
	b.cfg.AllowPseudoUsers = allow
	return b
}

// DomainAllow unions domains into the domain allow-set (exact, lowercase)
func (b *Builder) DomainAllow(domains ...string) *Builder {
	b.cfg.DomainAllow = appendUnique(b.cfg.DomainAllow, domains...)
	return b
}

// ContainsURL sets the tri-state URL-presence predicate
func (b *Builder) ContainsURL(mode URLMode) *Builder {
	b.cfg.ContainsURL = mode
	return b
}

// MinScore sets the inclusive lower score bound
func (b *Builder) MinScore(min int64) *Builder {
	v := min
	b.cfg.MinScore = &v
	return b
}

// MaxScore sets the inclusive upper score bound
func (b *Builder) MaxScore(max int64) *Builder {
	v := max
	b.cfg.MaxScore = &v
	return b
}

// DateSubRange sets an inclusive [from, to] bound on created_utc, tightening
// the outer file-level window per-record. Either bound may be nil
func (b *Builder) DateSubRange(from, to *int64) *Builder {
	b.cfg.DateFrom = from
	b.cfg.DateTo = to
	return b
}

// KeywordAny unions words into the keyword-any slot: a record matches if ANY
// listed word appears (case-insensitive, whole-word-ish) in title+selftext+body
func (b *Builder) KeywordAny(words ...string) *Builder {
	b.cfg.KeywordAny = appendUnique(b.cfg.KeywordAny, words...)
	return b
}

// KeywordAll unions words into the keyword-all slot: a record matches only if
// every listed word appears
func (b *Builder) KeywordAll(words ...string) *Builder {
	b.cfg.KeywordAll = appendUnique(b.cfg.KeywordAll, words...)
	return b
}

// BodyRegex adds pattern as an alternative to the body regex; duplicate
// calls compose via alternation, left-to-right per spec.md §4.5's tie-break
func (b *Builder) BodyRegex(pattern string) *Builder {
	b.cfg.BodyRegexPatterns = append(b.cfg.BodyRegexPatterns, pattern)
	return b
}

// Whitelist sets the field projection whitelist (applied by C7, not C5;
// carried on Query so the scan pipeline can access it from one value)
func (b *Builder) Whitelist(fields ...string) *Builder {
	b.cfg.Whitelist = appendUnique(b.cfg.Whitelist, fields...)
	return b
}

// Blacklist sets the field projection blacklist
func (b *Builder) Blacklist(fields ...string) *Builder {
	b.cfg.Blacklist = appendUnique(b.cfg.Blacklist, fields...)
	return b
}

func appendUnique(dst []string, vals ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
