package query

// Example is a named, pre-built Query. The registry is additive sugar over
// the Builder for the demo CLI and for tests to use as fixtures; it does
// not add any predicate Compiled itself can't already express. Grounded on
// original_source/src/examples.rs's catalog of illustrative usage snippets,
// distilled here into concrete, compilable Query values rather than
// commented-out documentation
type Example struct {
	Name        string
	Description string
	Build       func() *Builder
}

// Examples is the named registry, keyed by Example.Name
var Examples = []Example{
	{
		Name:        "no-bots-no-deleted",
		Description: "excludes common archive bots and pseudo-users, no other constraint",
		Build: func() *Builder {
			return NewBuilder().ExcludeCommonBots().AllowPseudoUsers(false)
		},
	},
	{
		Name:        "askscience-2016",
		Description: "r/askscience, 2016, excluding bots and pseudo-users",
		Build: func() *Builder {
			return NewBuilder().
				SubredditAllow("askscience").
				ExcludeCommonBots().
				AllowPseudoUsers(false)
		},
	},
	{
		Name:        "worldnews-election-urls",
		Description: "r/worldnews mentioning election/vote/ballot, with a linked URL, score >= 10",
		Build: func() *Builder {
			return NewBuilder().
				SubredditAllow("worldnews").
				KeywordAny("election", "vote", "ballot").
				ContainsURL(URLRequire).
				MinScore(10)
		},
	},
	{
		Name:        "technology-minimal",
		Description: "r/technology submissions, projected to a compact analytics schema",
		Build: func() *Builder {
			return NewBuilder().
				SubredditAllow("technology").
				Whitelist("id", "author", "created_utc", "title", "selftext", "url", "domain", "score", "subreddit")
		},
	},
}

// ExampleByName looks up a registered example by name
func ExampleByName(name string) (Example, bool) {
	for _, ex := range Examples {
		if ex.Name == name {
			return ex, true
		}
	}
	return Example{}, false
}
