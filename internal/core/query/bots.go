package query

import (
	"bufio"
	"os"
	"strings"

	"redarc/internal/platform/config/raw"
	perr "redarc/internal/platform/errors"
)

// DefaultBotList is the built-in deny-list of common archive bot accounts,
// unioned into a query's author deny-set by ExcludeCommonBots. Modeled as an
// explicit value rather than a hidden singleton, per spec.md §9's "global
// bot list" design note
var DefaultBotList = []string{
	"automoderator",
	"autowikibot",
	"autotldr",
	"remindmebot",
	"sneakydoggo",
	"totesmessenger",
	"imguralbumbot",
	"wikitextbot",
	"tweettranscriberbot",
	"gitcommandbot",
}

// ExcludedAuthorsFromEnv reads ETL_EXCLUDE_AUTHORS (comma-separated) and
// ETL_EXCLUDE_AUTHORS_FILE (one author per line), both additive, per
// spec.md §6's environment-variable table. Neither variable set returns an
// empty, nil-free slice
func ExcludedAuthorsFromEnv() ([]string, error) {
	conf := raw.New().Prefix("ETL_")

	var out []string
	if csv := conf.Get("EXCLUDE_AUTHORS", ""); csv != "" {
		for _, a := range strings.Split(csv, ",") {
			a = strings.TrimSpace(a)
			if a != "" {
				out = append(out, a)
			}
		}
	}

	if path := conf.Get("EXCLUDE_AUTHORS_FILE", ""); path != "" {
		lines, err := readLines(path)
		if err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "query: reading ETL_EXCLUDE_AUTHORS_FILE")
		}
		out = append(out, lines...)
	}

	return out, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}
