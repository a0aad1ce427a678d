// Package record defines the semi-structured Record type shared by the
// query, transform, sinks, and parent-resolution packages, plus Fullname,
// the prefixed-ID type used to cross-reference comments and submissions
package record

import "strings"

// Record is one parsed comment or submission: a map from field name to
// decoded JSON value. Fields are best-effort; callers must not assume any
// particular field is present
type Record map[string]any

// String reads a string field, returning "" if absent or not a string
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Int64 reads an integer field, accepting either a JSON number or a numeric
// string (Reddit archives mix both across eras), per spec's created_utc note
func (r Record) Int64(field string) (int64, bool) {
	v, ok := r[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		return parseInt64(n)
	default:
		return 0, false
	}
}

func parseInt64(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return 0, false
	}
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}

// FullnameKind distinguishes a comment reference from a submission reference
type FullnameKind int

const (
	// KindComment is a t1_ fullname, referring to a comment
	KindComment FullnameKind = iota
	// KindSubmission is a t3_ fullname, referring to a submission
	KindSubmission
)

// String renders the fullname's prefix tag
func (k FullnameKind) String() string {
	if k == KindSubmission {
		return "t3"
	}
	return "t1"
}

// Fullname is a prefixed Reddit identifier, e.g. "t1_abc123" or "t3_xyz789"
type Fullname struct {
	Kind FullnameKind
	ID   string
}

// String renders the canonical "<tag>_<id>" form
func (f Fullname) String() string {
	return f.Kind.String() + "_" + f.ID
}

// ParseFullname splits a prefixed ID into its kind and base-36 ID. Only
// "t1_" and "t3_" prefixes are recognized; anything else fails
func ParseFullname(s string) (Fullname, bool) {
	switch {
	case strings.HasPrefix(s, "t1_"):
		return Fullname{Kind: KindComment, ID: s[len("t1_"):]}, true
	case strings.HasPrefix(s, "t3_"):
		return Fullname{Kind: KindSubmission, ID: s[len("t3_"):]}, true
	default:
		return Fullname{}, false
	}
}

// IsPseudoUser reports whether author is one of the sentinel values Reddit
// substitutes for a deleted or removed account
func IsPseudoUser(author string) bool {
	return author == "[deleted]" || author == "[removed]"
}
