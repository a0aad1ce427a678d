package query

import (
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/transform"
)

// foldPool holds reusable cases.Fold() transformers for the Unicode
// fallback path, mirroring the teacher's normalize.chainPool but folding
// only (no NFKC/leet/whitespace steps, which are profanity-domain cleanup,
// not applicable to keyword matching against raw Reddit text)
var foldPool = sync.Pool{
	New: func() any { return cases.Fold() },
}

// fold case-folds s for case-insensitive comparison. Pure-ASCII input (the
// overwhelming majority of Reddit text) takes a branch-free lowercase pass;
// anything with a non-ASCII byte falls back to full Unicode case folding,
// per spec.md §4.5's "simple ASCII case-fold ... full Unicode preferred but
// not required"
func fold(s string) string {
	if isASCII(s) {
		return asciiLower(s)
	}
	tr := foldPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	foldPool.Put(tr)
	if err != nil {
		return asciiLower(s)
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func asciiLower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
