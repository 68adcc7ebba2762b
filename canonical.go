package cortex

import (
	"strings"

	"github.com/orsinium-labs/stopwords"
	"golang.org/x/text/unicode/norm"
)

var enStopwords = stopwords.MustGet("en")

// canonicalizeValue normalises a fact value for slot-matching equality
// Unicode-normalise, case-fold, collapse whitespace, and
// strip stopwords. Two values that canonicalise to the same string are
// treated as identical for duplicate detection.
func canonicalizeValue(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, w := range fields {
		if enStopwords != nil && enStopwords.Contains(w) {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// slotKey computes the logical slot a candidate fact belongs to:
// (userId, subject, predicate, factType), falling back to the canonicalised
// subject when predicate is empty.
func slotKey(userID, subject, predicate string, ft FactType) string {
	if predicate == "" {
		predicate = canonicalizeValue(subject)
	}
	return strings.Join([]string{userID, canonicalizeValue(subject), canonicalizeValue(predicate), string(ft)}, "\x1f")
}
