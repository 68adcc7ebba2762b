// Package envelope implements the resilience wrapper (C1) that every
// backend call flows through: priority classification, circuit-breaker gate,
// semaphore acquire, token-bucket wait, execute, release, record outcome.
package envelope

import "strings"

// Priority is the envelope's scheduling class, ordered most to least urgent.
type Priority int

const (
	Critical Priority = iota
	High
	Normal
	Low
	Background
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// classificationTable maps operation-name prefixes to a priority. Exact
// entries take precedence over `namespace:*` wildcard entries, and among
// wildcards the longest (most specific) segment prefix wins — so
// "governance:gdpr:*" outranks "governance:*" for an op like
// "governance:gdpr:deleteByUser".
var classificationTable = map[string]Priority{
	"governance:gdpr:*":  Critical,
	"governance:purge":   Critical,
	"governance:purge:*": Critical,
	"memory:remember":    High,
	"memory:recall":      High,
	"a2a:send":           High,
	"conversation:*":     High,
	"memory:*":           Normal,
	"fact:*":             Normal,
	"context:*":          Normal,
	"belief:*":           Normal,
	"graphSync:*":        Background,
	"governance:*":       Low,
}

// Classify returns the priority for opName, matching the exact entry first,
// then `namespace:*` wildcards from the most specific segment prefix down
// to the least specific, and defaulting to Normal. An op like
// "governance:gdpr:deleteByUser" checks "governance:gdpr:*" before falling
// back to "governance:*", so a sub-namespace can override its parent's
// priority.
func Classify(opName string) Priority {
	if p, ok := classificationTable[opName]; ok {
		return p
	}
	segments := strings.Split(opName, ":")
	for i := len(segments) - 1; i > 0; i-- {
		wildcard := strings.Join(segments[:i], ":") + ":*"
		if p, ok := classificationTable[wildcard]; ok {
			return p
		}
	}
	return Normal
}
