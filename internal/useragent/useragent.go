// Package useragent normalises miner-reported user-agent strings and
// aggregates them per worker.
package useragent

import "strings"

// Normalize trims edge whitespace and cuts the string at the first '/' or
// '(' while preserving case and internal spaces. An empty result becomes
// the literal "Other".
func Normalize(ua string) string {
	trimmed := strings.TrimSpace(ua)
	if trimmed == "" {
		return "Other"
	}

	cut := len(trimmed)
	if i := strings.IndexByte(trimmed, '/'); i >= 0 && i < cut {
		cut = i
	}
	if i := strings.IndexByte(trimmed, '('); i >= 0 && i < cut {
		cut = i
	}

	result := strings.TrimRight(trimmed[:cut], " ")
	if result == "" {
		return "Other"
	}
	return result
}

// RecalcWorkerUA implements the worker-level UA aggregation rule: with zero
// attached clients the previously persisted UA is preserved (disconnect does
// not erase history); with exactly one, the worker's UA mirrors that
// client's normalised UA; with more than one, it collapses to "Other".
func RecalcWorkerUA(persisted string, attachedClientUAs []string) string {
	switch len(attachedClientUAs) {
	case 0:
		return persisted
	case 1:
		return Normalize(attachedClientUAs[0])
	default:
		return "Other"
	}
}
