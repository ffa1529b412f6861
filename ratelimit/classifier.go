// Package ratelimit provides pure, stateless classification of a failed
// driver invocation as a rate-limit condition versus an ordinary error,
// and the fallback-model decision that follows from it.
package ratelimit

import "strings"

// Result is the subset of a driver call's outcome the classifier needs.
// It mirrors driver.Result but is declared independently to keep this
// package free of a dependency on the driver package.
type Result struct {
	Success      bool
	Error        string
	CostUSD      float64
	HasCostUSD   bool
	OutputLength int
}

var rateLimitMarkers = []string{
	"hit your limit",
	"usage limit",
	"rate limit",
}

// IsRateLimit classifies a failed result as a rate-limit condition.
//
// Rationale: rate limits typically fail before tokens are consumed, so a
// failure that is suspiciously cheap and suspiciously short is treated as
// a rate limit even without an explicit marker string.
func IsRateLimit(r Result) bool {
	lowerErr := strings.ToLower(r.Error)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lowerErr, marker) {
			return true
		}
	}

	if r.Success || r.Error == "" {
		return false
	}
	cost := r.CostUSD
	if !r.HasCostUSD {
		cost = 0
	}
	return cost < 0.01 && r.OutputLength < 500
}

// ShouldFallback reports whether a call classified as rate-limited should
// be retried once against fallback instead of current. Comparison is
// case-sensitive; an empty fallback model still counts as distinct from a
// named current model.
func ShouldFallback(current, fallback string) bool {
	return current != fallback
}
