package ratelimit

import "testing"

func TestIsRateLimitMarkerStrings(t *testing.T) {
	cases := []string{
		"You hit your limit for today",
		"Usage Limit exceeded",
		"Error: rate limit reached",
	}
	for _, errText := range cases {
		r := Result{Success: false, Error: errText, HasCostUSD: true, CostUSD: 5, OutputLength: 10000}
		if !IsRateLimit(r) {
			t.Errorf("expected %q to classify as rate limit despite high cost/length", errText)
		}
	}
}

func TestIsRateLimitHeuristic(t *testing.T) {
	r := Result{Success: false, Error: "connection reset", HasCostUSD: true, CostUSD: 0.001, OutputLength: 10}
	if !IsRateLimit(r) {
		t.Error("expected cheap, short failure to classify as rate limit via heuristic")
	}
}

func TestIsRateLimitFalseForOrdinaryFailure(t *testing.T) {
	r := Result{Success: false, Error: "connection reset", HasCostUSD: true, CostUSD: 1.25, OutputLength: 2000}
	if IsRateLimit(r) {
		t.Error("expected expensive, long failure to not classify as rate limit")
	}
}

func TestIsRateLimitFalseForSuccess(t *testing.T) {
	r := Result{Success: true, HasCostUSD: true, CostUSD: 0, OutputLength: 0}
	if IsRateLimit(r) {
		t.Error("expected successful result to never classify as rate limit")
	}
}

func TestIsRateLimitMissingCostDefaultsToZero(t *testing.T) {
	r := Result{Success: false, Error: "boom", OutputLength: 10}
	if !IsRateLimit(r) {
		t.Error("expected missing cost to default to 0 and satisfy the heuristic")
	}
}

func TestShouldFallback(t *testing.T) {
	if ShouldFallback("opus", "opus") {
		t.Error("expected identical models to not fall back")
	}
	if !ShouldFallback("opus", "sonnet") {
		t.Error("expected distinct models to fall back")
	}
	if !ShouldFallback("opus", "") {
		t.Error("expected empty fallback to count as distinct")
	}
}
