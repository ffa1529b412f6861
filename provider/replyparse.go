package provider

import (
	"strconv"
	"strings"
)

var approvalWords = map[string]bool{
	"y": true, "yes": true, "approve": true, "approved": true,
	"ok": true, "lgtm": true, "thumbsup": true, "👍": true,
}

// ParseApproval interprets a free-text reply to a plan-approval prompt.
func ParseApproval(text string) ApprovalResponse {
	trimmed := strings.TrimSpace(text)
	if approvalWords[strings.ToLower(trimmed)] {
		return ApprovalResponse{Approved: true}
	}
	return ApprovalResponse{Approved: false, RejectionReason: trimmed}
}

// ParseQuestionReply interprets a free-text reply to a question prompt.
// When options is non-empty, a numeric reply (1-based) or a
// case-insensitive label match resolves to that option's value.
func ParseQuestionReply(text string, options []Option) QuestionResponse {
	trimmed := strings.TrimSpace(text)

	if len(options) == 0 {
		return QuestionResponse{Answer: trimmed, MatchedOption: false}
	}

	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= len(options) {
		return QuestionResponse{Answer: options[n-1].Value, MatchedOption: true}
	}

	lower := strings.ToLower(trimmed)
	for _, opt := range options {
		if strings.ToLower(opt.Label) == lower {
			return QuestionResponse{Answer: opt.Value, MatchedOption: true}
		}
	}

	return QuestionResponse{Answer: trimmed, MatchedOption: false}
}

// RecommendedOption returns the option whose label contains the literal,
// case-insensitive substring "(recommended)", falling back to the first
// option, for autonomous auto-answering. ok is false if options is empty.
func RecommendedOption(options []Option) (Option, bool) {
	if len(options) == 0 {
		return Option{}, false
	}
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Label), "(recommended)") {
			return opt, true
		}
	}
	return options[0], true
}

// BestJudgementAnswer is the literal fallback answer used for free-text
// autonomous questions that carry no options.
const BestJudgementAnswer = "use your best judgement"
