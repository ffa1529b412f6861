// Package driver supervises the assistant-process subprocess: spawning it,
// streaming its newline-delimited JSON event protocol, routing interactive
// questions back through a handler, enforcing call timeouts, and allowing
// mid-call abort.
package driver

import (
	"context"
	"time"
)

// Options configures a single driver call.
type Options struct {
	Model           string
	SkipPermissions bool
	Timeout         time.Duration
	Cwd             string
	SessionID       string
}

// Result is the outcome of a driver call.
type Result struct {
	Success      bool
	Plan         string
	SessionID    string
	CostUSD      float64
	HasCostUSD   bool
	OutputLength int
	Error        string
}

// QuestionHandler routes an interactive question raised by the subprocess
// back to the caller (ultimately the orchestrator, via the multiplexer)
// and returns the answer to write back to the child's stdin.
type QuestionHandler func(ctx context.Context, id, text string, options []string) (string, error)

// Callbacks groups the sinks and handler a driver call is invoked with.
type Callbacks struct {
	EventSink      func(Event)
	OutputSink     func(chunk string)
	QuestionHandler QuestionHandler
}

// AssistantDriver is the contract the orchestrator drives the assistant
// subprocess through. A single AssistantDriver instance represents one
// logical conversation: Execute/Resume/Abort/AnswerQuestion all operate on
// whatever call is currently in flight.
type AssistantDriver interface {
	// GeneratePlan runs the subprocess in plan mode. The returned plan is
	// the concatenation of assistant-typed event text seen before the
	// terminating result event.
	GeneratePlan(ctx context.Context, prompt string, opts Options, outputSink func(string)) (Result, error)

	// Execute runs the subprocess to perform work, forwarding events and
	// routing questions through cb.QuestionHandler.
	Execute(ctx context.Context, prompt string, opts Options, cb Callbacks) (Result, error)

	// Resume continues a prior conversation identified by sessionID.
	Resume(ctx context.Context, sessionID, prompt string, opts Options, cb Callbacks) (Result, error)

	// RunPrompt is a one-shot, event-stream-free variant used by prompt
	// hooks: it returns the final assistant output directly.
	RunPrompt(ctx context.Context, prompt string, opts Options) (Result, error)

	// Abort cancels whatever call is currently in flight. The pending
	// call's Result resolves with Success=false and Error="aborted".
	Abort()

	// AnswerQuestion writes a user message to the running subprocess's
	// stdin. It serializes with any other in-flight stdin write.
	AnswerQuestion(ctx context.Context, text string) error
}

// ResumePrompt is the literal prompt used to resume a session whose
// session token survived a crash/restart but whose in-process call state
// did not.
const ResumePrompt = "Continue from where you left off."
