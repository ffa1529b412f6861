// Package hooks runs the orchestrator's named lifecycle hooks: ordered
// shell or driver-prompt actions keyed by lifecycle name, with shell
// execution gated behind an explicit opt-in.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/planbot-dev/planbot/queue"
)

// Name identifies a lifecycle point hooks can be attached to.
type Name string

const (
	BeforeAll       Name = "beforeAll"
	AfterAll        Name = "afterAll"
	BeforeEach      Name = "beforeEach"
	AfterEach       Name = "afterEach"
	OnError         Name = "onError"
	OnQuestion      Name = "onQuestion"
	OnPlanGenerated Name = "onPlanGenerated"
	OnApproval      Name = "onApproval"
	OnComplete      Name = "onComplete"
)

// Result is the outcome of running a single hook action. Hook results
// never panic or abort the orchestrator; they are collected as context.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// PromptRunner is the one-shot prompt call a prompt hook needs.
// driver.AssistantDriver.RunPrompt does not have this signature itself;
// the orchestrator adapts it to this shape.
type PromptRunner func(ctx context.Context, prompt string, model string) (output string, success bool, err error)

// Runner executes the action lists configured on a queue.Hooks value.
type Runner struct {
	allowShellHooks bool
	promptRunner    PromptRunner
	logger          *slog.Logger
	titleCaser      cases.Caser
}

// NewRunner returns a Runner. promptRunner may be nil if no prompt hooks
// are ever expected to run (calling one would then fail safely).
func NewRunner(allowShellHooks bool, promptRunner PromptRunner, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		allowShellHooks: allowShellHooks,
		promptRunner:    promptRunner,
		logger:          logger,
		titleCaser:      cases.Title(language.English),
	}
}

// Run executes every action bound to name, in order, and returns one
// Result per action. It never returns an error itself: individual action
// failures are captured in their Result.
func (r *Runner) Run(ctx context.Context, hooks *queue.Hooks, name Name, model string) []Result {
	actions := r.actionsFor(hooks, name)
	results := make([]Result, 0, len(actions))
	for _, action := range actions {
		results = append(results, r.runAction(ctx, action, model))
	}
	return results
}

func (r *Runner) actionsFor(hooks *queue.Hooks, name Name) []queue.Action {
	if hooks == nil {
		return nil
	}
	switch name {
	case BeforeAll:
		return hooks.BeforeAll
	case AfterAll:
		return hooks.AfterAll
	case BeforeEach:
		return hooks.BeforeEach
	case AfterEach:
		return hooks.AfterEach
	case OnError:
		return hooks.OnError
	case OnQuestion:
		return hooks.OnQuestion
	case OnPlanGenerated:
		return hooks.OnPlanGenerated
	case OnApproval:
		return hooks.OnApproval
	case OnComplete:
		return hooks.OnComplete
	default:
		return nil
	}
}

func (r *Runner) runAction(ctx context.Context, action queue.Action, model string) Result {
	switch action.Type {
	case "shell":
		return r.runShell(ctx, action.Command)
	case "prompt":
		return r.runPrompt(ctx, action.Command, model)
	default:
		return Result{Success: false, Error: fmt.Sprintf("unknown hook action type %q", action.Type)}
	}
}

func (r *Runner) runShell(ctx context.Context, command string) Result {
	if !r.allowShellHooks {
		return Result{Success: false, Error: "shell hooks are disabled"}
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.logger.Warn("hooks: shell action failed", "command", command, "error", err)
		return Result{Success: false, Output: string(out), Error: err.Error()}
	}
	return Result{Success: true, Output: string(out)}
}

func (r *Runner) runPrompt(ctx context.Context, prompt string, model string) Result {
	if r.promptRunner == nil {
		return Result{Success: false, Error: "no prompt runner configured"}
	}
	output, success, err := r.promptRunner(ctx, prompt, model)
	if err != nil {
		r.logger.Warn("hooks: prompt action failed", "error", err)
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: success, Output: output}
}

// DisplayName title-cases an identifier (the ticket id) for auto-answer
// context text, e.g. "dev-backend" -> "Dev-Backend".
func (r *Runner) DisplayName(id string) string {
	return r.titleCaser.String(strings.ReplaceAll(id, "_", " "))
}

// CollectContext renders a slice of hook Results into a single context
// string suitable for appending to an auto-answer, skipping empty output.
func CollectContext(results []Result) string {
	var b strings.Builder
	for _, res := range results {
		if res.Output == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimSpace(res.Output))
	}
	return b.String()
}
