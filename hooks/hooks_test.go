package hooks

import (
	"context"
	"testing"

	"github.com/planbot-dev/planbot/queue"
)

func TestRunnerShellHooksDisabledByDefault(t *testing.T) {
	r := NewRunner(false, nil, nil)
	h := &queue.Hooks{BeforeAll: []queue.Action{{Type: "shell", Command: "echo hi"}}}

	results := r.Run(context.Background(), h, BeforeAll, "")
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Success || results[0].Error != "shell hooks are disabled" {
		t.Fatalf("expected shell-disabled error, got %+v", results[0])
	}
}

func TestRunnerShellHooksEnabled(t *testing.T) {
	r := NewRunner(true, nil, nil)
	h := &queue.Hooks{AfterEach: []queue.Action{{Type: "shell", Command: "echo hello"}}}

	results := r.Run(context.Background(), h, AfterEach, "")
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("expected successful shell run, got %+v", results)
	}
	if results[0].Output != "hello\n" {
		t.Fatalf("unexpected output %q", results[0].Output)
	}
}

func TestRunnerPromptHook(t *testing.T) {
	called := false
	runner := func(ctx context.Context, prompt, model string) (string, bool, error) {
		called = true
		if prompt != "summarize" {
			t.Fatalf("expected prompt 'summarize', got %q", prompt)
		}
		return "summary text", true, nil
	}
	r := NewRunner(false, runner, nil)
	h := &queue.Hooks{OnComplete: []queue.Action{{Type: "prompt", Command: "summarize"}}}

	results := r.Run(context.Background(), h, OnComplete, "sonnet")
	if !called {
		t.Fatal("expected prompt runner to be invoked")
	}
	if len(results) != 1 || !results[0].Success || results[0].Output != "summary text" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestRunnerUnknownActionType(t *testing.T) {
	r := NewRunner(true, nil, nil)
	h := &queue.Hooks{OnError: []queue.Action{{Type: "carrier-pigeon"}}}

	results := r.Run(context.Background(), h, OnError, "")
	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected failure for unknown action type, got %+v", results)
	}
}

func TestRunnerNilHooks(t *testing.T) {
	r := NewRunner(true, nil, nil)
	results := r.Run(context.Background(), nil, BeforeAll, "")
	if len(results) != 0 {
		t.Fatalf("expected no results for nil hooks, got %v", results)
	}
}

func TestDisplayName(t *testing.T) {
	r := NewRunner(false, nil, nil)
	if got := r.DisplayName("dev-backend"); got != "Dev-Backend" {
		t.Fatalf("expected 'Dev-Backend', got %q", got)
	}
}

func TestCollectContext(t *testing.T) {
	results := []Result{
		{Output: "first"},
		{Output: ""},
		{Output: "second"},
	}
	got := CollectContext(results)
	want := "first\nsecond"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
