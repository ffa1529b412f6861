package driver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// CLIDriver drives the assistant subprocess over the newline-delimited
// JSON event protocol: it spawns the child, streams and classifies each
// event, routes interactive questions through a handler, and enforces
// per-call timeouts with a graceful-then-forced shutdown.
type CLIDriver struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex // guards the fields below; also serializes stdin writes
	stdin  io.WriteCloser
	cancel context.CancelFunc
}

// NewCLIDriver returns a driver that spawns path (resolved via PATH if not
// absolute) for every call.
func NewCLIDriver(path string, logger *slog.Logger) *CLIDriver {
	if logger == nil {
		logger = slog.Default()
	}
	resolved := path
	if p, err := exec.LookPath(path); err == nil {
		resolved = p
	}
	return &CLIDriver{path: resolved, logger: logger}
}

func (d *CLIDriver) setInFlight(stdin io.WriteCloser, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stdin = stdin
	d.cancel = cancel
}

func (d *CLIDriver) clearInFlight() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stdin = nil
	d.cancel = nil
}

// Abort cancels whatever call is currently in flight, if any.
func (d *CLIDriver) Abort() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AnswerQuestion writes a user message to the in-flight subprocess's
// stdin. It is safe to call concurrently with the reader goroutine's own
// question-triggered writes because both paths take d.mu.
func (d *CLIDriver) AnswerQuestion(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stdin == nil {
		return fmt.Errorf("driver: no in-flight call to answer")
	}
	return writeAnswer(d.stdin, text)
}

func writeAnswer(w io.Writer, answer string) error {
	msg := newUserMessage(answer)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("driver: marshal answer: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("driver: write answer: %w", err)
	}
	return nil
}

// runRequest is the shared shape of a single subprocess invocation.
type runRequest struct {
	args       []string
	prompt     string
	cwd        string
	timeout    time.Duration
	planMode   bool
	eventSink  func(Event)
	outputSink func(string)
	question   QuestionHandler
}

func (d *CLIDriver) run(ctx context.Context, req runRequest) (Result, error) {
	callCtx := ctx
	var cancelTimeout context.CancelFunc
	if req.timeout > 0 {
		callCtx, cancelTimeout = context.WithTimeout(callCtx, req.timeout)
		defer cancelTimeout()
	}
	callCtx, abort := context.WithCancel(callCtx)
	defer abort()

	cmd := exec.Command(d.path, req.args...) // #nosec G204 -- d.path resolved at construction time
	if req.cwd != "" {
		cmd.Dir = req.cwd
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("driver: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("driver: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("driver: start subprocess: %w", err)
	}
	d.setInFlight(stdin, abort)
	defer d.clearInFlight()

	go func() {
		if _, err := io.WriteString(stdin, req.prompt); err != nil {
			d.logger.Warn("driver: failed writing initial prompt", "error", err)
		}
	}()

	done := make(chan struct{})
	var result Result
	var resultSeen bool
	var planText strings.Builder

	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			if req.outputSink != nil {
				req.outputSink(line)
			}

			var ev Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				d.logger.Warn("driver: malformed event line, ignoring", "line", line, "error", err)
				continue
			}
			if req.eventSink != nil {
				req.eventSink(ev)
			}

			switch ev.Type {
			case EventAssistant:
				if req.planMode && !resultSeen {
					planText.WriteString(ev.Text)
				}
			case EventToolUse:
				if ev.IsQuestion() && req.question != nil {
					id := uuid.NewString()
					answer, err := req.question(callCtx, id, ev.QuestionText(), ev.QuestionOptions())
					if err != nil {
						d.logger.Warn("driver: question handler failed", "error", err)
						continue
					}
					d.mu.Lock()
					werr := writeAnswer(stdin, answer)
					d.mu.Unlock()
					if werr != nil {
						d.logger.Warn("driver: failed writing question answer", "error", werr)
					}
				}
			case EventResult:
				resultSeen = true
				result = Result{
					Success:      true,
					SessionID:    ev.SessionID,
					CostUSD:      ev.CostUSD,
					HasCostUSD:   true,
					OutputLength: len(ev.Result),
				}
			case EventError:
				resultSeen = true
				result = Result{Success: false, Error: ev.Error}
			}
		}
	}()

	select {
	case <-done:
		// All stdout has been read; only now is it safe to Wait (Wait
		// closes the pipe once the process exits).
		err := cmd.Wait()
		return d.finalize(req, result, resultSeen, planText.String(), stderr.String(), err)
	case <-callCtx.Done():
		d.terminate(cmd)
		<-done
		_ = cmd.Wait()
		if callCtx.Err() == context.DeadlineExceeded {
			return Result{Success: false, Error: "timed out"}, nil
		}
		return Result{Success: false, Error: "aborted"}, nil
	}
}

// terminate sends a graceful termination signal and escalates to Kill if
// the process has not exited shortly after.
func (d *CLIDriver) terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	timer := time.NewTimer(3 * time.Second)
	defer timer.Stop()
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-timer.C:
		_ = cmd.Process.Kill()
	}
}

func (d *CLIDriver) finalize(req runRequest, result Result, resultSeen bool, plan, stderrText string, waitErr error) (Result, error) {
	if !resultSeen {
		if waitErr != nil {
			errText := stderrText
			if errText == "" {
				errText = waitErr.Error()
			}
			return Result{Success: false, Error: errText}, nil
		}
		if req.planMode {
			return Result{Success: false, Error: "empty plan"}, nil
		}
		return Result{Success: false, Error: "no result event received"}, nil
	}

	if req.planMode {
		result.Plan = plan
		if result.Success && strings.TrimSpace(plan) == "" {
			return Result{Success: false, Error: "empty plan"}, nil
		}
	}
	return result, nil
}

// GeneratePlan invokes the subprocess in plan mode.
func (d *CLIDriver) GeneratePlan(ctx context.Context, prompt string, opts Options, outputSink func(string)) (Result, error) {
	args := []string{"--print", "--plan-mode"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	return d.run(ctx, runRequest{
		args:       args,
		prompt:     prompt,
		cwd:        opts.Cwd,
		timeout:    opts.Timeout,
		planMode:   true,
		outputSink: outputSink,
	})
}

// Execute invokes the subprocess to perform work.
func (d *CLIDriver) Execute(ctx context.Context, prompt string, opts Options, cb Callbacks) (Result, error) {
	args := []string{"--print"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if opts.SessionID != "" {
		args = append(args, "--resume-session", opts.SessionID)
	}
	return d.run(ctx, runRequest{
		args:       args,
		prompt:     prompt,
		cwd:        opts.Cwd,
		timeout:    opts.Timeout,
		eventSink:  cb.EventSink,
		outputSink: cb.OutputSink,
		question:   cb.QuestionHandler,
	})
}

// Resume continues a prior conversation using its session token.
func (d *CLIDriver) Resume(ctx context.Context, sessionID, prompt string, opts Options, cb Callbacks) (Result, error) {
	opts.SessionID = sessionID
	return d.Execute(ctx, prompt, opts, cb)
}

// RunPrompt issues a one-shot prompt with no event-stream bookkeeping,
// used by prompt hooks.
func (d *CLIDriver) RunPrompt(ctx context.Context, prompt string, opts Options) (Result, error) {
	args := []string{"--print"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	var output strings.Builder
	res, err := d.run(ctx, runRequest{
		args:    args,
		prompt:  prompt,
		cwd:     opts.Cwd,
		timeout: opts.Timeout,
		eventSink: func(ev Event) {
			if ev.Type == EventAssistant {
				output.WriteString(ev.Text)
			}
		},
	})
	if err != nil {
		return res, err
	}
	if res.Success && res.Plan == "" {
		res.Plan = output.String()
	}
	return res, nil
}

var _ AssistantDriver = (*CLIDriver)(nil)
