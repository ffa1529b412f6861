package planbot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planbot-dev/planbot/driver"
	"github.com/planbot-dev/planbot/hooks"
	"github.com/planbot-dev/planbot/provider"
	"github.com/planbot-dev/planbot/queue"
	"github.com/planbot-dev/planbot/ratelimit"
)

const previousPlanFeedbackHeader = "## Previous Plan Feedback"

// ticketFailedError wraps a ticket-level failure so the dispatch loop can
// distinguish it from an orchestrator-level invariant violation and apply
// Config.ContinueOnError.
type ticketFailedError struct {
	TicketID string
	Err      error
}

func (e *ticketFailedError) Error() string {
	return fmt.Sprintf("planbot: ticket %q failed: %v", e.TicketID, e.Err)
}
func (e *ticketFailedError) Unwrap() error { return e.Err }

// run is the dispatch loop: it repeatedly computes the eligible-ticket set,
// skips tickets whose dependencies failed, and processes the first
// eligible ticket one at a time until the queue is exhausted, the context
// is cancelled, or a ticket failure ends the run under
// Config.ContinueOnError=false.
func (o *Orchestrator) run(ctx context.Context) error {
	o.emit(Event{Type: EventQueueStart})
	o.hookRun.Run(ctx, o.hooks, hooks.BeforeAll, o.config.Model)

	defer func() {
		o.mu.Lock()
		o.running = false
		o.currentTicketID = ""
		o.currentPlanID = ""
		o.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			o.emit(Event{Type: EventQueuePaused})
			return nil
		default:
		}

		eligible, skip := o.eligibility()
		if len(skip) > 0 {
			for _, t := range skip {
				t.Status = queue.StatusSkipped
				o.emit(Event{Type: EventTicketSkipped, TicketID: t.ID})
			}
			continue // recompute: skipping these may unblock others
		}
		if len(eligible) == 0 {
			break
		}

		t := eligible[0]
		err := o.processTicket(ctx, t)
		if ctx.Err() != nil {
			o.emit(Event{Type: EventQueuePaused})
			return nil
		}
		if err != nil {
			o.emit(Event{Type: EventError, TicketID: t.ID, Err: err})
			if !o.config.ContinueOnError {
				return err
			}
		}
	}

	o.hookRun.Run(ctx, o.hooks, hooks.AfterAll, o.config.Model)
	o.emit(Event{Type: EventQueueComplete})
	return nil
}

func (o *Orchestrator) eligibility() (eligible, skip []*queue.Ticket) {
	o.mu.Lock()
	tickets := append([]*queue.Ticket(nil), o.tickets...)
	o.mu.Unlock()

	statusOf := func(id string) (queue.Status, bool) {
		for _, t := range tickets {
			if t.ID == id {
				return t.Status, true
			}
		}
		return "", false
	}
	for _, t := range tickets {
		ok, shouldSkip := t.Eligible(statusOf)
		switch {
		case shouldSkip:
			skip = append(skip, t)
		case ok:
			eligible = append(eligible, t)
		}
	}
	return eligible, skip
}

// processTicket drives a single ticket through planning/approval/execution
// from a cold start (as opposed to resumeTicket, which re-enters a
// persisted phase).
func (o *Orchestrator) processTicket(ctx context.Context, t *queue.Ticket) error {
	o.mu.Lock()
	o.currentTicketID = t.ID
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.currentTicketID = ""
		o.currentPlanID = ""
		o.mu.Unlock()
	}()

	t.Status = queue.StatusPlanning
	o.emit(Event{Type: EventTicketStart, TicketID: t.ID})

	h := o.ticketHooks(t)
	model := o.modelFor(t)
	o.hookRun.Run(ctx, h, hooks.BeforeEach, model)

	cwd := o.acquireCwd(t)
	prompt := buildPrompt(t)

	planModeEffective := o.config.PlanMode
	if t.PlanMode != nil {
		planModeEffective = *t.PlanMode
	}

	if !planModeEffective {
		if err := o.persistPhase(t.ID, queue.PhaseExecuting, ""); err != nil {
			o.finishTicket(t, queue.StatusFailed, Event{Type: EventTicketFailed, TicketID: t.ID, Err: err})
			return &ticketFailedError{TicketID: t.ID, Err: err}
		}
		return o.executeTicket(ctx, t, prompt, cwd, h, model, "")
	}

	if err := o.persistPhase(t.ID, queue.PhasePlanning, ""); err != nil {
		o.finishTicket(t, queue.StatusFailed, Event{Type: EventTicketFailed, TicketID: t.ID, Err: err})
		return &ticketFailedError{TicketID: t.ID, Err: err}
	}

	plan, execute, err := o.planAndApprove(ctx, t, prompt, cwd)
	return o.finishAfterPlanPhase(ctx, t, plan, execute, err, cwd, model)
}

func (o *Orchestrator) acquireCwd(t *queue.Ticket) string {
	if !o.config.UseWorkspaces || o.workspace == nil {
		return o.root
	}
	wd, err := o.workspace.Acquire(t.ID)
	if err != nil {
		o.logger.Warn("planbot: workspace acquire failed, using repo root", "ticket", t.ID, "error", err)
		return o.root
	}
	return wd
}

// planAndApprove generates the initial plan for a ticket and drives it
// through the approval/revision loop (§4.1). It returns the final
// approved plan and execute=true, or execute=false if the ticket should
// be skipped.
func (o *Orchestrator) planAndApprove(ctx context.Context, t *queue.Ticket, basePrompt, cwd string) (string, bool, error) {
	plan, err := o.generatePlan(ctx, t, basePrompt, cwd)
	if err != nil {
		return "", false, err
	}
	o.emit(Event{Type: EventTicketPlanGenerated, TicketID: t.ID, Plan: plan})
	if err := o.store.SavePlan(o.root, t.ID, plan); err != nil {
		o.logger.Warn("planbot: save plan failed", "ticket", t.ID, "error", err)
	}
	return o.approveLoop(ctx, t, basePrompt, plan, cwd)
}

// approveLoop presents plan for human approval (unless AutoApprove is
// set), regenerating on a rejection that carries feedback until either an
// approval is received or the revision budget is exhausted.
func (o *Orchestrator) approveLoop(ctx context.Context, t *queue.Ticket, basePrompt, plan, cwd string) (string, bool, error) {
	for {
		if o.config.AutoApprove {
			o.emit(Event{Type: EventTicketApproved, TicketID: t.ID})
			return plan, true, nil
		}

		if err := o.persistPhase(t.ID, queue.PhaseAwaitingApproval, ""); err != nil {
			return "", false, err
		}
		t.Status = queue.StatusAwaitingApproval

		planID := uuid.NewString()
		o.mu.Lock()
		o.currentPlanID = planID
		o.mu.Unlock()

		resp, err := o.mux.RequestApproval(ctx, provider.PlanMessage{
			PlanID: planID, TicketID: t.ID, Title: t.Title, Plan: plan,
		})

		o.mu.Lock()
		o.currentPlanID = ""
		o.mu.Unlock()

		if err != nil {
			return "", false, err
		}

		if resp.Approved {
			o.emit(Event{Type: EventTicketApproved, TicketID: t.ID})
			return plan, true, nil
		}

		o.emit(Event{Type: EventTicketRejected, TicketID: t.ID, Reason: resp.RejectionReason})

		if strings.TrimSpace(resp.RejectionReason) == "" {
			return "", false, nil // legacy behaviour: rejection without feedback skips
		}
		if o.revisions[t.ID] >= o.config.MaxPlanRevisions {
			return "", false, nil // revision budget exhausted
		}
		o.revisions[t.ID]++
		t.PlanRevisions = o.revisions[t.ID]

		t.Status = queue.StatusPlanning
		if err := o.persistPhase(t.ID, queue.PhasePlanning, ""); err != nil {
			return "", false, err
		}

		revised, err := o.generatePlan(ctx, t, withFeedback(basePrompt, plan, resp.RejectionReason), cwd)
		if err != nil {
			return "", false, err
		}
		plan = revised
		o.emit(Event{Type: EventTicketPlanGenerated, TicketID: t.ID, Plan: plan})
		if err := o.store.SavePlan(o.root, t.ID, plan); err != nil {
			o.logger.Warn("planbot: save revised plan failed", "ticket", t.ID, "error", err)
		}
	}
}

func (o *Orchestrator) finishAfterPlanPhase(ctx context.Context, t *queue.Ticket, plan string, execute bool, err error, cwd, model string) error {
	if err != nil {
		o.finishTicket(t, queue.StatusFailed, Event{Type: EventTicketFailed, TicketID: t.ID, Err: err})
		return &ticketFailedError{TicketID: t.ID, Err: err}
	}
	if !execute {
		o.finishTicket(t, queue.StatusSkipped, Event{Type: EventTicketSkipped, TicketID: t.ID})
		return nil
	}
	if perr := o.persistPhase(t.ID, queue.PhaseExecuting, ""); perr != nil {
		o.finishTicket(t, queue.StatusFailed, Event{Type: EventTicketFailed, TicketID: t.ID, Err: perr})
		return &ticketFailedError{TicketID: t.ID, Err: perr}
	}
	return o.executeTicket(ctx, t, plan, cwd, o.ticketHooks(t), model, "")
}

// generatePlan runs a single plan-generation call plus, on a rate-limit
// classification, one fallback-model retry (§4.1, §4.3). Plan-generation
// failure is always fatal for the ticket; it never consumes the normal
// retry counter, which applies only to execute/resume.
func (o *Orchestrator) generatePlan(ctx context.Context, t *queue.Ticket, prompt, cwd string) (string, error) {
	outputSink := func(chunk string) { o.emit(Event{Type: EventTicketOutput, TicketID: t.ID, Output: chunk}) }
	model := o.modelFor(t)

	call := func(m string) (driver.Result, error) {
		return o.drv.GeneratePlan(ctx, prompt, driver.Options{
			Model: m, Timeout: o.config.Timeouts.PlanGeneration, Cwd: cwd,
		}, outputSink)
	}

	res, err := call(model)
	if err != nil {
		return "", err
	}
	if !res.Success && ratelimit.IsRateLimit(toRateLimitResult(res)) &&
		ratelimit.ShouldFallback(model, o.config.FallbackModel) && o.config.FallbackModel != "" {
		fbRes, ferr := call(o.config.FallbackModel)
		if ferr != nil {
			return "", ferr
		}
		res = fbRes
	}
	if !res.Success {
		return "", fmt.Errorf("plan generation failed: %s", res.Error)
	}
	return res.Plan, nil
}

// executeTicket runs (or resumes) the assistant subprocess to perform the
// ticket's work, applying the normal retry counter and, within each
// attempt, the rate-limit fallback-model retry. A sessionID selects
// Driver.Resume over Driver.Execute.
func (o *Orchestrator) executeTicket(ctx context.Context, t *queue.Ticket, prompt, cwd string, h *queue.Hooks, model, sessionID string) error {
	o.emit(Event{Type: EventTicketExecuting, TicketID: t.ID})
	t.Status = queue.StatusExecuting

	questionHandler := o.makeQuestionHandler(t, h, model)
	outputSink := func(chunk string) { o.emit(Event{Type: EventTicketOutput, TicketID: t.ID, Output: chunk}) }
	eventSink := func(ev driver.Event) {
		o.emit(Event{Type: EventTicketEvent, TicketID: t.ID, DriverType: string(ev.Type)})
		logLine := string(ev.Type)
		if ev.Text != "" {
			logLine += ": " + ev.Text
		}
		if err := o.store.AppendLog(o.root, t.ID, logLine); err != nil {
			o.logger.Warn("planbot: append log failed", "ticket", t.ID, "error", err)
		}
	}

	call := func(m, resumeSession string) (driver.Result, error) {
		opts := driver.Options{
			Model: m, SkipPermissions: o.config.SkipPermissions,
			Timeout: o.config.Timeouts.Execution, Cwd: cwd, SessionID: resumeSession,
		}
		cb := driver.Callbacks{EventSink: eventSink, OutputSink: outputSink, QuestionHandler: questionHandler}
		if resumeSession != "" {
			return o.drv.Resume(ctx, resumeSession, prompt, opts, cb)
		}
		return o.drv.Execute(ctx, prompt, opts, cb)
	}

	var lastRes driver.Result
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		res, err := call(model, sessionID)
		if err != nil {
			o.finishTicket(t, queue.StatusFailed, Event{Type: EventTicketFailed, TicketID: t.ID, Err: err})
			return &ticketFailedError{TicketID: t.ID, Err: err}
		}
		lastRes = res
		if res.Success {
			return o.completeTicket(t, res)
		}

		if ratelimit.IsRateLimit(toRateLimitResult(res)) &&
			ratelimit.ShouldFallback(model, o.config.FallbackModel) && o.config.FallbackModel != "" {
			fbRes, ferr := call(o.config.FallbackModel, sessionID)
			if ferr != nil {
				o.finishTicket(t, queue.StatusFailed, Event{Type: EventTicketFailed, TicketID: t.ID, Err: ferr})
				return &ticketFailedError{TicketID: t.ID, Err: ferr}
			}
			lastRes = fbRes
			if fbRes.Success {
				return o.completeTicket(t, fbRes)
			}
		}

		// A resumed session only resumes on the first attempt; retries
		// after that re-execute from the same prompt without a session.
		sessionID = ""
	}

	failErr := fmt.Errorf("execute failed after %d attempt(s): %s", o.config.MaxRetries+1, lastRes.Error)
	o.finishTicket(t, queue.StatusFailed, Event{Type: EventTicketFailed, TicketID: t.ID, Err: failErr})
	return &ticketFailedError{TicketID: t.ID, Err: failErr}
}

func (o *Orchestrator) completeTicket(t *queue.Ticket, res driver.Result) error {
	if res.SessionID != "" {
		if err := o.store.SaveSession(o.root, t.ID, res.SessionID); err != nil {
			o.logger.Warn("planbot: save session failed", "ticket", t.ID, "error", err)
		}
	}
	o.finishTicket(t, queue.StatusCompleted, Event{
		Type: EventTicketCompleted, TicketID: t.ID, SessionID: res.SessionID, CostUSD: res.CostUSD,
	})
	return nil
}

// finishTicket sets the ticket's terminal status, emits its closing event,
// releases any workspace it held, and runs the onError/onComplete and
// afterEach hooks.
func (o *Orchestrator) finishTicket(t *queue.Ticket, status queue.Status, ev Event) {
	t.Status = status
	if status == queue.StatusCompleted {
		t.Complete = true
	}
	o.emit(ev)

	if o.config.UseWorkspaces && o.workspace != nil {
		if err := o.workspace.Release(t.ID); err != nil {
			o.logger.Warn("planbot: release workspace failed", "ticket", t.ID, "error", err)
		}
	}

	h := o.ticketHooks(t)
	model := o.modelFor(t)
	switch status {
	case queue.StatusFailed:
		o.hookRun.Run(context.Background(), h, hooks.OnError, model)
	case queue.StatusCompleted:
		o.hookRun.Run(context.Background(), h, hooks.OnComplete, model)
	}
	o.hookRun.Run(context.Background(), h, hooks.AfterEach, model)
}

// resumeTicket re-enters the phase a previous run was in when state was
// last persisted for this ticket (§4.1 Session resume), then falls
// through to the normal dispatch loop for the remaining queue.
func (o *Orchestrator) resumeTicket(ctx context.Context, t *queue.Ticket, state queue.State) {
	o.mu.Lock()
	o.currentTicketID = t.ID
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.currentTicketID = ""
		o.mu.Unlock()
	}()

	model := o.modelFor(t)
	cwd := o.acquireCwd(t)
	prompt := buildPrompt(t)

	switch state.CurrentPhase {
	case queue.PhasePlanning:
		t.Status = queue.StatusPlanning
		plan, execute, err := o.planAndApprove(ctx, t, prompt, cwd)
		if ferr := o.finishAfterPlanPhase(ctx, t, plan, execute, err, cwd, model); ferr != nil {
			o.logger.Warn("planbot: resumed planning phase failed", "ticket", t.ID, "error", ferr)
		}

	case queue.PhaseAwaitingApproval:
		plan, ok, _ := o.store.LoadPlan(o.root, t.ID)
		if !ok {
			plan, execute, err := o.planAndApprove(ctx, t, prompt, cwd)
			if ferr := o.finishAfterPlanPhase(ctx, t, plan, execute, err, cwd, model); ferr != nil {
				o.logger.Warn("planbot: resumed approval phase (regenerated) failed", "ticket", t.ID, "error", ferr)
			}
			return
		}
		t.Status = queue.StatusAwaitingApproval
		finalPlan, execute, err := o.approveLoop(ctx, t, prompt, plan, cwd)
		if ferr := o.finishAfterPlanPhase(ctx, t, finalPlan, execute, err, cwd, model); ferr != nil {
			o.logger.Warn("planbot: resumed approval phase failed", "ticket", t.ID, "error", ferr)
		}

	case queue.PhaseExecuting:
		if sessionID, ok, _ := o.store.LoadSession(o.root, t.ID); ok && sessionID != "" {
			if err := o.executeTicket(ctx, t, driver.ResumePrompt, cwd, o.ticketHooks(t), model, sessionID); err != nil {
				o.logger.Warn("planbot: resume call failed", "ticket", t.ID, "error", err)
			}
			return
		}
		plan, ok, _ := o.store.LoadPlan(o.root, t.ID)
		if !ok {
			plan = prompt
		}
		if err := o.executeTicket(ctx, t, plan, cwd, o.ticketHooks(t), model, ""); err != nil {
			o.logger.Warn("planbot: re-execute from saved plan failed", "ticket", t.ID, "error", err)
		}
	}
}

func (o *Orchestrator) modelFor(t *queue.Ticket) string {
	return o.config.Model
}

// ticketHooks merges a ticket's partial hook overrides over the
// queue-file-level hook set: any lifecycle list the ticket specifies
// replaces the global one entirely; lifecycles it leaves unset fall
// through to the global configuration.
func (o *Orchestrator) ticketHooks(t *queue.Ticket) *queue.Hooks {
	if t.Hooks == nil {
		return o.hooks
	}
	merged := queue.Hooks{}
	if o.hooks != nil {
		merged = *o.hooks
	}
	if len(t.Hooks.BeforeAll) > 0 {
		merged.BeforeAll = t.Hooks.BeforeAll
	}
	if len(t.Hooks.AfterAll) > 0 {
		merged.AfterAll = t.Hooks.AfterAll
	}
	if len(t.Hooks.BeforeEach) > 0 {
		merged.BeforeEach = t.Hooks.BeforeEach
	}
	if len(t.Hooks.AfterEach) > 0 {
		merged.AfterEach = t.Hooks.AfterEach
	}
	if len(t.Hooks.OnError) > 0 {
		merged.OnError = t.Hooks.OnError
	}
	if len(t.Hooks.OnQuestion) > 0 {
		merged.OnQuestion = t.Hooks.OnQuestion
	}
	if len(t.Hooks.OnPlanGenerated) > 0 {
		merged.OnPlanGenerated = t.Hooks.OnPlanGenerated
	}
	if len(t.Hooks.OnApproval) > 0 {
		merged.OnApproval = t.Hooks.OnApproval
	}
	if len(t.Hooks.OnComplete) > 0 {
		merged.OnComplete = t.Hooks.OnComplete
	}
	return &merged
}

// makeQuestionHandler builds the driver.QuestionHandler for a ticket:
// human questions are routed through the multiplexer; autonomous
// questions (planMode=false or autoApprove=true) are answered immediately
// per §4.1's auto-answer policy, with onQuestion hook output appended as
// context.
func (o *Orchestrator) makeQuestionHandler(t *queue.Ticket, h *queue.Hooks, model string) driver.QuestionHandler {
	return func(ctx context.Context, id, text string, rawOptions []string) (string, error) {
		opts := toProviderOptions(rawOptions)
		o.emit(Event{Type: EventQuestion, TicketID: t.ID, QuestionID: id, Text: text, Options: opts})

		if o.isAutonomous(t) {
			results := o.hookRun.Run(ctx, h, hooks.OnQuestion, model)
			answer := autoAnswer(opts)
			if hookCtx := hooks.CollectContext(results); hookCtx != "" {
				answer += fmt.Sprintf("\n\nContext from %s: %s", o.hookRun.DisplayName(t.ID), hookCtx)
			}
			return answer, nil
		}

		if err := o.store.AddPendingQuestion(o.root, queue.PendingQuestion{
			ID: id, TicketID: t.ID, Text: text, AskedAt: time.Now(),
		}); err != nil {
			o.logger.Warn("planbot: persist pending question failed", "error", err)
		}
		defer func() {
			if err := o.store.RemovePendingQuestion(o.root, id); err != nil {
				o.logger.Warn("planbot: remove pending question failed", "error", err)
			}
		}()

		resp, err := o.mux.AskQuestion(ctx, provider.QuestionMessage{QuestionID: id, TicketID: t.ID, Text: text, Options: opts})
		if err != nil {
			return "", err
		}
		return resp.Answer, nil
	}
}

func (o *Orchestrator) isAutonomous(t *queue.Ticket) bool {
	if o.config.AutoApprove {
		return true
	}
	planModeEffective := o.config.PlanMode
	if t.PlanMode != nil {
		planModeEffective = *t.PlanMode
	}
	return !planModeEffective
}

// runPromptHook adapts the driver's one-shot prompt call, plus its
// rate-limit fallback retry, to the hooks.PromptRunner signature.
func (o *Orchestrator) runPromptHook(ctx context.Context, prompt string, model string) (string, bool, error) {
	if model == "" {
		model = o.config.Model
	}
	call := func(m string) (driver.Result, error) {
		return o.drv.RunPrompt(ctx, prompt, driver.Options{Model: m})
	}
	res, err := call(model)
	if err != nil {
		return "", false, err
	}
	if !res.Success && ratelimit.IsRateLimit(toRateLimitResult(res)) &&
		ratelimit.ShouldFallback(model, o.config.FallbackModel) && o.config.FallbackModel != "" {
		if fbRes, ferr := call(o.config.FallbackModel); ferr == nil {
			res = fbRes
		}
	}
	return res.Plan, res.Success, nil
}

func toRateLimitResult(r driver.Result) ratelimit.Result {
	return ratelimit.Result{
		Success: r.Success, Error: r.Error,
		CostUSD: r.CostUSD, HasCostUSD: r.HasCostUSD, OutputLength: r.OutputLength,
	}
}

func toProviderOptions(labels []string) []provider.Option {
	if len(labels) == 0 {
		return nil
	}
	opts := make([]provider.Option, len(labels))
	for i, l := range labels {
		opts[i] = provider.Option{Label: l, Value: l}
	}
	return opts
}

func autoAnswer(opts []provider.Option) string {
	if opt, ok := provider.RecommendedOption(opts); ok {
		return opt.Value
	}
	return provider.BestJudgementAnswer
}

func approvalResponse(planID string, approved bool, reason string) provider.ApprovalResponse {
	return provider.ApprovalResponse{PlanID: planID, Approved: approved, RejectionReason: reason, RespondedBy: "control-plane"}
}

func questionResponseFromAnswer(id, answer string) provider.QuestionResponse {
	return provider.QuestionResponse{QuestionID: id, Answer: answer, RespondedBy: "control-plane"}
}

func buildPrompt(t *queue.Ticket) string {
	var b strings.Builder
	b.WriteString(t.Title)
	b.WriteString("\n\n")
	b.WriteString(t.Description)
	if len(t.AcceptanceCriteria) > 0 {
		b.WriteString("\n\nAcceptance Criteria:\n")
		for _, c := range t.AcceptanceCriteria {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func withFeedback(basePrompt, prevPlan, feedback string) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")
	b.WriteString(previousPlanFeedbackHeader)
	b.WriteString("\n\nPrior plan:\n")
	b.WriteString(prevPlan)
	b.WriteString("\n\nFeedback: ")
	b.WriteString(feedback)
	b.WriteString("\n")
	return b.String()
}

func (o *Orchestrator) persistPhase(ticketID string, phase queue.Phase, sessionID string) error {
	id := ticketID
	_, err := o.store.Update(o.root, func(s queue.State) queue.State {
		s.CurrentTicketID = &id
		s.CurrentPhase = phase
		if sessionID != "" {
			s.SessionID = &sessionID
		}
		return s
	})
	if err != nil {
		return fmt.Errorf("planbot: persist phase: %w", err)
	}
	return nil
}
