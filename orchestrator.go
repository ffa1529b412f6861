package planbot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/planbot-dev/planbot/approval"
	"github.com/planbot-dev/planbot/driver"
	"github.com/planbot-dev/planbot/hooks"
	"github.com/planbot-dev/planbot/queue"
	"github.com/planbot-dev/planbot/workspace"
)

// ErrAlreadyRunning is returned by Start when the orchestrator is already
// processing a queue.
var ErrAlreadyRunning = fmt.Errorf("planbot: orchestrator is already running")

// ErrUnknownTicket is returned by control-plane calls that name a ticket
// id the orchestrator has no record of.
type ErrUnknownTicket struct{ ID string }

func (e *ErrUnknownTicket) Error() string {
	return fmt.Sprintf("planbot: unknown ticket %q", e.ID)
}

// Orchestrator sequences a queue of tickets through the plan/approve/
// execute/resume phase machine, persisting state after every transition
// and coordinating human approvals and clarifying questions through the
// approval multiplexer.
type Orchestrator struct {
	root   string
	hooks  *queue.Hooks
	config queue.Config

	store     queue.StateStore
	drv       driver.AssistantDriver
	mux       *approval.Multiplexer
	hookRun   *hooks.Runner
	workspace *workspace.Manager

	logger    *slog.Logger
	eventSink EventSink

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	tickets         []*queue.Ticket
	revisions       map[string]int
	currentTicketID string
	currentPlanID   string
}

// Options configures a new Orchestrator.
type Options struct {
	Root      string
	Config    queue.Config
	Hooks     *queue.Hooks
	Tickets   []queue.Ticket
	Store     queue.StateStore
	Driver    driver.AssistantDriver
	Mux       *approval.Multiplexer
	Workspace *workspace.Manager // nil when Config.UseWorkspaces is false
	Logger    *slog.Logger
}

// New constructs an Orchestrator. The caller is responsible for validating
// opts.Config (queue.ValidateAutonomousRisk) before calling New.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Driver == nil || opts.Mux == nil {
		return nil, fmt.Errorf("planbot: store, driver, and multiplexer are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	tickets := make([]*queue.Ticket, len(opts.Tickets))
	for i := range opts.Tickets {
		t := opts.Tickets[i]
		tickets[i] = &t
	}

	o := &Orchestrator{
		root:      opts.Root,
		hooks:     opts.Hooks,
		config:    opts.Config,
		store:     opts.Store,
		drv:       opts.Driver,
		mux:       opts.Mux,
		workspace: opts.Workspace,
		logger:    logger,
		tickets:   tickets,
		revisions: make(map[string]int),
	}
	o.hookRun = hooks.NewRunner(opts.Config.AllowShellHooks, o.runPromptHook, logger)
	return o, nil
}

// OnEvent registers the orchestrator's event sink. There is exactly one
// sink; callers that need fan-out should dispatch to multiple listeners
// themselves.
func (o *Orchestrator) OnEvent(sink EventSink) { o.eventSink = sink }

func (o *Orchestrator) emit(ev Event) {
	if o.eventSink != nil {
		o.eventSink(ev)
	}
}

// IsRunning reports whether the orchestrator is currently processing its
// queue.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// GetStatus returns the orchestrator's persisted run state.
func (o *Orchestrator) GetStatus() (queue.State, error) {
	return o.store.Load(o.root)
}

// GetPlan returns the most recently generated plan for ticketID, if one
// has been saved.
func (o *Orchestrator) GetPlan(ticketID string) (string, bool, error) {
	return o.store.LoadPlan(o.root, ticketID)
}

// Tickets returns a snapshot of the orchestrator's current ticket list.
func (o *Orchestrator) Tickets() []queue.Ticket {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]queue.Ticket, len(o.tickets))
	for i, t := range o.tickets {
		out[i] = *t
	}
	return out
}

// QueueTicket dynamically appends a ticket to the in-memory queue. It is
// preserved across Stop/Start re-entry and is processed after every
// file-declared ticket ahead of it in declaration order.
func (o *Orchestrator) QueueTicket(t queue.Ticket) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t.Status == "" {
		t.Status = queue.StatusPending
	}
	o.tickets = append(o.tickets, &t)
}

func (o *Orchestrator) findTicket(id string) (*queue.Ticket, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.tickets {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Start begins processing the queue from the beginning. A second Start
// while already running fails with ErrAlreadyRunning.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	state := queue.NewState()
	if err := o.store.Save(o.root, state); err != nil {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		return fmt.Errorf("planbot: persist initial state: %w", err)
	}

	return o.run(runCtx)
}

// Resume loads persisted state and continues processing from wherever the
// previous run left off: re-entering plan generation, re-asking for
// approval, or resuming (or re-executing) the in-flight ticket, before
// falling through to the normal dispatch loop for the rest of the queue.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	state, err := o.store.Load(o.root)
	if err != nil {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		return fmt.Errorf("planbot: load state: %w", err)
	}
	state.PauseRequested = false
	if _, err := o.store.Update(o.root, func(queue.State) queue.State { return state }); err != nil {
		o.logger.Warn("planbot: failed clearing pause flag on resume", "error", err)
	}

	if state.CurrentTicketID != nil && state.CurrentPhase != queue.PhaseIdle {
		t, ok := o.findTicket(*state.CurrentTicketID)
		if ok {
			o.resumeTicket(runCtx, t, state)
		}
	}

	return o.run(runCtx)
}

// Pause stops the queue exactly as Stop does: it aborts the in-flight
// driver call, persists the pause flag, and disconnects the providers.
// Pause is the control-plane entrypoint documented in §4.1's contract.
func (o *Orchestrator) Pause() {
	o.Stop()
}

// Stop aborts the in-flight driver call immediately, persists
// pauseRequested=true, disconnects all providers, and unblocks the
// dispatch loop. queue:paused is emitted once the loop observes the
// cancellation.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	o.drv.Abort()
	if _, err := o.store.Update(o.root, func(s queue.State) queue.State {
		s.PauseRequested = true
		return s
	}); err != nil {
		o.logger.Warn("planbot: failed persisting pause flag", "error", err)
	}
	if err := o.mux.DisconnectAll(context.Background()); err != nil {
		o.logger.Warn("planbot: failed disconnecting providers on stop", "error", err)
	}
	cancel()
}

// SkipTicket marks a ticket skipped. If it is the current ticket and has
// a pending approval, that approval is cancelled; pending questions it
// raised are not cancelled.
func (o *Orchestrator) SkipTicket(id string) error {
	t, ok := o.findTicket(id)
	if !ok {
		return &ErrUnknownTicket{ID: id}
	}
	o.mu.Lock()
	isCurrent := o.currentTicketID == id
	planID := o.currentPlanID
	o.mu.Unlock()
	if isCurrent && planID != "" {
		o.mux.CancelApproval(planID)
	}
	t.Status = queue.StatusSkipped
	o.emit(Event{Type: EventTicketSkipped, TicketID: id})
	return nil
}

// ApproveTicket answers the pending approval for ticket id with approval.
// id must name the ticket currently in awaiting_approval, not the
// internal planId.
func (o *Orchestrator) ApproveTicket(id string) error {
	return o.resolveApproval(id, true, "")
}

// RejectTicket answers the pending approval for ticket id with rejection,
// optionally carrying feedback that drives a plan revision (see §4.1).
func (o *Orchestrator) RejectTicket(id string, reason string) error {
	return o.resolveApproval(id, false, reason)
}

func (o *Orchestrator) resolveApproval(ticketID string, approved bool, reason string) error {
	o.mu.Lock()
	isCurrent := o.currentTicketID == ticketID
	planID := o.currentPlanID
	o.mu.Unlock()
	if !isCurrent || planID == "" {
		if _, ok := o.findTicket(ticketID); !ok {
			return &ErrUnknownTicket{ID: ticketID}
		}
		return fmt.Errorf("planbot: ticket %q is not awaiting approval", ticketID)
	}
	ok := o.mux.ResolveApproval(planID, approvalResponse(planID, approved, reason))
	if !ok {
		return fmt.Errorf("planbot: ticket %q has no pending approval", ticketID)
	}
	return nil
}

// AnswerQuestion answers a pending question by its question id (as
// reported on the State's PendingQuestions list).
func (o *Orchestrator) AnswerQuestion(id string, answer string) error {
	qs, err := o.store.GetPendingQuestions(o.root)
	if err != nil {
		return fmt.Errorf("planbot: load pending questions: %w", err)
	}
	found := false
	for _, q := range qs {
		if q.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("planbot: unknown pending question %q", id)
	}
	ok := o.mux.ResolveQuestion(id, questionResponseFromAnswer(id, answer))
	if !ok {
		return fmt.Errorf("planbot: question %q is no longer pending", id)
	}
	return nil
}

