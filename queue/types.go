// Package queue defines the ticket queue data model and the persisted
// state contract used by the orchestrator: tickets, process-wide config,
// durable run state, and the StateStore interface with its file and
// SQLite backed implementations.
package queue

import "time"

// Status is the mutable lifecycle status of a ticket.
type Status string

const (
	StatusPending          Status = "pending"
	StatusPlanning         Status = "planning"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusExecuting        Status = "executing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusSkipped          Status = "skipped"
)

// Phase is the orchestrator's durable phase for the currently active ticket.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhasePlanning         Phase = "planning"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseExecuting        Phase = "executing"
)

// Action is a single hook action: either a shell command or a driver prompt.
type Action struct {
	Type    string `json:"type" yaml:"type"` // "shell" or "prompt"
	Command string `json:"command" yaml:"command"`
}

// Hooks is the ordered set of lifecycle hook actions, keyed by hook name.
type Hooks struct {
	BeforeAll       []Action `json:"beforeAll,omitempty" yaml:"beforeAll,omitempty"`
	AfterAll        []Action `json:"afterAll,omitempty" yaml:"afterAll,omitempty"`
	BeforeEach      []Action `json:"beforeEach,omitempty" yaml:"beforeEach,omitempty"`
	AfterEach       []Action `json:"afterEach,omitempty" yaml:"afterEach,omitempty"`
	OnError         []Action `json:"onError,omitempty" yaml:"onError,omitempty"`
	OnQuestion      []Action `json:"onQuestion,omitempty" yaml:"onQuestion,omitempty"`
	OnPlanGenerated []Action `json:"onPlanGenerated,omitempty" yaml:"onPlanGenerated,omitempty"`
	OnApproval      []Action `json:"onApproval,omitempty" yaml:"onApproval,omitempty"`
	OnComplete      []Action `json:"onComplete,omitempty" yaml:"onComplete,omitempty"`
}

// Ticket is a single unit of work in the queue.
type Ticket struct {
	ID                 string         `json:"id" yaml:"id"`
	Title              string         `json:"title" yaml:"title"`
	Description        string         `json:"description" yaml:"description"`
	Priority           int            `json:"priority" yaml:"priority"`
	Status             Status         `json:"status" yaml:"status"`
	AcceptanceCriteria []string       `json:"acceptanceCriteria,omitempty" yaml:"acceptanceCriteria,omitempty"`
	Dependencies       []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	PlanMode           *bool          `json:"planMode,omitempty" yaml:"planMode,omitempty"`
	Complete           bool           `json:"complete" yaml:"complete"`
	Hooks              *Hooks         `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Images             []string       `json:"images,omitempty" yaml:"images,omitempty"`

	// PlanRevisions counts the plan revisions made for this ticket in the
	// current run after a rejection with feedback. It is not part of the
	// queue-file schema.
	PlanRevisions int `json:"-" yaml:"-"`
}

// Eligible reports whether t can be dispatched given the status of its
// dependencies. A ticket marked complete is never eligible. skip is true
// when t can never become eligible because a dependency failed or was
// itself skipped; that status propagates transitively down the chain.
func (t Ticket) Eligible(statusOf func(id string) (Status, bool)) (eligible bool, skip bool) {
	if t.Complete {
		return false, false
	}
	if t.Status != StatusPending {
		return false, false
	}
	for _, dep := range t.Dependencies {
		depStatus, ok := statusOf(dep)
		if !ok {
			return false, false
		}
		if depStatus == StatusFailed || depStatus == StatusSkipped {
			return false, true
		}
		if depStatus != StatusCompleted {
			return false, false
		}
	}
	return true, false
}

// Timeouts groups the four phase timeouts recognized by the orchestrator.
type Timeouts struct {
	PlanGeneration time.Duration `json:"planGeneration" yaml:"planGeneration"`
	Execution      time.Duration `json:"execution" yaml:"execution"`
	Approval       time.Duration `json:"approval" yaml:"approval"`
	Question       time.Duration `json:"question" yaml:"question"`
}

// Config holds process-wide settings recognized by the orchestrator.
type Config struct {
	Model              string   `json:"model" yaml:"model"`
	FallbackModel      string   `json:"fallbackModel" yaml:"fallbackModel"`
	MaxBudgetPerTicket float64  `json:"maxBudgetPerTicket" yaml:"maxBudgetPerTicket"`
	MaxRetries         int      `json:"maxRetries" yaml:"maxRetries"`
	MaxPlanRevisions   int      `json:"maxPlanRevisions" yaml:"maxPlanRevisions"`
	ContinueOnError    bool     `json:"continueOnError" yaml:"continueOnError"`
	AutoApprove        bool     `json:"autoApprove" yaml:"autoApprove"`
	PlanMode           bool     `json:"planMode" yaml:"planMode"`
	SkipPermissions    bool     `json:"skipPermissions" yaml:"skipPermissions"`
	AllowShellHooks    bool     `json:"allowShellHooks" yaml:"allowShellHooks"`
	Timeouts           Timeouts `json:"timeouts" yaml:"timeouts"`

	// AcknowledgeAutonomousRisk must be set explicitly (never from queue-file
	// data) to allow the combination of SkipPermissions+AutoApprove.
	AcknowledgeAutonomousRisk bool `json:"-" yaml:"-"`

	// UseWorkspaces enables per-ticket git-worktree working-directory
	// isolation (see workspace.Manager). Off by default: repoRoot is used
	// directly as cwd.
	UseWorkspaces bool `json:"useWorkspaces,omitempty" yaml:"useWorkspaces,omitempty"`
}

// DefaultConfig returns the orchestrator's zero-value-safe configuration.
func DefaultConfig() Config {
	return Config{
		Model:            "claude-opus-4",
		FallbackModel:    "claude-sonnet-4",
		MaxRetries:       2,
		MaxPlanRevisions: 3,
		ContinueOnError:  true,
		PlanMode:         true,
		Timeouts: Timeouts{
			PlanGeneration: 10 * time.Minute,
			Execution:      30 * time.Minute,
			Approval:       15 * time.Minute,
			Question:       10 * time.Minute,
		},
	}
}

// PendingQuestion is a question surfaced by the driver that is awaiting a
// human or autonomous answer.
type PendingQuestion struct {
	ID       string    `json:"id"`
	TicketID string    `json:"ticketId"`
	Text     string    `json:"text"`
	AskedAt  time.Time `json:"askedAt"`
}

// State is the orchestrator's durable run state, persisted atomically after
// every phase transition.
type State struct {
	Version          int               `json:"version"`
	CurrentTicketID  *string           `json:"currentTicketId"`
	CurrentPhase     Phase             `json:"currentPhase"`
	SessionID        *string           `json:"sessionId"`
	PauseRequested   bool              `json:"pauseRequested"`
	StartedAt        time.Time         `json:"startedAt"`
	LastUpdatedAt    time.Time         `json:"lastUpdatedAt"`
	PendingQuestions []PendingQuestion `json:"pendingQuestions"`
}

// NewState returns a freshly initialized, idle State.
func NewState() State {
	now := time.Now()
	return State{
		Version:          1,
		CurrentPhase:     PhaseIdle,
		StartedAt:        now,
		LastUpdatedAt:    now,
		PendingQuestions: []PendingQuestion{},
	}
}
