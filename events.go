// Package planbot implements the orchestrator: the queue-driven phase
// machine that sequences tickets through plan/approve/execute/resume,
// wiring together the assistant-process driver, the approval/question
// multiplexer, the hook runner, and the persisted state store.
package planbot

import "github.com/planbot-dev/planbot/provider"

// EventType enumerates the orchestrator's event vocabulary. Listeners
// register a single EventSink and switch on Type; this mirrors the
// teacher's emitter object the way a typed systems language expresses a
// fire-and-forget notification channel without per-event interfaces.
type EventType string

const (
	EventTicketStart         EventType = "ticket:start"
	EventTicketPlanGenerated EventType = "ticket:plan-generated"
	EventTicketApproved      EventType = "ticket:approved"
	EventTicketRejected      EventType = "ticket:rejected"
	EventTicketExecuting     EventType = "ticket:executing"
	EventTicketCompleted     EventType = "ticket:completed"
	EventTicketFailed        EventType = "ticket:failed"
	EventTicketSkipped       EventType = "ticket:skipped"
	EventTicketOutput        EventType = "ticket:output"
	EventTicketEvent         EventType = "ticket:event"
	EventQuestion            EventType = "question"
	EventQueueStart          EventType = "queue:start"
	EventQueueComplete       EventType = "queue:complete"
	EventQueuePaused         EventType = "queue:paused"
	EventError               EventType = "error"
)

// Event is a single notification emitted by the orchestrator. Only the
// fields relevant to Type are populated; listeners must not throw -
// EventSink failures are never propagated back into the orchestrator.
type Event struct {
	Type     EventType
	TicketID string

	Plan        string // ticket:plan-generated
	Reason      string // ticket:rejected
	SessionID   string // ticket:completed
	CostUSD     float64
	Output      string            // ticket:output (raw driver stdout line)
	DriverType  string            // ticket:event (the underlying driver.Event.Type)
	QuestionID  string            // question
	Text        string            // question
	Options     []provider.Option // question
	Err         error             // error, ticket:failed
}

// EventSink receives every Event the orchestrator emits, in stream order
// per ticket. It must not block for long; the orchestrator calls it
// synchronously, from its single controller goroutine or, for
// ticket:output, ticket:event and question events, from the driver's
// stdout reader while the controller waits on that driver call.
type EventSink func(Event)
