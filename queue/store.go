package queue

// StateStore is the persistence contract for orchestrator run state,
// per-ticket plans, session tokens, execution logs, and pending
// questions. Both FileStore and SQLiteStore implement it.
type StateStore interface {
	Init(root string) error
	Exists(root string) bool
	Clear(root string) error

	Load(root string) (State, error)
	Save(root string, s State) error
	// Update performs a read-modify-write: it reloads the current state,
	// applies fn, saves the result, and returns it. fn must not retain the
	// State it is given beyond the call.
	Update(root string, fn func(State) State) (State, error)

	SavePlan(root, ticketID, plan string) error
	LoadPlan(root, ticketID string) (string, bool, error)

	SaveSession(root, ticketID, sessionToken string) error
	LoadSession(root, ticketID string) (string, bool, error)

	AppendLog(root, ticketID, line string) error

	AddPendingQuestion(root string, q PendingQuestion) error
	RemovePendingQuestion(root, id string) error
	GetPendingQuestions(root string) ([]PendingQuestion, error)
}
