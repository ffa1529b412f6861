// Package provider defines the delivery-channel abstraction used by the
// approval multiplexer (terminal prompts, a reply-correlating chat bot,
// and an HTTP webhook callback), plus the terminal and HMAC-verified
// webhook implementations. See chat.go for the reply-correlating
// reference implementation.
package provider

import "context"

// Option is a single selectable answer to a question.
type Option struct {
	Label string
	Value string
}

// PlanMessage is a plan awaiting human approval.
type PlanMessage struct {
	PlanID   string
	TicketID string
	Title    string
	Plan     string
}

// ApprovalResponse is a provider's answer to a PlanMessage.
type ApprovalResponse struct {
	PlanID         string
	Approved       bool
	RejectionReason string
	RespondedBy    string
}

// QuestionMessage is a clarifying question raised by the driver.
type QuestionMessage struct {
	QuestionID string
	TicketID   string
	Text       string
	Options    []Option // empty for free-text questions
}

// QuestionResponse is a provider's answer to a QuestionMessage.
type QuestionResponse struct {
	QuestionID    string
	Answer        string
	MatchedOption bool
	RespondedBy   string
}

// StatusMessage is a best-effort broadcast status update.
type StatusMessage struct {
	TicketID string
	Text     string
}

// Provider is a delivery channel the approval multiplexer can fan
// requests out to: terminal, chat bot, or webhook.
type Provider interface {
	Name() string

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	SendPlanForApproval(ctx context.Context, msg PlanMessage) error
	SendQuestion(ctx context.Context, msg QuestionMessage) error
	SendStatus(ctx context.Context, msg StatusMessage) error

	// SetOnApproval/SetOnQuestionResponse wire the multiplexer's
	// resolution callbacks in at construction/registration time, per the
	// documented preference for interface+constructor wiring over
	// assignable callback fields.
	SetOnApproval(func(ApprovalResponse))
	SetOnQuestionResponse(func(QuestionResponse))
}
