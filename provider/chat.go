package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	basePollInterval    = 3 * time.Second
	maxPollInterval     = 60 * time.Second
	pollBackoffFactor   = 1.3
	questionPromptNoOpt = "Reply with your answer."
)

// Update is a single inbound reply observed by Transport.GetUpdates.
type Update struct {
	UpdateID         int64
	ChatID           string
	Text             string
	HasText          bool
	ReplyToMessageID string
}

// Transport is the external HTTP API surface the reply-correlating
// provider drives: validating credentials, sending messages, and
// long-polling for updates. A real implementation wraps a bot-style
// messaging API; tests substitute an in-memory fake.
type Transport interface {
	// GetMe validates the configured credentials against the service's
	// identity endpoint.
	GetMe(ctx context.Context) error
	// SendMessage posts text to chatID and returns the service-assigned
	// message id.
	SendMessage(ctx context.Context, chatID, text string) (messageID string, err error)
	// GetUpdates long-polls for updates at or after offset. offset=-1
	// requests only the most recent backlog, used to drain stale state on
	// connect.
	GetUpdates(ctx context.Context, offset int64) ([]Update, error)
}

type trackedKind string

const (
	trackedPlan     trackedKind = "plan"
	trackedQuestion trackedKind = "question"
)

type trackedMessage struct {
	kind     trackedKind
	targetID string
	options  []Option
}

// Chat is the reply-correlating reference Provider implementation: it
// sends plan/question prompts through Transport and correlates free-form
// user replies back to them via an at-most-once, reply-to-message
// polling protocol with exponential backoff (§4.5).
type Chat struct {
	transport Transport
	chatID    string
	logger    *slog.Logger

	mu        sync.Mutex
	connected bool
	tracked   map[string]trackedMessage
	offset    int64

	pollCancel context.CancelFunc
	pollDone   chan struct{}

	onApproval         func(ApprovalResponse)
	onQuestionResponse func(QuestionResponse)
}

// NewChat returns a Chat provider that only accepts replies from chatID.
func NewChat(transport Transport, chatID string, logger *slog.Logger) *Chat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chat{
		transport: transport,
		chatID:    chatID,
		logger:    logger,
		tracked:   make(map[string]trackedMessage),
	}
}

func (c *Chat) Name() string { return "chat" }

// Connect validates credentials, then drains any backlog of prior
// updates so replies from a previous process run are never mistaken for
// answers to fresh requests.
func (c *Chat) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.transport.GetMe(ctx); err != nil {
		return fmt.Errorf("provider/chat: validate credentials: %w", err)
	}

	if backlog, err := c.transport.GetUpdates(ctx, -1); err != nil {
		c.logger.Warn("provider/chat: failed draining backlog", "error", err)
	} else {
		for _, u := range backlog {
			if u.UpdateID+1 > c.offset {
				c.offset = u.UpdateID + 1
			}
		}
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Chat) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	cancel := c.pollCancel
	c.pollCancel = nil
	done := c.pollDone
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (c *Chat) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Chat) SetOnApproval(fn func(ApprovalResponse))         { c.onApproval = fn }
func (c *Chat) SetOnQuestionResponse(fn func(QuestionResponse)) { c.onQuestionResponse = fn }

// SendPlanForApproval emits a header, the plan body split into
// MaxChunkSize-bounded chunks, and a final approval prompt, tracking the
// prompt's message id against planId.
func (c *Chat) SendPlanForApproval(ctx context.Context, msg PlanMessage) error {
	header := fmt.Sprintf("Plan ready for review: %s (%s)", msg.Title, msg.TicketID)
	if _, err := c.transport.SendMessage(ctx, c.chatID, header); err != nil {
		return fmt.Errorf("provider/chat: send plan header: %w", err)
	}

	for _, chunk := range SplitChunks(msg.Plan, MaxChunkSize) {
		if _, err := c.transport.SendMessage(ctx, c.chatID, chunk); err != nil {
			return fmt.Errorf("provider/chat: send plan chunk: %w", err)
		}
	}

	promptID, err := c.transport.SendMessage(ctx, c.chatID, "Reply to this message to approve or reject this plan.")
	if err != nil {
		return fmt.Errorf("provider/chat: send approval prompt: %w", err)
	}

	c.track(promptID, trackedMessage{kind: trackedPlan, targetID: msg.PlanID})
	c.ensurePolling()
	return nil
}

// SendQuestion emits a question prompt (numbered options, if any) and
// tracks it against questionId.
func (c *Chat) SendQuestion(ctx context.Context, msg QuestionMessage) error {
	var b strings.Builder
	b.WriteString(msg.Text)
	if len(msg.Options) > 0 {
		b.WriteString("\n\n")
		for i, opt := range msg.Options {
			b.WriteString(strconv.Itoa(i + 1))
			b.WriteString(". ")
			b.WriteString(opt.Label)
			b.WriteString("\n")
		}
		b.WriteString("\nReply with the number or the label.")
	} else {
		b.WriteString("\n\n")
		b.WriteString(questionPromptNoOpt)
	}

	msgID, err := c.transport.SendMessage(ctx, c.chatID, b.String())
	if err != nil {
		return fmt.Errorf("provider/chat: send question: %w", err)
	}

	c.track(msgID, trackedMessage{kind: trackedQuestion, targetID: msg.QuestionID, options: msg.Options})
	c.ensurePolling()
	return nil
}

// SendStatus is a best-effort, untracked broadcast.
func (c *Chat) SendStatus(ctx context.Context, msg StatusMessage) error {
	_, err := c.transport.SendMessage(ctx, c.chatID, fmt.Sprintf("[%s] %s", msg.TicketID, msg.Text))
	if err != nil {
		return fmt.Errorf("provider/chat: send status: %w", err)
	}
	return nil
}

func (c *Chat) track(messageID string, tm trackedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked[messageID] = tm
}

func (c *Chat) trackedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracked)
}

// ensurePolling starts the reply-polling loop if it is not already
// running. The loop runs detached from any single request's context,
// stopping only on Disconnect or once trackedMessages drains to empty.
func (c *Chat) ensurePolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})
	go c.pollLoop(ctx, c.pollDone)
}

func (c *Chat) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = basePollInterval
	b.MaxInterval = maxPollInterval
	b.Multiplier = pollBackoffFactor
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	for {
		if !c.IsConnected() {
			return
		}

		matched, err := c.pollOnce(ctx)
		if err != nil {
			c.logger.Warn("provider/chat: poll cycle failed", "error", err)
		}
		if matched {
			b.Reset()
		}

		if c.trackedCount() == 0 {
			c.mu.Lock()
			c.pollCancel = nil
			c.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.NextBackOff()):
		}
	}
}

func (c *Chat) pollOnce(ctx context.Context) (matched bool, err error) {
	c.mu.Lock()
	offset := c.offset
	c.mu.Unlock()

	updates, err := c.transport.GetUpdates(ctx, offset)
	if err != nil {
		return false, fmt.Errorf("provider/chat: get updates: %w", err)
	}

	for _, u := range updates {
		c.mu.Lock()
		if u.UpdateID+1 > c.offset {
			c.offset = u.UpdateID + 1
		}
		c.mu.Unlock()

		if u.ChatID != c.chatID {
			c.logger.Warn("provider/chat: reply from unexpected chat ignored", "chat_id", u.ChatID)
			continue
		}
		if !u.HasText || u.ReplyToMessageID == "" {
			continue
		}

		c.mu.Lock()
		tm, ok := c.tracked[u.ReplyToMessageID]
		if ok {
			delete(c.tracked, u.ReplyToMessageID)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}

		matched = true
		c.deliver(tm, u.Text)
	}
	return matched, nil
}

func (c *Chat) deliver(tm trackedMessage, text string) {
	switch tm.kind {
	case trackedPlan:
		resp := ParseApproval(text)
		resp.PlanID = tm.targetID
		resp.RespondedBy = c.Name()
		if c.onApproval != nil {
			c.onApproval(resp)
		}
	case trackedQuestion:
		resp := ParseQuestionReply(text, tm.options)
		resp.QuestionID = tm.targetID
		resp.RespondedBy = c.Name()
		if c.onQuestionResponse != nil {
			c.onQuestionResponse(resp)
		}
	}
}
