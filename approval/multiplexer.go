// Package approval implements the fan-out/fan-in hub that broadcasts plan
// approvals, questions, and status updates to every connected provider and
// races their responses, resolving the first reply and discarding the
// rest.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/planbot-dev/planbot/provider"
)

// TimeoutError is returned when a request is not answered within its
// configured timeout.
type TimeoutError struct {
	Operation string // "approval" or "question"
	ID        string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("approval: %s %s timed out", e.Operation, e.ID)
}

// AbortedError is returned when a pending request is cancelled or the
// multiplexer is disconnected while it was still pending.
type AbortedError struct {
	Operation string
	ID        string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("approval: %s %s aborted", e.Operation, e.ID)
}

// pendingEntry is resolved exactly once: Multiplexer.take performs the atomic
// check-and-clear that guarantees at-most-once delivery even when
// multiple providers' callbacks race for the same id.
type pendingEntry struct {
	resultCh chan any // receives *provider.ApprovalResponse or *provider.QuestionResponse
}

// Multiplexer fans requests out to every connected provider and resolves
// on the first matching reply.
type Multiplexer struct {
	logger *slog.Logger

	ApprovalTimeout time.Duration
	QuestionTimeout time.Duration

	mu        sync.Mutex
	providers map[string]provider.Provider

	pendingMu sync.Mutex
	pending   map[string]*pendingEntry // keyed by planId or questionId

	onError func(error)
}

// NewMultiplexer returns a Multiplexer with the given per-request
// timeouts.
func NewMultiplexer(approvalTimeout, questionTimeout time.Duration, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		logger:          logger,
		ApprovalTimeout: approvalTimeout,
		QuestionTimeout: questionTimeout,
		providers:       make(map[string]provider.Provider),
		pending:         make(map[string]*pendingEntry),
	}
}

// OnError registers the multiplexer's error event sink.
func (m *Multiplexer) OnError(fn func(error)) { m.onError = fn }

func (m *Multiplexer) emitError(err error) {
	m.logger.Warn("approval: error", "error", err)
	if m.onError != nil {
		m.onError(err)
	}
}

// AddProvider registers p, wiring its approval/question callbacks to this
// multiplexer's resolution logic. Adding a provider with an existing name
// replaces it.
func (m *Multiplexer) AddProvider(p provider.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
	p.SetOnApproval(func(resp provider.ApprovalResponse) { m.resolve(resp.PlanID, resp) })
	p.SetOnQuestionResponse(func(resp provider.QuestionResponse) { m.resolve(resp.QuestionID, resp) })
}

// RemoveProvider unregisters a provider by name.
func (m *Multiplexer) RemoveProvider(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.providers, name)
}

func (m *Multiplexer) snapshotProviders() []provider.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]provider.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, p)
	}
	return out
}

// ConnectAll connects every registered provider concurrently. Connecting
// an already-connected provider is a no-op (idempotent).
func (m *Multiplexer) ConnectAll(ctx context.Context) error {
	providers := m.snapshotProviders()
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			if p.IsConnected() {
				return nil
			}
			if err := p.Connect(ctx); err != nil {
				m.emitError(fmt.Errorf("approval: connect %s: %w", p.Name(), err))
			}
			return nil
		})
	}
	return g.Wait()
}

// DisconnectAll disconnects every registered provider and aborts any
// requests still pending.
func (m *Multiplexer) DisconnectAll(ctx context.Context) error {
	providers := m.snapshotProviders()
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			if !p.IsConnected() {
				return nil
			}
			if err := p.Disconnect(ctx); err != nil {
				m.emitError(fmt.Errorf("approval: disconnect %s: %w", p.Name(), err))
			}
			return nil
		})
	}
	err := g.Wait()
	m.abortAllPending()
	return err
}

func (m *Multiplexer) abortAllPending() {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	for id, entry := range m.pending {
		select {
		case entry.resultCh <- &AbortedError{ID: id}:
		default:
		}
		delete(m.pending, id)
	}
}

// take performs the atomic check-and-delete that guarantees a pending
// entry is resolved by exactly one caller.
func (m *Multiplexer) take(id string) (*pendingEntry, bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	entry, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	return entry, ok
}

func (m *Multiplexer) register(id string) *pendingEntry {
	entry := &pendingEntry{resultCh: make(chan any, 1)}
	m.pendingMu.Lock()
	m.pending[id] = entry
	m.pendingMu.Unlock()
	return entry
}

// resolve is invoked by a provider's onApproval/onQuestionResponse
// callback. Only the first caller for a given id observes a delivery; all
// later callbacks for the same id are silently dropped.
func (m *Multiplexer) resolve(id string, response any) {
	entry, ok := m.take(id)
	if !ok {
		return // already resolved, or unknown id: silently dropped
	}
	entry.resultCh <- response
}

// RequestApproval broadcasts msg to every connected provider and resolves
// with the first response received, by wall-clock arrival order.
func (m *Multiplexer) RequestApproval(ctx context.Context, msg provider.PlanMessage) (provider.ApprovalResponse, error) {
	entry := m.register(msg.PlanID)

	providers := m.snapshotProviders()
	var g errgroup.Group
	for _, p := range providers {
		p := p
		if !p.IsConnected() {
			continue
		}
		g.Go(func() error {
			if err := p.SendPlanForApproval(ctx, msg); err != nil {
				m.emitError(fmt.Errorf("approval: %s send plan: %w", p.Name(), err))
			}
			return nil
		})
	}
	go g.Wait() //nolint:errcheck // provider send failures are logged, not fatal to the race

	timeout := m.ApprovalTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-entry.resultCh:
		switch v := result.(type) {
		case provider.ApprovalResponse:
			return v, nil
		case error:
			return provider.ApprovalResponse{}, v
		default:
			return provider.ApprovalResponse{}, fmt.Errorf("approval: unexpected result type %T", result)
		}
	case <-timer.C:
		m.take(msg.PlanID)
		err := &TimeoutError{Operation: "approval", ID: msg.PlanID}
		m.emitError(err)
		return provider.ApprovalResponse{}, err
	case <-ctx.Done():
		m.take(msg.PlanID)
		return provider.ApprovalResponse{}, ctx.Err()
	}
}

// AskQuestion broadcasts q to every connected provider and resolves with
// the first response received.
func (m *Multiplexer) AskQuestion(ctx context.Context, q provider.QuestionMessage) (provider.QuestionResponse, error) {
	entry := m.register(q.QuestionID)

	providers := m.snapshotProviders()
	var g errgroup.Group
	for _, p := range providers {
		p := p
		if !p.IsConnected() {
			continue
		}
		g.Go(func() error {
			if err := p.SendQuestion(ctx, q); err != nil {
				m.emitError(fmt.Errorf("approval: %s send question: %w", p.Name(), err))
			}
			return nil
		})
	}
	go g.Wait() //nolint:errcheck

	timeout := m.QuestionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-entry.resultCh:
		switch v := result.(type) {
		case provider.QuestionResponse:
			return v, nil
		case error:
			return provider.QuestionResponse{}, v
		default:
			return provider.QuestionResponse{}, fmt.Errorf("approval: unexpected result type %T", result)
		}
	case <-timer.C:
		m.take(q.QuestionID)
		err := &TimeoutError{Operation: "question", ID: q.QuestionID}
		m.emitError(err)
		return provider.QuestionResponse{}, err
	case <-ctx.Done():
		m.take(q.QuestionID)
		return provider.QuestionResponse{}, ctx.Err()
	}
}

// BroadcastStatus sends a status message to every connected provider,
// best-effort: individual failures are logged but never surfaced.
func (m *Multiplexer) BroadcastStatus(ctx context.Context, msg provider.StatusMessage) {
	providers := m.snapshotProviders()
	var wg sync.WaitGroup
	for _, p := range providers {
		if !p.IsConnected() {
			continue
		}
		wg.Add(1)
		go func(p provider.Provider) {
			defer wg.Done()
			if err := p.SendStatus(ctx, msg); err != nil {
				m.emitError(fmt.Errorf("approval: %s send status: %w", p.Name(), err))
			}
		}(p)
	}
	wg.Wait()
}

// CancelApproval cancels a pending approval request, if one is still
// pending, resolving it with an aborted error.
func (m *Multiplexer) CancelApproval(planID string) {
	m.cancel(planID, "approval")
}

// CancelQuestion cancels a pending question request, if one is still
// pending, resolving it with an aborted error.
func (m *Multiplexer) CancelQuestion(questionID string) {
	m.cancel(questionID, "question")
}

// ResolveApproval resolves a pending approval request directly, without
// going through a registered provider. This is the path control-plane
// calls (Orchestrator.ApproveTicket/RejectTicket) use to answer a plan
// that was presented to a human through some other surface (e.g. a CLI
// subcommand) than the providers this multiplexer fanned the request out
// to. Returns false if no request was pending under id.
func (m *Multiplexer) ResolveApproval(planID string, resp provider.ApprovalResponse) bool {
	entry, ok := m.take(planID)
	if !ok {
		return false
	}
	entry.resultCh <- resp
	return true
}

// ResolveQuestion resolves a pending question request directly; see
// ResolveApproval.
func (m *Multiplexer) ResolveQuestion(questionID string, resp provider.QuestionResponse) bool {
	entry, ok := m.take(questionID)
	if !ok {
		return false
	}
	entry.resultCh <- resp
	return true
}

func (m *Multiplexer) cancel(id, operation string) {
	entry, ok := m.take(id)
	if !ok {
		return
	}
	entry.resultCh <- &AbortedError{Operation: operation, ID: id}
}
