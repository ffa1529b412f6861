package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/planbot-dev/planbot/provider"
)

// fakeProvider is a minimal provider.Provider whose send methods invoke a
// test-supplied hook, letting each test script concurrent or delayed
// replies without a real transport.
type fakeProvider struct {
	name      string
	connected bool

	onApproval func(provider.ApprovalResponse)
	onQuestion func(provider.QuestionResponse)

	sendPlan   func(msg provider.PlanMessage, deliver func(provider.ApprovalResponse))
	sendQ      func(msg provider.QuestionMessage, deliver func(provider.QuestionResponse))
	sendStatus func(ctx context.Context, msg provider.StatusMessage) error
}

func (p *fakeProvider) Name() string                        { return p.name }
func (p *fakeProvider) Connect(ctx context.Context) error    { p.connected = true; return nil }
func (p *fakeProvider) Disconnect(ctx context.Context) error { p.connected = false; return nil }
func (p *fakeProvider) IsConnected() bool                    { return p.connected }

func (p *fakeProvider) SendStatus(ctx context.Context, msg provider.StatusMessage) error {
	if p.sendStatus != nil {
		return p.sendStatus(ctx, msg)
	}
	return nil
}

func (p *fakeProvider) SendPlanForApproval(ctx context.Context, msg provider.PlanMessage) error {
	if p.sendPlan != nil {
		p.sendPlan(msg, p.onApproval)
	}
	return nil
}

func (p *fakeProvider) SendQuestion(ctx context.Context, msg provider.QuestionMessage) error {
	if p.sendQ != nil {
		p.sendQ(msg, p.onQuestion)
	}
	return nil
}

func (p *fakeProvider) SetOnApproval(fn func(provider.ApprovalResponse))         { p.onApproval = fn }
func (p *fakeProvider) SetOnQuestionResponse(fn func(provider.QuestionResponse)) { p.onQuestion = fn }

func newConnectedProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, connected: true}
}

// At-most-once: two providers race for the same approval; only the first
// reply is observed, and the loser's later callback is a silent no-op.
func TestMultiplexerAtMostOnceApprovalResolution(t *testing.T) {
	fast := newConnectedProvider("fast")
	slow := newConnectedProvider("slow")

	fast.sendPlan = func(msg provider.PlanMessage, deliver func(provider.ApprovalResponse)) {
		go deliver(provider.ApprovalResponse{PlanID: msg.PlanID, Approved: true, RespondedBy: "fast"})
	}
	slow.sendPlan = func(msg provider.PlanMessage, deliver func(provider.ApprovalResponse)) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			deliver(provider.ApprovalResponse{PlanID: msg.PlanID, Approved: false, RespondedBy: "slow"})
		}()
	}

	m := NewMultiplexer(2*time.Second, 2*time.Second, nil)
	m.AddProvider(fast)
	m.AddProvider(slow)

	resp, err := m.RequestApproval(context.Background(), provider.PlanMessage{PlanID: "p1"})
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if resp.RespondedBy != "fast" || !resp.Approved {
		t.Fatalf("expected the fast provider's response to win, got %+v", resp)
	}

	// Give the slow provider's delayed callback time to fire and confirm
	// it is a no-op: a second request under a different id must still
	// resolve normally (the pending map was not corrupted).
	time.Sleep(100 * time.Millisecond)

	fast.sendPlan = func(msg provider.PlanMessage, deliver func(provider.ApprovalResponse)) {
		go deliver(provider.ApprovalResponse{PlanID: msg.PlanID, Approved: true})
	}
	resp2, err := m.RequestApproval(context.Background(), provider.PlanMessage{PlanID: "p2"})
	if err != nil {
		t.Fatalf("second RequestApproval: %v", err)
	}
	if !resp2.Approved {
		t.Fatalf("expected second request to resolve normally, got %+v", resp2)
	}
}

// A provider callback firing for an id that has already been resolved (or
// was never registered) must not panic or deadlock.
func TestMultiplexerResolveUnknownIDIsNoOp(t *testing.T) {
	m := NewMultiplexer(time.Second, time.Second, nil)
	m.resolve("never-registered", provider.ApprovalResponse{PlanID: "never-registered", Approved: true})
}

func TestMultiplexerApprovalTimeout(t *testing.T) {
	p := newConnectedProvider("silent")
	p.sendPlan = func(msg provider.PlanMessage, deliver func(provider.ApprovalResponse)) {
		// never replies
	}
	m := NewMultiplexer(30*time.Millisecond, 30*time.Millisecond, nil)
	m.AddProvider(p)

	_, err := m.RequestApproval(context.Background(), provider.PlanMessage{PlanID: "p1"})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	var timeoutErr *TimeoutError
	if te, ok := err.(*TimeoutError); !ok {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	} else {
		timeoutErr = te
	}
	if timeoutErr.Operation != "approval" || timeoutErr.ID != "p1" {
		t.Fatalf("unexpected timeout error fields: %+v", timeoutErr)
	}

	// The pending entry must have been cleared: a late reply after
	// timeout is a no-op rather than a panic on closed/reused channel.
	m.resolve("p1", provider.ApprovalResponse{PlanID: "p1", Approved: true})
}

func TestMultiplexerQuestionTimeout(t *testing.T) {
	p := newConnectedProvider("silent")
	p.sendQ = func(msg provider.QuestionMessage, deliver func(provider.QuestionResponse)) {}
	m := NewMultiplexer(time.Second, 20*time.Millisecond, nil)
	m.AddProvider(p)

	_, err := m.AskQuestion(context.Background(), provider.QuestionMessage{QuestionID: "q1"})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	te, ok := err.(*TimeoutError)
	if !ok {
		t.Fatalf("expected *TimeoutError, got %T", err)
	}
	if te.Operation != "question" {
		t.Fatalf("operation = %q, want %q", te.Operation, "question")
	}
}

func TestMultiplexerCancelApproval(t *testing.T) {
	p := newConnectedProvider("silent")
	p.sendPlan = func(msg provider.PlanMessage, deliver func(provider.ApprovalResponse)) {}
	m := NewMultiplexer(2*time.Second, 2*time.Second, nil)
	m.AddProvider(p)

	done := make(chan error, 1)
	go func() {
		_, err := m.RequestApproval(context.Background(), provider.PlanMessage{PlanID: "p1"})
		done <- err
	}()

	// Give RequestApproval a moment to register the pending entry before
	// cancelling it.
	time.Sleep(20 * time.Millisecond)
	m.CancelApproval("p1")

	select {
	case err := <-done:
		if _, ok := err.(*AbortedError); !ok {
			t.Fatalf("expected *AbortedError, got %T: %v", err, err)
		}
	case <-time.After(time.Second):
		t.Fatal("RequestApproval did not return after cancellation")
	}
}

func TestMultiplexerDisconnectAllAbortsPending(t *testing.T) {
	p := newConnectedProvider("silent")
	p.sendPlan = func(msg provider.PlanMessage, deliver func(provider.ApprovalResponse)) {}
	m := NewMultiplexer(2*time.Second, 2*time.Second, nil)
	m.AddProvider(p)

	done := make(chan error, 1)
	go func() {
		_, err := m.RequestApproval(context.Background(), provider.PlanMessage{PlanID: "p1"})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := m.DisconnectAll(context.Background()); err != nil {
		t.Fatalf("DisconnectAll: %v", err)
	}

	select {
	case err := <-done:
		if _, ok := err.(*AbortedError); !ok {
			t.Fatalf("expected *AbortedError, got %T: %v", err, err)
		}
	case <-time.After(time.Second):
		t.Fatal("RequestApproval did not return after DisconnectAll")
	}
}

// ConnectAll/DisconnectAll are idempotent: connecting an already-connected
// provider, or disconnecting an already-disconnected one, is a no-op.
func TestMultiplexerConnectDisconnectIdempotent(t *testing.T) {
	p := &fakeProvider{name: "p"}
	m := NewMultiplexer(time.Second, time.Second, nil)
	m.AddProvider(p)

	if err := m.ConnectAll(context.Background()); err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}
	if !p.IsConnected() {
		t.Fatal("expected provider to be connected")
	}
	if err := m.ConnectAll(context.Background()); err != nil {
		t.Fatalf("second ConnectAll: %v", err)
	}
	if err := m.DisconnectAll(context.Background()); err != nil {
		t.Fatalf("DisconnectAll: %v", err)
	}
	if p.IsConnected() {
		t.Fatal("expected provider to be disconnected")
	}
	if err := m.DisconnectAll(context.Background()); err != nil {
		t.Fatalf("second DisconnectAll: %v", err)
	}
}

// BroadcastStatus is best-effort: it reaches every connected provider and
// returns once all have been attempted, regardless of individual outcome.
func TestMultiplexerBroadcastStatusReachesAllConnected(t *testing.T) {
	a := newConnectedProvider("a")
	b := newConnectedProvider("b")
	disconnected := &fakeProvider{name: "c", connected: false}

	var mu sync.Mutex
	reached := map[string]bool{}
	record := func(name string) func(ctx context.Context, msg provider.StatusMessage) error {
		return func(ctx context.Context, msg provider.StatusMessage) error {
			mu.Lock()
			reached[name] = true
			mu.Unlock()
			return nil
		}
	}
	a.sendStatus = record("a")
	b.sendStatus = record("b")
	disconnected.sendStatus = record("c")

	m := NewMultiplexer(time.Second, time.Second, nil)
	m.AddProvider(a)
	m.AddProvider(b)
	m.AddProvider(disconnected)

	m.BroadcastStatus(context.Background(), provider.StatusMessage{Text: "hi"})

	mu.Lock()
	defer mu.Unlock()
	if !reached["a"] || !reached["b"] {
		t.Fatalf("expected both connected providers reached, got %+v", reached)
	}
	if reached["c"] {
		t.Fatal("expected disconnected provider not to be sent status")
	}
}
