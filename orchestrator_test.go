package planbot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/planbot-dev/planbot/approval"
	"github.com/planbot-dev/planbot/driver"
	"github.com/planbot-dev/planbot/provider"
	"github.com/planbot-dev/planbot/queue"
)

// fakeDriver is a scripted driver.AssistantDriver: each call pops the
// next queued result for generatePlan/execute respectively, recording
// every invocation's model for assertions.
type fakeDriver struct {
	mu sync.Mutex

	planResults    []driver.Result
	executeResults []driver.Result

	planCalls    []string // models used
	planPrompts  []string // prompts passed to GeneratePlan, in call order
	executeCalls []string
}

func (f *fakeDriver) GeneratePlan(ctx context.Context, prompt string, opts driver.Options, outputSink func(string)) (driver.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls = append(f.planCalls, opts.Model)
	f.planPrompts = append(f.planPrompts, prompt)
	if len(f.planResults) == 0 {
		return driver.Result{Success: true, Plan: "default plan"}, nil
	}
	res := f.planResults[0]
	f.planResults = f.planResults[1:]
	return res, nil
}

func (f *fakeDriver) Execute(ctx context.Context, prompt string, opts driver.Options, cb driver.Callbacks) (driver.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executeCalls = append(f.executeCalls, opts.Model)
	if len(f.executeResults) == 0 {
		return driver.Result{Success: true}, nil
	}
	res := f.executeResults[0]
	f.executeResults = f.executeResults[1:]
	return res, nil
}

func (f *fakeDriver) Resume(ctx context.Context, sessionID, prompt string, opts driver.Options, cb driver.Callbacks) (driver.Result, error) {
	return f.Execute(ctx, prompt, opts, cb)
}

func (f *fakeDriver) RunPrompt(ctx context.Context, prompt string, opts driver.Options) (driver.Result, error) {
	return driver.Result{Success: true}, nil
}

func (f *fakeDriver) Abort()                                            {}
func (f *fakeDriver) AnswerQuestion(ctx context.Context, text string) error { return nil }

// fakeProvider is a Provider whose approval/question behavior is driven
// by test-supplied functions, letting each scenario script a response
// without a real polling transport.
type fakeProvider struct {
	name      string
	connected bool

	onApproval func(provider.ApprovalResponse)
	onQuestion func(provider.QuestionResponse)

	onSendPlan func(msg provider.PlanMessage)
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) Connect(ctx context.Context) error {
	p.connected = true
	return nil
}
func (p *fakeProvider) Disconnect(ctx context.Context) error {
	p.connected = false
	return nil
}
func (p *fakeProvider) IsConnected() bool { return p.connected }

func (p *fakeProvider) SendPlanForApproval(ctx context.Context, msg provider.PlanMessage) error {
	if p.onSendPlan != nil {
		p.onSendPlan(msg)
	}
	return nil
}
func (p *fakeProvider) SendQuestion(ctx context.Context, msg provider.QuestionMessage) error { return nil }
func (p *fakeProvider) SendStatus(ctx context.Context, msg provider.StatusMessage) error     { return nil }

func (p *fakeProvider) SetOnApproval(fn func(provider.ApprovalResponse))         { p.onApproval = fn }
func (p *fakeProvider) SetOnQuestionResponse(fn func(provider.QuestionResponse)) { p.onQuestion = fn }

// eventTypesOf returns the Type of every recorded event, since the test
// harness above appends into a slice the closure captured by reference
// (tests read it after Start returns, when no more writes occur).
func eventTypesOf(sink *[]Event) []EventType {
	var out []EventType
	for _, e := range *sink {
		out = append(out, e.Type)
	}
	return out
}

func baseConfig() queue.Config {
	cfg := queue.DefaultConfig()
	cfg.AutoApprove = false
	cfg.PlanMode = true
	cfg.MaxRetries = 2
	cfg.MaxPlanRevisions = 3
	cfg.ContinueOnError = true
	return cfg
}

// Scenario 1: approve-first.
func TestOrchestratorApproveFirst(t *testing.T) {
	drv := &fakeDriver{}
	prov := &fakeProvider{name: "term"}
	prov.onSendPlan = func(msg provider.PlanMessage) {
		go prov.onApproval(provider.ApprovalResponse{PlanID: msg.PlanID, Approved: true})
	}

	cfg := baseConfig()
	var events []Event
	var mu sync.Mutex
	root := t.TempDir()
	store := queue.NewFileStore()
	store.Init(root)
	mux := approval.NewMultiplexer(2*time.Second, 2*time.Second, nil)
	mux.AddProvider(prov)
	prov.connected = true

	o, err := New(Options{Root: root, Config: cfg, Tickets: []queue.Ticket{{ID: "A", Title: "t", Description: "d", Status: queue.StatusPending}}, Store: store, Driver: drv, Mux: mux})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.OnEvent(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	got := eventTypesOf(&events)
	want := []EventType{
		EventQueueStart, EventTicketStart, EventTicketPlanGenerated,
		EventTicketApproved, EventTicketExecuting, EventTicketCompleted,
		EventQueueComplete,
	}
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %v, want %v (full: %v)", i, got[i], want[i], got)
		}
	}
	if len(drv.planCalls) != 1 || len(drv.executeCalls) != 1 {
		t.Fatalf("expected 1 plan + 1 execute call, got %d/%d", len(drv.planCalls), len(drv.executeCalls))
	}
}

// Scenario 2: revise-then-approve.
func TestOrchestratorReviseThenApprove(t *testing.T) {
	drv := &fakeDriver{}
	prov := &fakeProvider{name: "term"}

	calls := 0
	prov.onSendPlan = func(msg provider.PlanMessage) {
		calls++
		if calls == 1 {
			go prov.onApproval(provider.ApprovalResponse{PlanID: msg.PlanID, Approved: false, RejectionReason: "add logging"})
		} else {
			go prov.onApproval(provider.ApprovalResponse{PlanID: msg.PlanID, Approved: true})
		}
	}

	cfg := baseConfig()
	var events []Event
	var mu sync.Mutex
	root := t.TempDir()
	store := queue.NewFileStore()
	store.Init(root)
	mux := approval.NewMultiplexer(2*time.Second, 2*time.Second, nil)
	mux.AddProvider(prov)
	prov.connected = true

	o, err := New(Options{Root: root, Config: cfg, Tickets: []queue.Ticket{{ID: "A", Title: "t", Description: "d", Status: queue.StatusPending}}, Store: store, Driver: drv, Mux: mux})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.OnEvent(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	var planGenCount, rejectedCount, executingCount int
	for _, e := range events {
		switch e.Type {
		case EventTicketPlanGenerated:
			planGenCount++
		case EventTicketRejected:
			rejectedCount++
			if e.Reason != "add logging" {
				t.Fatalf("rejection reason = %q, want %q", e.Reason, "add logging")
			}
		case EventTicketExecuting:
			executingCount++
		}
	}
	if planGenCount != 2 {
		t.Fatalf("plan-generated count = %d, want 2", planGenCount)
	}
	if rejectedCount != 1 {
		t.Fatalf("rejected count = %d, want 1", rejectedCount)
	}
	if executingCount != 1 {
		t.Fatalf("executing count = %d, want 1", executingCount)
	}
	if len(drv.executeCalls) != 1 {
		t.Fatalf("expected exactly 1 execute call, got %d", len(drv.executeCalls))
	}
	if len(drv.planPrompts) != 2 {
		t.Fatalf("expected exactly 2 plan calls, got %d", len(drv.planPrompts))
	}
	revisedPrompt := drv.planPrompts[1]
	if !strings.Contains(revisedPrompt, "Previous Plan Feedback") {
		t.Fatalf("expected revised prompt to contain %q:\n%s", "Previous Plan Feedback", revisedPrompt)
	}
	if !strings.Contains(revisedPrompt, "add logging") {
		t.Fatalf("expected revised prompt to contain feedback %q:\n%s", "add logging", revisedPrompt)
	}
}

// Scenario 3: exhaust revisions.
func TestOrchestratorExhaustRevisions(t *testing.T) {
	drv := &fakeDriver{}
	prov := &fakeProvider{name: "term"}
	prov.onSendPlan = func(msg provider.PlanMessage) {
		go prov.onApproval(provider.ApprovalResponse{PlanID: msg.PlanID, Approved: false, RejectionReason: "revise again"})
	}

	cfg := baseConfig()
	cfg.MaxPlanRevisions = 1
	var events []Event
	var mu sync.Mutex
	root := t.TempDir()
	store := queue.NewFileStore()
	store.Init(root)
	mux := approval.NewMultiplexer(2*time.Second, 2*time.Second, nil)
	mux.AddProvider(prov)
	prov.connected = true

	o, err := New(Options{Root: root, Config: cfg, Tickets: []queue.Ticket{{ID: "A", Title: "t", Description: "d", Status: queue.StatusPending}}, Store: store, Driver: drv, Mux: mux})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.OnEvent(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(drv.planCalls) != 2 {
		t.Fatalf("expected generatePlan called twice, got %d", len(drv.planCalls))
	}
	if len(drv.executeCalls) != 0 {
		t.Fatalf("expected execute never called, got %d calls", len(drv.executeCalls))
	}
	foundSkipped := false
	for _, e := range events {
		if e.Type == EventTicketSkipped && e.TicketID == "A" {
			foundSkipped = true
		}
	}
	if !foundSkipped {
		t.Fatalf("expected ticket:skipped(A), got events %v", eventTypesOf(&events))
	}
}

// Scenario 4: rate-limit fallback on execute.
func TestOrchestratorRateLimitFallbackOnExecute(t *testing.T) {
	drv := &fakeDriver{
		executeResults: []driver.Result{
			{Success: false, Error: "you have hit your limit for this period"},
			{Success: true},
		},
	}
	prov := &fakeProvider{name: "term"}
	prov.onSendPlan = func(msg provider.PlanMessage) {
		go prov.onApproval(provider.ApprovalResponse{PlanID: msg.PlanID, Approved: true})
	}

	cfg := baseConfig()
	cfg.Model = "opus"
	cfg.FallbackModel = "sonnet"
	var events []Event
	var mu sync.Mutex
	root := t.TempDir()
	store := queue.NewFileStore()
	store.Init(root)
	mux := approval.NewMultiplexer(2*time.Second, 2*time.Second, nil)
	mux.AddProvider(prov)
	prov.connected = true

	o, err := New(Options{Root: root, Config: cfg, Tickets: []queue.Ticket{{ID: "A", Title: "t", Description: "d", Status: queue.StatusPending}}, Store: store, Driver: drv, Mux: mux})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.OnEvent(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(drv.executeCalls) != 2 {
		t.Fatalf("expected 2 execute calls, got %d", len(drv.executeCalls))
	}
	if drv.executeCalls[0] != "opus" || drv.executeCalls[1] != "sonnet" {
		t.Fatalf("expected execute calls [opus sonnet], got %v", drv.executeCalls)
	}
	completed := false
	for _, e := range events {
		if e.Type == EventTicketCompleted {
			completed = true
		}
	}
	if !completed {
		t.Fatalf("expected ticket:completed, got %v", eventTypesOf(&events))
	}
}

// Scenario 5: dependency skip.
func TestOrchestratorDependencySkip(t *testing.T) {
	drv := &fakeDriver{
		executeResults: []driver.Result{
			{Success: false, Error: "boom"},
		},
	}
	cfg := baseConfig()
	cfg.AutoApprove = true // skip provider interaction entirely
	cfg.MaxRetries = 0
	cfg.ContinueOnError = true
	cfg.FallbackModel = "" // disable fallback so the single "boom" failure is terminal

	var events []Event
	var mu sync.Mutex
	root := t.TempDir()
	store := queue.NewFileStore()
	store.Init(root)
	mux := approval.NewMultiplexer(2*time.Second, 2*time.Second, nil)

	tickets := []queue.Ticket{
		{ID: "A", Title: "a", Description: "d", Status: queue.StatusPending},
		{ID: "B", Title: "b", Description: "d", Status: queue.StatusPending, Dependencies: []string{"A"}},
	}
	o, err := New(Options{Root: root, Config: cfg, Tickets: tickets, Store: store, Driver: drv, Mux: mux})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.OnEvent(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	var failedA, skippedB, complete bool
	for _, e := range events {
		switch {
		case e.Type == EventTicketFailed && e.TicketID == "A":
			failedA = true
		case e.Type == EventTicketSkipped && e.TicketID == "B":
			skippedB = true
		case e.Type == EventQueueComplete:
			complete = true
		}
	}
	if !failedA {
		t.Fatalf("expected ticket:failed(A), got %v", eventTypesOf(&events))
	}
	if !skippedB {
		t.Fatalf("expected ticket:skipped(B), got %v", eventTypesOf(&events))
	}
	if !complete {
		t.Fatalf("expected queue:complete, got %v", eventTypesOf(&events))
	}
	// No driver execute call should have been attributed to B: only A's
	// single (failing) attempt is recorded.
	if len(drv.executeCalls) != 1 {
		t.Fatalf("expected exactly 1 execute call (for A only), got %d", len(drv.executeCalls))
	}
}

// Re-entry: a second Start while running fails.
func TestOrchestratorStartReentryRejected(t *testing.T) {
	drv := &fakeDriver{}
	cfg := baseConfig()
	cfg.AutoApprove = true
	root := t.TempDir()
	store := queue.NewFileStore()
	store.Init(root)
	mux := approval.NewMultiplexer(2*time.Second, 2*time.Second, nil)

	o, err := New(Options{Root: root, Config: cfg, Tickets: []queue.Ticket{{ID: "A", Title: "t", Description: "d", Status: queue.StatusPending}}, Store: store, Driver: drv, Mux: mux})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	o.mu.Lock()
	o.running = true
	o.mu.Unlock()

	if err := o.Start(context.Background()); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

// Stop disconnects every provider the multiplexer holds, per its godoc
// and the control-plane contract.
func TestOrchestratorStopDisconnectsProviders(t *testing.T) {
	drv := &fakeDriver{}
	cfg := baseConfig()
	root := t.TempDir()
	store := queue.NewFileStore()
	store.Init(root)
	mux := approval.NewMultiplexer(2*time.Second, 2*time.Second, nil)
	prov := &fakeProvider{name: "term"}
	mux.AddProvider(prov)
	if err := mux.ConnectAll(context.Background()); err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}

	o, err := New(Options{Root: root, Config: cfg, Tickets: nil, Store: store, Driver: drv, Mux: mux})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	o.Stop()

	if prov.IsConnected() {
		t.Fatal("expected Stop to disconnect all providers")
	}
}

// Unknown ticket control-plane calls are rejected without aborting the
// queue.
func TestOrchestratorUnknownTicketControlPlane(t *testing.T) {
	drv := &fakeDriver{}
	cfg := baseConfig()
	root := t.TempDir()
	store := queue.NewFileStore()
	store.Init(root)
	mux := approval.NewMultiplexer(2*time.Second, 2*time.Second, nil)

	o, err := New(Options{Root: root, Config: cfg, Tickets: nil, Store: store, Driver: drv, Mux: mux})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = o.SkipTicket("nope")
	var unknown *ErrUnknownTicket
	if err == nil || !errorsAs(err, &unknown) {
		t.Fatalf("expected ErrUnknownTicket, got %v", err)
	}

	err = o.AnswerQuestion("nope", "answer")
	if err == nil {
		t.Fatalf("expected error answering unknown question")
	}
}

func errorsAs(err error, target **ErrUnknownTicket) bool {
	e, ok := err.(*ErrUnknownTicket)
	if ok {
		*target = e
	}
	return ok
}

func TestBuildPromptIncludesAcceptanceCriteria(t *testing.T) {
	ticket := &queue.Ticket{
		Title:              "Title",
		Description:        "Desc",
		AcceptanceCriteria: []string{"first", "second"},
	}
	got := buildPrompt(ticket)
	for _, want := range []string{"Title", "Desc", "Acceptance Criteria:", "- first", "- second"} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestWithFeedbackEmbedsPriorPlanAndFeedback(t *testing.T) {
	got := withFeedback("base prompt", "prior plan text", "needs tests")
	for _, want := range []string{"base prompt", previousPlanFeedbackHeader, "prior plan text", "needs tests"} {
		if !strings.Contains(got, want) {
			t.Fatalf("revised prompt missing %q:\n%s", want, got)
		}
	}
}

func TestAutoAnswerPrefersRecommended(t *testing.T) {
	opts := []provider.Option{{Label: "Option A", Value: "a"}, {Label: "Option B (Recommended)", Value: "b"}}
	if got := autoAnswer(opts); got != "b" {
		t.Fatalf("autoAnswer = %q, want %q", got, "b")
	}
}

func TestAutoAnswerFallsBackToFirstThenBestJudgement(t *testing.T) {
	opts := []provider.Option{{Label: "Only", Value: "x"}}
	if got := autoAnswer(opts); got != "x" {
		t.Fatalf("autoAnswer = %q, want %q", got, "x")
	}
	if got := autoAnswer(nil); got != provider.BestJudgementAnswer {
		t.Fatalf("autoAnswer(nil) = %q, want %q", got, provider.BestJudgementAnswer)
	}
}

func TestOrchestratorAutonomousAutoAnswersQuestion(t *testing.T) {
	drv := &fakeDriver{}

	cfg := baseConfig()
	cfg.AutoApprove = true
	root := t.TempDir()
	store := queue.NewFileStore()
	store.Init(root)
	mux := approval.NewMultiplexer(2*time.Second, 2*time.Second, nil)

	tickets := []queue.Ticket{{ID: "A", Title: "t", Description: "d", Status: queue.StatusPending}}
	o, err := New(Options{Root: root, Config: cfg, Tickets: tickets, Store: store, Driver: drv, Mux: mux})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t0, _ := o.findTicket("A")
	handler := o.makeQuestionHandler(t0, nil, "model")
	answer, err := handler(context.Background(), "q1", "pick one", []string{"Opt A", "Opt B (recommended)"})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if answer != "Opt B (recommended)" {
		t.Fatalf("answer = %q, want recommended option", answer)
	}
}
