package provider

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport for testing Chat's poll/offset/
// chat-id-security logic without a real HTTP round trip.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	nextID  int
	updates []Update
	getMeErr error
}

func (f *fakeTransport) GetMe(ctx context.Context) error { return f.getMeErr }

func (f *fakeTransport) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, text)
	return strconv.Itoa(f.nextID), nil
}

func (f *fakeTransport) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset < 0 {
		return nil, nil // no backlog in tests
	}
	var out []Update
	for _, u := range f.updates {
		if u.UpdateID >= offset {
			out = append(out, u)
		}
	}
	f.updates = nil // each cycle only returns new updates once
	return out, nil
}

func (f *fakeTransport) push(u Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}

func TestChatApprovalRoundTrip(t *testing.T) {
	ft := &fakeTransport{}
	c := NewChat(ft, "chat-1", nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect(context.Background())

	resultCh := make(chan ApprovalResponse, 1)
	c.SetOnApproval(func(r ApprovalResponse) { resultCh <- r })

	ft.push(Update{UpdateID: 1, ChatID: "chat-1", Text: "yes", HasText: true, ReplyToMessageID: "3"})

	if err := c.SendPlanForApproval(context.Background(), PlanMessage{
		PlanID: "plan-1", TicketID: "t-1", Title: "Add feature", Plan: "do the thing",
	}); err != nil {
		t.Fatalf("send plan: %v", err)
	}

	select {
	case resp := <-resultCh:
		if !resp.Approved || resp.PlanID != "plan-1" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for approval callback")
	}
}

func TestChatRejectsReplyFromWrongChat(t *testing.T) {
	ft := &fakeTransport{}
	c := NewChat(ft, "chat-1", nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect(context.Background())

	called := false
	c.SetOnApproval(func(r ApprovalResponse) { called = true })

	ft.push(Update{UpdateID: 1, ChatID: "chat-2", Text: "yes", HasText: true, ReplyToMessageID: "3"})

	if err := c.SendPlanForApproval(context.Background(), PlanMessage{PlanID: "plan-1", TicketID: "t-1", Plan: "x"}); err != nil {
		t.Fatalf("send plan: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if called {
		t.Fatal("approval callback must not fire for a reply from an unexpected chat")
	}
	if c.trackedCount() != 1 {
		t.Fatalf("expected the tracked entry to survive a wrong-chat reply, got %d tracked", c.trackedCount())
	}
}

func TestChatQuestionWithOptions(t *testing.T) {
	ft := &fakeTransport{}
	c := NewChat(ft, "chat-1", nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect(context.Background())

	resultCh := make(chan QuestionResponse, 1)
	c.SetOnQuestionResponse(func(r QuestionResponse) { resultCh <- r })

	ft.push(Update{UpdateID: 1, ChatID: "chat-1", Text: "2", HasText: true, ReplyToMessageID: "1"})

	opts := []Option{{Label: "Postgres", Value: "postgres"}, {Label: "MySQL", Value: "mysql"}}
	if err := c.SendQuestion(context.Background(), QuestionMessage{
		QuestionID: "q-1", TicketID: "t-1", Text: "Which database?", Options: opts,
	}); err != nil {
		t.Fatalf("send question: %v", err)
	}

	select {
	case resp := <-resultCh:
		if !resp.MatchedOption || resp.Answer != "mysql" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for question callback")
	}
}
