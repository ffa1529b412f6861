package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Terminal is a Provider that prompts on stdout and reads replies from
// stdin, synchronously, resolving the multiplexer's pending entry inline
// rather than via a background poll loop.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer

	mu          sync.Mutex
	connected   bool
	interactive bool

	onApproval         func(ApprovalResponse)
	onQuestionResponse func(QuestionResponse)
}

// NewTerminal returns a terminal provider reading from in and writing
// prompts to out. Interactivity (whether prompts are rendered at all, as
// opposed to treated as a no-op channel) is detected via isatty when in
// is an *os.File.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	interactive := true
	if f, ok := in.(interface{ Fd() uintptr }); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Terminal{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
	}
}

func (t *Terminal) Name() string { return "terminal" }

func (t *Terminal) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *Terminal) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

func (t *Terminal) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Terminal) SetOnApproval(fn func(ApprovalResponse))         { t.onApproval = fn }
func (t *Terminal) SetOnQuestionResponse(fn func(QuestionResponse)) { t.onQuestionResponse = fn }

func (t *Terminal) SendPlanForApproval(ctx context.Context, msg PlanMessage) error {
	if !t.interactive {
		return nil
	}
	fmt.Fprintf(t.out, "\n--- Plan for %s ---\n%s\n", msg.TicketID, msg.Plan)
	fmt.Fprint(t.out, "Approve? (reply to approve/reject with a reason): ")

	line, err := t.readLine()
	if err != nil {
		return fmt.Errorf("terminal: read approval reply: %w", err)
	}
	resp := ParseApproval(line)
	resp.PlanID = msg.PlanID
	resp.RespondedBy = t.Name()
	if t.onApproval != nil {
		t.onApproval(resp)
	}
	return nil
}

func (t *Terminal) SendQuestion(ctx context.Context, msg QuestionMessage) error {
	if !t.interactive {
		return nil
	}
	fmt.Fprintf(t.out, "\n--- Question ---\n%s\n", msg.Text)
	if len(msg.Options) > 0 {
		for i, opt := range msg.Options {
			fmt.Fprintf(t.out, "  %d. %s\n", i+1, opt.Label)
		}
		fmt.Fprint(t.out, "Reply with a number or a label: ")
	} else {
		fmt.Fprint(t.out, "Reply: ")
	}

	line, err := t.readLine()
	if err != nil {
		return fmt.Errorf("terminal: read question reply: %w", err)
	}
	resp := ParseQuestionReply(line, msg.Options)
	resp.QuestionID = msg.QuestionID
	resp.RespondedBy = t.Name()
	if t.onQuestionResponse != nil {
		t.onQuestionResponse(resp)
	}
	return nil
}

func (t *Terminal) SendStatus(ctx context.Context, msg StatusMessage) error {
	if !t.interactive {
		return nil
	}
	fmt.Fprintf(t.out, "[%s] %s\n", msg.TicketID, msg.Text)
	return nil
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
