package driver

// EventType enumerates the recognized child-process event tags.
type EventType string

const (
	EventInit     EventType = "init"
	EventAssistant EventType = "assistant"
	EventToolUse  EventType = "tool_use"
	EventResult   EventType = "result"
	EventError    EventType = "error"
)

// Event is one decoded line from the child process's stdout stream.
type Event struct {
	Type EventType `json:"type"`

	// init
	SessionID string `json:"session_id,omitempty"`

	// assistant
	Text string `json:"text,omitempty"`

	// tool_use
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`

	// result
	Result  string  `json:"result,omitempty"`
	CostUSD float64 `json:"cost_usd,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// questionToolNames lists the tool_use tool names treated as interactive
// questions that must be routed through QuestionHandler rather than
// forwarded as ordinary tool-use events.
var questionToolNames = map[string]bool{
	"ask_question":      true,
	"AskUserQuestion":    true,
	"request_clarification": true,
}

// IsQuestion reports whether a tool_use event represents an interactive
// question raised by the subprocess.
func (e Event) IsQuestion() bool {
	return e.Type == EventToolUse && questionToolNames[e.ToolName]
}

// QuestionText extracts the question text from a tool_use question event's
// tool input.
func (e Event) QuestionText() string {
	if v, ok := e.ToolInput["question"].(string); ok {
		return v
	}
	if v, ok := e.ToolInput["text"].(string); ok {
		return v
	}
	return ""
}

// QuestionOptions extracts the option labels, if any, from a tool_use
// question event's tool input.
func (e Event) QuestionOptions() []string {
	raw, ok := e.ToolInput["options"].([]any)
	if !ok {
		return nil
	}
	options := make([]string, 0, len(raw))
	for _, o := range raw {
		if s, ok := o.(string); ok {
			options = append(options, s)
		}
	}
	return options
}

// userMessage is the newline-terminated JSON shape written to the child's
// stdin to answer a question.
type userMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

func newUserMessage(answer string) userMessage {
	var m userMessage
	m.Type = "user"
	m.Message.Role = "user"
	m.Message.Content = answer
	return m
}
