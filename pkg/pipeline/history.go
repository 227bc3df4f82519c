package pipeline

import "sync"

// Role defines message roles in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the ordered message log fed to the LLM.
// The first message, when present, is the system prompt and survives Clear.
type History struct {
	mu       sync.Mutex
	messages []Message
	system   bool
}

// NewHistory creates a history seeded with systemPrompt. An empty prompt
// yields an empty history.
func NewHistory(systemPrompt string) *History {
	h := &History{}
	if systemPrompt != "" {
		h.messages = []Message{{Role: RoleSystem, Content: systemPrompt}}
		h.system = true
	}
	return h
}

// Append adds a message at the end.
func (h *History) Append(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

// Messages returns a snapshot of the log.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Clear truncates the log to the system prompt, or to nothing if none was
// configured.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.system {
		h.messages = h.messages[:1:1]
		return
	}
	h.messages = nil
}
