package models

// Message roles understood by the orchestrator.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role/content pair of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LastUserMessage returns the content of the most recent user message,
// or an empty string if there is none.
func LastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// FilterConversation keeps only user and assistant messages with content.
func FilterConversation(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if (m.Role == RoleUser || m.Role == RoleAssistant) && m.Content != "" {
			out = append(out, m)
		}
	}
	return out
}
