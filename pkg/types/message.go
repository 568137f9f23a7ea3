package types

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one role-tagged turn in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HasSystemMessage reports whether a conversation history contains a
// system-role turn. A client-supplied history without one is considered
// invalid and gets discarded in favor of a freshly built context.
func HasSystemMessage(history []ChatMessage) bool {
	for _, m := range history {
		if m.Role == RoleSystem {
			return true
		}
	}
	return false
}
