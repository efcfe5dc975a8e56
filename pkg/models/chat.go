package models

// Chat roles for prompt messages sent to a language model.
const (
	// ChatRoleSystem marks instructions that must survive truncation.
	ChatRoleSystem = "system"
	// ChatRoleUser marks caller-supplied prompt content.
	ChatRoleUser = "user"
	// ChatRoleAssistant marks prior model output carried as context.
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn of a model prompt.
type ChatMessage struct {
	// Role is one of the ChatRole constants.
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
}

// IsSystem returns true for system-role messages.
func (m ChatMessage) IsSystem() bool {
	return m.Role == ChatRoleSystem
}
