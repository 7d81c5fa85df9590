package domain

// ChatMessage is the provider-agnostic chat message shape used by prompt
// assembly and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}
