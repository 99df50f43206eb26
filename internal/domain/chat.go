package domain

// ChatMessage is the provider-agnostic chat message shape shared by the
// history engine, the LLM integration and the handler.
type ChatMessage struct {
	// ID is an optional application-level message id. The history engine
	// stores it verbatim and never generates or inspects it.
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}
