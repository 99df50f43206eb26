package usecase

import "concierge-agent/internal/domain"

// buildPromptMessages assembles the LLM request: system prompt, stored
// history in chronological order, then the current question.
func buildPromptMessages(systemPrompt string, hist []domain.ChatMessage, question string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(hist)+2)
	messages = append(messages, domain.ChatMessage{Role: "system", Content: systemPrompt})
	messages = append(messages, hist...)
	messages = append(messages, domain.ChatMessage{Role: roleUser, Content: question})
	return messages
}
