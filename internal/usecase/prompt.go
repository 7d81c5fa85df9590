package usecase

import (
	"fmt"
	"strings"

	"turing-game/internal/domain"
)

const (
	aiPlayerName  = "AI_Player"
	unknownPlayer = "Unknown_Player"
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

const defaultPersona = "You are a participant in a casual online chat with two strangers. " +
	"Write like a real person typing on a phone: short, informal, occasionally imperfect. " +
	"Never reveal or hint that you are an AI, a bot or a language model."

// playerNames assigns Player_1, Player_2, ... to human senders by first appearance.
func playerNames(history []domain.Message) map[string]string {
	names := make(map[string]string)
	for _, m := range history {
		if m.FromAI() {
			continue
		}
		if _, ok := names[m.SenderID]; !ok {
			names[m.SenderID] = fmt.Sprintf("Player_%d", len(names)+1)
		}
	}
	return names
}

// buildPromptMessages turns the most recent window of history into a chat
// prompt with the persona as system instructions.
func buildPromptMessages(persona string, history []domain.Message, window int) []domain.ChatMessage {
	names := playerNames(history)
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	messages := make([]domain.ChatMessage, 0, len(history)+1)
	messages = append(messages, domain.ChatMessage{Role: roleSystem, Content: strings.TrimSpace(persona)})
	for _, m := range history {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		if m.FromAI() {
			messages = append(messages, domain.ChatMessage{Role: roleAssistant, Name: aiPlayerName, Content: text})
			continue
		}
		name, ok := names[m.SenderID]
		if !ok {
			name = unknownPlayer
		}
		messages = append(messages, domain.ChatMessage{Role: roleUser, Name: name, Content: text})
	}
	return messages
}
