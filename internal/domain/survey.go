package domain

import "time"

// SurveyResponse is a participant's post-game guess about which partner was
// the automated responder.
type SurveyResponse struct {
	ID               string    `json:"id"`
	SubmittedAt      time.Time `json:"timestamp"`
	ChatroomID       string    `json:"chatroomId"`
	UserID           string    `json:"userId"`
	BotGuess         string    `json:"botGuess"`
	Reasoning        string    `json:"reasoning"`
	LLMKnowledge     string    `json:"llmKnowledge"`
	ChatbotFrequency string    `json:"chatbotFrequency"`
	Age              int       `json:"age"`
	Education        string    `json:"education"`
	WasCorrect       bool      `json:"wasCorrect"`
}

// SurveyIndexQuery selects survey responses by an indexed attribute. At most
// one of Education and LLMKnowledge is honoured, Education first.
type SurveyIndexQuery struct {
	Education    string
	LLMKnowledge string
	Limit        int
}
