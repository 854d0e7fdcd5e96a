package gateway

import (
	"chronicle/collab/internal/presence"
	"chronicle/collab/internal/suggestion"
)

const (
	inboundCursorUpdate     = "cursor_update"
	inboundSuggestionCreate = "suggestion_create"
	inboundSuggestionReview = "suggestion_review"
	inboundContentRevision  = "content_revision"
	inboundLeave            = "leave"
)

type inboundMessage struct {
	Type         string                `json:"type"`
	RequestID    string                `json:"requestId"`
	Position     *presence.CursorState `json:"position"`
	Span         *suggestion.Span      `json:"span"`
	Text         string                `json:"text"`
	SuggestionID string                `json:"suggestionId"`
	Outcome      string                `json:"outcome"`
	Reason       string                `json:"reason"`
	PreviousText string                `json:"previousText"`
	CurrentText  string                `json:"currentText"`
}
