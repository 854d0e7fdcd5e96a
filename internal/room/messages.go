package room

import (
	"encoding/json"
	"log"

	"chronicle/collab/internal/presence"
	"chronicle/collab/internal/suggestion"
)

const (
	TypeJoinAck            = "join_ack"
	TypeUserJoined         = "user_joined"
	TypeUserLeft           = "user_left"
	TypeCursorUpdate       = "cursor_update"
	TypeSuggestionCreated  = "suggestion_created"
	TypeSuggestionReviewed = "suggestion_reviewed"
	TypeContentDelta       = "content_delta"
	TypeError              = "error"
)

const CodeSessionReplaced = "SESSION_REPLACED"

type ParticipantView struct {
	UserID    string                `json:"userId"`
	UserName  string                `json:"userName"`
	UserEmail string                `json:"userEmail"`
	Cursor    *presence.CursorState `json:"cursor,omitempty"`
}

type Snapshot struct {
	Participants []ParticipantView `json:"participants"`
	Suggestions  []suggestion.Edit `json:"suggestions"`
}

type JoinAck struct {
	Type string `json:"type"`
	Snapshot
}

type UserJoined struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
}

type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type CursorUpdate struct {
	Type     string               `json:"type"`
	UserID   string               `json:"userId"`
	Position presence.CursorState `json:"position"`
}

type SuggestionCreated struct {
	Type       string          `json:"type"`
	Suggestion suggestion.Edit `json:"suggestion"`
}

type SuggestionReviewed struct {
	Type         string            `json:"type"`
	SuggestionID string            `json:"suggestionId"`
	Status       suggestion.Status `json:"status"`
	ReviewerID   string            `json:"reviewerId"`
	Reason       string            `json:"reason,omitempty"`
}

type ContentDelta struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	OldValue  string `json:"oldValue"`
	NewValue  string `json:"newValue"`
}

type ErrorMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func NewErrorMessage(requestID, code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, RequestID: requestID, Code: code, Message: message}
}

func viewOf(p presence.Participant) ParticipantView {
	return ParticipantView{UserID: p.UserID, UserName: p.UserName, UserEmail: p.UserEmail, Cursor: p.Cursor}
}

func suggestionCreated(edit suggestion.Edit) SuggestionCreated {
	return SuggestionCreated{Type: TypeSuggestionCreated, Suggestion: edit}
}

func suggestionReviewed(edit suggestion.Edit) SuggestionReviewed {
	return SuggestionReviewed{
		Type:         TypeSuggestionReviewed,
		SuggestionID: edit.ID,
		Status:       edit.Status,
		ReviewerID:   edit.ReviewerID,
		Reason:       edit.Reason,
	}
}

// Encode marshals an outbound message. Every message type above is plain
// data, so a failure here is a programming error and only logged.
func Encode(message any) []byte {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("room: encode %T: %v", message, err)
		return nil
	}
	return payload
}
