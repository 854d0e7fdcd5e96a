// Package suggestion holds the suggested-edit lifecycle: a one-shot
// PENDING -> APPROVED | REJECTED state machine over a durable repository.
package suggestion

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeReject  Outcome = "REJECT"
)

// ParseOutcome accepts any casing and surrounding whitespace.
func ParseOutcome(value string) (Outcome, error) {
	switch Outcome(strings.ToUpper(strings.TrimSpace(value))) {
	case OutcomeApprove:
		return OutcomeApprove, nil
	case OutcomeReject:
		return OutcomeReject, nil
	default:
		return "", ErrInvalidOutcome
	}
}

func (o Outcome) status() Status {
	if o == OutcomeApprove {
		return StatusApproved
	}
	return StatusRejected
}

var (
	ErrNotFound       = errors.New("suggestion not found")
	ErrInvalidState   = errors.New("suggestion is not pending")
	ErrInvalidOutcome = errors.New("invalid review outcome")
	ErrInvalidInput   = errors.New("invalid suggestion")
	ErrDuplicate      = errors.New("suggestion already exists")
)

// Span anchors a suggestion to a character range [Start, End) of one
// editor node.
type Span struct {
	NodeKey string `json:"nodeKey"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

func (s Span) valid() bool {
	return s.Start >= 0 && s.End >= s.Start
}

// Edit is a suggested edit. Review fields are only set by the single
// transition out of PENDING.
type Edit struct {
	ID            string     `json:"id"`
	DocumentID    string     `json:"documentId"`
	AuthorID      string     `json:"authorId"`
	Span          Span       `json:"span"`
	SuggestedText string     `json:"suggestedText"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	ReviewerID    string     `json:"reviewerId,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty"`
}

// Review carries the fields stamped by a transition.
type Review struct {
	Status     Status
	ReviewerID string
	Reason     string
	ReviewedAt time.Time
}

// Repository is the durable record of suggested edits. ReviewSuggestion must
// apply the review only while the stored status is PENDING and report
// whether it did.
type Repository interface {
	InsertSuggestion(ctx context.Context, edit Edit) error
	GetSuggestion(ctx context.Context, documentID, suggestionID string) (Edit, error)
	ListSuggestions(ctx context.Context, documentID string) ([]Edit, error)
	ReviewSuggestion(ctx context.Context, documentID, suggestionID string, review Review) (bool, error)
}
