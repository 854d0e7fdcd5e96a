// Package presence tracks who is connected to a document and where their
// cursors are, and fans events out to their connections.
package presence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrInvalidCursor  = errors.New("invalid cursor state")
)

// Conn is a connection handle owned by the gateway. Send must not block.
type Conn interface {
	ID() string
	Send(payload []byte) error
}

type CursorKind string

const (
	CursorCaret     CursorKind = "cursor"
	CursorSelection CursorKind = "selection"
)

// Point addresses a character offset inside a node of the editor document.
type Point struct {
	Key    string `json:"key"`
	Offset int    `json:"offset"`
}

type CursorState struct {
	Kind      CursorKind `json:"kind"`
	Anchor    Point      `json:"anchor"`
	Focus     Point      `json:"focus"`
	UpdatedAt time.Time  `json:"timestamp"`
}

// Normalized returns c with a caret's missing focus set to its anchor.
func (c CursorState) Normalized() CursorState {
	if c.Kind == CursorCaret && strings.TrimSpace(c.Focus.Key) == "" {
		c.Focus = c.Anchor
	}
	return c
}

func (c CursorState) Validate() error {
	switch c.Kind {
	case CursorCaret, CursorSelection:
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidCursor, c.Kind)
	}
	if strings.TrimSpace(c.Anchor.Key) == "" || strings.TrimSpace(c.Focus.Key) == "" {
		return fmt.Errorf("%w: missing node key", ErrInvalidCursor)
	}
	if c.Anchor.Offset < 0 || c.Focus.Offset < 0 {
		return fmt.Errorf("%w: negative offset", ErrInvalidCursor)
	}
	return nil
}

type Participant struct {
	UserID    string       `json:"userId"`
	UserName  string       `json:"userName"`
	UserEmail string       `json:"userEmail"`
	Cursor    *CursorState `json:"cursor,omitempty"`
	JoinedAt  time.Time    `json:"joinedAt"`
	Conn      Conn         `json:"-"`
}

func (p Participant) connID() string {
	if p.Conn == nil {
		return ""
	}
	return p.Conn.ID()
}

// Target is a single fan-out destination captured at broadcast time.
type Target struct {
	UserID string
	Conn   Conn
}

// DeliveryError records an isolated send failure. It is logged and handed to
// the failure hook; it never reaches the caller of a broadcast.
type DeliveryError struct {
	UserID string
	ConnID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to user %s conn %s: %v", e.UserID, e.ConnID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
