package gateway

import (
	"context"
	"errors"
	"net/http"

	"chronicle/collab/internal/auth"
	"chronicle/collab/internal/presence"
	"chronicle/collab/internal/room"
	"chronicle/collab/internal/suggestion"
)

// mapError translates domain failures into an HTTP status and a wire code.
// The same code is used for socket error replies.
func mapError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, room.ErrNotAParticipant):
		return http.StatusConflict, "NOT_A_PARTICIPANT", "Join the document before sending this message"
	case errors.Is(err, room.ErrPermissionDenied):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden"
	case errors.Is(err, suggestion.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE", "Suggestion has already been reviewed"
	case errors.Is(err, suggestion.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	case errors.Is(err, ErrInvalidMessage),
		errors.Is(err, room.ErrInvalidInput),
		errors.Is(err, suggestion.ErrInvalidInput),
		errors.Is(err, suggestion.ErrInvalidOutcome),
		errors.Is(err, presence.ErrInvalidCursor):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"
	case errors.Is(err, room.ErrRegistryClosed), errors.Is(err, room.ErrRoomClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Server is shutting down"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "TIMEOUT", "Operation timed out"
	default:
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
	}
}
