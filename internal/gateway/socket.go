package gateway

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"chronicle/collab/internal/auth"
	"chronicle/collab/internal/presence"
	"chronicle/collab/internal/room"
	"chronicle/collab/internal/suggestion"
	"chronicle/collab/internal/util"
)

func (s *HTTPServer) handleSocket(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimSpace(mux.Vars(r)["documentID"])
	token := socketToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade document=%s user=%s: %v", documentID, claims.Sub, err)
		return
	}

	conn := newWSConn(util.NewID("conn"), ws, s.connOpts)
	go conn.writePump()
	s.track(conn)
	defer s.untrack(conn)

	// The socket outlives the HTTP request context once hijacked.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	participant := presence.Participant{
		UserID:    claims.Sub,
		UserName:  claims.Name,
		UserEmail: claims.Email,
		Conn:      conn,
	}
	if _, err := s.coord.HandleJoin(ctx, documentID, participant); err != nil {
		s.replyError(conn, "", err)
		_ = conn.Close()
		<-conn.done
		return
	}
	log.Printf("gateway: joined document=%s user=%s conn=%s request_id=%s", documentID, claims.Sub, conn.ID(), requestIDFrom(r.Context()))

	session := &socketSession{server: s, documentID: documentID, claims: claims, conn: conn}
	conn.readPump(func(raw []byte) { session.handle(ctx, raw) })

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer leaveCancel()
	if err := s.coord.HandleDisconnect(leaveCtx, documentID, claims.Sub, conn.ID()); err != nil {
		log.Printf("gateway: disconnect document=%s user=%s: %v", documentID, claims.Sub, err)
	}
	_ = conn.Close()
	<-conn.done
	log.Printf("gateway: left document=%s user=%s conn=%s", documentID, claims.Sub, conn.ID())
}

type socketSession struct {
	server     *HTTPServer
	documentID string
	claims     auth.Claims
	conn       *wsConn
}

func (ss *socketSession) handle(ctx context.Context, raw []byte) {
	msg, err := ss.server.validator.decode(raw)
	if err != nil {
		ss.server.replyError(ss.conn, "", err)
		return
	}
	if err := ss.dispatch(ctx, msg); err != nil {
		ss.server.replyError(ss.conn, msg.RequestID, err)
	}
}

// dispatch routes one validated message. Typed failures go back to this
// connection only; room events are delivered by the room itself.
func (ss *socketSession) dispatch(ctx context.Context, msg inboundMessage) error {
	coord := ss.server.coord
	userID := ss.claims.Sub

	switch msg.Type {
	case inboundCursorUpdate:
		return coord.HandleCursorUpdate(ctx, ss.documentID, userID, *msg.Position)
	case inboundSuggestionCreate:
		_, err := coord.HandleSuggestionCreate(ctx, ss.documentID, userID, *msg.Span, msg.Text)
		return err
	case inboundSuggestionReview:
		outcome, err := suggestion.ParseOutcome(msg.Outcome)
		if err != nil {
			return err
		}
		_, err = coord.HandleSuggestionReview(ctx, ss.documentID, msg.SuggestionID, userID, outcome, strings.TrimSpace(msg.Reason))
		return err
	case inboundContentRevision:
		change := coord.HandleContentRevision(ss.documentID, msg.PreviousText, msg.CurrentText)
		return ss.reply(room.ContentDelta{
			Type:      room.TypeContentDelta,
			RequestID: msg.RequestID,
			OldValue:  change.OldValue,
			NewValue:  change.NewValue,
		})
	case inboundLeave:
		if err := coord.HandleLeave(ctx, ss.documentID, userID); err != nil {
			return err
		}
		return ss.conn.Close()
	default:
		return ErrInvalidMessage
	}
}

func (ss *socketSession) reply(message any) error {
	payload := room.Encode(message)
	if payload == nil {
		return nil
	}
	if err := ss.conn.Send(payload); err != nil {
		log.Printf("gateway: reply conn=%s: %v", ss.conn.ID(), err)
	}
	return nil
}

func (s *HTTPServer) replyError(conn *wsConn, requestID string, err error) {
	_, code, message := mapError(err)
	if code == "SERVER_ERROR" {
		log.Printf("gateway: operation failed conn=%s: %v", conn.ID(), err)
	}
	if sendErr := conn.Send(room.Encode(room.NewErrorMessage(requestID, code, message))); sendErr != nil {
		log.Printf("gateway: error reply conn=%s: %v", conn.ID(), sendErr)
	}
}
