// Package gateway is the HTTP and WebSocket surface of the collaboration
// server. It admits sockets into rooms and translates failures into error
// replies for the originating connection.
package gateway

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"chronicle/collab/internal/auth"
	"chronicle/collab/internal/room"
	"chronicle/collab/internal/search"
)

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

type Options struct {
	JWTSecret    []byte
	CORSOrigin   string
	SendBuffer   int
	ReadLimit    int64
	PingInterval time.Duration
	WriteTimeout time.Duration
	Checks       map[string]Check
}

type HTTPServer struct {
	coord      *room.Coordinator
	verifier   *auth.Verifier
	corsOrigin string
	checks     map[string]Check
	connOpts   connOptions
	upgrader   websocket.Upgrader
	validator  *messageValidator

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func NewHTTPServer(coord *room.Coordinator, opts Options) (*HTTPServer, error) {
	validator, err := newMessageValidator()
	if err != nil {
		return nil, err
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 * 1024
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	s := &HTTPServer{
		coord:      coord,
		verifier:   auth.NewVerifier(opts.JWTSecret),
		corsOrigin: opts.CORSOrigin,
		checks:     opts.Checks,
		connOpts: connOptions{
			sendBuffer:   opts.SendBuffer,
			readLimit:    opts.ReadLimit,
			pingInterval: opts.PingInterval,
			writeTimeout: opts.WriteTimeout,
		},
		validator: validator,
		conns:     map[*wsConn]struct{}{},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

func (s *HTTPServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/documents/{documentID}/room", s.handleRoomInfo).Methods(http.MethodGet)
	router.HandleFunc("/api/documents/{documentID}/suggestions", s.handleListSuggestions).Methods(http.MethodGet)
	router.HandleFunc("/api/suggestions/search", s.handleSearch).Methods(http.MethodGet)
	router.HandleFunc("/ws/documents/{documentID}", s.handleSocket).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})
	return s.withMiddleware(router)
}

func (s *HTTPServer) track(conn *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *HTTPServer) untrack(conn *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// CloseSockets closes every open WebSocket. http.Server.Shutdown does not
// track hijacked connections.
func (s *HTTPServer) CloseSockets() int {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
		"rooms":  s.coord.Registry().Len(),
	})
}

func (s *HTTPServer) handleRoomInfo(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireClaims(w, r)
	if !ok {
		return
	}
	documentID := mux.Vars(r)["documentID"]
	if err := s.coord.AuthorizeRead(r.Context(), documentID, claims.Sub); err != nil {
		s.writeMappedError(w, err)
		return
	}
	info, _ := s.coord.Describe(r.Context(), documentID)
	writeJSON(w, http.StatusOK, info)
}

func (s *HTTPServer) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireClaims(w, r)
	if !ok {
		return
	}
	items, err := s.coord.ListSuggestions(r.Context(), mux.Vars(r)["documentID"], claims.Sub)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": items})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireClaims(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	q := search.Query{
		Text:       strings.TrimSpace(query.Get("q")),
		DocumentID: strings.TrimSpace(query.Get("documentId")),
		Status:     strings.TrimSpace(query.Get("status")),
	}
	if q.Text == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required")
		return
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		q.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		q.Offset = offset
	}
	response, err := s.coord.SearchSuggestions(r.Context(), claims.Sub, q)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) requireClaims(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return auth.Claims{}, false
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return auth.Claims{}, false
	}
	return claims, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("gateway: request failed: %v", err)
	}
	writeError(w, status, code, message)
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.corsOrigin == "" || s.corsOrigin == "*" {
		return true
	}
	return strings.EqualFold(origin, s.corsOrigin)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,HEAD,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// socketToken also accepts access_token in the query string, since browsers
// cannot set headers on a WebSocket handshake.
func socketToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
