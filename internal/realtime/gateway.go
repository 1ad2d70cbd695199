// Package realtime is the connection gateway: it accepts websocket and
// long-poll transports, authenticates each connection with a one-time
// ticket, and wires inbound frames into the collaboration pipeline.
package realtime

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"flowdeck/api/internal/auth"
	"flowdeck/api/internal/collab"
	"flowdeck/api/internal/store"
)

const (
	pollWait        = 25 * time.Second
	pollIdleTimeout = 2 * time.Minute
)

type ticketStore interface {
	Issue(ctx context.Context, identity auth.Identity) (string, error)
	Redeem(ctx context.Context, ticket string) (auth.Identity, error)
}

type accessStore interface {
	VerifyWorkflowAccess(ctx context.Context, userID, workflowID string) (store.WorkflowAccess, error)
}

type Gateway struct {
	registry   *collab.SessionRegistry
	rooms      *collab.RoomManager
	pipeline   *collab.Pipeline
	tickets    ticketStore
	access     accessStore
	syncToken  string
	corsOrigin string

	upgrader websocket.Upgrader
	handlers map[string]eventHandler

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

func NewGateway(registry *collab.SessionRegistry, rooms *collab.RoomManager, pipeline *collab.Pipeline, tickets ticketStore, access accessStore, syncToken, corsOrigin string) *Gateway {
	g := &Gateway{
		registry:   registry,
		rooms:      rooms,
		pipeline:   pipeline,
		tickets:    tickets,
		access:     access,
		syncToken:  syncToken,
		corsOrigin: corsOrigin,
		clients:    make(map[string]*client),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	g.handlers = map[string]eventHandler{
		"join-workflow":      g.handleJoinWorkflow,
		"leave-workflow":     g.handleLeaveWorkflow,
		"workflow-operation": g.handleWorkflowOperation,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if g.corsOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || strings.HasPrefix(origin, g.corsOrigin)
}

func (g *Gateway) Handler() http.Handler {
	return g.withMiddleware(http.HandlerFunc(g.handle))
}

func (g *Gateway) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"connections": g.rooms.TotalActiveConnections(),
		})
		return
	}

	parts := splitPath(r.URL.Path)

	// Polling fallback transport.
	if len(parts) == 2 && parts[0] == "collab" && parts[1] == "poll" && r.Method == http.MethodPost {
		g.handlePollConnect(w, r)
		return
	}
	if len(parts) == 3 && parts[0] == "collab" && parts[1] == "poll" {
		switch r.Method {
		case http.MethodGet:
			g.handlePollDrain(w, r, parts[2])
		case http.MethodPost:
			g.handlePollEmit(w, r, parts[2])
		case http.MethodDelete:
			g.handlePollDisconnect(w, parts[2])
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// Hooks for the REST surface, guarded by the shared sync token.
	if len(parts) == 3 && parts[0] == "internal" && parts[1] == "collab" && parts[2] == "tickets" && r.Method == http.MethodPost {
		g.handleIssueTicket(w, r)
		return
	}
	if len(parts) == 4 && parts[0] == "internal" && parts[1] == "workflows" && parts[3] == "deleted" && r.Method == http.MethodPost {
		g.handleWorkflowDeleted(w, r, parts[2])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleWS authenticates the connection with its one-time ticket, upgrades
// the transport and starts the pumps. Auth failures reject the connection
// before any room logic runs.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	if g.isClosed() {
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down", nil)
		return
	}

	ticket := strings.TrimSpace(r.URL.Query().Get("ticket"))
	if ticket == "" {
		writeError(w, http.StatusUnauthorized, "AUTH_FAILED", "Missing ticket", nil)
		return
	}
	identity, err := g.tickets.Redeem(r.Context(), ticket)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH_FAILED", "Invalid ticket", nil)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	c := newClient(uuid.NewString(), transportWebSocket, collab.UserSession{
		UserID:    identity.UserID,
		UserName:  identity.UserName,
		UserEmail: identity.UserEmail,
	}, conn)
	g.admit(c)

	go g.writePump(c)
	go g.readPump(c)
}

func (g *Gateway) handlePollConnect(w http.ResponseWriter, r *http.Request) {
	if g.isClosed() {
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down", nil)
		return
	}

	var body struct {
		Ticket string `json:"ticket"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.Ticket) == "" {
		writeError(w, http.StatusUnauthorized, "AUTH_FAILED", "Missing ticket", nil)
		return
	}
	identity, err := g.tickets.Redeem(r.Context(), body.Ticket)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH_FAILED", "Invalid ticket", nil)
		return
	}

	c := newClient(uuid.NewString(), transportPolling, collab.UserSession{
		UserID:    identity.UserID,
		UserName:  identity.UserName,
		UserEmail: identity.UserEmail,
	}, nil)
	g.admit(c)

	writeJSON(w, http.StatusOK, map[string]any{"connectionId": c.id})
}

// handlePollDrain long-polls for outbound frames: it blocks until at least
// one frame is queued, the wait window elapses, or the connection closes.
func (g *Gateway) handlePollDrain(w http.ResponseWriter, r *http.Request, connectionID string) {
	c, ok := g.pollClient(connectionID)
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_CONNECTION", "Unknown connection", nil)
		return
	}
	c.touch()

	frames := make([]json.RawMessage, 0, 4)
	timer := time.NewTimer(pollWait)
	defer timer.Stop()

	select {
	case message := <-c.send:
		frames = append(frames, message)
	drain:
		for {
			select {
			case message := <-c.send:
				frames = append(frames, message)
			default:
				break drain
			}
		}
	case <-timer.C:
	case <-c.done:
		writeJSON(w, http.StatusGone, map[string]any{"closed": true})
		return
	case <-r.Context().Done():
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"frames": frames})
}

func (g *Gateway) handlePollEmit(w http.ResponseWriter, r *http.Request, connectionID string) {
	c, ok := g.pollClient(connectionID)
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_CONNECTION", "Unknown connection", nil)
		return
	}
	c.touch()

	message, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid frame body", nil)
		return
	}
	g.dispatch(c, message)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (g *Gateway) handlePollDisconnect(w http.ResponseWriter, connectionID string) {
	c, ok := g.pollClient(connectionID)
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_CONNECTION", "Unknown connection", nil)
		return
	}
	g.disconnect(c)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (g *Gateway) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	if !g.authorizedSync(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	var identity auth.Identity
	if err := decodeBody(r, &identity); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ticket, err := g.tickets.Issue(r.Context(), identity)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "TICKET_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket": ticket})
}

// handleWorkflowDeleted is invoked by the REST surface after it deletes a
// workflow: every member is force-evicted, notified, and the room destroyed.
func (g *Gateway) handleWorkflowDeleted(w http.ResponseWriter, r *http.Request, workflowID string) {
	if !g.authorizedSync(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	evicted := g.rooms.HandleWorkflowDeletion(workflowID)
	message, err := encodeFrame("workflow-deleted", map[string]any{"workflowId": workflowID})
	if err == nil {
		for _, connectionID := range evicted {
			g.mu.RLock()
			c, ok := g.clients[connectionID]
			g.mu.RUnlock()
			if ok {
				_ = c.enqueue(message)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "evicted": len(evicted)})
}

func (g *Gateway) authorizedSync(r *http.Request) bool {
	token := strings.TrimSpace(r.Header.Get("x-flowdeck-sync-token"))
	return token != "" && token == g.syncToken
}

func (g *Gateway) admit(c *client) {
	g.registry.SetSession(c.id, c.session)
	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()
}

func (g *Gateway) pollClient(connectionID string) (*client, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.clients[connectionID]
	if !ok || c.transport != transportPolling {
		return nil, false
	}
	return c, true
}

// disconnect tears a connection down: membership cleanup happens immediately
// on transport close, independent of any pipeline work still in flight.
func (g *Gateway) disconnect(c *client) {
	g.mu.Lock()
	_, known := g.clients[c.id]
	delete(g.clients, c.id)
	g.mu.Unlock()
	if !known {
		return
	}

	if workflowID, ok := g.registry.WorkflowFor(c.id); ok {
		if g.rooms.CleanupMember(c.id, workflowID) {
			g.broadcastPresence(workflowID)
		}
	}
	g.registry.Clear(c.id)
	c.close()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartReaper periodically drops polling connections that stopped polling.
func (g *Gateway) StartReaper(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-pollIdleTimeout)
			g.mu.RLock()
			var stale []*client
			for _, c := range g.clients {
				if c.transport == transportPolling && c.idleSince().Before(cutoff) {
					stale = append(stale, c)
				}
			}
			g.mu.RUnlock()
			for _, c := range stale {
				log.Printf("reaping idle polling connection: conn=%s", c.id)
				g.disconnect(c)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops accepting new connections and closes every live one, flushing
// queued outbound frames first.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.clients = make(map[string]*client)
	g.mu.Unlock()

	for _, c := range clients {
		if workflowID, ok := g.registry.WorkflowFor(c.id); ok {
			g.rooms.CleanupMember(c.id, workflowID)
		}
		g.registry.Clear(c.id)
		c.close()
	}
}

func (g *Gateway) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

func (g *Gateway) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		// The websocket upgrade hijacks the connection, so it bypasses the
		// status recorder.
		if r.URL.Path == "/collab/ws" {
			g.handleWS(w, r)
			log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d}`,
				requestID, r.Method, r.URL.Path, http.StatusSwitchingProtocols)
			return
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), g.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, origin string) {
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
}

func randomRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
