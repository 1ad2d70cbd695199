package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"flowdeck/api/internal/collab"
	"flowdeck/api/internal/rbac"
	"flowdeck/api/internal/workflow"
)

const handlerTimeout = 10 * time.Second

// frame is the wire envelope for every realtime event, in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type eventHandler func(c *client, data json.RawMessage)

// dispatch routes one inbound frame through the event dispatch table. A
// panicking handler is contained here so one bad frame cannot take down
// other rooms' connections.
func (g *Gateway) dispatch(c *client, message []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("panic handling frame: conn=%s %v", c.id, rec)
		}
	}()

	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		g.sendError(c, collab.CodeValidation, "malformed frame")
		return
	}
	handler, ok := g.handlers[f.Event]
	if !ok {
		g.sendError(c, collab.CodeValidation, fmt.Sprintf("unknown event %q", f.Event))
		return
	}
	handler(c, f.Data)
}

func (g *Gateway) handleJoinWorkflow(c *client, data json.RawMessage) {
	var body struct {
		WorkflowID string `json:"workflowId"`
	}
	if err := json.Unmarshal(data, &body); err != nil || strings.TrimSpace(body.WorkflowID) == "" {
		g.sendError(c, collab.CodeValidation, "workflowId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	access, err := g.access.VerifyWorkflowAccess(ctx, c.session.UserID, body.WorkflowID)
	if err != nil {
		g.sendError(c, collab.CodePermission, "permission check failed")
		return
	}
	if !access.HasAccess {
		g.sendError(c, collab.CodePermission, "no access to workflow")
		return
	}

	// A connection is in at most one room; joining another leaves the first.
	if previous, ok := g.registry.WorkflowFor(c.id); ok && previous != body.WorkflowID {
		if g.rooms.CleanupMember(c.id, previous) {
			g.broadcastPresence(previous)
		}
	}

	now := time.Now().UTC()
	member := collab.Member{
		ConnectionID: c.id,
		UserID:       c.session.UserID,
		UserName:     c.session.UserName,
		Role:         rbac.Normalize(access.Role),
		JoinedAt:     now,
		LastActive:   now,
	}
	if _, err := g.rooms.Join(ctx, c.id, body.WorkflowID, member); err != nil {
		log.Printf("join failed: conn=%s workflow=%s %v", c.id, body.WorkflowID, err)
		g.sendError(c, collab.CodePersistence, "failed to load workflow state")
		return
	}

	g.broadcastPresence(body.WorkflowID)
}

func (g *Gateway) handleLeaveWorkflow(c *client, data json.RawMessage) {
	var body struct {
		WorkflowID string `json:"workflowId"`
	}
	if err := json.Unmarshal(data, &body); err != nil || strings.TrimSpace(body.WorkflowID) == "" {
		g.sendError(c, collab.CodeValidation, "workflowId is required")
		return
	}

	if g.rooms.CleanupMember(c.id, body.WorkflowID) {
		g.broadcastPresence(body.WorkflowID)
	}
}

func (g *Gateway) handleWorkflowOperation(c *client, data json.RawMessage) {
	var op workflow.Operation
	if err := json.Unmarshal(data, &op); err != nil {
		g.sendError(c, collab.CodeValidation, "malformed operation")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	result, err := g.pipeline.Process(ctx, c.id, op)
	if err != nil {
		var opErr *collab.OpError
		if errors.As(err, &opErr) {
			g.sendError(c, opErr.Code, opErr.Message)
		} else {
			g.sendError(c, collab.CodePersistence, "operation failed")
		}
		return
	}

	// The originator applied the operation optimistically on its own client;
	// fan out to everyone else in the room.
	g.broadcastToRoom(result.WorkflowID, c.id, "workflow-operation", result.Operation)
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", event, err)
	}
	return json.Marshal(frame{Event: event, Data: raw})
}

func (g *Gateway) sendFrame(c *client, event string, data any) {
	message, err := encodeFrame(event, data)
	if err != nil {
		log.Printf("encode frame: conn=%s %v", c.id, err)
		return
	}
	if !c.enqueue(message) {
		log.Printf("dropping slow connection: conn=%s transport=%s", c.id, c.transport)
		go g.disconnect(c)
	}
}

func (g *Gateway) sendError(c *client, code, reason string) {
	g.sendFrame(c, "operation-error", map[string]any{"code": code, "reason": reason})
}

func (g *Gateway) broadcastToRoom(workflowID, excludeConnectionID, event string, data any) {
	message, err := encodeFrame(event, data)
	if err != nil {
		log.Printf("encode broadcast frame: workflow=%s %v", workflowID, err)
		return
	}
	for _, connectionID := range g.rooms.MemberConnections(workflowID) {
		if connectionID == excludeConnectionID {
			continue
		}
		g.mu.RLock()
		c, ok := g.clients[connectionID]
		g.mu.RUnlock()
		if !ok {
			continue
		}
		if !c.enqueue(message) {
			log.Printf("dropping slow connection: conn=%s transport=%s", c.id, c.transport)
			go g.disconnect(c)
		}
	}
}

func (g *Gateway) broadcastPresence(workflowID string) {
	g.broadcastToRoom(workflowID, "", "presence-update", map[string]any{
		"workflowId": workflowID,
		"members":    g.rooms.Presence(workflowID),
	})
}
