package collab

import (
	"context"
	"fmt"
	"log"
	"time"

	"flowdeck/api/internal/rbac"
	"flowdeck/api/internal/store"
	"flowdeck/api/internal/workflow"
)

const persistTimeout = 10 * time.Second

type dataStore interface {
	VerifyWorkflowAccess(ctx context.Context, userID, workflowID string) (store.WorkflowAccess, error)
	PersistWorkflowOperation(ctx context.Context, workflowID string, op workflow.Operation, state *workflow.State) error
}

// Result is a successfully processed operation, ready for fan-out to the
// other members of the room.
type Result struct {
	WorkflowID string
	Operation  workflow.Operation
	Violations []workflow.Violation
}

// Pipeline runs every inbound operation through its stages in strict order:
// schema validation, permission check, apply, persist, consistency check.
// Broadcast is the gateway's job, driven by the returned Result.
type Pipeline struct {
	rooms    *RoomManager
	registry *SessionRegistry
	store    dataStore
}

func NewPipeline(rooms *RoomManager, registry *SessionRegistry, store dataStore) *Pipeline {
	return &Pipeline{rooms: rooms, registry: registry, store: store}
}

// Process handles one operation from connectionID. A returned *OpError is
// meant for the originating connection only; on success the caller
// broadcasts Result.Operation to every other room member.
func (p *Pipeline) Process(ctx context.Context, connectionID string, op workflow.Operation) (*Result, error) {
	validated, err := workflow.Validate(op)
	if err != nil {
		return nil, opError(CodeValidation, err.Error())
	}

	session, ok := p.registry.Session(connectionID)
	if !ok {
		return nil, opError(CodeNotJoined, "connection has no session")
	}
	workflowID, ok := p.registry.WorkflowFor(connectionID)
	if !ok {
		return nil, opError(CodeNotJoined, "connection has not joined a workflow")
	}
	room, ok := p.rooms.Room(workflowID)
	if !ok {
		return nil, opError(CodeNotJoined, "no active room for workflow")
	}

	access, err := p.store.VerifyWorkflowAccess(ctx, session.UserID, workflowID)
	if err != nil {
		return nil, opError(CodePermission, fmt.Sprintf("permission check failed: %v", err))
	}
	if !access.HasAccess {
		return nil, opError(CodePermission, "no access to workflow")
	}
	if !rbac.CanApply(rbac.Normalize(access.Role), op.Op, op.Target) {
		return nil, opError(CodePermission, fmt.Sprintf("role %q may not %s %s", access.Role, op.Op, op.Target))
	}

	// Holding stateMu across apply and persist serializes operations per
	// room, so members observe one strict order.
	room.stateMu.Lock()
	defer room.stateMu.Unlock()

	prev := room.state.Clone()
	workflow.Apply(room.state, validated)

	// A detached context: the originator disconnecting mid-flight must not
	// abort persistence of an already-applied operation.
	persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := p.store.PersistWorkflowOperation(persistCtx, workflowID, op, room.state); err != nil {
		room.state = prev
		return nil, opError(CodePersistence, fmt.Sprintf("persist failed: %v", err))
	}

	violations := workflow.CheckConsistency(room.state)
	for _, v := range violations {
		// Non-fatal: the operation is already persisted, violations are
		// surfaced for repair rather than rolled back.
		log.Printf("consistency warning: workflow=%s code=%s entity=%s %s", workflowID, v.Code, v.EntityID, v.Message)
	}

	p.rooms.touch(connectionID, workflowID)

	return &Result{
		WorkflowID: workflowID,
		Operation:  op,
		Violations: violations,
	}, nil
}
