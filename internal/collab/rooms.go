package collab

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"flowdeck/api/internal/rbac"
	"flowdeck/api/internal/workflow"
)

// Member is a room's record of one joined connection. The role is resolved
// once at join time.
type Member struct {
	ConnectionID string
	UserID       string
	UserName     string
	Role         rbac.Role
	JoinedAt     time.Time
	LastActive   time.Time
}

// PresenceMember is the wire shape of one member in a presence-update event.
type PresenceMember struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Role     rbac.Role `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Room is the live collaboration context for exactly one workflow. The
// member map is guarded by the manager's lock; the canonical state is
// guarded by stateMu, which the pipeline holds across apply and persist so
// each room sees a strict operation order.
type Room struct {
	WorkflowID string
	CreatedAt  time.Time

	members map[string]Member

	stateMu sync.Mutex
	state   *workflow.State
}

func (r *Room) MemberCount() int {
	return len(r.members)
}

type stateLoader interface {
	GetWorkflowState(ctx context.Context, workflowID string) (*workflow.State, error)
}

// RoomManager is the in-memory table of active rooms. At most one room per
// workflow ID exists at any time; an emptied room is removed synchronously.
type RoomManager struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	registry *SessionRegistry
	loader   stateLoader
}

func NewRoomManager(registry *SessionRegistry, loader stateLoader) *RoomManager {
	return &RoomManager{
		rooms:    make(map[string]*Room),
		registry: registry,
		loader:   loader,
	}
}

// CreateRoom registers a new empty room. Canonical state is attached
// separately (Join hydrates it before admitting the first member).
func (m *RoomManager) CreateRoom(workflowID string) *Room {
	room := &Room{
		WorkflowID: workflowID,
		CreatedAt:  time.Now().UTC(),
		members:    make(map[string]Member),
	}
	m.mu.Lock()
	m.rooms[workflowID] = room
	m.mu.Unlock()
	return room
}

func (m *RoomManager) HasRoom(workflowID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[workflowID]
	return ok
}

func (m *RoomManager) Room(workflowID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[workflowID]
	return room, ok
}

func (m *RoomManager) SetRoom(workflowID string, room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[workflowID] = room
}

// Join adds the member to the workflow's room, creating and hydrating the
// room first if it does not exist. State is loaded before the member is
// admitted, so every member always sees a fully loaded state.
func (m *RoomManager) Join(ctx context.Context, connectionID, workflowID string, member Member) (*Room, error) {
	for {
		m.mu.Lock()
		if room, ok := m.rooms[workflowID]; ok {
			room.members[connectionID] = member
			m.mu.Unlock()
			m.registry.SetWorkflow(connectionID, workflowID)
			return room, nil
		}
		m.mu.Unlock()

		state, err := m.loader.GetWorkflowState(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("hydrate workflow %s: %w", workflowID, err)
		}

		m.mu.Lock()
		if _, exists := m.rooms[workflowID]; exists {
			// A concurrent join hydrated first; use its room.
			m.mu.Unlock()
			continue
		}
		room := &Room{
			WorkflowID: workflowID,
			CreatedAt:  time.Now().UTC(),
			members:    map[string]Member{connectionID: member},
			state:      state,
		}
		m.rooms[workflowID] = room
		m.mu.Unlock()

		m.registry.SetWorkflow(connectionID, workflowID)
		return room, nil
	}
}

// CleanupMember removes the connection's membership. It is idempotent: a
// connection that never joined is a no-op. The room is destroyed when its
// last member leaves.
func (m *RoomManager) CleanupMember(connectionID, workflowID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[workflowID]
	if !ok {
		return false
	}
	if _, ok := room.members[connectionID]; !ok {
		return false
	}
	delete(room.members, connectionID)
	m.registry.ClearWorkflow(connectionID)

	if len(room.members) == 0 {
		delete(m.rooms, workflowID)
	}
	return true
}

// HandleWorkflowDeletion force-evicts every member (the workflow was deleted
// out from under the room, e.g. by the REST surface) and destroys the room.
// It returns the evicted connection IDs so the gateway can notify them.
func (m *RoomManager) HandleWorkflowDeletion(workflowID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[workflowID]
	if !ok {
		return nil
	}

	evicted := make([]string, 0, len(room.members))
	for connectionID := range room.members {
		evicted = append(evicted, connectionID)
		m.registry.ClearWorkflow(connectionID)
	}
	delete(m.rooms, workflowID)
	sort.Strings(evicted)
	return evicted
}

// ValidateWorkflowConsistency runs the consistency checker against the
// room's canonical state without mutating anything.
func (m *RoomManager) ValidateWorkflowConsistency(workflowID string) ([]workflow.Violation, error) {
	m.mu.RLock()
	room, ok := m.rooms[workflowID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no active room for workflow %s", workflowID)
	}

	room.stateMu.Lock()
	defer room.stateMu.Unlock()
	return workflow.CheckConsistency(room.state), nil
}

// TotalActiveConnections sums member counts across all rooms.
func (m *RoomManager) TotalActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, room := range m.rooms {
		total += len(room.members)
	}
	return total
}

// Presence returns the room's member list, oldest join first.
func (m *RoomManager) Presence(workflowID string) []PresenceMember {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[workflowID]
	if !ok {
		return nil
	}
	members := make([]PresenceMember, 0, len(room.members))
	for _, member := range room.members {
		members = append(members, PresenceMember{
			UserID:   member.UserID,
			UserName: member.UserName,
			Role:     member.Role,
			JoinedAt: member.JoinedAt,
		})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members
}

// MemberConnections returns the connection IDs currently in the room, used
// by the gateway for fan-out.
func (m *RoomManager) MemberConnections(workflowID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[workflowID]
	if !ok {
		return nil
	}
	connections := make([]string, 0, len(room.members))
	for connectionID := range room.members {
		connections = append(connections, connectionID)
	}
	sort.Strings(connections)
	return connections
}

// memberRole reports the joined member's role for a connection.
func (m *RoomManager) memberRole(connectionID, workflowID string) (rbac.Role, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[workflowID]
	if !ok {
		return "", false
	}
	member, ok := room.members[connectionID]
	return member.Role, ok
}

// touch refreshes a member's last-activity timestamp.
func (m *RoomManager) touch(connectionID, workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[workflowID]
	if !ok {
		return
	}
	member, ok := room.members[connectionID]
	if !ok {
		return
	}
	member.LastActive = time.Now().UTC()
	room.members[connectionID] = member
}
