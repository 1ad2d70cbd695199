// Package collab owns the live collaboration state: which connection belongs
// to whom, which room it has joined, and the pipeline that runs every
// mutation against a room's canonical workflow state.
package collab

import "sync"

// UserSession is the authenticated identity bound to one connection for its
// whole lifetime.
type UserSession struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
}

// SessionRegistry is pure bookkeeping: connection ID to identity, and
// connection ID to the workflow room it has joined. Every other component
// resolves "who is this connection and where is it" here instead of
// re-deriving it.
type SessionRegistry struct {
	mu        sync.RWMutex
	sessions  map[string]UserSession
	workflows map[string]string
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions:  make(map[string]UserSession),
		workflows: make(map[string]string),
	}
}

func (r *SessionRegistry) SetSession(connectionID string, session UserSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connectionID] = session
}

func (r *SessionRegistry) Session(connectionID string) (UserSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[connectionID]
	return session, ok
}

func (r *SessionRegistry) SetWorkflow(connectionID, workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[connectionID] = workflowID
}

func (r *SessionRegistry) WorkflowFor(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	workflowID, ok := r.workflows[connectionID]
	return workflowID, ok
}

func (r *SessionRegistry) ClearWorkflow(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workflows, connectionID)
}

// Clear drops everything recorded for a connection.
func (r *SessionRegistry) Clear(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connectionID)
	delete(r.workflows, connectionID)
}
