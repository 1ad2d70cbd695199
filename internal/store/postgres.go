package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"flowdeck/api/internal/workflow"
)

var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowAccess is the result of a per-operation permission lookup.
type WorkflowAccess struct {
	HasAccess bool
	Role      string
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetWorkflowState loads the canonical state snapshot of a workflow.
func (s *PostgresStore) GetWorkflowState(ctx context.Context, workflowID string) (*workflow.State, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM workflows WHERE id=$1 AND deleted_at IS NULL`, workflowID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow state: %w", err)
	}

	state := &workflow.State{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, state); err != nil {
			return nil, fmt.Errorf("unmarshal workflow state: %w", err)
		}
	}
	return state, nil
}

// PersistWorkflowOperation appends the operation to the workflow's operation
// log and updates the state snapshot, in one transaction.
func (s *PostgresStore) PersistWorkflowOperation(ctx context.Context, workflowID string, op workflow.Operation, state *workflow.State) error {
	snapshot, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal workflow state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_operations (workflow_id, operation, target, payload, client_ts)
		VALUES ($1, $2, $3, $4, $5)
	`, workflowID, op.Op, op.Target, []byte(op.Payload), op.Timestamp); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert operation: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE workflows SET state=$2, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, workflowID, snapshot)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update workflow state: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		_ = tx.Rollback()
		return ErrWorkflowNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist tx: %w", err)
	}
	return nil
}

// VerifyWorkflowAccess resolves whether a user may act on a workflow and
// with which role. The workflow owner is an implicit admin; everyone else
// needs a membership row.
func (s *PostgresStore) VerifyWorkflowAccess(ctx context.Context, userID, workflowID string) (WorkflowAccess, error) {
	var ownerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id FROM workflows WHERE id=$1 AND deleted_at IS NULL`, workflowID,
	).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowAccess{}, nil
	}
	if err != nil {
		return WorkflowAccess{}, fmt.Errorf("lookup workflow: %w", err)
	}
	if ownerID == userID {
		return WorkflowAccess{HasAccess: true, Role: "admin"}, nil
	}

	var role string
	err = s.db.QueryRowContext(ctx,
		`SELECT role FROM workflow_members WHERE workflow_id=$1 AND user_id=$2`, workflowID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowAccess{}, nil
	}
	if err != nil {
		return WorkflowAccess{}, fmt.Errorf("lookup membership: %w", err)
	}
	return WorkflowAccess{HasAccess: true, Role: role}, nil
}
