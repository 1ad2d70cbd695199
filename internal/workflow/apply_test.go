package workflow

import (
	"encoding/json"
	"testing"
)

func mustValidate(t *testing.T, operation, target, payload string) *ValidatedOperation {
	t.Helper()
	validated, err := Validate(Operation{
		Op:        operation,
		Target:    target,
		Payload:   json.RawMessage(payload),
		Timestamp: 1700000000000,
	})
	if err != nil {
		t.Fatalf("validate %s %s: %v", operation, target, err)
	}
	return validated
}

func TestApplyBlockAddUpdateRemove(t *testing.T) {
	state := &State{}

	Apply(state, mustValidate(t, OpAdd, TargetBlock,
		`{"id":"blk-1","type":"action","name":"Send Email","position":{"x":10,"y":20}}`))
	if len(state.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(state.Blocks))
	}
	if state.Blocks[0].Name != "Send Email" || state.Blocks[0].Position.X != 10 {
		t.Errorf("block not applied: %+v", state.Blocks[0])
	}

	Apply(state, mustValidate(t, OpUpdate, TargetBlock,
		`{"id":"blk-1","name":"Send SMS","position":{"x":30,"y":40}}`))
	if state.Blocks[0].Name != "Send SMS" {
		t.Errorf("expected updated name, got %q", state.Blocks[0].Name)
	}
	if state.Blocks[0].Type != "action" {
		t.Errorf("update must not clear untouched fields, type became %q", state.Blocks[0].Type)
	}
	if state.Blocks[0].Position.Y != 40 {
		t.Errorf("expected updated position, got %+v", state.Blocks[0].Position)
	}

	Apply(state, mustValidate(t, OpRemove, TargetBlock, `{"id":"blk-1"}`))
	if len(state.Blocks) != 0 {
		t.Errorf("expected block removed, got %d blocks", len(state.Blocks))
	}
}

func TestApplyBlockUpdateMissingIsNoop(t *testing.T) {
	state := &State{Blocks: []Block{{ID: "blk-1", Type: "action", Name: "A"}}}
	Apply(state, mustValidate(t, OpUpdate, TargetBlock, `{"id":"blk-gone","name":"B"}`))
	if len(state.Blocks) != 1 || state.Blocks[0].Name != "A" {
		t.Errorf("update of a missing block must not change state: %+v", state.Blocks)
	}
}

func TestApplyBlockAddWithAutoConnectEdge(t *testing.T) {
	state := &State{Blocks: []Block{{ID: "blk-1", Type: "trigger", Name: "Start"}}}

	Apply(state, mustValidate(t, OpAdd, TargetBlock,
		`{"id":"blk-2","type":"action","name":"Next","position":{"x":1,"y":2},"autoConnectEdge":{"id":"e1","source":"blk-1","target":"blk-2"}}`))

	if len(state.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(state.Blocks))
	}
	if len(state.Edges) != 1 {
		t.Fatalf("autoConnectEdge must insert the edge in the same apply step, got %d edges", len(state.Edges))
	}
	if state.Edges[0].Source != "blk-1" || state.Edges[0].Target != "blk-2" {
		t.Errorf("unexpected edge: %+v", state.Edges[0])
	}
}

func TestApplyEdgeLifecycle(t *testing.T) {
	state := &State{}

	Apply(state, mustValidate(t, OpAdd, TargetEdge, `{"id":"e1","source":"a","target":"b"}`))
	Apply(state, mustValidate(t, OpUpdate, TargetEdge, `{"id":"e1","label":"yes"}`))
	if len(state.Edges) != 1 || state.Edges[0].Label != "yes" || state.Edges[0].Source != "a" {
		t.Errorf("unexpected edge state: %+v", state.Edges)
	}

	Apply(state, mustValidate(t, OpRemove, TargetEdge, `{"id":"e1"}`))
	if len(state.Edges) != 0 {
		t.Errorf("expected edge removed, got %+v", state.Edges)
	}
}

func TestApplySubflowLifecycle(t *testing.T) {
	state := &State{}

	Apply(state, mustValidate(t, OpAdd, TargetSubflow, `{"id":"sf-1","type":"loop","config":{"items":"$.list"}}`))
	Apply(state, mustValidate(t, OpUpdate, TargetSubflow, `{"id":"sf-1","config":{"limit":5}}`))
	if len(state.Subflows) != 1 {
		t.Fatalf("expected 1 subflow, got %d", len(state.Subflows))
	}
	config := state.Subflows[0].Config
	if config["items"] != "$.list" {
		t.Errorf("config update must merge, lost items key: %+v", config)
	}
	if config["limit"] != float64(5) {
		t.Errorf("config update did not land: %+v", config)
	}

	Apply(state, mustValidate(t, OpRemove, TargetSubflow, `{"id":"sf-1"}`))
	if len(state.Subflows) != 0 {
		t.Errorf("expected subflow removed, got %+v", state.Subflows)
	}
}

func TestApplyAddIsUpsert(t *testing.T) {
	state := &State{Blocks: []Block{{ID: "blk-1", Type: "action", Name: "Old"}}}
	Apply(state, mustValidate(t, OpAdd, TargetBlock,
		`{"id":"blk-1","type":"action","name":"New","position":{"x":0,"y":0}}`))
	if len(state.Blocks) != 1 {
		t.Fatalf("add of an existing id must replace, got %d blocks", len(state.Blocks))
	}
	if state.Blocks[0].Name != "New" {
		t.Errorf("expected replacement, got %+v", state.Blocks[0])
	}
}

func TestCloneIsIndependent(t *testing.T) {
	state := &State{
		Blocks: []Block{{ID: "blk-1", Name: "A", Config: map[string]any{"k": "v"}}},
		Edges:  []Edge{{ID: "e1", Source: "blk-1", Target: "blk-1"}},
	}
	clone := state.Clone()

	state.Blocks[0].Name = "changed"
	state.Blocks[0].Config["k"] = "changed"
	state.Edges[0].Label = "changed"

	if clone.Blocks[0].Name != "A" || clone.Blocks[0].Config["k"] != "v" || clone.Edges[0].Label != "" {
		t.Errorf("clone shares memory with the original: %+v", clone)
	}
}
