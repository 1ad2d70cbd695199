package workflow

import (
	"encoding/json"
	"testing"
)

func op(operation, target, payload string) Operation {
	return Operation{
		Op:        operation,
		Target:    target,
		Payload:   json.RawMessage(payload),
		Timestamp: 1700000000000,
	}
}

func TestValidateAcceptsAllOperationTargetCombinations(t *testing.T) {
	payloads := map[string]map[string]string{
		TargetBlock: {
			OpAdd:    `{"id":"blk-1","type":"action","name":"Send Email","position":{"x":10,"y":20}}`,
			OpUpdate: `{"id":"blk-1","name":"Renamed"}`,
			OpRemove: `{"id":"blk-1"}`,
		},
		TargetEdge: {
			OpAdd:    `{"id":"e1","source":"blk-1","target":"blk-2"}`,
			OpUpdate: `{"id":"e1","label":"yes"}`,
			OpRemove: `{"id":"e1"}`,
		},
		TargetSubflow: {
			OpAdd:    `{"id":"sf-1","type":"loop","config":{"items":"$.list"}}`,
			OpUpdate: `{"id":"sf-1","config":{"items":"$.other"}}`,
			OpRemove: `{"id":"sf-1"}`,
		},
	}

	for target, byOp := range payloads {
		for operation, payload := range byOp {
			validated, err := Validate(op(operation, target, payload))
			if err != nil {
				t.Errorf("%s %s: unexpected error: %v", operation, target, err)
				continue
			}
			if validated.Op != operation || validated.Target != target {
				t.Errorf("%s %s: tags not carried through", operation, target)
			}
			switch target {
			case TargetBlock:
				if validated.Block == nil {
					t.Errorf("%s %s: block payload not decoded", operation, target)
				}
			case TargetEdge:
				if validated.Edge == nil {
					t.Errorf("%s %s: edge payload not decoded", operation, target)
				}
			case TargetSubflow:
				if validated.Subflow == nil {
					t.Errorf("%s %s: subflow payload not decoded", operation, target)
				}
			}
		}
	}
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name      string
		operation string
		target    string
		payload   string
	}{
		{"block add without id", OpAdd, TargetBlock, `{"type":"action","name":"x","position":{"x":0,"y":0}}`},
		{"block add without type", OpAdd, TargetBlock, `{"id":"blk-1","name":"x","position":{"x":0,"y":0}}`},
		{"block add without name", OpAdd, TargetBlock, `{"id":"blk-1","type":"action","position":{"x":0,"y":0}}`},
		{"block add without position", OpAdd, TargetBlock, `{"id":"blk-1","type":"action","name":"x"}`},
		{"block update without id", OpUpdate, TargetBlock, `{"name":"x"}`},
		{"block remove without id", OpRemove, TargetBlock, `{}`},
		{"edge add without id", OpAdd, TargetEdge, `{"source":"a","target":"b"}`},
		{"edge add without source", OpAdd, TargetEdge, `{"id":"e1","target":"b"}`},
		{"edge add without target", OpAdd, TargetEdge, `{"id":"e1","source":"a"}`},
		{"edge remove without id", OpRemove, TargetEdge, `{}`},
		{"subflow add without type", OpAdd, TargetSubflow, `{"id":"sf-1","config":{}}`},
		{"subflow add without config", OpAdd, TargetSubflow, `{"id":"sf-1","type":"loop"}`},
		{"subflow update without id", OpUpdate, TargetSubflow, `{"type":"loop"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Validate(op(tc.operation, tc.target, tc.payload)); err == nil {
				t.Errorf("expected validation error, got nil")
			}
		})
	}
}

func TestValidateRejectsUnknownTags(t *testing.T) {
	if _, err := Validate(op("merge", TargetBlock, `{"id":"blk-1"}`)); err == nil {
		t.Error("expected error for unknown operation")
	}
	if _, err := Validate(op(OpAdd, "node", `{"id":"blk-1"}`)); err == nil {
		t.Error("expected error for unknown target")
	}
}

func TestValidateRejectsMissingTimestamp(t *testing.T) {
	invalid := op(OpRemove, TargetBlock, `{"id":"blk-1"}`)
	invalid.Timestamp = 0
	if _, err := Validate(invalid); err == nil {
		t.Error("expected error for missing timestamp")
	}
}

func TestValidateRejectsMissingPayload(t *testing.T) {
	invalid := Operation{Op: OpAdd, Target: TargetBlock, Timestamp: 1}
	if _, err := Validate(invalid); err == nil {
		t.Error("expected error for missing payload")
	}
}

func TestValidateAutoConnectEdge(t *testing.T) {
	valid := `{"id":"blk-2","type":"action","name":"Next","position":{"x":1,"y":2},"autoConnectEdge":{"id":"e1","source":"blk-1","target":"blk-2"}}`
	validated, err := Validate(op(OpAdd, TargetBlock, valid))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validated.Block.AutoConnectEdge == nil {
		t.Fatal("autoConnectEdge not decoded")
	}

	missingSource := `{"id":"blk-2","type":"action","name":"Next","position":{"x":1,"y":2},"autoConnectEdge":{"id":"e1","target":"blk-2"}}`
	if _, err := Validate(op(OpAdd, TargetBlock, missingSource)); err == nil {
		t.Error("expected error for autoConnectEdge missing source")
	}

	onUpdate := `{"id":"blk-2","autoConnectEdge":{"id":"e1","source":"a","target":"b"}}`
	if _, err := Validate(op(OpUpdate, TargetBlock, onUpdate)); err == nil {
		t.Error("expected error for autoConnectEdge on update")
	}
}

func TestValidateRejectsMalformedPayload(t *testing.T) {
	if _, err := Validate(op(OpAdd, TargetBlock, `{"id":`)); err == nil {
		t.Error("expected error for malformed JSON payload")
	}
}
