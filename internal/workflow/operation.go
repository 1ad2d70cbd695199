package workflow

import (
	"encoding/json"
	"fmt"
)

const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpRemove = "remove"
)

const (
	TargetBlock   = "block"
	TargetEdge    = "edge"
	TargetSubflow = "subflow"
)

// Operation is the wire form of one mutation: a tagged union keyed by
// (operation, target). The payload stays raw until Validate decodes it into
// the variant matching the tags.
type Operation struct {
	Op        string          `json:"operation"`
	Target    string          `json:"target"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// BlockPayload carries a block mutation. For updates, empty fields mean
// "leave unchanged" (last-writer-per-field).
type BlockPayload struct {
	ID              string         `json:"id"`
	Type            string         `json:"type,omitempty"`
	Name            string         `json:"name,omitempty"`
	Position        *Position      `json:"position,omitempty"`
	ParentID        string         `json:"parentId,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	AutoConnectEdge *EdgePayload   `json:"autoConnectEdge,omitempty"`
}

type EdgePayload struct {
	ID     string `json:"id"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
	Label  string `json:"label,omitempty"`
}

type SubflowPayload struct {
	ID     string         `json:"id"`
	Type   string         `json:"type,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// ValidatedOperation is an Operation whose payload has been decoded into the
// variant matching its tags. Exactly one of Block, Edge, Subflow is set.
type ValidatedOperation struct {
	Op        string
	Target    string
	Timestamp int64
	Block     *BlockPayload
	Edge      *EdgePayload
	Subflow   *SubflowPayload
}

// Validate structurally checks an inbound operation against the
// (operation, target) discriminated union and decodes its payload.
// Any shape mismatch rejects the whole operation; nothing is ever applied
// partially.
func Validate(op Operation) (*ValidatedOperation, error) {
	switch op.Op {
	case OpAdd, OpUpdate, OpRemove:
	default:
		return nil, fmt.Errorf("unknown operation %q", op.Op)
	}
	switch op.Target {
	case TargetBlock, TargetEdge, TargetSubflow:
	default:
		return nil, fmt.Errorf("unknown target %q", op.Target)
	}
	if op.Timestamp <= 0 {
		return nil, fmt.Errorf("timestamp is required")
	}
	if len(op.Payload) == 0 {
		return nil, fmt.Errorf("payload is required")
	}

	validated := &ValidatedOperation{Op: op.Op, Target: op.Target, Timestamp: op.Timestamp}
	switch op.Target {
	case TargetBlock:
		var payload BlockPayload
		if err := decodeStrict(op.Payload, &payload); err != nil {
			return nil, fmt.Errorf("block payload: %w", err)
		}
		if err := validateBlockPayload(op.Op, payload); err != nil {
			return nil, err
		}
		validated.Block = &payload
	case TargetEdge:
		var payload EdgePayload
		if err := decodeStrict(op.Payload, &payload); err != nil {
			return nil, fmt.Errorf("edge payload: %w", err)
		}
		if err := validateEdgePayload(op.Op, payload); err != nil {
			return nil, err
		}
		validated.Edge = &payload
	case TargetSubflow:
		var payload SubflowPayload
		if err := decodeStrict(op.Payload, &payload); err != nil {
			return nil, fmt.Errorf("subflow payload: %w", err)
		}
		if err := validateSubflowPayload(op.Op, payload); err != nil {
			return nil, err
		}
		validated.Subflow = &payload
	}
	return validated, nil
}

func validateBlockPayload(op string, payload BlockPayload) error {
	if payload.ID == "" {
		return fmt.Errorf("block payload requires id")
	}
	if op == OpAdd {
		if payload.Type == "" {
			return fmt.Errorf("block add requires type")
		}
		if payload.Name == "" {
			return fmt.Errorf("block add requires name")
		}
		if payload.Position == nil {
			return fmt.Errorf("block add requires position")
		}
	}
	if payload.AutoConnectEdge != nil {
		if op != OpAdd {
			return fmt.Errorf("autoConnectEdge is only valid on block add")
		}
		if err := validateEdgePayload(OpAdd, *payload.AutoConnectEdge); err != nil {
			return fmt.Errorf("autoConnectEdge: %w", err)
		}
	}
	return nil
}

func validateEdgePayload(op string, payload EdgePayload) error {
	if payload.ID == "" {
		return fmt.Errorf("edge payload requires id")
	}
	if op == OpAdd {
		if payload.Source == "" {
			return fmt.Errorf("edge add requires source")
		}
		if payload.Target == "" {
			return fmt.Errorf("edge add requires target")
		}
	}
	return nil
}

func validateSubflowPayload(op string, payload SubflowPayload) error {
	if payload.ID == "" {
		return fmt.Errorf("subflow payload requires id")
	}
	if op == OpAdd {
		if payload.Type == "" {
			return fmt.Errorf("subflow add requires type")
		}
		if payload.Config == nil {
			return fmt.Errorf("subflow add requires config")
		}
	}
	return nil
}

func decodeStrict(raw json.RawMessage, target any) error {
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("malformed payload")
	}
	return nil
}
