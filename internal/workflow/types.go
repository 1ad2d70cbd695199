// Package workflow defines the canonical workflow graph, the schema for
// collaborative mutations against it, and the structural consistency rules.
package workflow

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Block struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Name     string         `json:"name"`
	Position Position       `json:"position"`
	ParentID string         `json:"parentId,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

type Subflow struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// State is the authoritative in-memory representation of one workflow,
// shared by every member of its room and mutated only through validated
// operations.
type State struct {
	Blocks   []Block   `json:"blocks"`
	Edges    []Edge    `json:"edges"`
	Subflows []Subflow `json:"subflows"`
}

// Clone returns a deep copy, used to roll back an in-memory mutation when
// persistence rejects the operation.
func (s *State) Clone() *State {
	clone := &State{
		Blocks:   make([]Block, len(s.Blocks)),
		Edges:    make([]Edge, len(s.Edges)),
		Subflows: make([]Subflow, len(s.Subflows)),
	}
	for i, b := range s.Blocks {
		b.Config = cloneConfig(b.Config)
		clone.Blocks[i] = b
	}
	copy(clone.Edges, s.Edges)
	for i, sf := range s.Subflows {
		sf.Config = cloneConfig(sf.Config)
		clone.Subflows[i] = sf
	}
	return clone
}

func cloneConfig(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}
