package workflow

import "fmt"

const (
	ViolationDuplicateBlockID = "duplicate-block-id"
	ViolationDanglingSource   = "dangling-edge-source"
	ViolationDanglingTarget   = "dangling-edge-target"
	ViolationMissingParent    = "missing-parent"
	ViolationParentCycle      = "parent-cycle"
)

type Violation struct {
	Code     string `json:"code"`
	EntityID string `json:"entityId"`
	Message  string `json:"message"`
}

// CheckConsistency inspects a state snapshot for structural defects: edges
// whose endpoints do not exist, blocks whose parent is missing or whose
// parent chain loops, and duplicated block IDs. It never mutates; an empty
// result means the state is consistent.
func CheckConsistency(state *State) []Violation {
	var violations []Violation

	blockIDs := make(map[string]bool, len(state.Blocks))
	for _, block := range state.Blocks {
		if blockIDs[block.ID] {
			violations = append(violations, Violation{
				Code:     ViolationDuplicateBlockID,
				EntityID: block.ID,
				Message:  fmt.Sprintf("block id %q appears more than once", block.ID),
			})
			continue
		}
		blockIDs[block.ID] = true
	}

	for _, edge := range state.Edges {
		if !blockIDs[edge.Source] {
			violations = append(violations, Violation{
				Code:     ViolationDanglingSource,
				EntityID: edge.ID,
				Message:  fmt.Sprintf("edge %q source %q does not exist", edge.ID, edge.Source),
			})
		}
		if !blockIDs[edge.Target] {
			violations = append(violations, Violation{
				Code:     ViolationDanglingTarget,
				EntityID: edge.ID,
				Message:  fmt.Sprintf("edge %q target %q does not exist", edge.ID, edge.Target),
			})
		}
	}

	parents := make(map[string]string, len(state.Blocks))
	for _, block := range state.Blocks {
		if block.ParentID == "" {
			continue
		}
		if !blockIDs[block.ParentID] {
			violations = append(violations, Violation{
				Code:     ViolationMissingParent,
				EntityID: block.ID,
				Message:  fmt.Sprintf("block %q parent %q does not exist", block.ID, block.ParentID),
			})
			continue
		}
		parents[block.ID] = block.ParentID
	}

	for id := range parents {
		if hasParentCycle(id, parents) {
			violations = append(violations, Violation{
				Code:     ViolationParentCycle,
				EntityID: id,
				Message:  fmt.Sprintf("parent chain of block %q loops", id),
			})
		}
	}

	return violations
}

func hasParentCycle(start string, parents map[string]string) bool {
	slow, fast := start, start
	for {
		slow = parents[slow]
		fast = parents[parents[fast]]
		if fast == "" || slow == "" {
			return false
		}
		if slow == fast {
			return true
		}
	}
}
