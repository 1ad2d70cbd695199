package workflow

// Apply mutates the state in place according to a validated operation.
// Adds upsert the addressed entity, updates merge per field into an existing
// entity and are a no-op when the entity is gone (last writer per field,
// concurrent remove wins), removes drop it. A block add carrying an
// autoConnectEdge inserts the edge in the same step.
func Apply(state *State, op *ValidatedOperation) {
	switch op.Target {
	case TargetBlock:
		applyBlock(state, op.Op, op.Block)
	case TargetEdge:
		applyEdge(state, op.Op, op.Edge)
	case TargetSubflow:
		applySubflow(state, op.Op, op.Subflow)
	}
}

func applyBlock(state *State, op string, payload *BlockPayload) {
	switch op {
	case OpAdd:
		block := Block{
			ID:       payload.ID,
			Type:     payload.Type,
			Name:     payload.Name,
			ParentID: payload.ParentID,
			Config:   payload.Config,
		}
		if payload.Position != nil {
			block.Position = *payload.Position
		}
		replaced := false
		for i := range state.Blocks {
			if state.Blocks[i].ID == block.ID {
				state.Blocks[i] = block
				replaced = true
				break
			}
		}
		if !replaced {
			state.Blocks = append(state.Blocks, block)
		}
		if payload.AutoConnectEdge != nil {
			applyEdge(state, OpAdd, payload.AutoConnectEdge)
		}
	case OpUpdate:
		for i := range state.Blocks {
			block := &state.Blocks[i]
			if block.ID != payload.ID {
				continue
			}
			if payload.Type != "" {
				block.Type = payload.Type
			}
			if payload.Name != "" {
				block.Name = payload.Name
			}
			if payload.Position != nil {
				block.Position = *payload.Position
			}
			if payload.ParentID != "" {
				block.ParentID = payload.ParentID
			}
			if payload.Config != nil {
				if block.Config == nil {
					block.Config = make(map[string]any, len(payload.Config))
				}
				for k, v := range payload.Config {
					block.Config[k] = v
				}
			}
			return
		}
	case OpRemove:
		for i := range state.Blocks {
			if state.Blocks[i].ID == payload.ID {
				state.Blocks = append(state.Blocks[:i], state.Blocks[i+1:]...)
				return
			}
		}
	}
}

func applyEdge(state *State, op string, payload *EdgePayload) {
	switch op {
	case OpAdd:
		edge := Edge{ID: payload.ID, Source: payload.Source, Target: payload.Target, Label: payload.Label}
		for i := range state.Edges {
			if state.Edges[i].ID == edge.ID {
				state.Edges[i] = edge
				return
			}
		}
		state.Edges = append(state.Edges, edge)
	case OpUpdate:
		for i := range state.Edges {
			edge := &state.Edges[i]
			if edge.ID != payload.ID {
				continue
			}
			if payload.Source != "" {
				edge.Source = payload.Source
			}
			if payload.Target != "" {
				edge.Target = payload.Target
			}
			if payload.Label != "" {
				edge.Label = payload.Label
			}
			return
		}
	case OpRemove:
		for i := range state.Edges {
			if state.Edges[i].ID == payload.ID {
				state.Edges = append(state.Edges[:i], state.Edges[i+1:]...)
				return
			}
		}
	}
}

func applySubflow(state *State, op string, payload *SubflowPayload) {
	switch op {
	case OpAdd:
		subflow := Subflow{ID: payload.ID, Type: payload.Type, Config: payload.Config}
		for i := range state.Subflows {
			if state.Subflows[i].ID == subflow.ID {
				state.Subflows[i] = subflow
				return
			}
		}
		state.Subflows = append(state.Subflows, subflow)
	case OpUpdate:
		for i := range state.Subflows {
			subflow := &state.Subflows[i]
			if subflow.ID != payload.ID {
				continue
			}
			if payload.Type != "" {
				subflow.Type = payload.Type
			}
			if payload.Config != nil {
				if subflow.Config == nil {
					subflow.Config = make(map[string]any, len(payload.Config))
				}
				for k, v := range payload.Config {
					subflow.Config[k] = v
				}
			}
			return
		}
	case OpRemove:
		for i := range state.Subflows {
			if state.Subflows[i].ID == payload.ID {
				state.Subflows = append(state.Subflows[:i], state.Subflows[i+1:]...)
				return
			}
		}
	}
}
