package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// BlueprintRequest asks the engine for a curriculum.
type BlueprintRequest struct {
	Topic       string   `json:"topic"`
	Goal        string   `json:"goal,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	MaxNodes    int      `json:"max_nodes,omitempty"`
}

// Validate checks required fields
func (r BlueprintRequest) Validate() error {
	if r.Topic == "" {
		return goerr.Wrap(ErrInvalidConfig, "blueprint topic is empty")
	}
	if r.MaxNodes < 0 {
		return goerr.Wrap(ErrInvalidConfig, "max_nodes must not be negative", goerr.V("max_nodes", r.MaxNodes))
	}
	return nil
}

// LearningNode is one unit of a curriculum. Prerequisites hold ids of nodes
// that must be learned first.
type LearningNode struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Summary       string   `json:"summary,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// BlueprintResponse is a curriculum whose node order is a topological order of
// the prerequisite graph.
type BlueprintResponse struct {
	Topic       string         `json:"topic"`
	Title       string         `json:"title"`
	Nodes       []LearningNode `json:"nodes"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Validate checks node ids, titles and that every prerequisite refers to a node
// placed earlier in the list. The latter also rules out cycles.
func (b *BlueprintResponse) Validate() error {
	if len(b.Nodes) == 0 {
		return goerr.New("blueprint has no nodes")
	}

	seen := make(map[string]bool, len(b.Nodes))
	for i, node := range b.Nodes {
		if node.ID == "" {
			return goerr.New("node id is empty", goerr.V("index", i))
		}
		if seen[node.ID] {
			return goerr.New("duplicated node id", goerr.V("id", node.ID))
		}
		if node.Title == "" {
			return goerr.New("node title is empty", goerr.V("id", node.ID))
		}
		for _, pre := range node.Prerequisites {
			if pre == node.ID {
				return goerr.New("node requires itself", goerr.V("id", node.ID))
			}
			if !seen[pre] {
				return goerr.New("prerequisite is not placed before node",
					goerr.V("id", node.ID),
					goerr.V("prerequisite", pre))
			}
		}
		seen[node.ID] = true
	}

	return nil
}
