// Package taxonomy owns the category tree: node model, structural mutators,
// depth enforcement, and the gatekeeper/guardrail layer that protects
// user-edited categories from automatic change.
//
// The tree is an arena of nodes keyed by id; parent and child links are ids,
// never pointers, so nodes can be re-parented and detached without ownership
// cycles. All mutation is serialized behind a single write lock; readers get
// deep copies and never observe a half-applied mutation.
package taxonomy

import (
	"fmt"
	"time"
)

// RefinementState tracks where a category is in the refinement lifecycle.
// StateUserEdited is terminal: nothing in the system clears it.
type RefinementState int

const (
	// StateInitial - freshly created, never refined.
	StateInitial RefinementState = iota
	// StateRefining - a refinement pass is currently working on this node.
	StateRefining
	// StateRefined - an automatic refinement was applied.
	StateRefined
	// StateUserEdited - a human edited this category; locked against
	// automatic change.
	StateUserEdited
)

func (s RefinementState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateRefining:
		return "refining"
	case StateRefined:
		return "refined"
	case StateUserEdited:
		return "userEdited"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// AssignmentSource records what evidence placed a file in its category.
type AssignmentSource string

const (
	SourceFilename AssignmentSource = "filename"
	SourceContent  AssignmentSource = "content"
	SourceUser     AssignmentSource = "user"
	SourceMemory   AssignmentSource = "memory"
	SourceGraphRAG AssignmentSource = "graphRAG"
)

// FileAssignment is a file's placement under a category node.
// At most one active assignment exists per FileID across the whole tree;
// ReassignFile enforces this by removing the prior assignment first.
type FileAssignment struct {
	ID                string           `json:"id"`
	FileID            string           `json:"file_id"`
	CategoryID        string           `json:"category_id"`
	Path              string           `json:"path"`
	DisplayName       string           `json:"display_name"`
	Confidence        float64          `json:"confidence"`
	NeedsDeepAnalysis bool             `json:"needs_deep_analysis"`
	Source            AssignmentSource `json:"source"`
	AssignedAt        time.Time        `json:"assigned_at"`
}

// Node is a single category. Identity is by ID, never by name: two sibling
// nodes may carry the same name by construction.
type Node struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	SuggestedName string           `json:"suggested_name,omitempty"`
	ParentID      string           `json:"parent_id,omitempty"`
	ChildIDs      []string         `json:"child_ids,omitempty"`
	Files         []FileAssignment `json:"files,omitempty"`
	Confidence    float64          `json:"confidence"`
	UserCreated   bool             `json:"user_created"`
	Refinement    RefinementState  `json:"refinement"`
}

// IsUserEdited reports whether the node is locked against automatic change.
func (n *Node) IsUserEdited() bool {
	return n.Refinement == StateUserEdited
}

// clone returns a deep copy safe to hand to readers.
func (n *Node) clone() *Node {
	c := *n
	c.ChildIDs = append([]string(nil), n.ChildIDs...)
	c.Files = append([]FileAssignment(nil), n.Files...)
	return &c
}
