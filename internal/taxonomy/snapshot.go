package taxonomy

import (
	"fmt"
	"time"
)

// Snapshot is a deep, JSON-serializable copy of the whole tree. The
// repository persists snapshots; readers use them for consistent views.
type Snapshot struct {
	RootID     string    `json:"root_id"`
	Nodes      []Node    `json:"nodes"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Snapshot captures the current tree state.
func (t *Tree) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := &Snapshot{
		RootID:     t.rootID,
		CreatedAt:  t.createdAt,
		ModifiedAt: t.modifiedAt,
	}
	// Deterministic order: pre-order walk.
	t.walkLocked(t.rootID, 0, func(n *Node, _ int) {
		snap.Nodes = append(snap.Nodes, *n.clone())
	})
	return snap
}

// FromSnapshot rebuilds a tree from a persisted snapshot.
func FromSnapshot(s *Snapshot) (*Tree, error) {
	if s == nil || s.RootID == "" {
		return nil, fmt.Errorf("taxonomy: empty snapshot")
	}

	t := &Tree{
		nodes:      make(map[string]*Node, len(s.Nodes)),
		rootID:     s.RootID,
		fileIndex:  make(map[string]string),
		createdAt:  s.CreatedAt,
		modifiedAt: s.ModifiedAt,
	}
	for i := range s.Nodes {
		n := s.Nodes[i]
		t.nodes[n.ID] = n.clone()
		for _, f := range n.Files {
			t.fileIndex[f.FileID] = n.ID
		}
	}
	if _, ok := t.nodes[s.RootID]; !ok {
		return nil, fmt.Errorf("taxonomy: snapshot root %s missing from node set", s.RootID)
	}
	return t, nil
}
