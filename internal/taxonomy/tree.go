package taxonomy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taxod/internal/logging"
)

var (
	// ErrNodeNotFound is returned for lookups of unknown node ids.
	ErrNodeNotFound = errors.New("taxonomy: node not found")
	// ErrRootImmutable is returned when an operation would detach or remove
	// the root node.
	ErrRootImmutable = errors.New("taxonomy: root node cannot be removed or merged away")
	// ErrUserEditedNode is returned when an automatic mutation touches a
	// user-edited category.
	ErrUserEditedNode = errors.New("taxonomy: node is user-edited and protected from automatic change")
)

// Tree owns all nodes of the taxonomy. It is safe for concurrent use: reads
// take the read lock and return deep copies, every structural mutation takes
// the write lock, so merge/split/reassign/flatten are serialized relative to
// each other regardless of which background pass issued them.
type Tree struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	rootID string

	// fileIndex maps fileID -> owning nodeID. Fast path for ReassignFile;
	// the full-tree scan remains the source of truth for the uniqueness
	// invariant.
	fileIndex map[string]string

	createdAt  time.Time
	modifiedAt time.Time
}

// NewTree creates a tree with a single root category.
func NewTree(rootName string) *Tree {
	now := time.Now()
	root := &Node{
		ID:   uuid.NewString(),
		Name: rootName,
	}
	return &Tree{
		nodes:      map[string]*Node{root.ID: root},
		rootID:     root.ID,
		fileIndex:  make(map[string]string),
		createdAt:  now,
		modifiedAt: now,
	}
}

// touch bumps the modification timestamp. Callers hold the write lock.
func (t *Tree) touch() {
	t.modifiedAt = time.Now()
}

// CreatedAt returns the tree creation time.
func (t *Tree) CreatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.createdAt
}

// ModifiedAt returns the time of the last structural mutation.
func (t *Tree) ModifiedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.modifiedAt
}

// Root returns a copy of the root node.
func (t *Tree) Root() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[t.rootID].clone()
}

// RootID returns the root node id.
func (t *Tree) RootID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootID
}

// NodeByID returns a copy of the node with the given id.
func (t *Tree) NodeByID(id string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	return n.clone(), true
}

// NodeByPath resolves a root-relative name path to a node copy.
func (t *Tree) NodeByPath(path []string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.lookupPath(path)
	if n == nil {
		return nil, false
	}
	return n.clone(), true
}

// lookupPath walks name segments from the root. Callers hold a lock.
func (t *Tree) lookupPath(path []string) *Node {
	current := t.nodes[t.rootID]
	for _, name := range path {
		var next *Node
		for _, childID := range current.ChildIDs {
			if child := t.nodes[childID]; child != nil && child.Name == name {
				next = child
				break
			}
		}
		if next == nil {
			return nil
		}
		current = next
	}
	return current
}

// FindOrCreate creates every missing ancestor along path and returns a copy
// of the leaf node. Idempotent: an existing path returns the same node id.
func (t *Tree) FindOrCreate(path []string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findOrCreateLocked(path).clone()
}

func (t *Tree) findOrCreateLocked(path []string) *Node {
	current := t.nodes[t.rootID]
	for _, name := range path {
		var next *Node
		for _, childID := range current.ChildIDs {
			if child := t.nodes[childID]; child != nil && child.Name == name {
				next = child
				break
			}
		}
		if next == nil {
			next = &Node{
				ID:       uuid.NewString(),
				Name:     name,
				ParentID: current.ID,
			}
			t.nodes[next.ID] = next
			current.ChildIDs = append(current.ChildIDs, next.ID)
			t.touch()
			logging.AuditMutation(logging.AuditCategoryCreate, next.ID, name)
		}
		current = next
	}
	return current
}

// RenameCategory sets a new display name. This is the unconditional variant
// used for user-driven renames; automatic passes must use AutoRename.
func (t *Tree) RenameCategory(id, newName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	old := n.Name
	n.Name = newName
	t.touch()
	logging.AuditMutation(logging.AuditCategoryRename, id, fmt.Sprintf("%s -> %s", old, newName))
	return nil
}

// AutoRename applies an automatically suggested name. It refuses user-edited
// nodes; the check happens here, under the write lock, so a rename racing a
// concurrent user edit always loses to the user.
func (t *Tree) AutoRename(id, newName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if n.IsUserEdited() {
		return fmt.Errorf("%w: %s", ErrUserEditedNode, id)
	}
	old := n.Name
	n.SuggestedName = newName
	n.Name = newName
	n.Refinement = StateRefined
	t.touch()
	logging.AuditMutation(logging.AuditCategoryRename, id, fmt.Sprintf("auto %s -> %s", old, newName))
	return nil
}

// MarkUserEdited locks a category against automatic change. One-way.
func (t *Tree) MarkUserEdited(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Refinement = StateUserEdited
	t.touch()
	logging.AuditMutation(logging.AuditUserEditMark, id, n.Name)
	return nil
}

// SetRefining marks a node as currently being refined. No-op for user-edited
// nodes.
func (t *Tree) SetRefining(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[id]; ok && !n.IsUserEdited() {
		n.Refinement = StateRefining
	}
}

// SetConfidence updates a node's aggregate confidence.
func (t *Tree) SetConfidence(id string, confidence float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Confidence = confidence
	return nil
}

// MergeCategories moves all of source's direct files and children into
// target, then detaches source. No-op when source == target.
func (t *Tree) MergeCategories(sourceID, targetID string) error {
	if sourceID == targetID {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	src, ok := t.nodes[sourceID]
	if !ok {
		return fmt.Errorf("%w: source %s", ErrNodeNotFound, sourceID)
	}
	dst, ok := t.nodes[targetID]
	if !ok {
		return fmt.Errorf("%w: target %s", ErrNodeNotFound, targetID)
	}
	if sourceID == t.rootID {
		return ErrRootImmutable
	}

	// Re-home files.
	for i := range src.Files {
		src.Files[i].CategoryID = dst.ID
		t.fileIndex[src.Files[i].FileID] = dst.ID
	}
	dst.Files = append(dst.Files, src.Files...)
	src.Files = nil

	// Re-parent children.
	for _, childID := range src.ChildIDs {
		if child := t.nodes[childID]; child != nil {
			child.ParentID = dst.ID
			dst.ChildIDs = append(dst.ChildIDs, childID)
		}
	}
	src.ChildIDs = nil

	t.detachLocked(src)
	t.touch()
	logging.AuditMutation(logging.AuditCategoryMerge, targetID,
		fmt.Sprintf("absorbed %s (%s)", sourceID, src.Name))
	return nil
}

// SplitCategory creates names as new empty children of the node at path.
// Existing files are not moved; callers reassign them explicitly.
func (t *Tree) SplitCategory(path []string, names []string) ([]*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent := t.lookupPath(path)
	if parent == nil {
		return nil, fmt.Errorf("%w: path %q", ErrNodeNotFound, strings.Join(path, "/"))
	}

	created := make([]*Node, 0, len(names))
	for _, name := range names {
		child := &Node{
			ID:       uuid.NewString(),
			Name:     name,
			ParentID: parent.ID,
		}
		t.nodes[child.ID] = child
		parent.ChildIDs = append(parent.ChildIDs, child.ID)
		created = append(created, child.clone())
	}
	t.touch()
	logging.AuditMutation(logging.AuditCategorySplit, parent.ID,
		fmt.Sprintf("split into %v", names))
	return created, nil
}

// RemoveCategory detaches a node, re-parenting its files and children into
// its parent. Removing a category never deletes files.
func (t *Tree) RemoveCategory(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeCategoryLocked(id)
}

func (t *Tree) removeCategoryLocked(id string) error {
	if id == t.rootID {
		return ErrRootImmutable
	}
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	parent, ok := t.nodes[n.ParentID]
	if !ok {
		return fmt.Errorf("%w: parent of %s", ErrNodeNotFound, id)
	}

	for i := range n.Files {
		n.Files[i].CategoryID = parent.ID
		t.fileIndex[n.Files[i].FileID] = parent.ID
	}
	parent.Files = append(parent.Files, n.Files...)
	n.Files = nil

	for _, childID := range n.ChildIDs {
		if child := t.nodes[childID]; child != nil {
			child.ParentID = parent.ID
			parent.ChildIDs = append(parent.ChildIDs, childID)
		}
	}
	n.ChildIDs = nil

	t.detachLocked(n)
	t.touch()
	logging.AuditMutation(logging.AuditCategoryRemove, id, n.Name)
	return nil
}

// detachLocked unlinks a node from its parent and drops it from the arena.
func (t *Tree) detachLocked(n *Node) {
	if parent, ok := t.nodes[n.ParentID]; ok {
		for i, childID := range parent.ChildIDs {
			if childID == n.ID {
				parent.ChildIDs = append(parent.ChildIDs[:i], parent.ChildIDs[i+1:]...)
				break
			}
		}
	}
	delete(t.nodes, n.ID)
}

// ReassignFile removes any prior assignment of fileID anywhere in the tree
// and inserts a fresh assignment at the found-or-created target path. The
// remove-then-insert pair is atomic under the write lock, so concurrent
// readers never observe the file in zero or two places.
func (t *Tree) ReassignFile(fileID, path, displayName string, newPath []string, confidence float64, source AssignmentSource) (*FileAssignment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Fast path via index, full-tree scan as the invariant backstop: a bug
	// that desyncs the index must not produce duplicate assignments.
	if ownerID, ok := t.fileIndex[fileID]; ok {
		if owner, exists := t.nodes[ownerID]; exists {
			removeAssignment(owner, fileID)
		}
	}
	for _, n := range t.nodes {
		removeAssignment(n, fileID)
	}
	delete(t.fileIndex, fileID)

	target := t.findOrCreateLocked(newPath)
	assignment := FileAssignment{
		ID:                uuid.NewString(),
		FileID:            fileID,
		CategoryID:        target.ID,
		Path:              path,
		DisplayName:       displayName,
		Confidence:        confidence,
		NeedsDeepAnalysis: false,
		Source:            source,
		AssignedAt:        time.Now(),
	}
	target.Files = append(target.Files, assignment)
	t.fileIndex[fileID] = target.ID
	t.touch()
	logging.AuditMutation(logging.AuditFileReassign, fileID,
		fmt.Sprintf("-> %s (%.2f, %s)", strings.Join(newPath, "/"), confidence, source))
	return &assignment, nil
}

// FlagForDeepAnalysis marks a file's assignment as needing content-based
// re-evaluation.
func (t *Tree) FlagForDeepAnalysis(fileID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ownerID, ok := t.fileIndex[fileID]
	if !ok {
		return false
	}
	owner, ok := t.nodes[ownerID]
	if !ok {
		return false
	}
	for i := range owner.Files {
		if owner.Files[i].FileID == fileID {
			owner.Files[i].NeedsDeepAnalysis = true
			return true
		}
	}
	return false
}

func removeAssignment(n *Node, fileID string) {
	for i := 0; i < len(n.Files); i++ {
		if n.Files[i].FileID == fileID {
			n.Files = append(n.Files[:i], n.Files[i+1:]...)
			i--
		}
	}
}

// AssignmentOf returns the active assignment for fileID and its category
// name path, if one exists.
func (t *Tree) AssignmentOf(fileID string) (FileAssignment, []string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ownerID, ok := t.fileIndex[fileID]
	if !ok {
		return FileAssignment{}, nil, false
	}
	owner, ok := t.nodes[ownerID]
	if !ok {
		return FileAssignment{}, nil, false
	}
	for _, a := range owner.Files {
		if a.FileID == fileID {
			return a, t.pathOfLocked(ownerID), true
		}
	}
	return FileAssignment{}, nil, false
}

// PathOf returns the root-relative name path of a node (root excluded).
func (t *Tree) PathOf(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pathOfLocked(id)
}

func (t *Tree) pathOfLocked(id string) []string {
	var rev []string
	for id != "" && id != t.rootID {
		n, ok := t.nodes[id]
		if !ok {
			return nil
		}
		rev = append(rev, n.Name)
		id = n.ParentID
	}
	path := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return path
}

// FileCount returns the total number of file assignments in the tree.
func (t *Tree) FileCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0
	for _, n := range t.nodes {
		total += len(n.Files)
	}
	return total
}

// NodeCount returns the number of categories, root included.
func (t *Tree) NodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// MaxDepth returns the deepest node depth; the root is depth 0.
func (t *Tree) MaxDepth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	max := 0
	t.walkLocked(t.rootID, 0, func(_ *Node, depth int) {
		if depth > max {
			max = depth
		}
	})
	return max
}

// Walk visits every node top-down with its depth, handing out copies.
// Children are visited in their stored order. The snapshot is taken up
// front and visits run unlocked, so visitors may call back into the tree.
func (t *Tree) Walk(visit func(n *Node, depth int)) {
	type entry struct {
		node  *Node
		depth int
	}
	var entries []entry

	t.mu.RLock()
	t.walkLocked(t.rootID, 0, func(n *Node, depth int) {
		entries = append(entries, entry{node: n.clone(), depth: depth})
	})
	t.mu.RUnlock()

	for _, e := range entries {
		visit(e.node, e.depth)
	}
}

func (t *Tree) walkLocked(id string, depth int, visit func(n *Node, depth int)) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	visit(n, depth)
	for _, childID := range n.ChildIDs {
		t.walkLocked(childID, depth+1, visit)
	}
}

// Categories returns copies of all non-root nodes sorted by name path.
// Sorted output keeps refinement passes and tests deterministic.
func (t *Tree) Categories() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Node
	t.walkLocked(t.rootID, 0, func(n *Node, depth int) {
		if depth > 0 {
			out = append(out, n.clone())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		pi := strings.Join(t.pathOfLocked(out[i].ID), "/")
		pj := strings.Join(t.pathOfLocked(out[j].ID), "/")
		return pi < pj
	})
	return out
}

// flattenDeeperThan re-parents every node deeper than maxDepth into its
// parent, bottom-up, until the bound holds. Returns the number of removed
// nodes. Callers: DepthEnforcer only.
func (t *Tree) flattenDeeperThan(maxDepth int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for {
		var victim string
		deepest := maxDepth
		t.walkLocked(t.rootID, 0, func(n *Node, depth int) {
			if depth > deepest {
				deepest = depth
				victim = n.ID
			}
		})
		if victim == "" {
			break
		}
		if err := t.removeCategoryLocked(victim); err != nil {
			break
		}
		logging.AuditMutation(logging.AuditDepthFlatten, victim, "")
		removed++
	}
	return removed
}
