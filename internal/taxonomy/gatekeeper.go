package taxonomy

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taxod/internal/logging"
)

var (
	// ErrSuggestionNotFound is returned for unknown suggestion ids.
	ErrSuggestionNotFound = errors.New("taxonomy: suggestion not found")
	// ErrSuggestionProcessed is returned when a suggestion was already
	// applied or rejected.
	ErrSuggestionProcessed = errors.New("taxonomy: suggestion already processed")
	// ErrTooFewSources is returned when a merge names fewer than two
	// resolvable source categories.
	ErrTooFewSources = errors.New("taxonomy: merge requires at least two resolvable sources")
)

// Guardrails protects user-edited categories. At suggestion time protection
// is advisory (warnings); on the automatic apply path it is a hard veto.
// Only an explicit approval call may override it.
type Guardrails struct {
	tree    *Tree
	enabled bool
}

// NewGuardrails creates guardrails over a tree. When disabled, Check always
// passes (used by tests and explicitly unguarded pipelines).
func NewGuardrails(tree *Tree, enabled bool) *Guardrails {
	return &Guardrails{tree: tree, enabled: enabled}
}

// Check vetoes the operation if any named node is user-edited.
func (g *Guardrails) Check(nodeIDs ...string) error {
	if !g.enabled {
		return nil
	}
	for _, id := range nodeIDs {
		if n, ok := g.tree.NodeByID(id); ok && n.IsUserEdited() {
			return fmt.Errorf("%w: %s (%s)", ErrUserEditedNode, n.Name, id)
		}
	}
	return nil
}

// Warnings lists user-edited nodes among nodeIDs without vetoing. Used at
// suggestion-registration time.
func (g *Guardrails) Warnings(nodeIDs ...string) []string {
	var warnings []string
	for _, id := range nodeIDs {
		if n, ok := g.tree.NodeByID(id); ok && n.IsUserEdited() {
			warnings = append(warnings, fmt.Sprintf("category %q is user-edited", n.Name))
		}
	}
	return warnings
}

// SuggestionStore persists suggestion lifecycle transitions. Implemented by
// the repository. Persistence is best-effort: a store failure is logged and
// never blocks the decision itself.
type SuggestionStore interface {
	SaveMergeSuggestion(s *MergeSuggestion) error
	SaveSplitSuggestion(s *SplitSuggestion) error
	UpdateSuggestionStatus(id string, status SuggestionStatus) error
}

// Gatekeeper is the approval layer between any proposed merge/split and the
// tree. Every structural suggestion must be registered before any mutation;
// Approve* is the only path that mutates, and ApplyAutomatic* additionally
// passes through the guardrails.
type Gatekeeper struct {
	mu     sync.Mutex
	tree   *Tree
	guard  *Guardrails
	store  SuggestionStore // optional
	merges map[string]*MergeSuggestion
	splits map[string]*SplitSuggestion
}

// NewGatekeeper creates a gatekeeper over the tree with the given guardrails.
func NewGatekeeper(tree *Tree, guard *Guardrails) *Gatekeeper {
	return &Gatekeeper{
		tree:   tree,
		guard:  guard,
		merges: make(map[string]*MergeSuggestion),
		splits: make(map[string]*SplitSuggestion),
	}
}

// SetStore attaches suggestion persistence. Registrations and terminal
// transitions from then on are written through.
func (k *Gatekeeper) SetStore(store SuggestionStore) {
	k.mu.Lock()
	k.store = store
	k.mu.Unlock()
}

func (k *Gatekeeper) persistMerge(s MergeSuggestion) {
	k.mu.Lock()
	store := k.store
	k.mu.Unlock()
	if store == nil {
		return
	}
	if err := store.SaveMergeSuggestion(&s); err != nil {
		logging.Guard("persist merge suggestion %s: %v", s.ID, err)
	}
}

func (k *Gatekeeper) persistSplit(s SplitSuggestion) {
	k.mu.Lock()
	store := k.store
	k.mu.Unlock()
	if store == nil {
		return
	}
	if err := store.SaveSplitSuggestion(&s); err != nil {
		logging.Guard("persist split suggestion %s: %v", s.ID, err)
	}
}

func (k *Gatekeeper) persistStatus(id string, status SuggestionStatus) {
	k.mu.Lock()
	store := k.store
	k.mu.Unlock()
	if store == nil {
		return
	}
	if err := store.UpdateSuggestionStatus(id, status); err != nil {
		logging.Guard("persist suggestion %s status %s: %v", id, status, err)
	}
}

// RegisterMerge records a pending merge suggestion. At least two source ids
// must resolve to live nodes; unresolvable ids are dropped.
func (k *Gatekeeper) RegisterMerge(sourceIDs []string, targetName, reason string) (*MergeSuggestion, error) {
	var resolved []string
	for _, id := range sourceIDs {
		if _, ok := k.tree.NodeByID(id); ok {
			resolved = append(resolved, id)
		}
	}
	if len(resolved) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewSources, len(resolved))
	}

	s := &MergeSuggestion{
		ID:         uuid.NewString(),
		SourceIDs:  resolved,
		TargetName: targetName,
		Reason:     reason,
		Status:     SuggestionPending,
		Warnings:   k.guard.Warnings(resolved...),
		CreatedAt:  time.Now(),
	}

	k.mu.Lock()
	k.merges[s.ID] = s
	k.mu.Unlock()

	logging.AuditGuard(logging.AuditSuggestionRegister, s.ID,
		fmt.Sprintf("merge %d sources -> %q", len(resolved), targetName))
	k.persistMerge(*s)
	return s, nil
}

// RegisterSplit records a pending split suggestion.
func (k *Gatekeeper) RegisterSplit(nodeID string, newNames []string, reason string) (*SplitSuggestion, error) {
	if _, ok := k.tree.NodeByID(nodeID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if len(newNames) == 0 {
		return nil, fmt.Errorf("taxonomy: split requires at least one new name")
	}

	s := &SplitSuggestion{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		NewNames:  append([]string(nil), newNames...),
		Reason:    reason,
		Status:    SuggestionPending,
		Warnings:  k.guard.Warnings(nodeID),
		CreatedAt: time.Now(),
	}

	k.mu.Lock()
	k.splits[s.ID] = s
	k.mu.Unlock()

	logging.AuditGuard(logging.AuditSuggestionRegister, s.ID,
		fmt.Sprintf("split %s into %v", nodeID, newNames))
	k.persistSplit(*s)
	return s, nil
}

// ApproveMerge applies a pending merge. This is the explicit-approval path:
// it overrides guardrail protection, because a human asked for it.
func (k *Gatekeeper) ApproveMerge(id string) (*Node, error) {
	k.mu.Lock()
	s, ok := k.merges[id]
	if !ok {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: merge %s", ErrSuggestionNotFound, id)
	}
	if s.Status.terminal() {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: merge %s is %s", ErrSuggestionProcessed, id, s.Status)
	}
	s.Status = SuggestionApproved
	k.mu.Unlock()

	return k.applyMerge(s)
}

// ApplyAutomaticMerge applies a pending merge on behalf of an automatic
// pass. The guardrails veto it when any source is user-edited.
func (k *Gatekeeper) ApplyAutomaticMerge(id string) (*Node, error) {
	k.mu.Lock()
	s, ok := k.merges[id]
	if !ok {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: merge %s", ErrSuggestionNotFound, id)
	}
	if s.Status.terminal() {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: merge %s is %s", ErrSuggestionProcessed, id, s.Status)
	}
	k.mu.Unlock()

	if err := k.guard.Check(s.SourceIDs...); err != nil {
		k.mu.Lock()
		s.Status = SuggestionRejected
		s.ProcessedAt = time.Now()
		k.mu.Unlock()
		logging.AuditGuard(logging.AuditGuardrailVeto, s.ID, err.Error())
		k.persistStatus(s.ID, SuggestionRejected)
		return nil, err
	}
	return k.applyMerge(s)
}

func (k *Gatekeeper) applyMerge(s *MergeSuggestion) (*Node, error) {
	target := k.tree.FindOrCreate([]string{s.TargetName})
	for _, srcID := range s.SourceIDs {
		if srcID == target.ID {
			continue
		}
		if err := k.tree.MergeCategories(srcID, target.ID); err != nil {
			// A source vanished between registration and apply; skip it
			// rather than aborting the rest.
			logging.Guard("merge %s: skipping source %s: %v", s.ID, srcID, err)
		}
	}

	k.mu.Lock()
	s.Status = SuggestionApplied
	s.ProcessedAt = time.Now()
	k.mu.Unlock()

	logging.AuditGuard(logging.AuditSuggestionApprove, s.ID,
		fmt.Sprintf("merged into %q", s.TargetName))
	k.persistStatus(s.ID, SuggestionApplied)
	node, _ := k.tree.NodeByID(target.ID)
	return node, nil
}

// ApproveSplit applies a pending split (explicit approval, overrides
// guardrails).
func (k *Gatekeeper) ApproveSplit(id string) ([]*Node, error) {
	k.mu.Lock()
	s, ok := k.splits[id]
	if !ok {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: split %s", ErrSuggestionNotFound, id)
	}
	if s.Status.terminal() {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: split %s is %s", ErrSuggestionProcessed, id, s.Status)
	}
	s.Status = SuggestionApproved
	k.mu.Unlock()

	return k.applySplit(s)
}

// ApplyAutomaticSplit applies a pending split for an automatic pass, with
// guardrail veto on user-edited targets.
func (k *Gatekeeper) ApplyAutomaticSplit(id string) ([]*Node, error) {
	k.mu.Lock()
	s, ok := k.splits[id]
	if !ok {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: split %s", ErrSuggestionNotFound, id)
	}
	if s.Status.terminal() {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: split %s is %s", ErrSuggestionProcessed, id, s.Status)
	}
	k.mu.Unlock()

	if err := k.guard.Check(s.NodeID); err != nil {
		k.mu.Lock()
		s.Status = SuggestionRejected
		s.ProcessedAt = time.Now()
		k.mu.Unlock()
		logging.AuditGuard(logging.AuditGuardrailVeto, s.ID, err.Error())
		k.persistStatus(s.ID, SuggestionRejected)
		return nil, err
	}
	return k.applySplit(s)
}

func (k *Gatekeeper) applySplit(s *SplitSuggestion) ([]*Node, error) {
	path := k.tree.PathOf(s.NodeID)
	if path == nil && s.NodeID != k.tree.RootID() {
		k.mu.Lock()
		s.Status = SuggestionRejected
		s.ProcessedAt = time.Now()
		k.mu.Unlock()
		k.persistStatus(s.ID, SuggestionRejected)
		return nil, fmt.Errorf("%w: split target %s", ErrNodeNotFound, s.NodeID)
	}

	created, err := k.tree.SplitCategory(path, s.NewNames)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	s.Status = SuggestionApplied
	s.ProcessedAt = time.Now()
	k.mu.Unlock()

	logging.AuditGuard(logging.AuditSuggestionApprove, s.ID,
		fmt.Sprintf("split into %s", strings.Join(s.NewNames, ", ")))
	k.persistStatus(s.ID, SuggestionApplied)
	return created, nil
}

// RejectMerge marks a pending merge rejected.
func (k *Gatekeeper) RejectMerge(id string) error {
	k.mu.Lock()
	s, ok := k.merges[id]
	if !ok {
		k.mu.Unlock()
		return fmt.Errorf("%w: merge %s", ErrSuggestionNotFound, id)
	}
	if s.Status.terminal() {
		k.mu.Unlock()
		return fmt.Errorf("%w: merge %s is %s", ErrSuggestionProcessed, id, s.Status)
	}
	s.Status = SuggestionRejected
	s.ProcessedAt = time.Now()
	k.mu.Unlock()

	logging.AuditGuard(logging.AuditSuggestionReject, id, "")
	k.persistStatus(id, SuggestionRejected)
	return nil
}

// RejectSplit marks a pending split rejected.
func (k *Gatekeeper) RejectSplit(id string) error {
	k.mu.Lock()
	s, ok := k.splits[id]
	if !ok {
		k.mu.Unlock()
		return fmt.Errorf("%w: split %s", ErrSuggestionNotFound, id)
	}
	if s.Status.terminal() {
		k.mu.Unlock()
		return fmt.Errorf("%w: split %s is %s", ErrSuggestionProcessed, id, s.Status)
	}
	s.Status = SuggestionRejected
	s.ProcessedAt = time.Now()
	k.mu.Unlock()

	logging.AuditGuard(logging.AuditSuggestionReject, id, "")
	k.persistStatus(id, SuggestionRejected)
	return nil
}

// PendingMerges returns copies of all pending merge suggestions.
func (k *Gatekeeper) PendingMerges() []MergeSuggestion {
	k.mu.Lock()
	defer k.mu.Unlock()

	var out []MergeSuggestion
	for _, s := range k.merges {
		if s.Status == SuggestionPending {
			out = append(out, *s)
		}
	}
	return out
}

// MergeSuggestionByID returns a copy of a merge suggestion.
func (k *Gatekeeper) MergeSuggestionByID(id string) (MergeSuggestion, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.merges[id]
	if !ok {
		return MergeSuggestion{}, false
	}
	return *s, true
}

// SplitSuggestionByID returns a copy of a split suggestion.
func (k *Gatekeeper) SplitSuggestionByID(id string) (SplitSuggestion, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.splits[id]
	if !ok {
		return SplitSuggestion{}, false
	}
	return *s, true
}
