package taxonomy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatedTree(t *testing.T) (*Tree, *Gatekeeper) {
	t.Helper()
	tree := NewTree("Files")
	guard := NewGuardrails(tree, true)
	return tree, NewGatekeeper(tree, guard)
}

func TestRegisterMergeRequiresTwoSources(t *testing.T) {
	tree, gk := newGatedTree(t)
	a := tree.FindOrCreate([]string{"A"})

	_, err := gk.RegisterMerge([]string{a.ID, "missing"}, "AB", "")
	assert.ErrorIs(t, err, ErrTooFewSources)
}

func TestApproveMergeAppliesOnce(t *testing.T) {
	tree, gk := newGatedTree(t)
	a := tree.FindOrCreate([]string{"A"})
	b := tree.FindOrCreate([]string{"B"})
	_, err := tree.ReassignFile("f1", "/a", "a", []string{"A"}, 0.5, SourceFilename)
	require.NoError(t, err)

	s, err := gk.RegisterMerge([]string{a.ID, b.ID}, "AB", "similar themes")
	require.NoError(t, err)

	merged, err := gk.ApproveMerge(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "AB", merged.Name)
	assert.Len(t, merged.Files, 1)

	// Sources are gone.
	_, ok := tree.NodeByID(a.ID)
	assert.False(t, ok)
	_, ok = tree.NodeByID(b.ID)
	assert.False(t, ok)

	// Double-apply is a programmer error, surfaced loudly.
	_, err = gk.ApproveMerge(s.ID)
	assert.ErrorIs(t, err, ErrSuggestionProcessed)
}

func TestApproveUnknownSuggestion(t *testing.T) {
	_, gk := newGatedTree(t)
	_, err := gk.ApproveMerge("nope")
	assert.ErrorIs(t, err, ErrSuggestionNotFound)
	err = gk.RejectSplit("nope")
	assert.ErrorIs(t, err, ErrSuggestionNotFound)
}

func TestAutomaticMergeVetoedByGuardrails(t *testing.T) {
	tree, gk := newGatedTree(t)
	a := tree.FindOrCreate([]string{"A"})
	b := tree.FindOrCreate([]string{"B"})
	require.NoError(t, tree.MarkUserEdited(a.ID))

	s, err := gk.RegisterMerge([]string{a.ID, b.ID}, "AB", "")
	require.NoError(t, err)
	// Advisory warning recorded at registration.
	assert.NotEmpty(t, s.Warnings)

	_, err = gk.ApplyAutomaticMerge(s.ID)
	assert.ErrorIs(t, err, ErrUserEditedNode)

	// Veto is terminal for the suggestion and leaves the tree untouched.
	got, _ := gk.MergeSuggestionByID(s.ID)
	assert.Equal(t, SuggestionRejected, got.Status)
	_, ok := tree.NodeByID(a.ID)
	assert.True(t, ok)
	_, ok = tree.NodeByID(b.ID)
	assert.True(t, ok)
}

func TestExplicitApprovalOverridesGuardrails(t *testing.T) {
	tree, gk := newGatedTree(t)
	a := tree.FindOrCreate([]string{"A"})
	b := tree.FindOrCreate([]string{"B"})
	require.NoError(t, tree.MarkUserEdited(a.ID))

	s, err := gk.RegisterMerge([]string{a.ID, b.ID}, "AB", "")
	require.NoError(t, err)

	merged, err := gk.ApproveMerge(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "AB", merged.Name)
}

func TestAutomaticSplitVeto(t *testing.T) {
	tree, gk := newGatedTree(t)
	n := tree.FindOrCreate([]string{"Docs"})
	require.NoError(t, tree.MarkUserEdited(n.ID))

	s, err := gk.RegisterSplit(n.ID, []string{"Work", "Home"}, "")
	require.NoError(t, err)

	_, err = gk.ApplyAutomaticSplit(s.ID)
	assert.ErrorIs(t, err, ErrUserEditedNode)

	docs, _ := tree.NodeByID(n.ID)
	assert.Empty(t, docs.ChildIDs)
}

func TestApproveSplit(t *testing.T) {
	tree, gk := newGatedTree(t)
	n := tree.FindOrCreate([]string{"Docs"})

	s, err := gk.RegisterSplit(n.ID, []string{"Work", "Home"}, "")
	require.NoError(t, err)

	created, err := gk.ApproveSplit(s.ID)
	require.NoError(t, err)
	assert.Len(t, created, 2)

	docs, _ := tree.NodeByID(n.ID)
	assert.Len(t, docs.ChildIDs, 2)
}

type recordingStore struct {
	merges   []MergeSuggestion
	splits   []SplitSuggestion
	statuses map[string]SuggestionStatus
	err      error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{statuses: make(map[string]SuggestionStatus)}
}

func (r *recordingStore) SaveMergeSuggestion(s *MergeSuggestion) error {
	r.merges = append(r.merges, *s)
	return r.err
}

func (r *recordingStore) SaveSplitSuggestion(s *SplitSuggestion) error {
	r.splits = append(r.splits, *s)
	return r.err
}

func (r *recordingStore) UpdateSuggestionStatus(id string, status SuggestionStatus) error {
	r.statuses[id] = status
	return r.err
}

func TestSuggestionLifecyclePersisted(t *testing.T) {
	tree, gk := newGatedTree(t)
	rec := newRecordingStore()
	gk.SetStore(rec)

	a := tree.FindOrCreate([]string{"A"})
	b := tree.FindOrCreate([]string{"B"})

	s, err := gk.RegisterMerge([]string{a.ID, b.ID}, "AB", "")
	require.NoError(t, err)
	require.Len(t, rec.merges, 1)
	assert.Equal(t, SuggestionPending, rec.merges[0].Status)

	_, err = gk.ApproveMerge(s.ID)
	require.NoError(t, err)
	assert.Equal(t, SuggestionApplied, rec.statuses[s.ID])

	docs := tree.FindOrCreate([]string{"Docs"})
	sp, err := gk.RegisterSplit(docs.ID, []string{"Work", "Home"}, "")
	require.NoError(t, err)
	require.Len(t, rec.splits, 1)
	assert.Equal(t, SuggestionPending, rec.splits[0].Status)

	require.NoError(t, gk.RejectSplit(sp.ID))
	assert.Equal(t, SuggestionRejected, rec.statuses[sp.ID])
}

func TestGuardrailVetoPersistedAsRejected(t *testing.T) {
	tree, gk := newGatedTree(t)
	rec := newRecordingStore()
	gk.SetStore(rec)

	a := tree.FindOrCreate([]string{"A"})
	b := tree.FindOrCreate([]string{"B"})
	require.NoError(t, tree.MarkUserEdited(a.ID))

	s, err := gk.RegisterMerge([]string{a.ID, b.ID}, "AB", "")
	require.NoError(t, err)

	_, err = gk.ApplyAutomaticMerge(s.ID)
	require.ErrorIs(t, err, ErrUserEditedNode)
	assert.Equal(t, SuggestionRejected, rec.statuses[s.ID])
}

func TestStoreFailureDoesNotBlockDecision(t *testing.T) {
	tree, gk := newGatedTree(t)
	rec := newRecordingStore()
	rec.err = errors.New("disk full")
	gk.SetStore(rec)

	a := tree.FindOrCreate([]string{"A"})
	b := tree.FindOrCreate([]string{"B"})

	s, err := gk.RegisterMerge([]string{a.ID, b.ID}, "AB", "")
	require.NoError(t, err)

	merged, err := gk.ApproveMerge(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "AB", merged.Name)

	got, _ := gk.MergeSuggestionByID(s.ID)
	assert.Equal(t, SuggestionApplied, got.Status)
}

func TestGuardrailsDisabled(t *testing.T) {
	tree := NewTree("Files")
	guard := NewGuardrails(tree, false)
	n := tree.FindOrCreate([]string{"A"})
	require.NoError(t, tree.MarkUserEdited(n.ID))

	assert.NoError(t, guard.Check(n.ID))
	// Warnings stay advisory even when enforcement is off.
	assert.NotEmpty(t, guard.Warnings(n.ID))
}
