package taxonomy

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreateIdempotent(t *testing.T) {
	tree := NewTree("Files")

	first := tree.FindOrCreate([]string{"Media", "Video"})
	second := tree.FindOrCreate([]string{"Media", "Video"})

	assert.Equal(t, first.ID, second.ID)
	// Intermediate ancestor was created exactly once.
	media, ok := tree.NodeByPath([]string{"Media"})
	require.True(t, ok)
	assert.Len(t, media.ChildIDs, 1)
	assert.Equal(t, 3, tree.NodeCount()) // root, Media, Video
}

func TestFindOrCreateEmptyPathReturnsRoot(t *testing.T) {
	tree := NewTree("Files")
	n := tree.FindOrCreate(nil)
	assert.Equal(t, tree.RootID(), n.ID)
}

func TestReassignFileUniqueness(t *testing.T) {
	tree := NewTree("Files")

	paths := [][]string{
		{"Docs"},
		{"Media", "Video"},
		{"Docs", "Taxes"},
		{"Docs"},
	}
	for i, p := range paths {
		_, err := tree.ReassignFile("file-1", "/tmp/a.pdf", "a.pdf", p, 0.5+float64(i)*0.1, SourceFilename)
		require.NoError(t, err)
	}

	// Exactly one assignment for file-1 anywhere in the tree.
	count := 0
	tree.Walk(func(n *Node, _ int) {
		for _, f := range n.Files {
			if f.FileID == "file-1" {
				count++
			}
		}
	})
	assert.Equal(t, 1, count)

	a, path, ok := tree.AssignmentOf("file-1")
	require.True(t, ok)
	assert.Equal(t, []string{"Docs"}, path)
	assert.InDelta(t, 0.8, a.Confidence, 1e-9)
}

func TestWalkVisitorMayCallTreeMethods(t *testing.T) {
	tree := NewTree("Files")
	tree.FindOrCreate([]string{"Docs", "Taxes"})
	tree.FindOrCreate([]string{"Media"})

	// Pending writers block new readers on an RWMutex, so a visitor
	// taking the read lock would deadlock if Walk still held it.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			tree.FindOrCreate([]string{"Churn", fmt.Sprintf("c%d", i%8)})
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			tree.Walk(func(n *Node, _ int) {
				_ = tree.PathOf(n.ID)
				_ = tree.RootID()
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("walk blocked against a concurrent writer")
	}
	close(stop)
	wg.Wait()
}

func TestRemoveCategoryConservesFiles(t *testing.T) {
	tree := NewTree("Files")
	docs := tree.FindOrCreate([]string{"Docs"})
	tree.FindOrCreate([]string{"Docs", "Taxes"})

	for i := 0; i < 3; i++ {
		_, err := tree.ReassignFile(fmt.Sprintf("f%d", i), "/x", "x", []string{"Docs", "Taxes"}, 0.6, SourceFilename)
		require.NoError(t, err)
	}
	before := tree.FileCount()

	taxes, ok := tree.NodeByPath([]string{"Docs", "Taxes"})
	require.True(t, ok)
	require.NoError(t, tree.RemoveCategory(taxes.ID))

	assert.Equal(t, before, tree.FileCount())
	// Files moved to the removed node's parent.
	parent, ok := tree.NodeByID(docs.ID)
	require.True(t, ok)
	assert.Len(t, parent.Files, 3)
}

func TestRemoveRootFails(t *testing.T) {
	tree := NewTree("Files")
	err := tree.RemoveCategory(tree.RootID())
	assert.ErrorIs(t, err, ErrRootImmutable)
}

func TestMergeCategories(t *testing.T) {
	tree := NewTree("Files")
	src := tree.FindOrCreate([]string{"Vids"})
	dst := tree.FindOrCreate([]string{"Movies"})
	tree.FindOrCreate([]string{"Vids", "Clips"})
	_, err := tree.ReassignFile("f1", "/v.mp4", "v.mp4", []string{"Vids"}, 0.7, SourceFilename)
	require.NoError(t, err)

	require.NoError(t, tree.MergeCategories(src.ID, dst.ID))

	// Source detached, files and children re-homed.
	_, ok := tree.NodeByID(src.ID)
	assert.False(t, ok)
	merged, ok := tree.NodeByID(dst.ID)
	require.True(t, ok)
	assert.Len(t, merged.Files, 1)
	assert.Len(t, merged.ChildIDs, 1)

	_, path, ok := tree.AssignmentOf("f1")
	require.True(t, ok)
	assert.Equal(t, []string{"Movies"}, path)
}

func TestMergeSameNodeIsNoOp(t *testing.T) {
	tree := NewTree("Files")
	n := tree.FindOrCreate([]string{"A"})
	require.NoError(t, tree.MergeCategories(n.ID, n.ID))
	_, ok := tree.NodeByID(n.ID)
	assert.True(t, ok)
}

func TestSplitCategoryCreatesEmptyChildren(t *testing.T) {
	tree := NewTree("Files")
	tree.FindOrCreate([]string{"Docs"})
	_, err := tree.ReassignFile("f1", "/a", "a", []string{"Docs"}, 0.6, SourceFilename)
	require.NoError(t, err)

	created, err := tree.SplitCategory([]string{"Docs"}, []string{"Work", "Personal"})
	require.NoError(t, err)
	require.Len(t, created, 2)

	// Existing files stay on the parent until explicitly reassigned.
	docs, _ := tree.NodeByPath([]string{"Docs"})
	assert.Len(t, docs.Files, 1)
	for _, c := range created {
		assert.Empty(t, c.Files)
	}
}

func TestAutoRenameRespectsUserEdit(t *testing.T) {
	tree := NewTree("Files")
	n := tree.FindOrCreate([]string{"misc stuff"})
	require.NoError(t, tree.MarkUserEdited(n.ID))

	err := tree.AutoRename(n.ID, "Miscellaneous")
	assert.ErrorIs(t, err, ErrUserEditedNode)

	// User rename still works, and the lock never clears.
	require.NoError(t, tree.RenameCategory(n.ID, "My Stuff"))
	got, _ := tree.NodeByID(n.ID)
	assert.Equal(t, "My Stuff", got.Name)
	assert.Equal(t, StateUserEdited, got.Refinement)
}

func TestModifiedAtBumpsOnMutation(t *testing.T) {
	tree := NewTree("Files")
	before := tree.ModifiedAt()
	tree.FindOrCreate([]string{"New"})
	assert.True(t, tree.ModifiedAt().After(before) || tree.ModifiedAt().Equal(before))

	_, err := tree.ReassignFile("f1", "/a", "a", []string{"New"}, 0.5, SourceFilename)
	require.NoError(t, err)
	assert.False(t, tree.ModifiedAt().Before(before))
}

func TestSnapshotRoundTrip(t *testing.T) {
	tree := NewTree("Files")
	tree.FindOrCreate([]string{"Docs", "Taxes"})
	_, err := tree.ReassignFile("f1", "/t.pdf", "t.pdf", []string{"Docs", "Taxes"}, 0.9, SourceContent)
	require.NoError(t, err)
	n, _ := tree.NodeByPath([]string{"Docs"})
	require.NoError(t, tree.MarkUserEdited(n.ID))

	snap := tree.Snapshot()
	rebuilt, err := FromSnapshot(snap)
	require.NoError(t, err)

	if diff := cmp.Diff(snap, rebuilt.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	// Index was rebuilt: reassignment still enforces uniqueness.
	_, _, ok := rebuilt.AssignmentOf("f1")
	assert.True(t, ok)
}

func TestFromSnapshotRejectsEmpty(t *testing.T) {
	_, err := FromSnapshot(nil)
	assert.Error(t, err)
	_, err = FromSnapshot(&Snapshot{})
	assert.Error(t, err)
}
