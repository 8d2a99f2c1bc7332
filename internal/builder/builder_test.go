package builder

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxod/internal/config"
	"taxod/internal/scan"
	"taxod/internal/taxonomy"
)

// scriptedClient answers prompts by keyword matching, the way refinement
// prompts are shaped. Unmatched prompts echo a no-op.
type scriptedClient struct {
	renameFn func(prompt string) string
	mergeFn  func(prompt string) string
	jsonFn   func(prompt string) string
	calls    int32
	err      error
}

func (m *scriptedClient) Complete(_ context.Context, prompt string) (string, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.err != nil {
		return "", m.err
	}
	if strings.Contains(prompt, "combine") && m.mergeFn != nil {
		return m.mergeFn(prompt), nil
	}
	if m.renameFn != nil {
		return m.renameFn(prompt), nil
	}
	return NoMergesSentinel, nil
}

func (m *scriptedClient) CompleteWithSystem(ctx context.Context, _, user string) (string, error) {
	return m.Complete(ctx, user)
}

func (m *scriptedClient) CompleteJSON(_ context.Context, prompt string) (string, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.jsonFn != nil {
		return m.jsonFn(prompt), nil
	}
	return "{}", nil
}

func records(names ...string) []scan.FileRecord {
	out := make([]scan.FileRecord, 0, len(names))
	for _, n := range names {
		out = append(out, scan.FileRecord{
			ID:   uuid.NewString(),
			Name: n,
			Path: "/files/" + n,
		})
	}
	return out
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Clustering.MinFilesPerTheme = 1
	cfg.Clustering.TargetThemeCount = 4
	return *cfg
}

func TestBuildInstantNoFiles(t *testing.T) {
	b := New(testConfig(), nil)
	_, err := b.BuildInstant(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestBuildInstant(t *testing.T) {
	b := New(testConfig(), nil)
	tree, err := b.BuildInstant(context.Background(), records(
		"magic_trick_1.mp4", "card_trick.pdf", "recipe_pasta.txt",
	))
	require.NoError(t, err)

	assert.Equal(t, 3, tree.FileCount())
	_, ok := tree.NodeByPath([]string{"Magic"})
	assert.True(t, ok)
	_, ok = tree.NodeByPath([]string{"Recipes"})
	assert.True(t, ok)
}

func TestBuildInstantFlagsLowConfidence(t *testing.T) {
	// Default MinFilesPerTheme (3) keeps these singletons unpromoted.
	b := New(*config.DefaultConfig(), nil)
	tree, err := b.BuildInstant(context.Background(), records("zzqqx.bin", "wwvvy.dat"))
	require.NoError(t, err)

	unc, ok := tree.NodeByPath([]string{"Uncategorized"})
	require.True(t, ok)
	require.NotEmpty(t, unc.Files)
	for _, f := range unc.Files {
		assert.True(t, f.NeedsDeepAnalysis)
		assert.Less(t, f.Confidence, 0.5)
	}
}

func TestBuildInstantIsFast(t *testing.T) {
	var names []string
	for i := 0; i < 2000; i++ {
		names = append(names, fmt.Sprintf("doc_%d_invoice.pdf", i))
	}
	b := New(testConfig(), nil)

	start := time.Now()
	tree, err := b.BuildInstant(context.Background(), records(names...))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 2000, tree.FileCount())
}

func TestStartRefinementIdempotent(t *testing.T) {
	release := make(chan struct{})
	client := &scriptedClient{renameFn: func(string) string {
		<-release
		return "Whatever"
	}}

	b := New(testConfig(), client)
	tree, err := b.BuildInstant(context.Background(), records("magic_trick.mp4", "card_trick.pdf"))
	require.NoError(t, err)
	gate := taxonomy.NewGatekeeper(tree, taxonomy.NewGuardrails(tree, true))

	require.NoError(t, b.StartRefinement(context.Background(), tree, gate))
	err = b.StartRefinement(context.Background(), tree, gate)
	assert.ErrorIs(t, err, ErrRefinementRunning)

	close(release)
	b.Wait()
	assert.False(t, b.IsRefining())

	// A finished pass may be started again.
	require.NoError(t, b.StartRefinement(context.Background(), tree, gate))
	b.Wait()
}

func TestRefinementRenames(t *testing.T) {
	client := &scriptedClient{
		renameFn: func(prompt string) string {
			if strings.Contains(prompt, `"Magic"`) {
				return "Magic Tricks"
			}
			return ""
		},
		mergeFn: func(string) string { return NoMergesSentinel },
	}

	b := New(testConfig(), client)
	tree, err := b.BuildInstant(context.Background(), records("magic_trick.mp4", "card_trick.pdf"))
	require.NoError(t, err)
	gate := taxonomy.NewGatekeeper(tree, taxonomy.NewGuardrails(tree, true))

	require.NoError(t, b.StartRefinement(context.Background(), tree, gate))
	b.Wait()

	n, ok := tree.NodeByPath([]string{"Magic Tricks"})
	require.True(t, ok)
	assert.Equal(t, taxonomy.StateRefined, n.Refinement)
}

func TestRefinementNeverRenamesUserEdited(t *testing.T) {
	client := &scriptedClient{
		renameFn: func(string) string { return "Hijacked" },
		mergeFn:  func(string) string { return NoMergesSentinel },
	}

	b := New(testConfig(), client)
	tree, err := b.BuildInstant(context.Background(), records("magic_trick.mp4", "card_trick.pdf"))
	require.NoError(t, err)
	magic, ok := tree.NodeByPath([]string{"Magic"})
	require.True(t, ok)
	require.NoError(t, tree.MarkUserEdited(magic.ID))
	gate := taxonomy.NewGatekeeper(tree, taxonomy.NewGuardrails(tree, true))

	require.NoError(t, b.StartRefinement(context.Background(), tree, gate))
	b.Wait()

	got, _ := tree.NodeByID(magic.ID)
	assert.Equal(t, "Magic", got.Name)
	assert.Equal(t, taxonomy.StateUserEdited, got.Refinement)
}

func TestRefinementMergesSmallCategories(t *testing.T) {
	client := &scriptedClient{
		renameFn: func(string) string { return "" },
		mergeFn: func(prompt string) string {
			require.Contains(t, prompt, "Magic")
			require.Contains(t, prompt, "Recipes")
			return "Magic + Recipes -> Hobbies"
		},
	}

	b := New(testConfig(), client)
	tree, err := b.BuildInstant(context.Background(), records(
		"magic_trick.mp4", "card_trick.pdf", "recipe_pasta.txt",
	))
	require.NoError(t, err)
	gate := taxonomy.NewGatekeeper(tree, taxonomy.NewGuardrails(tree, true))

	require.NoError(t, b.StartRefinement(context.Background(), tree, gate))
	b.Wait()

	merged, ok := tree.NodeByPath([]string{"Hobbies"})
	require.True(t, ok)
	assert.Len(t, merged.Files, 3)
	_, ok = tree.NodeByPath([]string{"Magic"})
	assert.False(t, ok)
}

func TestRefinementMergeVetoedOnUserEdited(t *testing.T) {
	client := &scriptedClient{
		renameFn: func(string) string { return "" },
		mergeFn:  func(string) string { return "Magic + Recipes -> Hobbies" },
	}

	b := New(testConfig(), client)
	tree, err := b.BuildInstant(context.Background(), records(
		"magic_trick.mp4", "card_trick.pdf", "recipe_pasta.txt",
	))
	require.NoError(t, err)
	magic, _ := tree.NodeByPath([]string{"Magic"})
	require.NoError(t, tree.MarkUserEdited(magic.ID))
	gate := taxonomy.NewGatekeeper(tree, taxonomy.NewGuardrails(tree, true))

	require.NoError(t, b.StartRefinement(context.Background(), tree, gate))
	b.Wait()

	// Guardrails hold: sources untouched, no merged node.
	_, ok := tree.NodeByPath([]string{"Hobbies"})
	assert.False(t, ok)
	got, _ := tree.NodeByID(magic.ID)
	assert.Len(t, got.Files, 2)
}

func TestRefinementSubstructure(t *testing.T) {
	cfg := testConfig()
	cfg.Refinement.SubstructureThreshold = 3

	var names []string
	for i := 0; i < 3; i++ {
		names = append(names, fmt.Sprintf("magic_show_%d.mp4", i))
	}
	names = append(names, "recipe_pasta.txt", "recipe_soup.txt")

	client := &scriptedClient{
		renameFn: func(string) string { return "" },
		mergeFn:  func(string) string { return "Magic + Recipes -> Hobbies" },
		jsonFn: func(string) string {
			return `{"subcategories":[
				{"name":"Shows","files":["magic_show_0.mp4","magic_show_1.mp4","magic_show_2.mp4"]},
				{"name":"Cooking","files":["recipe_pasta.txt","recipe_soup.txt"]}
			]}`
		},
	}

	b := New(cfg, client)
	tree, err := b.BuildInstant(context.Background(), records(names...))
	require.NoError(t, err)
	gate := taxonomy.NewGatekeeper(tree, taxonomy.NewGuardrails(tree, true))

	require.NoError(t, b.StartRefinement(context.Background(), tree, gate))
	b.Wait()

	shows, ok := tree.NodeByPath([]string{"Hobbies", "Shows"})
	require.True(t, ok)
	assert.Len(t, shows.Files, 3)
	cooking, ok := tree.NodeByPath([]string{"Hobbies", "Cooking"})
	require.True(t, ok)
	assert.Len(t, cooking.Files, 2)
	assert.Equal(t, 5, tree.FileCount())
}

func TestRefinementSubstructureFallsBackFlat(t *testing.T) {
	cfg := testConfig()
	cfg.Refinement.SubstructureThreshold = 2

	client := &scriptedClient{
		renameFn: func(string) string { return "" },
		mergeFn:  func(string) string { return "Magic + Recipes -> Hobbies" },
		jsonFn:   func(string) string { return "```json\nnot valid json" },
	}

	b := New(cfg, client)
	tree, err := b.BuildInstant(context.Background(), records(
		"magic_trick.mp4", "card_trick.pdf", "recipe_pasta.txt",
	))
	require.NoError(t, err)
	gate := taxonomy.NewGatekeeper(tree, taxonomy.NewGuardrails(tree, true))

	require.NoError(t, b.StartRefinement(context.Background(), tree, gate))
	b.Wait()

	merged, ok := tree.NodeByPath([]string{"Hobbies"})
	require.True(t, ok)
	assert.Len(t, merged.Files, 3)
	assert.Empty(t, merged.ChildIDs)
}

func TestStopRefinementAbortsRemainingSteps(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	client := &scriptedClient{renameFn: func(string) string {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return ""
	}}

	b := New(testConfig(), client)
	tree, err := b.BuildInstant(context.Background(), records("magic_trick.mp4", "recipe_pasta.txt"))
	require.NoError(t, err)
	gate := taxonomy.NewGatekeeper(tree, taxonomy.NewGuardrails(tree, true))

	require.NoError(t, b.StartRefinement(context.Background(), tree, gate))
	<-started
	close(block)
	b.StopRefinement()
	assert.False(t, b.IsRefining())
}
