// Package builder turns scanned files into a taxonomy in two phases:
// an instant, rule-based clustering pass that never touches the network,
// and an asynchronous LLM refinement pass that proposes renames and merges
// through the gatekeeper.
package builder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"taxod/internal/cluster"
	"taxod/internal/config"
	"taxod/internal/keyword"
	"taxod/internal/logging"
	"taxod/internal/perception"
	"taxod/internal/scan"
	"taxod/internal/taxonomy"
)

var (
	// ErrNoFiles is the one fatal build condition: nothing to infer from.
	ErrNoFiles = errors.New("no files provided for taxonomy inference")

	// ErrRefinementRunning guards StartRefinement idempotence.
	ErrRefinementRunning = errors.New("refinement already running")
)

// instantConfidence is the placement confidence for rule-based theme
// matches; uncategorizedConfidence flags files the clusterer gave up on.
const (
	instantConfidence       = 0.6
	uncategorizedConfidence = 0.3
)

// Builder runs both taxonomy phases.
type Builder struct {
	cfg    config.Config
	client perception.LLMClient // nil disables refinement

	mu       sync.Mutex
	refining bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a builder. client may be nil when refinement is disabled.
func New(cfg config.Config, client perception.LLMClient) *Builder {
	return &Builder{cfg: cfg, client: client}
}

// BuildInstant is Phase 1: keyword-extract, cluster, materialize. No LLM
// calls; sub-second for thousands of files. The only failure is an empty
// input set.
func (b *Builder) BuildInstant(ctx context.Context, files []scan.FileRecord) (*taxonomy.Tree, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	defer logging.StartTimer(logging.CategoryBuild, "build_instant").Stop()

	inputs := make([]cluster.File, len(files))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			inputs[i] = cluster.File{
				ID:       f.ID,
				Name:     f.Name,
				Path:     f.Path,
				Keywords: keyword.Extract(f.Name),
			}
			return nil
		})
	}
	_ = g.Wait() // extraction is total, no errors possible

	themes := cluster.Cluster(inputs, b.cfg.Clustering)

	tree := taxonomy.NewTree(b.cfg.Name)
	for _, th := range themes {
		b.materialize(tree, th, nil)
	}

	enforcer := taxonomy.NewDepthEnforcer(b.cfg.Depth)
	if _, err := enforcer.Enforce(tree); err != nil {
		return nil, fmt.Errorf("depth enforcement: %w", err)
	}

	logging.Build("instant taxonomy: %d files, %d categories, depth %d",
		tree.FileCount(), tree.NodeCount()-1, tree.MaxDepth())
	return tree, nil
}

// materialize writes one theme (and recursively its sub-themes) into the
// tree. Sub-theme assignment runs after the parent's so the file-uniqueness
// invariant re-homes shared files to the deeper path.
func (b *Builder) materialize(tree *taxonomy.Tree, th cluster.Theme, parentPath []string) {
	path := append(append([]string(nil), parentPath...), th.Name)
	tree.FindOrCreate(path)

	confidence := instantConfidence
	if th.Name == cluster.UncategorizedTheme {
		confidence = uncategorizedConfidence
	}

	for _, f := range th.Files {
		if _, err := tree.ReassignFile(f.ID, f.Path, f.Name, path, confidence, taxonomy.SourceFilename); err != nil {
			logging.Get(logging.CategoryBuild).Warn("assign %s: %v", f.Name, err)
			continue
		}
		if confidence < b.cfg.Analysis.ConfidenceThreshold {
			tree.FlagForDeepAnalysis(f.ID)
		}
	}
	for _, sub := range th.SubThemes {
		b.materialize(tree, sub, path)
	}
}

// StartRefinement is Phase 2: background LLM-assisted renames, merges, and
// substructure inference, every mutation passing through the gatekeeper.
// Refuses to start while a previous run is live. A cancelled context aborts
// remaining steps without reverting completed ones.
func (b *Builder) StartRefinement(ctx context.Context, tree *taxonomy.Tree, gate *taxonomy.Gatekeeper) error {
	if b.client == nil || !b.cfg.Refinement.Enabled {
		return errors.New("refinement not configured")
	}

	b.mu.Lock()
	if b.refining {
		b.mu.Unlock()
		return ErrRefinementRunning
	}
	b.refining = true
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			b.refining = false
			close(b.done)
			b.mu.Unlock()
		}()
		b.refine(ctx, tree, gate)
	}()
	return nil
}

// StopRefinement cancels a running refinement and waits for it to wind
// down. Completed steps stay applied.
func (b *Builder) StopRefinement() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// IsRefining reports whether Phase 2 is currently live.
func (b *Builder) IsRefining() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refining
}

// Wait blocks until the current refinement pass finishes.
func (b *Builder) Wait() {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (b *Builder) refine(ctx context.Context, tree *taxonomy.Tree, gate *taxonomy.Gatekeeper) {
	defer logging.StartTimer(logging.CategoryRefine, "refinement_pass").Stop()

	b.renamePass(ctx, tree)
	if ctx.Err() != nil {
		logging.Refine("refinement cancelled after rename pass")
		return
	}
	b.mergePass(ctx, tree, gate)
	logging.Refine("refinement pass finished")
}

// renamePass asks the LLM for a better short name per category. Every
// failure is local: log, skip, continue. The user-edited check happens
// again inside AutoRename, under the write lock, so a race with the user
// always favors the user.
func (b *Builder) renamePass(ctx context.Context, tree *taxonomy.Tree) {
	for _, node := range tree.Categories() {
		if ctx.Err() != nil {
			return
		}
		if node.IsUserEdited() || len(node.Files) == 0 {
			continue
		}

		tree.SetRefining(node.ID)
		suggestion, err := b.client.Complete(ctx, renamePrompt(node))
		if err != nil {
			logging.RefineWarn("rename %q: %v", node.Name, err)
			continue
		}
		name := sanitizeName(suggestion, b.cfg.Refinement.MaxNameLength)
		if name == "" || name == node.Name {
			continue
		}
		if err := tree.AutoRename(node.ID, name); err != nil {
			logging.RefineWarn("rename %q -> %q rejected: %v", node.Name, name, err)
			continue
		}
		logging.Refine("renamed %q -> %q", node.Name, name)
	}
}

// mergePass collects small categories, asks the LLM for merge groupings in
// a strict line grammar, and applies each accepted grouping through the
// gatekeeper's automatic path (guardrails can veto).
func (b *Builder) mergePass(ctx context.Context, tree *taxonomy.Tree, gate *taxonomy.Gatekeeper) {
	small := smallCategories(tree, b.cfg.Refinement.SmallCategoryThreshold)
	if len(small) < 2 {
		return
	}

	resp, err := b.client.Complete(ctx, mergePrompt(small))
	if err != nil {
		logging.RefineWarn("merge suggestion call: %v", err)
		return
	}

	directives := ParseMergeLines(resp)
	if len(directives) == 0 {
		logging.Refine("no merges suggested")
		return
	}

	byName := make(map[string]string, len(small))
	for _, n := range small {
		byName[n.Name] = n.ID
	}

	for _, d := range directives {
		if ctx.Err() != nil {
			return
		}
		var ids []string
		for _, src := range d.Sources {
			if id, ok := byName[src]; ok {
				ids = append(ids, id)
			}
		}
		if len(ids) < 2 {
			logging.RefineWarn("merge %v: fewer than 2 resolvable sources, skipping", d.Sources)
			continue
		}
		target := sanitizeName(d.Target, b.cfg.Refinement.MaxNameLength)
		if target == "" {
			continue
		}

		s, err := gate.RegisterMerge(ids, target, "small-category consolidation")
		if err != nil {
			logging.RefineWarn("register merge %v: %v", d.Sources, err)
			continue
		}
		merged, err := gate.ApplyAutomaticMerge(s.ID)
		if err != nil {
			logging.Guard("merge into %q vetoed: %v", target, err)
			continue
		}
		logging.Refine("merged %v into %q", d.Sources, target)

		if len(merged.Files) > b.cfg.Refinement.SubstructureThreshold {
			b.substructurePass(ctx, tree, merged)
		}
	}
}

// substructurePass asks for sub-categories of a freshly merged node and
// reassigns its files accordingly. Unparseable JSON means flat assignment
// stays — the documented fallback, not an error.
func (b *Builder) substructurePass(ctx context.Context, tree *taxonomy.Tree, merged *taxonomy.Node) {
	resp, err := b.client.CompleteJSON(ctx, substructurePrompt(merged))
	if err != nil {
		logging.RefineWarn("substructure %q: %v", merged.Name, err)
		return
	}

	var plan struct {
		Subcategories []struct {
			Name  string   `json:"name"`
			Files []string `json:"files"`
		} `json:"subcategories"`
	}
	if err := perception.DecodeJSON(resp, &plan); err != nil {
		logging.RefineWarn("substructure %q: unparseable plan, keeping flat: %v", merged.Name, err)
		return
	}

	basePath := tree.PathOf(merged.ID)
	if basePath == nil {
		logging.RefineWarn("substructure: %q vanished, skipping", merged.Name)
		return
	}

	byDisplay := make(map[string]taxonomy.FileAssignment, len(merged.Files))
	for _, f := range merged.Files {
		byDisplay[f.DisplayName] = f
	}

	for _, sub := range plan.Subcategories {
		name := sanitizeName(sub.Name, b.cfg.Refinement.MaxNameLength)
		if name == "" {
			continue
		}
		subPath := append(append([]string(nil), basePath...), name)
		for _, display := range sub.Files {
			f, ok := byDisplay[display]
			if !ok {
				continue
			}
			if _, err := tree.ReassignFile(f.FileID, f.Path, f.DisplayName, subPath, f.Confidence, taxonomy.SourceContent); err != nil {
				logging.RefineWarn("substructure reassign %s: %v", display, err)
			}
		}
	}
	logging.Refine("substructured %q into %d subcategories", merged.Name, len(plan.Subcategories))
}

func smallCategories(tree *taxonomy.Tree, threshold int) []*taxonomy.Node {
	var out []*taxonomy.Node
	for _, n := range tree.Categories() {
		if n.IsUserEdited() || len(n.Files) == 0 {
			continue
		}
		if len(n.Files) < threshold {
			out = append(out, n)
		}
	}
	return out
}
