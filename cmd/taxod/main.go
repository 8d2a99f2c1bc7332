package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taxod/internal/builder"
	"taxod/internal/cluster"
	"taxod/internal/config"
	"taxod/internal/deepscan"
	"taxod/internal/logging"
	"taxod/internal/perception"
	"taxod/internal/scan"
	"taxod/internal/store"
	"taxod/internal/taxonomy"
)

var (
	// Global flags
	verbose   bool
	apiKey    string
	workspace string
	timeout   time.Duration

	// Build flags
	refineFlag bool
	saveFlag   bool

	// Analyze flags
	retryFlag bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "taxod",
	Short: "taxod - hierarchical file taxonomy daemon",
	Long: `taxod infers a folder taxonomy over a pile of files in two phases:

  Phase 1 (instant): keyword extraction and theme clustering produce a
  usable tree in milliseconds, no network calls.
  Phase 2 (refinement): an LLM renames vague categories, merges small
  ones through the gatekeeper, and proposes substructure.

Low-confidence placements are re-evaluated in the background by the
deep-analysis task manager. User edits are never overwritten.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		if err := logging.Initialize(ws); err != nil {
			logger.Warn("Category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// buildCmd runs the instant phase-1 build over a directory
var buildCmd = &cobra.Command{
	Use:   "build [directory]",
	Short: "Build an instant taxonomy over a directory",
	Long: `Scans the directory and builds the phase-1 taxonomy from filename
keywords and theme clustering. This phase never calls the LLM.

With --refine, phase 2 runs afterwards: LLM-driven renames, gatekeeper
merges, and substructure proposals.

Example:
  taxod build ~/Downloads --refine --save`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

// analyzeCmd re-evaluates low-confidence placements
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Deep-analyze low-confidence file placements",
	Long: `Loads the latest saved taxonomy, enqueues every file flagged for
deep analysis (or at/below the confidence threshold), and runs the
task manager until the queue drains. Progress streams to stdout.

Recategorization only happens when the analyzer is strictly more
confident than the original placement; user-approved placements are
never touched.`,
	RunE: runAnalyze,
}

// watchCmd follows a directory and analyzes new files as they land
var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Watch a directory and categorize new files",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

// statusCmd shows persisted state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show saved taxonomy and task ledger summary",
	RunE:  showStatus,
}

// configCmd groups config subcommands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage taxod configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config to .taxod/config.yaml",
	RunE:  configInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  configShow,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "LLM API key (or set OPENAI_API_KEY / GEMINI_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	buildCmd.Flags().BoolVar(&refineFlag, "refine", false, "Run LLM refinement after the instant build")
	buildCmd.Flags().BoolVar(&saveFlag, "save", true, "Persist the resulting tree snapshot")

	analyzeCmd.Flags().BoolVar(&retryFlag, "retry-failed", false, "Requeue failed tasks from the previous run")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the workspace and loads .taxod/config.yaml from it.
func loadConfig() (*config.Config, string, error) {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	cfg, err := config.Load(filepath.Join(ws, ".taxod", "config.yaml"))
	if err != nil {
		return nil, "", err
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if !filepath.IsAbs(cfg.Store.DatabasePath) {
		cfg.Store.DatabasePath = filepath.Join(ws, cfg.Store.DatabasePath)
	}
	return cfg, ws, nil
}

// newScheduledClient builds the LLM client behind the slot scheduler.
func newScheduledClient(ctx context.Context, cfg *config.Config) (perception.LLMClient, *perception.SlotScheduler, error) {
	raw, err := perception.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	scfg := perception.DefaultSlotSchedulerConfig()
	if cfg.LLM.MaxConcurrentCalls > 0 {
		scfg.MaxConcurrentCalls = cfg.LLM.MaxConcurrentCalls
	}
	sched := perception.NewSlotScheduler(scfg)
	return perception.NewScheduledClient(raw, sched), sched, nil
}

// runBuild executes the two-phase build pipeline
func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid directory: %w", err)
	}

	logger.Info("Scanning directory", zap.String("path", root))
	scanner := scan.NewScanner(scan.DefaultScannerConfig())
	files, err := scanner.ScanDirectory(ctx, root)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	logger.Info("Scan complete", zap.Int("files", len(files)))

	// Phase 2 needs a client; phase 1 does not. Build it lazily so the
	// instant build works with no API key at all.
	var client perception.LLMClient
	var sched *perception.SlotScheduler
	if refineFlag {
		client, sched, err = newScheduledClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("LLM client: %w", err)
		}
		defer sched.Stop()
	}

	b := builder.New(*cfg, client)
	start := time.Now()
	tree, err := b.BuildInstant(ctx, files)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	logger.Info("Instant build complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("categories", tree.NodeCount()-1),
		zap.Int("files", tree.FileCount()))

	printTree(tree)

	// Open the repository before refinement so suggestion decisions are
	// written through as they happen, not just the final snapshot.
	var repo *store.Repository
	if saveFlag {
		repo, err = store.NewRepository(cfg.Store.DatabasePath)
		if err != nil {
			return fmt.Errorf("open repository: %w", err)
		}
		defer repo.Close()
	}

	if refineFlag {
		guard := taxonomy.NewGuardrails(tree, true)
		gate := taxonomy.NewGatekeeper(tree, guard)
		if repo != nil {
			gate.SetStore(repo)
		}
		fmt.Println("\nRefining with LLM (Ctrl+C to stop)...")
		if err := b.StartRefinement(ctx, tree, gate); err != nil {
			return fmt.Errorf("refinement: %w", err)
		}
		b.Wait()
		fmt.Println("Refinement complete.")
		printTree(tree)
	}

	if repo != nil {
		id, err := repo.SaveSnapshot(tree.Snapshot())
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		if _, err := repo.PruneSnapshots(10); err != nil {
			logger.Warn("Snapshot pruning failed", zap.Error(err))
		}
		logger.Info("Snapshot saved", zap.Int64("id", id))
	}
	return nil
}

// runAnalyze drains the deep-analysis queue over the saved tree
func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := store.NewRepository(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	snap, err := repo.LoadLatestSnapshot()
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no saved taxonomy; run 'taxod build' first")
	}
	if err != nil {
		return err
	}
	tree, err := taxonomy.FromSnapshot(snap)
	if err != nil {
		return err
	}

	client, sched, err := newScheduledClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("LLM client: %w", err)
	}
	defer sched.Stop()

	analyzer := deepscan.NewAnalyzer(perception.FilenameInspector{}, client, repo)
	mgr := deepscan.NewTaskManager(cfg.Analysis, analyzer, tree, repo)

	candidates := analysisCandidates(tree, cfg.Analysis.ConfidenceThreshold)
	if len(candidates) == 0 && !retryFlag {
		fmt.Println("Nothing to analyze: no low-confidence placements.")
		return nil
	}
	for _, c := range candidates {
		if _, err := mgr.Enqueue(c.file, c.confidence, c.path, deepscan.PriorityNormal, c.userApproved); err != nil {
			return fmt.Errorf("enqueue %s: %w", c.file.Name, err)
		}
	}
	logger.Info("Enqueued analysis tasks", zap.Int("count", len(candidates)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nStopping analysis...")
		mgr.Stop()
	}()

	if err := mgr.Start(ctx); err != nil {
		return err
	}

	for st := range streamUntilDone(ctx, mgr) {
		fmt.Printf("\r%d queued, %d running, %d done, %d failed (%.0f%%, ~%s left)   ",
			st.Queued, st.Running, st.Completed, st.Failed,
			st.Progress*100, st.EstimatedRemaining.Round(time.Second))
	}
	fmt.Println()

	if retryFlag {
		if n := mgr.RetryFailed(); n > 0 {
			fmt.Printf("Retrying %d failed tasks...\n", n)
			if err := mgr.Start(ctx); err == nil {
				for range streamUntilDone(ctx, mgr) {
				}
			}
		}
	}

	final := mgr.GetStatus()
	fmt.Printf("Analysis finished: %d completed, %d failed, %d cancelled\n",
		final.Completed, final.Failed, final.Cancelled)

	sm := sched.Metrics()
	fmt.Printf("LLM calls: %d total, avg wait %s, peak concurrency %d\n",
		sm.TotalCalls, sm.AverageWait.Round(time.Millisecond), sm.MaxConcurrent)

	// Learned placements feed the pattern table for next time.
	for _, t := range mgr.Ledger() {
		if t.Status == deepscan.TaskCompleted && t.Recategorized && t.Result != nil {
			key := strings.ToLower(strings.TrimSpace(t.File.Name))
			if err := repo.UpsertPattern(key, t.Result.CategoryPath, t.Result.Confidence); err != nil {
				logger.Warn("Pattern upsert failed", zap.String("file", t.File.Name), zap.Error(err))
			}
		}
	}

	if _, err := repo.SaveSnapshot(tree.Snapshot()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// runWatch follows a directory, placing new files as they appear
func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid directory: %w", err)
	}

	repo, err := store.NewRepository(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	// Resume from the last snapshot when one exists, otherwise start
	// from a fresh instant build of what's already there.
	var tree *taxonomy.Tree
	snap, err := repo.LoadLatestSnapshot()
	switch {
	case err == nil:
		tree, err = taxonomy.FromSnapshot(snap)
		if err != nil {
			return err
		}
		logger.Info("Resumed saved taxonomy", zap.Int("files", tree.FileCount()))
	case errors.Is(err, store.ErrNotFound):
		scanner := scan.NewScanner(scan.DefaultScannerConfig())
		files, err := scanner.ScanDirectory(ctx, root)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		b := builder.New(*cfg, nil)
		tree, err = b.BuildInstant(ctx, files)
		if err != nil && !errors.Is(err, builder.ErrNoFiles) {
			return fmt.Errorf("build failed: %w", err)
		}
		if tree == nil {
			tree = taxonomy.NewTree("Files")
		}
	default:
		return err
	}

	client, sched, err := newScheduledClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("LLM client: %w", err)
	}
	defer sched.Stop()

	analyzer := deepscan.NewAnalyzer(perception.FilenameInspector{}, client, repo)
	mgr := deepscan.NewTaskManager(cfg.Analysis, analyzer, tree, repo)

	watcher, err := scan.NewWatcher(root)
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("watcher start: %w", err)
	}
	defer watcher.Stop()

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", root)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case rec := <-watcher.Events():
			logger.Info("New file", zap.String("name", rec.Name))
			// Instant placement first, deep analysis behind it.
			assignment, err := tree.ReassignFile(rec.ID, rec.Path, rec.Name,
				[]string{cluster.UncategorizedTheme}, 0.3, taxonomy.SourceFilename)
			if err != nil {
				logger.Warn("Placement failed", zap.String("file", rec.Name), zap.Error(err))
				continue
			}
			tree.FlagForDeepAnalysis(assignment.FileID)
			if _, err := mgr.Enqueue(rec, assignment.Confidence,
				[]string{cluster.UncategorizedTheme}, deepscan.PriorityHigh, false); err != nil {
				logger.Warn("Enqueue failed", zap.String("file", rec.Name), zap.Error(err))
				continue
			}
			if !mgr.IsRunning() {
				if err := mgr.Start(ctx); err != nil && !errors.Is(err, deepscan.ErrAlreadyStarted) {
					logger.Error("Task manager start failed", zap.Error(err))
				}
			}
		case <-sigCh:
			fmt.Println("\nShutting down...")
			mgr.Stop()
			if _, err := repo.SaveSnapshot(tree.Snapshot()); err != nil {
				logger.Error("Final snapshot failed", zap.Error(err))
			}
			return nil
		case <-ctx.Done():
			mgr.Stop()
			return ctx.Err()
		}
	}
}

// showStatus prints the persisted taxonomy and ledger summary
func showStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := store.NewRepository(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	snap, err := repo.LoadLatestSnapshot()
	if errors.Is(err, store.ErrNotFound) {
		fmt.Println("No saved taxonomy. Run 'taxod build <dir>' to create one.")
		return nil
	}
	if err != nil {
		return err
	}
	tree, err := taxonomy.FromSnapshot(snap)
	if err != nil {
		return err
	}

	fmt.Printf("Taxonomy: %d categories, %d files, depth %d (saved %s)\n",
		tree.NodeCount()-1, tree.FileCount(), tree.MaxDepth(),
		snap.ModifiedAt.Format(time.RFC3339))
	printTree(tree)

	counts, err := repo.CountTasksByStatus()
	if err != nil {
		return err
	}
	if len(counts) > 0 {
		fmt.Println("\nDeep-analysis ledger:")
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-10s %d\n", k, counts[k])
		}
	}

	tasks, err := repo.ListTasks(10)
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		fmt.Println("\nRecent tasks:")
		for _, t := range tasks {
			line := fmt.Sprintf("  %-10s %s", t.Status, t.File.Name)
			if t.Recategorized && t.Result != nil {
				line += " -> " + strings.Join(t.Result.CategoryPath, "/")
			}
			fmt.Println(line)
		}
	}

	pending, err := repo.PendingMergeSuggestions()
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		fmt.Println("\nPending merge suggestions:")
		for _, s := range pending {
			fmt.Printf("  %s: %d sources -> %q (%s)\n",
				s.ID, len(s.SourceIDs), s.TargetName, s.Reason)
		}
	}
	return nil
}

// configInit writes the default config
func configInit(cmd *cobra.Command, args []string) error {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	path := filepath.Join(ws, ".taxod", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

// configShow prints the effective config as YAML
func configShow(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("# workspace: %s\n", ws)
	fmt.Printf("name: %s\nversion: %s\n", cfg.Name, cfg.Version)
	fmt.Printf("llm:\n  provider: %s\n  model: %s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Printf("clustering:\n  target_theme_count: %d\n  min_files_per_theme: %d\n",
		cfg.Clustering.TargetThemeCount, cfg.Clustering.MinFilesPerTheme)
	fmt.Printf("analysis:\n  max_concurrent_tasks: %d\n  confidence_threshold: %.2f\n",
		cfg.Analysis.MaxConcurrentTasks, cfg.Analysis.ConfidenceThreshold)
	fmt.Printf("depth:\n  max_depth: %d\n  mode: %s\n", cfg.Depth.MaxDepth, cfg.Depth.Mode)
	fmt.Printf("store:\n  database_path: %s\n", cfg.Store.DatabasePath)
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

type candidate struct {
	file         scan.FileRecord
	confidence   float64
	path         []string
	userApproved bool
}

// analysisCandidates collects assignments flagged for deep analysis or at
// or below the confidence threshold.
func analysisCandidates(tree *taxonomy.Tree, threshold float64) []candidate {
	var out []candidate
	tree.Walk(func(n *taxonomy.Node, _ int) {
		path := tree.PathOf(n.ID)
		for _, f := range n.Files {
			if !f.NeedsDeepAnalysis && f.Confidence > threshold {
				continue
			}
			out = append(out, candidate{
				file:         scan.FileRecord{ID: f.FileID, Name: f.DisplayName, Path: f.Path},
				confidence:   f.Confidence,
				path:         path,
				userApproved: f.Source == taxonomy.SourceUser,
			})
		}
	})
	return out
}

// streamUntilDone relays status snapshots until the manager stops.
func streamUntilDone(ctx context.Context, mgr *deepscan.TaskManager) <-chan deepscan.Status {
	out := make(chan deepscan.Status)
	go func() {
		defer close(out)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case st, ok := <-mgr.StatusEvents():
				if !ok {
					return
				}
				out <- st
				if !st.IsRunning {
					return
				}
			case <-ticker.C:
				if !mgr.IsRunning() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// printTree renders the taxonomy as an indented outline.
func printTree(tree *taxonomy.Tree) {
	fmt.Println()
	tree.Walk(func(n *taxonomy.Node, depth int) {
		if n.ID == tree.RootID() {
			fmt.Printf("%s/\n", n.Name)
			return
		}
		marker := ""
		if n.IsUserEdited() {
			marker = " [user]"
		}
		fmt.Printf("%s%s (%d files, %.2f)%s\n",
			strings.Repeat("  ", depth), n.Name, len(n.Files), n.Confidence, marker)
	})
}
