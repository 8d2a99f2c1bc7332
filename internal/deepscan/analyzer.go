package deepscan

import (
	"context"
	"fmt"
	"strings"

	"taxod/internal/logging"
	"taxod/internal/perception"
	"taxod/internal/scan"
	"taxod/internal/taxonomy"
)

// filenameOnlyCap bounds confidence when the inspector yields no content
// signal and the proposal rests on the name alone.
const filenameOnlyCap = 0.5

// FileAnalyzer produces a category proposal for one file.
type FileAnalyzer interface {
	Analyze(ctx context.Context, file scan.FileRecord, existingCategories []string) (*Proposal, error)
}

// PatternStore is consulted before any LLM call: placements the system has
// already learned for similar names. Implemented by the repository.
type PatternStore interface {
	LookupPattern(nameKey string) (categoryPath []string, confidence float64, ok bool)
}

// Analyzer is the production FileAnalyzer: inspector signals plus one LLM
// call. Inspector failure is "insufficient signal", not an error — the
// analysis proceeds filename-only with capped confidence.
type Analyzer struct {
	inspector perception.Inspector
	client    perception.LLMClient
	patterns  PatternStore // optional
}

// NewAnalyzer creates an analyzer. patterns may be nil.
func NewAnalyzer(inspector perception.Inspector, client perception.LLMClient, patterns PatternStore) *Analyzer {
	return &Analyzer{inspector: inspector, client: client, patterns: patterns}
}

// Analyze inspects the file, consults learned patterns, and asks the LLM
// for a placement among (or beyond) the existing categories.
func (a *Analyzer) Analyze(ctx context.Context, file scan.FileRecord, existingCategories []string) (*Proposal, error) {
	if a.patterns != nil {
		if path, conf, ok := a.patterns.LookupPattern(patternKey(file.Name)); ok {
			logging.DeepScan("pattern hit for %s -> %s", file.Name, strings.Join(path, "/"))
			return &Proposal{
				CategoryPath: path,
				Confidence:   conf,
				Reasoning:    "learned pattern",
				Source:       taxonomy.SourceMemory,
			}, nil
		}
	}

	signals, err := a.inspector.Inspect(ctx, perception.FileRef{
		ID:          file.ID,
		Path:        file.Path,
		DisplayName: file.Name,
	})
	filenameOnly := false
	if err != nil {
		logging.DeepScanWarn("inspect %s: %v (continuing filename-only)", file.Name, err)
		signals = perception.Signals{}
		filenameOnly = true
	}
	if signals.TextCue == "" && len(signals.SceneTags) == 0 && len(signals.DetectedObjects) == 0 {
		filenameOnly = true
	}

	resp, err := a.client.CompleteJSON(ctx, analysisPrompt(file, signals, existingCategories))
	if err != nil {
		return nil, fmt.Errorf("analysis call: %w", err)
	}

	var p Proposal
	if err := perception.DecodeJSON(resp, &p); err != nil {
		return nil, err
	}
	if len(p.CategoryPath) == 0 {
		return nil, fmt.Errorf("analysis returned no category path")
	}
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}
	if filenameOnly && p.Confidence > filenameOnlyCap {
		p.Confidence = filenameOnlyCap
	}
	p.Source = taxonomy.SourceContent
	return &p, nil
}

func analysisPrompt(file scan.FileRecord, sig perception.Signals, existing []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Categorize this file into a folder hierarchy.\n\nFile: %s\n", file.Name)
	if sig.TextCue != "" {
		fmt.Fprintf(&sb, "Extracted text: %s\n", sig.TextCue)
	}
	if len(sig.SceneTags) > 0 {
		fmt.Fprintf(&sb, "Scene tags: %s\n", strings.Join(sig.SceneTags, ", "))
	}
	if len(sig.DetectedObjects) > 0 {
		fmt.Fprintf(&sb, "Detected objects: %s\n", strings.Join(sig.DetectedObjects, ", "))
	}
	if sig.DurationSeconds > 0 {
		fmt.Fprintf(&sb, "Duration: %.0fs\n", sig.DurationSeconds)
	}
	if len(existing) > 0 {
		fmt.Fprintf(&sb, "\nExisting categories (prefer these when they fit):\n%s\n", strings.Join(existing, "\n"))
	}
	sb.WriteString(`
Reply with JSON only:
{"category_path":["Top","Sub"],"confidence":0.0,"reasoning":"one sentence"}`)
	return sb.String()
}

// patternKey normalizes a filename for learned-pattern lookup.
func patternKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
