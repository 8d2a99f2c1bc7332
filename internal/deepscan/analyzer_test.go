package deepscan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxod/internal/perception"
	"taxod/internal/scan"
	"taxod/internal/taxonomy"
)

type cannedLLM struct {
	response string
	err      error
	prompts  []string
}

func (c *cannedLLM) Complete(_ context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.response, c.err
}

func (c *cannedLLM) CompleteWithSystem(ctx context.Context, _, user string) (string, error) {
	return c.Complete(ctx, user)
}

func (c *cannedLLM) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	return c.Complete(ctx, prompt)
}

type failingInspector struct{}

func (failingInspector) Inspect(context.Context, perception.FileRef) (perception.Signals, error) {
	return perception.Signals{}, errors.New("extraction failed")
}

type richInspector struct{}

func (richInspector) Inspect(context.Context, perception.FileRef) (perception.Signals, error) {
	return perception.Signals{
		TextCue:   "quarterly tax filing",
		SceneTags: []string{"document"},
	}, nil
}

func TestAnalyzeParsesProposal(t *testing.T) {
	llm := &cannedLLM{response: "```json\n{\"category_path\":[\"Finance\",\"Taxes\"],\"confidence\":0.85,\"reasoning\":\"tax text\"}\n```"}
	a := NewAnalyzer(richInspector{}, llm, nil)

	p, err := a.Analyze(context.Background(), scan.FileRecord{ID: "f1", Name: "scan_001.pdf"}, []string{"Finance/Taxes"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Finance", "Taxes"}, p.CategoryPath)
	assert.InDelta(t, 0.85, p.Confidence, 1e-9)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "quarterly tax filing")
	assert.Contains(t, llm.prompts[0], "Finance/Taxes")
}

func TestAnalyzeInspectorFailureCapsConfidence(t *testing.T) {
	llm := &cannedLLM{response: `{"category_path":["Docs"],"confidence":0.95}`}
	a := NewAnalyzer(failingInspector{}, llm, nil)

	p, err := a.Analyze(context.Background(), scan.FileRecord{ID: "f1", Name: "mystery.bin"}, nil)
	require.NoError(t, err)

	// Filename-only evidence cannot justify high confidence.
	assert.LessOrEqual(t, p.Confidence, filenameOnlyCap)
}

func TestAnalyzeBadJSONIsError(t *testing.T) {
	llm := &cannedLLM{response: "I think it goes in Documents"}
	a := NewAnalyzer(richInspector{}, llm, nil)

	_, err := a.Analyze(context.Background(), scan.FileRecord{Name: "x.pdf"}, nil)
	assert.Error(t, err)
}

func TestAnalyzeEmptyPathIsError(t *testing.T) {
	llm := &cannedLLM{response: `{"category_path":[],"confidence":0.9}`}
	a := NewAnalyzer(richInspector{}, llm, nil)

	_, err := a.Analyze(context.Background(), scan.FileRecord{Name: "x.pdf"}, nil)
	assert.Error(t, err)
}

type fixedPatterns struct{}

func (fixedPatterns) LookupPattern(nameKey string) ([]string, float64, bool) {
	if nameKey == "w2_2024.pdf" {
		return []string{"Finance", "Taxes"}, 0.9, true
	}
	return nil, 0, false
}

func TestAnalyzePatternHitSkipsLLM(t *testing.T) {
	llm := &cannedLLM{response: `{"category_path":["Wrong"],"confidence":0.1}`}
	a := NewAnalyzer(richInspector{}, llm, fixedPatterns{})

	p, err := a.Analyze(context.Background(), scan.FileRecord{Name: "W2_2024.pdf"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Finance", "Taxes"}, p.CategoryPath)
	assert.Equal(t, taxonomy.SourceMemory, p.Source)
	assert.Empty(t, llm.prompts, "learned pattern answers without an LLM call")
}
