package perception

import (
	"context"
	"strings"

	"taxod/internal/keyword"
)

// FileRef identifies a file handed to an inspector.
type FileRef struct {
	ID          string
	Path        string
	DisplayName string
}

// Signals is the content evidence an inspector extracts from a file.
// Any field may be empty; the pipeline treats missing signal as
// "filename-only confidence", not as an error.
type Signals struct {
	TextCue         string
	SceneTags       []string
	DetectedObjects []string
	DurationSeconds float64
	Kind            keyword.FileKind
}

// Inspector turns a file into content signals. Implementations may run
// OCR, ASR, or scene tagging; failure means insufficient signal and the
// caller degrades gracefully.
type Inspector interface {
	Inspect(ctx context.Context, ref FileRef) (Signals, error)
}

// FilenameInspector is the zero-dependency fallback: signals derived from
// the name alone. It never fails.
type FilenameInspector struct{}

func (FilenameInspector) Inspect(_ context.Context, ref FileRef) (Signals, error) {
	kw := keyword.Extract(ref.DisplayName)
	return Signals{
		TextCue: strings.Join(kw.Tokens, " "),
		Kind:    kw.TypeHint,
	}, nil
}
