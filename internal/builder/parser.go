package builder

import (
	"strings"

	"taxod/internal/logging"
)

// MergeDirective is one parsed merge instruction.
type MergeDirective struct {
	Sources []string
	Target  string
}

// ParseMergeLines extracts merge directives from free-text LLM output
// using the fixed line grammar:
//
//	SRC1 + SRC2 [+ SRC3 ...] -> NAME
//
// Parsing is best-effort: the NO_MERGES sentinel yields nil, and malformed
// lines are logged and skipped rather than failing the batch.
func ParseMergeLines(resp string) []MergeDirective {
	resp = strings.TrimSpace(resp)
	if resp == "" || strings.Contains(resp, NoMergesSentinel) {
		return nil
	}

	var out []MergeDirective
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		if line == "" {
			continue
		}

		arrow := strings.Index(line, "->")
		if arrow < 0 {
			continue
		}
		target := strings.TrimSpace(line[arrow+2:])
		lhs := strings.TrimSpace(line[:arrow])
		if target == "" || lhs == "" {
			logging.RefineWarn("merge parser: malformed line %q", line)
			continue
		}

		var sources []string
		for _, part := range strings.Split(lhs, "+") {
			if src := strings.TrimSpace(part); src != "" {
				sources = append(sources, src)
			}
		}
		if len(sources) < 2 {
			logging.RefineWarn("merge parser: need 2+ sources in %q", line)
			continue
		}
		out = append(out, MergeDirective{Sources: sources, Target: target})
	}
	return out
}
