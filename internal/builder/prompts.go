package builder

import (
	"fmt"
	"strings"

	"taxod/internal/taxonomy"
)

// NoMergesSentinel is the exact reply meaning "leave these categories
// alone". The merge parser treats it (and any unparseable line) as no-op.
const NoMergesSentinel = "NO_MERGES"

func renamePrompt(n *taxonomy.Node) string {
	samples := make([]string, 0, 5)
	for i, f := range n.Files {
		if i == 5 {
			break
		}
		samples = append(samples, f.DisplayName)
	}
	return fmt.Sprintf(`You are naming folders in a personal file organizer.

Current folder name: %q
Sample files inside: %s

Reply with ONLY a better short folder name (1-3 words, Title Case).
If the current name is already good, reply with it unchanged.`,
		n.Name, strings.Join(samples, ", "))
}

func mergePrompt(nodes []*taxonomy.Node) string {
	var sb strings.Builder
	sb.WriteString("These folders each hold only a few files:\n\n")
	for _, n := range nodes {
		names := make([]string, 0, 3)
		for i, f := range n.Files {
			if i == 3 {
				break
			}
			names = append(names, f.DisplayName)
		}
		fmt.Fprintf(&sb, "- %s (%d files: %s)\n", n.Name, len(n.Files), strings.Join(names, ", "))
	}
	fmt.Fprintf(&sb, `
Suggest which folders to combine. Reply with one merge per line, exactly:

FolderA + FolderB -> NewName

Use the folder names verbatim. Two or more sources per line. If nothing
should be combined, reply with exactly %s.`, NoMergesSentinel)
	return sb.String()
}

func substructurePrompt(n *taxonomy.Node) string {
	names := make([]string, 0, len(n.Files))
	for _, f := range n.Files {
		names = append(names, f.DisplayName)
	}
	return fmt.Sprintf(`The folder %q now holds %d files:
%s

Group them into 2-4 subcategories. Reply with JSON only:
{"subcategories":[{"name":"...","files":["exact file name", ...]}]}
Every file must appear in exactly one subcategory.`,
		n.Name, len(n.Files), strings.Join(names, "\n"))
}

// sanitizeName normalizes an LLM-suggested category name: first line only,
// quotes stripped, length capped. Empty result means "unusable".
func sanitizeName(s string, maxLen int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`+"`")
	s = strings.TrimSpace(s)
	if maxLen > 0 && len(s) > maxLen {
		return ""
	}
	return s
}
