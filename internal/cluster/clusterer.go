// Package cluster groups keyword-extracted files into semantic themes.
// Clustering is pure and deterministic: no I/O, no LLM calls, map iteration
// always sorted before tie-breaking so identical inputs yield identical
// output.
package cluster

import (
	"sort"
	"strings"

	"taxod/internal/config"
	"taxod/internal/keyword"
	"taxod/internal/logging"
)

// UncategorizedTheme is the catch-all for files no theme wants.
const UncategorizedTheme = "Uncategorized"

// minAssignScore is the Jaccard floor below which a file is considered
// unrelated to a theme.
const minAssignScore = 0.1

// File is one clustering input: a scanned file plus its extracted keywords.
type File struct {
	ID       string
	Name     string
	Path     string
	Keywords keyword.Keywords
}

// Theme is a semantic grouping of files, optionally subdivided.
type Theme struct {
	Name      string
	Keywords  []string
	Files     []File
	SubThemes []Theme
}

type candidate struct {
	name     string
	keywords []string
	score    int
	semantic bool
}

// Cluster runs the full theme inference pipeline over the given files.
// It is a total function: every file ends up in some theme, possibly
// Uncategorized.
func Cluster(files []File, cfg config.ClusteringConfig) []Theme {
	if len(files) == 0 {
		return nil
	}
	defer logging.StartTimer(logging.CategoryCluster, "cluster").Stop()

	freq := keywordFrequencies(files)
	cands := scoreCandidates(freq, cfg)

	// Keep the strongest candidates only.
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].name < cands[j].name
	})
	if len(cands) > cfg.TargetThemeCount {
		cands = cands[:cfg.TargetThemeCount]
	}

	themes := make([]Theme, 0, len(cands)+1)
	for _, c := range cands {
		themes = append(themes, Theme{Name: titleCase(c.name), Keywords: c.keywords})
	}

	unassigned := assignFiles(files, themes)
	themes = reclusterUnassigned(themes, unassigned, freq, cfg)
	themes = mergeSmallThemes(themes, cfg)

	for i := range themes {
		if len(themes[i].Files) >= 2*cfg.MinFilesPerSubTheme {
			themes[i].SubThemes = splitSubThemes(themes[i], freq, cfg)
		}
	}
	if cfg.GroupByType {
		themes = groupByType(themes)
	}

	logging.Cluster("clustered %d files into %d themes", len(files), len(themes))
	return themes
}

// keywordFrequencies counts, per keyword, how many files carry it.
func keywordFrequencies(files []File) map[string]int {
	freq := make(map[string]int)
	for _, f := range files {
		seen := make(map[string]bool, len(f.Keywords.Tokens))
		for _, k := range f.Keywords.Tokens {
			if !seen[k] {
				seen[k] = true
				freq[k]++
			}
		}
	}
	return freq
}

// scoreCandidates produces theme candidates: semantic lexicon groups first,
// then leftover high-frequency keywords expanded by character similarity.
func scoreCandidates(freq map[string]int, cfg config.ClusteringConfig) []candidate {
	var cands []candidate
	consumed := make(map[string]bool)

	for _, name := range sortedKeys(semanticGroups) {
		var present []string
		score := 0
		for _, k := range semanticGroups[name] {
			if n := freq[k]; n > 0 {
				present = append(present, k)
				score += n
			}
		}
		if score == 0 {
			continue
		}
		cands = append(cands, candidate{name: name, keywords: present, score: score, semantic: true})
		for _, k := range present {
			consumed[k] = true
		}
	}

	// Leftover keywords frequent enough to anchor a theme of their own,
	// expanded with character-similar neighbours (plural forms, typos).
	leftovers := make([]string, 0, len(freq))
	for k := range freq {
		if !consumed[k] {
			leftovers = append(leftovers, k)
		}
	}
	sort.Strings(leftovers)

	anchored := make(map[string]bool)
	for _, k := range leftovers {
		if anchored[k] || freq[k] < cfg.MinFilesPerTheme {
			continue
		}
		related := []string{k}
		score := freq[k]
		for _, other := range leftovers {
			if other == k || anchored[other] {
				continue
			}
			if charJaccard(k, other) >= cfg.SimilarityThreshold {
				related = append(related, other)
				score += freq[other]
			}
		}
		for _, r := range related {
			anchored[r] = true
		}
		cands = append(cands, candidate{name: k, keywords: related, score: score})
	}
	return cands
}

// assignFiles places each file on the theme with the best keyword overlap
// and returns the files no theme claimed.
func assignFiles(files []File, themes []Theme) []File {
	var unassigned []File
	for _, f := range files {
		best, bestScore := -1, minAssignScore
		for i := range themes {
			s := keywordJaccard(f.Keywords.Tokens, themes[i].Keywords)
			if s > bestScore {
				best, bestScore = i, s
			}
		}
		if best < 0 {
			unassigned = append(unassigned, f)
			continue
		}
		themes[best].Files = append(themes[best].Files, f)
	}
	return unassigned
}

// reclusterUnassigned groups leftover files by their single most frequent
// keyword, promoting groups that clear MinFilesPerTheme and parking the
// rest under Uncategorized.
func reclusterUnassigned(themes []Theme, unassigned []File, freq map[string]int, cfg config.ClusteringConfig) []Theme {
	if len(unassigned) == 0 {
		return themes
	}

	groups := make(map[string][]File)
	var remainder []File
	for _, f := range unassigned {
		k := dominantKeyword(f.Keywords.Tokens, freq)
		if k == "" {
			remainder = append(remainder, f)
			continue
		}
		groups[k] = append(groups[k], f)
	}

	for _, k := range sortedKeys(groups) {
		fs := groups[k]
		if len(fs) >= cfg.MinFilesPerTheme {
			themes = append(themes, Theme{Name: titleCase(k), Keywords: []string{k}, Files: fs})
		} else {
			remainder = append(remainder, fs...)
		}
	}
	if len(remainder) > 0 {
		themes = append(themes, Theme{Name: UncategorizedTheme, Files: remainder})
	}
	return themes
}

// mergeSmallThemes folds themes below MinFilesPerTheme into their most
// keyword-similar survivor, or keeps them standalone when nothing is close.
func mergeSmallThemes(themes []Theme, cfg config.ClusteringConfig) []Theme {
	const mergeFloor = 0.2

	var out []Theme
	var small []Theme
	for _, t := range themes {
		if t.Name != UncategorizedTheme && len(t.Files) > 0 && len(t.Files) < cfg.MinFilesPerTheme {
			small = append(small, t)
		} else if len(t.Files) > 0 {
			out = append(out, t)
		}
	}

	for _, s := range small {
		best, bestSim := -1, mergeFloor
		for i := range out {
			if out[i].Name == UncategorizedTheme {
				continue
			}
			sim := keywordJaccard(s.Keywords, out[i].Keywords)
			if sim > bestSim {
				best, bestSim = i, sim
			}
		}
		if best < 0 {
			out = append(out, s)
			continue
		}
		out[best].Files = append(out[best].Files, s.Files...)
		out[best].Keywords = unionSorted(out[best].Keywords, s.Keywords)
	}
	return out
}

// splitSubThemes subdivides a large theme by each file's most distinctive
// keyword. Keywords carried by every file in the theme distinguish nothing
// and are skipped.
func splitSubThemes(t Theme, _ map[string]int, cfg config.ClusteringConfig) []Theme {
	local := make(map[string]int)
	for _, f := range t.Files {
		seen := make(map[string]bool, len(f.Keywords.Tokens))
		for _, k := range f.Keywords.Tokens {
			if !seen[k] {
				seen[k] = true
				local[k]++
			}
		}
	}
	universal := make(map[string]bool)
	for k, n := range local {
		if n == len(t.Files) {
			universal[k] = true
		}
	}

	groups := make(map[string][]File)
	for _, f := range t.Files {
		var toks []string
		for _, k := range f.Keywords.Tokens {
			if !universal[k] {
				toks = append(toks, k)
			}
		}
		k := dominantKeyword(toks, local)
		if k == "" {
			continue
		}
		groups[k] = append(groups[k], f)
	}

	var subs []Theme
	for _, k := range sortedKeys(groups) {
		if len(groups[k]) >= cfg.MinFilesPerSubTheme {
			subs = append(subs, Theme{Name: titleCase(k), Keywords: []string{k}, Files: groups[k]})
		}
	}
	return subs
}

// groupByType fans each theme out into per-FileKind sub-themes when the
// theme holds more than one kind.
func groupByType(themes []Theme) []Theme {
	for i := range themes {
		byKind := make(map[keyword.FileKind][]File)
		for _, f := range themes[i].Files {
			byKind[f.Keywords.TypeHint] = append(byKind[f.Keywords.TypeHint], f)
		}
		if len(byKind) < 2 {
			continue
		}
		kinds := make([]string, 0, len(byKind))
		for k := range byKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			themes[i].SubThemes = append(themes[i].SubThemes, Theme{
				Name:  titleCase(k) + "s",
				Files: byKind[keyword.FileKind(k)],
			})
		}
	}
	return themes
}

// dominantKeyword picks the globally most frequent of a file's keywords,
// breaking ties alphabetically.
func dominantKeyword(tokens []string, freq map[string]int) string {
	best, bestN := "", 0
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	for _, k := range sorted {
		if n := freq[k]; n > bestN {
			best, bestN = k, n
		}
	}
	return best
}

// charJaccard measures similarity between two words as Jaccard overlap of
// their character sets. Cheap plural/typo detector.
func charJaccard(a, b string) float64 {
	if a == b {
		return 1
	}
	sa := make(map[rune]bool)
	for _, r := range a {
		sa[r] = true
	}
	inter, union := 0, 0
	seen := make(map[rune]bool)
	for _, r := range b {
		if seen[r] {
			continue
		}
		seen[r] = true
		union++
		if sa[r] {
			inter++
		}
	}
	for r := range sa {
		if !seen[r] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// keywordJaccard measures overlap between two keyword sets.
func keywordJaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa := make(map[string]bool, len(a))
	for _, k := range a {
		sa[k] = true
	}
	inter := 0
	sb := make(map[string]bool, len(b))
	for _, k := range b {
		if sb[k] {
			continue
		}
		sb[k] = true
		if sa[k] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func unionSorted(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, k := range a {
		set[k] = true
	}
	for _, k := range b {
		set[k] = true
	}
	return sortedKeysBool(set)
}

func sortedKeysBool(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
