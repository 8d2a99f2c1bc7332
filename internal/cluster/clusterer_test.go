package cluster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxod/internal/config"
	"taxod/internal/keyword"
)

func mkFiles(names ...string) []File {
	out := make([]File, 0, len(names))
	for i, n := range names {
		out = append(out, File{
			ID:       fmt.Sprintf("f%d", i),
			Name:     n,
			Path:     "/files/" + n,
			Keywords: keyword.Extract(n),
		})
	}
	return out
}

func themeByName(t *testing.T, themes []Theme, name string) Theme {
	t.Helper()
	for _, th := range themes {
		if th.Name == name {
			return th
		}
	}
	t.Fatalf("theme %q not found in %v", name, themeNames(themes))
	return Theme{}
}

func themeNames(themes []Theme) []string {
	out := make([]string, 0, len(themes))
	for _, th := range themes {
		out = append(out, th.Name)
	}
	return out
}

func TestClusterMagicSample(t *testing.T) {
	files := mkFiles("magic_trick_1.mp4", "card_trick.pdf", "recipe_pasta.txt")

	cfg := config.ClusteringConfig{
		TargetThemeCount:    2,
		MinFilesPerTheme:    1,
		MinFilesPerSubTheme: 4,
		SimilarityThreshold: 0.6,
	}
	themes := Cluster(files, cfg)
	require.Len(t, themes, 2)

	magic := themeByName(t, themes, "Magic")
	require.Len(t, magic.Files, 2)
	got := map[string]bool{}
	for _, f := range magic.Files {
		got[f.Name] = true
	}
	assert.True(t, got["magic_trick_1.mp4"])
	assert.True(t, got["card_trick.pdf"])

	other := themeByName(t, themes, "Recipes")
	require.Len(t, other.Files, 1)
	assert.Equal(t, "recipe_pasta.txt", other.Files[0].Name)
}

func TestClusterDeterministic(t *testing.T) {
	files := mkFiles(
		"tax_return_2022.pdf", "tax_return_2023.pdf", "bank_statement_jan.pdf",
		"invoice_acme.pdf", "workout_plan.txt", "gym_log.csv",
		"running_schedule.txt", "random_thing.bin",
	)
	cfg := config.DefaultConfig().Clustering

	first := Cluster(files, cfg)
	for i := 0; i < 5; i++ {
		again := Cluster(files, cfg)
		assert.Equal(t, themeNames(first), themeNames(again))
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, len(first[j].Files), len(again[j].Files))
		}
	}
}

func TestClusterTotalNoFileDropped(t *testing.T) {
	files := mkFiles(
		"magic_show.mp4", "trick_deck.pdf", "recipe_soup.txt",
		"zzqqx.bin", "untitled.tmp", "asdf_1234.dat",
	)
	cfg := config.ClusteringConfig{
		TargetThemeCount:    3,
		MinFilesPerTheme:    2,
		MinFilesPerSubTheme: 4,
		SimilarityThreshold: 0.6,
	}
	themes := Cluster(files, cfg)

	total := 0
	for _, th := range themes {
		total += len(th.Files)
	}
	assert.Equal(t, len(files), total)
}

func TestClusterEmptyInput(t *testing.T) {
	assert.Nil(t, Cluster(nil, config.DefaultConfig().Clustering))
}

func TestUncategorizedCatchesNoise(t *testing.T) {
	files := mkFiles("zzqqx.bin", "wwvvy.dat")
	cfg := config.ClusteringConfig{
		TargetThemeCount:    2,
		MinFilesPerTheme:    3,
		MinFilesPerSubTheme: 4,
		SimilarityThreshold: 0.6,
	}
	themes := Cluster(files, cfg)
	require.Len(t, themes, 1)
	assert.Equal(t, UncategorizedTheme, themes[0].Name)
	assert.Len(t, themes[0].Files, 2)
}

func TestSmallThemeMergesIntoSimilar(t *testing.T) {
	// The lone crypto file stays standalone: its theme is below the size
	// floor but shares no vocabulary with finance, so no merge happens.
	files := mkFiles(
		"tax_return_2021.pdf", "tax_return_2022.pdf", "tax_summary.pdf",
		"wallet_ledger.csv",
	)
	cfg := config.ClusteringConfig{
		TargetThemeCount:    4,
		MinFilesPerTheme:    3,
		MinFilesPerSubTheme: 4,
		SimilarityThreshold: 0.6,
	}
	themes := Cluster(files, cfg)

	fin := themeByName(t, themes, "Finance")
	assert.Len(t, fin.Files, 3)
	total := 0
	for _, th := range themes {
		total += len(th.Files)
	}
	assert.Equal(t, 4, total)
}

func TestSubThemeSplit(t *testing.T) {
	var names []string
	for i := 0; i < 4; i++ {
		names = append(names, fmt.Sprintf("recipe_pasta_%d.txt", i))
	}
	for i := 0; i < 4; i++ {
		names = append(names, fmt.Sprintf("recipe_dessert_%d.txt", i))
	}
	files := mkFiles(names...)

	cfg := config.ClusteringConfig{
		TargetThemeCount:    2,
		MinFilesPerTheme:    2,
		MinFilesPerSubTheme: 3,
		SimilarityThreshold: 0.6,
	}
	themes := Cluster(files, cfg)

	rec := themeByName(t, themes, "Recipes")
	require.Len(t, rec.Files, 8)
	assert.NotEmpty(t, rec.SubThemes)
}

func TestGroupByType(t *testing.T) {
	files := mkFiles("magic_act.mp4", "magic_notes.pdf", "trick_reveal.mp4")
	cfg := config.ClusteringConfig{
		TargetThemeCount:    1,
		MinFilesPerTheme:    1,
		MinFilesPerSubTheme: 10,
		SimilarityThreshold: 0.6,
		GroupByType:         true,
	}
	themes := Cluster(files, cfg)
	magic := themeByName(t, themes, "Magic")
	require.Len(t, magic.SubThemes, 2)
	assert.Equal(t, "Documents", magic.SubThemes[0].Name)
	assert.Equal(t, "Videos", magic.SubThemes[1].Name)
}

func TestCharJaccard(t *testing.T) {
	assert.Equal(t, 1.0, charJaccard("trick", "trick"))
	assert.Greater(t, charJaccard("trick", "tricks"), 0.6)
	assert.Less(t, charJaccard("trick", "pasta"), 0.3)
	assert.Equal(t, 0.0, charJaccard("", ""))
}

func TestKeywordJaccard(t *testing.T) {
	assert.InDelta(t, 2.0/3.0, keywordJaccard([]string{"magic", "trick"}, []string{"magic", "trick", "card"}), 1e-9)
	assert.Zero(t, keywordJaccard(nil, []string{"x"}))
}
