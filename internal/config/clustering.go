package config

// ClusteringConfig controls the rule-based semantic theme clusterer.
type ClusteringConfig struct {
	// TargetThemeCount is the number of top-level themes to keep.
	TargetThemeCount int `yaml:"target_theme_count"`

	// MinFilesPerTheme is the minimum files a theme needs to survive on its own.
	MinFilesPerTheme int `yaml:"min_files_per_theme"`

	// MinFilesPerSubTheme gates recursive sub-theme splitting.
	MinFilesPerSubTheme int `yaml:"min_files_per_subtheme"`

	// SimilarityThreshold is the per-character Jaccard threshold used to
	// expand a frequent keyword into a related-keyword set.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// GroupByType fans each theme out into file-type children.
	GroupByType bool `yaml:"group_by_type"`
}

// DefaultClusteringConfig returns sensible defaults.
func DefaultClusteringConfig() ClusteringConfig {
	return ClusteringConfig{
		TargetThemeCount:    8,
		MinFilesPerTheme:    3,
		MinFilesPerSubTheme: 4,
		SimilarityThreshold: 0.6,
		GroupByType:         false,
	}
}
