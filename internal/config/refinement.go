package config

// RefinementConfig controls the asynchronous Phase 2 LLM refinement pass.
type RefinementConfig struct {
	// Enabled gates the whole refinement pass.
	Enabled bool `yaml:"enabled"`

	// SmallCategoryThreshold: categories with fewer files than this are
	// offered to the LLM as merge candidates.
	SmallCategoryThreshold int `yaml:"small_category_threshold"`

	// SubstructureThreshold: merged categories with at least this many files
	// get one substructure-inference LLM call.
	SubstructureThreshold int `yaml:"substructure_threshold"`

	// MaxNameLength caps LLM-suggested replacement names.
	MaxNameLength int `yaml:"max_name_length"`
}

// DefaultRefinementConfig returns sensible defaults.
func DefaultRefinementConfig() RefinementConfig {
	return RefinementConfig{
		Enabled:                true,
		SmallCategoryThreshold: 5,
		SubstructureThreshold:  10,
		MaxNameLength:          40,
	}
}
