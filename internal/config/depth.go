package config

// DepthMode selects how depth violations are handled.
type DepthMode string

const (
	// DepthStrict fails the whole operation on a violation.
	DepthStrict DepthMode = "strict"
	// DepthAdvisory logs violations without mutating the tree.
	DepthAdvisory DepthMode = "advisory"
	// DepthFlatten re-parents over-depth nodes into their parents.
	DepthFlatten DepthMode = "flatten"
)

// DepthConfig bounds taxonomy tree depth.
type DepthConfig struct {
	MinDepth int       `yaml:"min_depth"`
	MaxDepth int       `yaml:"max_depth"`
	Mode     DepthMode `yaml:"mode"`
}

// DefaultDepthConfig returns sensible defaults.
func DefaultDepthConfig() DepthConfig {
	return DepthConfig{
		MinDepth: 1,
		MaxDepth: 3,
		Mode:     DepthFlatten,
	}
}
