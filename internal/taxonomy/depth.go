package taxonomy

import (
	"errors"
	"fmt"

	"taxod/internal/config"
	"taxod/internal/logging"
)

// ErrDepthViolation is returned in strict mode when the tree exceeds its
// configured depth bounds.
var ErrDepthViolation = errors.New("taxonomy: depth bound violated")

// DepthEnforcer validates and normalizes tree depth against configured
// bounds. Three modes: strict fails the operation, advisory only logs,
// flatten re-parents over-depth nodes until the bound holds.
type DepthEnforcer struct {
	cfg config.DepthConfig
}

// NewDepthEnforcer creates an enforcer for the given bounds.
func NewDepthEnforcer(cfg config.DepthConfig) *DepthEnforcer {
	return &DepthEnforcer{cfg: cfg}
}

// Validate reports whether the tree currently satisfies the depth bounds.
func (e *DepthEnforcer) Validate(t *Tree) error {
	depth := t.MaxDepth()
	if e.cfg.MaxDepth > 0 && depth > e.cfg.MaxDepth {
		return fmt.Errorf("%w: max depth %d exceeds bound %d", ErrDepthViolation, depth, e.cfg.MaxDepth)
	}
	if e.cfg.MinDepth > 0 && t.NodeCount() > 1 && depth < e.cfg.MinDepth {
		return fmt.Errorf("%w: max depth %d below minimum %d", ErrDepthViolation, depth, e.cfg.MinDepth)
	}
	return nil
}

// Enforce applies the configured mode. Flatten mode returns the number of
// removed categories alongside nil.
func (e *DepthEnforcer) Enforce(t *Tree) (int, error) {
	err := e.Validate(t)
	if err == nil {
		return 0, nil
	}

	switch e.cfg.Mode {
	case config.DepthStrict:
		return 0, err
	case config.DepthAdvisory:
		logging.Guard("depth advisory: %v", err)
		return 0, nil
	case config.DepthFlatten:
		if e.cfg.MaxDepth <= 0 {
			return 0, nil
		}
		removed := t.flattenDeeperThan(e.cfg.MaxDepth)
		logging.Guard("depth flatten: removed %d over-depth categories", removed)
		return removed, nil
	default:
		return 0, fmt.Errorf("taxonomy: unknown depth mode %q", e.cfg.Mode)
	}
}
