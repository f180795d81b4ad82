package rep

// DeltificationConfig mirrors the [deltification] section of
// db/fsfs.conf.
type DeltificationConfig struct {
	// MaxLinearDeltification (L) is the linear-deltification
	// threshold: default 16; a value <= 1 forces pure skip-delta.
	MaxLinearDeltification int
	// MaxDeltificationWalk (W) is the walk cap: default 1023; 0
	// disables deltification entirely (every representation is PLAIN).
	MaxDeltificationWalk int
}

// DefaultDeltificationConfig returns the engine's built-in defaults.
func DefaultDeltificationConfig() DeltificationConfig {
	return DeltificationConfig{MaxLinearDeltification: 16, MaxDeltificationWalk: 1023}
}

// BasePlan is the outcome of selecting a representation's delta base:
// either "emit PLAIN" (UsePlain) or "delta against the predecessor
// PredecessorCount-BackSteps steps back".
type BasePlan struct {
	UsePlain bool
	// BackSteps is the number of predecessors to walk back from the
	// current node revision to reach the chosen base, when !UsePlain.
	BackSteps int
}

// clearLowSetBit implements `c = p & (p - 1)`, clearing the
// low-order set bit of p.
func clearLowSetBit(p int) int {
	return p & (p - 1)
}

// SelectBase implements the base-selection algorithm given a node
// revision's predecessor-count p. chainLenAtBackSteps, if
// non-nil, measures the resulting chain length when the selected base
// is itself shared (created in a revision newer than the owning
// node's revision) — callers that can't cheaply answer that may pass
// nil, in which case the "shared base, chain too long" override is
// skipped.
func SelectBase(p int, cfg DeltificationConfig, chainLenAtBackSteps func(backSteps int) int) BasePlan {
	if p == 0 {
		return BasePlan{UsePlain: true}
	}
	if cfg.MaxDeltificationWalk == 0 {
		return BasePlan{UsePlain: true}
	}

	c := clearLowSetBit(p)
	walkDist := p - c

	if walkDist > cfg.MaxDeltificationWalk {
		return BasePlan{UsePlain: true}
	}

	backSteps := walkDist
	if cfg.MaxLinearDeltification > 1 && walkDist < cfg.MaxLinearDeltification {
		backSteps = 1 // override: linear chain, base is the immediate predecessor
	}

	if chainLenAtBackSteps != nil {
		limit := 2*cfg.MaxLinearDeltification + 2
		if chainLenAtBackSteps(backSteps) > limit {
			return BasePlan{UsePlain: true}
		}
	}

	return BasePlan{BackSteps: backSteps}
}
