package engine

import "math/rand"

// SuppressionPolicy decides whether a model-proposed dice interaction
// is dropped. Returning true suppresses the roll and the turn proceeds
// as plain narration.
type SuppressionPolicy func() bool

// RandomSuppression keeps a proposed roll with probability keepRate.
// The model over-asks for rolls, so the default configuration keeps
// only half of them.
func RandomSuppression(keepRate float64, rng *rand.Rand) SuppressionPolicy {
	random := rand.Float64
	if rng != nil {
		random = rng.Float64
	}
	return func() bool {
		return random() >= keepRate
	}
}

// NeverSuppress keeps every proposed roll.
func NeverSuppress() SuppressionPolicy {
	return func() bool { return false }
}
