package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/relaychain/noded/types"
)

// TestTieBreakProperties checks the §4.1 tie-break invariant holds for
// arbitrary candidate sets: the picked candidate has the highest weight
// present, and among candidates tied at that weight, the lexicographically
// smallest hash.
func TestTieBreakProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n").(int)
		candidates := make([]TipCandidate, n)
		for i := range candidates {
			var hash types.Hash
			hash[0] = byte(rapid.IntRange(0, 255).Draw(t, "hashByte").(int))
			hash[1] = byte(rapid.IntRange(0, 255).Draw(t, "hashByte2").(int))
			candidates[i] = TipCandidate{
				Hash:   hash,
				Height: 10,
				Weight: uint64(rapid.IntRange(0, 20).Draw(t, "weight").(int)),
			}
		}

		best, ok := TieBreak(candidates)
		require.True(t, ok)

		var maxWeight uint64
		for _, c := range candidates {
			if c.Weight > maxWeight {
				maxWeight = c.Weight
			}
		}
		require.Equal(t, maxWeight, best.Weight, "tie-break must pick a candidate at the highest weight present")

		for _, c := range candidates {
			if c.Weight == best.Weight {
				require.False(t, c.Hash.String() < best.Hash.String(),
					"a same-weight candidate with a smaller hash must not lose the tie-break")
			}
		}
	})
}

func TestTieBreakEmptyReportsFalse(t *testing.T) {
	_, ok := TieBreak(nil)
	require.False(t, ok)
}
