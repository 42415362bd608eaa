package searcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recall-mcp/pkg/types"
)

func TestFuseRRF(t *testing.T) {
	t.Run("contributions are additive", func(t *testing.T) {
		lex := []types.RankedRef{{ID: "a", Rank: 1}, {ID: "b", Rank: 2}}
		vec := []types.RankedRef{{ID: "b", Rank: 1}, {ID: "c", Rank: 2}}

		fusedList := fuseRRF(lex, vec)
		byID := make(map[string]fused)
		for _, f := range fusedList {
			byID[f.id] = f
		}

		assert.InDelta(t, 1.0/61.0, byID["a"].score, 1e-12)
		assert.InDelta(t, 1.0/62.0+1.0/61.0, byID["b"].score, 1e-12)
		assert.InDelta(t, 1.0/62.0, byID["c"].score, 1e-12)

		// b appears in both lists, so it outranks the single-source docs.
		assert.Equal(t, "b", fusedList[0].id)
		assert.True(t, byID["b"].inLexical)
		assert.True(t, byID["b"].inVector)
		assert.True(t, byID["a"].inLexical)
		assert.False(t, byID["a"].inVector)
	})

	t.Run("ties broken by id", func(t *testing.T) {
		lex := []types.RankedRef{{ID: "z", Rank: 1}}
		vec := []types.RankedRef{{ID: "m", Rank: 1}}

		fusedList := fuseRRF(lex, vec)
		require.Len(t, fusedList, 2)
		assert.Equal(t, "m", fusedList[0].id)
		assert.Equal(t, "z", fusedList[1].id)
	})

	t.Run("single list preserves order", func(t *testing.T) {
		lex := []types.RankedRef{{ID: "a", Rank: 1}, {ID: "b", Rank: 2}, {ID: "c", Rank: 3}}

		fusedList := fuseRRF(lex, nil)
		require.Len(t, fusedList, 3)
		assert.Equal(t, "a", fusedList[0].id)
		assert.Equal(t, "b", fusedList[1].id)
		assert.Equal(t, "c", fusedList[2].id)
		for _, f := range fusedList {
			assert.True(t, f.inLexical)
			assert.False(t, f.inVector)
		}
	})

	t.Run("both empty", func(t *testing.T) {
		assert.Empty(t, fuseRRF(nil, nil))
	})
}

func TestNormalizeFused(t *testing.T) {
	t.Run("best candidate lands at one", func(t *testing.T) {
		cands := fuseRRF(
			[]types.RankedRef{{ID: "a", Rank: 1}, {ID: "b", Rank: 2}},
			[]types.RankedRef{{ID: "a", Rank: 1}},
		)
		normalizeFused(cands)
		assert.InDelta(t, 1.0, cands[0].score, 1e-12)
		for _, c := range cands[1:] {
			assert.Less(t, c.score, 1.0)
			assert.Greater(t, c.score, 0.0)
		}
	})

	t.Run("order unchanged", func(t *testing.T) {
		cands := fuseRRF(
			[]types.RankedRef{{ID: "a", Rank: 1}, {ID: "b", Rank: 2}, {ID: "c", Rank: 3}},
			nil,
		)
		before := make([]string, len(cands))
		for i, c := range cands {
			before[i] = c.id
		}
		normalizeFused(cands)
		for i, c := range cands {
			assert.Equal(t, before[i], c.id)
		}
	})

	t.Run("empty is a no-op", func(t *testing.T) {
		normalizeFused(nil)
	})
}
