package searcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recall-mcp/pkg/types"
)

func doc(id string, dt types.DocumentType, age time.Duration, now time.Time) *types.Document {
	return &types.Document{
		ID:         id,
		Type:       dt,
		Text:       "text for " + id,
		Repository: "repo",
		Branch:     "main",
		CreatedAt:  now.Add(-age),
	}
}

func TestRecencyBoost(t *testing.T) {
	now := time.Now()

	t.Run("fresh documents near one", func(t *testing.T) {
		assert.InDelta(t, 1.0, recencyBoost(now, now), 1e-9)
	})

	t.Run("monotonically non-increasing with age", func(t *testing.T) {
		prev := recencyBoost(now, now)
		for days := 1; days <= 120; days += 7 {
			cur := recencyBoost(now.AddDate(0, 0, -days), now)
			assert.LessOrEqual(t, cur, prev)
			prev = cur
		}
	})

	t.Run("floored at one half", func(t *testing.T) {
		assert.Equal(t, 0.5, recencyBoost(now.AddDate(-2, 0, 0), now))
	})

	t.Run("future timestamps clamp to no boost decay", func(t *testing.T) {
		assert.InDelta(t, 1.0, recencyBoost(now.Add(time.Hour), now), 1e-9)
	})
}

func TestScoreCandidatesPipeline(t *testing.T) {
	now := time.Now()
	q := &types.Query{Text: "q", Repository: "repo", Branch: "main", TopK: 10}

	t.Run("insight outranks equally relevant fresh note", func(t *testing.T) {
		cands := []candidate{
			{doc: doc("note:n", types.TypeNote, 0, now), base: 1.0},
			{doc: doc("insight:i", types.TypeInsight, 0, now), base: 1.0,
				ins: &types.Insight{Status: types.StatusActive}},
		}
		results := scoreCandidates(cands, q, "", now, DefaultScoreThreshold, 10)
		require.Len(t, results, 2)
		assert.Equal(t, "insight:i", results[0].Document.ID)
		assert.InDelta(t, 2.0, results[0].Score, 1e-9)
	})

	t.Run("old note decays but stays above floor", func(t *testing.T) {
		cands := []candidate{
			{doc: doc("note:old", types.TypeNote, 365*24*time.Hour, now), base: 1.0},
		}
		results := scoreCandidates(cands, q, "", now, DefaultScoreThreshold, 10)
		require.Len(t, results, 1)
		assert.InDelta(t, 1.5*0.5, results[0].Score, 1e-9)
	})

	t.Run("structural types do not decay", func(t *testing.T) {
		cands := []candidate{
			{doc: doc("file_metadata:old", types.TypeFileMetadata, 365*24*time.Hour, now), base: 1.0},
		}
		results := scoreCandidates(cands, q, "", now, DefaultScoreThreshold, 10)
		require.Len(t, results, 1)
		assert.InDelta(t, 1.3, results[0].Score, 1e-9)
	})

	t.Run("focused initiative boost", func(t *testing.T) {
		focusedDoc := doc("note:focused", types.TypeNote, 0, now)
		focusedDoc.InitiativeID = "initiative:x"
		cands := []candidate{
			{doc: doc("note:plain", types.TypeNote, 0, now), base: 1.0},
			{doc: focusedDoc, base: 1.0},
		}
		results := scoreCandidates(cands, q, "initiative:x", now, DefaultScoreThreshold, 10)
		require.Len(t, results, 2)
		assert.Equal(t, "note:focused", results[0].Document.ID)
		assert.InDelta(t, 1.5*1.3, results[0].Score, 1e-9)
	})

	t.Run("needs_verification penalized but findable", func(t *testing.T) {
		cands := []candidate{
			{doc: doc("insight:fresh", types.TypeInsight, 0, now), base: 1.0,
				ins: &types.Insight{Status: types.StatusActive}},
			{doc: doc("insight:stale", types.TypeInsight, 0, now), base: 1.0,
				ins: &types.Insight{Status: types.StatusNeedsVerification}},
		}
		results := scoreCandidates(cands, q, "", now, DefaultScoreThreshold, 10)
		require.Len(t, results, 2)
		assert.Equal(t, "insight:fresh", results[0].Document.ID)
		assert.InDelta(t, 2.0*0.7, results[1].Score, 1e-9)
	})

	t.Run("penalized insight outranks a decayed note", func(t *testing.T) {
		cands := []candidate{
			{doc: doc("note:aging", types.TypeNote, 40*24*time.Hour, now), base: 0.6},
			{doc: doc("insight:stale", types.TypeInsight, 0, now), base: 0.9,
				ins: &types.Insight{Status: types.StatusNeedsVerification}},
		}
		results := scoreCandidates(cands, q, "", now, 0.4, 10)
		require.Len(t, results, 2)
		assert.Equal(t, "insight:stale", results[0].Document.ID)
		assert.InDelta(t, 0.9*2.0*0.7, results[0].Score, 1e-9)
		assert.InDelta(t, 0.6*1.5*0.5, results[1].Score, 1e-9)
	})

	t.Run("deprecated excluded by default", func(t *testing.T) {
		cands := []candidate{
			{doc: doc("insight:dead", types.TypeInsight, 0, now), base: 1.0,
				ins: &types.Insight{Status: types.StatusDeprecated}},
		}
		results := scoreCandidates(cands, q, "", now, DefaultScoreThreshold, 10)
		assert.Empty(t, results)

		withFlag := *q
		withFlag.IncludeDeprecated = true
		results = scoreCandidates(cands, &withFlag, "", now, DefaultScoreThreshold, 10)
		require.Len(t, results, 1)
		assert.Equal(t, "insight:dead", results[0].Document.ID)
	})

	t.Run("type filter applies after boosts", func(t *testing.T) {
		filtered := *q
		filtered.TypeFilter = []types.DocumentType{types.TypeNote}
		cands := []candidate{
			{doc: doc("insight:i", types.TypeInsight, 0, now), base: 1.0,
				ins: &types.Insight{Status: types.StatusActive}},
			{doc: doc("note:n", types.TypeNote, 0, now), base: 1.0},
		}
		results := scoreCandidates(cands, &filtered, "", now, DefaultScoreThreshold, 10)
		require.Len(t, results, 1)
		assert.Equal(t, "note:n", results[0].Document.ID)
	})

	t.Run("threshold drops weak candidates", func(t *testing.T) {
		cands := []candidate{
			{doc: doc("note:strong", types.TypeNote, 0, now), base: 1.0},
			{doc: doc("dependency:weak", types.TypeDependency, 0, now), base: 0.3},
		}
		results := scoreCandidates(cands, q, "", now, DefaultScoreThreshold, 10)
		require.Len(t, results, 1)
		assert.Equal(t, "note:strong", results[0].Document.ID)
	})

	t.Run("top k truncates after ordering", func(t *testing.T) {
		cands := []candidate{
			{doc: doc("note:a", types.TypeNote, 0, now), base: 0.9},
			{doc: doc("note:b", types.TypeNote, 0, now), base: 1.0},
			{doc: doc("note:c", types.TypeNote, 0, now), base: 0.8},
		}
		results := scoreCandidates(cands, q, "", now, DefaultScoreThreshold, 2)
		require.Len(t, results, 2)
		assert.Equal(t, "note:b", results[0].Document.ID)
		assert.Equal(t, "note:a", results[1].Document.ID)
	})

	t.Run("equal scores ordered by id", func(t *testing.T) {
		cands := []candidate{
			{doc: doc("note:z", types.TypeNote, 0, now), base: 1.0},
			{doc: doc("note:a", types.TypeNote, 0, now), base: 1.0},
		}
		results := scoreCandidates(cands, q, "", now, DefaultScoreThreshold, 10)
		require.Len(t, results, 2)
		assert.Equal(t, "note:a", results[0].Document.ID)
	})
}

func TestScopeAllowed(t *testing.T) {
	now := time.Now()

	t.Run("repository mismatch always fails", func(t *testing.T) {
		d := doc("note:x", types.TypeNote, 0, now)
		d.Repository = "other"
		assert.False(t, scopeAllowed(d, &types.Query{Repository: "repo"}))
	})

	t.Run("memory types cross branches", func(t *testing.T) {
		d := doc("insight:x", types.TypeInsight, 0, now)
		d.Branch = "feature/one"
		assert.True(t, scopeAllowed(d, &types.Query{Repository: "repo", Branch: "feature/two"}))
	})

	t.Run("structural types need branch match", func(t *testing.T) {
		d := doc("skeleton:x", types.TypeSkeleton, 0, now)
		d.Branch = "feature/one"
		assert.True(t, scopeAllowed(d, &types.Query{Repository: "repo", Branch: "feature/one"}))
		assert.False(t, scopeAllowed(d, &types.Query{Repository: "repo", Branch: "feature/two"}))
	})

	t.Run("structural lookups widen to the default branch", func(t *testing.T) {
		d := doc("skeleton:x", types.TypeSkeleton, 0, now)
		d.Branch = "main"
		assert.True(t, scopeAllowed(d, &types.Query{Repository: "repo", Branch: "feature/two"}))

		d.Branch = "master"
		assert.True(t, scopeAllowed(d, &types.Query{Repository: "repo", Branch: "feature/two"}))
	})

	t.Run("no query branch matches everything", func(t *testing.T) {
		d := doc("skeleton:x", types.TypeSkeleton, 0, now)
		d.Branch = "feature/one"
		assert.True(t, scopeAllowed(d, &types.Query{Repository: "repo"}))
	})
}
