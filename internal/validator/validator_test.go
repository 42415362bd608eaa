package validator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recall-mcp/internal/storage"
	"github.com/recallkit/recall-mcp/pkg/types"
)

type fixture struct {
	store  *storage.SQLiteStore
	hasher *DirHasher
	val    *Validator
	root   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	root := t.TempDir()
	hasher := NewDirHasher()
	hasher.Register("repo", root)

	return &fixture{
		store:  store,
		hasher: hasher,
		val:    New(store, hasher),
		root:   root,
	}
}

func (f *fixture) writeFile(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(f.root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// saveInsight stores an active insight anchored to the named files,
// hashing their current content.
func (f *fixture) saveInsight(t *testing.T, files ...string) *types.Insight {
	t.Helper()
	hashes := make(map[string]string, len(files))
	for _, file := range files {
		h, err := f.hasher.Hash("repo", file)
		require.NoError(t, err)
		hashes[file] = h
	}
	ins := &types.Insight{
		Document: types.Document{
			Type:       types.TypeInsight,
			Text:       "the handler validates before persisting",
			Repository: "repo",
		},
		Files:      files,
		FileHashes: hashes,
	}
	require.NoError(t, f.store.PutInsight(context.Background(), ins))
	return ins
}

func TestCheckDrift(t *testing.T) {
	ctx := context.Background()

	t.Run("unchanged files stay active", func(t *testing.T) {
		f := newFixture(t)
		f.writeFile(t, "a.go", "package a")
		ins := f.saveInsight(t, "a.go")

		got, err := f.val.CheckDrift(ctx, ins)
		require.NoError(t, err)
		assert.Equal(t, types.StatusActive, got.Status)
	})

	t.Run("changed file flags verification", func(t *testing.T) {
		f := newFixture(t)
		f.writeFile(t, "a.go", "package a")
		ins := f.saveInsight(t, "a.go")

		f.writeFile(t, "a.go", "package a // edited")

		got, err := f.val.CheckDrift(ctx, ins)
		require.NoError(t, err)
		assert.Equal(t, types.StatusNeedsVerification, got.Status)

		// The transition persisted.
		stored, err := f.store.GetInsight(ctx, ins.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusNeedsVerification, stored.Status)
	})

	t.Run("missing file counts as drift", func(t *testing.T) {
		f := newFixture(t)
		f.writeFile(t, "a.go", "package a")
		ins := f.saveInsight(t, "a.go")

		require.NoError(t, os.Remove(filepath.Join(f.root, "a.go")))

		got, err := f.val.CheckDrift(ctx, ins)
		require.NoError(t, err)
		assert.Equal(t, types.StatusNeedsVerification, got.Status)
	})

	t.Run("no anchored files never drifts", func(t *testing.T) {
		f := newFixture(t)
		ins := f.saveInsight(t)

		got, err := f.val.CheckDrift(ctx, ins)
		require.NoError(t, err)
		assert.Equal(t, types.StatusActive, got.Status)
	})

	t.Run("non-active states pass through", func(t *testing.T) {
		f := newFixture(t)
		f.writeFile(t, "a.go", "package a")
		ins := f.saveInsight(t, "a.go")
		f.writeFile(t, "a.go", "changed")

		_, err := f.val.Deprecate(ctx, ins.ID, "obsolete", "")
		require.NoError(t, err)

		deprecated, err := f.store.GetInsight(ctx, ins.ID)
		require.NoError(t, err)
		got, err := f.val.CheckDrift(ctx, deprecated)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDeprecated, got.Status)
	})

	t.Run("inconsistent insight rejected", func(t *testing.T) {
		f := newFixture(t)
		ins := &types.Insight{
			Document:   types.Document{ID: "insight:bad", Type: types.TypeInsight, Repository: "repo"},
			Files:      []string{"a.go"},
			FileHashes: map[string]string{},
			Status:     types.StatusActive,
		}
		_, err := f.val.CheckDrift(ctx, ins)
		assert.ErrorIs(t, err, types.ErrInconsistentInsight)
	})
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	flagged := func(t *testing.T, f *fixture, files ...string) *types.Insight {
		t.Helper()
		ins := f.saveInsight(t, files...)
		ins.Status = types.StatusNeedsVerification
		require.NoError(t, f.store.UpdateInsightState(ctx, ins))
		return ins
	}

	t.Run("still_valid reactivates and refreshes hashes", func(t *testing.T) {
		f := newFixture(t)
		f.writeFile(t, "a.go", "v1")
		ins := flagged(t, f, "a.go")
		f.writeFile(t, "a.go", "v2")

		got, err := f.val.Verify(ctx, ins.ID, VerifyRequest{Result: types.StillValid, Notes: "re-read the handler"})
		require.NoError(t, err)
		assert.Equal(t, types.StatusActive, got.Status)
		assert.Equal(t, types.StillValid, got.LastValidation)
		assert.Equal(t, "re-read the handler", got.ValidationNotes)

		// Hashes now match the current tree, so no further drift.
		again, err := f.val.CheckDrift(ctx, got)
		require.NoError(t, err)
		assert.Equal(t, types.StatusActive, again.Status)
	})

	t.Run("partially_valid refreshes only confirmed files", func(t *testing.T) {
		f := newFixture(t)
		f.writeFile(t, "a.go", "v1")
		f.writeFile(t, "b.go", "v1")
		ins := flagged(t, f, "a.go", "b.go")
		f.writeFile(t, "a.go", "v2")
		f.writeFile(t, "b.go", "v2")

		got, err := f.val.Verify(ctx, ins.ID, VerifyRequest{
			Result:         types.PartiallyValid,
			Notes:          "a.go still holds, b.go unclear",
			ConfirmedFiles: []string{"a.go"},
		})
		require.NoError(t, err)
		assert.Equal(t, types.StatusNeedsVerification, got.Status)
		assert.NoError(t, got.ConsistencyCheck())

		freshA, err := f.hasher.Hash("repo", "a.go")
		require.NoError(t, err)
		assert.Equal(t, freshA, got.FileHashes["a.go"])
		assert.NotEqual(t, got.FileHashes["a.go"], got.FileHashes["b.go"])
	})

	t.Run("partially_valid ignores unanchored confirmed files", func(t *testing.T) {
		f := newFixture(t)
		f.writeFile(t, "a.go", "v1")
		f.writeFile(t, "stray.go", "v1")
		ins := flagged(t, f, "a.go")

		got, err := f.val.Verify(ctx, ins.ID, VerifyRequest{
			Result:         types.PartiallyValid,
			ConfirmedFiles: []string{"stray.go"},
		})
		require.NoError(t, err)
		assert.NoError(t, got.ConsistencyCheck())
		assert.NotContains(t, got.FileHashes, "stray.go")
	})

	t.Run("no_longer_valid records the outcome without deprecating", func(t *testing.T) {
		f := newFixture(t)
		f.writeFile(t, "a.go", "v1")
		ins := flagged(t, f, "a.go")

		got, err := f.val.Verify(ctx, ins.ID, VerifyRequest{Result: types.NoLongerValid, Notes: "handler was rewritten"})
		require.NoError(t, err)
		assert.Equal(t, types.StatusNeedsVerification, got.Status)
		assert.Equal(t, types.NoLongerValid, got.LastValidation)
	})

	t.Run("verify on deprecated fails", func(t *testing.T) {
		f := newFixture(t)
		ins := f.saveInsight(t)
		_, err := f.val.Deprecate(ctx, ins.ID, "gone", "")
		require.NoError(t, err)

		_, err = f.val.Verify(ctx, ins.ID, VerifyRequest{Result: types.StillValid})
		assert.ErrorIs(t, err, types.ErrInvalidTransition)
	})

	t.Run("unknown result rejected", func(t *testing.T) {
		f := newFixture(t)
		ins := f.saveInsight(t)
		_, err := f.val.Verify(ctx, ins.ID, VerifyRequest{Result: "kinda_valid"})
		assert.Error(t, err)
	})

	t.Run("unknown insight", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.val.Verify(ctx, "insight:ghost", VerifyRequest{Result: types.StillValid})
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestDeprecate(t *testing.T) {
	ctx := context.Background()

	t.Run("records reason and timestamp", func(t *testing.T) {
		f := newFixture(t)
		ins := f.saveInsight(t)

		got, err := f.val.Deprecate(ctx, ins.ID, "superseded by new design", "")
		require.NoError(t, err)
		assert.Equal(t, types.StatusDeprecated, got.Status)
		assert.Equal(t, "superseded by new design", got.DeprecationReason)
		assert.False(t, got.DeprecatedAt.IsZero())
	})

	t.Run("double deprecate fails", func(t *testing.T) {
		f := newFixture(t)
		ins := f.saveInsight(t)
		_, err := f.val.Deprecate(ctx, ins.ID, "first", "")
		require.NoError(t, err)

		_, err = f.val.Deprecate(ctx, ins.ID, "second", "")
		assert.ErrorIs(t, err, types.ErrInvalidTransition)
	})

	t.Run("superseded_by must exist", func(t *testing.T) {
		f := newFixture(t)
		ins := f.saveInsight(t)
		_, err := f.val.Deprecate(ctx, ins.ID, "replaced", "insight:missing")
		assert.ErrorIs(t, err, types.ErrInvalidReference)
	})

	t.Run("self reference rejected", func(t *testing.T) {
		f := newFixture(t)
		ins := f.saveInsight(t)
		_, err := f.val.Deprecate(ctx, ins.ID, "replaced", ins.ID)
		assert.ErrorIs(t, err, types.ErrInvalidReference)
	})

	t.Run("replacement chain must resolve", func(t *testing.T) {
		f := newFixture(t)
		dead := f.saveInsight(t)
		_, err := f.val.Deprecate(ctx, dead.ID, "dead end", "")
		require.NoError(t, err)

		ins := f.saveInsight(t)
		_, err = f.val.Deprecate(ctx, ins.ID, "replaced", dead.ID)
		assert.ErrorIs(t, err, types.ErrInvalidReference)
	})

	t.Run("valid replacement accepted", func(t *testing.T) {
		f := newFixture(t)
		replacement := f.saveInsight(t)
		ins := f.saveInsight(t)

		got, err := f.val.Deprecate(ctx, ins.ID, "replaced", replacement.ID)
		require.NoError(t, err)
		assert.Equal(t, replacement.ID, got.SupersededBy)
	})
}

func TestSetSupersededBy(t *testing.T) {
	ctx := context.Background()

	t.Run("fills an omitted pointer once", func(t *testing.T) {
		f := newFixture(t)
		replacement := f.saveInsight(t)
		ins := f.saveInsight(t)
		_, err := f.val.Deprecate(ctx, ins.ID, "replaced later", "")
		require.NoError(t, err)

		got, err := f.val.SetSupersededBy(ctx, ins.ID, replacement.ID)
		require.NoError(t, err)
		assert.Equal(t, replacement.ID, got.SupersededBy)

		other := f.saveInsight(t)
		_, err = f.val.SetSupersededBy(ctx, ins.ID, other.ID)
		assert.ErrorIs(t, err, types.ErrInvalidTransition)
	})

	t.Run("requires deprecated state", func(t *testing.T) {
		f := newFixture(t)
		replacement := f.saveInsight(t)
		ins := f.saveInsight(t)

		_, err := f.val.SetSupersededBy(ctx, ins.ID, replacement.ID)
		assert.ErrorIs(t, err, types.ErrInvalidTransition)
	})
}

func TestDirHasher(t *testing.T) {
	root := t.TempDir()
	h := NewDirHasher()
	h.Register("repo", root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "f.go"), []byte("content"), 0644))

	t.Run("stable for identical content", func(t *testing.T) {
		a, err := h.Hash("repo", "f.go")
		require.NoError(t, err)
		b, err := h.Hash("repo", "f.go")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("changes with content", func(t *testing.T) {
		before, err := h.Hash("repo", "f.go")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(root, "f.go"), []byte("different"), 0644))
		after, err := h.Hash("repo", "f.go")
		require.NoError(t, err)
		assert.NotEqual(t, before, after)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := h.Hash("repo", "gone.go")
		assert.ErrorIs(t, err, ErrFileMissing)
	})

	t.Run("unknown repository", func(t *testing.T) {
		_, err := h.Hash("elsewhere", "f.go")
		assert.ErrorIs(t, err, ErrUnknownRepository)
	})
}
