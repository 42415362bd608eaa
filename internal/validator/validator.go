// Package validator owns the insight lifecycle: it detects divergence
// between the file state an insight was recorded against and the current
// working tree, and drives the explicit verify/deprecate transitions.
//
// State machine per insight:
//
//	active --(hash drift)--> needs_verification --(deprecate)--> deprecated
//	  ^                          |
//	  +----(verify still_valid)--+
//
// Drift is evaluated lazily at read/search time against a snapshot of
// current file hashes, never by a background watcher. Transitions on the
// same insight id are serialized; different ids proceed independently.
package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/recallkit/recall-mcp/internal/storage"
	"github.com/recallkit/recall-mcp/pkg/types"
)

// Validator drives insight lifecycle transitions. It never creates or
// deletes documents; it only updates validation state through the store.
type Validator struct {
	store  storage.Store
	hasher FileHasher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a validator backed by the given store and file hasher
func New(store storage.Store, hasher FileHasher) *Validator {
	return &Validator{
		store:  store,
		hasher: hasher,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing transitions for one insight id
func (v *Validator) lockFor(id string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.locks[id]
	if !ok {
		l = &sync.Mutex{}
		v.locks[id] = l
	}
	return l
}

// CheckDrift evaluates staleness for an insight and applies the
// active -> needs_verification transition when recorded hashes diverge
// from current file content. Insights without anchored files never drift.
// Returns the (possibly updated) insight.
func (v *Validator) CheckDrift(ctx context.Context, ins *types.Insight) (*types.Insight, error) {
	if err := ins.ConsistencyCheck(); err != nil {
		return nil, err
	}
	if ins.Status != types.StatusActive || len(ins.Files) == 0 {
		return ins, nil
	}

	// Snapshot current hashes up front so the comparison is consistent
	// even if files change mid-check.
	current, err := v.snapshot(ins)
	if err != nil {
		return nil, err
	}

	drifted := false
	for path, recorded := range ins.FileHashes {
		got, ok := current[path]
		if !ok || got != recorded {
			drifted = true
			break
		}
	}
	if !drifted {
		return ins, nil
	}

	l := v.lockFor(ins.ID)
	l.Lock()
	defer l.Unlock()

	// Re-fetch under the lock; a concurrent verify/deprecate may have
	// moved the state already.
	fresh, err := v.store.GetInsight(ctx, ins.ID)
	if err != nil {
		return nil, err
	}
	if fresh.Status != types.StatusActive {
		return fresh, nil
	}

	fresh.Status = types.StatusNeedsVerification
	if err := v.store.UpdateInsightState(ctx, fresh); err != nil {
		return nil, fmt.Errorf("persist drift transition for %s: %w", ins.ID, err)
	}
	return fresh, nil
}

// snapshot computes current hashes for every anchored file. A missing
// file maps to an empty hash, which always compares as drift.
func (v *Validator) snapshot(ins *types.Insight) (map[string]string, error) {
	current := make(map[string]string, len(ins.Files))
	for _, path := range ins.Files {
		h, err := v.hasher.Hash(ins.Repository, path)
		if errors.Is(err, ErrFileMissing) {
			current[path] = ""
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", path, err)
		}
		current[path] = h
	}
	return current, nil
}

// VerifyRequest carries an explicit verification outcome.
type VerifyRequest struct {
	Result types.ValidationResult
	Notes  string

	// ConfirmedFiles limits the hash refresh for partially_valid
	// results to the files the caller re-checked. Ignored for other
	// results.
	ConfirmedFiles []string
}

// Verify applies an explicit verification outcome:
//   - still_valid: back to active, all hashes refreshed to current content
//   - partially_valid: stays needs_verification, notes recorded, hashes
//     refreshed only for confirmed files
//   - no_longer_valid: stays needs_verification pending an explicit
//     deprecate; verification alone never deprecates
//
// Verifying a deprecated insight fails with ErrInvalidTransition.
func (v *Validator) Verify(ctx context.Context, id string, req VerifyRequest) (*types.Insight, error) {
	if !types.IsValidValidationResult(string(req.Result)) {
		return nil, fmt.Errorf("unknown validation result %q", req.Result)
	}

	l := v.lockFor(id)
	l.Lock()
	defer l.Unlock()

	ins, err := v.store.GetInsight(ctx, id)
	if err != nil {
		return nil, err
	}
	if ins.Status == types.StatusDeprecated {
		return nil, fmt.Errorf("verify %s: insight is deprecated: %w", id, types.ErrInvalidTransition)
	}

	ins.LastValidation = req.Result
	ins.ValidationNotes = req.Notes

	switch req.Result {
	case types.StillValid:
		if err := v.refreshHashes(ins, ins.Files); err != nil {
			return nil, err
		}
		ins.Status = types.StatusActive

	case types.PartiallyValid:
		if err := v.refreshHashes(ins, req.ConfirmedFiles); err != nil {
			return nil, err
		}
		ins.Status = types.StatusNeedsVerification

	case types.NoLongerValid:
		ins.Status = types.StatusNeedsVerification
	}

	if err := v.store.UpdateInsightState(ctx, ins); err != nil {
		return nil, fmt.Errorf("persist verify for %s: %w", id, err)
	}
	return ins, nil
}

// refreshHashes re-hashes the named files in place. Paths not anchored by
// the insight are ignored so the files/file_hashes invariant cannot break.
// Files that are currently missing keep their recorded hash; they will
// surface as drift again on the next read.
func (v *Validator) refreshHashes(ins *types.Insight, paths []string) error {
	anchored := make(map[string]bool, len(ins.Files))
	for _, f := range ins.Files {
		anchored[f] = true
	}
	for _, path := range paths {
		if !anchored[path] {
			continue
		}
		h, err := v.hasher.Hash(ins.Repository, path)
		if errors.Is(err, ErrFileMissing) {
			continue
		}
		if err != nil {
			return fmt.Errorf("hash %s: %w", path, err)
		}
		ins.FileHashes[path] = h
	}
	return nil
}

// Deprecate retires an insight from any non-terminal state. Deprecated
// insights are immutable afterwards except for the superseded_by pointer
// (see SetSupersededBy).
func (v *Validator) Deprecate(ctx context.Context, id, reason, supersededBy string) (*types.Insight, error) {
	l := v.lockFor(id)
	l.Lock()
	defer l.Unlock()

	ins, err := v.store.GetInsight(ctx, id)
	if err != nil {
		return nil, err
	}
	if ins.Status == types.StatusDeprecated {
		return nil, fmt.Errorf("deprecate %s: already deprecated: %w", id, types.ErrInvalidTransition)
	}

	if supersededBy != "" {
		if err := v.checkReference(ctx, id, supersededBy); err != nil {
			return nil, err
		}
	}

	ins.Status = types.StatusDeprecated
	ins.DeprecatedAt = time.Now().UTC()
	ins.DeprecationReason = reason
	ins.SupersededBy = supersededBy

	if err := v.store.UpdateInsightState(ctx, ins); err != nil {
		return nil, fmt.Errorf("persist deprecate for %s: %w", id, err)
	}
	return ins, nil
}

// SetSupersededBy fills in a replacement pointer that was omitted at
// deprecation time. The pointer can be set once, never rewritten.
func (v *Validator) SetSupersededBy(ctx context.Context, id, supersededBy string) (*types.Insight, error) {
	l := v.lockFor(id)
	l.Lock()
	defer l.Unlock()

	ins, err := v.store.GetInsight(ctx, id)
	if err != nil {
		return nil, err
	}
	if ins.Status != types.StatusDeprecated {
		return nil, fmt.Errorf("set superseded_by on %s: insight is not deprecated: %w", id, types.ErrInvalidTransition)
	}
	if ins.SupersededBy != "" {
		return nil, fmt.Errorf("set superseded_by on %s: pointer already set: %w", id, types.ErrInvalidTransition)
	}
	if err := v.checkReference(ctx, id, supersededBy); err != nil {
		return nil, err
	}

	ins.SupersededBy = supersededBy
	if err := v.store.UpdateInsightState(ctx, ins); err != nil {
		return nil, fmt.Errorf("persist superseded_by for %s: %w", id, err)
	}
	return ins, nil
}

// checkReference validates a superseded_by target: it must exist, must
// not be the insight itself, and if it is itself deprecated it must carry
// its own forward pointer so the chain resolves.
func (v *Validator) checkReference(ctx context.Context, id, target string) error {
	if target == id {
		return fmt.Errorf("superseded_by %s: self reference: %w", target, types.ErrInvalidReference)
	}
	ref, err := v.store.GetInsight(ctx, target)
	if errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("superseded_by %s: %w", target, types.ErrInvalidReference)
	}
	if err != nil {
		return err
	}
	if ref.Status == types.StatusDeprecated && ref.SupersededBy == "" {
		return fmt.Errorf("superseded_by %s: target deprecated without replacement: %w", target, types.ErrInvalidReference)
	}
	return nil
}
