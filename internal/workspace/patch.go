package workspace

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openuav/fwctl/internal/tools"
	"github.com/openuav/fwctl/internal/vcs"
)

// ErrPatchConflict reports that a patch no longer applies to its
// checkout. The conflict is recorded in the workspace record, and the
// next run rebuilds the workspace from scratch instead of retrying
// against the half-patched tree.
var ErrPatchConflict = errors.New("workspace: patch does not apply cleanly")

// PatchSpec names one one-time patch and the phase the workspace
// reaches once it is in.
type PatchSpec struct {
	Name        string
	CheckoutDir string
	PatchPath   string
	Reached     Phase

	// ForceClean discards local modifications before applying. Needed
	// for checkouts that are mutated in place by earlier builds.
	ForceClean bool
}

// Patcher applies one-time patches, guarded by the workspace record so
// repeated runs are no-ops.
type Patcher struct {
	runner tools.CommandRunner
	store  *Store
}

// NewPatcher returns a Patcher recording progress in store.
func NewPatcher(runner tools.CommandRunner, store *Store) *Patcher {
	return &Patcher{runner: runner, store: store}
}

// ApplyOnce applies spec's patch if the workspace has not reached
// spec.Reached yet. A conflict marks the workspace conflicted and
// returns ErrPatchConflict; nothing is rolled back in place.
func (p *Patcher) ApplyOnce(spec PatchSpec) error {
	if err := p.store.ensureLoaded(); err != nil {
		return err
	}
	phase := p.store.Phase()
	if phase.AtLeast(spec.Reached) {
		log.Debug().Str("patch", spec.Name).Msg("patch already applied, skipping")
		return nil
	}
	if !phase.CanTransition(spec.Reached) {
		return fmt.Errorf("workspace: cannot apply patch %s in phase %q: %w", spec.Name, phase, ErrIllegalTransition)
	}

	repo := vcs.NewRepo(p.runner, spec.CheckoutDir)
	if spec.ForceClean {
		if err := repo.ResetHard(); err != nil {
			return err
		}
	}

	log.Info().Str("patch", spec.Name).Str("dir", spec.CheckoutDir).Msg("applying patch")
	if err := repo.Apply(spec.PatchPath); err != nil {
		if markErr := p.store.Advance(PhaseConflicted); markErr != nil {
			log.Error().Err(markErr).Msg("failed to record the patch conflict")
		}
		return fmt.Errorf("%w: %s (the workspace will be rebuilt on the next run): %v", ErrPatchConflict, spec.Name, err)
	}
	return p.store.Advance(spec.Reached)
}
