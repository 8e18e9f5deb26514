package workspace

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/openuav/fwctl/internal/tools"
	"github.com/openuav/fwctl/internal/vcs"
	"github.com/openuav/fwctl/internal/version"
)

// Policy selects how an existing checkout is reconciled with the
// requested version.
type Policy string

const (
	// PolicyPinnedTag binds a checkout to one release tag. A checkout
	// declaring any other tag is never updated in place; the whole
	// workspace is destroyed and recreated, because partial updates of
	// a pinned shallow clone are not generally safe.
	PolicyPinnedTag Policy = "pinned-tag"

	// PolicyTrackDefault follows the remote default branch with
	// non-destructive pulls and no version equality check.
	PolicyTrackDefault Policy = "track-default"
)

// CheckoutSpec describes one checkout a workspace needs.
type CheckoutSpec struct {
	Remote string
	Dir    string
	Policy Policy
}

// Synchronizer ensures checkouts exist and match the requested firmware
// version. The workspace root is its unit of destruction: a pinned
// mismatch or a conflicted record discards every checkout and the state
// record together, never one of them alone.
type Synchronizer struct {
	runner  tools.CommandRunner
	store   *Store
	root    string
	version version.Version
}

// NewSynchronizer returns a Synchronizer for the workspace at root.
func NewSynchronizer(runner tools.CommandRunner, store *Store, root string, v version.Version) *Synchronizer {
	return &Synchronizer{runner: runner, store: store, root: root, version: v}
}

// Ensure brings every given checkout into existence at the requested
// version, in order. Destroying the workspace restarts the whole pass,
// since earlier checkouts were destroyed with it.
func (s *Synchronizer) Ensure(specs ...CheckoutSpec) error {
	if err := s.store.ensureLoaded(); err != nil {
		return err
	}
	if s.store.Phase() == PhaseConflicted {
		log.Warn().Str("workspace", s.root).Msg("workspace marked conflicted by an earlier run, rebuilding from scratch")
		if err := s.destroy(); err != nil {
			return err
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		restart, err := s.ensurePass(specs)
		if err != nil {
			return err
		}
		if !restart {
			if s.store.Phase() == PhaseUninitialized {
				return s.store.Advance(PhaseSynchronized)
			}
			return nil
		}
	}
	return fmt.Errorf("workspace: checkout still declares the wrong version after recreation (requested %s)", s.version)
}

func (s *Synchronizer) ensurePass(specs []CheckoutSpec) (bool, error) {
	for _, spec := range specs {
		exists, err := dirExists(spec.Dir)
		if err != nil {
			return false, err
		}

		switch {
		case !exists && spec.Policy == PolicyPinnedTag:
			log.Info().Str("remote", spec.Remote).Str("tag", s.version.String()).Msg("cloning pinned checkout")
			err := vcs.Clone(s.runner, spec.Remote, spec.Dir, vcs.CloneOptions{
				Tag:        s.version.String(),
				Depth:      1,
				Submodules: true,
			})
			if err != nil {
				return false, err
			}

		case !exists:
			log.Info().Str("remote", spec.Remote).Msg("cloning checkout")
			if err := vcs.Clone(s.runner, spec.Remote, spec.Dir, vcs.CloneOptions{}); err != nil {
				return false, err
			}
			if err := vcs.NewRepo(s.runner, spec.Dir).Pull(); err != nil {
				return false, err
			}

		case spec.Policy == PolicyPinnedTag:
			declared, err := vcs.NewRepo(s.runner, spec.Dir).PinnedRemoteTag()
			if err != nil {
				return false, err
			}
			if declared != s.version.String() {
				log.Warn().
					Str("declared", declared).
					Str("requested", s.version.String()).
					Msg("existing checkout declares a different version, destroying workspace")
				if err := s.destroy(); err != nil {
					return false, err
				}
				return true, nil
			}
			// Declared version matches: reuse untouched. One-time
			// actions are phase-guarded, not re-applied.

		default:
			log.Info().Str("dir", spec.Dir).Msg("updating tracking checkout in place")
			if err := vcs.NewRepo(s.runner, spec.Dir).Pull(); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

func (s *Synchronizer) destroy() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("workspace: destroy %s: %w", s.root, err)
	}
	s.store.Reset()
	return nil
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("workspace: %s exists but is not a directory", path)
	}
	return true, nil
}
