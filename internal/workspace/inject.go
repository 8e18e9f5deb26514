package workspace

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openuav/fwctl/internal/fsx"
	"github.com/openuav/fwctl/internal/tools"
	"github.com/openuav/fwctl/internal/vcs"
)

// InjectSpec describes the custom message definition to merge into the
// firmware tree and the synthetic commit that records it.
type InjectSpec struct {
	Layout     Layout
	Definition string
	Dialect    string

	// Python is the interpreter used to regenerate wire-format bindings
	// on layouts where generation is not part of the firmware build.
	Python string

	AuthorName  string
	AuthorEmail string
	Message     string
}

// Injector copies the custom message definition into the firmware tree
// and commits the result, once per workspace. The firmware build
// derives a build identifier from repository state and refuses an
// unclean tree, hence the commit.
type Injector struct {
	runner tools.CommandRunner
	store  *Store
}

// NewInjector returns an Injector recording progress in store.
func NewInjector(runner tools.CommandRunner, store *Store) *Injector {
	return &Injector{runner: runner, store: store}
}

// InjectAndCommit performs the copy, the regeneration where the layout
// needs one, and the commit, unless the workspace already did. A
// repeated run skips all three: the committed state is assumed still
// valid, so the definition is only refreshed on the first build of a
// workspace.
func (i *Injector) InjectAndCommit(spec InjectSpec) error {
	if err := i.store.ensureLoaded(); err != nil {
		return err
	}
	phase := i.store.Phase()
	if phase.AtLeast(PhaseInjected) {
		log.Debug().Str("dialect", spec.Dialect).Msg("message definition already committed, skipping injection")
		return nil
	}
	if !phase.CanTransition(PhaseInjected) {
		return fmt.Errorf("workspace: cannot inject the message definition in phase %q: %w", phase, ErrIllegalTransition)
	}

	dest := spec.Layout.DialectDefinition(spec.Dialect)
	log.Info().Str("definition", spec.Definition).Str("dest", dest).Msg("injecting message definition")
	if err := fsx.CopyFile(spec.Definition, dest); err != nil {
		return fmt.Errorf("workspace: inject %s definition: %w", spec.Dialect, err)
	}

	if !spec.Layout.EmbeddedCodec {
		// Older firmware trees ship pre-generated bindings, so the
		// merged definition set has to be regenerated explicitly.
		if err := i.regenerate(spec, dest); err != nil {
			return err
		}
	}

	repo := vcs.NewRepo(i.runner, spec.Layout.FirmwareDir)
	if err := repo.SetUserIdentity(spec.AuthorName, spec.AuthorEmail); err != nil {
		return err
	}
	if err := repo.AddAll(); err != nil {
		return err
	}
	if err := repo.Commit(spec.Message); err != nil {
		return err
	}
	return i.store.Advance(PhaseInjected)
}

func (i *Injector) regenerate(spec InjectSpec, definition string) error {
	inv := tools.Invocation{
		Name: spec.Python,
		Args: []string{
			"-m", "pymavlink.tools.mavgen",
			"--lang=C",
			"--wire-protocol=2.0",
			"--output=" + spec.Layout.GeneratedDir,
			definition,
		},
		Dir: spec.Layout.CodecWorkDir,
	}
	log.Info().Str("output", spec.Layout.GeneratedDir).Msg("regenerating wire-format bindings")
	_, stderr, exitCode, err := i.runner.Run(inv)
	if err != nil {
		return fmt.Errorf("workspace: %s failed exit=%d stderr=%q: %w",
			inv, exitCode, strings.TrimSpace(string(stderr)), err)
	}
	return nil
}
