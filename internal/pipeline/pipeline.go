package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openuav/fwctl/internal/config"
	"github.com/openuav/fwctl/internal/fsx"
	"github.com/openuav/fwctl/internal/tools"
	"github.com/openuav/fwctl/internal/version"
	"github.com/openuav/fwctl/internal/workspace"
)

// Options selects the work for one run. Workspace preparation always
// happens; the two build steps and the analyzer plugin are opt-in.
type Options struct {
	Version  version.Version
	BuildTag string

	BuildCodec    bool
	BuildFirmware bool
	BuildAnalyzer bool
}

// Pipeline sequences workspace preparation and the delegated build
// tools for one firmware version. Every step blocks and the first
// failure aborts the run; no step is retried.
type Pipeline struct {
	cfg    config.Config
	runner tools.CommandRunner
	stdout io.Writer
	stderr io.Writer
}

// New returns a Pipeline executing external tools through runner.
func New(cfg config.Config, runner tools.CommandRunner) *Pipeline {
	return &Pipeline{cfg: cfg, runner: runner, stdout: os.Stdout, stderr: os.Stderr}
}

// SetOutput redirects streamed build tool output, mainly for tests.
func (p *Pipeline) SetOutput(stdout, stderr io.Writer) {
	p.stdout = stdout
	p.stderr = stderr
}

// Run prepares the workspace for opts.Version and performs the
// requested builds, archiving artifacts into the dist directory.
func (p *Pipeline) Run(opts Options) error {
	if opts.BuildAnalyzer && !opts.BuildCodec {
		return errors.New("pipeline: the analyzer plugin is generated during the codec package build")
	}

	runID := uuid.NewString()
	log.Info().
		Str("run_id", runID).
		Str("version", opts.Version.String()).
		Str("tag", opts.BuildTag).
		Msg("starting build run")

	if err := os.MkdirAll(p.cfg.DistDir, 0o755); err != nil {
		return fmt.Errorf("pipeline: create dist directory: %w", err)
	}

	layout := p.cfg.LayoutSpec().Resolve(opts.Version)
	store := workspace.NewStore(layout.Root, opts.Version, runID)

	if err := p.prepare(layout, store, opts); err != nil {
		return err
	}
	if opts.BuildCodec {
		if err := p.buildCodec(layout, store, opts); err != nil {
			return err
		}
	}
	if opts.BuildFirmware {
		if err := p.buildFirmware(layout, opts); err != nil {
			return err
		}
	}

	log.Info().Str("run_id", runID).Msg("build run complete")
	return nil
}

// prepare brings the workspace to the injected phase: checkouts
// synchronized, firmware patched, codec runtime deps installed, and the
// custom message committed.
func (p *Pipeline) prepare(layout workspace.Layout, store *workspace.Store, opts Options) error {
	sync := workspace.NewSynchronizer(p.runner, store, layout.Root, opts.Version)
	specs := make([]workspace.CheckoutSpec, 0, 2)
	if !layout.EmbeddedCodec {
		specs = append(specs, workspace.CheckoutSpec{
			Remote: p.cfg.Codec.Remote,
			Dir:    layout.CodecDir,
			Policy: workspace.PolicyTrackDefault,
		})
	}
	specs = append(specs, workspace.CheckoutSpec{
		Remote: p.cfg.Firmware.Remote,
		Dir:    layout.FirmwareDir,
		Policy: workspace.PolicyPinnedTag,
	})
	if err := sync.Ensure(specs...); err != nil {
		return err
	}

	patcher := workspace.NewPatcher(p.runner, store)
	err := patcher.ApplyOnce(workspace.PatchSpec{
		Name:        p.cfg.Firmware.Patch,
		CheckoutDir: layout.FirmwareDir,
		PatchPath:   p.cfg.PatchPath(p.cfg.Firmware.Patch, opts.Version),
		Reached:     workspace.PhasePatched,
	})
	if err != nil {
		return err
	}

	if err := p.installCodecDeps(layout); err != nil {
		return err
	}

	injector := workspace.NewInjector(p.runner, store)
	return injector.InjectAndCommit(workspace.InjectSpec{
		Layout:      layout,
		Definition:  p.cfg.Dialect.DefinitionFile,
		Dialect:     p.cfg.Dialect.Name,
		Python:      p.cfg.Build.Python,
		AuthorName:  p.cfg.Build.CommitterName,
		AuthorEmail: p.cfg.Build.CommitterEmail,
		Message:     p.cfg.Build.CommitMessage,
	})
}

func (p *Pipeline) installCodecDeps(layout workspace.Layout) error {
	err := p.stream("upgrading pip and wheel", tools.Invocation{
		Name: p.cfg.Build.Python,
		Args: []string{"-m", "pip", "install", "--upgrade", "pip", "wheel"},
	})
	if err != nil {
		return err
	}
	return p.stream("installing codec runtime dependencies", tools.Invocation{
		Name: p.cfg.Build.Python,
		Args: []string{"-m", "pip", "install", "-r", filepath.Join(layout.CodecDir, "requirements.txt")},
	})
}

// buildCodec packages the codec generator: one-time patch, definition
// set replacement, sdist/wheel build, artifact harvest, and optionally
// the protocol analyzer plugin.
func (p *Pipeline) buildCodec(layout workspace.Layout, store *workspace.Store, opts Options) error {
	patcher := workspace.NewPatcher(p.runner, store)
	err := patcher.ApplyOnce(workspace.PatchSpec{
		Name:        p.cfg.Codec.Patch,
		CheckoutDir: layout.CodecDir,
		PatchPath:   p.cfg.PatchPath(p.cfg.Codec.Patch, opts.Version),
		Reached:     workspace.PhaseReady,
		// The codec checkout is mutated in place by earlier builds, so
		// discard local modifications before patching.
		ForceClean: true,
	})
	if err != nil {
		return err
	}

	// The packaged definition set must be the firmware tree's copy so
	// both sides agree on the wire format.
	if err := fsx.ReplaceTree(layout.DefinitionsDir, layout.CodecDefinitionsDir()); err != nil {
		return fmt.Errorf("pipeline: replace codec definitions: %w", err)
	}

	codecDist := filepath.Join(layout.CodecDir, "dist")
	if err := fsx.CleanSuffixes(codecDist, ".tar.gz", ".whl"); err != nil {
		return fmt.Errorf("pipeline: clean codec dist: %w", err)
	}
	if err := fsx.CleanSuffixes(p.cfg.DistDir, ".tar.gz", ".whl"); err != nil {
		return fmt.Errorf("pipeline: clean dist: %w", err)
	}

	err = p.stream("packaging codec", tools.Invocation{
		Name: p.cfg.Build.Python,
		Args: []string{"setup.py", "sdist", "bdist_wheel"},
		Dir:  layout.CodecDir,
		Env:  map[string]string{"MAVLINK_DIALECT": p.cfg.Dialect.Name},
	})
	if err != nil {
		return err
	}

	copied, err := fsx.CopyDirFiles(codecDist, p.cfg.DistDir)
	if err != nil {
		return fmt.Errorf("pipeline: collect codec packages: %w", err)
	}
	log.Info().Strs("files", copied).Str("dist", p.cfg.DistDir).Msg("codec packages archived")

	if opts.BuildAnalyzer {
		return p.buildAnalyzer(layout)
	}
	return nil
}

func (p *Pipeline) buildAnalyzer(layout workspace.Layout) error {
	output := filepath.Join(p.cfg.DistDir, p.cfg.Dialect.AnalyzerPlugin)
	return p.stream("generating analyzer plugin", tools.Invocation{
		Name: p.cfg.Build.Python,
		Args: []string{
			"-m", "pymavlink.tools.mavgen",
			"--lang=WLua",
			"--wire-protocol=2.0",
			"--output=" + output,
			layout.DialectDefinition(p.cfg.Dialect.Name),
		},
		Dir: layout.CodecWorkDir,
	})
}

// buildFirmware runs the native build for each target sequentially and
// copies every image into the dist directory under a version-stamped
// name. A missing image after a build is a copy failure, not a warning.
func (p *Pipeline) buildFirmware(layout workspace.Layout, opts Options) error {
	buildDir := filepath.Join(layout.FirmwareDir, "build")
	if err := fsx.CleanSuffixes(buildDir, ".px4"); err != nil {
		return fmt.Errorf("pipeline: clean firmware build dir: %w", err)
	}
	if err := fsx.CleanSuffixes(p.cfg.DistDir, ".px4"); err != nil {
		return fmt.Errorf("pipeline: clean dist: %w", err)
	}

	for _, target := range p.cfg.Build.Targets {
		err := p.stream("building firmware target "+target, tools.Invocation{
			Name: "make",
			Args: []string{target, "-j"},
			Dir:  layout.FirmwareDir,
		})
		if err != nil {
			return err
		}

		image := filepath.Join(buildDir, target, target+".px4")
		dest := filepath.Join(p.cfg.DistDir, artifactName(target, opts.Version, opts.BuildTag))
		if err := fsx.CopyFile(image, dest); err != nil {
			return fmt.Errorf("pipeline: archive %s image: %w", target, err)
		}
		log.Info().Str("target", target).Str("artifact", dest).Msg("firmware image archived")
	}
	return nil
}

// artifactName stamps a firmware image with its target, firmware
// release, and caller-supplied build tag.
func artifactName(target string, v version.Version, tag string) string {
	return fmt.Sprintf("%s.%s.%s.px4", target, v, tag)
}

func (p *Pipeline) stream(step string, inv tools.Invocation) error {
	log.Info().Str("cmd", inv.String()).Msg(step)
	if err := p.runner.RunStreaming(inv, p.stdout, p.stderr); err != nil {
		return fmt.Errorf("pipeline: %s: %s: %w", step, inv, err)
	}
	return nil
}
