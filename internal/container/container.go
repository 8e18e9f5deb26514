// Package container owns the host side of a containerized build: probing
// Docker access, relaunching under sudo when the daemon refuses the
// current user, and handing the build off to the toolchain image with the
// project directory mounted at a fixed path.
//
// Inside the container the same binary runs in inner mode and drives the
// pipeline directly; this package never runs in that mode.
package container

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openuav/fwctl/internal/config"
	"github.com/openuav/fwctl/internal/pipeline"
	"github.com/openuav/fwctl/internal/tools"
	"github.com/openuav/fwctl/internal/vcs"
)

const (
	// workDir is where the project directory is mounted inside the
	// container.
	workDir = "/work"

	// mountedTool is where the running executable is mounted inside the
	// container so the image does not need the tool installed.
	mountedTool = "/usr/local/bin/fwctl"
)

// Request is one containerized build handoff.
type Request struct {
	Options pipeline.Options

	// ConfigFile is the loaded config file on the host, empty when
	// built-in defaults were used. It must live inside the project
	// directory so the mounted container sees it.
	ConfigFile string

	// TargetsOverride carries an explicit firmware target selection to
	// the inner process. Empty means the config's targets apply.
	TargetsOverride []string
}

// Dispatcher runs builds inside the configured toolchain images.
type Dispatcher struct {
	cfg    config.Config
	runner tools.CommandRunner
	stdout io.Writer
	stderr io.Writer

	// executable locates the running binary for the tool mount.
	executable func() (string, error)
}

// NewDispatcher returns a Dispatcher executing docker through runner.
func NewDispatcher(cfg config.Config, runner tools.CommandRunner) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		runner:     runner,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		executable: os.Executable,
	}
}

// SetOutput redirects streamed container output, mainly for tests.
func (d *Dispatcher) SetOutput(stdout, stderr io.Writer) {
	d.stdout = stdout
	d.stderr = stderr
}

// Run performs the host side of a build and delegates the rest to the
// container: create the dist directory, mark the firmware checkout safe
// for host git after the container ran as another uid, then docker run.
func (d *Dispatcher) Run(req Request) error {
	if err := os.MkdirAll(d.cfg.DistDir, 0o755); err != nil {
		return fmt.Errorf("container: create dist directory: %w", err)
	}

	layout := d.cfg.LayoutSpec().Resolve(req.Options.Version)
	if err := vcs.AddGlobalSafeDirectory(d.runner, layout.FirmwareDir); err != nil {
		return err
	}

	inner, err := d.innerArgs(req)
	if err != nil {
		return err
	}
	exe, err := d.executable()
	if err != nil {
		return fmt.Errorf("container: locate executable: %w", err)
	}

	image := d.image(req.Options)
	args := []string{
		"run", "--rm",
		"-w", workDir,
		"-v", d.cfg.ProjectDir + ":" + workDir + ":rw",
		"-v", exe + ":" + mountedTool + ":ro",
		image,
		mountedTool,
	}
	args = append(args, inner...)

	inv := tools.Invocation{Name: "docker", Args: args}
	log.Info().Str("image", image).Str("cmd", inv.String()).Msg("entering build container")
	if err := d.runner.RunStreaming(inv, d.stdout, d.stderr); err != nil {
		return fmt.Errorf("container: build failed: %s: %w", inv, err)
	}
	return nil
}

// image selects the toolchain image: the full firmware toolchain when a
// firmware build is requested, otherwise the slim codec image.
func (d *Dispatcher) image(opts pipeline.Options) string {
	if opts.BuildFirmware {
		return d.cfg.Container.FirmwareImage
	}
	return d.cfg.Container.CodecImage
}

// innerArgs renders the command line for the inner process. The version
// and build tag are forwarded resolved, so the inner process never
// consults git or the version file itself.
func (d *Dispatcher) innerArgs(req Request) ([]string, error) {
	args := []string{
		"--container",
		"--version=" + req.Options.Version.String(),
		"--inner-tag=" + req.Options.BuildTag,
	}
	if req.ConfigFile != "" {
		rel, err := filepath.Rel(d.cfg.ProjectDir, req.ConfigFile)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("container: config file %s is outside the project directory %s and will not be mounted", req.ConfigFile, d.cfg.ProjectDir)
		}
		args = append(args, "--config="+workDir+"/"+filepath.ToSlash(rel))
	}
	if req.Options.BuildCodec {
		args = append(args, "--pymavlink")
	}
	if req.Options.BuildFirmware {
		args = append(args, "--px4")
	}
	if req.Options.BuildAnalyzer {
		args = append(args, "--wireshark")
	}
	if len(req.TargetsOverride) > 0 {
		args = append(args, "--targets="+strings.Join(req.TargetsOverride, ","))
	}
	return args, nil
}

// EnsureDaemonAccess probes the Docker daemon and, when it refuses the
// current user, relaunches the whole command line under sudo. It returns
// the child's exit code and true when a relaunch happened; the caller
// exits with that code instead of continuing.
func EnsureDaemonAccess(runner tools.CommandRunner) (int, bool) {
	if runtime.GOOS == "windows" {
		return 0, false
	}
	if _, _, _, err := runner.Run(tools.Invocation{Name: "docker", Args: []string{"info"}}); err == nil {
		return 0, false
	}
	log.Warn().Msg("docker daemon refused access, relaunching under sudo")
	return relaunchUnderSudo(os.Args), true
}

// relaunchUnderSudo reruns argv under sudo with the caller's standard
// streams attached, so the password prompt reaches the terminal.
func relaunchUnderSudo(argv []string) int {
	cmd := exec.Command("sudo", argv...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		log.Error().Err(err).Msg("sudo relaunch failed")
		return 1
	}
	return 0
}
