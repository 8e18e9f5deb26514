// Command fwctl builds reproducible firmware distributions: it pins the
// firmware and codec checkouts to a release, injects the custom MAVLink
// dialect, and delegates the actual builds to the upstream toolchain
// inside a container.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/openuav/fwctl/internal/config"
	"github.com/openuav/fwctl/internal/container"
	"github.com/openuav/fwctl/internal/logging"
	"github.com/openuav/fwctl/internal/pipeline"
	"github.com/openuav/fwctl/internal/tools"
	"github.com/openuav/fwctl/internal/vcs"
	"github.com/openuav/fwctl/internal/version"
)

type options struct {
	configPath  string
	version     string
	tag         string
	codec       bool
	firmware    bool
	analyzer    bool
	targets     []string
	writeConfig bool
	force       bool

	// Container re-entry. Set by the dispatcher, never by hand.
	inner    bool
	innerTag string
}

func main() {
	logging.ConfigureRuntime("fwctl")

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("invalid command line")
	}
	if err := run(opts); err != nil {
		log.Fatal().Err(err).Msg("build failed")
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("fwctl", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "build config file (default: "+config.DefaultFileName+" in the working directory)")
	fs.StringVar(&opts.version, "version", "", "firmware release tag to build, overriding the config")
	fs.StringVar(&opts.tag, "tag", "", "build tag stamped into artifact names (default: short HEAD of the project checkout)")
	fs.BoolVar(&opts.codec, "pymavlink", false, "build the codec python package")
	fs.BoolVar(&opts.firmware, "px4", false, "build the firmware targets")
	fs.BoolVar(&opts.analyzer, "wireshark", false, "also generate the protocol analyzer plugin (needs --pymavlink)")
	fs.StringSliceVar(&opts.targets, "targets", nil, "firmware targets to build, overriding the config")
	fs.BoolVar(&opts.writeConfig, "write-config", false, "write a starting-point config file and exit")
	fs.BoolVar(&opts.force, "force", false, "overwrite an existing file with --write-config")
	fs.BoolVar(&opts.inner, "container", false, "")
	fs.StringVar(&opts.innerTag, "inner-tag", "", "")
	fs.MarkHidden("container")
	fs.MarkHidden("inner-tag")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(rest, " "))
	}
	if opts.analyzer && !opts.codec {
		return opts, errors.New("--wireshark needs --pymavlink")
	}
	return opts, nil
}

func run(opts options) error {
	if opts.firmware && runtime.GOARCH == "arm64" {
		return errors.New("the firmware toolchain image does not support arm64 hosts")
	}
	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	if opts.writeConfig {
		return writeConfigTemplate(opts, projectDir)
	}
	runner := tools.ExecRunner{}

	cfg, configFile, err := loadConfig(opts.configPath, projectDir)
	if err != nil {
		return err
	}
	if len(opts.targets) > 0 {
		cfg.Build.Targets = opts.targets
	}

	v, err := resolveVersion(opts, cfg)
	if err != nil {
		return err
	}
	tag, err := resolveBuildTag(opts, cfg, runner)
	if err != nil {
		return err
	}

	popts := pipeline.Options{
		Version:       v,
		BuildTag:      tag,
		BuildCodec:    opts.codec,
		BuildFirmware: opts.firmware,
		BuildAnalyzer: opts.analyzer,
	}

	if opts.inner {
		return pipeline.New(cfg, runner).Run(popts)
	}

	if code, relaunched := container.EnsureDaemonAccess(runner); relaunched {
		os.Exit(code)
	}
	return container.NewDispatcher(cfg, runner).Run(container.Request{
		Options:         popts,
		ConfigFile:      configFile,
		TargetsOverride: opts.targets,
	})
}

func writeConfigTemplate(opts options, projectDir string) error {
	path := opts.configPath
	if path == "" {
		path = filepath.Join(projectDir, config.DefaultFileName)
	}
	if err := config.WriteTemplate(path, opts.force); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("wrote config template")
	return nil
}

// loadConfig loads the named config file, or the default one from the
// working directory when it exists, or the built-in defaults. The second
// return is the loaded file's path, empty for built-in defaults.
func loadConfig(path, projectDir string) (config.Config, string, error) {
	if path == "" {
		candidate := filepath.Join(projectDir, config.DefaultFileName)
		if _, err := os.Stat(candidate); err != nil {
			return config.DefaultConfig(projectDir), "", nil
		}
		path = candidate
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return config.Config{}, "", fmt.Errorf("resolve config path: %w", err)
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return config.Config{}, "", err
	}
	return cfg, abs, nil
}

func resolveVersion(opts options, cfg config.Config) (version.Version, error) {
	if opts.version != "" {
		return version.Parse(opts.version)
	}
	return cfg.ResolveVersion()
}

// resolveBuildTag picks the artifact build tag: the container re-entry
// value, an explicit --tag, or the project checkout's short HEAD. The
// re-entry value wins so the inner process never consults git for it.
func resolveBuildTag(opts options, cfg config.Config, runner tools.CommandRunner) (string, error) {
	if opts.inner && opts.innerTag != "" {
		return opts.innerTag, nil
	}
	if opts.tag != "" {
		return opts.tag, nil
	}
	head, err := vcs.NewRepo(runner, cfg.ProjectDir).ShortHead()
	if err != nil {
		return "", fmt.Errorf("derive build tag from the project checkout: %w (pass --tag when building outside one)", err)
	}
	return head, nil
}
