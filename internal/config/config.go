package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/openuav/fwctl/internal/version"
	"github.com/openuav/fwctl/internal/workspace"
)

// DefaultFileName is the config file looked up in the project directory
// when no explicit path is given.
const DefaultFileName = "fwctl.toml"

// Config is the resolved runtime configuration for one build run. All
// paths are absolute after Load; relative keys resolve against the
// directory holding the config file.
type Config struct {
	// ProjectDir holds the build inputs: the dialect definition, the
	// patches directory, and the version file.
	ProjectDir string

	WorkspaceDir string
	DistDir      string
	PatchesDir   string

	// Version pins the firmware release directly. When empty, the
	// release tag is read from VersionFile.
	Version     string
	VersionFile string

	Firmware  RepoConfig
	Codec     RepoConfig
	Dialect   DialectConfig
	Build     BuildConfig
	Container ContainerConfig
}

// RepoConfig names one upstream checkout and its one-time patch.
type RepoConfig struct {
	Remote string
	Dir    string

	// Patch is the patch id; the applied file is
	// <patches_dir>/<id>_<version>.patch.
	Patch string
}

// DialectConfig names the injected protocol dialect.
type DialectConfig struct {
	Name           string
	DefinitionFile string

	// AnalyzerPlugin is the output filename of the generated protocol
	// analyzer plugin.
	AnalyzerPlugin string
}

// BuildConfig drives the packaging and firmware build steps.
type BuildConfig struct {
	Python         string
	Targets        []string
	CommitterName  string
	CommitterEmail string
	CommitMessage  string
}

// ContainerConfig selects the images for containerized builds.
type ContainerConfig struct {
	FirmwareImage string
	CodecImage    string
}

// DefaultConfig returns the built-in configuration rooted at projectDir.
func DefaultConfig(projectDir string) Config {
	return Config{
		ProjectDir:   projectDir,
		WorkspaceDir: filepath.Join(projectDir, "build"),
		DistDir:      filepath.Join(projectDir, "dist"),
		PatchesDir:   filepath.Join(projectDir, "patches"),
		VersionFile:  filepath.Join(projectDir, ".px4-version"),
		Firmware: RepoConfig{
			Remote: "https://github.com/PX4/PX4-Autopilot",
			Dir:    "PX4-Autopilot",
			Patch:  "hil_gps_heading",
		},
		Codec: RepoConfig{
			Remote: "https://github.com/ardupilot/pymavlink",
			Dir:    "pymavlink",
			Patch:  "pymavlink",
		},
		Dialect: DialectConfig{
			Name:           "bell",
			DefinitionFile: filepath.Join(projectDir, "bell.xml"),
			AnalyzerPlugin: "bell-avr.lua",
		},
		Build: BuildConfig{
			Python: "python3",
			Targets: []string{
				"px4_fmu-v5x_default",
				"px4_fmu-v6c_default",
				"px4_fmu-v6x_default",
			},
			CommitterName:  "fwctl",
			CommitterEmail: "fwctl@localhost",
			CommitMessage:  "Local commit to facilitate build",
		},
		Container: ContainerConfig{
			FirmwareImage: "docker.io/px4io/px4-dev-nuttx-focal:latest",
			CodecImage:    "docker.io/library/python:3.11-buster",
		},
	}
}

type fileConfig struct {
	Version      string `toml:"version"`
	VersionFile  string `toml:"version_file"`
	WorkspaceDir string `toml:"workspace_dir"`
	DistDir      string `toml:"dist_dir"`
	PatchesDir   string `toml:"patches_dir"`

	Firmware  repoFileConfig      `toml:"firmware"`
	Codec     repoFileConfig      `toml:"codec"`
	Dialect   dialectFileConfig   `toml:"dialect"`
	Build     buildFileConfig     `toml:"build"`
	Container containerFileConfig `toml:"container"`
}

type repoFileConfig struct {
	Remote string `toml:"remote"`
	Dir    string `toml:"dir"`
	Patch  string `toml:"patch"`
}

type dialectFileConfig struct {
	Name           string `toml:"name"`
	Definition     string `toml:"definition"`
	AnalyzerPlugin string `toml:"analyzer_plugin"`
}

type buildFileConfig struct {
	Python         string   `toml:"python"`
	Targets        []string `toml:"targets"`
	CommitterName  string   `toml:"committer_name"`
	CommitterEmail string   `toml:"committer_email"`
	CommitMessage  string   `toml:"commit_message"`
}

type containerFileConfig struct {
	FirmwareImage string `toml:"firmware_image"`
	CodecImage    string `toml:"codec_image"`
}

// Load reads a TOML config file and overlays its keys onto the defaults
// rooted at the file's directory. Keys absent from the file keep their
// defaults.
func Load(path string) (Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("load build config: %w", err)
	}
	cfg := DefaultConfig(filepath.Dir(abs))

	var raw fileConfig
	meta, err := toml.DecodeFile(abs, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load build config (%s): %w", path, err)
	}

	if meta.IsDefined("version") {
		cfg.Version = strings.TrimSpace(raw.Version)
	}
	if meta.IsDefined("version_file") {
		cfg.VersionFile = cfg.resolve(raw.VersionFile)
	}
	if meta.IsDefined("workspace_dir") {
		cfg.WorkspaceDir = cfg.resolve(raw.WorkspaceDir)
	}
	if meta.IsDefined("dist_dir") {
		cfg.DistDir = cfg.resolve(raw.DistDir)
	}
	if meta.IsDefined("patches_dir") {
		cfg.PatchesDir = cfg.resolve(raw.PatchesDir)
	}
	if meta.IsDefined("firmware", "remote") {
		cfg.Firmware.Remote = strings.TrimSpace(raw.Firmware.Remote)
	}
	if meta.IsDefined("firmware", "dir") {
		cfg.Firmware.Dir = strings.TrimSpace(raw.Firmware.Dir)
	}
	if meta.IsDefined("firmware", "patch") {
		cfg.Firmware.Patch = strings.TrimSpace(raw.Firmware.Patch)
	}
	if meta.IsDefined("codec", "remote") {
		cfg.Codec.Remote = strings.TrimSpace(raw.Codec.Remote)
	}
	if meta.IsDefined("codec", "dir") {
		cfg.Codec.Dir = strings.TrimSpace(raw.Codec.Dir)
	}
	if meta.IsDefined("codec", "patch") {
		cfg.Codec.Patch = strings.TrimSpace(raw.Codec.Patch)
	}
	if meta.IsDefined("dialect", "name") {
		cfg.Dialect.Name = strings.TrimSpace(raw.Dialect.Name)
	}
	if meta.IsDefined("dialect", "definition") {
		cfg.Dialect.DefinitionFile = cfg.resolve(raw.Dialect.Definition)
	}
	if meta.IsDefined("dialect", "analyzer_plugin") {
		cfg.Dialect.AnalyzerPlugin = strings.TrimSpace(raw.Dialect.AnalyzerPlugin)
	}
	if meta.IsDefined("build", "python") {
		cfg.Build.Python = strings.TrimSpace(raw.Build.Python)
	}
	if meta.IsDefined("build", "targets") {
		cfg.Build.Targets = raw.Build.Targets
	}
	if meta.IsDefined("build", "committer_name") {
		cfg.Build.CommitterName = strings.TrimSpace(raw.Build.CommitterName)
	}
	if meta.IsDefined("build", "committer_email") {
		cfg.Build.CommitterEmail = strings.TrimSpace(raw.Build.CommitterEmail)
	}
	if meta.IsDefined("build", "commit_message") {
		cfg.Build.CommitMessage = raw.Build.CommitMessage
	}
	if meta.IsDefined("container", "firmware_image") {
		cfg.Container.FirmwareImage = strings.TrimSpace(raw.Container.FirmwareImage)
	}
	if meta.IsDefined("container", "codec_image") {
		cfg.Container.CodecImage = strings.TrimSpace(raw.Container.CodecImage)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load build config (%s): %w", path, err)
	}
	return cfg, nil
}

func (c Config) resolve(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

// Validate checks the fields every run needs regardless of which build
// steps are requested.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Firmware.Remote) == "" {
		return fmt.Errorf("firmware remote is required")
	}
	if strings.TrimSpace(c.Firmware.Dir) == "" {
		return fmt.Errorf("firmware dir is required")
	}
	if strings.TrimSpace(c.Codec.Remote) == "" {
		return fmt.Errorf("codec remote is required")
	}
	if strings.TrimSpace(c.Codec.Dir) == "" {
		return fmt.Errorf("codec dir is required")
	}
	if strings.TrimSpace(c.Dialect.Name) == "" {
		return fmt.Errorf("dialect name is required")
	}
	if strings.TrimSpace(c.Dialect.DefinitionFile) == "" {
		return fmt.Errorf("dialect definition file is required")
	}
	if strings.TrimSpace(c.Build.Python) == "" {
		return fmt.Errorf("build python interpreter is required")
	}
	if len(c.Build.Targets) == 0 {
		return fmt.Errorf("at least one build target is required")
	}
	if strings.TrimSpace(c.Build.CommitMessage) == "" {
		return fmt.Errorf("commit message is required")
	}
	return nil
}

// ResolveVersion returns the firmware release tag for this run: the
// explicit version key when set, otherwise the version file contents.
func (c Config) ResolveVersion() (version.Version, error) {
	if strings.TrimSpace(c.Version) != "" {
		return version.Parse(c.Version)
	}
	data, err := os.ReadFile(c.VersionFile)
	if err != nil {
		return version.Version{}, fmt.Errorf("read firmware version: %w (set version in the config or create %s)", err, c.VersionFile)
	}
	v, err := version.Parse(string(data))
	if err != nil {
		return version.Version{}, fmt.Errorf("version file %s: %w", c.VersionFile, err)
	}
	return v, nil
}

// LayoutSpec bridges the configured directories into the workspace
// resolver.
func (c Config) LayoutSpec() workspace.LayoutSpec {
	return workspace.LayoutSpec{
		Root:        c.WorkspaceDir,
		FirmwareDir: c.Firmware.Dir,
		CodecDir:    c.Codec.Dir,
	}
}

// PatchPath returns the patch file for the given patch id and firmware
// version.
func (c Config) PatchPath(id string, v version.Version) string {
	return filepath.Join(c.PatchesDir, fmt.Sprintf("%s_%s.patch", id, v))
}
