// Package vcs provides typed access to the git CLI for checkout
// synchronization. All repository operations target a specific directory
// via "git -C <dir>" and execute through a tools.CommandRunner so the
// calling state machine can be tested against a fake.
package vcs

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openuav/fwctl/internal/tools"
)

// CloneOptions selects between a plain clone and a tag-pinned shallow
// clone with recursive submodules.
type CloneOptions struct {
	Tag        string
	Depth      int
	Submodules bool
}

// Clone creates a local checkout of remote at dir. The directory must not
// exist yet, so this is the one operation that does not go through Repo.
func Clone(runner tools.CommandRunner, remote, dir string, opts CloneOptions) error {
	args := []string{"clone", remote, dir}
	if opts.Depth > 0 {
		args = append(args, "--depth", fmt.Sprintf("%d", opts.Depth))
	}
	if opts.Tag != "" {
		args = append(args, "--branch", opts.Tag)
	}
	if opts.Submodules {
		args = append(args, "--recurse-submodules")
	}
	return run(runner, "", args...)
}

// AddGlobalSafeDirectory marks dir as safe in the global git config.
// Required before a containerized build touches a checkout owned by a
// different uid on the host.
func AddGlobalSafeDirectory(runner tools.CommandRunner, dir string) error {
	return run(runner, "", "config", "--global", "--add", "safe.directory", dir)
}

// Repo represents a git checkout at a specific directory. There is no
// default directory, so callers always say which checkout they mean.
type Repo struct {
	dir    string
	runner tools.CommandRunner
}

// NewRepo returns a Repo targeting the given checkout directory.
func NewRepo(runner tools.CommandRunner, dir string) *Repo {
	return &Repo{dir: dir, runner: runner}
}

// Dir returns the checkout directory.
func (r *Repo) Dir() string {
	return r.dir
}

// PinnedRemoteTag returns the tag a shallow, tag-pinned checkout declares
// for its remote. It parses "git remote show origin -n" for the first
// refs/ entry; a checkout cloned with --branch <tag> records its sole
// fetch ref there.
func (r *Repo) PinnedRemoteTag() (string, error) {
	out, err := r.output("remote", "show", "origin", "-n")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "refs") {
			parts := strings.Split(trimmed, "/")
			return parts[len(parts)-1], nil
		}
	}
	return "", fmt.Errorf("vcs: no pinned ref recorded for remote origin in %s", r.dir)
}

// Pull updates the checkout from its remote default branch in place.
func (r *Repo) Pull() error {
	return r.run("pull")
}

// ResetHard discards all local modifications, restoring the checkout to
// its current HEAD.
func (r *Repo) ResetHard() error {
	return r.run("reset", "--hard")
}

// Apply applies a patch file, tolerating incidental whitespace drift.
// A non-zero exit means the patch did not take cleanly; the working tree
// may hold a partial application.
func (r *Repo) Apply(patchPath string) error {
	return r.run("apply", "--ignore-space-change", "--ignore-whitespace", patchPath)
}

// SetUserIdentity records a committer identity in the checkout-scoped
// config. The identity never leaves the checkout.
func (r *Repo) SetUserIdentity(name, email string) error {
	if err := r.run("config", "user.email", email); err != nil {
		return err
	}
	return r.run("config", "user.name", name)
}

// AddAll stages every change in the checkout.
func (r *Repo) AddAll() error {
	return r.run("add", ".")
}

// Commit records the staged changes as a single commit.
func (r *Repo) Commit(message string) error {
	return r.run("commit", "-m", message)
}

// ShortHead returns the abbreviated commit id of HEAD.
func (r *Repo) ShortHead() (string, error) {
	out, err := r.output("rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Repo) run(args ...string) error {
	return run(r.runner, r.dir, args...)
}

func (r *Repo) output(args ...string) (string, error) {
	return output(r.runner, r.dir, args...)
}

func run(runner tools.CommandRunner, dir string, args ...string) error {
	_, err := output(runner, dir, args...)
	return err
}

func output(runner tools.CommandRunner, dir string, args ...string) (string, error) {
	inv := tools.Invocation{Name: "git", Args: args}
	if dir != "" {
		inv.Args = append([]string{"-C", dir}, args...)
	}
	log.Debug().Str("cmd", inv.String()).Msg("vcs exec")

	stdout, stderr, exitCode, err := runner.Run(inv)
	if err != nil {
		return "", fmt.Errorf("vcs: git %s failed exit=%d stderr=%q: %w",
			strings.Join(args, " "), exitCode, strings.TrimSpace(string(stderr)), err)
	}
	return string(stdout), nil
}
