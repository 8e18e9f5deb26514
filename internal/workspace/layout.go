package workspace

import (
	"path/filepath"

	"github.com/openuav/fwctl/internal/version"
)

// EmbeddedCodecSince is the first firmware release that ships the codec
// generator inside its own source tree. Earlier releases need a separate
// top-level checkout of it.
var EmbeddedCodecSince = version.MustParse("v1.13.0")

// LayoutSpec names the checkout directories that make up a workspace.
type LayoutSpec struct {
	// Root is the workspace directory holding all checkouts and the
	// state record. It is the unit of destruction on version mismatch.
	Root string

	// FirmwareDir is the directory name of the firmware checkout under
	// Root.
	FirmwareDir string

	// CodecDir is the directory name of a separate codec generator
	// checkout under Root, used only below EmbeddedCodecSince.
	CodecDir string
}

// Layout is the on-disk arrangement derived from one firmware version.
// Resolution is a pure mapping with exactly two branches, split at
// EmbeddedCodecSince.
type Layout struct {
	Root        string
	Version     version.Version
	FirmwareDir string

	// CodecDir is the codec generator checkout: a sibling of the
	// firmware checkout on older releases, a path inside it otherwise.
	CodecDir string

	// EmbeddedCodec reports whether CodecDir lives inside the firmware
	// tree, in which case no separate checkout is synchronized.
	EmbeddedCodec bool

	// DefinitionsDir is the message-definition directory inside the
	// firmware tree that receives the injected dialect.
	DefinitionsDir string

	// GeneratedDir receives regenerated wire-format bindings. Only the
	// separate-codec layout regenerates them; newer firmware does so as
	// part of its own build.
	GeneratedDir string

	// CodecWorkDir is the working directory for codec-generation
	// invocations, chosen so the generator package resolves from its
	// checkout.
	CodecWorkDir string
}

// Resolve maps a firmware version to its workspace layout. Deterministic
// and side-effect free.
func (s LayoutSpec) Resolve(v version.Version) Layout {
	firmware := filepath.Join(s.Root, s.FirmwareDir)

	if v.AtLeast(EmbeddedCodecSince) {
		mavlink := filepath.Join(firmware, "src", "modules", "mavlink", "mavlink")
		return Layout{
			Root:           s.Root,
			Version:        v,
			FirmwareDir:    firmware,
			CodecDir:       filepath.Join(mavlink, "pymavlink"),
			EmbeddedCodec:  true,
			DefinitionsDir: filepath.Join(mavlink, "message_definitions", "v1.0"),
			GeneratedDir:   filepath.Join(firmware, "src", "modules", "mavlink"),
			CodecWorkDir:   mavlink,
		}
	}

	included := filepath.Join(firmware, "mavlink", "include", "mavlink", "v2.0")
	return Layout{
		Root:           s.Root,
		Version:        v,
		FirmwareDir:    firmware,
		CodecDir:       filepath.Join(s.Root, s.CodecDir),
		EmbeddedCodec:  false,
		DefinitionsDir: filepath.Join(included, "message_definitions"),
		GeneratedDir:   included,
		CodecWorkDir:   s.Root,
	}
}

// DialectDefinition returns the injected dialect's destination inside
// the firmware tree.
func (l Layout) DialectDefinition(dialect string) string {
	return filepath.Join(l.DefinitionsDir, dialect+".xml")
}

// CodecDefinitionsDir returns the codec generator's own message
// definition set, replaced with the firmware tree's copy before
// packaging so both sides agree on the wire format.
func (l Layout) CodecDefinitionsDir() string {
	return filepath.Join(l.CodecDir, "message_definitions", "v1.0")
}

// StatePath returns the workspace state record location.
func (l Layout) StatePath() string {
	return filepath.Join(l.Root, StateFileName)
}
