package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openuav/fwctl/internal/testutil/fakerunner"
	"github.com/openuav/fwctl/internal/tools"
	"github.com/openuav/fwctl/internal/version"
)

const (
	testFirmwareRemote = "https://github.com/PX4/PX4-Autopilot"
	testCodecRemote    = "https://github.com/ardupilot/pymavlink"
)

type syncFixture struct {
	runner *fakerunner.Runner
	store  *Store
	sync   *Synchronizer

	root     string
	firmware CheckoutSpec
	codec    CheckoutSpec
}

// newSyncFixture builds a workspace under a fresh project dir. The fake
// runner mimics one clone side effect: the checkout directory appears.
func newSyncFixture(t *testing.T, tag string) *syncFixture {
	t.Helper()
	root := filepath.Join(t.TempDir(), "build")
	runner := &fakerunner.Runner{}
	runner.OnCommand = func(inv tools.Invocation) {
		if inv.Name == "git" && len(inv.Args) >= 3 && inv.Args[0] == "clone" {
			if err := os.MkdirAll(inv.Args[2], 0o755); err != nil {
				t.Fatalf("fake clone mkdir: %v", err)
			}
		}
	}

	v := version.MustParse(tag)
	store := NewStore(root, v, "run-1")
	return &syncFixture{
		runner: runner,
		store:  store,
		sync:   NewSynchronizer(runner, store, root, v),
		root:   root,
		firmware: CheckoutSpec{
			Remote: testFirmwareRemote,
			Dir:    filepath.Join(root, "PX4-Autopilot"),
			Policy: PolicyPinnedTag,
		},
		codec: CheckoutSpec{
			Remote: testCodecRemote,
			Dir:    filepath.Join(root, "pymavlink"),
			Policy: PolicyTrackDefault,
		},
	}
}

func (f *syncFixture) stubDeclaredTag(t *testing.T, tag string) {
	t.Helper()
	out := "* remote origin\n" +
		"  Fetch URL: " + testFirmwareRemote + "\n" +
		"  HEAD branch: (not queried)\n" +
		"    refs/tags/" + tag + "\n"
	f.runner.StubPrefix("git -C "+f.firmware.Dir+" remote show origin -n", fakerunner.Result{Stdout: []byte(out)})
}

func (f *syncFixture) mkdirCheckout(t *testing.T, spec CheckoutSpec) {
	t.Helper()
	if err := os.MkdirAll(spec.Dir, 0o755); err != nil {
		t.Fatalf("mkdir checkout: %v", err)
	}
}

func assertCommands(t *testing.T, runner *fakerunner.Runner, want []string) {
	t.Helper()
	got := runner.CommandStrings()
	if len(got) != len(want) {
		t.Fatalf("command count = %d, want %d\n got: %q\nwant: %q", len(got), len(want), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEnsureClonesFreshWorkspace(t *testing.T) {
	f := newSyncFixture(t, "v1.12.0")
	if err := f.sync.Ensure(f.codec, f.firmware); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	assertCommands(t, f.runner, []string{
		"git clone " + testCodecRemote + " " + f.codec.Dir,
		"git -C " + f.codec.Dir + " pull",
		"git clone " + testFirmwareRemote + " " + f.firmware.Dir + " --depth 1 --branch v1.12.0 --recurse-submodules",
	})
	if f.store.Phase() != PhaseSynchronized {
		t.Fatalf("phase = %q, want synchronized", f.store.Phase())
	}
}

func TestEnsureReusesMatchingPinnedCheckout(t *testing.T) {
	f := newSyncFixture(t, "v1.12.0")
	f.mkdirCheckout(t, f.firmware)
	f.stubDeclaredTag(t, "v1.12.0")

	if err := f.sync.Ensure(f.firmware); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	assertCommands(t, f.runner, []string{
		"git -C " + f.firmware.Dir + " remote show origin -n",
	})
	if _, err := os.Stat(f.firmware.Dir); err != nil {
		t.Fatalf("matching checkout was disturbed: %v", err)
	}
}

func TestEnsureUpdatesTrackingCheckoutInPlace(t *testing.T) {
	f := newSyncFixture(t, "v1.12.0")
	f.mkdirCheckout(t, f.codec)

	if err := f.sync.Ensure(f.codec); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// No version query for the tracking policy, just a pull.
	assertCommands(t, f.runner, []string{
		"git -C " + f.codec.Dir + " pull",
	})
}

func TestEnsureMismatchDestroysWholeWorkspace(t *testing.T) {
	f := newSyncFixture(t, "v1.12.1")
	f.mkdirCheckout(t, f.firmware)
	f.mkdirCheckout(t, f.codec)
	leftover := filepath.Join(f.root, "stray.log")
	if err := os.WriteFile(leftover, []byte("old run"), 0o644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}
	f.stubDeclaredTag(t, "v1.12.0")

	if err := f.sync.Ensure(f.codec, f.firmware); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if _, err := os.Stat(leftover); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workspace root survived the mismatch: %v", err)
	}
	assertCommands(t, f.runner, []string{
		"git -C " + f.codec.Dir + " pull",
		"git -C " + f.firmware.Dir + " remote show origin -n",
		"git clone " + testCodecRemote + " " + f.codec.Dir,
		"git -C " + f.codec.Dir + " pull",
		"git clone " + testFirmwareRemote + " " + f.firmware.Dir + " --depth 1 --branch v1.12.1 --recurse-submodules",
	})

	rec, err := NewStore(f.root, version.MustParse("v1.12.1"), "run-2").Load()
	if err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if rec.Phase != PhaseSynchronized || rec.FirmwareVersion != "v1.12.1" {
		t.Fatalf("record after rebuild = %+v", rec)
	}
}

func TestEnsureRebuildsConflictedWorkspace(t *testing.T) {
	f := newSyncFixture(t, "v1.12.0")
	f.mkdirCheckout(t, f.firmware)
	seed := NewStore(f.root, version.MustParse("v1.12.0"), "earlier-run")
	if err := seed.Advance(PhaseSynchronized); err != nil {
		t.Fatalf("seed synchronized: %v", err)
	}
	if err := seed.Advance(PhaseConflicted); err != nil {
		t.Fatalf("seed conflicted: %v", err)
	}

	if err := f.sync.Ensure(f.firmware); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// The checkout is never inspected: a conflicted workspace is
	// destroyed before synchronization starts.
	assertCommands(t, f.runner, []string{
		"git clone " + testFirmwareRemote + " " + f.firmware.Dir + " --depth 1 --branch v1.12.0 --recurse-submodules",
	})
	if f.store.Phase() != PhaseSynchronized {
		t.Fatalf("phase = %q, want synchronized", f.store.Phase())
	}
}

func TestEnsureSurfacesCorruptRecord(t *testing.T) {
	f := newSyncFixture(t, "v1.12.0")
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		t.Fatalf("mkdir root: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.root, StateFileName), []byte("{half"), 0o644); err != nil {
		t.Fatalf("write corrupt record: %v", err)
	}

	if err := f.sync.Ensure(f.firmware); !errors.Is(err, ErrStateUnreadable) {
		t.Fatalf("expected ErrStateUnreadable, got %v", err)
	}
	if len(f.runner.Commands) != 0 {
		t.Fatalf("commands ran against a workspace with an unreadable record: %q", f.runner.CommandStrings())
	}
}

func TestEnsureGivesUpWhenMismatchSurvivesDestruction(t *testing.T) {
	f := newSyncFixture(t, "v1.12.1")
	// A checkout outside the workspace root survives destruction, so
	// the mismatch cannot be fixed by rebuilding.
	outside := CheckoutSpec{
		Remote: testFirmwareRemote,
		Dir:    filepath.Join(t.TempDir(), "PX4-Autopilot"),
		Policy: PolicyPinnedTag,
	}
	if err := os.MkdirAll(outside.Dir, 0o755); err != nil {
		t.Fatalf("mkdir checkout: %v", err)
	}
	out := "  refs/tags/v1.12.0\n"
	f.runner.StubPrefix("git -C "+outside.Dir+" remote show origin -n", fakerunner.Result{Stdout: []byte(out)})

	err := f.sync.Ensure(outside)
	if err == nil {
		t.Fatal("expected an error when the mismatch survives rebuilding")
	}
	if got := f.runner.CountPrefix("git -C " + outside.Dir + " remote show"); got != 2 {
		t.Fatalf("version queried %d times, want one per pass", got)
	}
}

func TestEnsureDoesNotRegressLaterPhases(t *testing.T) {
	f := newSyncFixture(t, "v1.12.0")
	f.mkdirCheckout(t, f.firmware)
	f.stubDeclaredTag(t, "v1.12.0")
	seed := NewStore(f.root, version.MustParse("v1.12.0"), "earlier-run")
	for _, target := range []Phase{PhaseSynchronized, PhasePatched} {
		if err := seed.Advance(target); err != nil {
			t.Fatalf("seed %s: %v", target, err)
		}
	}

	if err := f.sync.Ensure(f.firmware); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if f.store.Phase() != PhasePatched {
		t.Fatalf("phase = %q, want patched to survive a re-sync", f.store.Phase())
	}
}
