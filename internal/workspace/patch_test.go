package workspace

import (
	"errors"
	"testing"

	"github.com/openuav/fwctl/internal/testutil/fakerunner"
	"github.com/openuav/fwctl/internal/version"
)

func newPatchFixture(t *testing.T, reached ...Phase) (*fakerunner.Runner, *Store, *Patcher) {
	t.Helper()
	store := NewStore(t.TempDir(), version.MustParse("v1.13.0"), "run-1")
	for _, target := range reached {
		if err := store.Advance(target); err != nil {
			t.Fatalf("seed %s: %v", target, err)
		}
	}
	runner := &fakerunner.Runner{}
	return runner, store, NewPatcher(runner, store)
}

func TestApplyOncePatchesThenAdvances(t *testing.T) {
	runner, store, patcher := newPatchFixture(t, PhaseSynchronized)
	err := patcher.ApplyOnce(PatchSpec{
		Name:        "hil_gps_heading",
		CheckoutDir: "/ws/PX4-Autopilot",
		PatchPath:   "/proj/patches/hil_gps_heading_v1.13.0.patch",
		Reached:     PhasePatched,
	})
	if err != nil {
		t.Fatalf("apply once: %v", err)
	}
	want := "git -C /ws/PX4-Autopilot apply --ignore-space-change --ignore-whitespace /proj/patches/hil_gps_heading_v1.13.0.patch"
	if got := runner.CommandStrings()[0]; got != want {
		t.Fatalf("apply command = %q, want %q", got, want)
	}
	if store.Phase() != PhasePatched {
		t.Fatalf("phase = %q, want patched", store.Phase())
	}
}

func TestApplyOnceSecondRunIsNoOp(t *testing.T) {
	runner, _, patcher := newPatchFixture(t, PhaseSynchronized)
	spec := PatchSpec{
		Name:        "hil_gps_heading",
		CheckoutDir: "/ws/PX4-Autopilot",
		PatchPath:   "/proj/patches/hil_gps_heading_v1.13.0.patch",
		Reached:     PhasePatched,
	}
	if err := patcher.ApplyOnce(spec); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := patcher.ApplyOnce(spec); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if got := runner.CountPrefix("git"); got != 1 {
		t.Fatalf("git ran %d times, want exactly one application", got)
	}
}

func TestApplyOnceForceCleanResetsFirst(t *testing.T) {
	runner, store, patcher := newPatchFixture(t, PhaseSynchronized, PhasePatched, PhaseInjected)
	err := patcher.ApplyOnce(PatchSpec{
		Name:        "pymavlink",
		CheckoutDir: "/ws/pymavlink",
		PatchPath:   "/proj/patches/pymavlink_v1.13.0.patch",
		Reached:     PhaseReady,
		ForceClean:  true,
	})
	if err != nil {
		t.Fatalf("apply once: %v", err)
	}
	got := runner.CommandStrings()
	if got[0] != "git -C /ws/pymavlink reset --hard" {
		t.Fatalf("first command = %q, want a hard reset", got[0])
	}
	if got[1] != "git -C /ws/pymavlink apply --ignore-space-change --ignore-whitespace /proj/patches/pymavlink_v1.13.0.patch" {
		t.Fatalf("second command = %q", got[1])
	}
	if store.Phase() != PhaseReady {
		t.Fatalf("phase = %q, want ready", store.Phase())
	}
}

func TestApplyOnceConflictMarksWorkspace(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, version.MustParse("v1.13.0"), "run-1")
	if err := store.Advance(PhaseSynchronized); err != nil {
		t.Fatalf("seed synchronized: %v", err)
	}
	runner := &fakerunner.Runner{}
	runner.StubPrefix("git -C /ws/PX4-Autopilot apply", fakerunner.Result{
		Stderr:   []byte("error: patch failed: src/modules/mavlink/mavlink_messages.cpp:53"),
		ExitCode: 1,
	})

	err := NewPatcher(runner, store).ApplyOnce(PatchSpec{
		Name:        "hil_gps_heading",
		CheckoutDir: "/ws/PX4-Autopilot",
		PatchPath:   "/proj/patches/hil_gps_heading_v1.13.0.patch",
		Reached:     PhasePatched,
	})
	if !errors.Is(err, ErrPatchConflict) {
		t.Fatalf("expected ErrPatchConflict, got %v", err)
	}
	if store.Phase() != PhaseConflicted {
		t.Fatalf("phase = %q, want conflicted", store.Phase())
	}

	// The conflict must survive this run so the next one rebuilds.
	rec, err := NewStore(root, version.MustParse("v1.13.0"), "run-2").Load()
	if err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if rec.Phase != PhaseConflicted {
		t.Fatalf("persisted phase = %q, want conflicted", rec.Phase)
	}
}

func TestApplyOnceRefusesOutOfOrder(t *testing.T) {
	runner, _, patcher := newPatchFixture(t)
	err := patcher.ApplyOnce(PatchSpec{
		Name:        "hil_gps_heading",
		CheckoutDir: "/ws/PX4-Autopilot",
		PatchPath:   "/proj/patches/hil_gps_heading_v1.13.0.patch",
		Reached:     PhasePatched,
	})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if len(runner.Commands) != 0 {
		t.Fatalf("commands ran before the order check: %q", runner.CommandStrings())
	}
}

func TestApplyOnceResetFailureIsNotAConflict(t *testing.T) {
	runner, store, patcher := newPatchFixture(t, PhaseSynchronized, PhasePatched, PhaseInjected)
	runner.StubPrefix("git -C /ws/pymavlink reset --hard", fakerunner.Result{
		Stderr:   []byte("fatal: not a git repository"),
		ExitCode: 128,
	})

	err := patcher.ApplyOnce(PatchSpec{
		Name:        "pymavlink",
		CheckoutDir: "/ws/pymavlink",
		PatchPath:   "/proj/patches/pymavlink_v1.13.0.patch",
		Reached:     PhaseReady,
		ForceClean:  true,
	})
	if err == nil || errors.Is(err, ErrPatchConflict) {
		t.Fatalf("reset failure misreported as a patch conflict: %v", err)
	}
	if store.Phase() != PhaseInjected {
		t.Fatalf("phase = %q, want injected to survive a tool failure", store.Phase())
	}
}
