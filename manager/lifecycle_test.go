package manager

import (
	"testing"

	"github.com/sharedcode/cuberepo"
)

func TestReleaseCubesWorkflow(t *testing.T) {
	m, _, _ := newTestManager(t)
	seedBranches(t, m)
	setState(t, m, dev1, "oh", 2) // uncommitted branch work survives the release

	n, err := m.ReleaseCubes(adminCtx, head, "1.0.1")
	if err != nil {
		t.Fatalf("ReleaseCubes failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 released cube, got %d", n)
	}

	versions, err := m.GetVersions(adminCtx, "acme", "billing")
	if err != nil {
		t.Fatalf("GetVersions failed: %v", err)
	}
	if got := versions[cuberepo.StatusRelease]; len(got) != 1 || got[0] != "1.0.0" {
		t.Errorf("release versions got %v, want [1.0.0]", got)
	}
	foundSnap := false
	for _, v := range versions[cuberepo.StatusSnapshot] {
		if v == "1.0.1" {
			foundSnap = true
		}
	}
	if !foundSnap {
		t.Errorf("expected the new snapshot version, got %v", versions[cuberepo.StatusSnapshot])
	}

	// The frozen release is readable.
	released := mustGet(t, m, adminCtx, head.AsRelease(), "rates")
	if v := cellOf(t, released, map[string]string{"state": "tx"}); v != 1 {
		t.Errorf("released cell got %v, want 1", v)
	}

	// The released head seeds the new snapshot's HEAD.
	newHead := head.AsVersion("1.0.1")
	mustGet(t, m, adminCtx, newHead, "rates")

	// Branches moved under the new snapshot version with their work intact.
	moved := mustGet(t, m, adminCtx, newHead.AsBranch("dev1"), "rates")
	if v := cellOf(t, moved, map[string]string{"state": "oh"}); v != 2 {
		t.Errorf("moved branch cell got %v, want 2", v)
	}

	owner, err := m.AppLockedBy(adminCtx, head)
	if err != nil {
		t.Fatalf("AppLockedBy failed: %v", err)
	}
	if owner != "" {
		t.Errorf("the lock must be released afterwards, held by %q", owner)
	}
}

func TestReleaseRejectsSecondRelease(t *testing.T) {
	m, _, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	if _, err := m.ReleaseCubes(adminCtx, head, "1.0.1"); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if _, err := m.ReleaseCubes(adminCtx, head, "1.0.2"); !cuberepo.HasCode(err, cuberepo.InvalidState) {
		t.Errorf("expected InvalidState for a released version, got %v", err)
	}
}

func TestReleaseRejectsExistingTargetVersion(t *testing.T) {
	m, _, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	v2 := head.AsVersion("2.0.0")
	mustUpdate(t, m, adminCtx, v2, newRatesCube(v2))
	if _, err := m.ReleaseCubes(adminCtx, head, "2.0.0"); !cuberepo.HasCode(err, cuberepo.InvalidState) {
		t.Errorf("expected InvalidState for an existing target version, got %v", err)
	}
}

func TestReleaseRejectsBootVersion(t *testing.T) {
	m, _, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	boot := head.AsVersion(cuberepo.BootVersion)
	if _, err := m.ReleaseCubes(adminCtx, boot, "1.0.1"); !cuberepo.HasCode(err, cuberepo.InvalidInput) {
		t.Errorf("expected InvalidInput for the boot version, got %v", err)
	}
	if _, err := m.ReleaseCubes(adminCtx, head, cuberepo.BootVersion); !cuberepo.HasCode(err, cuberepo.InvalidInput) {
		t.Errorf("expected InvalidInput for a boot target version, got %v", err)
	}
}

func TestMoveBranchRequiresTheLock(t *testing.T) {
	m, _, _ := newTestManager(t)
	seedBranches(t, m)
	if _, err := m.MoveBranch(adminCtx, dev1, "1.1.0"); !cuberepo.HasCode(err, cuberepo.LockBlocked) {
		t.Errorf("expected LockBlocked without the lock, got %v", err)
	}

	if err := m.LockApp(adminCtx, head); err != nil {
		t.Fatalf("LockApp failed: %v", err)
	}
	defer m.UnlockApp(adminCtx, head)

	n, err := m.MoveBranch(adminCtx, dev1, "1.1.0")
	if err != nil {
		t.Fatalf("MoveBranch failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 moved cube, got %d", n)
	}
	mustGet(t, m, adminCtx, dev1.AsVersion("1.1.0"), "rates")
	gone, err := m.GetCube(adminCtx, dev1, "rates")
	if err != nil {
		t.Fatalf("GetCube failed: %v", err)
	}
	if gone != nil {
		t.Errorf("the old coordinate should be empty after the move")
	}
}

func TestMoveBranchRequiresReleasePermission(t *testing.T) {
	m, _, _ := newTestManager(t)
	seedBranches(t, m)
	if err := m.LockApp(userCtx, head); err != nil {
		t.Fatalf("LockApp failed: %v", err)
	}
	defer m.UnlockApp(userCtx, head)
	if _, err := m.MoveBranch(userCtx, dev1, "1.1.0"); !cuberepo.HasCode(err, cuberepo.SecurityViolation) {
		t.Errorf("plain users must not move branches, got %v", err)
	}
}
