package manager

import (
	"testing"

	"github.com/sharedcode/cuberepo"
)

func TestAdvisoryLockBlocksOtherUsers(t *testing.T) {
	m, p, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))

	if err := m.LockApp(adminCtx, head); err != nil {
		t.Fatalf("LockApp failed: %v", err)
	}
	owner, err := m.AppLockedBy(adminCtx, head)
	if err != nil {
		t.Fatalf("AppLockedBy failed: %v", err)
	}
	if owner != "alice" {
		t.Errorf("owner got %q, want alice", owner)
	}

	// Re-acquiring an owned lock is a no-op.
	if err := m.LockApp(adminCtx, head); err != nil {
		t.Errorf("re-acquire by the owner should succeed, got %v", err)
	}

	before := p.CallCount("UpdateCube")
	cube := newRatesCube(head)
	cube.SetCell(2, map[string]string{"state": "oh"})
	if err := m.UpdateCube(userCtx, head, cube); !cuberepo.HasCode(err, cuberepo.LockBlocked) {
		t.Errorf("expected LockBlocked, got %v", err)
	}
	if p.CallCount("UpdateCube") != before {
		t.Errorf("a lock-blocked mutation must never reach the persister")
	}
	if err := m.LockApp(userCtx, head); !cuberepo.HasCode(err, cuberepo.LockBlocked) {
		t.Errorf("expected LockBlocked on a foreign LockApp, got %v", err)
	}
	if err := m.UnlockApp(userCtx, head); !cuberepo.HasCode(err, cuberepo.LockBlocked) {
		t.Errorf("only the owner may unlock, got %v", err)
	}

	// The owner keeps mutating while holding the lock.
	if err := m.UpdateCube(adminCtx, head, cube); err != nil {
		t.Errorf("the owner's mutation should pass, got %v", err)
	}

	if err := m.UnlockApp(adminCtx, head); err != nil {
		t.Fatalf("UnlockApp failed: %v", err)
	}
	owner, err = m.AppLockedBy(adminCtx, head)
	if err != nil {
		t.Fatalf("AppLockedBy failed: %v", err)
	}
	if owner != "" {
		t.Errorf("expected the lock to be free, held by %q", owner)
	}
	if err := m.UpdateCube(userCtx, head, cube); err != nil {
		t.Errorf("mutations should pass after unlock, got %v", err)
	}
}

func TestUnlockWhenFreeFails(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.UnlockApp(adminCtx, head); !cuberepo.HasCode(err, cuberepo.InvalidState) {
		t.Errorf("unlocking a never-locked application must fail, got %v", err)
	}

	// Same after the lock has been taken and released: the caller owns nothing.
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	if err := m.LockApp(adminCtx, head); err != nil {
		t.Fatalf("LockApp failed: %v", err)
	}
	if err := m.UnlockApp(adminCtx, head); err != nil {
		t.Fatalf("UnlockApp failed: %v", err)
	}
	if err := m.UnlockApp(adminCtx, head); !cuberepo.HasCode(err, cuberepo.InvalidState) {
		t.Errorf("unlocking a free lock must fail, got %v", err)
	}
}

func TestLockIsSharedAcrossBranchesOfTheApp(t *testing.T) {
	m, _, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	dev := head.AsBranch("dev1")
	if _, err := m.CreateBranch(adminCtx, dev); err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}

	if err := m.LockApp(adminCtx, head); err != nil {
		t.Fatalf("LockApp failed: %v", err)
	}
	owner, err := m.AppLockedBy(userCtx, dev)
	if err != nil {
		t.Fatalf("AppLockedBy failed: %v", err)
	}
	if owner != "alice" {
		t.Errorf("the lock lives at the boot AppId, shared by all branches; got %q", owner)
	}
}
