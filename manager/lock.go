package manager

import (
	"context"

	"github.com/sharedcode/cuberepo"
)

// The application advisory lock lives in the single cell of the sys.lock cube
// at the boot AppId. It is durable — a coarse cross-process lock, not an
// in-memory mutex. sys.lock carries meta cache=false, so every read below
// reaches the persister.

// AppLockedBy returns the user currently holding the application lock, or ""
// when unlocked.
func (m *Manager) AppLockedBy(ctx context.Context, appId cuberepo.AppId) (string, error) {
	cube, err := m.GetCube(ctx, appId.AsBootVersion(), SysLock)
	if err != nil {
		return "", err
	}
	if cube == nil {
		return "", nil
	}
	v, ok := cube.Cell(map[string]string{})
	if !ok {
		return "", nil
	}
	owner, _ := v.(string)
	return owner, nil
}

// LockApp acquires the application lock for the acting user. Re-acquiring an
// owned lock is a no-op; a lock held by another user fails.
func (m *Manager) LockApp(ctx context.Context, appId cuberepo.AppId) error {
	user := cuberepo.UserFrom(ctx)
	owner, err := m.AppLockedBy(ctx, appId)
	if err != nil {
		return err
	}
	if owner == user {
		return nil
	}
	if owner != "" {
		return cuberepo.Errorf(cuberepo.LockBlocked, "application %v is locked by %s", appId, owner)
	}
	return m.writeLockOwner(ctx, appId, user)
}

// UnlockApp releases the application lock; it fails unless the acting user
// owns it.
func (m *Manager) UnlockApp(ctx context.Context, appId cuberepo.AppId) error {
	user := cuberepo.UserFrom(ctx)
	owner, err := m.AppLockedBy(ctx, appId)
	if err != nil {
		return err
	}
	if owner == "" {
		return cuberepo.Errorf(cuberepo.InvalidState, "application %v is not locked", appId)
	}
	if owner != user {
		return cuberepo.Errorf(cuberepo.LockBlocked, "application %v is locked by %s, not by %s", appId, owner, user)
	}
	return m.writeLockOwner(ctx, appId, "")
}

func (m *Manager) writeLockOwner(ctx context.Context, appId cuberepo.AppId, owner string) error {
	boot := appId.AsBootVersion()
	cube, err := m.GetCube(ctx, boot, SysLock)
	if err != nil {
		return err
	}
	if cube == nil {
		return cuberepo.Errorf(cuberepo.InvalidState, "no %s cube for %v", SysLock, boot)
	}
	if owner == "" {
		cube.RemoveCell(map[string]string{})
	} else {
		cube.SetCell(owner, map[string]string{})
	}
	if err := m.persister.UpdateCube(ctx, boot, cube, cuberepo.UserFrom(ctx)); err != nil {
		return err
	}
	m.cubeCache.Remove(boot, SysLock)
	return nil
}

// assertNotLockBlocked succeeds iff the application lock is unowned or owned
// by the given user. All mutating operations consult it before touching the
// persister.
func (m *Manager) assertNotLockBlocked(ctx context.Context, appId cuberepo.AppId, user string) error {
	owner, err := m.AppLockedBy(ctx, appId)
	if err != nil {
		return err
	}
	if owner == "" || owner == user {
		return nil
	}
	return cuberepo.Errorf(cuberepo.LockBlocked, "application %v is locked by %s", appId, owner)
}

// assertLockedByMe succeeds iff the acting user holds the application lock;
// required before move or release.
func (m *Manager) assertLockedByMe(ctx context.Context, appId cuberepo.AppId) error {
	owner, err := m.AppLockedBy(ctx, appId)
	if err != nil {
		return err
	}
	if owner != cuberepo.UserFrom(ctx) {
		return cuberepo.Errorf(cuberepo.LockBlocked, "operation requires the application lock on %v, held by %q", appId, owner)
	}
	return nil
}
