package manager

import (
	"context"
	log "log/slog"

	"github.com/sharedcode/cuberepo"
)

// First touch of a (tenant, app) synthesises its administrative cubes; first
// touch of a branch synthesises its branch permission cube. Both live at the
// boot AppId, the reserved 0.0.0 version.

const sysUserGroupsJSON = `{
  "name": "` + SysUserGroups + `",
  "axes": [
    {"name": "user", "hasDefault": true},
    {"name": "role", "columns": ["admin", "user", "readonly"]}
  ]
}`

const sysPermissionsJSON = `{
  "name": "` + SysPermissions + `",
  "axes": [
    {"name": "resource", "hasDefault": true},
    {"name": "role", "columns": ["admin", "user", "readonly"]},
    {"name": "action", "columns": ["update", "read", "release", "commit"]}
  ]
}`

const sysLockJSON = `{
  "name": "` + SysLock + `",
  "axes": [
    {"name": "system", "hasDefault": true}
  ],
  "metaProps": {"cache": false}
}`

const sysBranchPermissionsJSON = `{
  "name": "` + SysBranchPermissions + `",
  "axes": [
    {"name": "resource", "hasDefault": true},
    {"name": "user", "hasDefault": true}
  ]
}`

// DetectNewAppId bootstraps the administrative cubes of a (tenant, app) never
// seen before, and the branch permission cube of a new non-HEAD branch. Known
// coordinates are memoised, so the steady-state cost is one map lookup.
func (m *Manager) DetectNewAppId(ctx context.Context, appId cuberepo.AppId) error {
	key := appId.CacheKey()
	if _, ok := m.knownApps.Load(key); ok {
		return nil
	}
	boot := appId.AsBootVersion()
	infos, err := m.persister.Search(ctx, boot, "", "", cuberepo.SearchOptions{})
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		if err := m.bootstrapApp(ctx, boot); err != nil {
			return err
		}
	}
	if !appId.IsHead() {
		if err := m.ensureBranchPermissions(ctx, appId); err != nil {
			return err
		}
	}
	m.knownApps.Store(key, true)
	return nil
}

// bootstrapApp installs the default permission matrix: the caller becomes
// admin+user, everyone else user; admins may do everything, users read, update
// and commit, readonly users read. sys.lock starts unowned and uncached.
func (m *Manager) bootstrapApp(ctx context.Context, boot cuberepo.AppId) error {
	user := cuberepo.UserFrom(ctx)
	log.Info("bootstrapping application", "app", boot.String(), "user", user)

	groups, err := m.factory.FromSimpleJSON(boot, sysUserGroupsJSON)
	if err != nil {
		return err
	}
	groups.SetCell(true, map[string]string{"user": user, "role": RoleAdmin})
	groups.SetCell(true, map[string]string{"user": user, "role": RoleUser})
	// The user axis default column is the everyone-grant.
	groups.SetCell(true, map[string]string{"role": RoleUser})

	perms, err := m.factory.FromSimpleJSON(boot, sysPermissionsJSON)
	if err != nil {
		return err
	}
	for _, action := range []Action{ActionRead, ActionUpdate, ActionCommit, ActionRelease} {
		perms.SetCell(true, map[string]string{"role": RoleAdmin, "action": string(action)})
	}
	for _, action := range []Action{ActionRead, ActionUpdate, ActionCommit} {
		perms.SetCell(true, map[string]string{"role": RoleUser, "action": string(action)})
	}
	perms.SetCell(true, map[string]string{"role": RoleReadonly, "action": string(ActionRead)})

	lock, err := m.factory.FromSimpleJSON(boot, sysLockJSON)
	if err != nil {
		return err
	}

	for _, cube := range []cuberepo.Cube{groups, perms, lock} {
		if err := m.persister.UpdateCube(ctx, boot, cube, user); err != nil {
			return err
		}
		// Drop any NotFound sentinel cached before the cube existed.
		m.cubeCache.Remove(boot, cube.Name())
	}
	return nil
}

// ensureBranchPermissions installs the branch permission cube of a new branch,
// granting its creator full access, then syncs the boot branch from HEAD so
// the administrative cubes are visible on it.
func (m *Manager) ensureBranchPermissions(ctx context.Context, appId cuberepo.AppId) error {
	bootBranch := appId.AsBootVersion().AsBranch(appId.Branch)
	existing, err := m.persister.LoadCube(ctx, bootBranch, SysBranchPermissions)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	user := cuberepo.UserFrom(ctx)
	log.Info("creating branch permissions", "app", bootBranch.String(), "user", user)
	cube, err := m.factory.FromSimpleJSON(bootBranch, sysBranchPermissionsJSON)
	if err != nil {
		return err
	}
	cube.SetCell(true, map[string]string{"user": user})
	if err := m.persister.UpdateCube(ctx, bootBranch, cube, user); err != nil {
		return err
	}
	m.cubeCache.Remove(bootBranch, SysBranchPermissions)
	if _, err := m.updateBranchFrom(ctx, bootBranch, bootBranch.AsHead(), ""); err != nil {
		return err
	}
	return nil
}
