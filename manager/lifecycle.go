package manager

import (
	"context"
	log "log/slog"
	"strings"
	"time"

	"github.com/sharedcode/cuberepo"
)

func assertNotBootVersion(version string) error {
	if version == cuberepo.BootVersion {
		return cuberepo.Errorf(cuberepo.InvalidInput, "version %s is reserved for system configuration", cuberepo.BootVersion)
	}
	return nil
}

// MoveBranch relocates every revision of a branch to a new version. The
// caller must hold the application lock and have release permission.
func (m *Manager) MoveBranch(ctx context.Context, appId cuberepo.AppId, newVersion string) (int, error) {
	if err := appId.Validate(); err != nil {
		return 0, err
	}
	if err := cuberepo.ValidateVersion(newVersion); err != nil {
		return 0, err
	}
	if err := assertNotBootVersion(appId.Version); err != nil {
		return 0, err
	}
	if err := assertNotBootVersion(newVersion); err != nil {
		return 0, err
	}
	if err := m.AssertPermissions(ctx, appId, "*", ActionRelease); err != nil {
		return 0, err
	}
	if err := m.assertLockedByMe(ctx, appId); err != nil {
		return 0, err
	}
	n, err := m.persister.MoveBranch(ctx, appId, newVersion)
	if err != nil {
		return 0, err
	}
	m.cubeCache.ClearBranches(appId)
	m.broadcast(ctx, appId)
	return n, nil
}

// ReleaseVersion freezes the head of a version as a RELEASE. The caller must
// hold the application lock and have release permission; a RELEASE at the
// version must not exist yet.
func (m *Manager) ReleaseVersion(ctx context.Context, appId cuberepo.AppId, newSnapVersion string) (int, error) {
	if err := m.validateReleaseTarget(ctx, appId, newSnapVersion); err != nil {
		return 0, err
	}
	if err := m.assertLockedByMe(ctx, appId); err != nil {
		return 0, err
	}
	return m.persister.ReleaseCubes(ctx, appId, newSnapVersion)
}

// ReleaseCubes is the full release workflow: every branch of the version moves
// to the new snapshot version, the head freezes as a RELEASE, and its content
// seeds the head of the new snapshot version. The application lock is held
// throughout.
func (m *Manager) ReleaseCubes(ctx context.Context, appId cuberepo.AppId, newSnapVersion string) (int, error) {
	if err := m.validateReleaseTarget(ctx, appId, newSnapVersion); err != nil {
		return 0, err
	}
	if err := m.LockApp(ctx, appId); err != nil {
		return 0, err
	}
	defer func() {
		if err := m.UnlockApp(ctx, appId); err != nil {
			log.Warn("failed to release application lock", "app", appId.String(), "err", err)
		}
	}()
	if m.options.ReleaseQuiesceDelay > 0 {
		// Let in-flight readers drain before the branches move underneath them.
		time.Sleep(m.options.ReleaseQuiesceDelay)
	}
	branches, err := m.persister.GetBranches(ctx, appId)
	if err != nil {
		return 0, err
	}
	for _, b := range branches {
		if strings.EqualFold(b, cuberepo.HeadBranch) {
			continue
		}
		if _, err := m.MoveBranch(ctx, appId.AsBranch(b), newSnapVersion); err != nil {
			return 0, err
		}
	}
	n, err := m.persister.ReleaseCubes(ctx, appId, newSnapVersion)
	if err != nil {
		return 0, err
	}
	newHead := appId.AsVersion(newSnapVersion).AsSnapshot().AsHead()
	if _, err := m.persister.CopyBranch(ctx, appId.AsRelease().AsHead(), newHead); err != nil {
		return 0, err
	}
	m.cubeCache.ClearBranches(appId)
	m.cubeCache.ClearBranches(newHead)
	m.broadcast(ctx, appId.AsHead())
	m.broadcast(ctx, newHead)
	log.Info("released version", "app", appId.String(), "newSnapshot", newSnapVersion, "cubes", n)
	return n, nil
}

func (m *Manager) validateReleaseTarget(ctx context.Context, appId cuberepo.AppId, newSnapVersion string) error {
	if err := appId.Validate(); err != nil {
		return err
	}
	if err := cuberepo.ValidateVersion(newSnapVersion); err != nil {
		return err
	}
	if err := assertNotBootVersion(appId.Version); err != nil {
		return err
	}
	if err := assertNotBootVersion(newSnapVersion); err != nil {
		return err
	}
	if appId.IsRelease() {
		return cuberepo.Errorf(cuberepo.InvalidInput, "%v is already released", appId)
	}
	if err := m.AssertPermissions(ctx, appId, "*", ActionRelease); err != nil {
		return err
	}
	versions, err := m.persister.GetVersions(ctx, appId.Tenant, appId.App)
	if err != nil {
		return err
	}
	for _, v := range versions[cuberepo.StatusRelease] {
		if v == appId.Version {
			return cuberepo.Errorf(cuberepo.InvalidState, "version %s of %s/%s is already released",
				appId.Version, appId.Tenant, appId.App)
		}
	}
	for status, vs := range versions {
		for _, v := range vs {
			if v == newSnapVersion {
				return cuberepo.Errorf(cuberepo.InvalidState, "target version %s of %s/%s already exists as %s",
					newSnapVersion, appId.Tenant, appId.App, status)
			}
		}
	}
	return nil
}
