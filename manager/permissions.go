package manager

import (
	"context"
	"strings"

	"github.com/sharedcode/cuberepo"
)

// Action is a permission action checked against sys.permissions.
type Action string

const (
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionCommit  Action = "commit"
	ActionRelease Action = "release"
)

// Built-in role names of the default permission matrix.
const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleReadonly = "readonly"
)

// Allowed answers whether the acting user may perform action on resource in
// the given AppId. resource is a bare cube name or "cubeName/axisName",
// either part possibly containing '*'/'?'.
//
// Lock status must be observable to everyone, so READ on sys.lock is always
// allowed. When the administrative cubes are absent the system is in
// bootstrap mode and everything is allowed.
func (m *Manager) Allowed(ctx context.Context, appId cuberepo.AppId, resource string, action Action) (bool, error) {
	fast, err := m.newFastChecker(ctx, appId, action)
	if err != nil {
		return false, err
	}
	return fast.allowed(resource), nil
}

// AssertPermissions is Allowed raised to an error on denial.
func (m *Manager) AssertPermissions(ctx context.Context, appId cuberepo.AppId, resource string, action Action) error {
	ok, err := m.Allowed(ctx, appId, resource, action)
	if err != nil {
		return err
	}
	if !ok {
		return cuberepo.Errorf(cuberepo.SecurityViolation, "user %s is not allowed to %s %s in %v",
			cuberepo.UserFrom(ctx), action, resource, appId)
	}
	return nil
}

// fastChecker memoises the administrative cube fetches and the user's role
// set across many per-resource checks, as used in list filtering.
type fastChecker struct {
	m        *Manager
	action   Action
	user     string
	allowAll bool
	roles    map[string]bool
	perms    cuberepo.Cube
	branch   cuberepo.Cube // sys.branch.permissions of the target branch, may be nil
}

func (m *Manager) newFastChecker(ctx context.Context, appId cuberepo.AppId, action Action) (*fastChecker, error) {
	fc := &fastChecker{m: m, action: action, user: cuberepo.UserFrom(ctx)}
	boot := appId.AsBootVersion()
	perms, err := m.GetCube(ctx, boot, SysPermissions)
	if err != nil {
		return nil, err
	}
	groups, err := m.GetCube(ctx, boot, SysUserGroups)
	if err != nil {
		return nil, err
	}
	if perms == nil || groups == nil {
		// Bootstrap mode.
		fc.allowAll = true
		return fc, nil
	}
	fc.perms = perms
	fc.roles = userRoles(groups, fc.user)
	if !fc.roles[RoleAdmin] && (action == ActionUpdate || action == ActionCommit) && !appId.IsHead() {
		branchCube, err := m.GetCube(ctx, boot.AsBranch(appId.Branch), SysBranchPermissions)
		if err != nil {
			return nil, err
		}
		fc.branch = branchCube
	}
	return fc, nil
}

func (fc *fastChecker) allowed(resource string) bool {
	if fc.action == ActionRead && strings.EqualFold(resource, SysLock) {
		return true
	}
	if fc.allowAll {
		return true
	}
	if fc.branch != nil && !branchPermitted(fc.branch, fc.user, resource) {
		return false
	}
	for role := range fc.roles {
		if permissionGranted(fc.perms, role, resource, fc.action) {
			return true
		}
	}
	return false
}

// userRoles selects the roles of the user by iterating the role axis of
// sys.usergroups. The user axis default column carries the everyone-grants.
func userRoles(groups cuberepo.Cube, user string) map[string]bool {
	roles := map[string]bool{}
	roleAxis, ok := groups.Axis("role")
	if !ok {
		return roles
	}
	for _, role := range roleAxis.Columns() {
		v, ok := groups.Cell(map[string]string{"role": role, "user": user})
		if ok && cellTrue(v) {
			roles[role] = true
		}
	}
	return roles
}

// permissionGranted matches the resource against the resource axis columns of
// sys.permissions and checks (role, resource, action). When no column
// matches, the axis default column decides.
func permissionGranted(perms cuberepo.Cube, role, resource string, action Action) bool {
	resAxis, ok := perms.Axis("resource")
	if !ok {
		return false
	}
	matched := false
	for _, col := range resAxis.Columns() {
		if !resourceColumnMatches(col, resource) {
			continue
		}
		matched = true
		v, ok := perms.Cell(map[string]string{"resource": col, "role": role, "action": string(action)})
		if ok && cellTrue(v) {
			return true
		}
	}
	if !matched && resAxis.HasDefault() {
		// Unbound resource coordinate resolves to the default column.
		v, ok := perms.Cell(map[string]string{"role": role, "action": string(action)})
		return ok && cellTrue(v)
	}
	return false
}

// branchPermitted consults sys.branch.permissions of the target branch: a
// non-admin mutator needs a matching true cell on the user axis.
func branchPermitted(branch cuberepo.Cube, user, resource string) bool {
	resAxis, ok := branch.Axis("resource")
	if !ok {
		return false
	}
	matched := false
	for _, col := range resAxis.Columns() {
		if !resourceColumnMatches(col, resource) {
			continue
		}
		matched = true
		v, ok := branch.Cell(map[string]string{"resource": col, "user": user})
		if ok && cellTrue(v) {
			return true
		}
	}
	if !matched && resAxis.HasDefault() {
		v, ok := branch.Cell(map[string]string{"user": user})
		return ok && cellTrue(v)
	}
	return false
}

// resourceColumnMatches globs a requested resource against a resource axis
// column. Resources split on '/' into cube and axis parts: a two-part request
// needs a two-part column with both parts matching; a one-part request
// matches only one-part columns.
func resourceColumnMatches(column, resource string) bool {
	colParts := strings.SplitN(column, "/", 2)
	reqParts := strings.SplitN(resource, "/", 2)
	if len(reqParts) != len(colParts) {
		return false
	}
	if !cuberepo.MatchesWildcard(colParts[0], reqParts[0]) {
		return false
	}
	if len(reqParts) == 2 && !cuberepo.MatchesWildcard(colParts[1], reqParts[1]) {
		return false
	}
	return true
}

func cellTrue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}
