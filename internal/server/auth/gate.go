package auth

import "github.com/dmitrijs2005/authkeeper/internal/server/models"

// Gate makes authorization decisions. It holds no state.
type Gate struct{}

// CanAct reports whether the caller may act on the target account: admins
// may act on anyone, everyone else only on themselves.
func (Gate) CanAct(callerID string, callerRole models.Role, targetID string) bool {
	if callerRole == models.RoleAdmin {
		return true
	}
	return callerID != "" && callerID == targetID
}

// RequireRole reports whether callerRole satisfies required. With two roles
// this is plain equality; a role hierarchy would only change this method.
func (Gate) RequireRole(callerRole, required models.Role) bool {
	return callerRole == required
}
