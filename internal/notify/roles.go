package notify

import (
	"fmt"
	"sync"
)

// Built-in warehouse roles.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
	RoleKeeper  = "keeper"
)

var (
	roleMu   sync.RWMutex
	roleSet  = map[string]struct{}{}
	builtins = []string{RoleAdmin, RoleManager, RoleStaff, RoleKeeper}
)

func init() {
	for _, r := range builtins {
		roleSet[r] = struct{}{}
	}
}

// RegisterRole adds a deployment-specific role to the registry. Built-in
// names are reserved.
func RegisterRole(name string) error {
	roleMu.Lock()
	defer roleMu.Unlock()

	for _, b := range builtins {
		if name == b {
			return fmt.Errorf("'%s' is a built-in role. please choose a different name", name)
		}
	}
	if _, exists := roleSet[name]; exists {
		return fmt.Errorf("role '%s' is already registered", name)
	}
	roleSet[name] = struct{}{}
	return nil
}

// KnownRole reports whether the role has been registered. Announcing an
// unknown role is logged by the gateway but never rejected.
func KnownRole(name string) bool {
	roleMu.RLock()
	defer roleMu.RUnlock()
	_, ok := roleSet[name]
	return ok
}

// AllRoles returns a copy of the current registry for inspection.
func AllRoles() []string {
	roleMu.RLock()
	defer roleMu.RUnlock()

	names := make([]string, 0, len(roleSet))
	for name := range roleSet {
		names = append(names, name)
	}
	return names
}
