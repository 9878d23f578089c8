// Package permissions maps hospital roles to permission strings and checks
// them with wildcard support.
//
// Permission Format:
//   - "*" - Full access
//   - "resource.*" - All actions on a resource (e.g., "pharmacy.*")
//   - "resource.action" - Specific action (e.g., "pharmacy.read")
//   - "resource.subresource.action" - Nested permission (e.g., "pharmacy.lots.delete")
package permissions

import (
	"strings"
)

// Hospital roles as carried in the caller identity.
const (
	RoleAdminGeneral  = "Admin General"
	RoleAdministrador = "Administrador"
	RoleMedico        = "Medico"
	RoleEnfermera     = "Enfermera"
	RoleFarmaceutico  = "Farmaceutico"
)

// Permissions checked by route middleware.
const (
	PharmacyRead       = "pharmacy.read"
	PharmacyLotsWrite  = "pharmacy.lots.write"
	PharmacyLotsDelete = "pharmacy.lots.delete"
	PharmacyDispense   = "pharmacy.dispense"
	PharmacyMaintain   = "pharmacy.maintenance"

	SchedulingRead               = "scheduling.read"
	SchedulingAppointmentsWrite  = "scheduling.appointments.write"
	SchedulingAppointmentsDelete = "scheduling.appointments.delete"
)

// rolePermissions: lot deletion and restore are admin tier; appointment
// mutations belong to medical staff; appointment deletion is admin only.
var rolePermissions = map[string][]string{
	RoleAdminGeneral: {"*"},
	RoleAdministrador: {
		"pharmacy.*",
		"scheduling.*",
	},
	RoleMedico: {
		PharmacyRead,
		PharmacyDispense,
		SchedulingRead,
		SchedulingAppointmentsWrite,
	},
	RoleEnfermera: {
		PharmacyRead,
		SchedulingRead,
		SchedulingAppointmentsWrite,
	},
	RoleFarmaceutico: {
		PharmacyRead,
		PharmacyLotsWrite,
		PharmacyDispense,
		SchedulingRead,
	},
}

// ForRole returns the permissions granted to role. Unknown roles get none.
func ForRole(role string) []string {
	return rolePermissions[role]
}

// RoleHas reports whether role grants required.
func RoleHas(role, required string) bool {
	return HasPermission(ForRole(role), required)
}

// HasPermission checks if the user's permissions include the required permission.
// Supports wildcard matching:
//   - "*" matches everything
//   - "pharmacy.*" matches "pharmacy.read", "pharmacy.lots.delete", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true
	}

	for _, p := range userPerms {
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}
