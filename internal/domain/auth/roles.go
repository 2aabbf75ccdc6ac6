package auth

const (
	RoleAdmin    = "admin"
	RoleHR       = "hr"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// PrivilegedRoles may remove employees and publish notifications.
var PrivilegedRoles = []string{RoleAdmin, RoleHR}

var AllRoles = []string{RoleAdmin, RoleHR, RoleManager, RoleEmployee}

func ValidRole(role string) bool {
	for _, candidate := range AllRoles {
		if candidate == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether held and wanted intersect.
func HasAnyRole(held []string, wanted ...string) bool {
	for _, h := range held {
		for _, w := range wanted {
			if h == w {
				return true
			}
		}
	}
	return false
}
