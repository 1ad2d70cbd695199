// Package rbac holds the pure role rules for collaborative workflow editing.
package rbac

type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// CanApply reports whether a role may apply the given operation to the given
// target. Viewers only watch; editors mutate blocks, edges and subflows;
// admins may do everything.
func CanApply(role Role, operation, target string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		switch operation {
		case "add", "update", "remove":
			return target == "block" || target == "edge" || target == "subflow"
		}
		return false
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
