package rbac

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead            Action = "read"
	ActionPost            Action = "post"
	ActionManageChannels  Action = "manage-channels"
	ActionManageMembers   Action = "manage-members"
	ActionManageWorkspace Action = "manage-workspace"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionPost
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

// Valid reports whether role names a known role without normalizing it.
func Valid(role string) bool {
	switch Role(role) {
	case RoleMember, RoleAdmin:
		return true
	default:
		return false
	}
}
