package rbac

type Role string
type Action string

const (
	RoleGuest     Role = "guest"
	RoleOwner     Role = "owner"
	RolePortfolio Role = "portfolio"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead        Action = "read"
	ActionWrite       Action = "write"
	ActionManageRisks Action = "manage_risks"
	ActionAdmin       Action = "admin"
)

// Can answers the coarse role/action matrix. Owner writes are additionally
// scoped to projects the principal manages; that filter lives in the store
// queries, not here.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RolePortfolio:
		return action == ActionRead || action == ActionManageRisks
	case RoleOwner:
		return action == ActionRead || action == ActionWrite
	case RoleGuest:
		return false
	default:
		return false
	}
}

// Normalize maps unknown role strings to guest so a corrupted membership
// row can never grant access.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleGuest, RoleOwner, RolePortfolio, RoleAdmin:
		return Role(role)
	default:
		return RoleGuest
	}
}
