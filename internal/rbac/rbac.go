package rbac

type Role string
type Action string

const (
	// RoleNone grants nothing. Used as the default role of closed deployments.
	RoleNone      Role = "none"
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionSuggest Action = "suggest"
	ActionReview  Action = "review"
	ActionAdmin   Action = "admin"
)

// Can reports whether role may perform action on a document.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionSuggest || action == ActionReview
	case RoleCommenter:
		return action == ActionRead || action == ActionSuggest
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleNone, RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

func Valid(role string) bool {
	return Normalize(role) == Role(role)
}
