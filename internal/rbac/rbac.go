// Package rbac orders principal roles and maps actions to the minimum role
// allowed to perform them.
package rbac

type Role string
type Action string

const (
	RoleGuest       Role = "guest"
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleModerator   Role = "moderator"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead       Action = "read"
	ActionContribute Action = "contribute"
	ActionModerate   Action = "moderate"
	ActionAdmin      Action = "admin"
)

var rank = map[Role]int{
	RoleGuest:       0,
	RoleViewer:      1,
	RoleContributor: 2,
	RoleModerator:   3,
	RoleAdmin:       4,
}

var minimum = map[Action]Role{
	ActionRead:       RoleViewer,
	ActionContribute: RoleContributor,
	ActionModerate:   RoleModerator,
	ActionAdmin:      RoleAdmin,
}

// AtLeast reports whether role ranks at or above min. Unknown roles rank
// below guest.
func AtLeast(role, min Role) bool {
	r, ok := rank[role]
	if !ok {
		return false
	}
	return r >= rank[min]
}

func Can(role Role, action Action) bool {
	min, ok := minimum[action]
	if !ok {
		return false
	}
	return AtLeast(role, min)
}

// Minimum returns the lowest role allowed to perform action.
func Minimum(action Action) Role {
	return minimum[action]
}

func Normalize(role string) Role {
	if _, ok := rank[Role(role)]; ok {
		return Role(role)
	}
	return RoleViewer
}
