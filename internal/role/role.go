// Package role resolves who an actor is within one area.
package role

type Role string

const (
	// RoleUnknown means resolution has not finished (or failed).
	// Callers must treat it as "pending", never as "denied".
	RoleUnknown       Role = ""
	RoleAnonymous     Role = "anonymous"
	RoleAuthenticated Role = "authenticated"
	RoleOrganizer     Role = "organizer"
	RoleAdmin         Role = "admin"
)

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAnonymous, RoleAuthenticated, RoleOrganizer, RoleAdmin:
		return Role(role)
	default:
		return RoleUnknown
	}
}

// Known reports whether resolution has produced a usable role.
func (r Role) Known() bool {
	return r != RoleUnknown
}

// Authenticated reports whether the role belongs to a signed-in user.
func (r Role) Authenticated() bool {
	return r == RoleAuthenticated || r == RoleOrganizer || r == RoleAdmin
}

// Elevated reports whether the role may override ownership checks:
// admins everywhere, organizers within their own area. Roles are always
// resolved against a single area, so RoleOrganizer already implies
// "organizer of the area in question".
func (r Role) Elevated() bool {
	return r == RoleOrganizer || r == RoleAdmin
}

// Actor is a resolved identity plus role for one area. It is supplied
// per-operation; nothing in this subsystem holds an ambient current user.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) Authenticated() bool {
	return a.ID != "" && a.Role.Authenticated()
}

func (a Actor) Elevated() bool {
	return a.ID != "" && a.Role.Elevated()
}
