package role

import (
	"context"
	"fmt"
)

// Directory is the slice of the control-plane store the resolver consults.
type Directory interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
	AreaOrganizer(ctx context.Context, areaID string) (string, error)
}

// Resolver turns a user id into an Actor for one area.
// Resolution order: admin, area organizer, authenticated.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve looks up the actor's role for areaID. On a directory failure the
// returned actor carries RoleUnknown alongside the error, so callers can
// keep the identity around and retry while treating permissions as pending.
func (r *Resolver) Resolve(ctx context.Context, userID, areaID string) (Actor, error) {
	if userID == "" {
		return Actor{Role: RoleAnonymous}, nil
	}

	admin, err := r.dir.IsAdmin(ctx, userID)
	if err != nil {
		return Actor{ID: userID, Role: RoleUnknown}, fmt.Errorf("check admin: %w", err)
	}
	if admin {
		return Actor{ID: userID, Role: RoleAdmin}, nil
	}

	organizer, err := r.dir.AreaOrganizer(ctx, areaID)
	if err != nil {
		return Actor{ID: userID, Role: RoleUnknown}, fmt.Errorf("look up area organizer: %w", err)
	}
	if organizer != "" && organizer == userID {
		return Actor{ID: userID, Role: RoleOrganizer}, nil
	}

	return Actor{ID: userID, Role: RoleAuthenticated}, nil
}
