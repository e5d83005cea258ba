package role

import (
	"context"
	"errors"
	"testing"
)

type fakeDirectory struct {
	admins    map[string]bool
	organizer map[string]string
	err       error
}

func (f *fakeDirectory) IsAdmin(_ context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.admins[userID], nil
}

func (f *fakeDirectory) AreaOrganizer(_ context.Context, areaID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.organizer[areaID], nil
}

func TestResolve(t *testing.T) {
	dir := &fakeDirectory{
		admins:    map[string]bool{"uid-admin": true},
		organizer: map[string]string{"area-1": "uid-org"},
	}
	resolver := NewResolver(dir)

	cases := []struct {
		name   string
		userID string
		areaID string
		want   Role
	}{
		{name: "anonymous", userID: "", areaID: "area-1", want: RoleAnonymous},
		{name: "admin", userID: "uid-admin", areaID: "area-1", want: RoleAdmin},
		{name: "organizer of area", userID: "uid-org", areaID: "area-1", want: RoleOrganizer},
		{name: "organizer elsewhere", userID: "uid-org", areaID: "area-2", want: RoleAuthenticated},
		{name: "plain user", userID: "uid-x", areaID: "area-1", want: RoleAuthenticated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actor, err := resolver.Resolve(context.Background(), tc.userID, tc.areaID)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if actor.Role != tc.want {
				t.Fatalf("Resolve(%q, %q) role = %q, want %q", tc.userID, tc.areaID, actor.Role, tc.want)
			}
		})
	}
}

func TestResolveDirectoryFailureIsPending(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("directory down")}
	resolver := NewResolver(dir)

	actor, err := resolver.Resolve(context.Background(), "uid-x", "area-1")
	if err == nil {
		t.Fatal("expected error from failing directory")
	}
	if actor.ID != "uid-x" {
		t.Fatalf("actor ID = %q, want uid-x", actor.ID)
	}
	if actor.Role.Known() {
		t.Fatalf("actor role = %q, want unknown (pending)", actor.Role)
	}
}

func TestRolePredicates(t *testing.T) {
	cases := []struct {
		role          Role
		known         bool
		authenticated bool
		elevated      bool
	}{
		{RoleUnknown, false, false, false},
		{RoleAnonymous, true, false, false},
		{RoleAuthenticated, true, true, false},
		{RoleOrganizer, true, true, true},
		{RoleAdmin, true, true, true},
	}

	for _, tc := range cases {
		if got := tc.role.Known(); got != tc.known {
			t.Errorf("%q.Known() = %v, want %v", tc.role, got, tc.known)
		}
		if got := tc.role.Authenticated(); got != tc.authenticated {
			t.Errorf("%q.Authenticated() = %v, want %v", tc.role, got, tc.authenticated)
		}
		if got := tc.role.Elevated(); got != tc.elevated {
			t.Errorf("%q.Elevated() = %v, want %v", tc.role, got, tc.elevated)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("admin"); got != RoleAdmin {
		t.Fatalf("Normalize(admin) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleUnknown {
		t.Fatalf("Normalize(superuser) = %q, want unknown", got)
	}
}

func TestActorWithoutIDIsNeverAuthenticated(t *testing.T) {
	actor := Actor{ID: "", Role: RoleAdmin}
	if actor.Authenticated() || actor.Elevated() {
		t.Fatal("actor without an ID must not pass authentication checks")
	}
}
