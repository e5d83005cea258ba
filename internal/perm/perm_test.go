package perm

import (
	"testing"
	"time"

	"stamprally/api/internal/pin"
	"stamprally/api/internal/role"
)

func pinWith(status pin.Status, reservedBy, completedBy string) pin.Pin {
	p := pin.Pin{ID: "p1", AreaID: "area-1", Lat: 35.0, Lng: 139.0, Status: status}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if reservedBy != "" {
		p.ReservedBy = &reservedBy
		p.ReservedAt = &at
	}
	if completedBy != "" {
		p.CompletedBy = &completedBy
		p.CompletedAt = &at
	}
	return p
}

func TestAvailable(t *testing.T) {
	user := role.Actor{ID: "uid-x", Role: role.RoleAuthenticated}
	other := role.Actor{ID: "uid-y", Role: role.RoleAuthenticated}
	admin := role.Actor{ID: "uid-admin", Role: role.RoleAdmin}
	anon := role.Actor{Role: role.RoleAnonymous}
	noEdit := EditState{}

	cases := []struct {
		name  string
		pin   pin.Pin
		actor role.Actor
		edit  EditState
		want  []Action
	}{
		{
			name: "authenticated on uncompleted", pin: pinWith(pin.StatusUncompleted, "", ""),
			actor: user, edit: noEdit,
			want: []Action{ActionReserve, ActionAchieve},
		},
		{
			name: "reserver on own reservation", pin: pinWith(pin.StatusReserved, "uid-x", ""),
			actor: user, edit: noEdit,
			want: []Action{ActionCancelReservation, ActionAchieve},
		},
		{
			name: "other user on foreign reservation", pin: pinWith(pin.StatusReserved, "uid-x", ""),
			actor: other, edit: noEdit,
			want: []Action{},
		},
		{
			name: "admin on foreign reservation", pin: pinWith(pin.StatusReserved, "uid-x", ""),
			actor: admin, edit: noEdit,
			want: []Action{ActionCancelReservation, ActionAchieve, ActionStartEdit},
		},
		{
			name: "completer on own completion", pin: pinWith(pin.StatusCompleted, "", "uid-x"),
			actor: user, edit: noEdit,
			want: []Action{ActionCancelAchievement},
		},
		{
			name: "other user on foreign completion", pin: pinWith(pin.StatusCompleted, "", "uid-x"),
			actor: other, edit: noEdit,
			want: []Action{},
		},
		{
			name: "anonymous sees nothing", pin: pinWith(pin.StatusUncompleted, "", ""),
			actor: anon, edit: noEdit,
			want: []Action{},
		},
		{
			name: "uploading pin is inert", pin: pinWith(pin.StatusUploading, "", ""),
			actor: user, edit: noEdit,
			want: []Action{},
		},
		{
			name: "edit session suppresses everything on that pin",
			pin:   pinWith(pin.StatusUncompleted, "", ""),
			actor: admin, edit: EditState{Active: true, PinID: "p1"},
			want: []Action{},
		},
		{
			name: "active edit elsewhere blocks only start-edit",
			pin:   pinWith(pin.StatusUncompleted, "", ""),
			actor: admin, edit: EditState{Active: true, PinID: "p2"},
			want: []Action{ActionReserve, ActionAchieve},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Available(tc.pin, tc.actor, tc.edit)
			if got.Pending {
				t.Fatal("decision unexpectedly pending")
			}
			if len(got.Actions) != len(tc.want) {
				t.Fatalf("actions = %v, want %v", got.Actions, tc.want)
			}
			for i := range tc.want {
				if got.Actions[i] != tc.want[i] {
					t.Fatalf("actions = %v, want %v", got.Actions, tc.want)
				}
			}
		})
	}
}

func TestAvailablePendingRole(t *testing.T) {
	p := pinWith(pin.StatusUncompleted, "", "")
	got := Available(p, role.Actor{ID: "uid-x", Role: role.RoleUnknown}, EditState{})
	if !got.Pending {
		t.Fatal("unresolved role must yield a pending decision, not a denial")
	}
	if len(got.Actions) != 0 {
		t.Fatalf("pending decision must carry no actions, got %v", got.Actions)
	}
}

func TestDecisionAllows(t *testing.T) {
	d := Decision{Actions: []Action{ActionReserve}}
	if !d.Allows(ActionReserve) {
		t.Fatal("Allows(reserve) = false")
	}
	if d.Allows(ActionStartEdit) {
		t.Fatal("Allows(start-edit) = true, want false")
	}
}
