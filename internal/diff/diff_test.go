package diff

import (
	"testing"

	"stamprally/api/internal/pin"
	"stamprally/api/internal/sync"
)

func testPin(id string, status pin.Status) pin.Pin {
	return pin.Pin{ID: id, AreaID: "area-1", Lat: 35.0, Lng: 139.0, Status: status, Title: "Pin " + id}
}

func viewOf(pins ...pin.Pin) sync.View {
	return sync.View{Pins: pins}
}

func ids(markers []*Marker) []string {
	out := make([]string, len(markers))
	for i, m := range markers {
		out[i] = m.PinID
	}
	return out
}

func TestApplyCreateUpdateRemove(t *testing.T) {
	r := NewReconciler()

	first := r.Apply(viewOf(testPin("A", pin.StatusUncompleted), testPin("B", pin.StatusUncompleted)), "")
	if len(first.Created) != 2 || len(first.Updated) != 0 || len(first.Removed) != 0 {
		t.Fatalf("first pass = %+v, want two creates", first)
	}
	handleB, _ := r.Marker("B")

	second := r.Apply(viewOf(testPin("B", pin.StatusUncompleted), testPin("C", pin.StatusUncompleted)), "")
	if got := ids(second.Removed); len(got) != 1 || got[0] != "A" {
		t.Fatalf("removed = %v, want [A]", got)
	}
	if got := ids(second.Updated); len(got) != 1 || got[0] != "B" {
		t.Fatalf("updated = %v, want [B]", got)
	}
	if got := ids(second.Created); len(got) != 1 || got[0] != "C" {
		t.Fatalf("created = %v, want [C]", got)
	}
	if after, _ := r.Marker("B"); after != handleB {
		t.Fatal("surviving pin must keep its marker handle")
	}
	if r.Len() != 2 {
		t.Fatalf("markers = %d, want 2", r.Len())
	}
}

func TestApplyUpdatesInPlace(t *testing.T) {
	r := NewReconciler()
	r.Apply(viewOf(testPin("A", pin.StatusUncompleted)), "")
	handle, _ := r.Marker("A")

	moved := testPin("A", pin.StatusReserved)
	moved.Lat = 36.5
	by := "uid-x"
	moved.ReservedBy = &by
	r.Apply(viewOf(moved), "")

	if handle.Lat != 36.5 {
		t.Fatalf("handle lat = %v, want 36.5", handle.Lat)
	}
	if handle.State != StateReserved {
		t.Fatalf("handle state = %s, want reserved", handle.State)
	}
}

func TestVisualStates(t *testing.T) {
	by := "uid-x"
	reserved := testPin("A", pin.StatusReserved)
	reserved.ReservedBy = &by
	completed := testPin("B", pin.StatusCompleted)
	completed.CompletedBy = &by

	cases := []struct {
		name   string
		p      pin.Pin
		viewer string
		want   VisualState
	}{
		{name: "uncompleted", p: testPin("P", pin.StatusUncompleted), want: StateDefault},
		{name: "uploading", p: testPin("P", pin.StatusUploading), want: StateUploading},
		{name: "completed", p: completed, want: StateCompleted},
		{name: "reserved by viewer", p: reserved, viewer: "uid-x", want: StateReservedOwn},
		{name: "reserved by other", p: reserved, viewer: "uid-y", want: StateReserved},
		{name: "reserved anonymous viewer", p: reserved, viewer: "", want: StateReserved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReconciler()
			d := r.Apply(viewOf(tc.p), tc.viewer)
			if len(d.Created) != 1 {
				t.Fatalf("created = %d, want 1", len(d.Created))
			}
			if got := d.Created[0].State; got != tc.want {
				t.Fatalf("state = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEditingOverridesStateAndPosition(t *testing.T) {
	r := NewReconciler()
	view := sync.View{
		Pins: []pin.Pin{testPin("A", pin.StatusUncompleted)},
		Edit: &sync.EditSession{PinID: "A", Lat: 40.0, Lng: 141.0},
	}
	d := r.Apply(view, "uid-x")

	m := d.Created[0]
	if m.State != StateEditing {
		t.Fatalf("state = %s, want editing", m.State)
	}
	if m.Lat != 40.0 || m.Lng != 141.0 {
		t.Fatalf("position = (%v, %v), want tentative (40, 141)", m.Lat, m.Lng)
	}

	// Cancelling the session renders the committed position again.
	d = r.Apply(viewOf(testPin("A", pin.StatusUncompleted)), "uid-x")
	m = d.Updated[0]
	if m.State != StateDefault || m.Lat != 35.0 {
		t.Fatalf("after cancel: state=%s lat=%v, want default at committed position", m.State, m.Lat)
	}
}

func TestApplyEmptyView(t *testing.T) {
	r := NewReconciler()
	r.Apply(viewOf(testPin("A", pin.StatusUncompleted), testPin("B", pin.StatusUncompleted)), "")

	d := r.Apply(sync.View{}, "")
	if got := ids(d.Removed); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("removed = %v, want [A B]", got)
	}
	if r.Len() != 0 {
		t.Fatalf("markers = %d, want 0", r.Len())
	}
	if !r.Apply(sync.View{}, "").Empty() {
		t.Fatal("reconciling an empty view twice must be a no-op")
	}
}
