// Package diff turns successive working-set views into minimal
// create/update/remove instructions against a set of live rendered markers.
// A pin that survives from one view to the next keeps its marker handle; the
// handle is mutated in place, never destroyed and recreated.
package diff

import (
	"sort"

	"stamprally/api/internal/pin"
	"stamprally/api/internal/sync"
)

// VisualState is the rendering overlay for one marker. It folds the pin's
// persisted status together with viewer identity and the local edit session.
type VisualState string

const (
	StateDefault     VisualState = "default"
	StateReserved    VisualState = "reserved"
	StateReservedOwn VisualState = "reserved-own"
	StateUploading   VisualState = "uploading"
	StateCompleted   VisualState = "completed"
	StateEditing     VisualState = "editing"
)

// Marker is one live rendered instance. The pointer is the handle: callers
// attach whatever per-instance resources they manage to it and rely on the
// reconciler to keep the same pointer alive as long as the pin exists.
type Marker struct {
	PinID string
	Lat   float64
	Lng   float64
	Title string
	State VisualState
}

// Diff lists the instructions produced by one reconciliation pass. Updated
// markers have already been mutated in place; they are listed so callers can
// refresh whatever they derived from the old values.
type Diff struct {
	Created []*Marker
	Updated []*Marker
	Removed []*Marker
}

// Empty reports whether the pass produced no instructions at all.
func (d Diff) Empty() bool {
	return len(d.Created) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// Reconciler owns the marker set for one view stream. Not safe for concurrent
// use; drive it from the same loop that reads the engine's change signal.
type Reconciler struct {
	markers map[string]*Marker
}

func NewReconciler() *Reconciler {
	return &Reconciler{markers: make(map[string]*Marker)}
}

// Apply reconciles the marker set against the next view for the given viewer.
// Pins present in the view but not yet rendered get a created marker; pins
// rendered but gone from the view get removed; everything else is updated in
// place. The view is read only, never mutated.
func (r *Reconciler) Apply(view sync.View, viewerID string) Diff {
	var out Diff
	seen := make(map[string]bool, len(view.Pins))

	for _, p := range view.Pins {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true

		lat, lng := p.Lat, p.Lng
		state := stateFor(p, viewerID)
		if view.Edit != nil && view.Edit.PinID == p.ID {
			state = StateEditing
			lat, lng = view.Edit.Lat, view.Edit.Lng
		}

		if m, ok := r.markers[p.ID]; ok {
			m.Lat = lat
			m.Lng = lng
			m.Title = p.Title
			m.State = state
			out.Updated = append(out.Updated, m)
			continue
		}
		m := &Marker{PinID: p.ID, Lat: lat, Lng: lng, Title: p.Title, State: state}
		r.markers[p.ID] = m
		out.Created = append(out.Created, m)
	}

	for id, m := range r.markers {
		if !seen[id] {
			out.Removed = append(out.Removed, m)
			delete(r.markers, id)
		}
	}
	sort.Slice(out.Removed, func(i, j int) bool {
		return out.Removed[i].PinID < out.Removed[j].PinID
	})

	return out
}

// Marker returns the live handle for a pin, if rendered.
func (r *Reconciler) Marker(pinID string) (*Marker, bool) {
	m, ok := r.markers[pinID]
	return m, ok
}

// Len reports how many markers are currently rendered.
func (r *Reconciler) Len() int {
	return len(r.markers)
}

func stateFor(p pin.Pin, viewerID string) VisualState {
	switch p.Status {
	case pin.StatusUploading:
		return StateUploading
	case pin.StatusCompleted:
		return StateCompleted
	case pin.StatusReserved:
		if viewerID != "" && p.ReservedByUser(viewerID) {
			return StateReservedOwn
		}
		return StateReserved
	default:
		return StateDefault
	}
}
