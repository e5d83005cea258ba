package pin

import (
	"errors"
	"fmt"
	"time"

	"stamprally/api/internal/role"
)

// Transition failures come in exactly two flavors. Callers wrap them into
// user-facing errors without losing the distinction.
var (
	// ErrInvalidTransition: the pin's current status does not admit the
	// requested transition.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotAllowed: the transition exists but this actor may not trigger it.
	ErrNotAllowed = errors.New("not allowed")
)

// Reserve moves uncompleted -> reserved for any authenticated actor.
func Reserve(p Pin, actor role.Actor, at time.Time) (Pin, error) {
	if !actor.Authenticated() {
		return Pin{}, fmt.Errorf("reserve pin %s: %w", p.ID, ErrNotAllowed)
	}
	if p.Status != StatusUncompleted {
		return Pin{}, fmt.Errorf("reserve pin %s from %s: %w", p.ID, p.Status, ErrInvalidTransition)
	}
	next := p.Clone()
	next.Status = StatusReserved
	uid := actor.ID
	next.ReservedBy = &uid
	ts := at
	next.ReservedAt = &ts
	return next, nil
}

// CancelReservation moves reserved -> uncompleted. Only the reserver, or an
// elevated actor, may release someone's hold.
func CancelReservation(p Pin, actor role.Actor) (Pin, error) {
	if p.Status != StatusReserved {
		return Pin{}, fmt.Errorf("cancel reservation of pin %s from %s: %w", p.ID, p.Status, ErrInvalidTransition)
	}
	if !actor.Authenticated() || (!p.ReservedByUser(actor.ID) && !actor.Elevated()) {
		return Pin{}, fmt.Errorf("cancel reservation of pin %s: %w", p.ID, ErrNotAllowed)
	}
	next := p.Clone()
	next.Status = StatusUncompleted
	next.ReservedBy = nil
	next.ReservedAt = nil
	return next, nil
}

// Complete moves uncompleted or reserved -> completed, clearing any
// reservation. A pin reserved by someone else needs elevated rights.
// The transient uploading status between issuing the completion write and
// its ack is owned by the synchronization engine, not computed here.
func Complete(p Pin, actor role.Actor, at time.Time, photoURL *string) (Pin, error) {
	if !actor.Authenticated() {
		return Pin{}, fmt.Errorf("complete pin %s: %w", p.ID, ErrNotAllowed)
	}
	switch p.Status {
	case StatusUncompleted:
	case StatusReserved:
		if !p.ReservedByUser(actor.ID) && !actor.Elevated() {
			return Pin{}, fmt.Errorf("complete pin %s reserved by another user: %w", p.ID, ErrNotAllowed)
		}
	default:
		return Pin{}, fmt.Errorf("complete pin %s from %s: %w", p.ID, p.Status, ErrInvalidTransition)
	}
	next := p.Clone()
	next.Status = StatusCompleted
	uid := actor.ID
	next.CompletedBy = &uid
	ts := at
	next.CompletedAt = &ts
	next.PhotoURL = cloneString(photoURL)
	next.ReservedBy = nil
	next.ReservedAt = nil
	return next, nil
}

// CancelCompletion moves completed -> uncompleted, clearing every completion
// field including the photo. Only the completer or an elevated actor.
func CancelCompletion(p Pin, actor role.Actor) (Pin, error) {
	if p.Status != StatusCompleted {
		return Pin{}, fmt.Errorf("cancel completion of pin %s from %s: %w", p.ID, p.Status, ErrInvalidTransition)
	}
	if !actor.Authenticated() || (!p.CompletedByUser(actor.ID) && !actor.Elevated()) {
		return Pin{}, fmt.Errorf("cancel completion of pin %s: %w", p.ID, ErrNotAllowed)
	}
	next := p.Clone()
	next.Status = StatusUncompleted
	next.ReservedBy = nil
	next.ReservedAt = nil
	next.CompletedBy = nil
	next.CompletedAt = nil
	next.PhotoURL = nil
	return next, nil
}
