// Package perm derives the set of actions currently available to an actor
// on one pin. It is a pure function re-evaluated on every state or role
// change; results must never be cached, because role resolution is
// asynchronous and may complete (or change) after a first evaluation.
package perm

import (
	"stamprally/api/internal/pin"
	"stamprally/api/internal/role"
)

type Action string

const (
	ActionReserve           Action = "reserve"
	ActionCancelReservation Action = "cancel-reservation"
	ActionAchieve           Action = "achieve"
	ActionCancelAchievement Action = "cancel-achievement"
	ActionStartEdit         Action = "start-edit"
)

// EditState describes the client-local edit session, if any.
type EditState struct {
	Active bool
	PinID  string
}

// Decision is the outcome of one evaluation. Pending means the actor's role
// is still being resolved: no action is available yet, but that is not a
// denial and callers must not render it as one.
type Decision struct {
	Pending bool     `json:"pending"`
	Actions []Action `json:"actions"`
}

func (d Decision) Allows(a Action) bool {
	for _, have := range d.Actions {
		if have == a {
			return true
		}
	}
	return false
}

// Available evaluates the gate for one pin.
func Available(p pin.Pin, actor role.Actor, edit EditState) Decision {
	if !actor.Role.Known() {
		return Decision{Pending: true, Actions: []Action{}}
	}

	var actions []Action

	// A pin under local edit exposes no transition actions; save/cancel
	// belong to the edit session itself, not to this gate.
	if edit.Active && edit.PinID == p.ID {
		return Decision{Actions: []Action{}}
	}

	// uploading is a transient in-flight state; nothing is actionable.
	if p.Status != pin.StatusUploading && actor.Authenticated() {
		if p.Status == pin.StatusUncompleted {
			actions = append(actions, ActionReserve)
		}
		if p.Status == pin.StatusReserved && (p.ReservedByUser(actor.ID) || actor.Elevated()) {
			actions = append(actions, ActionCancelReservation)
		}
		if p.Status == pin.StatusUncompleted ||
			(p.Status == pin.StatusReserved && (p.ReservedByUser(actor.ID) || actor.Elevated())) {
			actions = append(actions, ActionAchieve)
		}
		if p.Status == pin.StatusCompleted && (p.CompletedByUser(actor.ID) || actor.Elevated()) {
			actions = append(actions, ActionCancelAchievement)
		}
	}

	if actor.Elevated() && !edit.Active {
		actions = append(actions, ActionStartEdit)
	}

	if actions == nil {
		actions = []Action{}
	}
	return Decision{Actions: actions}
}
