// Package sync keeps one client's working set of pins consistent with the
// shared live collection for a single area.
//
// The engine owns its working set exclusively. All access — user actions,
// incoming stream snapshots, read views — is serialized through one
// goroutine, so local transitions are atomic: nothing interleaves between
// checking a precondition and applying its optimistic result. The only
// suspension points are the remote write and the stream itself.
package sync

import (
	"context"
	"errors"
	"log"
	"math"
	"sync/atomic"
	"time"

	"stamprally/api/internal/live"
	"stamprally/api/internal/pin"
	"stamprally/api/internal/role"
)

// Remote is the slice of the live store the engine depends on.
type Remote interface {
	Subscribe(ctx context.Context, areaID string) (<-chan live.Event, error)
	Write(ctx context.Context, areaID, pinID string, fields live.Fields) error
}

// EditSession is the client-local single-slot lock over one pin's position.
// The tentative coordinates override the committed ones until save or cancel;
// they are never persisted as such.
type EditSession struct {
	PinID string
	Lat   float64
	Lng   float64
}

// View is an atomic read of the engine's state: a deep copy of the working
// set in stable order, plus the active edit session if any.
type View struct {
	Pins []pin.Pin
	Edit *EditSession
}

type call struct {
	fn   func()
	done chan struct{}
}

// Engine synchronizes one area for one client. A single Run drives it; after
// Run returns (stream failure or context end) the engine is spent and a new
// one must be opened to re-subscribe.
type Engine struct {
	areaID string
	remote Remote

	calls   chan call
	stopped chan struct{}
	started atomic.Bool
	changes chan struct{}

	// Owned by the Run goroutine.
	pins  map[string]pin.Pin
	order []string
	edit  *EditSession
}

func New(areaID string, remote Remote) *Engine {
	return &Engine{
		areaID:  areaID,
		remote:  remote,
		calls:   make(chan call),
		stopped: make(chan struct{}),
		changes: make(chan struct{}, 1),
		pins:    make(map[string]pin.Pin),
	}
}

// Changes delivers a coalesced signal whenever the rendered state may have
// changed. Consumers re-read Snapshot on each tick.
func (e *Engine) Changes() <-chan struct{} {
	return e.changes
}

// Run subscribes to the area's change stream and processes events and calls
// until the context ends or the stream fails. It never retries the stream;
// the returned StreamError is the caller's cue to open a fresh engine.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("sync engine already running or spent")
	}
	defer close(e.stopped)

	events, err := e.remote.Subscribe(ctx, e.areaID)
	if err != nil {
		return &StreamError{AreaID: e.areaID, Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-e.calls:
			c.fn()
			close(c.done)
		case ev, ok := <-events:
			if !ok {
				return &StreamError{AreaID: e.areaID, Err: errors.New("stream closed")}
			}
			if ev.Err != nil {
				return &StreamError{AreaID: e.areaID, Err: ev.Err}
			}
			e.applyStream(ev)
		}
	}
}

// do runs fn inside the engine goroutine and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case e.calls <- c:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-e.stopped:
		return ErrStopped
	}
}

func (e *Engine) notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

// applyStream folds one stream event into the working set: a reset replaces
// the whole collection, an incremental event replaces single entries
// wholesale. Records that fail validation are dropped with a warning. The
// entry under an active edit session is never overwritten; the remote store
// stays authoritative for everything else.
func (e *Engine) applyStream(ev live.Event) {
	if ev.Reset {
		next := make(map[string]pin.Pin, len(ev.Records))
		var order []string
		for _, rec := range ev.Records {
			p, err := rec.Pin()
			if err != nil {
				log.Printf("sync: dropping malformed record in area %s: %v", e.areaID, err)
				continue
			}
			if e.edit != nil && p.ID == e.edit.PinID {
				if held, ok := e.pins[p.ID]; ok {
					p = held
				}
			}
			if _, seen := next[p.ID]; !seen {
				order = append(order, p.ID)
			}
			next[p.ID] = p
		}
		// A pin locked by the edit session survives even if the reset
		// omitted it; the session still owns its rendered state.
		if e.edit != nil {
			if held, ok := e.pins[e.edit.PinID]; ok {
				if _, seen := next[held.ID]; !seen {
					next[held.ID] = held
					order = append(order, held.ID)
				}
			}
		}
		e.pins = next
		e.order = order
		e.notify()
		return
	}

	changed := false
	for _, rec := range ev.Records {
		p, err := rec.Pin()
		if err != nil {
			log.Printf("sync: dropping malformed record in area %s: %v", e.areaID, err)
			continue
		}
		if e.edit != nil && p.ID == e.edit.PinID {
			continue
		}
		if _, ok := e.pins[p.ID]; !ok {
			e.order = append(e.order, p.ID)
		}
		e.pins[p.ID] = p
		changed = true
	}
	if changed {
		e.notify()
	}
}

// Snapshot returns an atomic, deep-copied view of the working set.
func (e *Engine) Snapshot(ctx context.Context) (View, error) {
	var view View
	err := e.do(ctx, func() {
		view.Pins = make([]pin.Pin, 0, len(e.order))
		for _, id := range e.order {
			if p, ok := e.pins[id]; ok {
				view.Pins = append(view.Pins, p.Clone())
			}
		}
		if e.edit != nil {
			session := *e.edit
			view.Edit = &session
		}
	})
	return view, err
}

// EditState reports the edit session in the gate's terms.
func (e *Engine) EditState(ctx context.Context) (active bool, pinID string, err error) {
	err = e.do(ctx, func() {
		if e.edit != nil {
			active = true
			pinID = e.edit.PinID
		}
	})
	return active, pinID, err
}

// Reserve claims an uncompleted pin for actor.
func (e *Engine) Reserve(ctx context.Context, actor role.Actor, pinID string) error {
	return e.runMutation(ctx, pinID, func(current pin.Pin) (pin.Pin, pin.Pin, live.Fields, error) {
		next, err := pin.Reserve(current, actor, time.Now())
		if err != nil {
			return pin.Pin{}, pin.Pin{}, nil, err
		}
		return next, next, live.ReserveFields(actor.ID), nil
	})
}

// CancelReservation releases a reservation held by actor (or anyone, for
// elevated actors).
func (e *Engine) CancelReservation(ctx context.Context, actor role.Actor, pinID string) error {
	return e.runMutation(ctx, pinID, func(current pin.Pin) (pin.Pin, pin.Pin, live.Fields, error) {
		next, err := pin.CancelReservation(current, actor)
		if err != nil {
			return pin.Pin{}, pin.Pin{}, nil, err
		}
		return next, next, live.ReleaseReservationFields(), nil
	})
}

// Achieve completes a pin. The working set shows the transient uploading
// status while the completion write is in flight; the ack promotes it to
// completed, a failure rolls it all the way back.
func (e *Engine) Achieve(ctx context.Context, actor role.Actor, pinID string, photoURL *string) error {
	return e.runMutation(ctx, pinID, func(current pin.Pin) (pin.Pin, pin.Pin, live.Fields, error) {
		final, err := pin.Complete(current, actor, time.Now(), photoURL)
		if err != nil {
			return pin.Pin{}, pin.Pin{}, nil, err
		}
		optimistic := current.Clone()
		optimistic.Status = pin.StatusUploading
		return optimistic, final, live.CompleteFields(actor.ID, photoURL), nil
	})
}

// CancelAchievement reverts a completion.
func (e *Engine) CancelAchievement(ctx context.Context, actor role.Actor, pinID string) error {
	return e.runMutation(ctx, pinID, func(current pin.Pin) (pin.Pin, pin.Pin, live.Fields, error) {
		next, err := pin.CancelCompletion(current, actor)
		if err != nil {
			return pin.Pin{}, pin.Pin{}, nil, err
		}
		return next, next, live.ReleaseCompletionFields(), nil
	})
}

// runMutation is the optimistic-update protocol shared by every transition:
// validate and apply locally, write remotely, then reconcile the ack or roll
// back to the exact pre-mutation snapshot.
func (e *Engine) runMutation(ctx context.Context, pinID string, build func(current pin.Pin) (optimistic, final pin.Pin, fields live.Fields, err error)) error {
	var (
		before   pin.Pin
		final    pin.Pin
		fields   live.Fields
		buildErr error
	)

	err := e.do(ctx, func() {
		current, ok := e.pins[pinID]
		if !ok {
			buildErr = &PreconditionError{PinID: pinID, Reason: "not in working set"}
			return
		}
		if e.edit != nil && e.edit.PinID == pinID {
			buildErr = &PreconditionError{PinID: pinID, Reason: "locked by the local edit session"}
			return
		}
		optimistic, fin, flds, err := build(current)
		if err != nil {
			buildErr = classifyTransitionError(pinID, err)
			return
		}
		before = current.Clone()
		final = fin
		fields = flds
		e.pins[pinID] = optimistic
		e.notify()
	})
	if err != nil {
		return err
	}
	if buildErr != nil {
		return buildErr
	}

	// Suspension point: the remote write. The optimistic entry is already
	// visible to renders; stream events for other pins keep flowing.
	if werr := e.remote.Write(ctx, e.areaID, pinID, fields); werr != nil {
		if rbErr := e.do(context.Background(), func() {
			e.pins[pinID] = before
			e.notify()
		}); rbErr != nil {
			log.Printf("sync: rollback of pin %s skipped: %v", pinID, rbErr)
		}
		return &RemoteWriteError{PinID: pinID, Err: werr}
	}

	// Ack. Idempotent: if the entry already matches (an earlier snapshot
	// confirmed the write), applying it again changes nothing.
	return e.do(context.Background(), func() {
		if current, ok := e.pins[pinID]; ok && current.Equal(final) {
			return
		}
		if e.edit != nil && e.edit.PinID == pinID {
			return
		}
		e.pins[pinID] = final
		e.notify()
	})
}

func classifyTransitionError(pinID string, err error) error {
	if errors.Is(err, pin.ErrNotAllowed) {
		return &AuthorizationError{PinID: pinID, Err: err}
	}
	return &PreconditionError{PinID: pinID, Reason: err.Error()}
}

// StartEdit opens the single edit-session slot for pinID. Elevated actors
// only; rejected while any session is active.
func (e *Engine) StartEdit(ctx context.Context, actor role.Actor, pinID string) error {
	var startErr error
	err := e.do(ctx, func() {
		if !actor.Elevated() {
			startErr = &AuthorizationError{PinID: pinID, Err: errors.New("editing requires organizer or admin rights")}
			return
		}
		if e.edit != nil {
			startErr = &PreconditionError{PinID: pinID, Reason: "another edit session is active"}
			return
		}
		current, ok := e.pins[pinID]
		if !ok {
			startErr = &PreconditionError{PinID: pinID, Reason: "not in working set"}
			return
		}
		e.edit = &EditSession{PinID: pinID, Lat: current.Lat, Lng: current.Lng}
		e.notify()
	})
	if err != nil {
		return err
	}
	return startErr
}

// MoveEdit updates the tentative position. Local only; nothing is written.
func (e *Engine) MoveEdit(ctx context.Context, lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return &PreconditionError{Reason: "non-finite coordinates"}
	}
	var moveErr error
	err := e.do(ctx, func() {
		if e.edit == nil {
			moveErr = &PreconditionError{Reason: "no edit session active"}
			return
		}
		e.edit.Lat = lat
		e.edit.Lng = lng
		e.notify()
	})
	if err != nil {
		return err
	}
	return moveErr
}

// SaveEdit commits the tentative position as the pin's new committed
// position. On write failure the session stays active so the caller can
// retry or cancel; the committed record is untouched either way until the
// write succeeds.
func (e *Engine) SaveEdit(ctx context.Context) error {
	var (
		session EditSession
		saveErr error
	)
	err := e.do(ctx, func() {
		if e.edit == nil {
			saveErr = &PreconditionError{Reason: "no edit session active"}
			return
		}
		session = *e.edit
	})
	if err != nil {
		return err
	}
	if saveErr != nil {
		return saveErr
	}

	if werr := e.remote.Write(ctx, e.areaID, session.PinID, live.MoveFields(session.Lat, session.Lng)); werr != nil {
		return &RemoteWriteError{PinID: session.PinID, Err: werr}
	}

	return e.do(context.Background(), func() {
		if e.edit == nil || e.edit.PinID != session.PinID {
			return
		}
		if current, ok := e.pins[session.PinID]; ok {
			committed := current.Clone()
			committed.Lat = session.Lat
			committed.Lng = session.Lng
			e.pins[session.PinID] = committed
		}
		e.edit = nil
		e.notify()
	})
}

// CancelEdit discards the session with no remote effect. The pin renders its
// last-known committed state again.
func (e *Engine) CancelEdit(ctx context.Context) error {
	var cancelErr error
	err := e.do(ctx, func() {
		if e.edit == nil {
			cancelErr = &PreconditionError{Reason: "no edit session active"}
			return
		}
		e.edit = nil
		e.notify()
	})
	if err != nil {
		return err
	}
	return cancelErr
}
