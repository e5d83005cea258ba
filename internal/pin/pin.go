// Package pin holds the pin record and its lifecycle state machine.
package pin

import (
	"fmt"
	"math"
	"time"
)

type Status string

const (
	StatusUncompleted Status = "uncompleted"
	StatusReserved    Status = "reserved"
	// StatusUploading marks an in-flight completion write. It is transient:
	// it exists only between issuing the write and receiving its ack.
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUncompleted, StatusReserved, StatusUploading, StatusCompleted:
		return true
	default:
		return false
	}
}

// Pin is a single geolocated task within an area. Records come from a
// schema-less store, so every optional field is a pointer and Validate
// guards the boundary.
type Pin struct {
	ID          string
	AreaID      string
	Lat         float64
	Lng         float64
	Status      Status
	Title       string
	Address     string
	ReservedBy  *string
	ReservedAt  *time.Time
	CompletedBy *string
	CompletedAt *time.Time
	PhotoURL    *string
	CreatedAt   *time.Time
	UpdatedAt   *time.Time
}

// Validate rejects records that must not enter the working set: missing
// identity, non-finite coordinates, unrecognized status, or a record claiming
// to be both reserved and completed.
func (p Pin) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pin without id")
	}
	if !finite(p.Lat) || !finite(p.Lng) {
		return fmt.Errorf("pin %s: non-finite coordinates (%v, %v)", p.ID, p.Lat, p.Lng)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("pin %s: unrecognized status %q", p.ID, p.Status)
	}
	if p.ReservedBy != nil && p.CompletedBy != nil {
		return fmt.Errorf("pin %s: reservedBy and completedBy both set", p.ID)
	}
	return nil
}

// ReservedByUser reports whether the pin is currently reserved by userID.
func (p Pin) ReservedByUser(userID string) bool {
	return p.Status == StatusReserved && p.ReservedBy != nil && userID != "" && *p.ReservedBy == userID
}

// CompletedByUser reports whether the pin was completed by userID.
func (p Pin) CompletedByUser(userID string) bool {
	return p.Status == StatusCompleted && p.CompletedBy != nil && userID != "" && *p.CompletedBy == userID
}

// Clone returns a deep copy. The engine keeps pre-mutation snapshots for
// rollback, so the copy must not share pointer fields with the original.
func (p Pin) Clone() Pin {
	out := p
	out.ReservedBy = cloneString(p.ReservedBy)
	out.ReservedAt = cloneTime(p.ReservedAt)
	out.CompletedBy = cloneString(p.CompletedBy)
	out.CompletedAt = cloneTime(p.CompletedAt)
	out.PhotoURL = cloneString(p.PhotoURL)
	out.CreatedAt = cloneTime(p.CreatedAt)
	out.UpdatedAt = cloneTime(p.UpdatedAt)
	return out
}

// Equal compares two pins field by field, following pointers.
func (p Pin) Equal(other Pin) bool {
	return p.ID == other.ID &&
		p.AreaID == other.AreaID &&
		p.Lat == other.Lat &&
		p.Lng == other.Lng &&
		p.Status == other.Status &&
		p.Title == other.Title &&
		p.Address == other.Address &&
		equalString(p.ReservedBy, other.ReservedBy) &&
		equalTime(p.ReservedAt, other.ReservedAt) &&
		equalString(p.CompletedBy, other.CompletedBy) &&
		equalTime(p.CompletedAt, other.CompletedAt) &&
		equalString(p.PhotoURL, other.PhotoURL) &&
		equalTime(p.CreatedAt, other.CreatedAt) &&
		equalTime(p.UpdatedAt, other.UpdatedAt)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
