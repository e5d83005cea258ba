package live

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"stamprally/api/internal/pin"
)

// Hash field names. These are the wire contract with every other client of
// the live store; renaming one is a breaking change.
const (
	fieldAreaID      = "areaId"
	fieldLat         = "lat"
	fieldLng         = "lng"
	fieldStatus      = "status"
	fieldTitle       = "title"
	fieldAddress     = "address"
	fieldReservedBy  = "reservedBy"
	fieldReservedAt  = "reservedAt"
	fieldCompletedBy = "completedBy"
	fieldCompletedAt = "completedAt"
	fieldPhotoURL    = "photoUrl"
	fieldCreatedAt   = "createdAt"
	fieldUpdatedAt   = "updatedAt"
)

// Record is the wire form of one pin as stored and streamed. It is loosely
// typed on purpose: validation into a pin.Pin happens at the consumer's
// boundary, never here.
type Record struct {
	ID          string     `json:"id"`
	AreaID      string     `json:"areaId"`
	Lat         float64    `json:"lat"`
	Lng         float64    `json:"lng"`
	Status      string     `json:"status"`
	Title       string     `json:"title,omitempty"`
	Address     string     `json:"address,omitempty"`
	ReservedBy  *string    `json:"reservedBy"`
	ReservedAt  *time.Time `json:"reservedAt"`
	CompletedBy *string    `json:"completedBy"`
	CompletedAt *time.Time `json:"completedAt"`
	PhotoURL    *string    `json:"photoUrl"`
	CreatedAt   *time.Time `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

// Pin validates the record and coerces it into a strict pin.Pin.
func (r Record) Pin() (pin.Pin, error) {
	p := pin.Pin{
		ID:          r.ID,
		AreaID:      r.AreaID,
		Lat:         r.Lat,
		Lng:         r.Lng,
		Status:      pin.Status(r.Status),
		Title:       r.Title,
		Address:     r.Address,
		ReservedBy:  r.ReservedBy,
		ReservedAt:  r.ReservedAt,
		CompletedBy: r.CompletedBy,
		CompletedAt: r.CompletedAt,
		PhotoURL:    r.PhotoURL,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := p.Validate(); err != nil {
		return pin.Pin{}, err
	}
	return p.Clone(), nil
}

// RecordFromPin builds the wire form of a pin.
func RecordFromPin(p pin.Pin) Record {
	return Record{
		ID:          p.ID,
		AreaID:      p.AreaID,
		Lat:         p.Lat,
		Lng:         p.Lng,
		Status:      string(p.Status),
		Title:       p.Title,
		Address:     p.Address,
		ReservedBy:  p.ReservedBy,
		ReservedAt:  p.ReservedAt,
		CompletedBy: p.CompletedBy,
		CompletedAt: p.CompletedAt,
		PhotoURL:    p.PhotoURL,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// Event is one message from an area's change stream. The first event after
// subscribing is a Reset carrying the full collection; later events carry the
// records that changed, in delivery order. A non-nil Err terminates the
// stream; the channel is closed afterwards.
type Event struct {
	Reset   bool
	Records []Record
	Err     error
}

// serverTimestamp is the sentinel value for fields the store must stamp with
// its own clock, keeping ordering meaningful across clients whose clocks
// disagree.
type serverTimestamp struct{}

// ServerTimestamp marks a Fields value to be assigned the store's clock.
var ServerTimestamp = serverTimestamp{}

// Fields is a partial update: only named fields change, a nil value clears a
// field, everything else is left untouched.
type Fields map[string]any

// ReserveFields is the write for uncompleted -> reserved.
func ReserveFields(userID string) Fields {
	return Fields{
		fieldStatus:     string(pin.StatusReserved),
		fieldReservedBy: userID,
		fieldReservedAt: ServerTimestamp,
	}
}

// ReleaseReservationFields is the write for reserved -> uncompleted.
func ReleaseReservationFields() Fields {
	return Fields{
		fieldStatus:     string(pin.StatusUncompleted),
		fieldReservedBy: nil,
		fieldReservedAt: nil,
	}
}

// CompleteFields is the write for a completion; it also clears any
// reservation so the two ownership fields stay mutually exclusive.
func CompleteFields(userID string, photoURL *string) Fields {
	f := Fields{
		fieldStatus:      string(pin.StatusCompleted),
		fieldCompletedBy: userID,
		fieldCompletedAt: ServerTimestamp,
		fieldReservedBy:  nil,
		fieldReservedAt:  nil,
	}
	if photoURL != nil {
		f[fieldPhotoURL] = *photoURL
	} else {
		f[fieldPhotoURL] = nil
	}
	return f
}

// ReleaseCompletionFields is the write for completed -> uncompleted.
func ReleaseCompletionFields() Fields {
	return Fields{
		fieldStatus:      string(pin.StatusUncompleted),
		fieldCompletedBy: nil,
		fieldCompletedAt: nil,
		fieldPhotoURL:    nil,
	}
}

// MoveFields is the write committing an edit session's tentative position.
func MoveFields(lat, lng float64) Fields {
	return Fields{
		fieldLat: lat,
		fieldLng: lng,
	}
}

// encodeField renders one Fields value into its hash representation.
// The second return is true when the field should be cleared instead.
func encodeField(name string, value any, serverNow time.Time) (string, bool, error) {
	switch v := value.(type) {
	case nil:
		return "", true, nil
	case serverTimestamp:
		return serverNow.UTC().Format(time.RFC3339Nano), false, nil
	case string:
		return v, false, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), false, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), false, nil
	default:
		return "", false, fmt.Errorf("field %s: unsupported value type %T", name, value)
	}
}

// decodeHash turns an HGETALL result into a Record.
func decodeHash(id string, hash map[string]string) Record {
	rec := Record{
		ID:      id,
		AreaID:  hash[fieldAreaID],
		Status:  hash[fieldStatus],
		Title:   hash[fieldTitle],
		Address: hash[fieldAddress],
	}
	rec.Lat = parseCoord(hash[fieldLat])
	rec.Lng = parseCoord(hash[fieldLng])
	rec.ReservedBy = optString(hash, fieldReservedBy)
	rec.ReservedAt = optTime(hash, fieldReservedAt)
	rec.CompletedBy = optString(hash, fieldCompletedBy)
	rec.CompletedAt = optTime(hash, fieldCompletedAt)
	rec.PhotoURL = optString(hash, fieldPhotoURL)
	rec.CreatedAt = optTime(hash, fieldCreatedAt)
	rec.UpdatedAt = optTime(hash, fieldUpdatedAt)
	return rec
}

func encodeHash(rec Record) map[string]string {
	hash := map[string]string{
		fieldAreaID:  rec.AreaID,
		fieldLat:     strconv.FormatFloat(rec.Lat, 'f', -1, 64),
		fieldLng:     strconv.FormatFloat(rec.Lng, 'f', -1, 64),
		fieldStatus:  rec.Status,
		fieldTitle:   rec.Title,
		fieldAddress: rec.Address,
	}
	putOptString(hash, fieldReservedBy, rec.ReservedBy)
	putOptTime(hash, fieldReservedAt, rec.ReservedAt)
	putOptString(hash, fieldCompletedBy, rec.CompletedBy)
	putOptTime(hash, fieldCompletedAt, rec.CompletedAt)
	putOptString(hash, fieldPhotoURL, rec.PhotoURL)
	putOptTime(hash, fieldCreatedAt, rec.CreatedAt)
	putOptTime(hash, fieldUpdatedAt, rec.UpdatedAt)
	return hash
}

// parseCoord decodes a stored coordinate. A corrupted or missing value
// becomes NaN so boundary validation drops the record instead of placing
// it at a real location.
func parseCoord(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func optString(hash map[string]string, key string) *string {
	v, ok := hash[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}

func optTime(hash map[string]string, key string) *time.Time {
	v, ok := hash[key]
	if !ok || v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}

func putOptString(hash map[string]string, key string, v *string) {
	if v != nil {
		hash[key] = *v
	}
}

func putOptTime(hash map[string]string, key string, v *time.Time) {
	if v != nil {
		hash[key] = v.UTC().Format(time.RFC3339Nano)
	}
}
