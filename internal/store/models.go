package store

import "time"

// User is a display-name identity. Authentication proper lives with the
// token layer; the store only guarantees one row per display name.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Area is the control-plane record for one rally area: who organizes it,
// where its address sheet came from, and whether pin population finished.
// Read-only after creation except for the geocoded flag.
type Area struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	SheetURL     string     `json:"sheetUrl,omitempty"`
	PasscodeHash string     `json:"-"`
	OrganizerID  string     `json:"organizerId"`
	Geocoded     bool       `json:"geocoded"`
	GeocodedAt   *time.Time `json:"geocodedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// ArchivedPin is the durable copy of a pin written at area setup. The live
// store owns the mutable status fields; this archive keeps the source list
// reconcilable and survives a live-store flush.
type ArchivedPin struct {
	ID        string    `json:"id"`
	AreaID    string    `json:"areaId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Title     string    `json:"title,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
