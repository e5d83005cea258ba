package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound marks lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, id, name string) (User, error) {
	const findUser = `SELECT id, display_name, created_at FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, id, name).Scan(&user.ID, &user.DisplayName, &user.CreatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// IsAdmin reports whether the user appears in the admins table.
func (s *PostgresStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var isAdmin bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM admins WHERE user_id=$1)`, userID).Scan(&isAdmin)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return isAdmin, nil
}

func (s *PostgresStore) GrantAdmin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admins (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("grant admin: %w", err)
	}
	return nil
}

// AreaOrganizer returns the organizer identity for an area.
func (s *PostgresStore) AreaOrganizer(ctx context.Context, areaID string) (string, error) {
	var organizerID string
	err := s.db.QueryRowContext(ctx, `SELECT organizer_id FROM areas WHERE id=$1`, areaID).Scan(&organizerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("area organizer: %w", err)
	}
	return organizerID, nil
}

func (s *PostgresStore) CreateArea(ctx context.Context, area Area) (Area, error) {
	const insertArea = `
		INSERT INTO areas (id, name, sheet_url, passcode_hash, organizer_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, sheet_url, passcode_hash, organizer_id, geocoded, geocoded_at, created_at
	`
	var out Area
	err := s.db.QueryRowContext(ctx, insertArea,
		area.ID, area.Name, area.SheetURL, area.PasscodeHash, area.OrganizerID,
	).Scan(&out.ID, &out.Name, &out.SheetURL, &out.PasscodeHash, &out.OrganizerID, &out.Geocoded, &out.GeocodedAt, &out.CreatedAt)
	if err != nil {
		return Area{}, fmt.Errorf("create area: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetArea(ctx context.Context, areaID string) (Area, error) {
	const query = `
		SELECT id, name, sheet_url, passcode_hash, organizer_id, geocoded, geocoded_at, created_at
		FROM areas WHERE id=$1
	`
	var area Area
	err := s.db.QueryRowContext(ctx, query, areaID).
		Scan(&area.ID, &area.Name, &area.SheetURL, &area.PasscodeHash, &area.OrganizerID, &area.Geocoded, &area.GeocodedAt, &area.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Area{}, ErrNotFound
	}
	if err != nil {
		return Area{}, fmt.Errorf("get area: %w", err)
	}
	return area, nil
}

func (s *PostgresStore) ListAreasByOrganizer(ctx context.Context, organizerID string) ([]Area, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, sheet_url, passcode_hash, organizer_id, geocoded, geocoded_at, created_at
		FROM areas
		WHERE organizer_id = $1
		ORDER BY created_at DESC
	`, organizerID)
	if err != nil {
		return nil, fmt.Errorf("list areas: %w", err)
	}
	defer rows.Close()

	areas := make([]Area, 0)
	for rows.Next() {
		var area Area
		if err := rows.Scan(&area.ID, &area.Name, &area.SheetURL, &area.PasscodeHash, &area.OrganizerID, &area.Geocoded, &area.GeocodedAt, &area.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan area: %w", err)
		}
		areas = append(areas, area)
	}
	return areas, rows.Err()
}

// MarkAreaGeocoded flips the one mutable area flag after pin population.
func (s *PostgresStore) MarkAreaGeocoded(ctx context.Context, areaID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE areas SET geocoded = TRUE, geocoded_at = NOW() WHERE id=$1
	`, areaID)
	if err != nil {
		return fmt.Errorf("mark area geocoded: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchivePins writes the immutable copies of an area's pins in one
// transaction, so a partial geocoding batch never leaves a partial archive.
func (s *PostgresStore) ArchivePins(ctx context.Context, pins []ArchivedPin) error {
	if len(pins) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	const insertPin = `
		INSERT INTO area_pins (id, area_id, lat, lng, title, address)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	for _, p := range pins {
		if _, err := tx.ExecContext(ctx, insertPin, p.ID, p.AreaID, p.Lat, p.Lng, p.Title, p.Address); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("archive pin %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAreaPins(ctx context.Context, areaID string) ([]ArchivedPin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, area_id, lat, lng, title, address, created_at
		FROM area_pins
		WHERE area_id = $1
		ORDER BY created_at, id
	`, areaID)
	if err != nil {
		return nil, fmt.Errorf("list area pins: %w", err)
	}
	defer rows.Close()

	pins := make([]ArchivedPin, 0)
	for rows.Next() {
		var p ArchivedPin
		if err := rows.Scan(&p.ID, &p.AreaID, &p.Lat, &p.Lng, &p.Title, &p.Address, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan area pin: %w", err)
		}
		pins = append(pins, p)
	}
	return pins, rows.Err()
}
