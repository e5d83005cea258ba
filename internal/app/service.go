package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	stdsync "sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stamprally/api/internal/auth"
	"stamprally/api/internal/config"
	"stamprally/api/internal/geocode"
	"stamprally/api/internal/perm"
	"stamprally/api/internal/photo"
	"stamprally/api/internal/pin"
	"stamprally/api/internal/role"
	"stamprally/api/internal/search"
	"stamprally/api/internal/store"
	"stamprally/api/internal/sync"
	"stamprally/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureUserByName(ctx context.Context, id, name string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
	AreaOrganizer(ctx context.Context, areaID string) (string, error)
	CreateArea(ctx context.Context, area store.Area) (store.Area, error)
	GetArea(ctx context.Context, areaID string) (store.Area, error)
	ListAreasByOrganizer(ctx context.Context, organizerID string) ([]store.Area, error)
	MarkAreaGeocoded(ctx context.Context, areaID string) error
	ArchivePins(ctx context.Context, pins []store.ArchivedPin) error
	ListAreaPins(ctx context.Context, areaID string) ([]store.ArchivedPin, error)
}

type liveStore interface {
	sync.Remote
	Populate(ctx context.Context, areaID string, pins []pin.Pin) error
	Ping(ctx context.Context) error
}

type photoStore interface {
	Upload(ctx context.Context, pinID string, r io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, photoURL string) error
}

// areaSession is one client's open synchronization session for one area.
type areaSession struct {
	id     string
	areaID string
	userID string
	engine *sync.Engine
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	live     liveStore
	resolver *role.Resolver
	search   *search.Service
	photos   photoStore
	geocoder *geocode.Client
	sheets   *http.Client

	mu       stdsync.Mutex
	sessions map[string]*areaSession
}

func NewService(cfg config.Config, data dataStore, liveClient liveStore, searchSvc *search.Service, photos *photo.Store, geocoder *geocode.Client) *Service {
	s := &Service{
		cfg:      cfg,
		store:    data,
		live:     liveClient,
		resolver: role.NewResolver(data),
		search:   searchSvc,
		geocoder: geocoder,
		sheets:   &http.Client{Timeout: 30 * time.Second},
		sessions: make(map[string]*areaSession),
	}
	// photos stays a nil interface when no store is configured.
	if photos != nil {
		s.photos = photos
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := s.live.Ping(ctx); err != nil {
		return fmt.Errorf("live: %w", err)
	}
	return nil
}

// Login issues a token for a display name, creating the user on first sight.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	if name == "" {
		return Session{}, domainError(http.StatusBadRequest, "INVALID_NAME", "Name is required", nil)
	}
	user, err := s.store.EnsureUserByName(ctx, util.NewID("user"), name)
	if err != nil {
		return Session{}, fmt.Errorf("ensure user: %w", err)
	}

	expiresAt := time.Now().Add(s.cfg.TokenTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// ResolveActor resolves the caller's role within an area. A resolver failure
// yields the pending actor plus the error; callers decide whether pending
// blocks the operation or just empties the action set.
func (s *Service) ResolveActor(ctx context.Context, userID, areaID string) (role.Actor, error) {
	return s.resolver.Resolve(ctx, userID, areaID)
}

type CreateAreaInput struct {
	Name     string `json:"name"`
	SheetURL string `json:"sheetUrl"`
	Passcode string `json:"passcode"`
}

func (s *Service) CreateArea(ctx context.Context, session Session, input CreateAreaInput) (store.Area, error) {
	if input.Name == "" {
		return store.Area{}, domainError(http.StatusBadRequest, "INVALID_AREA", "Area name is required", nil)
	}
	if input.Passcode == "" {
		return store.Area{}, domainError(http.StatusBadRequest, "INVALID_AREA", "Passcode is required", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Passcode), bcrypt.DefaultCost)
	if err != nil {
		return store.Area{}, fmt.Errorf("hash passcode: %w", err)
	}

	area, err := s.store.CreateArea(ctx, store.Area{
		ID:           util.NewID("area"),
		Name:         input.Name,
		SheetURL:     input.SheetURL,
		PasscodeHash: string(hash),
		OrganizerID:  session.UserID,
	})
	if err != nil {
		return store.Area{}, fmt.Errorf("create area: %w", err)
	}
	return area, nil
}

func (s *Service) GetArea(ctx context.Context, areaID string) (store.Area, error) {
	area, err := s.store.GetArea(ctx, areaID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Area{}, domainError(http.StatusNotFound, "AREA_NOT_FOUND", "Area not found", nil)
	}
	return area, err
}

func (s *Service) ListMyAreas(ctx context.Context, session Session) ([]store.Area, error) {
	return s.store.ListAreasByOrganizer(ctx, session.UserID)
}

type SetupAreaResult struct {
	PinCount        int      `json:"pinCount"`
	FailedAddresses []string `json:"failedAddresses"`
}

// SetupArea runs the one-time pin population for an area: read the address
// sheet, geocode every row, seed the live store, and archive the result.
// Failed addresses become (0,0) placeholder pins rather than being dropped.
func (s *Service) SetupArea(ctx context.Context, session Session, areaID string) (SetupAreaResult, error) {
	area, err := s.GetArea(ctx, areaID)
	if err != nil {
		return SetupAreaResult{}, err
	}

	actor, err := s.resolver.Resolve(ctx, session.UserID, areaID)
	if err != nil {
		return SetupAreaResult{}, fmt.Errorf("resolve role: %w", err)
	}
	if !actor.Elevated() {
		return SetupAreaResult{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the organizer can set up an area", nil)
	}
	if area.Geocoded {
		return SetupAreaResult{}, domainError(http.StatusConflict, "ALREADY_SET_UP", "Area pins are already populated", nil)
	}
	if s.geocoder == nil {
		return SetupAreaResult{}, domainError(http.StatusServiceUnavailable, "GEOCODER_UNAVAILABLE", "Geocoding is not configured", nil)
	}
	if area.SheetURL == "" {
		return SetupAreaResult{}, domainError(http.StatusBadRequest, "NO_SHEET", "Area has no address sheet", nil)
	}

	addresses, err := geocode.FetchAddresses(ctx, s.sheets, area.SheetURL)
	if err != nil {
		return SetupAreaResult{}, fmt.Errorf("fetch addresses: %w", err)
	}
	if len(addresses) == 0 {
		return SetupAreaResult{}, domainError(http.StatusBadRequest, "EMPTY_SHEET", "Address sheet has no rows", nil)
	}

	entries := s.geocoder.GeocodeAll(ctx, addresses, s.cfg.GeocodeDelay)

	now := time.Now()
	pins := make([]pin.Pin, 0, len(entries))
	archived := make([]store.ArchivedPin, 0, len(entries))
	var failed []string
	for _, entry := range entries {
		title := entry.FullAddress
		if entry.Failed {
			failed = append(failed, entry.Address)
			title = ""
		}
		p := pin.Pin{
			ID:        util.NewID("pin"),
			AreaID:    areaID,
			Lat:       entry.Lat,
			Lng:       entry.Lng,
			Status:    pin.StatusUncompleted,
			Title:     title,
			Address:   entry.Address,
			CreatedAt: &now,
		}
		pins = append(pins, p)
		archived = append(archived, store.ArchivedPin{
			ID:      p.ID,
			AreaID:  areaID,
			Lat:     p.Lat,
			Lng:     p.Lng,
			Title:   p.Title,
			Address: p.Address,
		})
	}

	if err := s.live.Populate(ctx, areaID, pins); err != nil {
		return SetupAreaResult{}, fmt.Errorf("populate live store: %w", err)
	}
	if err := s.store.ArchivePins(ctx, archived); err != nil {
		return SetupAreaResult{}, fmt.Errorf("archive pins: %w", err)
	}
	if err := s.store.MarkAreaGeocoded(ctx, areaID); err != nil {
		return SetupAreaResult{}, fmt.Errorf("mark geocoded: %w", err)
	}

	if s.search != nil {
		records := make([]search.PinRecord, len(pins))
		for i, p := range pins {
			records[i] = search.RecordFromPin(p)
		}
		s.search.IndexArea(records)
	}

	return SetupAreaResult{PinCount: len(pins), FailedAddresses: failed}, nil
}

// JoinArea checks the passcode gate. The organizer and admins pass without
// one.
func (s *Service) JoinArea(ctx context.Context, session Session, areaID, passcode string) (store.Area, error) {
	area, err := s.GetArea(ctx, areaID)
	if err != nil {
		return store.Area{}, err
	}

	actor, resolveErr := s.resolver.Resolve(ctx, session.UserID, areaID)
	if resolveErr == nil && actor.Elevated() {
		return area, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(area.PasscodeHash), []byte(passcode)); err != nil {
		return store.Area{}, domainError(http.StatusForbidden, "WRONG_PASSCODE", "Wrong passcode", nil)
	}
	return area, nil
}

// OpenSession starts a synchronization engine for one client in one area and
// returns its handle. The engine runs until CloseSession or a stream failure.
func (s *Service) OpenSession(ctx context.Context, session Session, areaID string) (string, error) {
	if _, err := s.GetArea(ctx, areaID); err != nil {
		return "", err
	}

	engine := sync.New(areaID, s.live)
	runCtx, cancel := context.WithCancel(context.Background())
	as := &areaSession{
		id:     util.NewID("sess"),
		areaID: areaID,
		userID: session.UserID,
		engine: engine,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(as.done)
		err := engine.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("app: session %s for area %s ended: %v", as.id, areaID, err)
			as.err = err
		}
		s.mu.Lock()
		delete(s.sessions, as.id)
		s.mu.Unlock()
	}()

	s.mu.Lock()
	s.sessions[as.id] = as
	s.mu.Unlock()

	return as.id, nil
}

func (s *Service) CloseSession(session Session, sessionID string) error {
	s.mu.Lock()
	as, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
	}
	if as.userID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Not your session", nil)
	}
	as.cancel()
	<-as.done
	return nil
}

// CloseAll tears down every open session, for shutdown.
func (s *Service) CloseAll() {
	s.mu.Lock()
	open := make([]*areaSession, 0, len(s.sessions))
	for _, as := range s.sessions {
		open = append(open, as)
	}
	s.mu.Unlock()
	for _, as := range open {
		as.cancel()
		<-as.done
	}
}

func (s *Service) session(session Session, sessionID string) (*areaSession, error) {
	s.mu.Lock()
	as, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
	}
	if as.userID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not your session", nil)
	}
	return as, nil
}

// SessionView returns the working set, the session owner's available actions
// per pin, and the active edit session.
type SessionView struct {
	Pins    []PinView         `json:"pins"`
	Edit    *sync.EditSession `json:"edit,omitempty"`
	Pending bool              `json:"pending"`
}

type PinView struct {
	Pin     pin.Pin       `json:"pin"`
	Actions []perm.Action `json:"actions"`
}

func (s *Service) SessionView(ctx context.Context, session Session, sessionID string) (SessionView, error) {
	as, err := s.session(session, sessionID)
	if err != nil {
		return SessionView{}, err
	}

	view, err := as.engine.Snapshot(ctx)
	if err != nil {
		return SessionView{}, mapSyncError(err)
	}

	actor, resolveErr := s.resolver.Resolve(ctx, session.UserID, as.areaID)
	edit := perm.EditState{}
	if view.Edit != nil {
		edit = perm.EditState{Active: true, PinID: view.Edit.PinID}
	}

	out := SessionView{Pins: make([]PinView, 0, len(view.Pins)), Edit: view.Edit}
	for _, p := range view.Pins {
		decision := perm.Available(p, actor, edit)
		out.Pending = out.Pending || decision.Pending
		out.Pins = append(out.Pins, PinView{Pin: p, Actions: decision.Actions})
	}
	if resolveErr != nil {
		log.Printf("app: role resolution pending for user %s in area %s: %v", session.UserID, as.areaID, resolveErr)
	}
	return out, nil
}

// Changes exposes the engine's coalesced change signal for streaming.
func (s *Service) Changes(session Session, sessionID string) (<-chan struct{}, error) {
	as, err := s.session(session, sessionID)
	if err != nil {
		return nil, err
	}
	return as.engine.Changes(), nil
}

func (s *Service) actorFor(ctx context.Context, session Session, as *areaSession) (role.Actor, error) {
	actor, err := s.resolver.Resolve(ctx, session.UserID, as.areaID)
	if err != nil {
		return actor, domainError(http.StatusServiceUnavailable, "ROLE_PENDING", "Role resolution unavailable, try again", nil)
	}
	return actor, nil
}

func (s *Service) Reserve(ctx context.Context, session Session, sessionID, pinID string) error {
	as, err := s.session(session, sessionID)
	if err != nil {
		return err
	}
	actor, err := s.actorFor(ctx, session, as)
	if err != nil {
		return err
	}
	if err := as.engine.Reserve(ctx, actor, pinID); err != nil {
		return mapSyncError(err)
	}
	s.refreshIndex(ctx, as, pinID)
	return nil
}

func (s *Service) CancelReservation(ctx context.Context, session Session, sessionID, pinID string) error {
	as, err := s.session(session, sessionID)
	if err != nil {
		return err
	}
	actor, err := s.actorFor(ctx, session, as)
	if err != nil {
		return err
	}
	if err := as.engine.CancelReservation(ctx, actor, pinID); err != nil {
		return mapSyncError(err)
	}
	s.refreshIndex(ctx, as, pinID)
	return nil
}

// Achieve completes a pin, optionally storing an attached photo first. The
// photo upload happens before the completion write so the record carries the
// final URL; an upload failure aborts the completion entirely.
func (s *Service) Achieve(ctx context.Context, session Session, sessionID, pinID string, photoBody io.Reader, photoSize int64, contentType string) error {
	as, err := s.session(session, sessionID)
	if err != nil {
		return err
	}
	actor, err := s.actorFor(ctx, session, as)
	if err != nil {
		return err
	}

	var photoURL *string
	if photoBody != nil {
		if s.photos == nil {
			return domainError(http.StatusServiceUnavailable, "PHOTOS_UNAVAILABLE", "Photo storage is not configured", nil)
		}
		url, err := s.photos.Upload(ctx, pinID, photoBody, photoSize, contentType)
		if err != nil {
			return fmt.Errorf("upload photo: %w", err)
		}
		photoURL = &url
	}

	if err := as.engine.Achieve(ctx, actor, pinID, photoURL); err != nil {
		// A rejected achieve must not strand the uploaded object.
		if photoURL != nil {
			if rmErr := s.photos.Remove(ctx, *photoURL); rmErr != nil {
				log.Printf("app: remove photo for rejected achieve on pin %s: %v", pinID, rmErr)
			}
		}
		return mapSyncError(err)
	}
	s.refreshIndex(ctx, as, pinID)
	return nil
}

func (s *Service) CancelAchievement(ctx context.Context, session Session, sessionID, pinID string) error {
	as, err := s.session(session, sessionID)
	if err != nil {
		return err
	}
	actor, err := s.actorFor(ctx, session, as)
	if err != nil {
		return err
	}

	var photoURL *string
	if view, err := as.engine.Snapshot(ctx); err == nil {
		for _, p := range view.Pins {
			if p.ID == pinID {
				photoURL = p.PhotoURL
				break
			}
		}
	}

	if err := as.engine.CancelAchievement(ctx, actor, pinID); err != nil {
		return mapSyncError(err)
	}

	// Best effort: an orphaned object costs storage, not correctness.
	if photoURL != nil && s.photos != nil {
		if err := s.photos.Remove(ctx, *photoURL); err != nil {
			log.Printf("app: remove photo for pin %s: %v", pinID, err)
		}
	}
	s.refreshIndex(ctx, as, pinID)
	return nil
}

// refreshIndex pushes a pin's post-mutation record to the search index.
func (s *Service) refreshIndex(ctx context.Context, as *areaSession, pinID string) {
	if s.search == nil {
		return
	}
	view, err := as.engine.Snapshot(ctx)
	if err != nil {
		return
	}
	for _, p := range view.Pins {
		if p.ID == pinID {
			s.search.IndexPin(search.RecordFromPin(p))
			return
		}
	}
}

func (s *Service) StartEdit(ctx context.Context, session Session, sessionID, pinID string) error {
	as, err := s.session(session, sessionID)
	if err != nil {
		return err
	}
	actor, err := s.actorFor(ctx, session, as)
	if err != nil {
		return err
	}
	return mapSyncError(as.engine.StartEdit(ctx, actor, pinID))
}

func (s *Service) MoveEdit(ctx context.Context, session Session, sessionID string, lat, lng float64) error {
	as, err := s.session(session, sessionID)
	if err != nil {
		return err
	}
	return mapSyncError(as.engine.MoveEdit(ctx, lat, lng))
}

func (s *Service) SaveEdit(ctx context.Context, session Session, sessionID string) error {
	as, err := s.session(session, sessionID)
	if err != nil {
		return err
	}
	return mapSyncError(as.engine.SaveEdit(ctx))
}

func (s *Service) CancelEdit(ctx context.Context, session Session, sessionID string) error {
	as, err := s.session(session, sessionID)
	if err != nil {
		return err
	}
	return mapSyncError(as.engine.CancelEdit(ctx))
}

// SearchPins answers a free-text query scoped to the session's area.
func (s *Service) SearchPins(ctx context.Context, session Session, sessionID, query string, limit int) (search.Response, error) {
	as, err := s.session(session, sessionID)
	if err != nil {
		return search.Response{}, err
	}
	view, err := as.engine.Snapshot(ctx)
	if err != nil {
		return search.Response{}, mapSyncError(err)
	}
	if s.search == nil {
		results := search.Rank(view.Pins, query, limit)
		return search.Response{Results: results, Total: len(results), Query: query}, nil
	}
	return s.search.Search(search.Query{Text: query, AreaID: as.areaID, Limit: limit}, view.Pins), nil
}

// mapSyncError translates engine errors into transportable domain errors.
func mapSyncError(err error) error {
	if err == nil {
		return nil
	}
	var (
		authErr  *sync.AuthorizationError
		preErr   *sync.PreconditionError
		writeErr *sync.RemoteWriteError
	)
	switch {
	case errors.As(err, &authErr):
		return domainError(http.StatusForbidden, "NOT_ALLOWED", "Action not allowed for this actor", map[string]any{"pinId": authErr.PinID})
	case errors.As(err, &preErr):
		return domainError(http.StatusConflict, "PRECONDITION_FAILED", preErr.Reason, map[string]any{"pinId": preErr.PinID})
	case errors.As(err, &writeErr):
		return domainError(http.StatusBadGateway, "WRITE_FAILED", "Remote write failed, local state rolled back", map[string]any{"pinId": writeErr.PinID})
	case errors.Is(err, sync.ErrStopped):
		return domainError(http.StatusGone, "SESSION_ENDED", "Session is no longer live, reopen it", nil)
	}
	return err
}
