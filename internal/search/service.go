package search

import (
	"log"
	"strings"

	"stamprally/api/internal/pin"
)

// Service is the facade that tries Meilisearch first and falls back to the
// local working-set scan. The local scan never fails, so search always
// answers; an unhealthy index only costs the cross-field ranking.
type Service struct {
	meili *Meili
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

// Search answers a query against one area. workingSet is the caller's current
// view of the area's pins; it backs the fallback path and indexes nothing.
func (s *Service) Search(q Query, workingSet []pin.Pin) Response {
	// An empty query yields nothing, never the full index. Meilisearch
	// treats "" as a placeholder search, so the guard must sit here.
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.meili != nil && s.meili.Healthy() {
		results, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: len(results), Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to local scan: %v", err)
	}

	results := Rank(workingSet, q.Text, q.Limit)
	return Response{Results: results, Total: len(results), Query: q.Text}
}

// IndexArea pushes an area's pin records to Meilisearch (fire-and-forget),
// typically right after area setup populates the live store.
func (s *Service) IndexArea(records []PinRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPins(records); err != nil {
			log.Printf("search: index area pins: %v", err)
		}
	}()
}

// IndexPin refreshes one pin's record (fire-and-forget).
func (s *Service) IndexPin(rec PinRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPin(rec); err != nil {
			log.Printf("search: index pin %s: %v", rec.ID, err)
		}
	}()
}

// RecordFromPin builds the indexable record for a pin.
func RecordFromPin(p pin.Pin) PinRecord {
	return PinRecord{
		ID:      p.ID,
		AreaID:  p.AreaID,
		Title:   p.Title,
		Address: p.Address,
		Status:  string(p.Status),
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
