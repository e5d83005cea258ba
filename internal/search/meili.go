package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxPins = "stamprally_pins"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the pins index.
// Returns a client even if the initial connection fails; the health loop
// reconfigures once the server comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPins,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxPins, err)
	}

	index := m.client.Index(idxPins)
	filterable := []interface{}{"areaId", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxPins, err)
	}
	searchable := []string{"title", "address"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxPins, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the pins index, filtered to one area when asked.
func (m *Meili) Search(q Query) ([]Result, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit: limit,
	}
	if q.AreaID != "" {
		sr.Filter = []string{fmt.Sprintf("areaId = %q", q.AreaID)}
	}

	resp, err := m.client.Index(idxPins).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for i, hit := range resp.Hits {
		results = append(results, Result{
			PinID:   decodeString(hit, "id"),
			AreaID:  decodeString(hit, "areaId"),
			Title:   decodeString(hit, "title"),
			Address: decodeString(hit, "address"),
			Status:  decodeString(hit, "status"),
			Rank:    i,
		})
	}
	return results, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexPins bulk-indexes pin records.
func (m *Meili) IndexPins(records []PinRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPins).AddDocuments(records, nil)
	return err
}

// IndexPin adds or updates one pin in the search index.
func (m *Meili) IndexPin(rec PinRecord) error {
	_, err := m.client.Index(idxPins).AddDocuments([]PinRecord{rec}, nil)
	return err
}

// DeletePin removes a pin from the search index.
func (m *Meili) DeletePin(id string) error {
	_, err := m.client.Index(idxPins).DeleteDocument(id, nil)
	return err
}
