package search

import (
	"testing"

	"stamprally/api/internal/pin"
)

func TestRankOffsetOrdering(t *testing.T) {
	pins := []pin.Pin{
		{ID: "p1", AreaID: "a", Status: pin.StatusUncompleted, Title: "Main St"},
		{ID: "p2", AreaID: "a", Status: pin.StatusUncompleted, Address: "123 Main Ave"},
	}

	results := Rank(pins, "main", 0)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].PinID != "p1" || results[1].PinID != "p2" {
		t.Fatalf("order = [%s %s], want [p1 p2]", results[0].PinID, results[1].PinID)
	}
	if results[0].Rank != 0 || results[1].Rank != 4 {
		t.Fatalf("ranks = [%d %d], want [0 4]", results[0].Rank, results[1].Rank)
	}
}

func TestRankCaseAndWhitespace(t *testing.T) {
	pins := []pin.Pin{
		{ID: "p1", AreaID: "a", Status: pin.StatusUncompleted, Title: "Shibuya Crossing"},
	}

	for _, q := range []string{"shibuya", "SHIBUYA", "  Shibuya  ", "crossing"} {
		if got := Rank(pins, q, 0); len(got) != 1 {
			t.Fatalf("query %q: got %d results, want 1", q, len(got))
		}
	}
}

func TestRankPicksSmallerOffset(t *testing.T) {
	pins := []pin.Pin{
		{ID: "p1", AreaID: "a", Status: pin.StatusUncompleted, Title: "Old Station", Address: "Station Rd"},
	}

	results := Rank(pins, "station", 0)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	// Address matches at 0, title only at 4.
	if results[0].Rank != 0 {
		t.Fatalf("rank = %d, want 0", results[0].Rank)
	}
}

func TestRankStableOnTies(t *testing.T) {
	pins := []pin.Pin{
		{ID: "p1", AreaID: "a", Status: pin.StatusUncompleted, Title: "Park East"},
		{ID: "p2", AreaID: "a", Status: pin.StatusUncompleted, Title: "Park West"},
		{ID: "p3", AreaID: "a", Status: pin.StatusUncompleted, Title: "City Park"},
	}

	results := Rank(pins, "park", 0)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	// p1 and p2 tie at offset 0 and keep working-set order; p3 matches at 5.
	want := []string{"p1", "p2", "p3"}
	for i, w := range want {
		if results[i].PinID != w {
			t.Fatalf("results[%d] = %s, want %s", i, results[i].PinID, w)
		}
	}
}

func TestRankEdgeCases(t *testing.T) {
	pins := []pin.Pin{
		{ID: "p1", AreaID: "a", Status: pin.StatusUncompleted, Title: "Main St"},
		{ID: "p2", AreaID: "a", Status: pin.StatusUncompleted},
	}

	if got := Rank(pins, "", 0); len(got) != 0 {
		t.Fatalf("empty query returned %d results, want 0", len(got))
	}
	if got := Rank(pins, "   ", 0); len(got) != 0 {
		t.Fatalf("blank query returned %d results, want 0", len(got))
	}
	if got := Rank(pins, "harbor", 0); len(got) != 0 {
		t.Fatalf("no-match query returned %d results, want 0", len(got))
	}
	if got := Rank(nil, "main", 0); len(got) != 0 {
		t.Fatalf("empty working set returned %d results, want 0", len(got))
	}
}

func TestRankLimit(t *testing.T) {
	pins := []pin.Pin{
		{ID: "p1", AreaID: "a", Status: pin.StatusUncompleted, Title: "Gate A"},
		{ID: "p2", AreaID: "a", Status: pin.StatusUncompleted, Title: "Gate B"},
		{ID: "p3", AreaID: "a", Status: pin.StatusUncompleted, Title: "Gate C"},
	}

	if got := Rank(pins, "gate", 2); len(got) != 2 {
		t.Fatalf("limit 2 returned %d results", len(got))
	}
	if got := Rank(pins, "gate", 0); len(got) != 3 {
		t.Fatalf("limit 0 returned %d results, want all", len(got))
	}
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(nil)
	pins := []pin.Pin{
		{ID: "p1", AreaID: "a", Status: pin.StatusUncompleted, Title: "Main St"},
	}

	resp := svc.Search(Query{Text: "main", AreaID: "a"}, pins)
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("response = %+v, want one hit", resp)
	}
	if resp.Results[0].PinID != "p1" {
		t.Fatalf("hit = %s, want p1", resp.Results[0].PinID)
	}

	resp = svc.Search(Query{Text: "nothing"}, pins)
	if resp.Results == nil {
		t.Fatal("results must be non-nil for JSON encoding")
	}
}

func TestServiceEmptyQueryNeverReachesMeili(t *testing.T) {
	// A Meili marked healthy but with no client: any call through to it
	// would panic, so this also proves the guard fires before the index.
	m := &Meili{}
	m.healthy.Store(true)
	svc := NewService(m)

	pins := []pin.Pin{
		{ID: "p1", AreaID: "a", Status: pin.StatusUncompleted, Title: "Main St"},
	}

	for _, q := range []string{"", "   ", "\t\n"} {
		resp := svc.Search(Query{Text: q, AreaID: "a"}, pins)
		if len(resp.Results) != 0 || resp.Total != 0 {
			t.Fatalf("query %q returned %d results, want none", q, len(resp.Results))
		}
		if resp.Results == nil {
			t.Fatalf("query %q: results must be non-nil for JSON encoding", q)
		}
	}
}
