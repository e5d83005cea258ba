package live

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"stamprally/api/internal/pin"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client, err := NewClient("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create live client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, s
}

func seedPins() []pin.Pin {
	created := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	return []pin.Pin{
		{ID: "area1_0", AreaID: "area1", Lat: 35.68, Lng: 139.76, Status: pin.StatusUncompleted, Address: "1-1 Chiyoda", CreatedAt: &created},
		{ID: "area1_1", AreaID: "area1", Lat: 35.66, Lng: 139.70, Status: pin.StatusUncompleted, Title: "Shibuya Crossing", CreatedAt: &created},
	}
}

func TestPopulateAndLoad(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	if err := client.Populate(ctx, "area1", seedPins()); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}

	records, err := client.Load(ctx, "area1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("loaded %d records, want 2", len(records))
	}

	byID := map[string]Record{}
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	first, ok := byID["area1_0"]
	if !ok {
		t.Fatal("area1_0 missing from load")
	}
	if first.Status != "uncompleted" || first.Address != "1-1 Chiyoda" {
		t.Fatalf("unexpected record: %+v", first)
	}
	if first.Lat != 35.68 || first.Lng != 139.76 {
		t.Fatalf("coordinates = (%v, %v)", first.Lat, first.Lng)
	}
	if first.CreatedAt == nil {
		t.Fatal("createdAt lost in round trip")
	}
	if first.ReservedBy != nil || first.CompletedBy != nil {
		t.Fatal("ownership fields should start clear")
	}
}

func TestWritePartialFields(t *testing.T) {
	client, s := setupTestClient(t)
	ctx := context.Background()

	if err := client.Populate(ctx, "area1", seedPins()); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}

	serverNow := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
	s.SetTime(serverNow)

	if err := client.Write(ctx, "area1", "area1_0", ReserveFields("uid-x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	rec, err := client.read(ctx, "area1_0")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if rec.Status != "reserved" {
		t.Fatalf("status = %q, want reserved", rec.Status)
	}
	if rec.ReservedBy == nil || *rec.ReservedBy != "uid-x" {
		t.Fatalf("reservedBy = %v, want uid-x", rec.ReservedBy)
	}
	if rec.ReservedAt == nil || !rec.ReservedAt.Equal(serverNow) {
		t.Fatalf("reservedAt = %v, want server time %v", rec.ReservedAt, serverNow)
	}
	// Untouched fields must survive a partial write.
	if rec.Address != "1-1 Chiyoda" || rec.Lat != 35.68 {
		t.Fatalf("partial write clobbered untouched fields: %+v", rec)
	}

	if err := client.Write(ctx, "area1", "area1_0", ReleaseReservationFields()); err != nil {
		t.Fatalf("release write failed: %v", err)
	}
	rec, err = client.read(ctx, "area1_0")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if rec.Status != "uncompleted" || rec.ReservedBy != nil || rec.ReservedAt != nil {
		t.Fatalf("release did not clear reservation: %+v", rec)
	}
}

func TestCorruptedCoordinateDecodesAsInvalid(t *testing.T) {
	client, s := setupTestClient(t)
	ctx := context.Background()

	if err := client.Populate(ctx, "area1", seedPins()); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}

	// A foreign writer scribbles garbage over the stored latitude.
	s.HSet("pin:area1_0", "lat", "not-a-number")

	rec, err := client.read(ctx, "area1_0")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !math.IsNaN(rec.Lat) {
		t.Fatalf("lat = %v, want NaN for a corrupted value", rec.Lat)
	}
	if _, err := rec.Pin(); err == nil {
		t.Fatal("corrupted record must fail boundary validation")
	}

	// The intact pin still decodes.
	other, err := client.read(ctx, "area1_1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if _, err := other.Pin(); err != nil {
		t.Fatalf("intact record rejected: %v", err)
	}
}

func TestWriteMissingPin(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	err := client.Write(ctx, "area1", "area1_404", ReserveFields("uid-x"))
	if err == nil {
		t.Fatal("expected error for missing pin")
	}
}

func TestSubscribeResetThenIncremental(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Populate(ctx, "area1", seedPins()); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}

	events, err := client.Subscribe(ctx, "area1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	first := nextEvent(t, events)
	if !first.Reset {
		t.Fatalf("first event should be a reset, got %+v", first)
	}
	if len(first.Records) != 2 {
		t.Fatalf("reset carried %d records, want 2", len(first.Records))
	}

	if err := client.Write(ctx, "area1", "area1_1", ReserveFields("uid-y")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Skip anything republished around the reset until our write shows up.
	deadline := time.After(2 * time.Second)
	for {
		var ev Event
		select {
		case ev = <-events:
		case <-deadline:
			t.Fatal("timed out waiting for incremental event")
		}
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		if ev.Reset || len(ev.Records) != 1 {
			continue
		}
		rec := ev.Records[0]
		if rec.ID == "area1_1" && rec.Status == "reserved" {
			if rec.ReservedBy == nil || *rec.ReservedBy != "uid-y" {
				t.Fatalf("streamed record missing reserver: %+v", rec)
			}
			return
		}
	}
}

func TestSubscribeEndsOnCancel(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := client.Subscribe(ctx, "area1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	nextEvent(t, events) // reset

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			// One buffered event may still drain; the channel must close after.
			select {
			case _, ok := <-events:
				if ok {
					t.Fatal("stream kept emitting after cancel")
				}
			case <-time.After(2 * time.Second):
				t.Fatal("stream did not close after cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed early")
		}
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return Event{}
	}
}
