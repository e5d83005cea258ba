package pin

import (
	"math"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	uid := "uid-x"

	cases := []struct {
		name    string
		mutate  func(*Pin)
		wantErr bool
	}{
		{name: "valid record", mutate: func(p *Pin) {}},
		{name: "missing id", mutate: func(p *Pin) { p.ID = "" }, wantErr: true},
		{name: "NaN latitude", mutate: func(p *Pin) { p.Lat = math.NaN() }, wantErr: true},
		{name: "infinite longitude", mutate: func(p *Pin) { p.Lng = math.Inf(1) }, wantErr: true},
		{name: "unknown status", mutate: func(p *Pin) { p.Status = "archived" }, wantErr: true},
		{name: "empty status", mutate: func(p *Pin) { p.Status = "" }, wantErr: true},
		{name: "placeholder origin is valid", mutate: func(p *Pin) { p.Lat, p.Lng = 0, 0 }},
		{
			name: "reserved and completed at once",
			mutate: func(p *Pin) {
				p.ReservedBy = &uid
				p.CompletedBy = &uid
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Pin{ID: "p1", AreaID: "a1", Lat: 35.0, Lng: 139.0, Status: StatusUncompleted}
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestCloneDoesNotShareFields(t *testing.T) {
	uid := "uid-x"
	at := time.Now()
	p := Pin{ID: "p1", Status: StatusReserved, ReservedBy: &uid, ReservedAt: &at}

	clone := p.Clone()
	if !clone.Equal(p) {
		t.Fatal("clone differs from original")
	}

	*clone.ReservedBy = "uid-y"
	*clone.ReservedAt = at.Add(time.Hour)
	if *p.ReservedBy != "uid-x" || !p.ReservedAt.Equal(at) {
		t.Fatal("mutating the clone leaked into the original")
	}
}

func TestEqual(t *testing.T) {
	uid := "uid-x"
	other := "uid-y"
	at := time.Now()

	base := Pin{ID: "p1", Status: StatusReserved, ReservedBy: &uid, ReservedAt: &at}
	same := base.Clone()
	if !base.Equal(same) {
		t.Fatal("clone should compare equal")
	}

	diff := base.Clone()
	diff.ReservedBy = &other
	if base.Equal(diff) {
		t.Fatal("different reservedBy should not compare equal")
	}

	nilBy := base.Clone()
	nilBy.ReservedBy = nil
	if base.Equal(nilBy) {
		t.Fatal("nil vs set pointer should not compare equal")
	}
}
