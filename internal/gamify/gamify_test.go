package gamify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/pawsture/wellmon/internal/store"
)

type fakeGateway struct {
	store.Gateway
	points   map[int]float64
	failRead bool
	failWrit bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{points: map[int]float64{}}
}

func (f *fakeGateway) GamificationGet(ctx context.Context, userID int) (store.GamificationEntry, error) {
	if f.failRead {
		return store.GamificationEntry{}, fmt.Errorf("%w: boom", store.ErrTransient)
	}
	pts, ok := f.points[userID]
	if !ok {
		return store.GamificationEntry{}, fmt.Errorf("%w: user %d", store.ErrNotFound, userID)
	}
	return store.GamificationEntry{UserID: userID, Points: pts}, nil
}

func (f *fakeGateway) GamificationUpsert(ctx context.Context, entry store.GamificationEntry) error {
	if f.failWrit {
		return fmt.Errorf("%w: boom", store.ErrTransient)
	}
	f.points[entry.UserID] = entry.Points
	return nil
}

func TestDeltaFor(t *testing.T) {
	tests := []struct {
		verb string
		want float64
	}{
		{"accept", 0.2},
		{"postpone", 0},
		{"reject", -0.2},
		{"nonsense", 0},
	}
	for _, tt := range tests {
		if got := DeltaFor(tt.verb); got != tt.want {
			t.Errorf("DeltaFor(%q) = %v, want %v", tt.verb, got, tt.want)
		}
	}
}

func TestFirstObservationInitialisesAtTen(t *testing.T) {
	gw := newFakeGateway()
	ledger := NewLedger(gw)

	pts, err := ledger.AddPoints(context.Background(), 7, -0.2)
	if err != nil {
		t.Fatalf("AddPoints: %v", err)
	}
	if math.Abs(pts-9.8) > 1e-9 {
		t.Errorf("points = %v, want 9.8 (10.0 init then delta)", pts)
	}
}

func TestClampAtTen(t *testing.T) {
	gw := newFakeGateway()
	gw.points[2] = 9.9
	ledger := NewLedger(gw)

	// Three accepts from 9.9 stay pinned at 10.0.
	for i := 0; i < 3; i++ {
		pts, err := ledger.AddPoints(context.Background(), 2, 0.2)
		if err != nil {
			t.Fatalf("AddPoints #%d: %v", i+1, err)
		}
		if pts != 10.0 {
			t.Errorf("after accept #%d points = %v, want 10.0", i+1, pts)
		}
	}
}

func TestClampAtZero(t *testing.T) {
	gw := newFakeGateway()
	gw.points[3] = 0.1
	ledger := NewLedger(gw)

	pts, err := ledger.AddPoints(context.Background(), 3, -0.2)
	if err != nil {
		t.Fatal(err)
	}
	if pts != 0 {
		t.Errorf("points = %v, want clamp at 0", pts)
	}
}

func TestReadFailurePropagates(t *testing.T) {
	gw := newFakeGateway()
	gw.failRead = true
	ledger := NewLedger(gw)

	if _, err := ledger.AddPoints(context.Background(), 1, 0.2); !errors.Is(err, store.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient in chain", err)
	}
}

func TestWriteFailureLeavesNoCredit(t *testing.T) {
	gw := newFakeGateway()
	gw.points[4] = 5.0
	gw.failWrit = true
	ledger := NewLedger(gw)

	if _, err := ledger.AddPoints(context.Background(), 4, 0.2); err == nil {
		t.Fatal("expected error on write failure")
	}
	if gw.points[4] != 5.0 {
		t.Errorf("points mutated to %v despite write failure", gw.points[4])
	}
}
