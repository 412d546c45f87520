package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MADA-gnuBD/bikeops/models"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	stores := map[string]Store{}

	sqlite, err := Open(ctx, "", filepath.Join(t.TempDir(), "bikeops.db"))
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	stores["sqlite"] = sqlite

	if url := os.Getenv("DATABASE_URL"); url != "" {
		pg, err := Open(ctx, url, "")
		if err != nil {
			t.Fatalf("Open(postgres) error = %v", err)
		}
		t.Cleanup(func() { pg.Close() })
		stores["postgres"] = pg
	}
	return stores
}

func TestStationHistory(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stationID := "ST-" + uuid.NewString()[:8]
			t0 := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Second)

			for i, bikes := range []int{7, 4, 1} {
				snap := &models.Snapshot{
					ID:       uuid.New(),
					PolledAt: t0.Add(time.Duration(i) * time.Hour),
					Stations: []models.Station{{ID: stationID, Name: "Yeouido Park", Bikes: bikes, Racks: 15, Latitude: 37.525, Longitude: 126.922}},
				}
				if err := store.SaveSnapshot(ctx, snap); err != nil {
					t.Fatalf("SaveSnapshot() error = %v", err)
				}
			}

			points, err := store.GetStationHistory(ctx, stationID, t0.Add(30*time.Minute))
			if err != nil {
				t.Fatalf("GetStationHistory() error = %v", err)
			}
			if len(points) != 2 {
				t.Fatalf("GetStationHistory() returned %d points, expected 2", len(points))
			}
			if points[0].Bikes != 4 || points[1].Bikes != 1 {
				t.Errorf("bikes = %d, %d, expected 4, 1", points[0].Bikes, points[1].Bikes)
			}
			if !points[0].PolledAt.Before(points[1].PolledAt) {
				t.Errorf("points not ordered oldest first: %v, %v", points[0].PolledAt, points[1].PolledAt)
			}

			latest, err := store.LatestSnapshot(ctx)
			if err != nil || latest == nil {
				t.Fatalf("LatestSnapshot() = %v, %v", latest, err)
			}
			if st, ok := latest.Find(stationID); !ok || st.Bikes != 1 {
				t.Errorf("latest %s = %+v, %v, expected 1 bike", stationID, st, ok)
			}
		})
	}
}

func TestStationHistoryValidation(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.GetStationHistory(context.Background(), "", time.Time{}); err == nil {
				t.Error("GetStationHistory(\"\") expected error")
			}
		})
	}
}

func TestStationHistoryUnknownStation(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			points, err := store.GetStationHistory(context.Background(), "NOPE-"+uuid.NewString(), time.Time{})
			if err != nil {
				t.Fatal(err)
			}
			if points == nil || len(points) != 0 {
				t.Errorf("GetStationHistory() = %#v, expected empty non-nil slice", points)
			}
		})
	}
}

func TestWorkRoundTrip(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := "ST-" + uuid.NewString()[:8]
			at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

			if err := store.SaveWorkItem(ctx, models.WorkItem{StationID: id, StationName: "Mapo Bridge", Latitude: 37.54, Longitude: 126.94, QueuedAt: at}); err != nil {
				t.Fatal(err)
			}
			if err := store.SaveCompleted(ctx, models.CompletedWork{StationID: id, CompletedBy: "lee@example.com", CompletedAt: at}); err != nil {
				t.Fatal(err)
			}

			queued, done, err := store.LoadWork(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if !containsItem(queued, id) {
				t.Errorf("LoadWork() queue missing %s", id)
			}
			found := false
			for _, d := range done {
				found = found || d.StationID == id
			}
			if !found {
				t.Errorf("LoadWork() completed missing %s", id)
			}

			if err := store.DeleteWorkItem(ctx, id); err != nil {
				t.Fatal(err)
			}
			queued, _, _ = store.LoadWork(ctx)
			if containsItem(queued, id) {
				t.Errorf("%s still queued after DeleteWorkItem", id)
			}

			if err := store.DeleteCompleted(ctx, id); err != nil {
				t.Fatal(err)
			}
			_, done, _ = store.LoadWork(ctx)
			for _, d := range done {
				if d.StationID == id {
					t.Errorf("%s still completed after DeleteCompleted", id)
				}
			}
		})
	}
}

func TestPing(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Ping(context.Background()); err != nil {
				t.Errorf("Ping() error = %v", err)
			}
		})
	}
}

func containsItem(items []models.WorkItem, id string) bool {
	for _, it := range items {
		if it.StationID == id {
			return true
		}
	}
	return false
}
