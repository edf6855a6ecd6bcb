package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"video-clipper/internal/domain"
)

func openTestStore(t *testing.T, cap int) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), cap, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func summaryAt(id string, createdAt time.Time) domain.RunSummary {
	return domain.RunSummary{
		ID:             id,
		CreatedAt:      createdAt,
		SourceName:     "movie.mp4",
		Mode:           domain.ModeSingle,
		NamingPattern:  "{video}_{idx}",
		ClipCount:      1,
		TotalSizeBytes: 2048,
		Clips: []domain.ClipSummary{
			{Name: "movie_000.mp4", SizeBytes: 2048, StartSeconds: 0, DurationSeconds: 10, Playable: true},
		},
	}
}

// TestRecordAndList checks round-trip with most-recent-first ordering.
func TestRecordAndList(t *testing.T) {
	store := openTestStore(t, 10)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		summary := summaryAt(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := store.Record(ctx, summary); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "run-2" || got[2].ID != "run-0" {
		t.Fatalf("order = [%s %s %s], want most recent first", got[0].ID, got[1].ID, got[2].ID)
	}
	if len(got[0].Clips) != 1 || got[0].Clips[0].Name != "movie_000.mp4" {
		t.Fatalf("clip summaries did not round-trip: %+v", got[0].Clips)
	}
}

// TestRecordPrunesBeyondCap checks the oldest entries are dropped.
func TestRecordPrunesBeyondCap(t *testing.T) {
	store := openTestStore(t, 3)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		summary := summaryAt(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := store.Record(ctx, summary); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want cap of 3", len(got))
	}
	if got[0].ID != "run-4" || got[2].ID != "run-2" {
		t.Fatalf("kept = [%s %s %s], want the 3 newest", got[0].ID, got[1].ID, got[2].ID)
	}
}

// TestRecordOrderStableWithinSameSecond checks recency ties are broken
// by insertion order, so prune and list agree on which run is oldest.
func TestRecordOrderStableWithinSameSecond(t *testing.T) {
	store := openTestStore(t, 3)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := store.Record(ctx, summaryAt(fmt.Sprintf("run-%d", i), at)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want cap of 3", len(got))
	}
	if got[0].ID != "run-4" || got[1].ID != "run-3" || got[2].ID != "run-2" {
		t.Fatalf("kept = [%s %s %s], want the 3 latest insertions",
			got[0].ID, got[1].ID, got[2].ID)
	}
}

// TestOpenRecreatesCorruptedDatabase checks a garbage database file is
// discarded and replaced with an empty, working one.
func TestOpenRecreatesCorruptedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	if err := os.WriteFile(path, []byte("this is not a sqlite file"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	store, err := Open(path, 5, nil)
	if err != nil {
		t.Fatalf("Open over garbage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	got, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want empty after recreation", len(got))
	}

	if err := store.Record(ctx, summaryAt("run-0", time.Now().UTC())); err != nil {
		t.Fatalf("Record after recreation: %v", err)
	}
	got, err = store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != "run-0" {
		t.Fatalf("recreated store did not persist the new run: %+v", got)
	}
}

// TestListEmptyDatabase checks a fresh store yields an empty list.
func TestListEmptyDatabase(t *testing.T) {
	store := openTestStore(t, 10)

	got, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

// TestListSkipsCorruptedRows checks damaged entries are dropped silently.
func TestListSkipsCorruptedRows(t *testing.T) {
	store := openTestStore(t, 10)
	ctx := context.Background()

	good := summaryAt("run-good", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err := store.Record(ctx, good); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_, err := store.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, source_name, mode, naming_pattern, clip_count, total_size_bytes, clips_json)
		VALUES ('run-bad', '2026-03-01T13:00:00Z', 'movie.mp4', 'single', '{video}', 1, 100, 'not json')
	`)
	if err != nil {
		t.Fatalf("insert corrupted row: %v", err)
	}

	got, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != "run-good" {
		t.Fatalf("got %d rows, want only the intact one", len(got))
	}
}

// TestRangeTemplateRoundTrip checks multi-range templates survive storage.
func TestRangeTemplateRoundTrip(t *testing.T) {
	store := openTestStore(t, 10)
	ctx := context.Background()

	summary := summaryAt("run-multi", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	summary.Mode = domain.ModeMulti
	summary.Ranges = []domain.RangeTemplate{
		{Start: "00:00:00", End: "00:00:10"},
		{Start: "", End: "00:00:20"},
	}
	if err := store.Record(ctx, summary); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.List(ctx, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if len(got[0].Ranges) != 2 || got[0].Ranges[1].End != "00:00:20" {
		t.Fatalf("range template did not round-trip: %+v", got[0].Ranges)
	}
}
