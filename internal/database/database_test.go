package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"media-compressor/internal/metrics"
)

var _ metrics.StatsProvider = (*Database)(nil)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := New(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return db
}

func job(id, kind string, status JobStatus, in, out int64, created time.Time) JobRecord {
	return JobRecord{
		ID:          id,
		Kind:        kind,
		InputName:   id + ".bin",
		Format:      "webp",
		InputBytes:  in,
		OutputBytes: out,
		Status:      status,
		DurationMs:  42,
		CreatedAt:   created,
	}
}

// TestRecordQuery tests the recordQuery helper function.
func TestRecordQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		operation string
		err       error
	}{
		{"successful query", "test_operation", nil},
		{"failed query", "test_operation", errors.New("test error")},
		{"empty operation name", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// Must not panic for any label combination.
			recordQuery(tt.operation, time.Now(), tt.err)
		})
	}
}

func TestNew_CreatesSchema(t *testing.T) {
	db := setupTestDB(t)

	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	if filepath.Base(db.Path()) != "jobs.db" {
		t.Errorf("Path() = %s", db.Path())
	}

	var count int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('jobs','metadata')`).Scan(&count)
	if err != nil || count != 2 {
		t.Errorf("expected jobs and metadata tables, got %d (%v)", count, err)
	}
}

func TestNew_JobsColumns(t *testing.T) {
	db := setupTestDB(t)

	rows, err := db.db.Query(`SELECT name FROM pragma_table_info('jobs')`)
	if err != nil {
		t.Fatalf("table_info: %v", err)
	}
	defer rows.Close()

	got := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got[name] = true
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	for _, col := range []string{"id", "kind", "input_name", "format", "input_bytes", "output_bytes", "status", "error_kind", "error", "duration_ms", "created_at"} {
		if !got[col] {
			t.Errorf("jobs table missing column %s", col)
		}
	}
}

func TestCheckDirWritable(t *testing.T) {
	dir := t.TempDir()
	if err := checkDirWritable(filepath.Join(dir, "jobs.db")); err != nil {
		t.Errorf("writable dir: %v", err)
	}
	if err := checkDirWritable(filepath.Join(dir, "missing", "jobs.db")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestRecordJob_AndGetJob(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := job("a", "image", JobStatusSucceeded, 1000, 250, time.Unix(1700000000, 0))
	if err := db.RecordJob(ctx, rec); err != nil {
		t.Fatalf("RecordJob() error: %v", err)
	}

	got, err := db.GetJob(ctx, "a")
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if *got != rec {
		t.Errorf("GetJob() = %+v, want %+v", *got, rec)
	}

	if _, err := db.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRecordJob_Validation(t *testing.T) {
	db := setupTestDB(t)

	if err := db.RecordJob(context.Background(), JobRecord{Kind: "image"}); err == nil {
		t.Error("expected error for record without id")
	}
}

func TestRecordJob_DefaultsCreatedAt(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	if err := db.RecordJob(ctx, JobRecord{ID: "x", Kind: "video", Status: JobStatusSucceeded}); err != nil {
		t.Fatalf("RecordJob() error: %v", err)
	}
	got, err := db.GetJob(ctx, "x")
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if got.CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %v, expected about now", got.CreatedAt)
	}
}

func TestRecordJob_Upsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := job("same", "video", JobStatusFailed, 10, 0, time.Unix(100, 0))
	first.ErrorKind = "EngineError"
	second := job("same", "video", JobStatusSucceeded, 10, 5, time.Unix(100, 0))

	for _, r := range []JobRecord{first, second} {
		if err := db.RecordJob(ctx, r); err != nil {
			t.Fatalf("RecordJob() error: %v", err)
		}
	}

	jobs, err := db.RecentJobs(ctx, 10, "")
	if err != nil {
		t.Fatalf("RecentJobs() error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != JobStatusSucceeded || jobs[0].ErrorKind != "" {
		t.Errorf("expected single updated record, got %+v", jobs)
	}
}

func TestRecentJobs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	records := []JobRecord{
		job("oldest", "image", JobStatusSucceeded, 100, 50, base),
		job("middle", "video", JobStatusFailed, 200, 0, base.Add(time.Minute)),
		job("newest", "image", JobStatusSucceeded, 300, 100, base.Add(2*time.Minute)),
	}
	for _, r := range records {
		if err := db.RecordJob(ctx, r); err != nil {
			t.Fatalf("RecordJob() error: %v", err)
		}
	}

	tests := []struct {
		name  string
		limit int
		kind  string
		want  []string
	}{
		{"all newest first", 0, "", []string{"newest", "middle", "oldest"}},
		{"limited", 2, "", []string{"newest", "middle"}},
		{"negative uses default", -5, "", []string{"newest", "middle", "oldest"}},
		{"huge clamped", 100000, "", []string{"newest", "middle", "oldest"}},
		{"by kind", 0, "image", []string{"newest", "oldest"}},
		{"unknown kind", 0, "audio", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := db.RecentJobs(ctx, tt.limit, tt.kind)
			if err != nil {
				t.Fatalf("RecentJobs() error: %v", err)
			}
			if len(jobs) != len(tt.want) {
				t.Fatalf("got %d jobs, want %d", len(jobs), len(tt.want))
			}
			for i, id := range tt.want {
				if jobs[i].ID != id {
					t.Errorf("jobs[%d] = %s, want %s", i, jobs[i].ID, id)
				}
			}
		})
	}
}

func TestCalculateStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	empty, err := db.CalculateStats(ctx)
	if err != nil {
		t.Fatalf("CalculateStats() on empty db: %v", err)
	}
	if empty.TotalJobs != 0 || !empty.LastJobAt.IsZero() {
		t.Errorf("unexpected empty stats %+v", empty)
	}

	base := time.Unix(1700000000, 0)
	failed := job("f", "video", JobStatusFailed, 500, 0, base.Add(time.Hour))
	failed.ErrorKind = "EngineError"
	missing := job("m", "image", JobStatusFailed, 0, 0, base)
	missing.ErrorKind = "MissingInput"
	for _, r := range []JobRecord{
		job("a", "image", JobStatusSucceeded, 1000, 400, base),
		job("b", "video", JobStatusSucceeded, 5000, 1000, base),
		failed,
		missing,
	} {
		if err := db.RecordJob(ctx, r); err != nil {
			t.Fatalf("RecordJob() error: %v", err)
		}
	}

	stats, err := db.CalculateStats(ctx)
	if err != nil {
		t.Fatalf("CalculateStats() error: %v", err)
	}

	if stats.TotalJobs != 4 || stats.SucceededJobs != 2 || stats.FailedJobs != 2 {
		t.Errorf("counts = %+v", stats)
	}
	if stats.ImageJobs != 2 || stats.VideoJobs != 2 {
		t.Errorf("kinds = %d/%d", stats.ImageJobs, stats.VideoJobs)
	}
	// Failed jobs do not count towards bytes.
	if stats.BytesIn != 6000 || stats.BytesOut != 1400 || stats.BytesSaved != 4600 {
		t.Errorf("bytes = in %d out %d saved %d", stats.BytesIn, stats.BytesOut, stats.BytesSaved)
	}
	if stats.FailuresByKind["EngineError"] != 1 || stats.FailuresByKind["MissingInput"] != 1 {
		t.Errorf("FailuresByKind = %v", stats.FailuresByKind)
	}
	if !stats.LastJobAt.Equal(base.Add(time.Hour)) {
		t.Errorf("LastJobAt = %v", stats.LastJobAt)
	}

	if cached := db.CachedStats(); cached.TotalJobs != 4 {
		t.Errorf("CachedStats() = %+v", cached)
	}

	m := db.GetStats()
	if m.TotalJobs != 4 || m.SucceededJobs != 2 || m.FailedJobs != 2 || m.BytesIn != 6000 || m.BytesOut != 1400 {
		t.Errorf("GetStats() = %+v", m)
	}
}

func TestPrune(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	for _, r := range []JobRecord{
		job("old", "image", JobStatusSucceeded, 1, 1, now.Add(-48*time.Hour)),
		job("recent", "image", JobStatusSucceeded, 1, 1, now),
	} {
		if err := db.RecordJob(ctx, r); err != nil {
			t.Fatalf("RecordJob() error: %v", err)
		}
	}

	removed, err := db.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed %d, want 1", removed)
	}
	if _, err := db.GetJob(ctx, "recent"); err != nil {
		t.Errorf("recent job should survive: %v", err)
	}
}

func TestLastSweep(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	got, err := db.GetLastSweep(ctx)
	if err != nil || !got.IsZero() {
		t.Fatalf("GetLastSweep() on fresh db = %v, %v", got, err)
	}

	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := db.SetLastSweep(ctx, when); err != nil {
		t.Fatalf("SetLastSweep() error: %v", err)
	}
	got, err = db.GetLastSweep(ctx)
	if err != nil || !got.Equal(when) {
		t.Errorf("GetLastSweep() = %v, %v; want %v", got, err, when)
	}

	if err := db.SetLastSweep(ctx, time.Time{}); err != nil {
		t.Fatalf("clearing: %v", err)
	}
	if got, _ := db.GetLastSweep(ctx); !got.IsZero() {
		t.Errorf("expected zero after clearing, got %v", got)
	}

	if _, err := db.GetMetadata(ctx, "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestJobRecordRatio(t *testing.T) {
	tests := []struct {
		in, out int64
		want    float64
	}{
		{1000, 250, 0.25},
		{0, 10, 0},
		{10, 0, 0},
	}
	for _, tt := range tests {
		if got := (JobRecord{InputBytes: tt.in, OutputBytes: tt.out}).Ratio(); got != tt.want {
			t.Errorf("Ratio(%d,%d) = %v, want %v", tt.in, tt.out, got, tt.want)
		}
	}
}
