package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"media-compressor/internal/logging"
	"media-compressor/internal/metrics"
)

// Limits for RecentJobs.
const (
	DefaultJobsLimit = 50
	MaxJobsLimit     = 500
)

// ErrJobNotFound is returned by GetJob for unknown IDs.
var ErrJobNotFound = errors.New("job not found")

// RecordJob stores a finished job. Recording the same ID twice keeps the
// latest outcome.
func (d *Database) RecordJob(ctx context.Context, job JobRecord) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("record_job", start, err) }()

	if job.ID == "" {
		err = errors.New("job record without id")
		return err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
	INSERT INTO jobs (id, kind, input_name, format, input_bytes, output_bytes, status, error_kind, error, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		kind = excluded.kind,
		input_name = excluded.input_name,
		format = excluded.format,
		input_bytes = excluded.input_bytes,
		output_bytes = excluded.output_bytes,
		status = excluded.status,
		error_kind = excluded.error_kind,
		error = excluded.error,
		duration_ms = excluded.duration_ms
	`,
		job.ID,
		job.Kind,
		job.InputName,
		job.Format,
		job.InputBytes,
		job.OutputBytes,
		string(job.Status),
		job.ErrorKind,
		job.Error,
		job.DurationMs,
		job.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", job.ID, err)
	}
	return nil
}

const jobColumns = `id, kind, input_name, format, input_bytes, output_bytes, status, error_kind, error, duration_ms, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (JobRecord, error) {
	var job JobRecord
	var status string
	var created int64
	err := row.Scan(
		&job.ID, &job.Kind, &job.InputName, &job.Format,
		&job.InputBytes, &job.OutputBytes, &status,
		&job.ErrorKind, &job.Error, &job.DurationMs, &created,
	)
	job.Status = JobStatus(status)
	job.CreatedAt = time.Unix(created, 0)
	return job, err
}

// GetJob returns one job by ID.
func (d *Database) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_job", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	job, err := scanJob(d.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// RecentJobs returns up to limit jobs, newest first. kind filters by job
// kind when non-empty. limit is clamped to [1, MaxJobsLimit]; 0 means
// DefaultJobsLimit.
func (d *Database) RecentJobs(ctx context.Context, limit int, kind string) ([]JobRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("recent_jobs", start, err) }()

	switch {
	case limit <= 0:
		limit = DefaultJobsLimit
	case limit > MaxJobsLimit:
		limit = MaxJobsLimit
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := "SELECT " + jobColumns + " FROM jobs"
	args := []any{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logging.Warn("failed to close rows: %v", closeErr)
		}
	}()

	jobs := make([]JobRecord, 0, limit)
	for rows.Next() {
		var job JobRecord
		job, err = scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	err = rows.Err()
	return jobs, err
}

// CalculateStats aggregates the whole ledger and caches the result.
func (d *Database) CalculateStats(ctx context.Context) (HistoryStats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("calculate_stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	stats := HistoryStats{FailuresByKind: map[string]int{}}
	var lastJob sql.NullInt64

	err = d.db.QueryRowContext(ctx, `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN kind = 'image' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN kind = 'video' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN input_bytes ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN output_bytes ELSE 0 END), 0),
		MAX(created_at)
	FROM jobs
	`,
		string(JobStatusSucceeded), string(JobStatusFailed),
		string(JobStatusSucceeded), string(JobStatusSucceeded),
	).Scan(
		&stats.TotalJobs, &stats.SucceededJobs, &stats.FailedJobs,
		&stats.ImageJobs, &stats.VideoJobs,
		&stats.BytesIn, &stats.BytesOut, &lastJob,
	)
	if err != nil {
		return HistoryStats{}, err
	}
	if lastJob.Valid {
		stats.LastJobAt = time.Unix(lastJob.Int64, 0)
	}
	stats.BytesSaved = stats.BytesIn - stats.BytesOut

	rows, err := d.db.QueryContext(ctx, `
	SELECT error_kind, COUNT(*) FROM jobs
	WHERE status = ? AND error_kind != ''
	GROUP BY error_kind
	`, string(JobStatusFailed))
	if err != nil {
		return HistoryStats{}, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logging.Warn("failed to close rows: %v", closeErr)
		}
	}()
	for rows.Next() {
		var kind string
		var count int
		if err = rows.Scan(&kind, &count); err != nil {
			return HistoryStats{}, err
		}
		stats.FailuresByKind[kind] = count
	}
	if err = rows.Err(); err != nil {
		return HistoryStats{}, err
	}

	d.statsMu.Lock()
	d.stats = stats
	d.statsMu.Unlock()

	return stats, nil
}

// CachedStats returns the result of the last CalculateStats.
func (d *Database) CachedStats() HistoryStats {
	d.statsMu.RLock()
	defer d.statsMu.RUnlock()
	return d.stats
}

// GetStats refreshes the statistics for the metrics collector, falling back
// to the cached values when the query fails.
func (d *Database) GetStats() metrics.Stats {
	stats, err := d.CalculateStats(context.Background())
	if err != nil {
		logging.Warn("Failed to calculate job statistics: %v", err)
		stats = d.CachedStats()
	}
	return metrics.Stats{
		TotalJobs:     stats.TotalJobs,
		SucceededJobs: stats.SucceededJobs,
		FailedJobs:    stats.FailedJobs,
		BytesIn:       stats.BytesIn,
		BytesOut:      stats.BytesOut,
	}
}

// Prune deletes jobs older than age and returns how many were removed.
func (d *Database) Prune(ctx context.Context, age time.Duration) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("prune_jobs", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, "DELETE FROM jobs WHERE created_at < ?", time.Now().Add(-age).Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
