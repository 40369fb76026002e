package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/potree-clip/internal/jobs"
)

// JobRecord is a persisted job snapshot.
type JobRecord struct {
	ID              string    `json:"uuid"`
	Kind            string    `json:"type"`
	Status          string    `json:"status"`
	Started         time.Time `json:"started"`
	Finished        time.Time `json:"finished,omitempty"`
	Message         string    `json:"message,omitempty"`
	OutputDir       string    `json:"-"`
	ProcessedNodes  int64     `json:"processedNodes"`
	ProcessedPoints int64     `json:"processedPoints"`
	AcceptedPoints  int64     `json:"acceptedPoints"`
	DiscardedPoints int64     `json:"discardedPoints"`
}

// SaveJob inserts or updates the snapshot of a job.
func (db *DB) SaveJob(s jobs.Status) error {
	var finished sql.NullFloat64
	if s.Finished != nil {
		finished = sql.NullFloat64{Float64: unixSeconds(*s.Finished), Valid: true}
	}
	var nodes, points, accepted, discarded int64
	if p := s.Progress; p != nil {
		nodes, points, accepted, discarded = p.Nodes, p.Points, p.Accepted, p.Discarded
	}

	_, err := db.Exec(`
		INSERT INTO jobs (
			job_id, kind, status, started_unix, finished_unix, message, output_dir,
			processed_nodes, processed_points, accepted_points, discarded_points
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			finished_unix = excluded.finished_unix,
			message = excluded.message,
			processed_nodes = excluded.processed_nodes,
			processed_points = excluded.processed_points,
			accepted_points = excluded.accepted_points,
			discarded_points = excluded.discarded_points,
			updated_at = CURRENT_TIMESTAMP`,
		s.ID, s.Kind, string(s.State), unixSeconds(s.Started), finished, s.Message, s.OutputDir,
		nodes, points, accepted, discarded,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", s.ID, err)
	}
	return nil
}

const jobColumns = `job_id, kind, status, started_unix, finished_unix, message, output_dir,
	processed_nodes, processed_points, accepted_points, discarded_points`

// GetJob returns the record of job id, or jobs.ErrJobNotFound.
func (db *DB) GetJob(id string) (*JobRecord, error) {
	row := db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	return rec, err
}

// RecentJobs returns up to limit jobs, most recent first.
func (db *DB) RecentJobs(limit int) ([]JobRecord, error) {
	rows, err := db.Query(`SELECT `+jobColumns+` FROM jobs ORDER BY started_unix DESC, job_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*JobRecord, error) {
	var (
		rec      JobRecord
		started  float64
		finished sql.NullFloat64
	)
	if err := s.Scan(&rec.ID, &rec.Kind, &rec.Status, &started, &finished, &rec.Message, &rec.OutputDir,
		&rec.ProcessedNodes, &rec.ProcessedPoints, &rec.AcceptedPoints, &rec.DiscardedPoints); err != nil {
		return nil, err
	}
	rec.Started = fromUnixSeconds(started)
	if finished.Valid {
		rec.Finished = fromUnixSeconds(finished.Float64)
	}
	return &rec, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}
