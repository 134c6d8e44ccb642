package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flaccapture/internal/capture"
	"flaccapture/internal/services"
)

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 50

// Record is one finished capture job.
type Record struct {
	ID           int64
	JobID        string
	Playlist     string
	Status       string
	Disposition  string
	OutputPath   string
	Streams      int
	Fetched      int
	OutputBytes  int64
	EncodeMethod string
	EncodeError  string
	ErrorKind    string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration is the wall time the job took.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FromOutcome converts an orchestrator outcome into a Record. disposition is
// where the playlist ended up (processed, failed, or empty for one-shot
// captures).
func FromOutcome(out *capture.Outcome, disposition string) Record {
	if out == nil {
		return Record{}
	}
	rec := Record{
		JobID:       out.JobID,
		Playlist:    out.Playlist,
		Status:      string(out.Status),
		Disposition: disposition,
		OutputPath:  out.OutputPath(),
		Streams:     len(out.Fetches),
		Fetched:     out.Fetched(),
		OutputBytes: out.OutputBytes(),
		StartedAt:   out.StartedAt,
		FinishedAt:  out.FinishedAt,
	}
	if out.Encoded != nil {
		rec.EncodeMethod = string(out.Encoded.Method)
	}
	if out.EncodeErr != nil {
		rec.EncodeError = out.EncodeErr.Error()
	}
	switch {
	case out.Err != nil:
		rec.ErrorKind = services.Classify(out.Err)
		rec.ErrorMessage = out.Err.Error()
	case out.Aborted:
		rec.ErrorKind = services.Classify(services.ErrCancelled)
		rec.ErrorMessage = fmt.Sprintf("fetch queue aborted after %d of %d streams", out.Fetched(), out.Requested)
	}
	return rec
}

// Insert stores rec and returns its row id.
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("history store unavailable")
	}
	if rec.Playlist == "" {
		return 0, errors.New("history record requires a playlist")
	}
	started := rec.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	finished := rec.FinishedAt
	if finished.IsZero() {
		finished = started
	}

	res, err := s.exec(ctx,
		`INSERT INTO captures (
            job_id, playlist, status, disposition, output_path, streams, fetched,
            output_bytes, encode_method, encode_error, error_kind, error_message,
            started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID,
		rec.Playlist,
		rec.Status,
		nullableString(rec.Disposition),
		nullableString(rec.OutputPath),
		rec.Streams,
		rec.Fetched,
		rec.OutputBytes,
		nullableString(rec.EncodeMethod),
		nullableString(rec.EncodeError),
		nullableString(rec.ErrorKind),
		nullableString(rec.ErrorMessage),
		started.UTC().Format(time.RFC3339Nano),
		finished.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert capture: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// List returns the most recent records first. limit <= 0 uses
// DefaultListLimit.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history store unavailable")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM captures ORDER BY finished_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}
	return records, nil
}

// Summary aggregates the history table.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Bytes     int64
}

// Summarize counts jobs by status and totals the produced bytes.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	if s == nil || s.db == nil {
		return Summary{}, errors.New("history store unavailable")
	}
	var summary Summary
	row := s.db.QueryRowContext(ctx, `SELECT
            COUNT(1),
            COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(output_bytes), 0)
        FROM captures`, string(capture.StatusSucceeded), string(capture.StatusFailed))
	if err := row.Scan(&summary.Total, &summary.Succeeded, &summary.Failed, &summary.Bytes); err != nil {
		return Summary{}, fmt.Errorf("summarize captures: %w", err)
	}
	return summary, nil
}

// Prune deletes records that finished before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("history store unavailable")
	}
	res, err := s.exec(ctx, "DELETE FROM captures WHERE finished_at < ?", cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune captures: %w", err)
	}
	return res.RowsAffected()
}

const recordColumns = "id, job_id, playlist, status, disposition, output_path, streams, fetched, output_bytes, encode_method, encode_error, error_kind, error_message, started_at, finished_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		rec          Record
		disposition  sql.NullString
		outputPath   sql.NullString
		encodeMethod sql.NullString
		encodeError  sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		startedRaw   string
		finishedRaw  string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.Playlist,
		&rec.Status,
		&disposition,
		&outputPath,
		&rec.Streams,
		&rec.Fetched,
		&rec.OutputBytes,
		&encodeMethod,
		&encodeError,
		&errorKind,
		&errorMessage,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return Record{}, err
	}
	rec.Disposition = disposition.String
	rec.OutputPath = outputPath.String
	rec.EncodeMethod = encodeMethod.String
	rec.EncodeError = encodeError.String
	rec.ErrorKind = errorKind.String
	rec.ErrorMessage = errorMessage.String
	rec.StartedAt = parseTime(startedRaw)
	rec.FinishedAt = parseTime(finishedRaw)
	return rec, nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
