package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nijaru/yt-transcripts/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var DB *sql.DB

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record is one stored extraction outcome, keyed by video id.
type Record struct {
	VideoID   string
	BatchID   string
	Title     string
	SourceURL string
	Status    string
	Method    string
	Language  string
	Text      string
	ErrorKind string
	Message   string
	Attempted []string
	UpdatedAt time.Time
}

func InitializeDB(dbPath string) error {
	logrus.WithField("path", dbPath).Info("Initializing database")

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "error creating directory for database")
	}

	var err error
	DB, err = sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "error opening database")
	}

	DB.SetMaxOpenConns(10)
	DB.SetMaxIdleConns(5)
	DB.SetConnMaxLifetime(30 * time.Minute)

	_, err = DB.Exec(`CREATE TABLE IF NOT EXISTS results (
                    video_id TEXT PRIMARY KEY,
                    batch_id TEXT NOT NULL,
                    title TEXT NOT NULL DEFAULT '',
                    source_url TEXT NOT NULL DEFAULT '',
                    status TEXT NOT NULL,
                    method TEXT NOT NULL DEFAULT '',
                    language TEXT NOT NULL DEFAULT '',
                    text TEXT,
                    error_kind TEXT NOT NULL DEFAULT '',
                    message TEXT NOT NULL DEFAULT '',
                    attempted TEXT NOT NULL DEFAULT '[]',
                    updated_at TIMESTAMP NOT NULL
)`)
	if err != nil {
		DB.Close()
		return errors.Wrap(err, "error creating table")
	}

	_, err = DB.Exec(`CREATE INDEX IF NOT EXISTS idx_results_updated ON results(updated_at)`)
	if err != nil {
		DB.Close()
		return errors.Wrap(err, "error creating index")
	}

	return nil
}

// NewBatchID returns an id grouping the results of one run.
func NewBatchID() string {
	return uuid.NewString()
}

// SaveResult upserts res. A failure never overwrites an earlier success.
func SaveResult(ctx context.Context, batchID string, res models.ExtractionResult) error {
	status := StatusFailed
	if res.Success {
		status = StatusCompleted
	}
	attempted, err := json.Marshal(res.Attempted)
	if err != nil {
		return errors.Wrap(err, "error encoding attempted strategies")
	}
	updated := res.FinishedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "error beginning transaction")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results
        (video_id, batch_id, title, source_url, status, method, language, text, error_kind, message, attempted, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(video_id) DO UPDATE SET
            batch_id=excluded.batch_id, title=excluded.title, source_url=excluded.source_url,
            status=excluded.status, method=excluded.method, language=excluded.language,
            text=excluded.text, error_kind=excluded.error_kind, message=excluded.message,
            attempted=excluded.attempted, updated_at=excluded.updated_at
        WHERE excluded.status = 'completed' OR results.status != 'completed'`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "error preparing statement")
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx,
		res.Task.ID, batchID, res.Task.Title, res.Task.SourceURL,
		status, string(res.Method), res.Language, nullString(res.Text),
		res.Kind, res.Message, string(attempted), updated.UTC(),
	)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "error executing statement")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "error committing transaction")
	}
	return nil
}

const selectColumns = `video_id, batch_id, title, source_url, status, method, language, text, error_kind, message, attempted, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		r         Record
		text      sql.NullString
		attempted string
	)
	err := s.Scan(&r.VideoID, &r.BatchID, &r.Title, &r.SourceURL, &r.Status, &r.Method,
		&r.Language, &text, &r.ErrorKind, &r.Message, &attempted, &r.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	r.Text = text.String
	if attempted != "" {
		if err := json.Unmarshal([]byte(attempted), &r.Attempted); err != nil {
			return Record{}, errors.Wrap(err, "error decoding attempted strategies")
		}
	}
	return r, nil
}

// GetResult returns the stored record for videoID. found is false when
// nothing has been stored yet.
func GetResult(ctx context.Context, videoID string) (Record, bool, error) {
	row := DB.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM results WHERE video_id = ?", videoID)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, errors.Wrap(err, "error querying database")
	}
	return r, true, nil
}

// ListRecent returns up to limit records, newest first. status filters when
// not empty.
func ListRecent(ctx context.Context, limit int, status string) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT " + selectColumns + " FROM results"
	args := []any{}
	if status = strings.TrimSpace(status); status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY updated_at DESC, video_id LIMIT ?"
	args = append(args, limit)

	rows, err := DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error querying database")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "error scanning row")
		}
		records = append(records, r)
	}
	return records, errors.Wrap(rows.Err(), "error iterating rows")
}

// Completed returns the ids among videoIDs that already have a transcript,
// so a rerun can skip them.
func Completed(ctx context.Context, videoIDs []string) (map[string]bool, error) {
	done := make(map[string]bool)
	if len(videoIDs) == 0 {
		return done, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(videoIDs)), ",")
	args := make([]any, 0, len(videoIDs)+1)
	args = append(args, StatusCompleted)
	for _, id := range videoIDs {
		args = append(args, id)
	}

	rows, err := DB.QueryContext(ctx, "SELECT video_id FROM results WHERE status = ? AND video_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, errors.Wrap(err, "error querying database")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "error scanning row")
		}
		done[id] = true
	}
	return done, errors.Wrap(rows.Err(), "error iterating rows")
}

func DeleteResult(ctx context.Context, videoID string) error {
	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "error beginning transaction")
	}

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM results WHERE video_id = ?")
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "error preparing delete statement")
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, videoID)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "error executing delete statement")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "error committing transaction")
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
