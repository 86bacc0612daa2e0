package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/calder/mirage/internal/model"

	_ "modernc.org/sqlite"
)

const createGenerationsTable = `
CREATE TABLE IF NOT EXISTS generations (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    prompt          TEXT NOT NULL,
    negative_prompt TEXT,
    style           TEXT NOT NULL,
    size            TEXT NOT NULL,
    image_urls      TEXT NOT NULL,
    parameters      TEXT NOT NULL,
    created_at      DATETIME NOT NULL,
    processing_time REAL NOT NULL,
    is_favorite     INTEGER NOT NULL DEFAULT 0
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps writers serialized and makes :memory:
	// databases behave: every pooled connection would otherwise get its own
	// empty in-memory database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createGenerationsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create generations table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert writes a finished generation record.
func (s *SQLiteStore) Insert(ctx context.Context, rec *model.GenerationRecord) error {
	urls, err := json.Marshal(rec.ImageURLs)
	if err != nil {
		return fmt.Errorf("encode image urls: %w", err)
	}
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO generations (
			id, user_id, prompt, negative_prompt, style, size,
			image_urls, parameters, created_at, processing_time, is_favorite
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Prompt, rec.NegativePrompt, rec.Style, rec.Size,
		string(urls), string(params), rec.CreatedAt, rec.ProcessingTime, rec.IsFavorite,
	)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// GetByID retrieves a generation record by id.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*model.GenerationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, prompt, negative_prompt, style, size,
			image_urls, parameters, created_at, processing_time, is_favorite
		FROM generations WHERE id = ?`, id,
	)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return rec, nil
}

// List returns a page of one user's generations ordered by created_at DESC,
// along with the user's total count.
func (s *SQLiteStore) List(ctx context.Context, userID string, limit, offset int) ([]*model.GenerationRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM generations WHERE user_id = ?", userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count generations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, user_id, prompt, negative_prompt, style, size,
			image_urls, parameters, created_at, processing_time, is_favorite
		FROM generations WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var records []*model.GenerationRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan generation: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate generations: %w", err)
	}

	return records, total, nil
}

// SetFavorite flips the favorite flag on one of the user's generations.
func (s *SQLiteStore) SetFavorite(ctx context.Context, id, userID string, favorite bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE generations SET is_favorite = ? WHERE id = ? AND user_id = ?",
		favorite, id, userID,
	)
	if err != nil {
		return fmt.Errorf("set favorite: %w", err)
	}
	return requireRow(result)
}

// Delete removes one of the user's generations.
func (s *SQLiteStore) Delete(ctx context.Context, id, userID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM generations WHERE id = ? AND user_id = ?", id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete generation: %w", err)
	}
	return requireRow(result)
}

// Stats returns aggregate history statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*GenerationStats, error) {
	stats := &GenerationStats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(is_favorite), 0),
			COALESCE(AVG(processing_time), 0)
		FROM generations`,
	).Scan(&stats.Total, &stats.Favorites, &stats.AvgProcessingTime)
	if err != nil {
		return nil, fmt.Errorf("get generation stats: %w", err)
	}
	return stats, nil
}

// scanRecord decodes one row via the given scan function.
func scanRecord(scan func(...any) error) (*model.GenerationRecord, error) {
	rec := &model.GenerationRecord{}
	var urls, params string
	if err := scan(
		&rec.ID, &rec.UserID, &rec.Prompt, &rec.NegativePrompt, &rec.Style, &rec.Size,
		&urls, &params, &rec.CreatedAt, &rec.ProcessingTime, &rec.IsFavorite,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(urls), &rec.ImageURLs); err != nil {
		return nil, fmt.Errorf("decode image urls: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &rec.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	return rec, nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
