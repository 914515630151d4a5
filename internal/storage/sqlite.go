package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps settings and the move journal in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path; ":memory:" gives a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// one writer, and an in-memory database exists per connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) SaveAxisInversion(ctx context.Context, stageName string, inverted map[string]bool) error {
	invJSON, err := json.Marshal(inverted)
	if err != nil {
		return fmt.Errorf("failed to marshal axis_inverted: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stage_settings (stage_name, axis_inverted)
		VALUES (?, ?)
		ON CONFLICT (stage_name)
		DO UPDATE SET
			axis_inverted = excluded.axis_inverted,
			updated_at = CURRENT_TIMESTAMP
	`, stageName, string(invJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert stage setting: %w", err)
	}

	return nil
}

func (s *SQLiteStore) LoadAxisInversion(ctx context.Context, stageName string) (map[string]bool, bool, error) {
	var invJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT axis_inverted FROM stage_settings WHERE stage_name = ?", stageName).Scan(&invJSON)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query stage setting: %w", err)
	}

	var inverted map[string]bool
	if err := json.Unmarshal([]byte(invJSON), &inverted); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal axis_inverted: %w", err)
	}

	return inverted, true, nil
}

func (s *SQLiteStore) RecordMove(ctx context.Context, rec stage.MoveRecord) error {
	cols, err := encodeMove(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stage_moves (id, stage_name, kind, requested, hardware, result,
			block_cancellation, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID.String(), rec.Stage, string(rec.Kind), string(cols.requested), string(cols.hardware),
		string(cols.result), rec.BlockCancellation, rec.Error, rec.StartedAt.UTC(), rec.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert move: %w", err)
	}

	return nil
}

func (s *SQLiteStore) ListMoves(ctx context.Context, stageName string, limit int) ([]stage.MoveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stage_name, kind, requested, hardware, result,
			block_cancellation, error, started_at, completed_at
		FROM stage_moves
		WHERE stage_name = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, stageName, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query moves: %w", err)
	}
	defer rows.Close()

	moves := make([]stage.MoveRecord, 0)

	for rows.Next() {
		var rec stage.MoveRecord
		var id, kind string
		var requested, hardware sql.NullString
		var result string

		err := rows.Scan(&id, &rec.Stage, &kind, &requested, &hardware, &result,
			&rec.BlockCancellation, &rec.Error, &rec.StartedAt, &rec.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan move: %w", err)
		}

		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid move id %q: %w", id, err)
		}
		rec.Kind = stage.MoveKind(kind)

		cols := moveColumns{
			requested: []byte(requested.String),
			hardware:  []byte(hardware.String),
			result:    []byte(result),
		}
		if err := decodeMove(&rec, cols); err != nil {
			return nil, err
		}

		moves = append(moves, rec)
	}

	return moves, rows.Err()
}
