package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/jackc/pgx/v5"
)

// SaveAxisInversion upserts the inversion setting of a stage
func (p *PostgresClient) SaveAxisInversion(ctx context.Context, stageName string, inverted map[string]bool) error {
	invJSON, err := json.Marshal(inverted)
	if err != nil {
		return fmt.Errorf("failed to marshal axis_inverted: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO stage_settings (stage_name, axis_inverted)
		VALUES ($1, $2)
		ON CONFLICT (stage_name)
		DO UPDATE SET
			axis_inverted = EXCLUDED.axis_inverted,
			updated_at = NOW()
	`, stageName, invJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert stage setting: %w", err)
	}

	return nil
}

// LoadAxisInversion loads the saved inversion setting of a stage
func (p *PostgresClient) LoadAxisInversion(ctx context.Context, stageName string) (map[string]bool, bool, error) {
	var invJSON []byte
	err := p.pool.QueryRow(ctx, `
		SELECT axis_inverted FROM stage_settings WHERE stage_name = $1
	`, stageName).Scan(&invJSON)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query stage setting: %w", err)
	}

	var inverted map[string]bool
	if err := json.Unmarshal(invJSON, &inverted); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal axis_inverted: %w", err)
	}

	return inverted, true, nil
}

// RecordMove appends a move to the journal
func (p *PostgresClient) RecordMove(ctx context.Context, rec stage.MoveRecord) error {
	cols, err := encodeMove(rec)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO stage_moves (id, stage_name, kind, requested, hardware, result,
			block_cancellation, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.Stage, string(rec.Kind), cols.requested, cols.hardware, cols.result,
		rec.BlockCancellation, rec.Error, rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert move: %w", err)
	}

	return nil
}

// ListMoves returns the latest moves of a stage, newest first
func (p *PostgresClient) ListMoves(ctx context.Context, stageName string, limit int) ([]stage.MoveRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, stage_name, kind, requested, hardware, result,
			block_cancellation, error, started_at, completed_at
		FROM stage_moves
		WHERE stage_name = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, stageName, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query moves: %w", err)
	}
	defer rows.Close()

	moves := make([]stage.MoveRecord, 0)

	for rows.Next() {
		var rec stage.MoveRecord
		var kind string
		var cols moveColumns

		err := rows.Scan(&rec.ID, &rec.Stage, &kind, &cols.requested, &cols.hardware, &cols.result,
			&rec.BlockCancellation, &rec.Error, &rec.StartedAt, &rec.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan move: %w", err)
		}

		rec.Kind = stage.MoveKind(kind)
		if err := decodeMove(&rec, cols); err != nil {
			return nil, err
		}

		moves = append(moves, rec)
	}

	return moves, rows.Err()
}
