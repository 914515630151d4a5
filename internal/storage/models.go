package storage

import (
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
)

const defaultMoveLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultMoveLimit
	}
	return limit
}

// moveColumns holds the JSON-encoded columns of a move row.
type moveColumns struct {
	requested []byte
	hardware  []byte
	result    []byte
}

func encodeMove(rec stage.MoveRecord) (moveColumns, error) {
	var cols moveColumns
	var err error

	if cols.requested, err = json.Marshal(rec.Requested); err != nil {
		return cols, fmt.Errorf("failed to marshal requested position: %w", err)
	}
	if cols.hardware, err = json.Marshal(rec.Hardware); err != nil {
		return cols, fmt.Errorf("failed to marshal hardware position: %w", err)
	}
	if cols.result, err = json.Marshal(rec.Result); err != nil {
		return cols, fmt.Errorf("failed to marshal result position: %w", err)
	}
	return cols, nil
}

func decodeMove(rec *stage.MoveRecord, cols moveColumns) error {
	for _, c := range []struct {
		data []byte
		dst  *stage.Position
	}{
		{cols.requested, &rec.Requested},
		{cols.hardware, &rec.Hardware},
		{cols.result, &rec.Result},
	} {
		if len(c.data) == 0 {
			continue
		}
		if err := json.Unmarshal(c.data, c.dst); err != nil {
			return fmt.Errorf("failed to unmarshal move position: %w", err)
		}
	}
	return nil
}
