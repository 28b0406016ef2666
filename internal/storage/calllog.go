package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/tsuryphone/ha-bridge/addon/internal/model"
)

// SaveCallLog replaces the stored log for one device in a single
// transaction. Position 0 is the newest entry.
func (r *Repository) SaveCallLog(ctx context.Context, device string, entries []model.CallLogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM call_log WHERE device = ?;`, device); err != nil {
		return fmt.Errorf("clear call log: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO call_log
		(device, position, id, timestamp, type, number, duration_sec, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for position, entry := range entries {
		_, err := stmt.ExecContext(ctx,
			device,
			position,
			entry.ID,
			entry.Timestamp.UTC().Format(time.RFC3339Nano),
			string(entry.Type),
			entry.Number,
			entry.DurationSec,
			entry.State,
		)
		if err != nil {
			return fmt.Errorf("insert call log entry: %w", err)
		}
	}
	return tx.Commit()
}

// LoadCallLog returns a device's stored log, newest first.
func (r *Repository) LoadCallLog(ctx context.Context, device string) ([]model.CallLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, timestamp, type, number, duration_sec, state
		FROM call_log WHERE device = ? ORDER BY position ASC;`, device)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.CallLogEntry
	for rows.Next() {
		var entry model.CallLogEntry
		var timestamp, callType string
		if err := rows.Scan(&entry.ID, &timestamp, &callType, &entry.Number, &entry.DurationSec, &entry.State); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("skipping call log row with bad timestamp", "device", device, "timestamp", timestamp)
			}
			continue
		}
		entry.Timestamp = parsed.UTC()
		entry.Type = model.CallType(callType)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
