// ABOUTME: SQLite implementation for the token usage ledger
// ABOUTME: Append-only usage records queried by user and time range

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveUsage appends a token usage record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, rec *UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	query := `
		INSERT INTO usage_records (
			id, user_id, room_id, message_id, backend_message_id, model,
			prompt_tokens, completion_tokens, total_tokens, estimated,
			timestamp
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.RoomID,
		rec.MessageID,
		rec.BackendMessageID,
		rec.Model,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
		boolToInt(rec.Estimated),
		rec.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved token usage",
		"id", rec.ID,
		"user_id", rec.UserID,
		"room_id", rec.RoomID,
		"prompt_tokens", rec.PromptTokens,
		"completion_tokens", rec.CompletionTokens,
	)
	return nil
}

// ListUsage returns the user's records with start <= timestamp <= end, oldest first.
func (s *SQLiteStore) ListUsage(ctx context.Context, userID string, start, end time.Time) ([]*UsageRecord, error) {
	query := `
		SELECT id, user_id, room_id, message_id, backend_message_id, model,
		       prompt_tokens, completion_tokens, total_tokens, estimated,
		       timestamp
		FROM usage_records
		WHERE user_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*UsageRecord{}
	for rows.Next() {
		var rec UsageRecord
		var estimated int
		var ts int64

		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.RoomID,
			&rec.MessageID,
			&rec.BackendMessageID,
			&rec.Model,
			&rec.PromptTokens,
			&rec.CompletionTokens,
			&rec.TotalTokens,
			&estimated,
			&ts,
		); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}

		rec.Estimated = estimated != 0
		rec.Timestamp = time.UnixMilli(ts).UTC()
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return records, nil
}
