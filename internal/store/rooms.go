// ABOUTME: Room persistence for the SQLite store
// ABOUTME: Room create/list/update plus soft delete with message cascade

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateRoom creates a new active room for ownerID.
// Returns ErrAlreadyExists if roomID is already used by that owner.
func (s *SQLiteStore) CreateRoom(ctx context.Context, ownerID, title string, roomID int64) (*Room, error) {
	room := &Room{
		ID:           roomID,
		OwnerID:      ownerID,
		Title:        title,
		UsingContext: true,
		State:        RoomActive,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}

	query := `
		INSERT INTO rooms (owner_id, room_id, title, prompt, using_context, status, created_at)
		VALUES (?, ?, ?, '', 1, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		room.OwnerID,
		room.ID,
		room.Title,
		room.State,
		room.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("inserting room: %w", err)
	}

	s.logger.Debug("created room", "owner_id", ownerID, "room_id", roomID)
	return room, nil
}

// GetRoom retrieves an active room owned by ownerID.
// Returns ErrNotFound if the room doesn't exist, is deleted, or belongs to someone else.
func (s *SQLiteStore) GetRoom(ctx context.Context, ownerID string, roomID int64) (*Room, error) {
	query := `
		SELECT owner_id, room_id, title, prompt, using_context, status, created_at
		FROM rooms
		WHERE owner_id = ? AND room_id = ? AND status = 'active'
	`

	room, err := scanRoom(s.db.QueryRowContext(ctx, query, ownerID, roomID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room: %w", err)
	}
	return room, nil
}

// ListRooms returns the owner's non-deleted rooms in insertion order
func (s *SQLiteStore) ListRooms(ctx context.Context, ownerID string) ([]*Room, error) {
	query := `
		SELECT owner_id, room_id, title, prompt, using_context, status, created_at
		FROM rooms
		WHERE owner_id = ? AND status = 'active'
		ORDER BY rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rooms := []*Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning room row: %w", err)
		}
		rooms = append(rooms, room)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating room rows: %w", err)
	}

	return rooms, nil
}

// RenameRoom sets the title of an owned, active room
func (s *SQLiteStore) RenameRoom(ctx context.Context, ownerID string, roomID int64, title string) (bool, error) {
	return s.updateRoomField(ctx, "title", title, ownerID, roomID)
}

// SetRoomPrompt sets the system prompt of an owned, active room
func (s *SQLiteStore) SetRoomPrompt(ctx context.Context, ownerID string, roomID int64, prompt string) (bool, error) {
	return s.updateRoomField(ctx, "prompt", prompt, ownerID, roomID)
}

// SetRoomUsingContext toggles context chaining for an owned, active room
func (s *SQLiteStore) SetRoomUsingContext(ctx context.Context, ownerID string, roomID int64, using bool) (bool, error) {
	return s.updateRoomField(ctx, "using_context", boolToInt(using), ownerID, roomID)
}

// updateRoomField updates one column. column is always a constant from this file.
func (s *SQLiteStore) updateRoomField(ctx context.Context, column string, value any, ownerID string, roomID int64) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE rooms SET %s = ?
		WHERE owner_id = ? AND room_id = ? AND status = 'active'
	`, column)

	result, err := s.db.ExecContext(ctx, query, value, ownerID, roomID)
	if err != nil {
		return false, fmt.Errorf("updating room %s: %w", column, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("updated room", "owner_id", ownerID, "room_id", roomID, "field", column, "updated", rowsAffected > 0)
	return rowsAffected > 0, nil
}

// DeleteRoom tombstones the room and soft-deletes every message in it.
// Returns false if the room was not found or not owned.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, ownerID string, roomID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE rooms SET status = 'deleted'
		WHERE owner_id = ? AND room_id = ? AND status = 'active'
	`, ownerID, roomID)
	if err != nil {
		return false, fmt.Errorf("deleting room: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	clearMessages := `UPDATE messages SET status = 'both_deleted' WHERE owner_id = ? AND room_id = ?`
	if _, err := tx.ExecContext(ctx, clearMessages, ownerID, roomID); err != nil {
		return false, fmt.Errorf("deleting room messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing room delete: %w", err)
	}

	s.logger.Debug("deleted room", "owner_id", ownerID, "room_id", roomID)
	return true, nil
}

// ClearAllRooms tombstones every room of the owner and soft-deletes their messages
func (s *SQLiteStore) ClearAllRooms(ctx context.Context, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = 'both_deleted'
		WHERE owner_id = ?
			AND room_id IN (SELECT room_id FROM rooms WHERE owner_id = ? AND status = 'active')
	`, ownerID, ownerID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE rooms SET status = 'deleted' WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("clearing rooms: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing clear: %w", err)
	}

	s.logger.Debug("cleared all rooms", "owner_id", ownerID)
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*Room, error) {
	var room Room
	var usingContext int
	var createdAtStr string

	if err := row.Scan(
		&room.OwnerID,
		&room.ID,
		&room.Title,
		&room.SystemPrompt,
		&usingContext,
		&room.State,
		&createdAtStr,
	); err != nil {
		return nil, err
	}

	room.UsingContext = usingContext != 0

	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	room.CreatedAt = createdAt

	return &room, nil
}
