// ABOUTME: Message persistence for the SQLite store
// ABOUTME: Append, cursor pagination, answer recording with alternatives, and soft delete axes

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const messageColumns = `
	owner_id, room_id, message_id, prompt, response, status,
	parent_message_id, backend_message_id, backend_conversation_id,
	prompt_tokens, completion_tokens, total_tokens, estimated,
	options_json, alternatives_json, created_at
`

// AppendMessage inserts a new active message.
// Returns ErrConflict if the message id is already used in the owner's room.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.State = MessageActive

	options, err := json.Marshal(msg.Options)
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}

	query := `
		INSERT INTO messages (
			owner_id, room_id, message_id, prompt, response, status,
			parent_message_id, backend_message_id, backend_conversation_id,
			options_json, created_at
		)
		VALUES (?, ?, ?, ?, '', ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		msg.OwnerID,
		msg.RoomID,
		msg.ID,
		msg.Prompt,
		msg.State,
		nullString(msg.Linkage.ParentMessageID),
		nullString(msg.Linkage.BackendMessageID),
		nullString(msg.Linkage.BackendConversationID),
		string(options),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("appended message", "owner_id", msg.OwnerID, "room_id", msg.RoomID, "message_id", msg.ID)
	return nil
}

// GetMessage retrieves a message by room and id, whatever its delete state.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, ownerID string, roomID, messageID int64) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE owner_id = ? AND room_id = ? AND message_id = ?`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, ownerID, roomID, messageID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// GetMessageByBackendID finds the message whose live answer carries backendMessageID
func (s *SQLiteStore) GetMessageByBackendID(ctx context.Context, ownerID string, roomID int64, backendMessageID string) (*Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE owner_id = ? AND room_id = ? AND backend_message_id = ?
		LIMIT 1
	`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, ownerID, roomID, backendMessageID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message by backend id: %w", err)
	}
	return msg, nil
}

// ListMessages returns up to pageSize messages with id strictly below before
// (now in milliseconds when nil), oldest first. Fully deleted messages are skipped.
func (s *SQLiteStore) ListMessages(ctx context.Context, ownerID string, roomID int64, before *int64, pageSize int) ([]*Message, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	cursor := time.Now().UnixMilli()
	if before != nil {
		cursor = *before
	}

	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE owner_id = ? AND room_id = ? AND message_id < ? AND status != 'both_deleted'
		ORDER BY message_id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID, roomID, cursor, pageSize)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []*Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// RecordRegeneratedAnswer appends the current live answer to the alternatives
// and replaces it with answer. SQLite evaluates every SET expression against
// the pre-update row, so the push and the overwrite happen in one statement.
func (s *SQLiteStore) RecordRegeneratedAnswer(ctx context.Context, ownerID string, roomID, messageID int64, answer Answer) error {
	query := `
		UPDATE messages SET
			alternatives_json = json_insert(alternatives_json, '$[#]', json_object(
				'response', response,
				'linkage', json_object(
					'parentMessageId', COALESCE(parent_message_id, ''),
					'backendMessageId', COALESCE(backend_message_id, ''),
					'backendConversationId', COALESCE(backend_conversation_id, '')
				),
				'usage', json(CASE WHEN prompt_tokens IS NULL THEN NULL ELSE json_object(
					'promptTokens', prompt_tokens,
					'completionTokens', completion_tokens,
					'totalTokens', total_tokens,
					'estimated', json(CASE WHEN estimated THEN 'true' ELSE 'false' END)
				) END)
			)),
			` + answerAssignments + `
		WHERE owner_id = ? AND room_id = ? AND message_id = ?
	`
	return s.recordAnswer(ctx, query, ownerID, roomID, messageID, answer, "regenerated")
}

// RecordFreshAnswer replaces the live answer without touching alternatives
func (s *SQLiteStore) RecordFreshAnswer(ctx context.Context, ownerID string, roomID, messageID int64, answer Answer) error {
	query := `
		UPDATE messages SET
			` + answerAssignments + `
		WHERE owner_id = ? AND room_id = ? AND message_id = ?
	`
	return s.recordAnswer(ctx, query, ownerID, roomID, messageID, answer, "fresh")
}

const answerAssignments = `
	response = ?,
	parent_message_id = ?,
	backend_message_id = ?,
	backend_conversation_id = ?,
	prompt_tokens = ?,
	completion_tokens = ?,
	total_tokens = ?,
	estimated = ?
`

func (s *SQLiteStore) recordAnswer(ctx context.Context, query, ownerID string, roomID, messageID int64, answer Answer, kind string) error {
	var promptTokens, completionTokens, totalTokens, estimated any
	if answer.Usage != nil {
		promptTokens = answer.Usage.PromptTokens
		completionTokens = answer.Usage.CompletionTokens
		totalTokens = answer.Usage.TotalTokens
		estimated = boolToInt(answer.Usage.Estimated)
	}

	result, err := s.db.ExecContext(ctx, query,
		answer.Response,
		nullString(answer.Linkage.ParentMessageID),
		nullString(answer.Linkage.BackendMessageID),
		nullString(answer.Linkage.BackendConversationID),
		promptTokens,
		completionTokens,
		totalTokens,
		estimated,
		ownerID,
		roomID,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("recording %s answer: %w", kind, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("recorded answer", "kind", kind, "room_id", roomID, "message_id", messageID)
	return nil
}

// SoftDeleteMessage deletes one side of a message following the NextState table.
// The transition is evaluated inside a single UPDATE.
func (s *SQLiteStore) SoftDeleteMessage(ctx context.Context, ownerID string, roomID, messageID int64, side Side) error {
	var fromActive, opposite MessageState
	switch side {
	case SidePrompt:
		fromActive, opposite = MessagePromptDeleted, MessageResponseDeleted
	case SideResponse:
		fromActive, opposite = MessageResponseDeleted, MessagePromptDeleted
	default:
		return fmt.Errorf("invalid side: %q", side)
	}

	query := `
		UPDATE messages SET status = CASE
			WHEN status = 'active' THEN ?
			WHEN status = ? THEN 'both_deleted'
			ELSE status
		END
		WHERE owner_id = ? AND room_id = ? AND message_id = ?
	`

	result, err := s.db.ExecContext(ctx, query, fromActive, opposite, ownerID, roomID, messageID)
	if err != nil {
		return fmt.Errorf("soft deleting message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("soft deleted message", "room_id", roomID, "message_id", messageID, "side", side)
	return nil
}

// ClearRoom soft-deletes every message in the room
func (s *SQLiteStore) ClearRoom(ctx context.Context, ownerID string, roomID int64) error {
	query := `UPDATE messages SET status = 'both_deleted' WHERE owner_id = ? AND room_id = ?`
	if _, err := s.db.ExecContext(ctx, query, ownerID, roomID); err != nil {
		return fmt.Errorf("clearing room: %w", err)
	}
	s.logger.Debug("cleared room", "owner_id", ownerID, "room_id", roomID)
	return nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var parentID, backendID, conversationID sql.NullString
	var promptTokens, completionTokens, totalTokens, estimated sql.NullInt64
	var optionsJSON, alternativesJSON, createdAtStr string

	if err := row.Scan(
		&msg.OwnerID,
		&msg.RoomID,
		&msg.ID,
		&msg.Prompt,
		&msg.Response,
		&msg.State,
		&parentID,
		&backendID,
		&conversationID,
		&promptTokens,
		&completionTokens,
		&totalTokens,
		&estimated,
		&optionsJSON,
		&alternativesJSON,
		&createdAtStr,
	); err != nil {
		return nil, err
	}

	msg.Linkage = Linkage{
		ParentMessageID:       parentID.String,
		BackendMessageID:      backendID.String,
		BackendConversationID: conversationID.String,
	}

	if promptTokens.Valid {
		msg.Usage = &Usage{
			PromptTokens:     int(promptTokens.Int64),
			CompletionTokens: int(completionTokens.Int64),
			TotalTokens:      int(totalTokens.Int64),
			Estimated:        estimated.Int64 != 0,
		}
	}

	if err := json.Unmarshal([]byte(optionsJSON), &msg.Options); err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}
	if err := json.Unmarshal([]byte(alternativesJSON), &msg.Alternatives); err != nil {
		return nil, fmt.Errorf("decoding alternatives: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	msg.CreatedAt = createdAt

	return &msg, nil
}
