// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type roomKey struct {
	ownerID string
	roomID  int64
}

type messageKey struct {
	ownerID   string
	roomID    int64
	messageID int64
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	rooms       map[roomKey]*Room
	roomOrder   []roomKey
	messages    map[messageKey]*Message
	credentials map[string]*Credential
	usage       []*UsageRecord

	// Err, when set, is returned by every write operation
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		rooms:       make(map[roomKey]*Room),
		messages:    make(map[messageKey]*Message),
		credentials: make(map[string]*Credential),
	}
}

// CreateRoom stores a new room.
func (m *MockStore) CreateRoom(ctx context.Context, ownerID, title string, roomID int64) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	key := roomKey{ownerID, roomID}
	if _, exists := m.rooms[key]; exists {
		return nil, ErrAlreadyExists
	}

	room := &Room{
		ID:           roomID,
		OwnerID:      ownerID,
		Title:        title,
		UsingContext: true,
		State:        RoomActive,
		CreatedAt:    time.Now().UTC(),
	}
	m.rooms[key] = room
	m.roomOrder = append(m.roomOrder, key)

	result := *room
	return &result, nil
}

// GetRoom retrieves an active room.
func (m *MockStore) GetRoom(ctx context.Context, ownerID string, roomID int64) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomKey{ownerID, roomID}]
	if !ok || room.State != RoomActive {
		return nil, ErrNotFound
	}

	result := *room
	return &result, nil
}

// ListRooms returns active rooms in insertion order.
func (m *MockStore) ListRooms(ctx context.Context, ownerID string) ([]*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := []*Room{}
	for _, key := range m.roomOrder {
		room := m.rooms[key]
		if key.ownerID == ownerID && room.State == RoomActive {
			r := *room
			rooms = append(rooms, &r)
		}
	}
	return rooms, nil
}

// RenameRoom updates the room title.
func (m *MockStore) RenameRoom(ctx context.Context, ownerID string, roomID int64, title string) (bool, error) {
	return m.updateRoom(ownerID, roomID, func(r *Room) { r.Title = title })
}

// SetRoomPrompt updates the room system prompt.
func (m *MockStore) SetRoomPrompt(ctx context.Context, ownerID string, roomID int64, prompt string) (bool, error) {
	return m.updateRoom(ownerID, roomID, func(r *Room) { r.SystemPrompt = prompt })
}

// SetRoomUsingContext updates the room context flag.
func (m *MockStore) SetRoomUsingContext(ctx context.Context, ownerID string, roomID int64, using bool) (bool, error) {
	return m.updateRoom(ownerID, roomID, func(r *Room) { r.UsingContext = using })
}

func (m *MockStore) updateRoom(ownerID string, roomID int64, apply func(*Room)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return false, m.Err
	}

	room, ok := m.rooms[roomKey{ownerID, roomID}]
	if !ok || room.State != RoomActive {
		return false, nil
	}
	apply(room)
	return true, nil
}

// DeleteRoom tombstones the room and its messages.
func (m *MockStore) DeleteRoom(ctx context.Context, ownerID string, roomID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return false, m.Err
	}

	room, ok := m.rooms[roomKey{ownerID, roomID}]
	if !ok || room.State != RoomActive {
		return false, nil
	}
	room.State = RoomDeleted
	m.clearRoomLocked(ownerID, roomID)
	return true, nil
}

// ClearAllRooms tombstones every room of the owner and their messages.
func (m *MockStore) ClearAllRooms(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	for key, room := range m.rooms {
		if key.ownerID != ownerID {
			continue
		}
		if room.State == RoomActive {
			m.clearRoomLocked(ownerID, key.roomID)
		}
		room.State = RoomDeleted
	}
	return nil
}

// AppendMessage stores a new active message.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	key := messageKey{msg.OwnerID, msg.RoomID, msg.ID}
	if _, exists := m.messages[key]; exists {
		return ErrConflict
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.State = MessageActive

	stored := copyMessage(msg)
	stored.Response = ""
	stored.Usage = nil
	stored.Alternatives = []Answer{}
	m.messages[key] = stored
	return nil
}

// GetMessage retrieves a message by room and id.
func (m *MockStore) GetMessage(ctx context.Context, ownerID string, roomID, messageID int64) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[messageKey{ownerID, roomID, messageID}]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// GetMessageByBackendID finds a message by its live backend message id.
func (m *MockStore) GetMessageByBackendID(ctx context.Context, ownerID string, roomID int64, backendMessageID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for key, msg := range m.messages {
		if key.ownerID == ownerID && key.roomID == roomID && msg.Linkage.BackendMessageID == backendMessageID {
			return copyMessage(msg), nil
		}
	}
	return nil, ErrNotFound
}

// ListMessages returns a page of messages before the cursor, oldest first.
func (m *MockStore) ListMessages(ctx context.Context, ownerID string, roomID int64, before *int64, pageSize int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	cursor := time.Now().UnixMilli()
	if before != nil {
		cursor = *before
	}

	var page []*Message
	for key, msg := range m.messages {
		if key.ownerID == ownerID && key.roomID == roomID && msg.ID < cursor && msg.State != MessageBothDeleted {
			page = append(page, msg)
		}
	}

	// Newest first, keep pageSize, then chronological
	sort.Slice(page, func(i, j int) bool { return page[i].ID > page[j].ID })
	if len(page) > pageSize {
		page = page[:pageSize]
	}

	result := make([]*Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		result = append(result, copyMessage(page[i]))
	}
	return result, nil
}

// RecordRegeneratedAnswer pushes the live answer to alternatives and replaces it.
func (m *MockStore) RecordRegeneratedAnswer(ctx context.Context, ownerID string, roomID, messageID int64, answer Answer) error {
	return m.recordAnswer(messageKey{ownerID, roomID, messageID}, answer, true)
}

// RecordFreshAnswer replaces the live answer.
func (m *MockStore) RecordFreshAnswer(ctx context.Context, ownerID string, roomID, messageID int64, answer Answer) error {
	return m.recordAnswer(messageKey{ownerID, roomID, messageID}, answer, false)
}

func (m *MockStore) recordAnswer(key messageKey, answer Answer, keepPrevious bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	msg, ok := m.messages[key]
	if !ok {
		return ErrNotFound
	}

	if keepPrevious {
		msg.Alternatives = append(msg.Alternatives, copyAnswer(msg.LiveAnswer()))
	}
	msg.Response = answer.Response
	msg.Linkage = answer.Linkage
	msg.Usage = copyUsage(answer.Usage)
	return nil
}

// SoftDeleteMessage applies the NextState transition.
func (m *MockStore) SoftDeleteMessage(ctx context.Context, ownerID string, roomID, messageID int64, side Side) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if side != SidePrompt && side != SideResponse {
		return fmt.Errorf("invalid side: %q", side)
	}

	msg, ok := m.messages[messageKey{ownerID, roomID, messageID}]
	if !ok {
		return ErrNotFound
	}
	msg.State = NextState(msg.State, side)
	return nil
}

// ClearRoom soft-deletes all messages in a room.
func (m *MockStore) ClearRoom(ctx context.Context, ownerID string, roomID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.clearRoomLocked(ownerID, roomID)
	return nil
}

func (m *MockStore) clearRoomLocked(ownerID string, roomID int64) {
	for key, msg := range m.messages {
		if key.ownerID == ownerID && key.roomID == roomID {
			msg.State = MessageBothDeleted
		}
	}
}

// ListCredentials returns all credentials ordered by id.
func (m *MockStore) ListCredentials(ctx context.Context) ([]*Credential, error) {
	return m.listCredentials(false), nil
}

// ListEnabledCredentials returns enabled credentials ordered by id.
func (m *MockStore) ListEnabledCredentials(ctx context.Context) ([]*Credential, error) {
	return m.listCredentials(true), nil
}

func (m *MockStore) listCredentials(enabledOnly bool) []*Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()

	creds := []*Credential{}
	for _, c := range m.credentials {
		if enabledOnly && c.State != CredentialEnabled {
			continue
		}
		creds = append(creds, copyCredential(c))
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].ID < creds[j].ID })
	return creds
}

// GetCredential retrieves a credential by id.
func (m *MockStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCredential(c), nil
}

// UpsertCredential inserts or replaces a credential.
func (m *MockStore) UpsertCredential(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	now := time.Now().UTC()
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if existing, ok := m.credentials[cred.ID]; ok {
		cred.CreatedAt = existing.CreatedAt
	} else if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	if cred.State == "" {
		cred.State = CredentialEnabled
	}
	cred.UpdatedAt = now

	m.credentials[cred.ID] = copyCredential(cred)
	return nil
}

// SetCredentialState updates a credential status.
func (m *MockStore) SetCredentialState(ctx context.Context, id string, state CredentialState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	c, ok := m.credentials[id]
	if !ok {
		return ErrNotFound
	}
	c.State = state
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveUsage appends a usage record.
func (m *MockStore) SaveUsage(ctx context.Context, rec *UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r := *rec
	m.usage = append(m.usage, &r)
	return nil
}

// ListUsage returns records for the user within [start, end], oldest first.
func (m *MockStore) ListUsage(ctx context.Context, userID string, start, end time.Time) ([]*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := []*UsageRecord{}
	for _, rec := range m.usage {
		ts := rec.Timestamp.UnixMilli()
		if rec.UserID == userID && ts >= start.UnixMilli() && ts <= end.UnixMilli() {
			r := *rec
			records = append(records, &r)
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	return records, nil
}

// UsageRecords returns every stored usage record (test helper).
func (m *MockStore) UsageRecords() []*UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*UsageRecord, 0, len(m.usage))
	for _, rec := range m.usage {
		r := *rec
		records = append(records, &r)
	}
	return records
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func copyMessage(msg *Message) *Message {
	c := *msg
	c.Usage = copyUsage(msg.Usage)
	c.Alternatives = make([]Answer, len(msg.Alternatives))
	for i, a := range msg.Alternatives {
		c.Alternatives[i] = copyAnswer(a)
	}
	return &c
}

func copyAnswer(a Answer) Answer {
	a.Usage = copyUsage(a.Usage)
	return a
}

func copyUsage(u *Usage) *Usage {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func copyCredential(cred *Credential) *Credential {
	c := *cred
	c.ModelScope = append([]string(nil), cred.ModelScope...)
	c.RoleScope = append([]RoleName(nil), cred.RoleScope...)
	return &c
}

// Ensure MockStore implements Store interface.
var _ Store = (*MockStore)(nil)
