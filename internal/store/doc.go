// Package store provides persistent storage for the chat gateway using SQLite.
//
// # Architecture
//
// The store package splits persistence into three interfaces:
//
//   - ConversationStore: rooms and the messages inside them
//   - CredentialStore: backend access secrets with model and role scopes
//   - UsageStore: the append-only token usage ledger
//
// Store embeds all three. SQLiteStore implements Store in a single struct and
// MockStore provides an in-memory equivalent for unit tests.
//
// # Data Models
//
//   - Room: a conversation thread owned by one user, keyed by (owner, room id)
//   - Message: one prompt with a live answer and the list of superseded answers
//   - Credential: a secret that may serve a set of models for a set of roles
//   - UsageRecord: token counts for one completed exchange
//
// Messages carry two independent soft-delete axes (prompt and response). A
// message whose two sides are both deleted no longer appears in listings.
// Rooms are tombstoned rather than removed, and deleting a room soft-deletes
// every message in it.
//
// # Regeneration
//
// RecordRegeneratedAnswer moves the live answer onto the alternatives list
// and writes the new answer in one UPDATE, so no reader ever observes a
// message that lost its previous answer.
//
// # SQLite Configuration
//
// Local databases are opened with modernc.org/sqlite in WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// libsql://, http:// and https:// locations are opened through the libSQL
// driver instead (see IsRemoteURL and NewRemoteStore). The schema is the same.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrAlreadyExists: room id already used by that owner
//   - ErrConflict: message id already used in that room
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	s := store.NewMockStore()
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
//
// # Migrations
//
// Column additions are applied by runMigrations on every open. Each one
// checks pragma_table_info first, so reopening a database is always safe.
package store
