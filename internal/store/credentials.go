// ABOUTME: Credential store implementation for backend access secrets
// ABOUTME: Credentials are scoped to models and caller roles and can be disabled

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const credentialColumns = `id, secret, base_url, model_scope, role_scope, status, note, created_at, updated_at`

// ListCredentials returns every credential ordered by id
func (s *SQLiteStore) ListCredentials(ctx context.Context) ([]*Credential, error) {
	return s.queryCredentials(ctx, `SELECT `+credentialColumns+` FROM credentials ORDER BY id`)
}

// ListEnabledCredentials returns enabled credentials ordered by id
func (s *SQLiteStore) ListEnabledCredentials(ctx context.Context) ([]*Credential, error) {
	return s.queryCredentials(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE status = 'enabled' ORDER BY id`)
}

func (s *SQLiteStore) queryCredentials(ctx context.Context, query string, args ...any) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	creds := []*Credential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential row: %w", err)
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credential rows: %w", err)
	}

	return creds, nil
}

// GetCredential retrieves a credential by ID.
// Returns ErrNotFound if the credential doesn't exist.
func (s *SQLiteStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)

	cred, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return cred, nil
}

// UpsertCredential inserts the credential when its ID is empty (assigning a
// new one) and replaces the stored credential otherwise.
func (s *SQLiteStore) UpsertCredential(ctx context.Context, cred *Credential) error {
	now := time.Now().UTC().Truncate(time.Second)
	if cred.ID == "" {
		cred.ID = uuid.New().String()
		cred.CreatedAt = now
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	if cred.State == "" {
		cred.State = CredentialEnabled
	}
	cred.UpdatedAt = now

	models, err := json.Marshal(nonNilStrings(cred.ModelScope))
	if err != nil {
		return fmt.Errorf("encoding model scope: %w", err)
	}
	roles, err := json.Marshal(nonNilRoles(cred.RoleScope))
	if err != nil {
		return fmt.Errorf("encoding role scope: %w", err)
	}

	query := `
		INSERT INTO credentials (id, secret, base_url, model_scope, role_scope, status, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			secret = excluded.secret,
			base_url = excluded.base_url,
			model_scope = excluded.model_scope,
			role_scope = excluded.role_scope,
			status = excluded.status,
			note = excluded.note,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		cred.ID,
		cred.Secret,
		cred.BaseURL,
		string(models),
		string(roles),
		cred.State,
		cred.Note,
		cred.CreatedAt.Format(time.RFC3339),
		cred.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}

	s.logger.Debug("upserted credential", "id", cred.ID, "models", cred.ModelScope, "roles", cred.RoleScope)
	return nil
}

// SetCredentialState enables or disables a credential.
// Returns ErrNotFound if the credential doesn't exist.
func (s *SQLiteStore) SetCredentialState(ctx context.Context, id string, state CredentialState) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET status = ?, updated_at = ? WHERE id = ?`,
		state, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating credential status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated credential status", "id", id, "status", state)
	return nil
}

func scanCredential(row rowScanner) (*Credential, error) {
	var cred Credential
	var modelsJSON, rolesJSON, createdAtStr, updatedAtStr string

	if err := row.Scan(
		&cred.ID,
		&cred.Secret,
		&cred.BaseURL,
		&modelsJSON,
		&rolesJSON,
		&cred.State,
		&cred.Note,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(modelsJSON), &cred.ModelScope); err != nil {
		return nil, fmt.Errorf("decoding model scope: %w", err)
	}
	if err := json.Unmarshal([]byte(rolesJSON), &cred.RoleScope); err != nil {
		return nil, fmt.Errorf("decoding role scope: %w", err)
	}

	var err error
	cred.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	cred.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &cred, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilRoles(r []RoleName) []RoleName {
	if r == nil {
		return []RoleName{}
	}
	return r
}
