// ABOUTME: Tests for credential selection, ordering strategies, and admin updates
// ABOUTME: Uses the in-memory mock store

package credential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/store"
)

func newTestPool(t *testing.T, strategy Strategy, creds ...*store.Credential) (*Pool, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	for _, c := range creds {
		require.NoError(t, s.UpsertCredential(context.Background(), c))
	}
	return NewPool(s, strategy, nil, nil), s
}

func cred(id string, models []string, roles ...store.RoleName) *store.Credential {
	return &store.Credential{ID: id, Secret: "sk-" + id, ModelScope: models, RoleScope: roles}
}

func ids(creds []*store.Credential) []string {
	out := make([]string, len(creds))
	for i, c := range creds {
		out[i] = c.ID
	}
	return out
}

func TestSelectCandidates_FiltersScopeAndStatus(t *testing.T) {
	pool, s := newTestPool(t, FirstMatch{},
		cred("a", []string{"gpt-4o"}, store.RoleUser),
		cred("b", []string{"gpt-4o"}, store.RoleAdmin),
		cred("c", []string{"gpt-4o-mini"}, store.RoleUser),
		cred("d", []string{"gpt-4o", "gpt-4o-mini"}, store.RoleUser, store.RoleGuest),
		cred("e", []string{"gpt-4o"}, store.RoleUser),
	)
	ctx := context.Background()
	require.NoError(t, s.SetCredentialState(ctx, "e", store.CredentialDisabled))

	got, err := pool.SelectCandidates(ctx, []store.RoleName{store.RoleUser}, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, ids(got))

	for _, c := range got {
		assert.Equal(t, store.CredentialEnabled, c.State)
		assert.True(t, c.ServesModel("gpt-4o"))
	}
}

func TestPick_AdminOnlyCredentialUserCaller(t *testing.T) {
	pool, _ := newTestPool(t, nil, cred("admin-only", []string{"gpt-4o"}, store.RoleAdmin))

	candidates, err := pool.SelectCandidates(context.Background(), []store.RoleName{store.RoleUser}, "gpt-4o")
	require.NoError(t, err)
	assert.Empty(t, candidates)

	_, err = pool.Pick(context.Background(), []store.RoleName{store.RoleUser}, "gpt-4o")
	assert.ErrorIs(t, err, ErrNoEligibleCredential)
}

func TestPick_ChangesApplyToNextSelection(t *testing.T) {
	pool, _ := newTestPool(t, FirstMatch{}, cred("a", []string{"gpt-4o"}, store.RoleUser))
	ctx := context.Background()
	roles := []store.RoleName{store.RoleUser}

	got, err := pool.Pick(ctx, roles, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))

	require.NoError(t, pool.SetStatus(ctx, "a", store.CredentialDisabled))
	_, err = pool.Pick(ctx, roles, "gpt-4o")
	assert.ErrorIs(t, err, ErrNoEligibleCredential)

	require.NoError(t, pool.SetStatus(ctx, "a", store.CredentialEnabled))
	_, err = pool.Pick(ctx, roles, "gpt-4o")
	assert.NoError(t, err)
}

func TestRoundRobin_Rotates(t *testing.T) {
	candidates := []*store.Credential{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	rr := &RoundRobin{}

	assert.Equal(t, []string{"a", "b", "c"}, ids(rr.Order(candidates)))
	assert.Equal(t, []string{"b", "c", "a"}, ids(rr.Order(candidates)))
	assert.Equal(t, []string{"c", "a", "b"}, ids(rr.Order(candidates)))
	assert.Equal(t, []string{"a", "b", "c"}, ids(rr.Order(candidates)))

	assert.Nil(t, rr.Order(nil))
}

func TestFirstMatch_KeepsOrder(t *testing.T) {
	candidates := []*store.Credential{{ID: "a"}, {ID: "b"}}
	assert.Equal(t, []string{"a", "b"}, ids(FirstMatch{}.Order(candidates)))
	assert.Equal(t, []string{"a", "b"}, ids(FirstMatch{}.Order(candidates)))
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy("round_robin")
	require.NoError(t, err)
	assert.IsType(t, &RoundRobin{}, s)

	s, err = NewStrategy("first_match")
	require.NoError(t, err)
	assert.IsType(t, FirstMatch{}, s)

	_, err = NewStrategy("random")
	assert.Error(t, err)
}

func TestUpsert_AssignsID(t *testing.T) {
	pool, _ := newTestPool(t, nil)
	ctx := context.Background()

	c := &store.Credential{Secret: "sk-new", ModelScope: []string{"gpt-4o"}, RoleScope: []store.RoleName{store.RoleUser}}
	require.NoError(t, pool.Upsert(ctx, c))
	assert.NotEmpty(t, c.ID)

	all, err := pool.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "sk-new", all[0].Secret)
}

func TestUpsert_RejectsEmptyModel(t *testing.T) {
	pool, _ := newTestPool(t, nil)
	err := pool.Upsert(context.Background(), &store.Credential{Secret: "x", ModelScope: []string{""}})
	assert.Error(t, err)
}

func TestSetStatus_Invalid(t *testing.T) {
	pool, _ := newTestPool(t, nil, cred("a", []string{"gpt-4o"}, store.RoleUser))
	assert.Error(t, pool.SetStatus(context.Background(), "a", store.CredentialState("paused")))
	assert.ErrorIs(t, pool.SetStatus(context.Background(), "missing", store.CredentialDisabled), store.ErrNotFound)
}

func TestModelsFor(t *testing.T) {
	pool, _ := newTestPool(t, nil,
		cred("a", []string{"gpt-4o", "gpt-4o-mini"}, store.RoleUser),
		cred("b", []string{"gpt-4o"}, store.RoleUser),
		cred("c", []string{"gpt-4"}, store.RoleAdmin),
	)

	options, err := pool.ModelsFor(context.Background(), []store.RoleName{store.RoleUser})
	require.NoError(t, err)
	require.Len(t, options, 2)

	// Catalogue order is preserved
	assert.Equal(t, ModelOption{Model: "gpt-4o", Label: "gpt-4o (2)", Credentials: 2}, options[0])
	assert.Equal(t, ModelOption{Model: "gpt-4o-mini", Label: "gpt-4o-mini", Credentials: 1}, options[1])

	admin, err := pool.ModelsFor(context.Background(), []store.RoleName{store.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, admin, 1)
	assert.Equal(t, "gpt-4", admin[0].Model)
}
