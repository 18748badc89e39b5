// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests AuthContext, IsAdmin, and context propagation helpers

package auth

import (
	"context"
	"testing"

	"github.com/2389/chat-gateway/internal/store"
)

func TestAuthContext_IsAdmin(t *testing.T) {
	tests := []struct {
		name  string
		roles []store.RoleName
		want  bool
	}{
		{name: "admin role", roles: []store.RoleName{store.RoleAdmin}, want: true},
		{name: "admin with other roles", roles: []store.RoleName{store.RoleUser, store.RoleAdmin}, want: true},
		{name: "user only", roles: []store.RoleName{store.RoleUser}, want: false},
		{name: "support and tester", roles: []store.RoleName{store.RoleSupport, store.RoleTester}, want: false},
		{name: "no roles", roles: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &AuthContext{UserID: "user-1", Roles: tt.roles}
			if got := auth.IsAdmin(); got != tt.want {
				t.Errorf("IsAdmin() = %v, want %v for roles %v", got, tt.want, tt.roles)
			}
		})
	}
}

func TestWithAuth_FromContext(t *testing.T) {
	want := &AuthContext{UserID: "user-1", Roles: []store.RoleName{store.RoleUser}}
	ctx := WithAuth(context.Background(), want)

	got := FromContext(ctx)
	if got != want {
		t.Errorf("FromContext() = %v, want %v", got, want)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustFromContext() should panic without AuthContext")
		}
	}()
	MustFromContext(context.Background())
}
