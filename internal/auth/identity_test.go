package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

func setupMembers(t *testing.T) *storage.Collection[*models.ProjectMember] {
	t.Helper()
	cache := storage.NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err := cache.Open(); err != nil {
		t.Fatalf("open cache: %v", err)
	}
	if err := cache.Migrate(); err != nil {
		t.Fatalf("migrate cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return storage.Members(cache)
}

func TestCacheIdentity_RoleFor(t *testing.T) {
	members := setupMembers(t)
	ctx := context.Background()

	remoteAssigned := models.NewProjectMember("p2", "alice", models.RoleManager, "bob")
	remoteAssigned.ID = "srv-42"
	err := members.UpsertMany(ctx, []*models.ProjectMember{
		models.NewProjectMember("p1", "alice", models.RoleAdmin, ""),
		remoteAssigned,
		models.NewProjectMember("p3", "bob", models.RoleMember, "alice"),
	})
	if err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}

	id := NewCacheIdentity("alice", members)
	tests := []struct {
		project  string
		wantRole models.Role
		wantOK   bool
	}{
		{"p1", models.RoleAdmin, true},
		{"p2", models.RoleManager, true},
		{"p3", "", false},
		{"missing", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.project, func(t *testing.T) {
			role, ok, err := id.RoleFor(ctx, tt.project)
			if err != nil {
				t.Fatalf("RoleFor() error = %v", err)
			}
			if role != tt.wantRole || ok != tt.wantOK {
				t.Errorf("RoleFor(%s) = %q, %v, want %q, %v", tt.project, role, ok, tt.wantRole, tt.wantOK)
			}
		})
	}
}

func TestIdentityFromToken(t *testing.T) {
	members := setupMembers(t)
	svc := NewJWTService([]byte("test-secret-key-32-bytes-long!!"), time.Minute)

	token, err := svc.GenerateToken("alice", "Alice", "")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	id, err := IdentityFromToken(svc, token, members)
	if err != nil {
		t.Fatalf("IdentityFromToken() error = %v", err)
	}
	if id.CurrentUserID() != "alice" {
		t.Errorf("CurrentUserID() = %q, want alice", id.CurrentUserID())
	}

	if _, err := IdentityFromToken(svc, "garbage", members); err == nil {
		t.Error("IdentityFromToken(garbage) should fail")
	}
}

func TestStatic(t *testing.T) {
	var id Identity = Static{UserID: "u1", Roles: map[string]models.Role{"p1": models.RoleManager}}
	if role, ok, _ := id.RoleFor(context.Background(), "p1"); !ok || role != models.RoleManager {
		t.Errorf("RoleFor(p1) = %q, %v", role, ok)
	}
	if _, ok, _ := id.RoleFor(context.Background(), "p2"); ok {
		t.Error("RoleFor(p2) should not be a member")
	}
}
