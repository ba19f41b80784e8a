package auth

import (
	"context"
	"fmt"

	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

// Identity answers who the session user is and what they may do in a project.
type Identity interface {
	// CurrentUserID returns the signed-in user's id.
	CurrentUserID() string
	// RoleFor returns the user's role in projectID. ok is false if the user
	// is not a member.
	RoleFor(ctx context.Context, projectID string) (role models.Role, ok bool, err error)
}

// CacheIdentity resolves roles from the membership rows in the local cache.
type CacheIdentity struct {
	userID  string
	members *storage.Collection[*models.ProjectMember]
}

// NewCacheIdentity creates an identity for userID backed by the cached members.
func NewCacheIdentity(userID string, members *storage.Collection[*models.ProjectMember]) *CacheIdentity {
	return &CacheIdentity{userID: userID, members: members}
}

// IdentityFromToken validates token and returns the identity it names.
func IdentityFromToken(svc *JWTService, token string, members *storage.Collection[*models.ProjectMember]) (*CacheIdentity, error) {
	claims, err := svc.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("identity from token: %w", err)
	}
	return NewCacheIdentity(claims.UserID, members), nil
}

// CurrentUserID implements Identity.
func (i *CacheIdentity) CurrentUserID() string {
	return i.userID
}

// RoleFor implements Identity.
func (i *CacheIdentity) RoleFor(ctx context.Context, projectID string) (models.Role, bool, error) {
	m, ok, err := FindMember(ctx, i.members, projectID, i.userID)
	if err != nil || !ok {
		return "", false, err
	}
	return m.Role, true, nil
}

// FindMember returns the cached membership of userID in projectID.
// Membership ids assigned by the remote need not match MemberID, so the
// project scope is scanned for the user.
func FindMember(ctx context.Context, members *storage.Collection[*models.ProjectMember], projectID, userID string) (*models.ProjectMember, bool, error) {
	if m, ok, err := members.Get(ctx, models.MemberID(projectID, userID)); err != nil || ok {
		return m, ok, err
	}
	all, err := members.Query(ctx, storage.Query{Scope: projectID})
	if err != nil {
		return nil, false, fmt.Errorf("find member: %w", err)
	}
	for _, m := range all {
		if m.UserID == userID {
			return m, true, nil
		}
	}
	return nil, false, nil
}

// Static is a fixed identity, useful for tools and tests.
type Static struct {
	UserID string
	Roles  map[string]models.Role
}

// CurrentUserID implements Identity.
func (s Static) CurrentUserID() string {
	return s.UserID
}

// RoleFor implements Identity.
func (s Static) RoleFor(_ context.Context, projectID string) (models.Role, bool, error) {
	role, ok := s.Roles[projectID]
	return role, ok, nil
}
