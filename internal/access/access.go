// Package access resolves the capability set a user holds on a document.
package access

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chronicle/collab/internal/rbac"
	"chronicle/collab/internal/store"
)

type Capabilities struct {
	CanRead               bool `json:"canRead"`
	CanCreateSuggestions  bool `json:"canCreateSuggestions"`
	CanApproveSuggestions bool `json:"canApproveSuggestions"`
}

type Resolver interface {
	Capabilities(ctx context.Context, documentID, userID string) (Capabilities, error)
}

// RoleLookup returns the stored role of a user on a document, or
// store.ErrNoMembership when there is none.
type RoleLookup interface {
	DocumentRole(ctx context.Context, documentID, userID string) (string, error)
}

type RoleResolver struct {
	lookup      RoleLookup
	defaultRole rbac.Role
}

func NewRoleResolver(lookup RoleLookup, defaultRole string) *RoleResolver {
	return &RoleResolver{lookup: lookup, defaultRole: rbac.Normalize(defaultRole)}
}

func (r *RoleResolver) Capabilities(ctx context.Context, documentID, userID string) (Capabilities, error) {
	role := r.defaultRole
	if r.lookup != nil {
		stored, err := r.lookup.DocumentRole(ctx, documentID, userID)
		switch {
		case err == nil:
			role = rbac.Normalize(stored)
		case errors.Is(err, store.ErrNoMembership):
		default:
			return Capabilities{}, fmt.Errorf("lookup document role: %w", err)
		}
	}
	return ForRole(role), nil
}

func ForRole(role rbac.Role) Capabilities {
	return Capabilities{
		CanRead:               rbac.Can(role, rbac.ActionRead),
		CanCreateSuggestions:  rbac.Can(role, rbac.ActionSuggest),
		CanApproveSuggestions: rbac.Can(role, rbac.ActionReview),
	}
}

// StaticLookup is an in-memory RoleLookup used by the memory backend and tests.
type StaticLookup struct {
	mu    sync.RWMutex
	roles map[string]string
}

func NewStaticLookup() *StaticLookup {
	return &StaticLookup{roles: map[string]string{}}
}

func (s *StaticLookup) Set(documentID, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[documentID+"\x00"+userID] = role
}

func (s *StaticLookup) DocumentRole(_ context.Context, documentID, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[documentID+"\x00"+userID]
	if !ok {
		return "", store.ErrNoMembership
	}
	return role, nil
}

func (s *StaticLookup) SetDocumentRole(_ context.Context, documentID, userID, role string) error {
	s.Set(documentID, userID, role)
	return nil
}
