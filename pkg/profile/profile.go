// Package profile resolves and changes user subscription roles.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role is a subscription level.
type Role string

const (
	RoleFree    Role = "free_user"
	RolePremium Role = "premium_user"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.TrimSpace(s)); r {
	case RoleFree, RolePremium:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// ErrNotFound indicates no profile exists for the user.
var ErrNotFound = errors.New("profile not found")

// Service is the profile collaborator.
type Service interface {
	GetRole(ctx context.Context, userID string) (Role, error)
	SetRole(ctx context.Context, userID string, role Role) error
}

// Static is an in-memory Service.
type Static struct {
	mu    sync.RWMutex
	roles map[string]Role
}

var _ Service = (*Static)(nil)

// NewStatic seeds a Static service with roles.
func NewStatic(roles map[string]Role) *Static {
	s := &Static{roles: make(map[string]Role, len(roles))}
	for id, r := range roles {
		s.roles[id] = r
	}
	return s
}

func (s *Static) GetRole(ctx context.Context, userID string) (Role, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[userID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return r, nil
}

func (s *Static) SetRole(ctx context.Context, userID string, role Role) error {
	_ = ctx
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = role
	return nil
}
