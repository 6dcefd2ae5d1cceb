// Package query implements the QueryService (C8): unauthenticated
// read-only balance, penalty, and role lookups.
package query

import (
	"github.com/blackyblack/identity-server/roles"
	"github.com/blackyblack/identity-server/trust"
)

// Service answers read-only queries over the trust engine and role store.
type Service struct {
	Engine *trust.Engine
	Roles  roles.Store
}

// IDT returns idt(u).
func (s *Service) IDT(u []byte) (int64, error) { return s.Engine.IDT(u) }

// Penalty returns penalty(u).
func (s *Service) Penalty(u []byte) (int64, error) { return s.Engine.Penalty(u) }

// IsAdmin reports whether u is in the admin set.
func (s *Service) IsAdmin(u []byte) (bool, error) { return s.Roles.IsAdmin(u) }

// IsModerator reports whether u is in the moderator set.
func (s *Service) IsModerator(u []byte) (bool, error) { return s.Roles.IsModerator(u) }

// ListAdmins returns every admin identity.
func (s *Service) ListAdmins() ([][]byte, error) { return s.Roles.ListAdmins() }

// ListModerators returns every moderator identity.
func (s *Service) ListModerators() ([][]byte, error) { return s.Roles.ListModerators() }
