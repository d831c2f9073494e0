// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxIdentityLen = 64

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
)

// Identity is a self-asserted, client-generated participant token.
// The relay never checks ownership or uniqueness.
type Identity string

func (id Identity) Validate() error {
	if len(id) == 0 {
		return ErrIdentityEmpty
	}
	if len(id) > MaxIdentityLen {
		return ErrIdentityTooLong
	}
	return nil
}

// NewIdentity is used by endpoints that were not given a fixed identity.
func NewIdentity() Identity {
	return Identity(uuid.NewString())
}

// Role is fixed when a call session is created and never changes.
type Role int

const (
	RoleCaller Role = iota + 1
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "none"
	}
}
