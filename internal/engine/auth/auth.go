package auth

import (
	"fmt"
	"sort"

	"innkeep/internal/config"
)

const (
	PermRoomsManage        = "rooms.manage"
	PermReservationsRead   = "reservations.read_all"
	PermReservationsCreate = "reservations.create"
	PermConfirm            = "reservations.confirm"
	PermComplete           = "reservations.complete"
	PermCancel             = "reservations.cancel"
	PermCancelOwn          = "reservations.cancel_own"
	PermIndexRebuild       = "index.rebuild"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Actor is the authenticated caller as seen by authorization checks.
type Actor struct {
	ID    string
	Roles []string
}

// Policy resolves role names from config into permission sets.
type Policy struct {
	roles map[string]map[string]struct{}
}

func NewPolicy(cfg *config.Config) Policy {
	p := Policy{roles: map[string]map[string]struct{}{}}
	if cfg == nil {
		return p
	}
	for roleID, role := range cfg.RBAC.Roles {
		perms := map[string]struct{}{}
		for _, perm := range role.Permissions {
			perms[perm] = struct{}{}
		}
		p.roles[roleID] = perms
	}
	return p
}

func (p Policy) Has(actor Actor, perm string) bool {
	for _, r := range actor.Roles {
		if _, ok := p.roles[r][perm]; ok {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError when the actor lacks perm.
func (p Policy) Require(actor Actor, perm string) error {
	if p.Has(actor, perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

// Permissions lists the actor's effective permissions, sorted.
func (p Policy) Permissions(actor Actor) []string {
	set := map[string]struct{}{}
	for _, r := range actor.Roles {
		for perm := range p.roles[r] {
			set[perm] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for perm := range set {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// KnownRole reports whether the role is configured.
func (p Policy) KnownRole(role string) bool {
	_, ok := p.roles[role]
	return ok
}
