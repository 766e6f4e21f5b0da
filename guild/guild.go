// Package guild holds per-guild bot configuration and the registry the
// router consults for every message.
package guild

import "slices"

// PrincipalKind distinguishes user principals from role principals.
type PrincipalKind int8

const (
	// User designates a specific user by ID.
	User PrincipalKind = iota
	// Role designates every member holding a role.
	Role
)

func (k PrincipalKind) String() string {
	switch k {
	case User:
		return "user"
	case Role:
		return "role"
	default:
		return "invalid"
	}
}

// Principal is a user-or-role reference used by admin sets and permission
// records.
type Principal struct {
	Kind PrincipalKind
	ID   string
}

// UserPrincipal returns a principal designating a user.
func UserPrincipal(id string) Principal { return Principal{Kind: User, ID: id} }

// RolePrincipal returns a principal designating a role.
func RolePrincipal(id string) Principal { return Principal{Kind: Role, ID: id} }

// Permission is the access-control record for one plugin in one guild.
// An empty principal list means the plugin's default policy applies.
type Permission struct {
	Guild      string
	Plugin     string
	Principals []Principal
}

// Allows reports whether the user, holding the given roles, matches any
// principal in the record. It reports false for an empty record; the caller
// applies the default policy in that case.
func (p *Permission) Allows(userID string, roles []string) bool {
	for _, pr := range p.Principals {
		switch pr.Kind {
		case User:
			if pr.ID == userID {
				return true
			}
		case Role:
			if slices.Contains(roles, pr.ID) {
				return true
			}
		}
	}
	return false
}

// Guild is one guild's bot configuration. A Guild obtained from the registry
// is a read-only snapshot; changes go through the registry's mutators.
type Guild struct {
	// ID is the guild identifier.
	ID string
	// Prefix is the guild command prefix. It is compared as configured; the
	// message text, not the prefix, is case folded during matching.
	Prefix string
	// Channels selects the channels in which the bot reacts to messages.
	Channels Selector
	// Plugins selects the plugins enabled in the guild.
	Plugins Selector
	// Admins is the set of principals granted configuration rights through
	// the dashboard.
	Admins []Principal
	// NativeAdmins is the set of principals holding configuration rights
	// through the service itself: the guild owner and any role granted the
	// administrator capability. It is re-derived on every reconciliation.
	NativeAdmins []Principal
	// Perms maps plugin identifiers to their permission records.
	Perms map[string]*Permission
}

// IsAdmin reports whether the user, holding the given roles, is a guild
// admin, either granted through the dashboard or native to the service.
func (g *Guild) IsAdmin(userID string, roles []string) bool {
	match := func(prs []Principal) bool {
		for _, pr := range prs {
			switch pr.Kind {
			case User:
				if pr.ID == userID {
					return true
				}
			case Role:
				if slices.Contains(roles, pr.ID) {
					return true
				}
			}
		}
		return false
	}
	return match(g.Admins) || match(g.NativeAdmins)
}

// Permission returns the guild's permission record for a plugin, or an empty
// record if none has been initialized yet.
func (g *Guild) Permission(pluginID string) *Permission {
	if p := g.Perms[pluginID]; p != nil {
		return p
	}
	return &Permission{Guild: g.ID, Plugin: pluginID}
}
