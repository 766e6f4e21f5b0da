// Package access decides whether a user may invoke a plugin's commands in a
// guild.
package access

import (
	"context"
	"fmt"

	"github.com/forward-long-jumps/discotron/guild"
	"github.com/forward-long-jumps/discotron/plugin"
)

// RoleSource looks up the roles a user holds in a guild. The resolver
// consumes this capability but does not own it; the gateway layer provides
// it.
type RoleSource interface {
	Roles(ctx context.Context, guildID, userID string) ([]string, error)
}

// Resolver evaluates per-guild, per-plugin permission records.
type Resolver struct {
	Roles RoleSource
}

// Allows reports whether the user may invoke the plugin's commands in the
// guild. An empty permission record applies the plugin's default policy;
// a non-empty record allows only listed users and holders of listed roles.
func (r *Resolver) Allows(ctx context.Context, g *guild.Guild, p *plugin.Plugin, userID string) (bool, error) {
	rec := g.Permission(p.ID)
	if len(rec.Principals) == 0 {
		switch p.DefaultPolicy {
		case plugin.Admins:
			roles, err := r.roles(ctx, g, rec, userID)
			if err != nil {
				return false, err
			}
			return g.IsAdmin(userID, roles), nil
		default:
			return true, nil
		}
	}
	// Check user principals before spending a role lookup.
	for _, pr := range rec.Principals {
		if pr.Kind == guild.User && pr.ID == userID {
			return true, nil
		}
	}
	roles, err := r.roles(ctx, g, rec, userID)
	if err != nil {
		return false, err
	}
	return rec.Allows(userID, roles), nil
}

// roles fetches the user's roles, but only when some principal can match on
// them.
func (r *Resolver) roles(ctx context.Context, g *guild.Guild, rec *guild.Permission, userID string) ([]string, error) {
	if !wantsRoles(rec, g) {
		return nil, nil
	}
	if r.Roles == nil {
		return nil, nil
	}
	roles, err := r.Roles.Roles(ctx, g.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("couldn't look up roles for %s in %s: %w", userID, g.ID, err)
	}
	return roles, nil
}

func wantsRoles(rec *guild.Permission, g *guild.Guild) bool {
	for _, pr := range rec.Principals {
		if pr.Kind == guild.Role {
			return true
		}
	}
	if len(rec.Principals) != 0 {
		return false
	}
	for _, pr := range g.Admins {
		if pr.Kind == guild.Role {
			return true
		}
	}
	for _, pr := range g.NativeAdmins {
		if pr.Kind == guild.Role {
			return true
		}
	}
	return false
}
