package access_test

import (
	"context"
	"errors"
	"testing"

	"github.com/forward-long-jumps/discotron/access"
	"github.com/forward-long-jumps/discotron/guild"
	"github.com/forward-long-jumps/discotron/plugin"
)

type roleMap map[string][]string

func (m roleMap) Roles(ctx context.Context, guildID, userID string) ([]string, error) {
	return m[userID], nil
}

type brokenRoles struct{}

func (brokenRoles) Roles(ctx context.Context, guildID, userID string) ([]string, error) {
	return nil, errors.New("gateway down")
}

func TestAllows(t *testing.T) {
	cases := []struct {
		name       string
		principals []guild.Principal
		admins     []guild.Principal
		policy     plugin.Policy
		roles      roleMap
		user       string
		want       bool
	}{
		{
			name:   "empty-everyone",
			policy: plugin.Everyone,
			user:   "bocchi",
			want:   true,
		},
		{
			name:   "empty-admins-denies",
			policy: plugin.Admins,
			user:   "bocchi",
			want:   false,
		},
		{
			name:   "empty-admins-allows-admin-user",
			policy: plugin.Admins,
			admins: []guild.Principal{guild.UserPrincipal("seika")},
			user:   "seika",
			want:   true,
		},
		{
			name:   "empty-admins-allows-admin-role",
			policy: plugin.Admins,
			admins: []guild.Principal{guild.RolePrincipal("staff")},
			roles:  roleMap{"nijika": {"staff"}},
			user:   "nijika",
			want:   true,
		},
		{
			name:       "listed-user",
			principals: []guild.Principal{guild.UserPrincipal("bocchi")},
			user:       "bocchi",
			want:       true,
		},
		{
			name:       "listed-role-held",
			principals: []guild.Principal{guild.RolePrincipal("band")},
			roles:      roleMap{"ryou": {"band"}},
			user:       "ryou",
			want:       true,
		},
		{
			name:       "nonempty-denies-everyone-else",
			principals: []guild.Principal{guild.RolePrincipal("band")},
			roles:      roleMap{"kita": {"fans"}},
			user:       "kita",
			want:       false,
		},
		{
			// A non-empty list always implies deny-by-default, even under an
			// open default policy.
			name:       "nonempty-overrides-everyone-policy",
			principals: []guild.Principal{guild.UserPrincipal("bocchi")},
			policy:     plugin.Everyone,
			user:       "ryou",
			want:       false,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			g := &guild.Guild{
				ID:     "starry",
				Admins: c.admins,
				Perms: map[string]*guild.Permission{
					"p": {Guild: "starry", Plugin: "p", Principals: c.principals},
				},
			}
			p := &plugin.Plugin{ID: "p", DefaultPolicy: c.policy}
			r := &access.Resolver{Roles: c.roles}
			got, err := r.Allows(ctx, g, p, c.user)
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Errorf("Allows(%q) = %v, want %v", c.user, got, c.want)
			}
		})
	}
}

func TestAllowsMissingRecord(t *testing.T) {
	// A guild with no record for the plugin behaves as an empty record.
	ctx := context.Background()
	g := &guild.Guild{ID: "starry", Perms: map[string]*guild.Permission{}}
	p := &plugin.Plugin{ID: "p"}
	r := &access.Resolver{}
	got, err := r.Allows(ctx, g, p, "bocchi")
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("missing record should apply the default Everyone policy")
	}
}

func TestAllowsRoleLookupFailure(t *testing.T) {
	ctx := context.Background()
	g := &guild.Guild{
		ID: "starry",
		Perms: map[string]*guild.Permission{
			"p": {Guild: "starry", Plugin: "p", Principals: []guild.Principal{guild.RolePrincipal("band")}},
		},
	}
	p := &plugin.Plugin{ID: "p"}
	r := &access.Resolver{Roles: brokenRoles{}}
	if _, err := r.Allows(ctx, g, p, "bocchi"); err == nil {
		t.Error("expected an error when the role lookup fails")
	}
	// A listed user is allowed without a role lookup.
	g.Perms["p"].Principals = append(g.Perms["p"].Principals, guild.UserPrincipal("bocchi"))
	got, err := r.Allows(ctx, g, p, "bocchi")
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("listed user should not need a role lookup")
	}
}
