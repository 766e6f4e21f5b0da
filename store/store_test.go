package store_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/forward-long-jumps/discotron/guild"
	"github.com/forward-long-jumps/discotron/store"
)

var dbcount atomic.Uint64

func testStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	k := dbcount.Add(1)
	pool, err := sqlitex.NewPool(fmt.Sprintf("file:store%d.db?mode=memory&cache=shared", k), sqlitex.PoolOptions{Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(ctx, pool); err != nil {
		t.Fatal(err)
	}
	s, err := store.Open(ctx, pool)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateGuild(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	if err := s.CreateGuild(ctx, "starry"); err != nil {
		t.Fatal(err)
	}
	// Re-discovering a known guild is harmless.
	if err := s.CreateGuild(ctx, "starry"); err != nil {
		t.Fatal(err)
	}
	rec, err := s.LoadGuild(ctx, "starry")
	if err != nil {
		t.Fatal(err)
	}
	want := &guild.Record{}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("fresh guild record (-want +got):\n%s", diff)
	}
}

func TestLoadGuildMissing(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	if _, err := s.LoadGuild(ctx, "nowhere"); err == nil {
		t.Error("expected an error loading a guild that was never created")
	}
}

func TestGuildRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	if err := s.CreateGuild(ctx, "starry"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPrefix(ctx, "starry", "!b "); err != nil {
		t.Fatal(err)
	}
	if err := s.SetChannels(ctx, "starry", []string{"general", "band"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPlugins(ctx, "starry", []string{"core"}); err != nil {
		t.Fatal(err)
	}
	admins := []guild.Principal{guild.RolePrincipal("staff"), guild.UserPrincipal("seika")}
	if err := s.SetAdmins(ctx, "starry", admins); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPermission(ctx, "starry", "mod", []guild.Principal{guild.UserPrincipal("seika")}); err != nil {
		t.Fatal(err)
	}
	if err := s.InitPermission(ctx, "starry", "core"); err != nil {
		t.Fatal(err)
	}
	rec, err := s.LoadGuild(ctx, "starry")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Prefix != "!b " {
		t.Errorf("prefix = %q, want %q", rec.Prefix, "!b ")
	}
	if diff := cmp.Diff([]string{"band", "general"}, rec.Channels); diff != "" {
		t.Errorf("channels (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"core"}, rec.Plugins); diff != "" {
		t.Errorf("plugins (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(admins, rec.Admins); diff != "" {
		t.Errorf("admins (-want +got):\n%s", diff)
	}
	perms := make(map[string]guild.Permission, len(rec.Perms))
	for _, p := range rec.Perms {
		perms[p.Plugin] = p
	}
	if got := perms["core"]; got.Plugin != "core" || len(got.Principals) != 0 {
		t.Errorf("core permission record = %+v, want empty record", got)
	}
	if got := perms["mod"]; len(got.Principals) != 1 || got.Principals[0] != guild.UserPrincipal("seika") {
		t.Errorf("mod permission record = %+v", got)
	}
}

func TestReplaceSets(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	if err := s.CreateGuild(ctx, "starry"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetChannels(ctx, "starry", []string{"general", "band"}); err != nil {
		t.Fatal(err)
	}
	// Replacing with a subset drops the rest; replacing with nothing clears.
	if err := s.SetChannels(ctx, "starry", []string{"band"}); err != nil {
		t.Fatal(err)
	}
	rec, err := s.LoadGuild(ctx, "starry")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"band"}, rec.Channels); diff != "" {
		t.Errorf("channels (-want +got):\n%s", diff)
	}
	if err := s.SetChannels(ctx, "starry", nil); err != nil {
		t.Fatal(err)
	}
	rec, err = s.LoadGuild(ctx, "starry")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Channels) != 0 {
		t.Errorf("channels = %v after clearing", rec.Channels)
	}
}

func TestInitPermissionPreserves(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	if err := s.CreateGuild(ctx, "starry"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPermission(ctx, "starry", "mod", []guild.Principal{guild.UserPrincipal("seika")}); err != nil {
		t.Fatal(err)
	}
	// Initializing an existing record must not wipe its principals.
	if err := s.InitPermission(ctx, "starry", "mod"); err != nil {
		t.Fatal(err)
	}
	rec, err := s.LoadGuild(ctx, "starry")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Perms) != 1 || len(rec.Perms[0].Principals) != 1 {
		t.Errorf("permission records = %+v", rec.Perms)
	}
}

func TestDeletePermission(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	if err := s.CreateGuild(ctx, "starry"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPermission(ctx, "starry", "mod", []guild.Principal{guild.UserPrincipal("seika")}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePermission(ctx, "starry", "mod"); err != nil {
		t.Fatal(err)
	}
	rec, err := s.LoadGuild(ctx, "starry")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Perms) != 0 {
		t.Errorf("permission records = %+v after delete", rec.Perms)
	}
}

func TestDeleteGuild(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	if err := s.CreateGuild(ctx, "starry"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetChannels(ctx, "starry", []string{"general"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateGuild(ctx, "shimokitazawa"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteGuild(ctx, "starry"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadGuild(ctx, "starry"); err == nil {
		t.Error("deleted guild still loads")
	}
	// Other guilds are untouched.
	if _, err := s.LoadGuild(ctx, "shimokitazawa"); err != nil {
		t.Error(err)
	}
}

func TestPluginEnabled(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	// Unknown plugins default to enabled.
	on, err := s.PluginEnabled(ctx, "core")
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Error("unknown plugin should default to enabled")
	}
	if err := s.SetPluginEnabled(ctx, "core", false); err != nil {
		t.Fatal(err)
	}
	on, err = s.PluginEnabled(ctx, "core")
	if err != nil {
		t.Fatal(err)
	}
	if on {
		t.Error("plugin still enabled after disabling")
	}
	if err := s.SetPluginEnabled(ctx, "core", true); err != nil {
		t.Fatal(err)
	}
	on, err = s.PluginEnabled(ctx, "core")
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Error("plugin still disabled after re-enabling")
	}
}
