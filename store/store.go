// Package store persists guild configuration in an SQL database. It is a
// durability log behind the in-memory registries, never the read path during
// routing.
package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/forward-long-jumps/discotron/guild"
)

// Store is guild configuration storage backed by an SQL database.
type Store struct {
	db *sqlitex.Pool
}

// Open opens existing guild storage in an SQL database.
func Open(ctx context.Context, db *sqlitex.Pool) (*Store, error) {
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE guilds (guild TEXT PRIMARY KEY) STRICT, WITHOUT ROWID;
CREATE TABLE guild_settings (guild TEXT PRIMARY KEY, prefix TEXT NOT NULL DEFAULT '') STRICT, WITHOUT ROWID;
CREATE TABLE allowed_channels (guild TEXT NOT NULL, channel TEXT NOT NULL, PRIMARY KEY (guild, channel)) STRICT, WITHOUT ROWID;
CREATE TABLE enabled_plugins (guild TEXT NOT NULL, plugin TEXT NOT NULL, PRIMARY KEY (guild, plugin)) STRICT, WITHOUT ROWID;
CREATE TABLE admins (guild TEXT NOT NULL, kind TEXT NOT NULL, id TEXT NOT NULL, PRIMARY KEY (guild, kind, id)) STRICT, WITHOUT ROWID;
CREATE TABLE permission_records (guild TEXT NOT NULL, plugin TEXT NOT NULL, PRIMARY KEY (guild, plugin)) STRICT, WITHOUT ROWID;
CREATE TABLE permissions (guild TEXT NOT NULL, plugin TEXT NOT NULL, kind TEXT NOT NULL, id TEXT NOT NULL, PRIMARY KEY (guild, plugin, kind, id)) STRICT, WITHOUT ROWID;
CREATE TABLE plugin_settings (plugin TEXT PRIMARY KEY, enabled INTEGER NOT NULL DEFAULT 1) STRICT, WITHOUT ROWID;
`

// Init initializes guild storage in an SQL database.
// For convenience, it accepts either a single connection or a pool.
func Init[DB *sqlite.Conn | *sqlitex.Pool](ctx context.Context, db DB) error {
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return fmt.Errorf("couldn't get connection from pool: %w", err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

func (s *Store) conn(ctx context.Context, why string) (*sqlite.Conn, func(), error) {
	conn, err := s.db.Take(ctx)
	if err != nil {
		s.db.Put(conn)
		return nil, func() {}, fmt.Errorf("couldn't get connection to %s: %w", why, err)
	}
	return conn, func() { s.db.Put(conn) }, nil
}

// CreateGuild inserts a guild row and its default settings row. Existing
// rows are kept, so re-discovering a known guild is harmless.
func (s *Store) CreateGuild(ctx context.Context, guildID string) error {
	conn, put, err := s.conn(ctx, "create guild")
	defer put()
	if err != nil {
		return err
	}
	defer sqlitex.Save(conn)(&err)
	opts := sqlitex.ExecOptions{Args: []any{guildID}}
	if err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO guilds (guild) VALUES (?)`, &opts); err != nil {
		return fmt.Errorf("couldn't insert guild row: %w", err)
	}
	opts = sqlitex.ExecOptions{Args: []any{guildID}}
	if err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO guild_settings (guild) VALUES (?)`, &opts); err != nil {
		return fmt.Errorf("couldn't insert guild settings row: %w", err)
	}
	return nil
}

// DeleteGuild removes the guild and every row keyed by it.
func (s *Store) DeleteGuild(ctx context.Context, guildID string) error {
	conn, put, err := s.conn(ctx, "delete guild")
	defer put()
	if err != nil {
		return err
	}
	defer sqlitex.Save(conn)(&err)
	for _, table := range []string{
		"guilds", "guild_settings", "allowed_channels",
		"enabled_plugins", "admins", "permission_records", "permissions",
	} {
		opts := sqlitex.ExecOptions{Args: []any{guildID}}
		if err = sqlitex.Execute(conn, `DELETE FROM `+table+` WHERE guild=?`, &opts); err != nil {
			return fmt.Errorf("couldn't delete from %s: %w", table, err)
		}
	}
	return nil
}

// LoadGuild fetches everything persisted for a guild. A guild with no
// settings row is a configuration load failure.
func (s *Store) LoadGuild(ctx context.Context, guildID string) (*guild.Record, error) {
	conn, put, err := s.conn(ctx, "load guild")
	defer put()
	if err != nil {
		return nil, err
	}
	rec := &guild.Record{}
	found := false
	opts := sqlitex.ExecOptions{
		Args: []any{guildID},
		ResultFunc: func(st *sqlite.Stmt) error {
			found = true
			rec.Prefix = st.ColumnText(0)
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT prefix FROM guild_settings WHERE guild=?`, &opts); err != nil {
		return nil, fmt.Errorf("couldn't load guild settings: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("no settings row for guild %s", guildID)
	}
	opts = sqlitex.ExecOptions{
		Args: []any{guildID},
		ResultFunc: func(st *sqlite.Stmt) error {
			rec.Channels = append(rec.Channels, st.ColumnText(0))
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT channel FROM allowed_channels WHERE guild=? ORDER BY channel`, &opts); err != nil {
		return nil, fmt.Errorf("couldn't load allowed channels: %w", err)
	}
	opts = sqlitex.ExecOptions{
		Args: []any{guildID},
		ResultFunc: func(st *sqlite.Stmt) error {
			rec.Plugins = append(rec.Plugins, st.ColumnText(0))
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT plugin FROM enabled_plugins WHERE guild=? ORDER BY plugin`, &opts); err != nil {
		return nil, fmt.Errorf("couldn't load enabled plugins: %w", err)
	}
	opts = sqlitex.ExecOptions{
		Args: []any{guildID},
		ResultFunc: func(st *sqlite.Stmt) error {
			pr, err := principal(st.ColumnText(0), st.ColumnText(1))
			if err != nil {
				return err
			}
			rec.Admins = append(rec.Admins, pr)
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT kind, id FROM admins WHERE guild=? ORDER BY kind, id`, &opts); err != nil {
		return nil, fmt.Errorf("couldn't load admins: %w", err)
	}
	perms := make(map[string]*guild.Permission)
	opts = sqlitex.ExecOptions{
		Args: []any{guildID},
		ResultFunc: func(st *sqlite.Stmt) error {
			p := st.ColumnText(0)
			perms[p] = &guild.Permission{Guild: guildID, Plugin: p}
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT plugin FROM permission_records WHERE guild=?`, &opts); err != nil {
		return nil, fmt.Errorf("couldn't load permission records: %w", err)
	}
	opts = sqlitex.ExecOptions{
		Args: []any{guildID},
		ResultFunc: func(st *sqlite.Stmt) error {
			p := st.ColumnText(0)
			pr, err := principal(st.ColumnText(1), st.ColumnText(2))
			if err != nil {
				return err
			}
			rec := perms[p]
			if rec == nil {
				rec = &guild.Permission{Guild: guildID, Plugin: p}
				perms[p] = rec
			}
			rec.Principals = append(rec.Principals, pr)
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT plugin, kind, id FROM permissions WHERE guild=? ORDER BY plugin, kind, id`, &opts); err != nil {
		return nil, fmt.Errorf("couldn't load permissions: %w", err)
	}
	for _, p := range perms {
		rec.Perms = append(rec.Perms, *p)
	}
	return rec, nil
}

// SetPrefix replaces the guild's command prefix.
func (s *Store) SetPrefix(ctx context.Context, guildID, prefix string) error {
	conn, put, err := s.conn(ctx, "set prefix")
	defer put()
	if err != nil {
		return err
	}
	opts := sqlitex.ExecOptions{
		Named: map[string]any{":guild": guildID, ":prefix": prefix},
	}
	return sqlitex.Execute(conn, `UPDATE guild_settings SET prefix=:prefix WHERE guild=:guild`, &opts)
}

// SetChannels replaces the guild's allowed channel rows.
func (s *Store) SetChannels(ctx context.Context, guildID string, channels []string) error {
	return s.replaceSet(ctx, "allowed_channels", "channel", guildID, channels)
}

// SetPlugins replaces the guild's enabled plugin rows.
func (s *Store) SetPlugins(ctx context.Context, guildID string, plugins []string) error {
	return s.replaceSet(ctx, "enabled_plugins", "plugin", guildID, plugins)
}

func (s *Store) replaceSet(ctx context.Context, table, column, guildID string, vals []string) error {
	conn, put, err := s.conn(ctx, "replace "+table)
	defer put()
	if err != nil {
		return err
	}
	defer sqlitex.Save(conn)(&err)
	opts := sqlitex.ExecOptions{Args: []any{guildID}}
	if err = sqlitex.Execute(conn, `DELETE FROM `+table+` WHERE guild=?`, &opts); err != nil {
		return fmt.Errorf("couldn't clear %s: %w", table, err)
	}
	for _, v := range vals {
		opts := sqlitex.ExecOptions{Args: []any{guildID, v}}
		if err = sqlitex.Execute(conn, `INSERT INTO `+table+` (guild, `+column+`) VALUES (?, ?)`, &opts); err != nil {
			return fmt.Errorf("couldn't insert into %s: %w", table, err)
		}
	}
	return nil
}

// SetAdmins replaces the guild's dashboard admin rows.
func (s *Store) SetAdmins(ctx context.Context, guildID string, admins []guild.Principal) error {
	conn, put, err := s.conn(ctx, "set admins")
	defer put()
	if err != nil {
		return err
	}
	defer sqlitex.Save(conn)(&err)
	opts := sqlitex.ExecOptions{Args: []any{guildID}}
	if err = sqlitex.Execute(conn, `DELETE FROM admins WHERE guild=?`, &opts); err != nil {
		return fmt.Errorf("couldn't clear admins: %w", err)
	}
	for _, pr := range admins {
		opts := sqlitex.ExecOptions{Args: []any{guildID, pr.Kind.String(), pr.ID}}
		if err = sqlitex.Execute(conn, `INSERT INTO admins (guild, kind, id) VALUES (?, ?, ?)`, &opts); err != nil {
			return fmt.Errorf("couldn't insert admin: %w", err)
		}
	}
	return nil
}

// SetPermission replaces the principal rows of one permission record.
func (s *Store) SetPermission(ctx context.Context, guildID, pluginID string, principals []guild.Principal) error {
	conn, put, err := s.conn(ctx, "set permission")
	defer put()
	if err != nil {
		return err
	}
	defer sqlitex.Save(conn)(&err)
	opts := sqlitex.ExecOptions{Args: []any{guildID, pluginID}}
	if err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO permission_records (guild, plugin) VALUES (?, ?)`, &opts); err != nil {
		return fmt.Errorf("couldn't insert permission record: %w", err)
	}
	opts = sqlitex.ExecOptions{Args: []any{guildID, pluginID}}
	if err = sqlitex.Execute(conn, `DELETE FROM permissions WHERE guild=? AND plugin=?`, &opts); err != nil {
		return fmt.Errorf("couldn't clear permissions: %w", err)
	}
	for _, pr := range principals {
		opts := sqlitex.ExecOptions{Args: []any{guildID, pluginID, pr.Kind.String(), pr.ID}}
		if err = sqlitex.Execute(conn, `INSERT INTO permissions (guild, plugin, kind, id) VALUES (?, ?, ?, ?)`, &opts); err != nil {
			return fmt.Errorf("couldn't insert permission: %w", err)
		}
	}
	return nil
}

// InitPermission records an empty permission record without disturbing an
// existing one.
func (s *Store) InitPermission(ctx context.Context, guildID, pluginID string) error {
	conn, put, err := s.conn(ctx, "init permission")
	defer put()
	if err != nil {
		return err
	}
	opts := sqlitex.ExecOptions{Args: []any{guildID, pluginID}}
	return sqlitex.Execute(conn, `INSERT OR IGNORE INTO permission_records (guild, plugin) VALUES (?, ?)`, &opts)
}

// DeletePermission removes one permission record and its principals.
func (s *Store) DeletePermission(ctx context.Context, guildID, pluginID string) error {
	conn, put, err := s.conn(ctx, "delete permission")
	defer put()
	if err != nil {
		return err
	}
	defer sqlitex.Save(conn)(&err)
	opts := sqlitex.ExecOptions{Args: []any{guildID, pluginID}}
	if err = sqlitex.Execute(conn, `DELETE FROM permission_records WHERE guild=? AND plugin=?`, &opts); err != nil {
		return fmt.Errorf("couldn't delete permission record: %w", err)
	}
	opts = sqlitex.ExecOptions{Args: []any{guildID, pluginID}}
	if err = sqlitex.Execute(conn, `DELETE FROM permissions WHERE guild=? AND plugin=?`, &opts); err != nil {
		return fmt.Errorf("couldn't delete permissions: %w", err)
	}
	return nil
}

// SetPluginEnabled sets a plugin's global enabled flag.
func (s *Store) SetPluginEnabled(ctx context.Context, pluginID string, enabled bool) error {
	conn, put, err := s.conn(ctx, "set plugin flag")
	defer put()
	if err != nil {
		return err
	}
	e := 0
	if enabled {
		e = 1
	}
	opts := sqlitex.ExecOptions{
		Named: map[string]any{":plugin": pluginID, ":enabled": e},
	}
	return sqlitex.Execute(conn, `INSERT INTO plugin_settings (plugin, enabled) VALUES (:plugin, :enabled)
		ON CONFLICT (plugin) DO UPDATE SET enabled=:enabled`, &opts)
}

// PluginEnabled reports a plugin's persisted enabled flag. Plugins without a
// row are enabled.
func (s *Store) PluginEnabled(ctx context.Context, pluginID string) (bool, error) {
	conn, put, err := s.conn(ctx, "get plugin flag")
	defer put()
	if err != nil {
		return false, err
	}
	enabled := true
	opts := sqlitex.ExecOptions{
		Args: []any{pluginID},
		ResultFunc: func(st *sqlite.Stmt) error {
			enabled = st.ColumnInt64(0) != 0
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT enabled FROM plugin_settings WHERE plugin=?`, &opts); err != nil {
		return false, fmt.Errorf("couldn't get plugin flag: %w", err)
	}
	return enabled, nil
}

func principal(kind, id string) (guild.Principal, error) {
	switch kind {
	case "user":
		return guild.UserPrincipal(id), nil
	case "role":
		return guild.RolePrincipal(id), nil
	default:
		return guild.Principal{}, fmt.Errorf("unknown principal kind %q", kind)
	}
}
