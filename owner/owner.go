// Package owner tracks the bot-wide owner set. Owners bypass maintenance
// mode and spam restriction.
package owner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Registry is the owner set backed by an SQL database. The in-memory set is
// authoritative; the database is consulted only to populate it.
type Registry struct {
	db *sqlitex.Pool

	mu     sync.Mutex
	ids    map[string]bool
	loaded bool
}

// Open opens an existing owner set in an SQL database.
func Open(ctx context.Context, db *sqlitex.Pool) (*Registry, error) {
	return &Registry{db: db, ids: make(map[string]bool)}, nil
}

// Init initializes the owner table in an SQL database.
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
	err := sqlitex.ExecuteTransient(conn, `CREATE TABLE owners (user TEXT PRIMARY KEY) STRICT, WITHOUT ROWID`, nil)
	return err
}

// IsOwner reports whether the user is in the in-memory owner set. An empty
// identifier is never an owner.
func (r *Registry) IsOwner(userID string) bool {
	if userID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids[userID]
}

// Set replaces the entire owner set. An empty input is a no-op; this guards
// against locking every owner out by accident. The in-memory set is swapped
// first, then the stored rows are replaced wholesale. A write failure leaves
// the in-memory set authoritative.
func (r *Registry) Set(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	r.mu.Lock()
	r.ids = set
	r.loaded = true
	r.mu.Unlock()

	conn, err := r.db.Take(ctx)
	defer r.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to set owners: %w", err)
	}
	defer sqlitex.Save(conn)(&err)
	if err = sqlitex.ExecuteTransient(conn, `DELETE FROM owners`, nil); err != nil {
		return fmt.Errorf("couldn't clear owners: %w", err)
	}
	for id := range set {
		opts := sqlitex.ExecOptions{Args: []any{id}}
		if err = sqlitex.Execute(conn, `INSERT INTO owners (user) VALUES (?)`, &opts); err != nil {
			return fmt.Errorf("couldn't insert owner %s: %w", id, err)
		}
	}
	return nil
}

// Owners returns the owner set, lazily loading it from storage if the
// in-memory set has never been populated.
func (r *Registry) Owners(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	if r.loaded {
		ids := make([]string, 0, len(r.ids))
		for id := range r.ids {
			ids = append(ids, id)
		}
		r.mu.Unlock()
		return ids, nil
	}
	r.mu.Unlock()
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	return r.Owners(ctx)
}

// Load populates the in-memory set from storage.
func (r *Registry) Load(ctx context.Context) error {
	conn, err := r.db.Take(ctx)
	defer r.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to load owners: %w", err)
	}
	set := make(map[string]bool)
	opts := sqlitex.ExecOptions{
		ResultFunc: func(st *sqlite.Stmt) error {
			set[st.ColumnText(0)] = true
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT user FROM owners`, &opts); err != nil {
		return fmt.Errorf("couldn't load owners: %w", err)
	}
	r.mu.Lock()
	r.ids = set
	r.loaded = true
	r.mu.Unlock()
	slog.DebugContext(ctx, "loaded owners", slog.Int("count", len(set)))
	return nil
}
