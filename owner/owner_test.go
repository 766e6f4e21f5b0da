package owner_test

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/forward-long-jumps/discotron/owner"
)

var dbcount atomic.Uint64

func testConn() *sqlitex.Pool {
	k := dbcount.Add(1)
	pool, err := sqlitex.NewPool(fmt.Sprintf("file:owner%d.db?mode=memory&cache=shared", k), sqlitex.PoolOptions{Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI})
	if err != nil {
		panic(err)
	}
	return pool
}

func TestInit(t *testing.T) {
	ctx := context.Background()
	db := testConn()
	if err := owner.Init(ctx, db); err != nil {
		t.Error(err)
	}
}

func TestSet(t *testing.T) {
	ctx := context.Background()
	db := testConn()
	if err := owner.Init(ctx, db); err != nil {
		t.Fatal(err)
	}
	r, err := owner.Open(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Set(ctx, []string{"bocchi", "ryou"}); err != nil {
		t.Fatal(err)
	}
	if !r.IsOwner("bocchi") || !r.IsOwner("ryou") {
		t.Error("set owners not owners")
	}
	if r.IsOwner("nijika") {
		t.Error("nijika is not an owner")
	}
	if r.IsOwner("") {
		t.Error("empty identifier is never an owner")
	}
	// Replace-all: the old set is gone.
	if err := r.Set(ctx, []string{"nijika"}); err != nil {
		t.Fatal(err)
	}
	if r.IsOwner("bocchi") {
		t.Error("bocchi survived the replacement")
	}
	if !r.IsOwner("nijika") {
		t.Error("nijika should be an owner now")
	}
}

func TestSetEmptyNoOp(t *testing.T) {
	ctx := context.Background()
	db := testConn()
	if err := owner.Init(ctx, db); err != nil {
		t.Fatal(err)
	}
	r, err := owner.Open(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Set(ctx, []string{"bocchi"}); err != nil {
		t.Fatal(err)
	}
	// An empty input must not lock everyone out.
	if err := r.Set(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if !r.IsOwner("bocchi") {
		t.Error("empty Set removed the existing owners")
	}
	got, err := r.Owners(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"bocchi"}; !slices.Equal(got, want) {
		t.Errorf("Owners() = %v, want %v", got, want)
	}
}

func TestLazyLoad(t *testing.T) {
	ctx := context.Background()
	db := testConn()
	if err := owner.Init(ctx, db); err != nil {
		t.Fatal(err)
	}
	r, err := owner.Open(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Set(ctx, []string{"bocchi", "ryou"}); err != nil {
		t.Fatal(err)
	}
	// A fresh registry over the same database loads on first read.
	r2, err := owner.Open(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	got, err := r2.Owners(ctx)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(got)
	if want := []string{"bocchi", "ryou"}; !slices.Equal(got, want) {
		t.Errorf("Owners() = %v, want %v", got, want)
	}
	if !r2.IsOwner("bocchi") {
		t.Error("loaded owner not recognized")
	}
}
