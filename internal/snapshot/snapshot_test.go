package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/playperu/checkin/internal/checkin"
	"github.com/playperu/checkin/internal/database"
	"github.com/playperu/checkin/internal/localstore"
	"github.com/playperu/checkin/internal/migrations"
	"github.com/playperu/checkin/internal/remote"
)

func setup(t *testing.T, groups ...checkin.GuestGroup) (*Loader, *localstore.Store, *remote.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	local := localstore.New(db)
	rs := remote.NewMemoryStore(groups...)
	return NewLoader(slog.Default(), rs, local), local, rs
}

func groups() []checkin.GuestGroup {
	return []checkin.GuestGroup{
		{ID: "g1", PrimaryContactName: "Rosa", Tickets: []checkin.Ticket{
			{ID: "t1", TicketCode: "A001", Status: checkin.TicketPending},
			{ID: "t2", TicketCode: "A002", Status: checkin.TicketPending},
		}},
		{ID: "g2", PrimaryContactName: "Luis", Tickets: []checkin.Ticket{
			{ID: "t1", TicketCode: "B001", Status: checkin.TicketPending},
		}},
	}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	l, local, _ := setup(t, groups()...)

	res, err := l.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.Groups != 2 || res.Tickets != 3 {
		t.Errorf("result = %+v, want 2 groups 3 tickets", res)
	}

	g, tk, err := local.FindByTicketCode(ctx, "B001")
	if err != nil || g.ID != "g2" || tk.ID != "t1" {
		t.Errorf("FindByTicketCode(B001) = %q %q %v", g.ID, tk.ID, err)
	}

	last, err := local.LastSnapshotTime(ctx)
	if err != nil || last == nil {
		t.Errorf("LastSnapshotTime = %v, %v", last, err)
	}

	// Idempotent.
	if _, err := l.Refresh(ctx); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	all, _ := local.GetAll(ctx)
	if len(all) != 2 {
		t.Errorf("groups after second refresh = %d, want 2", len(all))
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	l, local, rs := setup(t, groups()...)

	if _, err := l.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := local.Redeem(ctx, "A001", time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC), "dev-a"); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	before, err := local.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}

	rs.FailNext("list", 1)
	if _, err := l.Refresh(ctx); !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("Refresh err = %v, want ErrUnavailable", err)
	}

	after, err := local.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("snapshot changed after failed refresh:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestRefreshRejectsInconsistentRemote(t *testing.T) {
	ctx := context.Background()
	bad := groups()
	bad[1].Tickets[0].TicketCode = "A001"
	l, local, _ := setup(t, bad...)

	if _, err := l.Refresh(ctx); err == nil {
		t.Fatal("Refresh with duplicate codes succeeded")
	}
	all, _ := local.GetAll(ctx)
	if len(all) != 0 {
		t.Errorf("local groups = %d, want 0", len(all))
	}
}

func TestConcurrentRefresh(t *testing.T) {
	ctx := context.Background()
	l, local, _ := setup(t, groups()...)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Refresh(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Refresh: %v", err)
	}

	st, err := local.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Groups != 2 || st.Tickets != 3 {
		t.Errorf("stats = %+v", st)
	}
}
