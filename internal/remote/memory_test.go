package remote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playperu/checkin/internal/checkin"
	"github.com/playperu/checkin/internal/remote"
)

func group() checkin.GuestGroup {
	return checkin.GuestGroup{
		ID: "g1",
		Tickets: []checkin.Ticket{
			{ID: "t1", TicketCode: "A001", Status: checkin.TicketPending},
			{ID: "t2", TicketCode: "A002", Status: checkin.TicketPending},
		},
	}
}

func TestMemoryRedeemIsConditional(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemoryStore(group())

	first := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	applied, err := m.RedeemTicket(ctx, "g1", "A001", first, "dev-b")
	if err != nil || !applied {
		t.Fatalf("first redeem = %v, %v", applied, err)
	}

	applied, err = m.RedeemTicket(ctx, "g1", "A001", first.Add(time.Hour), "dev-a")
	if err != nil {
		t.Fatalf("second redeem: %v", err)
	}
	if applied {
		t.Error("second redeem applied")
	}

	g, err := m.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	tk := g.Tickets[0]
	if tk.RedeemedBy != "dev-b" || !tk.RedeemedAt.Equal(first) {
		t.Errorf("ticket = %+v, want first redemption kept", tk)
	}
	if m.Writes() != 1 {
		t.Errorf("writes = %d, want 1", m.Writes())
	}
}

func TestMemoryNotFound(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemoryStore(group())

	if _, err := m.GetGroup(ctx, "nope"); !errors.Is(err, checkin.ErrNotFound) {
		t.Errorf("GetGroup err = %v, want ErrNotFound", err)
	}
	if _, err := m.RedeemTicket(ctx, "nope", "A001", time.Now(), "d"); !errors.Is(err, checkin.ErrNotFound) {
		t.Errorf("redeem unknown group err = %v, want ErrNotFound", err)
	}
	if _, err := m.RedeemTicket(ctx, "g1", "Z999", time.Now(), "d"); !errors.Is(err, checkin.ErrNotFound) {
		t.Errorf("redeem unknown code err = %v, want ErrNotFound", err)
	}
}

func TestMemoryFaults(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemoryStore(group())

	m.FailNext("get", 1)
	if _, err := m.GetGroup(ctx, "g1"); !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("injected failure err = %v", err)
	}
	if _, err := m.GetGroup(ctx, "g1"); err != nil {
		t.Fatalf("after injected failure: %v", err)
	}

	m.SetOffline(true)
	if err := m.Ping(ctx); !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("offline ping err = %v", err)
	}
	if _, err := m.ListGroups(ctx); !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("offline list err = %v", err)
	}
	m.SetOffline(false)
	if err := m.Ping(ctx); err != nil {
		t.Fatalf("online ping: %v", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemoryStore(group())

	g, _ := m.GetGroup(ctx, "g1")
	g.Tickets[0].Status = checkin.TicketRedeemed

	again, _ := m.GetGroup(ctx, "g1")
	if again.Tickets[0].Redeemed() {
		t.Error("mutating a returned group changed the store")
	}
}

type slowStore struct{ remote.Store }

func (slowStore) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	s := remote.WithTimeout(slowStore{remote.NewMemoryStore()}, 20*time.Millisecond)

	err := s.Ping(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Ping err = %v, want DeadlineExceeded", err)
	}
}
