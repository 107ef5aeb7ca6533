package remote

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/playperu/checkin/internal/checkin"
)

func TestGroupDocRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 2, 9, 0, 0, 123_456_789, time.UTC)
	g := checkin.GuestGroup{
		ID:                 "g1",
		PrimaryContactName: "Rosa Quispe",
		Tickets: []checkin.Ticket{
			{ID: "t1", TicketCode: "A001", Status: checkin.TicketPending},
			{ID: "t2", TicketCode: "A002", Status: checkin.TicketPending},
		},
	}
	g.Tickets[0].Redeem(at, "dev-a")

	data, err := bson.Marshal(docFromGroup(g))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var d groupDoc
	if err := bson.Unmarshal(data, &d); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got := d.group()

	if got.ID != "g1" || len(got.Tickets) != 2 {
		t.Fatalf("group = %+v", got)
	}
	tk := got.Tickets[0]
	if !tk.Redeemed() || tk.RedeemedBy != "dev-a" {
		t.Errorf("A001 = %+v, want redeemed by dev-a", tk)
	}
	// BSON datetimes keep milliseconds only.
	if want := at.Truncate(time.Millisecond); !tk.RedeemedAt.Equal(want) {
		t.Errorf("redeemedAt = %v, want %v", tk.RedeemedAt, want)
	}
	if got.Tickets[1].Status != checkin.TicketPending || got.Tickets[1].RedeemedAt != nil {
		t.Errorf("A002 = %+v, want pending", got.Tickets[1])
	}
}

func TestGroupDocDefaultsStatus(t *testing.T) {
	d := groupDoc{ID: "g1", Tickets: []ticketDoc{{ID: "t1", TicketCode: "A001"}}}
	if s := d.group().Tickets[0].Status; s != checkin.TicketPending {
		t.Errorf("status = %q, want pending", s)
	}
}
