package checkin_test

import (
	"errors"
	"testing"
	"time"

	"github.com/playperu/checkin/internal/checkin"
)

func TestParseTicketCode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "bare", raw: "A001", want: "A001"},
		{name: "surrounding whitespace", raw: "  A001\n", want: "A001"},
		{name: "dashes and dots", raw: "EV-2025.A_001", want: "EV-2025.A_001"},
		{name: "url code param", raw: "https://tickets.example.org/c?code=A001", want: "A001"},
		{name: "url t param", raw: "https://tickets.example.org/c?t=B-17", want: "B-17"},
		{name: "url path segment", raw: "https://tickets.example.org/t/A001", want: "A001"},
		{name: "json ticketCode", raw: `{"ticketCode":"A001"}`, want: "A001"},
		{name: "json code", raw: `{"code":"A002","v":1}`, want: "A002"},
		{name: "empty", raw: "", wantErr: true},
		{name: "blank", raw: "   ", wantErr: true},
		{name: "spaces inside", raw: "A 001", wantErr: true},
		{name: "leading dash", raw: "-A001", wantErr: true},
		{name: "too long", raw: "A123456789012345678901234567890123456789012345678901234567890123456789", wantErr: true},
		{name: "broken json", raw: `{"ticketCode":`, wantErr: true},
		{name: "json without code", raw: `{"id":"x"}`, wantErr: true},
		{name: "url without code", raw: "https://tickets.example.org/", wantErr: true},
		{name: "pipe payload", raw: "ev|A001|sig", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checkin.ParseTicketCode(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, checkin.ErrInvalidCode) {
					t.Fatalf("ParseTicketCode(%q) err = %v, want ErrInvalidCode", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTicketCode(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseTicketCode(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTicketRedeemIsMonotonic(t *testing.T) {
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tk := checkin.Ticket{ID: "t1", TicketCode: "A001", Status: checkin.TicketPending}

	if !tk.Redeem(first, "dev-a") {
		t.Fatal("first redeem should apply")
	}
	if tk.Redeem(first.Add(time.Hour), "dev-b") {
		t.Fatal("second redeem should not apply")
	}
	if !tk.RedeemedAt.Equal(first) {
		t.Errorf("redeemedAt = %v, want %v", tk.RedeemedAt, first)
	}
	if tk.RedeemedBy != "dev-a" {
		t.Errorf("redeemedBy = %q, want dev-a", tk.RedeemedBy)
	}
}

func TestCloneIsDeep(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := checkin.GuestGroup{ID: "g1", Tickets: []checkin.Ticket{
		{ID: "t1", TicketCode: "A001", Status: checkin.TicketRedeemed, RedeemedAt: &at},
	}}

	c := g.Clone()
	c.Tickets[0].HolderName = "changed"
	*c.Tickets[0].RedeemedAt = at.Add(time.Hour)

	if g.Tickets[0].HolderName == "changed" {
		t.Error("clone shares ticket slice")
	}
	if !g.Tickets[0].RedeemedAt.Equal(at) {
		t.Error("clone shares redeemedAt pointer")
	}
	if i := g.TicketByCode("A001"); i != 0 {
		t.Errorf("TicketByCode = %d, want 0", i)
	}
	if i := g.TicketByCode("nope"); i != -1 {
		t.Errorf("TicketByCode = %d, want -1", i)
	}
}
