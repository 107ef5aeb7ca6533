// Package checkin defines the core domain types of the offline check-in
// engine. It imports nothing outside the standard library.
package checkin

import (
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidCode = errors.New("invalid ticket code")
)

type TicketStatus string

const (
	TicketPending  TicketStatus = "pending"
	TicketRedeemed TicketStatus = "redeemed"
)

// GuestGroup is one registration unit. Ticket codes are unique across all
// groups, not only within one.
type GuestGroup struct {
	ID                 string   `json:"id" yaml:"id"`
	PrimaryContactName string   `json:"primaryContactName" yaml:"primaryContactName"`
	ContactPhone       string   `json:"contactPhone" yaml:"contactPhone"`
	TableOrZoneLabel   string   `json:"tableOrZoneLabel,omitempty" yaml:"tableOrZoneLabel"`
	Tickets            []Ticket `json:"tickets" yaml:"tickets"`
}

type Ticket struct {
	ID         string       `json:"id" yaml:"id"`
	TicketCode string       `json:"ticketCode" yaml:"ticketCode"`
	HolderName string       `json:"holderName" yaml:"holderName"`
	Category   string       `json:"category,omitempty" yaml:"category"`
	Status     TicketStatus `json:"status" yaml:"status"`
	RedeemedAt *time.Time   `json:"redeemedAt,omitempty" yaml:"redeemedAt"`
	RedeemedBy string       `json:"redeemedBy,omitempty" yaml:"redeemedBy"`
}

func (t Ticket) Redeemed() bool { return t.Status == TicketRedeemed }

// Redeem transitions a pending ticket. It reports false and leaves the
// ticket untouched when it was already redeemed.
func (t *Ticket) Redeem(at time.Time, by string) bool {
	if t.Redeemed() {
		return false
	}
	at = at.UTC()
	t.Status = TicketRedeemed
	t.RedeemedAt = &at
	t.RedeemedBy = by
	return true
}

// TicketByCode returns the index of the ticket carrying code, or -1.
func (g *GuestGroup) TicketByCode(code string) int {
	for i := range g.Tickets {
		if g.Tickets[i].TicketCode == code {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate tickets freely.
func (g GuestGroup) Clone() GuestGroup {
	c := g
	c.Tickets = make([]Ticket, len(g.Tickets))
	for i, t := range g.Tickets {
		if t.RedeemedAt != nil {
			at := *t.RedeemedAt
			t.RedeemedAt = &at
		}
		c.Tickets[i] = t
	}
	return c
}

// PendingScan is a local redemption that the remote store has not yet
// confirmed.
type PendingScan struct {
	TicketCode string    `json:"ticketCode"`
	GroupID    string    `json:"groupId"`
	ScannedAt  time.Time `json:"scannedAt"`
	DeviceID   string    `json:"deviceId"`
	Synced     bool      `json:"synced"`
}

type OutcomeKind string

const (
	OutcomeInvalidFormat   OutcomeKind = "invalid_format"
	OutcomeNotFound        OutcomeKind = "not_found"
	OutcomeAlreadyRedeemed OutcomeKind = "already_redeemed"
	OutcomeRedeemed        OutcomeKind = "redeemed"
)

// ScanOutcome is what the operator is shown after a scan. Ticket and Group
// are set for AlreadyRedeemed and Redeemed; RedeemedAt for both as well.
type ScanOutcome struct {
	Kind       OutcomeKind `json:"kind"`
	Code       string      `json:"code,omitempty"`
	Ticket     *Ticket     `json:"ticket,omitempty"`
	Group      *GuestGroup `json:"group,omitempty"`
	RedeemedAt *time.Time  `json:"redeemedAt,omitempty"`
}

type SyncStatus struct {
	PendingCount int        `json:"pendingCount"`
	LastSyncTime *time.Time `json:"lastSyncTime"`
	IsSyncing    bool       `json:"isSyncing"`
	IsOffline    bool       `json:"isOffline"`
}

type Stats struct {
	Groups   int `json:"groups"`
	Tickets  int `json:"tickets"`
	Redeemed int `json:"redeemed"`
}
