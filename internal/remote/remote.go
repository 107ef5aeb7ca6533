// Package remote is the authoritative guest store shared by every scanning
// device. Backends implement per-ticket compare-and-swap redemption so two
// devices syncing the same group never overwrite each other.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/playperu/checkin/internal/checkin"
)

// ErrConflict is returned when a conditional write kept losing to
// concurrent writers.
var ErrConflict = errors.New("remote write conflict")

type Store interface {
	ListGroups(ctx context.Context) ([]checkin.GuestGroup, error)
	// GetGroup returns checkin.ErrNotFound for an unknown id.
	GetGroup(ctx context.Context, id string) (checkin.GuestGroup, error)
	// RedeemTicket moves the ticket from pending to redeemed only if it is
	// still pending. applied is false when it was already redeemed.
	RedeemTicket(ctx context.Context, groupID, code string, at time.Time, by string) (applied bool, err error)
	Ping(ctx context.Context) error
}

// Seeder is implemented by backends that accept whole group documents.
type Seeder interface {
	PutGroup(ctx context.Context, g checkin.GuestGroup) error
}

// WithTimeout bounds every call on s by d.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return timeoutStore{next: s, d: d}
}

type timeoutStore struct {
	next Store
	d    time.Duration
}

func (t timeoutStore) ListGroups(ctx context.Context) ([]checkin.GuestGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.ListGroups(ctx)
}

func (t timeoutStore) GetGroup(ctx context.Context, id string) (checkin.GuestGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.GetGroup(ctx, id)
}

func (t timeoutStore) RedeemTicket(ctx context.Context, groupID, code string, at time.Time, by string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.RedeemTicket(ctx, groupID, code, at, by)
}

func (t timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Ping(ctx)
}
