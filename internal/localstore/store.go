// Package localstore is the device-local durable state of the check-in
// engine: the guest snapshot with its ticket-code index, the pending-scan
// queue, and sync metadata. All three live in one libSQL database so a
// redemption and its queue entry commit in the same transaction.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playperu/checkin/internal/checkin"
)

// Store serializes every write behind a single mutex; reads go straight to
// the database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping reports whether the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// withTx runs fn in a write transaction while holding the writer lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getGroup(ctx context.Context, q queryer, id string) (checkin.GuestGroup, error) {
	var data string
	err := q.QueryRowContext(ctx,
		`SELECT json(data) FROM guests WHERE id = ?`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return checkin.GuestGroup{}, checkin.ErrNotFound
	}
	if err != nil {
		return checkin.GuestGroup{}, err
	}
	var g checkin.GuestGroup
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return checkin.GuestGroup{}, fmt.Errorf("decoding group %q: %w", id, err)
	}
	return g, nil
}

func allGroups(ctx context.Context, q queryer) ([]checkin.GuestGroup, error) {
	rows, err := q.QueryContext(ctx, `SELECT json(data) FROM guests ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []checkin.GuestGroup
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var g checkin.GuestGroup
		if err := json.Unmarshal([]byte(data), &g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func saveGroupDoc(ctx context.Context, tx *sql.Tx, g checkin.GuestGroup) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO guests (id, data) VALUES (?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		g.ID, string(data),
	)
	return err
}

// putGroup writes the group document and rebuilds its slice of the ticket
// index. Tickets listed in keep stay redeemed whatever g says.
func putGroup(ctx context.Context, tx *sql.Tx, g checkin.GuestGroup, keep redemptions) error {
	if g.ID == "" {
		return errors.New("group id is empty")
	}
	g = keep.overlay(g)

	if err := saveGroupDoc(ctx, tx, g); err != nil {
		return fmt.Errorf("saving group %q: %w", g.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ticket_index WHERE group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("clearing index for %q: %w", g.ID, err)
	}
	for _, t := range g.Tickets {
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT group_id FROM ticket_index WHERE ticket_code = ?`, t.TicketCode,
		).Scan(&owner)
		if err == nil {
			return fmt.Errorf("ticket code %q already belongs to group %q", t.TicketCode, owner)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ticket_index (ticket_code, group_id, ticket_id) VALUES (?, ?, ?)`,
			t.TicketCode, g.ID, t.ID,
		); err != nil {
			return fmt.Errorf("indexing ticket %q: %w", t.TicketCode, err)
		}
	}
	return nil
}

type redemption struct {
	at time.Time
	by string
}

// redemptions maps ticket codes to redemptions the device already knows
// about. A ticket never goes back from redeemed to pending locally, so any
// group written over the snapshot is overlaid with them first.
type redemptions map[string]redemption

func (r redemptions) addGroups(groups []checkin.GuestGroup) {
	for _, g := range groups {
		for _, t := range g.Tickets {
			if t.Redeemed() && t.RedeemedAt != nil {
				r[t.TicketCode] = redemption{at: *t.RedeemedAt, by: t.RedeemedBy}
			}
		}
	}
}

func (r redemptions) addPending(ctx context.Context, q queryer) error {
	pending, err := unsyncedByCode(ctx, q)
	if err != nil {
		return err
	}
	for code, p := range pending {
		if _, ok := r[code]; !ok {
			r[code] = redemption{at: p.ScannedAt, by: p.DeviceID}
		}
	}
	return nil
}

// overlay redeems the pending tickets of g that r knows as redeemed.
// Tickets g already carries as redeemed keep their own record.
func (r redemptions) overlay(g checkin.GuestGroup) checkin.GuestGroup {
	if len(r) == 0 {
		return g
	}
	g = g.Clone()
	for i := range g.Tickets {
		if x, ok := r[g.Tickets[i].TicketCode]; ok {
			g.Tickets[i].Redeem(x.at, x.by)
		}
	}
	return g
}

// groupRedemptions collects the local redemptions covering g's tickets: the
// stored copy of g, any group currently owning one of its codes, and the
// unsynced queue.
func groupRedemptions(ctx context.Context, tx *sql.Tx, g checkin.GuestGroup) (redemptions, error) {
	owners := map[string]bool{g.ID: true}
	for _, t := range g.Tickets {
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT group_id FROM ticket_index WHERE ticket_code = ?`, t.TicketCode,
		).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		owners[owner] = true
	}

	keep := make(redemptions)
	for id := range owners {
		stored, err := getGroup(ctx, tx, id)
		if errors.Is(err, checkin.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keep.addGroups([]checkin.GuestGroup{stored})
	}
	if err := keep.addPending(ctx, tx); err != nil {
		return nil, err
	}
	return keep, nil
}

// Put stores or replaces one group.
func (s *Store) Put(ctx context.Context, g checkin.GuestGroup) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		keep, err := groupRedemptions(ctx, tx, g)
		if err != nil {
			return err
		}
		return putGroup(ctx, tx, g, keep)
	})
}

// ReplaceAll swaps the whole snapshot for groups in one transaction. On any
// error the previous snapshot is left untouched. Tickets redeemed locally
// stay redeemed even when groups predates the redemption.
func (s *Store) ReplaceAll(ctx context.Context, groups []checkin.GuestGroup) error {
	seen := make(map[string]string)
	for _, g := range groups {
		for _, t := range g.Tickets {
			if other, ok := seen[t.TicketCode]; ok {
				return fmt.Errorf("ticket code %q appears in groups %q and %q", t.TicketCode, other, g.ID)
			}
			seen[t.TicketCode] = g.ID
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := allGroups(ctx, tx)
		if err != nil {
			return fmt.Errorf("loading current snapshot: %w", err)
		}
		keep := make(redemptions)
		keep.addGroups(current)
		if err := keep.addPending(ctx, tx); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM ticket_index`); err != nil {
			return fmt.Errorf("clearing ticket index: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM guests`); err != nil {
			return fmt.Errorf("clearing guests: %w", err)
		}
		for _, g := range groups {
			if err := putGroup(ctx, tx, g, keep); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetAll(ctx context.Context) ([]checkin.GuestGroup, error) {
	return allGroups(ctx, s.db)
}

func (s *Store) Get(ctx context.Context, id string) (checkin.GuestGroup, error) {
	return getGroup(ctx, s.db, id)
}

// GroupIDForCode resolves a ticket code through the index.
func (s *Store) GroupIDForCode(ctx context.Context, code string) (string, error) {
	var groupID string
	err := s.db.QueryRowContext(ctx,
		`SELECT group_id FROM ticket_index WHERE ticket_code = ?`, code,
	).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", checkin.ErrNotFound
	}
	return groupID, err
}

func (s *Store) FindByTicketCode(ctx context.Context, code string) (checkin.GuestGroup, checkin.Ticket, error) {
	groupID, err := s.GroupIDForCode(ctx, code)
	if err != nil {
		return checkin.GuestGroup{}, checkin.Ticket{}, err
	}
	g, err := s.Get(ctx, groupID)
	if err != nil {
		return checkin.GuestGroup{}, checkin.Ticket{}, err
	}
	i := g.TicketByCode(code)
	if i < 0 {
		return checkin.GuestGroup{}, checkin.Ticket{}, checkin.ErrNotFound
	}
	return g, g.Tickets[i], nil
}

// Redemption is the result of Redeem. Applied is false when the ticket was
// already redeemed in the local snapshot.
type Redemption struct {
	Group   checkin.GuestGroup
	Ticket  checkin.Ticket
	Applied bool
}

// Redeem marks the ticket redeemed and enqueues its pending scan in one
// transaction. An existing queue entry for the code is kept as is.
func (s *Store) Redeem(ctx context.Context, code string, at time.Time, deviceID string) (Redemption, error) {
	var res Redemption
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var groupID string
		err := tx.QueryRowContext(ctx,
			`SELECT group_id FROM ticket_index WHERE ticket_code = ?`, code,
		).Scan(&groupID)
		if errors.Is(err, sql.ErrNoRows) {
			return checkin.ErrNotFound
		}
		if err != nil {
			return err
		}

		g, err := getGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		i := g.TicketByCode(code)
		if i < 0 {
			return checkin.ErrNotFound
		}

		if !g.Tickets[i].Redeem(at, deviceID) {
			res = Redemption{Group: g, Ticket: g.Tickets[i]}
			return nil
		}
		if err := saveGroupDoc(ctx, tx, g); err != nil {
			return fmt.Errorf("saving group %q: %w", g.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_scans (ticket_code, group_id, scanned_at, device_id, synced)
			 VALUES (?, ?, ?, ?, 0)
			 ON CONFLICT(ticket_code) DO NOTHING`,
			code, g.ID, toNanos(at), deviceID,
		); err != nil {
			return fmt.Errorf("enqueuing scan %q: %w", code, err)
		}
		res = Redemption{Group: g, Ticket: g.Tickets[i], Applied: true}
		return nil
	})
	return res, err
}

// Timestamps are stored as unix nanoseconds so they sort numerically and
// round-trip exactly, whatever text form the driver would give them.
func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
