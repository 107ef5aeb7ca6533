package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/playperu/checkin/internal/checkin"
)

func scanPending(rows *sql.Rows) ([]checkin.PendingScan, error) {
	defer rows.Close()

	var out []checkin.PendingScan
	for rows.Next() {
		var (
			p         checkin.PendingScan
			scannedAt int64
			synced    int
		)
		if err := rows.Scan(&p.TicketCode, &p.GroupID, &scannedAt, &p.DeviceID, &synced); err != nil {
			return nil, err
		}
		p.ScannedAt = fromNanos(scannedAt)
		p.Synced = synced != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

func unsyncedByCode(ctx context.Context, q queryer) (map[string]checkin.PendingScan, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT ticket_code, group_id, scanned_at, device_id, synced
		 FROM pending_scans WHERE synced = 0`,
	)
	if err != nil {
		return nil, fmt.Errorf("loading pending scans: %w", err)
	}
	list, err := scanPending(rows)
	if err != nil {
		return nil, err
	}
	m := make(map[string]checkin.PendingScan, len(list))
	for _, p := range list {
		m[p.TicketCode] = p
	}
	return m, nil
}

// ListPending returns unsynced scans in scan order.
func (s *Store) ListPending(ctx context.Context) ([]checkin.PendingScan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticket_code, group_id, scanned_at, device_id, synced
		 FROM pending_scans WHERE synced = 0
		 ORDER BY scanned_at, ticket_code`,
	)
	if err != nil {
		return nil, err
	}
	return scanPending(rows)
}

func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_scans WHERE synced = 0`,
	).Scan(&n)
	return n, err
}

// CompleteSync acknowledges codes as synced, drops them from the queue and
// re-caches g, all in one transaction.
func (s *Store) CompleteSync(ctx context.Context, g checkin.GuestGroup, codes []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ack(ctx, tx, codes); err != nil {
			return err
		}
		keep, err := groupRedemptions(ctx, tx, g)
		if err != nil {
			return err
		}
		return putGroup(ctx, tx, g, keep)
	})
}

// Ack marks codes synced and removes them from the queue.
func (s *Store) Ack(ctx context.Context, codes []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return ack(ctx, tx, codes)
	})
}

func ack(ctx context.Context, tx *sql.Tx, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(codes)), ",")
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pending_scans SET synced = 1 WHERE ticket_code IN (`+placeholders+`)`, args...,
	); err != nil {
		return fmt.Errorf("marking scans synced: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_scans WHERE synced = 1`); err != nil {
		return fmt.Errorf("removing synced scans: %w", err)
	}
	return nil
}
