package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/checkin/internal/checkin"
)

const (
	metaDeviceID     = "device_id"
	metaLastSync     = "last_sync_time"
	metaLastSnapshot = "last_snapshot_time"
)

func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", checkin.ErrNotFound
	}
	return v, err
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sync_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		)
		return err
	})
}

func (s *Store) metaTime(ctx context.Context, key string) (*time.Time, error) {
	v, err := s.Meta(ctx, key)
	if errors.Is(err, checkin.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	t := fromNanos(n)
	return &t, nil
}

// LastSyncTime is nil until the first successful sync run.
func (s *Store) LastSyncTime(ctx context.Context) (*time.Time, error) {
	return s.metaTime(ctx, metaLastSync)
}

func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return s.SetMeta(ctx, metaLastSync, strconv.FormatInt(toNanos(t), 10))
}

func (s *Store) LastSnapshotTime(ctx context.Context) (*time.Time, error) {
	return s.metaTime(ctx, metaLastSnapshot)
}

func (s *Store) SetLastSnapshotTime(ctx context.Context, t time.Time) error {
	return s.SetMeta(ctx, metaLastSnapshot, strconv.FormatInt(toNanos(t), 10))
}

// DeviceID returns the persisted device identity. If none is stored yet,
// configured is persisted, or a fresh UUID when configured is empty.
func (s *Store) DeviceID(ctx context.Context, configured string) (string, error) {
	id, err := s.Meta(ctx, metaDeviceID)
	if err == nil && (configured == "" || configured == id) {
		return id, nil
	}
	if err != nil && !errors.Is(err, checkin.ErrNotFound) {
		return "", err
	}

	id = configured
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.SetMeta(ctx, metaDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}
