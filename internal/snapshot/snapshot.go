// Package snapshot downloads the full guest list from the remote store into
// the local store.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/playperu/checkin/internal/checkin"
	"github.com/playperu/checkin/internal/localstore"
	"github.com/playperu/checkin/internal/remote"
)

type Result struct {
	Groups  int       `json:"groups"`
	Tickets int       `json:"tickets"`
	At      time.Time `json:"at"`
}

type Loader struct {
	remote remote.Store
	local  *localstore.Store
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

func NewLoader(logger *slog.Logger, rs remote.Store, local *localstore.Store) *Loader {
	return &Loader{remote: rs, local: local, logger: logger, now: time.Now}
}

// Refresh replaces the local snapshot with the remote one. The whole remote
// list is fetched before anything local is touched, and the swap is a
// single transaction, so a failure leaves the previous snapshot intact.
// Concurrent callers share one in-flight refresh.
func (l *Loader) Refresh(ctx context.Context) (Result, error) {
	v, err, shared := l.group.Do("refresh", func() (any, error) {
		return l.refresh(ctx)
	})
	if shared {
		l.logger.Debug("joined in-flight snapshot refresh")
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (l *Loader) refresh(ctx context.Context) (Result, error) {
	start := l.now()

	groups, err := l.remote.ListGroups(ctx)
	if err != nil {
		l.logger.Warn("snapshot download failed", "error", err)
		return Result{}, fmt.Errorf("downloading snapshot: %w", err)
	}

	if err := l.local.ReplaceAll(ctx, groups); err != nil {
		l.logger.Error("snapshot store failed", "error", err)
		return Result{}, fmt.Errorf("storing snapshot: %w", err)
	}

	res := Result{Groups: len(groups), Tickets: countTickets(groups), At: l.now()}
	if err := l.local.SetLastSnapshotTime(ctx, res.At); err != nil {
		l.logger.Warn("recording snapshot time failed", "error", err)
	}

	l.logger.Info("snapshot refreshed",
		"groups", res.Groups,
		"tickets", res.Tickets,
		"duration_ms", res.At.Sub(start).Milliseconds(),
	)
	return res, nil
}

func countTickets(groups []checkin.GuestGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Tickets)
	}
	return n
}
