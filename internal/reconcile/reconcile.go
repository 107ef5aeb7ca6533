// Package reconcile pushes locally recorded redemptions to the remote store.
//
// Each run reads the unsynced queue, groups it by guest group, re-reads every
// affected group from the remote store and redeems the queued tickets that
// are still pending there. A ticket already redeemed remotely (by another
// device) is left as is and its queue entry counts as synced. Queue entries
// are removed only after the whole group went through; anything else is
// retried on the next run.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/playperu/checkin/internal/checkin"
	"github.com/playperu/checkin/internal/localstore"
	"github.com/playperu/checkin/internal/notify"
	"github.com/playperu/checkin/internal/remote"
)

// Monitor reports connectivity and announces reconnects.
type Monitor interface {
	Online() bool
	OnOnline(fn func())
}

const (
	SkippedOffline = "offline"
	SkippedBusy    = "busy"
)

type Result struct {
	Skipped         string `json:"skipped,omitempty"`
	Pending         int    `json:"pending"`
	Synced          int    `json:"synced"`
	Applied         int    `json:"applied"`
	AlreadyRedeemed int    `json:"alreadyRedeemed"`
	Stuck           int    `json:"stuck"`
	FailedGroups    int    `json:"failedGroups"`
}

type Reconciler struct {
	local     *localstore.Store
	remote    remote.Store
	monitor   Monitor
	publisher notify.Publisher
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool
	trigger chan struct{}

	mu       sync.Mutex
	onStatus []func(checkin.SyncStatus)
}

// New wires a Reconciler and subscribes it to reconnect events. ratePerSec
// caps remote calls made during a run.
func New(logger *slog.Logger, local *localstore.Store, rs remote.Store, monitor Monitor, pub notify.Publisher, ratePerSec float64) *Reconciler {
	if pub == nil {
		pub = notify.Nop{}
	}
	burst := max(1, int(ratePerSec))
	r := &Reconciler{
		local:     local,
		remote:    rs,
		monitor:   monitor,
		publisher: pub,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), burst),
		logger:    logger,
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
	}
	monitor.OnOnline(r.Trigger)
	return r
}

// OnStatus registers fn to receive the sync status whenever a run starts
// or ends.
func (r *Reconciler) OnStatus(fn func(checkin.SyncStatus)) {
	r.mu.Lock()
	r.onStatus = append(r.onStatus, fn)
	r.mu.Unlock()
}

// Trigger asks the Run loop for an immediate sync. It never blocks.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run syncs every interval and on each Trigger until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.trigger:
		}
		res, err := r.SyncPending(ctx)
		if err != nil {
			r.logger.Warn("sync run incomplete", "failed_groups", res.FailedGroups, "error", err)
		}
	}
}

func (r *Reconciler) Status(ctx context.Context) (checkin.SyncStatus, error) {
	n, err := r.local.PendingCount(ctx)
	if err != nil {
		return checkin.SyncStatus{}, fmt.Errorf("counting pending scans: %w", err)
	}
	last, err := r.local.LastSyncTime(ctx)
	if err != nil {
		return checkin.SyncStatus{}, fmt.Errorf("reading last sync time: %w", err)
	}
	return checkin.SyncStatus{
		PendingCount: n,
		LastSyncTime: last,
		IsSyncing:    r.running.Load(),
		IsOffline:    !r.monitor.Online(),
	}, nil
}

// EmitStatus pushes the current status to OnStatus listeners.
func (r *Reconciler) EmitStatus(ctx context.Context) {
	r.mu.Lock()
	listeners := append([]func(checkin.SyncStatus){}, r.onStatus...)
	r.mu.Unlock()
	if len(listeners) == 0 {
		return
	}

	st, err := r.Status(ctx)
	if err != nil {
		r.logger.Warn("reading sync status failed", "error", err)
		return
	}
	for _, fn := range listeners {
		fn(st)
	}
}

// SyncPending runs one reconciliation pass. It is skipped while offline or
// while another pass is in progress. The returned error joins the per-group
// failures; those groups stay queued for the next pass.
func (r *Reconciler) SyncPending(ctx context.Context) (Result, error) {
	if !r.monitor.Online() {
		return Result{Skipped: SkippedOffline}, nil
	}
	if !r.running.CompareAndSwap(false, true) {
		return Result{Skipped: SkippedBusy}, nil
	}
	defer func() {
		r.running.Store(false)
		// Listeners hear that the pass ended even when ctx was cancelled.
		r.EmitStatus(context.WithoutCancel(ctx))
	}()

	pending, err := r.local.ListPending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing pending scans: %w", err)
	}
	res := Result{Pending: len(pending)}
	if len(pending) == 0 {
		return res, nil
	}
	r.EmitStatus(ctx)

	start := r.now()
	order, byGroup := r.groupScans(ctx, pending)

	var errs []error
	for _, groupID := range order {
		gr, err := r.syncGroup(ctx, groupID, byGroup[groupID])
		res.Stuck += gr.stuck
		if err != nil {
			res.FailedGroups++
			errs = append(errs, fmt.Errorf("group %q: %w", groupID, err))
			r.logger.Warn("group sync failed, will retry",
				"group_id", groupID,
				"scans", len(byGroup[groupID]),
				"error", err,
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		res.Synced += gr.synced
		res.Applied += gr.applied
		res.AlreadyRedeemed += gr.alreadyRedeemed
	}

	if len(errs) == 0 {
		if err := r.local.SetLastSyncTime(ctx, r.now()); err != nil {
			r.logger.Warn("recording sync time failed", "error", err)
		}
	}

	r.logger.Info("sync run finished",
		"pending", res.Pending,
		"synced", res.Synced,
		"applied", res.Applied,
		"already_redeemed", res.AlreadyRedeemed,
		"stuck", res.Stuck,
		"failed_groups", res.FailedGroups,
		"duration_ms", r.now().Sub(start).Milliseconds(),
	)
	return res, errors.Join(errs...)
}

// groupScans buckets scans by owning group, resolved through the local
// index and falling back to the group recorded at scan time. Groups are
// returned in order of their earliest scan.
func (r *Reconciler) groupScans(ctx context.Context, pending []checkin.PendingScan) ([]string, map[string][]checkin.PendingScan) {
	var order []string
	byGroup := make(map[string][]checkin.PendingScan)
	for _, p := range pending {
		groupID, err := r.local.GroupIDForCode(ctx, p.TicketCode)
		if err != nil {
			groupID = p.GroupID
		}
		if _, ok := byGroup[groupID]; !ok {
			order = append(order, groupID)
		}
		byGroup[groupID] = append(byGroup[groupID], p)
	}
	return order, byGroup
}

type groupResult struct {
	synced          int
	applied         int
	alreadyRedeemed int
	stuck           int
}

func (r *Reconciler) syncGroup(ctx context.Context, groupID string, scans []checkin.PendingScan) (groupResult, error) {
	var gr groupResult

	if err := r.limiter.Wait(ctx); err != nil {
		return gr, err
	}
	current, err := r.remote.GetGroup(ctx, groupID)
	if err != nil {
		return gr, fmt.Errorf("fetching remote group: %w", err)
	}

	merged := current.Clone()
	var (
		confirmed []string
		ours      []checkin.PendingScan
		lostRace  bool
	)
	for _, p := range scans {
		i := merged.TicketByCode(p.TicketCode)
		if i < 0 {
			// Needs an administrator; keep the scan queued.
			gr.stuck++
			r.logger.Warn("queued ticket missing from remote group",
				"group_id", groupID,
				"ticket_code", p.TicketCode,
			)
			continue
		}

		if t := merged.Tickets[i]; t.Redeemed() {
			confirmed = append(confirmed, p.TicketCode)
			if writtenBy(t, p) {
				// Written by an earlier pass of ours that did not finish.
				ours = append(ours, p)
			} else {
				gr.alreadyRedeemed++
			}
			continue
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return groupResult{stuck: gr.stuck}, err
		}
		applied, err := r.remote.RedeemTicket(ctx, groupID, p.TicketCode, p.ScannedAt, p.DeviceID)
		if err != nil {
			return groupResult{stuck: gr.stuck}, fmt.Errorf("redeeming %q: %w", p.TicketCode, err)
		}
		confirmed = append(confirmed, p.TicketCode)
		if applied {
			merged.Tickets[i].Redeem(p.ScannedAt, p.DeviceID)
			ours = append(ours, p)
		} else {
			gr.alreadyRedeemed++
			lostRace = true
		}
	}

	if lostRace {
		// Another device redeemed between our read and write; pick up its
		// timestamp.
		if err := r.limiter.Wait(ctx); err != nil {
			return groupResult{stuck: gr.stuck}, err
		}
		fresh, err := r.remote.GetGroup(ctx, groupID)
		if err != nil {
			return groupResult{stuck: gr.stuck}, fmt.Errorf("re-reading remote group: %w", err)
		}
		merged = fresh
	}

	if err := r.local.CompleteSync(ctx, merged, confirmed); err != nil {
		r.logger.Warn("re-caching synced group failed, acknowledging scans only",
			"group_id", groupID,
			"error", err,
		)
		if err := r.local.Ack(ctx, confirmed); err != nil {
			return groupResult{stuck: gr.stuck}, fmt.Errorf("acknowledging scans: %w", err)
		}
	}

	gr.synced = len(confirmed)
	gr.applied = len(ours)
	r.publish(ctx, groupID, ours)
	return gr, nil
}

// writtenBy reports whether t's redemption is the one p recorded. Remote
// backends may keep timestamps at millisecond precision only.
func writtenBy(t checkin.Ticket, p checkin.PendingScan) bool {
	if t.RedeemedBy != p.DeviceID || t.RedeemedAt == nil {
		return false
	}
	return t.RedeemedAt.Truncate(time.Millisecond).Equal(p.ScannedAt.Truncate(time.Millisecond))
}

func (r *Reconciler) publish(ctx context.Context, groupID string, scans []checkin.PendingScan) {
	syncedAt := r.now().UTC()
	for _, p := range scans {
		err := r.publisher.PublishRedeemed(ctx, notify.TicketRedeemed{
			TicketCode: p.TicketCode,
			GroupID:    groupID,
			DeviceID:   p.DeviceID,
			RedeemedAt: p.ScannedAt,
			SyncedAt:   syncedAt,
		})
		if err != nil {
			r.logger.Warn("publishing redemption failed", "ticket_code", p.TicketCode, "error", err)
		}
	}
}
