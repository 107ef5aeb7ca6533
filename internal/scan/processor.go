// Package scan turns decoded QR payloads into check-in outcomes against the
// local snapshot. It never talks to the remote store, so a scan succeeds
// the same way online and offline.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playperu/checkin/internal/checkin"
	"github.com/playperu/checkin/internal/localstore"
)

// Processor handles scans one at a time, in arrival order.
type Processor struct {
	local    *localstore.Store
	deviceID string
	logger   *slog.Logger
	now      func() time.Time
	onRedeem func(checkin.ScanOutcome)
}

func NewProcessor(logger *slog.Logger, local *localstore.Store, deviceID string) *Processor {
	return &Processor{local: local, deviceID: deviceID, logger: logger, now: time.Now}
}

// OnRedeem registers fn to be called after every Redeemed outcome.
func (p *Processor) OnRedeem(fn func(checkin.ScanOutcome)) { p.onRedeem = fn }

// HandleScan validates raw and, for a pending ticket, commits the local
// redemption together with its queue entry. An error means the scan did not
// register and the operator has to scan again.
func (p *Processor) HandleScan(ctx context.Context, raw string) (checkin.ScanOutcome, error) {
	code, err := checkin.ParseTicketCode(raw)
	if err != nil {
		p.logger.Info("scan rejected", "reason", "invalid_format")
		return checkin.ScanOutcome{Kind: checkin.OutcomeInvalidFormat}, nil
	}

	res, err := p.local.Redeem(ctx, code, p.now(), p.deviceID)
	if errors.Is(err, checkin.ErrNotFound) {
		p.logger.Info("scan rejected", "reason", "not_found", "ticket_code", code)
		return checkin.ScanOutcome{Kind: checkin.OutcomeNotFound, Code: code}, nil
	}
	if err != nil {
		p.logger.Error("scan not registered", "ticket_code", code, "error", err)
		return checkin.ScanOutcome{}, fmt.Errorf("recording scan %q: %w", code, err)
	}

	out := checkin.ScanOutcome{
		Kind:       checkin.OutcomeAlreadyRedeemed,
		Code:       code,
		Ticket:     &res.Ticket,
		Group:      &res.Group,
		RedeemedAt: res.Ticket.RedeemedAt,
	}
	if res.Applied {
		out.Kind = checkin.OutcomeRedeemed
	}

	p.logger.Info("scan processed",
		"ticket_code", code,
		"group_id", res.Group.ID,
		"outcome", out.Kind,
	)
	if res.Applied && p.onRedeem != nil {
		p.onRedeem(out)
	}
	return out, nil
}
