package server

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/checkin/internal/checkin"
	"github.com/playperu/checkin/internal/connectivity"
	"github.com/playperu/checkin/internal/localstore"
	"github.com/playperu/checkin/internal/reconcile"
	"github.com/playperu/checkin/internal/scan"
	"github.com/playperu/checkin/internal/snapshot"
)

// Deps are the engine components the API drives.
type Deps struct {
	Local      *localstore.Store
	Processor  *scan.Processor
	Loader     *snapshot.Loader
	Reconciler *reconcile.Reconciler
	Monitor    *connectivity.Monitor
}

// API is the operator-facing HTTP surface of the check-in engine.
type API struct {
	local      *localstore.Store
	processor  *scan.Processor
	loader     *snapshot.Loader
	reconciler *reconcile.Reconciler
	monitor    *connectivity.Monitor
	broker     *Broker
	logger     *slog.Logger
}

// NewAPI builds the API and subscribes its event broker to redemptions,
// sync runs and connectivity changes.
func NewAPI(logger *slog.Logger, d Deps) *API {
	a := &API{
		local:      d.Local,
		processor:  d.Processor,
		loader:     d.Loader,
		reconciler: d.Reconciler,
		monitor:    d.Monitor,
		broker:     NewBroker(),
		logger:     logger,
	}

	d.Processor.OnRedeem(func(out checkin.ScanOutcome) {
		a.broker.Publish(Event{Type: EventScan, Scan: &out})
		a.reconciler.EmitStatus(context.Background())
	})
	d.Reconciler.OnStatus(func(st checkin.SyncStatus) {
		a.broker.Publish(Event{Type: EventStatus, Status: &st})
	})
	d.Monitor.OnChange(func(bool) {
		a.reconciler.EmitStatus(context.Background())
	})
	return a
}

func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/scan", a.handleScan)
	r.Get("/scan/ws", a.handleScanWS)

	r.Post("/snapshot/refresh", a.handleRefresh)
	r.Post("/sync", a.handleSync)
	r.Get("/status", a.handleStatus)
	r.Put("/connectivity", a.handleConnectivity)
	r.Get("/events", a.handleEvents)

	r.Get("/guests", a.handleGuests)
	r.Get("/guests/{id}", a.handleGuest)
	r.Get("/stats", a.handleStats)
	r.Get("/tickets/{code}", a.handleTicket)
	r.Get("/tickets/{code}/qr", a.handleTicketQR)
	return r
}
