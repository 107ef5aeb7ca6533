package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/checkin/internal/checkin"
	"github.com/playperu/checkin/internal/snapshot"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse maps each dependency to its check result.
type HealthResponse map[string]struct {
	Status string `json:"status"`
}

type guestPath struct {
	ID string `path:"id"`
}

type ticketPath struct {
	Code string `path:"code"`
}

type ticketQRRequest struct {
	Code string `path:"code"`
	Size int    `query:"size" description:"Image edge in pixels, clamped to 64..1024."`
}

type guestSearchRequest struct {
	Q     string `query:"q" description:"Matches contact, phone, table label, holder name or ticket code."`
	Limit int    `query:"limit"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Check-in API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Offline-first event check-in engine for a single scanning device.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Reports the local database and the remote store. An unreachable remote store does not fail the check.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// POST /api/scan
	postScan, _ := r.NewOperationContext(http.MethodPost, "/api/scan")
	postScan.SetSummary("Scan a ticket")
	postScan.SetDescription("Processes one decoded QR payload against the local snapshot. Works offline.")
	postScan.AddReqStructure(ScanRequest{})
	postScan.AddRespStructure(checkin.ScanOutcome{}, openapi.WithHTTPStatus(http.StatusOK))
	postScan.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postScan.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusInternalServerError))
	_ = r.AddOperation(postScan)

	// GET /api/scan/ws
	getScanWS, _ := r.NewOperationContext(http.MethodGet, "/api/scan/ws")
	getScanWS.SetSummary("Scanner feed")
	getScanWS.SetDescription("WebSocket: every text frame is one scan payload, answered with its outcome.")
	getScanWS.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	_ = r.AddOperation(getScanWS)

	// POST /api/snapshot/refresh
	postRefresh, _ := r.NewOperationContext(http.MethodPost, "/api/snapshot/refresh")
	postRefresh.SetSummary("Refresh snapshot")
	postRefresh.SetDescription("Downloads the full guest list and replaces the local snapshot. Unsynced local redemptions are kept.")
	postRefresh.AddRespStructure(snapshot.Result{}, openapi.WithHTTPStatus(http.StatusOK))
	postRefresh.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadGateway))
	_ = r.AddOperation(postRefresh)

	// POST /api/sync
	postSync, _ := r.NewOperationContext(http.MethodPost, "/api/sync")
	postSync.SetSummary("Sync pending scans")
	postSync.SetDescription("Pushes queued redemptions to the remote store. Skipped while offline or already syncing.")
	postSync.AddRespStructure(SyncResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postSync.AddRespStructure(SyncResponse{}, openapi.WithHTTPStatus(http.StatusBadGateway))
	_ = r.AddOperation(postSync)

	// GET /api/status
	getStatus, _ := r.NewOperationContext(http.MethodGet, "/api/status")
	getStatus.SetSummary("Sync status")
	getStatus.AddRespStructure(checkin.SyncStatus{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getStatus)

	// PUT /api/connectivity
	putConn, _ := r.NewOperationContext(http.MethodPut, "/api/connectivity")
	putConn.SetSummary("Report connectivity")
	putConn.SetDescription("Feeds the platform's online/offline signal. Going online triggers a sync.")
	putConn.AddReqStructure(ConnectivityRequest{})
	putConn.AddRespStructure(checkin.SyncStatus{}, openapi.WithHTTPStatus(http.StatusOK))
	putConn.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(putConn)

	// GET /api/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/events")
	getEvents.SetSummary("Event stream")
	getEvents.SetDescription("Server-Sent Events: status changes and redemptions.")
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getEvents)

	// GET /api/guests
	getGuests, _ := r.NewOperationContext(http.MethodGet, "/api/guests")
	getGuests.SetSummary("Search guests")
	getGuests.AddReqStructure(guestSearchRequest{})
	getGuests.AddRespStructure([]checkin.GuestGroup{}, openapi.WithHTTPStatus(http.StatusOK))
	getGuests.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(getGuests)

	// GET /api/guests/{id}
	getGuest, _ := r.NewOperationContext(http.MethodGet, "/api/guests/{id}")
	getGuest.SetSummary("Get guest group")
	getGuest.AddReqStructure(guestPath{})
	getGuest.AddRespStructure(checkin.GuestGroup{}, openapi.WithHTTPStatus(http.StatusOK))
	getGuest.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getGuest)

	// GET /api/stats
	getStats, _ := r.NewOperationContext(http.MethodGet, "/api/stats")
	getStats.SetSummary("Snapshot totals")
	getStats.AddRespStructure(checkin.Stats{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getStats)

	// GET /api/tickets/{code}
	getTicket, _ := r.NewOperationContext(http.MethodGet, "/api/tickets/{code}")
	getTicket.SetSummary("Look up ticket")
	getTicket.AddReqStructure(ticketPath{})
	getTicket.AddRespStructure(TicketResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getTicket.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getTicket)

	// GET /api/tickets/{code}/qr
	getQR, _ := r.NewOperationContext(http.MethodGet, "/api/tickets/{code}/qr")
	getQR.SetSummary("Ticket QR code")
	getQR.SetDescription("PNG QR code carrying the ticket code.")
	getQR.AddReqStructure(ticketQRRequest{})
	getQR.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK), openapi.WithContentType("image/png"))
	getQR.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getQR)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
