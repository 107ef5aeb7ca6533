package server

import (
	"context"
	"net/http"

	"github.com/playperu/checkin/internal/reconcile"
)

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := a.loader.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "snapshot refresh failed, previous snapshot kept")
		return
	}
	a.reconciler.EmitStatus(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, res)
}

type SyncResponse struct {
	reconcile.Result
	Error string `json:"error,omitempty"`
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := a.reconciler.SyncPending(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, SyncResponse{Result: res, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Result: res})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.reconciler.Status(r.Context())
	if err != nil {
		a.logger.Error("reading status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type ConnectivityRequest struct {
	Online *bool `json:"online"`
}

// handleConnectivity takes the platform's network signal.
func (a *API) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if err := readJSON(w, r, &req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}
	a.monitor.Set(*req.Online)
	a.handleStatus(w, r)
}
