package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/playperu/checkin/internal/checkin"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

func (a *API) handleGuests(w http.ResponseWriter, r *http.Request) {
	limit := defaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSearchLimit)
	}

	q := r.URL.Query().Get("q")
	var (
		groups []checkin.GuestGroup
		err    error
	)
	if q == "" {
		groups, err = a.local.GetAll(r.Context())
		if len(groups) > limit {
			groups = groups[:limit]
		}
	} else {
		groups, err = a.local.Search(r.Context(), q, limit)
	}
	if err != nil {
		a.logger.Error("guest lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if groups == nil {
		groups = []checkin.GuestGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (a *API) handleGuest(w http.ResponseWriter, r *http.Request) {
	g, err := a.local.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, checkin.ErrNotFound) {
		writeError(w, http.StatusNotFound, "guest group not found")
		return
	}
	if err != nil {
		a.logger.Error("guest lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.local.Stats(r.Context())
	if err != nil {
		a.logger.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type TicketResponse struct {
	Ticket checkin.Ticket     `json:"ticket"`
	Group  checkin.GuestGroup `json:"group"`
}

func (a *API) handleTicket(w http.ResponseWriter, r *http.Request) {
	g, t, ok := a.findTicket(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, TicketResponse{Ticket: t, Group: g})
}

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// handleTicketQR renders the ticket code as a PNG, for reprinting a lost
// ticket at the door.
func (a *API) handleTicketQR(w http.ResponseWriter, r *http.Request) {
	_, t, ok := a.findTicket(w, r)
	if !ok {
		return
	}

	size := defaultQRSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "size must be an integer")
			return
		}
		size = max(minQRSize, min(n, maxQRSize))
	}

	png, err := qrcode.Encode(t.TicketCode, qrcode.Medium, size)
	if err != nil {
		a.logger.Error("qr encode failed", "ticket_code", t.TicketCode, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (a *API) findTicket(w http.ResponseWriter, r *http.Request) (checkin.GuestGroup, checkin.Ticket, bool) {
	g, t, err := a.local.FindByTicketCode(r.Context(), chi.URLParam(r, "code"))
	if errors.Is(err, checkin.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ticket not found")
		return g, t, false
	}
	if err != nil {
		a.logger.Error("ticket lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return g, t, false
	}
	return g, t, true
}
