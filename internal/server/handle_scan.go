package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type ScanRequest struct {
	Raw string `json:"raw"`
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := a.processor.HandleScan(r.Context(), req.Raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "scan not registered, scan again")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleScanWS serves a scanner connection: every text frame is one raw
// payload and is answered with its outcome, in order.
func (a *API) handleScanWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Hour)
	defer cancel()

	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			a.logger.Debug("scanner connection ended", "error", err)
			return
		}
		if typ != websocket.MessageText {
			if err := wsjson.Write(ctx, conn, ErrorResponse{Error: "text frames only"}); err != nil {
				return
			}
			continue
		}

		var reply any
		out, err := a.processor.HandleScan(ctx, string(msg))
		if err != nil {
			reply = ErrorResponse{Error: "scan not registered, scan again"}
		} else {
			reply = out
		}
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			a.logger.Debug("scanner write failed", "error", err)
			return
		}
	}
}
