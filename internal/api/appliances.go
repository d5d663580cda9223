package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/echonet-heatercooler/internal/accessory"
	"github.com/nerrad567/echonet-heatercooler/internal/platform"
)

// applianceResponse is an appliance as the API shows it: its current state
// plus what discovery learned about the unit.
type applianceResponse struct {
	accessory.StateView

	Address      string    `json:"address"`
	Object       string    `json:"object"`
	MakerCode    string    `json:"maker_code,omitempty"`
	ProductCode  string    `json:"product_code,omitempty"`
	SerialNumber string    `json:"serial_number,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
}

func newApplianceResponse(e platform.Entry, now time.Time) applianceResponse {
	rec := e.Record
	return applianceResponse{
		StateView:    accessory.NewStateView(rec.ID, rec.Name, e.Appliance.Snapshot(), "", now),
		Address:      rec.Address,
		Object:       rec.Object.String(),
		MakerCode:    rec.MakerCode,
		ProductCode:  rec.ProductCode,
		SerialNumber: rec.SerialNumber,
		LastSeen:     rec.LastSeen.UTC(),
	}
}

// handleListAppliances returns every managed appliance.
func (s *Server) handleListAppliances(w http.ResponseWriter, _ *http.Request) {
	entries := s.platform.Appliances()
	now := time.Now()

	out := make([]applianceResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, newApplianceResponse(e, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appliances": out,
		"count":      len(out),
	})
}

func (s *Server) handleGetAppliance(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newApplianceResponse(e, time.Now()))
}

// handleUpdateAppliance applies a partial change. The change is queued to
// the appliance and answered with the optimistic state (202).
func (s *Server) handleUpdateAppliance(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var change accessory.Change
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&change); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if change.Empty() {
		writeBadRequest(w, "no fields to change")
		return
	}

	if err := change.Apply(e.Appliance); err != nil {
		if errors.Is(err, accessory.ErrInvalidCommand) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		s.logger.Error("applying appliance change failed", "id", e.Record.ID, "error", err)
		writeInternalError(w, "failed to apply change")
		return
	}

	s.logger.Info("appliance change accepted", "id", e.Record.ID, "request_id", r.Context().Value(ctxKeyRequestID))
	writeJSON(w, http.StatusAccepted, newApplianceResponse(e, time.Now()))
}

// handleRefreshAppliance starts a full read of the appliance. The read
// outlives the request, so it runs on the server context.
func (s *Server) handleRefreshAppliance(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}

	go e.Appliance.Refresh(s.ctx)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     e.Record.ID,
		"status": "refreshing",
	})
}

func (s *Server) handleApplianceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "history is not enabled")
		return
	}
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}

	limit := accessory.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.History(r.Context(), e.Record.ID, limit)
	if err != nil {
		s.logger.Error("reading appliance history failed", "id", e.Record.ID, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	if entries == nil {
		entries = []accessory.HistoryEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      e.Record.ID,
		"history": entries,
		"count":   len(entries),
	})
}

// lookup resolves the {id} URL parameter, writing a 404 when it is unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (platform.Entry, bool) {
	id := chi.URLParam(r, "id")
	e, ok := s.platform.Appliance(id)
	if !ok {
		writeNotFound(w, "appliance not found")
		return platform.Entry{}, false
	}
	return e, true
}
