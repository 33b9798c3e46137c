package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/x10-bridge/internal/bridges/x10"
)

// UnitResponse is one entry in the units listing. Activity fields are only
// present when the recorder is enabled.
type UnitResponse struct {
	HouseCode string            `json:"housecode"`
	State     string            `json:"state,omitempty"`
	Activity  *x10.UnitActivity `json:"activity,omitempty"`
}

// handleListUnits returns every housecode the bridge has published a state
// for since startup, merged with recorded activity when available.
func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := s.collectUnits(r)
	if err != nil {
		s.logger.Error("listing units failed", "error", err)
		writeInternalError(w, "failed to list units")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"units": units,
		"count": len(units),
	})
}

// handleGetUnit returns a single housecode.
func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	hc, err := x10.ParseHouseCode(chi.URLParam(r, "housecode"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	units, err := s.collectUnits(r)
	if err != nil {
		s.logger.Error("listing units failed", "error", err)
		writeInternalError(w, "failed to list units")
		return
	}

	for _, u := range units {
		if u.HouseCode == hc.String() {
			writeJSON(w, http.StatusOK, u)
			return
		}
	}
	writeNotFound(w, "unit not seen: "+hc.String())
}

// handleDiscovery returns the discovery descriptors the bridge announces.
func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	descriptors := s.bridge.Descriptors()

	type entry struct {
		Topic string `json:"topic"`
		x10.DiscoveryDescriptor
	}
	out := make([]entry, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, entry{Topic: d.Topic, DiscoveryDescriptor: d})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"descriptors": out,
		"count":       len(out),
	})
}

// collectUnits merges live state with recorder rows, keyed by housecode.
// Recorder order (most recent first) wins; units only known live follow.
func (s *Server) collectUnits(r *http.Request) ([]UnitResponse, error) {
	live := s.bridge.LastStates()
	state := make(map[string]string, len(live))
	for _, u := range live {
		state[u.HouseCode] = u.State
	}

	var out []UnitResponse
	seen := make(map[string]bool)

	if s.units != nil {
		recorded, err := s.units.Units(r.Context())
		if err != nil {
			return nil, err
		}
		for i := range recorded {
			a := recorded[i]
			st := state[a.HouseCode]
			if st == "" {
				st = a.LastState
			}
			out = append(out, UnitResponse{HouseCode: a.HouseCode, State: st, Activity: &a})
			seen[a.HouseCode] = true
		}
	}

	for _, u := range live {
		if !seen[u.HouseCode] {
			out = append(out, UnitResponse{HouseCode: u.HouseCode, State: u.State})
		}
	}

	if out == nil {
		out = []UnitResponse{}
	}
	return out, nil
}
