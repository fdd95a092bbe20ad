package api

import (
	"net/http"
	"time"
)

type governorDTO struct {
	Mode                string     `json:"mode"`
	CurrentDelayMS      int64      `json:"current_delay_ms"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	ResumeAt            *time.Time `json:"resume_at,omitempty"`
}

type frontierDTO struct {
	Pending         int   `json:"pending"`
	InFlight        int   `json:"in_flight"`
	DetailsAccepted int   `json:"details_accepted"`
	AvgWaitMS       int64 `json:"avg_wait_ms"`
}

// getProgress handles GET /v1/progress. It returns the live run counters, or
// 503 when no tracker is attached.
func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	if s.src.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": s.src.Progress.Snapshot()})
}

// getCheckpoint handles GET /v1/progress/checkpoint. It returns 404 until the
// first checkpoint has been written.
func (s *Server) getCheckpoint(w http.ResponseWriter, _ *http.Request) {
	if s.src.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return
	}
	cp, ok := s.src.Progress.LastCheckpoint()
	if !ok {
		writeError(w, http.StatusNotFound, "no checkpoint yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": cp})
}

func (s *Server) getGovernor(w http.ResponseWriter, _ *http.Request) {
	if s.src.Governor == nil {
		writeError(w, http.StatusServiceUnavailable, "governor unavailable")
		return
	}
	st := s.src.Governor.Snapshot()
	dto := governorDTO{
		Mode:                st.Mode.String(),
		CurrentDelayMS:      st.CurrentDelay.Milliseconds(),
		ConsecutiveFailures: st.ConsecutiveFailures,
	}
	if !st.ResumeAt.IsZero() {
		resume := st.ResumeAt.UTC()
		dto.ResumeAt = &resume
	}
	writeJSON(w, http.StatusOK, map[string]any{"governor": dto})
}

func (s *Server) getFrontier(w http.ResponseWriter, _ *http.Request) {
	if s.src.Frontier == nil {
		writeError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	st := s.src.Frontier.Stats()
	writeJSON(w, http.StatusOK, map[string]any{"frontier": frontierDTO{
		Pending:         st.Pending,
		InFlight:        st.InFlight,
		DetailsAccepted: st.DetailsAccepted,
		AvgWaitMS:       st.AvgWait.Milliseconds(),
	}})
}

func (s *Server) getIdentities(w http.ResponseWriter, _ *http.Request) {
	if s.src.Identities == nil {
		writeError(w, http.StatusServiceUnavailable, "identity pool unavailable")
		return
	}
	active, retired := s.src.Identities.Counts()
	writeJSON(w, http.StatusOK, map[string]any{"identities": map[string]int{
		"active":  active,
		"retired": retired,
	}})
}
