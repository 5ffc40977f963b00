package http

import (
	"net/http"
	"strconv"
	"strings"

	"ainopay/internal/log"
	"ainopay/internal/middleware/authn"
	"ainopay/internal/services"
)

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Dashboard.Stats(r.Context(), authn.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, log.OpRead)
		return
	}
	NewJSONResponse().Data(stats).Write(w)
}

// handleDashboardChart serves monthly completed totals for ?year=, defaulting
// to the current year.
func (s *Server) handleDashboardChart(w http.ResponseWriter, r *http.Request) {
	months, err := s.svc.Dashboard.Chart(r.Context(), authn.UserID(r.Context()), parseYear(r.URL.Query()))
	if err != nil {
		writeServiceError(w, r, err, log.OpRead)
		return
	}
	NewJSONResponse().Data(months).Write(w)
}

func (s *Server) handleDashboardRecent(w http.ResponseWriter, r *http.Request) {
	limit := services.DefaultRecentLimit
	if v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit"))); err == nil && v > 0 && v <= 20 {
		limit = v
	}
	payments, err := s.svc.Dashboard.Recent(r.Context(), authn.UserID(r.Context()), limit)
	if err != nil {
		writeServiceError(w, r, err, log.OpRead)
		return
	}
	NewJSONResponse().Data(payments).Write(w)
}
