package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/report"
	"trade-reconciliation-engine/internal/router"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

// apiActor is the audit identity stamped on state changes made over HTTP.
const apiActor = "system:api"

const dateLayout = "2006-01-02"

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error(), Code: string(errors.CodeUnexpectedError)}
	if reconErr, ok := errors.As(err); ok {
		body.Error = reconErr.Message
		body.Code = string(reconErr.Code)
	}

	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.WithFields(logger.Fields{
			"request_id": requestID(r),
			"path":       r.URL.Path,
		}).WithError(err).Error("Request failed")
	}
	s.writeJSON(w, status, body)
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.ValidationError(errors.CodeInvalidData, "body", err.Error(), err)
	}
	return nil
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.ValidationError(errors.CodeMissingField, field, nil, nil)
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, errors.ValidationError(errors.CodeInvalidDate, field, value, err)
	}
	return parsed, nil
}

func breakIDFromPath(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.ValidationError(errors.CodeOutOfRange, "id", raw, err)
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"timestamp":   s.clock().UTC().Format(time.RFC3339),
		"environment": s.config.Environment,
	})
}

type ingestionRequest struct {
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`
}

func (s *Server) handleIngestionRun(w http.ResponseWriter, r *http.Request) {
	var req ingestionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := parseDate("from_date", req.FromDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseDate("to_date", req.ToDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if to.Before(from) {
		s.writeError(w, r, errors.ValidationError(errors.CodeOutOfRange, "to_date", req.ToDate, nil).
			WithSuggestion("to_date must not be before from_date"))
		return
	}

	results, err := s.deps.Ingest.RunIngestion(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sources": results})
}

type reconciliationRequest struct {
	TradeDate string `json:"trade_date"`
	Source1   string `json:"source1"`
	Source2   string `json:"source2"`
}

func (s *Server) handleReconciliationRun(w http.ResponseWriter, r *http.Request) {
	var req reconciliationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tradeDate, err := parseDate("trade_date", req.TradeDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Source1 == "" {
		s.writeError(w, r, errors.ValidationError(errors.CodeMissingField, "source1", nil, nil))
		return
	}
	if req.Source2 == "" {
		s.writeError(w, r, errors.ValidationError(errors.CodeMissingField, "source2", nil, nil))
		return
	}

	run, err := s.deps.Recon.Run(r.Context(), tradeDate, req.Source1, req.Source2)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRouteBreak(w http.ResponseWriter, r *http.Request) {
	id, err := breakIDFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Router.RouteBreak(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAutoRemediate(w http.ResponseWriter, r *http.Request) {
	id, err := breakIDFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Remediator.Apply(r.Context(), id, apiActor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleOverdueExceptions runs the SLA sweep: every overdue break is
// escalated and the escalations are returned, so hitting the endpoint and
// waiting for the scheduler are equivalent.
func (s *Server) handleOverdueExceptions(w http.ResponseWriter, r *http.Request) {
	escalations, err := s.deps.Router.CheckSLABreaches(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if escalations == nil {
		escalations = []router.Escalation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(escalations),
		"escalations": escalations,
	})
}

func (s *Server) handleOpenBreaks(w http.ResponseWriter, r *http.Request) {
	breaks, err := s.deps.Breaks.ListBreaks(r.Context(), openBreaksFilter())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if breaks == nil {
		breaks = []*models.TradeBreak{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(breaks),
		"breaks": breaks,
	})
}

func (s *Server) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Reports.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleReportAging(w http.ResponseWriter, r *http.Request) {
	aging, err := s.deps.Reports.Aging(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, aging)
}

func (s *Server) handleReportRuns(w http.ResponseWriter, r *http.Request) {
	limit := report.DefaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, r, errors.ValidationError(errors.CodeOutOfRange, "limit", raw, err))
			return
		}
		limit = parsed
	}

	runs, err := s.deps.Reports.Runs(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*models.ReconciliationRun{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

func (s *Server) handleReportRootCause(w http.ResponseWriter, r *http.Request) {
	rootCause, err := s.deps.Reports.RootCause(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rootCause)
}

func (s *Server) handlePredictionScore(w http.ResponseWriter, r *http.Request) {
	if s.deps.Predictor == nil {
		s.writeError(w, r, errors.ModelError(errors.CodeArtifactMissing, "no model loaded", nil))
		return
	}

	var trade models.Trade
	if err := decodeBody(r, &trade); err != nil {
		s.writeError(w, r, err)
		return
	}

	prediction, err := s.deps.Predictor.Score(r.Context(), &trade)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, prediction)
}

func (s *Server) handleTradesCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Trades.CountTrades(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// openBreaksFilter selects every break still in flight, newest first.
func openBreaksFilter() store.BreakFilter {
	return store.BreakFilter{
		Statuses: []models.BreakStatus{
			models.StatusOpen,
			models.StatusInProgress,
			models.StatusEscalated,
		},
	}
}
