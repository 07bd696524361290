// Package server exposes the feedback and telemetry surface over HTTP:
// error report intake from review tooling, priority-field rankings, stage
// success rates, and validation lookups for dashboards.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/feedback"
	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/store"
	"github.com/shoplens/pipeline-cli/internal/telemetry"
)

// lookbacks bounds how far each stats granularity reaches back. Coarser
// periods cover longer windows so every response stays a handful of buckets.
var lookbacks = map[model.PeriodType]time.Duration{
	model.PeriodHour:  24 * time.Hour,
	model.PeriodDay:   7 * 24 * time.Hour,
	model.PeriodWeek:  8 * 7 * 24 * time.Hour,
	model.PeriodMonth: 365 * 24 * time.Hour,
}

// Server handles the report and stats API.
type Server struct {
	store    store.Store
	loop     *feedback.Loop
	recorder *telemetry.Recorder
	origins  []string
}

// New returns a server over the given store. CORS origins come from
// configuration; an empty list rejects all cross-origin callers.
func New(st store.Store, cat *catalog.Catalog, origins []string) *Server {
	return &Server{
		store:    st,
		loop:     feedback.NewLoop(st, cat),
		recorder: telemetry.NewRecorder(st),
		origins:  origins,
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/reports", s.handleCreateReport)
		r.Get("/reports", s.handleListReports)
		r.Post("/reports/{id}/resolve", s.handleResolveReport)
		r.Get("/priority-fields", s.handlePriorityFields)
		r.Get("/stats/success-rate", s.handleSuccessRate)
		r.Get("/stats/stages/{stage}", s.handleStageDetail)
		r.Get("/validations/{analysisID}", s.handleGetValidation)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createReportRequest struct {
	AnalysisID   string `json:"analysis_id"`
	FieldName    string `json:"field_name"`
	IssueType    string `json:"issue_type"`
	Severity     string `json:"severity"`
	Description  string `json:"user_description"`
	CrawlerValue string `json:"crawler_value"`
	ReportValue  string `json:"report_value"`

	// CapturedHTML optionally carries the page the reporter was looking
	// at. When absent, the document captured at analysis time is used.
	CapturedHTML string `json:"captured_html"`
}

type createReportResponse struct {
	Report *model.ErrorReport   `json:"report"`
	Chunk  *model.PriorityChunk `json:"chunk,omitempty"`
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FieldName == "" {
		writeError(w, http.StatusBadRequest, "field_name is required")
		return
	}
	issue := model.IssueType(req.IssueType)
	switch issue {
	case model.IssueMismatch, model.IssueMissing, model.IssueIncorrect:
	default:
		writeError(w, http.StatusBadRequest, "issue_type must be mismatch, missing, or incorrect")
		return
	}
	severity := model.Severity(req.Severity)
	if severity == "" {
		severity = model.SeverityMedium
	}
	switch severity {
	case model.SeverityHigh, model.SeverityMedium, model.SeverityLow:
	default:
		writeError(w, http.StatusBadRequest, "severity must be high, medium, or low")
		return
	}

	rep := &model.ErrorReport{
		AnalysisID:   req.AnalysisID,
		FieldName:    req.FieldName,
		IssueType:    issue,
		Severity:     severity,
		Description:  req.Description,
		CrawlerValue: req.CrawlerValue,
		ReportValue:  req.ReportValue,
	}

	html := []byte(req.CapturedHTML)
	if len(html) == 0 && req.AnalysisID != "" {
		doc, err := s.store.LatestDocumentForAnalysis(r.Context(), req.AnalysisID)
		if err != nil {
			zap.L().Warn("server: captured document lookup failed",
				zap.String("analysis_id", req.AnalysisID), zap.Error(err))
		} else if doc != nil {
			html = doc.Body
		}
	}

	chunk, err := s.loop.Ingest(r.Context(), rep, html)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "report ingest failed")
		zap.L().Error("server: report ingest failed", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusCreated, createReportResponse{Report: rep, Chunk: chunk})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	var filter store.ReportFilter

	if status := r.URL.Query().Get("status"); status != "" {
		switch model.ReportStatus(status) {
		case model.ReportPending, model.ReportResolved:
			filter.Status = model.ReportStatus(status)
		default:
			writeError(w, http.StatusBadRequest, "status must be pending or resolved")
			return
		}
	}
	filter.FieldName = r.URL.Query().Get("field")
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	reports, err := s.store.ListReports(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing reports failed")
		zap.L().Error("server: list reports failed", zap.Error(err))
		return
	}
	if reports == nil {
		reports = []model.ErrorReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleResolveReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.loop.Resolve(r.Context(), id); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "resolving report failed")
		zap.L().Error("server: resolve report failed", zap.String("report_id", id), zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(model.ReportResolved)})
}

func (s *Server) handlePriorityFields(w http.ResponseWriter, r *http.Request) {
	fields, err := s.loop.PriorityFields(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "priority fields unavailable")
		zap.L().Error("server: priority fields failed", zap.Error(err))
		return
	}
	if fields == nil {
		fields = []model.FieldPriority{}
	}
	writeJSON(w, http.StatusOK, fields)
}

type successRateResponse struct {
	Period model.PeriodType         `json:"period"`
	Stages []telemetry.StageSummary `json:"stages"`
}

func (s *Server) handleSuccessRate(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(r.URL.Query().Get("period"))
	if !ok {
		writeError(w, http.StatusBadRequest, "period must be hour, day, week, or month")
		return
	}

	stages, err := s.recorder.SuccessRate(r.Context(), period, lookbacks[period])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "success rates unavailable")
		zap.L().Error("server: success rate failed", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, successRateResponse{Period: period, Stages: stages})
}

type stageDetailResponse struct {
	Stage   string                 `json:"stage"`
	Period  model.PeriodType       `json:"period"`
	Buckets []model.AggregatedRate `json:"buckets"`
}

func (s *Server) handleStageDetail(w http.ResponseWriter, r *http.Request) {
	stage := chi.URLParam(r, "stage")
	if !knownStage(stage) {
		writeError(w, http.StatusNotFound, "unknown stage")
		return
	}
	period, ok := parsePeriod(r.URL.Query().Get("period"))
	if !ok {
		writeError(w, http.StatusBadRequest, "period must be hour, day, week, or month")
		return
	}

	buckets, err := s.recorder.StageDetail(r.Context(), stage, period, lookbacks[period])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stage detail unavailable")
		zap.L().Error("server: stage detail failed", zap.String("stage", stage), zap.Error(err))
		return
	}
	if buckets == nil {
		buckets = []model.AggregatedRate{}
	}
	writeJSON(w, http.StatusOK, stageDetailResponse{Stage: stage, Period: period, Buckets: buckets})
}

func (s *Server) handleGetValidation(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	v, err := s.store.GetValidation(r.Context(), analysisID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "validation lookup failed")
		zap.L().Error("server: get validation failed", zap.String("analysis_id", analysisID), zap.Error(err))
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "validation not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// parsePeriod maps the query value to a granularity, defaulting to day.
func parsePeriod(raw string) (model.PeriodType, bool) {
	if raw == "" {
		return model.PeriodDay, true
	}
	p := model.PeriodType(raw)
	for _, known := range model.Periods {
		if p == known {
			return p, true
		}
	}
	return "", false
}

func knownStage(stage string) bool {
	for _, s := range model.Stages {
		if stage == s {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs one line per request after it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
