package worker

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/inspectrisk/internal/categorizer"
	"github.com/thebtf/inspectrisk/internal/probability"
	"github.com/thebtf/inspectrisk/internal/scoring"
	"github.com/thebtf/inspectrisk/internal/validation"
	"github.com/thebtf/inspectrisk/pkg/models"
)

// Handler configuration constants
const (
	// DefaultRecordsLimit is the default page size for record listings.
	DefaultRecordsLimit = 100

	// DefaultAssessmentsLimit is the default page size for assessments.
	DefaultAssessmentsLimit = 50

	// DefaultSimulationSample is how many stored records a rule simulation
	// uses when the request brings none.
	DefaultSimulationSample = 200

	// MaxGeneratedRecords caps synthetic datasets requested for evaluation.
	MaxGeneratedRecords = 5000
)

// writeJSON writes data as a JSON response with status 200.
func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

// decodeJSON decodes the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or invalid.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var extractErr *models.ExtractionError
	var validationErr *models.ValidationError
	switch {
	case errors.As(err, &extractErr), errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scoring.ErrNoRecords), errors.Is(err, models.ErrEmptyData):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrDimensionMismatch), errors.Is(err, models.ErrInvalidLabel):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth handles health check requests.
// Returns 200 OK immediately, even during init.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	} else if err := s.GetInitError(); err != nil {
		status = "error"
	}
	writeJSON(w, map[string]interface{}{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleVersion returns the worker version.
func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": s.version})
}

// handleReady returns 200 only when the database is open.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		msg := "initializing"
		if err := s.GetInitError(); err != nil {
			msg = err.Error()
		}
		writeError(w, http.StatusServiceUnavailable, msg)
		return
	}

	s.initMu.RLock()
	store := s.store
	s.initMu.RUnlock()
	writeJSON(w, map[string]interface{}{
		"status":   "ready",
		"database": store.HealthCheck(r.Context()),
	})
}

// requireReady answers 503 until async initialization completes.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			if err := s.GetInitError(); err != nil {
				writeError(w, http.StatusServiceUnavailable, "initialization failed: "+err.Error())
				return
			}
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "service initializing")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Scoring
// =============================================================================

// ScoreResponse is the body of a single-record score.
type ScoreResponse struct {
	Assessment *models.RiskAssessmentResult `json:"assessment"`
	Components *scoring.Components          `json:"components,omitempty"`
}

func (s *Service) handleScore(w http.ResponseWriter, r *http.Request) {
	var rec models.InspectionRecord
	if !decodeJSON(w, r, &rec) {
		return
	}

	res, comps, err := s.scorer.ScoreComponents(&rec)
	if err != nil {
		s.metrics.ObserveFailures(1)
		writeError(w, statusFor(err), err.Error())
		return
	}

	out := ScoreResponse{Assessment: res}
	if r.URL.Query().Get("explain") == "true" {
		out.Components = &comps
	}
	writeJSON(w, out)
}

// RecordsRequest carries a list of records.
type RecordsRequest struct {
	Records []models.InspectionRecord `json:"records"`
}

func (s *Service) handleScoreBatch(w http.ResponseWriter, r *http.Request) {
	var req RecordsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records are required")
		return
	}

	result := s.scorer.ScoreBatch(req.Records)
	s.metrics.ObserveFailures(len(result.Errors))
	writeJSON(w, result)
}

// PreviewRequest asks where a score would land without recording it.
type PreviewRequest struct {
	Context categorizer.Context `json:"context"`
	Score   float64             `json:"score"`
}

func (s *Service) handleCategorizePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, s.categorizer.Preview(req.Score, req.Context))
}

// EvaluateRequest configures a cross-validation run. Generate synthesizes
// a labeled dataset when no records are given.
type EvaluateRequest struct {
	Records  []models.InspectionRecord `json:"records,omitempty"`
	Generate int                       `json:"generate,omitempty"`
	K        int                       `json:"k,omitempty"`
}

func (s *Service) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.K == 1 || req.K < 0 {
		writeError(w, http.StatusBadRequest, "k must be at least 2")
		return
	}
	if req.Generate > MaxGeneratedRecords {
		writeError(w, http.StatusBadRequest, "generate exceeds "+strconv.Itoa(MaxGeneratedRecords))
		return
	}

	records := req.Records
	if len(records) == 0 && req.Generate > 0 {
		records = validation.NewHarness(s.config.ValidationConfig()).GenerateDataset(req.Generate)
	}
	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, scoring.ErrNoRecords.Error())
		return
	}

	if !s.evalCooldown.CanExecute() {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.evalCooldown.Remaining().Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "an evaluation ran recently, retry later")
		return
	}

	report, err := s.scorer.Evaluate(r.Context(), records, req.K)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, report)
}

// =============================================================================
// Records and assessments
// =============================================================================

func (s *Service) handleSaveRecords(w http.ResponseWriter, r *http.Request) {
	var req RecordsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := s.recordStore().SaveRecords(r.Context(), req.Records)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]int{"saved": n})
}

func (s *Service) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", DefaultRecordsLimit)
	offset := queryInt(r, "offset", 0)

	records, err := s.recordStore().Records(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"records": records,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Service) handleGetAssessments(w http.ResponseWriter, r *http.Request) {
	recordID := r.URL.Query().Get("record_id")
	limit := queryInt(r, "limit", DefaultAssessmentsLimit)

	assessments, err := s.recordStore().RecentAssessments(r.Context(), recordID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"assessments": assessments})
}

func (s *Service) handleGetStats(w http.ResponseWriter, r *http.Request) {
	store := s.recordStore()
	total, labeled, err := store.CountRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := store.CategoryCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.initMu.RLock()
	retrainer := s.retrainer
	watcher := s.rulesWatcher
	maint := s.maintenance
	s.initMu.RUnlock()

	out := map[string]interface{}{
		"records":      total,
		"labeled":      labeled,
		"assessments":  counts,
		"rule_version": s.adapter.Version(),
		"sse_clients":  s.sseBroadcaster.ClientCount(),
		"rate_limit":   s.limiter.Stats(),
		"uptime":       time.Since(s.startTime).Round(time.Second).String(),
	}
	if retrainer != nil {
		out["retrainer"] = retrainer.Stats()
	}
	if watcher != nil {
		out["rules_watcher"] = watcher.Stats()
	}
	if maint != nil {
		out["maintenance"] = maint.Stats()
	}
	writeJSON(w, out)
}

// =============================================================================
// Rules
// =============================================================================

func (s *Service) handleGetRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"rules":   s.adapter.Current(),
		"weights": s.adapter.Weights(),
	})
}

func (s *Service) handlePutRules(w http.ResponseWriter, r *http.Request) {
	var rs models.RuleSet
	if !decodeJSON(w, r, &rs) {
		return
	}
	current, err := s.adapter.Apply(r.Context(), &rs)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	history := s.adapter.History()
	writeJSON(w, map[string]interface{}{
		"rules":    current,
		"replaced": history[len(history)-1],
	})
}

func (s *Service) handleGetRuleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"current": s.adapter.Version(),
		"history": s.adapter.History(),
	})
}

func (s *Service) handleGetRuleWeights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.adapter.Weights())
}

// SimulateRequest proposes a rule change to evaluate on a sample.
type SimulateRequest struct {
	Rules   *models.RuleSet           `json:"rules"`
	Records []models.InspectionRecord `json:"records,omitempty"`
	Sample  int                       `json:"sample,omitempty"`
}

func (s *Service) handleSimulateRules(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Rules == nil {
		writeError(w, http.StatusBadRequest, "rules are required")
		return
	}

	sample := req.Records
	if len(sample) == 0 {
		n := req.Sample
		if n <= 0 {
			n = DefaultSimulationSample
		}
		stored, err := s.recordStore().Records(r.Context(), n, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sample = stored
	}

	// A private engine keeps simulated calculations out of the live log.
	engine := probability.NewEngine(s.config.EngineConfig())
	report, err := s.adapter.SimulateRuleChangeImpact(req.Rules, sample, func(rec *models.InspectionRecord) float64 {
		return engine.Calculate(rec).Infraction
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, report)
}

// =============================================================================
// Model state
// =============================================================================

func (s *Service) handleGetCategorizer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.categorizer.Snapshot())
}

func (s *Service) handleGetTrends(w http.ResponseWriter, r *http.Request) {
	recent := s.engine.Log()
	if n := queryInt(r, "recent", 20); n < len(recent) {
		recent = recent[len(recent)-n:]
	}
	writeJSON(w, map[string]interface{}{
		"trends": s.engine.Trends(),
		"recent": recent,
	})
}

func (s *Service) handleRetrain(w http.ResponseWriter, r *http.Request) {
	s.initMu.RLock()
	retrainer := s.retrainer
	s.initMu.RUnlock()

	if err := retrainer.RetrainNow(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, retrainer.Stats())
}

// handleMaintenance runs a maintenance pass immediately.
func (s *Service) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	s.initMu.RLock()
	maint := s.maintenance
	s.initMu.RUnlock()

	pruned := maint.RunNow(r.Context())
	writeJSON(w, map[string]interface{}{
		"pruned": pruned,
		"stats":  maint.Stats(),
	})
}
