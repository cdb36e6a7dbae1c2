package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/offer"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// GlobalTenantID is used for policy rules that apply to all tenants.
const GlobalTenantID = "*"

// decisionCacheTTL bounds how long a decision stays in the hot path
// cache. Decisions are immutable, the TTL only caps memory.
const decisionCacheTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	engine       *offer.Engine
	policyEngine *policy.Engine
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *offer.Engine, policyEngine *policy.Engine, version string) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		engine:       engine,
		policyEngine: policyEngine,
		version:      version,
	}
}

// EvaluateRequest is the request body for POST /evaluate. All four
// collections are optional; an absent collection scores as empty.
type EvaluateRequest struct {
	UserID       string               `json:"userId"`
	Transactions []domain.Transaction `json:"transactions"`
	Bills        []domain.Bill        `json:"bills"`
	Deposits     []domain.Deposit     `json:"deposits"`
	Loans        []domain.Loan        `json:"loans"`
}

// Evaluate handles POST /evaluate: collections arrive inline and the
// decision is computed synchronously.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId is required",
		})
		return
	}

	portfolio := &domain.Portfolio{
		Transactions: req.Transactions,
		Bills:        req.Bills,
		Deposits:     req.Deposits,
		Loans:        req.Loans,
	}

	decision := h.runDecision(r, req.UserID, portfolio, "request", start)
	writeJSON(w, http.StatusOK, decision.ToResponse())
}

// UserOffer handles GET /users/{id}/offer: the portfolio is loaded
// from the repository instead of the request body.
func (h *Handler) UserOffer(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	userID := chi.URLParam(r, "id")

	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	portfolio, err := h.repo.LoadPortfolio(ctx, tenantID, userID)
	if err != nil {
		slog.Error("failed to load portfolio", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to process financial data",
		})
		return
	}

	decision := h.runDecision(r, userID, portfolio, "database", start)
	writeJSON(w, http.StatusOK, decision.ToResponse())
}

// RequestOffer handles POST /users/{id}/offer/request: it queues an
// asynchronous decision for the worker and returns immediately.
func (h *Handler) RequestOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	userID := chi.URLParam(r, "id")

	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"userId":   userID,
		"tenantId": tenantID,
		"traceId":  traceID,
	})
	if err := h.bus.Publish(ctx, tenantID, domain.TopicOfferRequested, payload); err != nil {
		slog.Error("failed to publish offer request", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue offer request",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "queued",
		"userId":  userID,
		"traceId": traceID,
	})
}

// runDecision is the shared synchronous pipeline: score, flag,
// persist, cache, publish. It never fails the request; persistence
// and publishing problems are logged and the decision still returns.
func (h *Handler) runDecision(r *http.Request, userID string, portfolio *domain.Portfolio, source string, start time.Time) *domain.Decision {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	decision := h.engine.Decide(ctx, &offer.Input{
		TenantID:  tenantID,
		UserID:    userID,
		TraceID:   traceID,
		Portfolio: portfolio,
		Source:    source,
		StartTime: start,
	})

	if h.policyEngine != nil {
		decision.Flags = h.policyEngine.Evaluate(ctx, decision)
		decision.Metadata.FlagsChecked = h.policyEngine.RulesCount()
	}

	if h.repo != nil {
		if err := h.repo.SaveDecision(ctx, tenantID, decision); err != nil {
			slog.Error("failed to save decision", "decision_id", decision.ID, "error", err)
		}
	}

	if h.cache != nil {
		if err := h.cache.SetDecision(ctx, tenantID, decision.ID, decision, decisionCacheTTL); err != nil {
			slog.Error("failed to cache decision", "decision_id", decision.ID, "error", err)
		}

		count, err := h.cache.IncrementCounter(ctx, tenantID, "evals:"+userID, time.Hour)
		if err != nil {
			slog.Error("failed to count evaluation", "user_id", userID, "error", err)
		} else {
			slog.Debug("evaluation counted", "user_id", userID, "count", count)
		}
	}

	h.publishDecision(ctx, tenantID, decision)

	return decision
}

func (h *Handler) publishDecision(ctx context.Context, tenantID string, decision *domain.Decision) {
	if h.bus == nil {
		return
	}

	payload, err := json.Marshal(decision)
	if err != nil {
		slog.Error("failed to marshal decision", "decision_id", decision.ID, "error", err)
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicOfferDecided, payload); err != nil {
		slog.Error("failed to publish decision", "decision_id", decision.ID, "error", err)
	}
	if decision.Offer.Status == domain.OfferDeclined {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicOfferDeclined, payload); err != nil {
			slog.Error("failed to publish decline", "decision_id", decision.ID, "error", err)
		}
	}
	if len(decision.Flags) > 0 {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicPolicyFlagged, payload); err != nil {
			slog.Error("failed to publish policy flags", "decision_id", decision.ID, "error", err)
		}
	}
}

// GetDecision handles GET /decisions/{id} with cache read-through.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	decisionID := chi.URLParam(r, "id")

	if decisionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision id is required",
		})
		return
	}

	if h.cache != nil {
		cached, err := h.cache.GetDecision(ctx, tenantID, decisionID)
		if err != nil {
			slog.Error("decision cache lookup failed", "decision_id", decisionID, "error", err)
		} else if cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "decision not found",
		})
		return
	}

	decision, err := h.repo.GetDecision(ctx, tenantID, decisionID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get decision", "decision_id", decisionID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "decision not found",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.SetDecision(ctx, tenantID, decisionID, decision, decisionCacheTTL); err != nil {
			slog.Error("failed to cache decision", "decision_id", decisionID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, decision)
}

// ListUserDecisions handles GET /users/{id}/decisions.
func (h *Handler) ListUserDecisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	userID := chi.URLParam(r, "id")

	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	decisions, err := h.repo.ListDecisionsByUser(ctx, tenantID, userID, 0)
	if err != nil {
		slog.Error("failed to list decisions", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list decisions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// IngestTransactions handles POST /users/{id}/transactions.
func (h *Handler) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	var records []domain.Transaction
	h.ingest(w, r, "transactions", &records, func(ctx context.Context, tenantID, userID string) error {
		return h.repo.SaveTransactions(ctx, tenantID, userID, records)
	}, func() int { return len(records) })
}

// IngestBills handles POST /users/{id}/bills.
func (h *Handler) IngestBills(w http.ResponseWriter, r *http.Request) {
	var records []domain.Bill
	h.ingest(w, r, "bills", &records, func(ctx context.Context, tenantID, userID string) error {
		return h.repo.SaveBills(ctx, tenantID, userID, records)
	}, func() int { return len(records) })
}

// IngestDeposits handles POST /users/{id}/deposits.
func (h *Handler) IngestDeposits(w http.ResponseWriter, r *http.Request) {
	var records []domain.Deposit
	h.ingest(w, r, "deposits", &records, func(ctx context.Context, tenantID, userID string) error {
		return h.repo.SaveDeposits(ctx, tenantID, userID, records)
	}, func() int { return len(records) })
}

// IngestLoans handles POST /users/{id}/loans.
func (h *Handler) IngestLoans(w http.ResponseWriter, r *http.Request) {
	var records []domain.Loan
	h.ingest(w, r, "loans", &records, func(ctx context.Context, tenantID, userID string) error {
		return h.repo.SaveLoans(ctx, tenantID, userID, records)
	}, func() int { return len(records) })
}

// ingest is the shared batch-ingestion path: decode, persist, publish
// a records.ingested event. Malformed amounts coerce to zero during
// decoding rather than failing the batch.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, recordType string, records any, save func(ctx context.Context, tenantID, userID string) error, count func() int) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	userID := chi.URLParam(r, "id")

	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	if err := json.NewDecoder(r.Body).Decode(records); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := save(ctx, tenantID, userID); err != nil {
		slog.Error("failed to save records",
			"record_type", recordType,
			"user_id", userID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save records",
		})
		return
	}

	n := count()
	if h.bus != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"userId":     userID,
			"tenantId":   tenantID,
			"recordType": recordType,
			"count":      n,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicRecordsIngested, payload); err != nil {
			slog.Error("failed to publish ingestion event", "record_type", recordType, "error", err)
		}
	}

	slog.Info("records ingested",
		"record_type", recordType,
		"user_id", userID,
		"count", n,
	)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"ingested":   n,
		"recordType": recordType,
	})
}

// ListPolicies returns all policy rules loaded in the engine.
// Rules are loaded from the database at startup and can be reloaded
// via POST /policies/reload.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	if h.policyEngine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "policy engine not available",
		})
		return
	}

	loaded := h.policyEngine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetPolicy retrieves a loaded policy rule by ID.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	if h.policyEngine != nil {
		for _, rule := range h.policyEngine.GetLoadedRules() {
			if rule.ID == ruleID {
				writeJSON(w, http.StatusOK, rule)
				return
			}
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "policy not found",
	})
}

// CreatePolicyRequest is the request body for creating a policy rule.
type CreatePolicyRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Severity    string `json:"severity,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// CreatePolicy validates and saves a policy rule to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all
// tenants. After saving, call POST /policies/reload to apply.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	severity := req.Severity
	if severity == "" {
		severity = domain.SeverityReview
	}

	rule := &domain.PolicyRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Severity:    severity,
		Enabled:     req.Enabled,
	}

	if h.policyEngine != nil {
		if err := h.policyEngine.ValidateRule(rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid CEL expression: " + err.Error(),
			})
			return
		}
	}

	if h.repo != nil {
		if err := h.repo.SavePolicyRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save policy rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save policy rule",
			})
			return
		}
	}

	slog.Info("policy rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy":  rule,
		"message": "Policy created. Call POST /policies/reload to apply changes.",
	})
}

// ReloadPolicies reloads all policy rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if h.policyEngine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "policy engine not available",
		})
		return
	}

	dbRules, err := h.repo.ListPolicyRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list policy rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policy rules from database",
		})
		return
	}

	if err := h.policyEngine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload policy rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policy rules: " + err.Error(),
		})
		return
	}

	slog.Info("policy rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policy rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
