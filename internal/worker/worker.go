// Package worker provides async offer processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/offer"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// Worker processes offer requests asynchronously from the EventBus.
// It reacts to record-ingested events by loading the user's stored
// portfolio, running the decision engine and persisting the outcome.
type Worker struct {
	bus          domain.EventBus
	repo         domain.Repository
	engine       *offer.Engine
	policyEngine *policy.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *offer.Engine, policyEngine *policy.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          bus,
		repo:         repo,
		engine:       engine,
		policyEngine: policyEngine,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing offer requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicOfferRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker subscribes one tenant's offer-request stream.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicOfferRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicOfferRequested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processRequest(ctx, msg.TenantID, msg)
}

// OfferRequestMessage is the payload that triggers a decision.
type OfferRequestMessage struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId"`
}

// processRequest runs one user through the decision pipeline.
func (w *Worker) processRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req OfferRequestMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse offer request message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing offer request",
		"user_id", req.UserID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// 1. Load the user's stored records
	portfolio, err := w.repo.LoadPortfolio(ctx, tenantID, req.UserID)
	if err != nil {
		slog.Error("failed to load portfolio",
			"user_id", req.UserID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	// 2. Run the decision engine
	decision := w.engine.Decide(ctx, &offer.Input{
		TenantID:  tenantID,
		UserID:    req.UserID,
		TraceID:   traceID,
		Portfolio: portfolio,
		Source:    "database",
		StartTime: start,
	})

	// 3. Annotate with policy flags
	if w.policyEngine != nil && w.policyEngine.RulesCount() > 0 {
		decision.Flags = w.policyEngine.Evaluate(ctx, decision)
		decision.Metadata.FlagsChecked = w.policyEngine.RulesCount()
	}

	// 4. Persist the decision
	if err := w.repo.SaveDecision(ctx, tenantID, decision); err != nil {
		slog.Error("failed to save decision",
			"decision_id", decision.ID,
			"error", err,
		)
	}

	// 5. Publish the outcome
	resultPayload, _ := json.Marshal(decision)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicOfferDecided, resultPayload); err != nil {
		slog.Error("failed to publish decision",
			"decision_id", decision.ID,
			"error", err,
		)
	}

	if decision.Offer.Status == domain.OfferDeclined {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicOfferDeclined, resultPayload); err != nil {
			slog.Error("failed to publish decline",
				"decision_id", decision.ID,
				"error", err,
			)
		}
	}

	if len(decision.Flags) > 0 {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicPolicyFlagged, resultPayload); err != nil {
			slog.Error("failed to publish policy flags",
				"decision_id", decision.ID,
				"error", err,
			)
		}
	}

	slog.Info("offer request processed",
		"user_id", req.UserID,
		"tenant_id", tenantID,
		"decision_id", decision.ID,
		"status", decision.Offer.Status,
		"score", decision.CreditScore,
		"flags", len(decision.Flags),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
