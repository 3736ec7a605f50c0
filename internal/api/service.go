// Package api provides the HTTP handlers for booking transactions, managing
// the tariff catalog, and querying broker accounts.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/gridpilot/accounting-engine/internal/accounting"
	"github.com/gridpilot/accounting-engine/internal/model"
	"github.com/gridpilot/accounting-engine/internal/phase"
	"github.com/gridpilot/accounting-engine/internal/store"
	"github.com/gridpilot/accounting-engine/internal/tariff"
)

// Service handles the accounting and tariff-market HTTP surface. Every
// transaction-producing request goes through the coordinator's Submit gate so
// an aborted simulation rejects it before any side effect, and is stamped
// with the coordinator's current timeslot.
type Service struct {
	store       store.Store
	ledger      *accounting.Ledger
	registry    *tariff.Registry
	subs        *tariff.SubscriptionManager
	coordinator *phase.Coordinator
}

// NewService creates the HTTP service.
func NewService(st store.Store, ledger *accounting.Ledger, registry *tariff.Registry, subs *tariff.SubscriptionManager, coordinator *phase.Coordinator) *Service {
	return &Service{
		store:       st,
		ledger:      ledger,
		registry:    registry,
		subs:        subs,
		coordinator: coordinator,
	}
}

// Routes mounts every handler under the given router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/brokers", s.CreateBroker)
	r.Get("/brokers/{brokerID}/summary", s.GetBrokerSummary)
	r.Post("/products", s.CreateProduct)

	r.Post("/market-transactions", s.CreateMarketTransaction)
	r.Post("/tariff-transactions", s.CreateTariffTransaction)

	r.Post("/tariffs", s.SubmitTariff)
	r.Get("/tariffs/active", s.ListActiveTariffs)
	r.Post("/tariffs/{tariffID}/revoke", s.RevokeTariff)

	r.Post("/subscriptions", s.Subscribe)
	r.Delete("/subscriptions/{subscriptionID}", s.Unsubscribe)
}

// --- Request/Response types ---

// CreateBrokerRequest is the JSON body for broker registration.
type CreateBrokerRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateProductRequest is the JSON body for product registration.
type CreateProductRequest struct {
	ID string `json:"id"` // NRG-{type}-{slot}
}

// RevokeRequest identifies the broker requesting a tariff revocation.
type RevokeRequest struct {
	BrokerID string `json:"broker_id"`
}

// SubscribeRequest is the JSON body for POST /subscriptions.
type SubscribeRequest struct {
	TariffID      string `json:"tariff_id"`
	CustomerID    string `json:"customer_id"`
	CustomerCount int    `json:"customer_count"`
}

// TariffSubmitResponse carries either the published tariff or the rule
// violation that rejected the specification.
type TariffSubmitResponse struct {
	Tariff    *model.Tariff         `json:"tariff,omitempty"`
	Violation *tariff.RuleViolation `json:"violation,omitempty"`
}

// BrokerSummaryResponse is the live account snapshot for one broker.
type BrokerSummaryResponse struct {
	BrokerID    string                     `json:"broker_id"`
	Timeslot    model.Timeslot             `json:"timeslot"`
	CashBalance decimal.Decimal            `json:"cash_balance"`
	Positions   map[string]decimal.Decimal `json:"positions"`
	NetLoad     decimal.Decimal            `json:"net_load"`
}

// --- HTTP Handlers ---

// CreateBroker handles POST /api/v1/brokers
func (s *Service) CreateBroker(w http.ResponseWriter, r *http.Request) {
	var req CreateBrokerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}

	broker := &model.Broker{ID: req.ID, Name: req.Name}
	if err := s.store.CreateBroker(r.Context(), broker); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, "broker already exists", http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("broker registered", "broker", broker.ID, "name", broker.Name)
	writeJSON(w, http.StatusCreated, broker)
}

// CreateProduct handles POST /api/v1/products
func (s *Service) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	product, err := model.ParseProductID(req.ID)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateProduct(r.Context(), product); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, "product already exists", http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("product registered", "product", product.ID, "type", product.Type, "delivery_slot", int64(product.DeliverySlot))
	writeJSON(w, http.StatusCreated, product)
}

// CreateMarketTransaction handles POST /api/v1/market-transactions
// Books a position and cash change against the current timeslot.
func (s *Service) CreateMarketTransaction(w http.ResponseWriter, r *http.Request) {
	var req accounting.MarketTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var tx *model.MarketTransaction
	err := s.coordinator.Submit(func() error {
		var err error
		tx, err = s.ledger.RecordMarketTransaction(r.Context(), s.coordinator.Current(), req)
		return err
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

// CreateTariffTransaction handles POST /api/v1/tariff-transactions
// Books a tariff event (consumption, production, fees) for the current
// timeslot.
func (s *Service) CreateTariffTransaction(w http.ResponseWriter, r *http.Request) {
	var req accounting.TariffTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var tx *model.TariffTransaction
	err := s.coordinator.Submit(func() error {
		var err error
		tx, err = s.ledger.RecordTariffTransaction(r.Context(), s.coordinator.Current(), req)
		return err
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

// SubmitTariff handles POST /api/v1/tariffs
// A rule violation is a 200 with the violation in the body — an expected
// market outcome, not a client error.
func (s *Service) SubmitTariff(w http.ResponseWriter, r *http.Request) {
	var spec model.TariffSpecification
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var (
		published *model.Tariff
		violation *tariff.RuleViolation
	)
	err := s.coordinator.Submit(func() error {
		var err error
		published, violation, err = s.registry.SubmitSpecification(r.Context(), s.coordinator.Current(), spec)
		return err
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	if violation != nil {
		writeJSON(w, http.StatusOK, TariffSubmitResponse{Violation: violation})
		return
	}
	writeJSON(w, http.StatusCreated, TariffSubmitResponse{Tariff: published})
}

// ListActiveTariffs handles GET /api/v1/tariffs/active
func (s *Service) ListActiveTariffs(w http.ResponseWriter, r *http.Request) {
	tariffs, err := s.registry.ListActive(r.Context())
	if err != nil {
		writeError(w, "failed to list tariffs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tariffs)
}

// RevokeTariff handles POST /api/v1/tariffs/{tariffID}/revoke
func (s *Service) RevokeTariff(w http.ResponseWriter, r *http.Request) {
	tariffID := chi.URLParam(r, "tariffID")

	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BrokerID == "" {
		writeError(w, "broker_id is required", http.StatusBadRequest)
		return
	}

	var revoked *model.Tariff
	err := s.coordinator.Submit(func() error {
		var err error
		revoked, err = s.registry.Revoke(r.Context(), s.coordinator.Current(), tariffID, req.BrokerID)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, tariff.ErrNotAuthorized):
			writeError(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "tariff not found", http.StatusNotFound)
		default:
			writeSubmitError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, revoked)
}

// Subscribe handles POST /api/v1/subscriptions
func (s *Service) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var sub *model.TariffSubscription
	err := s.coordinator.Submit(func() error {
		var err error
		sub, err = s.subs.Subscribe(r.Context(), s.coordinator.Current(), req.CustomerID, req.CustomerCount, req.TariffID)
		return err
	})
	if err != nil {
		if errors.Is(err, tariff.ErrTariffNotActive) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles DELETE /api/v1/subscriptions/{subscriptionID}
func (s *Service) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")

	err := s.coordinator.Submit(func() error {
		return s.subs.Unsubscribe(r.Context(), s.coordinator.Current(), subscriptionID)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "subscription not found", http.StatusNotFound)
			return
		}
		writeSubmitError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetBrokerSummary handles GET /api/v1/brokers/{brokerID}/summary
// Returns the live running account state for the current timeslot.
func (s *Service) GetBrokerSummary(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")

	if _, err := s.store.GetBroker(r.Context(), brokerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "broker not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ts := s.coordinator.Current()
	resp := BrokerSummaryResponse{
		BrokerID:    brokerID,
		Timeslot:    ts,
		CashBalance: s.ledger.CashBalance(brokerID),
		Positions:   s.ledger.Positions(brokerID),
		NetLoad:     s.ledger.CurrentNetLoad(ts, brokerID),
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeSubmitError maps the error paths shared by every transaction-producing
// handler: validation failures are the client's fault, an aborted simulation
// is unavailable, everything else is internal.
func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accounting.ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, phase.ErrAborted):
		writeError(w, "simulation is shutting down", http.StatusServiceUnavailable)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
