package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/internal/types"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/events"
	"github.com/fadedpez/pointledger/pkg/events/ws"
	"github.com/fadedpez/pointledger/pkg/metrics"
	"github.com/fadedpez/pointledger/pkg/repositories/catalog"
	"github.com/fadedpez/pointledger/pkg/repositories/workflow"
	"github.com/fadedpez/pointledger/pkg/services/deposit"
	"github.com/fadedpez/pointledger/pkg/services/exchange"
	"github.com/fadedpez/pointledger/pkg/services/ledger"
	"github.com/fadedpez/pointledger/pkg/services/premium"
	"github.com/fadedpez/pointledger/pkg/services/review"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// AuditSearcher queries the audit index of ledger entries
type AuditSearcher interface {
	SearchUserEntries(ctx context.Context, userID string, limit int) ([]events.BalanceChanged, error)
}

// Services are the collaborators the handlers call into
type Services struct {
	Ledger   *ledger.Service
	Deposits *deposit.Service
	Exchange *exchange.Service
	Premium  *premium.Service
	Reviews  *review.Gateway
	Catalog  catalog.Repository
	Hub      *ws.Hub
	Metrics  *metrics.Metrics
	// Audit is optional; the search route is only mounted when set
	Audit AuditSearcher
}

// Handlers serves the HTTP API
type Handlers struct {
	ledger   *ledger.Service
	deposits *deposit.Service
	exchange *exchange.Service
	premium  *premium.Service
	reviews  *review.Gateway
	catalog  catalog.Repository
	hub      *ws.Hub
	metrics  *metrics.Metrics
	audit    AuditSearcher
	log      *logging.Logger
}

// NewHandlers creates the HTTP handlers
func NewHandlers(s Services) *Handlers {
	return &Handlers{
		ledger:   s.Ledger,
		deposits: s.Deposits,
		exchange: s.Exchange,
		premium:  s.Premium,
		reviews:  s.Reviews,
		catalog:  s.Catalog,
		hub:      s.Hub,
		metrics:  s.Metrics,
		audit:    s.Audit,
		log:      logging.Default.WithField("component", "api"),
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorResponse carries the stored record alongside the error when a
// workflow reports one, e.g. the existing decision for ALREADY_DECIDED
type errorResponse struct {
	Error   string          `json:"error"`
	Code    types.ErrorCode `json:"code,omitempty"`
	Current interface{}     `json:"current,omitempty"`
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error, current interface{}) {
	status := types.HTTPStatus(err)
	resp := errorResponse{Error: err.Error(), Code: types.CodeOf(err), Current: current}

	var lerr *types.LedgerError
	if types.As(err, &lerr) {
		resp.Error = lerr.Message
	}
	if status >= http.StatusInternalServerError {
		h.log.WithField("path", r.URL.Path).Error("Request failed: %v", err)
		if resp.Code == "" {
			resp.Error = "internal server error"
		}
	}
	writeJSON(w, status, resp)
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return types.WrapError(types.ErrInvalidArgument, "invalid request body", err)
	}
	return nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, types.NewLedgerError(types.ErrInvalidArgument, "limit must be a non-negative integer")
	}
	return limit, nil
}

func filterFrom(r *http.Request) (workflow.RequestFilter, error) {
	limit, err := queryLimit(r)
	if err != nil {
		return workflow.RequestFilter{}, err
	}
	return workflow.RequestFilter{
		UserID: r.URL.Query().Get("user_id"),
		Status: entities.RequestStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	}, nil
}

// OpenAccount creates the caller's account if it does not exist yet
func (h *Handlers) OpenAccount(w http.ResponseWriter, r *http.Request) {
	account, created, err := h.ledger.OpenAccount(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, account)
}

// GetAccount returns the caller's balances
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.GetAccount(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ListEntries returns the caller's ledger history, newest first
func (h *Handlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	l := entities.Ledger(r.URL.Query().Get("ledger"))
	entries, err := h.ledger.ListEntries(r.Context(), UserID(r.Context()), l, limit)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type postingRequest struct {
	UserID      string             `json:"user_id"`
	Ledger      entities.Ledger    `json:"ledger"`
	Amount      decimal.Decimal    `json:"amount"`
	Kind        entities.EntryKind `json:"kind"`
	ReferenceID string             `json:"reference_id"`
	Description string             `json:"description"`
}

func (p postingRequest) posting() ledger.Posting {
	return ledger.Posting{
		UserID:      p.UserID,
		Ledger:      p.Ledger,
		Amount:      p.Amount,
		Kind:        p.Kind,
		ReferenceID: p.ReferenceID,
		Description: p.Description,
	}
}

// Credit adds to a balance on behalf of a trusted service
func (h *Handlers) Credit(w http.ResponseWriter, r *http.Request) {
	var req postingRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	entry, err := h.ledger.Credit(r.Context(), req.posting())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Debit subtracts from a balance on behalf of a trusted service
func (h *Handlers) Debit(w http.ResponseWriter, r *http.Request) {
	var req postingRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	entry, err := h.ledger.Debit(r.Context(), req.posting())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type accrualRequest struct {
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	IntervalIdx    int    `json:"interval_idx"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
}

// Accrue pays a premium member for a chat interval
func (h *Handlers) Accrue(w http.ResponseWriter, r *http.Request) {
	var req accrualRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	entry, err := h.premium.AccruePremiumPoints(r.Context(), req.UserID, req.SessionID, req.IntervalIdx, req.ElapsedSeconds)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type depositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	EvidenceRef string          `json:"evidence_ref"`
}

// SubmitDeposit files a deposit claim for review
func (h *Handlers) SubmitDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	created, err := h.deposits.SubmitDeposit(r.Context(), UserID(r.Context()), req.Amount, req.EvidenceRef)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListMyDeposits returns the caller's deposit requests
func (h *Handlers) ListMyDeposits(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFrom(r)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	filter.UserID = UserID(r.Context())
	reqs, err := h.deposits.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// GetDeposit returns one of the caller's deposit requests
func (h *Handlers) GetDeposit(w http.ResponseWriter, r *http.Request) {
	req, err := h.deposits.GetDeposit(r.Context(), chi.URLParam(r, "requestID"))
	if err == nil && req.UserID != UserID(r.Context()) {
		err = types.NewLedgerError(types.ErrNotFound, "deposit request not found")
	}
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// CancelDeposit withdraws one of the caller's pending deposit requests
func (h *Handlers) CancelDeposit(w http.ResponseWriter, r *http.Request) {
	req, err := h.deposits.CancelDeposit(r.Context(), chi.URLParam(r, "requestID"), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err, req)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListDeposits returns deposit requests for reviewers, pending by default
func (h *Handlers) ListDeposits(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFrom(r)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if filter.Status == "" {
		filter.Status = entities.StatusPending
	}
	reqs, err := h.deposits.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// ListItems returns the withdrawal catalog
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.exchange.ListItems(r.Context())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type exchangeRequest struct {
	ItemID string `json:"item_id"`
}

// RequestExchange spends the caller's points on a withdrawal item
func (h *Handlers) RequestExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	created, err := h.exchange.RequestExchange(r.Context(), UserID(r.Context()), req.ItemID)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListMyExchanges returns the caller's exchanges
func (h *Handlers) ListMyExchanges(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFrom(r)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	filter.UserID = UserID(r.Context())
	reqs, err := h.exchange.ListExchanges(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// ListExchanges returns exchanges for the fulfillment team
func (h *Handlers) ListExchanges(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFrom(r)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	reqs, err := h.exchange.ListExchanges(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// FulfillExchange marks a reward as handed over
func (h *Handlers) FulfillExchange(w http.ResponseWriter, r *http.Request) {
	req, err := h.exchange.MarkFulfilled(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListPlans returns the premium catalog
func (h *Handlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.premium.ListPlans(r.Context())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

// GetMembership returns the caller's premium membership
func (h *Handlers) GetMembership(w http.ResponseWriter, r *http.Request) {
	m, err := h.premium.GetMembership(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type purchaseRequest struct {
	PlanID      string `json:"plan_id"`
	ReferenceID string `json:"reference_id"`
}

// PurchaseSubscription buys a subscription with the caller's points
func (h *Handlers) PurchaseSubscription(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	m, err := h.premium.PurchaseSubscription(r.Context(), UserID(r.Context()), req.PlanID, premium.WithReference(req.ReferenceID))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// PurchaseMicro buys a microtransaction plan with the caller's points
func (h *Handlers) PurchaseMicro(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	result, err := h.premium.PurchaseMicro(r.Context(), UserID(r.Context()), req.PlanID, premium.WithReference(req.ReferenceID))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type purchaseRequestBody struct {
	PlanID       string `json:"plan_id"`
	ContactPhone string `json:"contact_phone"`
}

// SubmitPurchaseRequest asks a reviewer to settle a premium purchase
func (h *Handlers) SubmitPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequestBody
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	created, err := h.premium.SubmitPurchaseRequest(r.Context(), UserID(r.Context()), req.PlanID, req.ContactPhone)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// CancelPurchaseRequest withdraws one of the caller's pending purchase requests
func (h *Handlers) CancelPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.premium.CancelPurchaseRequest(r.Context(), chi.URLParam(r, "requestID"), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err, req)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListPurchaseRequests returns purchase requests for reviewers, pending by default
func (h *Handlers) ListPurchaseRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFrom(r)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if filter.Status == "" {
		filter.Status = entities.StatusPending
	}
	reqs, err := h.premium.ListPurchaseRequests(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

type reviewRequest struct {
	RequestType review.RequestType `json:"request_type"`
	RequestID   string             `json:"request_id"`
	Decision    entities.Decision  `json:"decision"`
	Notes       string             `json:"notes"`
}

// Review applies a reviewer decision
func (h *Handlers) Review(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	outcome, err := h.reviews.Review(r.Context(), review.Decision{
		RequestType: req.RequestType,
		RequestID:   req.RequestID,
		Decision:    req.Decision,
		ReviewerID:  ReviewerID(r.Context()),
		Notes:       req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// PutItem creates or replaces a withdrawal item
func (h *Handlers) PutItem(w http.ResponseWriter, r *http.Request) {
	var item entities.WithdrawalItem
	if err := decode(r, &item); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	item.ID = chi.URLParam(r, "itemID")
	if err := h.catalog.PutItem(r.Context(), &item); err != nil {
		h.writeError(w, r, catalogError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// PutPlan creates or replaces a premium plan
func (h *Handlers) PutPlan(w http.ResponseWriter, r *http.Request) {
	var plan entities.PremiumPlan
	if err := decode(r, &plan); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	plan.ID = chi.URLParam(r, "planID")
	if err := h.catalog.PutPlan(r.Context(), &plan); err != nil {
		h.writeError(w, r, catalogError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// PutExchangeSettings replaces the exchange switches
func (h *Handlers) PutExchangeSettings(w http.ResponseWriter, r *http.Request) {
	var settings entities.ExchangeSettings
	if err := decode(r, &settings); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if err := h.catalog.PutExchangeSettings(r.Context(), &settings); err != nil {
		h.writeError(w, r, catalogError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func catalogError(err error) error {
	if errors.Is(err, catalog.ErrInvalidEntry) {
		return types.WrapError(types.ErrInvalidArgument, "invalid catalog entry", err)
	}
	return types.WrapError(types.ErrStoreUnavailable, "failed to update catalog", err)
}

// Reconcile compares a user's balances with their entry log
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	results, err := h.ledger.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// ExpireMemberships runs the expiry sweep immediately
func (h *Handlers) ExpireMemberships(w http.ResponseWriter, r *http.Request) {
	count, err := h.premium.ExpireMemberships(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": count})
}

// SearchAudit returns a user's most recent indexed ledger events
func (h *Handlers) SearchAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	found, err := h.audit.SearchUserEntries(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		h.writeError(w, r, types.WrapError(types.ErrStoreUnavailable, "audit search failed", err), nil)
		return
	}
	writeJSON(w, http.StatusOK, found)
}
