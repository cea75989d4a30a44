/*
handlers.go - HTTP API handlers for the loyalty ledger

PURPOSE:
  Exposes the loyalty services via REST API. Handles HTTP request/response
  and JSON serialization, and delegates every decision to package loyalty.

ENDPOINTS:
  Customer (actor = customer id):
    GET    /api/me/balance              Cached stamp balance (ETag = revision)
    GET    /api/me/visits               Own visit claims, newest first
    POST   /api/me/visits               Claim a visit
    GET    /api/me/redemptions          Own redemptions, newest first
    POST   /api/me/redemptions          Request a reward
    GET    /api/rewards                 Active catalog, cheapest first

  Staff (actor = staff id):
    GET    /api/staff/queue             Live pending queue (ETag = revision)
    GET    /api/staff/visits/pending    Pending visits, oldest first
    GET    /api/staff/visits/history    Recent visits (?limit=)
    POST   /api/staff/visits/{id}/approve
    POST   /api/staff/visits/{id}/reject
    POST   /api/staff/users/{id}/grant  Stamp collected in person
    GET    /api/staff/redemptions/pending
    GET    /api/staff/redemptions/history
    POST   /api/staff/redemptions/{id}/approve
    POST   /api/staff/redemptions/{id}/reject

  Admin (actor = admin id):
    GET    /api/admin/rewards           Full catalog
    POST   /api/admin/rewards           Create reward
    PUT    /api/admin/rewards/{id}      Replace reward
    DELETE /api/admin/rewards/{id}      Delete unreferenced reward
    POST   /api/admin/rewards/{id}/active
    POST   /api/admin/visits/{id}/override
    GET    /api/admin/audit             Audit log, newest first
    POST   /api/admin/reconcile         Recompute every cached balance
    POST   /api/admin/seed              Load the demo catalog

OUTCOMES:
  Every mutation answers with an outcome the UI renders:
  - 200/201: success
  - 200:     already_processed, with the claim as it now stands
  - 400:     validation_error
  - 404:     not_found
  - 409:     duplicate_request, reward_in_use
  - 422:     insufficient_balance
  - 503:     store_error (retry)

SEE ALSO:
  - dto.go:    Request/response data structures
  - actor.go:  Caller identity
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/sebastianahumada1/Leal/livesync"
	"github.com/sebastianahumada1/Leal/loyalty"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Services *loyalty.Services
	Queue    *livesync.Poller[livesync.Queue]
	Metrics  *Metrics
}

// NewHandler wires handlers to the services. A nil queue gets a poller of
// its own that is refreshed on demand.
func NewHandler(svc *loyalty.Services, queue *livesync.Poller[livesync.Queue], metrics *Metrics) *Handler {
	if queue == nil {
		queue = livesync.NewPoller("staff-queue", livesync.QueueFetcher(svc))
	}
	return &Handler{Services: svc, Queue: queue, Metrics: metrics}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	rev, err := h.Services.Store.Revision(r.Context())
	if err != nil {
		writeDomainError(w, loyalty.WrapStore("health", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "revision": rev})
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// GetMyBalance answers 304 while the ledger revision has not moved.
func (h *Handler) GetMyBalance(w http.ResponseWriter, r *http.Request) {
	fetch := livesync.BalanceFetcher(h.Services, loyalty.UserID(actorFrom(r)))
	rev, b, err := fetch(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	etag := revisionETag(rev)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(rev, b))
}

func (h *Handler) ListMyVisits(w http.ResponseWriter, r *http.Request) {
	visits, err := h.Services.Visits.ListForUser(r.Context(), loyalty.UserID(actorFrom(r)))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVisitDTOs(visits))
}

// CreateVisit claims a qualifying purchase.
// POST /api/me/visits
func (h *Handler) CreateVisit(w http.ResponseWriter, r *http.Request) {
	var req CreateVisitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := h.Services.Visits.CreateVisit(r.Context(), loyalty.UserID(actorFrom(r)), req.Amount, req.LocationCode)
	h.Metrics.claim(loyalty.KindVisit, err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, toVisitDTO(*v))
}

func (h *Handler) ListMyRedemptions(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Services.Redemptions.ListForUser(r.Context(), loyalty.UserID(actorFrom(r)))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(rs))
}

// RequestRedemption asks to exchange stamps for a reward.
// POST /api/me/redemptions
func (h *Handler) RequestRedemption(w http.ResponseWriter, r *http.Request) {
	var req CreateRedemptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rc, err := h.Services.Redemptions.RequestRedemption(r.Context(), loyalty.UserID(actorFrom(r)), loyalty.RewardID(req.RewardID))
	h.Metrics.claim(loyalty.KindRedemption, err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, toRedemptionDTO(*rc))
}

func (h *Handler) ListActiveRewards(w http.ResponseWriter, r *http.Request) {
	h.listRewards(w, r, true)
}

func (h *Handler) listRewards(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	rewards, err := h.Services.Catalog.ListRewards(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTOs(rewards))
}

// =============================================================================
// STAFF HANDLERS
// =============================================================================

func revisionETag(rev int64) string {
	return fmt.Sprintf("%q", strconv.FormatInt(rev, 10))
}

// GetQueue serves the latest live snapshot of everything pending.
// Clients send If-None-Match with the last revision they rendered.
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.Queue.Latest()
	if !ok {
		h.Queue.Refresh(r.Context())
		if snap, ok = h.Queue.Latest(); !ok {
			writeDomainError(w, loyalty.WrapStore("load queue", errors.New("no snapshot available")))
			return
		}
	}

	etag := revisionETag(snap.Revision)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, toQueueDTO(snap))
}

func (h *Handler) ListPendingVisits(w http.ResponseWriter, r *http.Request) {
	visits, err := h.Services.Visits.ListPending(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVisitDTOs(visits))
}

// ListVisitHistory returns recent visits of every status.
// GET /api/staff/visits/history?limit=50
func (h *Handler) ListVisitHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	visits, err := h.Services.Visits.ListHistory(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVisitDTOs(visits))
}

// ApproveVisit approves a pending visit and credits one stamp.
// POST /api/staff/visits/{id}/approve
func (h *Handler) ApproveVisit(w http.ResponseWriter, r *http.Request) {
	h.decideVisit(w, r, loyalty.StatusApproved)
}

// RejectVisit rejects a pending visit.
// POST /api/staff/visits/{id}/reject
func (h *Handler) RejectVisit(w http.ResponseWriter, r *http.Request) {
	h.decideVisit(w, r, loyalty.StatusRejected)
}

func (h *Handler) decideVisit(w http.ResponseWriter, r *http.Request, to loyalty.Status) {
	ctx := r.Context()
	id := loyalty.VisitID(chi.URLParam(r, "id"))
	decide := h.Services.Workflow.ApproveVisit
	if to == loyalty.StatusRejected {
		decide = h.Services.Workflow.RejectVisit
	}

	v, err := decide(ctx, id, actorFrom(r))
	h.Metrics.decision(loyalty.KindVisit, to, err)
	if loyalty.IsAlreadyProcessed(err) {
		current, getErr := h.Services.Visits.Get(ctx, id)
		if getErr != nil {
			writeDomainError(w, getErr)
			return
		}
		writeAlreadyProcessed(w, err, toVisitDTO(*current))
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOutcome(w, http.StatusOK, toVisitDTO(*v))
}

// GrantVisit records an approved visit for a customer at the counter.
// POST /api/staff/users/{id}/grant
func (h *Handler) GrantVisit(w http.ResponseWriter, r *http.Request) {
	var req GrantVisitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := h.Services.Visits.GrantVisit(r.Context(), loyalty.UserID(chi.URLParam(r, "id")), actorFrom(r), req.LocationCode)
	h.Metrics.decision(loyalty.KindVisit, loyalty.StatusApproved, err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, toVisitDTO(*v))
}

func (h *Handler) ListPendingRedemptions(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Services.Redemptions.ListPending(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(rs))
}

func (h *Handler) ListRedemptionHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	rs, err := h.Services.Redemptions.ListApprovedHistory(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(rs))
}

// ApproveRedemption deducts the reward's stamps after re-checking the balance.
// POST /api/staff/redemptions/{id}/approve
func (h *Handler) ApproveRedemption(w http.ResponseWriter, r *http.Request) {
	h.decideRedemption(w, r, loyalty.StatusApproved)
}

// RejectRedemption leaves the balance untouched.
// POST /api/staff/redemptions/{id}/reject
func (h *Handler) RejectRedemption(w http.ResponseWriter, r *http.Request) {
	h.decideRedemption(w, r, loyalty.StatusRejected)
}

func (h *Handler) decideRedemption(w http.ResponseWriter, r *http.Request, to loyalty.Status) {
	ctx := r.Context()
	id := loyalty.RedemptionID(chi.URLParam(r, "id"))
	decide := h.Services.Workflow.ApproveRedemption
	if to == loyalty.StatusRejected {
		decide = h.Services.Workflow.RejectRedemption
	}

	rc, err := decide(ctx, id, actorFrom(r))
	h.Metrics.decision(loyalty.KindRedemption, to, err)
	if loyalty.IsAlreadyProcessed(err) {
		current, getErr := h.Services.Redemptions.Get(ctx, id)
		if getErr != nil {
			writeDomainError(w, getErr)
			return
		}
		writeAlreadyProcessed(w, err, toRedemptionDTO(*current))
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOutcome(w, http.StatusOK, toRedemptionDTO(*rc))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) ListAllRewards(w http.ResponseWriter, r *http.Request) {
	h.listRewards(w, r, false)
}

// CreateReward adds a catalog entry.
// POST /api/admin/rewards
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var req RewardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	reward, err := h.Services.Catalog.CreateReward(r.Context(), rewardInput(req, active))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, toRewardDTO(*reward))
}

// UpdateReward replaces a catalog entry. Omitting "active" keeps it as is.
// PUT /api/admin/rewards/{id}
func (h *Handler) UpdateReward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := loyalty.RewardID(chi.URLParam(r, "id"))

	var req RewardRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var active bool
	if req.Active != nil {
		active = *req.Active
	} else {
		existing, err := h.Services.Catalog.GetReward(ctx, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		active = existing.Active
	}

	reward, err := h.Services.Catalog.UpdateReward(ctx, id, rewardInput(req, active))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOutcome(w, http.StatusOK, toRewardDTO(*reward))
}

// SetRewardActive shows or hides a reward without touching the rest.
// POST /api/admin/rewards/{id}/active
func (h *Handler) SetRewardActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reward, err := h.Services.Catalog.SetActive(r.Context(), loyalty.RewardID(chi.URLParam(r, "id")), req.Active)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOutcome(w, http.StatusOK, toRewardDTO(*reward))
}

// DeleteReward removes a reward no redemption refers to.
// DELETE /api/admin/rewards/{id}
func (h *Handler) DeleteReward(w http.ResponseWriter, r *http.Request) {
	if err := h.Services.Catalog.DeleteReward(r.Context(), loyalty.RewardID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, err)
		return
	}
	writeOutcome(w, http.StatusOK, nil)
}

// OverrideVisit corrects a decided visit. A reason is mandatory.
// POST /api/admin/visits/{id}/override
func (h *Handler) OverrideVisit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := loyalty.VisitID(chi.URLParam(r, "id"))

	var req OverrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	to := loyalty.Status(req.Status)
	v, err := h.Services.Workflow.OverrideVisit(ctx, id, actorFrom(r), to, req.Reason)
	h.Metrics.decision(loyalty.KindVisit, to, err)
	if loyalty.IsAlreadyProcessed(err) {
		current, getErr := h.Services.Visits.Get(ctx, id)
		if getErr != nil {
			writeDomainError(w, getErr)
			return
		}
		writeAlreadyProcessed(w, err, toVisitDTO(*current))
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOutcome(w, http.StatusOK, toVisitDTO(*v))
}

// ListAudit returns audit entries, newest first.
// GET /api/admin/audit?user_id=&claim_id=&action=&limit=
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := loyalty.AuditFilter{
		UserID:  loyalty.UserID(q.Get("user_id")),
		ClaimID: q.Get("claim_id"),
		Limit:   limit,
	}
	for _, a := range q["action"] {
		f.Actions = append(f.Actions, loyalty.AuditAction(a))
	}

	entries, err := h.Services.Store.ListAudit(r.Context(), f)
	if err != nil {
		writeDomainError(w, loyalty.WrapStore("list audit", err))
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// Reconcile recomputes every cached balance now instead of waiting for
// the scheduler.
// POST /api/admin/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Services.Balances.Reconcile(r.Context())
	h.Metrics.corrected(len(report.Corrected))
	if err != nil {
		writeDomainError(w, loyalty.WrapStore("reconcile", err))
		return
	}
	writeOutcome(w, http.StatusOK, toReconcileDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func rewardInput(req RewardRequest, active bool) loyalty.RewardInput {
	return loyalty.RewardInput{
		Name:           req.Name,
		Description:    req.Description,
		RequiredStamps: req.RequiredStamps,
		Icon:           req.Icon,
		Active:         active,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeOutcome(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, OutcomeResponse{Outcome: loyalty.OutcomeSuccess, Data: data})
}

// writeAlreadyProcessed answers a lost race. It is not a failure: the
// client refreshes and shows the claim as it now stands.
func writeAlreadyProcessed(w http.ResponseWriter, err error, current any) {
	log.WithError(err).Info("decision lost to another actor")
	writeJSON(w, http.StatusOK, OutcomeResponse{
		Outcome: loyalty.OutcomeAlreadyProcessed,
		Data:    current,
		Message: err.Error(),
	})
}

func statusFor(o loyalty.Outcome) int {
	switch o {
	case loyalty.OutcomeSuccess, loyalty.OutcomeAlreadyProcessed:
		return http.StatusOK
	case loyalty.OutcomeValidationError:
		return http.StatusBadRequest
	case loyalty.OutcomeNotFound:
		return http.StatusNotFound
	case loyalty.OutcomeDuplicateRequest, loyalty.OutcomeRewardInUse:
		return http.StatusConflict
	case loyalty.OutcomeInsufficientBalance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	outcome := loyalty.Classify(err)
	resp := ErrorResponse{Outcome: outcome, Error: string(outcome), Details: err.Error()}

	var insufficient *loyalty.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		resp.Available = &insufficient.Available
		resp.Required = &insufficient.Required
	}
	var dup *loyalty.DuplicateRequestError
	if errors.As(err, &dup) {
		resp.Existing = string(dup.ExistingID)
	}
	if outcome == loyalty.OutcomeStoreError {
		log.WithError(err).Error("request failed")
		resp.Details = "temporary failure, retry"
	}
	writeJSON(w, statusFor(outcome), resp)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Outcome: loyalty.OutcomeValidationError, Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads the body into v. An empty body leaves v zero.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
		return 0, false
	}
	return n, true
}
