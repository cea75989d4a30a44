/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the loyalty domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Ledger:   VisitDTO, RedemptionDTO, BalanceDTO, QueueDTO
  Catalog:  RewardDTO, RewardRequest
  Admin:    AuditDTO, OverrideRequest, ReconcileDTO
  Outcome:  OutcomeResponse, ErrorResponse

VALIDATION:
  Validation is done by the loyalty services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - loyalty/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sebastianahumada1/Leal/livesync"
	"github.com/sebastianahumada1/Leal/loyalty"
)

const timeFormat = time.RFC3339

// =============================================================================
// LEDGER
// =============================================================================

type VisitDTO struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	LocationCode string          `json:"location_code"`
	Status       string          `json:"status"`
	CollectedBy  *string         `json:"collected_by,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

// CreateVisitRequest is a customer's visit claim.
type CreateVisitRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	LocationCode string          `json:"location_code"`
}

type GrantVisitRequest struct {
	LocationCode string `json:"location_code"`
}

type RedemptionDTO struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	RewardID    string  `json:"reward_id"`
	Status      string  `json:"status"`
	ProcessedBy *string `json:"processed_by,omitempty"`
	CreatedAt   string  `json:"created_at"`
	RedeemedAt  *string `json:"redeemed_at,omitempty"`
}

type CreateRedemptionRequest struct {
	RewardID string `json:"reward_id"`
}

type BalanceDTO struct {
	Revision      int64  `json:"revision"`
	UserID        string `json:"user_id"`
	CurrentStamps int    `json:"current_stamps"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// QueueDTO is the staff live view.
type QueueDTO struct {
	Revision    int64           `json:"revision"`
	FetchedAt   string          `json:"fetched_at"`
	Visits      []VisitDTO      `json:"visits"`
	Redemptions []RedemptionDTO `json:"redemptions"`
}

// =============================================================================
// CATALOG
// =============================================================================

type RewardDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	RequiredStamps int    `json:"required_stamps"`
	Icon           string `json:"icon"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// RewardRequest creates or replaces a catalog entry. Active defaults to true.
type RewardRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	RequiredStamps int    `json:"required_stamps"`
	Icon           string `json:"icon"`
	Active         *bool  `json:"active"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

// =============================================================================
// ADMIN
// =============================================================================

type OverrideRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type AuditDTO struct {
	ID      string `json:"id"`
	At      string `json:"at"`
	ActorID string `json:"actor_id"`
	Action  string `json:"action"`
	Kind    string `json:"kind"`
	ClaimID string `json:"claim_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type DriftDTO struct {
	UserID   string `json:"user_id"`
	Cached   int    `json:"cached"`
	Computed int    `json:"computed"`
}

type ReconcileDTO struct {
	Checked   int        `json:"checked"`
	Corrected []DriftDTO `json:"corrected"`
	Revision  int64      `json:"revision,omitempty"`
}

// =============================================================================
// OUTCOMES
// =============================================================================

// OutcomeResponse wraps the result of a state-changing call. Data is the
// claim as it now stands, also when another actor got there first.
type OutcomeResponse struct {
	Outcome loyalty.Outcome `json:"outcome"`
	Data    any             `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ErrorResponse is returned for every failed call.
type ErrorResponse struct {
	Outcome   loyalty.Outcome `json:"outcome"`
	Error     string          `json:"error"`
	Details   string          `json:"details,omitempty"`
	Available *int            `json:"available,omitempty"`
	Required  *int            `json:"required,omitempty"`
	Existing  string          `json:"existing_id,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func toVisitDTO(v loyalty.VisitClaim) VisitDTO {
	return VisitDTO{
		ID:           string(v.ID),
		UserID:       string(v.UserID),
		Amount:       v.Amount,
		LocationCode: v.LocationCode,
		Status:       string(v.Status),
		CollectedBy:  v.CollectedBy,
		CreatedAt:    formatTime(v.CreatedAt),
	}
}

func toVisitDTOs(vs []loyalty.VisitClaim) []VisitDTO {
	out := make([]VisitDTO, len(vs))
	for i, v := range vs {
		out[i] = toVisitDTO(v)
	}
	return out
}

func toRedemptionDTO(r loyalty.RedemptionClaim) RedemptionDTO {
	dto := RedemptionDTO{
		ID:          string(r.ID),
		UserID:      string(r.UserID),
		RewardID:    string(r.RewardID),
		Status:      string(r.Status),
		ProcessedBy: r.ProcessedBy,
		CreatedAt:   formatTime(r.CreatedAt),
	}
	if r.RedeemedAt != nil {
		s := formatTime(*r.RedeemedAt)
		dto.RedeemedAt = &s
	}
	return dto
}

func toRedemptionDTOs(rs []loyalty.RedemptionClaim) []RedemptionDTO {
	out := make([]RedemptionDTO, len(rs))
	for i, r := range rs {
		out[i] = toRedemptionDTO(r)
	}
	return out
}

func toRewardDTO(r loyalty.RewardDefinition) RewardDTO {
	return RewardDTO{
		ID:             string(r.ID),
		Name:           r.Name,
		Description:    r.Description,
		RequiredStamps: r.RequiredStamps,
		Icon:           r.Icon,
		Active:         r.Active,
		CreatedAt:      formatTime(r.CreatedAt),
		UpdatedAt:      formatTime(r.UpdatedAt),
	}
}

func toRewardDTOs(rs []loyalty.RewardDefinition) []RewardDTO {
	out := make([]RewardDTO, len(rs))
	for i, r := range rs {
		out[i] = toRewardDTO(r)
	}
	return out
}

func toBalanceDTO(rev int64, b loyalty.UserBalance) BalanceDTO {
	return BalanceDTO{
		Revision:      rev,
		UserID:        string(b.UserID),
		CurrentStamps: b.CurrentStamps,
		UpdatedAt:     formatTime(b.UpdatedAt),
	}
}

func toAuditDTOs(es []loyalty.AuditEntry) []AuditDTO {
	out := make([]AuditDTO, len(es))
	for i, e := range es {
		out[i] = AuditDTO{
			ID:      e.ID,
			At:      formatTime(e.At),
			ActorID: e.ActorID,
			Action:  string(e.Action),
			Kind:    string(e.Kind),
			ClaimID: e.ClaimID,
			UserID:  string(e.UserID),
			From:    string(e.From),
			To:      string(e.To),
			Reason:  e.Reason,
		}
	}
	return out
}

func toQueueDTO(s livesync.Snapshot[livesync.Queue]) QueueDTO {
	return QueueDTO{
		Revision:    s.Revision,
		FetchedAt:   formatTime(s.FetchedAt),
		Visits:      toVisitDTOs(s.Data.Visits),
		Redemptions: toRedemptionDTOs(s.Data.Redemptions),
	}
}

func toReconcileDTO(r loyalty.ReconcileReport) ReconcileDTO {
	dto := ReconcileDTO{Checked: r.Checked, Corrected: make([]DriftDTO, len(r.Corrected)), Revision: r.Revision}
	for i, d := range r.Corrected {
		dto.Corrected[i] = DriftDTO{UserID: string(d.UserID), Cached: d.Cached, Computed: d.Computed}
	}
	return dto
}
