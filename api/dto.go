/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP API. Domain types never leave the package
  directly, so fields like ActivationCodeHash can not leak.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

VALIDATION:
  Request types carry validate tags checked by validation.ValidateStruct
  before any store access. Rules needing the store (uniqueness, tenant
  scope) are enforced by the points package and the store.

SEE ALSO:
  - handlers.go: uses these types
  - validation/validator.go: tag rules and messages
*/
package api

import (
	"time"

	"github.com/warp/loyalty-engine/points"
)

// =============================================================================
// POINTS OPERATIONS
// =============================================================================

// ClientRefRequest references a client by record id or by card id.
type ClientRefRequest struct {
	ClientID   string `json:"clientId" validate:"required_without=CardID"`
	CardID     string `json:"cardId" validate:"omitempty,cardid"`
	BusinessID string `json:"businessId"`
}

func (r ClientRefRequest) ref() points.ClientRef {
	return points.ClientRef{
		ID:         points.ClientID(r.ClientID),
		CardID:     r.CardID,
		BusinessID: points.BusinessID(r.BusinessID),
	}
}

// ItemOperationRequest applies a catalog item.
type ItemOperationRequest struct {
	ClientRefRequest
	ItemID string `json:"itemId" validate:"required"`
	Note   string `json:"note" validate:"max=500"`
}

// AdjustmentRequest applies a manual delta.
type AdjustmentRequest struct {
	ClientRefRequest
	Delta int64  `json:"delta" validate:"ne=0"`
	Note  string `json:"note" validate:"max=500"`
}

// ReverseRequest is the optional body of an entry reversal.
type ReverseRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// OperationResultDTO is returned by every points operation.
type OperationResultDTO struct {
	BeforePoints int64    `json:"beforePoints"`
	AfterPoints  int64    `json:"afterPoints"`
	Entry        EntryDTO `json:"entry"`
}

// EntryDTO is one ledger row.
type EntryDTO struct {
	ID           string  `json:"id"`
	ClientID     string  `json:"clientId"`
	BusinessID   string  `json:"businessId"`
	ItemID       *string `json:"itemId"`
	Points       int64   `json:"points"`
	BeforePoints int64   `json:"beforePoints"`
	AfterPoints  int64   `json:"afterPoints"`
	ActorID      string  `json:"actorId,omitempty"`
	Note         string  `json:"note"`
	CreatedAt    string  `json:"createdAt"`
}

// EntryPageDTO is a page of ledger rows, newest first.
type EntryPageDTO struct {
	Entries []EntryDTO `json:"entries"`
	Total   int        `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
}

// =============================================================================
// BUSINESSES
// =============================================================================

type BusinessDTO struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Slug                string `json:"slug"`
	AllowNegativePoints bool   `json:"allowNegativePoints"`
	HasActivationCode   bool   `json:"hasActivationCode"`
	CreatedAt           string `json:"createdAt"`
	UpdatedAt           string `json:"updatedAt"`
}

type CreateBusinessRequest struct {
	Name                string `json:"name" validate:"required,max=120"`
	AllowNegativePoints bool   `json:"allowNegativePoints"`
	ActivationCode      string `json:"activationCode" validate:"omitempty,min=4,max=64"`
}

// UpdateBusinessRequest changes only the fields that are present.
// An empty ActivationCode clears the code.
type UpdateBusinessRequest struct {
	Name                *string `json:"name"`
	AllowNegativePoints *bool   `json:"allowNegativePoints"`
	ActivationCode      *string `json:"activationCode"`
}

type StatsDTO struct {
	TotalClients      int64  `json:"totalClients"`
	ActiveClients     int64  `json:"activeClients"`
	PointsIssued      int64  `json:"pointsIssued"`
	PointsRedeemed    int64  `json:"pointsRedeemed"`
	OutstandingPoints int64  `json:"outstandingPoints"`
	EntryCount        int64  `json:"entryCount"`
	AverageBalance    string `json:"averageBalance"`
	RedemptionRate    string `json:"redemptionRate"`
}

// =============================================================================
// ITEMS
// =============================================================================

type ItemDTO struct {
	ID          string `json:"id"`
	BusinessID  string `json:"businessId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Points      int64  `json:"points"`
	Kind        string `json:"kind"`
	Visible     bool   `json:"visible"`
}

type ItemRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
	Points      int64  `json:"points" validate:"gte=1"`
	Kind        string `json:"kind" validate:"required,oneof=earn redeem"`
	Visible     *bool  `json:"visible"`
}

// =============================================================================
// CLIENTS
// =============================================================================

type ClientDTO struct {
	ID         string         `json:"id"`
	BusinessID string         `json:"businessId"`
	CardID     string         `json:"cardId"`
	Name       string         `json:"name"`
	Phone      string         `json:"phone"`
	Email      string         `json:"email"`
	Points     int64          `json:"points"`
	Active     bool           `json:"active"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"createdAt"`
}

type CreateClientRequest struct {
	Name     string         `json:"name" validate:"max=120"`
	Phone    string         `json:"phone" validate:"max=40"`
	Email    string         `json:"email" validate:"omitempty,email"`
	Metadata map[string]any `json:"metadata"`
	Active   *bool          `json:"active"`
}

type UpdateClientRequest struct {
	Name     string         `json:"name" validate:"max=120"`
	Phone    string         `json:"phone" validate:"max=40"`
	Email    string         `json:"email" validate:"omitempty,email"`
	Metadata map[string]any `json:"metadata"`
}

type BulkClientsRequest struct {
	Count int `json:"count" validate:"gte=1,lte=500"`
}

type ClientPageDTO struct {
	Clients []ClientDTO `json:"clients"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

// =============================================================================
// USERS
// =============================================================================

type UserDTO struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	BusinessID *string `json:"businessId"`
	CreatedAt  string  `json:"createdAt"`
}

type CreateUserRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"max=120"`
	Role       string `json:"role" validate:"required,oneof=admin business"`
	BusinessID string `json:"businessId" validate:"required_if=Role business"`
}

// =============================================================================
// PUBLIC DASHBOARD
// =============================================================================

type PublicCardDTO struct {
	Business struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"business"`
	Client struct {
		CardID string `json:"cardId"`
		Name   string `json:"name"`
		Points int64  `json:"points"`
		Active bool   `json:"active"`
	} `json:"client"`
	Items         []ItemDTO  `json:"items"`
	RecentEntries []EntryDTO `json:"recentEntries"`
}

type ActivateCardRequest struct {
	ActivationCode string `json:"activationCode" validate:"required"`
	Name           string `json:"name" validate:"max=120"`
	Phone          string `json:"phone" validate:"max=40"`
	Email          string `json:"email" validate:"omitempty,email"`
}

// =============================================================================
// SCENARIOS AND AUDIT
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}

// LoadScenarioResponse lists the demo users with ready-to-use tokens.
type LoadScenarioResponse struct {
	Status   string            `json:"status"`
	Scenario string            `json:"scenario"`
	Tokens   map[string]string `json:"tokens"`
}

type DriftDTO struct {
	ClientID   string `json:"clientId"`
	BusinessID string `json:"businessId"`
	Balance    int64  `json:"balance"`
	LedgerTail int64  `json:"ledgerTail"`
	EntryID    string `json:"entryId,omitempty"`
	Reason     string `json:"reason"`
}

type AuditReportDTO struct {
	StartedAt  string     `json:"startedAt"`
	FinishedAt string     `json:"finishedAt"`
	Clients    int        `json:"clients"`
	Entries    int        `json:"entries"`
	Drifts     []DriftDTO `json:"drifts"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toEntryDTO(e points.Entry) EntryDTO {
	dto := EntryDTO{
		ID:           string(e.ID),
		ClientID:     string(e.ClientID),
		BusinessID:   string(e.BusinessID),
		Points:       e.Points,
		BeforePoints: e.BeforePoints,
		AfterPoints:  e.AfterPoints,
		ActorID:      string(e.ActorID),
		Note:         e.Note,
		CreatedAt:    formatTime(e.CreatedAt),
	}
	if e.ItemID != nil {
		id := string(*e.ItemID)
		dto.ItemID = &id
	}
	return dto
}

func toEntryDTOs(entries []points.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toResultDTO(r points.Result) OperationResultDTO {
	return OperationResultDTO{
		BeforePoints: r.BeforePoints,
		AfterPoints:  r.AfterPoints,
		Entry:        toEntryDTO(r.Entry),
	}
}

func toBusinessDTO(b points.Business) BusinessDTO {
	return BusinessDTO{
		ID:                  string(b.ID),
		Name:                b.Name,
		Slug:                b.Slug,
		AllowNegativePoints: b.AllowNegativePoints,
		HasActivationCode:   b.HasActivationCode(),
		CreatedAt:           formatTime(b.CreatedAt),
		UpdatedAt:           formatTime(b.UpdatedAt),
	}
}

func toItemDTO(i points.Item) ItemDTO {
	return ItemDTO{
		ID:          string(i.ID),
		BusinessID:  string(i.BusinessID),
		Name:        i.Name,
		Description: i.Description,
		Points:      i.Points,
		Kind:        string(i.Kind),
		Visible:     i.Visible,
	}
}

func toItemDTOs(items []points.Item) []ItemDTO {
	dtos := make([]ItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item)
	}
	return dtos
}

func toClientDTO(c points.Client) ClientDTO {
	return ClientDTO{
		ID:         string(c.ID),
		BusinessID: string(c.BusinessID),
		CardID:     c.CardID,
		Name:       c.Name,
		Phone:      c.Phone,
		Email:      c.Email,
		Points:     c.Points,
		Active:     c.Active,
		Metadata:   c.Metadata,
		CreatedAt:  formatTime(c.CreatedAt),
	}
}

func toUserDTO(u points.User) UserDTO {
	dto := UserDTO{
		ID:        string(u.ID),
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		CreatedAt: formatTime(u.CreatedAt),
	}
	if u.BusinessID != nil {
		id := string(*u.BusinessID)
		dto.BusinessID = &id
	}
	return dto
}
