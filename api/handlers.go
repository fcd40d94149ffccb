/*
handlers.go - HTTP API handlers for the loyalty points engine

PURPOSE:
  Exposes the points engine and its collaborators over REST. Handlers
  parse and validate requests, resolve references through points.Scope,
  delegate to the engine or the store, and serialize responses.

ENDPOINTS:
  Points:
    POST   /api/points/operations            Apply an earn/redeem item
    POST   /api/points/adjustments           Apply a manual delta
    POST   /api/points/entries/{id}/reverse  Counter-entry for an entry

  Businesses:
    GET    /api/businesses                   List (admin: all, operator: own)
    POST   /api/businesses                   Create (admin)
    GET    /api/businesses/{id}              Get
    PUT    /api/businesses/{id}              Update
    DELETE /api/businesses/{id}              Cascade delete (admin)
    POST   /api/businesses/{id}/slug         Regenerate slug (admin)
    GET    /api/businesses/{id}/stats        Dashboard numbers
    GET    /api/businesses/{id}/entries      Business ledger

  Items:
    GET    /api/businesses/{id}/items        List (?visible=true)
    POST   /api/businesses/{id}/items        Create
    PUT    /api/items/{id}                   Update
    DELETE /api/items/{id}                   Delete (entries keep history)

  Clients:
    GET    /api/businesses/{id}/clients      List (?search=&limit=&offset=)
    POST   /api/businesses/{id}/clients      Create with allocated card id
    POST   /api/businesses/{id}/clients/bulk Pre-create inactive cards
    GET    /api/clients/{id}                 Get
    PUT    /api/clients/{id}                 Update profile (never points)
    GET    /api/clients/{id}/entries         Client ledger
    GET    /api/clients/{id}/qr              PNG QR code of the public card

  Users:
    GET    /api/users                        List
    POST   /api/users                        Create (admin)

ERROR HANDLING:
  All errors go through writeError (errors.go), which maps the points
  error taxonomy to HTTP statuses.

SEE ALSO:
  - dto.go: request/response data structures
  - public.go: unauthenticated card dashboard
  - scenarios.go: demo scenario loaders
  - server.go: router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/loyalty-engine/points"
	"github.com/warp/loyalty-engine/store/sqlite"
	"github.com/warp/loyalty-engine/validation"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Engine    *points.Engine
	Scope     *points.Scope
	Allocator *points.Allocator
	Auth      *Authenticator
	Auditor   *LedgerAuditor
	Log       *zap.Logger

	// PublicBaseURL prefixes the card links encoded in QR codes.
	PublicBaseURL string
	Now           func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over store.
func NewHandler(store *sqlite.Store, auth *Authenticator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:         store,
		Engine:        points.NewEngine(store, log),
		Scope:         points.NewScope(store),
		Allocator:     points.NewAllocator(store),
		Auth:          auth,
		Auditor:       NewLedgerAuditor(store, log),
		Log:           log.Named("api"),
		PublicBaseURL: "http://localhost:8080",
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// POINTS OPERATIONS
// =============================================================================

// ApplyOperation applies an earn or redeem item to a client.
func (h *Handler) ApplyOperation(w http.ResponseWriter, r *http.Request) {
	var req ItemOperationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	caller := callerFrom(ctx)
	clientID, err := h.operationClient(ctx, caller, req.ClientRefRequest)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.Engine.ApplyItem(ctx, points.ItemOperation{
		ClientID: clientID,
		ItemID:   points.ItemID(req.ItemID),
		Actor:    caller,
		Note:     req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(result))
}

// ApplyAdjustment applies a manual delta to a client.
func (h *Handler) ApplyAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	caller := callerFrom(ctx)
	clientID, err := h.operationClient(ctx, caller, req.ClientRefRequest)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.Engine.ApplyManual(ctx, points.ManualOperation{
		ClientID: clientID,
		Delta:    req.Delta,
		Actor:    caller,
		Note:     req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(result))
}

// ReverseEntry appends a counter-entry for an existing entry.
func (h *Handler) ReverseEntry(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	caller := callerFrom(ctx)
	entry, err := h.Scope.ResolveEntry(ctx, caller, points.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.Engine.Reverse(ctx, points.ReverseOperation{
		EntryID: entry.ID,
		Actor:   caller,
		Note:    req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(result))
}

// =============================================================================
// BUSINESS ENDPOINTS
// =============================================================================

// ListBusinesses returns every business for admins and the own one for operators.
func (h *Handler) ListBusinesses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := callerFrom(ctx)

	var businesses []points.Business
	if caller.IsAdmin() {
		all, err := h.Store.ListBusinesses(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		businesses = all
	} else {
		b, err := h.Scope.ResolveBusiness(ctx, caller, caller.BusinessID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		businesses = []points.Business{*b}
	}

	dtos := make([]BusinessDTO, len(businesses))
	for i, b := range businesses {
		dtos[i] = toBusinessDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBusiness creates a tenant with a unique slug.
func (h *Handler) CreateBusiness(w http.ResponseWriter, r *http.Request) {
	var req CreateBusinessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	name := strings.TrimSpace(req.Name)
	slug, err := points.UniqueSlug(ctx, h.Store, name, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := points.HashActivationCode(req.ActivationCode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := h.Now()
	b := points.Business{
		ID:                  points.BusinessID(points.NewID()),
		Name:                name,
		Slug:                slug,
		AllowNegativePoints: req.AllowNegativePoints,
		ActivationCodeHash:  hash,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := h.Store.CreateBusiness(ctx, b); err != nil {
		writeError(w, r, err)
		return
	}

	h.Log.Info("business created", zap.String("business_id", string(b.ID)), zap.String("slug", b.Slug))
	writeJSON(w, http.StatusCreated, toBusinessDTO(b))
}

// GetBusiness returns one business.
func (h *Handler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	b, err := h.resolveBusinessParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBusinessDTO(*b))
}

// UpdateBusiness changes name, overdraft policy or activation code.
// The slug is kept; see RegenerateSlug.
func (h *Handler) UpdateBusiness(w http.ResponseWriter, r *http.Request) {
	var req UpdateBusinessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.resolveBusinessParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || len(name) > 120 {
			writeError(w, r, fmt.Errorf("%w: name must have 1 to 120 characters", points.ErrValidation))
			return
		}
		b.Name = name
	}
	if req.AllowNegativePoints != nil {
		b.AllowNegativePoints = *req.AllowNegativePoints
	}
	if req.ActivationCode != nil {
		hash, err := points.HashActivationCode(*req.ActivationCode)
		if err != nil {
			writeError(w, r, err)
			return
		}
		b.ActivationCodeHash = hash
	}
	b.UpdatedAt = h.Now()

	if err := h.Store.UpdateBusiness(r.Context(), *b); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBusinessDTO(*b))
}

// RegenerateSlug derives a fresh slug from the current name.
func (h *Handler) RegenerateSlug(w http.ResponseWriter, r *http.Request) {
	b, err := h.resolveBusinessParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	slug, err := points.UniqueSlug(ctx, h.Store, b.Name, b.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b.Slug = slug
	b.UpdatedAt = h.Now()
	if err := h.Store.UpdateBusiness(ctx, *b); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBusinessDTO(*b))
}

// DeleteBusiness removes a business and everything it owns.
func (h *Handler) DeleteBusiness(w http.ResponseWriter, r *http.Request) {
	id := points.BusinessID(chi.URLParam(r, "id"))
	if err := h.Store.DeleteBusiness(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.Log.Info("business deleted", zap.String("business_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

// BusinessStats returns dashboard aggregates.
func (h *Handler) BusinessStats(w http.ResponseWriter, r *http.Request) {
	b, err := h.resolveBusinessParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := h.Store.Stats(r.Context(), b.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s := points.NewStats(in)
	writeJSON(w, http.StatusOK, StatsDTO{
		TotalClients:      s.TotalClients,
		ActiveClients:     s.ActiveClients,
		PointsIssued:      s.PointsIssued,
		PointsRedeemed:    s.PointsRedeemed,
		OutstandingPoints: s.Outstanding,
		EntryCount:        s.EntryCount,
		AverageBalance:    s.AverageBalance.StringFixed(2),
		RedemptionRate:    s.RedemptionRate.StringFixed(4),
	})
}

// ListBusinessEntries returns the business ledger, newest first.
func (h *Handler) ListBusinessEntries(w http.ResponseWriter, r *http.Request) {
	b, err := h.resolveBusinessParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter, err := entryFilterFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.BusinessID = b.ID
	h.writeEntries(w, r, filter)
}

// =============================================================================
// ITEM ENDPOINTS
// =============================================================================

// ListItems returns a business's catalog.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	b, err := h.resolveBusinessParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.Store.ListItems(r.Context(), b.ID, r.URL.Query().Get("visible") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTOs(items))
}

// CreateItem adds an earn or redeem rule to a business.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.resolveBusinessParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := h.Now()
	item := points.Item{
		ID:          points.ItemID(points.NewID()),
		BusinessID:  b.ID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Points:      req.Points,
		Kind:        points.ItemKind(req.Kind),
		Visible:     req.Visible == nil || *req.Visible,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.Store.CreateItem(r.Context(), item); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

// UpdateItem replaces an item's rule. Past entries are not touched.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	item, err := h.Scope.ResolveItem(ctx, callerFrom(ctx), points.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}

	item.Name = strings.TrimSpace(req.Name)
	item.Description = req.Description
	item.Points = req.Points
	item.Kind = points.ItemKind(req.Kind)
	if req.Visible != nil {
		item.Visible = *req.Visible
	}
	item.UpdatedAt = h.Now()

	if err := h.Store.UpdateItem(ctx, *item); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// DeleteItem removes an item from the catalog.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	item, err := h.Scope.ResolveItem(ctx, callerFrom(ctx), points.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.DeleteItem(ctx, item.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CLIENT ENDPOINTS
// =============================================================================

// cardInsertAttempts bounds retries when a freshly allocated card id is
// taken between the allocator check and the insert.
const cardInsertAttempts = 3

// CreateClient registers a card holder with an allocated card id.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.resolveBusinessParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	now := h.Now()
	client := points.Client{
		ID:         points.ClientID(points.NewID()),
		BusinessID: b.ID,
		Name:       strings.TrimSpace(req.Name),
		Phone:      strings.TrimSpace(req.Phone),
		Email:      strings.TrimSpace(req.Email),
		Active:     req.Active == nil || *req.Active,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for attempt := 1; ; attempt++ {
		client.CardID, err = h.Allocator.Allocate(ctx, *b)
		if err != nil {
			writeError(w, r, err)
			return
		}
		err = h.Store.CreateClient(ctx, client)
		if !errors.Is(err, points.ErrDuplicateCardID) || attempt == cardInsertAttempts {
			break
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(client))
}

// BulkCreateClients pre-creates inactive cards to be claimed later.
func (h *Handler) BulkCreateClients(w http.ResponseWriter, r *http.Request) {
	var req BulkClientsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.resolveBusinessParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	now := h.Now()
	seen := make(map[string]bool, req.Count)
	clients := make([]points.Client, req.Count)
	for i := range clients {
		cardID, err := h.allocateUnseen(ctx, *b, seen)
		if err != nil {
			writeError(w, r, err)
			return
		}
		clients[i] = points.Client{
			ID:         points.ClientID(points.NewID()),
			BusinessID: b.ID,
			CardID:     cardID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	if err := h.insertClients(ctx, *b, clients, seen); err != nil {
		writeError(w, r, err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// allocateUnseen allocates a card id not already used within the batch.
func (h *Handler) allocateUnseen(ctx context.Context, b points.Business, seen map[string]bool) (string, error) {
	for attempt := 0; attempt < cardInsertAttempts; attempt++ {
		cardID, err := h.Allocator.Allocate(ctx, b)
		if err != nil {
			return "", err
		}
		key := strings.ToUpper(cardID)
		if !seen[key] {
			seen[key] = true
			return cardID, nil
		}
	}
	return "", fmt.Errorf("%w: no free card id for %s", points.ErrDuplicateCardID, b.ID)
}

// insertClients inserts the batch atomically. When a card id was taken
// between allocation and insert, the taken ids are replaced and the
// insert is retried, up to cardInsertAttempts times.
func (h *Handler) insertClients(ctx context.Context, b points.Business, clients []points.Client, seen map[string]bool) error {
	for attempt := 1; ; attempt++ {
		err := h.Store.CreateClients(ctx, clients)
		if !errors.Is(err, points.ErrDuplicateCardID) || attempt == cardInsertAttempts {
			return err
		}
		for i := range clients {
			taken, err := h.Store.CardIDExists(ctx, b.ID, clients[i].CardID)
			if err != nil {
				return err
			}
			if !taken {
				continue
			}
			cardID, err := h.allocateUnseen(ctx, b, seen)
			if err != nil {
				return err
			}
			h.Log.Info("card id taken at insert, reallocated",
				zap.String("business_id", string(b.ID)),
				zap.String("card_id", clients[i].CardID),
				zap.String("replacement", cardID))
			clients[i].CardID = cardID
		}
	}
}

// ListClients pages through a business's clients.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	b, err := h.resolveBusinessParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page = page.Normalize()

	clients, total, err := h.Store.ListClients(r.Context(), b.ID, r.URL.Query().Get("search"), page)
	if err != nil {
		writeError(w, r, err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, ClientPageDTO{Clients: dtos, Total: total, Limit: page.Limit, Offset: page.Offset})
}

// GetClient returns one client.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.resolveClientParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*client))
}

// UpdateClient changes contact fields and metadata. Points only move
// through the engine.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	var req UpdateClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	client, err := h.resolveClientParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	client.Name = strings.TrimSpace(req.Name)
	client.Phone = strings.TrimSpace(req.Phone)
	client.Email = strings.TrimSpace(req.Email)
	if req.Metadata != nil {
		client.Metadata = req.Metadata
	}
	client.UpdatedAt = h.Now()

	if err := h.Store.UpdateClientProfile(r.Context(), *client); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*client))
}

// ListClientEntries returns a client's ledger, newest first.
func (h *Handler) ListClientEntries(w http.ResponseWriter, r *http.Request) {
	client, err := h.resolveClientParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter, err := entryFilterFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.ClientID = client.ID
	h.writeEntries(w, r, filter)
}

// =============================================================================
// USER ENDPOINTS
// =============================================================================

// ListUsers returns all users for admins and the own business's for operators.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := callerFrom(ctx)

	businessID := points.BusinessID(r.URL.Query().Get("businessId"))
	if !caller.IsAdmin() {
		businessID = caller.BusinessID
	}
	users, err := h.Store.ListUsers(ctx, businessID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser registers an operator.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user := points.User{
		ID:        points.UserID(points.NewID()),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Name:      strings.TrimSpace(req.Name),
		Role:      points.Role(req.Role),
		CreatedAt: h.Now(),
	}
	if user.Role == points.RoleBusiness {
		id := points.BusinessID(req.BusinessID)
		user.BusinessID = &id
	}

	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// operationClient picks the client of a points operation. Record ids go to
// the engine untouched so it can report cross-tenant items before
// authorization; card ids are resolved within the caller's scope.
func (h *Handler) operationClient(ctx context.Context, caller points.Caller, ref ClientRefRequest) (points.ClientID, error) {
	if ref.ClientID != "" {
		return points.ClientID(ref.ClientID), nil
	}
	client, err := h.Scope.ResolveClient(ctx, caller, ref.ref())
	if err != nil {
		return "", err
	}
	return client.ID, nil
}

func (h *Handler) resolveBusinessParam(r *http.Request) (*points.Business, error) {
	ctx := r.Context()
	return h.Scope.ResolveBusiness(ctx, callerFrom(ctx), points.BusinessID(chi.URLParam(r, "id")))
}

func (h *Handler) resolveClientParam(r *http.Request) (*points.Client, error) {
	ctx := r.Context()
	return h.Scope.ResolveClient(ctx, callerFrom(ctx), points.ClientRef{ID: points.ClientID(chi.URLParam(r, "id"))})
}

func (h *Handler) writeEntries(w http.ResponseWriter, r *http.Request, filter points.EntryFilter) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := points.NewLedger(h.Store).Entries(r.Context(), filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EntryPageDTO{
		Entries: toEntryDTOs(result.Entries),
		Total:   result.Total,
		Limit:   result.Limit,
		Offset:  result.Offset,
	})
}

// decodeJSON reads a JSON body and validates it.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", points.ErrValidation, err)
	}
	return validation.ValidateStruct(dst)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid request body: %v", points.ErrValidation, err)
	}
	return validation.ValidateStruct(dst)
}

func pageFromQuery(r *http.Request) (points.Page, error) {
	q := r.URL.Query()
	var page points.Page
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &page.Limit}, {"offset", &page.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return page, fmt.Errorf("%w: %s must be a non-negative integer", points.ErrValidation, p.name)
		}
		*p.dst = n
	}
	return page, nil
}

// entryFilterFromQuery reads optional from/to (RFC3339) and itemId filters.
func entryFilterFromQuery(r *http.Request) (points.EntryFilter, error) {
	q := r.URL.Query()
	filter := points.EntryFilter{ItemID: points.ItemID(q.Get("itemId"))}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%w: %s must be an RFC3339 timestamp", points.ErrValidation, p.name)
		}
		*p.dst = &t
	}
	return filter, nil
}

// currentScenarioID returns the last loaded demo scenario.
func (h *Handler) currentScenarioID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setCurrentScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}

// background returns a context detached from the request for work that
// must not be cancelled by a client disconnect.
func background(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
