package api

import (
	"bytes"
	"fmt"
	"image/png"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/go-chi/chi/v5"
	"github.com/warp/loyalty-engine/points"
	"go.uber.org/zap"
)

const (
	publicRecentEntries = 10
	qrDefaultSize       = 256
	qrMaxSize           = 1024
)

// =============================================================================
// PUBLIC CARD DASHBOARD (no authentication)
// =============================================================================

// publicCard resolves {slug} and {cardId}. Unknown slugs and unknown cards
// are indistinguishable to the caller.
func (h *Handler) publicCard(r *http.Request) (*points.Business, *points.Client, error) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")
	cardID := chi.URLParam(r, "cardId")
	if !points.IsValidCardID(cardID) {
		return nil, nil, fmt.Errorf("%w: malformed card id %q", points.ErrValidation, cardID)
	}

	b, err := h.Store.GetBusinessBySlug(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, &points.NotFoundError{Kind: "card", ID: cardID}
	}
	client, err := h.Store.FindClientByCard(ctx, b.ID, cardID)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return nil, nil, &points.NotFoundError{Kind: "card", ID: cardID}
	}
	return b, client, nil
}

// GetPublicCard shows a card holder their balance, the visible catalog and
// recent activity.
func (h *Handler) GetPublicCard(w http.ResponseWriter, r *http.Request) {
	b, client, err := h.publicCard(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	items, err := h.Store.ListItems(ctx, b.ID, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recent, err := points.NewLedger(h.Store).Entries(ctx,
		points.EntryFilter{ClientID: client.ID},
		points.Page{Limit: publicRecentEntries})
	if err != nil {
		writeError(w, r, err)
		return
	}

	var dto PublicCardDTO
	dto.Business.Name = b.Name
	dto.Business.Slug = b.Slug
	dto.Client.CardID = client.CardID
	dto.Client.Name = client.Name
	dto.Client.Points = client.Points
	dto.Client.Active = client.Active
	dto.Items = toItemDTOs(items)
	dto.RecentEntries = toEntryDTOs(recent.Entries)
	for i := range dto.RecentEntries {
		dto.RecentEntries[i].ActorID = ""
	}
	writeJSON(w, http.StatusOK, dto)
}

// ActivateCard lets a holder claim a pre-created card with the business code.
func (h *Handler) ActivateCard(w http.ResponseWriter, r *http.Request) {
	var req ActivateCardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, client, err := h.publicCard(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := points.CheckActivationCode(*b, req.ActivationCode); err != nil {
		writeError(w, r, err)
		return
	}

	err = h.Store.ActivateClient(r.Context(), client.ID,
		strings.TrimSpace(req.Name), strings.TrimSpace(req.Phone), strings.TrimSpace(req.Email), h.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Log.Info("card activated",
		zap.String("business_id", string(b.ID)),
		zap.String("card_id", client.CardID))
	writeJSON(w, http.StatusOK, map[string]any{"status": "activated", "cardId": client.CardID})
}

// =============================================================================
// QR CODE
// =============================================================================

// PublicCardURL is the dashboard link printed on a card.
func (h *Handler) PublicCardURL(b points.Business, c points.Client) string {
	base := strings.TrimRight(h.PublicBaseURL, "/")
	return fmt.Sprintf("%s/public/%s/cards/%s", base, url.PathEscape(b.Slug), url.PathEscape(c.CardID))
}

// ClientQR renders the client's public card link as a PNG QR code.
// ?size= sets the edge length in pixels.
func (h *Handler) ClientQR(w http.ResponseWriter, r *http.Request) {
	client, err := h.resolveClientParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.Store.GetBusiness(r.Context(), client.BusinessID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if b == nil {
		writeError(w, r, &points.NotFoundError{Kind: "business", ID: string(client.BusinessID)})
		return
	}

	size := qrDefaultSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > qrMaxSize {
			writeError(w, r, fmt.Errorf("%w: size must be between 64 and %d", points.ErrValidation, qrMaxSize))
			return
		}
		size = n
	}

	img, err := renderQR(h.PublicCardURL(*b, *client), size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

func renderQR(content string, size int) ([]byte, error) {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("scale qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
