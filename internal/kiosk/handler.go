// internal/kiosk/handler.go
package kiosk

import (
	"context"
	"net/http"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/billing"
	"swimdesk/internal/catalog"
	"swimdesk/internal/checkin"
	"swimdesk/internal/domain"
	"swimdesk/internal/entitlement"
	"swimdesk/internal/membership"
	"swimdesk/internal/pin"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deps are the services the kiosk transport fronts.
type Deps struct {
	Store             store.Store
	Checkins          *checkin.Engine
	Entitlement       *entitlement.Resolver
	Memberships       membership.Service
	Catalog           catalog.Service
	Billing           *billing.Orchestrator
	PINs              *pin.Service
	Clock             domain.Clock
	Logger            *zap.Logger
	MaxGuests         int
	RequestsPerMinute int
	AdminToken        string
}

type Handler struct {
	store       store.Store
	checkins    *checkin.Engine
	entitlement *entitlement.Resolver
	memberships membership.Service
	catalog     catalog.Service
	billing     *billing.Orchestrator
	pins        *pin.Service
	clock       domain.Clock
	logger      *zap.Logger
	maxGuests   int
	adminToken  string
	limiter     *clientLimiter
}

func NewHandler(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = domain.SystemClock(time.UTC)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{
		store:       d.Store,
		checkins:    d.Checkins,
		entitlement: d.Entitlement,
		memberships: d.Memberships,
		catalog:     d.Catalog,
		billing:     d.Billing,
		pins:        d.PINs,
		clock:       d.Clock,
		logger:      d.Logger,
		maxGuests:   d.MaxGuests,
		adminToken:  d.AdminToken,
		limiter:     newClientLimiter(d.RequestsPerMinute),
	}
}

type pinBody struct {
	MemberID uuid.UUID `json:"member_id"`
	PIN      string    `json:"pin"`
}

func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req membership.SignupRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	member, err := h.memberships.RegisterMember(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (h *Handler) HandleCheckin(w http.ResponseWriter, r *http.Request) {
	var req checkin.Request
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if h.maxGuests > 0 && req.GuestCount > h.maxGuests {
		h.fail(w, r, apperr.InvalidInput("at most %d guests per check-in", h.maxGuests))
		return
	}
	res, err := h.checkins.CheckIn(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	memberID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	statuses, err := h.statuses(r.Context(), memberID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses[0])
}

// statuses builds the kiosk status view for each member in one transaction.
func (h *Handler) statuses(ctx context.Context, memberIDs ...uuid.UUID) ([]*entitlement.Status, error) {
	out := make([]*entitlement.Status, 0, len(memberIDs))
	err := h.store.InTx(ctx, func(tx store.Tx) error {
		out = out[:0]
		for _, id := range memberIDs {
			st, err := h.entitlement.Status(ctx, tx, id, h.clock())
			if err != nil {
				return err
			}
			out = append(out, st)
		}
		return nil
	})
	return out, err
}

func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RFIDUID string `json:"rfid_uid"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	member, err := h.memberships.MemberByCard(r.Context(), req.RFIDUID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	statuses, err := h.statuses(r.Context(), member.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses[0])
}

// memberSummary is the name-picker row; it carries no balances or contact details.
type memberSummary struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

func (h *Handler) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.memberships.ListMembers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]memberSummary, 0, len(members))
	for _, m := range members {
		out = append(out, memberSummary{ID: m.ID, FirstName: m.FirstName, LastName: m.LastName})
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	members, err := h.memberships.SearchMembers(r.Context(), req.Query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	statuses, err := h.statuses(r.Context(), ids...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": statuses})
}

func (h *Handler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.catalog.ListPlans(r.Context(), true)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": orEmpty(plans)})
}

func (h *Handler) HandleGuestVisit(w http.ResponseWriter, r *http.Request) {
	var req billing.GuestRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.billing.GuestVisit(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleVerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req pinBody
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.pins.Verify(r.Context(), req.MemberID, req.PIN); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (h *Handler) HandlePayCash(w http.ResponseWriter, r *http.Request) {
	var req billing.CashRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.billing.PayCash(r.Context(), req)
	h.purchased(w, r, res, err)
}

func (h *Handler) HandlePayCard(w http.ResponseWriter, r *http.Request) {
	var req billing.CardRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.billing.PayCard(r.Context(), req)
	h.purchased(w, r, res, err)
}

func (h *Handler) HandlePaySplit(w http.ResponseWriter, r *http.Request) {
	var req billing.SplitRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.billing.PaySplit(r.Context(), req)
	h.purchased(w, r, res, err)
}

func (h *Handler) HandlePayCredit(w http.ResponseWriter, r *http.Request) {
	var req billing.CreditRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.billing.PayCredit(r.Context(), req)
	h.purchased(w, r, res, err)
}

func (h *Handler) purchased(w http.ResponseWriter, r *http.Request, res *billing.Result, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleCreditQuote(w http.ResponseWriter, r *http.Request) {
	var req billing.CreditRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.billing.QuoteCredit(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// freezeBody carries freeze_end as a plain date.
type freezeBody struct {
	MemberID  uuid.UUID `json:"member_id"`
	PIN       string    `json:"pin"`
	Days      *int      `json:"freeze_days,omitempty"`
	FreezeEnd *string   `json:"freeze_end,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

func (b freezeBody) request(actor string) (membership.FreezeRequest, error) {
	end, err := parseDate("freeze_end", b.FreezeEnd)
	if err != nil {
		return membership.FreezeRequest{}, err
	}
	return membership.FreezeRequest{Days: b.Days, EndDate: end, Reason: b.Reason, Actor: actor}, nil
}

func (h *Handler) HandleFreeze(w http.ResponseWriter, r *http.Request) {
	var body freezeBody
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := body.request("kiosk")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.pins.Verify(r.Context(), body.MemberID, body.PIN); err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.memberships.FreezeForMember(r.Context(), body.MemberID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *Handler) HandleUnfreeze(w http.ResponseWriter, r *http.Request) {
	var body pinBody
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.pins.Verify(r.Context(), body.MemberID, body.PIN); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.memberships.UnfreezeForMember(r.Context(), body.MemberID, "kiosk")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) HandleSaveCard(w http.ResponseWriter, r *http.Request) {
	var req billing.SaveCardRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	card, err := h.billing.SaveCard(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (h *Handler) HandleListCards(w http.ResponseWriter, r *http.Request) {
	var req pinBody
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	cards, err := h.billing.SavedCards(r.Context(), req.MemberID, req.PIN)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": orEmpty(cards)})
}

func (h *Handler) HandleRenameCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		pinBody
		FriendlyName string `json:"friendly_name"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	card, err := h.billing.RenameCard(r.Context(), req.MemberID, req.PIN, cardID, req.FriendlyName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *Handler) HandleSetDefaultCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req pinBody
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	card, err := h.billing.SetDefaultCard(r.Context(), req.MemberID, req.PIN, cardID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *Handler) HandleDeleteSavedCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req pinBody
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.billing.RemoveSavedCard(r.Context(), req.MemberID, req.PIN, cardID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleEnableAutoCharge(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req billing.AutoChargeRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.CardID = cardID
	card, err := h.billing.EnableAutoCharge(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *Handler) HandleDisableAutoCharge(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req pinBody
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	card, err := h.billing.DisableAutoCharge(r.Context(), req.MemberID, req.PIN, cardID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}
