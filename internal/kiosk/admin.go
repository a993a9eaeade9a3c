// internal/kiosk/admin.go
package kiosk

import (
	"net/http"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/billing"
	"swimdesk/internal/catalog"
	"swimdesk/internal/membership"
	"swimdesk/internal/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (h *Handler) HandleAdjustSwims(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Delta int    `json:"delta"`
		Notes string `json:"notes"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.memberships.AdjustSwims(r.Context(), id, req.Delta, req.Notes, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// patchBody mirrors membership.Patch with plain dates.
type patchBody struct {
	SwimsTotal *int    `json:"swims_total,omitempty"`
	SwimsUsed  *int    `json:"swims_used,omitempty"`
	ValidFrom  *string `json:"valid_from,omitempty"`
	ValidUntil *string `json:"valid_until,omitempty"`
	IsActive   *bool   `json:"is_active,omitempty"`
}

func (h *Handler) HandleUpdateMembership(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body patchBody
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	patch := membership.Patch{SwimsTotal: body.SwimsTotal, SwimsUsed: body.SwimsUsed, IsActive: body.IsActive}
	if patch.ValidFrom, err = parseDate("valid_from", body.ValidFrom); err != nil {
		h.fail(w, r, err)
		return
	}
	if patch.ValidUntil, err = parseDate("valid_until", body.ValidUntil); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.memberships.Update(r.Context(), id, patch, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) HandleDeactivateMembership(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.memberships.Deactivate(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) HandleAdminFreeze(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body freezeBody
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := body.request(actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.memberships.Freeze(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *Handler) HandleAdminUnfreeze(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.memberships.Unfreeze(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) HandleMembershipHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	history, err := h.memberships.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": history})
}

func (h *Handler) HandleAdjustCredit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Notes  string          `json:"notes"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.billing.AdjustCredit(r.Context(), id, req.Amount, req.Notes, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) HandleUnlockPIN(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cleared, err := h.pins.Unlock(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unlocked": cleared})
}

func (h *Handler) HandleSetPIN(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		PIN string `json:"pin"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.pins.SetPIN(r.Context(), id, req.PIN, actorFrom(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleManualCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Number       string `json:"card_number"`
		ExpMonth     int    `json:"exp_month"`
		ExpYear      int    `json:"exp_year"`
		CVC          string `json:"cvc"`
		Cardholder   string `json:"cardholder"`
		FriendlyName string `json:"friendly_name"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	card := payment.ManualCard{Number: req.Number, ExpMonth: req.ExpMonth, ExpYear: req.ExpYear, CVC: req.CVC, Cardholder: req.Cardholder}
	saved, err := h.billing.ManualEntry(r.Context(), id, card, req.FriendlyName, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) HandleChargeCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		CardID uuid.UUID `json:"card_id"`
		PlanID uuid.UUID `json:"plan_id"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.billing.ChargeSavedCardNow(r.Context(), id, req.CardID, req.PlanID)
	h.purchased(w, r, res, err)
}

func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req billing.RefundRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.TransactionID = id
	req.Actor = actorFrom(r.Context())
	res, err := h.billing.Refund(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleTransactionNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Notes *string `json:"notes"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Notes == nil {
		h.fail(w, r, apperr.InvalidInput("notes is required"))
		return
	}
	if err := h.billing.UpdateTransactionNote(r.Context(), id, *req.Notes, actorFrom(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListRFIDCards(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cards, err := h.memberships.Cards(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": orEmpty(cards)})
}

func (h *Handler) HandleAssignRFIDCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		RFIDUID string `json:"rfid_uid"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	card, err := h.memberships.AssignCard(r.Context(), id, req.RFIDUID, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

// rfidCardIDs reads the member and card ids from the path.
func rfidCardIDs(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	memberID, err := pathID(r, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	cardID, err := pathID(r, "cardID")
	return memberID, cardID, err
}

func (h *Handler) HandleDeactivateRFIDCard(w http.ResponseWriter, r *http.Request) {
	memberID, cardID, err := rfidCardIDs(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	card, err := h.memberships.DeactivateCard(r.Context(), memberID, cardID, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *Handler) HandleReactivateRFIDCard(w http.ResponseWriter, r *http.Request) {
	memberID, cardID, err := rfidCardIDs(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	card, err := h.memberships.ReactivateCard(r.Context(), memberID, cardID, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *Handler) HandleDeleteRFIDCard(w http.ResponseWriter, r *http.Request) {
	memberID, cardID, err := rfidCardIDs(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.memberships.RemoveCard(r.Context(), memberID, cardID, actorFrom(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleAdminListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.catalog.ListPlans(r.Context(), false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": orEmpty(plans)})
}

func (h *Handler) HandleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req catalog.PlanInput
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.catalog.AddPlan(r.Context(), req, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) HandleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req catalog.PlanPatch
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.catalog.UpdatePlan(r.Context(), id, req, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleRetirePlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.catalog.RetirePlan(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ts": time.Now().UTC().Format(time.RFC3339)})
}
