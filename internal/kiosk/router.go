// internal/kiosk/router.go
package kiosk

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the member-facing kiosk routes and the staff admin
// routes behind the bearer token.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)

	r.Group(func(kr chi.Router) {
		kr.Use(h.rateLimit)

		kr.Post("/signup", h.HandleSignup)
		kr.Post("/checkin", h.HandleCheckin)
		kr.Post("/scan", h.HandleScan)
		kr.Get("/members", h.HandleListMembers)
		kr.Post("/search", h.HandleSearch)
		kr.Get("/members/{id}/status", h.HandleStatus)
		kr.Post("/verify-pin", h.HandleVerifyPIN)
		kr.Get("/plans", h.HandleListPlans)
		kr.Post("/guest", h.HandleGuestVisit)

		kr.Post("/pay/cash", h.HandlePayCash)
		kr.Post("/pay/card", h.HandlePayCard)
		kr.Post("/pay/split", h.HandlePaySplit)
		kr.Post("/pay/credit", h.HandlePayCredit)
		kr.Post("/credit/quote", h.HandleCreditQuote)

		kr.Post("/freeze", h.HandleFreeze)
		kr.Post("/unfreeze", h.HandleUnfreeze)

		kr.Post("/saved-cards", h.HandleSaveCard)
		kr.Post("/saved-cards/lookup", h.HandleListCards)
		kr.Put("/saved-cards/{id}", h.HandleRenameCard)
		kr.Delete("/saved-cards/{id}", h.HandleDeleteSavedCard)
		kr.Put("/saved-cards/{id}/default", h.HandleSetDefaultCard)
		kr.Post("/saved-cards/{id}/auto-charge", h.HandleEnableAutoCharge)
		kr.Delete("/saved-cards/{id}/auto-charge", h.HandleDisableAutoCharge)
	})

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(h.requireStaff)

		ar.Post("/memberships/{id}/adjust-swims", h.HandleAdjustSwims)
		ar.Patch("/memberships/{id}", h.HandleUpdateMembership)
		ar.Delete("/memberships/{id}", h.HandleDeactivateMembership)
		ar.Post("/memberships/{id}/freeze", h.HandleAdminFreeze)
		ar.Post("/memberships/{id}/unfreeze", h.HandleAdminUnfreeze)
		ar.Get("/memberships/{id}/history", h.HandleMembershipHistory)

		ar.Post("/members/{id}/credit", h.HandleAdjustCredit)
		ar.Post("/members/{id}/unlock-pin", h.HandleUnlockPIN)
		ar.Put("/members/{id}/pin", h.HandleSetPIN)
		ar.Post("/members/{id}/cards", h.HandleManualCard)
		ar.Post("/members/{id}/charge-card", h.HandleChargeCard)
		ar.Get("/members/{id}/rfid-cards", h.HandleListRFIDCards)
		ar.Post("/members/{id}/rfid-cards", h.HandleAssignRFIDCard)
		ar.Post("/members/{id}/rfid-cards/{cardID}/deactivate", h.HandleDeactivateRFIDCard)
		ar.Post("/members/{id}/rfid-cards/{cardID}/reactivate", h.HandleReactivateRFIDCard)
		ar.Delete("/members/{id}/rfid-cards/{cardID}", h.HandleDeleteRFIDCard)

		ar.Get("/plans", h.HandleAdminListPlans)
		ar.Post("/plans", h.HandleCreatePlan)
		ar.Put("/plans/{id}", h.HandleUpdatePlan)
		ar.Delete("/plans/{id}", h.HandleRetirePlan)

		ar.Post("/transactions/{id}/refund", h.HandleRefund)
		ar.Patch("/transactions/{id}", h.HandleTransactionNote)
	})

	return r
}
