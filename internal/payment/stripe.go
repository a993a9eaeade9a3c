// internal/payment/stripe.go
package payment

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const stripeBaseURL = "https://api.stripe.com"

type StripeConfig struct {
	SecretKey string
	BaseURL   string
	Currency  string
	Timeout   time.Duration
}

// Stripe talks to the Stripe REST API with form-encoded requests. Saved
// cards are represented by Stripe customer ids.
type Stripe struct {
	cfg    StripeConfig
	client *processorClient
	logger *zap.Logger
}

type stripeIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
}

type stripeObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripeError struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

func NewStripe(cfg StripeConfig, breaker *gobreaker.CircuitBreaker, logger *zap.Logger) *Stripe {
	if cfg.BaseURL == "" {
		cfg.BaseURL = stripeBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	client := newProcessorClient("stripe", cfg.BaseURL, cfg.Timeout, breaker, logger)
	client.http.SetAuthToken(cfg.SecretKey)
	return &Stripe{cfg: cfg, client: client, logger: logger}
}

func (s *Stripe) Name() string { return "stripe" }

func stripeStatus(st string) Status {
	switch st {
	case "succeeded":
		return StatusCompleted
	case "canceled":
		return StatusFailed
	}
	return StatusPending
}

func (s *Stripe) InitiatePayment(ctx context.Context, amount decimal.Decimal, memberRef, description string) (Session, error) {
	var intent stripeIntent
	var apiErr stripeError
	resp, err := s.client.do(ctx, "create_payment_intent", func(r *resty.Request) (*resty.Response, error) {
		return r.SetFormData(map[string]string{
			"amount":                              strconv.FormatInt(toCents(amount), 10),
			"currency":                            s.cfg.Currency,
			"description":                         description,
			"metadata[member_id]":                 memberRef,
			"automatic_payment_methods[enabled]": "true",
		}).SetResult(&intent).SetError(&apiErr).Post("/v1/payment_intents")
	})
	if err != nil {
		return Session{}, err
	}
	if resp.IsError() {
		return Session{Status: StatusFailed, Amount: amount, Message: apiErr.Error.Message}, nil
	}
	s.logger.Info("Stripe PaymentIntent created",
		zap.String("intent_id", intent.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("member_id", memberRef),
	)
	return Session{ID: intent.ID, Status: stripeStatus(intent.Status), Amount: amount, Message: intent.ClientSecret}, nil
}

func (s *Stripe) CheckStatus(ctx context.Context, sessionID string) (Status, error) {
	var intent stripeIntent
	resp, err := s.client.do(ctx, "get_payment_intent", func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&intent).SetPathParam("id", sessionID).Get("/v1/payment_intents/{id}")
	})
	if err != nil {
		return StatusFailed, err
	}
	if resp.IsError() {
		return StatusFailed, nil
	}
	return stripeStatus(intent.Status), nil
}

func (s *Stripe) Refund(ctx context.Context, originalRef string, amount decimal.Decimal) (RefundResult, error) {
	var refund stripeObject
	var apiErr stripeError
	resp, err := s.client.do(ctx, "create_refund", func(r *resty.Request) (*resty.Response, error) {
		return r.SetFormData(map[string]string{
			"payment_intent": originalRef,
			"amount":         strconv.FormatInt(toCents(amount), 10),
		}).SetResult(&refund).SetError(&apiErr).Post("/v1/refunds")
	})
	if err != nil {
		return RefundResult{}, err
	}
	if resp.IsError() {
		return RefundResult{Success: false, Message: apiErr.Error.Message}, nil
	}
	s.logger.Info("Stripe refund created", zap.String("refund_id", refund.ID), zap.String("amount", amount.StringFixed(2)))
	return RefundResult{Success: refund.Status != "failed", RefundID: refund.ID, Message: "Refund processed"}, nil
}

func (s *Stripe) TokenizeCard(ctx context.Context, last4, _ string, memberRef string) (string, error) {
	var customer stripeObject
	var apiErr stripeError
	resp, err := s.client.do(ctx, "create_customer", func(r *resty.Request) (*resty.Response, error) {
		return r.SetFormData(map[string]string{
			"metadata[member_id]":  memberRef,
			"metadata[card_last4]": last4,
		}).SetResult(&customer).SetError(&apiErr).Post("/v1/customers")
	})
	if err != nil {
		return "", err
	}
	if resp.IsError() || customer.ID == "" {
		return "", fmt.Errorf("stripe tokenization failed: %s", apiErr.Error.Message)
	}
	s.logger.Info("Stripe customer created", zap.String("customer_id", customer.ID), zap.String("member_id", memberRef))
	return customer.ID, nil
}

func (s *Stripe) ChargeSavedCard(ctx context.Context, token string, amount decimal.Decimal, memberRef, description string) (ChargeResult, error) {
	var intent stripeIntent
	var apiErr stripeError
	resp, err := s.client.do(ctx, "charge_customer", func(r *resty.Request) (*resty.Response, error) {
		return r.SetFormData(map[string]string{
			"amount":              strconv.FormatInt(toCents(amount), 10),
			"currency":            s.cfg.Currency,
			"customer":            token,
			"description":         description,
			"off_session":         "true",
			"confirm":             "true",
			"metadata[member_id]": memberRef,
		}).SetResult(&intent).SetError(&apiErr).Post("/v1/payment_intents")
	})
	if err != nil {
		return ChargeResult{}, err
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if apiErr.Error.DeclineCode != "" {
			msg = fmt.Sprintf("%s (%s)", msg, apiErr.Error.DeclineCode)
		}
		return ChargeResult{Success: false, Message: msg}, nil
	}
	s.logger.Info("Stripe saved card charged",
		zap.String("intent_id", intent.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("member_id", memberRef),
	)
	return ChargeResult{Success: intent.Status == "succeeded", ReferenceID: intent.ID, Message: intent.Status}, nil
}

func (s *Stripe) TestConnection(ctx context.Context) (bool, string) {
	if s.cfg.SecretKey == "" {
		return false, "Stripe secret key not configured"
	}
	resp, err := s.client.do(ctx, "get_account", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/v1/account")
	})
	if err != nil {
		return false, fmt.Sprintf("Stripe connection failed: %v", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return true, "Connected to Stripe successfully"
	case http.StatusUnauthorized:
		return false, "Invalid Stripe API key"
	}
	return false, fmt.Sprintf("Stripe returned status %d", resp.StatusCode())
}
