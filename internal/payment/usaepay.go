// internal/payment/usaepay.go
package payment

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	usaepaySandboxURL    = "https://sandbox.usaepay.com/api/v2"
	usaepayProductionURL = "https://usaepay.com/api/v2"
)

type USAePayConfig struct {
	APIKey      string
	APIPin      string
	Environment string
	BaseURL     string
	Timeout     time.Duration
}

// USAePay talks to the USAePay REST v2 API. Every request carries a fresh
// seeded SHA-256 signature of the API key and PIN.
type USAePay struct {
	cfg    USAePayConfig
	client *processorClient
	logger *zap.Logger
}

type usaepayCard struct {
	Number     string `json:"number,omitempty"`
	Expiration string `json:"expiration,omitempty"`
	CVC        string `json:"cvc,omitempty"`
	Cardholder string `json:"cardholder,omitempty"`
	Type       string `json:"type,omitempty"`
	Token      string `json:"token,omitempty"`
}

type usaepayRequest struct {
	Command      string            `json:"command"`
	Amount       string            `json:"amount,omitempty"`
	Description  string            `json:"description,omitempty"`
	Invoice      string            `json:"invoice,omitempty"`
	TranKey      string            `json:"trankey,omitempty"`
	SaveCard     bool              `json:"save_card,omitempty"`
	CreditCard   *usaepayCard      `json:"creditcard,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

type usaepayResponse struct {
	Key        string `json:"key"`
	Result     string `json:"result"`
	ResultCode string `json:"result_code"`
	Error      string `json:"error"`
	ErrorCode  int    `json:"errorcode"`
	SavedCard  struct {
		Key  string `json:"key"`
		Type string `json:"type"`
	} `json:"savedcard"`
	CreditCard usaepayCard `json:"creditcard"`
}

func NewUSAePay(cfg USAePayConfig, breaker *gobreaker.CircuitBreaker, logger *zap.Logger) *USAePay {
	if cfg.BaseURL == "" {
		cfg.BaseURL = usaepaySandboxURL
		if cfg.Environment == "production" {
			cfg.BaseURL = usaepayProductionURL
		}
	}
	client := newProcessorClient("usaepay", cfg.BaseURL, cfg.Timeout, breaker, logger)
	client.http.SetHeader("Content-Type", "application/json")
	u := &USAePay{cfg: cfg, client: client, logger: logger}
	client.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		auth, err := u.authHeader()
		if err != nil {
			return err
		}
		r.SetHeader("Authorization", "Basic "+auth)
		return nil
	})
	return u
}

func (u *USAePay) Name() string { return "usaepay" }

func (u *USAePay) authHeader() (string, error) {
	seedBytes := make([]byte, 10)
	if _, err := rand.Read(seedBytes); err != nil {
		return "", fmt.Errorf("generate seed: %w", err)
	}
	seed := hex.EncodeToString(seedBytes)
	sum := sha256.Sum256([]byte(u.cfg.APIKey + seed + u.cfg.APIPin))
	raw := fmt.Sprintf("%s:s2/%s/%s", u.cfg.APIKey, seed, hex.EncodeToString(sum[:]))
	return base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

func (u *USAePay) transact(ctx context.Context, op string, req usaepayRequest) (usaepayResponse, error) {
	var out usaepayResponse
	_, err := u.client.do(ctx, op, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).SetResult(&out).SetError(&out).Post("/transactions")
	})
	return out, err
}

func (u *USAePay) InitiatePayment(ctx context.Context, amount decimal.Decimal, memberRef, description string) (Session, error) {
	res, err := u.transact(ctx, "sale", usaepayRequest{
		Command:      "sale",
		Amount:       amount.StringFixed(2),
		Description:  description,
		Invoice:      "pool-" + shortID(8),
		CustomFields: map[string]string{"member_id": memberRef},
	})
	if err != nil {
		return Session{}, err
	}
	status := StatusPending
	switch res.ResultCode {
	case "A":
		status = StatusCompleted
	case "D":
		status = StatusFailed
	}
	u.logger.Info("USAePay payment initiated",
		zap.String("key", res.Key),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("member_id", memberRef),
		zap.String("result_code", res.ResultCode),
	)
	return Session{ID: res.Key, Status: status, Amount: amount, Message: res.Result}, nil
}

func (u *USAePay) CheckStatus(ctx context.Context, sessionID string) (Status, error) {
	var out usaepayResponse
	resp, err := u.client.do(ctx, "get_transaction", func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).SetPathParam("key", sessionID).Get("/transactions/{key}")
	})
	if err != nil {
		return StatusFailed, err
	}
	if resp.IsError() {
		return StatusFailed, nil
	}
	switch out.ResultCode {
	case "A":
		return StatusCompleted, nil
	case "D", "E":
		return StatusFailed, nil
	}
	return StatusPending, nil
}

func (u *USAePay) Refund(ctx context.Context, originalRef string, amount decimal.Decimal) (RefundResult, error) {
	res, err := u.transact(ctx, "refund", usaepayRequest{
		Command: "refund",
		TranKey: originalRef,
		Amount:  amount.StringFixed(2),
	})
	if err != nil {
		return RefundResult{}, err
	}
	if res.ResultCode != "A" {
		return RefundResult{Success: false, Message: orDefault(res.Error, "Refund declined")}, nil
	}
	u.logger.Info("USAePay refund processed", zap.String("key", res.Key), zap.String("amount", amount.StringFixed(2)))
	return RefundResult{Success: true, RefundID: res.Key, Message: "Refund processed"}, nil
}

// TokenizeCard runs a zero-dollar authorization with save_card set and
// returns the saved card key.
func (u *USAePay) TokenizeCard(ctx context.Context, last4, _ string, memberRef string) (string, error) {
	res, err := u.transact(ctx, "authonly", usaepayRequest{
		Command:      "authonly",
		Amount:       "0.00",
		SaveCard:     true,
		Description:  "Card tokenization for member " + memberRef,
		CustomFields: map[string]string{"member_id": memberRef, "card_last4": last4},
	})
	if err != nil {
		return "", err
	}
	if res.ResultCode != "A" {
		return "", fmt.Errorf("usaepay tokenization failed: %s", orDefault(res.Error, "unknown error"))
	}
	token := res.SavedCard.Key
	if token == "" {
		token = res.CreditCard.Token
	}
	if token == "" {
		return "", fmt.Errorf("usaepay returned no token")
	}
	return token, nil
}

func (u *USAePay) ChargeSavedCard(ctx context.Context, token string, amount decimal.Decimal, memberRef, description string) (ChargeResult, error) {
	res, err := u.transact(ctx, "sale_saved_card", usaepayRequest{
		Command:      "sale",
		Amount:       amount.StringFixed(2),
		Description:  description,
		CreditCard:   &usaepayCard{Number: token},
		CustomFields: map[string]string{"member_id": memberRef},
	})
	if err != nil {
		return ChargeResult{}, err
	}
	if res.ResultCode != "A" {
		return ChargeResult{Success: false, Message: orDefault(res.Error, "Payment declined")}, nil
	}
	u.logger.Info("USAePay saved card charged",
		zap.String("key", res.Key),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("member_id", memberRef),
	)
	return ChargeResult{Success: true, ReferenceID: res.Key, Message: "Payment successful"}, nil
}

// TokenizeManualEntry saves a staff-entered card without charging it.
func (u *USAePay) TokenizeManualEntry(ctx context.Context, card ManualCard, memberRef string) (TokenizedCard, error) {
	res, err := u.transact(ctx, "cc_save", usaepayRequest{
		Command: "cc:save",
		CreditCard: &usaepayCard{
			Number:     onlyDigits(card.Number),
			Expiration: fmt.Sprintf("%02d%02d", card.ExpMonth, card.ExpYear%100),
			CVC:        card.CVC,
			Cardholder: card.Cardholder,
		},
		CustomFields: map[string]string{"member_id": memberRef},
	})
	if err != nil {
		return TokenizedCard{}, err
	}
	if res.ResultCode != "A" || res.SavedCard.Key == "" {
		return TokenizedCard{}, fmt.Errorf("usaepay card save failed: %s", orDefault(res.Error, "no token returned"))
	}
	brand := res.SavedCard.Type
	if brand == "" {
		brand = card.Brand()
	}
	return TokenizedCard{Token: res.SavedCard.Key, Last4: card.Last4(), Brand: brand}, nil
}

func (u *USAePay) TestConnection(ctx context.Context) (bool, string) {
	if u.cfg.APIKey == "" {
		return false, "USAePay API key not configured"
	}
	if u.cfg.APIPin == "" {
		return false, "USAePay API PIN not configured"
	}
	var out usaepayResponse
	resp, err := u.client.do(ctx, "list_transactions", func(r *resty.Request) (*resty.Response, error) {
		return r.SetError(&out).Get("/transactions")
	})
	if err != nil {
		return false, fmt.Sprintf("USAePay connection failed: %v", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return true, "Connected to USAePay successfully"
	case http.StatusUnauthorized:
		if out.ErrorCode == 23 {
			return false, "Invalid API Key - key not found"
		}
		return false, "USAePay error: " + orDefault(out.Error, "invalid credentials")
	}
	return false, fmt.Sprintf("USAePay returned status %d", resp.StatusCode())
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
