package billing

import (
	"context"
	"errors"
	"testing"

	"swimdesk/internal/apperr"
	"swimdesk/internal/audit"
	"swimdesk/internal/domain"
	"swimdesk/internal/membership"
	"swimdesk/internal/notify"
	"swimdesk/internal/payment"
	"swimdesk/internal/pin"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var today = domain.Date(2025, 6, 2)

const goodPIN = "4321"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "want %s, got %s", want, got.StringFixed(2))
}

type fixture struct {
	store    *store.Memory
	stub     *payment.Stub
	notifier *notify.Capture
	orch     *Orchestrator
	member   *domain.Member
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	billing Config
	stub    payment.StubOptions
	noPIN   bool
}

func withoutPIN() fixtureOption { return func(c *fixtureConfig) { c.noPIN = true } }

func withStub(o payment.StubOptions) fixtureOption { return func(c *fixtureConfig) { c.stub = o } }

func splitDisabled() fixtureOption { return func(c *fixtureConfig) { c.billing.SplitEnabled = false } }

func guestsDisabled() fixtureOption {
	return func(c *fixtureConfig) { c.billing.GuestVisitsEnabled = false }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{billing: Config{LowBalanceThreshold: d("5.00"), SplitEnabled: true, GuestVisitsEnabled: true}}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := store.NewMemory()
	m := &domain.Member{ID: uuid.New(), FirstName: "Tomas", LastName: "Reyes", IsActive: true, CreditBalance: decimal.Zero}
	if !cfg.noPIN {
		hash, err := pin.Hash(goodPIN)
		require.NoError(t, err)
		m.PINHash = &hash
	}
	require.NoError(t, s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertMember(context.Background(), m)
	}))

	logger := zap.NewNop()
	rec := audit.NewRecorder()
	clock := domain.FixedClock(today)
	stub := payment.NewStub(logger, cfg.stub)
	capture := &notify.Capture{}
	orch := NewOrchestrator(
		s,
		membership.NewManager(s, rec, clock, logger),
		payment.Fixed{A: stub},
		pin.NewService(s, rec, pin.Config{}, logger),
		capture,
		rec,
		clock,
		cfg.billing,
		logger,
	)
	return &fixture{store: s, stub: stub, notifier: capture, orch: orch, member: m}
}

func (f *fixture) plan(t *testing.T, typ domain.PlanType, price string) *domain.Plan {
	t.Helper()
	p := &domain.Plan{ID: uuid.New(), Name: string(typ) + " plan", Type: typ, Price: d(price), IsActive: true}
	if typ == domain.PlanSwimPass {
		n := 10
		p.SwimCount = &n
	}
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertPlan(context.Background(), p)
	}))
	return p
}

func (f *fixture) setCredit(t *testing.T, amount string) {
	t.Helper()
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		return tx.UpdateMemberCredit(context.Background(), f.member.ID, d(amount))
	}))
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	var bal decimal.Decimal
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		m, err := tx.GetMember(context.Background(), f.member.ID)
		if err != nil {
			return err
		}
		bal = m.CreditBalance
		return nil
	}))
	return bal
}

func (f *fixture) memberships(t *testing.T) []*domain.Membership {
	t.Helper()
	var out []*domain.Membership
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListActiveMemberships(context.Background(), f.member.ID)
		return err
	}))
	return out
}

func (f *fixture) card(t *testing.T, token string) *domain.SavedCard {
	t.Helper()
	c := &domain.SavedCard{ID: uuid.New(), MemberID: f.member.ID, ProcessorToken: token, Last4: "4242", Brand: "visa"}
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertSavedCard(context.Background(), c)
	}))
	return c
}

func (f *fixture) cards(t *testing.T) []*domain.SavedCard {
	t.Helper()
	var out []*domain.SavedCard
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListSavedCards(context.Background(), f.member.ID)
		return err
	}))
	return out
}

func TestPayCashOverpaymentBecomesCredit(t *testing.T) {
	f := newFixture(t)
	f.setCredit(t, "2.50")
	plan := f.plan(t, domain.PlanSwimPass, "5.00")

	res, err := f.orch.PayCash(context.Background(), CashRequest{
		MemberID:       f.member.ID,
		PIN:            goodPIN,
		PlanID:         plan.ID,
		AmountTendered: d("7.50"),
	})
	require.NoError(t, err)

	assertMoney(t, "0", res.ChangeDue)
	assertMoney(t, "2.50", res.CreditAdded)
	assertMoney(t, "5.00", res.CreditBalance)
	assertMoney(t, "5.00", f.balance(t))
	require.Len(t, f.memberships(t), 1)

	txns := f.store.Transactions()
	require.Len(t, txns, 2)
	assert.Equal(t, domain.TxPayment, txns[0].Type)
	assert.Equal(t, domain.MethodCash, txns[0].Method)
	assertMoney(t, "5.00", txns[0].Amount)
	assert.Equal(t, domain.TxCreditAdd, txns[1].Type)
	assertMoney(t, "2.50", txns[1].Amount)
	assert.Equal(t, txns[0].ID, res.TransactionID)
	assert.Equal(t, res.MembershipID, *txns[0].MembershipID)
}

func TestPayCashWantsChange(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "5.00")

	res, err := f.orch.PayCash(context.Background(), CashRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID,
		AmountTendered: d("20"), WantsChange: true,
	})
	require.NoError(t, err)
	assertMoney(t, "15", res.ChangeDue)
	assertMoney(t, "0", res.CreditAdded)
	assertMoney(t, "0", f.balance(t))
	assert.Len(t, f.store.Transactions(), 1)
}

func TestPayCashAppliesCreditFirst(t *testing.T) {
	f := newFixture(t)
	f.setCredit(t, "2.00")
	plan := f.plan(t, domain.PlanSwimPass, "5.00")

	res, err := f.orch.PayCash(context.Background(), CashRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID,
		AmountTendered: d("3.00"), UseCredit: true,
	})
	require.NoError(t, err)
	assertMoney(t, "2.00", res.CreditUsed)
	assertMoney(t, "0", f.balance(t))

	txns := f.store.Transactions()
	require.Len(t, txns, 2)
	assert.Equal(t, domain.TxCreditUse, txns[0].Type)
	assert.Equal(t, domain.MethodCredit, txns[0].Method)
	assertMoney(t, "3.00", txns[1].Amount)

	low := f.notifier.Events(notify.EventLowBalance)
	require.Len(t, low, 1)
	assert.Equal(t, "0.00", low[0].Payload["credit_balance"])
}

func TestPayCashCreditCoversEverything(t *testing.T) {
	f := newFixture(t)
	f.setCredit(t, "8.00")
	plan := f.plan(t, domain.PlanSingle, "5.00")

	res, err := f.orch.PayCash(context.Background(), CashRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID, UseCredit: true,
	})
	require.NoError(t, err)
	assertMoney(t, "3.00", f.balance(t))
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, domain.TxCreditUse, res.Transactions[0].Type)
	assert.Len(t, f.notifier.Events(notify.EventLowBalance), 1)
}

func TestPayCashUnderpaymentRejected(t *testing.T) {
	f := newFixture(t)
	f.setCredit(t, "1.00")
	plan := f.plan(t, domain.PlanSingle, "5.00")

	_, err := f.orch.PayCash(context.Background(), CashRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID,
		AmountTendered: d("3.00"), UseCredit: true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	assert.Contains(t, err.Error(), "$4.00")
	assert.Empty(t, f.memberships(t))
	assert.Empty(t, f.store.Transactions())
	assertMoney(t, "1.00", f.balance(t))
}

func TestPurchaseWithoutPINCreatesNothing(t *testing.T) {
	f := newFixture(t, withoutPIN())
	plan := f.plan(t, domain.PlanSingle, "5.00")

	_, err := f.orch.PayCash(context.Background(), CashRequest{
		MemberID: f.member.ID, PIN: "1234", PlanID: plan.ID, AmountTendered: d("5"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	assert.Contains(t, err.Error(), "PIN not set")
	assert.Empty(t, f.memberships(t))
	assert.Empty(t, f.store.Transactions())
}

func TestPurchaseWrongPIN(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "5.00")

	_, err := f.orch.PayCredit(context.Background(), CreditRequest{MemberID: f.member.ID, PIN: "0000", PlanID: plan.ID})
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
	assert.Empty(t, f.memberships(t))
}

func TestPayCardWithSavedCard(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanMonthly, "45.00")
	card := f.card(t, "stub_tok_abc")

	res, err := f.orch.PayCard(context.Background(), CardRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID, SavedCardID: &card.ID,
	})
	require.NoError(t, err)
	assertMoney(t, "45.00", res.CardCharged)

	charges := f.stub.Calls("charge")
	require.Len(t, charges, 1)
	assert.Equal(t, "stub_tok_abc", charges[0].Ref)

	txns := f.store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, domain.MethodCard, txns[0].Method)
	require.NotNil(t, txns[0].SavedCardID)
	assert.Equal(t, card.ID, *txns[0].SavedCardID)
	require.NotNil(t, txns[0].ReferenceID)
	assert.NotEmpty(t, *txns[0].ReferenceID)
	assert.Len(t, f.memberships(t), 1)
}

func TestPayCardDeclineCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.setCredit(t, "10.00")
	plan := f.plan(t, domain.PlanMonthly, "45.00")
	card := f.card(t, payment.DeclineTokenPrefix+"_1")

	_, err := f.orch.PayCard(context.Background(), CardRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID, SavedCardID: &card.ID, UseCredit: true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrChargeDeclined))
	assert.Empty(t, f.memberships(t))
	assert.Empty(t, f.store.Transactions())
	assertMoney(t, "10.00", f.balance(t))
	assert.Empty(t, f.stub.Calls("refund"))
}

func TestPayCardOtherMembersCardNotFound(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanMonthly, "45.00")
	card := f.card(t, "stub_tok_abc")
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		other := &domain.Member{ID: uuid.New(), FirstName: "Other", IsActive: true}
		if err := tx.InsertMember(context.Background(), other); err != nil {
			return err
		}
		c, err := tx.GetSavedCard(context.Background(), card.ID)
		if err != nil {
			return err
		}
		c.MemberID = other.ID
		return tx.UpdateSavedCard(context.Background(), c)
	}))

	_, err := f.orch.PayCard(context.Background(), CardRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID, SavedCardID: &card.ID,
	})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Empty(t, f.stub.Calls("charge"))
}

func TestPayCardPendingSessionDoesNotCount(t *testing.T) {
	f := newFixture(t, withStub(payment.StubOptions{InitiateStatus: payment.StatusPending}))
	plan := f.plan(t, domain.PlanSingle, "5.00")

	_, err := f.orch.PayCard(context.Background(), CardRequest{MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrChargeDeclined))
	assert.Contains(t, err.Error(), "pending")
	assert.Empty(t, f.memberships(t))

	_, err = f.orch.PayCard(context.Background(), CardRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID, SessionID: "stub_terminal_1",
	})
	assert.True(t, errors.Is(err, apperr.ErrChargeDeclined))
	assert.Len(t, f.stub.Calls("status"), 1)
}

func TestPayCardSavesCardAfterPurchase(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "5.00")

	res, err := f.orch.PayCard(context.Background(), CardRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID,
		SaveCard: true, CardLast4: "1881", CardBrand: "visa", FriendlyName: "Work card",
	})
	require.NoError(t, err)
	require.NotNil(t, res.SavedCard)
	assert.Equal(t, "1881", res.SavedCard.Last4)
	assert.True(t, res.SavedCard.IsDefault)
	assert.Empty(t, res.CardSaveError)
	assert.Len(t, f.stub.Calls("tokenize"), 1)
	assert.Len(t, f.cards(t), 1)
}

func TestPayCardSaveFailureKeepsPurchase(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "5.00")

	res, err := f.orch.PayCard(context.Background(), CardRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID,
		SaveCard: true, CardLast4: "18",
	})
	require.NoError(t, err)
	assert.Nil(t, res.SavedCard)
	assert.NotEmpty(t, res.CardSaveError)
	assert.Len(t, f.memberships(t), 1)
	assert.Empty(t, f.cards(t))
}

func TestFailedCommitRefundsCardCharge(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanMonthly, "45.00")
	card := f.card(t, "stub_tok_abc")

	f.store.FailNextCommit(errors.New("connection reset"))
	_, err := f.orch.ChargeSavedCardNow(context.Background(), f.member.ID, card.ID, plan.ID)
	require.Error(t, err)

	charges := f.stub.Calls("charge")
	require.Len(t, charges, 1)
	refunds := f.stub.Calls("refund")
	require.Len(t, refunds, 1)
	assertMoney(t, "45.00", refunds[0].Amount)
	assert.Empty(t, f.memberships(t))
	assert.Empty(t, f.store.Transactions())
}

func TestPaySplitSharesOneMembership(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanMonthly, "50.00")

	res, err := f.orch.PaySplit(context.Background(), SplitRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID, CashAmount: d("20"),
	})
	require.NoError(t, err)
	require.Len(t, f.memberships(t), 1)

	txns := f.store.Transactions()
	require.Len(t, txns, 2)
	assert.Equal(t, domain.MethodCash, txns[0].Method)
	assertMoney(t, "20", txns[0].Amount)
	assert.Equal(t, domain.MethodCard, txns[1].Method)
	assertMoney(t, "30", txns[1].Amount)
	assert.Equal(t, *txns[0].MembershipID, *txns[1].MembershipID)
	assert.Equal(t, res.MembershipID, *txns[1].MembershipID)

	initiated := f.stub.Calls("initiate")
	require.Len(t, initiated, 1)
	assertMoney(t, "30", initiated[0].Amount)
}

func TestPaySplitRejections(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanMonthly, "50.00")

	for _, cash := range []string{"0", "50", "60"} {
		_, err := f.orch.PaySplit(context.Background(), SplitRequest{
			MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID, CashAmount: d(cash),
		})
		assert.True(t, errors.Is(err, apperr.ErrInvalidInput), "cash %s", cash)
	}
	assert.Empty(t, f.stub.Calls(""))

	disabled := newFixture(t, splitDisabled())
	plan = disabled.plan(t, domain.PlanMonthly, "50.00")
	_, err := disabled.orch.PaySplit(context.Background(), SplitRequest{
		MemberID: disabled.member.ID, PIN: goodPIN, PlanID: plan.ID, CashAmount: d("20"),
	})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	assert.Empty(t, disabled.memberships(t))
}

func TestPayCredit(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSwimPass, "10.00")

	_, err := f.orch.PayCredit(context.Background(), CreditRequest{MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID})
	assert.True(t, errors.Is(err, apperr.ErrPaymentRequired))

	f.setCredit(t, "3.00")
	_, err = f.orch.PayCredit(context.Background(), CreditRequest{MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrPaymentRequired))
	assert.Contains(t, err.Error(), "$7.00 remaining")
	assert.Empty(t, f.memberships(t))

	quote, err := f.orch.QuoteCredit(context.Background(), CreditRequest{MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID})
	require.NoError(t, err)
	assertMoney(t, "3.00", quote.CreditUsed)
	assertMoney(t, "7.00", quote.RemainingDue)
	assert.False(t, quote.CoversFull)

	f.setCredit(t, "12.00")
	res, err := f.orch.PayCredit(context.Background(), CreditRequest{MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID})
	require.NoError(t, err)
	assertMoney(t, "10.00", res.CreditUsed)
	assertMoney(t, "2.00", f.balance(t))
	assert.Len(t, f.memberships(t), 1)
	assert.Len(t, f.notifier.Events(notify.EventLowBalance), 1)
}

func TestEnableAutoChargeLeavesOneCard(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanMonthly, "45.00")
	a := f.card(t, "stub_tok_a")
	b := f.card(t, "stub_tok_b")

	_, err := f.orch.EnableAutoCharge(context.Background(), AutoChargeRequest{MemberID: f.member.ID, PIN: goodPIN, CardID: a.ID, PlanID: plan.ID})
	require.NoError(t, err)
	enabled, err := f.orch.EnableAutoCharge(context.Background(), AutoChargeRequest{MemberID: f.member.ID, PIN: goodPIN, CardID: b.ID, PlanID: plan.ID})
	require.NoError(t, err)
	require.NotNil(t, enabled.NextChargeDate)
	assert.Equal(t, domain.AddDays(today, 30), *enabled.NextChargeDate)

	var on []uuid.UUID
	for _, c := range f.cards(t) {
		if c.AutoChargeEnabled {
			on = append(on, c.ID)
		} else {
			assert.Nil(t, c.NextChargeDate)
			assert.Nil(t, c.AutoChargePlanID)
		}
	}
	assert.Equal(t, []uuid.UUID{b.ID}, on)

	disabled, err := f.orch.DisableAutoCharge(context.Background(), f.member.ID, goodPIN, b.ID)
	require.NoError(t, err)
	assert.False(t, disabled.AutoChargeEnabled)
}

func TestEnableAutoChargeRequiresMonthlyPlan(t *testing.T) {
	f := newFixture(t)
	pass := f.plan(t, domain.PlanSwimPass, "40.00")
	card := f.card(t, "stub_tok_a")

	_, err := f.orch.EnableAutoCharge(context.Background(), AutoChargeRequest{MemberID: f.member.ID, PIN: goodPIN, CardID: card.ID, PlanID: pass.ID})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	_, err = f.orch.EnableAutoCharge(context.Background(), AutoChargeRequest{MemberID: f.member.ID, PIN: goodPIN, CardID: card.ID, PlanID: uuid.New()})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestAdjustCredit(t *testing.T) {
	f := newFixture(t)

	m, err := f.orch.AdjustCredit(context.Background(), f.member.ID, d("10"), "goodwill", "staff:ana")
	require.NoError(t, err)
	assertMoney(t, "10", m.CreditBalance)

	_, err = f.orch.AdjustCredit(context.Background(), f.member.ID, d("-4"), "correction", "staff:ana")
	require.NoError(t, err)
	assertMoney(t, "6", f.balance(t))

	_, err = f.orch.AdjustCredit(context.Background(), f.member.ID, d("-7"), "too much", "staff:ana")
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	_, err = f.orch.AdjustCredit(context.Background(), f.member.ID, decimal.Zero, "", "staff:ana")
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	assertMoney(t, "6", f.balance(t))

	txns := f.store.Transactions()
	require.Len(t, txns, 2)
	assert.Equal(t, domain.TxCreditAdd, txns[0].Type)
	assert.Equal(t, domain.TxManualAdjustment, txns[1].Type)
	assertMoney(t, "4", txns[1].Amount)
	assert.Equal(t, domain.MethodManual, txns[1].Method)
}

func TestRefundCardPaymentInParts(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "5.00")
	card := f.card(t, "stub_tok_abc")
	res, err := f.orch.ChargeSavedCardNow(context.Background(), f.member.ID, card.ID, plan.ID)
	require.NoError(t, err)

	two := d("2.00")
	out, err := f.orch.Refund(context.Background(), RefundRequest{TransactionID: res.TransactionID, Amount: &two, Reason: "pool closed", Actor: "staff:ana"})
	require.NoError(t, err)
	require.NotNil(t, out.Processor)
	assert.True(t, out.Processor.Success)
	assertMoney(t, "3.00", out.Remaining)
	assert.Equal(t, res.TransactionID, *out.Transaction.RefundOf)

	four := d("4.00")
	_, err = f.orch.Refund(context.Background(), RefundRequest{TransactionID: res.TransactionID, Amount: &four})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	out, err = f.orch.Refund(context.Background(), RefundRequest{TransactionID: res.TransactionID})
	require.NoError(t, err)
	assertMoney(t, "3.00", out.Transaction.Amount)
	assertMoney(t, "0", out.Remaining)
	assert.Len(t, f.stub.Calls("refund"), 2)

	_, err = f.orch.Refund(context.Background(), RefundRequest{TransactionID: res.TransactionID})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestRefundDeclinedRecordsNothing(t *testing.T) {
	f := newFixture(t, withStub(payment.StubOptions{DeclineRefunds: true}))
	plan := f.plan(t, domain.PlanSingle, "5.00")
	card := f.card(t, "stub_tok_abc")
	res, err := f.orch.ChargeSavedCardNow(context.Background(), f.member.ID, card.ID, plan.ID)
	require.NoError(t, err)

	_, err = f.orch.Refund(context.Background(), RefundRequest{TransactionID: res.TransactionID})
	assert.True(t, errors.Is(err, apperr.ErrChargeDeclined))
	assert.Len(t, f.store.Transactions(), 1)
}

func TestRefundCashAndNonPayments(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "5.00")
	f.setCredit(t, "1.00")
	res, err := f.orch.PayCash(context.Background(), CashRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID, AmountTendered: d("4"), UseCredit: true,
	})
	require.NoError(t, err)

	out, err := f.orch.Refund(context.Background(), RefundRequest{TransactionID: res.TransactionID, Reason: "changed mind"})
	require.NoError(t, err)
	assert.Nil(t, out.Processor)
	assertMoney(t, "4.00", out.Transaction.Amount)
	assert.Empty(t, f.stub.Calls("refund"))

	over, err := f.orch.PayCash(context.Background(), CashRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID, AmountTendered: d("7.50"),
	})
	require.NoError(t, err)
	creditAdd := over.Transactions[len(over.Transactions)-1]
	require.Equal(t, domain.TxCreditAdd, creditAdd.Type)
	_, err = f.orch.Refund(context.Background(), RefundRequest{TransactionID: creditAdd.ID})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestRefundCreditPurchaseRestoresBalance(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "5.00")
	f.setCredit(t, "10.00")

	res, err := f.orch.PayCredit(context.Background(), CreditRequest{MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID})
	require.NoError(t, err)
	assertMoney(t, "5.00", f.balance(t))
	require.Len(t, res.Transactions, 1)
	creditUse := res.Transactions[0]
	require.Equal(t, domain.TxCreditUse, creditUse.Type)

	out, err := f.orch.Refund(context.Background(), RefundRequest{TransactionID: creditUse.ID, Reason: "pool closed"})
	require.NoError(t, err)
	assert.Equal(t, domain.TxRefund, out.Transaction.Type)
	assert.Equal(t, domain.MethodCredit, out.Transaction.Method)
	require.NotNil(t, out.CreditBalance)
	assertMoney(t, "10.00", *out.CreditBalance)
	assertMoney(t, "10.00", f.balance(t))
	assert.Empty(t, f.stub.Calls("refund"))

	_, err = f.orch.Refund(context.Background(), RefundRequest{TransactionID: creditUse.ID})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestUpdateTransactionNote(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "5.00")
	res, err := f.orch.PayCash(context.Background(), CashRequest{
		MemberID: f.member.ID, PIN: goodPIN, PlanID: plan.ID, AmountTendered: d("5"),
	})
	require.NoError(t, err)

	require.NoError(t, f.orch.UpdateTransactionNote(context.Background(), res.TransactionID, "paid with coins", "staff:ana"))
	txns := f.store.Transactions()
	require.NotNil(t, txns[0].Notes)
	assert.Equal(t, "paid with coins", *txns[0].Notes)

	err = f.orch.UpdateTransactionNote(context.Background(), uuid.New(), "x", "staff:ana")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestManualEntry(t *testing.T) {
	f := newFixture(t)

	card, err := f.orch.ManualEntry(context.Background(), f.member.ID, payment.ManualCard{
		Number: "4111 1111 1111 1111", ExpMonth: 12, ExpYear: 2099, CVC: "123",
	}, "", "staff:ana")
	require.NoError(t, err)
	assert.Equal(t, "1111", card.Last4)
	assert.Equal(t, "visa", card.Brand)

	_, err = f.orch.ManualEntry(context.Background(), f.member.ID, payment.ManualCard{Number: "4111", ExpMonth: 12, ExpYear: 2099}, "", "staff:ana")
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	_, err = f.orch.ManualEntry(context.Background(), f.member.ID, payment.ManualCard{Number: "4111111111111111", ExpMonth: 1, ExpYear: 2001}, "", "staff:ana")
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func dueCard(t *testing.T, f *fixture, token string, planID uuid.UUID) *domain.SavedCard {
	t.Helper()
	due := today
	c := &domain.SavedCard{
		ID: uuid.New(), MemberID: f.member.ID, ProcessorToken: token, Last4: "4242", Brand: "visa",
		AutoChargeEnabled: true, AutoChargePlanID: &planID, NextChargeDate: &due,
	}
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertSavedCard(context.Background(), c)
	}))
	return c
}

func TestRenewCardAdvancesOnce(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanMonthly, "45.00")
	card := dueCard(t, f, "stub_tok_a", plan.ID)

	first := f.orch.RenewCard(context.Background(), f.stub, card.ID)
	assert.Equal(t, RenewalSucceeded, first.Status)
	require.NotNil(t, first.MembershipID)
	require.NotNil(t, first.NextCharge)
	assert.Equal(t, "2025-07-02", *first.NextCharge)

	second := f.orch.RenewCard(context.Background(), f.stub, card.ID)
	assert.Equal(t, RenewalSkipped, second.Status)

	assert.Len(t, f.stub.Calls("charge"), 1)
	assert.Len(t, f.memberships(t), 1)
	txns := f.store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, card.ID, *txns[0].SavedCardID)
	assert.Equal(t, autoChargeActor, *txns[0].CreatedBy)
}

func TestRenewCardFailuresLeaveCardDue(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanMonthly, "45.00")
	declined := dueCard(t, f, payment.DeclineTokenPrefix+"_a", plan.ID)

	out := f.orch.RenewCard(context.Background(), f.stub, declined.ID)
	assert.Equal(t, RenewalFailed, out.Status)
	assert.NotEmpty(t, out.Reason)
	for _, c := range f.cards(t) {
		assert.True(t, c.DueOn(today))
	}

	orphan := newFixture(t)
	card := dueCard(t, orphan, "stub_tok_b", uuid.New())
	out = orphan.orch.RenewCard(context.Background(), orphan.stub, card.ID)
	assert.Equal(t, RenewalFailed, out.Status)
	assert.Equal(t, "plan not found", out.Reason)
	assert.Empty(t, orphan.stub.Calls("charge"))
	assert.Empty(t, f.memberships(t))
}

func TestGuestVisitCash(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "6.00")

	res, err := f.orch.GuestVisit(context.Background(), GuestRequest{Name: " Lena ", PlanID: plan.ID, Method: domain.MethodCash})
	require.NoError(t, err)
	assert.Equal(t, "Welcome, Lena! Enjoy your swim.", res.Message)
	assert.Nil(t, res.Transaction.MemberID)
	assert.Equal(t, domain.TxPayment, res.Transaction.Type)
	assertMoney(t, "6.00", res.Transaction.Amount)
	require.NotNil(t, res.Transaction.Notes)
	assert.Equal(t, "Guest visit: Lena - single plan", *res.Transaction.Notes)

	visits := f.store.GuestVisits()
	require.Len(t, visits, 1)
	assert.Equal(t, res.Transaction.ID, visits[0].TransactionID)
	assert.Nil(t, visits[0].Phone)
	assert.Empty(t, f.memberships(t))
	assert.Empty(t, f.stub.Calls(""))
}

func TestGuestVisitCardChargesTerminal(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "6.00")

	res, err := f.orch.GuestVisit(context.Background(), GuestRequest{Name: "Lena", Phone: "555-0101", PlanID: plan.ID, Method: domain.MethodCard})
	require.NoError(t, err)
	require.Len(t, f.stub.Calls("initiate"), 1)
	require.NotNil(t, res.Transaction.ReferenceID)
	assert.Equal(t, f.stub.Calls("initiate")[0].Ref, *res.Transaction.ReferenceID)
	require.NotNil(t, res.Visit.Phone)
	assert.Equal(t, "555-0101", *res.Visit.Phone)

	refund, err := f.orch.Refund(context.Background(), RefundRequest{TransactionID: res.Transaction.ID, Reason: "pool closed", Actor: "maria"})
	require.NoError(t, err)
	assertMoney(t, "6.00", refund.Transaction.Amount)
}

func TestGuestVisitRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "6.00")

	_, err := f.orch.GuestVisit(ctx, GuestRequest{Name: "", PlanID: plan.ID, Method: domain.MethodCash})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = f.orch.GuestVisit(ctx, GuestRequest{Name: "Lena", PlanID: plan.ID, Method: domain.MethodCredit})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = f.orch.GuestVisit(ctx, GuestRequest{Name: "Lena", PlanID: uuid.New(), Method: domain.MethodCash})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	pending := newFixture(t, withStub(payment.StubOptions{InitiateStatus: payment.StatusPending}))
	p := pending.plan(t, domain.PlanSingle, "6.00")
	_, err = pending.orch.GuestVisit(ctx, GuestRequest{Name: "Lena", PlanID: p.ID, Method: domain.MethodCard})
	assert.ErrorIs(t, err, apperr.ErrChargeDeclined)
	assert.Empty(t, pending.store.GuestVisits())
	assert.Empty(t, pending.store.Transactions())

	off := newFixture(t, guestsDisabled())
	p = off.plan(t, domain.PlanSingle, "6.00")
	_, err = off.orch.GuestVisit(ctx, GuestRequest{Name: "Lena", PlanID: p.ID, Method: domain.MethodCash})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Contains(t, err.Error(), "disabled")
}

func TestGuestVisitFailedCommitRefundsTerminal(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, domain.PlanSingle, "6.00")

	f.store.FailNextCommit(errors.New("connection reset"))
	_, err := f.orch.GuestVisit(context.Background(), GuestRequest{Name: "Lena", PlanID: plan.ID, Method: domain.MethodCard})
	require.Error(t, err)
	require.Len(t, f.stub.Calls("refund"), 1)
	assert.Empty(t, f.store.GuestVisits())
}

func TestRemoveDefaultCardPromotesNext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first, err := f.orch.SaveCard(ctx, SaveCardRequest{MemberID: f.member.ID, PIN: goodPIN, Last4: "4242", Brand: "visa"})
	require.NoError(t, err)
	second, err := f.orch.SaveCard(ctx, SaveCardRequest{MemberID: f.member.ID, PIN: goodPIN, Last4: "1111", Brand: "visa"})
	require.NoError(t, err)
	require.True(t, first.IsDefault)

	assert.ErrorIs(t, f.orch.RemoveSavedCard(ctx, f.member.ID, "0000", first.ID), apperr.ErrUnauthorized)
	require.NoError(t, f.orch.RemoveSavedCard(ctx, f.member.ID, goodPIN, first.ID))

	cards := f.cards(t)
	require.Len(t, cards, 1)
	assert.Equal(t, second.ID, cards[0].ID)
	assert.True(t, cards[0].IsDefault)

	assert.ErrorIs(t, f.orch.RemoveSavedCard(ctx, f.member.ID, goodPIN, first.ID), apperr.ErrNotFound)
}

func TestSetDefaultAndRenameCard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first, err := f.orch.SaveCard(ctx, SaveCardRequest{MemberID: f.member.ID, PIN: goodPIN, Last4: "4242", Brand: "visa"})
	require.NoError(t, err)
	second, err := f.orch.SaveCard(ctx, SaveCardRequest{MemberID: f.member.ID, PIN: goodPIN, Last4: "1111", Brand: "visa"})
	require.NoError(t, err)

	card, err := f.orch.SetDefaultCard(ctx, f.member.ID, goodPIN, second.ID)
	require.NoError(t, err)
	assert.True(t, card.IsDefault)

	cards := f.cards(t)
	require.Len(t, cards, 2)
	assert.Equal(t, second.ID, cards[0].ID)
	assert.False(t, cards[1].IsDefault)
	assert.Equal(t, first.ID, cards[1].ID)

	renamed, err := f.orch.RenameCard(ctx, f.member.ID, goodPIN, first.ID, "  Travel card ")
	require.NoError(t, err)
	require.NotNil(t, renamed.FriendlyName)
	assert.Equal(t, "Travel card", *renamed.FriendlyName)

	cleared, err := f.orch.RenameCard(ctx, f.member.ID, goodPIN, first.ID, "")
	require.NoError(t, err)
	assert.Nil(t, cleared.FriendlyName)

	_, err = f.orch.SetDefaultCard(ctx, f.member.ID, goodPIN, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
