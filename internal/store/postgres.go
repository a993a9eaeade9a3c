// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:embed schema.sql
var schema string

const (
	memberColumns     = `id, first_name, last_name, phone, email, pin_hash, credit_balance, is_active, created_at, updated_at, version`
	planColumns       = `id, name, plan_type, price, swim_count, duration_days, is_active, display_order, created_at`
	membershipColumns = `id, member_id, plan_id, plan_type, swims_total, swims_used, valid_from, valid_until, is_active, created_at, version`
	freezeColumns     = `id, membership_id, frozen_by, freeze_start, freeze_end, days_extended, reason, created_at`
	transactionCols   = `id, member_id, transaction_type, payment_method, amount, plan_id, membership_id, saved_card_id, refund_of, reference_id, notes, created_by, created_at`
	cardColumns       = `id, member_id, rfid_uid, is_active, assigned_at`
	guestVisitColumns = `id, name, phone, plan_id, payment_method, amount_paid, transaction_id, created_at`
	savedCardColumns  = `id, member_id, processor_token, card_last4, card_brand, friendly_name, is_default, auto_charge_enabled, auto_charge_plan_id, next_charge_date, created_at, updated_at`
)

// Postgres is the production Store. Row locks use SELECT ... FOR UPDATE and
// membership writes carry an optimistic version check.
type Postgres struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// OpenPostgres connects with a bounded pool.
func OpenPostgres(ctx context.Context, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
	return NewPostgres(db), nil
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{
		db:     db,
		tracer: otel.Tracer("swimdesk/store"),
	}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	ctx, span := p.tracer.Start(ctx, "store.tx")
	defer span.End()

	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("tx.retryable", IsRetryable(err)))
		return err
	}
	if err := tx.Commit(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return mapErr("commit", fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// mapErr translates driver failures into store sentinels.
func mapErr(what string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return duplicate(what, err)
		case "23514":
			return apperr.Wrap(apperr.KindInvalidInput, err, "%s violates a check constraint", what)
		case "40001", "40P01":
			return apperr.Wrap(apperr.KindConflict, errors.Join(ErrSerialization, err), "%s could not be serialized", what)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.DateOnly)
}

func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) get(ctx context.Context, dest any, what string, id any, query string, args ...any) error {
	if err := t.tx.GetContext(ctx, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(what, id)
		}
		return mapErr("get "+what, err)
	}
	return nil
}

func (t *pgTx) exec(ctx context.Context, what string, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(what, err)
	}
	return res, nil
}

func (t *pgTx) GetMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	var m domain.Member
	if err := t.get(ctx, &m, "member", id, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *pgTx) LockMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	var m domain.Member
	if err := t.get(ctx, &m, "member", id, `SELECT `+memberColumns+` FROM members WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *pgTx) InsertMember(ctx context.Context, m *domain.Member) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.Version = 1
	_, err := t.exec(ctx, "insert member", `
		INSERT INTO members (`+memberColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.ID, m.FirstName, m.LastName, m.Phone, m.Email, m.PINHash, m.CreditBalance, m.IsActive, m.CreatedAt, m.UpdatedAt, m.Version)
	return err
}

func (t *pgTx) FindActiveMemberByPhone(ctx context.Context, phone string) (*domain.Member, error) {
	var m domain.Member
	if err := t.get(ctx, &m, "member with phone", phone, `
		SELECT `+memberColumns+`
		FROM members
		WHERE phone = $1 AND is_active
		ORDER BY created_at
		LIMIT 1
	`, phone); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *pgTx) UpdateMemberCredit(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return apperr.PaymentRequired("credit balance cannot go below zero")
	}
	res, err := t.exec(ctx, "update member credit", `
		UPDATE members
		SET credit_balance = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2
	`, balance.Round(2), id)
	if err != nil {
		return err
	}
	return requireRow(res, "member", id)
}

func (t *pgTx) UpdateMemberPIN(ctx context.Context, id uuid.UUID, hash *string) error {
	res, err := t.exec(ctx, "update member pin", `
		UPDATE members
		SET pin_hash = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2
	`, hash, id)
	if err != nil {
		return err
	}
	return requireRow(res, "member", id)
}

func (t *pgTx) SearchMembers(ctx context.Context, query string, limit int) ([]*domain.Member, error) {
	var out []*domain.Member
	err := t.tx.SelectContext(ctx, &out, `
		SELECT `+memberColumns+`
		FROM members
		WHERE is_active
		  AND (first_name ILIKE $1 OR last_name ILIKE $1 OR phone ILIKE $1)
		ORDER BY first_name, last_name, id
		LIMIT $2
	`, "%"+likeEscape(query)+"%", limit)
	if err != nil {
		return nil, mapErr("search members", err)
	}
	return out, nil
}

func (t *pgTx) ListActiveMembers(ctx context.Context) ([]*domain.Member, error) {
	var out []*domain.Member
	err := t.tx.SelectContext(ctx, &out, `
		SELECT `+memberColumns+`
		FROM members
		WHERE is_active
		ORDER BY first_name, last_name, id
	`)
	if err != nil {
		return nil, mapErr("list members", err)
	}
	return out, nil
}

// likeEscape quotes the LIKE wildcards in user input.
func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (t *pgTx) GetCard(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	var c domain.Card
	if err := t.get(ctx, &c, "card", id, `SELECT `+cardColumns+` FROM rfid_cards WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) FindCardByUID(ctx context.Context, uid string) (*domain.Card, error) {
	var c domain.Card
	if err := t.get(ctx, &c, "card with uid", uid, `SELECT `+cardColumns+` FROM rfid_cards WHERE rfid_uid = $1`, uid); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) FindMemberByCard(ctx context.Context, uid string) (*domain.Member, error) {
	var m domain.Member
	if err := t.get(ctx, &m, "member with card", uid, `
		SELECT m.id, m.first_name, m.last_name, m.phone, m.email, m.pin_hash, m.credit_balance,
		       m.is_active, m.created_at, m.updated_at, m.version
		FROM rfid_cards c
		JOIN members m ON m.id = c.member_id
		WHERE c.rfid_uid = $1 AND c.is_active AND m.is_active
	`, uid); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *pgTx) InsertCard(ctx context.Context, c *domain.Card) error {
	if c.AssignedAt.IsZero() {
		c.AssignedAt = time.Now().UTC()
	}
	_, err := t.exec(ctx, "card", `
		INSERT INTO rfid_cards (`+cardColumns+`)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.MemberID, c.RFIDUID, c.IsActive, c.AssignedAt)
	return err
}

func (t *pgTx) UpdateCard(ctx context.Context, c *domain.Card) error {
	res, err := t.exec(ctx, "update card", `UPDATE rfid_cards SET is_active = $1 WHERE id = $2`, c.IsActive, c.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "card", c.ID)
}

func (t *pgTx) DeleteCard(ctx context.Context, id uuid.UUID) error {
	res, err := t.exec(ctx, "delete card", `DELETE FROM rfid_cards WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "card", id)
}

func (t *pgTx) ListCards(ctx context.Context, memberID uuid.UUID) ([]*domain.Card, error) {
	var out []*domain.Card
	err := t.tx.SelectContext(ctx, &out, `
		SELECT `+cardColumns+`
		FROM rfid_cards
		WHERE member_id = $1
		ORDER BY assigned_at, id
	`, memberID)
	if err != nil {
		return nil, mapErr("list cards", err)
	}
	return out, nil
}

func requireRow(res sql.Result, what string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}

func (t *pgTx) GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	var p domain.Plan
	if err := t.get(ctx, &p, "plan", id, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) InsertPlan(ctx context.Context, p *domain.Plan) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := t.exec(ctx, "insert plan", `
		INSERT INTO plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Name, string(p.Type), p.Price, p.SwimCount, p.DurationDays, p.IsActive, p.DisplayOrder, p.CreatedAt)
	return err
}

func (t *pgTx) UpdatePlan(ctx context.Context, p *domain.Plan) error {
	res, err := t.exec(ctx, "update plan", `
		UPDATE plans
		SET name = $1, plan_type = $2, price = $3, swim_count = $4, duration_days = $5,
		    is_active = $6, display_order = $7
		WHERE id = $8
	`, p.Name, string(p.Type), p.Price, p.SwimCount, p.DurationDays, p.IsActive, p.DisplayOrder, p.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "plan", p.ID)
}

func (t *pgTx) ListPlans(ctx context.Context, activeOnly bool) ([]*domain.Plan, error) {
	var out []*domain.Plan
	err := t.tx.SelectContext(ctx, &out, `
		SELECT `+planColumns+`
		FROM plans
		WHERE is_active OR NOT $1
		ORDER BY display_order, name
	`, activeOnly)
	if err != nil {
		return nil, mapErr("list plans", err)
	}
	return out, nil
}

func (t *pgTx) GetMembership(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	var m domain.Membership
	if err := t.get(ctx, &m, "membership", id, `SELECT `+membershipColumns+` FROM memberships WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *pgTx) LockMembership(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	var m domain.Membership
	if err := t.get(ctx, &m, "membership", id, `SELECT `+membershipColumns+` FROM memberships WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *pgTx) ListActiveMemberships(ctx context.Context, memberID uuid.UUID) ([]*domain.Membership, error) {
	var out []*domain.Membership
	err := t.tx.SelectContext(ctx, &out, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE member_id = $1 AND is_active
		ORDER BY created_at, id
	`, memberID)
	if err != nil {
		return nil, mapErr("list memberships", err)
	}
	return out, nil
}

func (t *pgTx) ListMonthlyEndingOn(ctx context.Context, day time.Time) ([]*domain.Membership, error) {
	var out []*domain.Membership
	err := t.tx.SelectContext(ctx, &out, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE plan_type = 'monthly' AND is_active AND valid_until = $1
		ORDER BY created_at, id
	`, day.Format(time.DateOnly))
	if err != nil {
		return nil, mapErr("list expiring memberships", err)
	}
	return out, nil
}

func (t *pgTx) InsertMembership(ctx context.Context, m *domain.Membership) error {
	if err := m.CheckInvariants(); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "membership violates invariants")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Version = 1
	_, err := t.exec(ctx, "insert membership", `
		INSERT INTO memberships (`+membershipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.ID, m.MemberID, m.PlanID, string(m.PlanType), m.SwimsTotal, m.SwimsUsed,
		dateArg(m.ValidFrom), dateArg(m.ValidUntil), m.IsActive, m.CreatedAt, m.Version)
	return err
}

func (t *pgTx) UpdateMembership(ctx context.Context, m *domain.Membership) error {
	if err := m.CheckInvariants(); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "membership violates invariants")
	}
	res, err := t.exec(ctx, "update membership", `
		UPDATE memberships
		SET swims_total = $1, swims_used = $2, valid_from = $3, valid_until = $4,
		    is_active = $5, version = version + 1
		WHERE id = $6 AND version = $7
	`, m.SwimsTotal, m.SwimsUsed, dateArg(m.ValidFrom), dateArg(m.ValidUntil), m.IsActive, m.ID, m.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return conflict("membership", m.ID)
	}
	m.Version++
	return nil
}

func (t *pgTx) ListFreezes(ctx context.Context, membershipID uuid.UUID) ([]*domain.MembershipFreeze, error) {
	var out []*domain.MembershipFreeze
	err := t.tx.SelectContext(ctx, &out, `
		SELECT `+freezeColumns+`
		FROM membership_freezes
		WHERE membership_id = $1
		ORDER BY created_at, id
	`, membershipID)
	if err != nil {
		return nil, mapErr("list freezes", err)
	}
	return out, nil
}

func (t *pgTx) InsertFreeze(ctx context.Context, f *domain.MembershipFreeze) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := t.exec(ctx, "insert freeze", `
		INSERT INTO membership_freezes (`+freezeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, f.ID, f.MembershipID, f.FrozenBy, f.FreezeStart.Format(time.DateOnly), dateArg(f.FreezeEnd),
		f.DaysExtended, f.Reason, f.CreatedAt)
	return err
}

func (t *pgTx) UpdateFreeze(ctx context.Context, f *domain.MembershipFreeze) error {
	res, err := t.exec(ctx, "update freeze", `
		UPDATE membership_freezes SET freeze_end = $1 WHERE id = $2
	`, dateArg(f.FreezeEnd), f.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "freeze", f.ID)
}

func (t *pgTx) InsertCheckin(ctx context.Context, c *domain.Checkin) error {
	if c.CheckedInAt.IsZero() {
		c.CheckedInAt = time.Now().UTC()
	}
	_, err := t.exec(ctx, "insert checkin", `
		INSERT INTO checkins (id, member_id, membership_id, checkin_type, guest_count, checked_in_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.MemberID, c.MembershipID, string(c.Type), c.GuestCount, c.CheckedInAt, c.Notes)
	return err
}

func (t *pgTx) InsertGuestVisit(ctx context.Context, g *domain.GuestVisit) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := t.exec(ctx, "insert guest visit", `
		INSERT INTO guest_visits (`+guestVisitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, g.ID, g.Name, g.Phone, g.PlanID, string(g.Method), g.AmountPaid, g.TransactionID, g.CreatedAt)
	return err
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	_, err := t.exec(ctx, "insert transaction", `
		INSERT INTO transactions (`+transactionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, tr.ID, tr.MemberID, string(tr.Type), string(tr.Method), tr.Amount, tr.PlanID, tr.MembershipID,
		tr.SavedCardID, tr.RefundOf, tr.ReferenceID, tr.Notes, tr.CreatedBy, tr.CreatedAt)
	return err
}

func (t *pgTx) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var tr domain.Transaction
	if err := t.get(ctx, &tr, "transaction", id, `SELECT `+transactionCols+` FROM transactions WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (t *pgTx) UpdateTransactionNote(ctx context.Context, id uuid.UUID, note *string) error {
	res, err := t.exec(ctx, "update transaction note", `UPDATE transactions SET notes = $1 WHERE id = $2`, note, id)
	if err != nil {
		return err
	}
	return requireRow(res, "transaction", id)
}

func (t *pgTx) RefundedAmount(ctx context.Context, originalID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE transaction_type = 'refund' AND refund_of = $1
	`, originalID)
	if err != nil {
		return decimal.Zero, mapErr("sum refunds", err)
	}
	return total, nil
}

func (t *pgTx) GetSavedCard(ctx context.Context, id uuid.UUID) (*domain.SavedCard, error) {
	var c domain.SavedCard
	if err := t.get(ctx, &c, "saved card", id, `SELECT `+savedCardColumns+` FROM saved_cards WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) LockSavedCard(ctx context.Context, id uuid.UUID) (*domain.SavedCard, error) {
	var c domain.SavedCard
	if err := t.get(ctx, &c, "saved card", id, `SELECT `+savedCardColumns+` FROM saved_cards WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) InsertSavedCard(ctx context.Context, c *domain.SavedCard) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := t.exec(ctx, "insert saved card", `
		INSERT INTO saved_cards (`+savedCardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.ID, c.MemberID, c.ProcessorToken, c.Last4, c.Brand, c.FriendlyName, c.IsDefault,
		c.AutoChargeEnabled, c.AutoChargePlanID, dateArg(c.NextChargeDate), c.CreatedAt, c.UpdatedAt)
	return err
}

func (t *pgTx) UpdateSavedCard(ctx context.Context, c *domain.SavedCard) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := t.exec(ctx, "update saved card", `
		UPDATE saved_cards
		SET friendly_name = $1, is_default = $2, auto_charge_enabled = $3,
		    auto_charge_plan_id = $4, next_charge_date = $5, updated_at = $6
		WHERE id = $7
	`, c.FriendlyName, c.IsDefault, c.AutoChargeEnabled, c.AutoChargePlanID, dateArg(c.NextChargeDate), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "saved card", c.ID)
}

func (t *pgTx) ListSavedCards(ctx context.Context, memberID uuid.UUID) ([]*domain.SavedCard, error) {
	var out []*domain.SavedCard
	err := t.tx.SelectContext(ctx, &out, `
		SELECT `+savedCardColumns+`
		FROM saved_cards
		WHERE member_id = $1
		ORDER BY is_default DESC, created_at
	`, memberID)
	if err != nil {
		return nil, mapErr("list saved cards", err)
	}
	return out, nil
}

func (t *pgTx) DeleteSavedCard(ctx context.Context, id uuid.UUID) error {
	res, err := t.exec(ctx, "delete saved card", `DELETE FROM saved_cards WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "saved card", id)
}

func (t *pgTx) ClearDefaultCardExcept(ctx context.Context, memberID, keepID uuid.UUID) error {
	_, err := t.exec(ctx, "clear default card", `
		UPDATE saved_cards
		SET is_default = FALSE, updated_at = NOW()
		WHERE member_id = $1 AND id <> $2 AND is_default
	`, memberID, keepID)
	return err
}

func (t *pgTx) DisableAutoChargeExcept(ctx context.Context, memberID, keepID uuid.UUID) error {
	_, err := t.exec(ctx, "disable auto-charge", `
		UPDATE saved_cards
		SET auto_charge_enabled = FALSE, auto_charge_plan_id = NULL, next_charge_date = NULL, updated_at = NOW()
		WHERE member_id = $1 AND id <> $2 AND auto_charge_enabled
	`, memberID, keepID)
	return err
}

func (t *pgTx) ListDueAutoChargeCards(ctx context.Context, today time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT id
		FROM saved_cards
		WHERE auto_charge_enabled
		  AND auto_charge_plan_id IS NOT NULL
		  AND next_charge_date <= $1
		ORDER BY next_charge_date, id
	`, today.Format(time.DateOnly))
	if err != nil {
		return nil, mapErr("list due cards", err)
	}
	return ids, nil
}

func (t *pgTx) GetPinLockout(ctx context.Context, memberID uuid.UUID) (*domain.PinLockout, error) {
	var l domain.PinLockout
	err := t.tx.GetContext(ctx, &l, `
		SELECT member_id, failed_attempts, locked_until, last_attempt_at
		FROM pin_lockouts
		WHERE member_id = $1
	`, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.PinLockout{MemberID: memberID}, nil
	}
	if err != nil {
		return nil, mapErr("get pin lockout", err)
	}
	return &l, nil
}

func (t *pgTx) SavePinLockout(ctx context.Context, l *domain.PinLockout) error {
	_, err := t.exec(ctx, "save pin lockout", `
		INSERT INTO pin_lockouts (member_id, failed_attempts, locked_until, last_attempt_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (member_id) DO UPDATE
		SET failed_attempts = EXCLUDED.failed_attempts,
		    locked_until = EXCLUDED.locked_until,
		    last_attempt_at = EXCLUDED.last_attempt_at
	`, l.MemberID, l.FailedAttempts, l.LockedUntil, l.LastAttemptAt)
	return err
}

func (t *pgTx) AppendActivity(ctx context.Context, a *domain.Activity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO activity_log (entity_type, entity_id, version, action, before_state, after_state, note, actor, created_at)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5, $6, $7, $8
		FROM activity_log
		WHERE entity_id = $2
		RETURNING id, version
	`, a.EntityType, a.EntityID, a.Action, jsonArg(a.Before), jsonArg(a.After), a.Note, a.Actor, a.CreatedAt).
		Scan(&a.ID, &a.Version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return conflict("activity stream", a.EntityID)
		}
		return mapErr("append activity", err)
	}
	return nil
}

func (t *pgTx) ListActivity(ctx context.Context, entityID uuid.UUID) ([]*domain.Activity, error) {
	var out []*domain.Activity
	err := t.tx.SelectContext(ctx, &out, `
		SELECT id, entity_type, entity_id, version, action,
		       COALESCE(before_state, 'null'::jsonb) AS before_state,
		       COALESCE(after_state, 'null'::jsonb) AS after_state,
		       note, actor, created_at
		FROM activity_log
		WHERE entity_id = $1
		ORDER BY version ASC
	`, entityID)
	if err != nil {
		return nil, mapErr("list activity", err)
	}
	return out, nil
}

func (t *pgTx) GetSettings(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := t.tx.QueryxContext(ctx, `SELECT key, value FROM settings WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, mapErr("get settings", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return out, nil
}

func (t *pgTx) PutSetting(ctx context.Context, key, value string) error {
	_, err := t.exec(ctx, "put setting", `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	return err
}

func (t *pgTx) SummarizeDay(ctx context.Context, from, to time.Time) (*domain.DaySummary, error) {
	sum := &domain.DaySummary{
		Day:             domain.DateOf(from),
		RevenueByMethod: map[domain.PaymentMethod]decimal.Decimal{},
		Refunds:         decimal.Zero,
	}
	err := t.tx.QueryRowxContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(guest_count), 0)
		FROM checkins
		WHERE checked_in_at >= $1 AND checked_in_at < $2
	`, from, to).Scan(&sum.Checkins, &sum.Guests)
	if err != nil {
		return nil, mapErr("count checkins", err)
	}

	rows, err := t.tx.QueryxContext(ctx, `
		SELECT transaction_type, payment_method, COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
		  AND transaction_type IN ('payment', 'refund')
		GROUP BY transaction_type, payment_method
	`, from, to)
	if err != nil {
		return nil, mapErr("sum transactions", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ, method string
		var amount decimal.Decimal
		if err := rows.Scan(&typ, &method, &amount); err != nil {
			return nil, fmt.Errorf("scan revenue row: %w", err)
		}
		switch domain.TransactionType(typ) {
		case domain.TxPayment:
			sum.RevenueByMethod[domain.PaymentMethod(method)] = amount
		case domain.TxRefund:
			sum.Refunds = sum.Refunds.Add(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revenue rows: %w", err)
	}
	return sum, nil
}
