// internal/store/memory.go
package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"swimdesk/internal/apperr"
	"swimdesk/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Store. Transactions are serialized by one mutex
// and run against a copy of the state that replaces the original only when
// fn returns nil, so a failed transaction leaves no trace.
type Memory struct {
	mu         sync.Mutex
	state      *memState
	commitErrs []error
}

type memState struct {
	members     map[uuid.UUID]domain.Member
	plans       map[uuid.UUID]domain.Plan
	memberships map[uuid.UUID]domain.Membership
	freezes     map[uuid.UUID]domain.MembershipFreeze
	checkins    []domain.Checkin
	txns        map[uuid.UUID]domain.Transaction
	txnOrder    []uuid.UUID
	cards       map[uuid.UUID]domain.SavedCard
	rfid        map[uuid.UUID]domain.Card
	guests      []domain.GuestVisit
	lockouts    map[uuid.UUID]domain.PinLockout
	activity    []domain.Activity
	settings    map[string]string
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		members:     map[uuid.UUID]domain.Member{},
		plans:       map[uuid.UUID]domain.Plan{},
		memberships: map[uuid.UUID]domain.Membership{},
		freezes:     map[uuid.UUID]domain.MembershipFreeze{},
		txns:        map[uuid.UUID]domain.Transaction{},
		cards:       map[uuid.UUID]domain.SavedCard{},
		rfid:        map[uuid.UUID]domain.Card{},
		lockouts:    map[uuid.UUID]domain.PinLockout{},
		settings:    map[string]string{},
	}}
}

// FailNextCommit makes the next successful transaction fail at commit time
// with err. Tests use it to exercise compensation paths.
func (m *Memory) FailNextCommit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErrs = append(m.commitErrs, err)
}

func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	if len(m.commitErrs) > 0 {
		err := m.commitErrs[0]
		m.commitErrs = m.commitErrs[1:]
		return fmt.Errorf("commit transaction: %w", err)
	}
	m.state = work
	return nil
}

func (m *Memory) Close() error { return nil }

func (s *memState) clone() *memState {
	c := &memState{
		members:     make(map[uuid.UUID]domain.Member, len(s.members)),
		plans:       make(map[uuid.UUID]domain.Plan, len(s.plans)),
		memberships: make(map[uuid.UUID]domain.Membership, len(s.memberships)),
		freezes:     make(map[uuid.UUID]domain.MembershipFreeze, len(s.freezes)),
		checkins:    append([]domain.Checkin(nil), s.checkins...),
		txns:        make(map[uuid.UUID]domain.Transaction, len(s.txns)),
		txnOrder:    append([]uuid.UUID(nil), s.txnOrder...),
		cards:       make(map[uuid.UUID]domain.SavedCard, len(s.cards)),
		rfid:        make(map[uuid.UUID]domain.Card, len(s.rfid)),
		guests:      append([]domain.GuestVisit(nil), s.guests...),
		lockouts:    make(map[uuid.UUID]domain.PinLockout, len(s.lockouts)),
		activity:    append([]domain.Activity(nil), s.activity...),
		settings:    make(map[string]string, len(s.settings)),
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.memberships {
		c.memberships[k] = *v.Clone()
	}
	for k, v := range s.freezes {
		c.freezes[k] = v
	}
	for k, v := range s.txns {
		c.txns[k] = v
	}
	for k, v := range s.cards {
		c.cards[k] = *v.Clone()
	}
	for k, v := range s.rfid {
		c.rfid[k] = v
	}
	for k, v := range s.lockouts {
		c.lockouts[k] = v
	}
	for k, v := range s.settings {
		c.settings[k] = v
	}
	return c
}

type memTx struct {
	s *memState
}

func (t *memTx) GetMember(_ context.Context, id uuid.UUID) (*domain.Member, error) {
	m, ok := t.s.members[id]
	if !ok {
		return nil, notFound("member", id)
	}
	return &m, nil
}

func (t *memTx) LockMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	return t.GetMember(ctx, id)
}

func (t *memTx) InsertMember(_ context.Context, m *domain.Member) error {
	if _, ok := t.s.members[m.ID]; ok {
		return duplicate("member", fmt.Errorf("id %s", m.ID))
	}
	if m.CreditBalance.IsNegative() {
		return apperr.InvalidInput("credit balance cannot be negative")
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	t.s.members[m.ID] = *m
	return nil
}

func (t *memTx) FindActiveMemberByPhone(_ context.Context, phone string) (*domain.Member, error) {
	var found *domain.Member
	for _, m := range t.s.members {
		if m.IsActive && m.Phone != nil && *m.Phone == phone {
			if found == nil || m.CreatedAt.Before(found.CreatedAt) {
				m := m
				found = &m
			}
		}
	}
	if found == nil {
		return nil, notFound("member with phone", phone)
	}
	return found, nil
}

func (t *memTx) UpdateMemberCredit(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	m, ok := t.s.members[id]
	if !ok {
		return notFound("member", id)
	}
	if balance.IsNegative() {
		return apperr.PaymentRequired("credit balance cannot go below zero")
	}
	m.CreditBalance = balance.Round(2)
	m.UpdatedAt = time.Now().UTC()
	m.Version++
	t.s.members[id] = m
	return nil
}

func (t *memTx) UpdateMemberPIN(_ context.Context, id uuid.UUID, hash *string) error {
	m, ok := t.s.members[id]
	if !ok {
		return notFound("member", id)
	}
	m.PINHash = hash
	m.UpdatedAt = time.Now().UTC()
	m.Version++
	t.s.members[id] = m
	return nil
}

func (t *memTx) SearchMembers(_ context.Context, query string, limit int) ([]*domain.Member, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []*domain.Member
	for _, m := range t.s.members {
		if !m.IsActive {
			continue
		}
		phone := ""
		if m.Phone != nil {
			phone = *m.Phone
		}
		if strings.Contains(strings.ToLower(m.FirstName), q) ||
			strings.Contains(strings.ToLower(m.LastName), q) ||
			strings.Contains(phone, q) {
			m := m
			out = append(out, &m)
		}
	}
	sortMembers(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) ListActiveMembers(_ context.Context) ([]*domain.Member, error) {
	var out []*domain.Member
	for _, m := range t.s.members {
		if m.IsActive {
			m := m
			out = append(out, &m)
		}
	}
	sortMembers(out)
	return out, nil
}

func sortMembers(ms []*domain.Member) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].FirstName != ms[j].FirstName {
			return ms[i].FirstName < ms[j].FirstName
		}
		if ms[i].LastName != ms[j].LastName {
			return ms[i].LastName < ms[j].LastName
		}
		return bytes.Compare(ms[i].ID[:], ms[j].ID[:]) < 0
	})
}

func (t *memTx) GetCard(_ context.Context, id uuid.UUID) (*domain.Card, error) {
	c, ok := t.s.rfid[id]
	if !ok {
		return nil, notFound("card", id)
	}
	return &c, nil
}

func (t *memTx) FindCardByUID(_ context.Context, uid string) (*domain.Card, error) {
	for _, c := range t.s.rfid {
		if c.RFIDUID == uid {
			c := c
			return &c, nil
		}
	}
	return nil, notFound("card with uid", uid)
}

func (t *memTx) FindMemberByCard(ctx context.Context, uid string) (*domain.Member, error) {
	c, err := t.FindCardByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	m, ok := t.s.members[c.MemberID]
	if !c.IsActive || !ok || !m.IsActive {
		return nil, notFound("member with card", uid)
	}
	return &m, nil
}

func (t *memTx) InsertCard(_ context.Context, c *domain.Card) error {
	if _, ok := t.s.members[c.MemberID]; !ok {
		return notFound("member", c.MemberID)
	}
	for id, other := range t.s.rfid {
		if id == c.ID || other.RFIDUID == c.RFIDUID {
			return duplicate("card", fmt.Errorf("rfid uid %s", c.RFIDUID))
		}
	}
	if c.AssignedAt.IsZero() {
		c.AssignedAt = time.Now().UTC()
	}
	t.s.rfid[c.ID] = *c
	return nil
}

func (t *memTx) UpdateCard(_ context.Context, c *domain.Card) error {
	if _, ok := t.s.rfid[c.ID]; !ok {
		return notFound("card", c.ID)
	}
	t.s.rfid[c.ID] = *c
	return nil
}

func (t *memTx) DeleteCard(_ context.Context, id uuid.UUID) error {
	if _, ok := t.s.rfid[id]; !ok {
		return notFound("card", id)
	}
	delete(t.s.rfid, id)
	return nil
}

func (t *memTx) ListCards(_ context.Context, memberID uuid.UUID) ([]*domain.Card, error) {
	var out []*domain.Card
	for _, c := range t.s.rfid {
		if c.MemberID == memberID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.Before(out[j].AssignedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

func (t *memTx) GetPlan(_ context.Context, id uuid.UUID) (*domain.Plan, error) {
	p, ok := t.s.plans[id]
	if !ok {
		return nil, notFound("plan", id)
	}
	return &p, nil
}

func (t *memTx) InsertPlan(_ context.Context, p *domain.Plan) error {
	if _, ok := t.s.plans[p.ID]; ok {
		return duplicate("plan", fmt.Errorf("id %s", p.ID))
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	t.s.plans[p.ID] = *p
	return nil
}

func (t *memTx) UpdatePlan(_ context.Context, p *domain.Plan) error {
	if _, ok := t.s.plans[p.ID]; !ok {
		return notFound("plan", p.ID)
	}
	t.s.plans[p.ID] = *p
	return nil
}

func (t *memTx) ListPlans(_ context.Context, activeOnly bool) ([]*domain.Plan, error) {
	var out []*domain.Plan
	for _, p := range t.s.plans {
		if activeOnly && !p.IsActive {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (t *memTx) GetMembership(_ context.Context, id uuid.UUID) (*domain.Membership, error) {
	m, ok := t.s.memberships[id]
	if !ok {
		return nil, notFound("membership", id)
	}
	return m.Clone(), nil
}

func (t *memTx) LockMembership(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	return t.GetMembership(ctx, id)
}

func (t *memTx) ListActiveMemberships(_ context.Context, memberID uuid.UUID) ([]*domain.Membership, error) {
	var out []*domain.Membership
	for _, m := range t.s.memberships {
		if m.MemberID == memberID && m.IsActive {
			out = append(out, m.Clone())
		}
	}
	sortMemberships(out)
	return out, nil
}

func (t *memTx) ListMonthlyEndingOn(_ context.Context, day time.Time) ([]*domain.Membership, error) {
	d := domain.DateOf(day)
	var out []*domain.Membership
	for _, m := range t.s.memberships {
		if m.IsActive && m.PlanType == domain.PlanMonthly && m.ValidUntil != nil && domain.DateOf(*m.ValidUntil).Equal(d) {
			out = append(out, m.Clone())
		}
	}
	sortMemberships(out)
	return out, nil
}

func sortMemberships(ms []*domain.Membership) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return bytes.Compare(ms[i].ID[:], ms[j].ID[:]) < 0
	})
}

func (t *memTx) InsertMembership(_ context.Context, m *domain.Membership) error {
	if _, ok := t.s.memberships[m.ID]; ok {
		return duplicate("membership", fmt.Errorf("id %s", m.ID))
	}
	if _, ok := t.s.members[m.MemberID]; !ok {
		return notFound("member", m.MemberID)
	}
	if err := m.CheckInvariants(); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "membership violates invariants")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Version = 1
	t.s.memberships[m.ID] = *m.Clone()
	return nil
}

func (t *memTx) UpdateMembership(_ context.Context, m *domain.Membership) error {
	cur, ok := t.s.memberships[m.ID]
	if !ok {
		return notFound("membership", m.ID)
	}
	if cur.Version != m.Version {
		return conflict("membership", m.ID)
	}
	if err := m.CheckInvariants(); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "membership violates invariants")
	}
	m.Version++
	t.s.memberships[m.ID] = *m.Clone()
	return nil
}

func (t *memTx) ListFreezes(_ context.Context, membershipID uuid.UUID) ([]*domain.MembershipFreeze, error) {
	var out []*domain.MembershipFreeze
	for _, f := range t.s.freezes {
		if f.MembershipID == membershipID {
			f := f
			out = append(out, &f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) InsertFreeze(_ context.Context, f *domain.MembershipFreeze) error {
	if f.Open() {
		for _, other := range t.s.freezes {
			if other.MembershipID == f.MembershipID && other.Open() {
				return duplicate("open freeze", fmt.Errorf("membership %s", f.MembershipID))
			}
		}
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	t.s.freezes[f.ID] = *f
	return nil
}

func (t *memTx) UpdateFreeze(_ context.Context, f *domain.MembershipFreeze) error {
	if _, ok := t.s.freezes[f.ID]; !ok {
		return notFound("freeze", f.ID)
	}
	t.s.freezes[f.ID] = *f
	return nil
}

func (t *memTx) InsertCheckin(_ context.Context, c *domain.Checkin) error {
	if c.CheckedInAt.IsZero() {
		c.CheckedInAt = time.Now().UTC()
	}
	t.s.checkins = append(t.s.checkins, *c)
	return nil
}

func (t *memTx) InsertGuestVisit(_ context.Context, g *domain.GuestVisit) error {
	if _, ok := t.s.plans[g.PlanID]; !ok {
		return notFound("plan", g.PlanID)
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	t.s.guests = append(t.s.guests, *g)
	return nil
}

// GuestVisits returns every recorded walk-in. Test helper.
func (m *Memory) GuestVisits() []domain.GuestVisit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.GuestVisit(nil), m.state.guests...)
}

func (t *memTx) InsertTransaction(_ context.Context, tr *domain.Transaction) error {
	if _, ok := t.s.txns[tr.ID]; ok {
		return duplicate("transaction", fmt.Errorf("id %s", tr.ID))
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	t.s.txns[tr.ID] = *tr
	t.s.txnOrder = append(t.s.txnOrder, tr.ID)
	return nil
}

func (t *memTx) GetTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tr, ok := t.s.txns[id]
	if !ok {
		return nil, notFound("transaction", id)
	}
	return &tr, nil
}

func (t *memTx) UpdateTransactionNote(_ context.Context, id uuid.UUID, note *string) error {
	tr, ok := t.s.txns[id]
	if !ok {
		return notFound("transaction", id)
	}
	tr.Notes = note
	t.s.txns[id] = tr
	return nil
}

func (t *memTx) RefundedAmount(_ context.Context, originalID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, tr := range t.s.txns {
		if tr.Type == domain.TxRefund && tr.RefundOf != nil && *tr.RefundOf == originalID {
			total = total.Add(tr.Amount)
		}
	}
	return total, nil
}

// Transactions returns the ledger in insertion order. Test helper.
func (m *Memory) Transactions() []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Transaction, 0, len(m.state.txnOrder))
	for _, id := range m.state.txnOrder {
		out = append(out, m.state.txns[id])
	}
	return out
}

// Checkins returns every recorded visit. Test helper.
func (m *Memory) Checkins() []domain.Checkin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Checkin(nil), m.state.checkins...)
}

func (t *memTx) GetSavedCard(_ context.Context, id uuid.UUID) (*domain.SavedCard, error) {
	c, ok := t.s.cards[id]
	if !ok {
		return nil, notFound("saved card", id)
	}
	return c.Clone(), nil
}

func (t *memTx) LockSavedCard(ctx context.Context, id uuid.UUID) (*domain.SavedCard, error) {
	return t.GetSavedCard(ctx, id)
}

func (t *memTx) checkSingleEnabled(c *domain.SavedCard) error {
	if !c.AutoChargeEnabled {
		return nil
	}
	for id, other := range t.s.cards {
		if id != c.ID && other.MemberID == c.MemberID && other.AutoChargeEnabled {
			return duplicate("auto-charge card", fmt.Errorf("member %s", c.MemberID))
		}
	}
	return nil
}

func (t *memTx) InsertSavedCard(_ context.Context, c *domain.SavedCard) error {
	if _, ok := t.s.cards[c.ID]; ok {
		return duplicate("saved card", fmt.Errorf("id %s", c.ID))
	}
	if err := t.checkSingleEnabled(c); err != nil {
		return err
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	t.s.cards[c.ID] = *c.Clone()
	return nil
}

func (t *memTx) UpdateSavedCard(_ context.Context, c *domain.SavedCard) error {
	if _, ok := t.s.cards[c.ID]; !ok {
		return notFound("saved card", c.ID)
	}
	if err := t.checkSingleEnabled(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()
	t.s.cards[c.ID] = *c.Clone()
	return nil
}

func (t *memTx) ListSavedCards(_ context.Context, memberID uuid.UUID) ([]*domain.SavedCard, error) {
	var out []*domain.SavedCard
	for _, c := range t.s.cards {
		if c.MemberID == memberID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *memTx) DeleteSavedCard(_ context.Context, id uuid.UUID) error {
	if _, ok := t.s.cards[id]; !ok {
		return notFound("saved card", id)
	}
	delete(t.s.cards, id)
	for tid, tr := range t.s.txns {
		if tr.SavedCardID != nil && *tr.SavedCardID == id {
			tr.SavedCardID = nil
			t.s.txns[tid] = tr
		}
	}
	return nil
}

func (t *memTx) ClearDefaultCardExcept(_ context.Context, memberID, keepID uuid.UUID) error {
	for id, c := range t.s.cards {
		if c.MemberID == memberID && id != keepID && c.IsDefault {
			c.IsDefault = false
			c.UpdatedAt = time.Now().UTC()
			t.s.cards[id] = c
		}
	}
	return nil
}

func (t *memTx) DisableAutoChargeExcept(_ context.Context, memberID, keepID uuid.UUID) error {
	for id, c := range t.s.cards {
		if c.MemberID == memberID && id != keepID && c.AutoChargeEnabled {
			c.AutoChargeEnabled = false
			c.AutoChargePlanID = nil
			c.NextChargeDate = nil
			c.UpdatedAt = time.Now().UTC()
			t.s.cards[id] = c
		}
	}
	return nil
}

func (t *memTx) ListDueAutoChargeCards(_ context.Context, today time.Time) ([]uuid.UUID, error) {
	var due []domain.SavedCard
	for _, c := range t.s.cards {
		if c.DueOn(today) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextChargeDate.Equal(*due[j].NextChargeDate) {
			return due[i].NextChargeDate.Before(*due[j].NextChargeDate)
		}
		return bytes.Compare(due[i].ID[:], due[j].ID[:]) < 0
	})
	ids := make([]uuid.UUID, 0, len(due))
	for _, c := range due {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (t *memTx) GetPinLockout(_ context.Context, memberID uuid.UUID) (*domain.PinLockout, error) {
	l, ok := t.s.lockouts[memberID]
	if !ok {
		return &domain.PinLockout{MemberID: memberID}, nil
	}
	return &l, nil
}

func (t *memTx) SavePinLockout(_ context.Context, l *domain.PinLockout) error {
	t.s.lockouts[l.MemberID] = *l
	return nil
}

func (t *memTx) AppendActivity(_ context.Context, a *domain.Activity) error {
	version := 0
	for _, existing := range t.s.activity {
		if existing.EntityID == a.EntityID && existing.Version > version {
			version = existing.Version
		}
	}
	a.Version = version + 1
	a.ID = int64(len(t.s.activity) + 1)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	t.s.activity = append(t.s.activity, *a)
	return nil
}

func (t *memTx) ListActivity(_ context.Context, entityID uuid.UUID) ([]*domain.Activity, error) {
	var out []*domain.Activity
	for _, a := range t.s.activity {
		if a.EntityID == entityID {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

func (t *memTx) GetSettings(_ context.Context, prefix string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range t.s.settings {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (t *memTx) PutSetting(_ context.Context, key, value string) error {
	t.s.settings[key] = value
	return nil
}

func (t *memTx) SummarizeDay(_ context.Context, from, to time.Time) (*domain.DaySummary, error) {
	sum := &domain.DaySummary{
		Day:             domain.DateOf(from),
		RevenueByMethod: map[domain.PaymentMethod]decimal.Decimal{},
		Refunds:         decimal.Zero,
	}
	in := func(ts time.Time) bool { return !ts.Before(from) && ts.Before(to) }
	for _, c := range t.s.checkins {
		if in(c.CheckedInAt) {
			sum.Checkins++
			sum.Guests += c.GuestCount
		}
	}
	for _, tr := range t.s.txns {
		if !in(tr.CreatedAt) {
			continue
		}
		switch tr.Type {
		case domain.TxPayment:
			sum.RevenueByMethod[tr.Method] = sum.RevenueByMethod[tr.Method].Add(tr.Amount)
		case domain.TxRefund:
			sum.Refunds = sum.Refunds.Add(tr.Amount)
		}
	}
	return sum, nil
}
