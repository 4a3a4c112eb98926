// Package cashier implements the cash register session: an append-only ledger
// of cash movements and sales, the running balance derived from it, and the
// closing reconciliation.
//
// The balance is never stored. It is recomputed from the ledger on every read,
// so the two cannot drift apart. Every mutation validates completely before it
// appends anything; a failed call leaves the session untouched.
//
// A Session is safe for concurrent use. Mutations are serialized by a
// per-session lock and readers always observe a fully applied ledger.
// The package performs no I/O and does not log.
package cashier

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"restopos/internal/money"

	"github.com/google/uuid"
)

type Session struct {
	mu  sync.RWMutex
	now func() time.Time

	id            uuid.UUID
	operator      string
	openedAt      time.Time
	closedAt      *time.Time
	initialAmount money.Cents
	status        Status

	movements []Movement
	sales     []*Sale
	saleIdx   map[uuid.UUID]int
	report    *ClosingReport
}

// Option customizes a session at Open or Restore time.
type Option func(*Session)

// WithClock replaces time.Now as the source of ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithID fixes the session id instead of generating one.
func WithID(id uuid.UUID) Option {
	return func(s *Session) { s.id = id }
}

// Open starts a new session for operator with initialAmount in the drawer.
func Open(operator string, initialAmount money.Cents, opts ...Option) (*Session, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil, invalid("operator", operator, "required")
	}
	if initialAmount < 0 {
		return nil, invalid("initial_amount", initialAmount, "must not be negative")
	}

	s := &Session{
		now:           time.Now,
		id:            uuid.New(),
		operator:      operator,
		initialAmount: initialAmount,
		status:        StatusOpen,
		saleIdx:       make(map[uuid.UUID]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.openedAt = s.stamp()
	return s, nil
}

// ── Mutations ─────────────────────────────────────────────────────────────────

// RecordMovement appends a cash supply or withdrawal. A withdrawal larger than
// the current balance is rejected with InsufficientBalanceError. An empty
// operator defaults to the session operator.
func (s *Session) RecordMovement(typ MovementType, amount money.Cents, reason, operator string) (Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen("record movement"); err != nil {
		return Movement{}, err
	}
	if !typ.Valid() {
		return Movement{}, invalid("type", typ, "must be WITHDRAWAL or SUPPLY")
	}
	if amount <= 0 {
		return Movement{}, invalid("amount", amount, "must be positive")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Movement{}, invalid("reason", reason, "required")
	}
	operator = strings.TrimSpace(operator)
	if operator == "" {
		operator = s.operator
	}
	switch balance := s.balanceLocked(); typ {
	case MovementWithdrawal:
		if amount > balance {
			return Movement{}, &InsufficientBalanceError{Requested: amount, Available: balance}
		}
	case MovementSupply:
		if amount > math.MaxInt64-balance {
			return Movement{}, invalid("amount", amount, "balance out of range")
		}
	}

	m := Movement{
		ID:        uuid.New(),
		Type:      typ,
		Amount:    amount,
		Reason:    reason,
		Timestamp: s.stamp(),
		Operator:  operator,
	}
	s.movements = append(s.movements, m)
	return m, nil
}

// RegisterSale appends a new ACTIVE sale. It contributes nothing to the balance
// until it is paid.
func (s *Session) RegisterSale(draft SaleDraft) (Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen("register sale"); err != nil {
		return Sale{}, err
	}
	sale, err := newSale(draft)
	if err != nil {
		return Sale{}, err
	}
	sale.ID = uuid.New()
	sale.CreatedAt = s.stamp()

	s.saleIdx[sale.ID] = len(s.sales)
	s.sales = append(s.sales, sale)
	return sale.clone(), nil
}

// FinalizeSalePayment pays an ACTIVE sale. A sale is paid at most once.
func (s *Session) FinalizeSalePayment(saleID uuid.UUID, draft PaymentDraft) (Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen("finalize payment"); err != nil {
		return Sale{}, err
	}
	sale, err := s.activeSaleLocked(saleID, "finalize payment")
	if err != nil {
		return Sale{}, err
	}
	if sale.Total() > math.MaxInt64-s.balanceLocked() {
		return Sale{}, invalid("sale_id", saleID, "balance out of range")
	}
	p, err := buildPayment(sale.Total(), draft)
	if err != nil {
		return Sale{}, err
	}
	p.Timestamp = s.stamp()

	sale.Status = SalePaid
	sale.Payment = &p
	return sale.clone(), nil
}

// CancelSale cancels an ACTIVE sale. Paid sales cannot be cancelled.
func (s *Session) CancelSale(saleID uuid.UUID, reason string) (Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen("cancel sale"); err != nil {
		return Sale{}, err
	}
	sale, err := s.activeSaleLocked(saleID, "cancel sale")
	if err != nil {
		return Sale{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Sale{}, invalid("reason", reason, "required")
	}

	at := s.stamp()
	sale.Status = SaleCancelled
	sale.CancelReason = reason
	sale.CancelledAt = &at
	return sale.clone(), nil
}

// Close counts the drawer and ends the session. The divergence is recorded,
// never blocked; whether a divergent close needs extra sign-off is up to the caller.
func (s *Session) Close(counted money.Cents, observations string) (ClosingReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen("close"); err != nil {
		return ClosingReport{}, err
	}
	if counted < 0 {
		return ClosingReport{}, invalid("counted_amount", counted, "must not be negative")
	}

	expected := s.balanceLocked()
	diff := counted - expected
	at := s.stamp()
	report := ClosingReport{
		ExpectedBalance: expected,
		CountedAmount:   counted,
		Difference:      diff,
		Classification:  Classify(diff),
		Observations:    strings.TrimSpace(observations),
		ClosedAt:        at,
	}

	s.report = &report
	s.closedAt = &at
	s.status = StatusClosed
	return report, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *Session) ID() uuid.UUID { return s.id }
func (s *Session) Operator() string { return s.operator }
func (s *Session) OpenedAt() time.Time { return s.openedAt }
func (s *Session) InitialAmount() money.Cents { return s.initialAmount }

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) ClosedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closedAt == nil {
		return time.Time{}, false
	}
	return *s.closedAt, true
}

// CurrentBalance is initial + supplies − withdrawals + paid sale totals,
// recomputed from the ledger on every call.
func (s *Session) CurrentBalance() money.Cents {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balanceLocked()
}

// Movements returns a copy of the movement ledger in insertion order.
func (s *Session) Movements() []Movement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Movement(nil), s.movements...)
}

// Sales returns copies of every sale in registration order.
func (s *Session) Sales() []Sale {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sale, len(s.sales))
	for i, sale := range s.sales {
		out[i] = sale.clone()
	}
	return out
}

func (s *Session) Sale(id uuid.UUID) (Sale, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.saleIdx[id]
	if !ok {
		return Sale{}, false
	}
	return s.sales[i].clone(), true
}

// Report returns the closing report once the session is closed.
func (s *Session) Report() (ClosingReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.report == nil {
		return ClosingReport{}, false
	}
	return *s.report, true
}

func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		InitialAmount: s.initialAmount,
		PaidByMethod:  make(map[PaymentMethod]money.Cents, len(PaymentMethods)),
	}
	for _, m := range PaymentMethods {
		sum.PaidByMethod[m] = 0
	}
	for _, m := range s.movements {
		switch m.Type {
		case MovementSupply:
			sum.Supplies += m.Amount
			sum.SupplyCount++
		case MovementWithdrawal:
			sum.Withdrawals += m.Amount
			sum.WithdrawalCount++
		}
	}
	for _, sale := range s.sales {
		switch sale.Status {
		case SaleActive:
			sum.ActiveSales++
		case SaleCancelled:
			sum.CancelledSales++
		case SalePaid:
			sum.PaidSales++
			total := sale.Total()
			sum.PaidTotal += total
			sum.PaidByMethod[sale.Payment.Method] += total
			sum.ChangeGiven += sale.Payment.Change
		}
	}
	sum.Balance = s.balanceLocked()
	return sum
}

// ── Internals (callers hold s.mu) ────────────────────────────────────────────

func (s *Session) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Session) requireOpen(op string) error {
	if s.status != StatusOpen {
		return &InvalidStateError{Entity: "session", ID: s.id, State: string(s.status), Op: op}
	}
	return nil
}

func (s *Session) balanceLocked() money.Cents {
	balance := s.initialAmount
	for _, m := range s.movements {
		switch m.Type {
		case MovementSupply:
			balance += m.Amount
		case MovementWithdrawal:
			balance -= m.Amount
		}
	}
	for _, sale := range s.sales {
		if sale.Status == SalePaid {
			balance += sale.Total()
		}
	}
	return balance
}

func (s *Session) activeSaleLocked(id uuid.UUID, op string) (*Sale, error) {
	i, ok := s.saleIdx[id]
	if !ok {
		return nil, invalid("sale_id", id, "no such sale in this session")
	}
	sale := s.sales[i]
	if sale.Status != SaleActive {
		return nil, &InvalidStateError{Entity: "sale", ID: id, State: string(sale.Status), Op: op}
	}
	return sale, nil
}

func newSale(draft SaleDraft) (*Sale, error) {
	if len(draft.Items) == 0 {
		return nil, invalid("items", len(draft.Items), "at least one item is required")
	}

	items := make([]LineItem, 0, len(draft.Items))
	var total money.Cents
	for i, it := range draft.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			return nil, invalid(fmt.Sprintf("items[%d].name", i), it.Name, "required")
		}
		if it.UnitPrice < 0 {
			return nil, invalid(fmt.Sprintf("items[%d].unit_price", i), it.UnitPrice, "must not be negative")
		}
		if it.Quantity < 1 {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), it.Quantity, "must be at least 1")
		}
		if it.UnitPrice > 0 && int64(it.Quantity) > int64(math.MaxInt64-total)/int64(it.UnitPrice) {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), it.Quantity, "sale total out of range")
		}
		item := LineItem{Name: name, UnitPrice: it.UnitPrice, Quantity: it.Quantity}
		total += item.Subtotal()
		items = append(items, item)
	}

	typ := draft.Type
	if typ == "" {
		typ = SaleDineIn
	}
	if !typ.Valid() {
		return nil, invalid("type", draft.Type, "must be DINE_IN, TAKEAWAY or DELIVERY")
	}

	var customer *Customer
	if draft.Customer != nil {
		c := Customer{Name: strings.TrimSpace(draft.Customer.Name), Phone: strings.TrimSpace(draft.Customer.Phone)}
		if c.Name != "" || c.Phone != "" {
			customer = &c
		}
	}
	if typ == SaleDelivery && (customer == nil || customer.Phone == "") {
		return nil, invalid("customer.phone", "", "required for delivery")
	}

	return &Sale{
		Items:    items,
		Customer: customer,
		Table:    strings.TrimSpace(draft.Table),
		Type:     typ,
		Status:   SaleActive,
	}, nil
}

func buildPayment(due money.Cents, draft PaymentDraft) (Payment, error) {
	p := Payment{Method: draft.Method, AmountDue: due, AmountReceived: due}

	switch draft.Method {
	case PaymentCash:
		if draft.AmountReceived < due {
			return Payment{}, invalid("amount_received", draft.AmountReceived, "less than amount due "+due.String())
		}
		p.AmountReceived = draft.AmountReceived
		p.Change = draft.AmountReceived - due
		return p, nil

	case PaymentCard:
		switch draft.CardType {
		case CardCredit:
			p.Installments = draft.Installments
			if p.Installments == 0 {
				p.Installments = 1
			}
			if p.Installments < 1 || p.Installments > MaxInstallments {
				return Payment{}, invalid("installments", draft.Installments, fmt.Sprintf("must be between 1 and %d", MaxInstallments))
			}
		case CardDebit:
			if draft.Installments > 1 || draft.Installments < 0 {
				return Payment{}, invalid("installments", draft.Installments, "debit is paid in a single installment")
			}
			p.Installments = 1
		default:
			return Payment{}, invalid("card_type", draft.CardType, "must be CREDIT or DEBIT")
		}
		p.CardType = draft.CardType

	case PaymentPix:
		// no method-specific attributes

	case PaymentVoucher:
		p.VoucherCode = strings.TrimSpace(draft.VoucherCode)
		if p.VoucherCode == "" {
			return Payment{}, invalid("voucher_code", draft.VoucherCode, "required for voucher payments")
		}

	default:
		return Payment{}, invalid("method", draft.Method, "must be CASH, CARD, PIX or VOUCHER")
	}

	if draft.AmountReceived != 0 && draft.AmountReceived != due {
		return Payment{}, invalid("amount_received", draft.AmountReceived, "must equal the amount due for non-cash payments")
	}
	return p, nil
}
