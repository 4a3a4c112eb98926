package cashier

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"restopos/internal/money"

	"github.com/google/uuid"
)

// Snapshot is the plain, serializable form of a Session. Amounts are minor
// units and the ledger slices keep insertion order.
type Snapshot struct {
	ID            uuid.UUID      `json:"id"`
	Operator      string         `json:"operator"`
	Status        Status         `json:"status"`
	OpenedAt      time.Time      `json:"opened_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
	InitialAmount money.Cents    `json:"initial_amount"`
	Movements     []Movement     `json:"movements"`
	Sales         []Sale         `json:"sales"`
	Report        *ClosingReport `json:"report,omitempty"`
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:            s.id,
		Operator:      s.operator,
		Status:        s.status,
		OpenedAt:      s.openedAt,
		InitialAmount: s.initialAmount,
		Movements:     append([]Movement{}, s.movements...),
		Sales:         make([]Sale, len(s.sales)),
	}
	for i, sale := range s.sales {
		snap.Sales[i] = sale.clone()
	}
	if s.closedAt != nil {
		t := *s.closedAt
		snap.ClosedAt = &t
	}
	if s.report != nil {
		r := *s.report
		snap.Report = &r
	}
	return snap
}

// Restore rebuilds a Session from a snapshot, re-checking the ledger shape,
// the sale and payment arithmetic and the closing report. Stored data is not
// trusted blindly.
func Restore(snap Snapshot, opts ...Option) (*Session, error) {
	if err := checkSnapshot(snap); err != nil {
		return nil, fmt.Errorf("cashier: restore session %s: %w", snap.ID, err)
	}

	s := &Session{
		now:           time.Now,
		id:            snap.ID,
		operator:      snap.Operator,
		openedAt:      snap.OpenedAt,
		initialAmount: snap.InitialAmount,
		status:        snap.Status,
		movements:     append([]Movement(nil), snap.Movements...),
		sales:         make([]*Sale, len(snap.Sales)),
		saleIdx:       make(map[uuid.UUID]int, len(snap.Sales)),
	}
	for i, sale := range snap.Sales {
		c := sale.clone()
		s.sales[i] = &c
		s.saleIdx[c.ID] = i
	}
	if snap.ClosedAt != nil {
		t := *snap.ClosedAt
		s.closedAt = &t
	}
	if snap.Report != nil {
		r := *snap.Report
		s.report = &r
	}
	for _, opt := range opts {
		opt(s)
	}
	s.id = snap.ID

	if s.report != nil && s.report.ExpectedBalance != s.balanceLocked() {
		return nil, fmt.Errorf("cashier: restore session %s: %w", snap.ID,
			invalid("report.expected_balance", s.report.ExpectedBalance, "does not match the ledger"))
	}
	return s, nil
}

func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	restored, err := Restore(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now == nil {
		s.now = time.Now
	}
	s.id = restored.id
	s.operator = restored.operator
	s.openedAt = restored.openedAt
	s.closedAt = restored.closedAt
	s.initialAmount = restored.initialAmount
	s.status = restored.status
	s.movements = restored.movements
	s.sales = restored.sales
	s.saleIdx = restored.saleIdx
	s.report = restored.report
	return nil
}

func checkSnapshot(snap Snapshot) error {
	if snap.ID == uuid.Nil {
		return invalid("id", snap.ID, "required")
	}
	if strings.TrimSpace(snap.Operator) == "" {
		return invalid("operator", snap.Operator, "required")
	}
	if snap.InitialAmount < 0 {
		return invalid("initial_amount", snap.InitialAmount, "must not be negative")
	}

	switch snap.Status {
	case StatusOpen:
		if snap.ClosedAt != nil || snap.Report != nil {
			return invalid("status", snap.Status, "open session carries closing data")
		}
	case StatusClosed:
		if snap.ClosedAt == nil || snap.Report == nil {
			return invalid("status", snap.Status, "closed session without closing report")
		}
		if !snap.ClosedAt.Equal(snap.Report.ClosedAt) {
			return invalid("closed_at", *snap.ClosedAt, "does not match report")
		}
		r := snap.Report
		if r.CountedAmount < 0 {
			return invalid("report.counted_amount", r.CountedAmount, "must not be negative")
		}
		if r.Difference != r.CountedAmount-r.ExpectedBalance {
			return invalid("report.difference", r.Difference, "does not match counted minus expected")
		}
		if r.Classification != Classify(r.Difference) {
			return invalid("report.classification", r.Classification, "does not match difference")
		}
	default:
		return invalid("status", snap.Status, "unknown")
	}

	seen := make(map[uuid.UUID]bool, len(snap.Movements)+len(snap.Sales))
	for i, m := range snap.Movements {
		field := fmt.Sprintf("movements[%d]", i)
		if m.ID == uuid.Nil || seen[m.ID] {
			return invalid(field+".id", m.ID, "missing or duplicated")
		}
		seen[m.ID] = true
		if !m.Type.Valid() {
			return invalid(field+".type", m.Type, "unknown")
		}
		if m.Amount <= 0 {
			return invalid(field+".amount", m.Amount, "must be positive")
		}
		if strings.TrimSpace(m.Reason) == "" {
			return invalid(field+".reason", m.Reason, "required")
		}
	}

	for i, sale := range snap.Sales {
		field := fmt.Sprintf("sales[%d]", i)
		if sale.ID == uuid.Nil || seen[sale.ID] {
			return invalid(field+".id", sale.ID, "missing or duplicated")
		}
		seen[sale.ID] = true
		if len(sale.Items) == 0 {
			return invalid(field+".items", len(sale.Items), "at least one item is required")
		}
		for j, it := range sale.Items {
			if it.UnitPrice < 0 || it.Quantity < 1 {
				return invalid(fmt.Sprintf("%s.items[%d]", field, j), it, "bad price or quantity")
			}
			if strings.TrimSpace(it.Name) == "" {
				return invalid(fmt.Sprintf("%s.items[%d].name", field, j), it.Name, "required")
			}
		}
		if !sale.Type.Valid() {
			return invalid(field+".type", sale.Type, "unknown")
		}
		switch sale.Status {
		case SalePaid:
			if sale.Payment == nil {
				return invalid(field+".payment", nil, "paid sale without payment")
			}
			if !sale.Payment.Method.Valid() {
				return invalid(field+".payment.method", sale.Payment.Method, "unknown")
			}
			p := sale.Payment
			if p.AmountDue != sale.Total() {
				return invalid(field+".payment.amount_due", p.AmountDue, "does not match sale total")
			}
			if p.Method == PaymentCash && (p.AmountReceived < p.AmountDue || p.Change != p.AmountReceived-p.AmountDue) {
				return invalid(field+".payment.change", p.Change, "cash received and change do not add up")
			}
		case SaleActive, SaleCancelled:
			if sale.Payment != nil {
				return invalid(field+".payment", sale.Payment.Method, "unpaid sale carries a payment")
			}
		default:
			return invalid(field+".status", sale.Status, "unknown")
		}
	}
	return nil
}
