package repository

import (
	"time"

	"restopos/internal/cashier"
	"restopos/internal/model"
	"restopos/internal/money"
)

// sessionRow converts a snapshot into its table rows. Seq columns carry the
// ledger order so a reload restores the exact insertion sequence.
func sessionRow(snap cashier.Snapshot) model.CashierSession {
	row := model.CashierSession{
		ID:            snap.ID,
		Operator:      snap.Operator,
		Status:        string(snap.Status),
		InitialAmount: int64(snap.InitialAmount),
		OpenedAt:      snap.OpenedAt,
		ClosedAt:      snap.ClosedAt,
		Movements:     make([]model.CashMovement, len(snap.Movements)),
		Sales:         make([]model.Sale, len(snap.Sales)),
	}
	if r := snap.Report; r != nil {
		row.ExpectedBalance = ptr(int64(r.ExpectedBalance))
		row.CountedAmount = ptr(int64(r.CountedAmount))
		row.Difference = ptr(int64(r.Difference))
		row.Classification = ptr(string(r.Classification))
		row.Observations = optional(r.Observations)
	}

	for i, m := range snap.Movements {
		row.Movements[i] = model.CashMovement{
			ID:         m.ID,
			SessionID:  snap.ID,
			Seq:        i,
			Type:       string(m.Type),
			Amount:     int64(m.Amount),
			Reason:     m.Reason,
			Operator:   m.Operator,
			RecordedAt: m.Timestamp,
		}
	}

	for i, s := range snap.Sales {
		sale := model.Sale{
			ID:           s.ID,
			SessionID:    snap.ID,
			Seq:          i,
			Type:         string(s.Type),
			Status:       string(s.Status),
			TableLabel:   s.Table,
			RegisteredAt: s.CreatedAt,
			CancelReason: optional(s.CancelReason),
			CancelledAt:  s.CancelledAt,
			Items:        make([]model.SaleItem, len(s.Items)),
		}
		if c := s.Customer; c != nil {
			sale.CustomerName = optional(c.Name)
			sale.CustomerPhone = optional(c.Phone)
		}
		if p := s.Payment; p != nil {
			sale.PaymentMethod = ptr(string(p.Method))
			sale.AmountDue = ptr(int64(p.AmountDue))
			sale.AmountReceived = ptr(int64(p.AmountReceived))
			sale.ChangeGiven = ptr(int64(p.Change))
			sale.CardType = optional(string(p.CardType))
			if p.Installments > 0 {
				sale.Installments = ptr(p.Installments)
			}
			sale.VoucherCode = optional(p.VoucherCode)
			sale.PaidAt = ptr(p.Timestamp)
		}
		for j, it := range s.Items {
			sale.Items[j] = model.SaleItem{
				SaleID:    s.ID,
				Seq:       j,
				Name:      it.Name,
				UnitPrice: int64(it.UnitPrice),
				Quantity:  it.Quantity,
			}
		}
		row.Sales[i] = sale
	}
	return row
}

// sessionSnapshot is the inverse of sessionRow. Children must already be
// ordered by seq.
func sessionSnapshot(row model.CashierSession) cashier.Snapshot {
	snap := cashier.Snapshot{
		ID:            row.ID,
		Operator:      row.Operator,
		Status:        cashier.Status(row.Status),
		OpenedAt:      row.OpenedAt.UTC(),
		ClosedAt:      utc(row.ClosedAt),
		InitialAmount: money.Cents(row.InitialAmount),
		Movements:     make([]cashier.Movement, len(row.Movements)),
		Sales:         make([]cashier.Sale, len(row.Sales)),
	}
	if row.ExpectedBalance != nil && row.CountedAmount != nil && row.Difference != nil && row.Classification != nil {
		snap.Report = &cashier.ClosingReport{
			ExpectedBalance: money.Cents(*row.ExpectedBalance),
			CountedAmount:   money.Cents(*row.CountedAmount),
			Difference:      money.Cents(*row.Difference),
			Classification:  cashier.Classification(*row.Classification),
			Observations:    deref(row.Observations),
		}
		if row.ClosedAt != nil {
			snap.Report.ClosedAt = row.ClosedAt.UTC()
		}
	}

	for i, m := range row.Movements {
		snap.Movements[i] = cashier.Movement{
			ID:        m.ID,
			Type:      cashier.MovementType(m.Type),
			Amount:    money.Cents(m.Amount),
			Reason:    m.Reason,
			Timestamp: m.RecordedAt.UTC(),
			Operator:  m.Operator,
		}
	}

	for i, s := range row.Sales {
		sale := cashier.Sale{
			ID:           s.ID,
			Items:        make([]cashier.LineItem, len(s.Items)),
			Table:        s.TableLabel,
			Type:         cashier.SaleType(s.Type),
			Status:       cashier.SaleStatus(s.Status),
			CancelReason: deref(s.CancelReason),
			CreatedAt:    s.RegisteredAt.UTC(),
			CancelledAt:  utc(s.CancelledAt),
		}
		if s.CustomerName != nil || s.CustomerPhone != nil {
			sale.Customer = &cashier.Customer{Name: deref(s.CustomerName), Phone: deref(s.CustomerPhone)}
		}
		if s.PaymentMethod != nil {
			p := &cashier.Payment{
				Method:         cashier.PaymentMethod(*s.PaymentMethod),
				AmountDue:      money.Cents(deref(s.AmountDue)),
				AmountReceived: money.Cents(deref(s.AmountReceived)),
				Change:         money.Cents(deref(s.ChangeGiven)),
				CardType:       cashier.CardType(deref(s.CardType)),
				Installments:   deref(s.Installments),
				VoucherCode:    deref(s.VoucherCode),
			}
			if s.PaidAt != nil {
				p.Timestamp = s.PaidAt.UTC()
			}
			sale.Payment = p
		}
		for j, it := range s.Items {
			sale.Items[j] = cashier.LineItem{
				Name:      it.Name,
				UnitPrice: money.Cents(it.UnitPrice),
				Quantity:  it.Quantity,
			}
		}
		snap.Sales[i] = sale
	}
	return snap
}

func ptr[T any](v T) *T { return &v }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
