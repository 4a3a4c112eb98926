package repository

import (
	"testing"
	"time"

	"restopos/internal/cashier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clock() func() time.Time {
	t := time.Date(2026, 5, 10, 11, 30, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func sampleSession(t *testing.T) *cashier.Session {
	t.Helper()
	s, err := cashier.Open("carla", 20000, cashier.WithClock(clock()))
	require.NoError(t, err)

	_, err = s.RecordMovement(cashier.MovementSupply, 3000, "Troco", "")
	require.NoError(t, err)
	_, err = s.RecordMovement(cashier.MovementWithdrawal, 1000, "Sangria", "gerente")
	require.NoError(t, err)

	card, err := s.RegisterSale(cashier.SaleDraft{
		Table: "7",
		Items: []cashier.LineItemDraft{{Name: "Picanha", UnitPrice: 8900, Quantity: 1}, {Name: "Arroz", UnitPrice: 1200, Quantity: 2}},
	})
	require.NoError(t, err)
	_, err = s.FinalizeSalePayment(card.ID, cashier.PaymentDraft{Method: cashier.PaymentCard, CardType: cashier.CardCredit, Installments: 2})
	require.NoError(t, err)

	voucher, err := s.RegisterSale(cashier.SaleDraft{
		Type:     cashier.SaleTakeaway,
		Customer: &cashier.Customer{Name: "Rui"},
		Items:    []cashier.LineItemDraft{{Name: "Salada", UnitPrice: 2500, Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = s.FinalizeSalePayment(voucher.ID, cashier.PaymentDraft{Method: cashier.PaymentVoucher, VoucherCode: "VR-9"})
	require.NoError(t, err)

	gone, err := s.RegisterSale(cashier.SaleDraft{
		Type:     cashier.SaleDelivery,
		Customer: &cashier.Customer{Phone: "21 3333-4444"},
		Items:    []cashier.LineItemDraft{{Name: "Pizza", UnitPrice: 5000, Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = s.CancelSale(gone.ID, "Endereço fora da área")
	require.NoError(t, err)
	return s
}

func TestSessionRow_OrdersLedgerBySeq(t *testing.T) {
	snap := sampleSession(t).Snapshot()
	row := sessionRow(snap)

	require.Len(t, row.Movements, 2)
	for i, m := range row.Movements {
		assert.Equal(t, i, m.Seq)
		assert.Equal(t, snap.ID, m.SessionID)
	}
	require.Len(t, row.Sales, 3)
	assert.Equal(t, "PAID", row.Sales[0].Status)
	require.NotNil(t, row.Sales[0].AmountDue)
	assert.Equal(t, int64(11300), *row.Sales[0].AmountDue)
	require.NotNil(t, row.Sales[0].Installments)
	assert.Equal(t, 2, *row.Sales[0].Installments)
	assert.Equal(t, 1, row.Sales[0].Items[1].Seq)
	assert.Nil(t, row.Sales[2].PaymentMethod)
	assert.Nil(t, row.Sales[2].CustomerName)
	assert.Nil(t, row.ExpectedBalance)
}

func TestSessionSnapshot_RoundTrip(t *testing.T) {
	s := sampleSession(t)
	snap := s.Snapshot()

	got := sessionSnapshot(sessionRow(snap))
	assert.Equal(t, snap, got)

	restored, err := cashier.Restore(got)
	require.NoError(t, err)
	assert.Equal(t, s.CurrentBalance(), restored.CurrentBalance())
}

func TestSessionSnapshot_RoundTripClosed(t *testing.T) {
	s := sampleSession(t)
	_, err := s.Close(s.CurrentBalance()+50, "Sobra de moedas")
	require.NoError(t, err)
	snap := s.Snapshot()

	row := sessionRow(snap)
	require.NotNil(t, row.Classification)
	assert.Equal(t, "SURPLUS", *row.Classification)
	assert.Equal(t, int64(50), *row.Difference)

	got := sessionSnapshot(row)
	assert.Equal(t, snap, got)
	_, err = cashier.Restore(got)
	require.NoError(t, err)
}
