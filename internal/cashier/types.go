package cashier

import (
	"time"

	"restopos/internal/money"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session. OPEN is initial, CLOSED is terminal.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

func (s Status) Valid() bool { return s == StatusOpen || s == StatusClosed }

// MovementType: WITHDRAWAL takes cash out of the drawer, SUPPLY puts cash in.
type MovementType string

const (
	MovementWithdrawal MovementType = "WITHDRAWAL"
	MovementSupply     MovementType = "SUPPLY"
)

func (t MovementType) Valid() bool { return t == MovementWithdrawal || t == MovementSupply }

type SaleType string

const (
	SaleDineIn   SaleType = "DINE_IN"
	SaleTakeaway SaleType = "TAKEAWAY"
	SaleDelivery SaleType = "DELIVERY"
)

func (t SaleType) Valid() bool {
	switch t {
	case SaleDineIn, SaleTakeaway, SaleDelivery:
		return true
	}
	return false
}

// SaleStatus: only PAID sales count towards the balance.
type SaleStatus string

const (
	SaleActive    SaleStatus = "ACTIVE"
	SalePaid      SaleStatus = "PAID"
	SaleCancelled SaleStatus = "CANCELLED"
)

func (s SaleStatus) Valid() bool {
	switch s {
	case SaleActive, SalePaid, SaleCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "CASH"
	PaymentCard    PaymentMethod = "CARD"
	PaymentPix     PaymentMethod = "PIX"
	PaymentVoucher PaymentMethod = "VOUCHER"
)

// PaymentMethods lists every method in display order.
var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCard, PaymentPix, PaymentVoucher}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentPix, PaymentVoucher:
		return true
	}
	return false
}

type CardType string

const (
	CardCredit CardType = "CREDIT"
	CardDebit  CardType = "DEBIT"
)

// MaxInstallments caps credit card installments.
const MaxInstallments = 12

// Classification of the closing count against the expected balance.
type Classification string

const (
	Reconciled Classification = "RECONCILED"
	Surplus    Classification = "SURPLUS"
	Shortage   Classification = "SHORTAGE"
)

// Classify maps the sign of counted-minus-expected to a Classification.
func Classify(difference money.Cents) Classification {
	switch {
	case difference > 0:
		return Surplus
	case difference < 0:
		return Shortage
	default:
		return Reconciled
	}
}

// Movement is an immutable ledger entry.
type Movement struct {
	ID        uuid.UUID    `json:"id"`
	Type      MovementType `json:"type"`
	Amount    money.Cents  `json:"amount"`
	Reason    string       `json:"reason"`
	Timestamp time.Time    `json:"timestamp"`
	Operator  string       `json:"operator"`
}

type LineItem struct {
	Name      string      `json:"name"`
	UnitPrice money.Cents `json:"unit_price"`
	Quantity  int         `json:"quantity"`
}

func (i LineItem) Subtotal() money.Cents {
	return i.UnitPrice * money.Cents(i.Quantity)
}

type Customer struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Payment is attached to a sale once, when it is finalized.
type Payment struct {
	Method         PaymentMethod `json:"method"`
	AmountDue      money.Cents   `json:"amount_due"`
	AmountReceived money.Cents   `json:"amount_received"`
	Change         money.Cents   `json:"change"`
	CardType       CardType      `json:"card_type,omitempty"`
	Installments   int           `json:"installments,omitempty"`
	VoucherCode    string        `json:"voucher_code,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

type Sale struct {
	ID           uuid.UUID  `json:"id"`
	Items        []LineItem `json:"items"`
	Customer     *Customer  `json:"customer,omitempty"`
	Table        string     `json:"table,omitempty"`
	Type         SaleType   `json:"type"`
	Status       SaleStatus `json:"status"`
	Payment      *Payment   `json:"payment,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

// Total is the sum of unit price times quantity over every item.
func (s Sale) Total() money.Cents {
	var total money.Cents
	for _, it := range s.Items {
		total += it.Subtotal()
	}
	return total
}

func (s Sale) clone() Sale {
	out := s
	out.Items = append([]LineItem(nil), s.Items...)
	if s.Customer != nil {
		c := *s.Customer
		out.Customer = &c
	}
	if s.Payment != nil {
		p := *s.Payment
		out.Payment = &p
	}
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		out.CancelledAt = &t
	}
	return out
}

// ClosingReport is the frozen record of the cash count taken at close.
type ClosingReport struct {
	ExpectedBalance money.Cents    `json:"expected_balance"`
	CountedAmount   money.Cents    `json:"counted_amount"`
	Difference      money.Cents    `json:"difference"`
	Classification  Classification `json:"classification"`
	Observations    string         `json:"observations,omitempty"`
	ClosedAt        time.Time      `json:"closed_at"`
}

// Summary is a read-only breakdown of the ledger.
type Summary struct {
	InitialAmount   money.Cents
	Supplies        money.Cents
	SupplyCount     int
	Withdrawals     money.Cents
	WithdrawalCount int
	PaidSales       int
	ActiveSales     int
	CancelledSales  int
	PaidTotal       money.Cents
	PaidByMethod    map[PaymentMethod]money.Cents
	ChangeGiven     money.Cents
	Balance         money.Cents
}

// SaleDraft is the operator input for a new sale.
type SaleDraft struct {
	Items    []LineItemDraft
	Customer *Customer
	Table    string
	Type     SaleType
}

type LineItemDraft struct {
	Name      string
	UnitPrice money.Cents
	Quantity  int
}

// PaymentDraft is the operator input for paying a sale. The amount due is
// always derived from the sale, never taken from the draft.
type PaymentDraft struct {
	Method         PaymentMethod
	AmountReceived money.Cents
	CardType       CardType
	Installments   int
	VoucherCode    string
}
