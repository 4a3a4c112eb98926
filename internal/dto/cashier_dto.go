package dto

import (
	"time"

	"restopos/internal/cashier"
	"restopos/internal/money"
)

// Amounts travel as strings in the Brazilian format ("R$ 1.234,56", "12,5",
// "12.50") and are parsed by the service, never as JSON floats.

// ─── Request DTOs ────────────────────────────────────────────────────────────

type OpenSessionRequest struct {
	InitialAmount string `json:"initial_amount" validate:"required,max=32"`
}

type MovementRequest struct {
	Type   string `json:"type"   validate:"required,oneof=WITHDRAWAL SUPPLY"`
	Amount string `json:"amount" validate:"required,max=32"`
	Reason string `json:"reason" validate:"required,max=255"`
}

type SaleItemRequest struct {
	Name      string `json:"name"       validate:"required,max=120"`
	UnitPrice string `json:"unit_price" validate:"required,max=32"`
	Quantity  int    `json:"quantity"   validate:"required,min=1,max=999"`
}

type CustomerRequest struct {
	Name  string `json:"name"  validate:"omitempty,max=120"`
	Phone string `json:"phone" validate:"omitempty,max=30"`
}

type RegisterSaleRequest struct {
	Items    []SaleItemRequest `json:"items"    validate:"required,min=1,dive"`
	Customer *CustomerRequest  `json:"customer"`
	Table    string            `json:"table"    validate:"omitempty,max=20"`
	Type     string            `json:"type"     validate:"omitempty,oneof=DINE_IN TAKEAWAY DELIVERY"`
}

type PaymentRequest struct {
	Method         string `json:"method"          validate:"required,oneof=CASH CARD PIX VOUCHER"`
	AmountReceived string `json:"amount_received" validate:"omitempty,max=32"`
	CardType       string `json:"card_type"       validate:"omitempty,oneof=CREDIT DEBIT"`
	Installments   int    `json:"installments"    validate:"omitempty,min=1,max=12"`
	VoucherCode    string `json:"voucher_code"    validate:"omitempty,max=64"`
}

type CancelSaleRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type CloseSessionRequest struct {
	CountedAmount string `json:"counted_amount" validate:"required,max=32"`
	Observations  string `json:"observations"   validate:"max=1000"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

// Amount carries both the exact value in cents and its display form.
type Amount struct {
	Cents     int64  `json:"cents"`
	Formatted string `json:"formatted"`
}

func NewAmount(c money.Cents) Amount {
	return Amount{Cents: int64(c), Formatted: c.String()}
}

type MovementResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Amount    Amount    `json:"amount"`
	Reason    string    `json:"reason"`
	Operator  string    `json:"operator"`
	Timestamp time.Time `json:"timestamp"`
}

type SaleItemResponse struct {
	Name      string `json:"name"`
	UnitPrice Amount `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  Amount `json:"subtotal"`
}

type CustomerResponse struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type PaymentResponse struct {
	Method         string    `json:"method"`
	AmountDue      Amount    `json:"amount_due"`
	AmountReceived Amount    `json:"amount_received"`
	Change         Amount    `json:"change"`
	CardType       string    `json:"card_type,omitempty"`
	Installments   int       `json:"installments,omitempty"`
	VoucherCode    string    `json:"voucher_code,omitempty"`
	PaidAt         time.Time `json:"paid_at"`
}

type SaleResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Status       string             `json:"status"`
	Table        string             `json:"table,omitempty"`
	Customer     *CustomerResponse  `json:"customer,omitempty"`
	Items        []SaleItemResponse `json:"items"`
	Total        Amount             `json:"total"`
	Payment      *PaymentResponse   `json:"payment,omitempty"`
	CancelReason string             `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	CancelledAt  *time.Time         `json:"cancelled_at,omitempty"`
}

type ClosingReportResponse struct {
	ExpectedBalance Amount    `json:"expected_balance"`
	CountedAmount   Amount    `json:"counted_amount"`
	Difference      Amount    `json:"difference"`
	Classification  string    `json:"classification"`
	Observations    string    `json:"observations,omitempty"`
	ClosedAt        time.Time `json:"closed_at"`
}

type SummaryResponse struct {
	Supplies        Amount            `json:"supplies"`
	SupplyCount     int               `json:"supply_count"`
	Withdrawals     Amount            `json:"withdrawals"`
	WithdrawalCount int               `json:"withdrawal_count"`
	PaidSales       int               `json:"paid_sales"`
	ActiveSales     int               `json:"active_sales"`
	CancelledSales  int               `json:"cancelled_sales"`
	PaidTotal       Amount            `json:"paid_total"`
	PaidByMethod    map[string]Amount `json:"paid_by_method"`
	ChangeGiven     Amount            `json:"change_given"`
}

type SessionResponse struct {
	ID             string                 `json:"id"`
	Operator       string                 `json:"operator"`
	Status         string                 `json:"status"`
	OpenedAt       time.Time              `json:"opened_at"`
	ClosedAt       *time.Time             `json:"closed_at"`
	InitialAmount  Amount                 `json:"initial_amount"`
	CurrentBalance Amount                 `json:"current_balance"`
	Summary        SummaryResponse        `json:"summary"`
	Movements      []MovementResponse     `json:"movements"`
	Sales          []SaleResponse         `json:"sales"`
	Closing        *ClosingReportResponse `json:"closing"`
}

// SessionListItem is the history row: no ledger, just the header and the count.
type SessionListItem struct {
	ID            string                 `json:"id"`
	Operator      string                 `json:"operator"`
	Status        string                 `json:"status"`
	OpenedAt      time.Time              `json:"opened_at"`
	InitialAmount Amount                 `json:"initial_amount"`
	Closing       *ClosingReportResponse `json:"closing"`
}

type HistoryResponse struct {
	Data  []SessionListItem `json:"data"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

// ─── Projections ─────────────────────────────────────────────────────────────

func NewMovementResponse(m cashier.Movement) MovementResponse {
	return MovementResponse{
		ID:        m.ID.String(),
		Type:      string(m.Type),
		Amount:    NewAmount(m.Amount),
		Reason:    m.Reason,
		Operator:  m.Operator,
		Timestamp: m.Timestamp,
	}
}

func NewSaleResponse(s cashier.Sale) SaleResponse {
	resp := SaleResponse{
		ID:           s.ID.String(),
		Type:         string(s.Type),
		Status:       string(s.Status),
		Table:        s.Table,
		Items:        make([]SaleItemResponse, len(s.Items)),
		Total:        NewAmount(s.Total()),
		CancelReason: s.CancelReason,
		CreatedAt:    s.CreatedAt,
		CancelledAt:  s.CancelledAt,
	}
	for i, it := range s.Items {
		resp.Items[i] = SaleItemResponse{
			Name:      it.Name,
			UnitPrice: NewAmount(it.UnitPrice),
			Quantity:  it.Quantity,
			Subtotal:  NewAmount(it.Subtotal()),
		}
	}
	if s.Customer != nil {
		resp.Customer = &CustomerResponse{Name: s.Customer.Name, Phone: s.Customer.Phone}
	}
	if p := s.Payment; p != nil {
		resp.Payment = &PaymentResponse{
			Method:         string(p.Method),
			AmountDue:      NewAmount(p.AmountDue),
			AmountReceived: NewAmount(p.AmountReceived),
			Change:         NewAmount(p.Change),
			CardType:       string(p.CardType),
			Installments:   p.Installments,
			VoucherCode:    p.VoucherCode,
			PaidAt:         p.Timestamp,
		}
	}
	return resp
}

func NewClosingReportResponse(r cashier.ClosingReport) *ClosingReportResponse {
	return &ClosingReportResponse{
		ExpectedBalance: NewAmount(r.ExpectedBalance),
		CountedAmount:   NewAmount(r.CountedAmount),
		Difference:      NewAmount(r.Difference),
		Classification:  string(r.Classification),
		Observations:    r.Observations,
		ClosedAt:        r.ClosedAt,
	}
}

func NewSummaryResponse(sum cashier.Summary) SummaryResponse {
	byMethod := make(map[string]Amount, len(cashier.PaymentMethods))
	for _, m := range cashier.PaymentMethods {
		byMethod[string(m)] = NewAmount(sum.PaidByMethod[m])
	}
	return SummaryResponse{
		Supplies:        NewAmount(sum.Supplies),
		SupplyCount:     sum.SupplyCount,
		Withdrawals:     NewAmount(sum.Withdrawals),
		WithdrawalCount: sum.WithdrawalCount,
		PaidSales:       sum.PaidSales,
		ActiveSales:     sum.ActiveSales,
		CancelledSales:  sum.CancelledSales,
		PaidTotal:       NewAmount(sum.PaidTotal),
		PaidByMethod:    byMethod,
		ChangeGiven:     NewAmount(sum.ChangeGiven),
	}
}

func NewSessionResponse(s *cashier.Session) SessionResponse {
	resp := SessionResponse{
		ID:             s.ID().String(),
		Operator:       s.Operator(),
		Status:         string(s.Status()),
		OpenedAt:       s.OpenedAt(),
		InitialAmount:  NewAmount(s.InitialAmount()),
		CurrentBalance: NewAmount(s.CurrentBalance()),
		Summary:        NewSummaryResponse(s.Summary()),
	}
	if at, ok := s.ClosedAt(); ok {
		resp.ClosedAt = &at
	}
	movements := s.Movements()
	resp.Movements = make([]MovementResponse, len(movements))
	for i, m := range movements {
		resp.Movements[i] = NewMovementResponse(m)
	}
	sales := s.Sales()
	resp.Sales = make([]SaleResponse, len(sales))
	for i, sale := range sales {
		resp.Sales[i] = NewSaleResponse(sale)
	}
	if r, ok := s.Report(); ok {
		resp.Closing = NewClosingReportResponse(r)
	}
	return resp
}

func NewSessionListItem(s *cashier.Session) SessionListItem {
	item := SessionListItem{
		ID:            s.ID().String(),
		Operator:      s.Operator(),
		Status:        string(s.Status()),
		OpenedAt:      s.OpenedAt(),
		InitialAmount: NewAmount(s.InitialAmount()),
	}
	if r, ok := s.Report(); ok {
		item.Closing = NewClosingReportResponse(r)
	}
	return item
}
