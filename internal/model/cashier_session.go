package model

import (
	"time"

	"github.com/google/uuid"
)

// CashierSession is the persisted header of a cash register session.
// Status: "OPEN" | "CLOSED". All money columns hold minor units (cents).
type CashierSession struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Operator      string     `gorm:"type:varchar(80);not null;index"`
	Status        string     `gorm:"type:varchar(10);not null;index"`
	InitialAmount int64      `gorm:"not null"`
	OpenedAt      time.Time  `gorm:"not null"`
	ClosedAt      *time.Time `gorm:"index"`

	// Closing columns are filled once, when the session closes.
	ExpectedBalance *int64
	CountedAmount   *int64
	Difference      *int64
	Classification  *string `gorm:"type:varchar(12)"`
	Observations    *string

	UpdatedAt time.Time

	Movements []CashMovement `gorm:"foreignKey:SessionID"`
	Sales     []Sale         `gorm:"foreignKey:SessionID"`
}

// CashMovement is an immutable ledger entry. Seq preserves insertion order.
// Type: "WITHDRAWAL" | "SUPPLY"
type CashMovement struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_movement_session_seq,priority:1"`
	Seq        int       `gorm:"not null;uniqueIndex:idx_movement_session_seq,priority:2"`
	Type       string    `gorm:"type:varchar(12);not null"`
	Amount     int64     `gorm:"not null"`
	Reason     string    `gorm:"not null"`
	Operator   string    `gorm:"type:varchar(80);not null"`
	RecordedAt time.Time `gorm:"not null"`
}

// Sale stores the order and, once paid, its payment inline.
// Status: "ACTIVE" | "PAID" | "CANCELLED"
type Sale struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_sale_session_seq,priority:1"`
	Seq           int       `gorm:"not null;uniqueIndex:idx_sale_session_seq,priority:2"`
	Type          string    `gorm:"type:varchar(10);not null"`
	Status        string    `gorm:"type:varchar(10);not null"`
	TableLabel    string    `gorm:"type:varchar(20)"`
	CustomerName  *string
	CustomerPhone *string   `gorm:"type:varchar(30)"`
	RegisteredAt  time.Time `gorm:"not null"`
	CancelReason  *string
	CancelledAt   *time.Time

	PaymentMethod  *string `gorm:"type:varchar(10)"`
	AmountDue      *int64
	AmountReceived *int64
	ChangeGiven    *int64
	CardType       *string `gorm:"type:varchar(10)"`
	Installments   *int
	VoucherCode    *string `gorm:"type:varchar(60)"`
	PaidAt         *time.Time

	Items []SaleItem `gorm:"foreignKey:SaleID"`
}

type SaleItem struct {
	SaleID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq       int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"not null"`
	UnitPrice int64     `gorm:"not null"`
	Quantity  int       `gorm:"not null"`
}
