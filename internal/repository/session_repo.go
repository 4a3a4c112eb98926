package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restopos/internal/cashier"
	"restopos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write hits a unique constraint, such as a
	// second open session for the same operator.
	ErrConflict = errors.New("conflict")
)

// SessionRepository persists whole sessions. Ledger rows are append-only: Save
// inserts new movements and items and only updates mutable sale and session
// columns.
type SessionRepository interface {
	Load(ctx context.Context, id uuid.UUID) (*cashier.Session, error)
	Save(ctx context.Context, s *cashier.Session) error
	FindOpenByOperator(ctx context.Context, operator string) (*cashier.Session, error)
	ListClosed(ctx context.Context, page, limit int) ([]*cashier.Session, int64, error)
	ListClosedBetween(ctx context.Context, from, to time.Time) ([]*cashier.Session, error)
}

type sessionRepo struct {
	db   *gorm.DB
	opts []cashier.Option
}

// NewSessionRepository returns a gorm-backed SessionRepository. opts are
// applied to every restored session.
func NewSessionRepository(db *gorm.DB, opts ...cashier.Option) SessionRepository {
	return &sessionRepo{db: db, opts: opts}
}

func (r *sessionRepo) Load(ctx context.Context, id uuid.UUID) (*cashier.Session, error) {
	var row model.CashierSession
	err := r.withLedger(r.db.WithContext(ctx)).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.restore(row)
}

func (r *sessionRepo) Save(ctx context.Context, s *cashier.Session) error {
	row := sessionRow(s.Snapshot())

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		header := row
		header.Movements, header.Sales = nil, nil
		err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "closed_at", "expected_balance", "counted_amount",
				"difference", "classification", "observations", "updated_at",
			}),
		}).Create(&header).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("save session: %w", ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}

		if len(row.Movements) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row.Movements).Error; err != nil {
				return fmt.Errorf("save movements: %w", err)
			}
		}

		if len(row.Sales) == 0 {
			return nil
		}
		var items []model.SaleItem
		sales := make([]model.Sale, len(row.Sales))
		for i, sale := range row.Sales {
			items = append(items, sale.Items...)
			sale.Items = nil
			sales[i] = sale
		}
		err = tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "cancel_reason", "cancelled_at", "payment_method", "amount_due",
				"amount_received", "change_given", "card_type", "installments", "voucher_code", "paid_at",
			}),
		}).Create(&sales).Error
		if err != nil {
			return fmt.Errorf("save sales: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&items).Error; err != nil {
			return fmt.Errorf("save sale items: %w", err)
		}
		return nil
	})
}

func (r *sessionRepo) FindOpenByOperator(ctx context.Context, operator string) (*cashier.Session, error) {
	var row model.CashierSession
	err := r.withLedger(r.db.WithContext(ctx)).
		Where("operator = ? AND status = ?", operator, string(cashier.StatusOpen)).
		Order("opened_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.restore(row)
}

func (r *sessionRepo) ListClosed(ctx context.Context, page, limit int) ([]*cashier.Session, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	closed := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&model.CashierSession{}).Where("status = ?", string(cashier.StatusClosed))
	}
	var total int64
	if err := closed().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []model.CashierSession
	err := r.withLedger(closed()).
		Order("closed_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	out, err := r.restoreAll(rows)
	return out, total, err
}

func (r *sessionRepo) ListClosedBetween(ctx context.Context, from, to time.Time) ([]*cashier.Session, error) {
	var rows []model.CashierSession
	err := r.withLedger(r.db.WithContext(ctx)).
		Where("status = ? AND closed_at >= ? AND closed_at < ?", string(cashier.StatusClosed), from, to).
		Order("closed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return r.restoreAll(rows)
}

func (r *sessionRepo) withLedger(db *gorm.DB) *gorm.DB {
	bySeq := func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }
	return db.
		Preload("Movements", bySeq).
		Preload("Sales", bySeq).
		Preload("Sales.Items", bySeq)
}

func (r *sessionRepo) restore(row model.CashierSession) (*cashier.Session, error) {
	return cashier.Restore(sessionSnapshot(row), r.opts...)
}

func (r *sessionRepo) restoreAll(rows []model.CashierSession) ([]*cashier.Session, error) {
	out := make([]*cashier.Session, 0, len(rows))
	for _, row := range rows {
		s, err := r.restore(row)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
