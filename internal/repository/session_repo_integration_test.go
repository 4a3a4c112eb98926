//go:build integration

package repository_test

// Run with: go test -tags integration ./internal/repository/... -v

import (
	"context"
	"testing"
	"time"

	"restopos/internal/cashier"
	"restopos/internal/infra"
	"restopos/internal/model"
	"restopos/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcPostgres.WithDatabase("restopos_test"),
		tcPostgres.WithUsername("restopos"),
		tcPostgres.WithPassword("restopos"),
		tcPostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := infra.NewDatabase(dsn)
	require.NoError(t, err)
	// migrations are idempotent
	require.NoError(t, infra.RunMigrations(db))
	return db
}

func TestSessionRepository_Postgres(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewSessionRepository(db)
	ctx := context.Background()

	s, err := cashier.Open("lucas", 10000)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))

	_, err = s.RecordMovement(cashier.MovementSupply, 5000, "Troco", "")
	require.NoError(t, err)
	sale, err := s.RegisterSale(cashier.SaleDraft{Items: []cashier.LineItemDraft{{Name: "Moqueca", UnitPrice: 7400, Quantity: 2}}})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))

	// paying the sale updates its row in place
	_, err = s.FinalizeSalePayment(sale.ID, cashier.PaymentDraft{Method: cashier.PaymentCash, AmountReceived: 15000})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))

	loaded, err := repo.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), loaded.Snapshot())
	assert.Equal(t, int64(29800), int64(loaded.CurrentBalance()))

	open, err := repo.FindOpenByOperator(ctx, "lucas")
	require.NoError(t, err)
	assert.Equal(t, s.ID(), open.ID())

	// a second OPEN session for the same operator violates the partial index
	dup, err := cashier.Open("lucas", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Save(ctx, dup), repository.ErrConflict)

	_, err = s.Close(29800, "")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))

	_, err = repo.FindOpenByOperator(ctx, "lucas")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	closed, total, err := repo.ListClosed(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, closed, 1)
	report, ok := closed[0].Report()
	require.True(t, ok)
	assert.Equal(t, cashier.Reconciled, report.Classification)

	between, err := repo.ListClosedBetween(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, between, 1)

	var movements int64
	require.NoError(t, db.Model(&model.CashMovement{}).Where("session_id = ?", s.ID()).Count(&movements).Error)
	assert.Equal(t, int64(1), movements)

	_, err = repo.Load(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOperatorRepository_Postgres(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewOperatorRepository(db)
	ctx := context.Background()

	op := &model.Operator{Username: "ana", Name: "Ana", PasswordHash: "x", Role: model.RoleCashier, Active: true}
	require.NoError(t, repo.Create(ctx, op))
	require.NotEqual(t, uuid.Nil, op.ID)

	require.NoError(t, repo.Upsert(ctx, &model.Operator{Username: "ana", Name: "Ana Souza", PasswordHash: "y", Role: model.RoleSupervisor, Active: true}))

	got, err := repo.FindByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", got.Name)
	assert.Equal(t, model.RoleSupervisor, got.Role)
	assert.Equal(t, op.ID, got.ID)

	_, err = repo.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
