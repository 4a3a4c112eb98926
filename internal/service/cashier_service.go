package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"restopos/internal/cashier"
	"restopos/internal/config"
	"restopos/internal/dto"
	"restopos/internal/report"
	"restopos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/ttacon/libphonenumber"
)

var (
	// ErrLocked means another request holds the session; the caller may retry.
	ErrLocked = errors.New("session is busy")
	// ErrPersistence wraps storage failures. The mutation that triggered it was
	// discarded and can be retried as a whole.
	ErrPersistence        = errors.New("persistence failure")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionAlreadyOpen = errors.New("operator already has an open session")
)

// phoneRegion is the default region for numbers typed without a country code.
const phoneRegion = "BR"

// Locker serializes work on one key across every API instance.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ClosingNotifier is told about every session that closes successfully.
type ClosingNotifier interface {
	EnqueueClosingReport(ctx context.Context, sessionID uuid.UUID) error
}

type CashierService interface {
	Open(ctx context.Context, operator string, req dto.OpenSessionRequest) (*dto.SessionResponse, error)
	RecordMovement(ctx context.Context, sessionID uuid.UUID, operator string, req dto.MovementRequest) (*dto.MovementResponse, error)
	RegisterSale(ctx context.Context, sessionID uuid.UUID, req dto.RegisterSaleRequest) (*dto.SaleResponse, error)
	FinalizePayment(ctx context.Context, sessionID, saleID uuid.UUID, req dto.PaymentRequest) (*dto.SaleResponse, error)
	CancelSale(ctx context.Context, sessionID, saleID uuid.UUID, req dto.CancelSaleRequest) (*dto.SaleResponse, error)
	Close(ctx context.Context, sessionID uuid.UUID, req dto.CloseSessionRequest) (*dto.ClosingReportResponse, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*dto.SessionResponse, error)
	GetActive(ctx context.Context, operator string) (*dto.SessionResponse, error)
	History(ctx context.Context, page, limit int) (*dto.HistoryResponse, error)
	// ExportClosings renders every session closed in [from, to) as an XLSX workbook.
	ExportClosings(ctx context.Context, from, to time.Time) ([]byte, error)
}

type cashierService struct {
	repo     repository.SessionRepository
	locker   Locker
	notifier ClosingNotifier
	cfg      *config.Config
}

// NewCashierService wires the engine to storage. notifier may be nil.
func NewCashierService(repo repository.SessionRepository, locker Locker, notifier ClosingNotifier, cfg *config.Config) CashierService {
	return &cashierService{repo: repo, locker: locker, notifier: notifier, cfg: cfg}
}

// ── Open ──────────────────────────────────────────────────────────────────────

func (s *cashierService) Open(ctx context.Context, operator string, req dto.OpenSessionRequest) (*dto.SessionResponse, error) {
	initial, err := cashier.ParseAmount("initial_amount", req.InitialAmount)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, "operator:"+operator)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Guard: one open session per operator
	switch _, err := s.repo.FindOpenByOperator(ctx, operator); {
	case err == nil:
		return nil, ErrSessionAlreadyOpen
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: find open session: %w", ErrPersistence, err)
	}

	sess, err := cashier.Open(operator, initial)
	if err != nil {
		return nil, err
	}
	// another instance may have won the race despite the lock expiring
	if err := s.save(ctx, sess); errors.Is(err, repository.ErrConflict) {
		return nil, ErrSessionAlreadyOpen
	} else if err != nil {
		return nil, err
	}
	log.Info().Str("session_id", sess.ID().String()).Str("operator", operator).
		Str("initial_amount", initial.String()).Msg("cashier: session opened")

	resp := dto.NewSessionResponse(sess)
	return &resp, nil
}

// ── Ledger mutations ──────────────────────────────────────────────────────────

func (s *cashierService) RecordMovement(ctx context.Context, sessionID uuid.UUID, operator string, req dto.MovementRequest) (*dto.MovementResponse, error) {
	amount, err := cashier.ParseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	var mov cashier.Movement
	_, err = s.mutate(ctx, sessionID, func(sess *cashier.Session) (err error) {
		mov, err = sess.RecordMovement(cashier.MovementType(req.Type), amount, req.Reason, operator)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp := dto.NewMovementResponse(mov)
	return &resp, nil
}

func (s *cashierService) RegisterSale(ctx context.Context, sessionID uuid.UUID, req dto.RegisterSaleRequest) (*dto.SaleResponse, error) {
	draft, err := saleDraft(req)
	if err != nil {
		return nil, err
	}
	var sale cashier.Sale
	_, err = s.mutate(ctx, sessionID, func(sess *cashier.Session) (err error) {
		sale, err = sess.RegisterSale(draft)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp := dto.NewSaleResponse(sale)
	return &resp, nil
}

func (s *cashierService) FinalizePayment(ctx context.Context, sessionID, saleID uuid.UUID, req dto.PaymentRequest) (*dto.SaleResponse, error) {
	draft := cashier.PaymentDraft{
		Method:       cashier.PaymentMethod(req.Method),
		CardType:     cashier.CardType(req.CardType),
		Installments: req.Installments,
		VoucherCode:  req.VoucherCode,
	}
	if strings.TrimSpace(req.AmountReceived) != "" {
		received, err := cashier.ParseAmount("amount_received", req.AmountReceived)
		if err != nil {
			return nil, err
		}
		draft.AmountReceived = received
	}

	var sale cashier.Sale
	_, err := s.mutate(ctx, sessionID, func(sess *cashier.Session) (err error) {
		sale, err = sess.FinalizeSalePayment(saleID, draft)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp := dto.NewSaleResponse(sale)
	return &resp, nil
}

func (s *cashierService) CancelSale(ctx context.Context, sessionID, saleID uuid.UUID, req dto.CancelSaleRequest) (*dto.SaleResponse, error) {
	var sale cashier.Sale
	_, err := s.mutate(ctx, sessionID, func(sess *cashier.Session) (err error) {
		sale, err = sess.CancelSale(saleID, req.Reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp := dto.NewSaleResponse(sale)
	return &resp, nil
}

// ── Close ─────────────────────────────────────────────────────────────────────

func (s *cashierService) Close(ctx context.Context, sessionID uuid.UUID, req dto.CloseSessionRequest) (*dto.ClosingReportResponse, error) {
	counted, err := cashier.ParseAmount("counted_amount", req.CountedAmount)
	if err != nil {
		return nil, err
	}

	var closing cashier.ClosingReport
	sess, err := s.mutate(ctx, sessionID, func(sess *cashier.Session) (err error) {
		if s.cfg.RequireObservationsOnDivergence && sess.Status() == cashier.StatusOpen &&
			counted != sess.CurrentBalance() && strings.TrimSpace(req.Observations) == "" {
			return &cashier.ValidationError{
				Field:  "observations",
				Value:  "",
				Reason: "required when the count differs from the expected balance",
			}
		}
		closing, err = sess.Close(counted, req.Observations)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("operator", sess.Operator()).
		Str("expected", closing.ExpectedBalance.String()).
		Str("counted", closing.CountedAmount.String()).
		Str("classification", string(closing.Classification)).
		Msg("cashier: session closed")

	s.notifyClosing(ctx, sessionID)
	return dto.NewClosingReportResponse(closing), nil
}

// notifyClosing is best effort: the session is already closed and saved.
func (s *cashierService) notifyClosing(ctx context.Context, sessionID uuid.UUID) {
	if s.notifier == nil || s.cfg.ClosingReportEmail == "" {
		return
	}
	if err := s.notifier.EnqueueClosingReport(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("cashier: could not enqueue closing report")
	}
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *cashierService) GetSession(ctx context.Context, sessionID uuid.UUID) (*dto.SessionResponse, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	resp := dto.NewSessionResponse(sess)
	return &resp, nil
}

func (s *cashierService) GetActive(ctx context.Context, operator string) (*dto.SessionResponse, error) {
	sess, err := s.repo.FindOpenByOperator(ctx, operator)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find open session: %w", ErrPersistence, err)
	}
	resp := dto.NewSessionResponse(sess)
	return &resp, nil
}

func (s *cashierService) History(ctx context.Context, page, limit int) (*dto.HistoryResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	sessions, total, err := s.repo.ListClosed(ctx, page, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list closed sessions: %w", ErrPersistence, err)
	}
	data := make([]dto.SessionListItem, len(sessions))
	for i, sess := range sessions {
		data[i] = dto.NewSessionListItem(sess)
	}
	return &dto.HistoryResponse{Data: data, Total: total, Page: page, Limit: limit}, nil
}

func (s *cashierService) ExportClosings(ctx context.Context, from, to time.Time) ([]byte, error) {
	if !to.After(from) {
		return nil, &cashier.ValidationError{Field: "to", Value: to.Format(time.DateOnly), Reason: "must be after from"}
	}
	sessions, err := s.repo.ListClosedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: list closed sessions: %w", ErrPersistence, err)
	}
	var buf bytes.Buffer
	if err := report.WriteClosingsXLSX(&buf, sessions); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// mutate runs op against a freshly loaded session under the session lock and
// saves the result. Nothing is kept in memory between requests, so a failed
// save leaves the stored session as it was.
func (s *cashierService) mutate(ctx context.Context, sessionID uuid.UUID, op func(*cashier.Session) error) (*cashier.Session, error) {
	unlock, err := s.lock(ctx, "session:"+sessionID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := op(sess); err != nil {
		return nil, err
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *cashierService) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocked, err)
	}
	return unlock, nil
}

func (s *cashierService) load(ctx context.Context, id uuid.UUID) (*cashier.Session, error) {
	sess, err := s.repo.Load(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load session %s: %w", ErrPersistence, id, err)
	}
	return sess, nil
}

func (s *cashierService) save(ctx context.Context, sess *cashier.Session) error {
	if err := s.repo.Save(ctx, sess); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID().String()).Msg("cashier: save failed, mutation discarded")
		return fmt.Errorf("%w: save session %s: %w", ErrPersistence, sess.ID(), err)
	}
	return nil
}

// saleDraft parses the string amounts of a sale request and normalizes the
// customer phone to E.164.
func saleDraft(req dto.RegisterSaleRequest) (cashier.SaleDraft, error) {
	draft := cashier.SaleDraft{
		Items: make([]cashier.LineItemDraft, len(req.Items)),
		Table: req.Table,
		Type:  cashier.SaleType(req.Type),
	}
	for i, it := range req.Items {
		price, err := cashier.ParseAmount(fmt.Sprintf("items[%d].unit_price", i), it.UnitPrice)
		if err != nil {
			return cashier.SaleDraft{}, err
		}
		draft.Items[i] = cashier.LineItemDraft{Name: it.Name, UnitPrice: price, Quantity: it.Quantity}
	}
	if c := req.Customer; c != nil {
		customer := &cashier.Customer{Name: c.Name, Phone: c.Phone}
		if strings.TrimSpace(c.Phone) != "" {
			phone, err := normalizePhone(c.Phone)
			if err != nil {
				return cashier.SaleDraft{}, err
			}
			customer.Phone = phone
		}
		draft.Customer = customer
	}
	return draft, nil
}

func normalizePhone(raw string) (string, error) {
	num, err := libphonenumber.Parse(raw, phoneRegion)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return "", &cashier.ValidationError{
			Field:  "customer.phone",
			Value:  raw,
			Reason: "not a valid phone number",
			Cause:  err,
		}
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
