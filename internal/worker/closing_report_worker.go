package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"restopos/internal/cashier"
	"restopos/internal/infra"
	"restopos/internal/report"
	"restopos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportMailer is the slice of infra.Mailer the worker needs.
type ReportMailer interface {
	Send(to []string, subject, body string, attachments ...infra.Attachment) error
}

// ClosingReportWorker mails the spreadsheet of a closed session to the back office.
type ClosingReportWorker struct {
	sessions   repository.SessionRepository
	mailer     ReportMailer
	recipients []string
}

// NewClosingReportWorker takes recipients as a comma separated list.
func NewClosingReportWorker(sessions repository.SessionRepository, mailer ReportMailer, recipients string) *ClosingReportWorker {
	var to []string
	for _, r := range strings.Split(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	return &ClosingReportWorker{sessions: sessions, mailer: mailer, recipients: to}
}

func (w *ClosingReportWorker) Handle(ctx context.Context, raw json.RawMessage) error {
	var payload ClosingReportPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Permanent(fmt.Errorf("closing_report: invalid payload: %w", err))
	}
	id, err := uuid.Parse(payload.SessionID)
	if err != nil {
		return Permanent(fmt.Errorf("closing_report: invalid session_id %q", payload.SessionID))
	}
	if len(w.recipients) == 0 {
		return Permanent(errors.New("closing_report: no recipients configured"))
	}

	s, err := w.sessions.Load(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return Permanent(fmt.Errorf("closing_report: session %s not found", id))
	}
	if err != nil {
		return fmt.Errorf("closing_report: load session: %w", err)
	}
	closing, ok := s.Report()
	if !ok {
		return Permanent(fmt.Errorf("closing_report: session %s is not closed", id))
	}

	var buf bytes.Buffer
	if err := report.WriteClosingsXLSX(&buf, []*cashier.Session{s}); err != nil {
		return err
	}

	subject := fmt.Sprintf("Cash closing %s (%s): %s", s.Operator(), closing.ClosedAt.Format("2006-01-02"), closing.Classification)
	body := closingBody(s, closing)
	attachment := infra.Attachment{
		Filename:    fmt.Sprintf("closing-%s.xlsx", id.String()[:8]),
		ContentType: xlsxContentType,
		Data:        buf.Bytes(),
	}

	err = w.mailer.Send(w.recipients, subject, body, attachment)
	if errors.Is(err, infra.ErrMailerDisabled) {
		return Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("closing_report: send mail: %w", err)
	}
	log.Info().Str("session_id", id.String()).Strs("to", w.recipients).Msg("closing_report: sent")
	return nil
}

func closingBody(s *cashier.Session, r cashier.ClosingReport) string {
	sum := s.Summary()
	var b strings.Builder
	fmt.Fprintf(&b, "Session:        %s\n", s.ID())
	fmt.Fprintf(&b, "Operator:       %s\n", s.Operator())
	fmt.Fprintf(&b, "Opened:         %s\n", s.OpenedAt().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Closed:         %s\n\n", r.ClosedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Initial amount: %s\n", s.InitialAmount())
	fmt.Fprintf(&b, "Supplies:       %s (%d)\n", sum.Supplies, sum.SupplyCount)
	fmt.Fprintf(&b, "Withdrawals:    %s (%d)\n", sum.Withdrawals, sum.WithdrawalCount)
	fmt.Fprintf(&b, "Paid sales:     %s (%d)\n", sum.PaidTotal, sum.PaidSales)
	for _, m := range cashier.PaymentMethods {
		fmt.Fprintf(&b, "  %-8s      %s\n", m, sum.PaidByMethod[m])
	}
	fmt.Fprintf(&b, "\nExpected:       %s\n", r.ExpectedBalance)
	fmt.Fprintf(&b, "Counted:        %s\n", r.CountedAmount)
	fmt.Fprintf(&b, "Difference:     %s (%s)\n", r.Difference, r.Classification)
	if r.Observations != "" {
		fmt.Fprintf(&b, "\nObservations: %s\n", r.Observations)
	}
	return b.String()
}
