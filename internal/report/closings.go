// Package report renders closed cashier sessions as spreadsheets for the
// back office.
package report

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"restopos/internal/cashier"
	"restopos/internal/money"

	"github.com/xuri/excelize/v2"
)

const (
	SheetClosings = "Closings"
	SheetLedger   = "Ledger"

	timeLayout = "2006-01-02 15:04:05"
)

var (
	closingsHeader = []string{
		"Session ID", "Operator", "Opened At", "Closed At", "Initial", "Expected",
		"Counted", "Difference", "Classification", "Observations",
	}
	ledgerHeader = []string{
		"Session ID", "Timestamp", "Kind", "Reference", "Status", "Method", "Amount", "Balance Effect", "Detail",
	}
)

// ClosingsWorkbook builds a workbook with one row per closed session on the
// Closings sheet and every ledger entry of those sessions on the Ledger sheet.
// Open sessions are skipped. Amounts are written in reais.
func ClosingsWorkbook(sessions []*cashier.Session) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetClosings); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetLedger); err != nil {
		return nil, err
	}

	headStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	numFmt := "#,##0.00"
	amountStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return nil, err
	}

	w := &sheetWriter{f: f}
	w.header(SheetClosings, closingsHeader, headStyle)
	w.header(SheetLedger, ledgerHeader, headStyle)

	closingRow, ledgerRow := 2, 2
	for _, s := range sessions {
		r, ok := s.Report()
		if !ok {
			continue
		}
		w.row(SheetClosings, closingRow, []any{
			s.ID().String(), s.Operator(), s.OpenedAt().Format(timeLayout), r.ClosedAt.Format(timeLayout),
			reais(s.InitialAmount()), reais(r.ExpectedBalance), reais(r.CountedAmount), reais(r.Difference),
			string(r.Classification), r.Observations,
		})
		closingRow++

		for _, e := range ledgerEntries(s) {
			w.row(SheetLedger, ledgerRow, []any{
				s.ID().String(), e.at.Format(timeLayout), e.kind, e.ref, e.status, e.method,
				reais(e.amount), reais(e.effect), e.detail,
			})
			ledgerRow++
		}
	}
	if w.err != nil {
		return nil, w.err
	}

	if closingRow > 2 {
		if err := f.SetCellStyle(SheetClosings, "E2", fmt.Sprintf("H%d", closingRow-1), amountStyle); err != nil {
			return nil, err
		}
	}
	if ledgerRow > 2 {
		if err := f.SetCellStyle(SheetLedger, "G2", fmt.Sprintf("H%d", ledgerRow-1), amountStyle); err != nil {
			return nil, err
		}
	}

	_ = f.SetColWidth(SheetClosings, "A", "A", 38)
	_ = f.SetColWidth(SheetClosings, "C", "D", 20)
	_ = f.SetColWidth(SheetClosings, "J", "J", 48)
	_ = f.SetColWidth(SheetLedger, "A", "A", 38)
	_ = f.SetColWidth(SheetLedger, "B", "B", 20)
	_ = f.SetColWidth(SheetLedger, "D", "D", 38)
	_ = f.SetColWidth(SheetLedger, "I", "I", 60)
	return f, nil
}

// WriteClosingsXLSX renders the workbook straight to w.
func WriteClosingsXLSX(w io.Writer, sessions []*cashier.Session) error {
	f, err := ClosingsWorkbook(sessions)
	if err != nil {
		return fmt.Errorf("build closings workbook: %w", err)
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

type ledgerEntry struct {
	at     time.Time
	kind   string
	ref    string
	status string
	method string
	amount money.Cents
	effect money.Cents
	detail string
}

// ledgerEntries merges movements and sales into one timeline.
func ledgerEntries(s *cashier.Session) []ledgerEntry {
	var out []ledgerEntry
	for _, m := range s.Movements() {
		effect := m.Amount
		if m.Type == cashier.MovementWithdrawal {
			effect = -m.Amount
		}
		out = append(out, ledgerEntry{
			at: m.Timestamp, kind: string(m.Type), ref: m.ID.String(),
			amount: m.Amount, effect: effect, detail: m.Reason + " (" + m.Operator + ")",
		})
	}
	for _, sale := range s.Sales() {
		e := ledgerEntry{
			at: sale.CreatedAt, kind: "SALE", ref: sale.ID.String(), status: string(sale.Status),
			amount: sale.Total(), detail: itemsDetail(sale),
		}
		switch sale.Status {
		case cashier.SalePaid:
			e.at = sale.Payment.Timestamp
			e.method = string(sale.Payment.Method)
			e.effect = sale.Total()
		case cashier.SaleCancelled:
			e.detail += " | " + sale.CancelReason
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b ledgerEntry) int { return a.at.Compare(b.at) })
	return out
}

func itemsDetail(sale cashier.Sale) string {
	parts := make([]string, len(sale.Items))
	for i, it := range sale.Items {
		parts[i] = fmt.Sprintf("%dx %s", it.Quantity, it.Name)
	}
	return strings.Join(parts, ", ")
}

func reais(c money.Cents) float64 { return c.Decimal().InexactFloat64() }

// sheetWriter keeps the first error so rows can be written without checks.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) header(sheet string, cols []string, style int) {
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = c
	}
	w.row(sheet, 1, vals)
	if w.err == nil {
		end, _ := excelize.CoordinatesToCellName(len(cols), 1)
		w.err = w.f.SetCellStyle(sheet, "A1", end, style)
	}
}

func (w *sheetWriter) row(sheet string, row int, vals []any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetSheetRow(sheet, cell, &vals)
}
