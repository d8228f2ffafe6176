package reports

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"laby-backend/internal/equipment_mgmt/inventory"
	"laby-backend/internal/platform/auth"
)

// Source: 帳票に必要な読み取り操作だけ
type Source interface {
	ListLoans(ctx context.Context, actor auth.Identity, q inventory.LoanQuery) ([]inventory.Loan, error)
	OverdueLoans(ctx context.Context, actor auth.Identity) ([]inventory.Loan, error)
	ListMovements(ctx context.Context, actor auth.Identity, f inventory.MovementFilter) ([]inventory.StockMovement, error)
	Today() time.Time
}

type Exporter struct{ src Source }

func NewExporter(src Source) *Exporter { return &Exporter{src: src} }

var loanHeader = []string{
	"loan_id", "user_id", "equipment_id", "equipment_name", "quantity", "purpose",
	"borrowed_on", "due_date", "returned_on", "collected_by", "approved_by", "returned_to",
	"damaged", "damage_report", "penalty_amount", "overdue",
}

var movementHeader = []string{
	"movement_id", "equipment_id", "delta", "before", "after", "reason", "ref_kind", "ref_id", "actor_id", "created_at",
}

func optDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(inventory.DateLayout)
}

func optStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// safeCell: 利用者入力のセル。Excel が数式として解釈しないよう先頭に ' を付ける
func safeCell(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

func loanRow(l *inventory.Loan, today time.Time) []string {
	return []string{
		l.ID,
		safeCell(l.UserID),
		strconv.FormatInt(l.EquipmentID, 10),
		safeCell(l.EquipmentName),
		strconv.Itoa(l.QuantityUsed),
		safeCell(l.Purpose),
		l.BorrowedOn.Format(inventory.DateLayout),
		optDate(l.DueDate),
		optDate(l.ReturnedOn),
		safeCell(optStr(l.CollectedBy)),
		safeCell(optStr(l.ApprovedBy)),
		safeCell(optStr(l.ReturnedTo)),
		strconv.FormatBool(l.IsDamaged),
		safeCell(optStr(l.DamageReport)),
		l.PenaltyAmount.StringFixed(2),
		strconv.FormatBool(l.Overdue(today)),
	}
}

func writeCSV(w io.Writer, enc Encoding, header []string, rows [][]string) error {
	ew := newEncodedWriter(w, enc)
	cw := csv.NewWriter(ew)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return ew.Close()
}

func (e *Exporter) writeLoans(w io.Writer, enc Encoding, loans []inventory.Loan) error {
	today := e.src.Today()
	rows := make([][]string, 0, len(loans))
	for i := range loans {
		rows = append(rows, loanRow(&loans[i], today))
	}
	return writeCSV(w, enc, loanHeader, rows)
}

// WriteLoans: 貸出記録（フィルタ付き）
func (e *Exporter) WriteLoans(ctx context.Context, actor auth.Identity, w io.Writer, enc Encoding, q inventory.LoanQuery) error {
	if d := actor.Authorize(auth.CapViewReports); !d.Allowed {
		return inventory.ErrForbidden(d.Reason)
	}
	loans, err := e.src.ListLoans(ctx, actor, q)
	if err != nil {
		return err
	}
	return e.writeLoans(w, enc, loans)
}

func (e *Exporter) WriteOverdue(ctx context.Context, actor auth.Identity, w io.Writer, enc Encoding) error {
	loans, err := e.src.OverdueLoans(ctx, actor)
	if err != nil {
		return err
	}
	return e.writeLoans(w, enc, loans)
}

func (e *Exporter) WriteMovements(ctx context.Context, actor auth.Identity, w io.Writer, enc Encoding, f inventory.MovementFilter) error {
	ms, err := e.src.ListMovements(ctx, actor, f)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, []string{
			m.ID,
			strconv.FormatInt(m.EquipmentID, 10),
			strconv.Itoa(m.Delta),
			strconv.Itoa(m.Before),
			strconv.Itoa(m.After),
			string(m.Reason),
			string(m.RefKind),
			m.RefID,
			safeCell(m.ActorID),
			m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return writeCSV(w, enc, movementHeader, rows)
}
