package inventory

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"laby-backend/internal/platform/db"
)

// MySQLRepository: デッドロック時は Tx ごとリトライし、尽きたら CONFLICT(CONCURRENT_UPDATE)
type MySQLRepository struct {
	db    *sql.DB
	retry db.RetryConfig
}

func NewMySQLRepository(conn *sql.DB) *MySQLRepository {
	return &MySQLRepository{db: conn, retry: db.DefaultRetry()}
}

func (r *MySQLRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := db.RunInTxRetry(ctx, r.db, r.retry, func(ctx context.Context, q db.DBTX) error {
		return fn(ctx, &sqlTx{q: q})
	})
	if errors.Is(err, db.ErrTxConflict) {
		return ErrConcurrentUpdate
	}
	return err
}

func (r *MySQLRepository) ReadOnly(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return db.ReadOnly(ctx, r.db, func(ctx context.Context, q db.DBTX) error {
		return fn(ctx, &sqlTx{q: q})
	})
}

type sqlTx struct {
	q db.DBTX
}

type rowScanner interface {
	Scan(dest ...any) error
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

// MySQL は LIMIT 無しの OFFSET を書けないので上限値を入れる
const noLimit = "18446744073709551615"

func appendPage(q string, args []any, p Page) (string, []any) {
	switch {
	case p.Limit > 0:
		q += " LIMIT ? OFFSET ?"
		args = append(args, p.Limit, max(p.Offset, 0))
	case p.Offset > 0:
		q += " LIMIT " + noLimit + " OFFSET ?"
		args = append(args, p.Offset)
	}
	return q, args
}

func likeArg(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func expectOne(res sql.Result, err error, onZero *APIError) error {
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff != 1 {
		return onZero
	}
	return nil
}

// ===== equipment =====

const equipmentCols = "id, name, category, location, `condition`, quantity, description, supplier_id, added_on"

func scanEquipment(row rowScanner) (*Equipment, error) {
	var e Equipment
	var supplier sql.NullInt64
	if err := row.Scan(&e.ID, &e.Name, &e.Category, &e.Location, &e.Condition, &e.Quantity, &e.Description, &supplier, &e.AddedOn); err != nil {
		return nil, err
	}
	if supplier.Valid {
		v := supplier.Int64
		e.SupplierID = &v
	}
	return &e, nil
}

func (tx *sqlTx) InsertEquipment(ctx context.Context, e *Equipment) error {
	const q = "INSERT INTO equipment (name, category, location, `condition`, quantity, description, supplier_id, added_on) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	res, err := tx.q.ExecContext(ctx, q, e.Name, e.Category, e.Location, e.Condition, e.Quantity, e.Description, e.SupplierID, e.AddedOn)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (tx *sqlTx) getEquipment(ctx context.Context, id int64, lock bool) (*Equipment, error) {
	q := "SELECT " + equipmentCols + " FROM equipment WHERE id = ?"
	if lock {
		q += " FOR UPDATE"
	}
	e, err := scanEquipment(tx.q.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("equipment not found")
	}
	return e, err
}

func (tx *sqlTx) GetEquipment(ctx context.Context, id int64) (*Equipment, error) {
	return tx.getEquipment(ctx, id, false)
}

func (tx *sqlTx) LockEquipment(ctx context.Context, id int64) (*Equipment, error) {
	return tx.getEquipment(ctx, id, true)
}

func (tx *sqlTx) UpdateEquipmentInfo(ctx context.Context, e *Equipment) error {
	const q = "UPDATE equipment SET name = ?, category = ?, location = ?, `condition` = ?, description = ?, supplier_id = ? WHERE id = ?"
	_, err := tx.q.ExecContext(ctx, q, e.Name, e.Category, e.Location, e.Condition, e.Description, e.SupplierID, e.ID)
	return err
}

func (tx *sqlTx) SetQuantity(ctx context.Context, id int64, before, after int) error {
	const q = `UPDATE equipment SET quantity = ? WHERE id = ? AND quantity = ?`
	res, err := tx.q.ExecContext(ctx, q, after, id, before)
	return expectOne(res, err, ErrConcurrentUpdate)
}

func (tx *sqlTx) DeleteEquipment(ctx context.Context, id int64) error {
	res, err := tx.q.ExecContext(ctx, `DELETE FROM equipment WHERE id = ?`, id)
	return expectOne(res, err, ErrNotFound("equipment not found"))
}

func (tx *sqlTx) ListEquipment(ctx context.Context, f EquipmentFilter) ([]Equipment, error) {
	var where []string
	var args []any
	if f.Query != "" {
		where = append(where, "(name LIKE ? OR category LIKE ?)")
		args = append(args, likeArg(f.Query), likeArg(f.Query))
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.StockBelow > 0 {
		where = append(where, "quantity < ?")
		args = append(args, f.StockBelow)
	}
	q := "SELECT " + equipmentCols + " FROM equipment"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id ASC"
	q, args = appendPage(q, args, f.Page)

	rows, err := tx.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Equipment{}
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ===== movements =====

func (tx *sqlTx) InsertMovement(ctx context.Context, m *StockMovement) error {
	const q = `
INSERT INTO stock_movements (id, equipment_id, delta, before_qty, after_qty, reason, ref_kind, ref_id, actor_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.q.ExecContext(ctx, q, m.ID, m.EquipmentID, m.Delta, m.Before, m.After,
		string(m.Reason), string(m.RefKind), m.RefID, m.ActorID, m.CreatedAt)
	return err
}

func (tx *sqlTx) ListMovements(ctx context.Context, f MovementFilter) ([]StockMovement, error) {
	var where []string
	var args []any
	if f.EquipmentID != nil {
		where = append(where, "equipment_id = ?")
		args = append(args, *f.EquipmentID)
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		where = append(where, "created_at < ?")
		args = append(args, *f.To)
	}
	q := `SELECT id, equipment_id, delta, before_qty, after_qty, reason, ref_kind, ref_id, actor_id, created_at FROM stock_movements`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	q, args = appendPage(q, args, f.Page)

	rows, err := tx.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StockMovement{}
	for rows.Next() {
		var m StockMovement
		var reason, refKind string
		if err := rows.Scan(&m.ID, &m.EquipmentID, &m.Delta, &m.Before, &m.After, &reason, &refKind, &m.RefID, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Reason = MovementReason(reason)
		m.RefKind = RefKind(refKind)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ===== requests =====

const requestCols = "id, requester_id, equipment_id, quantity, purpose, status, requested_at, processed_at, processed_by, note"

func scanRequest(row rowScanner) (*Request, error) {
	var r Request
	var status string
	var processedAt sql.NullTime
	var processedBy, note sql.NullString
	if err := row.Scan(&r.ID, &r.RequesterID, &r.EquipmentID, &r.Quantity, &r.Purpose, &status, &r.RequestedAt, &processedAt, &processedBy, &note); err != nil {
		return nil, err
	}
	r.Status = RequestStatus(status)
	r.ProcessedAt = timePtr(processedAt)
	r.ProcessedBy = strPtr(processedBy)
	r.Note = strPtr(note)
	return &r, nil
}

func (tx *sqlTx) InsertRequest(ctx context.Context, r *Request) error {
	q := "INSERT INTO equipment_requests (" + requestCols + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := tx.q.ExecContext(ctx, q, r.ID, r.RequesterID, r.EquipmentID, r.Quantity, r.Purpose,
		string(r.Status), r.RequestedAt, r.ProcessedAt, r.ProcessedBy, r.Note)
	return err
}

func (tx *sqlTx) getRequest(ctx context.Context, id string, lock bool) (*Request, error) {
	q := "SELECT " + requestCols + " FROM equipment_requests WHERE id = ?"
	if lock {
		q += " FOR UPDATE"
	}
	r, err := scanRequest(tx.q.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("request not found")
	}
	return r, err
}

func (tx *sqlTx) GetRequest(ctx context.Context, id string) (*Request, error) {
	return tx.getRequest(ctx, id, false)
}

func (tx *sqlTx) LockRequest(ctx context.Context, id string) (*Request, error) {
	return tx.getRequest(ctx, id, true)
}

func (tx *sqlTx) UpdateRequestDecision(ctx context.Context, r *Request) error {
	const q = `
UPDATE equipment_requests
SET status = ?, processed_at = ?, processed_by = ?, note = ?
WHERE id = ? AND status = 'pending'`
	res, err := tx.q.ExecContext(ctx, q, string(r.Status), r.ProcessedAt, r.ProcessedBy, r.Note, r.ID)
	return expectOne(res, err, ErrConcurrentUpdate)
}

func (tx *sqlTx) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	var where []string
	var args []any
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.RequesterID != "" {
		where = append(where, "requester_id = ?")
		args = append(args, f.RequesterID)
	}
	if f.EquipmentID != nil {
		where = append(where, "equipment_id = ?")
		args = append(args, *f.EquipmentID)
	}
	q := "SELECT " + requestCols + " FROM equipment_requests"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY requested_at DESC, id DESC"
	q, args = appendPage(q, args, f.Page)

	rows, err := tx.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Request{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ===== loans (usage_records) =====

const loanCols = `id, request_id, user_id, equipment_id, equipment_name, quantity_used, purpose,
borrowed_on, due_date, returned_on, collected_by, collected_at, approved_by, returned_to,
is_damaged, damage_report, penalty_amount, damage_processed`

func scanLoan(row rowScanner) (*Loan, error) {
	var l Loan
	var requestID, collectedBy, approvedBy, returnedTo, report sql.NullString
	var due, returned, collectedAt sql.NullTime
	if err := row.Scan(&l.ID, &requestID, &l.UserID, &l.EquipmentID, &l.EquipmentName, &l.QuantityUsed, &l.Purpose,
		&l.BorrowedOn, &due, &returned, &collectedBy, &collectedAt, &approvedBy, &returnedTo,
		&l.IsDamaged, &report, &l.PenaltyAmount, &l.DamageProcessed); err != nil {
		return nil, err
	}
	l.RequestID = strPtr(requestID)
	l.DueDate = timePtr(due)
	l.ReturnedOn = timePtr(returned)
	l.CollectedBy = strPtr(collectedBy)
	l.CollectedAt = timePtr(collectedAt)
	l.ApprovedBy = strPtr(approvedBy)
	l.ReturnedTo = strPtr(returnedTo)
	l.DamageReport = strPtr(report)
	return &l, nil
}

func (tx *sqlTx) InsertLoan(ctx context.Context, l *Loan) error {
	q := "INSERT INTO usage_records (" + loanCols + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := tx.q.ExecContext(ctx, q, l.ID, l.RequestID, l.UserID, l.EquipmentID, l.EquipmentName, l.QuantityUsed, l.Purpose,
		l.BorrowedOn, l.DueDate, l.ReturnedOn, l.CollectedBy, l.CollectedAt, l.ApprovedBy, l.ReturnedTo,
		l.IsDamaged, l.DamageReport, l.PenaltyAmount, l.DamageProcessed)
	if db.IsDuplicate(err) {
		return ErrConflict("loan already opened for request")
	}
	return err
}

func (tx *sqlTx) getLoan(ctx context.Context, id string, lock bool) (*Loan, error) {
	q := "SELECT " + loanCols + " FROM usage_records WHERE id = ?"
	if lock {
		q += " FOR UPDATE"
	}
	l, err := scanLoan(tx.q.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("loan not found")
	}
	return l, err
}

func (tx *sqlTx) GetLoan(ctx context.Context, id string) (*Loan, error) {
	return tx.getLoan(ctx, id, false)
}

func (tx *sqlTx) LockLoan(ctx context.Context, id string) (*Loan, error) {
	return tx.getLoan(ctx, id, true)
}

func (tx *sqlTx) UpdateLoan(ctx context.Context, l *Loan) error {
	const q = `
UPDATE usage_records
SET returned_on = ?, collected_by = ?, collected_at = ?, returned_to = ?,
    is_damaged = ?, damage_report = ?, penalty_amount = ?, damage_processed = ?
WHERE id = ?`
	_, err := tx.q.ExecContext(ctx, q, l.ReturnedOn, l.CollectedBy, l.CollectedAt, l.ReturnedTo,
		l.IsDamaged, l.DamageReport, l.PenaltyAmount, l.DamageProcessed, l.ID)
	return err
}

func (tx *sqlTx) CountOpenLoans(ctx context.Context, equipmentID int64) (int, error) {
	const q = `SELECT COUNT(*) FROM usage_records WHERE equipment_id = ? AND returned_on IS NULL`
	var n int
	if err := tx.q.QueryRowContext(ctx, q, equipmentID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (tx *sqlTx) ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.EquipmentID != nil {
		where = append(where, "equipment_id = ?")
		args = append(args, *f.EquipmentID)
	}
	if f.EquipmentName != "" {
		where = append(where, "equipment_name LIKE ?")
		args = append(args, likeArg(f.EquipmentName))
	}
	if f.OpenOnly {
		where = append(where, "returned_on IS NULL")
	}
	if f.OverdueOn != nil {
		where = append(where, "returned_on IS NULL AND due_date IS NOT NULL AND due_date < ?")
		args = append(args, *f.OverdueOn)
	}
	q := "SELECT " + loanCols + " FROM usage_records"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY borrowed_on DESC, id DESC"
	q, args = appendPage(q, args, f.Page)

	rows, err := tx.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Loan{}
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ===== alerts =====

const alertCols = "id, equipment_id, equipment_name, kind, message, created_at, is_active, resolved_at, resolved_by, resolution"

func scanAlert(row rowScanner) (*Alert, error) {
	var a Alert
	var kind string
	var resolvedAt sql.NullTime
	var resolvedBy, resolution sql.NullString
	if err := row.Scan(&a.ID, &a.EquipmentID, &a.EquipmentName, &kind, &a.Message, &a.CreatedAt, &a.IsActive, &resolvedAt, &resolvedBy, &resolution); err != nil {
		return nil, err
	}
	a.Kind = AlertKind(kind)
	a.ResolvedAt = timePtr(resolvedAt)
	a.ResolvedBy = strPtr(resolvedBy)
	if resolution.Valid {
		r := Resolution(resolution.String)
		a.Resolution = &r
	}
	return &a, nil
}

func (tx *sqlTx) InsertAlert(ctx context.Context, a *Alert) error {
	q := "INSERT INTO alerts (" + alertCols + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := tx.q.ExecContext(ctx, q, a.ID, a.EquipmentID, a.EquipmentName, string(a.Kind), a.Message, a.CreatedAt,
		a.IsActive, a.ResolvedAt, a.ResolvedBy, a.Resolution)
	return err
}

func (tx *sqlTx) getAlert(ctx context.Context, id string, lock bool) (*Alert, error) {
	q := "SELECT " + alertCols + " FROM alerts WHERE id = ?"
	if lock {
		q += " FOR UPDATE"
	}
	a, err := scanAlert(tx.q.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("alert not found")
	}
	return a, err
}

func (tx *sqlTx) GetAlert(ctx context.Context, id string) (*Alert, error) {
	return tx.getAlert(ctx, id, false)
}

func (tx *sqlTx) LockAlert(ctx context.Context, id string) (*Alert, error) {
	return tx.getAlert(ctx, id, true)
}

func (tx *sqlTx) FindActiveAlert(ctx context.Context, equipmentID int64, kind AlertKind) (*Alert, error) {
	q := "SELECT " + alertCols + " FROM alerts WHERE equipment_id = ? AND kind = ? AND is_active = 1 ORDER BY created_at ASC LIMIT 1"
	a, err := scanAlert(tx.q.QueryRowContext(ctx, q, equipmentID, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (tx *sqlTx) ResolveAlert(ctx context.Context, a *Alert) error {
	const q = `
UPDATE alerts SET is_active = 0, resolved_at = ?, resolved_by = ?, resolution = ?
WHERE id = ? AND is_active = 1`
	res, err := tx.q.ExecContext(ctx, q, a.ResolvedAt, a.ResolvedBy, a.Resolution, a.ID)
	return expectOne(res, err, ErrConcurrentUpdate)
}

func (tx *sqlTx) ListAlerts(ctx context.Context, f AlertFilter) ([]Alert, error) {
	var where []string
	var args []any
	if f.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	if f.EquipmentID != nil {
		where = append(where, "equipment_id = ?")
		args = append(args, *f.EquipmentID)
	}
	if f.Kind != nil {
		where = append(where, "kind = ?")
		args = append(args, string(*f.Kind))
	}
	q := "SELECT " + alertCols + " FROM alerts"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	q, args = appendPage(q, args, f.Page)

	rows, err := tx.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

var (
	_ Repository = (*MySQLRepository)(nil)
	_ Tx         = (*sqlTx)(nil)
)
