package suppliers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"laby-backend/internal/platform/db"
)

type Store interface {
	Insert(ctx context.Context, s *Supplier) error
	// Get: 見つからなければ (nil, nil)
	Get(ctx context.Context, id int64) (*Supplier, error)
	Update(ctx context.Context, s *Supplier) error
	// Delete: 参照している備品の supplier_id を NULL にしてから消す
	Delete(ctx context.Context, id int64) (int64, error)
	List(ctx context.Context, q string, p Page) ([]Supplier, error)
}

type SQLStore struct{ db *sql.DB }

func NewSQLStore(conn *sql.DB) *SQLStore { return &SQLStore{db: conn} }

const supplierCols = `id, name, contact_no, email, street, city, pincode, created_at`

func scanSupplier(row interface{ Scan(...any) error }) (*Supplier, error) {
	var s Supplier
	if err := row.Scan(&s.ID, &s.Name, &s.ContactNo, &s.Email, &s.Street, &s.City, &s.Pincode, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (st *SQLStore) Insert(ctx context.Context, s *Supplier) error {
	const q = `
	INSERT INTO suppliers (name, contact_no, email, street, city, pincode, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := st.db.ExecContext(ctx, q, s.Name, s.ContactNo, s.Email, s.Street, s.City, s.Pincode, s.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

func (st *SQLStore) Get(ctx context.Context, id int64) (*Supplier, error) {
	q := `SELECT ` + supplierCols + ` FROM suppliers WHERE id = ?`
	s, err := scanSupplier(st.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (st *SQLStore) Update(ctx context.Context, s *Supplier) error {
	const q = `
	UPDATE suppliers
	SET name = ?, contact_no = ?, email = ?, street = ?, city = ?, pincode = ?
	WHERE id = ?`
	// 値が同じだと RowsAffected は 0 になるので見ない
	_, err := st.db.ExecContext(ctx, q, s.Name, s.ContactNo, s.Email, s.Street, s.City, s.Pincode, s.ID)
	return err
}

func (st *SQLStore) Delete(ctx context.Context, id int64) (int64, error) {
	var aff int64
	err := db.RunInTx(ctx, st.db, nil, func(ctx context.Context, tx db.DBTX) error {
		if _, err := tx.ExecContext(ctx, `UPDATE equipment SET supplier_id = NULL WHERE supplier_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM suppliers WHERE id = ?`, id)
		if err != nil {
			return err
		}
		aff, err = res.RowsAffected()
		return err
	})
	return aff, err
}

func (st *SQLStore) List(ctx context.Context, q string, p Page) ([]Supplier, error) {
	var sb strings.Builder
	args := []any{}
	sb.WriteString(`SELECT ` + supplierCols + ` FROM suppliers`)
	if q != "" {
		sb.WriteString(` WHERE name LIKE ? OR city LIKE ?`)
		like := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q) + "%"
		args = append(args, like, like)
	}
	sb.WriteString(` ORDER BY name ASC, id ASC`)
	switch {
	case p.Limit > 0:
		sb.WriteString(fmt.Sprintf(` LIMIT %d OFFSET %d`, p.Limit, max(p.Offset, 0)))
	case p.Offset > 0:
		// LIMIT 無しの OFFSET は書けないので上限値
		sb.WriteString(fmt.Sprintf(` LIMIT 18446744073709551615 OFFSET %d`, p.Offset))
	}

	rows, err := st.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Supplier{}
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

var _ Store = (*SQLStore)(nil)
