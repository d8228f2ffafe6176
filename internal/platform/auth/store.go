package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

type Account struct {
	ID           string
	PasswordHash string
	Role         Role
	IsApproved   bool
	IsDisabled   bool
	CreatedAt    time.Time
}

func (a *Account) Identity() Identity {
	return Identity{UserID: a.ID, Role: a.Role, IsApproved: a.IsApproved}
}

type AccountStore interface {
	// GetByID: 見つからなければ (nil, nil)
	GetByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	SetApproved(ctx context.Context, id string, approved bool) (int64, error)
	Delete(ctx context.Context, id string) (int64, error)
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) AccountStore {
	return &Store{db: db}
}

func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	const q = `
SELECT id, password_hash, role, is_approved, is_disabled, created_at
FROM auth_accounts
WHERE id = ?
LIMIT 1
`
	var a Account
	var role string
	var approvedInt, disabledInt int
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&a.ID,
		&a.PasswordHash,
		&role,
		&approvedInt,
		&disabledInt,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Role = Role(role)
	a.IsApproved = approvedInt != 0
	a.IsDisabled = disabledInt != 0
	return &a, nil
}

func (s *Store) Create(ctx context.Context, a *Account) error {
	const q = `
INSERT INTO auth_accounts (id, password_hash, role, is_approved, is_disabled, created_at)
VALUES (?, ?, ?, ?, 0, ?)
`
	_, err := s.db.ExecContext(ctx, q, a.ID, a.PasswordHash, string(a.Role), a.IsApproved, a.CreatedAt)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return ErrAlreadyExists
	}
	return err
}

func (s *Store) SetApproved(ctx context.Context, id string, approved bool) (int64, error) {
	const q = `UPDATE auth_accounts SET is_approved = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, approved, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, id string) (int64, error) {
	const q = `DELETE FROM auth_accounts WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
