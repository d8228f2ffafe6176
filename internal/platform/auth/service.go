package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const DefaultTokenTTL = 24 * time.Hour

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrDisabled      = errors.New("account disabled")
	ErrInvalidRole   = errors.New("role must be Viewer or Staff")
	ErrForbidden     = errors.New("forbidden")
)

type AuthService interface {
	Login(ctx context.Context, id, password string) (string, error)
	Register(ctx context.Context, id, password string, role Role) (*Account, error)
	Approve(ctx context.Context, actor Identity, id string) error
	Delete(ctx context.Context, actor Identity, id string) error
}

type Service struct {
	store  AccountStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(store AccountStore, secret []byte, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{store: store, secret: secret, ttl: ttl, now: time.Now}
}

func (s *Service) Secret() []byte { return s.secret }

func (s *Service) Login(ctx context.Context, id, password string) (string, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if acct == nil {
		return "", ErrAuthFailed
	}
	if acct.IsDisabled {
		return "", ErrDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrAuthFailed
	}
	return s.IssueToken(acct.Identity())
}

// IssueToken: sub / role / approved / exp を載せた HS256 トークン
func (s *Service) IssueToken(id Identity) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      id.UserID,
		"role":     string(id.Role),
		"approved": id.IsApproved,
		"exp":      s.now().Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

// Register: 画面からの登録。Viewer は即承認、Staff は Admin の承認待ち
func (s *Service) Register(ctx context.Context, id, password string, role Role) (*Account, error) {
	switch role {
	case RoleViewer, RoleStaff:
	default:
		return nil, ErrInvalidRole
	}
	return s.create(ctx, id, password, role, role == RoleViewer)
}

// CreateAccount: CLI 用。Admin も作れて、承認済みで作成する
func (s *Service) CreateAccount(ctx context.Context, id, password string, role Role) (*Account, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	return s.create(ctx, id, password, role, true)
}

func (s *Service) create(ctx context.Context, id, password string, role Role, approved bool) (*Account, error) {
	if id == "" || password == "" {
		return nil, fmt.Errorf("id and password are required")
	}
	exists, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists != nil {
		return nil, ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	a := &Account{
		ID:           id,
		PasswordHash: string(hash),
		Role:         role,
		IsApproved:   approved,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	log.Printf("[INFO] account created id=%s role=%s approved=%t", a.ID, a.Role, a.IsApproved)
	return a, nil
}

func (s *Service) Approve(ctx context.Context, actor Identity, id string) error {
	if d := actor.Authorize(CapApproveAccounts); !d.Allowed {
		return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
	}
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if acct == nil {
		return ErrNotFound
	}
	if acct.IsApproved {
		return nil
	}
	if _, err := s.store.SetApproved(ctx, id, true); err != nil {
		return err
	}
	log.Printf("[INFO] account approved id=%s by=%s", id, actor.UserID)
	return nil
}

func (s *Service) Delete(ctx context.Context, actor Identity, id string) error {
	if d := actor.Authorize(CapApproveAccounts); !d.Allowed {
		return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
	}
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	log.Printf("[INFO] account deleted id=%s by=%s", id, actor.UserID)
	return nil
}
