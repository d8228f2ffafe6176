package suppliers

import (
	"context"
	"log"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"laby-backend/internal/platform/auth"
)

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func authorize(actor auth.Identity, c auth.Capability) error {
	if d := actor.Authorize(c); !d.Allowed {
		return ErrForbidden(d.Reason)
	}
	return nil
}

func checkLen(field, v string, limit int) error {
	if utf8.RuneCountInString(v) > limit {
		return ErrInvalid(field + " is too long")
	}
	return nil
}

func validate(s *Supplier) error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrInvalid("name is required")
	}
	for _, f := range []struct {
		name  string
		v     string
		limit int
	}{
		{"name", s.Name, 100},
		{"contact_no", s.ContactNo, 15},
		{"street", s.Street, 100},
		{"city", s.City, 50},
		{"pincode", s.Pincode, 10},
	} {
		if err := checkLen(f.name, f.v, f.limit); err != nil {
			return err
		}
	}
	if s.Email != "" {
		a, err := mail.ParseAddress(s.Email)
		if err != nil || a.Address != s.Email {
			return ErrInvalid("invalid email")
		}
	}
	return nil
}

func trim(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

func (s *Service) Create(ctx context.Context, actor auth.Identity, in CreateSupplierRequest) (*Supplier, error) {
	if err := authorize(actor, auth.CapManageCatalog); err != nil {
		return nil, err
	}
	sp := &Supplier{
		Name:      strings.TrimSpace(in.Name),
		ContactNo: strings.TrimSpace(in.ContactNo),
		Email:     strings.TrimSpace(in.Email),
		Street:    strings.TrimSpace(in.Street),
		City:      strings.TrimSpace(in.City),
		Pincode:   strings.TrimSpace(in.Pincode),
		CreatedAt: s.now().UTC(),
	}
	if err := validate(sp); err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, sp); err != nil {
		return nil, err
	}
	log.Printf("[INFO] supplier created id=%d name=%q by=%s", sp.ID, sp.Name, actor.UserID)
	return sp, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Identity, id int64) (*Supplier, error) {
	if err := authorize(actor, auth.CapViewCatalog); err != nil {
		return nil, err
	}
	sp, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sp == nil {
		return nil, ErrNotFound("supplier not found")
	}
	return sp, nil
}

func (s *Service) Update(ctx context.Context, actor auth.Identity, id int64, in UpdateSupplierRequest) (*Supplier, error) {
	if err := authorize(actor, auth.CapManageCatalog); err != nil {
		return nil, err
	}
	sp, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sp == nil {
		return nil, ErrNotFound("supplier not found")
	}
	if v := trim(in.Name); v != nil {
		sp.Name = *v
	}
	if v := trim(in.ContactNo); v != nil {
		sp.ContactNo = *v
	}
	if v := trim(in.Email); v != nil {
		sp.Email = *v
	}
	if v := trim(in.Street); v != nil {
		sp.Street = *v
	}
	if v := trim(in.City); v != nil {
		sp.City = *v
	}
	if v := trim(in.Pincode); v != nil {
		sp.Pincode = *v
	}
	if err := validate(sp); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

func (s *Service) Delete(ctx context.Context, actor auth.Identity, id int64) error {
	if err := authorize(actor, auth.CapManageCatalog); err != nil {
		return err
	}
	aff, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if aff == 0 {
		return ErrNotFound("supplier not found")
	}
	log.Printf("[INFO] supplier deleted id=%d by=%s", id, actor.UserID)
	return nil
}

func (s *Service) List(ctx context.Context, actor auth.Identity, q string, p Page) ([]Supplier, error) {
	if err := authorize(actor, auth.CapViewCatalog); err != nil {
		return nil, err
	}
	return s.store.List(ctx, strings.TrimSpace(q), p)
}
