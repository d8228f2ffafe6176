package inventory

import (
	"context"
	"log"
	"strconv"
	"strings"
	"unicode/utf8"

	"laby-backend/internal/platform/auth"
)

const defaultCondition = "Good"

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

type EquipmentInput struct {
	Name        string
	Category    string
	Location    string
	Condition   string
	Quantity    int
	Description string
	SupplierID  *int64
}

// EquipmentPatch: nil のフィールドは変更しない。quantity はここでは変えられない
type EquipmentPatch struct {
	Name          *string
	Category      *string
	Location      *string
	Condition     *string
	Description   *string
	SupplierID    *int64
	ClearSupplier bool
}

func checkLen(field, v string, limit int) error {
	if utf8.RuneCountInString(v) > limit {
		return ErrInvalid(field + " is too long")
	}
	return nil
}

func validateEquipment(e *Equipment) error {
	if strings.TrimSpace(e.Name) == "" {
		return ErrInvalid("name is required")
	}
	if err := checkLen("name", e.Name, 100); err != nil {
		return err
	}
	if err := checkLen("category", e.Category, 50); err != nil {
		return err
	}
	if err := checkLen("location", e.Location, 100); err != nil {
		return err
	}
	return checkLen("condition", e.Condition, 50)
}

// CreateEquipment: 初期在庫は initial_stock として台帳に残す
func (s *Service) CreateEquipment(ctx context.Context, actor auth.Identity, in EquipmentInput) (*Equipment, error) {
	if err := authorize(actor, auth.CapManageCatalog); err != nil {
		return nil, err
	}
	if in.Quantity < 0 {
		return nil, withReason(ErrInvalid("quantity must be >= 0"), ReasonInvalidQuantity)
	}
	if in.Condition == "" {
		in.Condition = defaultCondition
	}
	e := &Equipment{
		Name:        strings.TrimSpace(in.Name),
		Category:    in.Category,
		Location:    in.Location,
		Condition:   in.Condition,
		Description: in.Description,
		SupplierID:  in.SupplierID,
		AddedOn:     s.today(),
	}
	if err := validateEquipment(e); err != nil {
		return nil, err
	}

	var fx effects
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		fx.reset()
		e.ID = 0
		e.Quantity = 0
		if err := tx.InsertEquipment(ctx, e); err != nil {
			return err
		}
		if in.Quantity == 0 {
			return nil
		}
		_, err := s.adjustStock(ctx, tx, e, stockChange{
			Delta:   in.Quantity,
			Reason:  MoveInitialStock,
			RefKind: RefEquipment,
			RefID:   formatID(e.ID),
			ActorID: actor.UserID,
		}, &fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(&fx)
	log.Printf("[INFO] equipment created id=%d name=%q qty=%d by=%s", e.ID, e.Name, e.Quantity, actor.UserID)
	return e, nil
}

func (s *Service) UpdateEquipment(ctx context.Context, actor auth.Identity, id int64, p EquipmentPatch) (*Equipment, error) {
	if err := authorize(actor, auth.CapManageCatalog); err != nil {
		return nil, err
	}

	var out *Equipment
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		e, err := tx.LockEquipment(ctx, id)
		if err != nil {
			return err
		}
		if p.Name != nil {
			e.Name = strings.TrimSpace(*p.Name)
		}
		if p.Category != nil {
			e.Category = *p.Category
		}
		if p.Location != nil {
			e.Location = *p.Location
		}
		if p.Condition != nil {
			e.Condition = *p.Condition
		}
		if p.Description != nil {
			e.Description = *p.Description
		}
		switch {
		case p.ClearSupplier:
			e.SupplierID = nil
		case p.SupplierID != nil:
			e.SupplierID = p.SupplierID
		}
		if err := validateEquipment(e); err != nil {
			return err
		}
		if err := tx.UpdateEquipmentInfo(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetEquipment(ctx context.Context, actor auth.Identity, id int64) (*Equipment, error) {
	if err := authorize(actor, auth.CapViewCatalog); err != nil {
		return nil, err
	}
	var out *Equipment
	err := s.repo.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		e, err := tx.GetEquipment(ctx, id)
		out = e
		return err
	})
	return out, err
}

type ListEquipmentQuery struct {
	Query        string
	Category     string
	LowStockOnly bool
	Page         Page
}

func (s *Service) ListEquipment(ctx context.Context, actor auth.Identity, q ListEquipmentQuery) ([]Equipment, error) {
	if err := authorize(actor, auth.CapViewCatalog); err != nil {
		return nil, err
	}
	f := EquipmentFilter{Query: q.Query, Category: q.Category, Page: q.Page}
	if q.LowStockOnly {
		f.StockBelow = s.threshold
	}
	var out []Equipment
	err := s.repo.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListEquipment(ctx, f)
		return err
	})
	return out, err
}

// ListMovements: 在庫の増減履歴（新しい順）
func (s *Service) ListMovements(ctx context.Context, actor auth.Identity, f MovementFilter) ([]StockMovement, error) {
	if err := authorize(actor, auth.CapViewReports); err != nil {
		return nil, err
	}
	var out []StockMovement
	err := s.repo.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListMovements(ctx, f)
		return err
	})
	return out, err
}
