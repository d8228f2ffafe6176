package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"laby-backend/internal/platform/auth"
	"laby-backend/internal/platform/metrics"
)

const damageExcerptLen = 100

func lowStockMessage(eq *Equipment) string {
	return fmt.Sprintf("Low stock: %s has %d left", eq.Name, eq.Quantity)
}

func damageMessage(report *string) string {
	if report == nil || strings.TrimSpace(*report) == "" {
		return "Damage reported"
	}
	r := []rune(*report)
	if len(r) > damageExcerptLen {
		r = r[:damageExcerptLen]
	}
	return "Damage reported: " + string(r) + "..."
}

// evaluateLowStock: しきい値未満で、同じ品目の有効な low_stock が無い時だけ作る。
// eq はロック済みであること（重複作成の競合をロックで防ぐ）
func (s *Service) evaluateLowStock(ctx context.Context, tx Tx, eq *Equipment, fx *effects) (*Alert, error) {
	if eq.Quantity >= s.threshold {
		return nil, nil
	}
	existing, err := tx.FindActiveAlert(ctx, eq.ID, AlertLowStock)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}
	return s.insertAlert(ctx, tx, eq, AlertLowStock, lowStockMessage(eq), fx)
}

// raiseDamage: 破損は1件ごとに記録する（重複排除しない）
func (s *Service) raiseDamage(ctx context.Context, tx Tx, eq *Equipment, report *string, fx *effects) (*Alert, error) {
	return s.insertAlert(ctx, tx, eq, AlertDamage, damageMessage(report), fx)
}

func (s *Service) insertAlert(ctx context.Context, tx Tx, eq *Equipment, kind AlertKind, msg string, fx *effects) (*Alert, error) {
	now := s.now()
	a := &Alert{
		ID:            s.id.New(now),
		EquipmentID:   eq.ID,
		EquipmentName: eq.Name,
		Kind:          kind,
		Message:       msg,
		CreatedAt:     now,
		IsActive:      true,
	}
	if err := tx.InsertAlert(ctx, a); err != nil {
		return nil, err
	}
	fx.addAlert(a)
	return a, nil
}

// ReportMaintenance: 点検が必要な品目を Staff が手動で報告する
func (s *Service) ReportMaintenance(ctx context.Context, actor auth.Identity, equipmentID int64, note string) (*Alert, error) {
	if err := authorize(actor, auth.CapManageCatalog); err != nil {
		return nil, err
	}
	var (
		fx  effects
		out *Alert
	)
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		fx.reset()
		eq, err := tx.LockEquipment(ctx, equipmentID)
		if err != nil {
			return err
		}
		msg := "Maintenance required"
		if n := strings.TrimSpace(note); n != "" {
			msg += ": " + n
		}
		out, err = s.insertAlert(ctx, tx, eq, AlertMaintenance, msg, &fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(&fx)
	return out, nil
}

type ResolveResult struct {
	Alert            Alert
	Equipment        *Equipment // discard 後は nil
	Movement         *StockMovement
	RejectedRequests []string // discard で自動却下した依頼
}

// ResolveAlert: Admin のみ。discard は品目を削除、restock は在庫を1つ戻す
func (s *Service) ResolveAlert(ctx context.Context, actor auth.Identity, alertID string, action Resolution) (*ResolveResult, error) {
	ctx, span := s.span(ctx, "ResolveAlert")
	defer span.End()
	span.SetAttributes(attribute.String("alert.id", alertID), attribute.String("resolution", string(action)))

	if err := authorize(actor, auth.CapResolveAlerts); err != nil {
		return nil, err
	}
	switch action {
	case ResolveDiscard, ResolveRestock:
	default:
		return nil, ErrInvalid("action must be discard or restock")
	}

	var (
		fx  effects
		res *ResolveResult
	)
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		fx.reset()
		a, err := tx.LockAlert(ctx, alertID)
		if err != nil {
			return err
		}
		if !a.IsActive {
			return ErrAlreadyResolved
		}
		res = &ResolveResult{}

		switch action {
		case ResolveDiscard:
			eq, err := tx.LockEquipment(ctx, a.EquipmentID)
			switch {
			case CodeOf(err) == CodeNotFound:
				// 既に破棄済み。アラートを閉じるだけ
			case err != nil:
				return err
			default:
				rejected, mv, err := s.discard(ctx, tx, actor, eq, a, &fx)
				if err != nil {
					return err
				}
				res.RejectedRequests = rejected
				res.Movement = mv
			}

		case ResolveRestock:
			eq, err := tx.LockEquipment(ctx, a.EquipmentID)
			if err != nil {
				return err
			}
			mv, err := s.adjustStock(ctx, tx, eq, stockChange{
				Delta:   1,
				Reason:  MoveAlertRestock,
				RefKind: RefAlert,
				RefID:   a.ID,
				ActorID: actor.UserID,
			}, &fx)
			if err != nil {
				return err
			}
			res.Equipment = eq
			res.Movement = mv
		}

		now := s.now()
		act := action
		a.IsActive = false
		a.ResolvedAt = &now
		a.ResolvedBy = &actor.UserID
		a.Resolution = &act
		if err := tx.ResolveAlert(ctx, a); err != nil {
			return err
		}
		res.Alert = *a
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.publish(&fx)
	metrics.ObserveAlertResolved(string(action))
	log.Printf("[INFO] alert resolved id=%s action=%s by=%s", res.Alert.ID, action, actor.UserID)
	return res, nil
}

// discard: 貸出中なら拒否。pending の依頼は却下してから品目を削除する
func (s *Service) discard(ctx context.Context, tx Tx, actor auth.Identity, eq *Equipment, a *Alert, fx *effects) ([]string, *StockMovement, error) {
	open, err := tx.CountOpenLoans(ctx, eq.ID)
	if err != nil {
		return nil, nil, err
	}
	if open > 0 {
		return nil, nil, withReason(ErrConflict(fmt.Sprintf("%d open loan(s) for %q", open, eq.Name)), ReasonHasOpenLoans)
	}

	pending := StatusPending
	eqID := eq.ID
	reqs, err := tx.ListRequests(ctx, RequestFilter{Status: &pending, EquipmentID: &eqID})
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	note := "equipment discarded"
	var rejected []string
	for i := range reqs {
		r := &reqs[i]
		r.Status = StatusRejected
		r.ProcessedAt = &now
		r.ProcessedBy = &actor.UserID
		r.Note = &note
		if err := tx.UpdateRequestDecision(ctx, r); err != nil {
			if errors.Is(err, ErrConcurrentUpdate) {
				continue
			}
			return nil, nil, err
		}
		rejected = append(rejected, r.ID)
	}

	var mv *StockMovement
	if eq.Quantity > 0 {
		mv, err = s.adjustStock(ctx, tx, eq, stockChange{
			Delta:   -eq.Quantity,
			Reason:  MoveAlertDiscard,
			RefKind: RefAlert,
			RefID:   a.ID,
			ActorID: actor.UserID,
		}, fx)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := tx.DeleteEquipment(ctx, eq.ID); err != nil {
		return nil, nil, err
	}
	return rejected, mv, nil
}

func (s *Service) GetAlert(ctx context.Context, actor auth.Identity, id string) (*Alert, error) {
	if err := authorize(actor, auth.CapViewCatalog); err != nil {
		return nil, err
	}
	var out *Alert
	err := s.repo.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.GetAlert(ctx, id)
		out = a
		return err
	})
	return out, err
}

func (s *Service) ListAlerts(ctx context.Context, actor auth.Identity, f AlertFilter) ([]Alert, error) {
	if err := authorize(actor, auth.CapViewCatalog); err != nil {
		return nil, err
	}
	if f.Kind != nil && !f.Kind.Valid() {
		return nil, ErrInvalid("unknown alert kind")
	}
	var out []Alert
	err := s.repo.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListAlerts(ctx, f)
		return err
	})
	return out, err
}
