package inventory

import (
	"context"
	"fmt"
	"log"

	"laby-backend/internal/platform/metrics"
)

// stockChange: 在庫を動かす時は必ずこれを adjustStock に渡す
type stockChange struct {
	Delta   int
	Reason  MovementReason
	RefKind RefKind
	RefID   string
	ActorID string
	// ClampAtZero: 足りない分は 0 で打ち止め（破損による減算のみ）
	ClampAtZero bool
}

// adjustStock: quantity を変更する唯一の入口。
// eq はロック済みの行であること。変更と同時に stock_movements に1行書く。
func (s *Service) adjustStock(ctx context.Context, tx Tx, eq *Equipment, ch stockChange, fx *effects) (*StockMovement, error) {
	before := eq.Quantity
	after := before + ch.Delta
	if after < 0 {
		if !ch.ClampAtZero {
			return nil, ErrInsufficientStock(fmt.Sprintf("requested %d of %q, only %d on hand", -ch.Delta, eq.Name, before))
		}
		after = 0
	}

	if after != before {
		if err := tx.SetQuantity(ctx, eq.ID, before, after); err != nil {
			return nil, err
		}
	}
	eq.Quantity = after

	m := &StockMovement{
		ID:          s.id.New(s.now()),
		EquipmentID: eq.ID,
		Delta:       after - before,
		Before:      before,
		After:       after,
		Reason:      ch.Reason,
		RefKind:     ch.RefKind,
		RefID:       ch.RefID,
		ActorID:     ch.ActorID,
		CreatedAt:   s.now(),
	}
	if err := tx.InsertMovement(ctx, m); err != nil {
		return nil, err
	}
	fx.addMovement(m)
	return m, nil
}

// publish: コミット成功後に呼ぶ
func (s *Service) publish(fx *effects) {
	for _, m := range fx.movements {
		metrics.ObserveStockMovement(string(m.Reason))
		log.Printf("[INFO] stock equipment=%d %d -> %d (%+d) reason=%s ref=%s/%s actor=%s",
			m.EquipmentID, m.Before, m.After, m.Delta, m.Reason, m.RefKind, m.RefID, m.ActorID)
	}
	for _, a := range fx.alerts {
		metrics.ObserveAlertCreated(string(a.Kind))
		log.Printf("[INFO] alert raised id=%s equipment=%d kind=%s message=%q", a.ID, a.EquipmentID, a.Kind, a.Message)
	}
}
