package inventory

import (
	"context"
	"log"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"laby-backend/internal/platform/auth"
	"laby-backend/internal/platform/metrics"
)

// MarkCollected: 受け取り者を一度だけ記録する。collectorID が空なら借主本人
func (s *Service) MarkCollected(ctx context.Context, actor auth.Identity, loanID, collectorID string) (*Loan, error) {
	if err := authorize(actor, auth.CapHandleLoans); err != nil {
		return nil, err
	}

	var out *Loan
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		l, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !l.Open() {
			return ErrAlreadyClosed
		}
		if l.CollectedBy != nil {
			return ErrAlreadyCollected
		}
		who := collectorID
		if who == "" {
			who = l.UserID
		}
		now := s.now()
		l.CollectedBy = &who
		l.CollectedAt = &now
		if err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] loan collected id=%s by=%s handled_by=%s", out.ID, *out.CollectedBy, actor.UserID)
	return out, nil
}

type ReturnInput struct {
	IsDamaged     bool
	DamageReport  *string
	PenaltyAmount decimal.Decimal
}

type CloseResult struct {
	Loan      Loan
	Equipment Equipment
	Movement  *StockMovement
	Alerts    []Alert
}

// CloseLoan: 返却を記録し在庫を戻す。破損時は逆に減算（0で打ち止め）。
// 貸出は一度しか閉じられないので、二度目は ALREADY_CLOSED で何も起きない
func (s *Service) CloseLoan(ctx context.Context, actor auth.Identity, loanID string, in ReturnInput) (*CloseResult, error) {
	ctx, span := s.span(ctx, "CloseLoan")
	defer span.End()
	span.SetAttributes(attribute.String("loan.id", loanID), attribute.Bool("loan.damaged", in.IsDamaged))

	if err := authorize(actor, auth.CapHandleLoans); err != nil {
		return nil, err
	}
	if in.PenaltyAmount.IsNegative() {
		return nil, withReason(ErrInvalid("penalty_amount must be >= 0"), ReasonInvalidPenalty)
	}

	var (
		fx  effects
		res *CloseResult
	)
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		fx.reset()
		l, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !l.Open() {
			return ErrAlreadyClosed
		}
		// 貸出中の品目は破棄できないので、ここで見つからないのは不整合
		eq, err := tx.LockEquipment(ctx, l.EquipmentID)
		if err != nil {
			return err
		}

		today := s.today()
		l.ReturnedOn = &today
		l.ReturnedTo = &actor.UserID
		l.IsDamaged = in.IsDamaged
		l.DamageReport = in.DamageReport
		l.PenaltyAmount = in.PenaltyAmount.Round(2)

		var mv *StockMovement
		if in.IsDamaged {
			if !l.DamageProcessed {
				mv, err = s.adjustStock(ctx, tx, eq, stockChange{
					Delta:       -l.QuantityUsed,
					Reason:      MoveDamageWriteOff,
					RefKind:     RefLoan,
					RefID:       l.ID,
					ActorID:     actor.UserID,
					ClampAtZero: true,
				}, &fx)
				if err != nil {
					return err
				}
				l.DamageProcessed = true
			}
			if _, err := s.raiseDamage(ctx, tx, eq, l.DamageReport, &fx); err != nil {
				return err
			}
		} else {
			mv, err = s.adjustStock(ctx, tx, eq, stockChange{
				Delta:   l.QuantityUsed,
				Reason:  MoveLoanReturned,
				RefKind: RefLoan,
				RefID:   l.ID,
				ActorID: actor.UserID,
			}, &fx)
			if err != nil {
				return err
			}
		}

		if err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		if _, err := s.evaluateLowStock(ctx, tx, eq, &fx); err != nil {
			return err
		}
		res = &CloseResult{Loan: *l, Equipment: *eq, Movement: mv}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res.Alerts = append([]Alert(nil), fx.alerts...)
	s.publish(&fx)
	metrics.ObserveLoanClosed(res.Loan.IsDamaged)
	log.Printf("[INFO] loan closed id=%s damaged=%t penalty=%s by=%s", res.Loan.ID, res.Loan.IsDamaged, res.Loan.PenaltyAmount.StringFixed(2), actor.UserID)
	return res, nil
}

// GetLoan: Viewer は自分の貸出のみ
func (s *Service) GetLoan(ctx context.Context, actor auth.Identity, id string) (*Loan, error) {
	if err := authorize(actor, auth.CapRequestEquipment); err != nil {
		return nil, err
	}
	var out *Loan
	err := s.repo.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		l, err := tx.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		if !actor.Privileged() && l.UserID != actor.UserID {
			return ErrNotFound("loan not found")
		}
		out = l
		return nil
	})
	return out, err
}

type LoanQuery struct {
	UserID        string
	EquipmentName string
	OpenOnly      bool
	OverdueOnly   bool
	Page          Page
}

func (s *Service) ListLoans(ctx context.Context, actor auth.Identity, q LoanQuery) ([]Loan, error) {
	if err := authorize(actor, auth.CapRequestEquipment); err != nil {
		return nil, err
	}
	if !actor.Privileged() {
		q.UserID = actor.UserID
	}
	f := LoanFilter{
		UserID:        q.UserID,
		EquipmentName: q.EquipmentName,
		OpenOnly:      q.OpenOnly,
		Page:          q.Page,
	}
	if q.OverdueOnly {
		today := s.today()
		f.OverdueOn = &today
	}
	return s.listLoans(ctx, f)
}

// OpenLoansForUser: 未返却の貸出（本人または Staff/Admin が参照）
func (s *Service) OpenLoansForUser(ctx context.Context, actor auth.Identity, userID string) ([]Loan, error) {
	if err := authorize(actor, auth.CapRequestEquipment); err != nil {
		return nil, err
	}
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !actor.Privileged() {
		return nil, ErrForbidden("cannot view other users' loans")
	}
	return s.listLoans(ctx, LoanFilter{UserID: userID, OpenOnly: true})
}

// OverdueLoans: returnedOn が空で dueDate < today のもの
func (s *Service) OverdueLoans(ctx context.Context, actor auth.Identity) ([]Loan, error) {
	if err := authorize(actor, auth.CapViewReports); err != nil {
		return nil, err
	}
	today := s.today()
	return s.listLoans(ctx, LoanFilter{OpenOnly: true, OverdueOn: &today})
}

func (s *Service) listLoans(ctx context.Context, f LoanFilter) ([]Loan, error) {
	var out []Loan
	err := s.repo.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListLoans(ctx, f)
		return err
	})
	return out, err
}
