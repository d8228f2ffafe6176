package inventory

import (
	"context"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"laby-backend/internal/platform/auth"
	"laby-backend/internal/platform/metrics"
)

const defaultPurpose = "Approved equipment request"

type SubmitInput struct {
	EquipmentID int64
	Quantity    int
	Purpose     string
}

// SubmitRequest: 在庫チェックは承認時に行う
func (s *Service) SubmitRequest(ctx context.Context, actor auth.Identity, in SubmitInput) (*Request, error) {
	if err := authorize(actor, auth.CapRequestEquipment); err != nil {
		return nil, err
	}
	if in.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	now := s.now()
	r := &Request{
		ID:          s.id.New(now),
		RequesterID: actor.UserID,
		EquipmentID: in.EquipmentID,
		Quantity:    in.Quantity,
		Purpose:     strings.TrimSpace(in.Purpose),
		Status:      StatusPending,
		RequestedAt: now,
	}
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetEquipment(ctx, in.EquipmentID); err != nil {
			return err
		}
		return tx.InsertRequest(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] request submitted id=%s equipment=%d qty=%d by=%s", r.ID, r.EquipmentID, r.Quantity, r.RequesterID)
	return r, nil
}

type DecideInput struct {
	Action  Decision
	DueDate *time.Time
	Note    *string
}

type DecisionResult struct {
	Request Request
	Loan    *Loan   // approve の時だけ
	Alerts  []Alert // 承認で発生したアラート
}

// Decide: pending の依頼を承認/却下する。承認時は在庫減算と貸出記録の作成を同一 Tx で行う
func (s *Service) Decide(ctx context.Context, actor auth.Identity, requestID string, in DecideInput) (*DecisionResult, error) {
	ctx, span := s.span(ctx, "Decide")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID), attribute.String("decision", string(in.Action)))

	if err := authorize(actor, auth.CapDecideRequests); err != nil {
		return nil, err
	}
	switch in.Action {
	case DecisionApprove, DecisionReject:
	default:
		return nil, ErrInvalid("action must be approve or reject")
	}

	var (
		fx  effects
		res *DecisionResult
	)
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		fx.reset()
		r, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return ErrAlreadyProcessed
		}

		now := s.now()
		switch in.Action {
		case DecisionReject:
			r.Status = StatusRejected
			r.ProcessedAt = &now
			r.ProcessedBy = &actor.UserID
			r.Note = in.Note
			if err := tx.UpdateRequestDecision(ctx, r); err != nil {
				return err
			}
			res = &DecisionResult{Request: *r}
			return nil

		case DecisionApprove:
			if in.DueDate == nil {
				return ErrMissingDueDate
			}
			today := s.today()
			due := truncateDay(*in.DueDate, time.UTC)
			if due.Before(today) {
				return withReason(ErrInvalid("due_date must not be in the past"), ReasonInvalidDueDate)
			}

			eq, err := tx.LockEquipment(ctx, r.EquipmentID)
			if err != nil {
				return err
			}

			purpose := r.Purpose
			if purpose == "" {
				purpose = defaultPurpose
			}
			reqID := r.ID
			loan := &Loan{
				ID:            s.id.New(now),
				RequestID:     &reqID,
				UserID:        r.RequesterID,
				EquipmentID:   eq.ID,
				EquipmentName: eq.Name,
				QuantityUsed:  r.Quantity,
				Purpose:       purpose,
				BorrowedOn:    today,
				DueDate:       &due,
				ApprovedBy:    &actor.UserID,
			}

			// 在庫不足ならここで失敗し、依頼は pending のまま残る
			if _, err := s.adjustStock(ctx, tx, eq, stockChange{
				Delta:   -r.Quantity,
				Reason:  MoveLoanOpened,
				RefKind: RefLoan,
				RefID:   loan.ID,
				ActorID: actor.UserID,
			}, &fx); err != nil {
				return err
			}

			r.Status = StatusApproved
			r.ProcessedAt = &now
			r.ProcessedBy = &actor.UserID
			r.Note = in.Note
			if err := tx.UpdateRequestDecision(ctx, r); err != nil {
				return err
			}
			if err := tx.InsertLoan(ctx, loan); err != nil {
				return err
			}
			if _, err := s.evaluateLowStock(ctx, tx, eq, &fx); err != nil {
				return err
			}
			res = &DecisionResult{Request: *r, Loan: loan}
			return nil
		}
		return ErrInvalid("action must be approve or reject")
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res.Alerts = append([]Alert(nil), fx.alerts...)
	s.publish(&fx)
	metrics.ObserveDecision(string(in.Action))
	if res.Loan != nil {
		log.Printf("[INFO] request approved id=%s loan=%s by=%s", res.Request.ID, res.Loan.ID, actor.UserID)
	} else {
		log.Printf("[INFO] request rejected id=%s by=%s", res.Request.ID, actor.UserID)
	}
	return res, nil
}

// GetRequest: Viewer は自分の依頼のみ見られる
func (s *Service) GetRequest(ctx context.Context, actor auth.Identity, id string) (*Request, error) {
	if err := authorize(actor, auth.CapRequestEquipment); err != nil {
		return nil, err
	}
	var out *Request
	err := s.repo.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if !actor.Privileged() && r.RequesterID != actor.UserID {
			return ErrNotFound("request not found")
		}
		out = r
		return nil
	})
	return out, err
}

func (s *Service) ListRequests(ctx context.Context, actor auth.Identity, f RequestFilter) ([]Request, error) {
	if err := authorize(actor, auth.CapRequestEquipment); err != nil {
		return nil, err
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, ErrInvalid("unknown status")
	}
	if !actor.Privileged() {
		f.RequesterID = actor.UserID
	}
	var out []Request
	err := s.repo.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListRequests(ctx, f)
		return err
	})
	return out, err
}
