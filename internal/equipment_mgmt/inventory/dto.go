package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// ===== リクエスト =====

type CreateEquipmentRequest struct {
	Name        string `json:"name" binding:"required"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	Condition   string `json:"condition"`
	Quantity    int    `json:"quantity"`
	Description string `json:"description"`
	SupplierID  *int64 `json:"supplier_id,omitempty"`
}

type UpdateEquipmentRequest struct {
	Name          *string `json:"name,omitempty"`
	Category      *string `json:"category,omitempty"`
	Location      *string `json:"location,omitempty"`
	Condition     *string `json:"condition,omitempty"`
	Description   *string `json:"description,omitempty"`
	SupplierID    *int64  `json:"supplier_id,omitempty"`
	ClearSupplier bool    `json:"clear_supplier,omitempty"`
}

type SubmitRequestRequest struct {
	EquipmentID int64  `json:"equipment_id" binding:"required"`
	Quantity    int    `json:"quantity"`
	Purpose     string `json:"purpose"`
}

type DecisionRequest struct {
	Action string `json:"action" binding:"required"` // approve | reject
	// "2006-01-02" 形式（approve の時は必須）
	DueDate *string `json:"due_date,omitempty"`
	Note    *string `json:"note,omitempty"`
}

type CollectRequest struct {
	CollectorID string `json:"collector_id"`
}

type ReturnRequest struct {
	IsDamaged    bool    `json:"is_damaged"`
	DamageReport *string `json:"damage_report,omitempty"`
	// 文字列 ("150.00") でも数値でも受ける
	PenaltyAmount *decimal.Decimal `json:"penalty_amount,omitempty"`
}

type ResolveRequest struct {
	Action string `json:"action" binding:"required"` // discard | restock
}

type MaintenanceRequest struct {
	Note string `json:"note"`
}

// ===== レスポンス =====

type EquipmentResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	Condition   string `json:"condition"`
	Quantity    int    `json:"quantity"`
	Description string `json:"description"`
	SupplierID  *int64 `json:"supplier_id,omitempty"`
	AddedOn     string `json:"added_on"`
	LowStock    bool   `json:"low_stock"`
}

type RequestResponse struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requester_id"`
	EquipmentID int64      `json:"equipment_id"`
	Quantity    int        `json:"quantity"`
	Purpose     string     `json:"purpose"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	ProcessedBy *string    `json:"processed_by,omitempty"`
	Note        *string    `json:"note,omitempty"`
}

type LoanResponse struct {
	ID              string     `json:"id"`
	RequestID       *string    `json:"request_id,omitempty"`
	UserID          string     `json:"user_id"`
	EquipmentID     int64      `json:"equipment_id"`
	EquipmentName   string     `json:"equipment_name"`
	QuantityUsed    int        `json:"quantity_used"`
	Purpose         string     `json:"purpose"`
	BorrowedOn      string     `json:"borrowed_on"`
	DueDate         *string    `json:"due_date,omitempty"`
	ReturnedOn      *string    `json:"returned_on,omitempty"`
	CollectedBy     *string    `json:"collected_by,omitempty"`
	CollectedAt     *time.Time `json:"collected_at,omitempty"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	ReturnedTo      *string    `json:"returned_to,omitempty"`
	IsDamaged       bool       `json:"is_damaged"`
	DamageReport    *string    `json:"damage_report,omitempty"`
	PenaltyAmount   string     `json:"penalty_amount"`
	DamageProcessed bool       `json:"damage_processed"`
	Overdue         bool       `json:"overdue"`
}

type AlertResponse struct {
	ID            string     `json:"id"`
	EquipmentID   int64      `json:"equipment_id"`
	EquipmentName string     `json:"equipment_name"`
	Kind          string     `json:"kind"`
	Message       string     `json:"message"`
	CreatedAt     time.Time  `json:"created_at"`
	IsActive      bool       `json:"is_active"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy    *string    `json:"resolved_by,omitempty"`
	Resolution    *string    `json:"resolution,omitempty"`
}

type MovementResponse struct {
	ID          string    `json:"id"`
	EquipmentID int64     `json:"equipment_id"`
	Delta       int       `json:"delta"`
	Before      int       `json:"before"`
	After       int       `json:"after"`
	Reason      string    `json:"reason"`
	RefKind     string    `json:"ref_kind"`
	RefID       string    `json:"ref_id"`
	ActorID     string    `json:"actor_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type DecisionResponse struct {
	Request RequestResponse `json:"request"`
	Loan    *LoanResponse   `json:"loan,omitempty"`
	Alerts  []AlertResponse `json:"alerts"`
}

type CloseResponse struct {
	Loan      LoanResponse      `json:"loan"`
	Equipment EquipmentResponse `json:"equipment"`
	Movement  *MovementResponse `json:"movement,omitempty"`
	Alerts    []AlertResponse   `json:"alerts"`
}

type ResolveResponse struct {
	Alert            AlertResponse      `json:"alert"`
	Equipment        *EquipmentResponse `json:"equipment,omitempty"`
	Movement         *MovementResponse  `json:"movement,omitempty"`
	RejectedRequests []string           `json:"rejected_requests,omitempty"`
}

type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ===== 変換 =====

func fmtDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(DateLayout)
	return &s
}

func (s *Service) toEquipmentResponse(e *Equipment) EquipmentResponse {
	return EquipmentResponse{
		ID:          e.ID,
		Name:        e.Name,
		Category:    e.Category,
		Location:    e.Location,
		Condition:   e.Condition,
		Quantity:    e.Quantity,
		Description: e.Description,
		SupplierID:  e.SupplierID,
		AddedOn:     e.AddedOn.Format(DateLayout),
		LowStock:    e.Quantity < s.threshold,
	}
}

func toRequestResponse(r *Request) RequestResponse {
	return RequestResponse{
		ID:          r.ID,
		RequesterID: r.RequesterID,
		EquipmentID: r.EquipmentID,
		Quantity:    r.Quantity,
		Purpose:     r.Purpose,
		Status:      string(r.Status),
		RequestedAt: r.RequestedAt,
		ProcessedAt: r.ProcessedAt,
		ProcessedBy: r.ProcessedBy,
		Note:        r.Note,
	}
}

func toLoanResponse(l *Loan, today time.Time) LoanResponse {
	return LoanResponse{
		ID:              l.ID,
		RequestID:       l.RequestID,
		UserID:          l.UserID,
		EquipmentID:     l.EquipmentID,
		EquipmentName:   l.EquipmentName,
		QuantityUsed:    l.QuantityUsed,
		Purpose:         l.Purpose,
		BorrowedOn:      l.BorrowedOn.Format(DateLayout),
		DueDate:         fmtDate(l.DueDate),
		ReturnedOn:      fmtDate(l.ReturnedOn),
		CollectedBy:     l.CollectedBy,
		CollectedAt:     l.CollectedAt,
		ApprovedBy:      l.ApprovedBy,
		ReturnedTo:      l.ReturnedTo,
		IsDamaged:       l.IsDamaged,
		DamageReport:    l.DamageReport,
		PenaltyAmount:   l.PenaltyAmount.StringFixed(2),
		DamageProcessed: l.DamageProcessed,
		Overdue:         l.Overdue(today),
	}
}

func toAlertResponse(a *Alert) AlertResponse {
	out := AlertResponse{
		ID:            a.ID,
		EquipmentID:   a.EquipmentID,
		EquipmentName: a.EquipmentName,
		Kind:          string(a.Kind),
		Message:       a.Message,
		CreatedAt:     a.CreatedAt,
		IsActive:      a.IsActive,
		ResolvedAt:    a.ResolvedAt,
		ResolvedBy:    a.ResolvedBy,
	}
	if a.Resolution != nil {
		r := string(*a.Resolution)
		out.Resolution = &r
	}
	return out
}

func toMovementResponse(m *StockMovement) MovementResponse {
	return MovementResponse{
		ID:          m.ID,
		EquipmentID: m.EquipmentID,
		Delta:       m.Delta,
		Before:      m.Before,
		After:       m.After,
		Reason:      string(m.Reason),
		RefKind:     string(m.RefKind),
		RefID:       m.RefID,
		ActorID:     m.ActorID,
		CreatedAt:   m.CreatedAt,
	}
}

func toAlertResponses(as []Alert) []AlertResponse {
	out := make([]AlertResponse, 0, len(as))
	for i := range as {
		out = append(out, toAlertResponse(&as[i]))
	}
	return out
}
