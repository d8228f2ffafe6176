package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// 低在庫判定のしきい値（この数未満でアラート）
const DefaultLowStockThreshold = 2

const DateLayout = "2006-01-02"

// ===== 列挙型 =====

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal: 承認/却下済みは二度と変わらない
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected:
		return true
	case StatusPending:
		return false
	}
	return false
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionApprove, DecisionReject:
		return d, nil
	}
	return "", ErrInvalid("action must be approve or reject")
}

type AlertKind string

const (
	AlertLowStock    AlertKind = "low_stock"
	AlertDamage      AlertKind = "damage"
	AlertMaintenance AlertKind = "maintenance"
)

func (k AlertKind) Valid() bool {
	switch k {
	case AlertLowStock, AlertDamage, AlertMaintenance:
		return true
	}
	return false
}

type Resolution string

const (
	ResolveDiscard Resolution = "discard"
	ResolveRestock Resolution = "restock"
)

func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case ResolveDiscard, ResolveRestock:
		return r, nil
	}
	return "", ErrInvalid("action must be discard or restock")
}

// MovementReason: 在庫数が動いた理由
type MovementReason string

const (
	MoveInitialStock   MovementReason = "initial_stock"
	MoveLoanOpened     MovementReason = "loan_opened"
	MoveLoanReturned   MovementReason = "loan_returned"
	MoveDamageWriteOff MovementReason = "damage_writeoff"
	MoveAlertRestock   MovementReason = "alert_restock"
	MoveAlertDiscard   MovementReason = "alert_discard"
)

type RefKind string

const (
	RefEquipment RefKind = "equipment"
	RefRequest   RefKind = "request"
	RefLoan      RefKind = "loan"
	RefAlert     RefKind = "alert"
)

// ===== エンティティ =====

type Equipment struct {
	ID          int64
	Name        string
	Category    string
	Location    string
	Condition   string
	Quantity    int
	Description string
	SupplierID  *int64
	AddedOn     time.Time
}

type Request struct {
	ID          string
	RequesterID string
	EquipmentID int64
	Quantity    int
	Purpose     string
	Status      RequestStatus
	RequestedAt time.Time
	ProcessedAt *time.Time
	ProcessedBy *string
	Note        *string
}

// Loan は usage_records の1行（貸出記録）
type Loan struct {
	ID              string
	RequestID       *string
	UserID          string
	EquipmentID     int64
	EquipmentName   string
	QuantityUsed    int
	Purpose         string
	BorrowedOn      time.Time
	DueDate         *time.Time
	ReturnedOn      *time.Time
	CollectedBy     *string
	CollectedAt     *time.Time
	ApprovedBy      *string
	ReturnedTo      *string
	IsDamaged       bool
	DamageReport    *string
	PenaltyAmount   decimal.Decimal
	DamageProcessed bool
}

func (l *Loan) Open() bool { return l.ReturnedOn == nil }

// Overdue: 未返却かつ期限が today より前
func (l *Loan) Overdue(today time.Time) bool {
	return l.ReturnedOn == nil && l.DueDate != nil && l.DueDate.Before(today)
}

type Alert struct {
	ID            string
	EquipmentID   int64
	EquipmentName string
	Kind          AlertKind
	Message       string
	CreatedAt     time.Time
	IsActive      bool
	ResolvedAt    *time.Time
	ResolvedBy    *string
	Resolution    *Resolution
}

// StockMovement: 在庫増減の監査ログ
type StockMovement struct {
	ID          string
	EquipmentID int64
	Delta       int
	Before      int
	After       int
	Reason      MovementReason
	RefKind     RefKind
	RefID       string
	ActorID     string
	CreatedAt   time.Time
}
