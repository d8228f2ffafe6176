package inventory

import (
	"context"
	"time"
)

type Page struct {
	Limit  int // 0 以下なら無制限
	Offset int
}

type EquipmentFilter struct {
	Query      string // name / category の部分一致
	Category   string
	StockBelow int // >0 なら quantity < StockBelow のみ
	Page       Page
}

type RequestFilter struct {
	Status      *RequestStatus
	RequesterID string
	EquipmentID *int64
	Page        Page
}

type LoanFilter struct {
	UserID        string
	EquipmentID   *int64
	EquipmentName string // 部分一致
	OpenOnly      bool
	OverdueOn     *time.Time // 指定日時点で期限切れのもの
	Page          Page
}

type AlertFilter struct {
	ActiveOnly  bool
	EquipmentID *int64
	Kind        *AlertKind
	Page        Page
}

type MovementFilter struct {
	EquipmentID *int64
	From        *time.Time
	To          *time.Time
	Page        Page
}

// Repository: 1操作 = 1トランザクション。fn がエラーを返せば何も残らない
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ReadOnly(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx: Lock* は行ロック付きで読む（MySQL では SELECT ... FOR UPDATE）。
// 見つからない場合は NOT_FOUND の *APIError を返す。
type Tx interface {
	InsertEquipment(ctx context.Context, e *Equipment) error
	GetEquipment(ctx context.Context, id int64) (*Equipment, error)
	LockEquipment(ctx context.Context, id int64) (*Equipment, error)
	UpdateEquipmentInfo(ctx context.Context, e *Equipment) error
	// SetQuantity: quantity = before の時だけ after に更新する (CAS)
	SetQuantity(ctx context.Context, id int64, before, after int) error
	DeleteEquipment(ctx context.Context, id int64) error
	ListEquipment(ctx context.Context, f EquipmentFilter) ([]Equipment, error)

	InsertMovement(ctx context.Context, m *StockMovement) error
	ListMovements(ctx context.Context, f MovementFilter) ([]StockMovement, error)

	InsertRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	LockRequest(ctx context.Context, id string) (*Request, error)
	// UpdateRequestDecision: status = pending の時だけ書き換える (CAS)
	UpdateRequestDecision(ctx context.Context, r *Request) error
	ListRequests(ctx context.Context, f RequestFilter) ([]Request, error)

	InsertLoan(ctx context.Context, l *Loan) error
	GetLoan(ctx context.Context, id string) (*Loan, error)
	LockLoan(ctx context.Context, id string) (*Loan, error)
	UpdateLoan(ctx context.Context, l *Loan) error
	CountOpenLoans(ctx context.Context, equipmentID int64) (int, error)
	ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error)

	InsertAlert(ctx context.Context, a *Alert) error
	GetAlert(ctx context.Context, id string) (*Alert, error)
	LockAlert(ctx context.Context, id string) (*Alert, error)
	// FindActiveAlert: 無ければ (nil, nil)
	FindActiveAlert(ctx context.Context, equipmentID int64, kind AlertKind) (*Alert, error)
	// ResolveAlert: is_active = 1 の時だけ書き換える (CAS)
	ResolveAlert(ctx context.Context, a *Alert) error
	ListAlerts(ctx context.Context, f AlertFilter) ([]Alert, error)
}
