package inventory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRepository: 単一プロセス用。Tx ごとに状態を複製し、成功時だけ差し替える
type MemoryRepository struct {
	mu    sync.RWMutex
	state memState
}

type memState struct {
	nextEquipmentID int64
	equipment       map[int64]Equipment
	requests        map[string]Request
	loans           map[string]Loan
	alerts          map[string]Alert
	movements       map[string]StockMovement
}

func newMemState() memState {
	return memState{
		nextEquipmentID: 1,
		equipment:       map[int64]Equipment{},
		requests:        map[string]Request{},
		loans:           map[string]Loan{},
		alerts:          map[string]Alert{},
		movements:       map[string]StockMovement{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone: 値は構造体コピー。ポインタ先は書き換えず差し替える運用なので浅いコピーで足りる
func (st memState) clone() memState {
	return memState{
		nextEquipmentID: st.nextEquipmentID,
		equipment:       cloneMap(st.equipment),
		requests:        cloneMap(st.requests),
		loans:           cloneMap(st.loans),
		alerts:          cloneMap(st.alerts),
		movements:       cloneMap(st.movements),
	}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemState()}
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memTx{state: r.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

func (r *MemoryRepository) ReadOnly(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx := &memTx{state: r.state.clone()}
	return fn(ctx, tx)
}

type memTx struct {
	state memState
}

func paginate[T any](xs []T, p Page) []T {
	if p.Offset > 0 {
		if p.Offset >= len(xs) {
			return []T{}
		}
		xs = xs[p.Offset:]
	}
	if p.Limit > 0 && len(xs) > p.Limit {
		xs = xs[:p.Limit]
	}
	return xs
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// ===== equipment =====

func (tx *memTx) InsertEquipment(_ context.Context, e *Equipment) error {
	e.ID = tx.state.nextEquipmentID
	tx.state.nextEquipmentID++
	tx.state.equipment[e.ID] = *e
	return nil
}

func (tx *memTx) GetEquipment(_ context.Context, id int64) (*Equipment, error) {
	e, ok := tx.state.equipment[id]
	if !ok {
		return nil, ErrNotFound("equipment not found")
	}
	return &e, nil
}

func (tx *memTx) LockEquipment(ctx context.Context, id int64) (*Equipment, error) {
	return tx.GetEquipment(ctx, id)
}

func (tx *memTx) UpdateEquipmentInfo(_ context.Context, e *Equipment) error {
	cur, ok := tx.state.equipment[e.ID]
	if !ok {
		return ErrNotFound("equipment not found")
	}
	qty := cur.Quantity
	cur = *e
	cur.Quantity = qty
	tx.state.equipment[e.ID] = cur
	return nil
}

func (tx *memTx) SetQuantity(_ context.Context, id int64, before, after int) error {
	e, ok := tx.state.equipment[id]
	if !ok {
		return ErrNotFound("equipment not found")
	}
	if e.Quantity != before {
		return ErrConcurrentUpdate
	}
	if after < 0 {
		return ErrInternal("negative quantity")
	}
	e.Quantity = after
	tx.state.equipment[id] = e
	return nil
}

func (tx *memTx) DeleteEquipment(_ context.Context, id int64) error {
	if _, ok := tx.state.equipment[id]; !ok {
		return ErrNotFound("equipment not found")
	}
	delete(tx.state.equipment, id)
	return nil
}

func (tx *memTx) ListEquipment(_ context.Context, f EquipmentFilter) ([]Equipment, error) {
	out := []Equipment{}
	for _, e := range tx.state.equipment {
		if f.Query != "" && !containsFold(e.Name, f.Query) && !containsFold(e.Category, f.Query) {
			continue
		}
		if f.Category != "" && !strings.EqualFold(e.Category, f.Category) {
			continue
		}
		if f.StockBelow > 0 && e.Quantity >= f.StockBelow {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, f.Page), nil
}

// ===== movements =====

func (tx *memTx) InsertMovement(_ context.Context, m *StockMovement) error {
	tx.state.movements[m.ID] = *m
	return nil
}

func (tx *memTx) ListMovements(_ context.Context, f MovementFilter) ([]StockMovement, error) {
	out := []StockMovement{}
	for _, m := range tx.state.movements {
		if f.EquipmentID != nil && m.EquipmentID != *f.EquipmentID {
			continue
		}
		if f.From != nil && m.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !m.CreatedAt.Before(*f.To) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Page), nil
}

// ===== requests =====

func (tx *memTx) InsertRequest(_ context.Context, r *Request) error {
	if _, ok := tx.state.requests[r.ID]; ok {
		return ErrConflict("duplicate request id")
	}
	tx.state.requests[r.ID] = *r
	return nil
}

func (tx *memTx) GetRequest(_ context.Context, id string) (*Request, error) {
	r, ok := tx.state.requests[id]
	if !ok {
		return nil, ErrNotFound("request not found")
	}
	return &r, nil
}

func (tx *memTx) LockRequest(ctx context.Context, id string) (*Request, error) {
	return tx.GetRequest(ctx, id)
}

func (tx *memTx) UpdateRequestDecision(_ context.Context, r *Request) error {
	cur, ok := tx.state.requests[r.ID]
	if !ok {
		return ErrNotFound("request not found")
	}
	if cur.Status != StatusPending {
		return ErrConcurrentUpdate
	}
	tx.state.requests[r.ID] = *r
	return nil
}

func (tx *memTx) ListRequests(_ context.Context, f RequestFilter) ([]Request, error) {
	out := []Request{}
	for _, r := range tx.state.requests {
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.RequesterID != "" && r.RequesterID != f.RequesterID {
			continue
		}
		if f.EquipmentID != nil && r.EquipmentID != *f.EquipmentID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.After(out[j].RequestedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Page), nil
}

// ===== loans =====

func (tx *memTx) InsertLoan(_ context.Context, l *Loan) error {
	if l.RequestID != nil {
		for _, cur := range tx.state.loans {
			if cur.RequestID != nil && *cur.RequestID == *l.RequestID {
				return ErrConflict("loan already opened for request")
			}
		}
	}
	tx.state.loans[l.ID] = *l
	return nil
}

func (tx *memTx) GetLoan(_ context.Context, id string) (*Loan, error) {
	l, ok := tx.state.loans[id]
	if !ok {
		return nil, ErrNotFound("loan not found")
	}
	return &l, nil
}

func (tx *memTx) LockLoan(ctx context.Context, id string) (*Loan, error) {
	return tx.GetLoan(ctx, id)
}

func (tx *memTx) UpdateLoan(_ context.Context, l *Loan) error {
	if _, ok := tx.state.loans[l.ID]; !ok {
		return ErrNotFound("loan not found")
	}
	tx.state.loans[l.ID] = *l
	return nil
}

func (tx *memTx) CountOpenLoans(_ context.Context, equipmentID int64) (int, error) {
	n := 0
	for _, l := range tx.state.loans {
		if l.EquipmentID == equipmentID && l.Open() {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) ListLoans(_ context.Context, f LoanFilter) ([]Loan, error) {
	out := []Loan{}
	for _, l := range tx.state.loans {
		if f.UserID != "" && l.UserID != f.UserID {
			continue
		}
		if f.EquipmentID != nil && l.EquipmentID != *f.EquipmentID {
			continue
		}
		if f.EquipmentName != "" && !containsFold(l.EquipmentName, f.EquipmentName) {
			continue
		}
		if f.OpenOnly && !l.Open() {
			continue
		}
		if f.OverdueOn != nil && !l.Overdue(*f.OverdueOn) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BorrowedOn.Equal(out[j].BorrowedOn) {
			return out[i].BorrowedOn.After(out[j].BorrowedOn)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Page), nil
}

// ===== alerts =====

func (tx *memTx) InsertAlert(_ context.Context, a *Alert) error {
	tx.state.alerts[a.ID] = *a
	return nil
}

func (tx *memTx) GetAlert(_ context.Context, id string) (*Alert, error) {
	a, ok := tx.state.alerts[id]
	if !ok {
		return nil, ErrNotFound("alert not found")
	}
	return &a, nil
}

func (tx *memTx) LockAlert(ctx context.Context, id string) (*Alert, error) {
	return tx.GetAlert(ctx, id)
}

func (tx *memTx) FindActiveAlert(_ context.Context, equipmentID int64, kind AlertKind) (*Alert, error) {
	for _, a := range tx.state.alerts {
		if a.EquipmentID == equipmentID && a.Kind == kind && a.IsActive {
			return &a, nil
		}
	}
	return nil, nil
}

func (tx *memTx) ResolveAlert(_ context.Context, a *Alert) error {
	cur, ok := tx.state.alerts[a.ID]
	if !ok {
		return ErrNotFound("alert not found")
	}
	if !cur.IsActive {
		return ErrConcurrentUpdate
	}
	tx.state.alerts[a.ID] = *a
	return nil
}

func (tx *memTx) ListAlerts(_ context.Context, f AlertFilter) ([]Alert, error) {
	out := []Alert{}
	for _, a := range tx.state.alerts {
		if f.ActiveOnly && !a.IsActive {
			continue
		}
		if f.EquipmentID != nil && a.EquipmentID != *f.EquipmentID {
			continue
		}
		if f.Kind != nil && a.Kind != *f.Kind {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Page), nil
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Tx         = (*memTx)(nil)
)
