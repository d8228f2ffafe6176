package inventory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"laby-backend/internal/platform/auth"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

var (
	admin  = auth.Identity{UserID: "admin01", Role: auth.RoleAdmin, IsApproved: true}
	staff  = auth.Identity{UserID: "staff01", Role: auth.RoleStaff, IsApproved: true}
	viewer = auth.Identity{UserID: "viewer01", Role: auth.RoleViewer, IsApproved: true}
	alice  = auth.Identity{UserID: "alice", Role: auth.RoleViewer, IsApproved: true}
)

func newTestService(t *testing.T) (*Service, *MemoryRepository, *fixedClock) {
	t.Helper()
	repo := NewMemoryRepository()
	svc := NewService(repo, Config{LowStockThreshold: 2})
	clk := &fixedClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	svc.clock = clk
	return svc, repo, clk
}

func mustCreate(t *testing.T, svc *Service, name string, qty int) *Equipment {
	t.Helper()
	e, err := svc.CreateEquipment(context.Background(), staff, EquipmentInput{Name: name, Category: "Optics", Quantity: qty})
	if err != nil {
		t.Fatalf("CreateEquipment(%s): %v", name, err)
	}
	return e
}

func mustSubmit(t *testing.T, svc *Service, who auth.Identity, eqID int64, qty int) *Request {
	t.Helper()
	r, err := svc.SubmitRequest(context.Background(), who, SubmitInput{EquipmentID: eqID, Quantity: qty, Purpose: "lab"})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	return r
}

func dueIn(svc *Service, days int) *time.Time {
	d := svc.Today().AddDate(0, 0, days)
	return &d
}

func mustApprove(t *testing.T, svc *Service, reqID string) *DecisionResult {
	t.Helper()
	res, err := svc.Decide(context.Background(), staff, reqID, DecideInput{Action: DecisionApprove, DueDate: dueIn(svc, 7)})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return res
}

func quantityOf(t *testing.T, svc *Service, id int64) int {
	t.Helper()
	e, err := svc.GetEquipment(context.Background(), viewer, id)
	if err != nil {
		t.Fatalf("GetEquipment: %v", err)
	}
	return e.Quantity
}

func movementsOf(t *testing.T, svc *Service, id int64) []StockMovement {
	t.Helper()
	ms, err := svc.ListMovements(context.Background(), staff, MovementFilter{EquipmentID: &id})
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	return ms
}

func activeAlerts(t *testing.T, svc *Service, id int64, kind AlertKind) []Alert {
	t.Helper()
	as, err := svc.ListAlerts(context.Background(), viewer, AlertFilter{ActiveOnly: true, EquipmentID: &id, Kind: &kind})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	return as
}

func TestCreateEquipmentRecordsInitialStock(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Microscope", 5)
	if e.Quantity != 5 || e.Condition != "Good" {
		t.Fatalf("got qty=%d condition=%q", e.Quantity, e.Condition)
	}
	ms := movementsOf(t, svc, e.ID)
	if len(ms) != 1 || ms[0].Reason != MoveInitialStock || ms[0].Before != 0 || ms[0].After != 5 {
		t.Fatalf("movements = %+v", ms)
	}

	if _, err := svc.CreateEquipment(context.Background(), staff, EquipmentInput{Name: "  "}); CodeOf(err) != CodeInvalidArgument {
		t.Fatalf("blank name: want INVALID_ARGUMENT, got %v", err)
	}
	if _, err := svc.CreateEquipment(context.Background(), staff, EquipmentInput{Name: "x", Quantity: -1}); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("negative qty: want INVALID_QUANTITY, got %v", err)
	}
	if _, err := svc.CreateEquipment(context.Background(), viewer, EquipmentInput{Name: "x"}); CodeOf(err) != CodeForbidden {
		t.Fatalf("viewer create: want FORBIDDEN, got %v", err)
	}
}

func TestSubmitRequestValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Pipette", 3)

	if _, err := svc.SubmitRequest(context.Background(), alice, SubmitInput{EquipmentID: e.ID, Quantity: 0}); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("zero qty: got %v", err)
	}
	if _, err := svc.SubmitRequest(context.Background(), alice, SubmitInput{EquipmentID: 999, Quantity: 1}); CodeOf(err) != CodeNotFound {
		t.Fatalf("unknown equipment: got %v", err)
	}
	// 在庫より多くても依頼自体は受け付ける
	r := mustSubmit(t, svc, alice, e.ID, 10)
	if r.Status != StatusPending || r.RequesterID != "alice" {
		t.Fatalf("got %+v", r)
	}
}

func TestApproveDeductsStockAndOpensLoan(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Centrifuge", 5)
	r := mustSubmit(t, svc, alice, e.ID, 3)

	res := mustApprove(t, svc, r.ID)
	if res.Request.Status != StatusApproved || res.Request.ProcessedBy == nil || *res.Request.ProcessedBy != "staff01" {
		t.Fatalf("request = %+v", res.Request)
	}
	if res.Loan == nil || res.Loan.QuantityUsed != 3 || !res.Loan.Open() || res.Loan.UserID != "alice" {
		t.Fatalf("loan = %+v", res.Loan)
	}
	if res.Loan.EquipmentName != "Centrifuge" || res.Loan.Purpose != "lab" {
		t.Fatalf("loan snapshot = %+v", res.Loan)
	}
	if got := quantityOf(t, svc, e.ID); got != 2 {
		t.Fatalf("quantity = %d, want 2", got)
	}
	ms := movementsOf(t, svc, e.ID)
	if ms[0].Reason != MoveLoanOpened || ms[0].Delta != -3 || ms[0].RefID != res.Loan.ID {
		t.Fatalf("latest movement = %+v", ms[0])
	}

	// 二度目の判定は何も変えない
	_, err := svc.Decide(context.Background(), staff, r.ID, DecideInput{Action: DecisionReject})
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("second decision: want ALREADY_PROCESSED, got %v", err)
	}
	if got := quantityOf(t, svc, e.ID); got != 2 {
		t.Fatalf("quantity after second decision = %d", got)
	}
}

func TestApproveInsufficientStockLeavesStateUnchanged(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Scale", 5)
	r := mustSubmit(t, svc, alice, e.ID, 6)

	_, err := svc.Decide(context.Background(), staff, r.ID, DecideInput{Action: DecisionApprove, DueDate: dueIn(svc, 3)})
	if CodeOf(err) != CodeInsufficientStock {
		t.Fatalf("want INSUFFICIENT_STOCK, got %v", err)
	}
	if got := quantityOf(t, svc, e.ID); got != 5 {
		t.Fatalf("quantity = %d, want 5", got)
	}
	got, err := svc.GetRequest(context.Background(), staff, r.ID)
	if err != nil || got.Status != StatusPending {
		t.Fatalf("request should stay pending: %+v %v", got, err)
	}
	loans, _ := svc.ListLoans(context.Background(), staff, LoanQuery{})
	if len(loans) != 0 {
		t.Fatalf("no loan expected, got %d", len(loans))
	}
	if n := len(movementsOf(t, svc, e.ID)); n != 1 {
		t.Fatalf("movements = %d, want only initial_stock", n)
	}
}

func TestApproveDueDateRules(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Beaker", 5)
	r := mustSubmit(t, svc, alice, e.ID, 1)

	_, err := svc.Decide(context.Background(), staff, r.ID, DecideInput{Action: DecisionApprove})
	if !errors.Is(err, ErrMissingDueDate) {
		t.Fatalf("missing due date: got %v", err)
	}
	_, err = svc.Decide(context.Background(), staff, r.ID, DecideInput{Action: DecisionApprove, DueDate: dueIn(svc, -1)})
	var api *APIError
	if !errors.As(err, &api) || api.Reason != ReasonInvalidDueDate {
		t.Fatalf("past due date: got %v", err)
	}
	// 当日期限は可
	if _, err := svc.Decide(context.Background(), staff, r.ID, DecideInput{Action: DecisionApprove, DueDate: dueIn(svc, 0)}); err != nil {
		t.Fatalf("due today: %v", err)
	}
}

func TestRejectKeepsStock(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Burner", 4)
	r := mustSubmit(t, svc, alice, e.ID, 2)
	note := "not today"

	res, err := svc.Decide(context.Background(), staff, r.ID, DecideInput{Action: DecisionReject, Note: &note})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Request.Status != StatusRejected || res.Loan != nil || *res.Request.Note != note {
		t.Fatalf("got %+v", res)
	}
	if got := quantityOf(t, svc, e.ID); got != 4 {
		t.Fatalf("quantity = %d", got)
	}
}

func TestDecideRequiresApprovedStaff(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Flask", 4)
	r := mustSubmit(t, svc, alice, e.ID, 1)

	pending := auth.Identity{UserID: "newstaff", Role: auth.RoleStaff, IsApproved: false}
	for _, who := range []auth.Identity{viewer, pending} {
		_, err := svc.Decide(context.Background(), who, r.ID, DecideInput{Action: DecisionApprove, DueDate: dueIn(svc, 1)})
		if CodeOf(err) != CodeForbidden {
			t.Fatalf("%s: want FORBIDDEN, got %v", who.UserID, err)
		}
	}
	if got := quantityOf(t, svc, e.ID); got != 4 {
		t.Fatalf("quantity = %d", got)
	}
}

func TestConcurrentApprovalsOnlyOneWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Oscilloscope", 5)
	r := mustSubmit(t, svc, alice, e.ID, 3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Decide(context.Background(), staff, r.ID, DecideInput{Action: DecisionApprove, DueDate: dueIn(svc, 2)})
		}(i)
	}
	wg.Wait()

	ok, conflict := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case CodeOf(err) == CodeConflict:
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("ok=%d conflict=%d", ok, conflict)
	}
	if got := quantityOf(t, svc, e.ID); got != 2 {
		t.Fatalf("quantity = %d, want 2", got)
	}
}

func TestConcurrentApprovalsNeverOversell(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Laser", 5)
	a := mustSubmit(t, svc, alice, e.ID, 3)
	b := mustSubmit(t, svc, viewer, e.ID, 3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = svc.Decide(context.Background(), staff, id, DecideInput{Action: DecisionApprove, DueDate: dueIn(svc, 2)})
		}(i, id)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			if CodeOf(err) != CodeInsufficientStock {
				t.Fatalf("unexpected error: %v", err)
			}
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	if got := quantityOf(t, svc, e.ID); got != 2 {
		t.Fatalf("quantity = %d, want 2", got)
	}
}

func TestCloseLoanReturnsStock(t *testing.T) {
	svc, _, clk := newTestService(t)
	e := mustCreate(t, svc, "Thermometer", 5)
	loan := mustApprove(t, svc, mustSubmit(t, svc, alice, e.ID, 2).ID).Loan

	clk.t = clk.t.AddDate(0, 0, 3)
	res, err := svc.CloseLoan(context.Background(), staff, loan.ID, ReturnInput{PenaltyAmount: decimal.RequireFromString("12.345")})
	if err != nil {
		t.Fatalf("CloseLoan: %v", err)
	}
	if res.Equipment.Quantity != 5 || res.Movement.Reason != MoveLoanReturned || res.Movement.Delta != 2 {
		t.Fatalf("got equipment=%+v movement=%+v", res.Equipment, res.Movement)
	}
	if res.Loan.ReturnedOn == nil || !res.Loan.ReturnedOn.Equal(svc.Today()) || *res.Loan.ReturnedTo != "staff01" {
		t.Fatalf("loan = %+v", res.Loan)
	}
	if got := res.Loan.PenaltyAmount.StringFixed(2); got != "12.35" {
		t.Fatalf("penalty = %s", got)
	}

	_, err = svc.CloseLoan(context.Background(), staff, loan.ID, ReturnInput{})
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("second close: want ALREADY_CLOSED, got %v", err)
	}
	if got := quantityOf(t, svc, e.ID); got != 5 {
		t.Fatalf("quantity after second close = %d", got)
	}
}

func TestCloseLoanDamagedClampsAndRaisesAlert(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Spectrometer", 7)
	loan := mustApprove(t, svc, mustSubmit(t, svc, alice, e.ID, 4).ID).Loan
	if got := quantityOf(t, svc, e.ID); got != 3 {
		t.Fatalf("quantity after approve = %d", got)
	}

	report := "Lens cracked"
	res, err := svc.CloseLoan(context.Background(), staff, loan.ID, ReturnInput{IsDamaged: true, DamageReport: &report})
	if err != nil {
		t.Fatalf("CloseLoan: %v", err)
	}
	if res.Equipment.Quantity != 0 {
		t.Fatalf("quantity = %d, want 0", res.Equipment.Quantity)
	}
	if res.Movement.Delta != -3 || res.Movement.Reason != MoveDamageWriteOff {
		t.Fatalf("movement = %+v", res.Movement)
	}
	if !res.Loan.DamageProcessed || !res.Loan.IsDamaged {
		t.Fatalf("loan = %+v", res.Loan)
	}
	dmg := activeAlerts(t, svc, e.ID, AlertDamage)
	if len(dmg) != 1 || dmg[0].Message != "Damage reported: Lens cracked..." {
		t.Fatalf("damage alerts = %+v", dmg)
	}
	if low := activeAlerts(t, svc, e.ID, AlertLowStock); len(low) != 1 {
		t.Fatalf("low stock alerts = %d, want 1", len(low))
	}

	_, err = svc.CloseLoan(context.Background(), staff, loan.ID, ReturnInput{IsDamaged: true, DamageReport: &report})
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("second close: got %v", err)
	}
	if n := len(activeAlerts(t, svc, e.ID, AlertDamage)); n != 1 {
		t.Fatalf("damage alerts after second close = %d", n)
	}
	if got := quantityOf(t, svc, e.ID); got != 0 {
		t.Fatalf("quantity = %d", got)
	}
}

func TestCloseLoanRejectsNegativePenalty(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Clamp", 5)
	loan := mustApprove(t, svc, mustSubmit(t, svc, alice, e.ID, 1).ID).Loan

	_, err := svc.CloseLoan(context.Background(), staff, loan.ID, ReturnInput{PenaltyAmount: decimal.NewFromInt(-1)})
	var api *APIError
	if !errors.As(err, &api) || api.Reason != ReasonInvalidPenalty {
		t.Fatalf("got %v", err)
	}
}

func TestMarkCollected(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Tripod", 5)
	loan := mustApprove(t, svc, mustSubmit(t, svc, alice, e.ID, 1).ID).Loan

	l, err := svc.MarkCollected(context.Background(), staff, loan.ID, "")
	if err != nil || *l.CollectedBy != "alice" || l.CollectedAt == nil {
		t.Fatalf("got %+v %v", l, err)
	}
	if _, err := svc.MarkCollected(context.Background(), staff, loan.ID, "bob"); !errors.Is(err, ErrAlreadyCollected) {
		t.Fatalf("second collect: got %v", err)
	}
	if _, err := svc.CloseLoan(context.Background(), staff, loan.ID, ReturnInput{}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.MarkCollected(context.Background(), staff, loan.ID, "bob"); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("collect closed loan: got %v", err)
	}
}

func TestLowStockAlertDeduplicated(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Cuvette", 3)

	res := mustApprove(t, svc, mustSubmit(t, svc, alice, e.ID, 2).ID)
	if len(res.Alerts) != 1 || res.Alerts[0].Kind != AlertLowStock || res.Alerts[0].Message != "Low stock: Cuvette has 1 left" {
		t.Fatalf("alerts = %+v", res.Alerts)
	}
	res = mustApprove(t, svc, mustSubmit(t, svc, alice, e.ID, 1).ID)
	if len(res.Alerts) != 0 {
		t.Fatalf("duplicate low stock alert: %+v", res.Alerts)
	}
	if n := len(activeAlerts(t, svc, e.ID, AlertLowStock)); n != 1 {
		t.Fatalf("active low stock alerts = %d", n)
	}
}

func TestResolveRestock(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Probe", 2)
	loan := mustApprove(t, svc, mustSubmit(t, svc, alice, e.ID, 1).ID).Loan
	closed, err := svc.CloseLoan(context.Background(), staff, loan.ID, ReturnInput{IsDamaged: true})
	if err != nil {
		t.Fatalf("CloseLoan: %v", err)
	}
	var dmg Alert
	for _, a := range closed.Alerts {
		if a.Kind == AlertDamage {
			dmg = a
		}
	}
	if dmg.ID == "" || dmg.Message != "Damage reported" {
		t.Fatalf("damage alert = %+v", dmg)
	}

	if _, err := svc.ResolveAlert(context.Background(), staff, dmg.ID, ResolveRestock); CodeOf(err) != CodeForbidden {
		t.Fatalf("staff resolve: want FORBIDDEN, got %v", err)
	}

	res, err := svc.ResolveAlert(context.Background(), admin, dmg.ID, ResolveRestock)
	if err != nil {
		t.Fatalf("ResolveAlert: %v", err)
	}
	if res.Equipment.Quantity != 1 || res.Alert.IsActive || *res.Alert.Resolution != ResolveRestock {
		t.Fatalf("got %+v", res)
	}
	if res.Movement.Reason != MoveAlertRestock || res.Movement.Delta != 1 {
		t.Fatalf("movement = %+v", res.Movement)
	}

	if _, err := svc.ResolveAlert(context.Background(), admin, dmg.ID, ResolveRestock); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second resolve: got %v", err)
	}
	if got := quantityOf(t, svc, e.ID); got != 1 {
		t.Fatalf("quantity = %d", got)
	}
}

func TestResolveDiscard(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Heater", 3)
	loan := mustApprove(t, svc, mustSubmit(t, svc, alice, e.ID, 1).ID).Loan
	pending := mustSubmit(t, svc, viewer, e.ID, 1)

	a, err := svc.ReportMaintenance(context.Background(), staff, e.ID, "thermostat drifts")
	if err != nil {
		t.Fatalf("ReportMaintenance: %v", err)
	}
	if a.Message != "Maintenance required: thermostat drifts" {
		t.Fatalf("message = %q", a.Message)
	}

	_, err = svc.ResolveAlert(context.Background(), admin, a.ID, ResolveDiscard)
	var api *APIError
	if !errors.As(err, &api) || api.Reason != ReasonHasOpenLoans {
		t.Fatalf("discard with open loan: got %v", err)
	}

	if _, err := svc.CloseLoan(context.Background(), staff, loan.ID, ReturnInput{}); err != nil {
		t.Fatalf("CloseLoan: %v", err)
	}
	res, err := svc.ResolveAlert(context.Background(), admin, a.ID, ResolveDiscard)
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	if res.Equipment != nil || res.Movement.Reason != MoveAlertDiscard || res.Movement.After != 0 {
		t.Fatalf("got %+v", res)
	}
	if len(res.RejectedRequests) != 1 || res.RejectedRequests[0] != pending.ID {
		t.Fatalf("rejected = %v", res.RejectedRequests)
	}
	if _, err := svc.GetEquipment(context.Background(), viewer, e.ID); CodeOf(err) != CodeNotFound {
		t.Fatalf("equipment should be gone: %v", err)
	}
	r, _ := svc.GetRequest(context.Background(), staff, pending.ID)
	if r.Status != StatusRejected {
		t.Fatalf("pending request = %+v", r)
	}
}

func TestOverdueLoans(t *testing.T) {
	svc, _, clk := newTestService(t)
	e := mustCreate(t, svc, "Meter", 5)
	late := mustApprove(t, svc, mustSubmit(t, svc, alice, e.ID, 1).ID).Loan
	res, err := svc.Decide(context.Background(), staff, mustSubmit(t, svc, alice, e.ID, 1).ID,
		DecideInput{Action: DecisionApprove, DueDate: dueIn(svc, 30)})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	onTime := res.Loan

	clk.t = clk.t.AddDate(0, 0, 8)
	got, err := svc.OverdueLoans(context.Background(), staff)
	if err != nil {
		t.Fatalf("OverdueLoans: %v", err)
	}
	if len(got) != 1 || got[0].ID != late.ID {
		t.Fatalf("overdue = %+v", got)
	}
	if onTime.Overdue(svc.Today()) {
		t.Fatal("on-time loan reported overdue")
	}
	if _, err := svc.OverdueLoans(context.Background(), alice); CodeOf(err) != CodeForbidden {
		t.Fatalf("viewer overdue: got %v", err)
	}

	// 返却済みは対象外
	if _, err := svc.CloseLoan(context.Background(), staff, late.ID, ReturnInput{}); err != nil {
		t.Fatalf("CloseLoan: %v", err)
	}
	got, _ = svc.OverdueLoans(context.Background(), staff)
	if len(got) != 0 {
		t.Fatalf("overdue after return = %d", len(got))
	}
}

func TestViewersOnlySeeOwnRecords(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Lamp", 5)
	mine := mustSubmit(t, svc, alice, e.ID, 1)
	theirs := mustSubmit(t, svc, viewer, e.ID, 1)
	loan := mustApprove(t, svc, theirs.ID).Loan

	reqs, err := svc.ListRequests(context.Background(), alice, RequestFilter{})
	if err != nil || len(reqs) != 1 || reqs[0].ID != mine.ID {
		t.Fatalf("alice requests = %+v %v", reqs, err)
	}
	if _, err := svc.GetRequest(context.Background(), alice, theirs.ID); CodeOf(err) != CodeNotFound {
		t.Fatalf("other's request: got %v", err)
	}
	if _, err := svc.GetLoan(context.Background(), alice, loan.ID); CodeOf(err) != CodeNotFound {
		t.Fatalf("other's loan: got %v", err)
	}
	if _, err := svc.OpenLoansForUser(context.Background(), alice, viewer.UserID); CodeOf(err) != CodeForbidden {
		t.Fatalf("other's open loans: got %v", err)
	}
	all, _ := svc.ListRequests(context.Background(), staff, RequestFilter{})
	if len(all) != 2 {
		t.Fatalf("staff sees %d requests", len(all))
	}
}

func TestListEquipmentFilters(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "Microscope", 5)
	mustCreate(t, svc, "Micro pipette", 1)
	mustCreate(t, svc, "Glove box", 0)

	got, err := svc.ListEquipment(context.Background(), viewer, ListEquipmentQuery{Query: "micro"})
	if err != nil || len(got) != 2 {
		t.Fatalf("query: %+v %v", got, err)
	}
	low, _ := svc.ListEquipment(context.Background(), viewer, ListEquipmentQuery{LowStockOnly: true})
	if len(low) != 2 {
		t.Fatalf("low stock = %d, want 2", len(low))
	}
	page, _ := svc.ListEquipment(context.Background(), viewer, ListEquipmentQuery{Page: Page{Limit: 1, Offset: 1}})
	if len(page) != 1 || page[0].Name != "Micro pipette" {
		t.Fatalf("page = %+v", page)
	}
}

func TestUpdateEquipmentKeepsQuantity(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := mustCreate(t, svc, "Hood", 4)
	name := "Fume hood"
	got, err := svc.UpdateEquipment(context.Background(), staff, e.ID, EquipmentPatch{Name: &name})
	if err != nil || got.Name != name || got.Quantity != 4 {
		t.Fatalf("got %+v %v", got, err)
	}
	long := strings.Repeat("x", 101)
	if _, err := svc.UpdateEquipment(context.Background(), staff, e.ID, EquipmentPatch{Name: &long}); CodeOf(err) != CodeInvalidArgument {
		t.Fatalf("long name: got %v", err)
	}
}

func TestDamageMessageTruncates(t *testing.T) {
	long := strings.Repeat("あ", 120)
	got := damageMessage(&long)
	want := "Damage reported: " + strings.Repeat("あ", 100) + "..."
	if got != want {
		t.Fatalf("got %q", got)
	}
	blank := "   "
	if damageMessage(&blank) != "Damage reported" || damageMessage(nil) != "Damage reported" {
		t.Fatal("empty report should give bare message")
	}
}

func TestTodayUsesConfiguredLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skip("tzdata not available")
	}
	svc := NewService(NewMemoryRepository(), Config{Location: tokyo})
	svc.clock = &fixedClock{t: time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)}
	if got := svc.Today().Format(DateLayout); got != "2025-03-11" {
		t.Fatalf("today = %s", got)
	}
}
