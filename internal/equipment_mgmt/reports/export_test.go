package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"laby-backend/internal/equipment_mgmt/inventory"
	"laby-backend/internal/platform/auth"
)

var (
	staff  = auth.Identity{UserID: "staff01", Role: auth.RoleStaff, IsApproved: true}
	viewer = auth.Identity{UserID: "viewer01", Role: auth.RoleViewer, IsApproved: true}
)

func seed(t *testing.T) *inventory.Service {
	t.Helper()
	ctx := context.Background()
	svc := inventory.NewService(inventory.NewMemoryRepository(), inventory.Config{})
	eq, err := svc.CreateEquipment(ctx, staff, inventory.EquipmentInput{Name: "顕微鏡", Quantity: 3})
	if err != nil {
		t.Fatal(err)
	}
	r, err := svc.SubmitRequest(ctx, viewer, inventory.SubmitInput{EquipmentID: eq.ID, Quantity: 1, Purpose: "実験"})
	if err != nil {
		t.Fatal(err)
	}
	due := svc.Today().AddDate(0, 0, 7)
	if _, err := svc.Decide(ctx, staff, r.ID, inventory.DecideInput{Action: inventory.DecisionApprove, DueDate: &due}); err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestParseEncoding(t *testing.T) {
	tests := map[string]Encoding{"": EncodingUTF8, "UTF-8": EncodingUTF8, "utf8bom": EncodingUTF8BOM, "cp932": EncodingSJIS}
	for in, want := range tests {
		got, err := ParseEncoding(in)
		if err != nil || got != want {
			t.Errorf("ParseEncoding(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseEncoding("latin1"); err == nil {
		t.Error("latin1 should be rejected")
	}
}

func TestWriteLoansShiftJIS(t *testing.T) {
	exp := NewExporter(seed(t))
	var buf bytes.Buffer
	if err := exp.WriteLoans(context.Background(), staff, &buf, EncodingSJIS, inventory.LoanQuery{}); err != nil {
		t.Fatalf("WriteLoans: %v", err)
	}
	if strings.Contains(buf.String(), "顕微鏡") {
		t.Fatal("output still looks like UTF-8")
	}

	decoded := transform.NewReader(&buf, japanese.ShiftJIS.NewDecoder())
	records, err := csv.NewReader(decoded).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(records))
	}
	if records[1][3] != "顕微鏡" || records[1][5] != "実験" || records[1][14] != "0.00" {
		t.Fatalf("row = %v", records[1])
	}
}

func TestWriteMovementsUTF8BOM(t *testing.T) {
	exp := NewExporter(seed(t))
	var buf bytes.Buffer
	if err := exp.WriteMovements(context.Background(), staff, &buf, EncodingUTF8BOM, inventory.MovementFilter{}); err != nil {
		t.Fatalf("WriteMovements: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatal("missing BOM")
	}
	records, err := csv.NewReader(bytes.NewReader(buf.Bytes()[3:])).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	// initial_stock と loan_opened
	if len(records) != 3 {
		t.Fatalf("rows = %d", len(records))
	}
}

func TestReportsRequireStaff(t *testing.T) {
	exp := NewExporter(seed(t))
	var buf bytes.Buffer
	err := exp.WriteLoans(context.Background(), viewer, &buf, EncodingUTF8, inventory.LoanQuery{})
	if inventory.CodeOf(err) != inventory.CodeForbidden {
		t.Fatalf("viewer loans: %v", err)
	}
	if err := exp.WriteOverdue(context.Background(), viewer, &buf, EncodingUTF8); inventory.CodeOf(err) != inventory.CodeForbidden {
		t.Fatalf("viewer overdue: %v", err)
	}
}

func TestHandlerServesCSV(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api/v1", func(c *gin.Context) {
		c.Set(auth.CtxIdentityKey, staff)
		c.Next()
	})
	RegisterRoutes(g, NewExporter(seed(t)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/loans.csv?encoding=sjis", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv; charset=Shift_JIS" {
		t.Fatalf("content-type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, `attachment; filename="loans_`) {
		t.Fatalf("content-disposition = %q", cd)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/overdue.csv?encoding=ebcdic", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad encoding: %d", w.Code)
	}
}

func TestWriteLoansEscapesFormulas(t *testing.T) {
	ctx := context.Background()
	svc := inventory.NewService(inventory.NewMemoryRepository(), inventory.Config{})
	eq, err := svc.CreateEquipment(ctx, staff, inventory.EquipmentInput{Name: "Pipette", Quantity: 2})
	if err != nil {
		t.Fatal(err)
	}
	r, err := svc.SubmitRequest(ctx, viewer, inventory.SubmitInput{EquipmentID: eq.ID, Quantity: 1, Purpose: `=HYPERLINK("http://x","y")`})
	if err != nil {
		t.Fatal(err)
	}
	due := svc.Today().AddDate(0, 0, 3)
	if _, err := svc.Decide(ctx, staff, r.ID, inventory.DecideInput{Action: inventory.DecisionApprove, DueDate: &due}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := NewExporter(svc).WriteLoans(ctx, staff, &buf, EncodingUTF8, inventory.LoanQuery{}); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if got := rows[1][5]; got != `'=HYPERLINK("http://x","y")` {
		t.Fatalf("purpose cell = %q", got)
	}
}

func TestSafeCell(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"実験", "実験"},
		{"+1", "'+1"},
		{"-2", "'-2"},
		{"@SUM(A)", "'@SUM(A)"},
		{"a=b", "a=b"},
	}
	for _, tc := range tests {
		if got := safeCell(tc.in); got != tc.want {
			t.Errorf("safeCell(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
