package suppliers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"laby-backend/internal/platform/auth"
)

var (
	staff  = auth.Identity{UserID: "staff01", Role: auth.RoleStaff, IsApproved: true}
	viewer = auth.Identity{UserID: "viewer01", Role: auth.RoleViewer, IsApproved: true}
)

func TestCreateValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateSupplierRequest
		who  auth.Identity
		want Code
	}{
		{"ok", CreateSupplierRequest{Name: "Acme Labs", Email: "sales@acme.example", Pincode: "560001"}, staff, ""},
		{"blank name", CreateSupplierRequest{Name: "  "}, staff, CodeInvalidArgument},
		{"bad email", CreateSupplierRequest{Name: "X", Email: "not-an-email"}, staff, CodeInvalidArgument},
		{"long contact", CreateSupplierRequest{Name: "X", ContactNo: strings.Repeat("9", 16)}, staff, CodeInvalidArgument},
		{"long pincode", CreateSupplierRequest{Name: "X", Pincode: "12345678901"}, staff, CodeInvalidArgument},
		{"viewer", CreateSupplierRequest{Name: "X"}, viewer, CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.who, tt.in)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			api, ok := err.(*APIError)
			if !ok || api.Code != tt.want {
				t.Fatalf("want %s, got %v", tt.want, err)
			}
		})
	}
}

func TestUpdateAndDelete(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	sp, err := svc.Create(ctx, staff, CreateSupplierRequest{Name: "Bio Supply", City: "Pune"})
	if err != nil {
		t.Fatal(err)
	}

	city := " Mumbai "
	got, err := svc.Update(ctx, staff, sp.ID, UpdateSupplierRequest{City: &city})
	if err != nil || got.City != "Mumbai" || got.Name != "Bio Supply" {
		t.Fatalf("update: %+v %v", got, err)
	}
	if _, err := svc.Update(ctx, staff, 99, UpdateSupplierRequest{City: &city}); toHTTPStatus(err) != 404 {
		t.Fatalf("update missing: %v", err)
	}

	if err := svc.Delete(ctx, staff, sp.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, staff, sp.ID); toHTTPStatus(err) != 404 {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := svc.Get(ctx, viewer, sp.ID); toHTTPStatus(err) != 404 {
		t.Fatalf("get deleted: %v", err)
	}
}

func TestHandlerList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(NewMemoryStore())
	for _, n := range []string{"Zeta Glass", "Alpha Optics"} {
		if _, err := svc.Create(context.Background(), staff, CreateSupplierRequest{Name: n}); err != nil {
			t.Fatal(err)
		}
	}

	r := gin.New()
	g := r.Group("/api/v1", func(c *gin.Context) {
		c.Set(auth.CtxIdentityKey, viewer)
		c.Next()
	})
	RegisterRoutes(g, svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/suppliers", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	body := w.Body.String()
	if strings.Index(body, "Alpha Optics") > strings.Index(body, "Zeta Glass") {
		t.Fatalf("unexpected order: %s", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/suppliers/1", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("viewer delete: %d", w.Code)
	}
}

func TestMemoryStorePaging(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	for _, n := range []string{"A", "B", "C"} {
		if err := st.Insert(ctx, &Supplier{Name: n}); err != nil {
			t.Fatal(err)
		}
	}
	tests := []struct {
		page Page
		want int
	}{
		{Page{}, 3},
		{Page{Offset: 2}, 1},
		{Page{Offset: -1}, 3},
		{Page{Limit: 2, Offset: 2}, 1},
		{Page{Offset: 5}, 0},
	}
	for _, tc := range tests {
		got, err := st.List(ctx, "", tc.page)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != tc.want {
			t.Errorf("List(%+v) = %d rows, want %d", tc.page, len(got), tc.want)
		}
	}
}
