package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"laby-backend/internal/platform/auth"
)

func newRouter(store Store, calls *int, status int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(auth.CtxIdentityKey, auth.Identity{UserID: c.GetHeader("X-User"), Role: auth.RoleViewer, IsApproved: true})
		c.Next()
	})
	r.Use(Middleware(store, time.Hour))
	r.POST("/requests", func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"n": *calls})
	})
	return r
}

func do(r http.Handler, user, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/requests", strings.NewReader("{}"))
	req.Header.Set("X-User", user)
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReplaySameKey(t *testing.T) {
	calls := 0
	r := newRouter(NewMemoryStore(), &calls, http.StatusCreated)

	first := do(r, "alice", "k1")
	second := do(r, "alice", "k1")

	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: %d %q vs %q", second.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get(HeaderReplayed) != "true" {
		t.Fatalf("replayed response should be marked")
	}
}

func TestKeyScopedPerUser(t *testing.T) {
	calls := 0
	r := newRouter(NewMemoryStore(), &calls, http.StatusCreated)

	do(r, "alice", "k1")
	do(r, "bob", "k1")
	do(r, "alice", "")
	do(r, "alice", "")

	if calls != 4 {
		t.Fatalf("handler ran %d times, want 4", calls)
	}
}

func TestServerErrorNotStored(t *testing.T) {
	calls := 0
	r := newRouter(NewMemoryStore(), &calls, http.StatusInternalServerError)

	do(r, "alice", "k1")
	do(r, "alice", "k1")
	if calls != 2 {
		t.Fatalf("5xx should be retried, handler ran %d times", calls)
	}
}

func TestInFlightConflict(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Reserve(t.Context(), "idem:alice:POST:/requests:k1", time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	calls := 0
	r := newRouter(store, &calls, http.StatusCreated)
	if w := do(r, "alice", "k1"); w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if calls != 0 {
		t.Fatalf("handler should not run while key is in flight")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ctx := t.Context()
	if _, err := store.Reserve(ctx, "k", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := store.Complete(ctx, "k", Record{Status: 201}, time.Minute); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	rec, err := store.Reserve(ctx, "k", time.Minute)
	if err != nil || rec != nil {
		t.Fatalf("expired key should be reservable again: rec=%v err=%v", rec, err)
	}
}

func TestMemoryStoreSweepsExpiredKeys(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ctx := t.Context()
	for _, k := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, k, time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Reserve(ctx, "d", time.Minute); err != nil {
		t.Fatal(err)
	}
	if n := len(store.m); n != 1 {
		t.Fatalf("entries after sweep = %d, want 1", n)
	}
}

// ctxStore: Redis と同じくキャンセル済みコンテキストでは失敗する
type ctxStore struct{ *MemoryStore }

func (s ctxStore) Reserve(ctx context.Context, key string, ttl time.Duration) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.Reserve(ctx, key, ttl)
}

func (s ctxStore) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Complete(ctx, key, rec, ttl)
}

func (s ctxStore) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Release(ctx, key)
}

func TestClientDisconnectStillStoresResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := 0
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(auth.CtxIdentityKey, auth.Identity{UserID: "alice", Role: auth.RoleViewer, IsApproved: true})
		c.Next()
	})
	r.Use(Middleware(ctxStore{NewMemoryStore()}, time.Hour))

	reqCtx, cancel := context.WithCancel(context.Background())
	r.POST("/requests", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"n": calls})
		cancel() // コミット後にクライアントが切断
	})

	req := httptest.NewRequest(http.MethodPost, "/requests", strings.NewReader("{}")).WithContext(reqCtx)
	req.Header.Set(HeaderKey, "k1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	w := do(r, "alice", "k1")
	if w.Code != http.StatusCreated || w.Header().Get(HeaderReplayed) != "true" {
		t.Fatalf("retry: status = %d body = %s, want replayed 201", w.Code, w.Body)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func TestPanicReleasesKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := 0
	r := gin.New()
	r.Use(gin.Recovery(), func(c *gin.Context) {
		c.Set(auth.CtxIdentityKey, auth.Identity{UserID: "alice", Role: auth.RoleViewer, IsApproved: true})
		c.Next()
	})
	r.Use(Middleware(NewMemoryStore(), time.Hour))
	r.POST("/requests", func(c *gin.Context) {
		calls++
		panic("boom")
	})

	do(r, "alice", "k1")
	if w := do(r, "alice", "k1"); w.Code == http.StatusConflict {
		t.Fatalf("key still reserved after panic")
	}
	if calls != 2 {
		t.Fatalf("handler ran %d times, want 2", calls)
	}
}
