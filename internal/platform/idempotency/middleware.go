package idempotency

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"laby-backend/internal/platform/auth"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
	maxKeyLen      = 128
	finishTimeout  = 3 * time.Second
)

type bodyWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Middleware: Idempotency-Key 付きの更新系リクエストを user+method+path+key 単位で1回だけ処理する。
// RequireAuth の後ろに置くこと
func Middleware(store Store, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderKey))
		if key == "" || !mutating(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxKeyLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": "INVALID_ARGUMENT", "message": "Idempotency-Key too long"},
			})
			return
		}

		storeKey := "idem:" + auth.IdentityFrom(c).UserID + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + key
		ctx := c.Request.Context()

		rec, err := store.Reserve(ctx, storeKey, ttl)
		switch {
		case errors.Is(err, ErrInFlight):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": gin.H{"code": "CONFLICT", "message": err.Error()},
			})
			return
		case err != nil:
			// ストア障害時は冪等性なしで通す
			log.Printf("[WARN] idempotency store unavailable: %v", err)
			c.Next()
			return
		case rec != nil:
			c.Header(HeaderReplayed, "true")
			c.Data(rec.Status, rec.ContentType, rec.Body)
			c.Abort()
			return
		}

		// 後始末はクライアント切断の影響を受けないコンテキストで行う
		finish := func(fn func(ctx context.Context) error, what string) {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
			defer cancel()
			if err := fn(fctx); err != nil {
				log.Printf("[WARN] idempotency %s failed: %v", what, err)
			}
		}

		done := false
		defer func() {
			// panic 時も予約を残さない
			if !done {
				finish(func(ctx context.Context) error { return store.Release(ctx, storeKey) }, "release")
			}
		}()

		bw := &bodyWriter{ResponseWriter: c.Writer}
		c.Writer = bw
		c.Next()

		status := bw.Status()
		if status >= http.StatusInternalServerError {
			// 5xx は再送で成功しうるので控えない
			return
		}
		done = true
		out := Record{Status: status, ContentType: bw.Header().Get("Content-Type"), Body: bw.buf.Bytes()}
		finish(func(ctx context.Context) error { return store.Complete(ctx, storeKey, out, ttl) }, "complete")
	}
}
