package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "laby-backend/docs"
	"laby-backend/internal/equipment_mgmt/inventory"
	"laby-backend/internal/equipment_mgmt/reports"
	"laby-backend/internal/equipment_mgmt/suppliers"
	"laby-backend/internal/platform/auth"
	"laby-backend/internal/platform/db"
	"laby-backend/internal/platform/idempotency"
	"laby-backend/internal/platform/metrics"
	"laby-backend/internal/platform/tracing"
)

type stores struct {
	conn      *sql.DB // memory の時は nil
	inventory inventory.Repository
	accounts  auth.AccountStore
	suppliers suppliers.Store
}

func openStores(cfg *db.Config) (*stores, error) {
	if cfg.Storage.Driver == "memory" {
		log.Printf("[WARN] storage.driver=memory: data is lost on restart")
		return &stores{
			inventory: inventory.NewMemoryRepository(),
			accounts:  auth.NewMemoryStore(),
			suppliers: suppliers.NewMemoryStore(),
		}, nil
	}
	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)
	return &stores{
		conn:      conn,
		inventory: inventory.NewMySQLRepository(conn),
		accounts:  auth.NewStore(conn),
		suppliers: suppliers.NewSQLStore(conn),
	}, nil
}

// idempotencyStore: redis に繋がらなければメモリにフォールバック
func idempotencyStore(ctx context.Context, cfg db.RedisConfig) idempotency.Store {
	if !cfg.Enabled {
		return idempotency.NewMemoryStore()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Printf("[WARN] redis %s unreachable, idempotency keys kept in memory: %v", cfg.Addr, err)
		_ = rdb.Close()
		return idempotency.NewMemoryStore()
	}
	log.Printf("[INFO] idempotency store: redis %s", cfg.Addr)
	return idempotency.NewRedisStore(rdb)
}

// requestID: X-Request-ID を引き継ぐ。無ければ採番
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func main() {
	configPath := flag.String("config", db.DefaultConfigPath, "path to config.yaml")
	flag.Parse()

	// 設定読み込み
	cfg, err := db.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[ERROR] config: %v", err)
	}
	log.Printf("[INFO] mode:%s storage:%s\n", cfg.Mode, cfg.Storage.Driver)

	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.ServiceName, cfg.Mode, cfg.Tracing.Endpoint)
	if err != nil {
		log.Printf("[WARN] tracing disabled: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	st, err := openStores(cfg)
	if err != nil {
		log.Fatalf("[ERROR] storage: %v", err)
	}
	if st.conn != nil {
		defer st.conn.Close()
	}

	authSvc := auth.NewService(st.accounts, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	invSvc := inventory.NewService(st.inventory, inventory.Config{
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
		Location:          cfg.Location(),
	})
	supSvc := suppliers.NewService(st.suppliers)
	exporter := reports.NewExporter(invSvc)

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), requestID(), metrics.GinMiddleware())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-Request-ID"},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Idempotent-Replayed", "X-Request-ID"},
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス / メトリクス / API ドキュメント
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// /api/v1
	api := r.Group("/api/v1")
	auth.RegisterPublicRoutes(api, authSvc)

	secured := api.Group("")
	secured.Use(auth.RequireAuth(authSvc.Secret(), st.accounts))
	secured.Use(idempotency.Middleware(idempotencyStore(ctx, cfg.Redis), cfg.Idempotency.TTL))
	auth.RegisterRoutes(secured, authSvc)
	inventory.RegisterRoutes(secured, invSvc)
	suppliers.RegisterRoutes(secured, supSvc)
	reports.RegisterRoutes(secured, exporter)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "route not found"}})
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           tracing.WrapHandler(r, "laby-backend"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// TLS設定（証明書が無ければ平文。開発用）
	var certFile, keyFile string
	if cfg.Certificate.Cert != "" && cfg.Certificate.Key != "" {
		certFile = fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Cert)
		keyFile = fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Key)
	}

	go func() {
		var err error
		if certFile != "" {
			log.Printf("[INFO] listening on https://%s", cfg.Server.Addr)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Printf("[WARN] no certificate configured, listening on http://%s", cfg.Server.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("[INFO] shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Printf("[ERROR] shutdown: %v", err)
	}
	if err := shutdownTracing(sctx); err != nil {
		log.Printf("[WARN] tracing shutdown: %v", err)
	}
}
