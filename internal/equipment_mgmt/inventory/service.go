package inventory

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"laby-backend/internal/platform/auth"
)

// ===== インターフェース群 =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

type IDGen interface {
	New(t time.Time) string
}

// ulidGen: 同一ミリ秒内でも単調増加するよう entropy を共有する
type ulidGen struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newULIDGen() *ulidGen {
	return &ulidGen{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ulidGen) New(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}

// ===== Service本体 =====

type Config struct {
	LowStockThreshold int
	Location          *time.Location // 「今日」の判定に使うタイムゾーン
}

type Service struct {
	repo      Repository
	clock     Clock
	id        IDGen
	threshold int
	loc       *time.Location
	tracer    trace.Tracer
}

func NewService(repo Repository, cfg Config) *Service {
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = DefaultLowStockThreshold
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		repo:      repo,
		clock:     realClock{},
		id:        newULIDGen(),
		threshold: cfg.LowStockThreshold,
		loc:       cfg.Location,
		tracer:    otel.Tracer("laby-backend/inventory"),
	}
}

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

// today: 設定タイムゾーンでの日付を UTC 0時で表したもの
func (s *Service) today() time.Time {
	return truncateDay(s.clock.Now(), s.loc)
}

func truncateDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate: "2006-01-02" 形式の日付を UTC 0時で返す
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, ErrInvalid("invalid date format, expected YYYY-MM-DD")
	}
	return t, nil
}

func authorize(actor auth.Identity, c auth.Capability) error {
	if d := actor.Authorize(c); !d.Allowed {
		return ErrForbidden(d.Reason)
	}
	return nil
}

func (s *Service) Today() time.Time { return s.today() }

func (s *Service) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "inventory."+name)
}

// effects: コミット後にだけ発火させる副作用（メトリクス・ログ）
type effects struct {
	movements []StockMovement
	alerts    []Alert
}

func (e *effects) addMovement(m *StockMovement) {
	e.movements = append(e.movements, *m)
}

func (e *effects) addAlert(a *Alert) {
	e.alerts = append(e.alerts, *a)
}

// reset: Tx がリトライされた時に前回分を捨てる
func (e *effects) reset() {
	e.movements = e.movements[:0]
	e.alerts = e.alerts[:0]
}
