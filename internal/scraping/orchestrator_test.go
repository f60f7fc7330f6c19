package scraping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"seatwatch/internal/store"
)

type fakeAdapter struct {
	listings []Listing
	err      error
	calls    int
}

func (f *fakeAdapter) Scrape(ctx context.Context, criteria Criteria) (Response, error) {
	f.calls++
	if f.err != nil {
		return Response{}, f.err
	}
	return Response{Listings: f.listings, UserAgent: "test-agent"}, nil
}

func price(v string) *decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return &d
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestOrchestrator(kv store.KV) *Orchestrator {
	return NewOrchestrator(kv, time.Second, noopLogger())
}

func TestScrapeAllPlatformsPartialFailure(t *testing.T) {
	o := newTestOrchestrator(store.NewMemory())
	o.Register("alpha", &fakeAdapter{listings: []Listing{
		{Price: price("50")},
		{Price: price("60")},
	}}, PlatformOptions{Enabled: true})
	o.Register("beta", &fakeAdapter{err: errors.New("boom")}, PlatformOptions{Enabled: true})

	report := o.ScrapeAllPlatforms(context.Background(), Criteria{"event": "concert"})

	if report.Summary.PlatformsAttempted != 2 {
		t.Fatalf("应尝试 2 个平台, 实际 %d", report.Summary.PlatformsAttempted)
	}
	if report.Summary.PlatformsSucceeded != 1 || report.Summary.PlatformsFailed != 1 {
		t.Fatalf("成功/失败计数不正确: %+v", report.Summary)
	}
	if report.Summary.TotalListings != 2 {
		t.Fatalf("总票数应为 2, 实际 %d", report.Summary.TotalListings)
	}
	if report.Results["alpha"].Status != "success" {
		t.Fatalf("alpha 应成功: %+v", report.Results["alpha"])
	}
	if report.Results["beta"].Status != "failed" {
		t.Fatalf("beta 应失败: %+v", report.Results["beta"])
	}
	if len(report.Errors) != 1 || report.Errors[0].Platform != "beta" {
		t.Fatalf("错误列表不正确: %#v", report.Errors)
	}
}

func TestScrapeAllPlatformsSkipsDisabled(t *testing.T) {
	disabled := &fakeAdapter{}
	o := newTestOrchestrator(store.NewMemory())
	o.Register("alpha", &fakeAdapter{}, PlatformOptions{Enabled: true})
	o.Register("beta", disabled, PlatformOptions{Enabled: false})

	report := o.ScrapeAllPlatforms(context.Background(), nil)

	if report.Summary.PlatformsAttempted != 1 {
		t.Fatalf("只应尝试启用的平台: %+v", report.Summary)
	}
	if disabled.calls != 0 {
		t.Fatal("禁用平台不应被调用")
	}
}

func TestScrapePlatformUnknown(t *testing.T) {
	o := newTestOrchestrator(store.NewMemory())
	o.Register("alpha", &fakeAdapter{}, PlatformOptions{Enabled: false})

	if _, err := o.ScrapePlatform(context.Background(), "missing", nil); !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("未注册平台应返回 ErrUnknownPlatform: %v", err)
	}
	if _, err := o.ScrapePlatform(context.Background(), "alpha", nil); !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("禁用平台应返回 ErrUnknownPlatform: %v", err)
	}
}

func TestAdapterTimeoutIsOrdinaryFailure(t *testing.T) {
	fast := &fakeAdapter{}
	o := NewOrchestrator(store.NewMemory(), 20*time.Millisecond, noopLogger())
	o.Register("slow", adapterFunc(func(ctx context.Context, _ Criteria) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}), PlatformOptions{Enabled: true})
	o.Register("fast", fast, PlatformOptions{Enabled: true})

	report := o.ScrapeAllPlatforms(context.Background(), nil)

	if report.Results["slow"].Status != "failed" {
		t.Fatalf("超时平台应记为失败: %+v", report.Results["slow"])
	}
	if report.Results["fast"].Status != "success" {
		t.Fatalf("超时不应影响其他平台: %+v", report.Results["fast"])
	}
}

type adapterFunc func(ctx context.Context, criteria Criteria) (Response, error)

func (f adapterFunc) Scrape(ctx context.Context, criteria Criteria) (Response, error) {
	return f(ctx, criteria)
}

func TestMetricsAccumulate(t *testing.T) {
	kv := store.NewMemory()
	o := newTestOrchestrator(kv)
	ok := &fakeAdapter{listings: []Listing{{Price: price("10")}, {Price: price("20")}}}
	o.Register("alpha", ok, PlatformOptions{Enabled: true})

	ctx := context.Background()
	o.ScrapeAllPlatforms(ctx, nil)
	o.ScrapeAllPlatforms(ctx, nil)

	ok.err = errors.New("boom")
	o.ScrapeAllPlatforms(ctx, nil)

	m, err := o.Metrics(ctx, "alpha")
	if err != nil {
		t.Fatalf("Metrics 失败: %v", err)
	}
	if m.TotalScrapes != 3 || m.SuccessfulScrapes != 2 || m.TotalListings != 4 {
		t.Fatalf("累计指标不正确: %+v", m)
	}
	if m.SuccessRate < 0.66 || m.SuccessRate > 0.67 {
		t.Fatalf("成功率应约为 2/3: %v", m.SuccessRate)
	}
	if m.AvgListings != 2 {
		t.Fatalf("平均票数应为 2: %v", m.AvgListings)
	}
}

func TestGetHealthThresholds(t *testing.T) {
	kv := store.NewMemory()
	o := newTestOrchestrator(kv)
	good := &fakeAdapter{listings: []Listing{{Price: price("10")}}}
	bad := &fakeAdapter{err: errors.New("boom")}
	o.Register("good", good, PlatformOptions{Enabled: true})
	o.Register("bad", bad, PlatformOptions{Enabled: true})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		o.ScrapeAllPlatforms(ctx, nil)
	}

	health, err := o.GetHealth(ctx)
	if err != nil {
		t.Fatalf("GetHealth 失败: %v", err)
	}
	if health.TotalPlatforms != 2 || health.HealthyPlatforms != 1 {
		t.Fatalf("健康平台计数不正确: %+v", health)
	}
	// 1/2 健康不超过 50%, 应判为 critical。
	if health.Status != "critical" {
		t.Fatalf("整体状态应为 critical: %s", health.Status)
	}
}

func TestRateLimiterSpacing(t *testing.T) {
	limiter := newRateLimiter(time.Minute)

	now := time.Unix(0, 0)
	var slept []time.Duration
	limiter.now = func() time.Time { return now }
	limiter.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	ctx := context.Background()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("首次 Wait 失败: %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("首次请求不应等待: %#v", slept)
	}

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("第二次 Wait 失败: %v", err)
	}
	if len(slept) != 1 || slept[0] != time.Minute {
		t.Fatalf("第二次请求应等待一个间隔: %#v", slept)
	}

	// 时间推进超过间隔后无需等待。
	now = now.Add(3 * time.Minute)
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("第三次 Wait 失败: %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("间隔已过不应再等待: %#v", slept)
	}
}

func TestRateLimiterCancelled(t *testing.T) {
	limiter := newRateLimiter(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("首次 Wait 失败: %v", err)
	}
	cancel()
	if err := limiter.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后 Wait 应返回 context.Canceled: %v", err)
	}
}
