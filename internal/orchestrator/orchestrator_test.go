package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type probeService struct {
	status   string
	err      error
	panics   bool
	started  int
	shutdown int
}

func (s *probeService) Health(context.Context) (string, error) {
	if s.panics {
		panic("probe exploded")
	}
	return s.status, s.err
}

func (s *probeService) Start(context.Context) error {
	s.started++
	return nil
}

func (s *probeService) Shutdown(context.Context) error {
	s.shutdown++
	return nil
}

func register(t *testing.T, o *Orchestrator, name string, deps []string, build func(deps map[string]Service) (Service, error)) {
	t.Helper()
	err := o.Register(Definition{
		Name:         name,
		Dependencies: deps,
		Build: func(_ context.Context, d map[string]Service) (Service, error) {
			return build(d)
		},
	})
	if err != nil {
		t.Fatalf("注册 %s 失败: %v", name, err)
	}
}

func TestInitializeConstructsInDependencyOrder(t *testing.T) {
	o := New(zerolog.Nop())
	var built []string

	register(t, o, "api", []string{"store", "cache"}, func(deps map[string]Service) (Service, error) {
		if deps["store"] == nil || deps["cache"] == nil {
			t.Fatal("依赖应先于消费者构建")
		}
		built = append(built, "api")
		return &probeService{status: "healthy"}, nil
	})
	register(t, o, "store", nil, func(map[string]Service) (Service, error) {
		built = append(built, "store")
		return &probeService{status: "healthy"}, nil
	})
	register(t, o, "cache", []string{"store"}, func(map[string]Service) (Service, error) {
		built = append(built, "cache")
		return &probeService{status: "healthy"}, nil
	})

	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize 失败: %v", err)
	}
	want := []string{"store", "cache", "api"}
	for i, name := range want {
		if built[i] != name {
			t.Fatalf("构建顺序不正确: %#v", built)
		}
	}
}

func TestInitializeStartsStarters(t *testing.T) {
	o := New(zerolog.Nop())
	svc := &probeService{status: "healthy"}
	register(t, o, "svc", nil, func(map[string]Service) (Service, error) { return svc, nil })

	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize 失败: %v", err)
	}
	if svc.started != 1 {
		t.Fatalf("Start 应被调用一次: %d", svc.started)
	}
}

func TestCircularDependencyAbortsBeforeConstruction(t *testing.T) {
	o := New(zerolog.Nop())
	constructed := 0
	register(t, o, "a", []string{"b"}, func(map[string]Service) (Service, error) {
		constructed++
		return &probeService{}, nil
	})
	register(t, o, "b", []string{"a"}, func(map[string]Service) (Service, error) {
		constructed++
		return &probeService{}, nil
	})

	if err := o.Initialize(context.Background()); !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("循环依赖应返回 ErrCircularDependency: %v", err)
	}
	if constructed != 0 {
		t.Fatalf("检测到循环后不应构建任何服务: %d", constructed)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	o := New(zerolog.Nop())
	register(t, o, "svc", nil, func(map[string]Service) (Service, error) { return &probeService{}, nil })
	err := o.Register(Definition{
		Name:  "svc",
		Build: func(context.Context, map[string]Service) (Service, error) { return &probeService{}, nil },
	})
	if !errors.Is(err, ErrDuplicateService) {
		t.Fatalf("重复注册应返回 ErrDuplicateService: %v", err)
	}
}

func TestGetServiceLazyInitialize(t *testing.T) {
	o := New(zerolog.Nop())
	svc := &probeService{status: "healthy"}
	register(t, o, "svc", nil, func(map[string]Service) (Service, error) { return svc, nil })

	got, err := o.GetService(context.Background(), "svc")
	if err != nil {
		t.Fatalf("GetService 失败: %v", err)
	}
	if got != svc {
		t.Fatalf("返回的实例不正确: %#v", got)
	}
	if _, err := o.GetService(context.Background(), "missing"); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("未知服务应返回 ErrUnknownService: %v", err)
	}
}

func TestHealthAggregation(t *testing.T) {
	o := New(zerolog.Nop())
	register(t, o, "good", nil, func(map[string]Service) (Service, error) {
		return &probeService{status: "healthy"}, nil
	})
	register(t, o, "silent", nil, func(map[string]Service) (Service, error) {
		return struct{}{}, nil
	})
	register(t, o, "bad", nil, func(map[string]Service) (Service, error) {
		return &probeService{status: "", err: errors.New("db down")}, nil
	})
	register(t, o, "panicky", nil, func(map[string]Service) (Service, error) {
		return &probeService{panics: true}, nil
	})

	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize 失败: %v", err)
	}
	status := o.GetHealthStatus(context.Background())

	if status.Services["good"].Status != "healthy" {
		t.Fatalf("good 状态不正确: %+v", status.Services["good"])
	}
	// 无健康探针的服务按 running 计。
	if status.Services["silent"].Status != "running" {
		t.Fatalf("silent 状态不正确: %+v", status.Services["silent"])
	}
	if status.Services["bad"].Status != "error" || status.Services["bad"].Err != "db down" {
		t.Fatalf("bad 状态不正确: %+v", status.Services["bad"])
	}
	if status.Services["panicky"].Status != "error" {
		t.Fatalf("恐慌探针应记为 error: %+v", status.Services["panicky"])
	}
	// 4 个服务中 2 个健康, 比例 0.5 落在 warning 档。
	if status.Overall != "warning" {
		t.Fatalf("整体状态应为 warning: %s", status.Overall)
	}
}

func TestHealthOverallThresholds(t *testing.T) {
	cases := []struct {
		healthy int
		total   int
		want    string
	}{
		{10, 10, "excellent"},
		{9, 10, "excellent"},
		{8, 10, "healthy"},
		{5, 10, "warning"},
		{4, 10, "critical"},
		{0, 0, "critical"},
	}
	for _, tc := range cases {
		if got := classifyOverall(tc.healthy, tc.total); got != tc.want {
			t.Fatalf("classifyOverall(%d, %d) = %s, 应为 %s", tc.healthy, tc.total, got, tc.want)
		}
	}
}

func TestRestartService(t *testing.T) {
	o := New(zerolog.Nop())
	builds := 0
	var instances []*probeService
	register(t, o, "svc", nil, func(map[string]Service) (Service, error) {
		builds++
		svc := &probeService{status: "healthy"}
		instances = append(instances, svc)
		return svc, nil
	})

	ctx := context.Background()
	if err := o.Initialize(ctx); err != nil {
		t.Fatalf("Initialize 失败: %v", err)
	}
	if err := o.RestartService(ctx, "svc"); err != nil {
		t.Fatalf("RestartService 失败: %v", err)
	}
	if builds != 2 {
		t.Fatalf("重启应重新构建: %d", builds)
	}
	if instances[0].shutdown != 1 {
		t.Fatalf("旧实例应被清理: %d", instances[0].shutdown)
	}
	if instances[1].started != 1 {
		t.Fatalf("新实例应被启动: %d", instances[1].started)
	}

	if err := o.RestartService(ctx, "missing"); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("未知服务应返回 ErrUnknownService: %v", err)
	}
}

func TestShutdownClearsStateForReinitialize(t *testing.T) {
	o := New(zerolog.Nop())
	builds := 0
	var last *probeService
	register(t, o, "svc", nil, func(map[string]Service) (Service, error) {
		builds++
		last = &probeService{status: "healthy"}
		return last, nil
	})

	ctx := context.Background()
	if err := o.Initialize(ctx); err != nil {
		t.Fatalf("Initialize 失败: %v", err)
	}
	first := last
	o.Shutdown(ctx)
	if first.shutdown != 1 {
		t.Fatalf("Shutdown 应清理服务: %d", first.shutdown)
	}

	if err := o.Initialize(ctx); err != nil {
		t.Fatalf("重新 Initialize 失败: %v", err)
	}
	if builds != 2 || last == first {
		t.Fatalf("关闭后应可重新构建: builds=%d", builds)
	}
}
