package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"seatwatch/internal/crypto"
	"seatwatch/internal/monitor"
	"seatwatch/internal/scraping"
	"seatwatch/internal/store"
)

type recordingStrategy struct {
	executed []string
	result   Result
	err      error
}

func (s *recordingStrategy) Execute(_ context.Context, req PurchaseRequest) (Result, error) {
	s.executed = append(s.executed, req.PurchaseID)
	if s.err != nil {
		return Result{}, s.err
	}
	return s.result, nil
}

func newTestEngine(t *testing.T, kv store.KV, enc crypto.Encryptor, strategy Strategy) *Engine {
	t.Helper()
	registry := NewStrategyRegistry()
	if strategy == nil {
		strategy = &recordingStrategy{result: Result{Success: true, TransactionID: "AUTO_TEST", Message: "purchase completed"}}
	}
	if err := registry.Register(DefaultStrategy, strategy); err != nil {
		t.Fatalf("注册策略失败: %v", err)
	}
	engine, err := NewEngine(kv, enc, nil, registry, nil, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine 失败: %v", err)
	}
	seq := 0
	engine.newID = func() string {
		seq++
		return fmt.Sprintf("%04d", seq)
	}
	return engine
}

func buyableSnapshot() monitor.Snapshot {
	return monitor.Snapshot{
		TicketID:           "42",
		IsAvailable:        true,
		TotalAvailable:     5,
		AvailablePlatforms: []string{"alpha", "beta"},
		PlatformCount:      2,
		BestPrice:          price("80"),
		CheckedAt:          time.Now().UTC(),
	}
}

func TestNewEngineRequiresDefaultStrategy(t *testing.T) {
	if _, err := NewEngine(store.NewMemory(), nil, nil, NewStrategyRegistry(), nil, Options{}, zerolog.Nop()); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("缺少默认策略应拒绝构建: %v", err)
	}
}

func TestCreateRuleRejectsUnknownCondition(t *testing.T) {
	engine := newTestEngine(t, store.NewMemory(), nil, nil)
	_, err := engine.CreatePurchaseRule(context.Background(), "u1", nil, map[string]any{"vip_only": true}, Preferences{})
	if !errors.Is(err, ErrUnknownCondition) {
		t.Fatalf("未知条件键应返回 ErrUnknownCondition: %v", err)
	}
	_, err = engine.CreatePurchaseRule(context.Background(), "u1", nil, map[string]any{CondMaxPrice: "cheap"}, Preferences{})
	if err == nil {
		t.Fatal("非数值 max_price 应返回错误")
	}
}

func TestRuleEncryptedAtRest(t *testing.T) {
	kv := store.NewMemory()
	enc, err := crypto.NewAESGCM("test-master-key")
	if err != nil {
		t.Fatalf("构建加密器失败: %v", err)
	}
	engine := newTestEngine(t, kv, enc, nil)
	ctx := context.Background()

	ruleID, err := engine.CreatePurchaseRule(ctx, "u1",
		scraping.Criteria{"event": "secret concert"},
		map[string]any{CondMaxPrice: 100.0},
		Preferences{Recipients: []string{"buyer@example.com"}})
	if err != nil {
		t.Fatalf("CreatePurchaseRule 失败: %v", err)
	}

	fields, err := kv.HGetAll(ctx, ruleKey(ruleID))
	if err != nil {
		t.Fatalf("读取规则哈希失败: %v", err)
	}
	for name, value := range fields {
		if strings.Contains(value, "secret concert") || strings.Contains(value, "buyer@example.com") {
			t.Fatalf("字段 %s 泄露明文: %s", name, value)
		}
	}

	rules, err := engine.GetUserPurchaseRules(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserPurchaseRules 失败: %v", err)
	}
	if len(rules) != 1 || rules[0].Criteria["event"] != "secret concert" {
		t.Fatalf("解密后的规则不正确: %#v", rules)
	}
	if len(rules[0].Preferences.Recipients) != 1 {
		t.Fatalf("偏好应往返一致: %#v", rules[0].Preferences)
	}
}

func TestCheckAutomationTriggersConditions(t *testing.T) {
	engine := newTestEngine(t, store.NewMemory(), nil, nil)
	ctx := context.Background()

	conditions := map[string]any{
		CondMaxPrice:           100.0,
		CondMinAvailability:    2,
		CondPreferredPlatforms: []string{"alpha"},
	}
	if _, err := engine.CreatePurchaseRule(ctx, "u1", nil, conditions, Preferences{}); err != nil {
		t.Fatalf("CreatePurchaseRule 失败: %v", err)
	}

	results := engine.CheckAutomationTriggers(ctx, "42", buyableSnapshot())
	if len(results) != 1 || !results[0].Triggered {
		t.Fatalf("满足条件的规则应触发: %#v", results)
	}
	if results[0].Decision == nil || !results[0].Decision.Executed {
		t.Fatalf("置信度 0.8 应执行购买: %+v", results[0].Decision)
	}

	rules, err := engine.GetUserPurchaseRules(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserPurchaseRules 失败: %v", err)
	}
	if rules[0].TriggeredCount != 1 || rules[0].SuccessfulPurchases != 1 {
		t.Fatalf("规则统计未更新: %+v", rules[0])
	}
}

func TestCheckAutomationTriggersShortCircuit(t *testing.T) {
	engine := newTestEngine(t, store.NewMemory(), nil, nil)
	ctx := context.Background()

	cases := []map[string]any{
		{CondMaxPrice: 50.0},
		{CondMinAvailability: 10},
		{CondPreferredPlatforms: []string{"gamma"}},
	}
	for _, conditions := range cases {
		if _, err := engine.CreatePurchaseRule(ctx, "u1", nil, conditions, Preferences{}); err != nil {
			t.Fatalf("CreatePurchaseRule 失败: %v", err)
		}
	}

	// 快照最低价 80, 共 5 张票, 平台 alpha/beta, 三条规则各被不同条件拦下。
	results := engine.CheckAutomationTriggers(ctx, "42", buyableSnapshot())
	if len(results) != 0 {
		t.Fatalf("不满足条件的规则不应触发: %#v", results)
	}
}

func TestProcessPurchaseDecisionBelowGate(t *testing.T) {
	kv := store.NewMemory()
	engine := newTestEngine(t, kv, nil, nil)
	ctx := context.Background()

	weak := monitor.Snapshot{
		TicketID:       "42",
		IsAvailable:    true,
		TotalAvailable: 1,
		PlatformCount:  1,
		BestPrice:      price("80"),
	}
	result, err := engine.ProcessPurchaseDecision(ctx, "42", weak, Preferences{})
	if err != nil {
		t.Fatalf("ProcessPurchaseDecision 失败: %v", err)
	}
	if result.Executed || result.Purchase != nil {
		t.Fatalf("置信度 0.62 不应执行购买: %+v", result)
	}
	if result.Decision.Action != ActionPurchase {
		t.Fatalf("决策动作不正确: %+v", result.Decision)
	}

	depth, err := kv.LLen(ctx, pendingQueueKey)
	if err != nil {
		t.Fatalf("LLen 失败: %v", err)
	}
	if depth != 0 {
		t.Fatalf("未执行时队列应为空: %d", depth)
	}
}

func TestExecutePurchaseQueuesAndDrainsFIFO(t *testing.T) {
	kv := store.NewMemory()
	strategy := &recordingStrategy{result: Result{Success: true, Message: "purchase completed"}}
	engine := newTestEngine(t, kv, nil, strategy)
	ctx := context.Background()

	decision := Decision{Action: ActionPurchase, Confidence: 0.9, Reason: "test"}
	var queued []string
	for i := 0; i < 3; i++ {
		outcome, err := engine.ExecutePurchase(ctx, "42", decision, Preferences{})
		if err != nil {
			t.Fatalf("ExecutePurchase 失败: %v", err)
		}
		if outcome.Status != "queued" {
			t.Fatalf("非立即模式应排队: %+v", outcome)
		}
		queued = append(queued, outcome.PurchaseID)
	}

	pending, err := engine.GetPurchase(ctx, queued[0])
	if err != nil {
		t.Fatalf("GetPurchase 失败: %v", err)
	}
	if pending.Status != PurchasePending || pending.Attempts != 0 {
		t.Fatalf("排队中的记录应为 pending/0 次尝试: %+v", pending)
	}

	results, err := engine.ProcessPurchaseQueue(ctx, "")
	if err != nil {
		t.Fatalf("ProcessPurchaseQueue 失败: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("应处理 3 条: %#v", results)
	}
	// 先入队的先被处理。
	for i, want := range queued {
		if strategy.executed[i] != want {
			t.Fatalf("处理顺序不是 FIFO: %#v", strategy.executed)
		}
		if results[i].Status != "success" {
			t.Fatalf("第 %d 条应成功: %+v", i, results[i])
		}
	}

	record, err := engine.GetPurchase(ctx, queued[0])
	if err != nil {
		t.Fatalf("GetPurchase 失败: %v", err)
	}
	if record.Status != PurchaseCompleted || record.Result == nil || !record.Result.Success {
		t.Fatalf("购买记录未完成: %+v", record)
	}
	if record.CompletedAt == nil || record.Attempts != 1 {
		t.Fatalf("完成元数据不正确: %+v", record)
	}
}

func TestImmediateProcessingLeavesQueueEmpty(t *testing.T) {
	kv := store.NewMemory()
	engine := newTestEngine(t, kv, nil, nil)
	ctx := context.Background()

	outcome, err := engine.ExecutePurchase(ctx, "42",
		Decision{Action: ActionPurchase, Confidence: 0.9},
		Preferences{ImmediateProcessing: true})
	if err != nil {
		t.Fatalf("ExecutePurchase 失败: %v", err)
	}
	if outcome.Status != "success" || outcome.Result == nil {
		t.Fatalf("立即处理应直接返回结果: %+v", outcome)
	}

	depth, err := kv.LLen(ctx, pendingQueueKey)
	if err != nil {
		t.Fatalf("LLen 失败: %v", err)
	}
	if depth != 0 {
		t.Fatalf("立即处理不应留下队列条目: %d", depth)
	}
}

func TestRetryUntilAttemptsExhausted(t *testing.T) {
	kv := store.NewMemory()
	strategy := &recordingStrategy{err: errors.New("checkout timeout")}
	engine := newTestEngine(t, kv, nil, strategy)
	ctx := context.Background()

	outcome, err := engine.ExecutePurchase(ctx, "42",
		Decision{Action: ActionPurchase, Confidence: 0.9},
		Preferences{MaxAttempts: 2})
	if err != nil {
		t.Fatalf("ExecutePurchase 失败: %v", err)
	}

	results, err := engine.ProcessPurchaseQueue(ctx, "")
	if err != nil {
		t.Fatalf("ProcessPurchaseQueue 失败: %v", err)
	}
	// 失败重入队在同一次排空中被再次取出, 直到尝试次数用尽。
	if len(results) != 2 {
		t.Fatalf("应尝试 2 次: %#v", results)
	}
	for _, r := range results {
		if r.Status != "error" {
			t.Fatalf("策略错误应记为 error: %+v", r)
		}
	}
	if len(strategy.executed) != 2 {
		t.Fatalf("策略应被调用 2 次: %#v", strategy.executed)
	}

	record, err := engine.GetPurchase(ctx, outcome.PurchaseID)
	if err != nil {
		t.Fatalf("GetPurchase 失败: %v", err)
	}
	if record.Status != PurchaseFailed || record.Attempts != 2 {
		t.Fatalf("用尽重试后应标记失败: %+v", record)
	}

	depth, err := kv.LLen(ctx, pendingQueueKey)
	if err != nil {
		t.Fatalf("LLen 失败: %v", err)
	}
	if depth != 0 {
		t.Fatalf("排空后队列应为空: %d", depth)
	}
}

func TestStrategyDeclinedIsNotRetried(t *testing.T) {
	kv := store.NewMemory()
	strategy := &recordingStrategy{result: Result{Success: false, Message: "sold out"}}
	engine := newTestEngine(t, kv, nil, strategy)
	ctx := context.Background()

	outcome, err := engine.ExecutePurchase(ctx, "42",
		Decision{Action: ActionPurchase, Confidence: 0.9}, Preferences{})
	if err != nil {
		t.Fatalf("ExecutePurchase 失败: %v", err)
	}

	results, err := engine.ProcessPurchaseQueue(ctx, "")
	if err != nil {
		t.Fatalf("ProcessPurchaseQueue 失败: %v", err)
	}
	if len(results) != 1 || results[0].Status != "failed" {
		t.Fatalf("明确拒绝不应重试: %#v", results)
	}

	record, err := engine.GetPurchase(ctx, outcome.PurchaseID)
	if err != nil {
		t.Fatalf("GetPurchase 失败: %v", err)
	}
	if record.Status != PurchaseFailed || record.Attempts != 1 {
		t.Fatalf("记录应一次性失败: %+v", record)
	}
}

type flakyStrategy struct {
	calls int
}

func (s *flakyStrategy) Execute(context.Context, PurchaseRequest) (Result, error) {
	s.calls++
	if s.calls == 1 {
		return Result{Success: false, Message: "seat taken"}, nil
	}
	return Result{Success: true, Message: "purchase completed"}, nil
}

func TestDrainReportsMixedOutcomes(t *testing.T) {
	kv := store.NewMemory()
	engine := newTestEngine(t, kv, nil, &flakyStrategy{})
	ctx := context.Background()

	decision := Decision{Action: ActionPurchase, Confidence: 0.9}
	first, err := engine.ExecutePurchase(ctx, "42", decision, Preferences{})
	if err != nil {
		t.Fatalf("ExecutePurchase 失败: %v", err)
	}
	second, err := engine.ExecutePurchase(ctx, "43", decision, Preferences{})
	if err != nil {
		t.Fatalf("ExecutePurchase 失败: %v", err)
	}

	results, err := engine.ProcessPurchaseQueue(ctx, "")
	if err != nil {
		t.Fatalf("ProcessPurchaseQueue 失败: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("应报告两条结果: %#v", results)
	}
	if results[0].Status != "failed" || results[1].Status != "success" {
		t.Fatalf("混合结果不正确: %#v", results)
	}

	failed, err := engine.GetPurchase(ctx, first.PurchaseID)
	if err != nil {
		t.Fatalf("GetPurchase 失败: %v", err)
	}
	completed, err := engine.GetPurchase(ctx, second.PurchaseID)
	if err != nil {
		t.Fatalf("GetPurchase 失败: %v", err)
	}
	if failed.Status != PurchaseFailed || completed.Status != PurchaseCompleted {
		t.Fatalf("终态记录不正确: %s / %s", failed.Status, completed.Status)
	}
}

func TestUnknownStrategyFailsPurchase(t *testing.T) {
	kv := store.NewMemory()
	engine := newTestEngine(t, kv, nil, nil)
	ctx := context.Background()

	outcome, err := engine.ExecutePurchase(ctx, "42",
		Decision{Action: ActionPurchase, Confidence: 0.9},
		Preferences{Strategy: "vip-rush"})
	if err != nil {
		t.Fatalf("ExecutePurchase 失败: %v", err)
	}

	results, err := engine.ProcessPurchaseQueue(ctx, "")
	if err != nil {
		t.Fatalf("ProcessPurchaseQueue 失败: %v", err)
	}
	if len(results) != 1 || results[0].Status != "error" {
		t.Fatalf("未知策略应记为 error: %#v", results)
	}
	if !strings.Contains(results[0].Err, "vip-rush") {
		t.Fatalf("错误应指明策略名: %s", results[0].Err)
	}

	record, err := engine.GetPurchase(ctx, outcome.PurchaseID)
	if err != nil {
		t.Fatalf("GetPurchase 失败: %v", err)
	}
	if record.Status != PurchaseFailed {
		t.Fatalf("未知策略的购买应标记失败: %+v", record)
	}
}

func TestUpdateAndDeactivateRule(t *testing.T) {
	engine := newTestEngine(t, store.NewMemory(), nil, nil)
	ctx := context.Background()

	ruleID, err := engine.CreatePurchaseRule(ctx, "u1", nil, map[string]any{CondMaxPrice: 100.0}, Preferences{})
	if err != nil {
		t.Fatalf("CreatePurchaseRule 失败: %v", err)
	}

	if err := engine.UpdatePurchaseRule(ctx, ruleID, RulePatch{Conditions: map[string]any{CondMinAvailability: 3}}); err != nil {
		t.Fatalf("UpdatePurchaseRule 失败: %v", err)
	}
	rules, err := engine.GetUserPurchaseRules(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserPurchaseRules 失败: %v", err)
	}
	if _, ok := rules[0].Conditions[CondMinAvailability]; !ok {
		t.Fatalf("条件未更新: %#v", rules[0].Conditions)
	}
	if rules[0].UpdatedAt == nil {
		t.Fatal("UpdatedAt 应被设置")
	}

	if err := engine.DeactivatePurchaseRule(ctx, ruleID); err != nil {
		t.Fatalf("DeactivatePurchaseRule 失败: %v", err)
	}
	if results := engine.CheckAutomationTriggers(ctx, "42", buyableSnapshot()); len(results) != 0 {
		t.Fatalf("停用的规则不应触发: %#v", results)
	}

	if err := engine.UpdatePurchaseRule(ctx, "rule_missing", RulePatch{Status: RuleInactive}); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("缺失规则应返回 ErrRuleNotFound: %v", err)
	}
}

func TestLoadStateRehydratesActiveRules(t *testing.T) {
	kv := store.NewMemory()
	first := newTestEngine(t, kv, nil, nil)
	ctx := context.Background()

	activeID, err := first.CreatePurchaseRule(ctx, "u1", nil, map[string]any{CondMinAvailability: 1}, Preferences{})
	if err != nil {
		t.Fatalf("CreatePurchaseRule 失败: %v", err)
	}
	inactiveID, err := first.CreatePurchaseRule(ctx, "u1", nil, map[string]any{CondMinAvailability: 1}, Preferences{})
	if err != nil {
		t.Fatalf("CreatePurchaseRule 失败: %v", err)
	}
	if err := first.DeactivatePurchaseRule(ctx, inactiveID); err != nil {
		t.Fatalf("DeactivatePurchaseRule 失败: %v", err)
	}

	second := newTestEngine(t, kv, nil, nil)
	if err := second.LoadState(ctx); err != nil {
		t.Fatalf("LoadState 失败: %v", err)
	}
	results := second.CheckAutomationTriggers(ctx, "42", buyableSnapshot())
	if len(results) != 1 || results[0].RuleID != activeID {
		t.Fatalf("只应恢复活跃规则: %#v", results)
	}
}

func TestQueueHealthClassification(t *testing.T) {
	kv := store.NewMemory()
	engine := newTestEngine(t, kv, nil, nil)
	ctx := context.Background()

	health, err := engine.QueueHealth(ctx)
	if err != nil {
		t.Fatalf("QueueHealth 失败: %v", err)
	}
	if health != "healthy" {
		t.Fatalf("空队列应为 healthy: %s", health)
	}

	for i := 0; i < 51; i++ {
		if err := kv.LPush(ctx, pendingQueueKey, fmt.Sprintf("p%d", i)); err != nil {
			t.Fatalf("LPush 失败: %v", err)
		}
	}
	if health, _ = engine.QueueHealth(ctx); health != "warning" {
		t.Fatalf("51 条应为 warning: %s", health)
	}

	for i := 0; i < 50; i++ {
		if err := kv.LPush(ctx, pendingQueueKey, fmt.Sprintf("q%d", i)); err != nil {
			t.Fatalf("LPush 失败: %v", err)
		}
	}
	if health, _ = engine.QueueHealth(ctx); health != "critical" {
		t.Fatalf("101 条应为 critical: %s", health)
	}
}

func TestGetUserStatistics(t *testing.T) {
	engine := newTestEngine(t, store.NewMemory(), nil, nil)
	ctx := context.Background()

	if _, err := engine.CreatePurchaseRule(ctx, "u1", nil, map[string]any{CondMinAvailability: 1}, Preferences{}); err != nil {
		t.Fatalf("CreatePurchaseRule 失败: %v", err)
	}
	engine.CheckAutomationTriggers(ctx, "42", buyableSnapshot())

	stats, err := engine.GetUserStatistics(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserStatistics 失败: %v", err)
	}
	if stats.TotalRules != 1 || stats.ActiveRules != 1 {
		t.Fatalf("规则计数不正确: %+v", stats)
	}
	if stats.TotalTriggered != 1 || stats.SuccessfulPurchases != 1 {
		t.Fatalf("触发统计不正确: %+v", stats)
	}
}
