package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryHashOps(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.HSet(ctx, "k", map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("HSet 失败: %v", err)
	}

	v, ok, err := m.HGet(ctx, "k", "a")
	if err != nil || !ok || v != "1" {
		t.Fatalf("HGet 结果不正确: %q %v %v", v, ok, err)
	}

	n, err := m.HIncrBy(ctx, "k", "count", 3)
	if err != nil || n != 3 {
		t.Fatalf("HIncrBy 应返回 3, 实际 %d (%v)", n, err)
	}
	if n, _ = m.HIncrBy(ctx, "k", "count", -1); n != 2 {
		t.Fatalf("HIncrBy 递减后应为 2, 实际 %d", n)
	}

	if err := m.HDel(ctx, "k", "a"); err != nil {
		t.Fatalf("HDel 失败: %v", err)
	}
	all, err := m.HGetAll(ctx, "k")
	if err != nil {
		t.Fatalf("HGetAll 失败: %v", err)
	}
	if _, ok := all["a"]; ok {
		t.Fatal("字段 a 应已删除")
	}
	if all["b"] != "2" {
		t.Fatalf("字段 b 应保留: %#v", all)
	}
}

func TestMemorySetOps(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.SAdd(ctx, "s", "x", "y", "x"); err != nil {
		t.Fatalf("SAdd 失败: %v", err)
	}
	members, _ := m.SMembers(ctx, "s")
	if len(members) != 2 {
		t.Fatalf("集合应有 2 个成员, 实际 %d", len(members))
	}

	if err := m.SRem(ctx, "s", "x"); err != nil {
		t.Fatalf("SRem 失败: %v", err)
	}
	members, _ = m.SMembers(ctx, "s")
	if len(members) != 1 || members[0] != "y" {
		t.Fatalf("集合应只剩 y: %#v", members)
	}
}

func TestMemoryListFIFO(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, v := range []string{"first", "second", "third"} {
		if err := m.LPush(ctx, "q", v); err != nil {
			t.Fatalf("LPush 失败: %v", err)
		}
	}
	if n, _ := m.LLen(ctx, "q"); n != 3 {
		t.Fatalf("队列长度应为 3, 实际 %d", n)
	}

	// LPush + RPop 必须保持严格 FIFO。
	for _, want := range []string{"first", "second", "third"} {
		v, ok, err := m.RPop(ctx, "q")
		if err != nil || !ok {
			t.Fatalf("RPop 失败: %v %v", ok, err)
		}
		if v != want {
			t.Fatalf("出队顺序错误: 期望 %s, 实际 %s", want, v)
		}
	}
	if _, ok, _ := m.RPop(ctx, "q"); ok {
		t.Fatal("空队列 RPop 应返回 false")
	}
}

func TestMemoryLRange(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.LPush(ctx, "l", "c", "b", "a")
	all, err := m.LRange(ctx, "l", 0, -1)
	if err != nil {
		t.Fatalf("LRange 失败: %v", err)
	}
	if len(all) != 3 || all[0] != "a" || all[2] != "c" {
		t.Fatalf("LRange 0..-1 结果不正确: %#v", all)
	}

	head, _ := m.LRange(ctx, "l", 0, 1)
	if len(head) != 2 || head[1] != "b" {
		t.Fatalf("LRange 0..1 结果不正确: %#v", head)
	}
}

func TestMemoryExpire(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	now := time.Unix(1000, 0)
	m.SetClock(func() time.Time { return now })

	_ = m.HSet(ctx, "k", map[string]string{"a": "1"})
	if err := m.Expire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("Expire 失败: %v", err)
	}

	if _, ok, _ := m.HGet(ctx, "k", "a"); !ok {
		t.Fatal("未过期前应可读取")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.HGet(ctx, "k", "a"); ok {
		t.Fatal("过期后应读取不到")
	}
	all, _ := m.HGetAll(ctx, "k")
	if len(all) != 0 {
		t.Fatalf("过期后 HGetAll 应为空: %#v", all)
	}
}

func TestMemoryLockSerialises(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	release, err := m.Lock(ctx, "k")
	if err != nil {
		t.Fatalf("Lock 失败: %v", err)
	}

	acquired := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		release2, err := m.Lock(ctx, "k")
		if err != nil {
			t.Errorf("第二次 Lock 失败: %v", err)
			return
		}
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("锁未释放前不应被再次获取")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	wg.Wait()
	select {
	case <-acquired:
	default:
		t.Fatal("释放后锁应可被获取")
	}
}

func TestMemoryDel(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.HSet(ctx, "k", map[string]string{"a": "1"})
	_ = m.SAdd(ctx, "k", "x")
	_ = m.LPush(ctx, "k", "v")

	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("Del 失败: %v", err)
	}
	if all, _ := m.HGetAll(ctx, "k"); len(all) != 0 {
		t.Fatal("Del 后哈希应为空")
	}
	if members, _ := m.SMembers(ctx, "k"); len(members) != 0 {
		t.Fatal("Del 后集合应为空")
	}
	if n, _ := m.LLen(ctx, "k"); n != 0 {
		t.Fatal("Del 后队列应为空")
	}
}
