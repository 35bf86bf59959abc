// 文件: pkg/alert/manager.go
// 告警分发器 + 内存冷却闸门

package alert

import (
	"context"
	"log"
	"sync"
	"time"

	"aurum.com/pkg/bus"
)

// =============================================================================
// 内存冷却闸门
// =============================================================================

// MemoryCooldownGate 内存版冷却闸门
// 单进程部署够用，多实例部署换 Redis 版本
type MemoryCooldownGate struct {
	mu      sync.Mutex
	expires map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCooldownGate(ttl time.Duration) *MemoryCooldownGate {
	return &MemoryCooldownGate{
		expires: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow 窗口外放行并开新窗口
func (g *MemoryCooldownGate) Allow(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.expires[key] = now.Add(g.ttl)

	// 顺手清掉过期项，map 不会无限膨胀
	for k, exp := range g.expires {
		if now.After(exp) {
			delete(g.expires, k)
		}
	}
	return true, nil
}

// =============================================================================
// 日志出口
// =============================================================================

// LogSink 把告警写进程日志，永远作为兜底出口存在
type LogSink struct{}

func (LogSink) Send(_ context.Context, a Alert) error {
	log.Printf("[Alert] %s/%s symbol=%s: %s", a.Severity, a.Kind, a.Symbol, a.Message)
	return nil
}

// =============================================================================
// 分发器
// =============================================================================

// Dispatcher 告警分发器
// 冷却闸门压制重复告警; critical 级别绕过冷却直接放行
type Dispatcher struct {
	gate      CooldownGate
	sinks     []Sink
	publisher *bus.Publisher // 可为 nil (无消息总线的部署)
}

func NewDispatcher(gate CooldownGate, publisher *bus.Publisher, sinks ...Sink) *Dispatcher {
	if len(sinks) == 0 {
		sinks = []Sink{LogSink{}}
	}
	return &Dispatcher{gate: gate, sinks: sinks, publisher: publisher}
}

// Dispatch 分发一条告警
// 冷却中返回 false; 出口失败只记日志不拦截其余出口
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) (bool, error) {
	if a.Timestamp == 0 {
		a.Timestamp = time.Now().UnixMilli()
	}

	if a.Severity != SeverityCritical {
		allowed, err := d.gate.Allow(ctx, a.key())
		if err != nil {
			// 闸门故障时放行: 漏告警比重复告警更糟
			log.Printf("[Alert] cooldown gate error, passing through: key=%s, err=%v", a.key(), err)
		} else if !allowed {
			return false, nil
		}
	}

	for _, sink := range d.sinks {
		if err := sink.Send(ctx, a); err != nil {
			log.Printf("[Alert] sink failed: kind=%s, err=%v", a.Kind, err)
		}
	}

	if d.publisher != nil {
		// breaker 触发走专用主题，订阅方不用过滤整条告警流
		subject := bus.SubjectRiskAlert
		if a.Kind == KindBreakerTripped {
			subject = bus.SubjectBreakerTripped
		}
		if err := d.publisher.Publish(subject, a); err != nil {
			log.Printf("[Alert] publish failed: kind=%s, err=%v", a.Kind, err)
		}
	}
	return true, nil
}
