// 文件: pkg/alert/model.go

package alert

import "context"

// Severity 告警级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Kind 告警种类，同时作为冷却 key 的一部分
type Kind string

const (
	KindRiskLevel      Kind = "risk_level"      // 风险等级升档
	KindBreakerTripped Kind = "breaker_tripped" // circuit breaker 触发
	KindBreakerReset   Kind = "breaker_reset"   // breaker 显式复位
	KindOrderRejected  Kind = "order_rejected"  // 券商拒单
	KindNewsBlackout   Kind = "news_blackout"   // 新闻禁入生效
	KindTradeBlocked   Kind = "trade_blocked"   // 准入检查拦截
)

// Alert 一条告警
type Alert struct {
	Kind      Kind     `json:"kind"`
	Severity  Severity `json:"severity"`
	Symbol    string   `json:"symbol,omitempty"`
	Message   string   `json:"message"`
	Timestamp int64    `json:"timestamp"` // Unix 毫秒
}

// key 冷却去重键: 同种类+同标的共享一个冷却窗口
func (a Alert) key() string {
	return string(a.Kind) + ":" + a.Symbol
}

// CooldownGate 冷却闸门
// Allow 在 key 的冷却窗口外返回 true 并开启新窗口; 窗口内返回 false
type CooldownGate interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Sink 告警出口 (日志、webhook 等)
type Sink interface {
	Send(ctx context.Context, a Alert) error
}
