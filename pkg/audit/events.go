// 文件: pkg/audit/events.go
// 审计事件定义

package audit

import "encoding/json"

const (
	// TopicOrders 订单生命周期审计流
	TopicOrders = "audit.orders"
	// TopicRisk 风险决策审计流
	TopicRisk = "audit.risk"
)

// Event 审计事件接口
// 同 key 事件落在同一分区，回放时保序
type Event interface {
	Topic() string
	Key() string
	Value() ([]byte, error)
}

// =============================================================================
// 订单事件
// =============================================================================

// OrderTransition 订单状态迁移
type OrderTransition struct {
	Coid       string  `json:"coid"`
	Symbol     string  `json:"symbol"`
	FromStatus string  `json:"from_status"`
	ToStatus   string  `json:"to_status"`
	FilledQty  float64 `json:"filled_qty"`
	AvgPrice   float64 `json:"avg_price"`
	Timestamp  int64   `json:"timestamp"` // Unix 毫秒
}

func (e OrderTransition) Topic() string { return TopicOrders }
func (e OrderTransition) Key() string   { return e.Coid }
func (e OrderTransition) Value() ([]byte, error) {
	return json.Marshal(e)
}

// =============================================================================
// 风险事件
// =============================================================================

// RiskDecision 一次准入决策的留痕
type RiskDecision struct {
	Symbol    string  `json:"symbol"`
	Size      float64 `json:"size"`
	Allowed   bool    `json:"allowed"`
	Reason    string  `json:"reason"`
	RiskLevel string  `json:"risk_level"`
	Timestamp int64   `json:"timestamp"`
}

func (e RiskDecision) Topic() string { return TopicRisk }
func (e RiskDecision) Key() string   { return e.Symbol }
func (e RiskDecision) Value() ([]byte, error) {
	return json.Marshal(e)
}

// BreakerTransition breaker 状态迁移
type BreakerTransition struct {
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Cause     string `json:"cause"`
	Timestamp int64  `json:"timestamp"`
}

func (e BreakerTransition) Topic() string { return TopicRisk }
func (e BreakerTransition) Key() string   { return "breaker" }
func (e BreakerTransition) Value() ([]byte, error) {
	return json.Marshal(e)
}
