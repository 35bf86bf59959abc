// 文件: pkg/risk/model.go
// 风险治理模型与持久化文档

package risk

// =============================================================================
// 风险等级
// =============================================================================

type RiskLevel string

const (
	LevelLow      RiskLevel = "low"
	LevelMedium   RiskLevel = "medium"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"
)

// levelFor 按最大用量百分比分档: 40 / 70 / 90
func levelFor(usagePct float64) RiskLevel {
	switch {
	case usagePct >= 90:
		return LevelCritical
	case usagePct >= 70:
		return LevelHigh
	case usagePct >= 40:
		return LevelMedium
	default:
		return LevelLow
	}
}

// =============================================================================
// Circuit breaker
// =============================================================================

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"    // 正常放行
	BreakerOpen     BreakerState = "open"      // 熔断，全部拦截
	BreakerHalfOpen BreakerState = "half_open" // 恢复观察期
)

// =============================================================================
// 决策与指标
// =============================================================================

// Metrics 当前窗口的风险读数
type Metrics struct {
	DailyLossPct      float64      `json:"daily_loss_pct"`
	WeeklyLossPct     float64      `json:"weekly_loss_pct"`
	DailyTrades       int          `json:"daily_trades"`
	WeeklyTrades      int          `json:"weekly_trades"`
	ConsecutiveLosses int          `json:"consecutive_losses"`
	LastTradeTs       int64        `json:"last_trade_ts"` // Unix 毫秒，0 表示无
	RiskLevel         RiskLevel    `json:"risk_level"`
	BreakerState      BreakerState `json:"breaker_state"`
}

// Decision 交易准入决策
// 拦截时 Reason 必须是给人看的完整理由
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	RiskLevel RiskLevel `json:"risk_level"`
	Metrics   Metrics   `json:"metrics"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// =============================================================================
// V1 持久化文档 (带版本号，加载时迁移)
// =============================================================================

const governorDocVersion = 1

type windowMetrics struct {
	LossPct           float64 `json:"loss_pct"`
	Trades            int     `json:"trades"`
	ConsecutiveLosses int     `json:"consecutive_losses,omitempty"`
	LastTradeTs       int64   `json:"last_trade_ts,omitempty"`
}

type breakerDoc struct {
	State       BreakerState `json:"state"`
	TriggeredAt int64        `json:"triggered_at"` // Unix 毫秒，0 表示未触发
	RecoveryTs  int64        `json:"recovery_ts"`
}

type lastReset struct {
	Daily  string `json:"daily"`  // "2006-01-02"
	Weekly string `json:"weekly"` // "2006-W02"
}

// governorDoc V1 治理状态文档
type governorDoc struct {
	Version int           `json:"version"`
	Daily   windowMetrics `json:"daily_metrics"`
	Weekly  windowMetrics `json:"weekly_metrics"`
	Breaker breakerDoc    `json:"circuit_breaker"`
	Reset   lastReset     `json:"last_reset"`
}

func newGovernorDoc() governorDoc {
	return governorDoc{
		Version: governorDocVersion,
		Breaker: breakerDoc{State: BreakerClosed},
	}
}

// migrate 加载时版本迁移
// 版本 0 是无版本号的历史文档: 补齐缺省子结构即可
func (d *governorDoc) migrate() {
	if d.Version == 0 {
		if d.Breaker.State == "" {
			d.Breaker.State = BreakerClosed
		}
		d.Version = governorDocVersion
	}
}

// =============================================================================
// V2 持久化文档
// =============================================================================

const stateV2Version = 1

// stateV2Doc V2 治理状态文档
// 新闻禁入/会话上限/连亏冷却，与 V1 的 breaker 正交
type stateV2Doc struct {
	Version           int    `json:"version"`
	ConsecutiveLosses int    `json:"consecutive_losses"`
	TradesToday       int    `json:"trades_today"`
	LastLossTs        int64  `json:"last_loss_ts"`     // Unix 毫秒，0 表示无
	SessionStartTs    int64  `json:"session_start_ts"` // Unix 毫秒
	BlackoutUntil     int64  `json:"blackout_until"`   // Unix 毫秒，0 表示无
	LastTradeTs       int64  `json:"last_trade_ts"`    // Unix 毫秒
	CurrentDate       string `json:"current_date"`     // "2006-01-02"
}

func newStateV2Doc() stateV2Doc {
	return stateV2Doc{Version: stateV2Version}
}

func (d *stateV2Doc) migrate() {
	if d.Version == 0 {
		d.Version = stateV2Version
	}
}

// StateV2Summary V2 状态报告
type StateV2Summary struct {
	ConsecutiveLosses    int     `json:"consecutive_losses"`
	TradesToday          int     `json:"trades_today"`
	SessionLimit         int     `json:"session_limit"`
	SessionUsagePct      float64 `json:"session_usage_pct"`
	CooldownActive       bool    `json:"cooldown_active"`
	CooldownRemainingMin float64 `json:"cooldown_remaining_min"`
	BlackoutActive       bool    `json:"blackout_active"`
	BlackoutRemainingMin float64 `json:"blackout_remaining_min"`
	CanTradeNow          bool    `json:"can_trade_now"`
	LastTradeTs          int64   `json:"last_trade_ts"`
	CurrentDate          string  `json:"current_date"`
}

// =============================================================================
// 风险报告 (V1)
// =============================================================================

// LimitUsage 上限用量百分比
type LimitUsage struct {
	LossPct   float64 `json:"loss"`
	TradesPct float64 `json:"trades"`
}

// Report V1 风险报告
type Report struct {
	Timestamp     int64        `json:"timestamp"`
	RiskLevel     RiskLevel    `json:"risk_level"`
	BreakerActive bool         `json:"circuit_breaker_active"`
	BreakerState  BreakerState `json:"breaker_state"`
	Metrics       Metrics      `json:"metrics"`
	DailyUsage    LimitUsage   `json:"daily_usage"`
	WeeklyUsage   LimitUsage   `json:"weekly_usage"`
}
