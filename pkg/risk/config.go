// 文件: pkg/risk/config.go
// 风险治理配置

package risk

import (
	"errors"
	"fmt"
	"time"
)

// ImpactLevel 新闻事件影响等级
type ImpactLevel string

const (
	ImpactHigh   ImpactLevel = "high"
	ImpactMedium ImpactLevel = "medium"
	ImpactLow    ImpactLevel = "low"
)

// BlackoutWindow 事件前后的禁入时长
type BlackoutWindow struct {
	Pre  time.Duration
	Post time.Duration
}

// Config 风险治理配置 (V1 + V2)
type Config struct {
	// 亏损上限 (账户百分比)
	MaxDailyLossPct  float64
	MaxWeeklyLossPct float64

	// 交易笔数上限
	MaxDailyTrades  int
	MaxWeeklyTrades int

	// 交易间隔冷却
	Cooldown time.Duration

	// Circuit breaker
	BreakerLossThresholdPct float64       // 当日亏损触发阈值
	BreakerMaxStreak        int           // 连亏触发阈值
	BreakerRecovery         time.Duration // 恢复等待时长

	// V2: 会话与连亏冷却 (独立于 V1 的 breaker)
	MaxTradesPerSession int
	MaxStreakV2         int
	CooldownAfterLoss   time.Duration

	// V2: 按影响等级的新闻禁入窗口
	BlackoutMap map[ImpactLevel]BlackoutWindow
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxDailyLossPct:  2.0,
		MaxWeeklyLossPct: 5.0,
		MaxDailyTrades:   10,
		MaxWeeklyTrades:  40,
		Cooldown:         5 * time.Minute,

		BreakerLossThresholdPct: 8.0,
		BreakerMaxStreak:        5,
		BreakerRecovery:         4 * time.Hour,

		MaxTradesPerSession: 6,
		MaxStreakV2:         3,
		CooldownAfterLoss:   30 * time.Minute,

		BlackoutMap: map[ImpactLevel]BlackoutWindow{
			ImpactHigh:   {Pre: 30 * time.Minute, Post: 30 * time.Minute},
			ImpactMedium: {Pre: 15 * time.Minute, Post: 15 * time.Minute},
			ImpactLow:    {Pre: 5 * time.Minute, Post: 5 * time.Minute},
		},
	}
}

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("risk: invalid config")

// Validate 跨字段校验
func (c Config) Validate() error {
	if c.MaxDailyLossPct <= 0 || c.MaxWeeklyLossPct <= 0 {
		return fmt.Errorf("%w: loss caps must be positive", ErrInvalidConfig)
	}
	if c.MaxWeeklyLossPct < c.MaxDailyLossPct {
		// 周上限低于日上限没有意义，大概率是配置写反了
		return fmt.Errorf("%w: weekly loss cap %.2f%% < daily loss cap %.2f%%",
			ErrInvalidConfig, c.MaxWeeklyLossPct, c.MaxDailyLossPct)
	}
	if c.MaxDailyTrades <= 0 || c.MaxWeeklyTrades <= 0 {
		return fmt.Errorf("%w: trade caps must be positive", ErrInvalidConfig)
	}
	if c.MaxWeeklyTrades < c.MaxDailyTrades {
		return fmt.Errorf("%w: weekly trade cap %d < daily trade cap %d",
			ErrInvalidConfig, c.MaxWeeklyTrades, c.MaxDailyTrades)
	}
	if c.BreakerLossThresholdPct <= 0 || c.BreakerMaxStreak <= 0 || c.BreakerRecovery <= 0 {
		return fmt.Errorf("%w: breaker thresholds must be positive", ErrInvalidConfig)
	}
	if c.MaxTradesPerSession <= 0 || c.MaxStreakV2 <= 0 || c.CooldownAfterLoss <= 0 {
		return fmt.Errorf("%w: v2 thresholds must be positive", ErrInvalidConfig)
	}
	return nil
}

// blackoutFor 查询禁入窗口，未知等级按低影响兜底
func (c Config) blackoutFor(impact ImpactLevel) BlackoutWindow {
	if w, ok := c.BlackoutMap[impact]; ok {
		return w
	}
	return BlackoutWindow{Pre: 5 * time.Minute, Post: 5 * time.Minute}
}
