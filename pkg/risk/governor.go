// 文件: pkg/risk/governor.go
// 风险治理 V1 - 日/周滚动窗口 + circuit breaker
//
// 核心语义:
// 1. 准入检查按固定顺序求值，第一个违规即拦截
// 2. 记录交易时在同一次原子更新内完成窗口轮换与指标累加
// 3. breaker OPEN 后绝不自动恢复，必须显式且过了恢复期才能复位

package risk

import (
	"errors"
	"fmt"
	"log"
	"time"

	"aurum.com/pkg/atomicio"
)

var (
	// ErrBreakerNotTripped breaker 未触发时的复位请求
	ErrBreakerNotTripped = errors.New("risk: circuit breaker is not tripped")
	// ErrRecoveryPending 恢复期未满时的复位请求
	ErrRecoveryPending = errors.New("risk: circuit breaker recovery window has not elapsed")
)

// Governor 风险治理器 V1
// 状态落盘到单个 JSON 文档，所有变更走 atomicio.Update
type Governor struct {
	cfg   Config
	store *atomicio.Store
	path  string
	now   func() time.Time // 可注入时钟，测试用
}

// NewGovernor 创建治理器
func NewGovernor(cfg Config, store *atomicio.Store, path string) *Governor {
	return &Governor{
		cfg:   cfg,
		store: store,
		path:  path,
		now:   time.Now,
	}
}

// =============================================================================
// 窗口键
// =============================================================================

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func weekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// rotate 惰性轮换: 窗口键变了就清空对应指标
// 只改内存文档，持久化由调用方的 Update 负责
func rotate(doc *governorDoc, now time.Time) {
	day, week := dayKey(now), weekKey(now)
	if doc.Reset.Daily != day {
		doc.Daily = windowMetrics{}
		doc.Reset.Daily = day
	}
	if doc.Reset.Weekly != week {
		doc.Weekly = windowMetrics{}
		doc.Reset.Weekly = week
	}
}

// =============================================================================
// 准入检查
// =============================================================================

// CheckTradeAllowed 交易准入决策
// 求值顺序固定: breaker → 日亏损 → 周亏损 → 日笔数 → 周笔数 → 冷却
func (g *Governor) CheckTradeAllowed(symbol string, size float64) Decision {
	now := g.now()

	doc := newGovernorDoc()
	g.store.Read(g.path, &doc)
	doc.migrate()
	rotate(&doc, now) // 只读视图也要按当前窗口看

	m := g.metricsOf(&doc, now)
	deny := func(reason string) Decision {
		log.Printf("[Risk] trade blocked: symbol=%s, reason=%s", symbol, reason)
		return Decision{Allowed: false, Reason: reason, RiskLevel: m.RiskLevel, Metrics: m}
	}

	// 1. circuit breaker
	if doc.Breaker.State == BreakerOpen {
		recovery := time.UnixMilli(doc.Breaker.RecoveryTs).UTC()
		return deny(fmt.Sprintf("circuit breaker is open, trading halted until explicit reset (recovery window ends %s)",
			recovery.Format(time.RFC3339)))
	}

	// 2/3. 亏损上限
	if doc.Daily.LossPct >= g.cfg.MaxDailyLossPct {
		return deny(fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%%",
			doc.Daily.LossPct, g.cfg.MaxDailyLossPct))
	}
	if doc.Weekly.LossPct >= g.cfg.MaxWeeklyLossPct {
		return deny(fmt.Sprintf("weekly loss limit reached: %.2f%% >= %.2f%%",
			doc.Weekly.LossPct, g.cfg.MaxWeeklyLossPct))
	}

	// 4/5. 笔数上限
	if doc.Daily.Trades >= g.cfg.MaxDailyTrades {
		return deny(fmt.Sprintf("daily trade limit reached: %d/%d",
			doc.Daily.Trades, g.cfg.MaxDailyTrades))
	}
	if doc.Weekly.Trades >= g.cfg.MaxWeeklyTrades {
		return deny(fmt.Sprintf("weekly trade limit reached: %d/%d",
			doc.Weekly.Trades, g.cfg.MaxWeeklyTrades))
	}

	// 6. 交易间隔冷却
	if doc.Daily.LastTradeTs > 0 {
		elapsed := now.Sub(time.UnixMilli(doc.Daily.LastTradeTs))
		if elapsed < g.cfg.Cooldown {
			remaining := g.cfg.Cooldown - elapsed
			return deny(fmt.Sprintf("cooldown active: %.1f minutes remaining", remaining.Minutes()))
		}
	}

	d := Decision{Allowed: true, Reason: "ok", RiskLevel: m.RiskLevel, Metrics: m}
	switch m.RiskLevel {
	case LevelMedium:
		d.Warnings = append(d.Warnings, "risk level MEDIUM: over 40% of a loss limit consumed")
	case LevelHigh:
		d.Warnings = append(d.Warnings, "risk level HIGH: over 70% of a loss limit consumed")
	}
	return d
}

// =============================================================================
// 记录交易结果
// =============================================================================

// RecordTradeResult 记录一笔已平仓交易
// pnl 按账户百分比计，负值为亏损
// 轮换与累加在同一次原子更新内完成，不存在两段式读写
func (g *Governor) RecordTradeResult(symbol string, pnl float64, wasWin bool) (Metrics, error) {
	now := g.now()

	doc, err := atomicio.Update(g.store, g.path, newGovernorDoc, func(d *governorDoc) error {
		d.migrate()
		rotate(d, now)

		if pnl < 0 {
			d.Daily.LossPct += -pnl
			d.Weekly.LossPct += -pnl
		}
		d.Daily.Trades++
		d.Weekly.Trades++
		d.Daily.LastTradeTs = now.UnixMilli()

		if wasWin {
			d.Daily.ConsecutiveLosses = 0
		} else {
			d.Daily.ConsecutiveLosses++
		}

		// 熔断条件: 当日亏损过阈值 或 连亏到顶
		if d.Breaker.State != BreakerOpen {
			tripped := ""
			if d.Daily.LossPct >= g.cfg.BreakerLossThresholdPct {
				tripped = fmt.Sprintf("daily loss %.2f%% >= %.2f%%", d.Daily.LossPct, g.cfg.BreakerLossThresholdPct)
			} else if d.Daily.ConsecutiveLosses >= g.cfg.BreakerMaxStreak {
				tripped = fmt.Sprintf("%d consecutive losses", d.Daily.ConsecutiveLosses)
			}
			if tripped != "" {
				d.Breaker.State = BreakerOpen
				d.Breaker.TriggeredAt = now.UnixMilli()
				d.Breaker.RecoveryTs = now.Add(g.cfg.BreakerRecovery).UnixMilli()
				log.Printf("[Risk] circuit breaker TRIPPED: symbol=%s, cause=%s, recovery=%s",
					symbol, tripped, time.UnixMilli(d.Breaker.RecoveryTs).UTC().Format(time.RFC3339))
			}
		}
		return nil
	})
	if err != nil {
		return Metrics{}, err
	}

	log.Printf("[Risk] trade recorded: symbol=%s, pnl=%.2f%%, win=%v, daily_loss=%.2f%%, streak=%d",
		symbol, pnl, wasWin, doc.Daily.LossPct, doc.Daily.ConsecutiveLosses)
	return g.metricsOf(&doc, now), nil
}

// =============================================================================
// breaker 复位
// =============================================================================

// ResetCircuitBreaker 显式复位
// 未触发或恢复期未满都报错，复位永远是有意识的动作
func (g *Governor) ResetCircuitBreaker() error {
	now := g.now()

	_, err := atomicio.Update(g.store, g.path, newGovernorDoc, func(d *governorDoc) error {
		d.migrate()
		if d.Breaker.State != BreakerOpen {
			return ErrBreakerNotTripped
		}
		if now.UnixMilli() < d.Breaker.RecoveryTs {
			remaining := time.UnixMilli(d.Breaker.RecoveryTs).Sub(now)
			return fmt.Errorf("%w: %.1f minutes remaining", ErrRecoveryPending, remaining.Minutes())
		}
		d.Breaker = breakerDoc{State: BreakerClosed}
		d.Daily.ConsecutiveLosses = 0
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("[Risk] circuit breaker reset")
	return nil
}

// =============================================================================
// 指标与报告
// =============================================================================

// metricsOf 从文档导出指标快照
func (g *Governor) metricsOf(doc *governorDoc, now time.Time) Metrics {
	return Metrics{
		DailyLossPct:      doc.Daily.LossPct,
		WeeklyLossPct:     doc.Weekly.LossPct,
		DailyTrades:       doc.Daily.Trades,
		WeeklyTrades:      doc.Weekly.Trades,
		ConsecutiveLosses: doc.Daily.ConsecutiveLosses,
		LastTradeTs:       doc.Daily.LastTradeTs,
		RiskLevel:         g.levelOf(doc),
		BreakerState:      effectiveBreakerState(doc, now),
	}
}

// levelOf 风险等级 = max(日用量, 周用量) 分档
func (g *Governor) levelOf(doc *governorDoc) RiskLevel {
	daily := doc.Daily.LossPct / g.cfg.MaxDailyLossPct * 100
	weekly := doc.Weekly.LossPct / g.cfg.MaxWeeklyLossPct * 100
	usage := daily
	if weekly > usage {
		usage = weekly
	}
	return levelFor(usage)
}

// effectiveBreakerState 展示用状态
// OPEN 且过了恢复期展示为 half_open: 仍然拦截，但提示可以复位了
func effectiveBreakerState(doc *governorDoc, now time.Time) BreakerState {
	if doc.Breaker.State == BreakerOpen && now.UnixMilli() >= doc.Breaker.RecoveryTs {
		return BreakerHalfOpen
	}
	return doc.Breaker.State
}

// CurrentMetrics 当前窗口指标 (只读，惰性轮换视图)
func (g *Governor) CurrentMetrics() Metrics {
	now := g.now()
	doc := newGovernorDoc()
	g.store.Read(g.path, &doc)
	doc.migrate()
	rotate(&doc, now)
	return g.metricsOf(&doc, now)
}

// GenerateReport 生成风险报告
func (g *Governor) GenerateReport() Report {
	now := g.now()
	doc := newGovernorDoc()
	g.store.Read(g.path, &doc)
	doc.migrate()
	rotate(&doc, now)

	m := g.metricsOf(&doc, now)
	return Report{
		Timestamp:     now.UnixMilli(),
		RiskLevel:     m.RiskLevel,
		BreakerActive: doc.Breaker.State == BreakerOpen,
		BreakerState:  m.BreakerState,
		Metrics:       m,
		DailyUsage: LimitUsage{
			LossPct:   doc.Daily.LossPct / g.cfg.MaxDailyLossPct * 100,
			TradesPct: float64(doc.Daily.Trades) / float64(g.cfg.MaxDailyTrades) * 100,
		},
		WeeklyUsage: LimitUsage{
			LossPct:   doc.Weekly.LossPct / g.cfg.MaxWeeklyLossPct * 100,
			TradesPct: float64(doc.Weekly.Trades) / float64(g.cfg.MaxWeeklyTrades) * 100,
		},
	}
}

// ResetDailyCounters 管理用: 手动清空当日窗口
func (g *Governor) ResetDailyCounters() error {
	now := g.now()
	_, err := atomicio.Update(g.store, g.path, newGovernorDoc, func(d *governorDoc) error {
		d.migrate()
		d.Daily = windowMetrics{}
		d.Reset.Daily = dayKey(now)
		return nil
	})
	return err
}

// ResetWeeklyCounters 管理用: 手动清空当周窗口
func (g *Governor) ResetWeeklyCounters() error {
	now := g.now()
	_, err := atomicio.Update(g.store, g.path, newGovernorDoc, func(d *governorDoc) error {
		d.migrate()
		d.Weekly = windowMetrics{}
		d.Reset.Weekly = weekKey(now)
		return nil
	})
	return err
}
