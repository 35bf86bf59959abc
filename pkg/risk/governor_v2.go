// 文件: pkg/risk/governor_v2.go
// 风险治理 V2 - 新闻禁入 / 会话笔数上限 / 连亏冷却
//
// 与 V1 的 circuit breaker 正交: V2 自带独立的连亏计数与阈值，
// 两个治理器可以同时挂在执行器前面

package risk

import (
	"fmt"
	"log"
	"time"

	"aurum.com/pkg/atomicio"
)

// GovernorV2 风险治理器 V2
// 所有接口显式接收 now，调用方 (执行器/回测) 统一掌握时钟
type GovernorV2 struct {
	cfg   Config
	store *atomicio.Store
	path  string
}

// NewGovernorV2 创建 V2 治理器
func NewGovernorV2(cfg Config, store *atomicio.Store, path string) *GovernorV2 {
	return &GovernorV2{cfg: cfg, store: store, path: path}
}

// =============================================================================
// 准入检查
// =============================================================================

// CanTrade 交易准入
// 求值顺序: 新闻禁入 → 会话笔数 → 连亏冷却
func (g *GovernorV2) CanTrade(now time.Time) (bool, string) {
	doc := g.load(now)

	// 1. 新闻禁入
	if doc.BlackoutUntil > now.UnixMilli() {
		remaining := time.UnixMilli(doc.BlackoutUntil).Sub(now)
		return false, fmt.Sprintf("news blackout active: %.1f minutes remaining", remaining.Minutes())
	}

	// 2. 会话笔数上限
	if doc.TradesToday >= g.cfg.MaxTradesPerSession {
		return false, fmt.Sprintf("session trade limit reached: %d/%d",
			doc.TradesToday, g.cfg.MaxTradesPerSession)
	}

	// 3. 连亏冷却
	if doc.ConsecutiveLosses >= g.cfg.MaxStreakV2 && doc.LastLossTs > 0 {
		elapsed := now.Sub(time.UnixMilli(doc.LastLossTs))
		if elapsed < g.cfg.CooldownAfterLoss {
			remaining := g.cfg.CooldownAfterLoss - elapsed
			return false, fmt.Sprintf("loss-streak cooldown: %d consecutive losses, %.1f minutes remaining",
				doc.ConsecutiveLosses, remaining.Minutes())
		}
	}

	return true, "ok"
}

// =============================================================================
// 状态变更
// =============================================================================

// ApplyNewsBlackout 按影响等级设置禁入窗口
// blackout_until = now + pre + post
func (g *GovernorV2) ApplyNewsBlackout(impact ImpactLevel, now time.Time) error {
	w := g.cfg.blackoutFor(impact)
	until := now.Add(w.Pre + w.Post)

	_, err := atomicio.Update(g.store, g.path, newStateV2Doc, func(d *stateV2Doc) error {
		d.migrate()
		g.rollDay(d, now)
		ts := until.UnixMilli()
		if ts > d.BlackoutUntil {
			d.BlackoutUntil = ts
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("[RiskV2] news blackout applied: impact=%s, until=%s",
		impact, until.UTC().Format(time.RFC3339))
	return nil
}

// OnTradeClosed 记录一笔已平仓交易
// 赢单清空连亏计数，亏单累加并盖上 last_loss_ts
func (g *GovernorV2) OnTradeClosed(pnl float64, now time.Time) error {
	doc, err := atomicio.Update(g.store, g.path, newStateV2Doc, func(d *stateV2Doc) error {
		d.migrate()
		g.rollDay(d, now)

		d.TradesToday++
		d.LastTradeTs = now.UnixMilli()
		if pnl < 0 {
			d.ConsecutiveLosses++
			d.LastLossTs = now.UnixMilli()
		} else {
			d.ConsecutiveLosses = 0
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("[RiskV2] trade closed: pnl=%.2f, trades_today=%d, streak=%d",
		pnl, doc.TradesToday, doc.ConsecutiveLosses)
	return nil
}

// ResetSession 管理用: 开启新会话，清空会话笔数
func (g *GovernorV2) ResetSession(now time.Time) error {
	_, err := atomicio.Update(g.store, g.path, newStateV2Doc, func(d *stateV2Doc) error {
		d.migrate()
		d.TradesToday = 0
		d.SessionStartTs = now.UnixMilli()
		d.CurrentDate = dayKey(now)
		return nil
	})
	return err
}

// ClearLossStreak 管理用: 清空连亏计数与冷却
func (g *GovernorV2) ClearLossStreak() error {
	_, err := atomicio.Update(g.store, g.path, newStateV2Doc, func(d *stateV2Doc) error {
		d.migrate()
		d.ConsecutiveLosses = 0
		d.LastLossTs = 0
		return nil
	})
	return err
}

// ClearBlackout 管理用: 提前解除新闻禁入
func (g *GovernorV2) ClearBlackout() error {
	_, err := atomicio.Update(g.store, g.path, newStateV2Doc, func(d *stateV2Doc) error {
		d.migrate()
		d.BlackoutUntil = 0
		return nil
	})
	return err
}

// =============================================================================
// 状态报告
// =============================================================================

// StateSummary 当前 V2 状态快照
func (g *GovernorV2) StateSummary(now time.Time) StateV2Summary {
	doc := g.load(now)

	s := StateV2Summary{
		ConsecutiveLosses: doc.ConsecutiveLosses,
		TradesToday:       doc.TradesToday,
		SessionLimit:      g.cfg.MaxTradesPerSession,
		SessionUsagePct:   float64(doc.TradesToday) / float64(g.cfg.MaxTradesPerSession) * 100,
		LastTradeTs:       doc.LastTradeTs,
		CurrentDate:       doc.CurrentDate,
	}

	if doc.ConsecutiveLosses >= g.cfg.MaxStreakV2 && doc.LastLossTs > 0 {
		elapsed := now.Sub(time.UnixMilli(doc.LastLossTs))
		if elapsed < g.cfg.CooldownAfterLoss {
			s.CooldownActive = true
			s.CooldownRemainingMin = (g.cfg.CooldownAfterLoss - elapsed).Minutes()
		}
	}
	if doc.BlackoutUntil > now.UnixMilli() {
		s.BlackoutActive = true
		s.BlackoutRemainingMin = time.UnixMilli(doc.BlackoutUntil).Sub(now).Minutes()
	}

	s.CanTradeNow, _ = g.CanTrade(now)
	return s
}

// =============================================================================
// 内部
// =============================================================================

// load 读取文档的轮换视图，不落盘
func (g *GovernorV2) load(now time.Time) stateV2Doc {
	doc := newStateV2Doc()
	g.store.Read(g.path, &doc)
	doc.migrate()
	g.rollDay(&doc, now)
	return doc
}

// rollDay 跨日清零会话计数
// 连亏与禁入不随日切清除: 它们由冷却/窗口到期自然失效
func (g *GovernorV2) rollDay(d *stateV2Doc, now time.Time) {
	day := dayKey(now)
	if d.CurrentDate != day {
		d.TradesToday = 0
		d.SessionStartTs = now.UnixMilli()
		d.CurrentDate = day
	}
}
