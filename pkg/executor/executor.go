// 文件: pkg/executor/executor.go
// 交易执行器 - 风险闸门 → 下单 → 台账落账
//
// 提交路径: V1 准入检查 → V2 准入检查 → 券商下单 → 台账状态机
// 平仓路径: V1/V2 双记录，breaker 触发时发告警并留审计痕

package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"aurum.com/pkg/alert"
	"aurum.com/pkg/audit"
	"aurum.com/pkg/ledger"
	"aurum.com/pkg/risk"
)

var (
	// ErrTradeBlocked 风险闸门拦截
	ErrTradeBlocked = errors.New("executor: trade blocked by risk governor")
	// ErrOrderRejected 券商拒单
	ErrOrderRejected = errors.New("executor: order rejected by broker")
)

// Config 执行器配置
type Config struct {
	RetentionMaxAge   time.Duration // 终态订单保留期
	RetentionInterval time.Duration // 清理轮询间隔
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		RetentionMaxAge:   30 * 24 * time.Hour,
		RetentionInterval: time.Hour,
	}
}

// Executor 交易执行器
type Executor struct {
	cfg    Config
	broker Broker
	book   *ledger.Ledger
	gov    *risk.Governor
	govV2  *risk.GovernorV2
	alerts *alert.Dispatcher
	trail  *audit.Trail // 可为 nil (无 Kafka 的部署)
	now    func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewExecutor 创建执行器
func NewExecutor(cfg Config, broker Broker, book *ledger.Ledger,
	gov *risk.Governor, govV2 *risk.GovernorV2,
	alerts *alert.Dispatcher, trail *audit.Trail) *Executor {
	return &Executor{
		cfg:    cfg,
		broker: broker,
		book:   book,
		gov:    gov,
		govV2:  govV2,
		alerts: alerts,
		trail:  trail,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// =============================================================================
// 提交路径
// =============================================================================

// SubmitOrder 闸门检查后下单
// 返回 coid; 拦截/拒单返回带原因的错误
func (e *Executor) SubmitOrder(ctx context.Context, symbol string, side ledger.Side, qty float64, sl, tp *float64) (string, error) {
	now := e.now()

	// 1. V1 闸门
	d := e.gov.CheckTradeAllowed(symbol, qty)
	e.record(audit.RiskDecision{
		Symbol: symbol, Size: qty, Allowed: d.Allowed, Reason: d.Reason,
		RiskLevel: string(d.RiskLevel), Timestamp: now.UnixMilli(),
	})
	if !d.Allowed {
		e.dispatch(ctx, alert.Alert{
			Kind: alert.KindTradeBlocked, Severity: alert.SeverityWarning,
			Symbol: symbol, Message: d.Reason,
		})
		return "", fmt.Errorf("%w: %s", ErrTradeBlocked, d.Reason)
	}
	for _, w := range d.Warnings {
		e.dispatch(ctx, alert.Alert{
			Kind: alert.KindRiskLevel, Severity: alert.SeverityWarning,
			Symbol: symbol, Message: w,
		})
	}

	// 2. V2 闸门
	if ok, reason := e.govV2.CanTrade(now); !ok {
		e.dispatch(ctx, alert.Alert{
			Kind: alert.KindTradeBlocked, Severity: alert.SeverityWarning,
			Symbol: symbol, Message: reason,
		})
		return "", fmt.Errorf("%w: %s", ErrTradeBlocked, reason)
	}

	// 3. 先落 PENDING 再下单: 崩溃后台账里永远有这笔单的痕迹
	coid := ledger.NewCoid()
	if err := e.book.CreatePending(ctx, coid, symbol, side, qty, sl, tp); err != nil {
		return "", err
	}
	e.record(audit.OrderTransition{
		Coid: coid, Symbol: symbol, ToStatus: string(ledger.StatusPending),
		Timestamp: now.UnixMilli(),
	})

	res, err := e.broker.Submit(ctx, OrderRequest{
		Coid: coid, Symbol: symbol, Side: side, Qty: qty, SL: sl, TP: tp,
	})
	if err != nil {
		// 下单通道本身失败: 单子留在 PENDING，等对账或人工处理
		log.Printf("[Executor] submit failed: coid=%s, err=%v", coid, err)
		return coid, err
	}

	if res.Status == ledger.StatusRejected {
		if err := e.book.MarkRejected(ctx, coid); err != nil {
			return coid, err
		}
		e.record(audit.OrderTransition{
			Coid: coid, Symbol: symbol,
			FromStatus: string(ledger.StatusPending), ToStatus: string(ledger.StatusRejected),
			Timestamp: e.now().UnixMilli(),
		})
		e.dispatch(ctx, alert.Alert{
			Kind: alert.KindOrderRejected, Severity: alert.SeverityWarning,
			Symbol: symbol, Message: fmt.Sprintf("order %s rejected: %s", coid, res.Reason),
		})
		return coid, fmt.Errorf("%w: %s", ErrOrderRejected, res.Reason)
	}

	if err := e.book.UpsertOnAccept(ctx, coid, symbol, side, qty, res.BrokerOrderID, sl, tp, ledger.StatusAccepted); err != nil {
		return coid, err
	}

	// 同步成交回报 (纸面盘)
	for _, f := range res.Fills {
		o, err := e.book.MarkPartial(ctx, coid, f.Qty, f.Price)
		if err != nil {
			return coid, err
		}
		e.record(audit.OrderTransition{
			Coid: coid, Symbol: symbol, ToStatus: string(o.Status),
			FilledQty: o.FilledQty, AvgPrice: o.AvgFillPrice,
			Timestamp: f.Timestamp,
		})
	}

	log.Printf("[Executor] order submitted: coid=%s, symbol=%s, side=%s, qty=%.4f", coid, symbol, side, qty)
	return coid, nil
}

// CancelOrder 撤单: 先通知券商，再落台账
func (e *Executor) CancelOrder(ctx context.Context, coid string) error {
	if err := e.broker.Cancel(ctx, coid); err != nil {
		return err
	}
	return e.book.MarkCancelled(ctx, coid)
}

// ModifyStops 改止损止盈
func (e *Executor) ModifyStops(ctx context.Context, coid string, sl, tp *float64) (bool, error) {
	if err := e.broker.ModifyStops(ctx, coid, sl, tp); err != nil {
		return false, err
	}
	return e.book.UpdateStops(ctx, coid, sl, tp)
}

// =============================================================================
// 平仓路径
// =============================================================================

// OnTradeClosed 记录一笔已平仓交易到两个治理器
// pnlPct 按账户百分比计; breaker 在这一步触发时发 critical 告警
func (e *Executor) OnTradeClosed(ctx context.Context, symbol string, pnlPct float64) error {
	now := e.now()
	wasWin := pnlPct > 0

	before := e.gov.CurrentMetrics().BreakerState
	m, err := e.gov.RecordTradeResult(symbol, pnlPct, wasWin)
	if err != nil {
		return err
	}
	if err := e.govV2.OnTradeClosed(pnlPct, now); err != nil {
		return err
	}

	if before != risk.BreakerOpen && m.BreakerState == risk.BreakerOpen {
		cause := fmt.Sprintf("daily loss %.2f%%, %d consecutive losses", m.DailyLossPct, m.ConsecutiveLosses)
		e.dispatch(ctx, alert.Alert{
			Kind: alert.KindBreakerTripped, Severity: alert.SeverityCritical,
			Symbol: symbol, Message: "circuit breaker tripped: " + cause,
		})
		e.record(audit.BreakerTransition{
			FromState: string(before), ToState: string(risk.BreakerOpen),
			Cause: cause, Timestamp: now.UnixMilli(),
		})
	}
	return nil
}

// ResetBreaker 显式复位 breaker
func (e *Executor) ResetBreaker(ctx context.Context) error {
	if err := e.gov.ResetCircuitBreaker(); err != nil {
		return err
	}
	e.dispatch(ctx, alert.Alert{
		Kind: alert.KindBreakerReset, Severity: alert.SeverityInfo,
		Message: "circuit breaker reset, trading resumed",
	})
	e.record(audit.BreakerTransition{
		FromState: string(risk.BreakerOpen), ToState: string(risk.BreakerClosed),
		Cause: "explicit reset", Timestamp: e.now().UnixMilli(),
	})
	return nil
}

// ApplyNewsBlackout 新闻禁入
func (e *Executor) ApplyNewsBlackout(ctx context.Context, impact risk.ImpactLevel) error {
	if err := e.govV2.ApplyNewsBlackout(impact, e.now()); err != nil {
		return err
	}
	e.dispatch(ctx, alert.Alert{
		Kind: alert.KindNewsBlackout, Severity: alert.SeverityInfo,
		Message: fmt.Sprintf("news blackout applied: impact=%s", impact),
	})
	return nil
}

// =============================================================================
// 保留期清理
// =============================================================================

// Start 启动后台清理循环
func (e *Executor) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.RetentionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := e.RunRetentionOnce(context.Background()); err != nil {
					log.Printf("[Executor] retention failed: %v", err)
				}
			case <-e.stopCh:
				return
			}
		}
	}()
}

// RunRetentionOnce 执行一轮终态订单清理
func (e *Executor) RunRetentionOnce(ctx context.Context) (int64, error) {
	deleted, err := e.book.CleanupOldOrders(ctx, e.cfg.RetentionMaxAge)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Printf("[Executor] retention: %d terminal orders removed", deleted)
	}
	return deleted, nil
}

// Stop 停止后台循环
func (e *Executor) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// =============================================================================
// 内部
// =============================================================================

// dispatch 发告警，失败不影响交易路径
func (e *Executor) dispatch(ctx context.Context, a alert.Alert) {
	if e.alerts == nil {
		return
	}
	if _, err := e.alerts.Dispatch(ctx, a); err != nil {
		log.Printf("[Executor] alert dispatch failed: kind=%s, err=%v", a.Kind, err)
	}
}

// record 审计留痕，失败不影响交易路径
func (e *Executor) record(ev audit.Event) {
	if e.trail == nil {
		return
	}
	if err := e.trail.Record(ev); err != nil {
		log.Printf("[Executor] audit record failed: %v", err)
	}
}
