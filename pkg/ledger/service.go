// 文件: pkg/ledger/service.go
// 订单生命周期服务
//
// 【职责】
// 1. 下单前登记 PENDING，券商确认后记录 broker_order_id
// 2. 成交聚合: 成交量累加、成交均价重算、状态迁移
// 3. 撤单/拒单/止损止盈更新与各类查询
//
// 【并发】
// 每个写操作持有服务级互斥锁直到事务提交，同一 coid 上的并发
// mark 操作串行化而不是互相覆盖; 持久性由仓储的事务提交保证

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Ledger 订单生命周期服务
type Ledger struct {
	repo OrderRepository
	mu   chanMutex
}

// NewLedger 创建服务
func NewLedger(repo OrderRepository) *Ledger {
	return &Ledger{repo: repo, mu: newChanMutex()}
}

// chanMutex 支持 context 取消的互斥锁
// 锁获取可被 ctx 超时打断，事务一旦开始则执行到底
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	return make(chan struct{}, 1)
}

func (m chanMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) unlock() {
	<-m
}

// =============================================================================
// 生命周期操作
// =============================================================================

// CreatePending 登记 PENDING 订单
// 以 coid 幂等: 重复调用只刷新可变字段，绝不产生重复订单
func (l *Ledger) CreatePending(ctx context.Context, coid, symbol string, side Side, qty float64, sl, tp *float64) error {
	if !ValidSide(side) {
		return fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: qty %v", ErrInvalidFillQty, qty)
	}

	if err := l.mu.lock(ctx); err != nil {
		return err
	}
	defer l.mu.unlock()

	now := time.Now().UnixMilli()
	err := l.repo.UpsertPending(ctx, &Order{
		Coid:      coid,
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		Status:    StatusPending,
		SL:        sl,
		TP:        tp,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		return err
	}

	log.Printf("[Ledger] pending registered: coid=%s %s %v %s", coid, side, qty, symbol)
	return nil
}

// UpsertOnAccept 券商确认，记录 broker_order_id 与目标状态
func (l *Ledger) UpsertOnAccept(ctx context.Context, coid, symbol string, side Side, qty float64, brokerID string, sl, tp *float64, status OrderStatus) error {
	if status == "" {
		status = StatusAccepted
	}

	if err := l.mu.lock(ctx); err != nil {
		return err
	}
	defer l.mu.unlock()

	now := time.Now().UnixMilli()
	err := l.repo.UpsertAccepted(ctx, &Order{
		Coid:          coid,
		Symbol:        symbol,
		Side:          side,
		Qty:           qty,
		BrokerOrderID: brokerID,
		Status:        status,
		SL:            sl,
		TP:            tp,
		CreatedTs:     now,
		UpdatedTs:     now,
	})
	if err != nil {
		return err
	}

	log.Printf("[Ledger] order accepted: coid=%s → broker=%s status=%s", coid, brokerID, status)
	return nil
}

// MarkPartial 记录一笔成交
// fill_qty ≤ 0 与容差外超额成交直接报错，订单状态原样保留
func (l *Ledger) MarkPartial(ctx context.Context, coid string, fillQty, price float64) (*Order, error) {
	if err := l.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer l.mu.unlock()

	now := time.Now().UnixMilli()
	o, err := l.repo.ApplyFill(ctx, coid, fillQty, price, now)
	if err != nil {
		return nil, err
	}

	log.Printf("[Ledger] fill: coid=%s +%v@%v → %v/%v avg=%.5f status=%s",
		coid, fillQty, price, o.FilledQty, o.Qty, o.AvgFillPrice, o.Status)
	return o, nil
}

// MarkCancelled 撤单
// coid 不存在是与券商侧过期撤单的良性竞态: 记日志即可，不算错误
func (l *Ledger) MarkCancelled(ctx context.Context, coid string) error {
	if err := l.mu.lock(ctx); err != nil {
		return err
	}
	defer l.mu.unlock()

	found, err := l.repo.UpdateStatus(ctx, coid, StatusCancelled, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if !found {
		log.Printf("[Ledger] cancel no-op: order not found: coid=%s", coid)
		return nil
	}

	log.Printf("[Ledger] order cancelled: coid=%s", coid)
	return nil
}

// MarkRejected 拒单 (任意非终态 → REJECTED)
func (l *Ledger) MarkRejected(ctx context.Context, coid string) error {
	if err := l.mu.lock(ctx); err != nil {
		return err
	}
	defer l.mu.unlock()

	found, err := l.repo.UpdateStatus(ctx, coid, StatusRejected, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if !found {
		log.Printf("[Ledger] reject no-op: order not found: coid=%s", coid)
		return nil
	}

	log.Printf("[Ledger] order rejected: coid=%s", coid)
	return nil
}

// UpdateStops 更新止损/止盈
// coid 不存在返回 false 而不是报错，与券商侧平仓存在良性竞态
func (l *Ledger) UpdateStops(ctx context.Context, coid string, sl, tp *float64) (bool, error) {
	if sl == nil && tp == nil {
		return true, nil // 没有要改的字段
	}

	if err := l.mu.lock(ctx); err != nil {
		return false, err
	}
	defer l.mu.unlock()

	found, err := l.repo.UpdateStops(ctx, coid, sl, tp, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	if !found {
		log.Printf("[Ledger] stop update no-op: order not found: coid=%s", coid)
		return false, nil
	}

	log.Printf("[Ledger] stops updated: coid=%s sl=%v tp=%v", coid, ptrVal(sl), ptrVal(tp))
	return true, nil
}

// =============================================================================
// 查询
// =============================================================================

// GetOrder 按 coid 查询
func (l *Ledger) GetOrder(ctx context.Context, coid string) (*Order, error) {
	return l.repo.Get(ctx, coid)
}

// GetActiveOrders 非终态订单，按创建时间排序
func (l *Ledger) GetActiveOrders(ctx context.Context) ([]*Order, error) {
	return l.repo.GetActive(ctx)
}

// GetFills 成交明细，按时间排序
func (l *Ledger) GetFills(ctx context.Context, coid string) ([]*Fill, error) {
	return l.repo.GetFills(ctx, coid)
}

// GetOrderCountByStatus 按状态统计
func (l *Ledger) GetOrderCountByStatus(ctx context.Context) (map[OrderStatus]int64, error) {
	return l.repo.CountByStatus(ctx)
}

// CleanupOldOrders 清理超过保留期的终态订单
// 只动终态: 活跃订单不管多老都不会被删
func (l *Ledger) CleanupOldOrders(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	deleted, err := l.repo.DeleteTerminalBefore(ctx, cutoff, 200)
	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		log.Printf("[Ledger] cleaned up %d old orders (>%s)", deleted, maxAge)
	}
	return deleted, nil
}

// IsNotFound 是否为订单不存在错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

func ptrVal(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
