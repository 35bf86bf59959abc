// 文件: pkg/ledger/service_test.go
// 订单生命周期状态机测试 (内存仓储)

package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() *Ledger {
	return NewLedger(NewMemoryOrderRepository())
}

func f64(v float64) *float64 { return &v }

// =============================================================================
// 测试: 完整生命周期 (端到端)
// =============================================================================

func TestFullLifecycle(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.CreatePending(ctx, "C1", "XAUUSD", SideBuy, 1.0, nil, nil))
	require.NoError(t, l.UpsertOnAccept(ctx, "C1", "XAUUSD", SideBuy, 1.0, "B1", nil, nil, StatusAccepted))

	o, err := l.MarkPartial(ctx, "C1", 0.4, 2500.0)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, o.Status)
	assert.InDelta(t, 0.4, o.FilledQty, QtyTolerance)
	assert.InDelta(t, 2500.0, o.AvgFillPrice, QtyTolerance)

	o, err = l.MarkPartial(ctx, "C1", 0.6, 2501.0)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, o.Status)
	assert.InDelta(t, 1.0, o.FilledQty, QtyTolerance)
	// avg = (0.4*2500 + 0.6*2501) / 1.0 = 2500.6
	assert.InDelta(t, 2500.6, o.AvgFillPrice, QtyTolerance)

	fills, err := l.GetFills(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, 0.4, fills[0].Qty)
	assert.Equal(t, 0.6, fills[1].Qty)

	// 终态订单不再出现在活跃列表
	active, err := l.GetActiveOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

// =============================================================================
// 测试: 成交聚合不变式
// 任意一组不超过总量的成交序列: filled 等于累加和，avg 等于加权均价
// =============================================================================

func TestFillAggregationInvariant(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.CreatePending(ctx, "C2", "XAUUSD", SideSell, 2.5, nil, nil))

	fills := []struct{ qty, price float64 }{
		{0.5, 2490.0}, {0.7, 2492.5}, {0.3, 2488.0}, {1.0, 2495.1},
	}

	var sumQty, sumNotional float64
	for _, f := range fills {
		o, err := l.MarkPartial(ctx, "C2", f.qty, f.price)
		require.NoError(t, err)

		sumQty += f.qty
		sumNotional += f.qty * f.price
		assert.InDelta(t, sumQty, o.FilledQty, QtyTolerance)
		assert.InDelta(t, sumNotional/sumQty, o.AvgFillPrice, QtyTolerance)
	}

	o, err := l.GetOrder(ctx, "C2")
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, o.Status)
}

// =============================================================================
// 测试: 超额成交永远报错且不污染状态
// =============================================================================

func TestOverFillRejectedAndStateUntouched(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.CreatePending(ctx, "C3", "XAUUSD", SideBuy, 1.0, nil, nil))
	_, err := l.MarkPartial(ctx, "C3", 0.8, 2500.0)
	require.NoError(t, err)

	// 0.8 + 0.5 > 1.0，容差外
	_, err = l.MarkPartial(ctx, "C3", 0.5, 2501.0)
	assert.ErrorIs(t, err, ErrOverFill)

	// 存储状态不动
	o, err := l.GetOrder(ctx, "C3")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, o.FilledQty, QtyTolerance)
	assert.InDelta(t, 2500.0, o.AvgFillPrice, QtyTolerance)
	assert.Equal(t, StatusPartial, o.Status)

	fills, _ := l.GetFills(ctx, "C3")
	assert.Len(t, fills, 1)

	// 容差内的浮点误差放行
	_, err = l.MarkPartial(ctx, "C3", 0.2+1e-12, 2501.0)
	assert.NoError(t, err)
}

func TestInvalidFillQty(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.CreatePending(ctx, "C4", "XAUUSD", SideBuy, 1.0, nil, nil))

	_, err := l.MarkPartial(ctx, "C4", 0, 2500.0)
	assert.ErrorIs(t, err, ErrInvalidFillQty)
	_, err = l.MarkPartial(ctx, "C4", -0.1, 2500.0)
	assert.ErrorIs(t, err, ErrInvalidFillQty)
}

func TestFillUnknownOrder(t *testing.T) {
	l := newTestLedger()
	_, err := l.MarkPartial(context.Background(), "GHOST", 0.1, 2500.0)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.True(t, IsNotFound(err))
}

// =============================================================================
// 测试: CreatePending 幂等
// =============================================================================

func TestCreatePendingIdempotent(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.CreatePending(ctx, "C5", "XAUUSD", SideBuy, 1.0, nil, nil))
	require.NoError(t, l.CreatePending(ctx, "C5", "XAUUSD", SideBuy, 2.0, f64(2480), nil))

	active, err := l.GetActiveOrders(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 2.0, active[0].Qty)
	require.NotNil(t, active[0].SL)
	assert.Equal(t, 2480.0, *active[0].SL)

	counts, err := l.GetOrderCountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusPending])
}

func TestUpsertOnAcceptIdempotent(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.CreatePending(ctx, "C6", "XAUUSD", SideBuy, 1.0, nil, nil))
	require.NoError(t, l.UpsertOnAccept(ctx, "C6", "XAUUSD", SideBuy, 1.0, "B6", nil, nil, StatusAccepted))
	require.NoError(t, l.UpsertOnAccept(ctx, "C6", "XAUUSD", SideBuy, 1.0, "B6", nil, nil, StatusAccepted))

	o, err := l.GetOrder(ctx, "C6")
	require.NoError(t, err)
	assert.Equal(t, "B6", o.BrokerOrderID)
	assert.Equal(t, StatusAccepted, o.Status)

	active, _ := l.GetActiveOrders(ctx)
	assert.Len(t, active, 1)
}

// =============================================================================
// 测试: 撤单 / 拒单 / 止损止盈
// =============================================================================

func TestCancelUnknownIsNoop(t *testing.T) {
	l := newTestLedger()
	// 与券商侧过期撤单的良性竞态: 不报错
	assert.NoError(t, l.MarkCancelled(context.Background(), "GHOST"))
}

func TestCancelAfterPartialHistory(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.CreatePending(ctx, "C7", "XAUUSD", SideBuy, 1.0, nil, nil))
	_, err := l.MarkPartial(ctx, "C7", 0.3, 2500.0)
	require.NoError(t, err)

	require.NoError(t, l.MarkCancelled(ctx, "C7"))

	o, err := l.GetOrder(ctx, "C7")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.InDelta(t, 0.3, o.FilledQty, QtyTolerance) // 部分成交历史保留

	active, _ := l.GetActiveOrders(ctx)
	assert.Empty(t, active)
}

func TestUpdateStops(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.CreatePending(ctx, "C8", "XAUUSD", SideBuy, 1.0, nil, nil))

	found, err := l.UpdateStops(ctx, "C8", f64(2480), nil)
	require.NoError(t, err)
	assert.True(t, found)

	o, _ := l.GetOrder(ctx, "C8")
	require.NotNil(t, o.SL)
	assert.Equal(t, 2480.0, *o.SL)
	assert.Nil(t, o.TP)

	// 不存在的 coid 返回 false 而不是报错
	found, err = l.UpdateStops(ctx, "GHOST", f64(1), f64(2))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidSideAndQty(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	assert.ErrorIs(t, l.CreatePending(ctx, "C9", "XAUUSD", "LONG", 1.0, nil, nil), ErrInvalidSide)
	assert.ErrorIs(t, l.CreatePending(ctx, "C9", "XAUUSD", SideBuy, 0, nil, nil), ErrInvalidFillQty)
}

// =============================================================================
// 测试: 保留期清理只删终态
// =============================================================================

func TestCleanupOnlyTerminal(t *testing.T) {
	repo := NewMemoryOrderRepository()
	l := NewLedger(repo)
	ctx := context.Background()

	require.NoError(t, l.CreatePending(ctx, "OLD-FILLED", "XAUUSD", SideBuy, 1.0, nil, nil))
	_, err := l.MarkPartial(ctx, "OLD-FILLED", 1.0, 2500.0)
	require.NoError(t, err)
	require.NoError(t, l.CreatePending(ctx, "OLD-ACTIVE", "XAUUSD", SideBuy, 1.0, nil, nil))

	// 把两单都做旧
	past := time.Now().Add(-48 * time.Hour).UnixMilli()
	repo.mu.Lock()
	repo.orders["OLD-FILLED"].UpdatedTs = past
	repo.orders["OLD-ACTIVE"].UpdatedTs = past
	repo.mu.Unlock()

	deleted, err := l.CleanupOldOrders(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// 活跃订单不管多老都还在
	_, err = l.GetOrder(ctx, "OLD-ACTIVE")
	assert.NoError(t, err)
	_, err = l.GetOrder(ctx, "OLD-FILLED")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	// 成交明细一并清掉
	fills, _ := l.GetFills(ctx, "OLD-FILLED")
	assert.Empty(t, fills)
}

// =============================================================================
// 测试: 同一订单并发成交串行化
// =============================================================================

func TestConcurrentFillsSerialize(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.CreatePending(ctx, "C10", "XAUUSD", SideBuy, 1.0, nil, nil))

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.MarkPartial(ctx, "C10", 0.1, 2500.0)
		}()
	}
	wg.Wait()

	o, err := l.GetOrder(ctx, "C10")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, o.FilledQty, 1e-6)
	assert.Equal(t, StatusFilled, o.Status)

	fills, _ := l.GetFills(ctx, "C10")
	assert.Len(t, fills, n)
}

// =============================================================================
// 测试: coid 生成器
// =============================================================================

func TestNewCoidUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewCoid()
		_, dup := seen[id]
		require.False(t, dup, "duplicate coid: %s", id)
		seen[id] = struct{}{}
	}
}
