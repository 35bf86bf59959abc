// 文件: pkg/ledger/memory_repo.go
// 订单仓储内存实现
// 用于单元测试与本地仿真，语义与 MySQL 版保持一致

package ledger

import (
	"context"
	"sort"
	"sync"
)

// 确保实现了接口
var _ OrderRepository = (*MemoryOrderRepository)(nil)

// MemoryOrderRepository 内存实现
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*Order
	fills  map[string][]*Fill
	nextID uint
}

// NewMemoryOrderRepository 创建内存仓储
func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders: make(map[string]*Order),
		fills:  make(map[string][]*Fill),
	}
}

func (r *MemoryOrderRepository) UpsertPending(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.orders[o.Coid]; ok {
		// 幂等: 只刷新可变字段
		existing.Symbol = o.Symbol
		existing.Side = o.Side
		existing.Qty = o.Qty
		existing.SL = o.SL
		existing.TP = o.TP
		existing.UpdatedTs = o.UpdatedTs
		return nil
	}

	cp := *o
	r.orders[o.Coid] = &cp
	return nil
}

func (r *MemoryOrderRepository) UpsertAccepted(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.orders[o.Coid]; ok {
		existing.BrokerOrderID = o.BrokerOrderID
		existing.Status = o.Status
		existing.SL = o.SL
		existing.TP = o.TP
		existing.UpdatedTs = o.UpdatedTs
		return nil
	}

	cp := *o
	r.orders[o.Coid] = &cp
	return nil
}

func (r *MemoryOrderRepository) ApplyFill(_ context.Context, coid string, fillQty, price float64, now int64) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[coid]
	if !ok {
		return nil, ErrOrderNotFound
	}

	// 先在副本上聚合，校验失败不触碰存储状态
	cp := *o
	if err := cp.applyFill(fillQty, price, now); err != nil {
		return nil, err
	}
	*o = cp

	r.nextID++
	r.fills[coid] = append(r.fills[coid], &Fill{ID: r.nextID, Coid: coid, Qty: fillQty, Price: price, Ts: now})

	out := *o
	return &out, nil
}

func (r *MemoryOrderRepository) UpdateStatus(_ context.Context, coid string, status OrderStatus, now int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[coid]
	if !ok {
		return false, nil
	}
	o.Status = status
	o.UpdatedTs = now
	return true, nil
}

func (r *MemoryOrderRepository) UpdateStops(_ context.Context, coid string, sl, tp *float64, now int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[coid]
	if !ok {
		return false, nil
	}
	if sl != nil {
		o.SL = sl
	}
	if tp != nil {
		o.TP = tp
	}
	o.UpdatedTs = now
	return true, nil
}

func (r *MemoryOrderRepository) Get(_ context.Context, coid string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[coid]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MemoryOrderRepository) GetActive(_ context.Context) ([]*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*Order
	for _, o := range r.orders {
		if o.IsActive() {
			cp := *o
			active = append(active, &cp)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedTs != active[j].CreatedTs {
			return active[i].CreatedTs < active[j].CreatedTs
		}
		return active[i].Coid < active[j].Coid
	})
	return active, nil
}

func (r *MemoryOrderRepository) GetFills(_ context.Context, coid string) ([]*Fill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.fills[coid]
	out := make([]*Fill, 0, len(src))
	for _, f := range src {
		cp := *f
		out = append(out, &cp)
	}
	// 插入即按时间序，ID 兜底保证稳定
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ts != out[j].Ts {
			return out[i].Ts < out[j].Ts
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryOrderRepository) CountByStatus(_ context.Context) (map[OrderStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[OrderStatus]int64)
	for _, o := range r.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (r *MemoryOrderRepository) DeleteTerminalBefore(_ context.Context, cutoffTs int64, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for coid, o := range r.orders {
		if o.Status.IsTerminal() && o.UpdatedTs < cutoffTs {
			delete(r.orders, coid)
			delete(r.fills, coid)
			deleted++
		}
	}
	return deleted, nil
}
