// 文件: pkg/ledger/repository.go
// 订单仓储接口

package ledger

import "context"

// OrderRepository 订单仓储
// MySQL 实现用于生产，内存实现用于测试与仿真
type OrderRepository interface {
	// UpsertPending 以 coid 为幂等键插入/更新 PENDING 订单
	// 重复调用只刷新可变字段，不产生重复行
	UpsertPending(ctx context.Context, o *Order) error

	// UpsertAccepted 记录券商订单号与目标状态，同样以 coid 幂等
	UpsertAccepted(ctx context.Context, o *Order) error

	// ApplyFill 成交: Fill 追加与 Order 聚合更新在同一事务内提交
	// 订单不存在返回 ErrOrderNotFound; 校验失败返回 ErrInvalidFillQty / ErrOverFill
	ApplyFill(ctx context.Context, coid string, fillQty, price float64, now int64) (*Order, error)

	// UpdateStatus 直接状态迁移，返回是否命中
	UpdateStatus(ctx context.Context, coid string, status OrderStatus, now int64) (bool, error)

	// UpdateStops 部分字段更新 SL/TP，返回是否命中
	UpdateStops(ctx context.Context, coid string, sl, tp *float64, now int64) (bool, error)

	// Get 按 coid 查询
	Get(ctx context.Context, coid string) (*Order, error)

	// GetActive 非终态订单，按创建时间排序
	GetActive(ctx context.Context) ([]*Order, error)

	// GetFills 某订单的成交明细，按时间排序
	GetFills(ctx context.Context, coid string) ([]*Fill, error)

	// CountByStatus 按状态统计
	CountByStatus(ctx context.Context) (map[OrderStatus]int64, error)

	// DeleteTerminalBefore 删除 cutoff 之前更新的终态订单及其成交
	// batchSize 限制单次删除规模，避免长事务阻塞在线查询
	DeleteTerminalBefore(ctx context.Context, cutoffTs int64, batchSize int) (int64, error)
}
