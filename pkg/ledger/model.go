// 文件: pkg/ledger/model.go
// 订单生命周期模型
//
// 状态机:
//   PENDING → ACCEPTED → PARTIAL → FILLED
//   {PENDING, ACCEPTED} → CANCELLED
//   任意非终态 → REJECTED
// FILLED / CANCELLED / REJECTED 为终态

package ledger

import (
	"errors"
	"fmt"
)

// QtyTolerance 数量比较容差
// 浮点成交量累加的误差上限，超过它的超额成交是上游对账 bug
const QtyTolerance = 1e-9

// =============================================================================
// 错误
// =============================================================================

var (
	ErrOrderNotFound  = errors.New("ledger: order not found")
	ErrOverFill       = errors.New("ledger: over-fill beyond tolerance")
	ErrInvalidFillQty = errors.New("ledger: fill qty must be positive")
	ErrInvalidSide    = errors.New("ledger: side must be BUY or SELL")
)

// =============================================================================
// 订单状态
// =============================================================================

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusAccepted  OrderStatus = "ACCEPTED"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// TerminalStatuses 终态集合
var TerminalStatuses = []OrderStatus{StatusFilled, StatusCancelled, StatusRejected}

// IsTerminal 是否终态
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// =============================================================================
// 订单方向
// =============================================================================

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ValidSide 校验方向
func ValidSide(s Side) bool {
	return s == SideBuy || s == SideSell
}

// =============================================================================
// Order - 订单
// =============================================================================

// Order 订单记录
// coid (客户端订单号) 是幂等键，生命周期内唯一
type Order struct {
	Coid          string      `gorm:"column:coid;primaryKey;type:varchar(64)"`
	Symbol        string      `gorm:"column:symbol;type:varchar(32);not null"`
	Side          Side        `gorm:"column:side;type:varchar(8);not null"`
	Qty           float64     `gorm:"column:qty;not null"`
	FilledQty     float64     `gorm:"column:filled_qty;default:0"`
	AvgFillPrice  float64     `gorm:"column:avg_fill_price;default:0"`
	BrokerOrderID string      `gorm:"column:broker_order_id;type:varchar(64)"` // 券商接受前为空
	Status        OrderStatus `gorm:"column:status;type:varchar(16);index;not null"`
	SL            *float64    `gorm:"column:sl"`
	TP            *float64    `gorm:"column:tp"`
	CreatedTs     int64       `gorm:"column:created_ts;not null"`
	UpdatedTs     int64       `gorm:"column:updated_ts;index;not null"`
}

func (Order) TableName() string {
	return "orders"
}

// IsActive 是否仍在生命周期内
func (o *Order) IsActive() bool {
	return !o.Status.IsTerminal()
}

// RemainingQty 剩余未成交数量
func (o *Order) RemainingQty() float64 {
	r := o.Qty - o.FilledQty
	if r < 0 {
		return 0
	}
	return r
}

// IsFullyFilled 是否已全部成交 (容差内)
func (o *Order) IsFullyFilled() bool {
	return o.FilledQty >= o.Qty-QtyTolerance
}

// applyFill 成交聚合
// 校验 → 累加成交量 → 重算成交均价 → 状态迁移
// MySQL 与内存两个仓储共用同一份算术，避免实现漂移
func (o *Order) applyFill(fillQty, price float64, now int64) error {
	if fillQty <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFillQty, fillQty)
	}
	if o.FilledQty+fillQty > o.Qty+QtyTolerance {
		// 超额成交不截断: 必须暴露给上游
		return fmt.Errorf("%w: %v + %v > %v (coid=%s)", ErrOverFill, o.FilledQty, fillQty, o.Qty, o.Coid)
	}

	newFilled := o.FilledQty + fillQty
	o.AvgFillPrice = (o.AvgFillPrice*o.FilledQty + price*fillQty) / newFilled
	o.FilledQty = newFilled

	if o.IsFullyFilled() {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
	o.UpdatedTs = now
	return nil
}

// =============================================================================
// Fill - 成交明细
// =============================================================================

// Fill 单笔成交，只追加不修改
type Fill struct {
	ID    uint    `gorm:"primaryKey;autoIncrement"`
	Coid  string  `gorm:"column:coid;type:varchar(64);index;not null"`
	Qty   float64 `gorm:"column:qty;not null"`
	Price float64 `gorm:"column:price;not null"`
	Ts    int64   `gorm:"column:ts;not null"`
}

func (Fill) TableName() string {
	return "fills"
}
