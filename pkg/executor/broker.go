// 文件: pkg/executor/broker.go
// 券商适配接口

package executor

import (
	"context"

	"aurum.com/pkg/ledger"
)

// OrderRequest 下单请求
type OrderRequest struct {
	Coid   string
	Symbol string
	Side   ledger.Side
	Qty    float64
	SL     *float64
	TP     *float64
}

// Fill 一笔成交回报
type Fill struct {
	Qty       float64
	Price     float64
	Timestamp int64 // Unix 毫秒
}

// SubmitResult 下单结果
// 同步券商 (纸面盘) 把即时成交直接带回; 异步券商走 bus 事件流，Fills 为空
type SubmitResult struct {
	BrokerOrderID string
	Status        ledger.OrderStatus // ACCEPTED 或 REJECTED
	Reason        string             // 拒单原因
	Fills         []Fill
}

// Broker 券商适配器
type Broker interface {
	Submit(ctx context.Context, req OrderRequest) (SubmitResult, error)
	Cancel(ctx context.Context, coid string) error
	ModifyStops(ctx context.Context, coid string, sl, tp *float64) error
}
