// 文件: pkg/executor/paper_broker.go
// 纸面券商 - 仿真与测试用

package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aurum.com/pkg/ledger"
)

// PaperBroker 纸面券商
// 接单即按当前标记价成交，可配置把一单拆成多笔回报
type PaperBroker struct {
	mu         sync.Mutex
	markPrice  float64
	fillSlices int               // 一单拆几笔成交，默认 1
	seq        int64             // broker 订单号序列
	open       map[string]string // coid → broker 订单号
	rejectWith string            // 非空则拒掉下一单 (测试用)
	now        func() time.Time
}

// NewPaperBroker 创建纸面券商
func NewPaperBroker(markPrice float64) *PaperBroker {
	return &PaperBroker{
		markPrice:  markPrice,
		fillSlices: 1,
		open:       make(map[string]string),
		now:        time.Now,
	}
}

// SetMarkPrice 更新标记价
func (b *PaperBroker) SetMarkPrice(p float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markPrice = p
}

// SetFillSlices 设置每单的成交笔数
func (b *PaperBroker) SetFillSlices(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 1 {
		n = 1
	}
	b.fillSlices = n
}

// RejectNext 拒掉下一单
func (b *PaperBroker) RejectNext(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectWith = reason
}

// Submit 接单并即时成交
func (b *PaperBroker) Submit(_ context.Context, req OrderRequest) (SubmitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rejectWith != "" {
		reason := b.rejectWith
		b.rejectWith = ""
		return SubmitResult{Status: ledger.StatusRejected, Reason: reason}, nil
	}

	b.seq++
	brokerID := fmt.Sprintf("P-%06d", b.seq)
	b.open[req.Coid] = brokerID

	// 把数量均分成 fillSlices 笔，余数并入最后一笔
	now := b.now().UnixMilli()
	fills := make([]Fill, 0, b.fillSlices)
	per := req.Qty / float64(b.fillSlices)
	remaining := req.Qty
	for i := 0; i < b.fillSlices; i++ {
		qty := per
		if i == b.fillSlices-1 {
			qty = remaining
		}
		remaining -= qty
		fills = append(fills, Fill{Qty: qty, Price: b.markPrice, Timestamp: now})
	}

	delete(b.open, req.Coid) // 全部成交，不再挂着
	return SubmitResult{
		BrokerOrderID: brokerID,
		Status:        ledger.StatusAccepted,
		Fills:         fills,
	}, nil
}

// Cancel 撤单
// 纸面盘即时成交，这里只对仍挂着的单子有意义
func (b *PaperBroker) Cancel(_ context.Context, coid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.open, coid)
	return nil
}

// ModifyStops 改止损止盈 (纸面盘无实际动作)
func (b *PaperBroker) ModifyStops(_ context.Context, _ string, _, _ *float64) error {
	return nil
}
