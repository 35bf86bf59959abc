// 文件: pkg/ledger/consumer.go
// 券商事件消费者 - 监听接受/成交/撤单通知，驱动订单状态机

package ledger

import (
	"context"

	"aurum.com/pkg/bus"
)

// =============================================================================
// 事件结构 (来自券商适配层)
// =============================================================================

// AcceptEvent 券商接受订单
type AcceptEvent struct {
	Coid      string  `json:"coid"`
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Qty       float64 `json:"qty"`
	BrokerID  string  `json:"broker_order_id"`
	Timestamp int64   `json:"timestamp"`
}

// FillEvent 成交通知 (可能是部分成交)
type FillEvent struct {
	Coid      string  `json:"coid"`
	Qty       float64 `json:"qty"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// CancelEvent 撤单通知
type CancelEvent struct {
	Coid      string `json:"coid"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// RejectEvent 拒单通知
type RejectEvent struct {
	Coid      string `json:"coid"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// =============================================================================
// BrokerEventConsumer - 券商事件消费者
// =============================================================================

type BrokerEventConsumer struct {
	ledger     *Ledger
	subscriber *bus.Subscriber
}

// NewBrokerEventConsumer 创建消费者
// 所有订阅走 "order-ledger" 队列组，多实例负载均衡
func NewBrokerEventConsumer(ledger *Ledger, natsURL string) (*BrokerEventConsumer, error) {
	subscriber, err := bus.NewSubscriber(natsURL, "order-ledger")
	if err != nil {
		return nil, err
	}
	return &BrokerEventConsumer{ledger: ledger, subscriber: subscriber}, nil
}

// Start 注册四类券商事件的处理器
func (c *BrokerEventConsumer) Start() error {
	if err := bus.Handle(c.subscriber, bus.SubjectOrderAccepted, c.onAccept); err != nil {
		return err
	}
	if err := bus.Handle(c.subscriber, bus.SubjectOrderFill, c.onFill); err != nil {
		return err
	}
	if err := bus.Handle(c.subscriber, bus.SubjectOrderCancelled, c.onCancel); err != nil {
		return err
	}
	return bus.Handle(c.subscriber, bus.SubjectOrderRejected, c.onReject)
}

// Stop 停止消费
func (c *BrokerEventConsumer) Stop() error {
	return c.subscriber.Close()
}

func (c *BrokerEventConsumer) onAccept(ev *AcceptEvent) error {
	return c.ledger.UpsertOnAccept(context.Background(), ev.Coid, ev.Symbol, ev.Side, ev.Qty, ev.BrokerID, nil, nil, StatusAccepted)
}

func (c *BrokerEventConsumer) onFill(ev *FillEvent) error {
	// 未知 coid 的成交说明上游对账有问题，必须冒泡
	_, err := c.ledger.MarkPartial(context.Background(), ev.Coid, ev.Qty, ev.Price)
	return err
}

func (c *BrokerEventConsumer) onCancel(ev *CancelEvent) error {
	return c.ledger.MarkCancelled(context.Background(), ev.Coid)
}

func (c *BrokerEventConsumer) onReject(ev *RejectEvent) error {
	return c.ledger.MarkRejected(context.Background(), ev.Coid)
}
