// 文件: pkg/bus/publisher.go
// NATS 消息发布者
// 承载券商事件回流与风险事件广播

package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// 域内主题
const (
	SubjectOrderAccepted  = "broker.order.accepted"
	SubjectOrderFill      = "broker.order.fill"
	SubjectOrderCancelled = "broker.order.cancelled"
	SubjectOrderRejected  = "broker.order.rejected"
	SubjectRiskAlert      = "risk.alert"
	SubjectBreakerTripped = "risk.breaker.tripped"
)

// Publisher NATS 发布者
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher 创建发布者
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Publish 发布消息 (JSON 序列化)
func (p *Publisher) Publish(subject string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, bytes)
}

// PublishRaw 发布原始消息
func (p *Publisher) PublishRaw(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

// Close 关闭连接
func (p *Publisher) Close() {
	p.conn.Close()
}
