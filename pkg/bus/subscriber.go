// 文件: pkg/bus/subscriber.go
// NATS 订阅端 - 按主题注册类型化处理器
//
// 处理器按事件类型签名，解码在总线层统一完成;
// 解码失败与处理失败都只记日志，不打断订阅

package bus

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// Subscriber NATS 订阅端
// queue 非空时所有订阅走同名队列组，多实例负载均衡
type Subscriber struct {
	conn  *nats.Conn
	queue string
	subs  []*nats.Subscription
}

// NewSubscriber 创建订阅端
func NewSubscriber(url, queue string) (*Subscriber, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Subscriber{conn: conn, queue: queue}, nil
}

// subscribe 单主题订阅，按 queue 决定普通/队列模式
func (s *Subscriber) subscribe(subject string, cb nats.MsgHandler) error {
	var (
		sub *nats.Subscription
		err error
	)
	if s.queue != "" {
		sub, err = s.conn.QueueSubscribe(subject, s.queue, cb)
	} else {
		sub, err = s.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Handle 注册 subject 的类型化处理器
// 消息解码为 T 后交给 fn; 处理错误只记日志，消息流不中断
func Handle[T any](s *Subscriber, subject string, fn func(*T) error) error {
	return s.subscribe(subject, func(msg *nats.Msg) {
		var ev T
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[Bus] decode failed: subject=%s, err=%v", msg.Subject, err)
			return
		}
		if err := fn(&ev); err != nil {
			log.Printf("[Bus] handle error: subject=%s, err=%v", msg.Subject, err)
		}
	})
}

// Close 退订并断开
func (s *Subscriber) Close() error {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.conn.Close()
	return nil
}
