// 文件: pkg/audit/trail.go
// Kafka 审计留痕
//
// 特点:
// - 异步发送，交易路径不被审计 IO 阻塞
// - 发送失败只计数记日志，永不反向影响交易
// - 优雅关闭

package audit

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// =============================================================================
// 配置
// =============================================================================

// Config 审计流配置
type Config struct {
	Brokers        []string      // Kafka broker 地址列表
	RequiredAcks   int           // 确认模式: 0=不等待, 1=leader确认, -1=全部确认
	Compression    string        // 压缩方式: none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration // 刷新间隔
	FlushMessages  int           // 批量消息数
	MaxRetries     int           // 最大重试次数
}

// DefaultConfig 默认配置
func DefaultConfig(brokers []string) Config {
	return Config{
		Brokers:        brokers,
		RequiredAcks:   1,
		Compression:    "snappy",
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     3,
	}
}

// =============================================================================
// Trail
// =============================================================================

// Trail Kafka 审计留痕器
type Trail struct {
	producer sarama.AsyncProducer
	cfg      Config

	sentCount  atomic.Int64
	errorCount atomic.Int64

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewTrail 创建审计留痕器
func NewTrail(cfg Config) (*Trail, error) {
	sc := sarama.NewConfig()

	switch cfg.RequiredAcks {
	case 0:
		sc.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch cfg.Compression {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}

	sc.Producer.Flush.Frequency = cfg.FlushFrequency
	sc.Producer.Flush.Messages = cfg.FlushMessages
	sc.Producer.Retry.Max = cfg.MaxRetries

	// 异步模式: 只收错误回执
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("audit: create producer: %w", err)
	}

	t := &Trail{producer: producer, cfg: cfg}
	t.wg.Add(1)
	go t.handleErrors()
	return t, nil
}

// Record 记录一条审计事件 (异步)
func (t *Trail) Record(e Event) error {
	if t.closed.Load() {
		return fmt.Errorf("audit: trail is closed")
	}

	data, err := e.Value()
	if err != nil {
		return fmt.Errorf("audit: serialize event: %w", err)
	}

	t.producer.Input() <- &sarama.ProducerMessage{
		Topic: e.Topic(),
		Key:   sarama.StringEncoder(e.Key()),
		Value: sarama.ByteEncoder(data),
	}
	t.sentCount.Add(1)
	return nil
}

func (t *Trail) handleErrors() {
	defer t.wg.Done()
	for err := range t.producer.Errors() {
		t.errorCount.Add(1)
		log.Printf("[Audit] send error: topic=%s, err=%v", err.Msg.Topic, err.Err)
	}
}

// Stats 发送统计
type Stats struct {
	SentCount  int64
	ErrorCount int64
}

func (t *Trail) Stats() Stats {
	return Stats{
		SentCount:  t.sentCount.Load(),
		ErrorCount: t.errorCount.Load(),
	}
}

// Close 关闭并排空缓冲
func (t *Trail) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	err := t.producer.Close()
	t.wg.Wait()
	return err
}
