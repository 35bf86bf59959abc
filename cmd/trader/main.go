// 文件: cmd/trader/main.go
// 交易守护进程入口
//
// 组装: 台账 (MySQL 或内存) + 风险治理 (atomicio 文件) + 告警 (Redis 或内存冷却)
//      + 审计 (Kafka，可选) + 券商事件消费 (NATS，可选)
//
// 环境变量:
//   TRADER_DATA_DIR     风险状态文档目录 (默认 ./data)
//   TRADER_SYMBOL       交易标的 (默认 XAUUSD)
//   MYSQL_DSN           台账 MySQL DSN，缺省用内存仓储
//   NATS_URL            券商事件总线地址，缺省不启动消费
//   REDIS_ADDR          告警冷却 Redis 地址，缺省用内存冷却
//   KAFKA_BROKERS       审计 Kafka broker 列表 (逗号分隔)，缺省关闭审计
//   SNOWFLAKE_NODE      coid 生成节点号 (默认 1)
//   RETENTION_DAYS      终态订单保留天数 (默认 30)

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"aurum.com/pkg/alert"
	"aurum.com/pkg/atomicio"
	"aurum.com/pkg/audit"
	"aurum.com/pkg/bus"
	"aurum.com/pkg/executor"
	"aurum.com/pkg/ledger"
	"aurum.com/pkg/risk"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("[Main] invalid %s=%q, using %d", key, os.Getenv(key), def)
	}
	return def
}

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Println("[Main] starting trader...")

	dataDir := getEnv("TRADER_DATA_DIR", "./data")
	symbol := getEnv("TRADER_SYMBOL", "XAUUSD")

	// coid 生成器
	if err := ledger.InitCoidNode(int64(getEnvInt("SNOWFLAKE_NODE", 1))); err != nil {
		log.Fatalf("[Main] init coid node: %v", err)
	}

	// 台账仓储: MySQL 或内存
	var repo ledger.OrderRepository
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Fatalf("[Main] connect mysql: %v", err)
		}
		if err := db.AutoMigrate(&ledger.Order{}, &ledger.Fill{}); err != nil {
			log.Fatalf("[Main] migrate: %v", err)
		}
		repo = ledger.NewMySQLOrderRepository(db)
		log.Println("[Main] ledger: mysql")
	} else {
		repo = ledger.NewMemoryOrderRepository()
		log.Println("[Main] ledger: in-memory")
	}
	book := ledger.NewLedger(repo)

	// 风险治理: 两份文档都落在 dataDir
	riskCfg := risk.DefaultConfig()
	if err := riskCfg.Validate(); err != nil {
		log.Fatalf("[Main] risk config: %v", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("[Main] create data dir: %v", err)
	}
	// 上次异常退出可能留下陈旧锁，启动时先清掉
	if cleaned, err := atomicio.CleanupStaleLocks(dataDir, 5*time.Minute); err != nil {
		log.Printf("[Main] stale lock sweep failed: %v", err)
	} else if cleaned > 0 {
		log.Printf("[Main] reclaimed %d stale locks", cleaned)
	}
	store := atomicio.NewStore(atomicio.DefaultConfig())
	gov := risk.NewGovernor(riskCfg, store, filepath.Join(dataDir, "risk_state.json"))
	govV2 := risk.NewGovernorV2(riskCfg, store, filepath.Join(dataDir, "risk_state_v2.json"))

	// 告警: Redis 冷却或内存冷却
	var gate alert.CooldownGate
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rg := alert.NewRedisCooldownGate(addr, 5*time.Minute)
		defer rg.Close()
		gate = rg
		log.Println("[Main] alert cooldown: redis")
	} else {
		gate = alert.NewMemoryCooldownGate(5 * time.Minute)
		log.Println("[Main] alert cooldown: in-memory")
	}

	// 消息总线 (可选)
	var publisher *bus.Publisher
	natsURL := os.Getenv("NATS_URL")
	if natsURL != "" {
		p, err := bus.NewPublisher(natsURL)
		if err != nil {
			log.Fatalf("[Main] connect nats: %v", err)
		}
		defer p.Close()
		publisher = p
	}
	dispatcher := alert.NewDispatcher(gate, publisher, alert.LogSink{})

	// 审计留痕 (可选)
	var trail *audit.Trail
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		t, err := audit.NewTrail(audit.DefaultConfig(strings.Split(brokers, ",")))
		if err != nil {
			log.Fatalf("[Main] create audit trail: %v", err)
		}
		defer t.Close()
		trail = t
		log.Println("[Main] audit: kafka")
	}

	// 执行器
	execCfg := executor.DefaultConfig()
	execCfg.RetentionMaxAge = time.Duration(getEnvInt("RETENTION_DAYS", 30)) * 24 * time.Hour
	broker := executor.NewPaperBroker(2500.0)
	exec := executor.NewExecutor(execCfg, broker, book, gov, govV2, dispatcher, trail)
	exec.Start()
	defer exec.Stop()

	// 券商事件消费 (可选): 异步券商的 accept/fill/cancel 回报落台账
	if natsURL != "" {
		consumer, err := ledger.NewBrokerEventConsumer(book, natsURL)
		if err != nil {
			log.Fatalf("[Main] create broker consumer: %v", err)
		}
		if err := consumer.Start(); err != nil {
			log.Fatalf("[Main] start broker consumer: %v", err)
		}
		defer consumer.Stop()
		log.Println("[Main] broker events: nats")
	}

	// 启动快照
	report := gov.GenerateReport()
	log.Printf("[Main] risk: level=%s, breaker=%s, daily_loss=%.2f%%",
		report.RiskLevel, report.BreakerState, report.Metrics.DailyLossPct)
	summary := govV2.StateSummary(time.Now())
	log.Printf("[Main] risk v2: trades_today=%d/%d, can_trade=%v",
		summary.TradesToday, summary.SessionLimit, summary.CanTradeNow)

	counts, err := book.GetOrderCountByStatus(context.Background())
	if err != nil {
		log.Printf("[Main] order counts unavailable: %v", err)
	} else {
		log.Printf("[Main] ledger: %v", counts)
	}
	log.Printf("[Main] trading %s, waiting for signals", symbol)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[Main] shutting down...")
}
