// 文件: pkg/atomicio/store.go
// 崩溃安全的 JSON 文档存储
//
// 核心保证:
// 1. 读者永远看不到半截文档 (临时文件 + fsync + 原子 rename)
// 2. 写入中途崩溃，旧文档完好无损
// 3. Update 在一次加锁内完成 读取→变换→写入，不存在丢失更新

package atomicio

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// ErrWriteFailure 文档写入失败 (临时文件 / fsync / rename 任一环节)
var ErrWriteFailure = errors.New("atomicio: write failure")

// =============================================================================
// Store 配置
// =============================================================================

// Config Store 配置
type Config struct {
	LockTimeout time.Duration // 锁获取超时
	StaleAfter  time.Duration // 锁陈旧回收阈值
	Backup      bool          // 写前保留 .backup 副本
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		LockTimeout: 10 * time.Second,
		StaleAfter:  5 * time.Minute,
		Backup:      true,
	}
}

// =============================================================================
// Store
// =============================================================================

// Store JSON 文档存储
// 每个实例独立持有配置，无全局状态
type Store struct {
	cfg Config
}

// NewStore 创建存储
func NewStore(cfg Config) *Store {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Store{cfg: cfg}
}

// =============================================================================
// 读取
// =============================================================================

// Read 读取文档并反序列化到 into
// 文件缺失或内容损坏时不报错: into 保持原值 (调用方默认值)，返回 false
// 风险类调用方依赖这一语义 fail-closed 到空状态
func (s *Store) Read(path string, into any) bool {
	lock, err := acquireLock(path, "read", s.cfg.LockTimeout, s.cfg.StaleAfter)
	if err != nil {
		log.Printf("[AtomicIO] read lock failed: path=%s, err=%v", path, err)
		return false
	}
	defer lock.release()

	return s.readLocked(path, into)
}

// readLocked 已持锁的读取
func (s *Store) readLocked(path string, into any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[AtomicIO] read failed: path=%s, err=%v", path, err)
		}
		return false
	}
	if err := json.Unmarshal(data, into); err != nil {
		log.Printf("[AtomicIO] corrupt document, falling back to default: path=%s, err=%v", path, err)
		return false
	}
	return true
}

// =============================================================================
// 写入
// =============================================================================

// Write 原子写入文档
// 建目录 → 加锁 → 备份 → 临时文件 → fsync → rename → 解锁
// 目录必须在加锁前就位: 锁标记是目标文件的同目录兄弟
func (s *Store) Write(path string, v any) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	lock, err := acquireLock(path, "write", s.cfg.LockTimeout, s.cfg.StaleAfter)
	if err != nil {
		return err
	}
	defer lock.release()

	return s.writeLocked(path, v)
}

// ensureDir 确保目标文件的父目录存在
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrWriteFailure, dir, err)
	}
	return nil
}

// writeLocked 已持锁的写入
func (s *Store) writeLocked(path string, v any) error {
	dir := filepath.Dir(path)

	// 备份旧文档
	if s.cfg.Backup {
		if old, err := os.ReadFile(path); err == nil {
			if err := os.WriteFile(path+".backup", old, 0644); err != nil {
				log.Printf("[AtomicIO] backup failed: path=%s, err=%v", path, err)
			}
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrWriteFailure, path, err)
	}

	// 同目录临时文件，保证 rename 原子
	tmp, err := os.CreateTemp(dir, ".tmp_"+filepath.Base(path)+"_*")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %v", ErrWriteFailure, path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write %s: %v", ErrWriteFailure, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: fsync %s: %v", ErrWriteFailure, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp for %s: %v", ErrWriteFailure, path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename %s: %v", ErrWriteFailure, path, err)
	}
	return nil
}

// =============================================================================
// 读改写
// =============================================================================

// Update 单次加锁内完成 读取→fn→写入
// loadDefault 构造文档缺失/损坏时的初始值
// fn 原地修改文档; 返回错误则放弃写入，原文档不动
func Update[T any](s *Store, path string, loadDefault func() T, fn func(*T) error) (T, error) {
	var zero T

	if err := ensureDir(path); err != nil {
		return zero, err
	}
	lock, err := acquireLock(path, "update", s.cfg.LockTimeout, s.cfg.StaleAfter)
	if err != nil {
		return zero, err
	}
	defer lock.release()

	doc := loadDefault()
	s.readLocked(path, &doc)

	if err := fn(&doc); err != nil {
		return zero, err
	}

	if err := s.writeLocked(path, doc); err != nil {
		return zero, err
	}
	return doc, nil
}
