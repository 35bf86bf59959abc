// 文件: pkg/atomicio/lock.go
// 跨进程文件锁
//
// 协议:
// 1. 以 O_CREATE|O_EXCL 独占创建 <path>.lock 标记文件
// 2. 标记文件内写入持有者信息 (pid / 操作名 / 时间戳)，便于排查
// 3. 创建失败则退避重试，直到超时
// 4. 超过陈旧阈值的标记视为持有者已崩溃，直接回收

package atomicio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockTimeout 在超时时间内未能获取文件锁
var ErrLockTimeout = errors.New("atomicio: lock timeout")

// LockInfo 锁标记文件内容
type LockInfo struct {
	Path      string `json:"path"`
	PID       int    `json:"pid"`
	Operation string `json:"operation"`
	Timestamp int64  `json:"timestamp"` // Unix 毫秒
}

// fileLock 单个文件的锁句柄
type fileLock struct {
	lockPath string
}

// acquireLock 获取 path 对应的锁
// timeout: 重试总时长; staleAfter: 陈旧回收阈值
func acquireLock(path, operation string, timeout, staleAfter time.Duration) (*fileLock, error) {
	lockPath := path + ".lock"
	deadline := time.Now().Add(timeout)

	for {
		err := tryCreateLock(lockPath, path, operation)
		if err == nil {
			return &fileLock{lockPath: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock %s: %w", lockPath, err)
		}

		// 锁已存在，检查是否陈旧
		if reclaimIfStale(lockPath, staleAfter) {
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s (op=%s)", ErrLockTimeout, path, operation)
		}

		// 渐进退避: 基础 5ms + 已等待时间的 1%
		elapsed := timeout - time.Until(deadline)
		time.Sleep(5*time.Millisecond + elapsed/100)
	}
}

// tryCreateLock 独占创建锁文件并写入持有者信息
func tryCreateLock(lockPath, path, operation string) error {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	info := LockInfo{
		Path:      path,
		PID:       os.Getpid(),
		Operation: operation,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// reclaimIfStale 标记文件超过阈值则删除，返回是否已回收
func reclaimIfStale(lockPath string, staleAfter time.Duration) bool {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		// 读不到: 可能刚被持有者释放，回到重试循环
		return os.IsNotExist(err)
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// 标记文件损坏，直接回收
		os.Remove(lockPath)
		return true
	}

	age := time.Since(time.UnixMilli(info.Timestamp))
	if age > staleAfter {
		// 持有者大概率已崩溃
		os.Remove(lockPath)
		return true
	}
	return false
}

// release 释放锁
func (l *fileLock) release() {
	os.Remove(l.lockPath)
}

// CleanupStaleLocks 清扫目录下的孤儿锁标记
// 返回清理数量
func CleanupStaleLocks(dir string, maxAge time.Duration) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.lock"))
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, lockPath := range matches {
		st, err := os.Stat(lockPath)
		if err != nil {
			continue
		}
		if time.Since(st.ModTime()) > maxAge {
			if os.Remove(lockPath) == nil {
				cleaned++
			}
		}
	}
	return cleaned, nil
}
