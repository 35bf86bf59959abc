// 文件: pkg/atomicio/store_test.go
// 原子存储并发与崩溃语义测试

package atomicio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterDoc struct {
	Count   int     `json:"count"`
	History []int64 `json:"history"`
}

func newCounterDoc() counterDoc {
	return counterDoc{}
}

// =============================================================================
// 测试: 并发 Update 不丢更新
// N 个 goroutine × 每个 M 次自增，最终计数必须恰好 N×M
// =============================================================================

func TestConcurrentUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.json")
	store := NewStore(DefaultConfig())

	const n = 8  // goroutine 数
	const m = 20 // 每个 goroutine 的自增次数

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < m; j++ {
				_, err := Update(store, path, newCounterDoc, func(d *counterDoc) error {
					d.Count++
					d.History = append(d.History, time.Now().UnixNano())
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	var final counterDoc
	require.True(t, store.Read(path, &final))
	assert.Equal(t, n*m, final.Count)
	assert.Len(t, final.History, n*m)
}

// =============================================================================
// 测试: 缺失/损坏文档 fail-closed 到默认值
// =============================================================================

func TestReadMissingReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(DefaultConfig())

	doc := counterDoc{Count: 42}
	ok := store.Read(filepath.Join(dir, "nope.json"), &doc)
	assert.False(t, ok)
	assert.Equal(t, 42, doc.Count) // 默认值保持不动
}

func TestReadCorruptReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	store := NewStore(DefaultConfig())
	var doc counterDoc
	ok := store.Read(path, &doc)
	assert.False(t, ok)
	assert.Equal(t, 0, doc.Count)
}

// =============================================================================
// 测试: 写入产生 .backup，临时文件不残留
// =============================================================================

func TestWriteBackupAndNoTempLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	store := NewStore(DefaultConfig())

	require.NoError(t, store.Write(path, counterDoc{Count: 1}))
	require.NoError(t, store.Write(path, counterDoc{Count: 2}))

	// 备份保留的是前一版
	backup, err := os.ReadFile(path + ".backup")
	require.NoError(t, err)
	var old counterDoc
	require.NoError(t, json.Unmarshal(backup, &old))
	assert.Equal(t, 1, old.Count)

	// 目录里没有残留的临时文件和锁
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp_")
		assert.NotContains(t, e.Name(), ".lock")
	}
}

// =============================================================================
// 测试: 目标目录不存在时写入自动建目录
// 锁标记与文档同目录，目录必须先于加锁就位
// =============================================================================

func TestWriteCreatesMissingDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "nested", "doc.json")
	store := NewStore(DefaultConfig())

	require.NoError(t, store.Write(path, counterDoc{Count: 1}))

	var doc counterDoc
	require.True(t, store.Read(path, &doc))
	assert.Equal(t, 1, doc.Count)
}

func TestUpdateCreatesMissingDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "doc.json")
	store := NewStore(DefaultConfig())

	// 首次 Update 就落在尚不存在的目录里: 必须成功且从默认值起步
	final, err := Update(store, path, newCounterDoc, func(d *counterDoc) error {
		d.Count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, final.Count)

	var doc counterDoc
	require.True(t, store.Read(path, &doc))
	assert.Equal(t, 1, doc.Count)
}

// =============================================================================
// 测试: 写入失败归入 ErrWriteFailure
// =============================================================================

func TestWriteFailureSentinel(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(DefaultConfig())

	// chan 无法序列化，走 marshal 失败分支
	err := store.Write(filepath.Join(dir, "doc.json"), make(chan int))
	assert.ErrorIs(t, err, ErrWriteFailure)
}

// =============================================================================
// 测试: Update 中 fn 报错则不落盘
// =============================================================================

func TestUpdateAbortLeavesDocumentIntact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	store := NewStore(DefaultConfig())
	require.NoError(t, store.Write(path, counterDoc{Count: 7}))

	_, err := Update(store, path, newCounterDoc, func(d *counterDoc) error {
		d.Count = 99
		return assert.AnError
	})
	require.Error(t, err)

	var doc counterDoc
	require.True(t, store.Read(path, &doc))
	assert.Equal(t, 7, doc.Count)
}

// =============================================================================
// 测试: 锁超时与陈旧锁回收
// =============================================================================

func TestLockTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	// 手工放一个新鲜的锁标记占住
	info, _ := json.Marshal(LockInfo{Path: path, PID: os.Getpid(), Operation: "test", Timestamp: time.Now().UnixMilli()})
	require.NoError(t, os.WriteFile(path+".lock", info, 0644))

	store := NewStore(Config{LockTimeout: 100 * time.Millisecond, StaleAfter: time.Hour})
	err := store.Write(path, counterDoc{Count: 1})
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestStaleLockReclaimed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	// 一小时前的锁: 持有者早就崩了
	stale, _ := json.Marshal(LockInfo{Path: path, PID: 99999, Operation: "write", Timestamp: time.Now().Add(-time.Hour).UnixMilli()})
	require.NoError(t, os.WriteFile(path+".lock", stale, 0644))

	store := NewStore(Config{LockTimeout: time.Second, StaleAfter: time.Minute})
	require.NoError(t, store.Write(path, counterDoc{Count: 1}))

	var doc counterDoc
	assert.True(t, store.Read(path, &doc))
	assert.Equal(t, 1, doc.Count)
}

func TestCleanupStaleLocks(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "a.json.lock")
	require.NoError(t, os.WriteFile(old, []byte("{}"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	fresh := filepath.Join(dir, "b.json.lock")
	require.NoError(t, os.WriteFile(fresh, []byte("{}"), 0644))

	cleaned, err := CleanupStaleLocks(dir, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
