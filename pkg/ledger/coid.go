// 文件: pkg/ledger/coid.go
// 客户端订单号 (coid) 生成器
// 使用开源库: github.com/bwmarrin/snowflake

package ledger

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	initOnce sync.Once
)

// InitCoidNode 初始化雪花节点
// nodeID: 节点ID (0-1023)
func InitCoidNode(nodeID int64) error {
	var err error
	initOnce.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NewCoid 生成客户端订单号
// 形如 "C-7346533988110172161"，生命周期内唯一，作为幂等键
func NewCoid() string {
	if node == nil {
		// 未初始化则使用默认节点0
		InitCoidNode(0)
	}
	return "C-" + node.Generate().String()
}
