package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
//   0 - 41位时间戳 - 10位节点ID - 12位序列号
//
// 托管号、里程碑号、流水号都带业务前缀，便于排查时一眼区分。
// 多实例部署时每个实例必须配置不同的节点ID。
// ============================================================================

const (
	PrefixEscrow      = "ESC"
	PrefixMilestone   = "MS"
	PrefixTransaction = "TXN"
)

var (
	node *snowflake.Node
	mu   sync.Mutex
)

// Init 初始化默认节点，nodeID 取值 0-1023
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("初始化雪花节点失败: %w", err)
	}
	node = n
	return nil
}

func defaultNode() *snowflake.Node {
	mu.Lock()
	defer mu.Unlock()
	if node == nil {
		node, _ = snowflake.NewNode(1)
	}
	return node
}

func generate(prefix string) string {
	return prefix + defaultNode().Generate().String()
}

// GenerateEscrowID 例如 ESC1849583921847201792
func GenerateEscrowID() string {
	return generate(PrefixEscrow)
}

func GenerateMilestoneID() string {
	return generate(PrefixMilestone)
}

func GenerateTransactionNo() string {
	return generate(PrefixTransaction)
}
