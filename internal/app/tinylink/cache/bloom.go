package cache

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter 记录已知短码集合，用来挡掉对确定不存在短码的存储查询。
// 返回 false 表示一定不存在；返回 true 表示可能存在（有误判率）。
type BloomFilter struct {
	filter *bloom.BloomFilter
	mu     sync.RWMutex
}

// NewBloomFilter 创建布隆过滤器。
// expectedItems: 预期短码数量；falsePositiveRate: 误判率（如 0.01）。
func NewBloomFilter(expectedItems uint, falsePositiveRate float64) *BloomFilter {
	return &BloomFilter{
		filter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}
}

func (b *BloomFilter) Add(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter.AddString(code)
}

func (b *BloomFilter) MightExist(code string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.TestString(code)
}

// Count 返回已添加的元素数量（估算）。
func (b *BloomFilter) Count() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.ApproximatedSize()
}
