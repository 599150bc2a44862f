package catalog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"recipe-recommender/internal/core/taxonomy"
)

type snapshot struct {
	byID  map[string]Recipe
	order []string
}

// MemoryCatalog 記憶體食譜目錄
//
// 讀取走不可變快照，不需加鎖；寫入以 copy-on-write 替換快照。
type MemoryCatalog struct {
	tax  *taxonomy.Taxonomy
	mu   sync.Mutex // 僅序列化寫入
	snap atomic.Pointer[snapshot]
}

// NewMemoryCatalog 創建記憶體食譜目錄
func NewMemoryCatalog(tax *taxonomy.Taxonomy, recipes ...Recipe) *MemoryCatalog {
	c := &MemoryCatalog{tax: tax}
	c.snap.Store(&snapshot{byID: map[string]Recipe{}})
	_ = c.Put(context.Background(), recipes...)
	return c
}

// Put 新增或覆寫食譜
func (c *MemoryCatalog) Put(_ context.Context, recipes ...Recipe) error {
	if len(recipes) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.snap.Load()
	next := &snapshot{byID: make(map[string]Recipe, len(old.byID)+len(recipes))}
	for id, r := range old.byID {
		next.byID[id] = r
	}
	for _, r := range recipes {
		next.byID[r.ID] = Canonicalize(c.tax, r)
	}
	next.order = make([]string, 0, len(next.byID))
	for id := range next.byID {
		next.order = append(next.order, id)
	}
	sort.Strings(next.order)

	c.snap.Store(next)
	return nil
}

// Query 查詢食譜
func (c *MemoryCatalog) Query(ctx context.Context, q Query) ([]Recipe, error) {
	s := c.snap.Load()
	out := make([]Recipe, 0, 64)
	for i, id := range s.order {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r := s.byID[id]
		if matches(&r, &q) {
			out = append(out, r)
		}
	}
	return orderAndLimit(out, &q), nil
}

// Get 取得單一食譜
func (c *MemoryCatalog) Get(_ context.Context, id string) (Recipe, error) {
	r, ok := c.snap.Load().byID[id]
	if !ok {
		return Recipe{}, ErrNotFound
	}
	return r, nil
}

// Count 返回食譜數量
func (c *MemoryCatalog) Count(_ context.Context) (int, error) {
	return len(c.snap.Load().order), nil
}
