package vectorstore

import (
	"github.com/codesage-ai/codesage/internal/cache"
	"github.com/codesage-ai/codesage/pkg/models"
)

// l1 is the hot tier: a capacity-bounded LRU of full fragments keyed by
// id, guarded by internal/cache.LRU's own single mutex. Grounded on
// internal/cache/dedupe.go's touch/prune idiom, generalized from
// TTL-eviction to size-eviction.
type l1 struct {
	lru *cache.LRU[*models.EmbeddingFragment]
}

func newL1(capacity int) *l1 {
	return &l1{lru: cache.NewLRU[*models.EmbeddingFragment](capacity)}
}

func (t *l1) get(id string) (*models.EmbeddingFragment, bool) {
	return t.lru.Get(id)
}

func (t *l1) put(frag *models.EmbeddingFragment) {
	t.lru.Put(frag.ID, frag)
}

func (t *l1) delete(id string) {
	t.lru.Delete(id)
}
