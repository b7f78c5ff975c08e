package engine

import (
	"context"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/selection"
)

// cachedIndex holds the decoded entries of one index. The index value itself
// is kept to reject entries decoded from a different build at the same base.
type cachedIndex struct {
	index   selection.Index
	entries []selection.Entry
}

// findRange resolves the candidate block range for target. With the cache
// disabled it scans the index blocks and stops early. With the cache enabled
// a miss decodes every entry once and later lookups cost no I/O.
func (e *Engine) findRange(ctx context.Context, pool *buffer.Pool, idx selection.Index, target int) (lo, hi int, ok bool, err error) {
	if e.cache == nil {
		return selection.FindRange(pool, idx, target)
	}

	if entries, hit := e.cachedEntries(idx); hit {
		e.stats.TrackIndexCache(true)
		e.metrics.RecordIndexCache(ctx, true)
		lo, hi, ok = selection.RangeOf(entries, target)
		return lo, hi, ok, nil
	}
	e.stats.TrackIndexCache(false)
	e.metrics.RecordIndexCache(ctx, false)

	entries, err := selection.ReadEntries(pool, idx)
	if err != nil {
		return 0, 0, false, err
	}
	e.storeEntries(idx, entries)
	lo, hi, ok = selection.RangeOf(entries, target)
	return lo, hi, ok, nil
}

func (e *Engine) cachedEntries(idx selection.Index) ([]selection.Entry, bool) {
	if tracked, ok := e.indexed[idx.Blocks.Start]; !ok || tracked != idx {
		return nil, false
	}
	c, ok := e.cache.Get(idx.Blocks.Start)
	if !ok || c.index != idx {
		return nil, false
	}
	return c.entries, true
}

func (e *Engine) storeEntries(idx selection.Index, entries []selection.Entry) {
	cost := int64(len(entries))
	if cost == 0 {
		cost = 1
	}
	if !e.cache.Set(idx.Blocks.Start, cachedIndex{index: idx, entries: entries}, cost) {
		e.logger.Debug("index cache rejected index at block %d", idx.Blocks.Start)
		return
	}
	e.cache.Wait()
	e.indexed[idx.Blocks.Start] = idx
}

// invalidate evicts every cached index whose index blocks or data blocks
// include block id
func (e *Engine) invalidate(id int) {
	if e.cache == nil {
		return
	}
	for base, idx := range e.indexed {
		if idx.Blocks.Contains(id) || idx.Data.Contains(id) {
			e.cache.Del(base)
			delete(e.indexed, base)
			e.logger.Debug("write to block %d evicted cached index at block %d", id, base)
		}
	}
}

func (e *Engine) dropCache() {
	if e.cache == nil {
		return
	}
	e.cache.Clear()
	e.indexed = make(map[int]selection.Index)
}
