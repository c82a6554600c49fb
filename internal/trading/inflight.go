package trading

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrDuplicateSubmit 同一笔计划仍在提交中（或在 TTL 窗口内）
var ErrDuplicateSubmit = errors.New("duplicate submit in flight")

// inflight 短时间窗口内的确定性去重，防止连点重复提交。
// 分片 map，过期项在访问时惰性清理。
type inflight struct {
	ttl    time.Duration
	shards []inflightShard
}

type inflightShard struct {
	mu sync.Mutex
	m  map[string]time.Time // key -> expiresAt
}

func newInflight(ttl time.Duration, shardCount int) *inflight {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if shardCount <= 0 {
		shardCount = 16
	}
	shards := make([]inflightShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]time.Time)
	}
	return &inflight{ttl: ttl, shards: shards}
}

func (d *inflight) tryAcquire(key string, now time.Time) error {
	if d == nil || key == "" {
		return nil
	}
	sh := d.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for k, exp := range sh.m {
		if !exp.After(now) {
			delete(sh.m, k)
		}
	}
	if exp, ok := sh.m[key]; ok && exp.After(now) {
		return ErrDuplicateSubmit
	}
	sh.m[key] = now.Add(d.ttl)
	return nil
}

func (d *inflight) release(key string) {
	if d == nil || key == "" {
		return
	}
	sh := d.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

func (d *inflight) shard(key string) *inflightShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &d.shards[h.Sum32()%uint32(len(d.shards))]
}
