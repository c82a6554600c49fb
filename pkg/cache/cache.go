// Package cache 带过期时间的键值缓存，用来在短时间窗口内复用代价较高的读请求。
package cache

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPrefix 所有键的固定命名空间前缀，避免与同一存储中的其他数据冲突
const DefaultPrefix = "dex:cache:"

// Entry 存储中的缓存条目，expiry 为 Unix 毫秒
type Entry struct {
	Data   string `json:"data"`
	Expiry int64  `json:"expiry"`
}

// Expiring 过期缓存。读到过期条目时视为未命中并删除该条目。
// 底层存储出错时一律降级为未命中，只记录日志，不向调用方返回错误。
type Expiring struct {
	store  Store
	prefix string
	now    func() time.Time
	log    *logrus.Entry
}

// Option 构造选项
type Option func(*Expiring)

// WithPrefix 替换默认前缀
func WithPrefix(prefix string) Option {
	return func(c *Expiring) { c.prefix = prefix }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(c *Expiring) { c.now = now }
}

// New 创建过期缓存
func New(store Store, opts ...Option) *Expiring {
	c := &Expiring{
		store:  store,
		prefix: DefaultPrefix,
		now:    time.Now,
		log:    logrus.WithField("component", "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Expiring) key(k string) string {
	return c.prefix + k
}

// Get 读取缓存值；过期或不存在返回 false
func (c *Expiring) Get(key string) (string, bool) {
	raw, ok, err := c.store.Get(c.key(key))
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache read failed")
		return "", false
	}
	if !ok {
		return "", false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.WithError(err).WithField("key", key).Debug("cache entry corrupted, evicting")
		c.Invalidate(key)
		return "", false
	}
	if c.now().UnixMilli() >= e.Expiry {
		c.Invalidate(key)
		return "", false
	}
	return e.Data, true
}

// Set 写入缓存，ttlSeconds 秒后过期
func (c *Expiring) Set(key, value string, ttlSeconds int) {
	e := Entry{
		Data:   value,
		Expiry: c.now().Add(time.Duration(ttlSeconds) * time.Second).UnixMilli(),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.store.Set(c.key(key), raw); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

// Invalidate 主动删除
func (c *Expiring) Invalidate(key string) {
	if err := c.store.Delete(c.key(key)); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache delete failed")
	}
}

// GetJSON 读取并解码 JSON 值
func (c *Expiring) GetJSON(key string, out interface{}) bool {
	s, ok := c.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		c.Invalidate(key)
		return false
	}
	return true
}

// SetJSON 编码为 JSON 后写入
func (c *Expiring) SetJSON(key string, value interface{}, ttlSeconds int) {
	b, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache encode failed")
		return
	}
	c.Set(key, string(b), ttlSeconds)
}
