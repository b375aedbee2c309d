package consumer

import (
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCanonCacheSize 规范化缓存容量（文件键数量级）。
const DefaultCanonCacheSize = 4096

// Canonicalizer 将解码出的文件键相对源码目录解析为真实路径。
// 同一文件键在多个任务中反复出现，结果经 LRU 缓存在全部消费者间共享。
type Canonicalizer struct {
	sourceDir string
	cache     *lru.Cache[string, string]
}

// NewCanonicalizer: sourceDir 为空时返回 nil（调用方视为不规范化）。
func NewCanonicalizer(sourceDir string, size int) (*Canonicalizer, error) {
	if sourceDir == "" {
		return nil, nil
	}
	if size <= 0 {
		size = DefaultCanonCacheSize
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("canon cache: %w", err)
	}
	return &Canonicalizer{sourceDir: sourceDir, cache: c}, nil
}

// Key 返回 canonicalize(join(sourceDir, raw))；失败（例如路径尚不存在）回退原始键。
// 使 foo/./bar 与 foo/bar 归并到同一键。
func (c *Canonicalizer) Key(raw string) string {
	if c == nil {
		return raw
	}
	if v, ok := c.cache.Get(raw); ok {
		return v
	}
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.sourceDir, filepath.FromSlash(raw))
	}
	out := raw
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		if abs, err := filepath.Abs(resolved); err == nil {
			out = abs
		}
	}
	c.cache.Add(raw, out)
	return out
}
