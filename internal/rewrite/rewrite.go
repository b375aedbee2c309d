package rewrite

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"covagg/pkg/contract"
)

// Filter: 覆盖过滤三态。
type Filter int

const (
	FilterNone Filter = iota
	// FilterCovered 仅保留至少一行执行次数非零的文件
	FilterCovered
	// FilterUncovered 仅保留全部行执行次数为零的文件
	FilterUncovered
)

// ParseFilter 解析配置值：""/"none"、"covered"、"uncovered"。
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "all":
		return FilterNone, nil
	case "covered":
		return FilterCovered, nil
	case "uncovered":
		return FilterUncovered, nil
	default:
		return FilterNone, fmt.Errorf("%w: unknown filter %q", contract.ErrInvalidInput, s)
	}
}

func (f Filter) String() string {
	switch f {
	case FilterCovered:
		return "covered"
	case FilterUncovered:
		return "uncovered"
	default:
		return "none"
	}
}

// Options 路径重写参数。
type Options struct {
	// Mapping: 覆盖表，优先于其后全部步骤
	Mapping map[string]string
	// SourceDir: 绝对源码目录（可选）
	SourceDir string
	// Prefix: 需剥离的前缀（可选）
	Prefix            string
	IgnoreNotExisting bool
	// Ignore: 匹配相对路径的 glob；'*' 可跨越目录
	Ignore []string
	Filter Filter
}

// Iterator: 一次性、不可重启的输出序列。
// 结果映射的所有权在 New 时转移给 Iterator，逐项移出。
type Iterator struct {
	results contract.ResultMap
	keys    []string
	pos     int

	mapping   map[string]string
	sourceDir string // 正斜杠形式
	prefix    string
	ignoreNE  bool
	ignore    []ignoreGlob
	filter    Filter
	index     basenameIndex

	// 最近命中的祖先（guessAbs 显式传递）
	ancestor string

	cur contract.Entry
	err error
}

// New 校验参数、建立源码树文件名索引，并返回按键排序遍历的迭代器。
func New(results contract.ResultMap, opts Options) (*Iterator, error) {
	ignore := make([]ignoreGlob, 0, len(opts.Ignore))
	for _, p := range opts.Ignore {
		g, err := compileIgnore(p)
		if err != nil {
			return nil, err
		}
		ignore = append(ignore, g)
	}
	it := &Iterator{
		results:  results,
		mapping:  opts.Mapping,
		prefix:   contract.NormalizeSlash(opts.Prefix),
		ignoreNE: opts.IgnoreNotExisting,
		ignore:   ignore,
		filter:   opts.Filter,
	}
	if opts.SourceDir != "" {
		if !filepath.IsAbs(opts.SourceDir) {
			return nil, fmt.Errorf("%w: source directory %q must be absolute", contract.ErrInvalidInput, opts.SourceDir)
		}
		src, _ := canonicalize(opts.SourceDir)
		idx, err := buildIndex(src, it.ignored)
		if err != nil {
			return nil, err
		}
		it.sourceDir = filepath.ToSlash(src)
		it.index = idx
	}
	it.keys = make([]string, 0, len(results))
	for k := range results {
		it.keys = append(it.keys, k)
	}
	sort.Strings(it.keys)
	return it, nil
}

func (it *Iterator) ignored(rel string) bool {
	for _, g := range it.ignore {
		if g.match(rel) {
			return true
		}
	}
	return false
}

// Next 前进到下一个保留的条目；出错或耗尽时返回 false（见 Err）。
func (it *Iterator) Next() bool {
	for it.err == nil && it.pos < len(it.keys) {
		k := it.keys[it.pos]
		it.pos++
		r := it.results[k]
		delete(it.results, k)
		e, keep, err := it.rewrite(k, r)
		if err != nil {
			it.err = err
			return false
		}
		if keep {
			it.cur = e
			return true
		}
	}
	return false
}

// Entry 返回当前条目（仅在 Next 返回 true 后有效）。
func (it *Iterator) Entry() contract.Entry { return it.cur }

// Err 返回致命错误（例如 ErrAmbiguous）。
func (it *Iterator) Err() error { return it.err }

func (it *Iterator) rewrite(key string, r *contract.CovResult) (contract.Entry, bool, error) {
	p := contract.NormalizeSlash(key)

	rel := applyMapping(it.mapping, p)
	rel = removePrefix(it.prefix, rel)

	if it.index != nil && path.Ext(rel) == AmbiguousExt {
		resolved, err := it.index.resolve(rel)
		if err != nil {
			return contract.Entry{}, false, err
		}
		rel = resolved
	}

	var abs string
	switch {
	case isAbs(rel):
		abs = rel
	case it.sourceDir != "":
		abs = guessAbs(it.sourceDir, rel, &it.ancestor)
	default:
		abs = rel
	}
	abs = filepath.FromSlash(abs)
	if c, ok := canonicalize(abs); ok {
		abs = c
	}

	rel = fixupRel(it.sourceDir, filepath.ToSlash(abs), rel)
	rel = contract.NormalizeSlash(rel)

	if it.ignored(rel) {
		return contract.Entry{}, false, nil
	}
	if it.ignoreNE {
		if _, err := os.Stat(abs); err != nil {
			return contract.Entry{}, false, nil
		}
	}
	switch it.filter {
	case FilterCovered:
		if !r.IsCovered() {
			return contract.Entry{}, false, nil
		}
	case FilterUncovered:
		if r.IsCovered() {
			return contract.Entry{}, false, nil
		}
	}
	return contract.Entry{Abs: abs, Rel: rel, Result: r}, true, nil
}

// Collect 排空迭代器（测试与小规模调用使用）。
func Collect(it *Iterator) ([]contract.Entry, error) {
	var out []contract.Entry
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}
