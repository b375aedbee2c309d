package rewrite

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"covagg/pkg/contract"
)

// AmbiguousExt: 构建元数据只保留文件名的源文件类型，需要按源码树消歧。
const AmbiguousExt = ".java"

// basenameIndex: 文件名 → 源码树内相对路径（正斜杠，遍历顺序）。
type basenameIndex map[string][]string

// buildIndex 遍历源码目录一次：跳过点开头的条目与符号链接，跳过命中忽略规则的路径。
func buildIndex(sourceDir string, ignored func(string) bool) (basenameIndex, error) {
	idx := make(basenameIndex)
	err := filepath.WalkDir(sourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == sourceDir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignored(rel) {
			return nil
		}
		idx[d.Name()] = append(idx[d.Name()], rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk source directory %q: %v", contract.ErrArchive, sourceDir, err)
	}
	return idx, nil
}

// resolve 将只含部分目录的引用映射为源码树内唯一路径：
// - 唯一同名候选：直接采用；
// - 否则取以引用为路径后缀的唯一候选；
// - 多个后缀匹配：ErrAmbiguous（不猜测）；无匹配：原样返回。
func (idx basenameIndex) resolve(rel string) (string, error) {
	opts := idx[path.Base(rel)]
	switch len(opts) {
	case 0:
		return rel, nil
	case 1:
		return opts[0], nil
	}
	found := ""
	for _, o := range opts {
		if !hasPathSuffix(o, rel) {
			continue
		}
		if found != "" {
			return "", fmt.Errorf("%w: only one file in the source tree should end with %s (%s and %s both do)",
				contract.ErrAmbiguous, rel, found, o)
		}
		found = o
	}
	if found == "" {
		return rel, nil
	}
	return found, nil
}
