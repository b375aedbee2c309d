package rewrite

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"covagg/pkg/contract"
)

// 忽略规则的方言：'*' 与 '?' 可跨越 '/'，"**/" 仍可匹配零层目录。
// 实现上把 '/' 替换为非分隔符后交给 doublestar，doublestar 的 '*' 因此不再止步于目录边界。
const globSep = "\x1f"

// ignoreGlob 为一条规则展开后的全部变体（已替换分隔符）。
type ignoreGlob []string

func compileIgnore(pattern string) (ignoreGlob, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: invalid ignore glob %q", contract.ErrInvalidInput, pattern)
	}
	variants := expandRecursive(strings.Split(pattern, "/"))
	g := make(ignoreGlob, 0, len(variants))
	for _, v := range variants {
		g = append(g, strings.ReplaceAll(v, "/", globSep))
	}
	return g, nil
}

// expandRecursive: 非末尾的 "**" 段可省略（对应零层目录）。
func expandRecursive(segs []string) []string {
	for i, s := range segs {
		if s != "**" || i == len(segs)-1 {
			continue
		}
		var out []string
		for _, tail := range expandRecursive(segs[i+1:]) {
			head := strings.Join(segs[:i], "/")
			if head != "" {
				out = append(out, head+"/**/"+tail, head+"/"+tail)
			} else {
				out = append(out, "**/"+tail, tail)
			}
		}
		return out
	}
	return []string{strings.Join(segs, "/")}
}

func (g ignoreGlob) match(rel string) bool {
	name := strings.ReplaceAll(rel, "/", globSep)
	for _, v := range g {
		if ok, _ := doublestar.Match(v, name); ok {
			return true
		}
	}
	return false
}
