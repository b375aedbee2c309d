package rewrite

import (
	"path"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// 以下工具均作用于正斜杠形式的路径，按路径分量（而非字符）比较。

func flipFirst(s string, upper bool) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	if upper {
		return string(unicode.ToUpper(r)) + s[n:]
	}
	return string(unicode.ToLower(r)) + s[n:]
}

// applyMapping: 先查首字母小写变体，再查首字母大写变体；未命中原样返回。
func applyMapping(m map[string]string, p string) string {
	if len(m) == 0 || p == "" {
		return p
	}
	if v, ok := m[flipFirst(p, false)]; ok {
		return v
	}
	if v, ok := m[flipFirst(p, true)]; ok {
		return v
	}
	return p
}

// isAbs 判断正斜杠路径是否为宿主平台绝对路径。
func isAbs(p string) bool {
	return path.IsAbs(p) || filepath.IsAbs(filepath.FromSlash(p))
}

// hasPathPrefix: p 按分量以 prefix 开头（prefix 为空恒假）。
func hasPathPrefix(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	p, prefix = path.Clean(p), path.Clean(prefix)
	if p == prefix {
		return true
	}
	if strings.HasSuffix(prefix, "/") {
		// 根目录
		return strings.HasPrefix(p, prefix)
	}
	return strings.HasPrefix(p, prefix+"/")
}

// trimPathPrefix 去掉分量前缀；调用方需先确认 hasPathPrefix。
func trimPathPrefix(p, prefix string) string {
	p, prefix = path.Clean(p), path.Clean(prefix)
	if p == prefix {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, prefix), "/")
}

// hasPathSuffix: p 按分量以相对路径 suffix 结尾。
func hasPathSuffix(p, suffix string) bool {
	if suffix == "" || suffix == "." || isAbs(suffix) {
		return false
	}
	p, suffix = path.Clean(p), path.Clean(suffix)
	return p == suffix || strings.HasSuffix(p, "/"+suffix)
}

// removePrefix: 存在前缀时剥离，否则原样。
func removePrefix(prefix, p string) string {
	if hasPathPrefix(p, prefix) {
		return trimPathPrefix(p, prefix)
	}
	return p
}

// guessAbs 寻找 rel 的最长祖先，使源码目录以该祖先结尾，并把剩余部分拼到源码目录下。
// cache 记住最近一次命中的祖先；同一子树下的条目通常命中同一祖先。空串表示无缓存。
func guessAbs(sourceDir, rel string, cache *string) string {
	if cache != nil && *cache != "" && hasPathPrefix(rel, *cache) {
		return path.Join(sourceDir, trimPathPrefix(rel, *cache))
	}
	for anc := path.Clean(rel); anc != "." && anc != "/" && anc != ""; anc = path.Dir(anc) {
		if hasPathSuffix(sourceDir, anc) {
			if cache != nil {
				*cache = anc
			}
			return path.Join(sourceDir, trimPathPrefix(rel, anc))
		}
	}
	return path.Join(sourceDir, rel)
}

// canonicalize 解析符号链接并绝对化；失败返回原值与 false。
func canonicalize(p string) (string, bool) {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return p, false
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return p, false
	}
	return abs, true
}

// fixupRel: 绝对路径位于源码目录下时以其后缀为相对路径；
// 否则若相对路径仍为绝对路径，则取绝对路径本身。
func fixupRel(sourceDir, abs, rel string) string {
	if sourceDir == "" {
		return rel
	}
	if hasPathPrefix(abs, sourceDir) {
		return trimPathPrefix(abs, sourceDir)
	}
	if isAbs(rel) {
		return abs
	}
	return rel
}
