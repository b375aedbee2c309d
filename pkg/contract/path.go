package contract

import (
	"path"
	"strings"
)

// NormalizeSlash 将反斜杠统一为正斜杠，不做其他清理。
// 归档内键与重写后的相对路径均使用正斜杠。
func NormalizeSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// NormalizeFileID 规范化路径为跨平台稳定形式。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) string {
	return path.Clean(NormalizeSlash(p))
}

// Stem 去掉 name 最后一个路径段上的扩展名（保留目录部分）。
func Stem(name string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext)
}
