package archive

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"covagg/pkg/contract"
)

// Archive: zip 或目录输入的统一读取/落盘接口。
// 约束：
// 1) 条目名使用 '/'，调用方查找前无需关心平台分隔符（实现内部统一）；
// 2) Walk 以稳定顺序回调条目名；
// 3) 打开失败为致命错误（ErrArchive），条目不存在不是错误（返回 false）。
type Archive interface {
	// Name: 用户提供的输入名（用于日志/报错）。
	Name() string
	// Walk 遍历全部常规文件条目。
	Walk(fn func(entry string) error) error
	// ReadInto 将条目内容追加到 buf；返回条目是否存在。
	ReadInto(entry string, buf *bytes.Buffer) (bool, error)
	// Materialize 使条目出现在磁盘 dest：zip 拷贝字节，目录创建符号链接。
	Materialize(entry, dest string) (bool, error)
	// IsDir: 目录型输入（别名可硬链接而非重复拷贝）。
	IsDir() bool
	Close() error
}

// Open 按路径类型打开输入：.zip 后缀视为 zip，否则视为目录。
// 相对目录基于 cwd 绝对化。
func Open(path, cwd string) (Archive, error) {
	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		return OpenZip(path)
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(cwd, full)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("%w: open directory %q: %v", contract.ErrArchive, path, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %q is neither a zip archive nor a directory", contract.ErrArchive, path)
	}
	return &Dir{name: path, root: full}, nil
}

// OpenAll 依输入顺序打开全部归档；任一失败则关闭已打开者并返回错误。
func OpenAll(paths []string, cwd string) ([]Archive, error) {
	out := make([]Archive, 0, len(paths))
	for _, p := range paths {
		a, err := Open(p, cwd)
		if err != nil {
			CloseAll(out)
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// CloseAll 关闭全部归档，忽略错误。
func CloseAll(as []Archive) {
	for _, a := range as {
		_ = a.Close()
	}
}

func ensureParent(dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent of %q: %w", dest, err)
	}
	return nil
}
