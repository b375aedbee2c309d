package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"covagg/pkg/contract"
)

// Dir: 目录输入。条目名为相对 root 的 '/' 路径。
type Dir struct {
	name string
	root string
}

var _ Archive = (*Dir)(nil)

// NewDir 以绝对 root 构造目录输入（测试与调用方已确认目录存在时使用）。
func NewDir(name, root string) *Dir { return &Dir{name: name, root: root} }

func (d *Dir) Name() string { return d.name }

func (d *Dir) IsDir() bool { return true }

// Root 返回绝对根目录。
func (d *Dir) Root() string { return d.root }

// Walk 递归遍历 root，按字典序先子目录后文件回调。
// 指向常规文件的符号链接视为文件；目录符号链接不跟随。
func (d *Dir) Walk(fn func(entry string) error) error {
	return d.walk(d.root, fn)
}

func (d *Dir) walk(dir string, fn func(string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: walk %q: %v", contract.ErrArchive, d.name, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := d.walk(filepath.Join(dir, e.Name()), fn); err != nil {
			return err
		}
	}
	// 再文件
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&fs.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil || !t.Mode().IsRegular() {
				// 悬空链接或指向目录：忽略
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return fmt.Errorf("%w: %v", contract.ErrArchive, err)
		}
		if err := fn(filepath.ToSlash(rel)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dir) path(entry string) string {
	return filepath.Join(d.root, filepath.FromSlash(contract.NormalizeSlash(entry)))
}

// Path 返回条目的绝对磁盘路径。
func (d *Dir) Path(entry string) string { return d.path(entry) }

func (d *Dir) ReadInto(entry string, buf *bytes.Buffer) (bool, error) {
	f, err := os.Open(d.path(entry))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if _, err := buf.ReadFrom(f); err != nil {
		return true, fmt.Errorf("read %s/%s: %w", d.name, entry, err)
	}
	return true, nil
}

// Materialize 在 dest 创建指向源文件的符号链接（避免拷贝）。
func (d *Dir) Materialize(entry, dest string) (bool, error) {
	src := d.path(entry)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := ensureParent(dest); err != nil {
		return true, err
	}
	if err := os.Symlink(src, dest); err != nil {
		return true, fmt.Errorf("symlink %q -> %q: %w", dest, src, err)
	}
	return true, nil
}

func (d *Dir) Close() error { return nil }
