package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zip"

	"covagg/pkg/contract"
)

// Zip: zip 归档输入。条目索引在打开时一次建立。
type Zip struct {
	name  string
	rc    *zip.ReadCloser
	files map[string]*zip.File
	order []string
}

var _ Archive = (*Zip)(nil)

// OpenZip 打开并索引 zip 归档；无法打开或解析为致命错误。
func OpenZip(path string) (*Zip, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open zip %q: %v", contract.ErrArchive, path, err)
	}
	z := &Zip{name: path, rc: rc, files: make(map[string]*zip.File, len(rc.File))}
	for _, f := range rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		key := contract.NormalizeSlash(f.Name)
		if _, dup := z.files[key]; dup {
			continue
		}
		z.files[key] = f
		z.order = append(z.order, key)
	}
	sort.Strings(z.order)
	return z, nil
}

func (z *Zip) Name() string { return z.name }

func (z *Zip) IsDir() bool { return false }

// Walk 按条目名字典序回调。
func (z *Zip) Walk(fn func(entry string) error) error {
	for _, name := range z.order {
		if err := fn(name); err != nil {
			return err
		}
	}
	return nil
}

func (z *Zip) open(entry string) (io.ReadCloser, bool, error) {
	f, ok := z.files[contract.NormalizeSlash(entry)]
	if !ok {
		return nil, false, nil
	}
	r, err := f.Open()
	if err != nil {
		return nil, true, fmt.Errorf("%w: %s!%s: %v", contract.ErrArchive, z.name, entry, err)
	}
	return r, true, nil
}

func (z *Zip) ReadInto(entry string, buf *bytes.Buffer) (bool, error) {
	r, ok, err := z.open(entry)
	if !ok || err != nil {
		return ok, err
	}
	defer r.Close()
	if _, err := buf.ReadFrom(r); err != nil {
		return true, fmt.Errorf("%w: read %s!%s: %v", contract.ErrArchive, z.name, entry, err)
	}
	return true, nil
}

// Materialize 将条目字节拷贝到 dest。
func (z *Zip) Materialize(entry, dest string) (bool, error) {
	r, ok, err := z.open(entry)
	if !ok || err != nil {
		return ok, err
	}
	defer r.Close()
	if err := ensureParent(dest); err != nil {
		return true, err
	}
	f, err := os.Create(dest)
	if err != nil {
		return true, err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return true, fmt.Errorf("extract %s!%s: %w", z.name, entry, err)
	}
	return true, f.Close()
}

func (z *Zip) Close() error { return z.rc.Close() }
