package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"covagg/pkg/contract"
)

// Options: 报告落盘选项。
type Options struct {
	// OutputDir: 报告根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 同目录临时文件 + rename；未提供时默认 true。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 为 0 表示默认 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用 64 KiB。
	BufSize int `json:"buf_size,omitempty"`
}

// FS: 报告写出到 OutputDir 下的相对路径。
type FS struct {
	root    string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Writer。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, contract.ErrInvalidInput
	}
	w := &FS{root: opts.OutputDir, atomic: true, permF: 0o644, permD: 0o755, bufSize: 64 * 1024}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	if opts.BufSize > 0 {
		w.bufSize = opts.BufSize
	}
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// Write 将 r 的全部字节写入 id 对应的目标路径。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	return w.stream(ctx, id, func(bw io.Writer) error {
		_, err := io.Copy(bw, readerWithCtx(ctx, r))
		return err
	})
}

// Emit 将 out 对 src 的序列化结果直接写入 id 对应的目标路径（不经中间缓冲）。
func (w *FS) Emit(ctx context.Context, id contract.ArtifactID, out contract.Output, src contract.EntrySource) error {
	return w.stream(ctx, id, func(bw io.Writer) error {
		return out.Write(ctx, src, bw)
	})
}

// Path 返回 id 映射到的目标路径。
func (w *FS) Path(id contract.ArtifactID) (string, error) { return w.mapPath(id) }

func (w *FS) stream(ctx context.Context, id contract.ArtifactID, fill func(io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	s, err := w.open(dest)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(s.f, w.bufSize)
	if err := fill(bw); err != nil {
		s.abort()
		return err
	}
	if err := bw.Flush(); err != nil {
		s.abort()
		return err
	}
	return s.commit()
}

// mapPath: Clean + Join；禁止绝对路径、父级逃逸与卷名。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if rel == "." || rel == "" || rel == ".." {
		return "", contract.ErrPathInvalid
	}
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", contract.ErrPathInvalid
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// sink: 目标文件句柄；原子模式下为同目录临时文件。
type sink struct {
	f    *os.File
	tmp  string
	dest string
}

func (w *FS) open(dest string) (*sink, error) {
	if !w.atomic {
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
		if err != nil {
			return nil, err
		}
		return &sink{f: f, dest: dest}, nil
	}
	f, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(f.Name(), w.permF)
	return &sink{f: f, tmp: f.Name(), dest: dest}, nil
}

func (s *sink) abort() {
	_ = s.f.Close()
	if s.tmp != "" {
		_ = os.Remove(s.tmp)
	}
}

func (s *sink) commit() error {
	if s.tmp == "" {
		return s.f.Close()
	}
	if err := s.f.Sync(); err != nil {
		s.abort()
		return err
	}
	if err := s.f.Close(); err != nil {
		_ = os.Remove(s.tmp)
		return err
	}
	// Windows 上 os.Rename 以 MOVEFILE_REPLACE_EXISTING 覆盖目标
	if err := os.Rename(s.tmp, s.dest); err != nil {
		_ = os.Remove(s.tmp)
		return err
	}
	if runtime.GOOS != "windows" {
		_ = syncDir(filepath.Dir(s.dest))
	}
	return nil
}

// syncDir 尽力同步父目录元数据。
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
