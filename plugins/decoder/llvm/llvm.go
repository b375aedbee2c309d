package llvm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"covagg/pkg/contract"
	"covagg/plugins/decoder/gcov"
)

// EnvTool: 覆盖默认 llvm-cov 可执行文件。
const EnvTool = "LLVM_COV"

// Options: 替代工具链选项。
type Options struct {
	// Tool: llvm-cov 可执行文件；为空时取 $LLVM_COV，再退回 "llvm-cov"
	Tool string   `json:"tool,omitempty"`
	Args []string `json:"args,omitempty"`
}

// Decoder 将 notes/data 缓冲落入工作目录后调用 `llvm-cov gcov -i`。
type Decoder struct {
	tool  string
	args  []string
	modes gcov.Modes
}

func New(opts *Options) *Decoder {
	d := &Decoder{tool: "llvm-cov"}
	if v := strings.TrimSpace(os.Getenv(EnvTool)); v != "" {
		d.tool = v
	}
	if opts != nil {
		if opts.Tool != "" {
			d.tool = opts.Tool
		}
		d.args = append([]string(nil), opts.Args...)
	}
	return d
}

func (d *Decoder) Tool() string { return d.tool }

// DecodeBuffers: 缓冲以 <stem 文件名>.gcno/.gcda 写入 workDir；data 为空（孤立 notes）时不写 .gcda。
// 输入与产物在返回前全部删除。
func (d *Decoder) DecodeBuffers(ctx context.Context, b contract.Buffers, workDir string, branch bool) ([]contract.Fragment, error) {
	if b.Notes == nil || len(b.Notes.Bytes()) == 0 {
		return nil, fmt.Errorf("empty notes buffer for %s", b.Stem)
	}
	base := filepath.Base(b.Stem)
	notes := filepath.Join(workDir, base+".gcno")
	data := filepath.Join(workDir, base+".gcda")
	defer os.Remove(notes)
	defer os.Remove(data)

	if err := os.WriteFile(notes, b.Notes.Bytes(), 0o644); err != nil {
		return nil, err
	}
	if len(b.Data) > 0 {
		if err := os.WriteFile(data, b.Data, 0o644); err != nil {
			return nil, err
		}
	}

	args := []string{"gcov", "-i"}
	if branch {
		args = append(args, "-b")
	}
	args = append(args, d.args...)
	args = append(args, notes)
	if err := gcov.Exec(ctx, d.tool, args, workDir); err != nil {
		gcov.RemoveArtifacts(workDir)
		return nil, err
	}
	return d.modes.Collect(workDir, notes, branch)
}

var _ contract.BufferDecoder = (*Decoder)(nil)
