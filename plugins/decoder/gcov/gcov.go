package gcov

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"covagg/pkg/contract"
)

// EnvTool: 覆盖默认 gcov 可执行文件。
const EnvTool = "GCOV"

// Options: 原生转储工具选项。
type Options struct {
	// Tool: 可执行文件；为空时取 $GCOV，再退回 "gcov"
	Tool string `json:"tool,omitempty"`
	// JSON: 使用 --json-format（gcc 9+）替代 -i 中间格式
	JSON bool `json:"json,omitempty"`
	// Args: 追加参数
	Args []string `json:"args,omitempty"`
}

// Decoder 运行 gcov 并解析其产物。并发安全：每个 workDir 同时只有一个调用者。
type Decoder struct {
	tool  string
	json  bool
	args  []string
	modes Modes
}

// New 创建原生解码器。
func New(opts *Options) *Decoder {
	d := &Decoder{tool: "gcov"}
	if v := strings.TrimSpace(os.Getenv(EnvTool)); v != "" {
		d.tool = v
	}
	if opts != nil {
		if opts.Tool != "" {
			d.tool = opts.Tool
		}
		d.json = opts.JSON
		d.args = append([]string(nil), opts.Args...)
	}
	return d
}

// Tool 返回实际使用的可执行文件名。
func (d *Decoder) Tool() string { return d.tool }

func (d *Decoder) Decode(ctx context.Context, notesPath, workDir string, branch bool) ([]contract.Fragment, error) {
	abs, err := filepath.Abs(notesPath)
	if err != nil {
		return nil, err
	}
	args := []string{abs}
	if d.json {
		args = append(args, "--json-format")
	} else {
		args = append(args, "-i")
	}
	if branch {
		args = append(args, "-b")
	}
	args = append(args, d.args...)
	if err := Exec(ctx, d.tool, args, workDir); err != nil {
		RemoveArtifacts(workDir)
		return nil, err
	}
	return d.modes.Collect(workDir, abs, branch)
}

// Exec 在 workDir 中运行外部工具；失败时附带 stderr 尾部。
func Exec(ctx context.Context, tool string, args []string, workDir string) error {
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Dir = workDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = "..." + msg[len(msg)-512:]
		}
		if msg != "" {
			return fmt.Errorf("%s %s: %w: %s", filepath.Base(tool), filepath.Base(args[0]), err, msg)
		}
		return fmt.Errorf("%s %s: %w", filepath.Base(tool), filepath.Base(args[0]), err)
	}
	return nil
}

type mode int

const (
	modeUnknown mode = iota
	modeSingle
	modeMulti
)

// Modes 记录各工作目录的产物形态。
// 部分 gcc 版本会为单个 notes 文件生成多份产物：首个任务决定形态（<notes 文件名>.gcov 存在即单份），
// 之后同一工作目录沿用该决定。
type Modes struct {
	mu sync.Mutex
	m  map[string]mode
}

func (ms *Modes) get(workDir string) mode {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.m[workDir]
}

func (ms *Modes) set(workDir string, v mode) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.m == nil {
		ms.m = make(map[string]mode)
	}
	ms.m[workDir] = v
}

// singleCandidates: 单份模式下可能的产物名。
func singleCandidates(workDir, notesPath string) []string {
	base := filepath.Base(notesPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return []string{
		filepath.Join(workDir, base+".gcov"),
		filepath.Join(workDir, base+".gcov.json.gz"),
		filepath.Join(workDir, stem+".gcov.json.gz"),
	}
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// Collect 解析并删除 workDir 中本任务的产物。
func (ms *Modes) Collect(workDir, notesPath string, branch bool) ([]contract.Fragment, error) {
	single := firstExisting(singleCandidates(workDir, notesPath))
	m := ms.get(workDir)
	if m == modeUnknown {
		m = modeMulti
		if single != "" {
			m = modeSingle
		}
		ms.set(workDir, m)
	}
	if m == modeSingle {
		if single == "" {
			RemoveArtifacts(workDir)
			return nil, fmt.Errorf("no coverage artifact for %s in %s", filepath.Base(notesPath), workDir)
		}
		defer os.Remove(single)
		return ParseArtifact(single, branch)
	}

	arts, err := listArtifacts(workDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, p := range arts {
			_ = os.Remove(p)
		}
	}()
	var out []contract.Fragment
	for _, p := range arts {
		frags, err := ParseArtifact(p, branch)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, frags...)
	}
	return out, nil
}

func isArtifact(name string) bool {
	return strings.HasSuffix(name, ".gcov") || strings.HasSuffix(name, ".gcov.json.gz")
}

// listArtifacts 递归列出 workDir 下的产物（排序）。
func listArtifacts(workDir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(workDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && isArtifact(d.Name()) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts in %s: %w", workDir, err)
	}
	return out, nil
}

// RemoveArtifacts 清理 workDir 中残留的产物。
func RemoveArtifacts(workDir string) {
	arts, _ := listArtifacts(workDir)
	for _, p := range arts {
		_ = os.Remove(p)
	}
}

var _ contract.NotesDecoder = (*Decoder)(nil)
