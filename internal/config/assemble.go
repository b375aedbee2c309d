package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"covagg/internal/pipeline"
	"covagg/internal/rewrite"
	"covagg/pkg/contract"
	"covagg/pkg/registry"
	wfs "covagg/plugins/writer/filesystem"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	for _, in := range cfg.Inputs {
		if strings.TrimSpace(in) == "" {
			return errors.New("config: input path cannot be empty")
		}
	}
	if cfg.Concurrency < 0 {
		return errors.New("config: concurrency must be >= 0")
	}
	if cfg.QueueSize < 0 {
		return errors.New("config: queue_size must be >= 0")
	}
	if _, err := rewrite.ParseFilter(cfg.Filter); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for _, g := range cfg.Ignore {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("config: bad ignore glob %q", g)
		}
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", cfg.Logging.Level)
	}
	d := Defaults()
	if cfg.LLVM {
		if name := effName(cfg.Components.Buffers, d.Components.Buffers); registry.BufferDecoder[name] == nil {
			return fmt.Errorf("config: buffers decoder %q not registered", name)
		}
	} else if name := effName(cfg.Components.Notes, d.Components.Notes); registry.NotesDecoder[name] == nil {
		return fmt.Errorf("config: notes decoder %q not registered", name)
	}
	if name := effName(cfg.Components.Text, d.Components.Text); registry.TextDecoder[name] == nil {
		return fmt.Errorf("config: text decoder %q not registered", name)
	}
	if name := effName(cfg.Output.Format, d.Output.Format); registry.Output[name] == nil {
		return fmt.Errorf("config: output format %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Report: 输出序列化器与目标（Writer 为 nil 时写 stdout）。
type Report struct {
	Output contract.Output
	Writer *wfs.FS
	ID     contract.ArtifactID
}

// ToStdout 报告是否写标准输出。
func (r Report) ToStdout() bool { return r.Writer == nil }

// Emit 消费 src 并写出报告。
// 写 stdout 时整份报告先在内存中生成，序列中途出错则 stdout 不写入任何内容。
func (r Report) Emit(ctx context.Context, src contract.EntrySource, stdout io.Writer) error {
	if r.Writer != nil {
		return r.Writer.Emit(ctx, r.ID, r.Output, src)
	}
	var buf bytes.Buffer
	if err := r.Output.Write(ctx, src, &buf); err != nil {
		return err
	}
	_, err := buf.WriteTo(stdout)
	return err
}

// Assemble 构造解码组件、运行设置与报告目标。
// 严格 Options 解析在 registry（工厂）层进行；此处只转交 JSON。
// 相对路径（source_dir、output.path）以 cwd 为基准。
func Assemble(cfg Config, cwd string) (pipeline.Components, pipeline.Settings, Report, error) {
	var (
		comp pipeline.Components
		set  pipeline.Settings
		rep  Report
	)
	if err := Validate(cfg); err != nil {
		return comp, set, rep, err
	}
	d := Defaults()

	if cfg.LLVM {
		raw, err := toRaw(cfg.Options.Buffers)
		if err != nil {
			return comp, set, rep, err
		}
		if comp.Buffers, err = registry.BufferDecoder[effName(cfg.Components.Buffers, d.Components.Buffers)](raw); err != nil {
			return comp, set, rep, fmt.Errorf("config: options.buffers: %w", err)
		}
	} else {
		raw, err := toRaw(cfg.Options.Notes)
		if err != nil {
			return comp, set, rep, err
		}
		if comp.Notes, err = registry.NotesDecoder[effName(cfg.Components.Notes, d.Components.Notes)](raw); err != nil {
			return comp, set, rep, fmt.Errorf("config: options.notes: %w", err)
		}
	}
	raw, err := toRaw(cfg.Options.Text)
	if err != nil {
		return comp, set, rep, err
	}
	if comp.Text, err = registry.TextDecoder[effName(cfg.Components.Text, d.Components.Text)](raw); err != nil {
		return comp, set, rep, fmt.Errorf("config: options.text: %w", err)
	}

	filter, _ := rewrite.ParseFilter(cfg.Filter)
	set = pipeline.Settings{
		Inputs:            cloneStrings(cfg.Inputs),
		Cwd:               cwd,
		WorkDir:           cfg.WorkDir,
		KeepWorkDir:       cfg.KeepWorkDir,
		SourceDir:         absFrom(cwd, cfg.SourceDir),
		Prefix:            cfg.Prefix,
		IgnoreNotExisting: cfg.IgnoreNotExisting,
		Ignore:            cloneStrings(cfg.Ignore),
		Filter:            filter,
		IgnoreOrphanNotes: cfg.IgnoreOrphanNotes,
		LLVM:              cfg.LLVM,
		Branch:            cfg.Branch,
		Concurrency:       cfg.Concurrency,
		QueueSize:         cfg.QueueSize,
	}

	if raw, err = toRaw(cfg.Options.Output); err != nil {
		return comp, set, rep, err
	}
	if rep.Output, err = registry.Output[effName(cfg.Output.Format, d.Output.Format)](raw); err != nil {
		return comp, set, rep, fmt.Errorf("config: options.output: %w", err)
	}
	if p := strings.TrimSpace(cfg.Output.Path); p != "" && p != "-" {
		p = absFrom(cwd, p)
		wopts := make(map[string]any, len(cfg.Options.Writer)+1)
		for k, v := range cfg.Options.Writer {
			wopts[k] = v
		}
		wopts["output_dir"] = filepath.Dir(p)
		if raw, err = toRaw(wopts); err != nil {
			return comp, set, rep, err
		}
		if rep.Writer, err = registry.Writer[effName(cfg.Components.Writer, d.Components.Writer)](raw); err != nil {
			return comp, set, rep, fmt.Errorf("config: options.writer: %w", err)
		}
		rep.ID = contract.ArtifactID(filepath.Base(p))
	}
	return comp, set, rep, nil
}

func toRaw(m map[string]any) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("config: options: %w", err)
	}
	return b, nil
}

func absFrom(cwd, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if cwd != "" {
		return filepath.Join(cwd, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
