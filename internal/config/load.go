package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "COVAGG_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Filter:  "none",
		Output:  Output{Format: "lcov"},
		Logging: Logging{Level: "info"},
		Components: Components{
			Notes:   "gcov",
			Buffers: "llvm",
			Text:    "lcov",
			Writer:  "fs",
		},
	}
}

// Load 从文件路径或原始字节解析 Config（YAML/JSON，严格拒绝未知字段）。空文档得到零值。
func Load(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 标量/字符串/Options 子树为“替换”；布尔仅能由上层打开。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.SourceDir != "" {
		out.SourceDir = over.SourceDir
	}
	if over.Prefix != "" {
		out.Prefix = over.Prefix
	}
	if len(over.Ignore) > 0 {
		out.Ignore = cloneStrings(over.Ignore)
	}
	if s := strings.TrimSpace(over.Filter); s != "" {
		out.Filter = s
	}
	out.IgnoreNotExisting = out.IgnoreNotExisting || over.IgnoreNotExisting
	out.IgnoreOrphanNotes = out.IgnoreOrphanNotes || over.IgnoreOrphanNotes
	out.LLVM = out.LLVM || over.LLVM
	out.Branch = out.Branch || over.Branch
	out.KeepWorkDir = out.KeepWorkDir || over.KeepWorkDir
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if over.QueueSize != 0 {
		out.QueueSize = over.QueueSize
	}
	if over.WorkDir != "" {
		out.WorkDir = over.WorkDir
	}

	if s := strings.TrimSpace(over.Output.Format); s != "" {
		out.Output.Format = s
	}
	if over.Output.Path != "" {
		out.Output.Path = over.Output.Path
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if over.Logging.Dir != "" {
		out.Logging.Dir = over.Logging.Dir
	}

	// 组件名（空不覆盖）
	if over.Components.Notes != "" {
		out.Components.Notes = over.Components.Notes
	}
	if over.Components.Buffers != "" {
		out.Components.Buffers = over.Components.Buffers
	}
	if over.Components.Text != "" {
		out.Components.Text = over.Components.Text
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if over.Options.Notes != nil {
		out.Options.Notes = over.Options.Notes
	}
	if over.Options.Buffers != nil {
		out.Options.Buffers = over.Options.Buffers
	}
	if over.Options.Text != nil {
		out.Options.Text = over.Options.Text
	}
	if over.Options.Output != nil {
		out.Options.Output = over.Options.Output
	}
	if over.Options.Writer != nil {
		out.Options.Writer = over.Options.Writer
	}
	return out
}

// Environ 合并 .env 文件（可选）与进程环境；进程环境优先（排在后面）。
func Environ(dotenv string, process []string) ([]string, error) {
	if dotenv == "" {
		return process, nil
	}
	m, err := godotenv.Read(dotenv)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return process, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", dotenv, err)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(m)+len(process))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return append(out, process...), nil
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合，其余忽略）。
// 支持：INPUTS, SOURCE_DIR, PREFIX, IGNORE, FILTER, IGNORE_NOT_EXISTING,
// IGNORE_ORPHAN_NOTES, LLVM, BRANCH, CONCURRENCY, QUEUE_SIZE, WORK_DIR,
// KEEP_WORK_DIR, OUTPUT_FORMAT, OUTPUT_PATH, LOG_LEVEL, LOG_DIR, COMPONENTS_*。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := kv[eq+1:]
		var err error
		switch key {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "SOURCE_DIR":
			over.SourceDir = strings.TrimSpace(val)
		case "PREFIX":
			over.Prefix = strings.TrimSpace(val)
		case "IGNORE":
			over.Ignore = splitComma(val)
		case "FILTER":
			over.Filter = strings.TrimSpace(val)
		case "IGNORE_NOT_EXISTING":
			over.IgnoreNotExisting, err = parseBool(val)
		case "IGNORE_ORPHAN_NOTES":
			over.IgnoreOrphanNotes, err = parseBool(val)
		case "LLVM":
			over.LLVM, err = parseBool(val)
		case "BRANCH":
			over.Branch, err = parseBool(val)
		case "KEEP_WORK_DIR":
			over.KeepWorkDir, err = parseBool(val)
		case "CONCURRENCY":
			over.Concurrency, err = atoi(val)
		case "QUEUE_SIZE":
			over.QueueSize, err = atoi(val)
		case "WORK_DIR":
			over.WorkDir = strings.TrimSpace(val)
		case "OUTPUT_FORMAT":
			over.Output.Format = strings.TrimSpace(val)
		case "OUTPUT_PATH":
			over.Output.Path = strings.TrimSpace(val)
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "COMPONENTS_NOTES":
			over.Components.Notes = strings.TrimSpace(val)
		case "COMPONENTS_BUFFERS":
			over.Components.Buffers = strings.TrimSpace(val)
		case "COMPONENTS_TEXT":
			over.Components.Text = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		}
		if err != nil {
			return over, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
		}
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
