package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTemplateConfig 返回一个可运行的默认配置模板：
// 输入为当前目录，报告写入 ./coverage.info，组件选项给出全部键的中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := d
	cfg.Inputs = []string{"."}
	cfg.Ignore = []string{}
	cfg.Output = Output{Format: "lcov", Path: "coverage.info"}
	cfg.Logging = Logging{Level: "info", Dir: "logs"}
	cfg.Options = Options{
		Notes:   map[string]any{"tool": "", "json": false, "args": []string{}},
		Buffers: map[string]any{"tool": "", "args": []string{}},
		Text:    map[string]any{"max_line_bytes": 0},
		Output:  map[string]any{"relative": true, "test_name": ""},
		Writer:  map[string]any{"atomic": true, "perm_file": 0, "perm_dir": 0, "buf_size": 65536},
	}
	return cfg
}

// MarshalTemplate 序列化配置为 YAML。
func MarshalTemplate(c Config) ([]byte, error) {
	return yaml.Marshal(c)
}

// DotEnvTemplate 返回 .env 模板：列出全部支持的覆盖项（空值表示未设置）。
func DotEnvTemplate() string {
	var b strings.Builder
	b.WriteString("# covagg .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n\n")
	b.WriteString("COVAGG_CONFIG_FILE=\n\n")
	for _, group := range [][]string{
		{"INPUTS", "CONCURRENCY", "QUEUE_SIZE", "WORK_DIR", "KEEP_WORK_DIR"},
		{"SOURCE_DIR", "PREFIX", "IGNORE", "FILTER", "IGNORE_NOT_EXISTING"},
		{"IGNORE_ORPHAN_NOTES", "LLVM", "BRANCH"},
		{"OUTPUT_FORMAT", "OUTPUT_PATH", "LOG_LEVEL", "LOG_DIR"},
		{"COMPONENTS_NOTES", "COMPONENTS_BUFFERS", "COMPONENTS_TEXT", "COMPONENTS_WRITER"},
	} {
		for _, k := range group {
			b.WriteString(EnvPrefix + k + "=\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("# 外部工具覆盖（由解码插件读取）\n")
	b.WriteString("GCOV=\n")
	b.WriteString("LLVM_COV=\n")
	return b.String()
}
