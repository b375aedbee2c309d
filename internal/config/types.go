package config

// Config: 运行期只读配置（一次解析，运行期不变）。
// 文件为 YAML（JSON 亦可）；键使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs []string `yaml:"inputs"`

	// 路径重写
	SourceDir         string   `yaml:"source_dir"`
	Prefix            string   `yaml:"prefix"`
	IgnoreNotExisting bool     `yaml:"ignore_not_existing"`
	Ignore            []string `yaml:"ignore"`
	// Filter: none | covered | uncovered
	Filter string `yaml:"filter"`

	// 采集
	IgnoreOrphanNotes bool `yaml:"ignore_orphan_notes"`
	LLVM              bool `yaml:"llvm"`
	Branch            bool `yaml:"branch"`

	// 并发与临时目录。Concurrency 为 0 表示 CPU 数。
	Concurrency int    `yaml:"concurrency"`
	QueueSize   int    `yaml:"queue_size"`
	WorkDir     string `yaml:"work_dir"`
	KeepWorkDir bool   `yaml:"keep_work_dir"`

	Output  Output  `yaml:"output"`
	Logging Logging `yaml:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `yaml:"components"`
	// 各组件 Options 子树，转为 JSON 后交给工厂严格解析。
	Options Options `yaml:"options"`
}

// Output: 报告格式与目标。Path 为空或 "-" 时写 stdout。
type Output struct {
	Format string `yaml:"format"`
	Path   string `yaml:"path"`
}

// Logging: 日志等级与目录（目录为空时使用 logs）。
type Logging struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Notes   string `yaml:"notes"`
	Buffers string `yaml:"buffers"`
	Text    string `yaml:"text"`
	Writer  string `yaml:"writer"`
}

// Options: 各组件的原样 Options 子树。
type Options struct {
	Notes   map[string]any `yaml:"notes"`
	Buffers map[string]any `yaml:"buffers"`
	Text    map[string]any `yaml:"text"`
	Output  map[string]any `yaml:"output"`
	Writer  map[string]any `yaml:"writer"`
}
