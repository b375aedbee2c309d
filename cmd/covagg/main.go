package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfgpkg "covagg/internal/config"
	"covagg/internal/diag"
	"covagg/internal/pipeline"
	"covagg/pkg/contract"
)

var pipelineRun = pipeline.Run

// 退出码：0 成功；1 运行期错误；3 配置错误。
const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 3
)

// exitError 携带退出码。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configErr(err error) error { return &exitError{code: exitConfig, err: err} }
func runErr(err error) error    { return &exitError{code: exitRun, err: err} }

// cliFlags: 命令行旗标。布尔项仅在显式给出时覆盖（见 applyCLI）。
type cliFlags struct {
	config  string
	envFile string
	initDir string
	metrics string
	status  bool

	sourceDir         string
	prefix            string
	ignore            []string
	filter            string
	ignoreNotExisting bool
	ignoreOrphanNotes bool
	llvm              bool
	branch            bool
	concurrency       int
	queueSize         int
	workDir           string
	keepWorkDir       bool
	outputType        string
	output            string
	logLevel          string
	logDir            string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute 运行根命令并映射退出码。
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// 旗标解析等 cobra 层错误
	fprintf(stderr, "参数错误: %v\n", err)
	return exitConfig
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &cliFlags{}
	cmd := &cobra.Command{
		Use:   "covagg [flags] <zip|dir>...",
		Short: "Aggregate gcno/gcda and lcov coverage from zip archives and directories",
		Long: `covagg pairs compiler notes/data files and lcov .info records found in the
given inputs, folds them into one coverage map and writes a report with
rewritten source paths.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.Flags(), f, args, stdout, stderr)
		},
	}
	bindFlags(cmd.Flags(), f)
	return cmd
}

func bindFlags(fs *pflag.FlagSet, f *cliFlags) {
	fs.StringVarP(&f.config, "config", "c", "", "配置文件路径（YAML/JSON）；缺省读取 ./covagg.yaml（若存在）")
	fs.StringVar(&f.envFile, "env-file", ".env", ".env 文件（不存在则忽略；进程环境优先）")
	fs.StringVar(&f.initDir, "init-config", "", "在指定目录生成默认 covagg.yaml 与 .env 模板（已存在则跳过）；不带值时为当前目录")
	fs.Lookup("init-config").NoOptDefVal = "."
	fs.StringVar(&f.metrics, "metrics", "", "结束时输出 prometheus 文本格式指标到文件（- 为 stderr）")
	fs.BoolVar(&f.status, "status", true, "终端状态提示（stderr）")

	fs.StringVarP(&f.sourceDir, "source-dir", "s", "", "源码根目录")
	fs.StringVarP(&f.prefix, "prefix-dir", "p", "", "从文件键中剥离的前缀")
	fs.StringArrayVar(&f.ignore, "ignore", nil, "忽略匹配的路径（glob，可重复）")
	fs.StringVar(&f.filter, "filter", "", "覆盖过滤：none | covered | uncovered")
	fs.BoolVar(&f.ignoreNotExisting, "ignore-not-existing", false, "忽略不存在的源文件")
	fs.BoolVar(&f.ignoreOrphanNotes, "ignore-orphan-notes", false, "忽略没有 data 的 notes 文件")
	fs.BoolVar(&f.llvm, "llvm", false, "使用 llvm-cov gcov 解析 notes/data")
	fs.BoolVar(&f.branch, "branch", false, "采集分支覆盖")
	fs.IntVarP(&f.concurrency, "threads", "j", 0, "消费者数量（0 为 CPU 数）")
	fs.IntVar(&f.queueSize, "queue-size", 0, "队列容量（0 为 2×threads）")
	fs.StringVar(&f.workDir, "work-dir", "", "临时文件根目录")
	fs.BoolVar(&f.keepWorkDir, "keep-work-dir", false, "保留临时目录（调试用）")
	fs.StringVarP(&f.outputType, "output-type", "t", "", "报告格式：lcov | files")
	fs.StringVarP(&f.output, "output-file", "o", "", "报告路径（- 或缺省为 stdout）")
	fs.StringVar(&f.logLevel, "log-level", "", "日志等级：debug | info | warn | error")
	fs.StringVar(&f.logDir, "log-dir", "", "日志目录")
}

func run(ctx context.Context, fs *pflag.FlagSet, f *cliFlags, args []string, stdout, stderr io.Writer) error {
	start := time.Now()

	if fs.Changed("init-config") {
		if err := initConfig(strings.TrimSpace(f.initDir)); err != nil {
			fprintf(stderr, "生成默认配置失败: %v\n", err)
			return configErr(err)
		}
		return nil
	}

	env, err := cfgpkg.Environ(f.envFile, os.Environ())
	if err != nil {
		fprintf(stderr, "环境变量解析失败: %v\n", err)
		return configErr(err)
	}
	cfg, err := loadConfig(f, env)
	if err != nil {
		fprintf(stderr, "配置解析失败: %v\n", err)
		return configErr(err)
	}
	cfg = applyCLI(cfg, fs, f, args)

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		dumpConfig(stderr, cfg)
		return configErr(err)
	}

	logger := diag.NewLogger(uuid.NewString(), cfg.Logging.Level, cfg.Logging.Dir)
	defer logger.Close()

	cwd, err := os.Getwd()
	if err != nil {
		return runErr(err)
	}
	if err := preflightCheckOutputDir(cfg, cwd); err != nil {
		fprintf(stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return configErr(err)
	}
	comp, set, rep, err := cfgpkg.Assemble(cfg, cwd)
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return configErr(err)
	}
	logger.Debug("config", "effective", map[string]string{
		"inputs_count": fmt.Sprintf("%d", len(set.Inputs)),
		"concurrency":  fmt.Sprintf("%d", set.Concurrency),
		"mode":         set.Mode(),
		"source_dir":   set.SourceDir,
		"filter":       set.Filter.String(),
		"output":       cfg.Output.Format,
	})

	term := diag.NewTerminal(stderr, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(set.Concurrency, set.Mode())

	defer func() {
		if f.metrics != "" {
			if err := dumpMetrics(f.metrics, stderr); err != nil {
				fprintf(stderr, "指标输出失败: %v\n", err)
			}
		}
	}()

	t := logger.Start("pipeline", "run")
	fail := func(err error) error {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		if !errors.Is(err, context.Canceled) {
			fprintf(stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, 0, time.Since(start))
		if errors.Is(err, contract.ErrInvalidInput) {
			return configErr(err)
		}
		return runErr(err)
	}
	it, err := pipelineRun(ctx, comp, set, logger)
	if err != nil {
		return fail(err)
	}
	src := &countingSource{EntrySource: it}
	if err := rep.Emit(ctx, src, stdout); err != nil {
		diag.IncOp("output", "emit", "error")
		return fail(err)
	}
	t.Finish("run", int64(src.n))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	term.RunFinish(true, src.n, time.Since(start))
	return nil
}

// loadConfig: Defaults < 配置文件 < ENV（含 .env）。
func loadConfig(f *cliFlags, env []string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	path := f.config
	if path == "" {
		path = lookupEnv(env, cfgpkg.EnvPrefix+"CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("covagg.yaml"); err == nil {
			path = "covagg.yaml"
		}
	}
	if path != "" {
		base, err := cfgpkg.Load(path, nil)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	over, err := cfgpkg.EnvOverlay(env)
	if err != nil {
		return cfg, err
	}
	return cfgpkg.Merge(cfg, over), nil
}

// applyCLI: 命令行最高优先级；显式给出的布尔旗标可关闭下层的 true。
func applyCLI(cfg cfgpkg.Config, fs *pflag.FlagSet, f *cliFlags, args []string) cfgpkg.Config {
	over := cfgpkg.Config{
		Inputs:      args,
		SourceDir:   f.sourceDir,
		Prefix:      f.prefix,
		Ignore:      f.ignore,
		Filter:      f.filter,
		Concurrency: f.concurrency,
		QueueSize:   f.queueSize,
		WorkDir:     f.workDir,
		Output:      cfgpkg.Output{Format: f.outputType, Path: f.output},
		Logging:     cfgpkg.Logging{Level: f.logLevel, Dir: f.logDir},
	}
	cfg = cfgpkg.Merge(cfg, over)
	for name, dst := range map[string]*bool{
		"ignore-not-existing": &cfg.IgnoreNotExisting,
		"ignore-orphan-notes": &cfg.IgnoreOrphanNotes,
		"llvm":                &cfg.LLVM,
		"branch":              &cfg.Branch,
		"keep-work-dir":       &cfg.KeepWorkDir,
	} {
		if fs.Changed(name) {
			*dst, _ = fs.GetBool(name)
		}
	}
	return cfg
}

func lookupEnv(env []string, key string) string {
	v := ""
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			v = strings.TrimSpace(kv[len(key)+1:])
		}
	}
	return v
}

// countingSource 统计写出的文件数。
type countingSource struct {
	contract.EntrySource
	n int
}

func (c *countingSource) Next() bool {
	if c.EntrySource.Next() {
		c.n++
		return true
	}
	return false
}

func dumpMetrics(dest string, stderr io.Writer) error {
	if dest == "-" {
		return diag.WriteMetrics(stderr)
	}
	fh, err := os.Create(dest)
	if err != nil {
		return err
	}
	if err := diag.WriteMetrics(fh); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) {
	b, err := cfgpkg.MarshalTemplate(c)
	if err != nil {
		return
	}
	_, _ = w.Write(append([]byte("有效配置:\n"), b...))
}

// initConfig 生成 covagg.yaml 与 .env 模板；已存在的文件不覆盖。
func initConfig(dir string) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := cfgpkg.MarshalTemplate(cfgpkg.DefaultTemplateConfig())
	if err != nil {
		return err
	}
	if err := writeExclusive(filepath.Join(dir, "covagg.yaml"), b); err != nil {
		return err
	}
	return writeExclusive(filepath.Join(dir, ".env"), []byte(cfgpkg.DotEnvTemplate()))
}

func writeExclusive(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// preflightCheckOutputDir: 报告写入文件时，启动前检查其目录可写性。
// 目录存在：尝试创建并删除临时文件；不存在：检查父目录可写。
func preflightCheckOutputDir(cfg cfgpkg.Config, cwd string) error {
	p := strings.TrimSpace(cfg.Output.Path)
	if p == "" || p == "-" {
		return nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(cwd, p)
	}
	dir := filepath.Dir(p)
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil && !st.IsDir() {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
