package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"covagg/internal/archive"
	"covagg/internal/consumer"
	"covagg/internal/diag"
	"covagg/internal/merge"
	"covagg/internal/producer"
	"covagg/internal/queue"
	"covagg/internal/rewrite"
	"covagg/pkg/contract"
)

// - 单点并发：仅此层启动 goroutine；生产者/消费者/解码服务均为同步实现。
// - 首错取消：任一 goroutine 出错即取消整体（errgroup），排空后同步返回首错。
// - 哨兵：生产者完成后为每个消费者推送一个 nil；读到哨兵前 FIFO 保证已排空真实任务。

// Components 聚合运行所需的解码服务。
type Components struct {
	Notes   contract.NotesDecoder
	Buffers contract.BufferDecoder
	Text    contract.TextDecoder
}

// Settings 运行期配置。
type Settings struct {
	// Inputs: zip 或目录，按给定顺序探索
	Inputs []string
	// Cwd: 相对输入的基准目录；为空取进程工作目录
	Cwd string
	// WorkDir: 临时文件根；为空使用系统临时目录。每次运行在其下建立独立子目录并在结束时删除
	WorkDir     string
	KeepWorkDir bool

	SourceDir         string
	Prefix            string
	IgnoreNotExisting bool
	Ignore            []string
	Filter            rewrite.Filter

	IgnoreOrphanNotes bool
	LLVM              bool
	Branch            bool

	// Concurrency: 消费者数量；<1 时取 CPU 数
	Concurrency int
	// QueueSize: 队列容量；<1 时为 2×Concurrency
	QueueSize int
	// CanonCacheSize: 键规范化缓存容量；<1 使用默认
	CanonCacheSize int
}

// Mode 返回解码模式名（日志/终端使用）。
func (s Settings) Mode() string {
	if s.LLVM {
		return "llvm"
	}
	return "gcov"
}

// Ingest 打开输入，运行生产者与消费者池，返回折叠后的结果映射与映射文件原始字节。
func Ingest(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (contract.ResultMap, []byte, error) {
	set, err := sanity(comp, set)
	if err != nil {
		return nil, nil, err
	}
	t0 := time.Now()
	itimer := logger.StartWithKV("pipeline", "ingest", "", map[string]string{
		"inputs":      strconv.Itoa(len(set.Inputs)),
		"concurrency": strconv.Itoa(set.Concurrency),
		"mode":        set.Mode(),
	})

	fail := func(where, msg string, err error) error {
		code := diag.Classify(err)
		logger.Error(where, string(code), msg+": "+err.Error(), &t0)
		diag.IncOp(where, "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError(where, string(code))
		}
		return err
	}

	runDir, cleanup, err := makeRunDir(set)
	if err != nil {
		return nil, nil, fail("pipeline", "work dir", err)
	}
	defer cleanup()

	archives, err := archive.OpenAll(set.Inputs, set.Cwd)
	if err != nil {
		return nil, nil, fail("archive", "open inputs", err)
	}
	defer archive.CloseAll(archives)

	canon, err := consumer.NewCanonicalizer(set.SourceDir, set.CanonCacheSize)
	if err != nil {
		return nil, nil, fail("pipeline", "canonicalizer", err)
	}

	q := queue.New(set.QueueSize)
	results := merge.NewSyncMap(0)

	// 工作目录全部建好后再启动 goroutine
	consumers := make([]*consumer.Consumer, set.Concurrency)
	for i := range consumers {
		id := uuid.NewString()
		wd := filepath.Join(runDir, "work-"+id)
		if err := os.MkdirAll(wd, 0o755); err != nil {
			return nil, nil, fail("pipeline", "work dir", err)
		}
		consumers[i] = &consumer.Consumer{
			ID: id, WorkDir: wd,
			Notes: comp.Notes, Buffers: comp.Buffers, Text: comp.Text,
			Branch: set.Branch, Results: results, Canon: canon, Logger: logger,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		c := c
		g.Go(func() error {
			n, err := c.Run(gctx, q)
			logger.Debug("consumer", "exit", map[string]string{"consumer": c.ID, "jobs": strconv.Itoa(n)})
			return err
		})
	}

	var mapping []byte
	p := producer.New(producer.Options{
		TmpDir:            filepath.Join(runDir, "tmp"),
		IgnoreOrphanNotes: set.IgnoreOrphanNotes,
		LLVM:              set.LLVM,
	}, q, logger)
	g.Go(func() error {
		ptimer := logger.Start("producer", "produce")
		m, stats, err := p.Run(gctx, archives)
		if err != nil {
			return fmt.Errorf("producer: %w", err)
		}
		mapping = m
		ptimer.Finish("produce", int64(stats.Total()))
		diag.IncOp("producer", "finish", "success")
		if stats.OrphanJobs > 0 {
			logger.Warn("producer", "notes without data", map[string]string{"jobs": strconv.Itoa(stats.OrphanJobs)})
		}
		if t := diag.GetTerminal(); t != nil {
			t.Produced(stats.Total())
		}
		return q.Close(gctx, set.Concurrency)
	})

	if err := g.Wait(); err != nil {
		// 外部取消优先于 goroutine 内观察到的派生取消
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			err = ctx.Err()
		}
		return nil, nil, fail("pipeline", "ingest failed", err)
	}
	out := results.Take()
	itimer.Finish("ingest", int64(len(out)))
	diag.IncOp("pipeline", "ingest", "success")
	diag.ObserveDuration("pipeline", "ingest", time.Since(t0).Milliseconds())
	return out, mapping, nil
}

// Run 执行完整流程：Ingest → 解析映射文件 → 构造惰性输出序列。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (*rewrite.Iterator, error) {
	results, raw, err := Ingest(ctx, comp, set, logger)
	if err != nil {
		return nil, err
	}
	mapping, err := producer.ParseMapping(raw)
	if err != nil {
		logger.Error("rewrite", string(diag.Classify(err)), err.Error(), nil)
		return nil, err
	}
	it, err := rewrite.New(results, rewrite.Options{
		Mapping:           mapping,
		SourceDir:         set.SourceDir,
		Prefix:            set.Prefix,
		IgnoreNotExisting: set.IgnoreNotExisting,
		Ignore:            set.Ignore,
		Filter:            set.Filter,
	})
	if err != nil {
		logger.Error("rewrite", string(diag.Classify(err)), err.Error(), nil)
		return nil, err
	}
	logger.Debug("rewrite", "ready", map[string]string{
		"files":   strconv.Itoa(len(results)),
		"mapping": strconv.Itoa(len(mapping)),
	})
	return it, nil
}

func sanity(c Components, s Settings) (Settings, error) {
	if len(s.Inputs) == 0 {
		return s, fmt.Errorf("%w: pipeline: empty inputs", contract.ErrInvalidInput)
	}
	if c.Text == nil {
		return s, fmt.Errorf("%w: pipeline: missing text decoder", contract.ErrInvalidInput)
	}
	if s.LLVM && c.Buffers == nil {
		return s, fmt.Errorf("%w: pipeline: missing buffer decoder", contract.ErrInvalidInput)
	}
	if !s.LLVM && c.Notes == nil {
		return s, fmt.Errorf("%w: pipeline: missing notes decoder", contract.ErrInvalidInput)
	}
	if s.SourceDir != "" && !filepath.IsAbs(s.SourceDir) {
		return s, fmt.Errorf("%w: source directory %q must be absolute", contract.ErrInvalidInput, s.SourceDir)
	}
	if s.Concurrency < 1 {
		s.Concurrency = runtime.NumCPU()
	}
	if s.QueueSize < 1 {
		s.QueueSize = 2 * s.Concurrency
	}
	if s.Cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return s, err
		}
		s.Cwd = wd
	}
	return s, nil
}

// makeRunDir 建立本次运行的临时根（tmp/ 供落盘，work-*/ 供各消费者）。
func makeRunDir(set Settings) (string, func(), error) {
	base := set.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", nil, err
	}
	dir, err := os.MkdirTemp(base, "covagg-")
	if err != nil {
		return "", nil, err
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if err := os.MkdirAll(filepath.Join(dir, "tmp"), 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	cleanup := func() {
		if !set.KeepWorkDir {
			_ = os.RemoveAll(dir)
		}
	}
	return dir, cleanup, nil
}
