package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	// 运行期最小状态
	concurrency int
	mode        string
	runStart    time.Time

	// 任务进度
	jobsTotal int
	jobsDone  int
	errCount  int
	lastJob   string

	// 输出控制
	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		// 最小 TTY 判定：字符设备
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart: 记录运行上下文（并发、解码模式）。
func (t *Terminal) RunStart(concurrency int, mode string) {
	if t == nil { return }
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled { return }
	t.concurrency = concurrency
	t.mode = mode
	t.jobsTotal, t.jobsDone, t.errCount = 0, 0, 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] 并发=%d | 模式=%s", concurrency, safe(mode)))
}

// Produced: 生产结束，记录任务总数。
func (t *Terminal) Produced(total int) {
	if t == nil { return }
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled { return }
	t.jobsTotal = total
	if !t.isTTY {
		t.println(fmt.Sprintf("[produce] 任务=%d", total))
	}
}

// JobDone: 单个任务完成（≥100ms 节流，仅 TTY 刷新）。
func (t *Terminal) JobDone(name string, ok bool) {
	if t == nil { return }
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled { return }
	t.jobsDone++
	if !ok {
		t.errCount++
	}
	t.lastJob = shortenBase(name, 48)
	if !t.isTTY { return }
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	total := "?"
	if t.jobsTotal > 0 {
		total = fmt.Sprint(t.jobsTotal)
	}
	line := fmt.Sprintf("[ingest] %s | 进度 %d/%s | 错误 %d | 并发 %d | 用时 %s",
		t.lastJob, t.jobsDone, total, t.errCount, t.concurrency, formatSince(t.runStart))
	t.printInline(line)
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, files int, dur time.Duration) {
	if t == nil { return }
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled { return }
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("[%s] 全部完成 | 任务 %d | 文件 %d | 总用时 %s", tag, t.jobsDone, files, formatDur(dur)))
}

// 内部输出工具
func (t *Terminal) println(s string) {
	if t == nil || !t.enabled { return }
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled { return }
	// 组装：\r + 内容 + 清尾空格
	// 清尾：若新行比旧短，填充空格覆盖
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 { return "" }
	base := filepath.Base(strings.TrimSpace(s))
	if base == "" { return "" }
	if visLen(base) <= max { return base }
	// 预留 1 个字符给省略号
	cut := max - 1
	if cut < 1 { cut = 1 }
	// 简单按 rune 截断
	rs := []rune(base)
	if len(rs) <= cut { return string(rs) }
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 { ms = 0 }
		return fmt.Sprintf("%dms", ms)
	}
	// 秒，保留 1 位小数
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
