package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level 日志级别。
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = [...]string{Debug: "debug", Info: "info", Warn: "warn", Error: "error"}

func (l Level) String() string {
	if l < Debug || l > Error {
		return "info"
	}
	return levelNames[l]
}

// ParseLevel 解析级别名；未知名称按 info 处理。
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	for lv, name := range levelNames {
		if name == s {
			return Level(lv)
		}
	}
	return Info
}

// DefaultLogDir 为未配置目录时的日志位置。
const DefaultLogDir = "logs"

const logRotateBytes = 10 << 20

// Logger 输出单行 JSON 事件到轮转文件，写失败时回退 stderr。
// nil *Logger 上的所有调用都是 no-op。
type Logger struct {
	corrID string
	level  Level
	mu     sync.Mutex
	sink   *RotatingFile
}

// NewLogger 创建写入 dir（空则 DefaultLogDir）的日志器。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultLogDir
	}
	return &Logger{corrID: corrID, level: ParseLevel(level), sink: NewRotatingFile(dir, logRotateBytes)}
}

func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Event 是一行日志的结构。Input 为任务来源（归档名）。
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"` // start|finish|debug|warn|error
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	Input  string            `json:"input,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

func (l *Logger) emit(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink != nil {
		err := l.sink.WriteLine(b)
		if err == nil {
			return
		}
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
	}
	_, _ = os.Stderr.Write(append(b, '\n'))
}

func sinceMS(t0 *time.Time) int64 {
	if t0 == nil {
		return 0
	}
	return time.Since(*t0).Milliseconds()
}

// Start 记录 start 事件并返回计时器。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", nil)
}

// StartWith 同 Start，附带任务来源。
func (l *Logger) StartWith(comp, msg, input string) *Timer {
	return l.StartWithKV(comp, msg, input, nil)
}

func (l *Logger) StartWithKV(comp, msg, input string, kv map[string]string) *Timer {
	l.emit(Info, Event{Comp: comp, Stage: "start", Input: input, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, input: input, t0: time.Now()}
}

// Debug 仅在 level=debug 时输出。
func (l *Logger) Debug(comp, msg string, kv map[string]string) {
	l.emit(Debug, Event{Comp: comp, Stage: "debug", Msg: msg, KV: kv})
}

// Warn 记录可继续的异常，例如重复 notes 或规范化回退。
func (l *Logger) Warn(comp, msg string, kv map[string]string) {
	l.emit(Warn, Event{Comp: comp, Stage: "warn", Msg: msg, KV: kv})
}

func (l *Logger) Error(comp, code, msg string, since *time.Time) {
	l.ErrorWithKV(comp, code, msg, since, "", nil)
}

func (l *Logger) ErrorWith(comp, code, msg string, since *time.Time, input string) {
	l.ErrorWithKV(comp, code, msg, since, input, nil)
}

// ErrorWithKV 附带键值，例如工具退出码、出错的 consumer。
func (l *Logger) ErrorWithKV(comp, code, msg string, since *time.Time, input string, kv map[string]string) {
	l.emit(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: sinceMS(since), Input: input, Msg: msg, KV: kv})
}

// InfoFinish 以给定起点记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.emit(Info, Event{Comp: comp, Stage: "finish", DurMS: sinceMS(&start), Count: count, Msg: msg})
}

// Timer 记录 start→finish 耗时。
type Timer struct {
	l     *Logger
	comp  string
	input string
	t0    time.Time
}

func (t *Timer) Finish(msg string, count int64) {
	if t == nil {
		return
	}
	t.l.emit(Info, Event{Comp: t.comp, Stage: "finish", DurMS: sinceMS(&t.t0), Count: count, Input: t.input, Msg: msg})
}
