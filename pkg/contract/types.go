package contract

import "sort"

// Format: 工作项的输入格式。
type Format int

const (
	// FormatNotes: 结构/计数二进制对（gcno + 可选 gcda）。
	FormatNotes Format = iota
	// FormatText: lcov 文本记录（.info）。
	FormatText
)

func (f Format) String() string {
	switch f {
	case FormatNotes:
		return "notes"
	case FormatText:
		return "text"
	default:
		return "unknown"
	}
}

// PayloadKind: Payload 变体标签。消费端按标签分派，不做类型断言。
type PayloadKind int

const (
	// PayloadPath: 磁盘路径引用（已落盘/软链）。
	PayloadPath PayloadKind = iota
	// PayloadContent: 内存字节（zip 内的文本记录）。
	PayloadContent
	// PayloadBuffers: notes 与 data 的成对缓冲（替代工具链）。
	PayloadBuffers
)

// SharedBytes: 多个兄弟任务共享的只读 notes 缓冲。
// 构造后不可修改；仅通过 Bytes 读取。
type SharedBytes struct {
	b []byte
}

// NewSharedBytes 接管 b 的所有权。
func NewSharedBytes(b []byte) *SharedBytes { return &SharedBytes{b: b} }

// Bytes 返回底层切片（调用方不得修改）。
func (s *SharedBytes) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Buffers: 替代工具链的一对输入。Stem 为落盘时使用的唯一前缀（不含扩展名）。
type Buffers struct {
	Stem  string
	Notes *SharedBytes
	Data  []byte
}

// Payload: 工作项载荷（标签联合）。仅与 Kind 对应的字段有效。
type Payload struct {
	Kind    PayloadKind
	Path    string
	Content []byte
	Buffers Buffers
}

// PathPayload / ContentPayload / BuffersPayload 为构造辅助。
func PathPayload(p string) Payload { return Payload{Kind: PayloadPath, Path: p} }
func ContentPayload(b []byte) Payload { return Payload{Kind: PayloadContent, Content: b} }
func BuffersPayload(b Buffers) Payload { return Payload{Kind: PayloadBuffers, Buffers: b} }

// WorkItem: 生产者构造、单一消费者消费一次的解析任务。
// 约束：入队后不可变；自身持有载荷，不回指 Archive。
type WorkItem struct {
	Format  Format
	Payload Payload
	// Name: 来源输入名（报错时用于定位）。
	Name string
}

// BranchKey: (行号, 分支序号)。
type BranchKey struct {
	Line  uint32
	Index uint32
}

// Function: 函数起始行与是否执行。
type Function struct {
	Start    uint32
	Executed bool
}

// CovResult: 单源文件的覆盖结果。
type CovResult struct {
	Lines     map[uint32]uint64
	Branches  map[BranchKey]bool
	Functions map[string]Function
}

// NewCovResult 返回各映射均已初始化的空结果。
func NewCovResult() *CovResult {
	return &CovResult{
		Lines:     make(map[uint32]uint64),
		Branches:  make(map[BranchKey]bool),
		Functions: make(map[string]Function),
	}
}

// SortedLines 返回按行号升序的行号列表。
func (r *CovResult) SortedLines() []uint32 {
	out := make([]uint32, 0, len(r.Lines))
	for l := range r.Lines {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortedBranches 返回按 (行号, 分支序号) 升序的分支键。
func (r *CovResult) SortedBranches() []BranchKey {
	out := make([]BranchKey, 0, len(r.Branches))
	for k := range r.Branches {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// SortedFunctions 返回按起始行、名称排序的函数名。
func (r *CovResult) SortedFunctions() []string {
	out := make([]string, 0, len(r.Functions))
	for n := range r.Functions {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		fi, fj := r.Functions[out[i]], r.Functions[out[j]]
		if fi.Start != fj.Start {
			return fi.Start < fj.Start
		}
		return out[i] < out[j]
	})
	return out
}

// IsCovered: 至少一行执行次数非零。
func (r *CovResult) IsCovered() bool {
	for _, c := range r.Lines {
		if c > 0 {
			return true
		}
	}
	return false
}

// Fragment: 解码服务产出的一条（文件键, 结果）。
type Fragment struct {
	Key    string
	Result *CovResult
}

// ResultMap: 文件键 → 覆盖结果。
type ResultMap map[string]*CovResult

// Entry: 路径重写后的输出元素。
type Entry struct {
	Abs    string
	Rel    string
	Result *CovResult
}
