package merge

import (
	"sync"

	"covagg/pkg/contract"
)

// Merge 将 from 累加进 into：
// - 行：执行次数求和（缺失则插入）；
// - 分支：taken 取或；
// - 函数：executed 取或，start 保持 into 一侧（缺失则插入 from 的值）。
// 结果对求和/取或字段满足交换律与结合律；与空结果合并为恒等。
func Merge(into, from *contract.CovResult) {
	if from == nil {
		return
	}
	if into.Lines == nil {
		into.Lines = make(map[uint32]uint64, len(from.Lines))
	}
	if into.Branches == nil {
		into.Branches = make(map[contract.BranchKey]bool, len(from.Branches))
	}
	if into.Functions == nil {
		into.Functions = make(map[string]contract.Function, len(from.Functions))
	}
	for line, n := range from.Lines {
		into.Lines[line] += n
	}
	for k, taken := range from.Branches {
		into.Branches[k] = into.Branches[k] || taken
	}
	for name, fn := range from.Functions {
		cur, ok := into.Functions[name]
		if !ok {
			into.Functions[name] = fn
			continue
		}
		cur.Executed = cur.Executed || fn.Executed
		into.Functions[name] = cur
	}
}

// Clone 深拷贝结果（测试与需要保留操作数时使用）。
func Clone(r *contract.CovResult) *contract.CovResult {
	out := contract.NewCovResult()
	Merge(out, r)
	return out
}

// SyncMap: 全部消费者共享的结果映射，单锁保护。
// 锁只覆盖单个任务片段的折叠；解析与 I/O 均在锁外完成。
type SyncMap struct {
	mu    sync.Mutex
	m     contract.ResultMap
	taken bool
}

// NewSyncMap 创建空映射；sizeHint 仅作预分配。
func NewSyncMap(sizeHint int) *SyncMap {
	return &SyncMap{m: make(contract.ResultMap, sizeHint)}
}

// Fold 将一次解码的全部片段并入映射。片段结果的所有权转移给映射。
func (s *SyncMap) Fold(frags []contract.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken {
		return contract.ErrInvariantViolation
	}
	for _, f := range frags {
		if f.Result == nil {
			continue
		}
		cur, ok := s.m[f.Key]
		if !ok {
			s.m[f.Key] = f.Result
			continue
		}
		Merge(cur, f.Result)
	}
	return nil
}

// Len 返回当前文件键数量。
func (s *SyncMap) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Take 移出映射（仅一次）；之后的 Fold 返回 ErrInvariantViolation。
func (s *SyncMap) Take() contract.ResultMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.m
	s.m = nil
	s.taken = true
	return out
}
