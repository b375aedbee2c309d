package contract

import "errors"

// 最小错误分类（均为致命；核心不做重试）。
var (
	// ErrInvalidInput: 运行配置或输入集合非法（如无 notes 也无文本记录）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrArchive: 输入归档无法打开/解析，或目录无法遍历。
	ErrArchive = errors.New("archive unreadable")
	// ErrDecode: 解码服务失败。
	ErrDecode = errors.New("decode failed")
	// ErrAmbiguous: 路径消歧存在多个同等候选。
	ErrAmbiguous = errors.New("ambiguous path")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
