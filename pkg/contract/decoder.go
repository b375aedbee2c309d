package contract

import (
	"context"
	"io"
)

// NotesDecoder: 原生路径的 notes 解码服务（外部转储工具 + 文本解码）。
// 约束：
//  1. notesPath 指向已落盘的 <stem>_<n>.gcno，同名 .gcda 可能存在；
//  2. 工具产物写入 workDir，解码后由实现清理；
//  3. 单个 workDir 同时只被一个消费者使用，实现可持有按 workDir 的状态。
type NotesDecoder interface {
	Decode(ctx context.Context, notesPath, workDir string, branch bool) ([]Fragment, error)
}

// BufferDecoder: 替代工具链的内存解码服务（notes + data 缓冲）。
type BufferDecoder interface {
	DecodeBuffers(ctx context.Context, b Buffers, workDir string, branch bool) ([]Fragment, error)
}

// TextDecoder: 文本记录解码服务（lcov .info）。
type TextDecoder interface {
	Decode(ctx context.Context, r io.Reader, branch bool) ([]Fragment, error)
}
