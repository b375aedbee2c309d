package contract

import (
	"context"
	"io"
)

// ArtifactID: 报告工件标识（通常为相对文件名）。
type ArtifactID string

// Writer: 将报告字节流持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入，按字节透传，不读取/修改内容；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

// EntrySource: 一次性、不可重启的输出序列。
type EntrySource interface {
	Next() bool
	Entry() Entry
	Err() error
}

// Output: 报告序列化器，消费一次 EntrySource。
type Output interface {
	Write(ctx context.Context, src EntrySource, w io.Writer) error
}
