package files

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"covagg/pkg/contract"
)

// Options: 文件清单选项。
type Options struct {
	// Absolute: 输出绝对路径（默认相对路径）
	Absolute bool `json:"absolute,omitempty"`
}

type output struct{ abs bool }

func New(opts *Options) contract.Output {
	if opts == nil {
		return &output{}
	}
	return &output{abs: opts.Absolute}
}

// Write 每行一个路径，顺序与输入序列一致。
func (o *output) Write(ctx context.Context, src contract.EntrySource, w io.Writer) error {
	bw := bufio.NewWriter(w)
	for src.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := src.Entry()
		p := e.Rel
		if o.abs {
			p = e.Abs
		}
		if _, err := fmt.Fprintln(bw, p); err != nil {
			return err
		}
	}
	if err := src.Err(); err != nil {
		return err
	}
	return bw.Flush()
}
