package consumer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"covagg/internal/diag"
	"covagg/internal/merge"
	"covagg/internal/queue"
	"covagg/pkg/contract"
)

// Consumer: 单个工作者。取任务 → 解码 → 规范化键 → 加锁折叠。
// 一个 Consumer 只由一个 goroutine 运行；WorkDir 独占。
type Consumer struct {
	ID      string
	WorkDir string
	Notes   contract.NotesDecoder
	Buffers contract.BufferDecoder
	Text    contract.TextDecoder
	Branch  bool
	Results *merge.SyncMap
	// Canon 为 nil 表示未配置源码目录
	Canon  *Canonicalizer
	Logger *diag.Logger
}

// Run 循环直至读到哨兵；任一解码失败立即返回（由上层取消整体）。
// 返回已处理的任务数。
func (c *Consumer) Run(ctx context.Context, q *queue.Queue) (int, error) {
	done := 0
	for {
		it, ok, err := q.Pop(ctx)
		if err != nil {
			return done, err
		}
		if !ok {
			return done, nil
		}
		t0 := time.Now()
		frags, err := c.decode(ctx, it)
		if err != nil {
			code := diag.Classify(err)
			if c.Logger != nil {
				c.Logger.ErrorWithKV("consumer", string(code), err.Error(), &t0, it.Name, map[string]string{
					"consumer": c.ID,
					"format":   it.Format.String(),
				})
			}
			diag.IncOp("consumer", "decode", "error")
			diag.IncError("consumer", string(code))
			if t := diag.GetTerminal(); t != nil {
				t.JobDone(it.Name, false)
			}
			return done, err
		}
		for i := range frags {
			frags[i].Key = c.Canon.Key(frags[i].Key)
		}
		if err := c.Results.Fold(frags); err != nil {
			return done, err
		}
		done++
		diag.IncOp("consumer", "decode", "success")
		diag.ObserveDuration("consumer", "decode", time.Since(t0).Milliseconds())
		if t := diag.GetTerminal(); t != nil {
			t.JobDone(it.Name, true)
		}
	}
}

// decode 按格式与载荷标签分派。失败包装为 ErrDecode 并携带任务来源。
func (c *Consumer) decode(ctx context.Context, it *contract.WorkItem) ([]contract.Fragment, error) {
	var (
		frags []contract.Fragment
		err   error
		src   string
	)
	switch it.Format {
	case contract.FormatNotes:
		switch it.Payload.Kind {
		case contract.PayloadPath:
			src = it.Payload.Path
			if c.Notes == nil {
				return nil, fmt.Errorf("%w: no notes decoder configured", contract.ErrInvariantViolation)
			}
			frags, err = c.Notes.Decode(ctx, it.Payload.Path, c.WorkDir, c.Branch)
		case contract.PayloadBuffers:
			src = it.Payload.Buffers.Stem
			if c.Buffers == nil {
				return nil, fmt.Errorf("%w: no buffer decoder configured", contract.ErrInvariantViolation)
			}
			frags, err = c.Buffers.DecodeBuffers(ctx, it.Payload.Buffers, c.WorkDir, c.Branch)
		default:
			return nil, fmt.Errorf("%w: notes item with payload kind %d", contract.ErrInvariantViolation, it.Payload.Kind)
		}
	case contract.FormatText:
		if c.Text == nil {
			return nil, fmt.Errorf("%w: no text decoder configured", contract.ErrInvariantViolation)
		}
		var r io.Reader
		switch it.Payload.Kind {
		case contract.PayloadPath:
			src = it.Payload.Path
			f, oerr := os.Open(it.Payload.Path)
			if oerr != nil {
				return nil, fmt.Errorf("%w: parsing %s: %w", contract.ErrDecode, it.Name, oerr)
			}
			defer f.Close()
			r = f
		case contract.PayloadContent:
			r = bytes.NewReader(it.Payload.Content)
		default:
			return nil, fmt.Errorf("%w: text item with payload kind %d", contract.ErrInvariantViolation, it.Payload.Kind)
		}
		frags, err = c.Text.Decode(ctx, r, c.Branch)
	default:
		return nil, fmt.Errorf("%w: unknown format %d", contract.ErrInvariantViolation, it.Format)
	}
	if err != nil {
		if src != "" {
			return nil, fmt.Errorf("%w: parsing %s (%s): %w", contract.ErrDecode, it.Name, src, err)
		}
		return nil, fmt.Errorf("%w: parsing %s: %w", contract.ErrDecode, it.Name, err)
	}
	return frags, nil
}
