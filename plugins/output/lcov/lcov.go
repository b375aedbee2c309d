package lcov

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"covagg/pkg/contract"
)

// Options: lcov 报告选项。
type Options struct {
	// Relative: SF 使用相对路径（默认绝对路径）
	Relative bool `json:"relative,omitempty"`
	// TestName: TN 行内容
	TestName string `json:"test_name,omitempty"`
}

type output struct {
	rel bool
	tn  string
}

func New(opts *Options) contract.Output {
	o := &output{}
	if opts != nil {
		o.rel, o.tn = opts.Relative, opts.TestName
	}
	return o
}

// Write 消费序列并逐条写出记录。
func (o *output) Write(ctx context.Context, src contract.EntrySource, w io.Writer) error {
	bw := bufio.NewWriter(w)
	for src.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := src.Entry()
		name := e.Abs
		if o.rel {
			name = e.Rel
		}
		writeRecord(bw, o.tn, name, e.Result)
	}
	if err := src.Err(); err != nil {
		return err
	}
	return bw.Flush()
}

func writeRecord(w *bufio.Writer, tn, name string, r *contract.CovResult) {
	fmt.Fprintf(w, "TN:%s\nSF:%s\n", tn, name)

	fns := r.SortedFunctions()
	hit := 0
	for _, n := range fns {
		fmt.Fprintf(w, "FN:%d,%s\n", r.Functions[n].Start, n)
	}
	for _, n := range fns {
		ex := 0
		if r.Functions[n].Executed {
			ex, hit = 1, hit+1
		}
		fmt.Fprintf(w, "FNDA:%d,%s\n", ex, n)
	}
	if len(fns) > 0 {
		fmt.Fprintf(w, "FNF:%d\nFNH:%d\n", len(fns), hit)
	}

	brs := r.SortedBranches()
	hit = 0
	for _, k := range brs {
		taken := "-"
		if r.Branches[k] {
			taken, hit = "1", hit+1
		}
		fmt.Fprintf(w, "BRDA:%d,0,%d,%s\n", k.Line, k.Index, taken)
	}
	if len(brs) > 0 {
		fmt.Fprintf(w, "BRF:%d\nBRH:%d\n", len(brs), hit)
	}

	lines := r.SortedLines()
	hit = 0
	for _, l := range lines {
		c := r.Lines[l]
		if c > 0 {
			hit++
		}
		fmt.Fprintf(w, "DA:%d,%d\n", l, c)
	}
	fmt.Fprintf(w, "LF:%d\nLH:%d\nend_of_record\n", len(lines), hit)
}
