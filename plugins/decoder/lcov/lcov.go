package lcov

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"covagg/pkg/contract"
)

// Options: 文本记录解码选项。
type Options struct {
	// MaxLineBytes: 单行上限（默认 1 MiB）
	MaxLineBytes int `json:"max_line_bytes,omitempty"`
}

type decoder struct {
	maxLine int
}

// New 创建文本记录解码器。
func New(opts *Options) contract.TextDecoder {
	d := &decoder{maxLine: 1 << 20}
	if opts != nil && opts.MaxLineBytes > 0 {
		d.maxLine = opts.MaxLineBytes
	}
	return d
}

// Decode 解析 lcov .info 记录：
//   SF:<file>            开始一条记录
//   FN:<start>,<name>    声明函数
//   FNDA:<count>,<name>  函数执行次数（>0 即已执行）
//   BRDA:<line>,<block>,<branch>,<taken>  分支；branch=false 时忽略
//   DA:<line>,<count>[,<checksum>]        行计数，同行累加
//   end_of_record        结束当前记录
// 其余统计行（TN/FNF/FNH/BRF/BRH/LF/LH）忽略；同一文件可出现多条记录，由合并阶段折叠。
func (d *decoder) Decode(ctx context.Context, r io.Reader, branch bool) ([]contract.Fragment, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(64*1024, d.maxLine)), d.maxLine)

	var (
		out    []contract.Fragment
		cur    *contract.CovResult
		key    string
		perLn  map[uint32]uint32 // 每行已分配的分支序号
		lineNo int
	)
	for sc.Scan() {
		lineNo++
		if lineNo%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "end_of_record" {
			if cur != nil {
				out = append(out, contract.Fragment{Key: key, Result: cur})
			}
			cur, key, perLn = nil, "", nil
			continue
		}
		tag, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: malformed record %q", lineNo, line)
		}
		if tag == "SF" {
			cur, key, perLn = contract.NewCovResult(), val, make(map[uint32]uint32)
			continue
		}
		if cur == nil {
			// SF 之前的 TN 等头部信息
			if tag == "TN" {
				continue
			}
			return nil, fmt.Errorf("line %d: %s outside of a record", lineNo, tag)
		}
		switch tag {
		case "DA":
			f := strings.Split(val, ",")
			if len(f) < 2 {
				return nil, fmt.Errorf("line %d: malformed DA %q", lineNo, val)
			}
			ln, err := parseLine(f[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cnt, err := parseCount(f[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cur.Lines[ln] += cnt
		case "FN":
			s, name, ok := strings.Cut(val, ",")
			if !ok {
				return nil, fmt.Errorf("line %d: malformed FN %q", lineNo, val)
			}
			start, err := parseLine(s)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			fn := cur.Functions[name]
			fn.Start = start
			cur.Functions[name] = fn
		case "FNDA":
			c, name, ok := strings.Cut(val, ",")
			if !ok {
				return nil, fmt.Errorf("line %d: malformed FNDA %q", lineNo, val)
			}
			cnt, err := parseCount(c)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			fn := cur.Functions[name]
			fn.Executed = fn.Executed || cnt > 0
			cur.Functions[name] = fn
		case "BRDA":
			if !branch {
				continue
			}
			f := strings.Split(val, ",")
			if len(f) != 4 {
				return nil, fmt.Errorf("line %d: malformed BRDA %q", lineNo, val)
			}
			ln, err := parseLine(f[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			taken := f[3] != "-" && f[3] != "0"
			idx := perLn[ln]
			perLn[ln] = idx + 1
			k := contract.BranchKey{Line: ln, Index: idx}
			cur.Branches[k] = cur.Branches[k] || taken
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if cur != nil {
		return nil, fmt.Errorf("record for %s not terminated by end_of_record", key)
	}
	return out, nil
}

func parseLine(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid line number %q", s)
	}
	return uint32(v), nil
}

// parseCount: 部分工具输出浮点或负数计数，统一截断为非负整数。
func parseCount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	if f <= 0 {
		return 0, nil
	}
	return uint64(f), nil
}

var _ contract.TextDecoder = (*decoder)(nil)
