package gcov

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"covagg/pkg/contract"
)

// ParseIntermediate 解析 gcov 中间文本格式：
//   file:<path>
//   function:<start>,<count>,<name>          （旧格式）
//   function:<start>,<end>,<count>,<name>    （gcc 8）
//   lcount:<line>,<count>[,<has_unexecuted_block>]
//   branch:<line>,taken|nottaken|notexec
// 同一文件可多次出现，各自成为一个片段。
func ParseIntermediate(r io.Reader, branch bool) ([]contract.Fragment, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		out   []contract.Fragment
		cur   *contract.CovResult
		perLn map[uint32]uint32
		n     int
	)
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		tag, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: malformed %q", n, line)
		}
		if tag == "file" {
			cur, perLn = contract.NewCovResult(), make(map[uint32]uint32)
			out = append(out, contract.Fragment{Key: val, Result: cur})
			continue
		}
		if cur == nil {
			// version: 等头部
			continue
		}
		switch tag {
		case "lcount":
			f := strings.Split(val, ",")
			if len(f) < 2 {
				return nil, fmt.Errorf("line %d: malformed lcount %q", n, val)
			}
			ln, err := parseU32(f[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			c, err := parseCount(f[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			cur.Lines[ln] += c
		case "function":
			start, cnt, name, err := parseFunction(val)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			fn, seen := cur.Functions[name]
			if !seen {
				fn.Start = start
			}
			fn.Executed = fn.Executed || cnt > 0
			cur.Functions[name] = fn
		case "branch":
			if !branch {
				continue
			}
			l, state, ok := strings.Cut(val, ",")
			if !ok {
				return nil, fmt.Errorf("line %d: malformed branch %q", n, val)
			}
			ln, err := parseU32(l)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			idx := perLn[ln]
			perLn[ln] = idx + 1
			cur.Branches[contract.BranchKey{Line: ln, Index: idx}] = state == "taken"
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return out, nil
}

// parseFunction 兼容三段与四段两种格式；函数名本身可能含逗号（模板参数）。
func parseFunction(val string) (uint32, uint64, string, error) {
	f := strings.SplitN(val, ",", 4)
	if len(f) < 3 {
		return 0, 0, "", fmt.Errorf("malformed function %q", val)
	}
	start, err := parseU32(f[0])
	if err != nil {
		return 0, 0, "", err
	}
	if len(f) == 4 {
		if _, e1 := parseU32(f[1]); e1 == nil {
			if c, e2 := parseCount(f[2]); e2 == nil {
				return start, c, f[3], nil
			}
		}
	}
	_, rest, _ := strings.Cut(val, ",")
	c, name, _ := strings.Cut(rest, ",")
	cnt, err := parseCount(c)
	if err != nil {
		return 0, 0, "", err
	}
	return start, cnt, name, nil
}

// jsonReport: gcc 9+ --json-format 输出（.gcov.json.gz）。
type jsonReport struct {
	Files []struct {
		File      string `json:"file"`
		Functions []struct {
			Name           string `json:"name"`
			StartLine      uint32 `json:"start_line"`
			ExecutionCount uint64 `json:"execution_count"`
		} `json:"functions"`
		Lines []struct {
			LineNumber uint32 `json:"line_number"`
			Count      uint64 `json:"count"`
			Branches   []struct {
				Count uint64 `json:"count"`
			} `json:"branches"`
		} `json:"lines"`
	} `json:"files"`
}

// ParseJSON 解析 JSON 报告；同一行在多个实例化中重复出现时计数累加，分支按序号取或。
func ParseJSON(r io.Reader, branch bool) ([]contract.Fragment, error) {
	var rep jsonReport
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, fmt.Errorf("json report: %w", err)
	}
	out := make([]contract.Fragment, 0, len(rep.Files))
	for _, f := range rep.Files {
		res := contract.NewCovResult()
		for _, fn := range f.Functions {
			cur, seen := res.Functions[fn.Name]
			if !seen {
				cur.Start = fn.StartLine
			}
			cur.Executed = cur.Executed || fn.ExecutionCount > 0
			res.Functions[fn.Name] = cur
		}
		for _, l := range f.Lines {
			res.Lines[l.LineNumber] += l.Count
			if !branch {
				continue
			}
			for i, b := range l.Branches {
				k := contract.BranchKey{Line: l.LineNumber, Index: uint32(i)}
				res.Branches[k] = res.Branches[k] || b.Count > 0
			}
		}
		out = append(out, contract.Fragment{Key: f.File, Result: res})
	}
	return out, nil
}

// ParseArtifact 按扩展名选择解析器：.json.gz / .json / 其余按中间文本。
func ParseArtifact(path string, branch bool) ([]contract.Fragment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch {
	case strings.HasSuffix(path, ".json.gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		defer zr.Close()
		return ParseJSON(zr, branch)
	case strings.HasSuffix(path, ".json"):
		return ParseJSON(f, branch)
	default:
		return ParseIntermediate(f, branch)
	}
}

func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid line number %q", s)
	}
	return uint32(v), nil
}

func parseCount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil && v < 0 {
		return 0, nil
	}
	return 0, fmt.Errorf("invalid count %q", s)
}
