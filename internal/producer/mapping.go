package producer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"covagg/pkg/contract"
)

// readMapping 读取首个映射文件（输入顺序优先，其次条目遍历顺序）。
func readMapping(idx *Index) ([]byte, error) {
	if len(idx.mappingOrder) == 0 {
		return nil, nil
	}
	name := idx.mappingOrder[0]
	a := idx.Mapping[name]
	var buf bytes.Buffer
	found, err := a.ReadInto(name, &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s from %s: %v", contract.ErrArchive, name, a.Name(), err)
	}
	if !found {
		return nil, nil
	}
	return buf.Bytes(), nil
}

// ParseMapping 将映射文件解析为 string→string 表；空输入返回 nil。
func ParseMapping(b []byte) (map[string]string, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: mapping file: %v", contract.ErrInvalidInput, err)
	}
	return m, nil
}
