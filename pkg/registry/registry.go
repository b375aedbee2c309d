package registry

import (
	"bytes"
	"encoding/json"

	"covagg/pkg/contract"
	dgcov "covagg/plugins/decoder/gcov"
	dlcov "covagg/plugins/decoder/lcov"
	dllvm "covagg/plugins/decoder/llvm"
	ofiles "covagg/plugins/output/files"
	olcov "covagg/plugins/output/lcov"
	wfs "covagg/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewNotesDecoder 工厂签名：接收原样 JSON Options。
type NewNotesDecoder func(raw json.RawMessage) (contract.NotesDecoder, error)

// NewBufferDecoder 工厂签名：接收原样 JSON Options。
type NewBufferDecoder func(raw json.RawMessage) (contract.BufferDecoder, error)

// NewTextDecoder 工厂签名：接收原样 JSON Options。
type NewTextDecoder func(raw json.RawMessage) (contract.TextDecoder, error)

// NewOutput 工厂签名：接收原样 JSON Options。
type NewOutput func(raw json.RawMessage) (contract.Output, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (*wfs.FS, error)

// NotesDecoder 工厂注册表（显式、零反射）。
var NotesDecoder = map[string]NewNotesDecoder{
	// gcov: 外部 gcov（-i 中间格式或 --json-format）
	"gcov": func(raw json.RawMessage) (contract.NotesDecoder, error) {
		var opts dgcov.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dgcov.New(&opts), nil
	},
}

// BufferDecoder 工厂注册表。
var BufferDecoder = map[string]NewBufferDecoder{
	// llvm: llvm-cov gcov
	"llvm": func(raw json.RawMessage) (contract.BufferDecoder, error) {
		var opts dllvm.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dllvm.New(&opts), nil
	},
}

// TextDecoder 工厂注册表。
var TextDecoder = map[string]NewTextDecoder{
	"lcov": func(raw json.RawMessage) (contract.TextDecoder, error) {
		var opts dlcov.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dlcov.New(&opts), nil
	},
}

// Output 工厂注册表。
var Output = map[string]NewOutput{
	// lcov: .info 报告
	"lcov": func(raw json.RawMessage) (contract.Output, error) {
		var opts olcov.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return olcov.New(&opts), nil
	},
	// files: 每行一个路径
	"files": func(raw json.RawMessage) (contract.Output, error) {
		var opts ofiles.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ofiles.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子替换可配置）
	"fs": func(raw json.RawMessage) (*wfs.FS, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
