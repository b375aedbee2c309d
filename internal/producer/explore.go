package producer

import (
	"fmt"
	"path"
	"sort"

	"covagg/internal/archive"
	"covagg/pkg/contract"
)

// 条目分类（按区分大小写的扩展名；映射文件按精确 basename）。
const (
	ExtNotes    = ".gcno"
	ExtData     = ".gcda"
	ExtText     = ".info"
	MappingName = "linked-files-map.json"
)

// Index: 一次探索构建的索引，仅在单次摄取内有效。
// - Notes: stem → 归属输入（首个出现者胜出）；
// - Data: stem → 按输入顺序的归属列表；
// - Text: 条目名 → 按输入顺序的归属列表；
// - Mapping: 条目名 → 归属输入（首个出现者胜出）。
type Index struct {
	Notes   map[string]archive.Archive
	Data    map[string][]archive.Archive
	Text    map[string][]archive.Archive
	Mapping map[string]archive.Archive

	textOrder    []string
	mappingOrder []string
	dupNotes     int
}

// Explore 依输入顺序遍历全部归档并分类条目。
// 同一归档内的遍历顺序由 Archive.Walk 保证稳定。
func Explore(archives []archive.Archive) (*Index, error) {
	idx := &Index{
		Notes:   make(map[string]archive.Archive),
		Data:    make(map[string][]archive.Archive),
		Text:    make(map[string][]archive.Archive),
		Mapping: make(map[string]archive.Archive),
	}
	for _, a := range archives {
		a := a
		err := a.Walk(func(entry string) error {
			idx.add(a, contract.NormalizeSlash(entry))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (idx *Index) add(a archive.Archive, entry string) {
	if path.Base(entry) == MappingName {
		if _, ok := idx.Mapping[entry]; !ok {
			idx.Mapping[entry] = a
			idx.mappingOrder = append(idx.mappingOrder, entry)
		}
		return
	}
	switch path.Ext(entry) {
	case ExtNotes:
		stem := contract.Stem(entry)
		if _, ok := idx.Notes[stem]; ok {
			idx.dupNotes++
			return
		}
		idx.Notes[stem] = a
	case ExtData:
		stem := contract.Stem(entry)
		idx.Data[stem] = append(idx.Data[stem], a)
	case ExtText:
		if _, ok := idx.Text[entry]; !ok {
			idx.textOrder = append(idx.textOrder, entry)
		}
		idx.Text[entry] = append(idx.Text[entry], a)
	}
}

// NotesStems 返回排序后的 notes stem（配对顺序确定）。
func (idx *Index) NotesStems() []string {
	out := make([]string, 0, len(idx.Notes))
	for s := range idx.Notes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// TextNames 按首次出现顺序返回文本条目名。
func (idx *Index) TextNames() []string { return idx.textOrder }

// DuplicateNotes 返回被忽略的重复 notes 条目数（仅用于日志）。
func (idx *Index) DuplicateNotes() int { return idx.dupNotes }

// Validate 检查配对不变量：
// 1) 无 notes 时必须存在文本记录；
// 2) 存在 data 却没有任何 notes（且无文本记录）同样无效。
func (idx *Index) Validate(inputs []string) error {
	if len(idx.Notes) > 0 || len(idx.Text) > 0 {
		return nil
	}
	if len(idx.Data) > 0 {
		return fmt.Errorf("%w: data files without any notes files in inputs %v", contract.ErrInvalidInput, inputs)
	}
	return fmt.Errorf("%w: no notes files and no text records in inputs %v", contract.ErrInvalidInput, inputs)
}
