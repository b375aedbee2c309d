package producer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"covagg/internal/archive"
	"covagg/internal/diag"
	"covagg/internal/queue"
	"covagg/pkg/contract"
)

// Options 生产者运行参数。
type Options struct {
	// TmpDir: notes/data 落盘根目录（每个任务写入唯一编号路径）
	TmpDir string
	// IgnoreOrphanNotes: 无 data 的 notes 不产生任务
	IgnoreOrphanNotes bool
	// LLVM: 替代工具链，以内存缓冲代替落盘
	LLVM bool
}

// Stats 生产计数（日志/测试使用）。
type Stats struct {
	NotesJobs  int
	TextJobs   int
	OrphanJobs int
}

// Total 返回全部任务数。
func (s Stats) Total() int { return s.NotesJobs + s.TextJobs }

// Producer: 顺序探索输入并入队任务。单次 Run 使用一次。
type Producer struct {
	opts   Options
	q      *queue.Queue
	logger *diag.Logger
	stats  Stats
}

// New 构造生产者；logger 可为 nil。
func New(opts Options, q *queue.Queue, logger *diag.Logger) *Producer {
	return &Producer{opts: opts, q: q, logger: logger}
}

// Run 对已打开的归档执行：探索 → 校验 → 文本入队 → notes 配对入队 → 读取映射文件。
// 返回映射文件字节（不存在为 nil）。哨兵由调用方在生产完成后发送。
func (p *Producer) Run(ctx context.Context, archives []archive.Archive) ([]byte, Stats, error) {
	names := make([]string, len(archives))
	for i, a := range archives {
		names[i] = a.Name()
	}
	idx, err := Explore(archives)
	if err != nil {
		return nil, p.stats, err
	}
	if err := idx.Validate(names); err != nil {
		return nil, p.stats, err
	}
	if p.logger != nil {
		p.logger.Debug("producer", "explored", map[string]string{
			"notes":     strconv.Itoa(len(idx.Notes)),
			"data":      strconv.Itoa(len(idx.Data)),
			"text":      strconv.Itoa(len(idx.Text)),
			"dup_notes": strconv.Itoa(idx.DuplicateNotes()),
		})
	}
	if err := p.produceText(ctx, idx); err != nil {
		return nil, p.stats, err
	}
	for _, stem := range idx.NotesStems() {
		if err := p.produceNotes(ctx, stem, idx.Notes[stem], idx.Data[stem]); err != nil {
			return nil, p.stats, err
		}
	}
	mapping, err := readMapping(idx)
	if err != nil {
		return nil, p.stats, err
	}
	return mapping, p.stats, nil
}

// produceText: 每个 (条目, 归属) 各一个任务；zip 读入内存，目录给出路径。
func (p *Producer) produceText(ctx context.Context, idx *Index) error {
	for _, name := range idx.TextNames() {
		for _, a := range idx.Text[name] {
			it := &contract.WorkItem{Format: contract.FormatText, Name: a.Name()}
			if d, ok := a.(*archive.Dir); ok {
				it.Payload = contract.PathPayload(d.Path(name))
			} else {
				var buf bytes.Buffer
				found, err := a.ReadInto(name, &buf)
				if err != nil {
					return fmt.Errorf("%w: read %s from %s: %v", contract.ErrArchive, name, a.Name(), err)
				}
				if !found {
					continue
				}
				it.Payload = contract.ContentPayload(buf.Bytes())
			}
			if err := p.q.Push(ctx, it); err != nil {
				return err
			}
			p.stats.TextJobs++
		}
	}
	return nil
}

func (p *Producer) dest(stem string, n int, ext string) string {
	return filepath.Join(p.opts.TmpDir, filepath.FromSlash(stem)+"_"+strconv.Itoa(n)+ext)
}

func (p *Producer) produceNotes(ctx context.Context, stem string, owner archive.Archive, dataOwners []archive.Archive) error {
	if len(dataOwners) == 0 {
		return p.produceOrphan(ctx, stem, owner)
	}
	if p.opts.LLVM {
		return p.produceBuffers(ctx, stem, owner, dataOwners)
	}

	notesEntry := stem + ExtNotes
	dataEntry := stem + ExtData
	physical := p.dest(stem, 1, ExtNotes)
	found, err := owner.Materialize(notesEntry, physical)
	if err != nil {
		return fmt.Errorf("%w: materialize %s from %s: %v", contract.ErrArchive, notesEntry, owner.Name(), err)
	}
	if !found {
		return fmt.Errorf("%w: %s vanished from %s", contract.ErrArchive, notesEntry, owner.Name())
	}
	for i, da := range dataOwners {
		found, err := da.Materialize(dataEntry, p.dest(stem, i+1, ExtData))
		if err != nil {
			return fmt.Errorf("%w: materialize %s from %s: %v", contract.ErrArchive, dataEntry, da.Name(), err)
		}
		if !found && (i != 0 || p.opts.IgnoreOrphanNotes) {
			continue
		}
		notesPath := p.dest(stem, i+1, ExtNotes)
		if i > 0 {
			// 别名：目录来源硬链接物理目标；zip 来源独立解压
			if err := p.alias(owner, notesEntry, physical, notesPath); err != nil {
				return err
			}
		}
		it := &contract.WorkItem{Format: contract.FormatNotes, Payload: contract.PathPayload(notesPath), Name: da.Name()}
		if err := p.q.Push(ctx, it); err != nil {
			return err
		}
		p.stats.NotesJobs++
		if !found {
			p.stats.OrphanJobs++
		}
	}
	return nil
}

func (p *Producer) alias(owner archive.Archive, entry, physical, dest string) error {
	if owner.IsDir() {
		if err := os.Link(physical, dest); err != nil {
			return fmt.Errorf("%w: hard link %s: %v", contract.ErrArchive, dest, err)
		}
		return nil
	}
	if _, err := owner.Materialize(entry, dest); err != nil {
		return fmt.Errorf("%w: materialize %s from %s: %v", contract.ErrArchive, entry, owner.Name(), err)
	}
	return nil
}

// produceBuffers: notes 只读一次，全部兄弟任务共享同一不可变缓冲。
func (p *Producer) produceBuffers(ctx context.Context, stem string, owner archive.Archive, dataOwners []archive.Archive) error {
	notes, err := readAll(owner, stem+ExtNotes)
	if err != nil {
		return err
	}
	shared := contract.NewSharedBytes(notes)
	for i, da := range dataOwners {
		var buf bytes.Buffer
		found, err := da.ReadInto(stem+ExtData, &buf)
		if err != nil {
			return fmt.Errorf("%w: read %s%s from %s: %v", contract.ErrArchive, stem, ExtData, da.Name(), err)
		}
		if !found && (i != 0 || p.opts.IgnoreOrphanNotes) {
			continue
		}
		it := &contract.WorkItem{
			Format: contract.FormatNotes,
			Payload: contract.BuffersPayload(contract.Buffers{
				Stem:  p.dest(stem, i+1, ""),
				Notes: shared,
				Data:  buf.Bytes(),
			}),
			Name: da.Name(),
		}
		if err := p.q.Push(ctx, it); err != nil {
			return err
		}
		p.stats.NotesJobs++
		if !found {
			p.stats.OrphanJobs++
		}
	}
	return nil
}

// produceOrphan: 无 data 的 notes 落盘为 <stem>_1.gcno（零覆盖是合法结果）。
func (p *Producer) produceOrphan(ctx context.Context, stem string, owner archive.Archive) error {
	if p.opts.IgnoreOrphanNotes {
		return nil
	}
	it := &contract.WorkItem{Format: contract.FormatNotes, Name: owner.Name()}
	if p.opts.LLVM {
		notes, err := readAll(owner, stem+ExtNotes)
		if err != nil {
			return err
		}
		it.Payload = contract.BuffersPayload(contract.Buffers{
			Stem:  p.dest(stem, 1, ""),
			Notes: contract.NewSharedBytes(notes),
		})
	} else {
		dest := p.dest(stem, 1, ExtNotes)
		found, err := owner.Materialize(stem+ExtNotes, dest)
		if err != nil {
			return fmt.Errorf("%w: materialize %s%s from %s: %v", contract.ErrArchive, stem, ExtNotes, owner.Name(), err)
		}
		if !found {
			return fmt.Errorf("%w: %s%s vanished from %s", contract.ErrArchive, stem, ExtNotes, owner.Name())
		}
		it.Payload = contract.PathPayload(dest)
	}
	if err := p.q.Push(ctx, it); err != nil {
		return err
	}
	p.stats.NotesJobs++
	p.stats.OrphanJobs++
	return nil
}

func readAll(a archive.Archive, entry string) ([]byte, error) {
	var buf bytes.Buffer
	found, err := a.ReadInto(entry, &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s from %s: %v", contract.ErrArchive, entry, a.Name(), err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s vanished from %s", contract.ErrArchive, entry, a.Name())
	}
	return buf.Bytes(), nil
}
