package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covagg/internal/merge"
	"covagg/internal/queue"
	"covagg/pkg/contract"
)

// stubText: 每行 "<file> <line> <count>" 一个片段。
type stubText struct{}

func (stubText) Decode(_ context.Context, r io.Reader, _ bool) ([]contract.Fragment, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var out []contract.Fragment
	for _, ln := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if ln == "" {
			continue
		}
		var file string
		var line uint32
		var n uint64
		if _, err := fmt.Sscan(ln, &file, &line, &n); err != nil {
			return nil, err
		}
		res := contract.NewCovResult()
		res.Lines[line] = n
		out = append(out, contract.Fragment{Key: file, Result: res})
	}
	return out, nil
}

type stubNotes struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (s *stubNotes) Decode(_ context.Context, notesPath, workDir string, branch bool) ([]contract.Fragment, error) {
	s.mu.Lock()
	s.calls = append(s.calls, notesPath)
	s.mu.Unlock()
	if s.fail != "" && strings.HasSuffix(notesPath, s.fail) {
		return nil, errors.New("gcov: corrupt notes")
	}
	r := contract.NewCovResult()
	r.Lines[1] = 1
	r.Functions["main"] = contract.Function{Start: 1, Executed: true}
	return []contract.Fragment{{Key: "main.c", Result: r}}, nil
}

type stubBuffers struct{}

func (stubBuffers) DecodeBuffers(_ context.Context, b contract.Buffers, _ string, _ bool) ([]contract.Fragment, error) {
	r := contract.NewCovResult()
	r.Lines[uint32(len(b.Notes.Bytes()))] = uint64(len(b.Data))
	return []contract.Fragment{{Key: "buf.c", Result: r}}, nil
}

func runPool(t *testing.T, n int, items []*contract.WorkItem, mk func() *Consumer) (contract.ResultMap, []error) {
	t.Helper()
	ctx := context.Background()
	q := queue.New(len(items) + n)
	for _, it := range items {
		require.NoError(t, q.Push(ctx, it))
	}
	require.NoError(t, q.Close(ctx, n))

	results := merge.NewSyncMap(0)
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		c := mk()
		c.Results = results
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Run(ctx, q)
		}(i)
	}
	wg.Wait()
	return results.Take(), errs
}

func TestConsumersFoldAllPayloadKinds(t *testing.T) {
	dir := t.TempDir()
	info := filepath.Join(dir, "a.info")
	require.NoError(t, os.WriteFile(info, []byte("x.c 3 2\n"), 0o644))

	notes := &stubNotes{}
	shared := contract.NewSharedBytes([]byte("nn"))
	items := []*contract.WorkItem{
		{Format: contract.FormatText, Payload: contract.ContentPayload([]byte("x.c 3 5\ny.c 1 0\n")), Name: "in.zip"},
		{Format: contract.FormatText, Payload: contract.PathPayload(info), Name: dir},
		{Format: contract.FormatNotes, Payload: contract.PathPayload("/tmp/w/main_1.gcno"), Name: "gcda1.zip"},
		{Format: contract.FormatNotes, Payload: contract.PathPayload("/tmp/w/main_2.gcno"), Name: "gcda2.zip"},
		{Format: contract.FormatNotes, Payload: contract.BuffersPayload(contract.Buffers{Stem: "b_1", Notes: shared, Data: []byte("ddd")}), Name: "b"},
		{Format: contract.FormatNotes, Payload: contract.BuffersPayload(contract.Buffers{Stem: "b_2", Notes: shared, Data: []byte("ddd")}), Name: "b"},
	}
	out, errs := runPool(t, 3, items, func() *Consumer {
		return &Consumer{WorkDir: t.TempDir(), Notes: notes, Buffers: stubBuffers{}, Text: stubText{}}
	})
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, out, 4)
	assert.EqualValues(t, 7, out["x.c"].Lines[3])
	assert.EqualValues(t, 0, out["y.c"].Lines[1])
	assert.EqualValues(t, 2, out["main.c"].Lines[1])
	assert.True(t, out["main.c"].Functions["main"].Executed)
	assert.EqualValues(t, 6, out["buf.c"].Lines[2])
	assert.Len(t, notes.calls, 2)
}

func TestDecodeFailureNamesSource(t *testing.T) {
	items := []*contract.WorkItem{
		{Format: contract.FormatNotes, Payload: contract.PathPayload("/tmp/w/bad_1.gcno"), Name: "gcda-run7.zip"},
	}
	_, errs := runPool(t, 1, items, func() *Consumer {
		return &Consumer{WorkDir: t.TempDir(), Notes: &stubNotes{fail: "bad_1.gcno"}}
	})
	require.ErrorIs(t, errs[0], contract.ErrDecode)
	assert.Contains(t, errs[0].Error(), "gcda-run7.zip")
	assert.Contains(t, errs[0].Error(), "corrupt notes")

	items = []*contract.WorkItem{
		{Format: contract.FormatText, Payload: contract.PathPayload(filepath.Join(t.TempDir(), "gone.info")), Name: "dir-in"},
	}
	_, errs = runPool(t, 1, items, func() *Consumer { return &Consumer{Text: stubText{}} })
	require.ErrorIs(t, errs[0], contract.ErrDecode)
	assert.Contains(t, errs[0].Error(), "dir-in")
}

func TestMissingDecoderIsInvariantViolation(t *testing.T) {
	items := []*contract.WorkItem{
		{Format: contract.FormatNotes, Payload: contract.BuffersPayload(contract.Buffers{Stem: "s"}), Name: "x"},
	}
	_, errs := runPool(t, 1, items, func() *Consumer { return &Consumer{Notes: &stubNotes{}} })
	require.ErrorIs(t, errs[0], contract.ErrInvariantViolation)
}

func TestSourceDirCanonicalizesKeys(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "foo", "bar"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "foo", "bar", "oof.cpp"), nil, 0o644))
	canon, err := NewCanonicalizer(src, 0)
	require.NoError(t, err)

	items := []*contract.WorkItem{
		{Format: contract.FormatText, Payload: contract.ContentPayload([]byte("foo/./bar/oof.cpp 1 63\nfoo/bar/oof.cpp 1 21\nmissing.cpp 2 1\n")), Name: "rel.info"},
	}
	out, errs := runPool(t, 1, items, func() *Consumer { return &Consumer{Text: stubText{}, Canon: canon} })
	require.NoError(t, errs[0])
	want, err := filepath.EvalSymlinks(filepath.Join(src, "foo", "bar", "oof.cpp"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.EqualValues(t, 84, out[want].Lines[1])
	// 无法规范化时回退原始键
	assert.EqualValues(t, 1, out["missing.cpp"].Lines[2])
}

func TestNilCanonicalizerPassesThrough(t *testing.T) {
	c, err := NewCanonicalizer("", 10)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Equal(t, "a/./b.c", c.Key("a/./b.c"))
}
