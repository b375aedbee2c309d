package rewrite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covagg/pkg/contract"
)

func empty() *contract.CovResult { return contract.NewCovResult() }

func covered() *contract.CovResult {
	r := contract.NewCovResult()
	r.Lines[42] = 1
	return r
}

func uncovered() *contract.CovResult {
	r := contract.NewCovResult()
	r.Lines[42] = 0
	return r
}

func touch(t *testing.T, root string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}
}

func canonDir(t *testing.T, p string) string {
	t.Helper()
	c, err := filepath.EvalSymlinks(p)
	require.NoError(t, err)
	return c
}

func rewriteAll(t *testing.T, m contract.ResultMap, opts Options) []contract.Entry {
	t.Helper()
	it, err := New(m, opts)
	require.NoError(t, err)
	out, err := Collect(it)
	require.NoError(t, err)
	return out
}

func TestRewriteBasicIsIdentity(t *testing.T) {
	chdir(t, t.TempDir())
	out := rewriteAll(t, contract.ResultMap{"main.cpp": empty()}, Options{})
	require.Len(t, out, 1)
	assert.Equal(t, "main.cpp", out[0].Abs)
	assert.Equal(t, "main.cpp", out[0].Rel)
	assert.Equal(t, empty(), out[0].Result)
}

func TestRewriteRemovePrefix(t *testing.T) {
	chdir(t, t.TempDir())
	out := rewriteAll(t, contract.ResultMap{"/home/worker/src/workspace/main.cpp": empty()},
		Options{Prefix: "/home/worker/src/workspace/"})
	require.Len(t, out, 1)
	assert.Equal(t, "main.cpp", out[0].Abs)
	assert.Equal(t, "main.cpp", out[0].Rel)
}

func TestRewriteBackslashKeys(t *testing.T) {
	chdir(t, t.TempDir())
	out := rewriteAll(t, contract.ResultMap{`sub\dir\main.cpp`: empty()}, Options{})
	require.Len(t, out, 1)
	assert.Equal(t, "sub/dir/main.cpp", out[0].Rel)
}

func TestRewriteIgnoreNonExisting(t *testing.T) {
	root := canonDir(t, t.TempDir())
	touch(t, root, "tests/class/main.cpp")
	chdir(t, root)

	out := rewriteAll(t, contract.ResultMap{
		"tests/class/main.cpp":        empty(),
		"tests/class/doesntexist.cpp": empty(),
	}, Options{IgnoreNotExisting: true})
	require.Len(t, out, 1)
	assert.True(t, filepath.IsAbs(out[0].Abs), out[0].Abs)
	assert.Equal(t, filepath.Join(root, "tests", "class", "main.cpp"), out[0].Abs)
	assert.Equal(t, "tests/class/main.cpp", out[0].Rel)
}

func TestRewriteIgnoreDirectories(t *testing.T) {
	chdir(t, t.TempDir())
	ignore := []string{"mydir/*", "mydir2/*"}
	for i := 0; i < 2; i++ {
		out := rewriteAll(t, contract.ResultMap{
			"main.cpp":           empty(),
			"mydir/prova.h":      empty(),
			"mydir/sub/prova.h":  empty(),
			"mydir2/prova.h":     empty(),
			"mydir2/a/b/prova.h": empty(),
		}, Options{Ignore: ignore})
		require.Len(t, out, 1)
		assert.Equal(t, "main.cpp", out[0].Rel)
		ignore[0], ignore[1] = ignore[1], ignore[0]
	}

	// 忽略规则优先于存在性与覆盖过滤
	root := canonDir(t, t.TempDir())
	touch(t, root, "gen/out.c")
	out := rewriteAll(t, contract.ResultMap{"gen/out.c": covered()},
		Options{SourceDir: root, Ignore: []string{"gen/**"}, Filter: FilterCovered})
	assert.Empty(t, out)
}

func TestIgnoreGlobDialect(t *testing.T) {
	cases := []struct {
		pattern string
		rel     string
		want    bool
	}{
		{"mydir/*", "mydir/sub/x.h", true},
		{"mydir/*", "mydir", false},
		{"*.h", "a/b/x.h", true},
		{"*.h", "a/b/x.c", false},
		{"src/?.c", "src/a/b.c", false},
		{"src/?.c", "src/a.c", true},
		{"**/*_test.c", "a_test.c", true},
		{"**/*_test.c", "x/y/a_test.c", true},
		{"a/**/b.c", "a/b.c", true},
		{"a/**/b.c", "a/x/y/b.c", true},
		{"a/**/b.c", "ab.c", false},
		{"third_party/**", "third_party/z/q.c", true},
		{"third_party/**", "third_party", false},
		{"{gen,out}/*", "out/k/v.c", true},
	}
	for _, c := range cases {
		g, err := compileIgnore(c.pattern)
		require.NoError(t, err, c.pattern)
		assert.Equal(t, c.want, g.match(c.rel), "%s ~ %s", c.pattern, c.rel)
	}
}

func TestRewriteRejectsRelativeSourceDirAndBadGlob(t *testing.T) {
	_, err := New(contract.ResultMap{}, Options{SourceDir: "tests"})
	require.ErrorIs(t, err, contract.ErrInvalidInput)

	_, err = New(contract.ResultMap{}, Options{Ignore: []string{"a/[b"}})
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestRewriteAbsoluteSourceDirectory(t *testing.T) {
	root := canonDir(t, t.TempDir())
	touch(t, root, "test/java/main.java")
	src := filepath.Join(root, "test")

	out := rewriteAll(t, contract.ResultMap{
		"java/main.java":      empty(),
		"test/java/main.java": empty(),
	}, Options{SourceDir: src, IgnoreNotExisting: true})
	require.Len(t, out, 2)
	for _, e := range out {
		assert.Equal(t, filepath.Join(src, "java", "main.java"), e.Abs)
		assert.Equal(t, "java/main.java", e.Rel)
	}
}

func TestRewritePartialJavaPath(t *testing.T) {
	root := canonDir(t, t.TempDir())
	touch(t, root, "test/java/main.java")

	out := rewriteAll(t, contract.ResultMap{
		"java/main.java": empty(),
		"main.rs":        empty(),
	}, Options{SourceDir: root, IgnoreNotExisting: true})
	require.Len(t, out, 1)
	assert.Equal(t, filepath.Join(root, "test", "java", "main.java"), out[0].Abs)
	assert.Equal(t, "test/java/main.java", out[0].Rel)
}

func TestRewriteJavaAmbiguityIsFatal(t *testing.T) {
	root := canonDir(t, t.TempDir())
	touch(t, root, "a/x/Main.java", "b/x/Main.java", "c/y/Main.java")

	// 唯一后缀匹配
	out := rewriteAll(t, contract.ResultMap{"y/Main.java": empty()}, Options{SourceDir: root})
	require.Len(t, out, 1)
	assert.Equal(t, "c/y/Main.java", out[0].Rel)

	it, err := New(contract.ResultMap{"x/Main.java": empty(), "0first.c": empty()}, Options{SourceDir: root})
	require.NoError(t, err)
	require.True(t, it.Next())
	assert.Equal(t, "0first.c", it.Entry().Rel)
	assert.False(t, it.Next())
	require.ErrorIs(t, it.Err(), contract.ErrAmbiguous)
	assert.Contains(t, it.Err().Error(), "a/x/Main.java")
	assert.Contains(t, it.Err().Error(), "b/x/Main.java")
	// 出错后序列终止
	assert.False(t, it.Next())
}

func TestRewritePathAndRemovePrefix(t *testing.T) {
	root := canonDir(t, t.TempDir())
	touch(t, root, "tests/class/main.cpp")
	src := filepath.Join(root, "tests")

	out := rewriteAll(t, contract.ResultMap{"/home/worker/src/workspace/class/main.cpp": empty()},
		Options{SourceDir: src, Prefix: "/home/worker/src/workspace", IgnoreNotExisting: true})
	require.Len(t, out, 1)
	assert.Equal(t, filepath.Join(src, "class", "main.cpp"), out[0].Abs)
	assert.Equal(t, "class/main.cpp", out[0].Rel)
}

func TestRewriteUsingMapping(t *testing.T) {
	chdir(t, t.TempDir())
	out := rewriteAll(t, contract.ResultMap{"class/main.cpp": empty()},
		Options{Mapping: map[string]string{"class/main.cpp": "rewritten/main.cpp"}})
	require.Len(t, out, 1)
	assert.Equal(t, "rewritten/main.cpp", out[0].Abs)
	assert.Equal(t, "rewritten/main.cpp", out[0].Rel)

	// 首字母大小写翻转后命中
	out = rewriteAll(t, contract.ResultMap{"Class/main.cpp": empty()},
		Options{Mapping: map[string]string{"class/main.cpp": "rewritten/main.cpp"}})
	require.Len(t, out, 1)
	assert.Equal(t, "rewritten/main.cpp", out[0].Rel)
	out = rewriteAll(t, contract.ResultMap{"c:/w/main.cpp": empty()},
		Options{Mapping: map[string]string{"C:/w/main.cpp": "m.cpp"}})
	require.Len(t, out, 1)
	assert.Equal(t, "m.cpp", out[0].Rel)
}

func TestRewriteMappingAndIgnoreNonExisting(t *testing.T) {
	root := canonDir(t, t.TempDir())
	touch(t, root, "tests/class/main.cpp")
	chdir(t, root)

	out := rewriteAll(t, contract.ResultMap{
		"rewritten/main.cpp":   empty(),
		"tests/class/main.cpp": empty(),
	}, Options{
		Mapping: map[string]string{
			"rewritten/main.cpp":   "tests/class/main.cpp",
			"tests/class/main.cpp": "rewritten/main.cpp",
		},
		IgnoreNotExisting: true,
	})
	require.Len(t, out, 1)
	assert.Equal(t, filepath.Join(root, "tests", "class", "main.cpp"), out[0].Abs)
	assert.Equal(t, "tests/class/main.cpp", out[0].Rel)
}

func TestRewriteMappingPrecedesPrefix(t *testing.T) {
	root := canonDir(t, t.TempDir())
	touch(t, root, "tests/class/main.cpp")
	chdir(t, root)

	out := rewriteAll(t, contract.ResultMap{"/home/worker/src/workspace/rewritten/main.cpp": empty()}, Options{
		Mapping:           map[string]string{"/home/worker/src/workspace/rewritten/main.cpp": "tests/class/main.cpp"},
		Prefix:            "/home/worker/src/workspace",
		IgnoreNotExisting: true,
	})
	require.Len(t, out, 1)
	assert.Equal(t, "tests/class/main.cpp", out[0].Rel)

	src := filepath.Join(root, "tests")
	out = rewriteAll(t, contract.ResultMap{"/home/worker/src/workspace/rewritten/main.cpp": empty()}, Options{
		Mapping:           map[string]string{"/home/worker/src/workspace/rewritten/main.cpp": "class/main.cpp"},
		SourceDir:         src,
		Prefix:            "/home/worker/src/workspace",
		IgnoreNotExisting: true,
	})
	require.Len(t, out, 1)
	assert.Equal(t, filepath.Join(src, "class", "main.cpp"), out[0].Abs)
	assert.Equal(t, "class/main.cpp", out[0].Rel)
}

func TestRewriteCoverageFilter(t *testing.T) {
	chdir(t, t.TempDir())
	in := func() contract.ResultMap {
		return contract.ResultMap{"covered.cpp": covered(), "uncovered.cpp": uncovered()}
	}
	out := rewriteAll(t, in(), Options{Filter: FilterCovered})
	require.Len(t, out, 1)
	assert.Equal(t, "covered.cpp", out[0].Rel)
	assert.Equal(t, covered(), out[0].Result)

	out = rewriteAll(t, in(), Options{Filter: FilterUncovered})
	require.Len(t, out, 1)
	assert.Equal(t, "uncovered.cpp", out[0].Rel)

	out = rewriteAll(t, in(), Options{})
	assert.Len(t, out, 2)
}

func TestRewriteSymlinkFixesRelative(t *testing.T) {
	root := canonDir(t, t.TempDir())
	touch(t, root, "real/impl.c")
	require.NoError(t, os.Symlink(filepath.Join(root, "real", "impl.c"), filepath.Join(root, "link.c")))

	out := rewriteAll(t, contract.ResultMap{"link.c": empty()}, Options{SourceDir: root})
	require.Len(t, out, 1)
	assert.Equal(t, filepath.Join(root, "real", "impl.c"), out[0].Abs)
	assert.Equal(t, "real/impl.c", out[0].Rel)

	// 源码目录外的绝对键：相对路径取绝对路径本身
	other := canonDir(t, t.TempDir())
	touch(t, other, "ext.c")
	abs := filepath.Join(other, "ext.c")
	out = rewriteAll(t, contract.ResultMap{abs: empty()}, Options{SourceDir: root})
	require.Len(t, out, 1)
	assert.Equal(t, abs, out[0].Abs)
	assert.Equal(t, filepath.ToSlash(abs), out[0].Rel)
}

func TestRewriteSequenceIsSinglePass(t *testing.T) {
	chdir(t, t.TempDir())
	m := contract.ResultMap{"b.c": empty(), "a.c": empty()}
	it, err := New(m, Options{})
	require.NoError(t, err)
	var rels []string
	for it.Next() {
		rels = append(rels, it.Entry().Rel)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"a.c", "b.c"}, rels)
	assert.False(t, it.Next())
	assert.Empty(t, m, "results are moved out while iterating")
}

func TestGuessAbsUsesAncestorCache(t *testing.T) {
	var cache string
	assert.Equal(t, "/home/user/gecko/dom/a.cpp", guessAbs("/home/user/gecko", "gecko/dom/a.cpp", &cache))
	assert.Equal(t, "gecko", cache)
	assert.Equal(t, "/home/user/gecko/js/b.cpp", guessAbs("/home/user/gecko", "gecko/js/b.cpp", &cache))
	// 未命中任何祖先：直接拼接，缓存保持
	assert.Equal(t, "/home/user/gecko/other/c.cpp", guessAbs("/home/user/gecko", "other/c.cpp", &cache))
	assert.Equal(t, "gecko", cache)
	// 最长祖先优先
	cache = ""
	assert.Equal(t, "/src/a/b/x.c", guessAbs("/src/a/b", "a/b/x.c", &cache))
	assert.Equal(t, "a/b", cache)
	// 无缓存指针同样可用
	assert.Equal(t, "/src/a/b/x.c", guessAbs("/src/a/b", "b/x.c", nil))
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "marco", flipFirst("Marco", false))
	assert.Equal(t, "Marco", flipFirst("marco", true))
	assert.Equal(t, "", flipFirst("", true))

	assert.True(t, hasPathPrefix("/a/b/c", "/a/b"))
	assert.True(t, hasPathPrefix("/a/b/c", "/a/b/"))
	assert.False(t, hasPathPrefix("/a/bc", "/a/b"))
	assert.True(t, hasPathPrefix("/a", "/"))
	assert.False(t, hasPathPrefix("/a", ""))

	assert.True(t, hasPathSuffix("/x/a/b", "a/b"))
	assert.False(t, hasPathSuffix("/x/aa/b", "a/b"))
	assert.False(t, hasPathSuffix("/x/a", "/x/a"))

	assert.Equal(t, "c", removePrefix("/a/b", "/a/b/c"))
	assert.Equal(t, "/z/c", removePrefix("/a/b", "/z/c"))
}

func TestIndexSkipsHiddenSymlinksAndIgnored(t *testing.T) {
	root := canonDir(t, t.TempDir())
	touch(t, root, "a/Foo.java", ".git/Foo.java", "gen/Foo.java", ".hidden.java")
	require.NoError(t, os.Symlink(filepath.Join(root, "a"), filepath.Join(root, "alias")))

	idx, err := buildIndex(root, func(rel string) bool { return strings.HasPrefix(rel, "gen/") })
	require.NoError(t, err)
	assert.Equal(t, []string{"a/Foo.java"}, idx["Foo.java"])
	assert.NotContains(t, idx, ".hidden.java")

	got, err := idx.resolve("pkg/Foo.java")
	require.NoError(t, err)
	assert.Equal(t, "a/Foo.java", got)
	got, err = idx.resolve("Bar.java")
	require.NoError(t, err)
	assert.Equal(t, "Bar.java", got)
}

func TestParseFilter(t *testing.T) {
	for in, want := range map[string]Filter{"": FilterNone, "covered": FilterCovered, "Uncovered": FilterUncovered} {
		got, err := ParseFilter(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFilter("partial")
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}
