package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitebuild/internal/errors"
)

type fakeReloader struct {
	mutex sync.Mutex
	calls [][]string
}

func (f *fakeReloader) Reload(paths ...string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls = append(f.calls, paths)
}

func items(names ...string) []*Item {
	out := make([]*Item, 0, len(names))
	for _, n := range names {
		out = append(out, NewItem(n, []byte("content of "+n)))
	}
	return out
}

func collect(into *[]*Item) Stage {
	return Tap("collect", func(item *Item) {
		*into = append(*into, item)
	})
}

func paths(in []*Item) []string {
	out := make([]string, len(in))
	for i, it := range in {
		out[i] = it.Path
	}
	return out
}

func upper() Stage {
	return Map("upper", func(_ context.Context, item *Item) error {
		item.Contents = bytes.ToUpper(item.Contents)
		return nil
	})
}

func TestChainEmptyGlobCompletesWithoutWrites(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	reloader := &fakeReloader{}
	dest := Dest(out, reloader)

	chain := New("markup", Glob(root, "_markup/*.html")).Pipe(upper(), dest)

	require.NoError(t, chain.Run(context.Background()))
	assert.Empty(t, dest.Written())
	assert.Empty(t, reloader.calls)
	assert.Equal(t, Stats{}, chain.Stats())
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestChainPreservesOrder(t *testing.T) {
	var got []*Item
	names := []string{"c.html", "a.html", "b.html", "d.html"}
	chain := New("order", Static(items(names...)...)).Pipe(upper(), collect(&got))

	require.NoError(t, chain.Run(context.Background()))
	assert.Equal(t, names, paths(got))
}

func TestConditionalFalseIsIdentity(t *testing.T) {
	input := items("a.css", "b.css", "c.css")
	var got []*Item
	chain := New("styles", Static(input...)).Pipe(If(Always(false), upper()), collect(&got))

	require.NoError(t, chain.Run(context.Background()))
	require.Len(t, got, len(input))
	for i := range input {
		assert.Equal(t, input[i].Path, got[i].Path)
		assert.Equal(t, input[i].Contents, got[i].Contents)
	}
}

func TestConditionalPerItemKeepsOrder(t *testing.T) {
	var got []*Item
	onlyCSS := func(item *Item) bool { return item.Ext() == ".css" }
	chain := New("mixed", Static(items("a.css", "b.js", "c.css")...)).
		Pipe(If(onlyCSS, upper()), collect(&got))

	require.NoError(t, chain.Run(context.Background()))
	assert.Equal(t, []string{"a.css", "b.js", "c.css"}, paths(got))
	assert.Equal(t, "CONTENT OF A.CSS", string(got[0].Contents))
	assert.Equal(t, "content of b.js", string(got[1].Contents))
	assert.Equal(t, "CONTENT OF C.CSS", string(got[2].Contents))
}

func TestConditionalFlushOnlyWhenUsed(t *testing.T) {
	reloader := &fakeReloader{}
	chain := New("reload", Static(items("a.png")...)).Pipe(If(Always(false), Reload(reloader)))
	require.NoError(t, chain.Run(context.Background()))
	assert.Empty(t, reloader.calls)

	chain = New("reload", Static(items("a.png")...)).Pipe(If(Always(true), Reload(reloader)))
	require.NoError(t, chain.Run(context.Background()))
	assert.Len(t, reloader.calls, 1)
}

func TestChainFanOutAndDrop(t *testing.T) {
	var got []*Item
	split := Func("split", func(_ context.Context, item *Item) ([]*Item, error) {
		if strings.HasPrefix(item.Path, "_") {
			return nil, nil
		}
		sourcemap := NewItem(item.Path+".map", []byte("{}"))
		return []*Item{item, sourcemap}, nil
	})
	chain := New("fan", Static(items("a.js", "_partial.js", "b.js")...)).Pipe(split, collect(&got))

	require.NoError(t, chain.Run(context.Background()))
	assert.Equal(t, []string{"a.js", "a.js.map", "b.js", "b.js.map"}, paths(got))
	assert.Equal(t, Stats{In: 3, Out: 4}, chain.Stats())
}

func TestChainTransformErrorDropsItemAndContinues(t *testing.T) {
	collector := errors.NewErrorCollector(0)
	var got []*Item
	syntaxErr := fmt.Errorf("unexpected }")
	compile := Map("compile", func(_ context.Context, item *Item) error {
		if item.Path == "broken.scss" {
			return errors.NewTransformError(item.Path, syntaxErr)
		}
		return nil
	})

	chain := New("styles", Static(items("a.scss", "broken.scss", "c.scss")...)).
		Pipe(compile, collect(&got)).
		OnError(collector)

	err := chain.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, syntaxErr)
	assert.Equal(t, []string{"a.scss", "c.scss"}, paths(got))
	assert.Equal(t, 1, chain.Stats().Dropped)

	reports := collector.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "styles", reports[0].Task)
	assert.Equal(t, "broken.scss", reports[0].File)
}

func TestChainFatalErrorStops(t *testing.T) {
	var got []*Item
	diskFull := fmt.Errorf("no space left on device")
	write := Map("write", func(_ context.Context, item *Item) error {
		if item.Path == "b.html" {
			return diskFull
		}
		return nil
	})

	chain := New("markup", Static(items("a.html", "b.html", "c.html")...)).Pipe(write, collect(&got))

	err := chain.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, diskFull)
	assert.Contains(t, err.Error(), "stage write")
	assert.Equal(t, []string{"a.html"}, paths(got))
}

type bundleStage struct {
	seen []string
}

func (b *bundleStage) Name() string { return "bundle" }

func (b *bundleStage) Process(_ context.Context, item *Item) ([]*Item, error) {
	b.seen = append(b.seen, item.Path)
	return nil, nil
}

func (b *bundleStage) Flush(context.Context) ([]*Item, error) {
	return []*Item{NewItem("bundle.js", []byte(strings.Join(b.seen, ",")))}, nil
}

func TestChainFlushedItemsContinueDownstream(t *testing.T) {
	var got []*Item
	chain := New("scripts", Static(items("a.js", "b.js")...)).Pipe(&bundleStage{}, upper(), collect(&got))

	require.NoError(t, chain.Run(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, "bundle.js", got[0].Path)
	assert.Equal(t, "A.JS,B.JS", string(got[0].Contents))
}

func TestChainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New("markup", Static(items("a.html")...)).Pipe(upper()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDestWritesAndReloadsOnce(t *testing.T) {
	out := t.TempDir()
	reloader := &fakeReloader{}
	dest := Dest(out, reloader)

	chain := New("markup", Static(items("index.html", "blog/post.html")...)).Pipe(dest)
	require.NoError(t, chain.Run(context.Background()))

	data, err := os.ReadFile(filepath.Join(out, "blog", "post.html"))
	require.NoError(t, err)
	assert.Equal(t, "content of blog/post.html", string(data))

	require.Len(t, reloader.calls, 1, "one reload per stream, not per item")
	assert.Len(t, reloader.calls[0], 2)
	assert.Len(t, dest.Written(), 2)
}

func TestRename(t *testing.T) {
	tests := []struct {
		name string
		opts RenameOptions
		in   string
		want string
	}{
		{"suffix", RenameOptions{Suffix: ".min"}, "style.css", "style.min.css"},
		{"ext", RenameOptions{Ext: ".css"}, "style.scss", "style.css"},
		{"dir", RenameOptions{Dir: "css"}, "nested/style.css", "css/style.css"},
		{"prefix", RenameOptions{Prefix: "app-"}, "js/main.js", "js/app-main.js"},
		{"noop", RenameOptions{}, "a/b.txt", "a/b.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := NewItem(tt.in, nil)
			out, err := Rename(tt.opts).Process(context.Background(), item)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].Path)
		})
	}
}

func TestItemClone(t *testing.T) {
	item := NewItem("a.css", []byte("body{}"))
	item.SetMeta("k", "v")

	c := item.Clone()
	c.Contents[0] = 'B'
	c.Meta["k"] = "changed"

	assert.Equal(t, "body{}", string(item.Contents))
	assert.Equal(t, "v", item.Meta["k"])
}

func TestItemSetExt(t *testing.T) {
	item := NewItem("dir/style.scss", nil)
	item.SetExt(".css")
	assert.Equal(t, "dir/style.css", item.Path)
	assert.Equal(t, ".css", item.Ext())
}

func TestMultiSink(t *testing.T) {
	a := errors.NewErrorCollector(0)
	b := errors.NewErrorCollector(0)
	sink := MultiSink(a, nil, b)

	sink.Report(context.Background(), fmt.Errorf("x"))
	assert.True(t, a.HasErrors())
	assert.True(t, b.HasErrors())
}
