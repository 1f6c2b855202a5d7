package artifact

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/workpool"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Options{
		Root:      t.TempDir(),
		Kind:      domain.ArtifactChart,
		Extension: "png",
		Pool:      workpool.New(2),
	})
	require.NoError(t, err)
	return store
}

func saveChart(t *testing.T, store *Store, conv, chartType string) string {
	t.Helper()
	params := map[string]any{"chart_type": chartType}
	path, _, err := store.Save(context.Background(), conv, SaveRequest{
		Prefix:    chartType,
		Data:      []byte("png-bytes-" + chartType),
		HashInput: params,
		Params:    params,
	})
	require.NoError(t, err)
	return path
}

func TestStore_SaveWritesBinaryAndSidecar(t *testing.T) {
	store := newTestStore(t)

	path, record, err := store.Save(context.Background(), "conv1", SaveRequest{
		Prefix: "bar",
		Data:   []byte("data"),
		Params: map[string]any{"chart_type": "bar"},
	})
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, filepath.Join(store.Root(), "conv1"), filepath.Dir(path))
	assert.True(t, strings.HasPrefix(record.Filename, "bar_"))
	assert.True(t, strings.HasSuffix(record.Filename, ".png"))
	assert.Equal(t, "conv1", record.ConversationID)
	assert.Equal(t, domain.ArtifactChart, record.Kind)
	assert.Len(t, record.InputHash, 8)
	assert.Equal(t, int64(4), record.SizeBytes)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	_, err = os.Stat(path + ".json")
	require.NoError(t, err)
}

func TestStore_ListIsScopedByConversation(t *testing.T) {
	store := newTestStore(t)
	saveChart(t, store, "conv1", "bar")

	records, err := store.List(context.Background(), "conv1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "bar", records[0].Params["chart_type"])

	other, err := store.List(context.Background(), "conv2", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_ListNewestFirstAndCapped(t *testing.T) {
	store := newTestStore(t)
	first := saveChart(t, store, "conv1", "line")
	second := saveChart(t, store, "conv1", "pie")
	third := saveChart(t, store, "conv1", "bar")

	base := time.Now().Add(-time.Hour)
	for i, path := range []string{first, second, third} {
		stamp := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path+".json", stamp, stamp))
	}

	records, err := store.List(context.Background(), "conv1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, third, records[0].LocalPath)
	assert.Equal(t, second, records[1].LocalPath)
}

func TestStore_ListDefaultLimit(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < domain.DefaultListLimit+3; i++ {
		saveChart(t, store, "conv1", "bar")
	}

	records, err := store.List(context.Background(), "conv1", 0)
	require.NoError(t, err)
	assert.Len(t, records, domain.DefaultListLimit)
}

func TestStore_ListSkipsInconsistentEntries(t *testing.T) {
	store := newTestStore(t)
	good := saveChart(t, store, "conv1", "bar")
	orphanSidecar := saveChart(t, store, "conv1", "line")
	require.NoError(t, os.Remove(orphanSidecar))

	dir := store.ConversationDir("conv1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lonely.png"), []byte("x"), 0o644))

	records, err := store.List(context.Background(), "conv1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, good, records[0].LocalPath)
}

func TestStore_SaveUniqueNamesUnderConcurrency(t *testing.T) {
	store := newTestStore(t)
	frozen := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return frozen }

	const n = 16
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path, _, err := store.Save(context.Background(), "conv1", SaveRequest{
				Prefix:    "bar",
				Data:      []byte("same"),
				HashInput: map[string]any{"chart_type": "bar"},
			})
			assert.NoError(t, err)
			paths[i] = path
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, path := range paths {
		require.NotEmpty(t, path)
		_, dup := seen[path]
		assert.False(t, dup, "duplicate path %s", path)
		seen[path] = struct{}{}
	}

	records, err := store.List(context.Background(), "conv1", 100)
	require.NoError(t, err)
	assert.Len(t, records, n)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	path := saveChart(t, store, "conv1", "bar")

	deleted, err := store.Delete(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".json")
	assert.True(t, os.IsNotExist(err))

	deleted, err = store.Delete(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStore_DeleteBySidecarPathRemovesBoth(t *testing.T) {
	store := newTestStore(t)
	path := saveChart(t, store, "conv1", "bar")

	deleted, err := store.Delete(context.Background(), path+".json")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_DeleteRejectsPathsOutsideRoot(t *testing.T) {
	store := newTestStore(t)
	outside := filepath.Join(t.TempDir(), "victim.png")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	for _, path := range []string{outside, filepath.Join(store.Root(), "..", "victim.png"), store.Root()} {
		_, err := store.Delete(context.Background(), path)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrPathOutsideRoot)
	}

	_, err := os.Stat(outside)
	assert.NoError(t, err)
}

func TestStore_DeleteRejectsDirectories(t *testing.T) {
	store := newTestStore(t)
	convDir := filepath.Join(store.Root(), "conv1")
	nested := filepath.Join(convDir, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	for _, path := range []string{convDir, nested} {
		deleted, err := store.Delete(context.Background(), path)
		require.Error(t, err, path)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.False(t, deleted)
	}

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStore_ParamsKeepNumbers(t *testing.T) {
	store := newTestStore(t)
	params := map[string]any{"width": 800, "scale": 1.5, "title": "Sales"}
	path, _, err := store.Save(context.Background(), "conv1", SaveRequest{Data: []byte("png"), Params: params})
	require.NoError(t, err)

	record, ok, err := store.Get(context.Background(), path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, json.Number("800"), record.Params["width"])
	assert.Equal(t, json.Number("1.5"), record.Params["scale"])
	assert.Equal(t, "Sales", record.Params["title"])

	width, err := record.Params["width"].(json.Number).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(800), width)

	want, err := json.Marshal(params)
	require.NoError(t, err)
	got, err := json.Marshal(record.Params)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestStore_Get(t *testing.T) {
	store := newTestStore(t)
	path := saveChart(t, store, "conv1", "bar")

	record, ok, err := store.Get(context.Background(), path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bar", record.Params["chart_type"])

	_, ok, err = store.Get(context.Background(), filepath.Join(store.Root(), "conv1", "missing.png"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Locate(t *testing.T) {
	store := newTestStore(t)
	path := saveChart(t, store, "conv1", "bar")
	name := filepath.Base(path)

	got, err := store.Locate("conv1", name)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = store.Locate("conv1", "../conv1/"+name)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	for _, name := range []string{"", "..", "missing.png", ".hidden"} {
		_, err := store.Locate("conv1", name)
		require.Error(t, err, name)
		code, _ := domain.CodeFrom(err)
		assert.Equal(t, domain.CodeNotFound, code, name)
	}

	_, err = store.Locate("../conv1", name)
	require.Error(t, err)
}

func TestStore_SaveHonorsCanceledContext(t *testing.T) {
	pool := workpool.New(1)
	store, err := NewStore(Options{Root: t.TempDir(), Kind: domain.ArtifactPDF, Extension: ".pdf", Pool: pool})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = store.Save(ctx, "conv1", SaveRequest{Data: []byte("x")})
	require.Error(t, err)
	code, _ := domain.CodeFrom(err)
	assert.Equal(t, domain.CodeCanceled, code)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "Quarterly_Report_2025", slugify("  Quarterly Report 2025!"))
	assert.Equal(t, "", slugify("///"))
	assert.Len(t, slugify(strings.Repeat("x", 50)), maxPrefixLength)
}
