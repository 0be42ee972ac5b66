package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/scout/core/classify"
	"github.com/adalundhe/scout/core/model"
)

// =============================================================================
// Test helpers
// =============================================================================

func writeFile(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))
	return path
}

func testSnapshot(root string, blacklist ...string) *model.Configuration {
	cfg := &model.Configuration{
		Categories: []model.FileCategory{{ID: 1, Name: "document"}, {ID: 2, Name: "image"}},
		ExtensionMaps: []model.ExtensionMap{
			{Extension: "pdf", CategoryID: 1},
			{Extension: "txt", CategoryID: 1},
			{Extension: "png", CategoryID: 2},
		},
		MonitoredFolders: []model.MonitoredDirectory{{Path: root, AuthStatus: model.AuthAuthorized}},
	}
	for _, dir := range blacklist {
		cfg.MonitoredFolders = append(cfg.MonitoredFolders, model.MonitoredDirectory{Path: dir, IsBlacklist: true})
	}
	return model.NewConfiguration(cfg)
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	engine, err := classify.New(classify.Options{Bundles: classify.StaticBundles(".app", ".photoslibrary")})
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return NewDriver(engine, nil, nil)
}

type collector struct {
	mu    sync.Mutex
	paths []string
}

func (c *collector) submit(_ context.Context, m *model.FileMetadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, m.FilePath)
	return nil
}

func (c *collector) sorted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]string(nil), c.paths...)
	sort.Strings(out)
	return out
}

// =============================================================================
// Scan
// =============================================================================

func TestScan_PrunesAndSubmits(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	keep := writeFile(t, filepath.Join(root, "docs", "report.pdf"))
	keepPNG := writeFile(t, filepath.Join(root, "pic.png"))
	writeFile(t, filepath.Join(root, ".git", "config.txt"))
	writeFile(t, filepath.Join(root, "Project.app", "Contents", "Info.plist"))
	writeFile(t, filepath.Join(root, "Project.app", "Contents", "readme.txt"))
	writeFile(t, filepath.Join(root, "private", "secret.pdf"))
	writeFile(t, filepath.Join(root, "notes.md"))

	d := newTestDriver(t)
	snap := testSnapshot(root, filepath.Join(root, "private"))

	var c collector
	res, err := d.Scan(context.Background(), []string{root}, snap, c.submit)
	require.NoError(t, err)

	assert.Equal(t, []string{keep, keepPNG}, c.sorted())
	assert.Equal(t, int64(2), res.Submitted)
	assert.Equal(t, 1, res.Directories)
	assert.Equal(t, int64(3), res.Pruned)

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Rejected(model.RejectHidden))
	assert.Equal(t, int64(1), stats.Rejected(model.RejectBundle))
	assert.Equal(t, int64(1), stats.Rejected(model.RejectBlacklisted))
	assert.Equal(t, int64(1), stats.Rejected(model.RejectNotWhitelisted))
	assert.Equal(t, int64(6), stats.Processed())
}

func TestScan_MissingDirectorySkipped(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	keep := writeFile(t, filepath.Join(root, "a.txt"))

	d := newTestDriver(t)
	var c collector
	res, err := d.Scan(context.Background(),
		[]string{filepath.Join(root, "missing"), root}, testSnapshot(root), c.submit)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Directories)
	assert.Equal(t, []string{keep}, c.sorted())
}

func TestScan_SubmitErrorStops(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"))
	writeFile(t, filepath.Join(root, "b.txt"))

	boom := errors.New("pipeline closed")
	d := newTestDriver(t)
	_, err := d.Scan(context.Background(), []string{root}, testSnapshot(root),
		func(context.Context, *model.FileMetadata) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestScan_Cancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var c collector
	_, err := newTestDriver(t).Scan(ctx, []string{root}, testSnapshot(root), c.submit)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.sorted())
}

// =============================================================================
// Query
// =============================================================================

func TestQuery_FiltersByTypeAndTime(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	fresh := writeFile(t, filepath.Join(root, "fresh.pdf"))
	old := writeFile(t, filepath.Join(root, "old.pdf"))
	writeFile(t, filepath.Join(root, "pic.png"))

	monthAgo := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, monthAgo, monthAgo))

	d := newTestDriver(t)
	snap := testSnapshot(root)

	docs, err := d.Query(context.Background(), snap, Filter{Range: RangeLast7Days, Type: TypeDocument})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, fresh, docs[0].FilePath)
	require.NotNil(t, docs[0].CategoryID)
	assert.Equal(t, 1, *docs[0].CategoryID)

	all, err := d.Query(context.Background(), snap, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestQuery_Limit(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		writeFile(t, filepath.Join(root, name))
	}

	files, err := newTestDriver(t).Query(context.Background(), testSnapshot(root), Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestQuery_RequiresExtensionMaps(t *testing.T) {
	t.Parallel()

	snap := model.NewConfiguration(&model.Configuration{})
	_, err := newTestDriver(t).Query(context.Background(), snap, Filter{})
	assert.ErrorIs(t, err, ErrNoExtensionMaps)
}

func TestParseFilters(t *testing.T) {
	t.Parallel()

	r, err := ParseTimeRange("7d")
	require.NoError(t, err)
	assert.Equal(t, RangeLast7Days, r)

	_, err = ParseTimeRange("fortnight")
	assert.Error(t, err)

	ft, err := ParseFileType("audio-video")
	require.NoError(t, err)
	assert.Equal(t, TypeAudioVideo, ft)

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(-24*time.Hour), RangeToday.Since(now))
	assert.True(t, RangeAll.Since(now).IsZero())
}
