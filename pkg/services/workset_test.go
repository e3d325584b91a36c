package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blog-admin/pkg/models"
)

const testImageRoot = "/img/blog"

func newTestWorkset(t *testing.T) (*Workset, *MemoryStore, afero.Fs) {
	fs := afero.NewMemMapFs()
	store := NewMemoryStore()
	ws, err := NewWorksetManager(fs, "/work", store, testImageRoot, "app").Open(NewWorksetID())
	require.NoError(t, err)
	return ws, store, fs
}

func testImage(t *testing.T, width, height int, ext string) []byte {
	data, err := encodeImage(image.NewRGBA(image.Rect(0, 0, width, height)), ext)
	require.NoError(t, err)
	return data
}

func imageSize(t *testing.T, data []byte) (int, int) {
	img, err := decodeImage(data)
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func sequenceNames(names ...string) func() string {
	i := 0
	return func() string {
		name := names[i%len(names)]
		i++
		return name
	}
}

func TestOpenRejectsInvalidID(t *testing.T) {
	m := NewWorksetManager(afero.NewMemMapFs(), "/work", NewMemoryStore(), testImageRoot, "app")
	_, err := m.Open("../../etc")
	assert.Error(t, err)
}

func TestEnsureWorkingDirSwitchClears(t *testing.T) {
	ws, _, fs := newTestWorkset(t)

	require.NoError(t, ws.EnsureWorkingDir("content/blog/one.md"))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(ws.Dir(), "a.jpg"), []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(ws.Dir(), thumbDir, "a.jpg"), []byte("t"), 0o644))

	require.NoError(t, ws.EnsureWorkingDir("content/blog/two.md"))

	for _, p := range []string{"a.jpg", filepath.Join(thumbDir, "a.jpg")} {
		ok, err := afero.Exists(fs, filepath.Join(ws.Dir(), p))
		require.NoError(t, err)
		assert.False(t, ok, p)
	}
	isDir, err := afero.DirExists(fs, filepath.Join(ws.Dir(), thumbDir))
	require.NoError(t, err)
	assert.True(t, isDir)
	assert.Equal(t, "content/blog/two.md", ws.CurrentPath())
}

func TestEnsureWorkingDirSamePathKeepsFiles(t *testing.T) {
	ws, _, fs := newTestWorkset(t)

	require.NoError(t, ws.EnsureWorkingDir("content/blog/one.md"))
	staged := filepath.Join(ws.Dir(), "a.jpg")
	require.NoError(t, afero.WriteFile(fs, staged, []byte("a"), 0o644))

	require.NoError(t, ws.EnsureWorkingDir("content/blog/one.md"))

	ok, err := afero.Exists(fs, staged)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWorksetsAreIsolated(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewWorksetManager(fs, "/work", NewMemoryStore(), testImageRoot, "app")
	first, err := m.Open(NewWorksetID())
	require.NoError(t, err)
	second, err := m.Open(NewWorksetID())
	require.NoError(t, err)

	require.NoError(t, first.EnsureWorkingDir("content/blog/one.md"))
	staged := filepath.Join(first.Dir(), "a.jpg")
	require.NoError(t, afero.WriteFile(fs, staged, []byte("a"), 0o644))
	require.NoError(t, second.EnsureWorkingDir("content/blog/two.md"))

	ok, err := afero.Exists(fs, staged)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "content/blog/one.md", first.CurrentPath())
}

func TestPrune(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewWorksetManager(fs, "/work", NewMemoryStore(), testImageRoot, "app")
	stale, err := m.Open(NewWorksetID())
	require.NoError(t, err)
	require.NoError(t, stale.EnsureWorkingDir("content/blog/old.md"))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, fs.Chtimes(filepath.Join(stale.Dir(), markerFile), old, old))

	fresh, err := m.Open(NewWorksetID())
	require.NoError(t, err)
	require.NoError(t, fresh.EnsureWorkingDir("content/blog/new.md"))

	n, err := m.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, _ := afero.DirExists(fs, stale.Dir())
	assert.False(t, ok)
	ok, _ = afero.DirExists(fs, fresh.Dir())
	assert.True(t, ok)
}

func TestPruneEvery(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewWorksetManager(fs, "/work", NewMemoryStore(), testImageRoot, "app")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stale, err := m.Open(NewWorksetID())
	require.NoError(t, err)
	require.NoError(t, stale.EnsureWorkingDir("content/blog/old.md"))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, fs.Chtimes(filepath.Join(stale.Dir(), markerFile), old, old))

	done := make(chan struct{})
	go func() {
		m.PruneEvery(ctx, 10*time.Millisecond, 24*time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		ok, _ := afero.DirExists(fs, stale.Dir())
		return !ok
	}, time.Second, 5*time.Millisecond)

	// A workset going stale after the first pass is removed by a later tick.
	later, err := m.Open(NewWorksetID())
	require.NoError(t, err)
	require.NoError(t, later.EnsureWorkingDir("content/blog/later.md"))
	require.NoError(t, fs.Chtimes(filepath.Join(later.Dir(), markerFile), old, old))
	require.Eventually(t, func() bool {
		ok, _ := afero.DirExists(fs, later.Dir())
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PruneEvery did not stop after cancel")
	}
}

func TestFetchToWorkingDir(t *testing.T) {
	ctx := context.Background()
	ws, store, fs := newTestWorkset(t)
	store.Put("static/img/blog/a.jpg", []byte("image-a"))

	set := []models.PhotoEntry{
		{Path: "/img/blog/a.jpg"},
		{Path: "/img/blog/missing.jpg"},
	}
	warnings := ws.FetchToWorkingDir(ctx, set)
	require.Len(t, warnings, 1)
	assert.Equal(t, "static/img/blog/missing.jpg is missing", warnings[0])

	data, err := afero.ReadFile(fs, filepath.Join(ws.Dir(), "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "image-a", string(data))

	// Staged files are not fetched again.
	store.FailWith(func(op, path string) error {
		if path == "static/img/blog/a.jpg" {
			return errors.New("unexpected fetch")
		}
		return nil
	})
	assert.Len(t, ws.FetchToWorkingDir(ctx, set[:1]), 0)
}

func TestAddPhotoResizes(t *testing.T) {
	ctx := context.Background()
	ws, store, fs := newTestWorkset(t)

	set, warnings, err := ws.AddPhoto(ctx, Upload{Filename: "My Photo.PNG", Content: testImage(t, 1600, 800, ".png")}, "caption", false, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, set, 1)

	entry := set[0]
	assert.True(t, strings.HasPrefix(entry.Path, testImageRoot+"/"))
	assert.True(t, strings.HasSuffix(entry.Path, ".png"))
	assert.Equal(t, "caption", entry.Caption)
	assert.False(t, entry.Thumbnail)

	remote, err := store.Get(ctx, "static"+entry.Path)
	require.NoError(t, err)
	w, h := imageSize(t, remote.Content)
	assert.Equal(t, 800, w)
	assert.Equal(t, 400, h)

	ok, _ := afero.Exists(fs, filepath.Join(ws.Dir(), filepath.Base(entry.Path)))
	assert.True(t, ok)
	ok, _ = afero.Exists(fs, filepath.Join(ws.Dir(), "My_Photo.PNG"))
	assert.True(t, ok)
	assert.Len(t, store.Calls(), 1)
}

func TestAddPhotoUniqueNames(t *testing.T) {
	ctx := context.Background()
	ws, _, _ := newTestWorkset(t)
	ws.newName = sequenceNames("dup", "dup", "other")

	upload := Upload{Filename: "x.jpg", Content: testImage(t, 100, 100, ".jpg")}
	set, _, err := ws.AddPhoto(ctx, upload, "", false, nil)
	require.NoError(t, err)
	set, _, err = ws.AddPhoto(ctx, upload, "", false, set)
	require.NoError(t, err)

	require.Len(t, set, 2)
	assert.Equal(t, testImageRoot+"/dup.jpg", set[0].Path)
	assert.Equal(t, testImageRoot+"/other.jpg", set[1].Path)
}

func TestAddPhotoManyUploadsAreDistinct(t *testing.T) {
	ctx := context.Background()
	ws, _, _ := newTestWorkset(t)
	upload := Upload{Filename: "x.gif", Content: testImage(t, 20, 10, ".gif")}

	var set []models.PhotoEntry
	var err error
	for i := 0; i < 5; i++ {
		set, _, err = ws.AddPhoto(ctx, upload, "", false, set)
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	for _, p := range set {
		assert.False(t, seen[p.Path], p.Path)
		seen[p.Path] = true
	}
}

func TestAddPhotoRejectsUnsupported(t *testing.T) {
	ws, store, _ := newTestWorkset(t)

	_, _, err := ws.AddPhoto(context.Background(), Upload{Filename: "notes.txt", Content: []byte("x")}, "", false, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedImage))
	assert.Empty(t, store.Calls())
}

func TestAddPhotoUploadFailureIsFatal(t *testing.T) {
	ws, store, _ := newTestWorkset(t)
	store.FailWith(func(op, _ string) error {
		if op == "create" {
			return errors.New("boom")
		}
		return nil
	})

	set, _, err := ws.AddPhoto(context.Background(), Upload{Filename: "a.jpg", Content: testImage(t, 10, 10, ".jpg")}, "", false, nil)
	assert.Error(t, err)
	assert.Nil(t, set)
}

func TestAddPhotoAsThumbnail(t *testing.T) {
	ctx := context.Background()
	ws, store, _ := newTestWorkset(t)
	ws.newName = sequenceNames("new")
	store.Put("static/img/blog/thumb/old.jpg", []byte("old-thumb"))

	existing := []models.PhotoEntry{{Path: "/img/blog/old.jpg", Thumbnail: true}}
	set, warnings, err := ws.AddPhoto(ctx, Upload{Filename: "a.jpg", Content: testImage(t, 640, 960, ".jpg")}, "", true, existing)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, []models.PhotoEntry{
		{Path: "/img/blog/old.jpg"},
		{Path: "/img/blog/new.jpg", Thumbnail: true},
	}, set)
	assert.False(t, store.Has("static/img/blog/thumb/old.jpg"))

	thumb, err := store.Get(ctx, "static/img/blog/thumb/new.jpg")
	require.NoError(t, err)
	w, h := imageSize(t, thumb.Content)
	assert.Equal(t, ThumbWidth, w)
	assert.Equal(t, ThumbHeight, h)
}

func TestThumbnailCrop(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		expW, expH    int
	}{
		{name: "TallIsCropped", width: 640, height: 960, expW: 320, expH: 240},
		{name: "ExactlyAtLimit", width: 640, height: 480, expW: 320, expH: 240},
		{name: "WideIsNotCropped", width: 640, height: 320, expW: 320, expH: 160},
		{name: "SmallIsUpscaled", width: 160, height: 100, expW: 320, expH: 200},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			img, err := thumbnail(image.NewRGBA(image.Rect(0, 0, test.width, test.height)))
			require.NoError(t, err)
			assert.Equal(t, test.expW, img.Bounds().Dx())
			assert.Equal(t, test.expH, img.Bounds().Dy())
		})
	}
}

func TestResizeRejectsEmptyImage(t *testing.T) {
	_, err := resizeToWidth(image.NewRGBA(image.Rect(0, 0, 0, 0)), PhotoWidth)
	assert.Error(t, err)
}

func TestGenerateThumbnailIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ws, store, fs := newTestWorkset(t)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(ws.Dir(), "a.png"), testImage(t, 640, 480, ".png"), 0o644))

	assert.Empty(t, ws.GenerateThumbnail(ctx, "a.png"))
	assert.Equal(t, 1, store.CountCalls("create", "static/img/blog/thumb/a.png"))

	sentinel := filepath.Join(ws.Dir(), thumbDir, "other.png")
	require.NoError(t, afero.WriteFile(fs, sentinel, []byte("x"), 0o644))

	assert.Empty(t, ws.GenerateThumbnail(ctx, "a.png"))
	assert.Equal(t, 1, store.CountCalls("create", "static/img/blog/thumb/a.png"))
	ok, _ := afero.Exists(fs, sentinel)
	assert.True(t, ok)
}

func TestGenerateThumbnailReplacesStagedThumbnails(t *testing.T) {
	ctx := context.Background()
	ws, store, fs := newTestWorkset(t)
	store.Put("static/img/blog/b.png", testImage(t, 320, 200, ".png"))
	store.Put("static/img/blog/thumb/a.png", []byte("old"))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(ws.Dir(), thumbDir, "a.png"), []byte("old"), 0o644))

	assert.Empty(t, ws.GenerateThumbnail(ctx, "/img/blog/b.png"))

	assert.False(t, store.Has("static/img/blog/thumb/a.png"))
	assert.True(t, store.Has("static/img/blog/thumb/b.png"))
	ok, _ := afero.Exists(fs, filepath.Join(ws.Dir(), thumbDir, "a.png"))
	assert.False(t, ok)
	ok, _ = afero.Exists(fs, filepath.Join(ws.Dir(), thumbDir, "b.png"))
	assert.True(t, ok)
}

func TestGenerateThumbnailSwallowsUploadFailure(t *testing.T) {
	ws, store, fs := newTestWorkset(t)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(ws.Dir(), "a.jpg"), testImage(t, 50, 50, ".jpg"), 0o644))
	store.FailWith(func(op, _ string) error {
		if op == "create" {
			return errors.New("boom")
		}
		return nil
	})

	warnings := ws.GenerateThumbnail(context.Background(), "a.jpg")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "boom")
}

func TestReconcilePhotoset(t *testing.T) {
	ctx := context.Background()
	ws, store, _ := newTestWorkset(t)
	for _, name := range []string{"a", "b", "c"} {
		store.Put("static/img/blog/"+name+".png", testImage(t, 400, 300, ".png"))
	}
	store.Put("static/img/blog/thumb/b.png", []byte("thumb-b"))

	entries := []models.PhotoEntry{
		{Path: "/img/blog/a.png", Caption: "A"},
		{Path: "/img/blog/b.png", Caption: "B", Thumbnail: true},
		{Path: "/img/blog/c.png", Caption: "C"},
	}
	set, warnings := ws.ReconcilePhotoset(ctx, entries, []string{"/img/blog/b.png"}, "/img/blog/c.png")
	assert.Empty(t, warnings)

	assert.Equal(t, []models.PhotoEntry{
		{Path: "/img/blog/a.png", Caption: "A"},
		{Path: "/img/blog/c.png", Caption: "C", Thumbnail: true},
	}, set)
	assert.Equal(t, 1, store.CountCalls("delete", "static/img/blog/b.png"))
	assert.Equal(t, 1, store.CountCalls("delete", "static/img/blog/thumb/b.png"))
	assert.False(t, store.Has("static/img/blog/b.png"))
	assert.True(t, store.Has("static/img/blog/thumb/c.png"))
}

func TestReconcilePhotosetSelectionNotRetained(t *testing.T) {
	ctx := context.Background()
	ws, store, _ := newTestWorkset(t)
	store.Put("static/img/blog/a.png", []byte("a"))

	entries := []models.PhotoEntry{{Path: "/img/blog/a.png"}, {Path: "/img/blog/b.png"}}
	set, _ := ws.ReconcilePhotoset(ctx, entries, []string{"/img/blog/b.png"}, "/img/blog/b.png")

	assert.Equal(t, []models.PhotoEntry{{Path: "/img/blog/a.png"}}, set)
	for _, c := range store.Calls() {
		assert.NotEqual(t, "create", c.Op)
	}
}

func TestReconcilePhotosetSingleThumbnail(t *testing.T) {
	ctx := context.Background()
	ws, store, _ := newTestWorkset(t)
	store.Put("static/img/blog/a.png", testImage(t, 10, 10, ".png"))

	entries := []models.PhotoEntry{{Path: "/img/blog/a.png"}, {Path: "/img/blog/a.png"}}
	set, _ := ws.ReconcilePhotoset(ctx, entries, nil, "/img/blog/a.png")

	flagged := 0
	for _, p := range set {
		if p.Thumbnail {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)
}

func TestReconcilePhotosetDropsPreviousThumbnail(t *testing.T) {
	ctx := context.Background()
	ws, store, _ := newTestWorkset(t)
	store.Put("static/img/blog/thumb/a.png", []byte("thumb"))

	entries := []models.PhotoEntry{{Path: "/img/blog/a.png", Thumbnail: true}}
	set, warnings := ws.ReconcilePhotoset(ctx, entries, nil, "")

	assert.Empty(t, warnings)
	assert.Equal(t, []models.PhotoEntry{{Path: "/img/blog/a.png"}}, set)
	assert.False(t, store.Has("static/img/blog/thumb/a.png"))
}

func TestReconcilePhotosetReportsDeleteFailure(t *testing.T) {
	ctx := context.Background()
	ws, store, _ := newTestWorkset(t)
	store.Put("static/img/blog/a.png", []byte("a"))
	store.FailWith(func(op, _ string) error {
		if op == "delete" {
			return errors.New("denied")
		}
		return nil
	})

	set, warnings := ws.ReconcilePhotoset(ctx, []models.PhotoEntry{{Path: "/img/blog/a.png"}}, []string{"/img/blog/a.png"}, "")
	assert.Empty(t, set)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "denied")
}

func TestDeleteAllPhotosContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	ws, store, _ := newTestWorkset(t)
	for _, p := range []string{"a.png", "thumb/a.png", "b.png", "thumb/b.png", "c.png"} {
		store.Put("static/img/blog/"+p, []byte(p))
	}
	store.FailWith(func(op, path string) error {
		if op == "delete" && path == "static/img/blog/b.png" {
			return errors.New("denied")
		}
		return nil
	})

	report := ws.DeleteAllPhotos(ctx, []models.PhotoEntry{
		{Path: "/img/blog/a.png", Thumbnail: true},
		{Path: "/img/blog/b.png"},
		{Path: "/img/blog/c.png"},
	})

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "static/img/blog/b.png", failures[0].Path)
	assert.Equal(t, OutcomeFatal, failures[0].Outcome)
	assert.ElementsMatch(t, []string{
		"static/img/blog/a.png",
		"static/img/blog/thumb/a.png",
		"static/img/blog/c.png",
	}, report.Deleted())
	// b was not flagged, so its thumbnail is left alone.
	assert.True(t, store.Has("static/img/blog/thumb/b.png"))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeOK, Classify(nil))
	assert.Equal(t, OutcomeNotFound, Classify(fmt.Errorf("content/blog/a.md: %w", ErrNotFound)))
	assert.Equal(t, OutcomeFatal, Classify(errors.New("x: "+ErrNotFound.Error())))
	assert.Equal(t, OutcomeTransient, Classify(fmt.Errorf("rate limited: %w", ErrTransient)))
	assert.Equal(t, OutcomeTransient, Classify(context.DeadlineExceeded))
}
