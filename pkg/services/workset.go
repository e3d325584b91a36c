package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"blog-admin/pkg/models"
)

const (
	markerFile = "path.txt"
	thumbDir   = "thumb"
)

// WorksetManager hands out one staging directory per editing session.
type WorksetManager struct {
	fs        afero.Fs
	root      string
	store     Store
	imagePath string
	message   string
}

func NewWorksetManager(fs afero.Fs, root string, store Store, imagePath, message string) *WorksetManager {
	return &WorksetManager{
		fs:        fs,
		root:      root,
		store:     store,
		imagePath: strings.TrimSuffix(imagePath, "/"),
		message:   message,
	}
}

// NewWorksetID generates an identifier for a new editing session.
func NewWorksetID() string {
	return uuid.NewString()
}

// Open returns the workset for id, creating its directories if needed.
func (m *WorksetManager) Open(id string) (*Workset, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid workset id %q", id)
	}
	dir := filepath.Join(m.root, id)
	if err := m.fs.MkdirAll(filepath.Join(dir, thumbDir), 0o755); err != nil {
		return nil, fmt.Errorf("create workset %s: %w", id, err)
	}
	return &Workset{
		ID:        id,
		fs:        m.fs,
		dir:       dir,
		store:     m.store,
		imagePath: m.imagePath,
		message:   m.message,
		newName:   shortuuid.New,
		log:       log.WithField("workset", id),
	}, nil
}

// Prune removes worksets whose marker has not been touched for maxAge.
func (m *WorksetManager) Prune(maxAge time.Duration) (int, error) {
	entries, err := afero.ReadDir(m.fs, m.root)
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	pruned := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		dir := filepath.Join(m.root, e.Name())
		modified := e.ModTime()
		if info, err := m.fs.Stat(filepath.Join(dir, markerFile)); err == nil {
			modified = info.ModTime()
		}
		if modified.After(cutoff) {
			continue
		}
		if err := m.fs.RemoveAll(dir); err != nil {
			log.WithError(err).WithField("workset", e.Name()).Warn("Failed to prune workset")
			continue
		}
		pruned++
	}
	return pruned, nil
}

// PruneEvery prunes stale worksets right away and then every interval until
// ctx is done.
func (m *WorksetManager) PruneEvery(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := m.Prune(maxAge); err != nil {
			log.WithError(err).Warn("Failed to prune stale worksets")
		} else if n > 0 {
			log.WithField("count", n).Info("Pruned stale worksets")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Workset is the staging area of one editing session. It mirrors the images
// of the single post the session is editing and pushes photo changes to the
// Store.
type Workset struct {
	ID string

	fs        afero.Fs
	dir       string
	store     Store
	imagePath string
	message   string
	newName   func() string
	log       *log.Entry
}

// Dir is the staging directory.
func (w *Workset) Dir() string {
	return w.dir
}

// HTTPDir serves the staged images.
func (w *Workset) HTTPDir() http.FileSystem {
	return afero.NewHttpFs(w.fs).Dir(w.dir)
}

// CurrentPath returns the post the workset currently mirrors.
func (w *Workset) CurrentPath() string {
	b, err := afero.ReadFile(w.fs, filepath.Join(w.dir, markerFile))
	if err != nil {
		return ""
	}
	return string(b)
}

// EnsureWorkingDir points the workset at postPath. When it previously
// mirrored another post, every staged file is removed first.
func (w *Workset) EnsureWorkingDir(postPath string) error {
	marker := filepath.Join(w.dir, markerFile)
	if last, err := afero.ReadFile(w.fs, marker); err == nil && string(last) == postPath {
		now := time.Now()
		if err := w.fs.Chtimes(marker, now, now); err != nil {
			w.log.WithError(err).Debug("Failed to touch marker")
		}
		return nil
	}

	for _, dir := range []string{w.dir, filepath.Join(w.dir, thumbDir)} {
		if err := w.clearDir(dir); err != nil {
			return err
		}
	}
	if err := afero.WriteFile(w.fs, marker, []byte(postPath), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	w.log.WithField("post", postPath).Debug("Reset working directory")
	return nil
}

func (w *Workset) clearDir(dir string) error {
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	entries, err := afero.ReadDir(w.fs, dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := w.fs.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("remove staged file: %w", err)
		}
	}
	return nil
}

// FetchToWorkingDir downloads every photo that is not staged yet. Photos
// that cannot be fetched are reported and skipped.
func (w *Workset) FetchToWorkingDir(ctx context.Context, set []models.PhotoEntry) []string {
	var warnings []string
	for _, p := range set {
		local := SafeJoin(w.dir, "", p.Path)
		if local == "" {
			warnings = append(warnings, fmt.Sprintf("%q is not a valid photo path", p.Path))
			continue
		}
		if ok, _ := afero.Exists(w.fs, local); ok {
			continue
		}

		f, err := w.store.Get(ctx, staticPath(p.Path))
		if err != nil {
			w.log.WithError(err).WithField("path", p.Path).Warn("Failed to fetch photo")
			warnings = append(warnings, fmt.Sprintf("%s is missing", staticPath(p.Path)))
			continue
		}
		if err := afero.WriteFile(w.fs, local, f.Content, 0o644); err != nil {
			w.log.WithError(err).WithField("path", p.Path).Warn("Failed to stage photo")
			warnings = append(warnings, fmt.Sprintf("%s could not be staged: %v", p.Path, err))
		}
	}
	return warnings
}

// AddPhoto stages and resizes an upload, commits it to the store and appends
// it to set. With makeThumbnail the new photo becomes the post thumbnail.
func (w *Workset) AddPhoto(ctx context.Context, upload Upload, caption string, makeThumbnail bool, set []models.PhotoEntry) ([]models.PhotoEntry, []string, error) {
	ext, err := upload.Ext()
	if err != nil {
		return nil, nil, err
	}
	if err := afero.WriteFile(w.fs, filepath.Join(w.dir, upload.stagedName()), upload.Content, 0o644); err != nil {
		return nil, nil, fmt.Errorf("stage upload: %w", err)
	}

	img, err := decodeImage(upload.Content)
	if err != nil {
		return nil, nil, err
	}
	resized, err := resizeToWidth(img, PhotoWidth)
	if err != nil {
		return nil, nil, err
	}
	data, err := encodeImage(resized, ext)
	if err != nil {
		return nil, nil, err
	}

	name, err := w.uniqueName(ext)
	if err != nil {
		return nil, nil, err
	}
	if err := afero.WriteFile(w.fs, filepath.Join(w.dir, name), data, 0o644); err != nil {
		return nil, nil, fmt.Errorf("stage photo: %w", err)
	}

	entry := models.PhotoEntry{Path: w.imagePath + "/" + name, Caption: caption}
	if err := w.store.Create(ctx, staticPath(entry.Path), w.message, data); err != nil {
		return nil, nil, fmt.Errorf("upload %s: %w", entry.Path, err)
	}
	w.log.WithField("path", entry.Path).Info("Uploaded photo")

	out := make([]models.PhotoEntry, 0, len(set)+1)
	var warnings []string
	for _, p := range set {
		if makeThumbnail && p.Thumbnail {
			if err := w.dropThumbnail(ctx, p.Path); err != nil {
				warnings = append(warnings, fmt.Sprintf("Error while deleting unneeded thumbnail: %v", err))
			}
			p.Thumbnail = false
		}
		out = append(out, p)
	}
	if makeThumbnail {
		warnings = append(warnings, w.GenerateThumbnail(ctx, entry.Path)...)
		entry.Thumbnail = true
	}
	return append(out, entry), warnings, nil
}

func (w *Workset) uniqueName(ext string) (string, error) {
	for i := 0; i < 10; i++ {
		name := w.newName() + ext
		if ok, _ := afero.Exists(w.fs, filepath.Join(w.dir, name)); !ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("could not pick a unique image name")
}

// webPath accepts either a web path or a bare file name under the image
// root.
func (w *Workset) webPath(photo string) string {
	if strings.HasPrefix(photo, "/") {
		return path.Clean(photo)
	}
	return w.imagePath + "/" + path.Base(photo)
}

// GenerateThumbnail makes photo the post thumbnail. It does nothing when the
// thumbnail already exists remotely. Otherwise any other staged thumbnail is
// removed locally and remotely before the new one is uploaded. Failures are
// returned as warnings only.
func (w *Workset) GenerateThumbnail(ctx context.Context, photo string) []string {
	web := w.webPath(photo)
	name := path.Base(web)
	remote := staticPath(thumbPathFor(web))
	if exists(ctx, w.store, remote) {
		return nil
	}

	var warnings []string
	thumbs := filepath.Join(w.dir, thumbDir)
	entries, _ := afero.ReadDir(w.fs, thumbs)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := w.fs.Remove(filepath.Join(thumbs, e.Name())); err != nil {
			w.log.WithError(err).Warn("Failed to remove staged thumbnail")
		}
		stale := staticPath(w.imagePath + "/" + thumbDir + "/" + e.Name())
		if err := removeRemote(ctx, w.store, stale, w.message); err != nil && Classify(err) != OutcomeNotFound {
			w.log.WithError(err).WithField("path", stale).Warn("Failed to delete unneeded thumbnail")
			warnings = append(warnings, fmt.Sprintf("Error while deleting unneeded thumbnail: %v", err))
		}
	}

	src, err := w.localImage(ctx, web)
	if err != nil {
		w.log.WithError(err).WithField("path", web).Warn("No source for thumbnail")
		return append(warnings, fmt.Sprintf("Thumbnail for %s not created: %v", web, err))
	}
	data, err := makeThumbnail(src, path.Ext(name))
	if err != nil {
		return append(warnings, fmt.Sprintf("Thumbnail for %s not created: %v", web, err))
	}
	if err := afero.WriteFile(w.fs, filepath.Join(thumbs, name), data, 0o644); err != nil {
		w.log.WithError(err).Warn("Failed to stage thumbnail")
	}
	if err := w.store.Create(ctx, remote, w.message, data); err != nil {
		w.log.WithError(err).WithField("path", remote).Warn("Failed to upload thumbnail")
		return append(warnings, fmt.Sprintf("Thumbnail upload failed: %v", err))
	}
	w.log.WithField("path", remote).Info("Uploaded thumbnail")
	return warnings
}

func makeThumbnail(src []byte, ext string) ([]byte, error) {
	img, err := decodeImage(src)
	if err != nil {
		return nil, err
	}
	thumb, err := thumbnail(img)
	if err != nil {
		return nil, err
	}
	return encodeImage(thumb, ext)
}

// localImage returns the staged copy of web, fetching it when missing.
func (w *Workset) localImage(ctx context.Context, web string) ([]byte, error) {
	local := SafeJoin(w.dir, "", web)
	if local == "" {
		return nil, fmt.Errorf("invalid photo path %q", web)
	}
	if data, err := afero.ReadFile(w.fs, local); err == nil {
		return data, nil
	}
	f, err := w.store.Get(ctx, staticPath(web))
	if err != nil {
		return nil, err
	}
	if err := afero.WriteFile(w.fs, local, f.Content, 0o644); err != nil {
		w.log.WithError(err).Debug("Failed to stage fetched photo")
	}
	return f.Content, nil
}

// dropThumbnail removes the thumbnail of web. A missing thumbnail is not an
// error.
func (w *Workset) dropThumbnail(ctx context.Context, web string) error {
	_ = w.fs.Remove(filepath.Join(w.dir, thumbDir, path.Base(web)))
	err := removeRemote(ctx, w.store, staticPath(thumbPathFor(web)), w.message)
	if Classify(err) == OutcomeNotFound {
		return nil
	}
	return err
}

// ReconcilePhotoset rebuilds a photoset from the edited entries. Entries in
// deleteList are dropped and their images and thumbnails deleted remotely.
// The entry whose path equals selection becomes the only thumbnail.
func (w *Workset) ReconcilePhotoset(ctx context.Context, entries []models.PhotoEntry, deleteList []string, selection string) ([]models.PhotoEntry, []string) {
	doomed := make(map[string]bool, len(deleteList))
	for _, p := range deleteList {
		doomed[p] = true
	}
	warnings := w.DeleteImages(ctx, deleteList).Warnings()

	out := make([]models.PhotoEntry, 0, len(entries))
	picked := false
	for _, e := range entries {
		if doomed[e.Path] {
			continue
		}
		selected := !picked && selection != "" && e.Path == selection
		if e.Thumbnail && !selected {
			if err := w.dropThumbnail(ctx, e.Path); err != nil {
				warnings = append(warnings, fmt.Sprintf("Error while deleting unneeded thumbnail: %v", err))
			}
		}
		e.Thumbnail = selected
		if selected {
			picked = true
			warnings = append(warnings, w.GenerateThumbnail(ctx, e.Path)...)
		}
		out = append(out, e)
	}
	return out, warnings
}

// DeleteImages removes each photo and any thumbnail of the same name.
func (w *Workset) DeleteImages(ctx context.Context, paths []string) DeleteReport {
	var report DeleteReport
	for _, p := range paths {
		report.add(staticPath(p), removeRemote(ctx, w.store, staticPath(p), w.message))
		report.add(staticPath(thumbPathFor(p)), removeRemote(ctx, w.store, staticPath(thumbPathFor(p)), w.message))
	}
	w.logFailures(report)
	return report
}

// DeleteAllPhotos removes every photo of a post, plus the thumbnail of the
// flagged entry. A failure on one entry does not stop the others.
func (w *Workset) DeleteAllPhotos(ctx context.Context, set []models.PhotoEntry) DeleteReport {
	var report DeleteReport
	for _, p := range set {
		report.add(staticPath(p.Path), removeRemote(ctx, w.store, staticPath(p.Path), w.message))
		if p.Thumbnail {
			thumb := staticPath(thumbPathFor(p.Path))
			report.add(thumb, removeRemote(ctx, w.store, thumb, w.message))
		}
	}
	w.logFailures(report)
	return report
}

func (w *Workset) logFailures(report DeleteReport) {
	for _, res := range report.Failures() {
		w.log.WithError(res.Err).WithFields(log.Fields{
			"path":    res.Path,
			"outcome": res.Outcome.String(),
		}).Warn("Failed to delete remote file")
	}
}
