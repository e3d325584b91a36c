package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-slug"
	log "github.com/sirupsen/logrus"

	"blog-admin/pkg/config"
	"blog-admin/pkg/models"
)

// PostService reads and writes blog posts through a Store.
type PostService struct {
	store    Store
	blogDir  string
	pagesDir string
	metaKeys []string
	message  string
	now      func() time.Time
}

func NewPostService(store Store, cfg *config.Config) *PostService {
	return &PostService{
		store:    store,
		blogDir:  cfg.BlogDir,
		pagesDir: cfg.PagesDir,
		metaKeys: cfg.MetaKeys,
		message:  cfg.CommitMessage,
		now:      time.Now,
	}
}

// MetaKeys are the fields offered on the creation form.
func (s *PostService) MetaKeys() []string {
	return s.metaKeys
}

// BlogDir is the content directory posts are created in.
func (s *PostService) BlogDir() string {
	return s.blogDir
}

// List returns the paths of the markdown files in the blog directory.
func (s *PostService) List(ctx context.Context) ([]string, error) {
	return s.listDir(ctx, s.blogDir)
}

// ListPages returns the paths of the misc content pages. Without a pages
// directory it lists the blog directory.
func (s *PostService) ListPages(ctx context.Context) ([]string, error) {
	if s.pagesDir == "" {
		return s.List(ctx)
	}
	return s.listDir(ctx, s.pagesDir)
}

func (s *PostService) listDir(ctx context.Context, dir string) ([]string, error) {
	entries, err := s.store.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type == "dir" || !strings.HasSuffix(e.Path, ".md") {
			continue
		}
		files = append(files, e.Path)
	}
	sort.Strings(files)
	return files, nil
}

// Get fetches and parses a post, returning it with its blob sha.
func (s *PostService) Get(ctx context.Context, path string) (*models.Post, string, error) {
	f, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, "", err
	}
	post, err := ParsePost(path, f.Content)
	if err != nil {
		return nil, "", err
	}
	return post, f.SHA, nil
}

// Open loads a post for editing and stages its photos in ws.
func (s *PostService) Open(ctx context.Context, ws *Workset, path string) (*models.Post, []string, error) {
	post, _, err := s.Get(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if err := ws.EnsureWorkingDir(path); err != nil {
		return nil, nil, err
	}
	return post, ws.FetchToWorkingDir(ctx, post.Photoset), nil
}

// BuildPath derives a post path from its title.
func (s *PostService) BuildPath(title string) (string, error) {
	name, err := slug.Normalize(title)
	if err != nil {
		return "", fmt.Errorf("slug %q: %w", title, err)
	}
	if name == "" {
		return "", fmt.Errorf("title %q has no usable characters", title)
	}
	return s.blogDir + "/" + name + ".md", nil
}

// CreateRequest is a submitted creation form.
type CreateRequest struct {
	Meta    []models.Field
	Body    string
	Photo   *Upload
	Caption string
}

func (r CreateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Meta, validation.By(func(interface{}) error {
			for _, f := range r.Meta {
				if f.Key == titleKey && strings.TrimSpace(f.Value) != "" {
					return nil
				}
			}
			return validation.NewError("post.title_required", "a title is required")
		})),
	)
}

// Create writes a new post. A photo submitted with the post becomes its
// thumbnail.
func (s *PostService) Create(ctx context.Context, ws *Workset, req CreateRequest) (*models.Post, []string, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	post := &models.Post{Body: req.Body, Photoset: []models.PhotoEntry{}}
	for _, f := range req.Meta {
		if f.Key == idKey || f.Key == photosetKey {
			continue
		}
		post.Meta = append(post.Meta, f)
	}
	title, _ := post.Get(titleKey)
	path, err := s.BuildPath(title)
	if err != nil {
		return nil, nil, err
	}
	if exists(ctx, s.store, path) {
		return nil, nil, fmt.Errorf("create %s: %w", path, ErrExists)
	}
	post.Path = path
	post.Set(idKey, strconv.FormatInt(s.now().Unix(), 10))

	if err := ws.EnsureWorkingDir(path); err != nil {
		return nil, nil, err
	}

	var warnings []string
	if req.Photo != nil {
		post.Photoset, warnings, err = ws.AddPhoto(ctx, *req.Photo, req.Caption, true, post.Photoset)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := s.store.Create(ctx, path, s.message, ConstructFileContent(post)); err != nil {
		return nil, warnings, fmt.Errorf("create %s: %w", path, err)
	}
	log.WithField("path", path).Info("Created post")
	return post, warnings, nil
}

// NewPhotoThumbnail selects the photo uploaded with an edit as the thumbnail.
const NewPhotoThumbnail = "__new_photo__"

// EditRequest is a submitted edit form. PhotoPaths and PhotoCaptions are
// parallel lists.
type EditRequest struct {
	Path          string
	Meta          []models.Field
	Body          string
	PhotoPaths    []string
	PhotoCaptions []string
	PhotoDelete   []string
	Thumbnail     string
	Photo         *Upload
	Caption       string
}

func (r EditRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.PhotoCaptions, validation.By(func(interface{}) error {
			if len(r.PhotoCaptions) != len(r.PhotoPaths) {
				return validation.NewError("post.photo_arity",
					fmt.Sprintf("got %d captions for %d photos", len(r.PhotoCaptions), len(r.PhotoPaths)))
			}
			return nil
		})),
	)
}

// Update rewrites an existing post with the edited metadata and photoset.
func (s *PostService) Update(ctx context.Context, ws *Workset, req EditRequest) (*models.Post, []string, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	current, sha, err := s.Get(ctx, req.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := ws.EnsureWorkingDir(req.Path); err != nil {
		return nil, nil, err
	}

	flagged := make(map[string]bool, len(current.Photoset))
	for _, p := range current.Photoset {
		flagged[p.Path] = p.Thumbnail
	}
	entries := make([]models.PhotoEntry, 0, len(req.PhotoPaths))
	for i, p := range req.PhotoPaths {
		entries = append(entries, models.PhotoEntry{Path: p, Caption: req.PhotoCaptions[i], Thumbnail: flagged[p]})
	}

	set, warnings := ws.ReconcilePhotoset(ctx, entries, req.PhotoDelete, req.Thumbnail)
	if req.Photo != nil {
		var more []string
		set, more, err = ws.AddPhoto(ctx, *req.Photo, req.Caption, req.Thumbnail == NewPhotoThumbnail, set)
		if err != nil {
			return nil, warnings, err
		}
		warnings = append(warnings, more...)
	}

	post := &models.Post{Path: req.Path, Body: req.Body, Photoset: set}
	for _, f := range req.Meta {
		if f.Key == photosetKey {
			continue
		}
		post.Meta = append(post.Meta, f)
	}
	if _, ok := post.Get(idKey); !ok {
		if id, ok := current.Get(idKey); ok {
			post.Set(idKey, id)
		}
	}

	if err := s.store.Update(ctx, req.Path, "saved by "+s.message, ConstructFileContent(post), sha); err != nil {
		return nil, warnings, fmt.Errorf("update %s: %w", req.Path, err)
	}
	log.WithField("path", req.Path).Info("Updated post")
	return post, warnings, nil
}

// PostDeleteError is returned by Delete when the photos were processed but
// the post file itself could not be removed.
type PostDeleteError struct {
	Path string
	Err  error
}

func (e *PostDeleteError) Error() string {
	return e.Err.Error()
}

func (e *PostDeleteError) Unwrap() error {
	return e.Err
}

// Delete removes a post and all of its photos. Photo failures are collected
// in the report and do not prevent the post itself from being deleted. A
// failure to remove the post file is a *PostDeleteError returned along with
// the report.
func (s *PostService) Delete(ctx context.Context, ws *Workset, path string) (DeleteReport, error) {
	post, _, err := s.Get(ctx, path)
	if err != nil {
		return DeleteReport{}, err
	}
	report := ws.DeleteAllPhotos(ctx, post.Photoset)
	if err := removeRemote(ctx, s.store, path, s.message); err != nil {
		log.WithError(err).WithField("path", path).Warn("Failed to delete post")
		return report, &PostDeleteError{Path: path, Err: err}
	}
	log.WithField("path", path).Info("Deleted post")
	return report, nil
}
