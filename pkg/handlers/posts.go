package handlers

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	log "github.com/sirupsen/logrus"

	"blog-admin/pkg/models"
	"blog-admin/pkg/services"
)

// Handler serves the post listing and editing pages.
type Handler struct {
	posts *services.PostService
}

func NewHandler(posts *services.PostService) *Handler {
	return &Handler{posts: posts}
}

type postForm struct {
	Path          string   `form:"path"`
	MetaKeys      []string `form:"meta_key"`
	MetaValues    []string `form:"meta_value"`
	Body          string   `form:"filecontent"`
	PhotoPaths    []string `form:"myphoto_path"`
	PhotoCaptions []string `form:"myphoto_caption"`
	PhotoDelete   []string `form:"myphoto_delete"`
	Thumbnail     string   `form:"myphoto_thumbnail"`
	NewCaption    string   `form:"__new_photo__caption"`
}

// meta pairs the submitted keys and values in form order.
func (f postForm) meta() ([]models.Field, error) {
	if len(f.MetaKeys) != len(f.MetaValues) {
		return nil, validation.Errors{
			"meta": validation.NewError("post.meta_arity",
				fmt.Sprintf("got %d values for %d keys", len(f.MetaValues), len(f.MetaKeys))),
		}
	}
	fields := make([]models.Field, 0, len(f.MetaKeys))
	for i, k := range f.MetaKeys {
		if k == "" {
			continue
		}
		fields = append(fields, models.Field{Key: k, Value: f.MetaValues[i]})
	}
	return fields, nil
}

func (h *Handler) ListPosts(c *gin.Context) {
	files, err := h.posts.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.HTML(http.StatusOK, "root.html", gin.H{
		"Title":   "Posts",
		"Files":   files,
		"Flashes": takeFlashes(c),
	})
}

func (h *Handler) ListPages(c *gin.Context) {
	files, err := h.posts.ListPages(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.HTML(http.StatusOK, "root.html", gin.H{
		"Title":   "Pages",
		"Files":   files,
		"Flashes": takeFlashes(c),
	})
}

func (h *Handler) EditPost(c *gin.Context) {
	p, err := services.CleanRepoPath(c.Query("f"))
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	post, warnings, err := h.posts.Open(c.Request.Context(), currentWorkset(c), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	preview, err := services.RenderMarkdown(post.Body)
	if err != nil {
		log.WithError(err).WithField("path", p).Warn("Failed to render preview")
	}
	c.HTML(http.StatusOK, "edit-file.html", gin.H{
		"Post":     post,
		"Preview":  template.HTML(preview),
		"Flashes":  append(takeFlashes(c), warnings...),
		"NewThumb": services.NewPhotoThumbnail,
	})
}

func (h *Handler) AddPost(c *gin.Context) {
	today := time.Now().Format("2006-01-02")
	var meta []models.Field
	for _, k := range h.posts.MetaKeys() {
		f := models.Field{Key: k}
		if k == "date" {
			f.Value = today
		}
		meta = append(meta, f)
	}
	c.HTML(http.StatusOK, "add-file.html", gin.H{
		"Meta":    meta,
		"BlogDir": h.posts.BlogDir(),
		"Flashes": takeFlashes(c),
	})
}

func (h *Handler) CreatePost(c *gin.Context) {
	var form postForm
	if err := c.ShouldBind(&form); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	meta, err := form.meta()
	if err != nil {
		h.fail(c, err)
		return
	}
	photo, err := readUpload(c, "__new_photo")
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	post, warnings, err := h.posts.Create(c.Request.Context(), currentWorkset(c), services.CreateRequest{
		Meta:    meta,
		Body:    form.Body,
		Photo:   photo,
		Caption: form.NewCaption,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	flash(c, append(warnings, post.Path+" created")...)
	c.Redirect(http.StatusSeeOther, editURL(post.Path))
}

func (h *Handler) UpdatePost(c *gin.Context) {
	var form postForm
	if err := c.ShouldBind(&form); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	p, err := services.CleanRepoPath(form.Path)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	meta, err := form.meta()
	if err != nil {
		h.fail(c, err)
		return
	}
	photo, err := readUpload(c, "__new_photo")
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	post, warnings, err := h.posts.Update(c.Request.Context(), currentWorkset(c), services.EditRequest{
		Path:          p,
		Meta:          meta,
		Body:          form.Body,
		PhotoPaths:    form.PhotoPaths,
		PhotoCaptions: form.PhotoCaptions,
		PhotoDelete:   form.PhotoDelete,
		Thumbnail:     form.Thumbnail,
		Photo:         photo,
		Caption:       form.NewCaption,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	flash(c, append(warnings, post.Path+" repo updated")...)
	c.Redirect(http.StatusSeeOther, editURL(post.Path))
}

func (h *Handler) DeletePost(c *gin.Context) {
	p, err := services.CleanRepoPath(c.Query("f"))
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.posts.Delete(c.Request.Context(), currentWorkset(c), p)
	var postErr *services.PostDeleteError
	if errors.As(err, &postErr) {
		flash(c, append(report.Warnings(), "Error deleting post: "+postErr.Error())...)
		c.Redirect(http.StatusSeeOther, "/")
		return
	} else if err != nil {
		h.fail(c, err)
		return
	}
	flash(c, append(report.Warnings(), "Deleted "+p)...)
	c.Redirect(http.StatusSeeOther, "/")
}

// fail maps a service error to a response status.
func (h *Handler) fail(c *gin.Context, err error) {
	var verrs validation.Errors
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verrs), errors.Is(err, services.ErrUnsupportedImage):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrExists):
		status = http.StatusConflict
	}
	log.WithError(err).WithFields(log.Fields{
		"route":  c.FullPath(),
		"status": status,
	}).Warn("Request failed")
	c.String(status, err.Error())
}

func editURL(p string) string {
	return "/edit?f=" + url.QueryEscape(p)
}
