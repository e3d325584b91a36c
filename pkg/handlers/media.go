package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"blog-admin/pkg/services"
)

// ServeStaged serves an image, or its thumbnail, from the session workset.
func ServeStaged(c *gin.Context) {
	name := path.Clean("/" + c.Param("name"))
	dir, file := path.Split(name)
	if (dir != "/" && dir != "/thumb/") || !services.IsImageName(file) {
		c.Status(http.StatusNotFound)
		return
	}
	c.FileFromFS(name, currentWorkset(c).HTTPDir())
}

// readUpload reads an optional file field. It returns nil when no file was
// submitted.
func readUpload(c *gin.Context, field string) (*services.Upload, error) {
	header, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	if strings.TrimSpace(header.Filename) == "" || header.Size == 0 {
		return nil, nil
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", header.Filename, err)
	}
	return &services.Upload{Filename: header.Filename, Content: content}, nil
}

// imageURL maps a photoset path to the route serving its staged copy.
func imageURL(web string) string {
	return "/img/" + path.Base(web)
}

// thumbURL maps a photoset path to the route serving its staged thumbnail.
func thumbURL(web string) string {
	return "/img/thumb/" + path.Base(web)
}
