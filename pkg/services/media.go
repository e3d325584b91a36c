package services

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

const (
	PhotoWidth  = 800
	ThumbWidth  = 320
	ThumbHeight = 240
)

// ErrUnsupportedImage is returned for uploads that are not jpeg, png or gif.
var ErrUnsupportedImage = errors.New("unsupported image type")

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// IsImageName reports whether name has an accepted image extension.
func IsImageName(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// Upload is an image received from a form.
type Upload struct {
	Filename string
	Content  []byte
}

// Ext returns the lower-cased extension of an accepted image upload.
func (u Upload) Ext() (string, error) {
	ext := strings.ToLower(filepath.Ext(u.Filename))
	if !imageExts[ext] {
		return "", fmt.Errorf("%s: %w", u.Filename, ErrUnsupportedImage)
	}
	return ext, nil
}

// stagedName is the name the original upload is kept under while editing.
func (u Upload) stagedName() string {
	name := filepath.Base(filepath.ToSlash(u.Filename))
	return strings.ReplaceAll(name, " ", "_")
}

// resizeToWidth scales img to width, keeping the aspect ratio. The height is
// rounded down.
func resizeToWidth(img image.Image, width int) (image.Image, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("image has no pixels")
	}
	height := width * b.Dy() / b.Dx()
	if height < 1 {
		height = 1
	}
	return resize.Resize(uint(width), uint(height), img, resize.Lanczos3), nil
}

// thumbnail resizes img to ThumbWidth and keeps the top-left
// ThumbWidth x ThumbHeight area when the result is taller than that.
func thumbnail(img image.Image) (image.Image, error) {
	resized, err := resizeToWidth(img, ThumbWidth)
	if err != nil {
		return nil, err
	}
	if resized.Bounds().Dy() <= ThumbHeight {
		return resized, nil
	}
	return cropTopLeft(resized, ThumbWidth, ThumbHeight), nil
}

func cropTopLeft(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// encodeImage writes img in the format implied by ext.
func encodeImage(img image.Image, ext string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch strings.ToLower(ext) {
	case ".png":
		err = png.Encode(&buf, img)
	case ".gif":
		err = gif.Encode(&buf, img, nil)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
