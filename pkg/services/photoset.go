package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"blog-admin/pkg/models"
)

// PhotosetWireVersion identifies the photoset encoding written by
// EncodePhotoset: a JSON array of {path, caption, thumbnail} objects where
// thumbnail is the string "True" or "False".
const PhotosetWireVersion = 1

type photoWire struct {
	Path      string   `json:"path"`
	Caption   string   `json:"caption"`
	Thumbnail wireBool `json:"thumbnail"`
}

// wireBool reads "True"/"False" strings as well as JSON booleans.
type wireBool bool

func (b *wireBool) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = wireBool(strings.EqualFold(strings.TrimSpace(s), "true"))
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("thumbnail: expected \"True\", \"False\" or a boolean, got %s", data)
	}
	*b = wireBool(v)
	return nil
}

func thumbnailWire(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

// EncodePhotoset renders a photoset in the form stored after "photoset: ".
// Separators match the files already in the repository.
func EncodePhotoset(set []models.PhotoEntry) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, p := range set {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `{"path": %s, "caption": %s, "thumbnail": %s}`,
			quoteJSON(p.Path), quoteJSON(p.Caption), quoteJSON(thumbnailWire(p.Thumbnail)))
	}
	b.WriteByte(']')
	return b.String()
}

// DecodePhotoset parses a stored photoset. Empty input yields an empty set.
func DecodePhotoset(data []byte) ([]models.PhotoEntry, error) {
	set := []models.PhotoEntry{}
	if len(bytes.TrimSpace(data)) == 0 {
		return set, nil
	}
	var wire []photoWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode photoset: %w", err)
	}
	for _, w := range wire {
		set = append(set, models.PhotoEntry{
			Path:      w.Path,
			Caption:   w.Caption,
			Thumbnail: bool(w.Thumbnail),
		})
	}
	return set, nil
}

func quoteJSON(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		// strings always encode
		panic(err)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
