package models

// Field is a single front-matter line. Value holds the unquoted scalar, or an
// array literal starting with "[".
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PhotoEntry is one image attached to a post.
type PhotoEntry struct {
	Path      string `json:"path"` // web path, without the static prefix
	Caption   string `json:"caption"`
	Thumbnail bool   `json:"thumbnail"`
}

// Post represents a markdown file in the blog repository.
type Post struct {
	Path     string       `json:"path"`
	Meta     []Field      `json:"meta"`
	Photoset []PhotoEntry `json:"photoset"`
	Body     string       `json:"body"`
	Format   string       `json:"format,omitempty"` // yaml, toml
}

// Get returns the value of the first field named key.
func (p *Post) Get(key string) (string, bool) {
	for _, f := range p.Meta {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Set replaces the value of key, appending the field when it is missing.
func (p *Post) Set(key, value string) {
	for i := range p.Meta {
		if p.Meta[i].Key == key {
			p.Meta[i].Value = value
			return
		}
	}
	p.Meta = append(p.Meta, Field{Key: key, Value: value})
}

// Title falls back to the path when the post has no title.
func (p *Post) Title() string {
	if t, ok := p.Get("title"); ok && t != "" {
		return t
	}
	return p.Path
}
