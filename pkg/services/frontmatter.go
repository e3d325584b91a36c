package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/adrg/frontmatter"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"blog-admin/pkg/models"
)

const (
	photosetKey = "photoset"
	idKey       = "id"
	titleKey    = "title"
	dateKey     = "date"
)

var (
	yamlFormat = frontmatter.NewFormat("---", "---", yaml.Unmarshal)
	tomlFormat = frontmatter.NewFormat("+++", "+++", toml.Unmarshal)
)

// ParseFrontMatter splits content into ordered front-matter fields, the body
// and the detected format ("yaml", "toml", or "" when there is no block).
func ParseFrontMatter(content []byte) ([]models.Field, string, string, error) {
	str := normalizeLineEndings(string(content))

	switch {
	// Check for YAML (---)
	case strings.HasPrefix(str, "---"):
		var node yaml.Node
		body, err := frontmatter.Parse(strings.NewReader(str), &node, yamlFormat)
		if err == nil {
			fields, ferr := fieldsFromYAML(&node)
			if ferr == nil {
				return fields, strings.TrimSpace(string(body)), "yaml", nil
			}
			err = ferr
		}
		// Posts written by hand are not always valid YAML.
		if fields, body, ok := parseLooseFrontMatter(str); ok {
			return fields, body, "yaml", nil
		}
		return nil, "", "", fmt.Errorf("parse yaml front matter: %w", err)

	// Check for TOML (+++)
	case strings.HasPrefix(str, "+++"):
		var fm map[string]interface{}
		body, err := frontmatter.Parse(strings.NewReader(str), &fm, tomlFormat)
		if err != nil {
			return nil, "", "", fmt.Errorf("parse toml front matter: %w", err)
		}
		return fieldsFromMap(fm), strings.TrimSpace(string(body)), "toml", nil
	}

	return nil, strings.TrimSpace(str), "", nil
}

// ParsePost reads a post and lifts its photoset out of the metadata.
func ParsePost(path string, content []byte) (*models.Post, error) {
	fields, body, format, err := ParseFrontMatter(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	post := &models.Post{
		Path:     path,
		Body:     body,
		Format:   format,
		Photoset: []models.PhotoEntry{},
	}
	for _, f := range fields {
		if f.Key != photosetKey {
			post.Meta = append(post.Meta, f)
			continue
		}
		set, err := DecodePhotoset([]byte(f.Value))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		post.Photoset = set
	}
	return post, nil
}

// ConstructFileContent renders a post as "---" delimited front matter
// followed by the body. The photoset line is always written last.
func ConstructFileContent(post *models.Post) []byte {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	for _, f := range post.Meta {
		if f.Key == photosetKey {
			continue
		}
		buf.WriteString(f.Key + ": " + quoteValue(f.Key, f.Value) + "\n")
	}
	buf.WriteString(photosetKey + ": " + EncodePhotoset(post.Photoset) + "\n")
	buf.WriteString("---\n")
	buf.WriteString(post.Body)
	return buf.Bytes()
}

// yamlIndicators cannot start a plain YAML scalar.
const yamlIndicators = "#&*!|>'\"%@`{},]"

// quoteValue double-quotes dates, values containing whitespace, and values
// YAML would not read back as a plain string, unless the value is an array
// literal.
func quoteValue(key, value string) string {
	if strings.HasPrefix(value, "[") {
		return value
	}
	if key == dateKey || strings.IndexFunc(value, unicode.IsSpace) >= 0 || !plainSafe(value) {
		return strconv.Quote(value)
	}
	return value
}

func plainSafe(value string) bool {
	switch {
	case value == "":
		return true
	case strings.ContainsAny(value[:1], yamlIndicators):
		return false
	case value == "-" || value == "?" || value == ":":
		return false
	case strings.HasSuffix(value, ":"):
		return false
	}
	return true
}

func fieldsFromYAML(doc *yaml.Node) ([]models.Field, error) {
	root := doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, nil
		}
		root = root.Content[0]
	}
	if root.Kind == 0 {
		return nil, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("front matter is not a mapping")
	}

	fields := make([]models.Field, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		value, err := yamlValue(root.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", root.Content[i].Value, err)
		}
		fields = append(fields, models.Field{Key: root.Content[i].Value, Value: value})
	}
	return fields, nil
}

func yamlValue(n *yaml.Node) (string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value, nil
	case yaml.AliasNode:
		return yamlValue(n.Alias)
	}
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return "", err
	}
	return marshalInline(v)
}

func fieldsFromMap(fm map[string]interface{}) []models.Field {
	keys := make([]string, 0, len(fm))
	for k := range fm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]models.Field, 0, len(keys))
	for _, k := range keys {
		var value string
		switch v := fm[k].(type) {
		case string:
			value = v
		case time.Time:
			value = v.Format(time.RFC3339)
		case []interface{}, map[string]interface{}:
			value, _ = marshalInline(v)
		default:
			value = fmt.Sprint(v)
		}
		fields = append(fields, models.Field{Key: k, Value: value})
	}
	return fields
}

// parseLooseFrontMatter reads "key: value" lines up to the closing "---".
func parseLooseFrontMatter(str string) ([]models.Field, string, bool) {
	lines := strings.Split(str, "\n")
	if strings.TrimSpace(lines[0]) != "---" {
		return nil, "", false
	}

	var fields []models.Field
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return fields, strings.TrimSpace(strings.Join(lines[i+1:], "\n")), true
		}
		key, value, ok := strings.Cut(lines[i], ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		fields = append(fields, models.Field{Key: key, Value: unquote(strings.TrimSpace(value))})
	}
	return nil, "", false
}

func unquote(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return s[1 : len(s)-1]
}

func marshalInline(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func normalizeLineEndings(input string) string {
	return strings.ReplaceAll(input, "\r\n", "\n")
}
