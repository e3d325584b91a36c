package services

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// SafeJoin joins root and sub with the base name of target. It returns ""
// when target has no usable base name.
func SafeJoin(root, sub, target string) string {
	name := path.Base(filepath.ToSlash(target))
	if name == "." || name == ".." || name == "/" || strings.ContainsAny(name, `/\`) {
		return ""
	}
	return filepath.Join(root, sub, name)
}

// CleanRepoPath validates a repository-relative markdown path taken from a
// request.
func CleanRepoPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid path %q", p)
	}
	if !strings.HasSuffix(cleaned, ".md") {
		return "", fmt.Errorf("%q is not a markdown file", p)
	}
	return cleaned, nil
}

// staticPath maps a web image path to its location in the repository.
func staticPath(webPath string) string {
	return "static" + webPath
}

// thumbPathFor is the web path of the thumbnail sharing webPath's name.
func thumbPathFor(webPath string) string {
	return path.Join(path.Dir(webPath), thumbDir, path.Base(webPath))
}
