package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
)

// GitHubStore implements Store on top of the GitHub contents API.
type GitHubStore struct {
	client *github.Client
	owner  string
	repo   string
	branch string
}

// NewGitHubStore authenticates with a personal access token. repository is
// given as "owner/name".
func NewGitHubStore(ctx context.Context, token, repository, branch string) (*GitHubStore, error) {
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("invalid repository %q, expected owner/name", repository)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubStore{
		client: github.NewClient(oauth2.NewClient(ctx, ts)),
		owner:  owner,
		repo:   name,
		branch: branch,
	}, nil
}

func (s *GitHubStore) ref() *github.RepositoryContentGetOptions {
	return &github.RepositoryContentGetOptions{Ref: s.branch}
}

func (s *GitHubStore) Get(ctx context.Context, path string) (*File, error) {
	fc, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, path, s.ref())
	if err != nil {
		return nil, wrapGitHubError(path, resp, err)
	}
	if fc == nil {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	var content []byte
	if fc.GetEncoding() == "none" {
		// Files over 1MB come back without inline content.
		rc, resp, err := s.client.Repositories.DownloadContents(ctx, s.owner, s.repo, path, s.ref())
		if err != nil {
			return nil, wrapGitHubError(path, resp, err)
		}
		defer rc.Close()
		if content, err = io.ReadAll(rc); err != nil {
			return nil, fmt.Errorf("download %s: %w", path, err)
		}
	} else {
		decoded, err := fc.GetContent()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		content = []byte(decoded)
	}
	return &File{Path: fc.GetPath(), SHA: fc.GetSHA(), Content: content}, nil
}

func (s *GitHubStore) Create(ctx context.Context, path, message string, content []byte) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(s.branch),
	}
	_, resp, err := s.client.Repositories.CreateFile(ctx, s.owner, s.repo, path, opts)
	if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	return wrapGitHubError(path, resp, err)
}

func (s *GitHubStore) Update(ctx context.Context, path, message string, content []byte, sha string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		SHA:     github.String(sha),
		Branch:  github.String(s.branch),
	}
	_, resp, err := s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, path, opts)
	return wrapGitHubError(path, resp, err)
}

func (s *GitHubStore) Delete(ctx context.Context, path, message, sha string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		SHA:     github.String(sha),
		Branch:  github.String(s.branch),
	}
	_, resp, err := s.client.Repositories.DeleteFile(ctx, s.owner, s.repo, path, opts)
	return wrapGitHubError(path, resp, err)
}

func (s *GitHubStore) List(ctx context.Context, dir string) ([]Entry, error) {
	_, contents, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, dir, s.ref())
	if err != nil {
		return nil, wrapGitHubError(dir, resp, err)
	}
	entries := make([]Entry, 0, len(contents))
	for _, c := range contents {
		entries = append(entries, Entry{Path: c.GetPath(), Name: c.GetName(), Type: c.GetType()})
	}
	return entries, nil
}

// wrapGitHubError attaches ErrNotFound or ErrTransient so callers can
// Classify the failure.
func wrapGitHubError(path string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return fmt.Errorf("%s: %w: %v", path, ErrTransient, err)
	case resp == nil:
		return fmt.Errorf("%s: %w", path, err)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w: %v", path, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", path, err)
}
