package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds everything the admin needs to talk to the blog repository.
type Config struct {
	// GitHub settings
	Token  string
	Repo   string
	Branch string

	// Content layout inside the repository
	BlogDir   string
	ImagePath string
	PagesDir  string
	MetaKeys  []string

	// Local settings
	WorkDir       string
	SessionSecret string
	CommitMessage string
	Addr          string
	LogLevel      string

	// UseMemoryStore swaps GitHub for an in-process store. Set by the CLI.
	UseMemoryStore bool
}

var repoPattern = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

// Load reads .env (when present) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found or error loading it.")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(lookup func(string) string) *Config {
	// Helper to get env with default
	getEnv := func(key, fallback string) string {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Token:         getEnv("GTOKEN", ""),
		Repo:          getEnv("REPO", ""),
		Branch:        getEnv("GIT_BRANCH", "main"),
		BlogDir:       strings.TrimSuffix(getEnv("BLOG_CONTENT_DIR", "content/blog"), "/"),
		ImagePath:     strings.TrimSuffix(getEnv("BLOG_IMAGE_PATH", "/img/blog"), "/"),
		PagesDir:      strings.TrimSuffix(getEnv("BLOG_REPO_MISC_CONTENT_DIR", ""), "/"),
		MetaKeys:      splitList(getEnv("DEFAULT_META_KEYS", "title,date,category,tags")),
		WorkDir:       getEnv("WORK_DIR", "./static/img"),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		CommitMessage: getEnv("COMMIT_MESSAGE", "app"),
		Addr:          getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = randomSecret()
		log.Warn("SESSION_SECRET not set, sessions will not survive a restart")
	}
	return cfg
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	remote := !c.UseMemoryStore
	return validation.ValidateStruct(c,
		validation.Field(&c.Token, validation.When(remote, validation.Required)),
		validation.Field(&c.Repo, validation.When(remote, validation.Required), validation.Match(repoPattern)),
		validation.Field(&c.Branch, validation.Required),
		validation.Field(&c.BlogDir, validation.Required, validation.By(relativePath)),
		validation.Field(&c.ImagePath, validation.Required, validation.By(func(value interface{}) error {
			if !strings.HasPrefix(value.(string), "/") {
				return validation.NewError("config.image_path", "must start with /")
			}
			return nil
		})),
		validation.Field(&c.PagesDir, validation.By(relativePath)),
		validation.Field(&c.WorkDir, validation.Required),
		validation.Field(&c.CommitMessage, validation.Required),
	)
}

// ParseLevel returns the configured logrus level, defaulting to info.
func (c *Config) ParseLevel() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func relativePath(value interface{}) error {
	s, _ := value.(string)
	if strings.HasPrefix(s, "/") || strings.Contains(s, "..") {
		return validation.NewError("config.relative_path", "must be a repository-relative path")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
