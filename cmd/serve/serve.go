package serve

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"blog-admin/cmd/util"
	"blog-admin/pkg/handlers"
	"blog-admin/pkg/services"
)

// Staging directories untouched for worksetMaxAge are removed every
// pruneInterval.
const (
	worksetMaxAge = 24 * time.Hour
	pruneInterval = time.Hour
)

// New creates a new `serve` command.
func New() *cobra.Command {
	var memory bool
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the blog admin web server.",
		Long: "Run the web server that edits blog posts and their photos\n" +
			"directly in the configured GitHub repository.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(memory, addr); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "use an in-memory repository instead of GitHub")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overriding LISTEN_ADDR")
	return cmd
}

func run(memory bool, addr string) error {
	cfg, err := util.LoadConfig(memory)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}

	store, err := util.NewStore(context.Background(), cfg)
	if err != nil {
		return err
	}

	worksets := services.NewWorksetManager(afero.NewOsFs(), cfg.WorkDir, store, cfg.ImagePath, cfg.CommitMessage)
	go worksets.PruneEvery(context.Background(), pruneInterval, worksetMaxAge)

	router := handlers.NewRouter(cfg, handlers.NewHandler(services.NewPostService(store, cfg)), worksets)
	log.WithFields(log.Fields{
		"addr":   cfg.Addr,
		"repo":   cfg.Repo,
		"branch": cfg.Branch,
	}).Info("Starting server")
	return router.Run(cfg.Addr)
}
