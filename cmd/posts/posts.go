package posts

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"blog-admin/cmd/util"
	"blog-admin/pkg/services"
)

// New creates a new `posts` command.
func New() *cobra.Command {
	var pages bool
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "List the posts in the blog content directory.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(pages); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&pages, "pages", false, "list the misc content pages instead")
	return cmd
}

func run(pages bool) error {
	cfg, err := util.LoadConfig(false)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := util.NewStore(ctx, cfg)
	if err != nil {
		return err
	}

	svc := services.NewPostService(store, cfg)
	list := svc.List
	if pages {
		list = svc.ListPages
	}
	files, err := list(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}
