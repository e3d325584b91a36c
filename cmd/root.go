package cmd

import (
	"github.com/spf13/cobra"

	"blog-admin/cmd/posts"
	"blog-admin/cmd/serve"
	"blog-admin/cmd/util"
)

// Execute runs the main CLI process.
func Execute() {
	rootCmd := &cobra.Command{
		Use:          "blog-admin",
		Short:        "Edit blog posts stored in a GitHub repository.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		posts.New(),
		serve.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
