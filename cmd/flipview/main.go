package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "flipview",
		Short: "flipview - textbook flipbook viewer",
		Long: `flipview serves scanned and PDF textbooks as two-page spreads with
pan and zoom, over HTTP and websocket or directly in the terminal.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "Config file or directory containing flipview.yaml")

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newViewCommand(&configPath))
	rootCmd.AddCommand(newSpreadsCommand(&configPath))
	rootCmd.AddCommand(newRenderCommand(&configPath))

	return rootCmd
}
