package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recera/flipview/internal/logger"
	"github.com/recera/flipview/internal/tui"
)

func newViewCommand(configPath *string) *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "view <book-id|path>",
		Short: "Open a book in the terminal",
		Long: `Opens a shelf book or a PDF/image directory in a full-screen terminal viewer.
Drag with the mouse to pan when zoomed in, + and - to zoom, arrows to flip.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			src, title, err := openBook(cfg, args[0])
			if err != nil {
				return err
			}

			// The viewer owns the terminal, so logs go to a file or nowhere
			log := zap.NewNop()
			if logFile != "" {
				l, err := logger.NewFile(cfg.Log.Mode, logFile)
				if err != nil {
					return err
				}
				defer l.Sync()
				log = l.Zap()
			}

			return tui.Run(src, tui.Options{
				Title:     title,
				Viewer:    cfg.ViewerOptions(),
				WheelStep: cfg.Viewer.WheelStep,
				Logger:    log,
			})
		},
	}

	cmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file")

	return cmd
}
