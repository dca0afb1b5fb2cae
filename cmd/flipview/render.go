package main

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/recera/flipview/pkg/document"
	"github.com/recera/flipview/pkg/flipbook"
)

func newRenderCommand(configPath *string) *cobra.Command {
	var page, sheet, width int
	var output string
	var noBleed bool

	cmd := &cobra.Command{
		Use:   "render <book-id|path>",
		Short: "Render a page or a spread to PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (page > 0) == (sheet >= 0) {
				return fmt.Errorf("give exactly one of --page or --sheet")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			src, _, err := openBook(cfg, args[0])
			if err != nil {
				return err
			}
			n, err := pageCount(cmd.Context(), src)
			if err != nil {
				return err
			}
			if width <= 0 {
				width = int(cfg.Viewer.BasePageWidth)
			}

			var img image.Image
			if page > 0 {
				if page > n {
					return fmt.Errorf("%w: %d not in [1, %d]", flipbook.ErrPageOutOfRange, page, n)
				}
				img, err = src.RenderPage(cmd.Context(), page, width)
			} else {
				spreads := flipbook.Spreads(n)
				if sheet >= len(spreads) {
					return fmt.Errorf("sheet %d not in [0, %d]", sheet, len(spreads)-1)
				}
				s := spreads[sheet]
				opts := cfg.SheetOptions(n)
				if noBleed {
					opts.Bleed = 0
				}
				img, err = document.RenderSheetWith(cmd.Context(), src, flipbook.Sheet{Index: sheet, Left: s.Left, Right: s.Right}, width, opts)
			}
			if err != nil {
				return fmt.Errorf("render failed: %w", err)
			}

			if output == "" {
				output = defaultOutput(page, sheet)
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				return err
			}
			if err := os.WriteFile(output, buf.Bytes(), 0644); err != nil {
				return err
			}
			b := img.Bounds()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d)\n", output, b.Dx(), b.Dy())
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 0, "Page to render (1-based)")
	cmd.Flags().IntVar(&sheet, "sheet", -1, "Spread to render (0-based)")
	cmd.Flags().IntVarP(&width, "width", "w", 0, "Page width in pixels (defaults to viewer.base_page_width)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file")
	cmd.Flags().BoolVar(&noBleed, "no-bleed", false, "Do not show the next page through the paper")

	return cmd
}

func defaultOutput(page, sheet int) string {
	if page > 0 {
		return fmt.Sprintf("page-%03d.png", page)
	}
	return fmt.Sprintf("sheet-%03d.png", sheet)
}
