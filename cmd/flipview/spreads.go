package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/recera/flipview/pkg/flipbook"
)

func newSpreadsCommand(configPath *string) *cobra.Command {
	var pages int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "spreads [book-id|path]",
		Short: "Print the two-page spreads of a book",
		Long:  `Prints how pages pair into spreads. The first spread opens with a blank left face.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && pages <= 0 {
				return fmt.Errorf("give a book or --pages")
			}
			if len(args) == 1 {
				cfg, err := loadConfig(*configPath)
				if err != nil {
					return err
				}
				src, _, err := openBook(cfg, args[0])
				if err != nil {
					return err
				}
				if pages, err = pageCount(cmd.Context(), src); err != nil {
					return err
				}
			}

			spreads := flipbook.Spreads(pages)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(spreads)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SHEET\tLEFT\tRIGHT")
			for i, s := range spreads {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", i, face(s.Left), face(s.Right))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&pages, "pages", "n", 0, "Page count to pair instead of opening a book")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

func face(page int) string {
	if page == flipbook.Blank {
		return "-"
	}
	return strconv.Itoa(page)
}
