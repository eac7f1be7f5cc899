package commands

import (
	"fmt"
	"log/slog"
	"os"

	"fkd-backend/internal/render/svg"
	"fkd-backend/internal/scenario"

	"github.com/spf13/cobra"
)

var (
	diagramOut       *string
	diagramMaxWidth  *float64
	diagramMaxHeight *float64
)

func init() {
	diagramOut = diagramCmd.Flags().StringP("out", "o", "", "SVG file to write, defaults to stdout.")
	diagramMaxWidth = diagramCmd.Flags().Float64("max-width", 0, "Maximum diagram width in points, 0 is unbounded.")
	diagramMaxHeight = diagramCmd.Flags().Float64("max-height", 0, "Maximum diagram height in points, 0 is unbounded.")
	rootCmd.AddCommand(diagramCmd)
}

var diagramCmd = &cobra.Command{
	Use:   "diagram <case.json> [--out file.svg] [--max-width W] [--max-height H]",
	Short: "Draws the scenario diagram of a harvested case as SVG.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		record, err := readRecord(args[0])
		if err != nil {
			return err
		}
		layout := scenario.Layout(record.Scenario, scenario.Bounds{
			MaxWidth:  *diagramMaxWidth,
			MaxHeight: *diagramMaxHeight,
		})
		if layout == nil {
			return fmt.Errorf("case %s has no scenario", record.CaseId)
		}
		if layout.Scale < 1 {
			slog.Debug("diagram scaled to bounds", "scale", layout.Scale)
		}

		if *diagramOut == "" {
			return svg.Write(cmd.OutOrStdout(), layout.Draw())
		}
		return os.WriteFile(*diagramOut, svg.Render(layout.Draw()), 0666)
	},
}
