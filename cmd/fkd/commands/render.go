package commands

import (
	"errors"
	"fmt"

	"fkd-backend/internal/components/chrono"
	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	renderFormats   *[]string
	renderOutputDir *string
)

func init() {
	renderFormats = renderCmd.Flags().StringSlice("format", []string{"pdf"}, "Output formats: pdf, docx, html, svg, json.")
	renderOutputDir = renderCmd.Flags().String("output-dir", "", "Directory outputs are written to.")
	rootCmd.AddCommand(renderCmd)
}

var renderCmd = &cobra.Command{
	Use:   "render <case.json>... [--format f,...] [--output-dir D]",
	Short: "Re-renders reports from harvested case JSON files.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if *renderOutputDir != "" {
			config.OutputDir = *renderOutputDir
		}
		formats, err := pipeline.ParseOutputFormats(*renderFormats)
		if err != nil {
			return err
		}

		tel := telemetry.SlogAPI{}
		clock, err := chrono.NewStandardImpl()
		if err != nil {
			return err
		}
		client, err := newClient(tel)
		if err != nil {
			return err
		}
		renderer, err := newRenderer(client, tel)
		if err != nil {
			return err
		}
		runner := pipeline.NewRunner(client, renderer, pipeline.Options{
			OutputDir:   config.OutputDir,
			Formats:     formats,
			Concurrency: 1,
		}, clock, tel)

		var errs []error
		for _, path := range args {
			record, err := readRecord(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			outputs, err := runner.RenderFile(ctx, record)
			if err != nil {
				errs = append(errs, err)
			}
			for _, o := range outputs {
				fmt.Fprintln(cmd.OutOrStdout(), o)
			}
		}
		return errors.Join(errs...)
	},
}
