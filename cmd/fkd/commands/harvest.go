package commands

import (
	"errors"
	"log/slog"
	"time"

	"fkd-backend/internal/components/chrono"
	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	harvestLimit       *int
	harvestOutputDir   *string
	harvestFormats     *[]string
	harvestConcurrency *int
	harvestDb          *string
)

func init() {
	harvestLimit = harvestCmd.Flags().Int("limit", 0, "Maximum number of cases taken from each listing page, 0 takes all.")
	harvestOutputDir = harvestCmd.Flags().String("output-dir", "", "Directory outputs and results logs are written to.")
	harvestFormats = harvestCmd.Flags().StringSlice("format", nil, "Output formats: json, pdf, docx, html, svg.")
	harvestConcurrency = harvestCmd.Flags().Int("concurrency", 0, "Number of cases processed at once.")
	harvestDb = harvestCmd.Flags().String("db", "", "Also store records in this sqlite path or libsql url.")
	rootCmd.AddCommand(harvestCmd)
}

var harvestCmd = &cobra.Command{
	Use:   "harvest <url>... [--limit N] [--output-dir D] [--format f,...] [--db DSN]",
	Short: "Fetches cases from listing or case pages and writes their outputs.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if *harvestOutputDir != "" {
			config.OutputDir = *harvestOutputDir
		}
		if len(*harvestFormats) > 0 {
			config.Formats = *harvestFormats
		}
		if *harvestConcurrency > 0 {
			config.Concurrency = *harvestConcurrency
		}
		if *harvestDb != "" {
			config.Db = *harvestDb
		}

		formats, err := pipeline.ParseOutputFormats(config.Formats)
		if err != nil {
			return err
		}

		tel := telemetry.SlogAPI{}
		telemetry.InstrumentPerfStats(ctx, tel, 30*time.Second)

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

		opts := pipeline.Options{
			OutputDir:   config.OutputDir,
			Formats:     formats,
			Concurrency: config.Concurrency,
		}
		if config.Db != "" {
			st, err := openStore(ctx, config.Db)
			if err != nil {
				return err
			}
			defer st.Close()
			opts.Store = st
		}

		runner := pipeline.NewRunner(client, renderer, opts, clock, tel)
		targets := runner.ExpandTargets(ctx, args, *harvestLimit)
		if len(targets) == 0 {
			return errors.New("no case urls to process")
		}
		slog.Info("harvesting", "cases", len(targets), "output_dir", config.OutputDir)

		t1 := time.Now()
		results := runner.Run(ctx, targets)
		slog.Info("harvest time", "seconds", time.Since(t1).Seconds())

		path, err := runner.WriteResults(results)
		if err != nil {
			return err
		}
		pipeline.PrintSummary(cmd.OutOrStdout(), results)
		slog.Info("wrote results", "path", path)
		return nil
	},
}
