package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fkd-backend/internal/components/chrono"
	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/report"
	"fkd-backend/internal/scrapers/fkd"
	"fkd-backend/internal/store"
	"fkd-backend/lib/serviceutil"

	"github.com/spf13/cobra"
)

var (
	configPath *string
	debug      *bool

	config  Config
	otelTel telemetry.Telemetry
)

var rootCmd = &cobra.Command{
	Use:          "fkd",
	Short:        "fkd harvests failure cases from the failure knowledge database and renders them.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(*debug)

		var err error
		config, err = LoadConfig(*configPath)
		if err != nil {
			return err
		}
		otelTel, err = telemetry.Setup(cmd.Context(), "fkd", config.Telemetry)
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelTel.Shutdown(ctx)
	},
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "", "Config file, defaults to the nearest config.json5.")
	debug = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		serviceutil.Fatal("command failed", err)
	}
}

func newClient(tel telemetry.API) (*fkd.Client, error) {
	client, err := fkd.NewClient(config.clientOptions(), tel)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return client, nil
}

func newRenderer(images report.ImageSource, tel telemetry.API) (*report.Renderer, error) {
	renderer, err := report.NewRenderer(report.Options{
		Images:           images,
		FontFile:         config.Pdf.FontFile,
		BoldFontFile:     config.Pdf.BoldFontFile,
		ImageConcurrency: config.Concurrency,
	}, tel)
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}
	return renderer, nil
}

func openStore(ctx context.Context, dsn string) (*store.Store, error) {
	if dsn == "" {
		return nil, errors.New("no database configured, set --db, FKD_DB or \"db\" in config.json5")
	}
	clock, err := chrono.NewStandardImpl()
	if err != nil {
		return nil, err
	}
	slog.Debug("opening store", "dsn", dsn)
	return store.Open(ctx, dsn, config.DbAuthToken, clock)
}

func readRecord(path string) (fkd.CaseRecord, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fkd.CaseRecord{}, err
	}
	var record fkd.CaseRecord
	err = json.Unmarshal(contents, &record)
	if err != nil {
		return fkd.CaseRecord{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if record.CaseId == "" {
		return fkd.CaseRecord{}, fmt.Errorf("parse %s: record has no case_id", path)
	}
	return record, nil
}
