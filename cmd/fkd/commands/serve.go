package commands

import (
	"fmt"
	"log/slog"

	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/service"

	"github.com/spf13/cobra"
)

var (
	servePort *int
	serveDb   *string
)

func init() {
	servePort = serveCmd.Flags().Int("port", 8000, "The port to listen on.")
	serveDb = serveCmd.Flags().String("db", "", "The sqlite path or libsql url to serve.")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--port N] [--db DSN]",
	Short: "Serves stored cases and their reports over HTTP.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if *serveDb != "" {
			config.Db = *serveDb
		}

		tel := telemetry.SlogAPI{}
		st, err := openStore(ctx, config.Db)
		if err != nil {
			return err
		}
		defer st.Close()
		client, err := newClient(tel)
		if err != nil {
			return err
		}
		renderer, err := newRenderer(client, tel)
		if err != nil {
			return err
		}

		svc := service.NewService(st, renderer, service.WithTelemetry(tel))
		addr := fmt.Sprintf("0.0.0.0:%d", *servePort)
		slog.Info("serving cases", "addr", addr, "db", config.Db)
		return service.ListenAndServe(ctx, addr, svc.Handler(), tel)
	},
}
