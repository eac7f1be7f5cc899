package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var casesDb *string

func init() {
	casesDb = casesCmd.Flags().String("db", "", "The sqlite path or libsql url to read.")
	rootCmd.AddCommand(casesCmd)
}

var casesCmd = &cobra.Command{
	Use:   "cases [--db DSN]",
	Short: "Lists the cases in a store.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if *casesDb != "" {
			config.Db = *casesDb
		}
		st, err := openStore(ctx, config.Db)
		if err != nil {
			return err
		}
		defer st.Close()

		cases, err := st.List(ctx)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Case", "Name", "Updated", "Url"})
		for _, c := range cases {
			t.AppendRow(table.Row{c.Id, c.Name, c.UpdatedAt.Format("2006-01-02 15:04"), c.Url})
		}
		t.Render()
		return nil
	},
}
