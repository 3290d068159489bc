package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/deusflow/newspick/internal/app"
	"github.com/deusflow/newspick/internal/config"
	"github.com/deusflow/newspick/internal/ledger"
)

func newLedgerCommand(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show the stories posted within the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Parse()
			if err := cfg.ValidateLedger(); err != nil {
				return err
			}
			log := setupLogger(root.debug)

			store, closeStore, err := app.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			l := ledger.Open(cmd.Context(), store, ledger.Options{Retention: cfg.LedgerRetention, Log: log})
			expired := l.Prune(time.Now())

			if asJSON {
				return printLedgerJSON(cmd.OutOrStdout(), l.Live())
			}
			return printLedger(cmd.OutOrStdout(), l.Live(), expired, l.Retention())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func printLedger(w io.Writer, entries []ledger.Entry, expired int, retention time.Duration) error {
	fmt.Fprintf(w, "%d live entries (retention %s, %d expired)\n\n", len(entries), retention, expired)
	if len(entries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SENT\tMODEL\tTITLE\tLINK")
	for _, e := range entries {
		model := e.ModelVersion
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.SentTime.Local().Format("2006-01-02 15:04"), model, shorten(e.Title, 60), e.Link)
	}
	return tw.Flush()
}

func printLedgerJSON(w io.Writer, entries []ledger.Entry) error {
	for i := range entries {
		entries[i].Embedding = nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func shorten(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
