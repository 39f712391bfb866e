package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"igcrawler/pkg/config"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
	"igcrawler/pkg/storage"
	"igcrawler/pkg/ui"
)

var (
	recordsJSON  bool
	recordsTrace bool
	recordsFail  bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Show the profiles collected so far",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			recs, err := store.Records(ctx)
			if err != nil {
				return err
			}
			return writeRecords(os.Stdout, recs, recordsJSON, recordsTrace, recordsFail)
		})
	},
}

var recordsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all collected records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			if err := store.ClearRecords(ctx); err != nil {
				return err
			}
			ui.PrintSuccess("Records cleared")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsClearCmd)

	recordsCmd.PersistentFlags().String("storage", "", "result store backend (file, sqlite, redis, memory)")
	recordsCmd.PersistentFlags().String("storage-path", "", "result store file")
	recordsCmd.Flags().BoolVar(&recordsJSON, "json", false, "print records as a JSON array")
	recordsCmd.Flags().BoolVar(&recordsTrace, "trace", false, "include diagnostic traces of failed extractions")
	recordsCmd.Flags().BoolVar(&recordsFail, "failed", false, "only show failed extractions")
}

// withStore opens the configured result store for the duration of fn
func withStore(cmd *cobra.Command, fn func(context.Context, storage.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return openAndRun(cmd.Context(), cfg.Storage, fn)
}

func openAndRun(ctx context.Context, cfg config.StorageConfig, fn func(context.Context, storage.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := storage.Open(ctx, cfg, logger.GetLogger())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func writeRecords(w io.Writer, recs []models.ProfileRecord, asJSON, withTrace, failedOnly bool) error {
	if failedOnly {
		kept := recs[:0:0]
		for _, rec := range recs {
			if rec.Failed {
				kept = append(kept, rec)
			}
		}
		recs = kept
	}

	if asJSON {
		if !withTrace {
			stripped := make([]models.ProfileRecord, len(recs))
			for i, rec := range recs {
				rec.Trace = nil
				stripped[i] = rec
			}
			recs = stripped
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	if len(recs) == 0 {
		fmt.Fprintln(w, "No records")
		return nil
	}
	ui.PrintRecords(w, recs, withTrace)

	failed := 0
	for _, rec := range recs {
		if rec.Failed {
			failed++
		}
	}
	fmt.Fprintf(w, "\n%d records, %d failed\n", len(recs), failed)
	return nil
}
