package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/ctsecretsd/internal/providers"
	"github.com/illarion/ctsecretsd/internal/state"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List supported providers and whether a key is stored",
	Args:  cobra.NoArgs,
	RunE:  runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	backend, err := newSelector(cfg, logger).Resolve()
	if err != nil {
		return err
	}
	defer closeBackend(backend)

	// Test history is optional here; a running daemon holds the lock
	var tests map[string]state.TestRecord
	if dir, err := storageDir(cfg); err == nil {
		db, err := state.OpenReadOnly(dir)
		switch {
		case err == nil:
			tests, _ = db.AllTests()
			db.Close()
		case !errors.Is(err, state.ErrNoDatabase):
			logger.Debug("test history unavailable", "error", err)
		}
	}

	ctx := cmd.Context()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKEY\tLAST TEST")
	for _, a := range providers.DefaultRegistry(nil).All() {
		key := "-"
		if backend.Has(ctx, a.ID()) {
			key = "stored"
		}
		last := "-"
		if rec, ok := tests[a.ID()]; ok {
			result := "ok"
			if !rec.Success {
				result = "failed"
			}
			last = fmt.Sprintf("%s (%s)", rec.TestedAt.Local().Format(time.RFC3339), result)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID(), a.Name(), key, last)
	}
	return tw.Flush()
}
