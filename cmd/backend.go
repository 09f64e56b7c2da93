package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/ctsecretsd/internal/storage"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Show which storage backend the daemon would use",
	Long: `Probe the OS keyring the same way serve does and print the storage
backend that would be selected. With storage.backend=auto an unavailable
keyring falls back to the encrypted file store.`,
	Args: cobra.NoArgs,
	RunE: runBackend,
}

func init() {
	rootCmd.AddCommand(backendCmd)
}

func runBackend(cmd *cobra.Command, _ []string) error {
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

	out := cmd.OutOrStdout()
	switch backend.Name() {
	case storage.BackendKeyring:
		fmt.Fprintln(out, "keyring (OS credential store)")
	case storage.BackendFile:
		dir := cfg.Storage.Dir
		if fb, ok := backend.(*storage.FileBackend); ok {
			dir = fb.Dir()
		}
		fmt.Fprintf(out, "file (encrypted, %s)\n", dir)
	default:
		fmt.Fprintln(out, backend.Name())
	}
	return nil
}
