package cmd

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/illarion/ctsecretsd/internal/config"
	"github.com/illarion/ctsecretsd/internal/crypto"
	"github.com/illarion/ctsecretsd/internal/metrics"
	"github.com/illarion/ctsecretsd/internal/providers"
	"github.com/illarion/ctsecretsd/internal/proxy"
	"github.com/illarion/ctsecretsd/internal/server"
	"github.com/illarion/ctsecretsd/internal/state"
	"github.com/illarion/ctsecretsd/internal/storage"
)

// generatedTokenBytes is the entropy of a generated auth token
const generatedTokenBytes = 32

var serveFlags struct {
	host      string
	port      int
	authToken string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the secrets daemon",
	Long: `Run the secrets daemon HTTP API.

Without --auth-token (or CT_SECRETSD_AUTH_TOKEN) a random token is generated
and printed on stdout together with the bound address.

Examples:
  # Pick a free port and generate a token
  ct-secretsd serve

  # Fixed port and token
  ct-secretsd serve --port 8765 --auth-token "$TOKEN"`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveFlags.host, "host", "", "bind host (only 127.0.0.1 is accepted)")
	serveCmd.Flags().IntVarP(&serveFlags.port, "port", "p", -1, "bind port (0 picks a free port)")
	serveCmd.Flags().StringVar(&serveFlags.authToken, "auth-token", "", "bearer token clients must send")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.host != "" {
		cfg.Server.Host = serveFlags.host
	}
	if serveFlags.port >= 0 {
		cfg.Server.Port = serveFlags.port
	}
	if serveFlags.authToken != "" {
		cfg.Server.AuthToken = serveFlags.authToken
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	generated := false
	if cfg.Server.AuthToken == "" {
		raw, err := crypto.GenerateRandom(generatedTokenBytes)
		if err != nil {
			return fmt.Errorf("failed to generate auth token: %w", err)
		}
		cfg.Server.AuthToken = base64.RawURLEncoding.EncodeToString(raw)
		crypto.ClearBytes(raw)
		generated = true
	}

	backend, err := newSelector(cfg, logger).Resolve()
	if err != nil {
		return err
	}
	defer closeBackend(backend)

	dir, err := storageDir(cfg)
	if err != nil {
		return err
	}
	db, err := state.Open(dir)
	if err != nil {
		return err
	}
	defer db.Close()

	argv, err := cfg.ProxyCommand()
	if err != nil {
		return err
	}
	workDir, err := proxy.ResolveWorkDir(cfg.Proxy.WorkDir)
	if err != nil {
		return err
	}
	ctrl := proxy.New(proxy.Options{
		Command:      argv,
		WorkDir:      workDir,
		StartTimeout: cfg.Proxy.StartTimeout,
		PollInterval: cfg.Proxy.PollInterval,
		StopTimeout:  cfg.Proxy.StopTimeout,
		Logger:       logger.With("component", "proxy"),
	})

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(ctrl.IsRunning)
		backend = storage.Observe(backend, collector.RecordStorage)
	}

	srv, err := server.New(server.Options{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		AuthToken:         cfg.Server.AuthToken,
		Store:             backend,
		Registry:          providers.DefaultRegistry(&http.Client{Timeout: cfg.Providers.ValidationTimeout}),
		Proxy:             ctrl,
		State:             db,
		Metrics:           collector,
		DefaultProxyPort:  cfg.Proxy.DefaultPort,
		ValidationTimeout: cfg.Providers.ValidationTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	addr, err := srv.Listen()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Listening on http://%s\n", addr)
	if generated {
		fmt.Fprintf(out, "Auth token: %s\n", cfg.Server.AuthToken)
	}

	logger.Info("secrets daemon ready",
		"address", addr.String(),
		"backend", backend.Name(),
		"state", db.Path(),
		"proxy_command", argv[0],
		"proxy_work_dir", workDir,
		slog.Bool("metrics", cfg.Metrics.Enabled),
	)

	return srv.Serve(cmd.Context())
}
