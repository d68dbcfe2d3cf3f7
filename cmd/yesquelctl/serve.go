package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/config"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveID string

// serveCmd runs a single server inline, the same binary logic cmd/yesqueld
// wraps, for local smoke-testing without a separate process or env vars.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a single storage server inline (for local testing)",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

		cfg, err := config.Load(serveID)
		if err != nil {
			return fail(exitConfig, "serve: %w", err)
		}

		sc := server.DefaultConfig(cfg.ServerID)
		sc.Workers = cfg.Workers
		sc.DumpFile = cfg.DumpFile
		sc.DiskLogEnabled = cfg.DiskLogEnabled
		sc.DiskLogSimple = cfg.DiskLogSimple
		sc.DiskLogFile = cfg.DiskLogFile
		srv := server.New(sc, coid.NewClock(), func() (uint32, error) { return 1, nil }, log)

		if err := srv.Restore(); err != nil {
			return fail(exitIO, "serve: restore: %w", err)
		}
		srv.Start()
		defer srv.Stop()

		httpSrv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           rpcchan.NewHTTPMux(srv),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.ListenAddr).Msg("serve: rpc listening")
			_ = httpSrv.ListenAndServe()
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Dump()
		return httpSrv.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveID, "id", "s1", "server id")
}
