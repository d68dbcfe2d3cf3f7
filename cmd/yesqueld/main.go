// Command yesqueld runs one storage server node (§4.1): it serves the
// RPC verbs of internal/rpcchan over HTTP, runs the COID cache's
// eviction loop, and exposes an admin channel for metrics and
// on-demand snapshot dumps.
//
// Configuration:
//   - YESQUELCONFIG: path to a config.txt-style file (default: config.txt,
//     itself optional)
//   - YESQUEL_SERVER_ID: this server's id (required)
//   - YESQUEL_LISTEN_ADDR, YESQUEL_WORKERS, YESQUEL_DUMP_FILE: per-setting
//     overrides layered on top of the config file, see internal/config
//
// Example usage:
//
//	YESQUEL_SERVER_ID=s1 YESQUEL_LISTEN_ADDR=:11223 ./yesqueld
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/config"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/server"
	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	serverID := mustGetenv(log, "YESQUEL_SERVER_ID")
	cfg, err := config.Load(serverID)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	srv := server.New(toServerConfig(cfg), coid.NewClock(), issuerFromServerID(serverID), log)

	if err := srv.Restore(); err != nil {
		log.Fatal().Err(err).Msg("restore dump")
	}
	srv.Start()
	defer srv.Stop()

	rpcSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           rpcchan.NewHTTPMux(srv),
		ReadHeaderTimeout: 5 * time.Second,
	}
	adminSrv := &http.Server{
		Addr:              adminAddr(cfg.ListenAddr),
		Handler:           srv.AdminMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("rpc listening")
		if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("rpc listen")
		}
	}()
	go func() {
		log.Info().Str("addr", adminSrv.Addr).Msg("admin listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Dump(); err != nil {
		log.Error().Err(err).Msg("final dump")
	}
	if err := rpcSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("rpc shutdown")
	}
	if err := adminSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("admin shutdown")
	}
	log.Info().Msg("stopped")
}

// toServerConfig maps the flat config.Config loaded from config.txt onto
// server.Config's fields.
func toServerConfig(cfg config.Config) server.Config {
	sc := server.DefaultConfig(cfg.ServerID)
	sc.Workers = cfg.Workers
	sc.Retention = cfg.StaleGCInterval
	sc.DisableOnePhaseCommit = cfg.DisableOnePhaseCommit
	sc.AvoidDuplicateInterval = cfg.AvoidDuplicateInterval
	sc.AllSplitsUnconditional = cfg.AllSplitsUnconditional
	sc.LoadSplits = cfg.LoadSplits
	sc.DumpFile = cfg.DumpFile
	sc.DiskLogEnabled = cfg.DiskLogEnabled
	sc.DiskLogSimple = cfg.DiskLogSimple
	sc.DiskLogFile = cfg.DiskLogFile
	sc.Thresholds.MinItems = cfg.CheckpointMinItems
	sc.Thresholds.MinAddItems = cfg.CheckpointMinAddItems
	sc.Thresholds.MinDelRanges = cfg.CheckpointMinDelRangeItems
	return sc
}

// issuerFromServerID derives this server's issuer hint from its id the
// same way a deployment's cluster topology would: a stable small integer
// unique per server. Real deployments should source this from the
// topology file (yesquelctl's cluster import), not the id's bytes; this
// is a single-node-friendly fallback.
func issuerFromServerID(id string) server.Resolver {
	var h uint32
	for i := 0; i < len(id); i++ {
		h = h*31 + uint32(id[i])
	}
	if h == 0 {
		h = 1
	}
	return func() (uint32, error) { return h, nil }
}

// adminAddr derives the admin HTTP address from the rpc listen address by
// incrementing its port by one, so a single YESQUEL_LISTEN_ADDR setting
// is enough to stand up both channels without a second env var in the
// common single-server case.
func adminAddr(rpcAddr string) string {
	host, portStr, err := net.SplitHostPort(rpcAddr)
	if err != nil {
		return rpcAddr
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return rpcAddr
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1))
}

func mustGetenv(log zerolog.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatal().Str("var", key).Msg("missing required environment variable")
	}
	return v
}
