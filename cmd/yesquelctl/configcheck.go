package main

import (
	"fmt"
	"os"

	"github.com/dreamware/yesqueldb/internal/config"
	"github.com/spf13/cobra"
)

var configCheckFile string

var configCheckCmd = &cobra.Command{
	Use:   "config-check",
	Short: "Validate a config.txt file without starting a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configCheckFile != "" {
			if err := os.Setenv(config.EnvVar, configCheckFile); err != nil {
				return fail(exitIO, "config-check: %w", err)
			}
		}
		cfg, err := config.Load("config-check")
		if err != nil {
			return fail(exitConfig, "config-check: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: listen_addr=%s workers=%d split_size=%d dump_file=%s\n",
			cfg.ListenAddr, cfg.Workers, cfg.SplitCellCount, cfg.DumpFile)
		return nil
	},
}

func init() {
	configCheckCmd.Flags().StringVar(&configCheckFile, "file", "", "path to config.txt (default: "+config.EnvVar+" env var, or "+config.DefaultFile+")")
}
