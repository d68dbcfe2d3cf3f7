package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var dumpAddr string

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Trigger a snapshot dump on a running server's admin channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Post("http://"+dumpAddr+"/admin/dump", "application/json", nil)
		if err != nil {
			return fail(exitIO, "dump request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fail(exitProtocol, "dump request: server returned %s", resp.Status)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "dump complete")
		return nil
	},
}

func init() {
	dumpCmd.Flags().StringVar(&dumpAddr, "admin-addr", "127.0.0.1:11224", "server admin address (host:port)")
}
