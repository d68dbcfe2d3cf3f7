// Command yesquelctl is the administrative front-end for a yesqueld
// cluster: triggering a snapshot dump, validating a config.txt file
// before a rollout, running a single server inline for local testing,
// and importing/exporting the cluster's server-hint-to-address
// topology.
//
// Exit codes (§6): 0 success, 1 config error, 2 I/O error, 3 protocol
// error, 4 assertion/corruption.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes named per §6; os.Exit is called only from main, after
// Execute returns, so every subcommand can just return a plain error.
const (
	exitOK        = 0
	exitConfig    = 1
	exitIO        = 2
	exitProtocol  = 3
	exitAssertion = 4
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "yesquelctl: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "yesquelctl",
	Short: "Administrative CLI for a yesqueldb storage server",
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(topologyCmd)
}

// exitedError tags an error with the exit code its cause maps to, so
// main can translate a single returned error into the right process
// exit status without every subcommand calling os.Exit directly.
type exitedError struct {
	code int
	err  error
}

func (e *exitedError) Error() string { return e.err.Error() }
func (e *exitedError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if ee, ok := err.(*exitedError); ok {
		return ee.code
	}
	return exitAssertion
}

func fail(code int, format string, args ...any) error {
	return &exitedError{code: code, err: fmt.Errorf(format, args...)}
}
