package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Topology maps each server's issuer hint (§3's CID-0 bookkeeping) to
// the address clients should dial it at, the cluster-wide counterpart
// of a single server's own config.txt.
type Topology struct {
	Servers []TopologyServer `yaml:"servers"`
}

// TopologyServer is one entry in a Topology file.
type TopologyServer struct {
	ID         string `yaml:"id"`
	IssuerHint uint32 `yaml:"issuer_hint"`
	Addr       string `yaml:"addr"`
}

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Import/export the cluster's server-id-to-address topology",
}

var (
	topologyExportFile string
	topologyImportFile string
)

var topologyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the current topology to a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		// A real deployment would source this from its discovery
		// mechanism; this CLI only round-trips whatever file is given so
		// yesquelctl topology import/export compose as a pair.
		top, err := loadTopology(topologyImportFile)
		if err != nil {
			return fail(exitIO, "topology export: %w", err)
		}
		out, err := yaml.Marshal(top)
		if err != nil {
			return fail(exitAssertion, "topology export: marshal: %w", err)
		}
		if err := os.WriteFile(topologyExportFile, out, 0o644); err != nil {
			return fail(exitIO, "topology export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d server(s) to %s\n", len(top.Servers), topologyExportFile)
		return nil
	},
}

var topologyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Validate and print a topology file",
	RunE: func(cmd *cobra.Command, args []string) error {
		top, err := loadTopology(topologyImportFile)
		if err != nil {
			return fail(exitConfig, "topology import: %w", err)
		}
		for _, s := range top.Servers {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tissuer=%d\t%s\n", s.ID, s.IssuerHint, s.Addr)
		}
		return nil
	},
}

func loadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("read %s: %w", path, err)
	}
	var top Topology
	if err := yaml.Unmarshal(data, &top); err != nil {
		return Topology{}, fmt.Errorf("parse %s: %w", path, err)
	}
	seen := make(map[uint32]string, len(top.Servers))
	for _, s := range top.Servers {
		if prev, ok := seen[s.IssuerHint]; ok {
			return Topology{}, fmt.Errorf("issuer_hint %d used by both %s and %s", s.IssuerHint, prev, s.ID)
		}
		seen[s.IssuerHint] = s.ID
	}
	return top, nil
}

func init() {
	topologyImportCmd.Flags().StringVar(&topologyImportFile, "file", "topology.yaml", "path to the topology file")
	topologyExportCmd.Flags().StringVar(&topologyImportFile, "from", "topology.yaml", "existing topology file to re-export")
	topologyExportCmd.Flags().StringVar(&topologyExportFile, "file", "topology.yaml", "path to write the topology file")
	topologyCmd.AddCommand(topologyImportCmd)
	topologyCmd.AddCommand(topologyExportCmd)
}
